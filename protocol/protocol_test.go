package protocol

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"

	"mini-jsonrpc/message"
	"mini-jsonrpc/rpcerror"
)

func TestRequestRoundTrip(t *testing.T) {
	p := New(nil)

	cases := []struct {
		name      string
		method    string
		args      []any
		named     map[string]any
		wantArgs  []any
		wantNamed map[string]any
	}{
		{
			name:     "positional",
			method:   "add",
			args:     []any{2, 3},
			wantArgs: []any{json.Number("2"), json.Number("3")},
		},
		{
			name:      "named",
			method:    "greet",
			named:     map[string]any{"name": "world", "loud": true},
			wantNamed: map[string]any{"name": "world", "loud": true},
		},
		{
			name:   "no arguments",
			method: "ping",
		},
		{
			name:     "nested values",
			method:   "store",
			args:     []any{[]any{"a", nil}, map[string]any{"k": 1.5}},
			wantArgs: []any{[]any{"a", nil}, map[string]any{"k": json.Number("1.5")}},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := p.MarshalRequest(tc.method, tc.args, tc.named)
			if err != nil {
				t.Fatalf("MarshalRequest failed: %v", err)
			}

			req, err := p.UnmarshalRequest(data)
			if err != nil {
				t.Fatalf("UnmarshalRequest failed: %v", err)
			}

			if req.Method != tc.method {
				t.Errorf("method: got %q, want %q", req.Method, tc.method)
			}
			if !reflect.DeepEqual(req.Params, tc.wantArgs) {
				t.Errorf("args: got %#v, want %#v", req.Params, tc.wantArgs)
			}
			if !reflect.DeepEqual(req.Named, tc.wantNamed) {
				t.Errorf("named: got %#v, want %#v", req.Named, tc.wantNamed)
			}
			if !req.HasID {
				t.Error("a call must carry an id")
			}
		})
	}
}

func TestMarshalRequestOmitsParams(t *testing.T) {
	p := New(nil)
	data, err := p.MarshalRequest("ping", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "params") {
		t.Fatalf("params must be omitted, got %s", data)
	}
}

func TestMarshalRequestAssignsUniqueIDs(t *testing.T) {
	p := New(nil)
	seen := map[any]bool{}
	for i := 0; i < 100; i++ {
		req, err := p.NewRequest("add", []any{i}, nil)
		if err != nil {
			t.Fatal(err)
		}
		if seen[req.ID] {
			t.Fatalf("duplicate id %v", req.ID)
		}
		seen[req.ID] = true
	}
}

func TestMarshalRequestMutualExclusion(t *testing.T) {
	p := New(nil)
	_, err := p.MarshalRequest("m", []any{1}, map[string]any{"a": 1})
	if !errors.Is(err, rpcerror.ErrProtocol) {
		t.Fatalf("expect ProtocolError, got %v", err)
	}
}

func TestMarshalNotification(t *testing.T) {
	p := New(nil)
	data, err := p.MarshalNotification("log", []any{"hello"}, nil)
	if err != nil {
		t.Fatal(err)
	}

	req, err := p.UnmarshalRequest(data)
	if err != nil {
		t.Fatal(err)
	}
	if !req.IsNotification() {
		t.Fatalf("expect a notification, got %s", data)
	}
}

func TestUnmarshalRequestValidation(t *testing.T) {
	p := New(nil)

	cases := []struct {
		name  string
		input string
		want  error
	}{
		{"not json", `{"jsonrpc": "2.0", "method"`, rpcerror.ErrParse},
		{"garbage", `\x00\x01`, rpcerror.ErrParse},
		{"not an object", `[1, 2]`, rpcerror.ErrInvalidRequest},
		{"missing version", `{"method": "add", "id": 1}`, rpcerror.ErrInvalidRequest},
		{"wrong version", `{"jsonrpc": "1.0", "method": "add", "id": 1}`, rpcerror.ErrInvalidRequest},
		{"missing method", `{"jsonrpc": "2.0", "id": 1}`, rpcerror.ErrInvalidRequest},
		{"method not a string", `{"jsonrpc": "2.0", "method": 5, "id": 1}`, rpcerror.ErrInvalidRequest},
		{"scalar params", `{"jsonrpc": "2.0", "method": "add", "params": 5, "id": 1}`, rpcerror.ErrInvalidRequest},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := p.UnmarshalRequest([]byte(tc.input))
			if !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
		})
	}
}

func TestUnmarshalRequestNullID(t *testing.T) {
	p := New(nil)
	req, err := p.UnmarshalRequest([]byte(`{"jsonrpc": "2.0", "method": "add", "id": null}`))
	if err != nil {
		t.Fatal(err)
	}
	if !req.HasID || req.ID != nil {
		t.Fatalf("a null id is still an id: HasID=%v ID=%v", req.HasID, req.ID)
	}
}

func TestMarshalResponseSuppressesNotifications(t *testing.T) {
	p := New(nil)
	req := &message.Request{Version: message.Version, Method: "log"}

	data, err := p.MarshalResponse(req, 42, nil)
	if err != nil {
		t.Fatal(err)
	}
	if data != nil {
		t.Fatalf("expect no bytes for a notification, got %s", data)
	}

	data, err = p.MarshalResponse(req, nil, rpcerror.New(rpcerror.KindInternal, "boom"))
	if err != nil || data != nil {
		t.Fatalf("errors of notifications are not reported either, got %s (%v)", data, err)
	}
}

func TestMarshalResponseNilRequest(t *testing.T) {
	p := New(nil)
	data, err := p.MarshalResponse(nil, nil, rpcerror.New(rpcerror.KindParse, "unexpected EOF"))
	if err != nil {
		t.Fatal(err)
	}

	resp, err := p.UnmarshalResponse(data)
	if !errors.Is(err, rpcerror.ErrParse) {
		t.Fatalf("expect ParseError, got %v", err)
	}
	if resp.ID != nil {
		t.Fatalf("expect null id, got %v", resp.ID)
	}
}

func TestResponseRoundTrip(t *testing.T) {
	p := New(nil)
	req, _ := p.NewRequest("add", []any{2, 3}, nil)

	data, err := p.MarshalResponse(req, 5, nil)
	if err != nil {
		t.Fatal(err)
	}

	resp, err := p.UnmarshalResponse(data)
	if err != nil {
		t.Fatalf("UnmarshalResponse failed: %v", err)
	}
	if resp.Result != json.Number("5") {
		t.Fatalf("result: got %#v", resp.Result)
	}
	if !p.MatchID(req.ID, resp.ID) {
		t.Fatalf("id %v does not match %v", resp.ID, req.ID)
	}
	if p.MatchID(req.ID, json.Number("999")) {
		t.Fatal("different ids must not match")
	}
}

func TestErrorRoundTrip(t *testing.T) {
	p := New(nil)
	req, _ := p.NewRequest("m", nil, nil)

	for _, kind := range []rpcerror.Kind{
		rpcerror.KindParse,
		rpcerror.KindInvalidRequest,
		rpcerror.KindMethodNotFound,
		rpcerror.KindInvalidParams,
		rpcerror.KindInternal,
	} {
		t.Run(kind.String(), func(t *testing.T) {
			data, err := p.MarshalResponse(req, nil, rpcerror.New(kind, "detail-%d", int(kind)))
			if err != nil {
				t.Fatal(err)
			}

			_, err = p.UnmarshalResponse(data)
			var rpcErr *rpcerror.Error
			if !errors.As(err, &rpcErr) {
				t.Fatalf("expect *rpcerror.Error, got %T", err)
			}
			if rpcErr.Kind != kind {
				t.Errorf("kind: got %s, want %s", rpcErr.Kind, kind)
			}
			code, _, _ := rpcerror.CodeFor(kind)
			if rpcErr.Code != code {
				t.Errorf("code: got %d, want %d", rpcErr.Code, code)
			}
			if !strings.Contains(rpcErr.Error(), "detail-") {
				t.Errorf("message lost the detail: %q", rpcErr.Error())
			}
		})
	}
}

func TestMarshalResponseUnmappedErrors(t *testing.T) {
	p := New(nil)
	req, _ := p.NewRequest("m", nil, nil)

	for _, callErr := range []error{
		errors.New("plain failure"),
		rpcerror.New(rpcerror.KindProtocol, "misuse"),
	} {
		data, err := p.MarshalResponse(req, nil, callErr)
		if err != nil {
			t.Fatal(err)
		}
		_, err = p.UnmarshalResponse(data)
		if !errors.Is(err, rpcerror.ErrInternal) {
			t.Errorf("%v: expect InternalError, got %v", callErr, err)
		}
	}
}

func TestMarshalResponseUnencodableResult(t *testing.T) {
	p := New(nil)
	req, _ := p.NewRequest("m", nil, nil)

	data, err := p.MarshalResponse(req, make(chan int), nil)
	if err != nil {
		t.Fatal(err)
	}
	_, err = p.UnmarshalResponse(data)
	if !errors.Is(err, rpcerror.ErrInternal) {
		t.Fatalf("expect InternalError, got %v", err)
	}
}

func TestUnmarshalResponseValidation(t *testing.T) {
	p := New(nil)

	cases := []struct {
		name  string
		input string
		want  error
	}{
		{"malformed", `{"jsonrpc":`, rpcerror.ErrParse},
		{"not an object", `"hi"`, rpcerror.ErrInvalidResponse},
		{"missing version", `{"id": 1, "result": 1}`, rpcerror.ErrInvalidResponse},
		{"wrong version", `{"jsonrpc": "1.0", "id": 1, "result": 1}`, rpcerror.ErrInvalidResponse},
		{"missing id", `{"jsonrpc": "2.0", "result": 1}`, rpcerror.ErrInvalidResponse},
		{"no result or error", `{"jsonrpc": "2.0", "id": 1}`, rpcerror.ErrInvalidResponse},
		{"error not an object", `{"jsonrpc": "2.0", "id": 1, "error": "bad"}`, rpcerror.ErrInvalidResponse},
		{"error without code", `{"jsonrpc": "2.0", "id": 1, "error": {"message": "bad"}}`, rpcerror.ErrInvalidResponse},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := p.UnmarshalResponse([]byte(tc.input))
			if !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
		})
	}
}

func TestUnmarshalResponseUnknownCode(t *testing.T) {
	p := New(nil)
	_, err := p.UnmarshalResponse([]byte(`{"jsonrpc": "2.0", "id": 1, "error": {"code": -32001, "message": "Server busy", "data": {"retry": 5}}}`))

	var rpcErr *rpcerror.Error
	if !errors.As(err, &rpcErr) {
		t.Fatalf("an unrecognised code must still surface as an error, got %v", err)
	}
	if rpcErr.Kind != rpcerror.KindUnknown || rpcErr.Code != -32001 {
		t.Fatalf("got kind %s code %d", rpcErr.Kind, rpcErr.Code)
	}
	if !strings.Contains(rpcErr.Detail, `Server busy: {"retry":5}`) {
		t.Fatalf("unexpected detail %q", rpcErr.Detail)
	}
}
