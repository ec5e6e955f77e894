package rpcerror

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestCodeTableRoundTrip(t *testing.T) {
	cases := []struct {
		kind    Kind
		code    int
		message string
	}{
		{KindParse, -32700, "Parse Error"},
		{KindInvalidRequest, -32600, "Invalid Request"},
		{KindMethodNotFound, -32601, "Method not found"},
		{KindInvalidParams, -32602, "Invalid params"},
		{KindInternal, -32603, "Internal error"},
	}

	for _, tc := range cases {
		code, msg, ok := CodeFor(tc.kind)
		if !ok {
			t.Fatalf("%s: expect a wire code", tc.kind)
		}
		if code != tc.code || msg != tc.message {
			t.Errorf("%s: got (%d, %q), want (%d, %q)", tc.kind, code, msg, tc.code, tc.message)
		}

		kind, ok := KindForCode(tc.code)
		if !ok || kind != tc.kind {
			t.Errorf("code %d: got kind %s (ok=%v), want %s", tc.code, kind, ok, tc.kind)
		}
	}
}

func TestUnmappedKindsAndCodes(t *testing.T) {
	for _, k := range []Kind{KindInvalidResponse, KindProtocol, KindUnknown} {
		if _, _, ok := CodeFor(k); ok {
			t.Errorf("%s should not have a wire code", k)
		}
	}

	if _, ok := KindForCode(-32000); ok {
		t.Error("-32000 should not map to a kind")
	}
}

func TestErrorIsComparesKind(t *testing.T) {
	err := New(KindMethodNotFound, "sub")
	wrapped := fmt.Errorf("calling: %w", err)

	if !errors.Is(wrapped, ErrMethodNotFound) {
		t.Fatal("expect wrapped error to match ErrMethodNotFound")
	}
	if errors.Is(wrapped, ErrInternal) {
		t.Fatal("MethodNotFound must not match ErrInternal")
	}
	if KindOf(wrapped) != KindMethodNotFound {
		t.Fatalf("KindOf: got %s", KindOf(wrapped))
	}
	if KindOf(errors.New("plain")) != KindInternal {
		t.Fatal("plain errors should classify as InternalError")
	}
}

func TestErrorMessage(t *testing.T) {
	err := Wrap(KindInternal, errors.New("boom"))
	if !strings.Contains(err.Error(), "boom") || !strings.Contains(err.Error(), "InternalError") {
		t.Fatalf("unexpected message %q", err.Error())
	}

	unknown := &Error{Kind: KindUnknown, Code: -32001, Detail: "Server busy"}
	if !strings.Contains(unknown.Error(), "-32001") {
		t.Fatalf("unknown error should mention its code, got %q", unknown.Error())
	}
}
