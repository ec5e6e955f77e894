package middleware

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"mini-jsonrpc/message"
	"mini-jsonrpc/rpcerror"
)

func echoHandler(ctx context.Context, req *message.Request) (any, error) {
	return req.Method, nil
}

func slowHandler(ctx context.Context, req *message.Request) (any, error) {
	time.Sleep(200 * time.Millisecond)
	return "ok", nil
}

func failingHandler(ctx context.Context, req *message.Request) (any, error) {
	return nil, rpcerror.New(rpcerror.KindMethodNotFound, "%s", req.Method)
}

func newRequest(method string) *message.Request {
	return &message.Request{Version: message.Version, Method: method, ID: 1, HasID: true}
}

func TestLogging(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	handler := Logging(zap.New(core))(echoHandler)

	result, err := handler(context.Background(), newRequest("add"))
	if err != nil {
		t.Fatal(err)
	}
	if result != "add" {
		t.Fatalf("expect result 'add', got %v", result)
	}

	entries := logs.FilterMessage("request handled").All()
	if len(entries) != 1 {
		t.Fatalf("expect one log entry, got %d", len(entries))
	}
	if entries[0].ContextMap()["method"] != "add" {
		t.Fatalf("expect method field 'add', got %v", entries[0].ContextMap())
	}
}

func TestLoggingFailure(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	handler := Logging(zap.New(core))(failingHandler)

	_, err := handler(context.Background(), newRequest("sub"))
	if !errors.Is(err, rpcerror.ErrMethodNotFound) {
		t.Fatalf("expect the handler error to pass through, got %v", err)
	}

	entries := logs.FilterMessage("request failed").All()
	if len(entries) != 1 {
		t.Fatalf("expect one warning, got %d", len(entries))
	}
	if entries[0].ContextMap()["kind"] != "MethodNotFoundError" {
		t.Fatalf("unexpected kind field: %v", entries[0].ContextMap()["kind"])
	}
}

func TestLoggingNilLogger(t *testing.T) {
	if _, err := Logging(nil)(echoHandler)(context.Background(), newRequest("add")); err != nil {
		t.Fatal(err)
	}
}

func TestTimeoutPass(t *testing.T) {
	handler := Timeout(500 * time.Millisecond)(echoHandler)

	if _, err := handler(context.Background(), newRequest("add")); err != nil {
		t.Fatalf("expect no error, got %v", err)
	}
}

func TestTimeoutExceeded(t *testing.T) {
	handler := Timeout(50 * time.Millisecond)(slowHandler)

	_, err := handler(context.Background(), newRequest("add"))
	if !errors.Is(err, rpcerror.ErrInternal) {
		t.Fatalf("expect InternalError, got %v", err)
	}
	var rpcErr *rpcerror.Error
	if !errors.As(err, &rpcErr) || rpcErr.Detail != "request timed out" {
		t.Fatalf("expect timeout detail, got %v", err)
	}
}

func TestTimeoutCancelsHandlerContext(t *testing.T) {
	cancelled := make(chan struct{})
	handler := Timeout(20 * time.Millisecond)(func(ctx context.Context, req *message.Request) (any, error) {
		<-ctx.Done()
		close(cancelled)
		return nil, ctx.Err()
	})

	handler(context.Background(), newRequest("wait"))
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("handler context was not cancelled")
	}
}

func TestRateLimit(t *testing.T) {
	// rate=1 per second, burst=2: the first two pass, the third is rejected
	handler := RateLimit(1, 2)(echoHandler)

	for i := 0; i < 2; i++ {
		if _, err := handler(context.Background(), newRequest("add")); err != nil {
			t.Fatalf("request %d should pass, got error: %v", i, err)
		}
	}

	_, err := handler(context.Background(), newRequest("add"))
	if !errors.Is(err, rpcerror.ErrInternal) {
		t.Fatalf("request 3 should be rate limited, got: %v", err)
	}
}

func TestChain(t *testing.T) {
	var order []string
	trace := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, req *message.Request) (any, error) {
				order = append(order, name+">")
				result, err := next(ctx, req)
				order = append(order, "<"+name)
				return result, err
			}
		}
	}

	handler := Chain(trace("a"), trace("b"), Timeout(500*time.Millisecond))(echoHandler)
	result, err := handler(context.Background(), newRequest("add"))
	if err != nil {
		t.Fatalf("expect no error, got %v", err)
	}
	if result != "add" {
		t.Fatalf("expect result 'add', got %v", result)
	}

	want := []string{"a>", "b>", "<b", "<a"}
	if len(order) != len(want) {
		t.Fatalf("got order %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("got order %v, want %v", order, want)
		}
	}
}
