package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"
)

// startFrameServer runs a minimal framed server. handle returns the response body,
// or nil to send nothing back. When persistent is false each connection serves one frame.
func startFrameServer(t *testing.T, persistent bool, handle func(body []byte) []byte) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				var writeMu sync.Mutex
				for {
					h, body, err := ReadFrame(conn, 0)
					if err != nil {
						return
					}
					if h.MsgType == MsgTypeHeartbeat {
						continue
					}
					respond := func(h *Header, body []byte) {
						resp := handle(body)
						if resp == nil {
							return
						}
						writeMu.Lock()
						WriteFrame(conn, &Header{MsgType: MsgTypeResponse, Seq: h.Seq}, resp)
						writeMu.Unlock()
					}
					if !persistent {
						respond(h, body)
						return
					}
					go respond(h, body)
				}
			}(conn)
		}
	}()
	return ln.Addr().String()
}

func echo(body []byte) []byte { return body }

func TestMuxTransportConcurrentCalls(t *testing.T) {
	addr := startFrameServer(t, true, echo)
	tr := NewMuxTransport()
	defer tr.Close()

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := range 50 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload := fmt.Sprintf(`{"id":%d}`, i)
			got, err := tr.Send(context.Background(), addr, []byte(payload), false)
			if err != nil {
				errs <- err
				return
			}
			if string(got) != payload {
				errs <- fmt.Errorf("call %d: got %s, want %s", i, got, payload)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	tr.mu.Lock()
	n := len(tr.conns)
	tr.mu.Unlock()
	if n != 1 {
		t.Fatalf("expect a single shared connection, got %d", n)
	}
}

func TestMuxTransportOutOfOrderResponses(t *testing.T) {
	addr := startFrameServer(t, true, func(body []byte) []byte {
		if string(body) == "slow" {
			time.Sleep(100 * time.Millisecond)
		}
		return body
	})
	tr := NewMuxTransport()
	defer tr.Close()

	slow := make(chan string, 1)
	go func() {
		got, _ := tr.Send(context.Background(), addr, []byte("slow"), false)
		slow <- string(got)
	}()

	time.Sleep(10 * time.Millisecond)
	got, err := tr.Send(context.Background(), addr, []byte("fast"), false)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "fast" {
		t.Fatalf("got %s, want fast", got)
	}
	if s := <-slow; s != "slow" {
		t.Fatalf("got %s, want slow", s)
	}
}

func TestMuxTransportContextTimeout(t *testing.T) {
	addr := startFrameServer(t, true, func([]byte) []byte { return nil })
	tr := NewMuxTransport()
	defer tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := tr.Send(ctx, addr, []byte("never answered"), false)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expect context.DeadlineExceeded, got %v", err)
	}
}

func TestMuxTransportCloseFailsPending(t *testing.T) {
	addr := startFrameServer(t, true, func([]byte) []byte { return nil })
	tr := NewMuxTransport()

	errc := make(chan error, 1)
	go func() {
		_, err := tr.Send(context.Background(), addr, []byte("hang"), false)
		errc <- err
	}()

	time.Sleep(50 * time.Millisecond)
	tr.Close()

	select {
	case err := <-errc:
		if !errors.Is(err, ErrTransportClosed) {
			t.Fatalf("expect ErrTransportClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pending call was not released by Close")
	}

	if _, err := tr.Send(context.Background(), addr, []byte("late"), false); !errors.Is(err, ErrTransportClosed) {
		t.Fatalf("expect ErrTransportClosed after Close, got %v", err)
	}
}

func TestMuxTransportRedialsAfterServerClose(t *testing.T) {
	// A one-shot server closes the connection after each response.
	addr := startFrameServer(t, false, echo)
	tr := NewMuxTransport()
	defer tr.Close()

	if _, err := tr.Send(context.Background(), addr, []byte("first"), false); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		tr.mu.Lock()
		mc := tr.conns[addr]
		tr.mu.Unlock()
		if mc.isClosed() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("connection was not marked closed after the server hung up")
		}
		time.Sleep(10 * time.Millisecond)
	}

	got, err := tr.Send(context.Background(), addr, []byte("second"), false)
	if err != nil {
		t.Fatalf("expect a fresh connection, got %v", err)
	}
	if string(got) != "second" {
		t.Fatalf("got %s, want second", got)
	}
}

func TestMuxTransportHeartbeat(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	beats := make(chan struct{}, 10)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			h, _, err := ReadFrame(conn, 0)
			if err != nil {
				return
			}
			if h.MsgType == MsgTypeHeartbeat {
				beats <- struct{}{}
			}
		}
	}()

	tr := NewMuxTransport(WithHeartbeat(20 * time.Millisecond))
	defer tr.Close()

	if _, err := tr.Send(context.Background(), ln.Addr().String(), []byte("ping"), true); err != nil {
		t.Fatal(err)
	}

	select {
	case <-beats:
	case <-time.After(time.Second):
		t.Fatal("no heartbeat received")
	}
}

func TestMuxTransportDialError(t *testing.T) {
	tr := NewMuxTransport(WithDialTimeout(200 * time.Millisecond))
	defer tr.Close()

	_, err := tr.Send(context.Background(), unusedAddr(t), []byte("x"), false)
	var dialErr *DialError
	if !errors.As(err, &dialErr) {
		t.Fatalf("expect *DialError, got %v", err)
	}
}
