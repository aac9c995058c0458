package transport

import (
	"context"
	"errors"
	"net"
	"os"
	"testing"
	"time"

	"go.uber.org/zap"
)

func testLogger() *zap.Logger { return zap.NewNop() }

type fakeTimeoutError struct{}

func (fakeTimeoutError) Error() string   { return "i/o timeout" }
func (fakeTimeoutError) Timeout() bool   { return true }
func (fakeTimeoutError) Temporary() bool { return true }

func TestClassifyDial(t *testing.T) {
	cases := []struct {
		err  error
		want LinkErrorKind
	}{
		{context.DeadlineExceeded, KindTimeout},
		{net.Error(fakeTimeoutError{}), KindTimeout},
		{errors.New("connection refused"), KindUnreachable},
		{os.ErrNotExist, KindUnreachable},
	}
	for _, tc := range cases {
		if got := classifyDial(tc.err); got != tc.want {
			t.Errorf("classifyDial(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
}

func TestClassifyLink(t *testing.T) {
	cases := []struct {
		err  error
		want LinkErrorKind
	}{
		{errors.New("heart-beat timeout"), KindHeartbeatLost},
		{errors.New("no heartbeat received"), KindHeartbeatLost},
		{net.Error(fakeTimeoutError{}), KindTimeout},
		{errors.New("EOF"), KindClosed},
	}
	for _, tc := range cases {
		if got := classifyLink(tc.err); got != tc.want {
			t.Errorf("classifyLink(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
}

func TestLinkErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	le := &LinkError{Kind: KindClosed, Err: inner}
	if !errors.Is(le, inner) {
		t.Error("LinkError must unwrap to its cause")
	}
}

func TestDialRejectsBadScheme(t *testing.T) {
	_, err := dialNet(context.Background(), "ftp://broker:1234")
	if err == nil {
		t.Fatal("expected error for unsupported scheme")
	}
}

func TestReleaseEndsErrorChannel(t *testing.T) {
	c := &stompConn{errs: make(chan error, 1), logger: testLogger()}

	c.release()

	select {
	case _, ok := <-c.Errors():
		if ok {
			t.Fatal("error delivered on a cleanly released conn")
		}
	case <-time.After(time.Second):
		t.Fatal("Errors() still blocks after release; watcher would leak")
	}
}

func TestFailBeforeReleaseKeepsFirstError(t *testing.T) {
	c := &stompConn{errs: make(chan error, 1), logger: testLogger()}

	c.fail(errors.New("boom"))
	c.release()

	err, ok := <-c.Errors()
	if !ok || err == nil {
		t.Fatal("first link failure lost")
	}
}

func TestFailAfterDisconnectDropped(t *testing.T) {
	c := &stompConn{errs: make(chan error, 1), logger: testLogger()}
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.release()

	c.fail(errors.New("late subscription error"))

	if _, ok := <-c.Errors(); ok {
		t.Fatal("failure reported after deliberate disconnect")
	}
}

func TestDialUnreachable(t *testing.T) {
	d := NewStompDialer(testLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	// Port 1 on localhost refuses or times out immediately.
	_, err := d.Dial(ctx, Options{Endpoint: "tcp://127.0.0.1:1", HandshakeTimeout: 500 * time.Millisecond})
	var le *LinkError
	if !errors.As(err, &le) {
		t.Fatalf("err = %v, want *LinkError", err)
	}
	if le.Kind != KindUnreachable && le.Kind != KindTimeout {
		t.Errorf("kind = %s, want unreachable or timeout", le.Kind)
	}
}
