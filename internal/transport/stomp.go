package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-stomp/stomp/v3"
	"go.uber.org/zap"
)

// StompDialer dials a STOMP broker over websocket or plain TCP.
type StompDialer struct {
	logger *zap.Logger
}

func NewStompDialer(logger *zap.Logger) *StompDialer {
	return &StompDialer{logger: logger.Named("transport")}
}

func (d *StompDialer) Dial(ctx context.Context, opts Options) (Conn, error) {
	if opts.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.HandshakeTimeout)
		defer cancel()
	}

	netConn, err := dialNet(ctx, opts.Endpoint)
	if err != nil {
		return nil, &LinkError{Kind: classifyDial(err), Err: err}
	}

	connOpts := []func(*stomp.Conn) error{
		stomp.ConnOpt.HeartBeat(opts.Heartbeat, opts.Heartbeat),
	}
	if opts.Token != "" {
		connOpts = append(connOpts, stomp.ConnOpt.Header("Authorization", "Bearer "+opts.Token))
	}

	// The STOMP handshake has no context hook; bound it with a deadline
	// on the underlying connection.
	if deadline, ok := ctx.Deadline(); ok {
		_ = netConn.SetDeadline(deadline)
	}
	sc, err := stomp.Connect(netConn, connOpts...)
	if err != nil {
		_ = netConn.Close()
		kind := KindHandshakeRejected
		if ctx.Err() != nil || isTimeout(err) {
			kind = KindTimeout
		}
		return nil, &LinkError{Kind: kind, Err: err}
	}
	_ = netConn.SetDeadline(time.Time{})

	d.logger.Debug("broker link established", zap.String("endpoint", opts.Endpoint))
	return &stompConn{
		conn:   sc,
		net:    netConn,
		errs:   make(chan error, 1),
		logger: d.logger,
	}, nil
}

// dialNet opens the raw transport. ws and wss endpoints get a websocket
// wrapped as a net.Conn; tcp endpoints connect directly.
func dialNet(ctx context.Context, endpoint string) (net.Conn, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "ws", "wss":
		wc, _, err := websocket.Dial(ctx, endpoint, &websocket.DialOptions{
			Subprotocols: []string{"v12.stomp", "v11.stomp"},
		})
		if err != nil {
			return nil, err
		}
		// The wrapper must outlive the dial context.
		return websocket.NetConn(context.Background(), wc, websocket.MessageText), nil
	case "tcp", "":
		var d net.Dialer
		return d.DialContext(ctx, "tcp", u.Host)
	default:
		return nil, fmt.Errorf("unsupported broker scheme %q", u.Scheme)
	}
}

type stompConn struct {
	conn   *stomp.Conn
	net    net.Conn
	logger *zap.Logger

	errs    chan error
	errOnce sync.Once

	mu     sync.Mutex
	closed bool
}

func (c *stompConn) Subscribe(destination string) (<-chan []byte, error) {
	sub, err := c.conn.Subscribe(destination, stomp.AckAuto)
	if err != nil {
		return nil, &LinkError{Kind: KindClosed, Err: err}
	}

	out := make(chan []byte, 64)
	go func() {
		defer close(out)
		for msg := range sub.C {
			if msg.Err != nil {
				c.fail(msg.Err)
				return
			}
			out <- msg.Body
		}
		c.fail(errors.New("subscription channel closed"))
	}()
	return out, nil
}

func (c *stompConn) Publish(destination string, contentType string, body []byte) error {
	if err := c.conn.Send(destination, contentType, body); err != nil {
		err = &LinkError{Kind: classifyLink(err), Err: err}
		c.fail(err)
		return err
	}
	return nil
}

func (c *stompConn) Errors() <-chan error { return c.errs }

func (c *stompConn) Disconnect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.release()
	err := c.conn.Disconnect()
	_ = c.net.Close()
	return err
}

// release ends the error channel if no failure was ever reported, so a
// watcher blocked on Errors() returns after a deliberate disconnect
// instead of leaking.
func (c *stompConn) release() {
	c.errOnce.Do(func() { close(c.errs) })
}

// fail reports the first asynchronous link error. Deliberate disconnects
// are not failures.
func (c *stompConn) fail(err error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	c.errOnce.Do(func() {
		var le *LinkError
		if !errors.As(err, &le) {
			err = &LinkError{Kind: classifyLink(err), Err: err}
		}
		c.logger.Warn("broker link failed", zap.Error(err))
		c.errs <- err
	})
}

func classifyDial(err error) LinkErrorKind {
	if isTimeout(err) {
		return KindTimeout
	}
	return KindUnreachable
}

func classifyLink(err error) LinkErrorKind {
	if strings.Contains(strings.ToLower(err.Error()), "heart") {
		return KindHeartbeatLost
	}
	if isTimeout(err) {
		return KindTimeout
	}
	return KindClosed
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
