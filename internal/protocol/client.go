// Package protocol implements the framed JSON channel to the brokerage.
//
// The client is single-writer: all sends and receives must come from one
// goroutine. The trading loop is the only caller by construction.
package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/itaek/kw-trader/internal/errs"
	"github.com/itaek/kw-trader/internal/logger"
)

const (
	connectAttempts = 2
	connectBaseWait = 2 * time.Second

	loginTimeout = 15 * time.Second
	// The broker drops frames sent immediately after a successful login.
	loginSettleDelay = 1 * time.Second

	pingTimeout  = 3 * time.Second
	writeTimeout = 10 * time.Second
)

// Frame is the wire unit. Requests carry Name and Payload; responses add the
// broker return code (0 = success) and a message.
type Frame struct {
	Name    string          `json:"name"`
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type Client struct {
	endpoint  string
	dialer    *websocket.Dialer
	conn      *websocket.Conn
	connected atomic.Bool
	settle    time.Duration
	logger    *logger.Logger
}

func NewClient(endpoint string, log *logger.Logger) *Client {
	return &Client{
		endpoint: endpoint,
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		settle:   loginSettleDelay,
		logger:   log,
	}
}

// Connect dials the broker with a bounded retry: 2 attempts, 2s base delay,
// doubled between attempts. It does not authenticate; call Login next.
func (c *Client) Connect(ctx context.Context) error {
	wait := connectBaseWait
	var lastErr error

	for attempt := 1; attempt <= connectAttempts; attempt++ {
		conn, _, err := c.dialer.DialContext(ctx, c.endpoint, nil)
		if err == nil {
			c.conn = conn
			c.connected.Store(true)
			c.logger.Info("broker channel connected", "endpoint", c.endpoint)
			return nil
		}
		lastErr = err
		c.logger.Warn("broker dial failed", "attempt", attempt, "error", err)

		if attempt < connectAttempts {
			select {
			case <-ctx.Done():
				return errs.Connection("dial %s: %v", c.endpoint, ctx.Err())
			case <-time.After(wait):
			}
			wait *= 2
		}
	}
	return errs.Connection("dial %s after %d attempts: %v", c.endpoint, connectAttempts, lastErr)
}

// Login authenticates the channel with a bearer token and waits up to 15s for
// the broker's response. After success the channel is unusable for a short
// settle window, which Login absorbs before returning.
func (c *Client) Login(ctx context.Context, token string) error {
	if !c.connected.Load() {
		return errs.Connection("login on closed channel")
	}

	if err := c.Send("LOGIN", map[string]string{"token": token}); err != nil {
		return fmt.Errorf("send login frame: %w", err)
	}

	deadline := time.Now().Add(loginTimeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return errs.Auth("no login response within %s", loginTimeout)
		}

		frame, err := c.Receive(remaining)
		if err != nil {
			if errors.Is(err, errs.ErrTimeout) {
				return errs.Auth("no login response within %s", loginTimeout)
			}
			return fmt.Errorf("login receive: %w", err)
		}
		if frame == nil || frame.Name != "LOGIN" {
			continue
		}
		if frame.Code != 0 {
			return errs.Auth("broker code %d: %s", frame.Code, frame.Message)
		}
		break
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.settle):
	}

	c.logger.Info("broker login ok")
	return nil
}

// Send writes one request frame.
func (c *Client) Send(name string, payload any) error {
	if !c.connected.Load() {
		return errs.Connection("send %s on closed channel", name)
	}

	frame := Frame{Name: name}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", name, err)
		}
		frame.Payload = raw
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal %s frame: %w", name, err)
	}

	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.connected.Store(false)
		return errs.Connection("write %s: %v", name, err)
	}
	return nil
}

// Receive reads one frame within timeout. A deadline expiry is a recoverable
// errs.ErrTimeout. A malformed frame is swallowed and reported as no message
// (nil, nil) — the broker emits occasional garbage between sessions and the
// original client ignored it; that behavior is kept.
func (c *Client) Receive(timeout time.Duration) (*Frame, error) {
	if !c.connected.Load() {
		return nil, errs.Connection("receive on closed channel")
	}

	c.conn.SetReadDeadline(time.Now().Add(timeout))
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, errs.Timeout("receive", err)
		}
		c.connected.Store(false)
		return nil, errs.Connection("read: %v", err)
	}

	frame := &Frame{}
	if err := json.Unmarshal(data, frame); err != nil {
		c.logger.Debug("discarding malformed frame", "size", len(data))
		return nil, nil
	}
	return frame, nil
}

// IsConnected probes the channel with a PING frame and a short deadline. On
// any failure it marks the client disconnected and returns false. It never
// reconnects; the owner must call Connect and Login again.
func (c *Client) IsConnected() bool {
	if !c.connected.Load() {
		return false
	}
	if err := c.Send("PING", nil); err != nil {
		c.connected.Store(false)
		return false
	}

	deadline := time.Now().Add(pingTimeout)
	for time.Now().Before(deadline) {
		frame, err := c.Receive(time.Until(deadline))
		if err != nil {
			c.connected.Store(false)
			return false
		}
		if frame != nil && frame.Name == "PONG" {
			return true
		}
	}
	c.connected.Store(false)
	return false
}

// Connected reports the last known channel state without probing. Safe to
// call from any goroutine; only IsConnected performs I/O.
func (c *Client) Connected() bool { return c.connected.Load() }

func (c *Client) Close() error {
	c.connected.Store(false)
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// SetSettleDelay overrides the post-login settle window. Tests use this.
func (c *Client) SetSettleDelay(d time.Duration) { c.settle = d }
