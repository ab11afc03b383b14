// Package client provides a Go client for a remote orchestrator over
// the framed wire protocol (WebSocket).
//
// Usage:
//
//	c, err := client.Dial("ws://orchestrator.example.com/wire",
//	    client.WithToken("ok_..."),
//	)
//	defer c.Close()
//
//	// Start a run and watch its events.
//	started, err := c.StartRun(ctx, "org-validation", orgInput{Domain: "nike.com"})
//	ch, err := c.WatchRun(ctx, started.RunID)
//	for evt := range ch {
//	    fmt.Printf("%s: %s\n", evt.Topic, evt.Type)
//	}
//
//	// Resolve an approval gate.
//	_, err = c.Approve(ctx, token, "looks good", "reviewer-1")
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/bcorn-cely/Agent-Orchestration/codec"
	"github.com/bcorn-cely/Agent-Orchestration/stream"
	"github.com/bcorn-cely/Agent-Orchestration/wire"
)

// Client is a wire-protocol client for a remote orchestrator.
type Client struct {
	url    string
	token  string
	format string
	codec  codec.Codec
	logger *slog.Logger

	// Reconnection.
	reconnect  bool
	maxRetries int
	baseDelay  time.Duration

	// Connection state.
	conn      net.Conn
	mu        sync.Mutex
	closed    atomic.Bool
	sessionID string

	// Request-response correlation.
	pending sync.Map // frame ID → chan *wire.Frame

	// Subscriptions.
	subs sync.Map // topic → chan *stream.Event
}

// Error is a wire-level error returned by the server.
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("orchestration client: %s (code %d)", e.Message, e.Code)
}

// Dial connects to a wire server and authenticates.
func Dial(url string, opts ...Option) (*Client, error) {
	return DialContext(context.Background(), url, opts...)
}

// DialContext connects to a wire server with a context.
func DialContext(ctx context.Context, url string, opts ...Option) (*Client, error) {
	c := &Client{
		url:        url,
		format:     codec.NameJSON,
		codec:      codec.Default(),
		logger:     slog.Default(),
		maxRetries: 5,
		baseDelay:  time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := c.connect(ctx); err != nil {
		return nil, fmt.Errorf("orchestration client: dial: %w", err)
	}

	go c.readLoop()

	return c, nil
}

// connect establishes the WebSocket connection and runs the auth
// handshake. The auth exchange is always JSON; the response pins the
// codec for the rest of the session.
func (c *Client) connect(ctx context.Context) error {
	conn, _, _, err := ws.Dial(ctx, c.url)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	authData, err := json.Marshal(wire.AuthRequest{
		Token:  c.token,
		Format: c.format,
	})
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("marshal auth request: %w", err)
	}
	authFrame := &wire.Frame{
		ID:        wire.GenerateFrameID(),
		Type:      wire.FrameRequest,
		Method:    wire.MethodAuth,
		Token:     c.token,
		Data:      authData,
		Timestamp: time.Now().UTC(),
	}
	raw, err := json.Marshal(authFrame)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("marshal auth frame: %w", err)
	}
	if err := wsutil.WriteClientText(conn, raw); err != nil {
		_ = conn.Close()
		return fmt.Errorf("write auth frame: %w", err)
	}

	// Read the auth response directly; the readLoop starts after the
	// handshake succeeds.
	type readResult struct {
		resp *wire.Frame
		err  error
	}
	resultCh := make(chan readResult, 1)
	go func() {
		data, _, readErr := wsutil.ReadServerData(conn)
		if readErr != nil {
			resultCh <- readResult{err: fmt.Errorf("read auth response: %w", readErr)}
			return
		}
		var frame wire.Frame
		if decErr := json.Unmarshal(data, &frame); decErr != nil {
			resultCh <- readResult{err: fmt.Errorf("unmarshal auth response: %w", decErr)}
			return
		}
		resultCh <- readResult{resp: &frame}
	}()

	select {
	case result := <-resultCh:
		if result.err != nil {
			_ = conn.Close()
			return result.err
		}
		resp := result.resp
		if resp.Type == wire.FrameErr {
			_ = conn.Close()
			if resp.Error != nil {
				return &Error{Code: resp.Error.Code, Message: resp.Error.Message}
			}
			return fmt.Errorf("auth failed")
		}

		var authResp wire.AuthResponse
		if len(resp.Data) > 0 {
			if decErr := json.Unmarshal(resp.Data, &authResp); decErr != nil {
				_ = conn.Close()
				return fmt.Errorf("unmarshal auth data: %w", decErr)
			}
		}

		c.mu.Lock()
		c.conn = conn
		c.sessionID = authResp.SessionID
		if authResp.Format != "" {
			c.codec = codec.Get(authResp.Format)
		}
		c.mu.Unlock()

		c.logger.Debug("wire client connected",
			slog.String("session_id", c.sessionID),
			slog.String("codec", c.codec.Name()),
		)
		return nil
	case <-ctx.Done():
		_ = conn.Close()
		return ctx.Err()
	case <-time.After(10 * time.Second):
		_ = conn.Close()
		return fmt.Errorf("auth timeout")
	}
}

// readLoop reads frames off the socket and routes them: responses to
// the pending request channel, events to the subscription channel.
func (c *Client) readLoop() {
	for {
		if c.closed.Load() {
			return
		}

		data, _, err := wsutil.ReadServerData(c.conn)
		if err != nil {
			if c.closed.Load() {
				return
			}
			c.logger.Warn("wire client read error", slog.String("error", err.Error()))
			if c.reconnect {
				c.tryReconnect()
			}
			return
		}

		var frame wire.Frame
		if decErr := c.codec.Unmarshal(data, &frame); decErr != nil {
			c.logger.Warn("wire client: invalid frame", slog.String("error", decErr.Error()))
			continue
		}

		switch frame.Type {
		case wire.FrameResponse, wire.FrameErr:
			if val, ok := c.pending.Load(frame.CorrelID); ok {
				ch := val.(chan *wire.Frame) //nolint:errcheck // pending always stores chan *wire.Frame
				select {
				case ch <- &frame:
				default:
				}
			}
		case wire.FrameEvent:
			if val, ok := c.subs.Load(frame.Channel); ok {
				ch := val.(chan *stream.Event) //nolint:errcheck // subs always stores chan *stream.Event
				var evt stream.Event
				if c.codec.Unmarshal(frame.Data, &evt) == nil {
					select {
					case ch <- &evt:
					default:
						// Drop when the subscriber is slow.
					}
				}
			}
		case wire.FramePong:
			// Keepalive, nothing to route.
		}
	}
}

// tryReconnect re-dials with exponential backoff. Subscriptions are
// not replayed; callers watching a run should resubscribe.
func (c *Client) tryReconnect() {
	delay := c.baseDelay
	for i := range c.maxRetries {
		c.logger.Info("wire client reconnecting",
			slog.Int("attempt", i+1),
			slog.Duration("delay", delay),
		)
		time.Sleep(delay)

		if err := c.connect(context.Background()); err != nil {
			c.logger.Warn("wire client reconnect failed", slog.String("error", err.Error()))
			delay = min(delay*2, 30*time.Second)
			continue
		}

		c.logger.Info("wire client reconnected")
		go c.readLoop()
		return
	}
	c.logger.Error("wire client: max reconnection attempts reached")
}

// request sends a request frame and waits for the correlated response.
func (c *Client) request(ctx context.Context, method string, data any) (*wire.Frame, error) {
	frame := &wire.Frame{
		ID:        wire.GenerateFrameID(),
		Type:      wire.FrameRequest,
		Method:    method,
		Timestamp: time.Now().UTC(),
	}

	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("marshal request data: %w", err)
		}
		frame.Data = raw
	}

	respCh := make(chan *wire.Frame, 1)
	c.pending.Store(frame.ID, respCh)
	defer c.pending.Delete(frame.ID)

	if err := c.writeFrame(frame); err != nil {
		return nil, err
	}

	select {
	case resp := <-respCh:
		if resp.Type == wire.FrameErr {
			if resp.Error != nil {
				return nil, &Error{Code: resp.Error.Code, Message: resp.Error.Message}
			}
			return nil, fmt.Errorf("orchestration client: request failed")
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// requestInto sends a request and decodes the response data into v.
func (c *Client) requestInto(ctx context.Context, method string, data, v any) error {
	resp, err := c.request(ctx, method, data)
	if err != nil {
		return err
	}
	if v == nil || len(resp.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Data, v); err != nil {
		return fmt.Errorf("orchestration client: decode %s response: %w", method, err)
	}
	return nil
}

// writeFrame encodes and sends one frame with the session codec.
func (c *Client) writeFrame(frame *wire.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := c.codec.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	op := ws.OpText
	if c.codec.Name() != codec.NameJSON {
		op = ws.OpBinary
	}
	return wsutil.WriteClientMessage(c.conn, op, data)
}

// SessionID returns the session ID assigned by the server.
func (c *Client) SessionID() string { return c.sessionID }

// Ping sends a keepalive frame. The pong is consumed by the read loop.
func (c *Client) Ping() error {
	return c.writeFrame(&wire.Frame{
		ID:        wire.GenerateFrameID(),
		Type:      wire.FramePing,
		Timestamp: time.Now().UTC(),
	})
}

// Close closes the connection and all subscription channels.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil // already closed
	}

	c.subs.Range(func(key, val any) bool {
		ch := val.(chan *stream.Event) //nolint:errcheck // subs always stores chan *stream.Event
		close(ch)
		c.subs.Delete(key)
		return true
	})

	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
