package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// wsConn wraps one ephemeral connection for the lifetime of a single RPC
// exchange. It owns the waiter map correlating request ids to response
// frames, and guarantees the underlying connection is closed exactly once.
type wsConn struct {
	conn   *websocket.Conn
	logger zerolog.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan Frame

	closeOnce sync.Once
	closed    chan struct{}
}

func newWSConn(conn *websocket.Conn, logger zerolog.Logger) *wsConn {
	c := &wsConn{
		conn:    conn,
		logger:  logger,
		pending: make(map[string]chan Frame),
		closed:  make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// call sends a request frame and waits for the response with a matching id.
// The waiter entry is removed on every exit path.
func (c *wsConn) call(ctx context.Context, req Frame, deadline <-chan time.Time, timeout time.Duration) (Frame, error) {
	ch := make(chan Frame, 1)
	c.mu.Lock()
	c.pending[req.ID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}()

	c.writeMu.Lock()
	err := c.conn.WriteJSON(req)
	c.writeMu.Unlock()
	if err != nil {
		return Frame{}, &ConnectionError{Op: "send " + req.Method, Err: err}
	}

	select {
	case res := <-ch:
		return res, nil
	case <-deadline:
		// Cancellation is connection closure on this protocol.
		c.close()
		return Frame{}, &TimeoutError{Method: req.Method, Timeout: timeout}
	case <-c.closed:
		return Frame{}, &ConnectionError{Op: req.Method, Err: errors.New("connection closed before response")}
	case <-ctx.Done():
		c.close()
		return Frame{}, ctx.Err()
	}
}

// readLoop dispatches response frames to their waiters. Anything that is not
// a response is ignored; ephemeral RPC connections carry no event traffic we
// care about.
func (c *wsConn) readLoop() {
	defer c.close()

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var f Frame
		if err := json.Unmarshal(msg, &f); err != nil {
			c.logger.Warn().Err(err).Msg("Dropping malformed frame")
			continue
		}

		if f.Type != frameTypeResponse {
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[f.ID]
		c.mu.Unlock()
		if !ok {
			c.logger.Debug().Str("id", f.ID).Msg("Response without a pending waiter")
			continue
		}

		select {
		case ch <- f:
		default:
		}
	}
}

// close tears the connection down exactly once and wakes all waiters.
func (c *wsConn) close() {
	c.closeOnce.Do(func() {
		_ = c.conn.Close()
		close(c.closed)
	})
}
