package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/harun/tether/internal/metrics"
)

// seqUnknown marks the sequence high-water mark as unset. The gateway gives
// no redelivery guarantee across reconnects, so the mark resets on every
// (re)connection.
const seqUnknown = int64(-1)

type connState int

const (
	stateIdle connState = iota
	stateConnecting
	stateOpen
	stateClosed
)

// SubscriberOptions tunes the persistent connection.
type SubscriberOptions struct {
	// PingInterval is the fixed keep-alive cadence. A missing pong is not a
	// failure signal by itself; only transport errors drive reconnection.
	PingInterval time.Duration

	// ReconnectDelay is the fixed delay before a reconnect attempt.
	ReconnectDelay time.Duration

	// AutoReconnect re-establishes the connection and replays the active
	// subscription after an abnormal close.
	AutoReconnect bool

	// EventBuffer is the delivery channel capacity.
	EventBuffer int
}

func (o *SubscriberOptions) applyDefaults() {
	if o.PingInterval <= 0 {
		o.PingInterval = 15 * time.Second
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = 2 * time.Second
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = 64
	}
}

// Subscriber owns the one persistent gateway connection and multiplexes the
// per-session event subscription over it. All subscribe/unsubscribe traffic
// is serialized through the connection's current lifecycle state.
type Subscriber struct {
	cfg        Config
	opts       SubscriberOptions
	dialer     *websocket.Dialer
	instanceID string
	logger     zerolog.Logger

	mu             sync.Mutex
	conn           *websocket.Conn
	state          connState
	sessionKey     string
	subscribed     bool
	lastSeq        int64
	reconnectTimer *time.Timer
	closed         bool
	loopRunning    bool

	writeMu sync.Mutex

	events     chan Event
	done       chan struct{}
	eventsOnce sync.Once
}

// NewSubscriber creates a new event subscriber
func NewSubscriber(cfg Config, opts SubscriberOptions) (*Subscriber, error) {
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	opts.applyDefaults()

	metrics.EnsureRegistered()

	return &Subscriber{
		cfg:  cfg,
		opts: opts,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		instanceID: uuid.NewString(),
		logger:     cfg.Logger.With().Str("component", "gateway-subscriber").Logger(),
		lastSeq:    seqUnknown,
		events:     make(chan Event, opts.EventBuffer),
		done:       make(chan struct{}),
	}, nil
}

// Events returns the decoded event stream. The channel is closed after
// Close once the read loop has drained.
func (s *Subscriber) Events() <-chan Event {
	return s.events
}

// IsSubscribed reports whether the gateway has acknowledged the current
// subscription.
func (s *Subscriber) IsSubscribed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribed
}

// Connect dials the gateway, performs the handshake, and starts the read
// and keep-alive loops. A previously active subscription is replayed
// transparently.
func (s *Subscriber) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("subscriber is closed")
	}
	if s.state == stateOpen || s.state == stateConnecting {
		s.mu.Unlock()
		return nil
	}
	s.state = stateConnecting
	s.mu.Unlock()

	conn, _, err := s.dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		s.connectFailed()
		return &ConnectionError{Op: "dial", Err: err}
	}

	if err := s.handshake(conn); err != nil {
		_ = conn.Close()
		s.connectFailed()
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return fmt.Errorf("subscriber is closed")
	}
	s.conn = conn
	s.state = stateOpen
	s.lastSeq = seqUnknown
	s.subscribed = false
	s.loopRunning = true
	sessionKey := s.sessionKey
	s.mu.Unlock()

	go s.readLoop(conn)
	go s.pingLoop(conn)

	s.logger.Info().Str("url", s.cfg.URL).Msg("Subscriber connected")

	if sessionKey != "" {
		if err := s.sendSubscribe(sessionKey); err != nil {
			s.logger.Warn().Err(err).Msg("Subscription replay failed")
		}
	}
	return nil
}

func (s *Subscriber) connectFailed() {
	s.mu.Lock()
	s.state = stateIdle
	closed := s.closed
	s.mu.Unlock()
	if !closed && s.opts.AutoReconnect {
		s.scheduleReconnect()
	}
}

// handshake runs synchronously before the read loop starts, so the connect
// exchange is always the first traffic on the connection.
func (s *Subscriber) handshake(conn *websocket.Conn) error {
	params, err := json.Marshal(ConnectParams{
		MinProtocol: MinProtocolVersion,
		MaxProtocol: MaxProtocolVersion,
		Client: ClientInfo{
			ID:          s.cfg.ClientID,
			DisplayName: s.cfg.DisplayName,
			Version:     clientVersion,
			Platform:    runtime.GOOS,
			Mode:        s.cfg.Mode,
			InstanceID:  s.instanceID,
		},
		Auth:   s.cfg.auth(),
		Role:   s.cfg.Role,
		Scopes: s.cfg.Scopes,
	})
	if err != nil {
		return fmt.Errorf("failed to encode handshake: %w", err)
	}

	id := newRequestID()
	if err := conn.WriteJSON(Frame{
		Type:   frameTypeRequest,
		ID:     id,
		Method: "connect",
		Params: params,
	}); err != nil {
		return &ConnectionError{Op: "send connect", Err: err}
	}

	deadline := time.Now().Add(10 * time.Second)
	_ = conn.SetReadDeadline(deadline)
	defer conn.SetReadDeadline(time.Time{})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return &ConnectionError{Op: "connect", Err: err}
		}

		var f Frame
		if err := json.Unmarshal(msg, &f); err != nil {
			continue
		}
		if f.Type != frameTypeResponse || f.ID != id {
			continue
		}
		if !f.ok() {
			return gatewayError(f.Error)
		}
		return nil
	}
}

// Subscribe registers interest in a session's events. The control frame is
// sent immediately when connected, and replayed on every reconnect until
// Unsubscribe or Close.
func (s *Subscriber) Subscribe(sessionKey string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("subscriber is closed")
	}
	s.sessionKey = sessionKey
	open := s.state == stateOpen
	s.mu.Unlock()

	if !open {
		return nil
	}
	return s.sendSubscribe(sessionKey)
}

// Unsubscribe drops the active subscription.
func (s *Subscriber) Unsubscribe() error {
	s.mu.Lock()
	sessionKey := s.sessionKey
	s.sessionKey = ""
	open := s.state == stateOpen
	s.mu.Unlock()

	if !open || sessionKey == "" {
		return nil
	}
	return s.write(Frame{Type: frameTypeUnsubscribe, SessionKey: sessionKey})
}

func (s *Subscriber) sendSubscribe(sessionKey string) error {
	return s.write(Frame{Type: frameTypeSubscribe, SessionKey: sessionKey})
}

func (s *Subscriber) write(f Frame) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return &ConnectionError{Op: f.Type, Err: fmt.Errorf("not connected")}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := conn.WriteJSON(f); err != nil {
		return &ConnectionError{Op: f.Type, Err: err}
	}
	return nil
}

func (s *Subscriber) readLoop(conn *websocket.Conn) {
	defer s.handleDisconnect(conn)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var f Frame
		if err := json.Unmarshal(msg, &f); err != nil {
			s.logger.Warn().Err(err).Msg("Dropping malformed frame")
			continue
		}

		switch f.Type {
		case frameTypeEvent:
			s.handleEvent(f)
		case frameTypeSubscribed:
			// Duplicate acks after a reconnect replay are benign.
			s.setSubscribed(true, f.SessionKey)
		case frameTypeUnsubscribed:
			s.setSubscribed(false, f.SessionKey)
		case frameTypePong:
			// Keep-alive answer; absence is not a failure signal.
		case frameTypePing:
			_ = s.write(Frame{Type: frameTypePong})
		default:
			s.logger.Debug().Str("type", f.Type).Msg("Ignoring unexpected frame")
		}
	}
}

func (s *Subscriber) handleEvent(f Frame) {
	metrics.RecordEvent(f.Event)

	s.mu.Lock()
	if s.lastSeq != seqUnknown && f.Seq > s.lastSeq+1 {
		// Gaps are observable but non-fatal; the protocol has no
		// retransmission, so we log and move on.
		s.logger.Warn().
			Int64("expected", s.lastSeq+1).
			Int64("got", f.Seq).
			Msg("Sequence gap on event stream")
		metrics.RecordSeqGap()
	}
	if f.Seq > s.lastSeq {
		s.lastSeq = f.Seq
	}
	s.mu.Unlock()

	ev, err := decodeEvent(f)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Dropping undecodable event")
		return
	}

	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *Subscriber) setSubscribed(v bool, sessionKey string) {
	s.mu.Lock()
	s.subscribed = v
	s.mu.Unlock()
	s.logger.Debug().Bool("subscribed", v).Str("sessionKey", sessionKey).Msg("Subscription state changed")
}

func (s *Subscriber) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := conn.WriteJSON(Frame{Type: frameTypePing})
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// handleDisconnect runs when a connection's read loop exits, and decides
// between shutdown and scheduled reconnection.
func (s *Subscriber) handleDisconnect(conn *websocket.Conn) {
	_ = conn.Close()

	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
		if s.state == stateOpen {
			s.state = stateIdle
		}
		s.subscribed = false
		s.loopRunning = false
	}
	closed := s.closed
	s.mu.Unlock()

	if closed {
		s.closeEvents()
		return
	}
	if !s.opts.AutoReconnect {
		return
	}

	s.logger.Warn().Dur("delay", s.opts.ReconnectDelay).Msg("Connection lost, scheduling reconnect")
	s.scheduleReconnect()
}

func (s *Subscriber) scheduleReconnect() {
	metrics.RecordReconnect()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
	}
	s.reconnectTimer = time.AfterFunc(s.opts.ReconnectDelay, func() {
		// Connect schedules the next attempt itself on failure.
		_ = s.Connect(context.Background())
	})
}

// Close disconnects explicitly: the pending reconnect (if any) is cancelled
// and the event channel is closed once delivery has stopped.
func (s *Subscriber) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.state = stateClosed
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	conn := s.conn
	s.conn = nil
	loopRunning := s.loopRunning
	s.mu.Unlock()

	close(s.done)

	if conn != nil {
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		_ = conn.Close()
	}

	// With no read loop running there is nobody left to close the channel.
	if !loopRunning {
		s.closeEvents()
	}

	s.logger.Info().Msg("Subscriber closed")
	return nil
}

func (s *Subscriber) closeEvents() {
	s.eventsOnce.Do(func() {
		close(s.events)
	})
}
