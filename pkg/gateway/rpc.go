package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/harun/tether/internal/metrics"
)

const clientVersion = "tether/0.1.0"

// Config holds the connection settings shared by the RPC caller and the
// event subscriber.
type Config struct {
	// URL is the gateway WebSocket endpoint, e.g. "ws://127.0.0.1:18789/ws".
	URL string

	// Token and Password are the gateway credentials. Token wins when both
	// are set; leaving both empty sends no auth block.
	Token    string
	Password string

	// Client identity presented during the handshake.
	ClientID    string
	DisplayName string
	Mode        string
	Role        string
	Scopes      []string

	// RequestTimeout bounds one RPC round trip, handshake included.
	RequestTimeout time.Duration

	Logger zerolog.Logger
}

func (cfg *Config) applyDefaults() error {
	if cfg.URL == "" {
		return fmt.Errorf("gateway URL is required")
	}
	if cfg.ClientID == "" {
		return fmt.Errorf("client id is required")
	}
	if cfg.Mode == "" {
		cfg.Mode = "backend"
	}
	if cfg.Role == "" {
		cfg.Role = "operator"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	return nil
}

func (cfg *Config) auth() *AuthParams {
	if cfg.Token == "" && cfg.Password == "" {
		return nil
	}
	return &AuthParams{Token: cfg.Token, Password: cfg.Password}
}

// Caller performs request/response RPC against the gateway. Each call opens
// its own connection, handshakes, exchanges one request, and tears the
// connection down; concurrent calls are independent.
type Caller struct {
	cfg        Config
	dialer     *websocket.Dialer
	instanceID string
	logger     zerolog.Logger
}

// NewCaller creates a new RPC caller
func NewCaller(cfg Config) (*Caller, error) {
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}

	metrics.EnsureRegistered()

	return &Caller{
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		instanceID: uuid.NewString(),
		logger:     cfg.Logger.With().Str("component", "gateway-rpc").Logger(),
	}, nil
}

func (c *Caller) connectParams() ConnectParams {
	return ConnectParams{
		MinProtocol: MinProtocolVersion,
		MaxProtocol: MaxProtocolVersion,
		Client: ClientInfo{
			ID:          c.cfg.ClientID,
			DisplayName: c.cfg.DisplayName,
			Version:     clientVersion,
			Platform:    runtime.GOOS,
			Mode:        c.cfg.Mode,
			InstanceID:  c.instanceID,
		},
		Auth:   c.cfg.auth(),
		Role:   c.cfg.Role,
		Scopes: c.cfg.Scopes,
	}
}

// Request performs one RPC with the configured default timeout.
func (c *Caller) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return c.RequestTimeout(ctx, method, params, c.cfg.RequestTimeout)
}

// RequestTimeout performs one RPC bounded by timeout. The bound covers the
// dial, the handshake, and the business round trip together. There is no
// retry here; callers retry with an idempotency key where that is safe.
func (c *Caller) RequestTimeout(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	start := time.Now()
	payload, err := c.do(ctx, method, params, timeout)
	metrics.RecordRPC(method, time.Since(start), err == nil)

	if err != nil {
		c.logger.Debug().Err(err).Str("method", method).Msg("RPC failed")
	}
	return payload, err
}

func (c *Caller) do(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	// The dial counts against the same bound as the handshake and the
	// business round trip.
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, _, err := c.dialer.DialContext(dialCtx, c.cfg.URL, nil)
	if err != nil {
		return nil, &ConnectionError{Op: "dial", Err: err}
	}

	wc := newWSConn(conn, c.logger)
	defer wc.close()

	// Handshake is always the first frame on the connection.
	if err := c.handshake(ctx, wc, timer.C, timeout); err != nil {
		return nil, err
	}

	var rawParams json.RawMessage
	if params != nil {
		rawParams, err = json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to encode params for %s: %w", method, err)
		}
	}

	res, err := wc.call(ctx, Frame{
		Type:   frameTypeRequest,
		ID:     newRequestID(),
		Method: method,
		Params: rawParams,
	}, timer.C, timeout)
	if err != nil {
		return nil, err
	}
	if !res.ok() {
		return nil, gatewayError(res.Error)
	}

	return res.Payload, nil
}

func (c *Caller) handshake(ctx context.Context, wc *wsConn, deadline <-chan time.Time, timeout time.Duration) error {
	params, err := json.Marshal(c.connectParams())
	if err != nil {
		return fmt.Errorf("failed to encode handshake: %w", err)
	}

	res, err := wc.call(ctx, Frame{
		Type:   frameTypeRequest,
		ID:     newRequestID(),
		Method: "connect",
		Params: params,
	}, deadline, timeout)
	if err != nil {
		return err
	}
	if !res.ok() {
		return gatewayError(res.Error)
	}
	return nil
}

// CheckConnection performs only the handshake and reports liveness. It is a
// diagnostic and mutates no session state.
func (c *Caller) CheckConnection(ctx context.Context) bool {
	timer := time.NewTimer(c.cfg.RequestTimeout)
	defer timer.Stop()

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	conn, _, err := c.dialer.DialContext(dialCtx, c.cfg.URL, nil)
	if err != nil {
		c.logger.Debug().Err(err).Msg("Liveness dial failed")
		return false
	}

	wc := newWSConn(conn, c.logger)
	defer wc.close()

	if err := c.handshake(ctx, wc, timer.C, c.cfg.RequestTimeout); err != nil {
		c.logger.Debug().Err(err).Msg("Liveness handshake failed")
		return false
	}
	return true
}

func newRequestID() string {
	id, err := gonanoid.New()
	if err != nil {
		// gonanoid only fails when the OS entropy source does.
		return uuid.NewString()
	}
	return id
}
