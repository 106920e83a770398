package conversation

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/harun/tether/pkg/gateway"
	"github.com/harun/tether/pkg/session"
)

// Caller is the RPC surface the conversation client needs.
type Caller interface {
	Request(ctx context.Context, method string, params any) (json.RawMessage, error)
}

// Client wraps the chat and session RPC methods behind typed calls.
type Client struct {
	rpc    Caller
	logger zerolog.Logger
}

// NewClient creates a conversation client on top of an RPC caller.
func NewClient(rpc Caller, logger zerolog.Logger) *Client {
	return &Client{
		rpc:    rpc,
		logger: logger.With().Str("component", "conversation").Logger(),
	}
}

// Attachment is a binary payload sent alongside a message. Content is
// base64-encoded on the wire.
type Attachment struct {
	MimeType string
	Content  []byte
}

// SendOptions tunes one send. The zero value is a plain text message.
type SendOptions struct {
	// Thinking selects the agent's reasoning level for this turn, when the
	// gateway supports it. Empty means the session default.
	Thinking string

	Attachments []Attachment

	// TimeoutMs overrides the gateway-side processing deadline for this run.
	TimeoutMs int

	// IdempotencyKey lets the gateway de-duplicate a retried send. A caller
	// retrying a failed send must pass the same key on each attempt; when
	// empty a fresh one is generated.
	IdempotencyKey string
}

// Send dispatches a message into a session and returns the run id the
// gateway assigned. The run's content arrives through the event stream, not
// through this response. The idempotency key makes an application-level
// retry of the same logical send safe.
func (c *Client) Send(ctx context.Context, sessionKey, text string, opts SendOptions) (string, error) {
	key := opts.IdempotencyKey
	if key == "" {
		key = uuid.NewString()
	}

	params := map[string]any{
		"sessionKey":     sessionKey,
		"message":        text,
		"idempotencyKey": key,
	}
	if opts.Thinking != "" {
		params["thinking"] = opts.Thinking
	}
	if opts.TimeoutMs > 0 {
		params["timeoutMs"] = opts.TimeoutMs
	}
	if len(opts.Attachments) > 0 {
		atts := make([]map[string]string, 0, len(opts.Attachments))
		for _, a := range opts.Attachments {
			atts = append(atts, map[string]string{
				"mimeType": a.MimeType,
				"content":  base64.StdEncoding.EncodeToString(a.Content),
			})
		}
		params["attachments"] = atts
	}

	payload, err := c.rpc.Request(ctx, "chat.send", params)
	if err != nil {
		return "", err
	}

	var res struct {
		RunID string `json:"runId"`
	}
	if err := json.Unmarshal(payload, &res); err != nil {
		return "", fmt.Errorf("malformed chat.send payload: %w", err)
	}
	if res.RunID == "" {
		return "", fmt.Errorf("chat.send returned no run id")
	}

	c.logger.Debug().Str("sessionKey", sessionKey).Str("runId", res.RunID).Msg("Message dispatched")
	return res.RunID, nil
}

// History returns the stored messages of a session, oldest first.
func (c *Client) History(ctx context.Context, sessionKey string, limit int) ([]gateway.Message, error) {
	params := map[string]any{"sessionKey": sessionKey}
	if limit > 0 {
		params["limit"] = limit
	}

	payload, err := c.rpc.Request(ctx, "chat.history", params)
	if err != nil {
		return nil, err
	}

	var res struct {
		Messages []gateway.Message `json:"messages"`
	}
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, fmt.Errorf("malformed chat.history payload: %w", err)
	}
	return res.Messages, nil
}

// Sessions lists the sessions known to the gateway.
func (c *Client) Sessions(ctx context.Context) ([]session.Info, error) {
	payload, err := c.rpc.Request(ctx, "sessions.list", nil)
	if err != nil {
		return nil, err
	}

	var res struct {
		Sessions []session.Info `json:"sessions"`
	}
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, fmt.Errorf("malformed sessions.list payload: %w", err)
	}
	return res.Sessions, nil
}

// DeleteSession removes a session and its stored history.
func (c *Client) DeleteSession(ctx context.Context, sessionKey string) error {
	_, err := c.rpc.Request(ctx, "sessions.delete", map[string]any{"key": sessionKey})
	if err != nil {
		return err
	}
	c.logger.Info().Str("sessionKey", sessionKey).Msg("Session deleted")
	return nil
}
