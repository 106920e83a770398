package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

// RPC is the request surface the resolver needs from the gateway caller.
type RPC interface {
	Request(ctx context.Context, method string, params any) (json.RawMessage, error)
}

// Resolved is a usable session identity: the internal key the gateway
// routes by, and the user-facing friendly id when one is known.
type Resolved struct {
	SessionKey string
	FriendlyID string
}

// Info is one session as reported by sessions.list.
type Info struct {
	Key                string `json:"key"`
	FriendlyID         string `json:"friendlyId,omitempty"`
	Label              string `json:"label,omitempty"`
	LastMessagePreview string `json:"lastMessagePreview,omitempty"`
	MessageCount       int    `json:"messageCount"`
	UpdatedAt          int64  `json:"updatedAt"`
}

// Resolver maps a user-facing identifier to an internal session key,
// creating one lazily when none exists. Resolution degrades rather than
// failing: the gateway accepts unknown keys, so a locally generated
// friendly id keeps the send path usable even when both resolution and
// the upsert fail.
type Resolver struct {
	rpc    RPC
	label  string
	logger zerolog.Logger

	mu     sync.Mutex
	cached *Resolved
}

// NewResolver creates a resolver. label is attached to sessions this
// resolver creates via the idempotent upsert.
func NewResolver(rpc RPC, label string, logger zerolog.Logger) *Resolver {
	return &Resolver{
		rpc:    rpc,
		label:  label,
		logger: logger.With().Str("component", "session-resolver").Logger(),
	}
}

// ResolveOrCreate returns a session identity, in order of preference: the
// cached active session, a server-side resolution of hint, a freshly
// upserted session under a generated friendly id, or the generated
// friendly id used directly as the key when the gateway cannot be asked.
func (r *Resolver) ResolveOrCreate(ctx context.Context, hint string) (Resolved, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cached != nil {
		return *r.cached, nil
	}
	if err := ctx.Err(); err != nil {
		return Resolved{}, err
	}

	if hint != "" {
		resolved, err := r.resolveRemote(ctx, hint)
		if err == nil {
			r.cached = &resolved
			return resolved, nil
		}
		r.logger.Warn().Err(err).Str("hint", hint).Msg("Server-side resolution failed, creating a session")
	}

	friendly := newFriendlyID()

	resolved, err := r.upsert(ctx, friendly)
	if err != nil {
		// The gateway accepts unknown keys, so the generated id still
		// works as a session key for later sends.
		r.logger.Warn().Err(err).Str("friendlyId", friendly).Msg("Session upsert failed, falling back to friendly id as key")
		resolved = Resolved{SessionKey: friendly, FriendlyID: friendly}
	}

	r.cached = &resolved
	return resolved, nil
}

// Active returns the cached session, if any.
func (r *Resolver) Active() (Resolved, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cached == nil {
		return Resolved{}, false
	}
	return *r.cached, true
}

// Reset drops the cached session so the next resolve starts fresh.
func (r *Resolver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cached = nil
}

func (r *Resolver) resolveRemote(ctx context.Context, hint string) (Resolved, error) {
	payload, err := r.rpc.Request(ctx, "sessions.resolve", map[string]any{
		"key":            hint,
		"includeUnknown": true,
		"includeGlobal":  true,
	})
	if err != nil {
		return Resolved{}, err
	}

	var res struct {
		Key        string `json:"key"`
		FriendlyID string `json:"friendlyId"`
	}
	if err := json.Unmarshal(payload, &res); err != nil {
		return Resolved{}, fmt.Errorf("malformed sessions.resolve payload: %w", err)
	}
	if res.Key == "" {
		return Resolved{}, fmt.Errorf("sessions.resolve returned no key for %q", hint)
	}

	r.logger.Debug().Str("hint", hint).Str("sessionKey", res.Key).Msg("Session resolved")
	return Resolved{SessionKey: res.Key, FriendlyID: res.FriendlyID}, nil
}

func (r *Resolver) upsert(ctx context.Context, friendly string) (Resolved, error) {
	payload, err := r.rpc.Request(ctx, "sessions.patch", map[string]any{
		"key":   friendly,
		"label": r.label,
	})
	if err != nil {
		return Resolved{}, err
	}

	var res struct {
		Key string `json:"key"`
	}
	if err := json.Unmarshal(payload, &res); err != nil {
		return Resolved{}, fmt.Errorf("malformed sessions.patch payload: %w", err)
	}
	if res.Key == "" {
		return Resolved{}, fmt.Errorf("sessions.patch returned no key")
	}

	r.logger.Info().Str("sessionKey", res.Key).Str("friendlyId", friendly).Msg("Session created")
	return Resolved{SessionKey: res.Key, FriendlyID: friendly}, nil
}

func newFriendlyID() string {
	id, err := gonanoid.Generate("abcdefghijklmnopqrstuvwxyz0123456789", 10)
	if err != nil {
		return "tether-fallback"
	}
	return "tether-" + id
}
