package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCaller struct {
	method   string
	params   map[string]any
	response json.RawMessage
	err      error
}

func (f *fakeCaller) Request(_ context.Context, method string, params any) (json.RawMessage, error) {
	f.method = method
	if params != nil {
		raw, _ := json.Marshal(params)
		_ = json.Unmarshal(raw, &f.params)
	}
	return f.response, f.err
}

func TestClientSend(t *testing.T) {
	rpc := &fakeCaller{response: json.RawMessage(`{"runId":"run-1"}`)}
	c := NewClient(rpc, zerolog.Nop())

	runID, err := c.Send(context.Background(), "agent:main:abc", "hello", SendOptions{})
	require.NoError(t, err)
	assert.Equal(t, "run-1", runID)
	assert.Equal(t, "chat.send", rpc.method)
	assert.Equal(t, "agent:main:abc", rpc.params["sessionKey"])
	assert.Equal(t, "hello", rpc.params["message"])
	assert.NotEmpty(t, rpc.params["idempotencyKey"])
}

func TestClientSendOptions(t *testing.T) {
	rpc := &fakeCaller{response: json.RawMessage(`{"runId":"run-2"}`)}
	c := NewClient(rpc, zerolog.Nop())

	_, err := c.Send(context.Background(), "k", "msg", SendOptions{
		Thinking:  "high",
		TimeoutMs: 60000,
		Attachments: []Attachment{
			{MimeType: "image/png", Content: []byte{0x89, 0x50}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "high", rpc.params["thinking"])
	assert.Equal(t, float64(60000), rpc.params["timeoutMs"])

	atts, ok := rpc.params["attachments"].([]any)
	require.True(t, ok)
	require.Len(t, atts, 1)
	att := atts[0].(map[string]any)
	assert.Equal(t, "image/png", att["mimeType"])
	assert.Equal(t, "iVA=", att["content"], "attachment content is base64")
}

func TestClientSendIdempotencyKey(t *testing.T) {
	rpc := &fakeCaller{response: json.RawMessage(`{"runId":"run-1"}`)}
	c := NewClient(rpc, zerolog.Nop())

	opts := SendOptions{IdempotencyKey: "k1"}

	_, err := c.Send(context.Background(), "k", "msg", opts)
	require.NoError(t, err)
	assert.Equal(t, "k1", rpc.params["idempotencyKey"], "supplied key reaches the wire")

	// A retry of the same logical send reuses the caller's key, so the
	// gateway can de-duplicate it.
	_, err = c.Send(context.Background(), "k", "msg", opts)
	require.NoError(t, err)
	assert.Equal(t, "k1", rpc.params["idempotencyKey"])
}

func TestClientSendNoRunID(t *testing.T) {
	rpc := &fakeCaller{response: json.RawMessage(`{}`)}
	c := NewClient(rpc, zerolog.Nop())

	_, err := c.Send(context.Background(), "k", "msg", SendOptions{})
	assert.Error(t, err)
}

func TestClientSendRPCError(t *testing.T) {
	rpc := &fakeCaller{err: errors.New("boom")}
	c := NewClient(rpc, zerolog.Nop())

	_, err := c.Send(context.Background(), "k", "msg", SendOptions{})
	assert.Error(t, err)
}

func TestClientHistory(t *testing.T) {
	rpc := &fakeCaller{response: json.RawMessage(`{"messages":[{"role":"user","content":[{"type":"text","text":"hi"}]},{"role":"assistant","content":[{"type":"text","text":"hello"}]}]}`)}
	c := NewClient(rpc, zerolog.Nop())

	msgs, err := c.History(context.Background(), "agent:main:abc", 50)
	require.NoError(t, err)
	assert.Equal(t, "chat.history", rpc.method)
	assert.Equal(t, float64(50), rpc.params["limit"])
	require.Len(t, msgs, 2)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "hello", msgs[1].Text())
}

func TestClientSessions(t *testing.T) {
	rpc := &fakeCaller{response: json.RawMessage(`{"sessions":[{"key":"agent:main:abc","friendlyId":"tether-x","messageCount":4,"updatedAt":1724800000}]}`)}
	c := NewClient(rpc, zerolog.Nop())

	sessions, err := c.Sessions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sessions.list", rpc.method)
	require.Len(t, sessions, 1)
	assert.Equal(t, "agent:main:abc", sessions[0].Key)
	assert.Equal(t, 4, sessions[0].MessageCount)
}

func TestClientDeleteSession(t *testing.T) {
	rpc := &fakeCaller{response: json.RawMessage(`{}`)}
	c := NewClient(rpc, zerolog.Nop())

	err := c.DeleteSession(context.Background(), "agent:main:abc")
	require.NoError(t, err)
	assert.Equal(t, "sessions.delete", rpc.method)
	assert.Equal(t, "agent:main:abc", rpc.params["key"])
}
