package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(url string) Config {
	return Config{
		URL:      url,
		Token:    "test-token",
		ClientID: "test-client",
		Logger:   zerolog.Nop(),
	}
}

func TestCallerRequest(t *testing.T) {
	g := newFakeGateway()
	defer g.close()

	g.handle("sessions.list", func(params json.RawMessage) (json.RawMessage, *ErrorBody) {
		return json.RawMessage(`{"sessions":[]}`), nil
	})

	c, err := NewCaller(testConfig(g.url()))
	require.NoError(t, err)

	payload, err := c.Request(context.Background(), "sessions.list", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"sessions":[]}`, string(payload))
}

func TestCallerHandshakeFirst(t *testing.T) {
	g := newFakeGateway()
	defer g.close()

	g.handle("chat.send", func(params json.RawMessage) (json.RawMessage, *ErrorBody) {
		return json.RawMessage(`{"runId":"r1"}`), nil
	})

	c, err := NewCaller(testConfig(g.url()))
	require.NoError(t, err)

	_, err = c.Request(context.Background(), "chat.send", map[string]any{"message": "hi"})
	require.NoError(t, err)

	require.Equal(t, 1, g.connectCount(), "connect is sent before the business request")
	hs := g.lastConnect()
	assert.Equal(t, MinProtocolVersion, hs.MinProtocol)
	assert.Equal(t, MaxProtocolVersion, hs.MaxProtocol)
	assert.Equal(t, "test-client", hs.Client.ID)
	require.NotNil(t, hs.Auth)
	assert.Equal(t, "test-token", hs.Auth.Token)
	assert.Equal(t, "operator", hs.Role)
	assert.NotEmpty(t, hs.Client.InstanceID)
}

func TestCallerEphemeralConnections(t *testing.T) {
	g := newFakeGateway()
	defer g.close()

	g.handle("sessions.list", func(params json.RawMessage) (json.RawMessage, *ErrorBody) {
		return json.RawMessage(`{"sessions":[]}`), nil
	})

	c, err := NewCaller(testConfig(g.url()))
	require.NoError(t, err)

	_, err = c.Request(context.Background(), "sessions.list", nil)
	require.NoError(t, err)
	_, err = c.Request(context.Background(), "sessions.list", nil)
	require.NoError(t, err)

	assert.Equal(t, 2, g.connectCount(), "each request opens and handshakes its own connection")
}

func TestCallerGatewayError(t *testing.T) {
	g := newFakeGateway()
	defer g.close()

	g.handle("sessions.delete", func(params json.RawMessage) (json.RawMessage, *ErrorBody) {
		return nil, &ErrorBody{Code: "NOT_FOUND", Message: "no such session"}
	})

	c, err := NewCaller(testConfig(g.url()))
	require.NoError(t, err)

	_, err = c.Request(context.Background(), "sessions.delete", map[string]any{"key": "x"})
	require.Error(t, err)
	require.True(t, IsGatewayError(err))

	var ge *GatewayError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, "NOT_FOUND", ge.Code)
	assert.Contains(t, ge.Error(), "no such session")
}

func TestCallerHandshakeRejected(t *testing.T) {
	g := newFakeGateway()
	defer g.close()
	g.rejectAll = true

	c, err := NewCaller(testConfig(g.url()))
	require.NoError(t, err)

	_, err = c.Request(context.Background(), "sessions.list", nil)
	require.Error(t, err)
	require.True(t, IsGatewayError(err))

	var ge *GatewayError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, "AUTH_FAILED", ge.Code)
}

func TestCallerTimeout(t *testing.T) {
	g := newFakeGateway()
	defer g.close()
	g.dropReqs = true

	c, err := NewCaller(testConfig(g.url()))
	require.NoError(t, err)

	start := time.Now()
	_, err = c.RequestTimeout(context.Background(), "sessions.list", nil, 200*time.Millisecond)
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
	assert.Less(t, time.Since(start), 2*time.Second)

	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "sessions.list", te.Method)
}

func TestCallerTimeoutCoversDial(t *testing.T) {
	// A server that accepts TCP but never completes the upgrade stalls the
	// dial itself; the request bound must still cut it short.
	stall := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(3 * time.Second)
	}))
	defer stall.Close()

	c, err := NewCaller(testConfig("ws" + strings.TrimPrefix(stall.URL, "http")))
	require.NoError(t, err)

	start := time.Now()
	_, err = c.RequestTimeout(context.Background(), "sessions.list", nil, 150*time.Millisecond)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second, "slow dial is bounded by the request timeout")

	var ce *ConnectionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "dial", ce.Op)
}

func TestCallerDialFailure(t *testing.T) {
	c, err := NewCaller(testConfig("ws://127.0.0.1:1/ws"))
	require.NoError(t, err)

	_, err = c.Request(context.Background(), "sessions.list", nil)
	require.Error(t, err)

	var ce *ConnectionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "dial", ce.Op)
}

func TestCallerContextCancel(t *testing.T) {
	g := newFakeGateway()
	defer g.close()
	g.dropReqs = true

	c, err := NewCaller(testConfig(g.url()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	_, err = c.Request(ctx, "sessions.list", nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestCallerConfigValidation(t *testing.T) {
	_, err := NewCaller(Config{ClientID: "x"})
	assert.Error(t, err, "URL is required")

	_, err = NewCaller(Config{URL: "ws://host/ws"})
	assert.Error(t, err, "client id is required")
}

func TestCallerNoAuthBlock(t *testing.T) {
	g := newFakeGateway()
	defer g.close()

	cfg := testConfig(g.url())
	cfg.Token = ""
	c, err := NewCaller(cfg)
	require.NoError(t, err)

	assert.True(t, c.CheckConnection(context.Background()))
	assert.Nil(t, g.lastConnect().Auth, "empty credentials omit the auth block")
}

func TestCheckConnection(t *testing.T) {
	g := newFakeGateway()
	defer g.close()

	c, err := NewCaller(testConfig(g.url()))
	require.NoError(t, err)
	assert.True(t, c.CheckConnection(context.Background()))

	g.close()
	assert.False(t, c.CheckConnection(context.Background()))
}
