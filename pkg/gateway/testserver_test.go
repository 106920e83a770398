package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// fakeGateway is a minimal in-process gateway for exercising the client
// side of the protocol. Each accepted connection is served by its own
// goroutine; handlers are looked up by method name.
type fakeGateway struct {
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu        sync.Mutex
	conns     []*websocket.Conn
	handlers  map[string]func(params json.RawMessage) (json.RawMessage, *ErrorBody)
	connects  []ConnectParams
	subs      []string
	unsubs    []string
	rejectAll bool
	dropReqs  bool
	pings     int
}

func newFakeGateway() *fakeGateway {
	g := &fakeGateway{
		handlers: make(map[string]func(params json.RawMessage) (json.RawMessage, *ErrorBody)),
	}
	g.server = httptest.NewServer(http.HandlerFunc(g.serve))
	return g
}

func (g *fakeGateway) url() string {
	return "ws" + strings.TrimPrefix(g.server.URL, "http")
}

func (g *fakeGateway) close() {
	g.closeConns()
	g.server.Close()
}

// closeConns drops every live connection, simulating a network failure.
func (g *fakeGateway) closeConns() {
	g.mu.Lock()
	conns := g.conns
	g.conns = nil
	g.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

func (g *fakeGateway) handle(method string, fn func(params json.RawMessage) (json.RawMessage, *ErrorBody)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.handlers[method] = fn
}

func (g *fakeGateway) connectCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.connects)
}

func (g *fakeGateway) lastConnect() ConnectParams {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.connects[len(g.connects)-1]
}

func (g *fakeGateway) subscribeKeys() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.subs...)
}

func (g *fakeGateway) pingCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pings
}

// pushEvent sends an event frame on every live connection with the given
// sequence number.
func (g *fakeGateway) pushEvent(channel string, seq int64, payload any) {
	raw, _ := json.Marshal(payload)
	g.broadcast(Frame{
		Type:    frameTypeEvent,
		Event:   channel,
		Seq:     seq,
		Payload: raw,
	})
}

func (g *fakeGateway) broadcast(f Frame) {
	g.mu.Lock()
	conns := append([]*websocket.Conn(nil), g.conns...)
	g.mu.Unlock()
	for _, c := range conns {
		_ = c.WriteJSON(f)
	}
}

func (g *fakeGateway) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	g.mu.Lock()
	g.conns = append(g.conns, conn)
	g.mu.Unlock()

	defer conn.Close()

	for {
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}

		switch f.Type {
		case frameTypeRequest:
			g.handleRequest(conn, f)
		case frameTypeSubscribe:
			g.mu.Lock()
			g.subs = append(g.subs, f.SessionKey)
			g.mu.Unlock()
			_ = conn.WriteJSON(Frame{Type: frameTypeSubscribed, SessionKey: f.SessionKey})
		case frameTypeUnsubscribe:
			g.mu.Lock()
			g.unsubs = append(g.unsubs, f.SessionKey)
			g.mu.Unlock()
			_ = conn.WriteJSON(Frame{Type: frameTypeUnsubscribed, SessionKey: f.SessionKey})
		case frameTypePing:
			g.mu.Lock()
			g.pings++
			g.mu.Unlock()
			_ = conn.WriteJSON(Frame{Type: frameTypePong})
		}
	}
}

func (g *fakeGateway) handleRequest(conn *websocket.Conn, f Frame) {
	ok := true

	if f.Method == "connect" {
		var params ConnectParams
		_ = json.Unmarshal(f.Params, &params)
		g.mu.Lock()
		g.connects = append(g.connects, params)
		reject := g.rejectAll
		g.mu.Unlock()

		if reject {
			nok := false
			_ = conn.WriteJSON(Frame{
				Type:  frameTypeResponse,
				ID:    f.ID,
				OK:    &nok,
				Error: &ErrorBody{Code: "AUTH_FAILED", Message: "bad token"},
			})
			return
		}
		_ = conn.WriteJSON(Frame{
			Type:    frameTypeResponse,
			ID:      f.ID,
			OK:      &ok,
			Payload: json.RawMessage(`{"protocol":3}`),
		})
		return
	}

	g.mu.Lock()
	drop := g.dropReqs
	handler := g.handlers[f.Method]
	g.mu.Unlock()

	if drop {
		return
	}
	if handler == nil {
		nok := false
		_ = conn.WriteJSON(Frame{
			Type:  frameTypeResponse,
			ID:    f.ID,
			OK:    &nok,
			Error: &ErrorBody{Code: "UNKNOWN_METHOD", Message: "no handler for " + f.Method},
		})
		return
	}

	payload, errBody := handler(f.Params)
	if errBody != nil {
		nok := false
		_ = conn.WriteJSON(Frame{Type: frameTypeResponse, ID: f.ID, OK: &nok, Error: errBody})
		return
	}
	_ = conn.WriteJSON(Frame{Type: frameTypeResponse, ID: f.ID, OK: &ok, Payload: payload})
}

// waitFor polls cond until it is true or the timeout expires.
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}
