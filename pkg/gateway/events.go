package gateway

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Chat event states reported by the gateway for a run.
const (
	ChatStateDelta   = "delta"
	ChatStateFinal   = "final"
	ChatStateError   = "error"
	ChatStateAborted = "aborted"
)

// StreamType identifies the typed agent-event streams.
type StreamType string

const (
	StreamTool      StreamType = "tool"
	StreamLifecycle StreamType = "lifecycle"
	StreamAssistant StreamType = "assistant"
	StreamError     StreamType = "error"
)

// Agent lifecycle phases.
const (
	PhaseStart  = "start"
	PhaseUpdate = "update"
	PhaseResult = "result"
	PhaseEnd    = "end"
)

// ChatEvent is the per-turn chat state machine signal for a run.
type ChatEvent struct {
	RunID        string   `json:"runId"`
	SessionKey   string   `json:"sessionKey"`
	Seq          int64    `json:"seq"`
	State        string   `json:"state"`
	Message      *Message `json:"message,omitempty"`
	ErrorMessage string   `json:"errorMessage,omitempty"`
}

// AgentEvent is the tool/lifecycle signal for the same run, delivered on an
// independent sequence.
type AgentEvent struct {
	RunID  string         `json:"runId"`
	Seq    int64          `json:"seq"`
	Stream StreamType     `json:"stream"`
	TS     int64          `json:"ts"`
	Data   AgentEventData `json:"data"`
}

// AgentEventData is the loosely typed payload of an agent event. Which
// fields are set depends on the stream and phase.
type AgentEventData struct {
	Phase         string          `json:"phase,omitempty"`
	Name          string          `json:"name,omitempty"`
	ToolCallID    string          `json:"toolCallId,omitempty"`
	Args          json.RawMessage `json:"args,omitempty"`
	Result        json.RawMessage `json:"result,omitempty"`
	PartialResult json.RawMessage `json:"partialResult,omitempty"`
	Error         string          `json:"error,omitempty"`
	Text          string          `json:"text,omitempty"`
}

// Message is an agent message as carried by chat events and history.
type Message struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

// ContentBlock is one part of a message body.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Text concatenates the text blocks of a message.
func (m *Message) Text() string {
	if m == nil {
		return ""
	}
	var b strings.Builder
	for _, block := range m.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}

// Timestamp converts the event's millisecond timestamp.
func (e AgentEvent) Timestamp() time.Time {
	return time.UnixMilli(e.TS)
}

// Event is one decoded subscription event: exactly one of Chat or Agent is
// set, mirroring the two channels the gateway multiplexes.
type Event struct {
	Seq   int64
	Chat  *ChatEvent
	Agent *AgentEvent
}

// decodeEvent turns an event frame into a typed Event.
func decodeEvent(f Frame) (Event, error) {
	ev := Event{Seq: f.Seq}
	switch f.Event {
	case eventChannelChat:
		var chat ChatEvent
		if err := json.Unmarshal(f.Payload, &chat); err != nil {
			return ev, fmt.Errorf("malformed chat event payload: %w", err)
		}
		ev.Chat = &chat
	case eventChannelAgent:
		var agent AgentEvent
		if err := json.Unmarshal(f.Payload, &agent); err != nil {
			return ev, fmt.Errorf("malformed agent event payload: %w", err)
		}
		ev.Agent = &agent
	default:
		return ev, fmt.Errorf("unknown event channel %q", f.Event)
	}
	return ev, nil
}
