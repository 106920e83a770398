package gateway

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageText(t *testing.T) {
	m := &Message{
		Role: "assistant",
		Content: []ContentBlock{
			{Type: "text", Text: "Hello "},
			{Type: "image"},
			{Type: "text", Text: "world"},
		},
	}
	assert.Equal(t, "Hello world", m.Text())

	var nilMsg *Message
	assert.Equal(t, "", nilMsg.Text(), "nil message yields empty text")
}

func TestDecodeEvent(t *testing.T) {
	t.Run("chat", func(t *testing.T) {
		ev, err := decodeEvent(Frame{
			Type:    frameTypeEvent,
			Event:   eventChannelChat,
			Seq:     7,
			Payload: json.RawMessage(`{"runId":"r1","state":"final"}`),
		})
		require.NoError(t, err)
		assert.Equal(t, int64(7), ev.Seq)
		require.NotNil(t, ev.Chat)
		assert.Nil(t, ev.Agent)
		assert.Equal(t, ChatStateFinal, ev.Chat.State)
	})

	t.Run("agent", func(t *testing.T) {
		ev, err := decodeEvent(Frame{
			Type:    frameTypeEvent,
			Event:   eventChannelAgent,
			Payload: json.RawMessage(`{"runId":"r1","stream":"tool","data":{"phase":"start","toolCallId":"t1"}}`),
		})
		require.NoError(t, err)
		require.NotNil(t, ev.Agent)
		assert.Equal(t, StreamTool, ev.Agent.Stream)
		assert.Equal(t, "t1", ev.Agent.Data.ToolCallID)
	})

	t.Run("unknown channel", func(t *testing.T) {
		_, err := decodeEvent(Frame{Type: frameTypeEvent, Event: "mystery"})
		assert.Error(t, err)
	})

	t.Run("malformed payload", func(t *testing.T) {
		_, err := decodeEvent(Frame{
			Type:    frameTypeEvent,
			Event:   eventChannelChat,
			Payload: json.RawMessage(`not json`),
		})
		assert.Error(t, err)
	})
}
