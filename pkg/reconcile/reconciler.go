package reconcile

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/harun/tether/internal/metrics"
	"github.com/harun/tether/pkg/gateway"
)

// Reconciler merges the chat and agent event channels for each run into
// exactly one finalized message plus live tool-call state. One logical turn
// may be reported through either channel or both, depending on gateway
// configuration; whichever terminal signal arrives first wins, and the
// loser becomes a no-op.
//
// All state is owned by the instance and serialized behind one lock, so a
// subscriber feeding it from multiple goroutines still gets the
// finalize-exactly-once guarantee.
type Reconciler struct {
	logger zerolog.Logger

	mu sync.Mutex

	// finalized records every run closed by any terminal trigger. Checked
	// by the lifecycle-end fallback path before emitting content.
	finalized map[string]struct{}

	// buffers holds the current content snapshot per streaming run.
	buffers map[string]*runBuffer

	// tools maps runID -> toolCallID -> record.
	tools map[string]map[string]*ToolCallRecord
}

type runBuffer struct {
	sessionKey string
	text       string
}

// New creates a reconciler with empty state.
func New(logger zerolog.Logger) *Reconciler {
	metrics.EnsureRegistered()

	return &Reconciler{
		logger:    logger.With().Str("component", "reconciler").Logger(),
		finalized: make(map[string]struct{}),
		buffers:   make(map[string]*runBuffer),
		tools:     make(map[string]map[string]*ToolCallRecord),
	}
}

// HandleChat folds one chat event into the state machine and returns the
// updates to surface to the caller. Events for already-finalized runs are
// swallowed.
func (r *Reconciler) HandleChat(ev gateway.ChatEvent) []Update {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.isFinalized(ev.RunID) {
		return nil
	}

	switch ev.State {
	case gateway.ChatStateDelta:
		text := r.bufferText(ev.RunID, ev.SessionKey, ev.Message.Text())
		return []Update{{
			Kind:       UpdateDelta,
			RunID:      ev.RunID,
			SessionKey: ev.SessionKey,
			Text:       text,
		}}

	case gateway.ChatStateFinal:
		text := ev.Message.Text()
		if buf, ok := r.buffers[ev.RunID]; ok && text == "" && buf.text != "" {
			// Which source wins here is ambiguous upstream; prefer the
			// content we actually streamed over an empty final.
			r.logger.Warn().Str("runId", ev.RunID).Msg("Chat final carried no content, using buffered text")
			text = buf.text
		}
		r.finalize(ev.RunID, "chat_final")
		return []Update{{
			Kind:       UpdateFinal,
			RunID:      ev.RunID,
			SessionKey: ev.SessionKey,
			Text:       text,
		}}

	case gateway.ChatStateError:
		r.finalize(ev.RunID, "chat_error")
		return []Update{{
			Kind:         UpdateError,
			RunID:        ev.RunID,
			SessionKey:   ev.SessionKey,
			ErrorMessage: ev.ErrorMessage,
			Terminal:     true,
		}}

	case gateway.ChatStateAborted:
		r.finalize(ev.RunID, "chat_aborted")
		return []Update{{
			Kind:       UpdateAborted,
			RunID:      ev.RunID,
			SessionKey: ev.SessionKey,
		}}

	default:
		r.logger.Warn().Str("state", ev.State).Str("runId", ev.RunID).Msg("Ignoring chat event with unknown state")
		return nil
	}
}

// HandleAgent folds one agent event into the state machine. Lifecycle-end
// finalizes from the buffered content only when no chat terminal state got
// there first, and always clears the run's tool-call map.
func (r *Reconciler) HandleAgent(ev gateway.AgentEvent) []Update {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch ev.Stream {
	case gateway.StreamAssistant:
		if r.isFinalized(ev.RunID) {
			return nil
		}
		text := r.bufferText(ev.RunID, "", ev.Data.Text)
		return []Update{{
			Kind:  UpdateDelta,
			RunID: ev.RunID,
			Text:  text,
		}}

	case gateway.StreamTool:
		if r.isFinalized(ev.RunID) {
			return nil
		}
		rec := r.applyToolEvent(
			ev.RunID,
			ev.Data.ToolCallID,
			ev.Data.Name,
			ev.Data.Phase,
			ev.Data.Args,
			ev.Data.Result,
			ev.Data.PartialResult,
		)
		metrics.SetActiveToolCalls(r.liveToolCallCount())
		return []Update{{
			Kind:  UpdateToolCall,
			RunID: ev.RunID,
			Tool:  rec,
		}}

	case gateway.StreamLifecycle:
		return r.handleLifecycle(ev)

	case gateway.StreamError:
		if r.isFinalized(ev.RunID) {
			return nil
		}
		// Advisory: finalization stays with chat terminal states or
		// lifecycle end.
		return []Update{{
			Kind:         UpdateError,
			RunID:        ev.RunID,
			ErrorMessage: ev.Data.Error,
		}}

	default:
		r.logger.Debug().Str("stream", string(ev.Stream)).Msg("Ignoring agent event with unknown stream")
		return nil
	}
}

// handleLifecycle processes lifecycle phases. Caller holds r.mu.
func (r *Reconciler) handleLifecycle(ev gateway.AgentEvent) []Update {
	switch ev.Data.Phase {
	case gateway.PhaseStart:
		// The run enters streaming implicitly with its first event; nothing
		// to surface yet.
		return nil

	case gateway.PhaseEnd:
		var updates []Update
		if !r.isFinalized(ev.RunID) {
			var text, sessionKey string
			if buf, ok := r.buffers[ev.RunID]; ok {
				text = buf.text
				sessionKey = buf.sessionKey
			}
			r.finalize(ev.RunID, "lifecycle_end")
			updates = append(updates, Update{
				Kind:       UpdateFinalFallback,
				RunID:      ev.RunID,
				SessionKey: sessionKey,
				Text:       text,
			})
		}

		// Lifecycle end garbage-collects tool state even when it is not
		// the finalizing event.
		r.clearToolCalls(ev.RunID)
		metrics.SetActiveToolCalls(r.liveToolCallCount())
		return updates

	default:
		return nil
	}
}

// Cancel marks a run as aborted by the user. The run is treated as
// finalized: nothing further is forwarded even if more events arrive.
func (r *Reconciler) Cancel(runID string) []Update {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.isFinalized(runID) {
		return nil
	}

	var sessionKey string
	if buf, ok := r.buffers[runID]; ok {
		sessionKey = buf.sessionKey
	}

	r.finalize(runID, "cancelled")
	r.clearToolCalls(runID)
	metrics.SetActiveToolCalls(r.liveToolCallCount())

	return []Update{{
		Kind:       UpdateAborted,
		RunID:      runID,
		SessionKey: sessionKey,
	}}
}

// bufferText applies the cumulative-snapshot policy: the buffer is replaced
// only when the new text is at least as long as what is already buffered,
// which tolerates mild reordering of a growing snapshot without regressing
// visible content. Returns the current buffer. Caller holds r.mu.
func (r *Reconciler) bufferText(runID, sessionKey, text string) string {
	buf, ok := r.buffers[runID]
	if !ok {
		buf = &runBuffer{sessionKey: sessionKey}
		r.buffers[runID] = buf
	}
	if buf.sessionKey == "" {
		buf.sessionKey = sessionKey
	}
	if len(text) >= len(buf.text) {
		buf.text = text
	}
	return buf.text
}

// finalize closes a run exactly once: records it in the finalized set,
// drops its buffer, and counts the trigger. Caller holds r.mu.
func (r *Reconciler) finalize(runID, trigger string) {
	r.finalized[runID] = struct{}{}
	delete(r.buffers, runID)
	metrics.RecordRunFinalized(trigger)
	r.logger.Debug().Str("runId", runID).Str("trigger", trigger).Msg("Run finalized")
}

func (r *Reconciler) isFinalized(runID string) bool {
	_, ok := r.finalized[runID]
	return ok
}
