package reconcile

import (
	"encoding/json"
)

// ToolCallPhase tracks how far a tool invocation has progressed.
type ToolCallPhase string

const (
	ToolPhaseStart  ToolCallPhase = "start"
	ToolPhaseUpdate ToolCallPhase = "update"
	ToolPhaseResult ToolCallPhase = "result"
)

// ToolCallRecord is the tracked state of one tool invocation within a run.
// Records live only until the run's lifecycle ends.
type ToolCallRecord struct {
	ID        string
	RunID     string
	Name      string
	Arguments json.RawMessage
	Output    json.RawMessage
	Phase     ToolCallPhase
}

func (t *ToolCallRecord) snapshot() *ToolCallRecord {
	cp := *t
	return &cp
}

// ToolCall returns the tracked record for a tool call, or false if the call
// is unknown (never started, or its run's lifecycle already ended).
func (r *Reconciler) ToolCall(runID, toolCallID string) (ToolCallRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	calls, ok := r.tools[runID]
	if !ok {
		return ToolCallRecord{}, false
	}
	rec, ok := calls[toolCallID]
	if !ok {
		return ToolCallRecord{}, false
	}
	return *rec, true
}

// ToolCalls returns snapshots of every live tool call for a run.
func (r *Reconciler) ToolCalls(runID string) []ToolCallRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	calls := r.tools[runID]
	out := make([]ToolCallRecord, 0, len(calls))
	for _, rec := range calls {
		out = append(out, *rec)
	}
	return out
}

// applyToolEvent folds one tool-stream event into the per-run map and
// returns a snapshot of the touched record. Caller holds r.mu.
func (r *Reconciler) applyToolEvent(runID, toolCallID, name, phase string, args, result, partial json.RawMessage) *ToolCallRecord {
	calls, ok := r.tools[runID]
	if !ok {
		calls = make(map[string]*ToolCallRecord)
		r.tools[runID] = calls
	}

	rec, ok := calls[toolCallID]
	if !ok {
		// update/result without a start can happen after a sequence gap;
		// create the record rather than dropping the data.
		rec = &ToolCallRecord{
			ID:    toolCallID,
			RunID: runID,
			Name:  name,
			Phase: ToolPhaseStart,
		}
		calls[toolCallID] = rec
	}

	switch phase {
	case "start":
		rec.Name = name
		rec.Arguments = args
		rec.Output = nil
		rec.Phase = ToolPhaseStart
	case "update":
		if partial != nil {
			rec.Output = partial
		}
		rec.Phase = ToolPhaseUpdate
	case "result":
		rec.Output = result
		rec.Phase = ToolPhaseResult
	}

	return rec.snapshot()
}

// clearToolCalls drops all tool state for a run. Caller holds r.mu.
func (r *Reconciler) clearToolCalls(runID string) {
	delete(r.tools, runID)
}

func (r *Reconciler) liveToolCallCount() int {
	total := 0
	for _, calls := range r.tools {
		total += len(calls)
	}
	return total
}
