package reconcile

// UpdateKind tags the variants a reconciler can emit. The fallback
// finalization gets its own kind instead of a flag bolted onto a shared
// payload, so consumers can tell the two finalization paths apart.
type UpdateKind int

const (
	// UpdateDelta is an in-progress content snapshot. Not authoritative;
	// only the finalized message is.
	UpdateDelta UpdateKind = iota

	// UpdateToolCall is a tool-call state change (start, update, result).
	UpdateToolCall

	// UpdateFinal is the authoritative message, closed by a chat final
	// event.
	UpdateFinal

	// UpdateFinalFallback is the authoritative message built from buffered
	// streaming content because the lifecycle ended before any chat final.
	UpdateFinalFallback

	// UpdateError is a terminal or advisory error for the run.
	UpdateError

	// UpdateAborted means the run was cancelled; no further content follows.
	UpdateAborted
)

func (k UpdateKind) String() string {
	switch k {
	case UpdateDelta:
		return "delta"
	case UpdateToolCall:
		return "tool_call"
	case UpdateFinal:
		return "final"
	case UpdateFinalFallback:
		return "final_fallback"
	case UpdateError:
		return "error"
	case UpdateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Update is one caller-visible output of the reconciler.
type Update struct {
	Kind         UpdateKind
	RunID        string
	SessionKey   string
	Text         string
	ErrorMessage string

	// Terminal distinguishes an error that closed the run from an advisory
	// one reported mid-stream. Meaningful only for UpdateError; the other
	// kinds are terminal or not by construction.
	Terminal bool

	// Tool is a snapshot of the tool call this update describes. Set only
	// for UpdateToolCall.
	Tool *ToolCallRecord
}

// Final reports whether the update closes its run.
func (u Update) Final() bool {
	switch u.Kind {
	case UpdateFinal, UpdateFinalFallback, UpdateAborted:
		return true
	case UpdateError:
		return u.Terminal
	}
	return false
}
