package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	EnsureRegistered()

	// Touch every recorder; registration or label mistakes would panic here.
	RecordRPC("chat.send", 120*time.Millisecond, true)
	RecordRPC("sessions.resolve", 5*time.Millisecond, false)
	RecordEvent("chat")
	RecordEvent("agent")
	RecordSeqGap()
	RecordReconnect()
	RecordRunFinalized("chat_final")
	RecordRunFinalized("lifecycle_end")
	SetActiveToolCalls(2)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "gateway_rpc_total")
	assert.Contains(t, body, "gateway_seq_gaps_total")
	assert.Contains(t, body, "runs_finalized_total")
}
