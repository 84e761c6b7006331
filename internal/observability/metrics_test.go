package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	m.ObserveUtterance("completed")
	m.ObserveChunk("played")
	m.ObserveRecognition("restart")
	m.ObserveSession("created", 1)
	m.ObserveMessage("inbound", "client_text")
	m.ObserveBrain(time.Second, "")
}

func TestMetricsCountOutcomes(t *testing.T) {
	m := NewMetrics("test_observability_" + time.Now().Format("150405") + "_" + time.Now().Format("000000000"))
	m.ObserveChunk("skipped")
	m.ObserveChunk("skipped")
	m.ObserveSession("created", 3)

	if got := testutil.ToFloat64(m.SpeechChunks.WithLabelValues("skipped")); got != 2 {
		t.Fatalf("skipped chunks = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ActiveSessions); got != 3 {
		t.Fatalf("active sessions = %v, want 3", got)
	}
}
