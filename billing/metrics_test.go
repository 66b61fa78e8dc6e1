package billing

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.RecordReconciliation("updated")
	m.RecordRemoteCall("retrieve", nil, time.Millisecond)
}

func TestMetrics_RecordRemoteCall(t *testing.T) {
	m := NewMetrics("")

	m.RecordRemoteCall("update", nil, 10*time.Millisecond)
	m.RecordRemoteCall("update", errors.New("boom"), 5*time.Millisecond)
	m.RecordRemoteCall("update", errors.New("boom"), 5*time.Millisecond)

	if got := testutil.ToFloat64(m.RemoteCalls.WithLabelValues("update", "ok")); got != 1 {
		t.Errorf("ok = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RemoteCalls.WithLabelValues("update", "error")); got != 2 {
		t.Errorf("error = %v, want 2", got)
	}
	if n := testutil.CollectAndCount(m.RemoteCallDuration); n != 1 {
		t.Errorf("duration series = %d, want 1", n)
	}
}

func TestMetrics_DefaultNamespace(t *testing.T) {
	m := NewMetrics("")
	m.RecordReconciliation("skipped")

	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "schedulesync_billing_reconciliations_total" {
			found = true
		}
	}
	if !found {
		t.Error("expected schedulesync_billing_reconciliations_total to be registered")
	}
}
