package metrics

import (
	"errors"
	"io"
	"math/big"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics(t *testing.T) {
	m := New()
	depth := 3
	m.ObserveQueueDepth(func() int { return depth })

	m.SetBalance(big.NewInt(200_000_000), 2)
	m.QueueOp("send_value", nil)
	m.QueueOp("send_value", errors.New("boom"))
	m.Broadcast("vote", nil)
	m.SetIndexerState(3)
	m.Reconnected()

	if got := testutil.ToFloat64(m.balance); got != 200_000_000 {
		t.Errorf("balance = %v, want 200000000", got)
	}
	if got := testutil.ToFloat64(m.queueOps.WithLabelValues("send_value", "error")); got != 1 {
		t.Errorf("failed send ops = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.reconnects); got != 1 {
		t.Errorf("reconnects = %v, want 1", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, name := range []string{
		"rankwallet_balance_sats 2e+08",
		"rankwallet_queue_depth 3",
		"rankwallet_utxo_count 2",
		`rankwallet_broadcasts_total{kind="vote",result="ok"} 1`,
		"rankwallet_indexer_state 3",
	} {
		if !strings.Contains(string(body), name) {
			t.Errorf("metrics output missing %q", name)
		}
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.SetBalance(big.NewInt(1), 1)
	m.QueueOp("x", nil)
	m.Broadcast("send", nil)
	m.SetIndexerState(0)
	m.Reconnected()
	m.ObserveQueueDepth(func() int { return 0 })
}
