package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestLedger_Counters(t *testing.T) {
	m := NewLedger(prometheus.NewRegistry())

	m.BetPlaced("ok", 200)
	m.BetPlaced("insufficient_balance", 5000)
	m.Entry("bet_debit", -200)
	m.SettlementRun("settle", "complete", time.Now())

	assert.Equal(t, 1.0, testutil.ToFloat64(m.BetsPlaced.WithLabelValues("ok")))
	assert.Equal(t, 200.0, testutil.ToFloat64(m.StakeTotal))
	assert.Equal(t, 200.0, testutil.ToFloat64(m.LedgerAmount.WithLabelValues("bet_debit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SettlementRuns.WithLabelValues("settle", "complete")))
}

func TestNilReceivers(t *testing.T) {
	var m *Ledger
	var p *Pipeline
	assert.NotPanics(t, func() {
		m.BetPlaced("ok", 1)
		m.Entry("win_credit", 1)
		m.BetResolved("won")
		m.SettlementRun("void", "complete", time.Now())
		p.OnConsumed()
		p.OnPublished(3)
		p.OnError("publish")
	})
}

func TestPipeline(t *testing.T) {
	p := NewPipeline(prometheus.NewRegistry(), "outbox_relay")
	p.OnConsumed()
	p.OnPublished(3)
	p.OnError("publish")

	assert.Equal(t, 1.0, testutil.ToFloat64(p.Consumed))
	assert.Equal(t, 3.0, testutil.ToFloat64(p.Published))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.Errors.WithLabelValues("publish")))
}
