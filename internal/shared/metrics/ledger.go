package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Ledger agrupa as métricas do motor de apostas/liquidação
// Todos os métodos aceitam receiver nil (métricas desligadas em testes)
type Ledger struct {
	BetsPlaced         *prometheus.CounterVec
	StakeTotal         prometheus.Counter
	LedgerEntries      *prometheus.CounterVec
	LedgerAmount       *prometheus.CounterVec
	SettlementRuns     *prometheus.CounterVec
	SettlementBets     *prometheus.CounterVec
	SettlementDuration *prometheus.HistogramVec
}

// NewLedger cria e registra os collectors no registerer informado
func NewLedger(reg prometheus.Registerer) *Ledger {
	m := &Ledger{
		BetsPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_bets_placed_total",
			Help: "tentativas de aposta por resultado",
		}, []string{"result"}),
		StakeTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_stake_coins_total",
			Help: "moedas apostadas (apostas aceitas)",
		}),
		LedgerEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_entries_total",
			Help: "lançamentos no ledger por tipo",
		}, []string{"kind"}),
		LedgerAmount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_entries_abs_amount_total",
			Help: "soma absoluta dos lançamentos por tipo",
		}, []string{"kind"}),
		SettlementRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_settlement_runs_total",
			Help: "execuções de settle/void por resultado",
		}, []string{"op", "outcome"}),
		SettlementBets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_settlement_bets_total",
			Help: "apostas resolvidas por status final",
		}, []string{"status"}),
		SettlementDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledger_settlement_duration_seconds",
			Help:    "duração de settle/void",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
	}
	if reg != nil {
		reg.MustRegister(m.BetsPlaced, m.StakeTotal, m.LedgerEntries, m.LedgerAmount,
			m.SettlementRuns, m.SettlementBets, m.SettlementDuration)
	}
	return m
}

func (m *Ledger) BetPlaced(result string, stake int64) {
	if m == nil {
		return
	}
	m.BetsPlaced.WithLabelValues(result).Inc()
	if result == "ok" {
		m.StakeTotal.Add(float64(stake))
	}
}

func (m *Ledger) Entry(kind string, amount int64) {
	if m == nil {
		return
	}
	if amount < 0 {
		amount = -amount
	}
	m.LedgerEntries.WithLabelValues(kind).Inc()
	m.LedgerAmount.WithLabelValues(kind).Add(float64(amount))
}

func (m *Ledger) BetResolved(status string) {
	if m == nil {
		return
	}
	m.SettlementBets.WithLabelValues(status).Inc()
}

func (m *Ledger) SettlementRun(op, outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.SettlementRuns.WithLabelValues(op, outcome).Inc()
	m.SettlementDuration.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

// Pipeline cobre os workers (relay e notificação), no estilo de callbacks
// do processor de odds: contadores simples por estágio
type Pipeline struct {
	Consumed  prometheus.Counter
	Published prometheus.Counter
	Errors    *prometheus.CounterVec
}

func NewPipeline(reg prometheus.Registerer, prefix string) *Pipeline {
	p := &Pipeline{
		Consumed:  prometheus.NewCounter(prometheus.CounterOpts{Name: prefix + "_messages_consumed_total", Help: "mensagens consumidas"}),
		Published: prometheus.NewCounter(prometheus.CounterOpts{Name: prefix + "_messages_published_total", Help: "mensagens publicadas"}),
		Errors:    prometheus.NewCounterVec(prometheus.CounterOpts{Name: prefix + "_errors_total", Help: "erros por estágio"}, []string{"stage"}),
	}
	if reg != nil {
		reg.MustRegister(p.Consumed, p.Published, p.Errors)
	}
	return p
}

func (p *Pipeline) OnConsumed() {
	if p != nil {
		p.Consumed.Inc()
	}
}

func (p *Pipeline) OnPublished(n int) {
	if p != nil {
		p.Published.Add(float64(n))
	}
}

func (p *Pipeline) OnError(stage string) {
	if p != nil {
		p.Errors.WithLabelValues(stage).Inc()
	}
}
