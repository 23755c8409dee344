package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Ledger reúne os contadores do núcleo contábil
// Os métodos casam com os callbacks OnX dos engines
type Ledger struct {
	BetsIngested  *prometheus.CounterVec
	Matches       prometheus.Counter
	RiskComputed  *prometheus.CounterVec
	Settlements   *prometheus.CounterVec
	LedgerEntries *prometheus.CounterVec
	Consumed      prometheus.Counter
	Errors        *prometheus.CounterVec
	HTTPDuration  *prometheus.HistogramVec
}

func NewLedger(reg prometheus.Registerer) *Ledger {
	m := &Ledger{
		BetsIngested:  prometheus.NewCounterVec(prometheus.CounterOpts{Name: "surebet_bets_ingested_total", Help: "apostas recebidas por resultado"}, []string{"result"}),
		Matches:       prometheus.NewCounter(prometheus.CounterOpts{Name: "surebet_matches_total", Help: "apostas anexadas a surebets"}),
		RiskComputed:  prometheus.NewCounterVec(prometheus.CounterOpts{Name: "surebet_risk_computed_total", Help: "cálculos de risco por classificação"}, []string{"classification"}),
		Settlements:   prometheus.NewCounterVec(prometheus.CounterOpts{Name: "surebet_settlements_total", Help: "liquidações por resultado"}, []string{"result"}),
		LedgerEntries: prometheus.NewCounterVec(prometheus.CounterOpts{Name: "surebet_ledger_entries_total", Help: "linhas gravadas no ledger"}, []string{"type"}),
		Consumed:      prometheus.NewCounter(prometheus.CounterOpts{Name: "surebet_worker_messages_consumed_total", Help: "mensagens consumidas do feed"}),
		Errors:        prometheus.NewCounterVec(prometheus.CounterOpts{Name: "surebet_errors_total", Help: "erros por estágio"}, []string{"stage"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "surebet_http_request_duration_seconds",
			Help:    "latência das rotas HTTP",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "code"}),
	}
	reg.MustRegister(m.BetsIngested, m.Matches, m.RiskComputed, m.Settlements, m.LedgerEntries, m.Consumed, m.Errors, m.HTTPDuration)
	return m
}

func (m *Ledger) Ingested(result string) { m.BetsIngested.WithLabelValues(result).Inc() }

func (m *Ledger) Matched(_ string, attached int) { m.Matches.Add(float64(attached)) }

func (m *Ledger) Risk(classification string) { m.RiskComputed.WithLabelValues(classification).Inc() }

func (m *Ledger) Settled(entries int) {
	m.Settlements.WithLabelValues("ok").Inc()
	m.LedgerEntries.WithLabelValues("bet_result").Add(float64(entries))
}

func (m *Ledger) Posted(entryType string) { m.LedgerEntries.WithLabelValues(entryType).Inc() }

// Failed conta falhas; liquidação com erro também entra em Settlements
func (m *Ledger) Failed(component, stage string) {
	m.Errors.WithLabelValues(stage).Inc()
	if component == "settlement" && stage != "publish" {
		m.Settlements.WithLabelValues("failed").Inc()
	}
}
