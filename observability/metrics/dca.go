package metrics

import (
	"math/big"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type DCAMetrics struct {
	epochsExecuted    prometheus.Counter
	executionFailures *prometheus.CounterVec
	tokensBought      prometheus.Counter
	yieldConverted    prometheus.Counter
	deposits          prometheus.Counter
	withdrawals       prometheus.Counter
	totalPrincipal    prometheus.Gauge
	pendingAllocation prometheus.Gauge
	tokenBalance      prometheus.Gauge
}

var (
	dcaOnce     sync.Once
	dcaRegistry *DCAMetrics
)

func DCA() *DCAMetrics {
	dcaOnce.Do(func() {
		dcaRegistry = &DCAMetrics{
			epochsExecuted: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "dca_epochs_executed_total",
				Help: "Count of successfully executed conversion epochs.",
			}),
			executionFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "dca_execution_failures_total",
				Help: "Count of failed epoch executions by reason.",
			}, []string{"reason"}),
			tokensBought: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "dca_tokens_bought_total",
				Help: "Cumulative target tokens bought across all epochs.",
			}),
			yieldConverted: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "dca_yield_converted_total",
				Help: "Cumulative asset-denominated yield converted across all epochs.",
			}),
			deposits: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "dca_deposits_total",
				Help: "Count of principal deposits.",
			}),
			withdrawals: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "dca_withdrawals_total",
				Help: "Count of withdrawals and zero-share claims.",
			}),
			totalPrincipal: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "dca_total_principal",
				Help: "Asset-denominated principal currently enrolled.",
			}),
			pendingAllocation: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "dca_pending_allocation",
				Help: "Rounding remainder tokens awaiting redistribution.",
			}),
			tokenBalance: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "dca_token_balance",
				Help: "Target tokens held by the engine and not yet paid out.",
			}),
		}
		prometheus.MustRegister(
			dcaRegistry.epochsExecuted,
			dcaRegistry.executionFailures,
			dcaRegistry.tokensBought,
			dcaRegistry.yieldConverted,
			dcaRegistry.deposits,
			dcaRegistry.withdrawals,
			dcaRegistry.totalPrincipal,
			dcaRegistry.pendingAllocation,
			dcaRegistry.tokenBalance,
		)
	})
	return dcaRegistry
}

func (m *DCAMetrics) ObserveEpochExecuted(yieldConverted, tokensBought *big.Int) {
	if m == nil {
		return
	}
	m.epochsExecuted.Inc()
	m.yieldConverted.Add(approxFloat(yieldConverted))
	m.tokensBought.Add(approxFloat(tokensBought))
}

func (m *DCAMetrics) ObserveExecutionFailure(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.executionFailures.WithLabelValues(reason).Inc()
}

func (m *DCAMetrics) ObserveDeposit() {
	if m == nil {
		return
	}
	m.deposits.Inc()
}

func (m *DCAMetrics) ObserveWithdrawal() {
	if m == nil {
		return
	}
	m.withdrawals.Inc()
}

// SetLedgerGauges mirrors the global ledger head after a state change.
func (m *DCAMetrics) SetLedgerGauges(totalPrincipal, pendingAllocation, tokenBalance *big.Int) {
	if m == nil {
		return
	}
	m.totalPrincipal.Set(approxFloat(totalPrincipal))
	m.pendingAllocation.Set(approxFloat(pendingAllocation))
	m.tokenBalance.Set(approxFloat(tokenBalance))
}

// approxFloat degrades gracefully for amounts beyond float64 precision;
// gauges are operational signals, not accounting sources of truth.
func approxFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
