package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	CyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bbot_engine_cycles_total",
			Help: "Total number of completed engine cycles.",
		},
	)

	EligibleBots = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bbot_eligible_bots",
			Help: "Number of eligible bots seen in the last cycle.",
		},
	)

	TradesExecuted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bbot_trades_executed_total",
			Help: "Total number of simulated trades executed (by side and reason).",
		},
		[]string{"side", "reason"},
	)

	IndicatorRowsInserted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bbot_indicator_rows_inserted_total",
			Help: "Total number of indicator rows persisted (by symbol).",
		},
		[]string{"symbol"},
	)

	PriceFetchErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bbot_price_fetch_errors_total",
			Help: "Total number of failed price fetches that skipped a bot.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		CyclesTotal,
		EligibleBots,
		TradesExecuted,
		IndicatorRowsInserted,
		PriceFetchErrors,
	)
}
