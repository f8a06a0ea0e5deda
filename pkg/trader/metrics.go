package trader

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	mtxEntries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trader_entries_total",
			Help: "Entry orders placed",
		},
	)

	mtxExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_exits_total",
			Help: "Closed positions split by exit reason",
		},
		[]string{"reason"},
	)

	mtxOpenSlots = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "trader_open_slots",
			Help: "Occupied position slots",
		},
	)

	mtxRealizedPnL = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "trader_realized_pnl",
			Help: "Cumulative realized PnL in quote currency since start",
		},
	)

	mtxAdmissionsDenied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_admissions_denied_total",
			Help: "Entry admissions denied split by cause",
		},
		[]string{"cause"},
	)

	mtxGatewayErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_gateway_errors_total",
			Help: "Gateway failures split by kind",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(
		mtxEntries,
		mtxExits,
		mtxOpenSlots,
		mtxRealizedPnL,
		mtxAdmissionsDenied,
		mtxGatewayErrors,
	)
}
