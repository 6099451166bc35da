package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ⭐ SSOT: Prometheus 지표는 여기서만 정의/등록
var (
	OrdersSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "orbit_orders_submitted_total", Help: "Orders submitted to the gateway"},
		[]string{"role"},
	)
	OrderSubmitFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "orbit_order_submit_failures_total", Help: "Submissions that returned no handle"},
		[]string{"role"},
	)
	StopReplacements = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "orbit_stop_replacements_total", Help: "Stop replacement requests by outcome"},
		[]string{"outcome"}, // immediate, deferred, collapsed, confirmed, failed
	)
	EmergencyFlattens = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "orbit_emergency_flatten_total", Help: "Positions flattened because they were left unprotected"},
	)
	SignalsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "orbit_signals_published_total", Help: "Signals published on the bus"},
		[]string{"type"},
	)
	SignalHandlerPanics = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "orbit_signal_handler_panics_total", Help: "Recovered panics in signal handlers"},
		[]string{"type"},
	)
	PositionsClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "orbit_positions_closed_total", Help: "Closed positions by reason"},
		[]string{"reason"},
	)
	OpenPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "orbit_open_positions", Help: "Positions currently in the ledger"},
	)
	PendingStopReplacements = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "orbit_pending_stop_replacements", Help: "Stops waiting for cancel confirmation"},
	)
	RemoteCommands = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "orbit_remote_commands_total", Help: "Remote commands by action and outcome"},
		[]string{"action", "outcome"},
	)
	RelayMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "orbit_relay_messages_total", Help: "Relayed signal envelopes by transport and outcome"},
		[]string{"transport", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		OrdersSubmitted,
		OrderSubmitFailures,
		StopReplacements,
		EmergencyFlattens,
		SignalsPublished,
		SignalHandlerPanics,
		PositionsClosed,
		OpenPositions,
		PendingStopReplacements,
		RemoteCommands,
		RelayMessages,
	)
}

// Handler returns the /metrics handler
func Handler() http.Handler {
	return promhttp.Handler()
}
