package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gomssqlmcp_build_info",
		Help: "Build information of gomssqlmcp.",
	}, []string{"version"})

	ToolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gomssqlmcp_tool_calls_total", Help: "Tool invocations by tool and result (ok, error).",
	}, []string{"tool", "result"})
	ToolDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gomssqlmcp_tool_call_duration_seconds",
		Help:    "Tool invocation latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"tool"})

	ConnectAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gomssqlmcp_connect_attempts_total", Help: "Session connect attempts by result (ok, invalid, error).",
	}, []string{"result"})
	ReleaseErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gomssqlmcp_session_release_errors_total", Help: "Errors closing a session handle.",
	})
	SessionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gomssqlmcp_session_status", Help: "Current session status (0 disconnected, 1 connecting, 2 connected, 3 failed).",
	})

	QueryErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gomssqlmcp_query_errors_total", Help: "Failed statements by error kind.",
	}, []string{"kind"})
	QuerySlotsInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gomssqlmcp_query_slots_in_use", Help: "Statements currently holding a query slot.",
	})
)
