package dispatch

import "github.com/prometheus/client_golang/prometheus"

var (
	retriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gatewayd",
			Subsystem: "dispatch",
			Name:      "retries_total",
			Help:      "Retry attempts after connect-class failures",
		},
		[]string{"backend"},
	)

	breakerRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gatewayd",
			Subsystem: "dispatch",
			Name:      "breaker_rejections_total",
			Help:      "Requests rejected by an open circuit breaker",
		},
		[]string{"backend"},
	)
)

func init() {
	prometheus.MustRegister(retriesTotal, breakerRejections)
}
