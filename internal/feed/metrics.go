package feed

import "github.com/prometheus/client_golang/prometheus"

var (
	droppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gatewayd",
		Subsystem: "feed",
		Name:      "dropped_events_total",
		Help:      "Terminal feed events dropped on full queues",
	})

	distFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gatewayd",
		Subsystem: "feed",
		Name:      "distributor_failures_total",
		Help:      "Failed cross-replica publishes",
	})
)

func init() {
	prometheus.MustRegister(droppedTotal, distFailuresTotal)
}
