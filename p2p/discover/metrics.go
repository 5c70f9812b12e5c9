package discover

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// metrics holds the four counters the protocol core exposes. Registration
// happens lazily on first use (registerMetricsOnce) so importing this
// package never requires a running Prometheus registry.
type metrics struct {
	requestsOutgoing *prometheus.CounterVec
	requestsIncoming prometheus.Counter
	unsolicited      prometheus.Counter
	enrAutoUpdate    prometheus.Counter
}

var (
	globalMetrics     *metrics
	registerMetricsOnce sync.Once
)

func newMetrics() *metrics {
	registerMetricsOnce.Do(func() {
		globalMetrics = &metrics{
			requestsOutgoing: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "discv5_message_requests_outgoing_total",
				Help: "Outgoing discv5 call attempts, labeled by whether a response was received.",
			}, []string{"response"}),
			requestsIncoming: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "discv5_message_requests_incoming_total",
				Help: "Incoming discv5 requests handled.",
			}),
			unsolicited: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "discv5_unsolicited_messages_total",
				Help: "Responses received that matched no active call.",
			}),
			enrAutoUpdate: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "discv5_enr_auto_update_total",
				Help: "Local ENR updates triggered by the IP-vote majority loop.",
			}),
		}
		prometheus.MustRegister(
			globalMetrics.requestsOutgoing,
			globalMetrics.requestsIncoming,
			globalMetrics.unsolicited,
			globalMetrics.enrAutoUpdate,
		)
	})
	return globalMetrics
}
