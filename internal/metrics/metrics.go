// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tickchat_online_users",
		Help: "Number of usernames with a live connection",
	})

	RegistryEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tickchat_registry_evictions_total",
		Help: "Connections evicted from the registry after a failed send",
	})

	InboundEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tickchat_inbound_events_total",
		Help: "Inbound client events by type and outcome",
	}, []string{"type", "outcome"})

	EventProcessingDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tickchat_event_processing_seconds",
		Help:    "Time to process each inbound event type",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})

	StatusTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tickchat_status_transitions_total",
		Help: "Messages entering each delivery status",
	}, []string{"status"})
)

func init() {
	prometheus.MustRegister(OnlineUsers)
	prometheus.MustRegister(RegistryEvictions)
	prometheus.MustRegister(InboundEvents)
	prometheus.MustRegister(EventProcessingDuration)
	prometheus.MustRegister(StatusTransitions)
}
