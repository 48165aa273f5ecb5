package activitypub

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	activitiesCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mbin",
		Subsystem: "inbox",
		Name:      "activities_total",
		Help:      "Inbound activities by type and outcome.",
	}, []string{"type", "outcome"})

	rejectedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mbin",
		Subsystem: "inbox",
		Name:      "errors_total",
		Help:      "Inbound activities that failed, by error kind.",
	}, []string{"kind"})

	deliveriesCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mbin",
		Subsystem: "delivery",
		Name:      "attempts_total",
		Help:      "Outbound delivery attempts by result.",
	}, []string{"result"})

	announcesCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mbin",
		Subsystem: "inbox",
		Name:      "announce_deliveries_enqueued_total",
		Help:      "Announce deliveries enqueued for local subscribers.",
	})
)

func init() {
	prometheus.MustRegister(activitiesCounter, rejectedCounter, deliveriesCounter, announcesCounter)
}

func recordActivity(t ActivityType, outcome string) {
	activitiesCounter.WithLabelValues(string(t), outcome).Inc()
}

func recordError(err error) {
	rejectedCounter.WithLabelValues(errorKind(err)).Inc()
}

func recordDelivery(result string) {
	deliveriesCounter.WithLabelValues(result).Inc()
}
