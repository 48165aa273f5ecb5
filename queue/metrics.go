package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"
)

var (
	messagesCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mbin",
		Subsystem: "consumer",
		Name:      "messages_total",
		Help:      "Kafka messages finished by topic and result.",
	}, []string{"topic", "result"})

	retriesCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mbin",
		Subsystem: "consumer",
		Name:      "retries_total",
		Help:      "Retryable handler failures per topic.",
	}, []string{"topic"})

	publishedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mbin",
		Subsystem: "publisher",
		Name:      "messages_total",
		Help:      "Messages published per topic.",
	}, []string{"topic"})

	lastMessageGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "mbin",
		Subsystem: "consumer",
		Name:      "last_message_timestamp_seconds",
		Help:      "Unix timestamp of the most recent finished message per topic.",
	}, []string{"topic"})
)

func init() {
	prometheus.MustRegister(messagesCounter, retriesCounter, publishedCounter, lastMessageGauge)
}

func recordMessage(msg kafka.Message, result string) {
	messagesCounter.WithLabelValues(msg.Topic, result).Inc()
	if !msg.Time.IsZero() {
		lastMessageGauge.WithLabelValues(msg.Topic).Set(float64(msg.Time.Unix()))
	}
}

func recordRetry(topic string) {
	retriesCounter.WithLabelValues(topic).Inc()
}

func recordPublished(topic string) {
	publishedCounter.WithLabelValues(topic).Inc()
}
