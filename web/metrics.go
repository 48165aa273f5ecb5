package web

import "github.com/prometheus/client_golang/prometheus"

var ingressCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "mbin",
	Subsystem: "ingress",
	Name:      "requests_total",
	Help:      "Inbox POST requests by result.",
}, []string{"result"})

func init() {
	prometheus.MustRegister(ingressCounter)
}

func recordIngress(result string) {
	ingressCounter.WithLabelValues(result).Inc()
}
