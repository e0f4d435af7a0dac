package consumer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var consumedCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_kafka_consumed",
	Help: "Number of inbound kafka records consumed, by event kind",
}, []string{"kind"})

var producedCount = promauto.NewCounter(prometheus.CounterOpts{
	Name: "warden_kafka_produced",
	Help: "Number of decision records produced",
})

var producedErrorCount = promauto.NewCounter(prometheus.CounterOpts{
	Name: "warden_kafka_produce_errors",
	Help: "Number of failed decision produce batches",
})
