package chatstore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var persistDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name: "warden_store_persist_duration_sec",
	Help: "Duration of full state persists to the storage backend",
})

var persistErrorCount = promauto.NewCounter(prometheus.CounterOpts{
	Name: "warden_store_persist_errors",
	Help: "Number of state persists which failed (not retried)",
})

var loadErrorCount = promauto.NewCounter(prometheus.CounterOpts{
	Name: "warden_store_load_errors",
	Help: "Number of state loads which failed and fell back to an empty store",
})

var chatsTracked = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "warden_store_chats",
	Help: "Number of chats with configuration in the store",
})
