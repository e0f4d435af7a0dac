package flood

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var floodFlagCount = promauto.NewCounter(prometheus.CounterOpts{
	Name: "warden_flood_flags",
	Help: "Number of message bursts flagged by the flood detector",
})
