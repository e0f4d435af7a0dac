package escalation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var violationCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_escalation_violations",
	Help: "Number of violations recorded, by resulting outcome",
}, []string{"outcome"})
