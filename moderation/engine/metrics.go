package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("warden-engine")

var eventProcessDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name: "warden_event_duration_sec",
	Help: "Total duration of moderation event processing",
}, []string{"type"})

var eventProcessCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_event_processed",
	Help: "Number of events processed",
}, []string{"type"})

var eventErrorCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_event_errors",
	Help: "Number of events which failed processing (including rejected commands)",
}, []string{"type"})

var actionCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_actions",
	Help: "Number of actions prescribed, by kind",
}, []string{"kind"})

var notifyCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_notifications",
	Help: "Number of audit notifications, by result",
}, []string{"result"})
