package observability

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/signalsfoundry/safespaces/model"
)

// EngineCollector bundles Prometheus metrics for the geofence engine and the
// notification dispatcher. It satisfies both core.EngineMetricsRecorder and
// notify.MetricsRecorder.
type EngineCollector struct {
	gatherer prometheus.Gatherer

	TrackedZones        prometheus.Gauge
	Transitions         *prometheus.CounterVec
	DeadlineChecks      *prometheus.CounterVec
	NotificationsSent   *prometheus.CounterVec
	NotificationsFailed *prometheus.CounterVec
}

// NewEngineCollector registers engine metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewEngineCollector(reg prometheus.Registerer) (*EngineCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	tracked, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "safespaces_tracked_zones",
		Help: "Current number of zones tracked by the geofence engine.",
	}), "safespaces_tracked_zones")
	if err != nil {
		return nil, err
	}

	transitions, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "safespaces_transitions_total",
		Help: "Membership transitions that produced a notification, labeled by kind and caution.",
	}, []string{"kind", "caution"}), "safespaces_transitions_total")
	if err != nil {
		return nil, err
	}

	deadlines, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "safespaces_deadline_checks_total",
		Help: "Deadline checks evaluated, labeled by deadline kind and outcome.",
	}, []string{"kind", "outcome"}), "safespaces_deadline_checks_total")
	if err != nil {
		return nil, err
	}

	sent, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "safespaces_notifications_sent_total",
		Help: "Notification halves delivered, labeled by channel.",
	}, []string{"channel"}), "safespaces_notifications_sent_total")
	if err != nil {
		return nil, err
	}

	failed, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "safespaces_notifications_failed_total",
		Help: "Notification halves that were not delivered, labeled by channel and reason.",
	}, []string{"channel", "reason"}), "safespaces_notifications_failed_total")
	if err != nil {
		return nil, err
	}

	return &EngineCollector{
		gatherer:            gatherer,
		TrackedZones:        tracked,
		Transitions:         transitions,
		DeadlineChecks:      deadlines,
		NotificationsSent:   sent,
		NotificationsFailed: failed,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *EngineCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetTrackedZones updates the tracked zones gauge.
func (c *EngineCollector) SetTrackedZones(n int) {
	if c == nil || c.TrackedZones == nil {
		return
	}
	c.TrackedZones.Set(float64(n))
}

// ObserveTransition counts an entry or exit notification.
func (c *EngineCollector) ObserveTransition(kind model.NotificationKind, caution bool) {
	if c == nil || c.Transitions == nil {
		return
	}
	c.Transitions.WithLabelValues(string(kind), strconv.FormatBool(caution)).Inc()
}

// ObserveDeadlineCheck counts one evaluated deadline check.
func (c *EngineCollector) ObserveDeadlineCheck(kind model.NotificationKind, outcome string) {
	if c == nil || c.DeadlineChecks == nil {
		return
	}
	c.DeadlineChecks.WithLabelValues(string(kind), outcome).Inc()
}

// ObserveSent counts a delivered notification half.
func (c *EngineCollector) ObserveSent(channel string) {
	if c == nil || c.NotificationsSent == nil {
		return
	}
	c.NotificationsSent.WithLabelValues(channel).Inc()
}

// ObserveFailed counts an undelivered notification half.
func (c *EngineCollector) ObserveFailed(channel, reason string) {
	if c == nil || c.NotificationsFailed == nil {
		return
	}
	c.NotificationsFailed.WithLabelValues(channel, reason).Inc()
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
