// Package metrics provides Prometheus instrumentation for flag evaluation.
//
// All metrics are registered in a custom [prometheus.Registry] (not the global
// default) so that only flagfile metrics appear on the /metrics endpoint.
package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Load outcomes used as the "outcome" label of flagfile_config_loads_total.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Metrics holds all Prometheus collectors used by flagfile. Registry is set
// only for metrics created by New.
type Metrics struct {
	Registry *prometheus.Registry

	EvaluationsTotal *prometheus.CounterVec
	ConfigLoadsTotal *prometheus.CounterVec
	WatchEventsTotal prometheus.Counter
}

func newCollectors() *Metrics {
	return &Metrics{
		EvaluationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flagfile_flag_evaluations_total",
			Help: "Total number of flag evaluations.",
		}, []string{"reason", "result"}),

		ConfigLoadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flagfile_config_loads_total",
			Help: "Total number of configuration loads by outcome.",
		}, []string{"outcome"}),

		WatchEventsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flagfile_watch_events_total",
			Help: "Total number of file system events seen for the configuration file.",
		}),
	}
}

// New creates and registers all flagfile metrics in a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := newCollectors()
	m.Registry = reg
	reg.MustRegister(
		m.EvaluationsTotal,
		m.ConfigLoadsTotal,
		m.WatchEventsTotal,
	)

	return m
}

// Register creates the flagfile collectors in reg. Collectors that an earlier
// Register call already put there are reused, so several clients sharing one
// registry count into the same series.
func Register(reg prometheus.Registerer) (*Metrics, error) {
	m := newCollectors()

	var err error
	if m.EvaluationsTotal, err = registerOrReuse(reg, m.EvaluationsTotal); err != nil {
		return nil, fmt.Errorf("register evaluations counter: %w", err)
	}
	if m.ConfigLoadsTotal, err = registerOrReuse(reg, m.ConfigLoadsTotal); err != nil {
		return nil, fmt.Errorf("register loads counter: %w", err)
	}
	if m.WatchEventsTotal, err = registerOrReuse(reg, m.WatchEventsTotal); err != nil {
		return nil, fmt.Errorf("register watch events counter: %w", err)
	}
	return m, nil
}

func registerOrReuse[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var registered prometheus.AlreadyRegisteredError
	if errors.As(err, &registered) {
		if existing, ok := registered.ExistingCollector.(C); ok {
			return existing, nil
		}
	}
	return c, err
}

// Handler returns an [http.Handler] that serves the metrics in m.Registry.
func (m *Metrics) Handler() http.Handler {
	return HandlerFor(m.Registry)
}

// HandlerFor serves the metrics gathered from g in the Prometheus text format.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// RecordEvaluation counts one evaluation by reason kind and result.
func (m *Metrics) RecordEvaluation(reason string, enabled bool) {
	m.EvaluationsTotal.WithLabelValues(reason, strconv.FormatBool(enabled)).Inc()
}

// RecordLoad counts a configuration load attempt.
func (m *Metrics) RecordLoad(err error) {
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeError
	}
	m.ConfigLoadsTotal.WithLabelValues(outcome).Inc()
}

// IncWatchEvents increments the watch event counter.
func (m *Metrics) IncWatchEvents() {
	m.WatchEventsTotal.Inc()
}
