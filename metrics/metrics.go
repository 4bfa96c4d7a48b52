// Package metrics records scheduling activity.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Sink receives scheduling events. Implementations must be safe for
// concurrent use.
type Sink interface {
	RecordConflicts(types []string)
	RecordPlacement(outcome string)
	RecordReschedule(count int)
	RecordRun(d time.Duration)
}

// Placement outcomes.
const (
	OutcomeAssigned = "assigned"
	OutcomeSkipped  = "skipped"
)

// NopSink discards everything.
type NopSink struct{}

func (NopSink) RecordConflicts([]string) {}
func (NopSink) RecordPlacement(string)   {}
func (NopSink) RecordReschedule(int)     {}
func (NopSink) RecordRun(time.Duration)  {}

// PromSink records scheduling events in Prometheus metrics.
type PromSink struct {
	conflicts   *prometheus.CounterVec
	placements  *prometheus.CounterVec
	rescheduled prometheus.Counter
	runs        prometheus.Histogram
}

// NewPromSink registers metrics on the default Prometheus registerer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	conflicts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_conflicts_detected_total",
		Help: "Conflicts found by the detector, by type",
	}, []string{"type"})
	placements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_task_placements_total",
		Help: "Auto-assign outcomes per task",
	}, []string{"outcome"})
	rescheduled := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_assignments_rescheduled_total",
		Help: "Lower-priority assignments moved to make room",
	})
	runs := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "scheduler_auto_assign_duration_seconds",
		Help:    "Duration of auto-assign runs",
		Buckets: prometheus.DefBuckets,
	})

	var err error
	if conflicts, err = register(reg, conflicts); err != nil {
		return nil, err
	}
	if placements, err = register(reg, placements); err != nil {
		return nil, err
	}
	if rescheduled, err = register(reg, rescheduled); err != nil {
		return nil, err
	}
	if runs, err = register(reg, runs); err != nil {
		return nil, err
	}
	return &PromSink{conflicts: conflicts, placements: placements, rescheduled: rescheduled, runs: runs}, nil
}

// register reuses an already registered collector of the same shape.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (s *PromSink) RecordConflicts(types []string) {
	for _, t := range types {
		s.conflicts.WithLabelValues(t).Inc()
	}
}

func (s *PromSink) RecordPlacement(outcome string) {
	s.placements.WithLabelValues(outcome).Inc()
}

func (s *PromSink) RecordReschedule(count int) {
	if count > 0 {
		s.rescheduled.Add(float64(count))
	}
}

func (s *PromSink) RecordRun(d time.Duration) {
	s.runs.Observe(d.Seconds())
}
