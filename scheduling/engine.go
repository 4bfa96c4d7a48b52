package scheduling

import (
	"github.com/warp/resource-scheduler/generic"
	"github.com/warp/resource-scheduler/logger"
	"github.com/warp/resource-scheduler/metrics"
)

// Engine wires the scheduling components over one store.
type Engine struct {
	Detector     *Detector
	Utilization  *UtilizationCalculator
	Resolver     *Resolver
	AutoAssigner *AutoAssigner
}

// NewEngine builds all components. A nil sink or logger disables that concern.
func NewEngine(store generic.TxStore, sink metrics.Sink, log logger.Logger) *Engine {
	if sink == nil {
		sink = metrics.NopSink{}
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	detector := NewDetector(store)
	detector.Metrics = sink
	detector.Logger = log

	util := NewUtilizationCalculator(store)
	resolver := NewResolver(store, detector, util)

	assigner := NewAutoAssigner(store, detector, util, resolver)
	assigner.Metrics = sink
	assigner.Logger = log

	return &Engine{
		Detector:     detector,
		Utilization:  util,
		Resolver:     resolver,
		AutoAssigner: assigner,
	}
}
