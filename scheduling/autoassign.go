package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/resource-scheduler/generic"
	"github.com/warp/resource-scheduler/logger"
	"github.com/warp/resource-scheduler/metrics"
)

// =============================================================================
// RESULT TYPES
// =============================================================================

type AutoAssignOptions struct {
	// AllowPriorityRescheduling lets a task push lower-priority assignments
	// on its chosen resource forward in time.
	AllowPriorityRescheduling bool
}

type ResourceSuggestion struct {
	Resource            ResourceSummary     `json:"resource"`
	ConflictTypes       []string            `json:"conflict_types"`
	BlockingAssignments []AssignmentSummary `json:"blocking_assignments"`
}

// Suggestion lists, for an unplaced task, the resources that were blocked
// only by lower-priority work.
type Suggestion struct {
	Task      TaskSummary          `json:"task"`
	Resources []ResourceSuggestion `json:"resources"`
}

type WindowSummary struct {
	StartsAt string `json:"starts_at"`
	EndsAt   string `json:"ends_at"`
}

func summarizeWindow(w generic.Window) WindowSummary {
	return WindowSummary{StartsAt: w.Start.Format(SummaryTimeLayout), EndsAt: w.End.Format(SummaryTimeLayout)}
}

// Reschedule records one displaced assignment.
type Reschedule struct {
	AssignmentID      generic.AssignmentID `json:"assignment_id"`
	TaskID            generic.TaskID       `json:"task_id"`
	ResourceID        generic.ResourceID   `json:"resource_id"`
	DisplacedByTaskID generic.TaskID       `json:"displaced_by_task_id"`
	Previous          WindowSummary        `json:"previous"`
	New               WindowSummary        `json:"new"`
}

type AutoAssignResult struct {
	RunID       string       `json:"run_id"`
	Assigned    int          `json:"assigned"`
	Skipped     int          `json:"skipped"`
	Suggestions []Suggestion `json:"suggestions"`
	Rescheduled []Reschedule `json:"rescheduled"`
}

// =============================================================================
// AUTO-ASSIGNER
// =============================================================================

// AutoAssigner places every unassigned task on the least utilized qualified
// resource that can take it, highest priority first.
type AutoAssigner struct {
	Store       generic.TxStore
	Detector    *Detector
	Utilization *UtilizationCalculator
	Resolver    *Resolver
	Metrics     metrics.Sink
	Logger      logger.Logger

	// SearchWindowDays bounds how far a displaced assignment may move.
	SearchWindowDays int
}

func NewAutoAssigner(store generic.TxStore, detector *Detector, util *UtilizationCalculator, resolver *Resolver) *AutoAssigner {
	return &AutoAssigner{
		Store:            store,
		Detector:         detector,
		Utilization:      util,
		Resolver:         resolver,
		Metrics:          metrics.NopSink{},
		Logger:           logger.NopLogger{},
		SearchWindowDays: DefaultPeriodSearch().SearchWindowDays,
	}
}

// placement is the outcome of one task.
type placement struct {
	assigned    bool
	rescheduled []Reschedule
	suggestions []ResourceSuggestion
}

// Run processes the unassigned tasks. Each task is placed in its own
// transaction; a run that assigns some tasks and skips others succeeds.
// When the run stops early, the result still lists the tasks already
// committed and is returned together with the error.
func (s *AutoAssigner) Run(ctx context.Context, opts AutoAssignOptions) (*AutoAssignResult, error) {
	started := time.Now()
	result := &AutoAssignResult{
		RunID:       uuid.NewString(),
		Suggestions: []Suggestion{},
		Rescheduled: []Reschedule{},
	}

	tasks, err := s.Store.ListUnassignedTasks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list unassigned tasks: %w", err)
	}
	generic.SortTasksByPriority(tasks)

	for _, task := range tasks {
		if err := ctx.Err(); err != nil {
			return s.finish(result, started), err
		}

		var p placement
		err := s.Store.WithTx(ctx, func(tx generic.Store) error {
			var err error
			p, err = s.place(ctx, tx, task, opts)
			return err
		})
		if errors.Is(err, generic.ErrPlacementFailed) {
			s.Logger.Warnf("task %d: %v", task.ID, err)
			p = placement{suggestions: p.suggestions}
		} else if err != nil {
			return s.finish(result, started), fmt.Errorf("failed to place task %d: %w", task.ID, err)
		}

		if p.assigned {
			result.Assigned++
			result.Rescheduled = append(result.Rescheduled, p.rescheduled...)
			s.Metrics.RecordPlacement(metrics.OutcomeAssigned)
			s.Metrics.RecordReschedule(len(p.rescheduled))
			continue
		}
		result.Skipped++
		s.Metrics.RecordPlacement(metrics.OutcomeSkipped)
		if len(p.suggestions) > 0 {
			result.Suggestions = append(result.Suggestions, Suggestion{
				Task:      SummarizeTask(task),
				Resources: p.suggestions,
			})
		}
	}

	return s.finish(result, started), nil
}

func (s *AutoAssigner) finish(result *AutoAssignResult, started time.Time) *AutoAssignResult {
	s.Metrics.RecordRun(time.Since(started))
	s.Logger.Infof("run %s: assigned=%d skipped=%d suggestions=%d rescheduled=%d",
		result.RunID, result.Assigned, result.Skipped, len(result.Suggestions), len(result.Rescheduled))
	return result
}

func (s *AutoAssigner) place(ctx context.Context, tx generic.Store, task generic.Task, opts AutoAssignOptions) (placement, error) {
	var p placement
	w, ok := task.Window()
	if !ok {
		return p, nil
	}

	detector := s.Detector.WithRepository(tx)
	resolver := s.Resolver.WithRepository(tx)
	util := s.Utilization.WithRepository(tx)

	candidates, err := tx.FindResourcesMatching(ctx, task.Requirements)
	if err != nil {
		return p, fmt.Errorf("failed to match resources: %w", err)
	}
	if len(candidates) == 0 {
		return p, nil
	}
	usage, err := util.UtilizationByResource(ctx, w)
	if err != nil {
		return p, err
	}
	RankByUtilization(candidates, usage)

	for _, candidate := range candidates {
		report, err := detector.Detect(ctx, candidate, w, decimal.NullDecimal{}, nil)
		if err != nil {
			return p, err
		}
		if !report.HasConflicts() {
			if err := s.assign(ctx, tx, task, candidate); err != nil {
				return p, err
			}
			p.assigned = true
			return p, nil
		}

		blocking, err := blockingAssignments(ctx, tx, report, task)
		if err != nil {
			return p, err
		}
		if len(blocking) == 0 {
			continue
		}

		if opts.AllowPriorityRescheduling {
			moved, ok, err := s.displace(ctx, tx, detector, resolver, candidate, w, task, report, blocking)
			if err != nil {
				return p, err
			}
			if ok {
				if err := s.assign(ctx, tx, task, candidate); err != nil {
					return p, err
				}
				p.assigned = true
				p.rescheduled = moved
				return p, nil
			}
		}

		summaries := make([]AssignmentSummary, len(blocking))
		for i, b := range blocking {
			summaries[i] = SummarizeAssignment(b)
		}
		p.suggestions = append(p.suggestions, ResourceSuggestion{
			Resource:            SummarizeResource(candidate, usage),
			ConflictTypes:       typeStrings(report.Types()),
			BlockingAssignments: summaries,
		})
	}
	return p, nil
}

func (s *AutoAssigner) assign(ctx context.Context, tx generic.Store, task generic.Task, resource generic.Resource) error {
	a, err := tx.CreateAssignment(ctx, generic.TaskAssignment{
		TaskID:     task.ID,
		ResourceID: resource.ID,
		Source:     generic.SourceAutomated,
	})
	if err != nil {
		return fmt.Errorf("failed to create assignment: %w", err)
	}
	s.Logger.Debugw("task assigned", map[string]any{
		"task_id":       task.ID,
		"resource_id":   resource.ID,
		"assignment_id": a.ID,
	})
	return nil
}

// displace moves every blocking assignment to its next free period on the
// same resource, outside the task window, then re-checks the placement. It
// does nothing when the placement would still conflict after moving them.
func (s *AutoAssigner) displace(
	ctx context.Context,
	tx generic.Store,
	detector *Detector,
	resolver *Resolver,
	resource generic.Resource,
	w generic.Window,
	task generic.Task,
	report *ConflictReport,
	blocking []generic.TaskAssignment,
) ([]Reschedule, bool, error) {
	if report.Has(ConflictUnavailable) {
		return nil, false, nil
	}

	ids := make([]generic.AssignmentID, len(blocking))
	for i, b := range blocking {
		ids[i] = b.ID
	}
	residual, err := detector.detect(ctx, resource, w, decimal.NullDecimal{}, ids)
	if err != nil {
		return nil, false, err
	}
	if residual.HasConflicts() {
		return nil, false, nil
	}

	avoid := []generic.Window{w}
	plans := make([]Reschedule, 0, len(blocking))
	targets := make([]generic.Window, 0, len(blocking))
	for _, b := range blocking {
		current, ok := b.EffectiveWindow()
		if !ok {
			return nil, false, nil
		}
		next, found, err := resolver.NextFreePeriod(ctx, resource, current, b.AllocationRatio, ids, avoid, s.SearchWindowDays)
		if err != nil {
			return nil, false, err
		}
		if !found {
			return nil, false, nil
		}
		avoid = append(avoid, next)
		targets = append(targets, next)
		plans = append(plans, Reschedule{
			AssignmentID:      b.ID,
			TaskID:            b.TaskID,
			ResourceID:        resource.ID,
			DisplacedByTaskID: task.ID,
			Previous:          summarizeWindow(current),
			New:               summarizeWindow(next),
		})
	}

	for i, plan := range plans {
		if err := tx.UpdateAssignmentWindow(ctx, plan.AssignmentID, targets[i]); err != nil {
			return nil, false, fmt.Errorf("failed to reschedule assignment %d: %w", plan.AssignmentID, err)
		}
	}

	after, err := detector.Detect(ctx, resource, w, decimal.NullDecimal{}, nil)
	if err != nil {
		return nil, false, err
	}
	if after.HasConflicts() {
		return nil, false, generic.ErrPlacementFailed
	}
	return plans, true, nil
}

// blockingAssignments returns the double-booked or overloaded assignments
// whose task has strictly lower priority than task.
func blockingAssignments(ctx context.Context, repo generic.Repository, report *ConflictReport, task generic.Task) ([]generic.TaskAssignment, error) {
	ids := report.AssignmentIDs(ConflictDoubleBooked, ConflictOverloaded)
	if len(ids) == 0 {
		return nil, nil
	}
	related, err := repo.GetAssignments(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load conflicting assignments: %w", err)
	}
	rank := task.Priority.Rank()
	var out []generic.TaskAssignment
	for _, a := range related {
		if a.Task != nil && a.Task.Priority.Rank() > rank {
			out = append(out, a)
		}
	}
	return out, nil
}
