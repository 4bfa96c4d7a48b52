package scheduling_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/resource-scheduler/generic"
	"github.com/warp/resource-scheduler/metrics"
	"github.com/warp/resource-scheduler/scheduling"
)

func (f *fixture) run(reschedule bool) *scheduling.AutoAssignResult {
	f.t.Helper()
	result, err := f.engine.AutoAssigner.Run(f.ctx, scheduling.AutoAssignOptions{AllowPriorityRescheduling: reschedule})
	require.NoError(f.t, err)
	return result
}

func (f *fixture) assignmentsOf(task generic.Task) []generic.TaskAssignment {
	f.t.Helper()
	all, err := f.store.ListAssignments(f.ctx)
	require.NoError(f.t, err)
	var out []generic.TaskAssignment
	for _, a := range all {
		if a.TaskID == task.ID {
			out = append(out, a)
		}
	}
	return out
}

func TestAutoAssign_QualifiedResource(t *testing.T) {
	// GIVEN: One welder and one unqualified resource, one open task
	f := newFixture(t)
	welding := f.qualification("Welding")
	welder := f.resource("Welder", decimal.NullDecimal{}, "")
	f.qualify(welder, welding, generic.LevelAdvanced)
	f.resource("Apprentice", decimal.NullDecimal{}, "")
	task := f.task("Weld frame", generic.PriorityMedium, ptr(day(2026, 3, 2)), ptr(day(2026, 3, 4)), requires(welding, generic.LevelIntermediate))

	// WHEN
	result := f.run(false)

	// THEN: The welder gets an automated assignment inheriting the task dates
	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, 1, result.Assigned)
	assert.Equal(t, 0, result.Skipped)
	assert.Empty(t, result.Suggestions)
	assert.Empty(t, result.Rescheduled)

	as := f.assignmentsOf(task)
	require.Len(t, as, 1)
	assert.Equal(t, welder.ID, as[0].ResourceID)
	assert.Equal(t, generic.SourceAutomated, as[0].Source)
	assert.Nil(t, as[0].StartsAt)
	assert.Nil(t, as[0].EndsAt)
	assert.False(t, as[0].AllocationRatio.Valid)

	w, ok := as[0].EffectiveWindow()
	require.True(t, ok)
	assert.Equal(t, window(day(2026, 3, 2), day(2026, 3, 4)), w)
}

func TestAutoAssign_BlockedByLowerPrioritySuggests(t *testing.T) {
	// GIVEN: A single resource held by a low-priority assignment
	f := newFixture(t)
	r := f.resource("Crane", decimal.NullDecimal{}, "")
	low := f.task("Tidy yard", generic.PriorityLow, ptr(day(2026, 3, 1)), ptr(day(2026, 3, 6)))
	blocker := f.assign(low, r, nil, nil, decimal.NullDecimal{})
	urgent := f.task("Lift generator", generic.PriorityUrgent, ptr(day(2026, 3, 3)), ptr(day(2026, 3, 5)))

	// WHEN: Rescheduling is not allowed
	result := f.run(false)

	// THEN: The task is skipped with a suggestion naming the blocker
	assert.Equal(t, 0, result.Assigned)
	assert.Equal(t, 1, result.Skipped)
	require.Len(t, result.Suggestions, 1)

	s := result.Suggestions[0]
	assert.Equal(t, urgent.ID, s.Task.ID)
	assert.Equal(t, "urgent", s.Task.Priority)
	require.Len(t, s.Resources, 1)
	assert.Equal(t, r.ID, s.Resources[0].Resource.ID)
	assert.Equal(t, []string{"double_booked", "overloaded"}, s.Resources[0].ConflictTypes)
	require.Len(t, s.Resources[0].BlockingAssignments, 1)
	assert.Equal(t, blocker.ID, s.Resources[0].BlockingAssignments[0].ID)
	assert.Equal(t, "Tidy yard", s.Resources[0].BlockingAssignments[0].TaskTitle)
	assert.Empty(t, f.assignmentsOf(urgent))
}

func TestAutoAssign_QualifiedResourceHeldByLowPriority(t *testing.T) {
	// GIVEN: The only intermediate welder is booked by low-priority work
	f := newFixture(t)
	welding := f.qualification("Welding")
	welder := f.resource("Welder", decimal.NullDecimal{}, "")
	f.qualify(welder, welding, generic.LevelIntermediate)
	chores := f.task("Sweep shop", generic.PriorityLow, ptr(day(2026, 3, 1)), ptr(day(2026, 3, 6)))
	blocker := f.assign(chores, welder, nil, nil, decimal.NullDecimal{})
	task := f.task("Weld frame", generic.PriorityHigh, ptr(day(2026, 3, 2)), ptr(day(2026, 3, 4)), requires(welding, generic.LevelIntermediate))

	// WHEN: Rescheduling is disabled
	result := f.run(false)

	// THEN: Skipped, with the low-priority booking reported as both conflicts
	assert.Equal(t, 0, result.Assigned)
	assert.Equal(t, 1, result.Skipped)
	require.Len(t, result.Suggestions, 1)
	s := result.Suggestions[0]
	assert.Equal(t, task.ID, s.Task.ID)
	require.Len(t, s.Resources, 1)
	assert.Equal(t, welder.ID, s.Resources[0].Resource.ID)
	assert.Equal(t, []string{"double_booked", "overloaded"}, s.Resources[0].ConflictTypes)
	require.Len(t, s.Resources[0].BlockingAssignments, 1)
	assert.Equal(t, blocker.ID, s.Resources[0].BlockingAssignments[0].ID)
	assert.Empty(t, f.assignmentsOf(task))
}

func TestAutoAssign_ReschedulesLowerPriority(t *testing.T) {
	// GIVEN: The same setup with rescheduling allowed
	f := newFixture(t)
	r := f.resource("Crane", decimal.NullDecimal{}, "")
	low := f.task("Tidy yard", generic.PriorityLow, nil, nil)
	blocker := f.assign(low, r, ptr(day(2026, 3, 1)), ptr(day(2026, 3, 6)), decimal.NullDecimal{})
	urgent := f.task("Lift generator", generic.PriorityUrgent, ptr(day(2026, 3, 3)), ptr(day(2026, 3, 5)))

	// WHEN
	result := f.run(true)

	// THEN: The blocker moves to the first free slot after the urgent window
	assert.Equal(t, 1, result.Assigned)
	assert.Equal(t, 0, result.Skipped)
	require.Len(t, result.Rescheduled, 1)

	moved := result.Rescheduled[0]
	assert.Equal(t, blocker.ID, moved.AssignmentID)
	assert.Equal(t, low.ID, moved.TaskID)
	assert.Equal(t, r.ID, moved.ResourceID)
	assert.Equal(t, urgent.ID, moved.DisplacedByTaskID)
	assert.Equal(t, "2026-03-01 00:00:00", moved.Previous.StartsAt)
	assert.Equal(t, "2026-03-06 00:00:00", moved.Previous.EndsAt)
	assert.Equal(t, "2026-03-05 00:00:00", moved.New.StartsAt)
	assert.Equal(t, "2026-03-10 00:00:00", moved.New.EndsAt)

	stored := f.assignmentsOf(low)
	require.Len(t, stored, 1)
	w, ok := stored[0].EffectiveWindow()
	require.True(t, ok)
	assert.Equal(t, window(day(2026, 3, 5), day(2026, 3, 10)), w)
	placed := f.assignmentsOf(urgent)
	require.Len(t, placed, 1)

	// AND: The resource is conflict-free over the urgent window
	report, err := f.engine.Detector.Detect(f.ctx, r, window(day(2026, 3, 3), day(2026, 3, 5)), decimal.NullDecimal{}, &placed[0].ID)
	require.NoError(t, err)
	assert.False(t, report.HasConflicts())
}

func TestAutoAssign_NoRescheduleWhenUnavailable(t *testing.T) {
	// GIVEN: The resource is also absent during the urgent window
	f := newFixture(t)
	r := f.resource("Crane", decimal.NullDecimal{}, "")
	low := f.task("Tidy yard", generic.PriorityLow, nil, nil)
	f.assign(low, r, ptr(day(2026, 3, 1)), ptr(day(2026, 3, 6)), decimal.NullDecimal{})
	f.absence(r, day(2026, 3, 4), day(2026, 3, 5))
	f.task("Lift generator", generic.PriorityUrgent, ptr(day(2026, 3, 3)), ptr(day(2026, 3, 5)))

	// WHEN
	result := f.run(true)

	// THEN: Nothing moves; the suggestion lists both conflict types
	assert.Equal(t, 0, result.Assigned)
	assert.Equal(t, 1, result.Skipped)
	assert.Empty(t, result.Rescheduled)
	require.Len(t, result.Suggestions, 1)
	assert.Equal(t, []string{"double_booked", "overloaded", "unavailable"}, result.Suggestions[0].Resources[0].ConflictTypes)

	w, ok := f.assignmentsOf(low)[0].EffectiveWindow()
	require.True(t, ok)
	assert.Equal(t, window(day(2026, 3, 1), day(2026, 3, 6)), w)
}

func TestAutoAssign_EqualPriorityIsNotBlocking(t *testing.T) {
	f := newFixture(t)
	r := f.resource("Crane", decimal.NullDecimal{}, "")
	first := f.task("First", generic.PriorityHigh, nil, nil)
	f.assign(first, r, ptr(day(2026, 3, 1)), ptr(day(2026, 3, 6)), decimal.NullDecimal{})
	f.task("Second", generic.PriorityHigh, ptr(day(2026, 3, 3)), ptr(day(2026, 3, 5)))

	result := f.run(true)

	assert.Equal(t, 0, result.Assigned)
	assert.Equal(t, 1, result.Skipped)
	assert.Empty(t, result.Suggestions)
	assert.Empty(t, result.Rescheduled)
}

func TestAutoAssign_SkipsDatelessAndUnmatched(t *testing.T) {
	// GIVEN: A task with no end date and a task nobody is qualified for
	f := newFixture(t)
	f.resource("Alice", decimal.NullDecimal{}, "")
	rare := f.qualification("Diving")
	dateless := f.task("Someday", generic.PriorityUrgent, ptr(day(2026, 3, 1)), nil)
	unmatched := f.task("Inspect hull", generic.PriorityHigh, ptr(day(2026, 3, 1)), ptr(day(2026, 3, 2)), requires(rare, ""))

	// WHEN
	result := f.run(true)

	// THEN: Both are skipped silently
	assert.Equal(t, 0, result.Assigned)
	assert.Equal(t, 2, result.Skipped)
	assert.Empty(t, result.Suggestions)
	assert.Empty(t, f.assignmentsOf(dateless))
	assert.Empty(t, f.assignmentsOf(unmatched))
}

func TestAutoAssign_HigherPriorityFirst(t *testing.T) {
	// GIVEN: One resource and two overlapping tasks, the urgent one created last
	f := newFixture(t)
	r := f.resource("Crane", decimal.NullDecimal{}, "")
	low := f.task("Tidy yard", generic.PriorityLow, ptr(day(2026, 3, 1)), ptr(day(2026, 3, 4)))
	urgent := f.task("Lift generator", generic.PriorityUrgent, ptr(day(2026, 3, 2)), ptr(day(2026, 3, 3)))

	// WHEN
	result := f.run(false)

	// THEN: The urgent task wins; the low one is not blocked by lower priority work
	assert.Equal(t, 1, result.Assigned)
	assert.Equal(t, 1, result.Skipped)
	assert.Empty(t, result.Suggestions)
	require.Len(t, f.assignmentsOf(urgent), 1)
	assert.Equal(t, r.ID, f.assignmentsOf(urgent)[0].ResourceID)
	assert.Empty(t, f.assignmentsOf(low))
}

func TestAutoAssign_SpreadsAcrossResources(t *testing.T) {
	// GIVEN: Two resources and two overlapping tasks
	f := newFixture(t)
	ann := f.resource("Ann", decimal.NullDecimal{}, "")
	bea := f.resource("Bea", decimal.NullDecimal{}, "")
	one := f.task("One", generic.PriorityHigh, ptr(day(2026, 3, 1)), ptr(day(2026, 3, 3)))
	two := f.task("Two", generic.PriorityMedium, ptr(day(2026, 3, 2)), ptr(day(2026, 3, 4)))

	// WHEN
	result := f.run(false)

	// THEN: The second task sees the first placement and picks the other resource
	assert.Equal(t, 2, result.Assigned)
	assert.Equal(t, ann.ID, f.assignmentsOf(one)[0].ResourceID)
	assert.Equal(t, bea.ID, f.assignmentsOf(two)[0].ResourceID)
}

func TestAutoAssign_Repeatable(t *testing.T) {
	f := newFixture(t)
	f.resource("Ann", decimal.NullDecimal{}, "")
	f.task("One", generic.PriorityHigh, ptr(day(2026, 3, 1)), ptr(day(2026, 3, 3)))

	first := f.run(false)
	second := f.run(false)

	assert.Equal(t, 1, first.Assigned)
	assert.Equal(t, 0, second.Assigned)
	assert.Equal(t, 0, second.Skipped)
	assert.NotEqual(t, first.RunID, second.RunID)
}

func TestAutoAssign_CancelledContext(t *testing.T) {
	f := newFixture(t)
	f.resource("Ann", decimal.NullDecimal{}, "")
	f.task("One", generic.PriorityHigh, ptr(day(2026, 3, 1)), ptr(day(2026, 3, 3)))

	ctx, cancel := context.WithCancel(f.ctx)
	cancel()
	_, err := f.engine.AutoAssigner.Run(ctx, scheduling.AutoAssignOptions{})
	require.ErrorIs(t, err, context.Canceled)

	all, err := f.store.ListAssignments(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

// cancelAfterPlacement cancels the run once the first task is placed.
type cancelAfterPlacement struct {
	metrics.NopSink
	cancel     context.CancelFunc
	placements int
	runs       []time.Duration
}

func (c *cancelAfterPlacement) RecordPlacement(string) {
	c.placements++
	c.cancel()
}

func (c *cancelAfterPlacement) RecordRun(d time.Duration) { c.runs = append(c.runs, d) }

func TestAutoAssign_CancelledMidRunKeepsCommittedWork(t *testing.T) {
	// GIVEN: Two placeable tasks and a run cancelled after the first
	f := newFixture(t)
	f.resource("Ann", decimal.NullDecimal{}, "")
	f.resource("Ben", decimal.NullDecimal{}, "")
	first := f.task("One", generic.PriorityUrgent, ptr(day(2026, 3, 1)), ptr(day(2026, 3, 3)))
	second := f.task("Two", generic.PriorityLow, ptr(day(2026, 3, 1)), ptr(day(2026, 3, 3)))

	ctx, cancel := context.WithCancel(f.ctx)
	defer cancel()
	sink := &cancelAfterPlacement{cancel: cancel}
	f.engine.AutoAssigner.Metrics = sink

	// WHEN
	result, err := f.engine.AutoAssigner.Run(ctx, scheduling.AutoAssignOptions{})

	// THEN: The committed placement is reported alongside the error
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, result)
	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, 1, result.Assigned)
	assert.Equal(t, 0, result.Skipped)
	assert.Equal(t, 1, sink.placements)
	assert.Len(t, sink.runs, 1)
	assert.Len(t, f.assignmentsOf(first), 1)
	assert.Empty(t, f.assignmentsOf(second))
}
