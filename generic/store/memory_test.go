package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/resource-scheduler/generic"
	"github.com/warp/resource-scheduler/generic/store"
)

func day(d int) time.Time {
	return time.Date(2026, time.March, d, 0, 0, 0, 0, time.UTC)
}

func ptr(t time.Time) *time.Time { return &t }

func TestMemory_UnassignedTasksInPriorityOrder(t *testing.T) {
	// GIVEN: Three tasks, one already assigned
	ctx := context.Background()
	s := store.NewMemory()
	r, err := s.CreateResource(ctx, generic.Resource{Name: "Ann"})
	require.NoError(t, err)
	low, err := s.CreateTask(ctx, generic.Task{Title: "low", Priority: generic.PriorityLow})
	require.NoError(t, err)
	urgent, err := s.CreateTask(ctx, generic.Task{Title: "urgent", Priority: generic.PriorityUrgent})
	require.NoError(t, err)
	done, err := s.CreateTask(ctx, generic.Task{Title: "done", Priority: generic.PriorityUrgent})
	require.NoError(t, err)
	_, err = s.CreateAssignment(ctx, generic.TaskAssignment{TaskID: done.ID, ResourceID: r.ID})
	require.NoError(t, err)

	// WHEN
	tasks, err := s.ListUnassignedTasks(ctx)
	require.NoError(t, err)

	// THEN
	require.Len(t, tasks, 2)
	assert.Equal(t, urgent.ID, tasks[0].ID)
	assert.Equal(t, low.ID, tasks[1].ID)
}

func TestMemory_FindResourcesMatching(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	q, err := s.CreateQualification(ctx, generic.Qualification{Name: "Forklift"})
	require.NoError(t, err)
	ann, err := s.CreateResource(ctx, generic.Resource{Name: "Ann"})
	require.NoError(t, err)
	bob, err := s.CreateResource(ctx, generic.Resource{Name: "Bob"})
	require.NoError(t, err)
	_, err = s.CreateResourceQualification(ctx, generic.ResourceQualification{ResourceID: bob.ID, QualificationID: q.ID, Level: generic.LevelAdvanced})
	require.NoError(t, err)

	all, err := s.FindResourcesMatching(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, ann.ID, all[0].ID)

	matched, err := s.FindResourcesMatching(ctx, []generic.TaskRequirement{{QualificationID: q.ID, RequiredLevel: generic.LevelIntermediate}})
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, bob.ID, matched[0].ID)

	none, err := s.FindResourcesMatching(ctx, []generic.TaskRequirement{{QualificationID: q.ID, RequiredLevel: generic.LevelExpert}})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemory_OverlapUsesEffectiveWindow(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	r, err := s.CreateResource(ctx, generic.Resource{Name: "Ann"})
	require.NoError(t, err)
	task, err := s.CreateTask(ctx, generic.Task{Title: "T", StartsAt: ptr(day(1)), EndsAt: ptr(day(10))})
	require.NoError(t, err)
	a, err := s.CreateAssignment(ctx, generic.TaskAssignment{TaskID: task.ID, ResourceID: r.ID, StartsAt: ptr(day(5))})
	require.NoError(t, err)
	require.NotNil(t, a.Task)

	before, err := s.FindOverlappingAssignments(ctx, r.ID, generic.Window{Start: day(2), End: day(4)}, nil)
	require.NoError(t, err)
	assert.Empty(t, before)

	inside, err := s.FindOverlappingAssignments(ctx, r.ID, generic.Window{Start: day(6), End: day(7)}, nil)
	require.NoError(t, err)
	require.Len(t, inside, 1)
	assert.Equal(t, a.ID, inside[0].ID)

	excluded, err := s.FindOverlappingAssignments(ctx, r.ID, generic.Window{Start: day(6), End: day(7)}, &a.ID)
	require.NoError(t, err)
	assert.Empty(t, excluded)
}

func TestMemory_ReferencesAreChecked(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()

	_, err := s.CreateAssignment(ctx, generic.TaskAssignment{TaskID: 99, ResourceID: 1})
	assert.True(t, generic.IsNotFound(err))

	missing := generic.ResourceTypeID(12)
	_, err = s.CreateResource(ctx, generic.Resource{Name: "X", ResourceTypeID: &missing})
	var nf *generic.NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "resource type", nf.Kind)

	err = s.UpdateAssignmentWindow(ctx, 5, generic.Window{Start: day(1), End: day(2)})
	assert.True(t, generic.IsNotFound(err))
}

func TestTxMemory_RollbackOnError(t *testing.T) {
	// GIVEN: A store with one resource and task
	ctx := context.Background()
	s := store.NewTxMemory()
	r, err := s.CreateResource(ctx, generic.Resource{Name: "Ann"})
	require.NoError(t, err)
	task, err := s.CreateTask(ctx, generic.Task{Title: "T"})
	require.NoError(t, err)

	// WHEN: A transaction writes and then fails
	boom := errors.New("boom")
	err = s.WithTx(ctx, func(tx generic.Store) error {
		if _, err := tx.CreateAssignment(ctx, generic.TaskAssignment{TaskID: task.ID, ResourceID: r.ID}); err != nil {
			return err
		}
		return boom
	})

	// THEN: The write is gone and the error is returned as is
	require.ErrorIs(t, err, boom)
	all, err := s.ListAssignments(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestTxMemory_CommitOnSuccess(t *testing.T) {
	ctx := context.Background()
	s := store.NewTxMemory()
	r, err := s.CreateResource(ctx, generic.Resource{Name: "Ann"})
	require.NoError(t, err)
	task, err := s.CreateTask(ctx, generic.Task{Title: "T"})
	require.NoError(t, err)

	err = s.WithTx(ctx, func(tx generic.Store) error {
		a, err := tx.CreateAssignment(ctx, generic.TaskAssignment{TaskID: task.ID, ResourceID: r.ID})
		if err != nil {
			return err
		}
		return tx.UpdateAssignmentWindow(ctx, a.ID, generic.Window{Start: day(3), End: day(4)})
	})
	require.NoError(t, err)

	all, err := s.ListAssignments(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	w, ok := all[0].EffectiveWindow()
	require.True(t, ok)
	assert.Equal(t, day(3), w.Start)
}
