package scheduling_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/warp/resource-scheduler/generic"
	"github.com/warp/resource-scheduler/generic/store"
	"github.com/warp/resource-scheduler/scheduling"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type fixture struct {
	t      *testing.T
	ctx    context.Context
	store  *store.TxMemory
	engine *scheduling.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := store.NewTxMemory()
	return &fixture{
		t:      t,
		ctx:    context.Background(),
		store:  s,
		engine: scheduling.NewEngine(s, nil, nil),
	}
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func at(y int, m time.Month, d, hour int) time.Time {
	return time.Date(y, m, d, hour, 0, 0, 0, time.UTC)
}

func window(start, end time.Time) generic.Window {
	return generic.Window{Start: start, End: end}
}

func ratio(v float64) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.NewFromFloat(v))
}

func dec(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

func (f *fixture) resource(name string, capacity decimal.NullDecimal, unit generic.CapacityUnit) generic.Resource {
	f.t.Helper()
	r, err := f.store.CreateResource(f.ctx, generic.Resource{Name: name, CapacityValue: capacity, CapacityUnit: unit})
	require.NoError(f.t, err)
	return r
}

func (f *fixture) typedResource(name string, typeID generic.ResourceTypeID) generic.Resource {
	f.t.Helper()
	r, err := f.store.CreateResource(f.ctx, generic.Resource{Name: name, ResourceTypeID: &typeID})
	require.NoError(f.t, err)
	return r
}

func (f *fixture) resourceType(name string) generic.ResourceType {
	f.t.Helper()
	rt, err := f.store.CreateResourceType(f.ctx, generic.ResourceType{Name: name})
	require.NoError(f.t, err)
	return rt
}

func (f *fixture) qualification(name string) generic.Qualification {
	f.t.Helper()
	q, err := f.store.CreateQualification(f.ctx, generic.Qualification{Name: name})
	require.NoError(f.t, err)
	return q
}

func (f *fixture) qualify(r generic.Resource, q generic.Qualification, level generic.QualificationLevel) {
	f.t.Helper()
	_, err := f.store.CreateResourceQualification(f.ctx, generic.ResourceQualification{
		ResourceID: r.ID, QualificationID: q.ID, Level: level,
	})
	require.NoError(f.t, err)
}

func (f *fixture) task(title string, p generic.Priority, start, end *time.Time, reqs ...generic.TaskRequirement) generic.Task {
	f.t.Helper()
	task, err := f.store.CreateTask(f.ctx, generic.Task{
		Title: title, Priority: p, StartsAt: start, EndsAt: end, Status: generic.TaskPlanned, Requirements: reqs,
	})
	require.NoError(f.t, err)
	return task
}

func (f *fixture) assign(task generic.Task, r generic.Resource, start, end *time.Time, alloc decimal.NullDecimal) generic.TaskAssignment {
	f.t.Helper()
	a, err := f.store.CreateAssignment(f.ctx, generic.TaskAssignment{
		TaskID: task.ID, ResourceID: r.ID, StartsAt: start, EndsAt: end, AllocationRatio: alloc, Source: generic.SourceManual,
	})
	require.NoError(f.t, err)
	return a
}

func (f *fixture) absence(r generic.Resource, start, end time.Time) generic.ResourceAbsence {
	f.t.Helper()
	a, err := f.store.CreateAbsence(f.ctx, generic.ResourceAbsence{ResourceID: r.ID, StartsAt: start, EndsAt: end})
	require.NoError(f.t, err)
	return a
}

func requires(q generic.Qualification, level generic.QualificationLevel) generic.TaskRequirement {
	return generic.TaskRequirement{QualificationID: q.ID, RequiredLevel: level}
}

func ptr(t time.Time) *time.Time { return &t }

func slots(v float64) decimal.NullDecimal { return ratio(v) }
