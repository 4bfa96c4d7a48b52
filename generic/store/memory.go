// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/resource-scheduler/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu sync.RWMutex
	s  *state
}

func NewMemory() *Memory {
	return &Memory{s: newState()}
}

// state holds the data. Its methods never lock; Memory locks around them and
// the tx view runs them while WithTx holds the write lock.
type state struct {
	resourceTypes  map[generic.ResourceTypeID]generic.ResourceType
	resources      map[generic.ResourceID]generic.Resource
	qualifications map[generic.QualificationID]generic.Qualification
	resourceQuals  map[generic.ResourceQualificationID]generic.ResourceQualification
	tasks          map[generic.TaskID]generic.Task
	requirements   map[generic.RequirementID]generic.TaskRequirement
	assignments    map[generic.AssignmentID]generic.TaskAssignment
	absences       map[generic.AbsenceID]generic.ResourceAbsence
	seq            int64
}

func newState() *state {
	return &state{
		resourceTypes:  make(map[generic.ResourceTypeID]generic.ResourceType),
		resources:      make(map[generic.ResourceID]generic.Resource),
		qualifications: make(map[generic.QualificationID]generic.Qualification),
		resourceQuals:  make(map[generic.ResourceQualificationID]generic.ResourceQualification),
		tasks:          make(map[generic.TaskID]generic.Task),
		requirements:   make(map[generic.RequirementID]generic.TaskRequirement),
		assignments:    make(map[generic.AssignmentID]generic.TaskAssignment),
		absences:       make(map[generic.AbsenceID]generic.ResourceAbsence),
	}
}

func (s *state) nextID() int64 {
	s.seq++
	return s.seq
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.resourceTypes {
		c.resourceTypes[k] = v
	}
	for k, v := range s.resources {
		c.resources[k] = v
	}
	for k, v := range s.qualifications {
		c.qualifications[k] = v
	}
	for k, v := range s.resourceQuals {
		c.resourceQuals[k] = v
	}
	for k, v := range s.tasks {
		c.tasks[k] = v
	}
	for k, v := range s.requirements {
		c.requirements[k] = v
	}
	for k, v := range s.assignments {
		c.assignments[k] = v
	}
	for k, v := range s.absences {
		c.absences[k] = v
	}
	c.seq = s.seq
	return c
}

// =============================================================================
// STATE - Repository
// =============================================================================

func (s *state) ListUnassignedTasks(_ context.Context) ([]generic.Task, error) {
	assigned := make(map[generic.TaskID]bool, len(s.assignments))
	for _, a := range s.assignments {
		assigned[a.TaskID] = true
	}
	var out []generic.Task
	for id, t := range s.tasks {
		if !assigned[id] {
			out = append(out, s.withRequirements(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	generic.SortTasksByPriority(out)
	return out, nil
}

func (s *state) FindResourcesMatching(_ context.Context, reqs []generic.TaskRequirement) ([]generic.Resource, error) {
	var out []generic.Resource
	for _, r := range s.resources {
		quals := s.qualificationsOf(r.ID)
		ok := true
		for _, req := range reqs {
			if !req.SatisfiedBy(quals) {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, r)
		}
	}
	generic.SortResourcesByName(out)
	return out, nil
}

func (s *state) FindOverlappingAssignments(_ context.Context, resourceID generic.ResourceID, w generic.Window, exclude *generic.AssignmentID) ([]generic.TaskAssignment, error) {
	var out []generic.TaskAssignment
	for _, a := range s.assignments {
		if a.ResourceID != resourceID {
			continue
		}
		if exclude != nil && a.ID == *exclude {
			continue
		}
		a = s.withTask(a)
		if ew, ok := a.EffectiveWindow(); ok && ew.Overlaps(w) {
			out = append(out, a)
		}
	}
	sortAssignments(out)
	return out, nil
}

func (s *state) FindOverlappingAbsences(_ context.Context, resourceID generic.ResourceID, w generic.Window) ([]generic.ResourceAbsence, error) {
	var out []generic.ResourceAbsence
	for _, a := range s.absences {
		if a.ResourceID == resourceID && a.Window().Overlaps(w) {
			out = append(out, a)
		}
	}
	sortAbsences(out)
	return out, nil
}

func (s *state) CreateAssignment(_ context.Context, a generic.TaskAssignment) (generic.TaskAssignment, error) {
	if _, ok := s.tasks[a.TaskID]; !ok {
		return generic.TaskAssignment{}, &generic.NotFoundError{Kind: "task", ID: int64(a.TaskID)}
	}
	if _, ok := s.resources[a.ResourceID]; !ok {
		return generic.TaskAssignment{}, &generic.NotFoundError{Kind: "resource", ID: int64(a.ResourceID)}
	}
	a.ID = generic.AssignmentID(s.nextID())
	a.Task = nil
	s.assignments[a.ID] = a
	return s.withTask(a), nil
}

func (s *state) UpdateAssignmentWindow(_ context.Context, id generic.AssignmentID, w generic.Window) error {
	a, ok := s.assignments[id]
	if !ok {
		return &generic.NotFoundError{Kind: "assignment", ID: int64(id)}
	}
	start, end := w.Start, w.End
	a.StartsAt, a.EndsAt = &start, &end
	s.assignments[id] = a
	return nil
}

func (s *state) ListResources(_ context.Context) ([]generic.Resource, error) {
	out := make([]generic.Resource, 0, len(s.resources))
	for _, r := range s.resources {
		out = append(out, r)
	}
	generic.SortResourcesByName(out)
	return out, nil
}

func (s *state) ListResourcesByType(_ context.Context, typeID *generic.ResourceTypeID) ([]generic.Resource, error) {
	probe := generic.Resource{ResourceTypeID: typeID}
	var out []generic.Resource
	for _, r := range s.resources {
		if r.SameType(probe) {
			out = append(out, r)
		}
	}
	generic.SortResourcesByName(out)
	return out, nil
}

func (s *state) GetResource(_ context.Context, id generic.ResourceID) (generic.Resource, error) {
	r, ok := s.resources[id]
	if !ok {
		return generic.Resource{}, &generic.NotFoundError{Kind: "resource", ID: int64(id)}
	}
	return r, nil
}

func (s *state) GetTask(_ context.Context, id generic.TaskID) (generic.Task, error) {
	t, ok := s.tasks[id]
	if !ok {
		return generic.Task{}, &generic.NotFoundError{Kind: "task", ID: int64(id)}
	}
	return s.withRequirements(t), nil
}

func (s *state) GetAssignments(_ context.Context, ids []generic.AssignmentID) ([]generic.TaskAssignment, error) {
	var out []generic.TaskAssignment
	seen := make(map[generic.AssignmentID]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if a, ok := s.assignments[id]; ok {
			out = append(out, s.withTask(a))
		}
	}
	sortAssignments(out)
	return out, nil
}

func (s *state) ListAssignmentsInWindow(_ context.Context, w generic.Window) ([]generic.TaskAssignment, error) {
	var out []generic.TaskAssignment
	for _, a := range s.assignments {
		a = s.withTask(a)
		if ew, ok := a.EffectiveWindow(); ok && ew.Overlaps(w) {
			out = append(out, a)
		}
	}
	sortAssignments(out)
	return out, nil
}

func (s *state) ListAbsencesInWindow(_ context.Context, w generic.Window) ([]generic.ResourceAbsence, error) {
	var out []generic.ResourceAbsence
	for _, a := range s.absences {
		if a.Window().Overlaps(w) {
			out = append(out, a)
		}
	}
	sortAbsences(out)
	return out, nil
}

// =============================================================================
// STATE - Catalog
// =============================================================================

func (s *state) CreateResourceType(_ context.Context, rt generic.ResourceType) (generic.ResourceType, error) {
	rt.ID = generic.ResourceTypeID(s.nextID())
	s.resourceTypes[rt.ID] = rt
	return rt, nil
}

func (s *state) GetResourceType(_ context.Context, id generic.ResourceTypeID) (generic.ResourceType, error) {
	rt, ok := s.resourceTypes[id]
	if !ok {
		return generic.ResourceType{}, &generic.NotFoundError{Kind: "resource type", ID: int64(id)}
	}
	return rt, nil
}

func (s *state) CreateResource(_ context.Context, r generic.Resource) (generic.Resource, error) {
	if r.ResourceTypeID != nil {
		if _, ok := s.resourceTypes[*r.ResourceTypeID]; !ok {
			return generic.Resource{}, &generic.NotFoundError{Kind: "resource type", ID: int64(*r.ResourceTypeID)}
		}
	}
	r.ID = generic.ResourceID(s.nextID())
	s.resources[r.ID] = r
	return r, nil
}

func (s *state) CreateQualification(_ context.Context, q generic.Qualification) (generic.Qualification, error) {
	q.ID = generic.QualificationID(s.nextID())
	s.qualifications[q.ID] = q
	return q, nil
}

func (s *state) GetQualification(_ context.Context, id generic.QualificationID) (generic.Qualification, error) {
	q, ok := s.qualifications[id]
	if !ok {
		return generic.Qualification{}, &generic.NotFoundError{Kind: "qualification", ID: int64(id)}
	}
	return q, nil
}

func (s *state) CreateResourceQualification(_ context.Context, rq generic.ResourceQualification) (generic.ResourceQualification, error) {
	if _, ok := s.resources[rq.ResourceID]; !ok {
		return generic.ResourceQualification{}, &generic.NotFoundError{Kind: "resource", ID: int64(rq.ResourceID)}
	}
	if _, ok := s.qualifications[rq.QualificationID]; !ok {
		return generic.ResourceQualification{}, &generic.NotFoundError{Kind: "qualification", ID: int64(rq.QualificationID)}
	}
	rq.ID = generic.ResourceQualificationID(s.nextID())
	s.resourceQuals[rq.ID] = rq
	return rq, nil
}

func (s *state) CreateTask(ctx context.Context, t generic.Task) (generic.Task, error) {
	reqs := t.Requirements
	t.Requirements = nil
	t.ID = generic.TaskID(s.nextID())
	s.tasks[t.ID] = t
	for _, req := range reqs {
		req.TaskID = t.ID
		if _, err := s.AddRequirement(ctx, req); err != nil {
			return generic.Task{}, err
		}
	}
	return s.withRequirements(t), nil
}

func (s *state) AddRequirement(_ context.Context, req generic.TaskRequirement) (generic.TaskRequirement, error) {
	if _, ok := s.tasks[req.TaskID]; !ok {
		return generic.TaskRequirement{}, &generic.NotFoundError{Kind: "task", ID: int64(req.TaskID)}
	}
	if _, ok := s.qualifications[req.QualificationID]; !ok {
		return generic.TaskRequirement{}, &generic.NotFoundError{Kind: "qualification", ID: int64(req.QualificationID)}
	}
	req.ID = generic.RequirementID(s.nextID())
	s.requirements[req.ID] = req
	return req, nil
}

func (s *state) ListTasks(_ context.Context) ([]generic.Task, error) {
	out := make([]generic.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, s.withRequirements(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *state) CreateAbsence(_ context.Context, a generic.ResourceAbsence) (generic.ResourceAbsence, error) {
	if _, ok := s.resources[a.ResourceID]; !ok {
		return generic.ResourceAbsence{}, &generic.NotFoundError{Kind: "resource", ID: int64(a.ResourceID)}
	}
	a.ID = generic.AbsenceID(s.nextID())
	s.absences[a.ID] = a
	return a, nil
}

func (s *state) ListAssignments(_ context.Context) ([]generic.TaskAssignment, error) {
	out := make([]generic.TaskAssignment, 0, len(s.assignments))
	for _, a := range s.assignments {
		out = append(out, s.withTask(a))
	}
	sortAssignments(out)
	return out, nil
}

// =============================================================================
// STATE - Helpers
// =============================================================================

func (s *state) qualificationsOf(id generic.ResourceID) []generic.ResourceQualification {
	var out []generic.ResourceQualification
	for _, rq := range s.resourceQuals {
		if rq.ResourceID == id {
			out = append(out, rq)
		}
	}
	return out
}

func (s *state) withRequirements(t generic.Task) generic.Task {
	var reqs []generic.TaskRequirement
	for _, r := range s.requirements {
		if r.TaskID == t.ID {
			reqs = append(reqs, r)
		}
	}
	sort.Slice(reqs, func(i, j int) bool { return reqs[i].ID < reqs[j].ID })
	t.Requirements = reqs
	return t
}

func (s *state) withTask(a generic.TaskAssignment) generic.TaskAssignment {
	if t, ok := s.tasks[a.TaskID]; ok {
		t = s.withRequirements(t)
		a.Task = &t
	}
	return a
}

func sortAssignments(as []generic.TaskAssignment) {
	sort.Slice(as, func(i, j int) bool { return as[i].ID < as[j].ID })
}

func sortAbsences(as []generic.ResourceAbsence) {
	sort.Slice(as, func(i, j int) bool {
		if !as[i].StartsAt.Equal(as[j].StartsAt) {
			return as[i].StartsAt.Before(as[j].StartsAt)
		}
		return as[i].ID < as[j].ID
	})
}

// =============================================================================
// MEMORY - Locked access
// =============================================================================

func (m *Memory) ListUnassignedTasks(ctx context.Context) ([]generic.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.ListUnassignedTasks(ctx)
}

func (m *Memory) FindResourcesMatching(ctx context.Context, reqs []generic.TaskRequirement) ([]generic.Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.FindResourcesMatching(ctx, reqs)
}

func (m *Memory) FindOverlappingAssignments(ctx context.Context, resourceID generic.ResourceID, w generic.Window, exclude *generic.AssignmentID) ([]generic.TaskAssignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.FindOverlappingAssignments(ctx, resourceID, w, exclude)
}

func (m *Memory) FindOverlappingAbsences(ctx context.Context, resourceID generic.ResourceID, w generic.Window) ([]generic.ResourceAbsence, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.FindOverlappingAbsences(ctx, resourceID, w)
}

func (m *Memory) CreateAssignment(ctx context.Context, a generic.TaskAssignment) (generic.TaskAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.CreateAssignment(ctx, a)
}

func (m *Memory) UpdateAssignmentWindow(ctx context.Context, id generic.AssignmentID, w generic.Window) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.UpdateAssignmentWindow(ctx, id, w)
}

func (m *Memory) ListResources(ctx context.Context) ([]generic.Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.ListResources(ctx)
}

func (m *Memory) ListResourcesByType(ctx context.Context, typeID *generic.ResourceTypeID) ([]generic.Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.ListResourcesByType(ctx, typeID)
}

func (m *Memory) GetResource(ctx context.Context, id generic.ResourceID) (generic.Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.GetResource(ctx, id)
}

func (m *Memory) GetTask(ctx context.Context, id generic.TaskID) (generic.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.GetTask(ctx, id)
}

func (m *Memory) GetAssignments(ctx context.Context, ids []generic.AssignmentID) ([]generic.TaskAssignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.GetAssignments(ctx, ids)
}

func (m *Memory) ListAssignmentsInWindow(ctx context.Context, w generic.Window) ([]generic.TaskAssignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.ListAssignmentsInWindow(ctx, w)
}

func (m *Memory) ListAbsencesInWindow(ctx context.Context, w generic.Window) ([]generic.ResourceAbsence, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.ListAbsencesInWindow(ctx, w)
}

func (m *Memory) CreateResourceType(ctx context.Context, rt generic.ResourceType) (generic.ResourceType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.CreateResourceType(ctx, rt)
}

func (m *Memory) GetResourceType(ctx context.Context, id generic.ResourceTypeID) (generic.ResourceType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.GetResourceType(ctx, id)
}

func (m *Memory) CreateResource(ctx context.Context, r generic.Resource) (generic.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.CreateResource(ctx, r)
}

func (m *Memory) CreateQualification(ctx context.Context, q generic.Qualification) (generic.Qualification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.CreateQualification(ctx, q)
}

func (m *Memory) GetQualification(ctx context.Context, id generic.QualificationID) (generic.Qualification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.GetQualification(ctx, id)
}

func (m *Memory) CreateResourceQualification(ctx context.Context, rq generic.ResourceQualification) (generic.ResourceQualification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.CreateResourceQualification(ctx, rq)
}

func (m *Memory) CreateTask(ctx context.Context, t generic.Task) (generic.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.CreateTask(ctx, t)
}

func (m *Memory) AddRequirement(ctx context.Context, req generic.TaskRequirement) (generic.TaskRequirement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.AddRequirement(ctx, req)
}

func (m *Memory) ListTasks(ctx context.Context) ([]generic.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.ListTasks(ctx)
}

func (m *Memory) CreateAbsence(ctx context.Context, a generic.ResourceAbsence) (generic.ResourceAbsence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.CreateAbsence(ctx, a)
}

func (m *Memory) ListAssignments(ctx context.Context) ([]generic.TaskAssignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.ListAssignments(ctx)
}

// Reset drops all data.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s = newState()
	return nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// fn must only use the Store it is given; calling back into tm deadlocks.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(generic.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.s.clone()

	if err := fn(txMemoryView{state: tm.s}); err != nil {
		tm.s = snapshot
		return err
	}
	return nil
}

// txMemoryView runs state methods directly; the write lock is already held.
type txMemoryView struct {
	*state
}

var (
	_ generic.TxStore = (*TxMemory)(nil)
	_ generic.Store   = txMemoryView{}
)
