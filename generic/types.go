/*
types.go - Core data model for the scheduling engine

PURPOSE:
  Defines the entities the scheduler reasons about: resources, their
  qualifications and absences, tasks with their requirements, and the
  assignments that bind a task to a resource for a window of time.

ORDERED ENUMS:
  Priority and QualificationLevel are closed string sets with explicit
  rank tables. Never compare them lexically.

    Priority:           urgent(1) < high(2) < medium(3) < low(4) < unset(5)
    QualificationLevel: beginner(1) < intermediate(2) < advanced(3) < expert(4)

NULLABLE FIELDS:
  Optional values are pointers (times, foreign keys) or
  decimal.NullDecimal (capacity, allocation, effort). Fallback rules are
  resolved at the read site:
  - TaskAssignment.EffectiveWindow falls back to the task dates per bound
  - ResolveCapacity / NormalizeRatio live in capacity.go

SEE ALSO:
  - capacity.go: Capacity and allocation arithmetic
  - time.go: Window and day counting
  - store.go: Repository interfaces over these types
*/
package generic

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type (
	ResourceID              int64
	ResourceTypeID          int64
	QualificationID         int64
	ResourceQualificationID int64
	TaskID                  int64
	RequirementID           int64
	AssignmentID            int64
	AbsenceID               int64
)

// =============================================================================
// ENUMS
// =============================================================================

// Priority of a task. The empty value means "unset".
type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Rank orders priorities; lower is more important. Unknown values rank last.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 1
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 3
	case PriorityLow:
		return 4
	default:
		return 5
	}
}

// Valid reports whether p is one of the known priorities or unset.
func (p Priority) Valid() bool {
	return p == "" || p.Rank() < 5
}

// QualificationLevel is the proficiency a resource holds or a task requires.
type QualificationLevel string

const (
	LevelBeginner     QualificationLevel = "beginner"
	LevelIntermediate QualificationLevel = "intermediate"
	LevelAdvanced     QualificationLevel = "advanced"
	LevelExpert       QualificationLevel = "expert"
)

var orderedLevels = []QualificationLevel{LevelBeginner, LevelIntermediate, LevelAdvanced, LevelExpert}

// Rank returns 1..4 for known levels and 0 otherwise.
func (l QualificationLevel) Rank() int {
	for i, lvl := range orderedLevels {
		if lvl == l {
			return i + 1
		}
	}
	return 0
}

func (l QualificationLevel) Valid() bool {
	return l == "" || l.Rank() > 0
}

// LevelsAtLeast returns every level whose rank is >= l, in ascending order.
// An unknown or empty level returns nil.
func (l QualificationLevel) LevelsAtLeast() []QualificationLevel {
	r := l.Rank()
	if r == 0 {
		return nil
	}
	out := make([]QualificationLevel, 0, len(orderedLevels)-r+1)
	out = append(out, orderedLevels[r-1:]...)
	return out
}

// Satisfies reports whether a held level meets a required level.
// An unset requirement accepts anything; an unset held level only meets an
// unset requirement.
func (l QualificationLevel) Satisfies(required QualificationLevel) bool {
	if required == "" {
		return true
	}
	if l == "" {
		return false
	}
	return l.Rank() >= required.Rank()
}

// CapacityUnit describes what a resource's capacity value counts.
// The empty value means unit-less / single use.
type CapacityUnit string

const (
	UnitHoursPerDay CapacityUnit = "hours_per_day"
	UnitSlots       CapacityUnit = "slots"
)

func (u CapacityUnit) Valid() bool {
	return u == "" || u == UnitHoursPerDay || u == UnitSlots
}

// EffortUnit describes a task's effort estimate.
type EffortUnit string

const (
	EffortHours EffortUnit = "hours"
	EffortDays  EffortUnit = "days"
)

type AssignmentSource string

const (
	SourceManual    AssignmentSource = "manual"
	SourceAutomated AssignmentSource = "automated"
)

type AssigneeStatus string

const (
	AssigneeTentative AssigneeStatus = "tentative"
	AssigneeConfirmed AssigneeStatus = "confirmed"
	AssigneeDeclined  AssigneeStatus = "declined"
)

type TaskStatus string

const (
	TaskPlanned    TaskStatus = "planned"
	TaskInProgress TaskStatus = "in_progress"
	TaskBlocked    TaskStatus = "blocked"
	TaskDone       TaskStatus = "done"
)

// =============================================================================
// ENTITIES
// =============================================================================

// ResourceType groups resources (e.g. "Engineer", "Crane", "Room").
type ResourceType struct {
	ID          ResourceTypeID
	Name        string
	Description string
}

// Resource is anything that can be assigned to a task.
type Resource struct {
	ID             ResourceID
	Name           string
	ResourceTypeID *ResourceTypeID
	CapacityValue  decimal.NullDecimal
	CapacityUnit   CapacityUnit
}

// SameType reports whether two resources share a resource type; two
// untyped resources count as the same type.
func (r Resource) SameType(other Resource) bool {
	if r.ResourceTypeID == nil || other.ResourceTypeID == nil {
		return r.ResourceTypeID == nil && other.ResourceTypeID == nil
	}
	return *r.ResourceTypeID == *other.ResourceTypeID
}

type Qualification struct {
	ID             QualificationID
	Name           string
	Description    string
	ResourceTypeID *ResourceTypeID
}

// ResourceQualification links a resource to a qualification at a level.
type ResourceQualification struct {
	ID              ResourceQualificationID
	ResourceID      ResourceID
	QualificationID QualificationID
	Level           QualificationLevel
}

// TaskRequirement is a qualification a task needs, optionally at a minimum level.
type TaskRequirement struct {
	ID              RequirementID
	TaskID          TaskID
	QualificationID QualificationID
	RequiredLevel   QualificationLevel
}

// SatisfiedBy reports whether any of the qualifications meets this requirement.
func (r TaskRequirement) SatisfiedBy(quals []ResourceQualification) bool {
	for _, q := range quals {
		if q.QualificationID == r.QualificationID && q.Level.Satisfies(r.RequiredLevel) {
			return true
		}
	}
	return false
}

// Task is a unit of work with an optional window and requirements.
type Task struct {
	ID           TaskID
	Title        string
	Description  string
	StartsAt     *time.Time
	EndsAt       *time.Time
	EffortValue  decimal.NullDecimal
	EffortUnit   EffortUnit
	Priority     Priority
	Status       TaskStatus
	Requirements []TaskRequirement
}

// Window returns the task window, or false when either bound is missing.
func (t Task) Window() (Window, bool) {
	if t.StartsAt == nil || t.EndsAt == nil {
		return Window{}, false
	}
	return Window{Start: *t.StartsAt, End: *t.EndsAt}, true
}

// TaskAssignment binds a task to a resource.
type TaskAssignment struct {
	ID              AssignmentID
	TaskID          TaskID
	ResourceID      ResourceID
	StartsAt        *time.Time
	EndsAt          *time.Time
	AllocationRatio decimal.NullDecimal
	Source          AssignmentSource
	AssigneeStatus  AssigneeStatus

	// Task is populated by repository reads that join the parent task.
	Task *Task
}

// EffectiveWindow resolves each bound independently: own value first, then
// the parent task's. Returns false when either bound stays unresolved.
func (a TaskAssignment) EffectiveWindow() (Window, bool) {
	start, end := a.StartsAt, a.EndsAt
	if a.Task != nil {
		if start == nil {
			start = a.Task.StartsAt
		}
		if end == nil {
			end = a.Task.EndsAt
		}
	}
	if start == nil || end == nil {
		return Window{}, false
	}
	return Window{Start: *start, End: *end}, true
}

// ResourceAbsence blocks a resource for a window. RecurrenceRule is kept as
// opaque metadata and is not expanded.
type ResourceAbsence struct {
	ID             AbsenceID
	ResourceID     ResourceID
	StartsAt       time.Time
	EndsAt         time.Time
	RecurrenceRule string
}

func (a ResourceAbsence) Window() Window {
	return Window{Start: a.StartsAt, End: a.EndsAt}
}

// =============================================================================
// ORDERING
// =============================================================================

// SortTasksByPriority orders tasks by priority rank, then start time (missing
// first), then ID.
func SortTasksByPriority(tasks []Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		if ra, rb := a.Priority.Rank(), b.Priority.Rank(); ra != rb {
			return ra < rb
		}
		switch {
		case a.StartsAt == nil && b.StartsAt != nil:
			return true
		case a.StartsAt != nil && b.StartsAt == nil:
			return false
		case a.StartsAt != nil && !a.StartsAt.Equal(*b.StartsAt):
			return a.StartsAt.Before(*b.StartsAt)
		}
		return a.ID < b.ID
	})
}

// SortResourcesByName orders resources by name, then ID.
func SortResourcesByName(resources []Resource) {
	sort.SliceStable(resources, func(i, j int) bool {
		if resources[i].Name != resources[j].Name {
			return resources[i].Name < resources[j].Name
		}
		return resources[i].ID < resources[j].ID
	})
}
