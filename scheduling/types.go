/*
Package scheduling implements conflict detection, utilization reporting,
alternatives search and automatic assignment on top of generic.Repository.

COMPONENTS:
  Detector:              Double booking, overload and absence checks
  UtilizationCalculator: Capacity/allocation/absence totals per resource
  Resolver:              Substitute resources and shifted periods
  AutoAssigner:          Batch placement of unassigned tasks by priority

All components take the repository they read from as a field, so the
auto-assigner can rebind them to the transactional view for the duration
of a task's placement.

SEE ALSO:
  - generic/store.go: Repository contract
  - generic/capacity.go: Capacity arithmetic
  - api/handlers.go: HTTP surface
*/
package scheduling

import (
	"github.com/shopspring/decimal"
	"github.com/warp/resource-scheduler/generic"
)

// =============================================================================
// CONFLICT TYPES
// =============================================================================

// ConflictType classifies why a placement is not possible.
type ConflictType string

const (
	ConflictDoubleBooked ConflictType = "double_booked"
	ConflictOverloaded   ConflictType = "overloaded"
	ConflictUnavailable  ConflictType = "unavailable"
)

func (c ConflictType) Label() string {
	switch c {
	case ConflictDoubleBooked:
		return "Double booked"
	case ConflictOverloaded:
		return "Over capacity"
	case ConflictUnavailable:
		return "Unavailable"
	default:
		return string(c)
	}
}

func (c ConflictType) Description() string {
	switch c {
	case ConflictDoubleBooked:
		return "The resource already has assignments in this period."
	case ConflictOverloaded:
		return "The combined allocation exceeds the resource capacity."
	case ConflictUnavailable:
		return "The resource is absent during this period."
	default:
		return ""
	}
}

// OverloadMetrics is attached to overloaded conflicts.
type OverloadMetrics struct {
	TotalAllocation decimal.Decimal      `json:"total_allocation"`
	Capacity        decimal.Decimal      `json:"capacity"`
	CapacityUnit    generic.CapacityUnit `json:"capacity_unit"`
}

// ConflictEntry is one finding. RelatedIDs are assignment IDs for
// double_booked/overloaded and absence IDs for unavailable.
type ConflictEntry struct {
	RelatedIDs []int64
	Metrics    *OverloadMetrics
}

// =============================================================================
// CONFLICT REPORT
// =============================================================================

// ConflictReport groups entries by type, keeping the order in which types
// were first added.
type ConflictReport struct {
	order   []ConflictType
	entries map[ConflictType][]ConflictEntry
}

func NewConflictReport() *ConflictReport {
	return &ConflictReport{entries: make(map[ConflictType][]ConflictEntry)}
}

func (r *ConflictReport) Add(t ConflictType, e ConflictEntry) {
	if _, ok := r.entries[t]; !ok {
		r.order = append(r.order, t)
	}
	r.entries[t] = append(r.entries[t], e)
}

func (r *ConflictReport) HasConflicts() bool { return len(r.order) > 0 }

func (r *ConflictReport) Has(t ConflictType) bool {
	_, ok := r.entries[t]
	return ok
}

// Types returns the conflict types present, in first-seen order.
func (r *ConflictReport) Types() []ConflictType {
	return append([]ConflictType(nil), r.order...)
}

func (r *ConflictReport) For(t ConflictType) []ConflictEntry {
	return r.entries[t]
}

// RelatedIDs flattens the related IDs of one type, de-duplicated, in order.
func (r *ConflictReport) RelatedIDs(t ConflictType) []int64 {
	seen := make(map[int64]bool)
	var out []int64
	for _, e := range r.entries[t] {
		for _, id := range e.RelatedIDs {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out
}

// AssignmentIDs collects the related IDs of the given assignment-backed
// types, de-duplicated, in first-seen order.
func (r *ConflictReport) AssignmentIDs(types ...ConflictType) []generic.AssignmentID {
	seen := make(map[int64]bool)
	var out []generic.AssignmentID
	for _, t := range types {
		for _, id := range r.RelatedIDs(t) {
			if !seen[id] {
				seen[id] = true
				out = append(out, generic.AssignmentID(id))
			}
		}
	}
	return out
}

func typeStrings(types []ConflictType) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}
