package scheduling

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/resource-scheduler/generic"
	"github.com/warp/resource-scheduler/logger"
	"github.com/warp/resource-scheduler/metrics"
)

// =============================================================================
// DETECTOR
// =============================================================================

// Detector checks whether a resource can take an allocation in a window.
type Detector struct {
	Repo    generic.Repository
	Metrics metrics.Sink
	Logger  logger.Logger
}

func NewDetector(repo generic.Repository) *Detector {
	return &Detector{Repo: repo, Metrics: metrics.NopSink{}, Logger: logger.NopLogger{}}
}

// WithRepository returns a copy reading from repo.
func (d *Detector) WithRepository(repo generic.Repository) *Detector {
	c := *d
	c.Repo = repo
	return &c
}

// Detect reports double bookings, overloads and absences for placing
// allocation on resource during w. A null allocation means full use (1).
// An invalid window yields an empty report.
func (d *Detector) Detect(ctx context.Context, resource generic.Resource, w generic.Window, allocation decimal.NullDecimal, exclude *generic.AssignmentID) (*ConflictReport, error) {
	var excludes []generic.AssignmentID
	if exclude != nil {
		excludes = append(excludes, *exclude)
	}
	return d.detect(ctx, resource, w, allocation, excludes)
}

func (d *Detector) detect(ctx context.Context, resource generic.Resource, w generic.Window, allocation decimal.NullDecimal, excludes []generic.AssignmentID) (*ConflictReport, error) {
	report := NewConflictReport()
	if !w.Valid() {
		return report, nil
	}

	var first *generic.AssignmentID
	if len(excludes) == 1 {
		first = &excludes[0]
	}
	candidates, err := d.Repo.FindOverlappingAssignments(ctx, resource.ID, w, first)
	if err != nil {
		return nil, fmt.Errorf("failed to load overlapping assignments: %w", err)
	}
	skip := make(map[generic.AssignmentID]bool, len(excludes))
	for _, id := range excludes {
		skip[id] = true
	}

	var overlapping []generic.TaskAssignment
	for _, a := range candidates {
		if skip[a.ID] {
			continue
		}
		if ew, ok := a.EffectiveWindow(); ok && ew.Overlaps(w) {
			overlapping = append(overlapping, a)
		}
	}

	ids := make([]int64, len(overlapping))
	existing := decimal.Zero
	for i, a := range overlapping {
		ids[i] = int64(a.ID)
		existing = existing.Add(generic.NormalizeRatio(a.AllocationRatio, generic.FullAllocation))
	}
	if len(overlapping) > 0 {
		report.Add(ConflictDoubleBooked, ConflictEntry{RelatedIDs: ids})
	}

	// A request larger than the capacity overloads even an idle resource.
	requested := generic.NormalizeRatio(allocation, generic.FullAllocation)
	capacity := generic.ResolveCapacity(resource)
	total := requested.Add(existing)
	if total.GreaterThan(capacity) {
		report.Add(ConflictOverloaded, ConflictEntry{
			RelatedIDs: ids,
			Metrics: &OverloadMetrics{
				TotalAllocation: total,
				Capacity:        capacity,
				CapacityUnit:    resource.CapacityUnit,
			},
		})
	}

	absences, err := d.Repo.FindOverlappingAbsences(ctx, resource.ID, w)
	if err != nil {
		return nil, fmt.Errorf("failed to load absences: %w", err)
	}
	for _, a := range absences {
		if a.Window().Overlaps(w) {
			report.Add(ConflictUnavailable, ConflictEntry{RelatedIDs: []int64{int64(a.ID)}})
		}
	}

	if report.HasConflicts() {
		d.Metrics.RecordConflicts(typeStrings(report.Types()))
		d.Logger.Debugw("conflicts detected", map[string]any{
			"resource_id": resource.ID,
			"window":      w.String(),
			"types":       typeStrings(report.Types()),
		})
	}
	return report, nil
}
