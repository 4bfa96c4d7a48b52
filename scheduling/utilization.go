package scheduling

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/resource-scheduler/generic"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// DateLayout formats bucket and period boundaries.
const DateLayout = "2006-01-02"

// =============================================================================
// REPORT TYPES
// =============================================================================

// UtilizationSummary is computed for a whole range and again for each bucket.
type UtilizationSummary struct {
	TotalDays             int             `json:"total_days"`
	TotalCapacity         decimal.Decimal `json:"total_capacity"`
	TotalAllocated        decimal.Decimal `json:"total_allocated"`
	TotalAbsent           decimal.Decimal `json:"total_absent"`
	AvailableCapacity     decimal.Decimal `json:"available_capacity"`
	UtilizationPercentage decimal.Decimal `json:"utilization_percentage"`
}

type UtilizationBucket struct {
	Start string `json:"start"`
	End   string `json:"end"`
	UtilizationSummary
}

type ResourceUtilization struct {
	ID             generic.ResourceID   `json:"id"`
	Name           string               `json:"name"`
	CapacityPerDay decimal.Decimal      `json:"capacity_per_day"`
	CapacityUnit   generic.CapacityUnit `json:"capacity_unit"`
	Summary        UtilizationSummary   `json:"summary"`
	Buckets        []UtilizationBucket  `json:"buckets"`
}

type UtilizationPeriod struct {
	Start              string              `json:"start,omitempty"`
	End                string              `json:"end,omitempty"`
	Granularity        generic.Granularity `json:"granularity"`
	AverageUtilization float64             `json:"average_utilization"`
	PeakUtilization    float64             `json:"peak_utilization"`
}

type UtilizationReport struct {
	Resources []ResourceUtilization `json:"resources"`
	Period    UtilizationPeriod     `json:"period"`
}

// =============================================================================
// CALCULATOR
// =============================================================================

// UtilizationCalculator aggregates capacity, allocation and absence per
// resource over a range.
type UtilizationCalculator struct {
	Repo generic.Repository
}

func NewUtilizationCalculator(repo generic.Repository) *UtilizationCalculator {
	return &UtilizationCalculator{Repo: repo}
}

func (c *UtilizationCalculator) WithRepository(repo generic.Repository) *UtilizationCalculator {
	return &UtilizationCalculator{Repo: repo}
}

// Calculate builds the report for every resource, ordered by name. An invalid
// window yields no resources.
func (c *UtilizationCalculator) Calculate(ctx context.Context, w generic.Window, g generic.Granularity) (*UtilizationReport, error) {
	g = generic.ParseGranularity(string(g))
	report := &UtilizationReport{
		Resources: []ResourceUtilization{},
		Period:    UtilizationPeriod{Granularity: g},
	}
	if !w.Valid() {
		return report, nil
	}
	report.Period.Start = w.Start.Format(DateLayout)
	report.Period.End = w.End.Format(DateLayout)

	resources, assignments, absences, err := c.load(ctx, w)
	if err != nil {
		return nil, err
	}
	buckets := g.Partition(w)

	percentages := make([]float64, 0, len(resources))
	for _, r := range resources {
		ru := ResourceUtilization{
			ID:             r.ID,
			Name:           r.Name,
			CapacityPerDay: generic.ResolveCapacity(r),
			CapacityUnit:   r.CapacityUnit,
			Summary:        summarize(r, w, assignments[r.ID], absences[r.ID]),
			Buckets:        make([]UtilizationBucket, 0, len(buckets)),
		}
		for _, b := range buckets {
			ru.Buckets = append(ru.Buckets, UtilizationBucket{
				Start:              b.Start.Format(DateLayout),
				End:                b.End.Format(DateLayout),
				UtilizationSummary: summarize(r, b, assignments[r.ID], absences[r.ID]),
			})
		}
		report.Resources = append(report.Resources, ru)
		pct, _ := ru.Summary.UtilizationPercentage.Float64()
		percentages = append(percentages, pct)
	}

	if len(percentages) > 0 {
		report.Period.AverageUtilization = roundFloat(stat.Mean(percentages, nil))
		report.Period.PeakUtilization = floats.Max(percentages)
	}
	return report, nil
}

// UtilizationByResource returns each resource's utilization percentage over w.
// An invalid window yields an empty map.
func (c *UtilizationCalculator) UtilizationByResource(ctx context.Context, w generic.Window) (map[generic.ResourceID]float64, error) {
	out := make(map[generic.ResourceID]float64)
	if !w.Valid() {
		return out, nil
	}
	resources, assignments, absences, err := c.load(ctx, w)
	if err != nil {
		return nil, err
	}
	for _, r := range resources {
		s := summarize(r, w, assignments[r.ID], absences[r.ID])
		out[r.ID], _ = s.UtilizationPercentage.Float64()
	}
	return out, nil
}

func (c *UtilizationCalculator) load(ctx context.Context, w generic.Window) (
	[]generic.Resource,
	map[generic.ResourceID][]generic.TaskAssignment,
	map[generic.ResourceID][]generic.ResourceAbsence,
	error,
) {
	resources, err := c.Repo.ListResources(ctx)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to list resources: %w", err)
	}
	as, err := c.Repo.ListAssignmentsInWindow(ctx, w)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	abs, err := c.Repo.ListAbsencesInWindow(ctx, w)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to list absences: %w", err)
	}

	byResource := make(map[generic.ResourceID][]generic.TaskAssignment)
	for _, a := range as {
		byResource[a.ResourceID] = append(byResource[a.ResourceID], a)
	}
	absByResource := make(map[generic.ResourceID][]generic.ResourceAbsence)
	for _, a := range abs {
		absByResource[a.ResourceID] = append(absByResource[a.ResourceID], a)
	}
	return resources, byResource, absByResource, nil
}

// summarize computes the totals of one resource over w. Assignments without a
// resolvable window are skipped.
func summarize(r generic.Resource, w generic.Window, assignments []generic.TaskAssignment, absences []generic.ResourceAbsence) UtilizationSummary {
	perDay := generic.ResolveCapacity(r)
	days := w.Days()

	allocated := decimal.Zero
	for _, a := range assignments {
		ew, ok := a.EffectiveWindow()
		if !ok {
			continue
		}
		overlap := generic.OverlapDays(ew, w.Start, w.End)
		if overlap == 0 {
			continue
		}
		ratio := generic.NormalizeRatio(a.AllocationRatio, perDay)
		allocated = allocated.Add(ratio.Mul(decimal.NewFromInt(int64(overlap))))
	}

	absent := decimal.Zero
	for _, a := range absences {
		overlap := generic.OverlapDays(a.Window(), w.Start, w.End)
		absent = absent.Add(perDay.Mul(decimal.NewFromInt(int64(overlap))))
	}

	total := perDay.Mul(decimal.NewFromInt(int64(days)))
	available := total.Sub(absent)
	return UtilizationSummary{
		TotalDays:             days,
		TotalCapacity:         total,
		TotalAllocated:        allocated,
		TotalAbsent:           absent,
		AvailableCapacity:     available,
		UtilizationPercentage: generic.Percentage(allocated, available),
	}
}

func roundFloat(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}
