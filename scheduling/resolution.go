package scheduling

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/warp/resource-scheduler/generic"
)

// =============================================================================
// PERIOD SEARCH
// =============================================================================

// PeriodSearch bounds the forward search for shifted windows.
type PeriodSearch struct {
	MaxAlternatives  int
	SearchWindowDays int
}

func DefaultPeriodSearch() PeriodSearch {
	return PeriodSearch{MaxAlternatives: 3, SearchWindowDays: 30}
}

// =============================================================================
// RESOLVER
// =============================================================================

// Resolver proposes substitute resources and shifted periods.
type Resolver struct {
	Detector    *Detector
	Utilization *UtilizationCalculator
	Repo        generic.Repository
}

func NewResolver(repo generic.Repository, detector *Detector, util *UtilizationCalculator) *Resolver {
	return &Resolver{Repo: repo, Detector: detector, Utilization: util}
}

func (r *Resolver) WithRepository(repo generic.Repository) *Resolver {
	return &Resolver{
		Repo:        repo,
		Detector:    r.Detector.WithRepository(repo),
		Utilization: r.Utilization.WithRepository(repo),
	}
}

// Alternatives returns conflict-free substitutes for current over w, least
// utilized first. With a task, candidates must meet every requirement;
// without one, they must share current's resource type.
func (r *Resolver) Alternatives(ctx context.Context, current generic.Resource, w generic.Window, task *generic.Task, allocation decimal.NullDecimal, exclude *generic.AssignmentID) ([]generic.Resource, error) {
	if !w.Valid() {
		return []generic.Resource{}, nil
	}

	var pool []generic.Resource
	var err error
	if task != nil {
		pool, err = r.Repo.FindResourcesMatching(ctx, task.Requirements)
	} else {
		pool, err = r.Repo.ListResourcesByType(ctx, current.ResourceTypeID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load candidate resources: %w", err)
	}

	candidates := make([]generic.Resource, 0, len(pool))
	for _, c := range pool {
		if c.ID != current.ID {
			candidates = append(candidates, c)
		}
	}

	util, err := r.Utilization.UtilizationByResource(ctx, w)
	if err != nil {
		return nil, err
	}
	RankByUtilization(candidates, util)

	out := []generic.Resource{}
	for _, c := range candidates {
		report, err := r.Detector.Detect(ctx, c, w, allocation, exclude)
		if err != nil {
			return nil, err
		}
		if !report.HasConflicts() {
			out = append(out, c)
		}
	}
	return out, nil
}

// AlternativePeriods shifts w forward one day at a time, up to
// opts.SearchWindowDays days, and returns the first opts.MaxAlternatives
// conflict-free windows.
func (r *Resolver) AlternativePeriods(ctx context.Context, resource generic.Resource, w generic.Window, allocation decimal.NullDecimal, exclude *generic.AssignmentID, opts PeriodSearch) ([]generic.Window, error) {
	out := []generic.Window{}
	if !w.Valid() || opts.MaxAlternatives <= 0 {
		return out, nil
	}
	err := r.probe(ctx, resource, w, allocation, excludeList(exclude), opts.SearchWindowDays, func(candidate generic.Window) bool {
		out = append(out, candidate)
		return len(out) < opts.MaxAlternatives
	}, nil)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// NextFreePeriod returns the first forward shift of w that is conflict-free
// for resource and overlaps none of avoid. Assignments in excludes are
// ignored by the conflict check.
func (r *Resolver) NextFreePeriod(ctx context.Context, resource generic.Resource, w generic.Window, allocation decimal.NullDecimal, excludes []generic.AssignmentID, avoid []generic.Window, searchDays int) (generic.Window, bool, error) {
	var found generic.Window
	ok := false
	if !w.Valid() {
		return found, false, nil
	}
	err := r.probe(ctx, resource, w, allocation, excludes, searchDays, func(candidate generic.Window) bool {
		found, ok = candidate, true
		return false
	}, func(candidate generic.Window) bool {
		for _, a := range avoid {
			if a.Overlaps(candidate) {
				return false
			}
		}
		return true
	})
	return found, ok, err
}

// probe walks offsets 1..max(searchDays,1). accept filters a window before the
// conflict check; found is called for each free window and returns whether to
// keep searching.
func (r *Resolver) probe(ctx context.Context, resource generic.Resource, w generic.Window, allocation decimal.NullDecimal, excludes []generic.AssignmentID, searchDays int, found func(generic.Window) bool, accept func(generic.Window) bool) error {
	if searchDays < 1 {
		searchDays = 1
	}
	for offset := 1; offset <= searchDays; offset++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		candidate := w.ShiftDays(offset)
		if accept != nil && !accept(candidate) {
			continue
		}
		report, err := r.Detector.detect(ctx, resource, candidate, allocation, excludes)
		if err != nil {
			return err
		}
		if report.HasConflicts() {
			continue
		}
		if !found(candidate) {
			return nil
		}
	}
	return nil
}

// RankByUtilization sorts resources by ascending utilization, keeping the
// incoming order for ties. Resources missing from util rank last.
func RankByUtilization(resources []generic.Resource, util map[generic.ResourceID]float64) {
	value := func(id generic.ResourceID) float64 {
		if v, ok := util[id]; ok {
			return v
		}
		return math.Inf(1)
	}
	sort.SliceStable(resources, func(i, j int) bool {
		return value(resources[i].ID) < value(resources[j].ID)
	})
}

func excludeList(exclude *generic.AssignmentID) []generic.AssignmentID {
	if exclude == nil {
		return nil
	}
	return []generic.AssignmentID{*exclude}
}
