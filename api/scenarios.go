/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for demos. Each scenario creates resource types, resources,
	qualifications, tasks and assignments that show one engine feature.

AVAILABLE SCENARIOS:

	double-booking:         One engineer booked twice in the same week
	priority-rescheduling:  An urgent task blocked by low-priority work
	qualification-matching: Welders at different levels, one demanding task
	absences:               A resource on leave during an unassigned task

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create catalog records via factory.Builder in one transaction
 3. Add manual assignments where the scenario needs existing bookings

All dates are relative to the Monday of the current week, so the default
utilization range always shows the scenario.

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "priority-rescheduling"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Catalog endpoints that scenarios mirror
  - factory/resource.go: JSON definitions used below
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/resource-scheduler/factory"
	"github.com/warp/resource-scheduler/generic"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "double-booking",
		Name:        "Double Booking",
		Description: "One engineer with two overlapping assignments",
	},
	{
		ID:          "priority-rescheduling",
		Name:        "Priority Rescheduling",
		Description: "An urgent task blocked by low-priority work on the only crane",
	},
	{
		ID:          "qualification-matching",
		Name:        "Qualification Matching",
		Description: "Welders at different levels and a task that needs an advanced one",
	},
	{
		ID:          "absences",
		Name:        "Absences",
		Description: "A qualified engineer on leave during an unassigned task",
	},
}

// resetter is implemented by stores that can drop all data.
type resetter interface {
	Reset(ctx context.Context) error
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := h.decode(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}

	if err := h.loadScenario(r.Context(), req.ScenarioID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

func (h *Handler) loadScenario(ctx context.Context, id string) error {
	var loader func(context.Context, *factory.Builder, generic.Store, time.Time) error
	switch id {
	case "double-booking":
		loader = loadDoubleBookingScenario
	case "priority-rescheduling":
		loader = loadPriorityReschedulingScenario
	case "qualification-matching":
		loader = loadQualificationMatchingScenario
	case "absences":
		loader = loadAbsencesScenario
	default:
		return generic.NewInvalidInput("scenario_id", fmt.Sprintf("unknown scenario %q", id))
	}

	rs, ok := h.Store.(resetter)
	if !ok {
		return fmt.Errorf("store does not support reset")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	// Reset first
	if err := rs.Reset(ctx); err != nil {
		return err
	}
	h.currentScenario = ""

	monday := generic.StartOfWeek(h.Now())
	err := h.Store.WithTx(ctx, func(tx generic.Store) error {
		return loader(ctx, factory.NewBuilder(tx), tx, monday)
	})
	if err != nil {
		return fmt.Errorf("failed to load scenario %s: %w", id, err)
	}
	h.invalidate(ctx)

	h.currentScenario = id
	h.Logger.Infof("loaded scenario %s", id)
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func stamp(t time.Time) string {
	return t.Format(time.RFC3339)
}

func hours(v int64) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.NewFromInt(v))
}

func loadDoubleBookingScenario(ctx context.Context, b *factory.Builder, tx generic.Store, monday time.Time) error {
	ann, err := b.Resource(ctx, factory.ResourceJSON{
		Name:          "Ann Keller",
		ResourceType:  &factory.ResourceTypeJSON{Name: "Engineer"},
		CapacityValue: hours(1),
		CapacityUnit:  string(generic.UnitSlots),
	})
	if err != nil {
		return err
	}

	survey, err := b.Task(ctx, factory.TaskJSON{
		Title:    "Site survey",
		StartsAt: stamp(monday),
		EndsAt:   stamp(monday.AddDate(0, 0, 3)),
		Priority: string(generic.PriorityMedium),
	})
	if err != nil {
		return err
	}
	review, err := b.Task(ctx, factory.TaskJSON{
		Title:    "Design review",
		StartsAt: stamp(monday.AddDate(0, 0, 2)),
		EndsAt:   stamp(monday.AddDate(0, 0, 5)),
		Priority: string(generic.PriorityHigh),
	})
	if err != nil {
		return err
	}

	for _, task := range []generic.Task{survey, review} {
		a, err := b.Assignment(factory.AssignmentJSON{TaskID: int64(task.ID), ResourceID: int64(ann.ID)})
		if err != nil {
			return err
		}
		if _, err := tx.CreateAssignment(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

func loadPriorityReschedulingScenario(ctx context.Context, b *factory.Builder, tx generic.Store, monday time.Time) error {
	rt, err := b.ResourceType(ctx, factory.ResourceTypeJSON{Name: "Crane"})
	if err != nil {
		return err
	}
	crane, err := b.Resource(ctx, factory.ResourceJSON{
		Name:           "Tower crane T-1",
		ResourceTypeID: ptrID(int64(rt.ID)),
		CapacityValue:  hours(1),
		CapacityUnit:   string(generic.UnitSlots),
	})
	if err != nil {
		return err
	}

	storage, err := b.Task(ctx, factory.TaskJSON{
		Title:    "Move storage containers",
		StartsAt: stamp(monday),
		EndsAt:   stamp(monday.AddDate(0, 0, 3)),
		Priority: string(generic.PriorityLow),
	})
	if err != nil {
		return err
	}
	a, err := b.Assignment(factory.AssignmentJSON{TaskID: int64(storage.ID), ResourceID: int64(crane.ID)})
	if err != nil {
		return err
	}
	if _, err := tx.CreateAssignment(ctx, a); err != nil {
		return err
	}

	// Unassigned; auto-assign with rescheduling moves the storage work.
	_, err = b.Task(ctx, factory.TaskJSON{
		Title:    "Lift roof trusses",
		StartsAt: stamp(monday.AddDate(0, 0, 1)),
		EndsAt:   stamp(monday.AddDate(0, 0, 2)),
		Priority: string(generic.PriorityUrgent),
	})
	return err
}

func loadQualificationMatchingScenario(ctx context.Context, b *factory.Builder, _ generic.Store, monday time.Time) error {
	welding, err := b.Qualification(ctx, factory.QualificationJSON{
		Name:         "Welding",
		ResourceType: &factory.ResourceTypeJSON{Name: "Technician"},
	})
	if err != nil {
		return err
	}
	typeID := int64(*welding.ResourceTypeID)

	for _, w := range []struct {
		name  string
		level generic.QualificationLevel
	}{
		{"Bea Novak", generic.LevelBeginner},
		{"Cal Ortiz", generic.LevelAdvanced},
		{"Dan Weiss", generic.LevelExpert},
	} {
		_, err := b.ResourceQualification(ctx, factory.ResourceQualificationJSON{
			Resource: &factory.ResourceJSON{
				Name:           w.name,
				ResourceTypeID: &typeID,
				CapacityValue:  hours(8),
				CapacityUnit:   string(generic.UnitHoursPerDay),
			},
			QualificationID: ptrID(int64(welding.ID)),
			Level:           string(w.level),
		})
		if err != nil {
			return err
		}
	}

	_, err = b.Task(ctx, factory.TaskJSON{
		Title:    "Weld pressure vessel seams",
		StartsAt: stamp(monday.AddDate(0, 0, 1)),
		EndsAt:   stamp(monday.AddDate(0, 0, 4)),
		Priority: string(generic.PriorityHigh),
		Requirements: []factory.RequirementJSON{
			{QualificationID: int64(welding.ID), RequiredLevel: string(generic.LevelAdvanced)},
		},
	})
	return err
}

func loadAbsencesScenario(ctx context.Context, b *factory.Builder, _ generic.Store, monday time.Time) error {
	rt, err := b.ResourceType(ctx, factory.ResourceTypeJSON{Name: "Engineer"})
	if err != nil {
		return err
	}
	var ids []generic.ResourceID
	for _, name := range []string{"Eva Lind", "Finn Moser"} {
		r, err := b.Resource(ctx, factory.ResourceJSON{Name: name, ResourceTypeID: ptrID(int64(rt.ID))})
		if err != nil {
			return err
		}
		ids = append(ids, r.ID)
	}

	_, err = b.Absence(ctx, factory.AbsenceJSON{
		ResourceID: int64(ids[0]),
		StartsAt:   stamp(monday),
		EndsAt:     stamp(monday.AddDate(0, 0, 7)),
	})
	if err != nil {
		return err
	}

	_, err = b.Task(ctx, factory.TaskJSON{
		Title:    "Commission control cabinet",
		StartsAt: stamp(monday.AddDate(0, 0, 2)),
		EndsAt:   stamp(monday.AddDate(0, 0, 3)),
		Priority: string(generic.PriorityMedium),
	})
	return err
}

func ptrID(v int64) *int64 { return &v }
