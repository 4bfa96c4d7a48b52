package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/resource-scheduler/scheduling"
)

func (s *testServer) loadScenario(id string) {
	s.t.Helper()
	rec := s.post("/api/scenarios/load", map[string]any{"scenario_id": id})
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())
}

func resourceNamed(t *testing.T, s *testServer, name string) ResourceDTO {
	t.Helper()
	for _, r := range decodeBody[[]ResourceDTO](t, s.get("/api/resources")) {
		if r.Name == name {
			return r
		}
	}
	t.Fatalf("resource %q not found", name)
	return ResourceDTO{}
}

func TestScenarios_List(t *testing.T) {
	s := newTestServer(t)

	list := decodeBody[[]ScenarioDTO](t, s.get("/api/scenarios"))

	require.Len(t, list, 4)
	assert.Equal(t, "double-booking", list[0].ID)
}

func TestScenarios_LoadEach(t *testing.T) {
	for _, sc := range scenarios {
		t.Run(sc.ID, func(t *testing.T) {
			s := newTestServer(t)
			s.loadScenario(sc.ID)

			current := decodeBody[ScenarioDTO](t, s.get("/api/scenarios/current"))
			assert.Equal(t, sc.ID, current.ID)
			assert.NotEmpty(t, decodeBody[[]ResourceDTO](t, s.get("/api/resources")))
			assert.NotEmpty(t, decodeBody[[]TaskDTO](t, s.get("/api/tasks")))
		})
	}
}

func TestScenarios_LoadResetsPreviousData(t *testing.T) {
	// GIVEN: A scenario loaded twice
	s := newTestServer(t)
	s.loadScenario("absences")
	s.loadScenario("absences")

	// THEN: Nothing is duplicated
	assert.Len(t, decodeBody[[]ResourceDTO](t, s.get("/api/resources")), 2)
	assert.Len(t, decodeBody[[]TaskDTO](t, s.get("/api/tasks")), 1)
}

func TestScenarios_UnknownID(t *testing.T) {
	s := newTestServer(t)

	rec := s.post("/api/scenarios/load", map[string]any{"scenario_id": "nope"})

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "null\n", s.get("/api/scenarios/current").Body.String())
}

func TestScenario_DoubleBooking(t *testing.T) {
	s := newTestServer(t)
	s.loadScenario("double-booking")
	ann := resourceNamed(t, s, "Ann Keller")

	assignments := decodeBody[[]AssignmentDTO](t, s.get("/api/assignments"))
	require.Len(t, assignments, 2)

	rec := s.post("/api/check-conflicts", map[string]any{
		"resource_id":           ann.ID,
		"task_id":               assignments[0].TaskID,
		"exclude_assignment_id": assignments[0].ID,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[conflictBody](t, rec)
	assert.True(t, body.HasConflicts)
	assert.Equal(t, []int64{int64(assignments[1].ID)}, body.Conflicts["double_booked"].RelatedIDs)
}

func TestScenario_PriorityRescheduling(t *testing.T) {
	// GIVEN: The crane is booked by low-priority work
	s := newTestServer(t)
	s.loadScenario("priority-rescheduling")

	// WHEN: Auto-assign runs without rescheduling
	result := decodeBody[scheduling.AutoAssignResult](t, s.post("/api/auto-assign", nil))

	// THEN: The urgent task is skipped with a suggestion
	assert.Equal(t, 0, result.Assigned)
	assert.Equal(t, 1, result.Skipped)
	require.Len(t, result.Suggestions, 1)
	assert.Equal(t, "Lift roof trusses", result.Suggestions[0].Task.Title)
	require.Len(t, result.Suggestions[0].Resources, 1)
	assert.Equal(t, []string{"double_booked", "overloaded"}, result.Suggestions[0].Resources[0].ConflictTypes)
	assert.Equal(t, "Move storage containers", result.Suggestions[0].Resources[0].BlockingAssignments[0].TaskTitle)

	// WHEN: Auto-assign runs with rescheduling
	result = decodeBody[scheduling.AutoAssignResult](t, s.post("/api/auto-assign", map[string]any{"allow_priority_rescheduling": true}))

	// THEN: The storage work moves to Wednesday and the urgent task is placed
	assert.Equal(t, 1, result.Assigned)
	require.Len(t, result.Rescheduled, 1)
	moved := result.Rescheduled[0]
	assert.Equal(t, "2026-03-02 00:00:00", moved.Previous.StartsAt)
	assert.Equal(t, "2026-03-04 00:00:00", moved.New.StartsAt)
	assert.Equal(t, "2026-03-07 00:00:00", moved.New.EndsAt)
	assert.Len(t, decodeBody[[]AssignmentDTO](t, s.get("/api/assignments")), 2)
}

func TestScenario_QualificationMatching(t *testing.T) {
	s := newTestServer(t)
	s.loadScenario("qualification-matching")
	bea := resourceNamed(t, s, "Bea Novak")

	result := decodeBody[scheduling.AutoAssignResult](t, s.post("/api/auto-assign", nil))
	require.Equal(t, 1, result.Assigned)

	assignments := decodeBody[[]AssignmentDTO](t, s.get("/api/assignments"))
	require.Len(t, assignments, 1)
	assert.NotEqual(t, bea.ID, assignments[0].ResourceID)
}

func TestScenario_Absences(t *testing.T) {
	s := newTestServer(t)
	s.loadScenario("absences")
	finn := resourceNamed(t, s, "Finn Moser")

	result := decodeBody[scheduling.AutoAssignResult](t, s.post("/api/auto-assign", nil))
	require.Equal(t, 1, result.Assigned)

	assignments := decodeBody[[]AssignmentDTO](t, s.get("/api/assignments"))
	require.Len(t, assignments, 1)
	assert.Equal(t, finn.ID, assignments[0].ResourceID)
}
