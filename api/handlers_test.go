/*
handlers_test.go - HTTP tests for API handlers

Tests for:
- check-conflicts (free, double booking, overload, absence, exclusion,
  task-date fallback, unresolvable dates, validation)
- conflict-resolution and alternative-periods
- utilization defaults
- auto-assign and the run lock
- catalog creation errors
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/resource-scheduler/factory"
	"github.com/warp/resource-scheduler/generic"
	"github.com/warp/resource-scheduler/scheduling"
	"github.com/warp/resource-scheduler/store/sqlite"
)

// =============================================================================
// TEST SERVER
// =============================================================================

type testServer struct {
	t       *testing.T
	ctx     context.Context
	store   *sqlite.Store
	handler *Handler
	router  http.Handler
	builder *factory.Builder
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	h := NewHandler(store, scheduling.NewEngine(store, nil, nil))
	// Wednesday; the default utilization range starts Monday 2026-03-02.
	h.Now = func() time.Time { return time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC) }

	reg := prometheus.NewRegistry()
	return &testServer{
		t:       t,
		ctx:     context.Background(),
		store:   store,
		handler: h,
		router:  NewRouter(h, RouterOptions{Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}),
		builder: factory.NewBuilder(store),
	}
}

func (s *testServer) do(method, path string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) post(path string, body any) *httptest.ResponseRecorder {
	return s.do(http.MethodPost, path, body)
}

func (s *testServer) get(path string) *httptest.ResponseRecorder {
	return s.do(http.MethodGet, path, nil)
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (s *testServer) resource(name string, capacity float64) generic.Resource {
	s.t.Helper()
	r, err := s.builder.Resource(s.ctx, factory.ResourceJSON{
		Name:          name,
		ResourceType:  &factory.ResourceTypeJSON{Name: "Engineer"},
		CapacityValue: decimal.NewNullDecimal(decimal.NewFromFloat(capacity)),
		CapacityUnit:  string(generic.UnitHoursPerDay),
	})
	require.NoError(s.t, err)
	return r
}

func (s *testServer) task(title, start, end string, priority generic.Priority) generic.Task {
	s.t.Helper()
	task, err := s.builder.Task(s.ctx, factory.TaskJSON{Title: title, StartsAt: start, EndsAt: end, Priority: string(priority)})
	require.NoError(s.t, err)
	return task
}

func (s *testServer) assign(r generic.Resource, start, end string, ratio float64) generic.TaskAssignment {
	s.t.Helper()
	task := s.task("Existing work", "", "", generic.PriorityLow)
	a, err := s.builder.Assignment(factory.AssignmentJSON{
		TaskID:          int64(task.ID),
		ResourceID:      int64(r.ID),
		StartsAt:        start,
		EndsAt:          end,
		AllocationRatio: decimal.NewNullDecimal(decimal.NewFromFloat(ratio)),
	})
	require.NoError(s.t, err)
	created, err := s.store.CreateAssignment(s.ctx, a)
	require.NoError(s.t, err)
	return created
}

type conflictBody struct {
	HasConflicts bool                   `json:"has_conflicts"`
	Conflicts    map[string]ConflictDTO `json:"conflicts"`
}

// =============================================================================
// CHECK CONFLICTS
// =============================================================================

func TestCheckConflicts_FreeResource(t *testing.T) {
	// GIVEN: A resource with nothing booked
	s := newTestServer(t)
	r := s.resource("Ann", 1)

	// WHEN
	rec := s.post("/api/check-conflicts", map[string]any{
		"resource_id":      r.ID,
		"starts_at":        "2026-03-01",
		"ends_at":          "2026-03-05",
		"allocation_ratio": 0.5,
	})

	// THEN
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"has_conflicts": false, "conflicts": {}}`, rec.Body.String())
}

func TestCheckConflicts_DoubleBooking(t *testing.T) {
	// GIVEN: An existing 0.6 booking Mar 1-5
	s := newTestServer(t)
	r := s.resource("Ann", 1)
	existing := s.assign(r, "2026-03-01", "2026-03-05", 0.6)

	// WHEN: Another 0.6 is requested for Mar 3-7
	rec := s.post("/api/check-conflicts", map[string]any{
		"resource_id":      r.ID,
		"starts_at":        "2026-03-03",
		"ends_at":          "2026-03-07",
		"allocation_ratio": 0.6,
	})

	// THEN: Double booked, then overloaded, both pointing at the booking
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[conflictBody](t, rec)
	assert.True(t, body.HasConflicts)
	assert.Equal(t, "Double booked", body.Conflicts["double_booked"].Label)
	assert.Equal(t, []int64{int64(existing.ID)}, body.Conflicts["double_booked"].RelatedIDs)

	overload := body.Conflicts["overloaded"]
	require.NotNil(t, overload.Metrics)
	assert.True(t, overload.Metrics.TotalAllocation.Equal(decimal.NewFromFloat(1.2)))
	assert.True(t, overload.Metrics.Capacity.Equal(decimal.NewFromInt(1)))
	assert.Equal(t, generic.UnitHoursPerDay, overload.Metrics.CapacityUnit)

	raw := rec.Body.String()
	assert.Less(t, strings.Index(raw, `"double_booked"`), strings.Index(raw, `"overloaded"`))
	assert.Contains(t, raw, `"total_allocation":1.2`)
}

func TestCheckConflicts_Overload(t *testing.T) {
	s := newTestServer(t)
	r := s.resource("Ann", 1)

	rec := s.post("/api/check-conflicts", map[string]any{
		"resource_id":      r.ID,
		"starts_at":        "2026-03-02",
		"ends_at":          "2026-03-04",
		"allocation_ratio": 1.4,
	})

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[conflictBody](t, rec)
	assert.True(t, body.HasConflicts)
	assert.Equal(t, "Over capacity", body.Conflicts["overloaded"].Label)
	assert.NotContains(t, body.Conflicts, "double_booked")
}

func TestCheckConflicts_Unavailability(t *testing.T) {
	// GIVEN: An absence Mar 2-4
	s := newTestServer(t)
	r := s.resource("Ann", 1)
	absence, err := s.builder.Absence(s.ctx, factory.AbsenceJSON{ResourceID: int64(r.ID), StartsAt: "2026-03-02", EndsAt: "2026-03-04"})
	require.NoError(t, err)

	// WHEN
	rec := s.post("/api/check-conflicts", map[string]any{
		"resource_id":      r.ID,
		"starts_at":        "2026-03-01",
		"ends_at":          "2026-03-05",
		"allocation_ratio": 0.5,
	})

	// THEN
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[conflictBody](t, rec)
	assert.True(t, body.HasConflicts)
	assert.Equal(t, "Unavailable", body.Conflicts["unavailable"].Label)
	assert.Equal(t, []int64{int64(absence.ID)}, body.Conflicts["unavailable"].RelatedIDs)
}

func TestCheckConflicts_ExcludesCurrentAssignment(t *testing.T) {
	s := newTestServer(t)
	r := s.resource("Ann", 1)
	existing := s.assign(r, "2026-03-01", "2026-03-05", 0.5)

	rec := s.post("/api/check-conflicts", map[string]any{
		"resource_id":           r.ID,
		"starts_at":             "2026-03-01",
		"ends_at":               "2026-03-05",
		"allocation_ratio":      0.5,
		"exclude_assignment_id": existing.ID,
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"has_conflicts": false, "conflicts": {}}`, rec.Body.String())
}

func TestCheckConflicts_FallsBackToTaskDates(t *testing.T) {
	// GIVEN: A dated task and an absence inside it
	s := newTestServer(t)
	r := s.resource("Ann", 1)
	task := s.task("Inspection", "2026-03-01", "2026-03-05", generic.PriorityMedium)
	_, err := s.builder.Absence(s.ctx, factory.AbsenceJSON{ResourceID: int64(r.ID), StartsAt: "2026-03-02", EndsAt: "2026-03-04"})
	require.NoError(t, err)

	// WHEN: Only the task is given
	rec := s.post("/api/check-conflicts", map[string]any{
		"resource_id":      r.ID,
		"task_id":          task.ID,
		"allocation_ratio": 0.5,
	})

	// THEN: The task window is checked
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeBody[conflictBody](t, rec).HasConflicts)
}

func TestCheckConflicts_NoResolvableDates(t *testing.T) {
	s := newTestServer(t)
	r := s.resource("Ann", 1)

	rec := s.post("/api/check-conflicts", map[string]any{"resource_id": r.ID})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"has_conflicts": false, "conflicts": {}}`, rec.Body.String())
}

func TestCheckConflicts_Validation(t *testing.T) {
	s := newTestServer(t)
	r := s.resource("Ann", 1)

	tests := []struct {
		name string
		body any
		want int
	}{
		{"missing resource_id", map[string]any{"starts_at": "2026-03-01", "ends_at": "2026-03-05"}, http.StatusUnprocessableEntity},
		{"unknown resource", map[string]any{"resource_id": 999}, http.StatusNotFound},
		{"unknown task", map[string]any{"resource_id": r.ID, "task_id": 999}, http.StatusNotFound},
		{"end before start", map[string]any{"resource_id": r.ID, "starts_at": "2026-03-05", "ends_at": "2026-03-01"}, http.StatusUnprocessableEntity},
		{"bad date", map[string]any{"resource_id": r.ID, "starts_at": "soon"}, http.StatusUnprocessableEntity},
		{"malformed body", `{"resource_id":`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.post("/api/check-conflicts", tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decodeBody[ErrorResponse](t, rec).Error)
		})
	}
}

// =============================================================================
// ALTERNATIVES
// =============================================================================

func TestConflictResolution_SuggestsSameTypeResources(t *testing.T) {
	// GIVEN: Ann is booked; Bob shares her type
	s := newTestServer(t)
	ann := s.resource("Ann", 1)
	bob, err := s.builder.Resource(s.ctx, factory.ResourceJSON{Name: "Bob", ResourceTypeID: ptrID(int64(*ann.ResourceTypeID))})
	require.NoError(t, err)
	s.assign(ann, "2026-03-01", "2026-03-05", 1)

	// WHEN
	rec := s.post("/api/conflict-resolution", map[string]any{
		"current_resource_id": ann.ID,
		"starts_at":           "2026-03-02",
		"ends_at":             "2026-03-03",
	})

	// THEN
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[ConflictResolutionResponse](t, rec)
	require.Len(t, body.Alternatives, 1)
	assert.Equal(t, bob.ID, body.Alternatives[0].ID)
	assert.Contains(t, rec.Body.String(), `"capacity_value":null`)
}

func TestConflictResolution_EmptyWithoutWindow(t *testing.T) {
	s := newTestServer(t)
	ann := s.resource("Ann", 1)

	rec := s.post("/api/conflict-resolution", map[string]any{"current_resource_id": ann.ID})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"alternatives": []}`, rec.Body.String())
}

func TestAlternativePeriods_ShiftsPastBooking(t *testing.T) {
	// GIVEN: Ann is booked Mar 2-4
	s := newTestServer(t)
	ann := s.resource("Ann", 1)
	s.assign(ann, "2026-03-02", "2026-03-04", 1)

	// WHEN: Asking for one alternative to Mar 2-3
	rec := s.post("/api/alternative-periods", map[string]any{
		"resource_id":      ann.ID,
		"starts_at":        "2026-03-02",
		"ends_at":          "2026-03-03",
		"max_alternatives": 1,
	})

	// THEN: The first free day is offered
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[AlternativePeriodsResponse](t, rec)
	require.Len(t, body.Periods, 1)
	assert.Equal(t, PeriodDTO{StartsAt: "2026-03-04 00:00:00", EndsAt: "2026-03-05 00:00:00"}, body.Periods[0])
}

func TestAlternativePeriods_RejectsLargeSearch(t *testing.T) {
	s := newTestServer(t)
	ann := s.resource("Ann", 1)

	rec := s.post("/api/alternative-periods", map[string]any{"resource_id": ann.ID, "search_window_days": 1000})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

// =============================================================================
// UTILIZATION
// =============================================================================

func TestUtilization_DefaultRange(t *testing.T) {
	s := newTestServer(t)
	s.resource("Ann", 8)

	rec := s.get("/api/utilization")

	require.Equal(t, http.StatusOK, rec.Code)
	report := decodeBody[scheduling.UtilizationReport](t, rec)
	assert.Equal(t, "2026-03-02", report.Period.Start)
	assert.Equal(t, "2026-03-30", report.Period.End)
	assert.Equal(t, generic.GranularityWeek, report.Period.Granularity)
	require.Len(t, report.Resources, 1)
	assert.Len(t, report.Resources[0].Buckets, 4)
}

func TestUtilization_DayGranularityAndExplicitRange(t *testing.T) {
	s := newTestServer(t)
	ann := s.resource("Ann", 8)
	s.assign(ann, "2026-03-02", "2026-03-04", 4)

	rec := s.get("/api/utilization?start=2026-03-02&end=2026-03-06&granularity=day")

	require.Equal(t, http.StatusOK, rec.Code)
	report := decodeBody[scheduling.UtilizationReport](t, rec)
	require.Len(t, report.Resources, 1)
	summary := report.Resources[0].Summary
	assert.Equal(t, 4, summary.TotalDays)
	assert.True(t, summary.TotalAllocated.Equal(decimal.NewFromInt(8)), summary.TotalAllocated.String())
	assert.True(t, summary.UtilizationPercentage.Equal(decimal.NewFromInt(25)), summary.UtilizationPercentage.String())
	assert.Len(t, report.Resources[0].Buckets, 4)
}

func TestUtilization_BadStart(t *testing.T) {
	s := newTestServer(t)
	rec := s.get("/api/utilization?start=yesterday")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

// =============================================================================
// AUTO-ASSIGN
// =============================================================================

func TestAutoAssign_PlacesTask(t *testing.T) {
	// GIVEN: One resource and one unassigned dated task
	s := newTestServer(t)
	ann := s.resource("Ann", 1)
	task := s.task("Install", "2026-03-02", "2026-03-04", generic.PriorityHigh)

	// WHEN: Auto-assign runs with an empty body
	rec := s.post("/api/auto-assign", nil)

	// THEN
	require.Equal(t, http.StatusOK, rec.Code)
	result := decodeBody[scheduling.AutoAssignResult](t, rec)
	assert.Equal(t, 1, result.Assigned)
	assert.Equal(t, 0, result.Skipped)
	assert.NotEmpty(t, result.RunID)

	list := decodeBody[[]AssignmentDTO](t, s.get("/api/assignments"))
	require.Len(t, list, 1)
	assert.Equal(t, task.ID, list[0].TaskID)
	assert.Equal(t, ann.ID, list[0].ResourceID)
	assert.Equal(t, "automated", list[0].AssignmentSource)
}

func TestAutoAssign_ConflictWhileRunning(t *testing.T) {
	s := newTestServer(t)
	release, err := s.handler.Lock.Acquire(s.ctx)
	require.NoError(t, err)
	defer release()

	rec := s.post("/api/auto-assign", map[string]any{"allow_priority_rescheduling": true})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

// =============================================================================
// CATALOG
// =============================================================================

func TestCreateResource_RejectsBothTypeForms(t *testing.T) {
	s := newTestServer(t)

	rec := s.post("/api/resources", map[string]any{
		"name":             "Ann",
		"resource_type_id": 1,
		"resource_type":    map[string]any{"name": "Engineer"},
	})

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "Provide either resource_type_id or resource_type data, not both.", body.Error)
	assert.Equal(t, "resource_type", body.Details)
}

func TestCreateResource_InlineTypeAndList(t *testing.T) {
	s := newTestServer(t)

	rec := s.post("/api/resources", map[string]any{
		"name":           "Crane A",
		"resource_type":  map[string]any{"name": "Crane"},
		"capacity_value": 2,
		"capacity_unit":  "slots",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[ResourceDTO](t, rec)
	assert.NotNil(t, created.ResourceTypeID)

	list := decodeBody[[]ResourceDTO](t, s.get("/api/resources"))
	require.Len(t, list, 1)
	assert.True(t, list[0].CapacityValue.Decimal.Equal(decimal.NewFromInt(2)))
}

func TestCreateTask_WithRequirementEndpoint(t *testing.T) {
	s := newTestServer(t)
	q, err := s.builder.Qualification(s.ctx, factory.QualificationJSON{Name: "Rigging"})
	require.NoError(t, err)

	rec := s.post("/api/tasks", map[string]any{"title": "Lift", "priority": "urgent", "starts_at": "2026-03-02", "ends_at": "2026-03-03"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	task := decodeBody[TaskDTO](t, rec)
	assert.Equal(t, "2026-03-02 00:00:00", *task.StartsAt)

	rec = s.post("/api/tasks/"+strconv.FormatInt(int64(task.ID), 10)+"/requirements", map[string]any{"qualification_id": q.ID, "required_level": "advanced"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	tasks := decodeBody[[]TaskDTO](t, s.get("/api/tasks"))
	require.Len(t, tasks, 1)
	require.Len(t, tasks[0].Requirements, 1)
	assert.Equal(t, generic.LevelAdvanced, tasks[0].Requirements[0].RequiredLevel)
}

func TestCreateTask_ValidatorRejectsUnknownPriority(t *testing.T) {
	s := newTestServer(t)
	rec := s.post("/api/tasks", map[string]any{"title": "Lift", "priority": "critical"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "Validation failed", decodeBody[ErrorResponse](t, rec).Error)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)
	assert.Equal(t, http.StatusOK, s.get("/healthz").Code)
	assert.Equal(t, http.StatusOK, s.get("/metrics").Code)
}
