/*
handlers.go - HTTP API handlers for the scheduling engine

PURPOSE:
  Exposes the scheduling engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the scheduling package.

ENDPOINTS:
  Scheduling:
    POST   /api/auto-assign            Place unassigned tasks
    POST   /api/check-conflicts        Conflicts for a resource and window
    POST   /api/conflict-resolution    Substitute resources
    POST   /api/alternative-periods    Shifted conflict-free windows
    GET    /api/utilization            Utilization report

  Catalog:
    GET    /api/resources              List resources
    POST   /api/resources              Create resource (type inline or by id)
    POST   /api/resource-types         Create resource type
    POST   /api/qualifications         Create qualification
    POST   /api/resource-qualifications Link resource and qualification
    GET    /api/tasks                  List tasks
    POST   /api/tasks                  Create task with requirements
    POST   /api/tasks/{id}/requirements Add a requirement
    POST   /api/absences               Record an absence
    GET    /api/assignments            List assignments
    POST   /api/assignments            Manual assignment

  Scenarios:
    GET    /api/scenarios              List demo scenarios
    POST   /api/scenarios/load         Load a demo scenario

WINDOW RESOLUTION:
  The placement queries take optional starts_at/ends_at and an optional
  task_id. Each missing bound is taken from the task. When a bound is
  still missing the query answers "nothing found" rather than failing.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 422: Validation errors, invalid input
  - 404: Referenced entity not found
  - 409: Auto-assign already running
  - 500: Internal errors

SECURITY NOTE:
  No authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/warp/resource-scheduler/factory"
	"github.com/warp/resource-scheduler/generic"
	"github.com/warp/resource-scheduler/logger"
	"github.com/warp/resource-scheduler/scheduling"
	"github.com/warp/resource-scheduler/store/cache"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store  generic.TxStore
	Engine *scheduling.Engine

	// Cache may be nil; Lock is created in-process when nil.
	Cache *cache.Utilization
	Lock  *cache.RunLock

	Search scheduling.PeriodSearch
	Logger logger.Logger
	Now    func() time.Time

	validate *validator.Validate

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler over store and engine.
func NewHandler(store generic.TxStore, engine *scheduling.Engine) *Handler {
	return &Handler{
		Store:    store,
		Engine:   engine,
		Lock:     cache.NewRunLock(nil, 0),
		Search:   scheduling.DefaultPeriodSearch(),
		Logger:   logger.New("api"),
		Now:      time.Now,
		validate: validator.New(),
	}
}

// =============================================================================
// AUTO-ASSIGN
// =============================================================================

// AutoAssign places every unassigned task.
// POST /api/auto-assign
func (h *Handler) AutoAssign(w http.ResponseWriter, r *http.Request) {
	var req AutoAssignRequest
	if err := h.decode(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}

	result, err := h.RunAutoAssign(r.Context(), scheduling.AutoAssignOptions{
		AllowPriorityRescheduling: req.AllowPriorityRescheduling,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// RunAutoAssign runs one batch under the run lock. Shared by the endpoint,
// the background scheduler and the CLI.
func (h *Handler) RunAutoAssign(ctx context.Context, opts scheduling.AutoAssignOptions) (*scheduling.AutoAssignResult, error) {
	release, err := h.Lock.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	// A run that stops early may still have committed placements.
	result, err := h.Engine.AutoAssigner.Run(ctx, opts)
	if result != nil && (result.Assigned > 0 || len(result.Rescheduled) > 0) {
		h.invalidate(context.WithoutCancel(ctx))
	}
	return result, err
}

// =============================================================================
// CONFLICTS AND ALTERNATIVES
// =============================================================================

// CheckConflicts reports what prevents placing work on a resource.
// POST /api/check-conflicts
func (h *Handler) CheckConflicts(w http.ResponseWriter, r *http.Request) {
	var req ConflictCheckRequest
	if err := h.decode(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	ctx := r.Context()

	resource, err := h.Store.GetResource(ctx, generic.ResourceID(req.ResourceID))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	win, ok, _, err := h.resolvePlacement(ctx, req.PlacementRequest)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := ConflictCheckResponse{Conflicts: ConflictsDTO{}}
	if ok {
		report, err := h.Engine.Detector.Detect(ctx, resource, win, req.AllocationRatio, assignmentID(req.ExcludeAssignmentID))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		resp.HasConflicts = report.HasConflicts()
		resp.Conflicts = newConflictsDTO(report)
	}
	writeJSON(w, http.StatusOK, resp)
}

// ConflictResolution proposes substitute resources.
// POST /api/conflict-resolution
func (h *Handler) ConflictResolution(w http.ResponseWriter, r *http.Request) {
	var req ConflictResolutionRequest
	if err := h.decode(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	ctx := r.Context()

	current, err := h.Store.GetResource(ctx, generic.ResourceID(req.CurrentResourceID))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	win, ok, task, err := h.resolvePlacement(ctx, req.PlacementRequest)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := ConflictResolutionResponse{Alternatives: []AlternativeResourceDTO{}}
	if ok {
		alts, err := h.Engine.Resolver.Alternatives(ctx, current, win, task, req.AllocationRatio, assignmentID(req.ExcludeAssignmentID))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		for _, a := range alts {
			resp.Alternatives = append(resp.Alternatives, AlternativeResourceDTO{
				ID:            a.ID,
				Name:          a.Name,
				CapacityValue: a.CapacityValue,
				CapacityUnit:  a.CapacityUnit,
			})
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// AlternativePeriods proposes shifted windows on the same resource.
// POST /api/alternative-periods
func (h *Handler) AlternativePeriods(w http.ResponseWriter, r *http.Request) {
	var req AlternativePeriodsRequest
	if err := h.decode(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	ctx := r.Context()

	resource, err := h.Store.GetResource(ctx, generic.ResourceID(req.ResourceID))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	win, ok, _, err := h.resolvePlacement(ctx, req.PlacementRequest)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	search := h.Search
	if req.MaxAlternatives != nil {
		search.MaxAlternatives = *req.MaxAlternatives
	}
	if req.SearchWindowDays != nil {
		search.SearchWindowDays = *req.SearchWindowDays
	}

	resp := AlternativePeriodsResponse{Periods: []PeriodDTO{}}
	if ok {
		periods, err := h.Engine.Resolver.AlternativePeriods(ctx, resource, win, req.AllocationRatio, assignmentID(req.ExcludeAssignmentID), search)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		for _, p := range periods {
			resp.Periods = append(resp.Periods, PeriodDTO{
				StartsAt: p.Start.Format(scheduling.SummaryTimeLayout),
				EndsAt:   p.End.Format(scheduling.SummaryTimeLayout),
			})
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// resolvePlacement completes the requested window from the task. ok is
// false when a bound cannot be resolved.
func (h *Handler) resolvePlacement(ctx context.Context, req PlacementRequest) (generic.Window, bool, *generic.Task, error) {
	start, err := factory.ParseOptionalTimestamp("starts_at", req.StartsAt)
	if err != nil {
		return generic.Window{}, false, nil, err
	}
	end, err := factory.ParseOptionalTimestamp("ends_at", req.EndsAt)
	if err != nil {
		return generic.Window{}, false, nil, err
	}
	if start != nil && end != nil && !end.After(*start) {
		return generic.Window{}, false, nil, generic.NewInvalidInput("ends_at", "The ends_at field must be a date after starts_at.")
	}

	var task *generic.Task
	if req.TaskID != nil {
		t, err := h.Store.GetTask(ctx, generic.TaskID(*req.TaskID))
		if err != nil {
			return generic.Window{}, false, nil, err
		}
		task = &t
		if start == nil {
			start = t.StartsAt
		}
		if end == nil {
			end = t.EndsAt
		}
	}

	if start == nil || end == nil {
		return generic.Window{}, false, task, nil
	}
	return generic.Window{Start: *start, End: *end}, true, task, nil
}

// =============================================================================
// UTILIZATION
// =============================================================================

// Utilization returns the utilization report.
// GET /api/utilization?start=2026-03-02&end=2026-03-16&granularity=week
func (h *Handler) Utilization(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	g := generic.ParseGranularity(q.Get("granularity"))

	start := generic.StartOfWeek(h.Now())
	if v := q.Get("start"); v != "" {
		t, err := factory.ParseTimestamp("start", v)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		start = t
	}
	end := g.DefaultRangeEnd(start)
	if v := q.Get("end"); v != "" {
		t, err := factory.ParseTimestamp("end", v)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		end = t
	}
	win := generic.Window{Start: start, End: end}

	key := cache.UtilizationKey(win, g)
	var cached scheduling.UtilizationReport
	switch err := h.Cache.Get(ctx, key, &cached); {
	case err == nil:
		writeJSON(w, http.StatusOK, cached)
		return
	case !errors.Is(err, cache.ErrCacheMiss):
		h.Logger.Warnf("utilization cache read failed: %v", err)
	}

	report, err := h.Engine.Utilization.Calculate(ctx, win, g)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := h.Cache.Set(ctx, key, report); err != nil {
		h.Logger.Warnf("utilization cache write failed: %v", err)
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) invalidate(ctx context.Context) {
	if err := h.Cache.Invalidate(ctx); err != nil {
		h.Logger.Warnf("utilization cache invalidation failed: %v", err)
	}
}

// =============================================================================
// CATALOG
// =============================================================================

// ListResources returns all resources by name.
// GET /api/resources
func (h *Handler) ListResources(w http.ResponseWriter, r *http.Request) {
	resources, err := h.Store.ListResources(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]ResourceDTO, len(resources))
	for i, res := range resources {
		dtos[i] = toResourceDTO(res)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateResource creates a resource, and its type when given inline.
// POST /api/resources
func (h *Handler) CreateResource(w http.ResponseWriter, r *http.Request) {
	var req factory.ResourceJSON
	if err := h.decode(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	var created generic.Resource
	err := h.write(r.Context(), func(b *factory.Builder) error {
		var err error
		created, err = b.Resource(r.Context(), req)
		return err
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toResourceDTO(created))
}

// CreateResourceType creates a resource type.
// POST /api/resource-types
func (h *Handler) CreateResourceType(w http.ResponseWriter, r *http.Request) {
	var req factory.ResourceTypeJSON
	if err := h.decode(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	var created generic.ResourceType
	err := h.write(r.Context(), func(b *factory.Builder) error {
		var err error
		created, err = b.ResourceType(r.Context(), req)
		return err
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ResourceTypeDTO{ID: created.ID, Name: created.Name, Description: created.Description})
}

// CreateQualification creates a qualification.
// POST /api/qualifications
func (h *Handler) CreateQualification(w http.ResponseWriter, r *http.Request) {
	var req factory.QualificationJSON
	if err := h.decode(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	var created generic.Qualification
	err := h.write(r.Context(), func(b *factory.Builder) error {
		var err error
		created, err = b.Qualification(r.Context(), req)
		return err
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, QualificationDTO{
		ID:             created.ID,
		Name:           created.Name,
		Description:    created.Description,
		ResourceTypeID: created.ResourceTypeID,
	})
}

// CreateResourceQualification links a resource to a qualification.
// POST /api/resource-qualifications
func (h *Handler) CreateResourceQualification(w http.ResponseWriter, r *http.Request) {
	var req factory.ResourceQualificationJSON
	if err := h.decode(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	var created generic.ResourceQualification
	err := h.write(r.Context(), func(b *factory.Builder) error {
		var err error
		created, err = b.ResourceQualification(r.Context(), req)
		return err
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ResourceQualificationDTO{
		ID:              created.ID,
		ResourceID:      created.ResourceID,
		QualificationID: created.QualificationID,
		Level:           created.Level,
	})
}

// ListTasks returns all tasks with their requirements.
// GET /api/tasks
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.Store.ListTasks(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]TaskDTO, len(tasks))
	for i, t := range tasks {
		dtos[i] = toTaskDTO(t)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateTask creates a task and its requirements.
// POST /api/tasks
func (h *Handler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req factory.TaskJSON
	if err := h.decode(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	var created generic.Task
	err := h.write(r.Context(), func(b *factory.Builder) error {
		var err error
		created, err = b.Task(r.Context(), req)
		return err
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTaskDTO(created))
}

// AddRequirement adds a requirement to a task.
// POST /api/tasks/{id}/requirements
func (h *Handler) AddRequirement(w http.ResponseWriter, r *http.Request) {
	taskID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeDomainError(w, generic.NewInvalidInput("id", "task id must be a number"))
		return
	}
	var req factory.RequirementJSON
	if err := h.decode(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	var created generic.TaskRequirement
	err = h.write(r.Context(), func(b *factory.Builder) error {
		var err error
		created, err = b.Requirement(r.Context(), generic.TaskID(taskID), req)
		return err
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRequirementDTO(created))
}

// CreateAbsence records a resource absence.
// POST /api/absences
func (h *Handler) CreateAbsence(w http.ResponseWriter, r *http.Request) {
	var req factory.AbsenceJSON
	if err := h.decode(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	var created generic.ResourceAbsence
	err := h.write(r.Context(), func(b *factory.Builder) error {
		var err error
		created, err = b.Absence(r.Context(), req)
		return err
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, AbsenceDTO{
		ID:             created.ID,
		ResourceID:     created.ResourceID,
		StartsAt:       created.StartsAt.Format(scheduling.SummaryTimeLayout),
		EndsAt:         created.EndsAt.Format(scheduling.SummaryTimeLayout),
		RecurrenceRule: created.RecurrenceRule,
	})
}

// ListAssignments returns all assignments.
// GET /api/assignments
func (h *Handler) ListAssignments(w http.ResponseWriter, r *http.Request) {
	assignments, err := h.Store.ListAssignments(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]AssignmentDTO, len(assignments))
	for i, a := range assignments {
		dtos[i] = toAssignmentDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateAssignment records a manual assignment. Conflicts are not checked;
// clients call check-conflicts first.
// POST /api/assignments
func (h *Handler) CreateAssignment(w http.ResponseWriter, r *http.Request) {
	var req factory.AssignmentJSON
	if err := h.decode(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	ctx := r.Context()
	a, err := factory.NewBuilder(h.Store).Assignment(req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	created, err := h.Store.CreateAssignment(ctx, a)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	h.invalidate(ctx)
	writeJSON(w, http.StatusCreated, toAssignmentDTO(created))
}

// write runs fn in one transaction and drops cached utilization on success.
func (h *Handler) write(ctx context.Context, fn func(*factory.Builder) error) error {
	err := h.Store.WithTx(ctx, func(tx generic.Store) error {
		return fn(factory.NewBuilder(tx))
	})
	if err != nil {
		return err
	}
	h.invalidate(ctx)
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// decode reads a JSON body into dst and validates it. An empty body decodes
// to the zero value.
func (h *Handler) decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return generic.NewInvalidInput("body", "Invalid request body")
	}
	return h.validate.Struct(dst)
}

func assignmentID(id *int64) *generic.AssignmentID {
	if id == nil {
		return nil
	}
	a := generic.AssignmentID(*id)
	return &a
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps an error to its HTTP status.
func writeDomainError(w http.ResponseWriter, err error) {
	var invalid *generic.InvalidInputError
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		writeError(w, http.StatusUnprocessableEntity, "Validation failed", verrs)
	case errors.As(err, &invalid):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: invalid.Reason, Details: invalid.Field})
	case generic.IsClientError(err):
		writeError(w, http.StatusUnprocessableEntity, "Invalid input", err)
	case generic.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case generic.IsConflict(err):
		writeError(w, http.StatusConflict, "Conflict", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal server error", err)
	}
}
