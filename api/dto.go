/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Scheduling:
    AutoAssignRequest, ConflictCheckRequest, ConflictCheckResponse,
    ConflictResolutionRequest, AlternativePeriodsRequest, PeriodDTO

  Catalog:
    ResourceDTO, TaskDTO, AssignmentDTO and friends; request bodies are
    the factory JSON types

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Request structs carry go-playground/validator tags, checked by
  Handler.decode before any store access. Dates stay strings here and are
  parsed with factory.ParseTimestamp so every endpoint accepts the same
  formats.

DECIMALS:
  Capacity, allocation and utilization values are shopspring decimals and
  are written as bare JSON numbers.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/resource.go: Catalog JSON types
*/
package api

import (
	"bytes"
	"encoding/json"

	"github.com/shopspring/decimal"
	"github.com/warp/resource-scheduler/generic"
	"github.com/warp/resource-scheduler/scheduling"
)

func init() {
	decimal.MarshalJSONWithoutQuotes = true
}

// =============================================================================
// SCHEDULING REQUESTS
// =============================================================================

type AutoAssignRequest struct {
	AllowPriorityRescheduling bool `json:"allow_priority_rescheduling"`
}

// PlacementRequest is the part shared by the placement queries: a window,
// optionally completed from a task, and the allocation to test.
type PlacementRequest struct {
	TaskID              *int64              `json:"task_id,omitempty" validate:"omitempty,gt=0"`
	StartsAt            string              `json:"starts_at,omitempty"`
	EndsAt              string              `json:"ends_at,omitempty"`
	AllocationRatio     decimal.NullDecimal `json:"allocation_ratio"`
	ExcludeAssignmentID *int64              `json:"exclude_assignment_id,omitempty" validate:"omitempty,gt=0"`
}

type ConflictCheckRequest struct {
	ResourceID int64 `json:"resource_id" validate:"required,gt=0"`
	PlacementRequest
}

type ConflictResolutionRequest struct {
	CurrentResourceID int64 `json:"current_resource_id" validate:"required,gt=0"`
	PlacementRequest
}

type AlternativePeriodsRequest struct {
	ResourceID       int64 `json:"resource_id" validate:"required,gt=0"`
	MaxAlternatives  *int  `json:"max_alternatives,omitempty" validate:"omitempty,gte=0,lte=20"`
	SearchWindowDays *int  `json:"search_window_days,omitempty" validate:"omitempty,gte=0,lte=365"`
	PlacementRequest
}

// =============================================================================
// SCHEDULING RESPONSES
// =============================================================================

type ConflictDTO struct {
	Label       string                      `json:"label"`
	Description string                      `json:"description"`
	RelatedIDs  []int64                     `json:"related_ids"`
	Metrics     *scheduling.OverloadMetrics `json:"metrics,omitempty"`
}

// ConflictsDTO keeps conflict types in detection order when encoded.
type ConflictsDTO struct {
	types   []scheduling.ConflictType
	entries map[scheduling.ConflictType]ConflictDTO
}

func newConflictsDTO(report *scheduling.ConflictReport) ConflictsDTO {
	out := ConflictsDTO{entries: make(map[scheduling.ConflictType]ConflictDTO)}
	for _, t := range report.Types() {
		dto := ConflictDTO{
			Label:       t.Label(),
			Description: t.Description(),
			RelatedIDs:  report.RelatedIDs(t),
		}
		for _, e := range report.For(t) {
			if e.Metrics != nil {
				dto.Metrics = e.Metrics
				break
			}
		}
		out.types = append(out.types, t)
		out.entries[t] = dto
	}
	return out
}

func (c ConflictsDTO) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, t := range c.types {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(string(t))
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(c.entries[t])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (c *ConflictsDTO) UnmarshalJSON(data []byte) error {
	var m map[scheduling.ConflictType]ConflictDTO
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	c.entries = m
	c.types = c.types[:0]
	for t := range m {
		c.types = append(c.types, t)
	}
	return nil
}

// Get returns the entry for one type.
func (c ConflictsDTO) Get(t scheduling.ConflictType) (ConflictDTO, bool) {
	e, ok := c.entries[t]
	return e, ok
}

type ConflictCheckResponse struct {
	HasConflicts bool         `json:"has_conflicts"`
	Conflicts    ConflictsDTO `json:"conflicts"`
}

type AlternativeResourceDTO struct {
	ID            generic.ResourceID   `json:"id"`
	Name          string               `json:"name"`
	CapacityValue decimal.NullDecimal  `json:"capacity_value"`
	CapacityUnit  generic.CapacityUnit `json:"capacity_unit"`
}

type ConflictResolutionResponse struct {
	Alternatives []AlternativeResourceDTO `json:"alternatives"`
}

type PeriodDTO struct {
	StartsAt string `json:"starts_at"`
	EndsAt   string `json:"ends_at"`
}

type AlternativePeriodsResponse struct {
	Periods []PeriodDTO `json:"periods"`
}

// =============================================================================
// CATALOG RESPONSES
// =============================================================================

type ResourceTypeDTO struct {
	ID          generic.ResourceTypeID `json:"id"`
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
}

type ResourceDTO struct {
	ID             generic.ResourceID      `json:"id"`
	Name           string                  `json:"name"`
	ResourceTypeID *generic.ResourceTypeID `json:"resource_type_id"`
	CapacityValue  decimal.NullDecimal     `json:"capacity_value"`
	CapacityUnit   generic.CapacityUnit    `json:"capacity_unit"`
}

func toResourceDTO(r generic.Resource) ResourceDTO {
	return ResourceDTO{
		ID:             r.ID,
		Name:           r.Name,
		ResourceTypeID: r.ResourceTypeID,
		CapacityValue:  r.CapacityValue,
		CapacityUnit:   r.CapacityUnit,
	}
}

type QualificationDTO struct {
	ID             generic.QualificationID `json:"id"`
	Name           string                  `json:"name"`
	Description    string                  `json:"description"`
	ResourceTypeID *generic.ResourceTypeID `json:"resource_type_id"`
}

type ResourceQualificationDTO struct {
	ID              generic.ResourceQualificationID `json:"id"`
	ResourceID      generic.ResourceID              `json:"resource_id"`
	QualificationID generic.QualificationID         `json:"qualification_id"`
	Level           generic.QualificationLevel      `json:"level"`
}

type RequirementDTO struct {
	ID              generic.RequirementID      `json:"id"`
	TaskID          generic.TaskID             `json:"task_id"`
	QualificationID generic.QualificationID    `json:"qualification_id"`
	RequiredLevel   generic.QualificationLevel `json:"required_level"`
}

func toRequirementDTO(r generic.TaskRequirement) RequirementDTO {
	return RequirementDTO{ID: r.ID, TaskID: r.TaskID, QualificationID: r.QualificationID, RequiredLevel: r.RequiredLevel}
}

type TaskDTO struct {
	ID           generic.TaskID      `json:"id"`
	Title        string              `json:"title"`
	Description  string              `json:"description"`
	StartsAt     *string             `json:"starts_at"`
	EndsAt       *string             `json:"ends_at"`
	EffortValue  decimal.NullDecimal `json:"effort_value"`
	EffortUnit   generic.EffortUnit  `json:"effort_unit"`
	Priority     generic.Priority    `json:"priority"`
	Status       generic.TaskStatus  `json:"status"`
	Requirements []RequirementDTO    `json:"requirements"`
}

func toTaskDTO(t generic.Task) TaskDTO {
	summary := scheduling.SummarizeTask(t)
	dto := TaskDTO{
		ID:           t.ID,
		Title:        t.Title,
		Description:  t.Description,
		StartsAt:     summary.StartsAt,
		EndsAt:       summary.EndsAt,
		EffortValue:  t.EffortValue,
		EffortUnit:   t.EffortUnit,
		Priority:     t.Priority,
		Status:       t.Status,
		Requirements: make([]RequirementDTO, 0, len(t.Requirements)),
	}
	for _, r := range t.Requirements {
		dto.Requirements = append(dto.Requirements, toRequirementDTO(r))
	}
	return dto
}

// AssignmentDTO extends the assignment summary with the placement details.
type AssignmentDTO struct {
	scheduling.AssignmentSummary
	ResourceID      generic.ResourceID     `json:"resource_id"`
	AllocationRatio decimal.NullDecimal    `json:"allocation_ratio"`
	AssigneeStatus  generic.AssigneeStatus `json:"assignee_status"`
}

func toAssignmentDTO(a generic.TaskAssignment) AssignmentDTO {
	return AssignmentDTO{
		AssignmentSummary: scheduling.SummarizeAssignment(a),
		ResourceID:        a.ResourceID,
		AllocationRatio:   a.AllocationRatio,
		AssigneeStatus:    a.AssigneeStatus,
	}
}

type AbsenceDTO struct {
	ID             generic.AbsenceID  `json:"id"`
	ResourceID     generic.ResourceID `json:"resource_id"`
	StartsAt       string             `json:"starts_at"`
	EndsAt         string             `json:"ends_at"`
	RecurrenceRule string             `json:"recurrence_rule"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// ErrorResponse is returned for all errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
