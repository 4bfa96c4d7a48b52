/*
Package factory converts JSON catalog definitions into stored records.

PURPOSE:
  Turns the JSON bodies accepted by the API (resource types, resources,
  qualifications, resource qualifications, tasks, absences) into
  generic.Catalog writes. Nested definitions are created on the fly, so a
  client can register a resource and its type in one call.

INLINE OR REFERENCE:
  Wherever a record links to another one, the link is either an ID or an
  inline object, never both:

    {"name": "Ann", "resource_type_id": 3}
    {"name": "Ann", "resource_type": {"name": "Engineer"}}

  Giving both fails with an InvalidInputError. A resource must end up with
  a type; a qualification may stay untyped.

JSON SCHEMA (task):
  {
    "title": "Install crane",
    "starts_at": "2026-03-02T08:00:00Z",
    "ends_at": "2026-03-04 17:00:00",
    "priority": "high",
    "effort_value": 16,
    "effort_unit": "hours",
    "requirements": [
      {"qualification_id": 4, "required_level": "advanced"}
    ]
  }

TIMESTAMPS:
  RFC 3339, "2006-01-02 15:04:05" or a bare date. Values without a zone
  are read as UTC.

ATOMICITY:
  Builder writes through whatever Catalog it is given. Callers that need
  all-or-nothing nested creation pass the Store handed out by WithTx.

SEE ALSO:
  - generic/store.go: Catalog interface
  - api/handlers.go: Catalog endpoints
*/
package factory

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/resource-scheduler/generic"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

type ResourceTypeJSON struct {
	Name        string `json:"name" validate:"required,max=255"`
	Description string `json:"description,omitempty"`
}

// ResourceJSON is the JSON representation of a resource.
type ResourceJSON struct {
	Name           string              `json:"name" validate:"required,max=255"`
	ResourceTypeID *int64              `json:"resource_type_id,omitempty" validate:"omitempty,gt=0"`
	ResourceType   *ResourceTypeJSON   `json:"resource_type,omitempty"`
	CapacityValue  decimal.NullDecimal `json:"capacity_value"`
	CapacityUnit   string              `json:"capacity_unit,omitempty" validate:"omitempty,oneof=hours_per_day slots"`
}

type QualificationJSON struct {
	Name           string            `json:"name" validate:"required,max=255"`
	Description    string            `json:"description,omitempty"`
	ResourceTypeID *int64            `json:"resource_type_id,omitempty" validate:"omitempty,gt=0"`
	ResourceType   *ResourceTypeJSON `json:"resource_type,omitempty"`
}

// ResourceQualificationJSON links a resource to a qualification; either
// side may be given inline.
type ResourceQualificationJSON struct {
	ResourceID      *int64             `json:"resource_id,omitempty" validate:"omitempty,gt=0"`
	Resource        *ResourceJSON      `json:"resource,omitempty"`
	QualificationID *int64             `json:"qualification_id,omitempty" validate:"omitempty,gt=0"`
	Qualification   *QualificationJSON `json:"qualification,omitempty"`
	Level           string             `json:"level,omitempty" validate:"omitempty,oneof=beginner intermediate advanced expert"`
}

type RequirementJSON struct {
	QualificationID int64  `json:"qualification_id" validate:"required,gt=0"`
	RequiredLevel   string `json:"required_level,omitempty" validate:"omitempty,oneof=beginner intermediate advanced expert"`
}

// TaskJSON is the JSON representation of a task.
type TaskJSON struct {
	Title        string              `json:"title" validate:"required,max=255"`
	Description  string              `json:"description,omitempty"`
	StartsAt     string              `json:"starts_at,omitempty"`
	EndsAt       string              `json:"ends_at,omitempty"`
	EffortValue  decimal.NullDecimal `json:"effort_value"`
	EffortUnit   string              `json:"effort_unit,omitempty" validate:"omitempty,oneof=hours days"`
	Priority     string              `json:"priority,omitempty" validate:"omitempty,oneof=urgent high medium low"`
	Status       string              `json:"status,omitempty" validate:"omitempty,oneof=planned in_progress blocked done"`
	Requirements []RequirementJSON   `json:"requirements,omitempty" validate:"dive"`
}

type AbsenceJSON struct {
	ResourceID     int64  `json:"resource_id" validate:"required,gt=0"`
	StartsAt       string `json:"starts_at" validate:"required"`
	EndsAt         string `json:"ends_at" validate:"required"`
	RecurrenceRule string `json:"recurrence_rule,omitempty"`
}

// AssignmentJSON is a manual assignment of a task to a resource.
type AssignmentJSON struct {
	TaskID          int64               `json:"task_id" validate:"required,gt=0"`
	ResourceID      int64               `json:"resource_id" validate:"required,gt=0"`
	StartsAt        string              `json:"starts_at,omitempty"`
	EndsAt          string              `json:"ends_at,omitempty"`
	AllocationRatio decimal.NullDecimal `json:"allocation_ratio"`
	AssigneeStatus  string              `json:"assignee_status,omitempty" validate:"omitempty,oneof=tentative confirmed declined"`
}

// =============================================================================
// BUILDER
// =============================================================================

// Builder creates catalog records from their JSON form.
type Builder struct {
	catalog generic.Catalog
}

func NewBuilder(catalog generic.Catalog) *Builder {
	return &Builder{catalog: catalog}
}

// ResourceType creates a resource type.
func (b *Builder) ResourceType(ctx context.Context, in ResourceTypeJSON) (generic.ResourceType, error) {
	if in.Name == "" {
		return generic.ResourceType{}, generic.NewInvalidInput("name", "The name field is required.")
	}
	return b.catalog.CreateResourceType(ctx, generic.ResourceType{Name: in.Name, Description: in.Description})
}

// Resource creates a resource, and its type when given inline.
func (b *Builder) Resource(ctx context.Context, in ResourceJSON) (generic.Resource, error) {
	if in.ResourceTypeID != nil && in.ResourceType != nil {
		return generic.Resource{}, generic.NewInvalidInput("resource_type", "Provide either resource_type_id or resource_type data, not both.")
	}
	if in.Name == "" {
		return generic.Resource{}, generic.NewInvalidInput("name", "The name field is required.")
	}
	unit := generic.CapacityUnit(in.CapacityUnit)
	if !unit.Valid() {
		return generic.Resource{}, generic.NewInvalidInput("capacity_unit", fmt.Sprintf("unknown capacity unit %q", in.CapacityUnit))
	}

	typeID, err := b.resolveType(ctx, in.ResourceTypeID, in.ResourceType)
	if err != nil {
		return generic.Resource{}, err
	}
	if typeID == nil {
		return generic.Resource{}, generic.NewInvalidInput("resource_type", "Resource type data is required to create a resource.")
	}

	return b.catalog.CreateResource(ctx, generic.Resource{
		Name:           in.Name,
		ResourceTypeID: typeID,
		CapacityValue:  in.CapacityValue,
		CapacityUnit:   unit,
	})
}

// Qualification creates a qualification, and its type when given inline.
func (b *Builder) Qualification(ctx context.Context, in QualificationJSON) (generic.Qualification, error) {
	if in.ResourceTypeID != nil && in.ResourceType != nil {
		return generic.Qualification{}, generic.NewInvalidInput("resource_type", "Provide either resource_type_id or resource_type data, not both.")
	}
	if in.Name == "" {
		return generic.Qualification{}, generic.NewInvalidInput("name", "The name field is required.")
	}

	typeID, err := b.resolveType(ctx, in.ResourceTypeID, in.ResourceType)
	if err != nil {
		return generic.Qualification{}, err
	}

	return b.catalog.CreateQualification(ctx, generic.Qualification{
		Name:           in.Name,
		Description:    in.Description,
		ResourceTypeID: typeID,
	})
}

// ResourceQualification links a resource and a qualification, creating
// either one when given inline.
func (b *Builder) ResourceQualification(ctx context.Context, in ResourceQualificationJSON) (generic.ResourceQualification, error) {
	if in.ResourceID != nil && in.Resource != nil {
		return generic.ResourceQualification{}, generic.NewInvalidInput("resource", "Provide either resource_id or resource data, not both.")
	}
	if in.QualificationID != nil && in.Qualification != nil {
		return generic.ResourceQualification{}, generic.NewInvalidInput("qualification", "Provide either qualification_id or qualification data, not both.")
	}
	level := generic.QualificationLevel(in.Level)
	if !level.Valid() {
		return generic.ResourceQualification{}, generic.NewInvalidInput("level", fmt.Sprintf("unknown qualification level %q", in.Level))
	}

	var resourceID *generic.ResourceID
	if in.ResourceID != nil {
		id := generic.ResourceID(*in.ResourceID)
		resourceID = &id
	} else if in.Resource != nil {
		r, err := b.Resource(ctx, *in.Resource)
		if err != nil {
			return generic.ResourceQualification{}, err
		}
		resourceID = &r.ID
	}

	var qualificationID *generic.QualificationID
	if in.QualificationID != nil {
		id := generic.QualificationID(*in.QualificationID)
		qualificationID = &id
	} else if in.Qualification != nil {
		q, err := b.Qualification(ctx, *in.Qualification)
		if err != nil {
			return generic.ResourceQualification{}, err
		}
		qualificationID = &q.ID
	}

	if resourceID == nil || qualificationID == nil {
		return generic.ResourceQualification{}, generic.NewInvalidInput("", "Resource and qualification data are required to create a resource qualification.")
	}

	return b.catalog.CreateResourceQualification(ctx, generic.ResourceQualification{
		ResourceID:      *resourceID,
		QualificationID: *qualificationID,
		Level:           level,
	})
}

// Task creates a task and its requirements.
func (b *Builder) Task(ctx context.Context, in TaskJSON) (generic.Task, error) {
	if in.Title == "" {
		return generic.Task{}, generic.NewInvalidInput("title", "The title field is required.")
	}
	start, err := ParseOptionalTimestamp("starts_at", in.StartsAt)
	if err != nil {
		return generic.Task{}, err
	}
	end, err := ParseOptionalTimestamp("ends_at", in.EndsAt)
	if err != nil {
		return generic.Task{}, err
	}
	if start != nil && end != nil && end.Before(*start) {
		return generic.Task{}, generic.NewInvalidInput("ends_at", "The ends_at field must be a date after or equal to starts_at.")
	}

	priority := generic.Priority(in.Priority)
	if !priority.Valid() {
		return generic.Task{}, generic.NewInvalidInput("priority", fmt.Sprintf("unknown priority %q", in.Priority))
	}
	status := generic.TaskStatus(in.Status)
	if status == "" {
		status = generic.TaskPlanned
	}

	reqs := make([]generic.TaskRequirement, 0, len(in.Requirements))
	for _, r := range in.Requirements {
		req, err := requirementFromJSON(r)
		if err != nil {
			return generic.Task{}, err
		}
		reqs = append(reqs, req)
	}

	return b.catalog.CreateTask(ctx, generic.Task{
		Title:        in.Title,
		Description:  in.Description,
		StartsAt:     start,
		EndsAt:       end,
		EffortValue:  in.EffortValue,
		EffortUnit:   generic.EffortUnit(in.EffortUnit),
		Priority:     priority,
		Status:       status,
		Requirements: reqs,
	})
}

// Requirement adds a requirement to an existing task.
func (b *Builder) Requirement(ctx context.Context, taskID generic.TaskID, in RequirementJSON) (generic.TaskRequirement, error) {
	req, err := requirementFromJSON(in)
	if err != nil {
		return generic.TaskRequirement{}, err
	}
	req.TaskID = taskID
	return b.catalog.AddRequirement(ctx, req)
}

// Absence records a window in which a resource is unavailable.
func (b *Builder) Absence(ctx context.Context, in AbsenceJSON) (generic.ResourceAbsence, error) {
	start, err := ParseTimestamp("starts_at", in.StartsAt)
	if err != nil {
		return generic.ResourceAbsence{}, err
	}
	end, err := ParseTimestamp("ends_at", in.EndsAt)
	if err != nil {
		return generic.ResourceAbsence{}, err
	}
	if !end.After(start) {
		return generic.ResourceAbsence{}, generic.NewInvalidInput("ends_at", "The ends_at field must be a date after starts_at.")
	}
	return b.catalog.CreateAbsence(ctx, generic.ResourceAbsence{
		ResourceID:     generic.ResourceID(in.ResourceID),
		StartsAt:       start,
		EndsAt:         end,
		RecurrenceRule: in.RecurrenceRule,
	})
}

// Assignment converts a manual assignment. It is written through the
// Repository since assignments are scheduling data.
func (b *Builder) Assignment(in AssignmentJSON) (generic.TaskAssignment, error) {
	start, err := ParseOptionalTimestamp("starts_at", in.StartsAt)
	if err != nil {
		return generic.TaskAssignment{}, err
	}
	end, err := ParseOptionalTimestamp("ends_at", in.EndsAt)
	if err != nil {
		return generic.TaskAssignment{}, err
	}
	return generic.TaskAssignment{
		TaskID:          generic.TaskID(in.TaskID),
		ResourceID:      generic.ResourceID(in.ResourceID),
		StartsAt:        start,
		EndsAt:          end,
		AllocationRatio: in.AllocationRatio,
		Source:          generic.SourceManual,
		AssigneeStatus:  generic.AssigneeStatus(in.AssigneeStatus),
	}, nil
}

func (b *Builder) resolveType(ctx context.Context, id *int64, inline *ResourceTypeJSON) (*generic.ResourceTypeID, error) {
	if id != nil {
		typeID := generic.ResourceTypeID(*id)
		return &typeID, nil
	}
	if inline == nil {
		return nil, nil
	}
	rt, err := b.ResourceType(ctx, *inline)
	if err != nil {
		return nil, err
	}
	return &rt.ID, nil
}

func requirementFromJSON(in RequirementJSON) (generic.TaskRequirement, error) {
	level := generic.QualificationLevel(in.RequiredLevel)
	if !level.Valid() {
		return generic.TaskRequirement{}, generic.NewInvalidInput("required_level", fmt.Sprintf("unknown qualification level %q", in.RequiredLevel))
	}
	return generic.TaskRequirement{
		QualificationID: generic.QualificationID(in.QualificationID),
		RequiredLevel:   level,
	}, nil
}

// =============================================================================
// TIMESTAMPS
// =============================================================================

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseTimestamp parses a required timestamp; field names the input in the
// returned InvalidInputError.
func ParseTimestamp(field, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, generic.NewInvalidInput(field, fmt.Sprintf("The %s field is required.", field))
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, generic.NewInvalidInput(field, fmt.Sprintf("%q is not a valid date", value))
}

// ParseOptionalTimestamp returns nil for an empty value.
func ParseOptionalTimestamp(field, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := ParseTimestamp(field, value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
