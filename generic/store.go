/*
store.go - Persistence interfaces for the scheduling engine

PURPOSE:
  Defines the boundary between scheduling logic and the database. The
  engine only reads through Repository and writes assignments; the
  catalog side (resources, tasks, qualifications, absences) is written by
  the HTTP layer and tests through Catalog.

KEY INTERFACES:
  Repository: Queries the engine needs plus assignment writes
  Catalog:    Create/list operations for the reference data
  Store:      Repository + Catalog
  TxStore:    Store with WithTx for atomic multi-write operations

ORDERING CONTRACT:
  - ListUnassignedTasks:   priority rank, then starts_at (missing first)
  - FindResourcesMatching: resource name, then id
  - ListResources*:        resource name, then id
  Callers may still re-sort; implementations must be deterministic.

OVERLAP CONTRACT:
  Assignment queries match on the EFFECTIVE window (own dates falling back
  to the task dates) using half-open overlap. Assignments whose window
  cannot be resolved never match. Returned assignments carry Task.

ATOMICITY:
  The auto-assigner wraps each task's placement (assignment creation plus
  any rescheduled assignments) in WithTx. If fn returns an error every
  write made through the tx Store is rolled back.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite
  - generic/store/memory.go: In-memory for testing

SEE ALSO:
  - scheduling/: Consumers of Repository
  - factory/resource.go: Builds Catalog writes from JSON
*/
package generic

import "context"

// =============================================================================
// REPOSITORY - What the scheduling engine reads and writes
// =============================================================================

type Repository interface {
	// ListUnassignedTasks returns tasks with no assignments, requirements loaded.
	ListUnassignedTasks(ctx context.Context) ([]Task, error)

	// FindResourcesMatching returns resources satisfying ALL requirements.
	// An empty requirement list matches every resource.
	FindResourcesMatching(ctx context.Context, reqs []TaskRequirement) ([]Resource, error)

	// FindOverlappingAssignments returns the resource's assignments whose
	// effective window overlaps w, minus exclude when given.
	FindOverlappingAssignments(ctx context.Context, resourceID ResourceID, w Window, exclude *AssignmentID) ([]TaskAssignment, error)

	// FindOverlappingAbsences returns the resource's absences overlapping w.
	FindOverlappingAbsences(ctx context.Context, resourceID ResourceID, w Window) ([]ResourceAbsence, error)

	// CreateAssignment persists a new assignment and returns it with its ID.
	CreateAssignment(ctx context.Context, a TaskAssignment) (TaskAssignment, error)

	// UpdateAssignmentWindow sets the assignment's own window.
	UpdateAssignmentWindow(ctx context.Context, id AssignmentID, w Window) error

	ListResources(ctx context.Context) ([]Resource, error)

	// ListResourcesByType returns resources of the given type; nil selects
	// untyped resources.
	ListResourcesByType(ctx context.Context, typeID *ResourceTypeID) ([]Resource, error)

	GetResource(ctx context.Context, id ResourceID) (Resource, error)
	GetTask(ctx context.Context, id TaskID) (Task, error)

	// GetAssignments loads assignments by ID with their tasks. Unknown IDs
	// are skipped.
	GetAssignments(ctx context.Context, ids []AssignmentID) ([]TaskAssignment, error)

	// ListAssignmentsInWindow returns all assignments (any resource) whose
	// effective window overlaps w.
	ListAssignmentsInWindow(ctx context.Context, w Window) ([]TaskAssignment, error)

	// ListAbsencesInWindow returns all absences overlapping w.
	ListAbsencesInWindow(ctx context.Context, w Window) ([]ResourceAbsence, error)
}

// =============================================================================
// CATALOG - Reference data writes
// =============================================================================

type Catalog interface {
	CreateResourceType(ctx context.Context, rt ResourceType) (ResourceType, error)
	GetResourceType(ctx context.Context, id ResourceTypeID) (ResourceType, error)
	CreateResource(ctx context.Context, r Resource) (Resource, error)
	CreateQualification(ctx context.Context, q Qualification) (Qualification, error)
	GetQualification(ctx context.Context, id QualificationID) (Qualification, error)
	CreateResourceQualification(ctx context.Context, rq ResourceQualification) (ResourceQualification, error)

	// CreateTask persists the task and its Requirements.
	CreateTask(ctx context.Context, t Task) (Task, error)
	AddRequirement(ctx context.Context, req TaskRequirement) (TaskRequirement, error)
	ListTasks(ctx context.Context) ([]Task, error)

	CreateAbsence(ctx context.Context, a ResourceAbsence) (ResourceAbsence, error)
	ListAssignments(ctx context.Context) ([]TaskAssignment, error)
}

// Store is the full persistence surface.
type Store interface {
	Repository
	Catalog
}

// =============================================================================
// TRANSACTIONAL STORE - For atomic operations across multiple writes
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
