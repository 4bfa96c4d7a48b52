/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements generic.TxStore (Repository + Catalog + WithTx) on SQLite
  through sqlx. The same queries run on a *sqlx.DB or a *sqlx.Tx, so the
  transactional view shares every method with the Store.

KEY TABLES:
  resource_types, resources:        What can be assigned
  qualifications:                   Skills, optionally scoped to a type
  resource_qualifications:          Resource -> qualification at a level
  tasks, task_requirements:         Work and the skills it needs
  task_assignments:                 Task -> resource, optional own window
  resource_absences:                Windows a resource is unavailable

STORAGE FORMATS:
  - Times are fixed-width UTC TEXT with nanoseconds
    (2006-01-02T15:04:05.000000000Z), so lexical order is chronological and
    the overlap predicates can compare them directly.
  - Decimals (capacity, allocation, effort) are TEXT or NULL.
  - Unset enums are stored as ''.

EFFECTIVE WINDOW:
  Assignment overlap queries resolve each bound with COALESCE over the
  assignment's own dates and its task's dates, then apply half-open
  overlap. Rows where either bound stays NULL never match.

CONCURRENCY:
  The pool is limited to one connection. Callers inside WithTx must only
  use the Store they are given.

USAGE:
  store, err := sqlite.New("./data/scheduler.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := scheduling.NewEngine(store, sink, log)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - generic/store.go: Interface definitions
  - generic/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/resource-scheduler/generic"
)

// Store implements generic.TxStore using SQLite.
type Store struct {
	*repo
	db *sqlx.DB
	mu sync.Mutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sqlx.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := NewWithDB(db)
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// NewWithDB wraps an open connection without migrating it.
func NewWithDB(db *sqlx.DB) *Store {
	return &Store{repo: &repo{q: db}, db: db}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS resource_types (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS resources (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		resource_type_id INTEGER REFERENCES resource_types(id),
		capacity_value TEXT,
		capacity_unit TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_resources_type
		ON resources(resource_type_id);

	CREATE TABLE IF NOT EXISTS qualifications (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		resource_type_id INTEGER REFERENCES resource_types(id)
	);

	CREATE TABLE IF NOT EXISTS resource_qualifications (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		resource_id INTEGER NOT NULL REFERENCES resources(id) ON DELETE CASCADE,
		qualification_id INTEGER NOT NULL REFERENCES qualifications(id) ON DELETE CASCADE,
		level TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_resource_qualifications_lookup
		ON resource_qualifications(qualification_id, resource_id);

	CREATE TABLE IF NOT EXISTS tasks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		starts_at TEXT,
		ends_at TEXT,
		effort_value TEXT,
		effort_unit TEXT NOT NULL DEFAULT '',
		priority TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'planned'
	);

	CREATE TABLE IF NOT EXISTS task_requirements (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id INTEGER NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
		qualification_id INTEGER NOT NULL REFERENCES qualifications(id),
		required_level TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_task_requirements_task
		ON task_requirements(task_id);

	CREATE TABLE IF NOT EXISTS task_assignments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id INTEGER NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
		resource_id INTEGER NOT NULL REFERENCES resources(id) ON DELETE CASCADE,
		starts_at TEXT,
		ends_at TEXT,
		allocation_ratio TEXT,
		assignment_source TEXT NOT NULL DEFAULT 'manual',
		assignee_status TEXT NOT NULL DEFAULT ''
	);

	-- Conflict detection hot path
	CREATE INDEX IF NOT EXISTS idx_task_assignments_resource
		ON task_assignments(resource_id, starts_at, ends_at);
	CREATE INDEX IF NOT EXISTS idx_task_assignments_task
		ON task_assignments(task_id);

	CREATE TABLE IF NOT EXISTS resource_absences (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		resource_id INTEGER NOT NULL REFERENCES resources(id) ON DELETE CASCADE,
		starts_at TEXT NOT NULL,
		ends_at TEXT NOT NULL,
		recurrence_rule TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_resource_absences_window
		ON resource_absences(resource_id, starts_at, ends_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Reset deletes all data. Used by the demo scenarios.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		DELETE FROM resource_absences;
		DELETE FROM task_assignments;
		DELETE FROM task_requirements;
		DELETE FROM tasks;
		DELETE FROM resource_qualifications;
		DELETE FROM qualifications;
		DELETE FROM resources;
		DELETE FROM resource_types;
		DELETE FROM sqlite_sequence;
	`)
	if err != nil {
		return fmt.Errorf("failed to reset database: %w", err)
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL STORE (generic.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store generic.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&repo{q: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// repo runs every query against q, which is either the pool or a tx.
type repo struct {
	q sqlx.ExtContext
}

var (
	_ generic.TxStore = (*Store)(nil)
	_ generic.Store   = (*repo)(nil)
)

// =============================================================================
// ROWS
// =============================================================================

type resourceRow struct {
	ID             int64               `db:"id"`
	Name           string              `db:"name"`
	ResourceTypeID sql.NullInt64       `db:"resource_type_id"`
	CapacityValue  decimal.NullDecimal `db:"capacity_value"`
	CapacityUnit   string              `db:"capacity_unit"`
}

func (r resourceRow) toResource() generic.Resource {
	return generic.Resource{
		ID:             generic.ResourceID(r.ID),
		Name:           r.Name,
		ResourceTypeID: typeIDPtr(r.ResourceTypeID),
		CapacityValue:  r.CapacityValue,
		CapacityUnit:   generic.CapacityUnit(r.CapacityUnit),
	}
}

type taskRow struct {
	ID          int64               `db:"id"`
	Title       string              `db:"title"`
	Description string              `db:"description"`
	StartsAt    sql.NullString      `db:"starts_at"`
	EndsAt      sql.NullString      `db:"ends_at"`
	EffortValue decimal.NullDecimal `db:"effort_value"`
	EffortUnit  string              `db:"effort_unit"`
	Priority    string              `db:"priority"`
	Status      string              `db:"status"`
}

func (r taskRow) toTask() (generic.Task, error) {
	start, err := parseTime(r.StartsAt)
	if err != nil {
		return generic.Task{}, err
	}
	end, err := parseTime(r.EndsAt)
	if err != nil {
		return generic.Task{}, err
	}
	return generic.Task{
		ID:          generic.TaskID(r.ID),
		Title:       r.Title,
		Description: r.Description,
		StartsAt:    start,
		EndsAt:      end,
		EffortValue: r.EffortValue,
		EffortUnit:  generic.EffortUnit(r.EffortUnit),
		Priority:    generic.Priority(r.Priority),
		Status:      generic.TaskStatus(r.Status),
	}, nil
}

type assignmentRow struct {
	ID              int64               `db:"id"`
	TaskID          int64               `db:"task_id"`
	ResourceID      int64               `db:"resource_id"`
	StartsAt        sql.NullString      `db:"starts_at"`
	EndsAt          sql.NullString      `db:"ends_at"`
	AllocationRatio decimal.NullDecimal `db:"allocation_ratio"`
	Source          string              `db:"assignment_source"`
	AssigneeStatus  string              `db:"assignee_status"`
	Task            taskRow             `db:"task"`
}

func (r assignmentRow) toAssignment() (generic.TaskAssignment, error) {
	start, err := parseTime(r.StartsAt)
	if err != nil {
		return generic.TaskAssignment{}, err
	}
	end, err := parseTime(r.EndsAt)
	if err != nil {
		return generic.TaskAssignment{}, err
	}
	task, err := r.Task.toTask()
	if err != nil {
		return generic.TaskAssignment{}, err
	}
	return generic.TaskAssignment{
		ID:              generic.AssignmentID(r.ID),
		TaskID:          generic.TaskID(r.TaskID),
		ResourceID:      generic.ResourceID(r.ResourceID),
		StartsAt:        start,
		EndsAt:          end,
		AllocationRatio: r.AllocationRatio,
		Source:          generic.AssignmentSource(r.Source),
		AssigneeStatus:  generic.AssigneeStatus(r.AssigneeStatus),
		Task:            &task,
	}, nil
}

type absenceRow struct {
	ID             int64  `db:"id"`
	ResourceID     int64  `db:"resource_id"`
	StartsAt       string `db:"starts_at"`
	EndsAt         string `db:"ends_at"`
	RecurrenceRule string `db:"recurrence_rule"`
}

func (r absenceRow) toAbsence() (generic.ResourceAbsence, error) {
	start, err := time.Parse(time.RFC3339Nano, r.StartsAt)
	if err != nil {
		return generic.ResourceAbsence{}, fmt.Errorf("failed to parse absence start: %w", err)
	}
	end, err := time.Parse(time.RFC3339Nano, r.EndsAt)
	if err != nil {
		return generic.ResourceAbsence{}, fmt.Errorf("failed to parse absence end: %w", err)
	}
	return generic.ResourceAbsence{
		ID:             generic.AbsenceID(r.ID),
		ResourceID:     generic.ResourceID(r.ResourceID),
		StartsAt:       start,
		EndsAt:         end,
		RecurrenceRule: r.RecurrenceRule,
	}, nil
}

type requirementRow struct {
	ID              int64  `db:"id"`
	TaskID          int64  `db:"task_id"`
	QualificationID int64  `db:"qualification_id"`
	RequiredLevel   string `db:"required_level"`
}

// =============================================================================
// COLUMN LISTS
// =============================================================================

const (
	resourceColumns = `r.id, r.name, r.resource_type_id, r.capacity_value, r.capacity_unit`

	taskColumns = `t.id, t.title, t.description, t.starts_at, t.ends_at,
		t.effort_value, t.effort_unit, t.priority, t.status`

	assignmentSelect = `
		SELECT a.id, a.task_id, a.resource_id, a.starts_at, a.ends_at,
		       a.allocation_ratio, a.assignment_source, a.assignee_status,
		       t.id AS "task.id", t.title AS "task.title", t.description AS "task.description",
		       t.starts_at AS "task.starts_at", t.ends_at AS "task.ends_at",
		       t.effort_value AS "task.effort_value", t.effort_unit AS "task.effort_unit",
		       t.priority AS "task.priority", t.status AS "task.status"
		FROM task_assignments a
		JOIN tasks t ON t.id = a.task_id`

	// effectiveOverlap expects (w.End, w.Start) as arguments.
	effectiveOverlap = `
		COALESCE(a.starts_at, t.starts_at) IS NOT NULL
		AND COALESCE(a.ends_at, t.ends_at) IS NOT NULL
		AND COALESCE(a.starts_at, t.starts_at) < COALESCE(a.ends_at, t.ends_at)
		AND COALESCE(a.starts_at, t.starts_at) < ?
		AND COALESCE(a.ends_at, t.ends_at) > ?`

	priorityOrder = `CASE t.priority
		WHEN 'urgent' THEN 1 WHEN 'high' THEN 2 WHEN 'medium' THEN 3 WHEN 'low' THEN 4
		ELSE 5 END`

	levelRank = `CASE rq.level
		WHEN 'beginner' THEN 1 WHEN 'intermediate' THEN 2 WHEN 'advanced' THEN 3 WHEN 'expert' THEN 4
		ELSE 0 END`
)

// =============================================================================
// REPOSITORY (generic.Repository interface)
// =============================================================================

// ListUnassignedTasks returns tasks without any assignment, most urgent first.
func (r *repo) ListUnassignedTasks(ctx context.Context) ([]generic.Task, error) {
	query := `SELECT ` + taskColumns + `
		FROM tasks t
		WHERE NOT EXISTS (SELECT 1 FROM task_assignments a WHERE a.task_id = t.id)
		ORDER BY ` + priorityOrder + `, t.starts_at IS NOT NULL, t.starts_at, t.id`
	return r.queryTasks(ctx, query)
}

// FindResourcesMatching returns resources holding every required
// qualification at or above the required level.
func (r *repo) FindResourcesMatching(ctx context.Context, reqs []generic.TaskRequirement) ([]generic.Resource, error) {
	var b strings.Builder
	b.WriteString(`SELECT ` + resourceColumns + ` FROM resources r WHERE 1 = 1`)
	args := make([]any, 0, 2*len(reqs))
	for _, req := range reqs {
		b.WriteString(`
		AND EXISTS (
			SELECT 1 FROM resource_qualifications rq
			WHERE rq.resource_id = r.id AND rq.qualification_id = ?`)
		args = append(args, int64(req.QualificationID))
		if req.RequiredLevel != "" {
			b.WriteString(` AND rq.level <> '' AND ` + levelRank + ` >= ?`)
			args = append(args, req.RequiredLevel.Rank())
		}
		b.WriteString(`)`)
	}
	b.WriteString(` ORDER BY r.name, r.id`)
	return r.queryResources(ctx, b.String(), args...)
}

func (r *repo) FindOverlappingAssignments(ctx context.Context, resourceID generic.ResourceID, w generic.Window, exclude *generic.AssignmentID) ([]generic.TaskAssignment, error) {
	if !w.Valid() {
		return nil, nil
	}
	query := assignmentSelect + `
		WHERE a.resource_id = ? AND ` + effectiveOverlap
	args := []any{int64(resourceID), formatTime(w.End), formatTime(w.Start)}
	if exclude != nil {
		query += ` AND a.id <> ?`
		args = append(args, int64(*exclude))
	}
	query += ` ORDER BY a.id`
	return r.queryAssignments(ctx, query, args...)
}

func (r *repo) FindOverlappingAbsences(ctx context.Context, resourceID generic.ResourceID, w generic.Window) ([]generic.ResourceAbsence, error) {
	if !w.Valid() {
		return nil, nil
	}
	query := `SELECT id, resource_id, starts_at, ends_at, recurrence_rule
		FROM resource_absences
		WHERE resource_id = ? AND starts_at < ends_at AND starts_at < ? AND ends_at > ?
		ORDER BY starts_at, id`
	return r.queryAbsences(ctx, query, int64(resourceID), formatTime(w.End), formatTime(w.Start))
}

func (r *repo) CreateAssignment(ctx context.Context, a generic.TaskAssignment) (generic.TaskAssignment, error) {
	if err := r.requireRow(ctx, "tasks", "task", int64(a.TaskID)); err != nil {
		return generic.TaskAssignment{}, err
	}
	if err := r.requireRow(ctx, "resources", "resource", int64(a.ResourceID)); err != nil {
		return generic.TaskAssignment{}, err
	}
	source := a.Source
	if source == "" {
		source = generic.SourceManual
	}

	query := `
		INSERT INTO task_assignments
		(task_id, resource_id, starts_at, ends_at, allocation_ratio, assignment_source, assignee_status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	res, err := r.q.ExecContext(ctx, query,
		int64(a.TaskID),
		int64(a.ResourceID),
		formatTimePtr(a.StartsAt),
		formatTimePtr(a.EndsAt),
		a.AllocationRatio,
		string(source),
		string(a.AssigneeStatus),
	)
	if err != nil {
		return generic.TaskAssignment{}, fmt.Errorf("failed to create assignment: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return generic.TaskAssignment{}, fmt.Errorf("failed to read assignment id: %w", err)
	}

	created, err := r.GetAssignments(ctx, []generic.AssignmentID{generic.AssignmentID(id)})
	if err != nil {
		return generic.TaskAssignment{}, err
	}
	if len(created) != 1 {
		return generic.TaskAssignment{}, &generic.NotFoundError{Kind: "assignment", ID: id}
	}
	return created[0], nil
}

func (r *repo) UpdateAssignmentWindow(ctx context.Context, id generic.AssignmentID, w generic.Window) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE task_assignments SET starts_at = ?, ends_at = ? WHERE id = ?`,
		formatTime(w.Start), formatTime(w.End), int64(id),
	)
	if err != nil {
		return fmt.Errorf("failed to update assignment window: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check updated rows: %w", err)
	}
	if affected == 0 {
		return &generic.NotFoundError{Kind: "assignment", ID: int64(id)}
	}
	return nil
}

func (r *repo) ListResources(ctx context.Context) ([]generic.Resource, error) {
	return r.queryResources(ctx, `SELECT `+resourceColumns+` FROM resources r ORDER BY r.name, r.id`)
}

func (r *repo) ListResourcesByType(ctx context.Context, typeID *generic.ResourceTypeID) ([]generic.Resource, error) {
	if typeID == nil {
		return r.queryResources(ctx, `SELECT `+resourceColumns+`
			FROM resources r WHERE r.resource_type_id IS NULL ORDER BY r.name, r.id`)
	}
	return r.queryResources(ctx, `SELECT `+resourceColumns+`
		FROM resources r WHERE r.resource_type_id = ? ORDER BY r.name, r.id`, int64(*typeID))
}

func (r *repo) GetResource(ctx context.Context, id generic.ResourceID) (generic.Resource, error) {
	rs, err := r.queryResources(ctx, `SELECT `+resourceColumns+` FROM resources r WHERE r.id = ?`, int64(id))
	if err != nil {
		return generic.Resource{}, err
	}
	if len(rs) == 0 {
		return generic.Resource{}, &generic.NotFoundError{Kind: "resource", ID: int64(id)}
	}
	return rs[0], nil
}

func (r *repo) GetTask(ctx context.Context, id generic.TaskID) (generic.Task, error) {
	tasks, err := r.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks t WHERE t.id = ?`, int64(id))
	if err != nil {
		return generic.Task{}, err
	}
	if len(tasks) == 0 {
		return generic.Task{}, &generic.NotFoundError{Kind: "task", ID: int64(id)}
	}
	return tasks[0], nil
}

func (r *repo) GetAssignments(ctx context.Context, ids []generic.AssignmentID) ([]generic.TaskAssignment, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	raw := make([]int64, len(ids))
	for i, id := range ids {
		raw[i] = int64(id)
	}
	query, args, err := sqlx.In(assignmentSelect+` WHERE a.id IN (?) ORDER BY a.id`, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to build assignment query: %w", err)
	}
	return r.queryAssignments(ctx, r.q.Rebind(query), args...)
}

func (r *repo) ListAssignmentsInWindow(ctx context.Context, w generic.Window) ([]generic.TaskAssignment, error) {
	if !w.Valid() {
		return nil, nil
	}
	query := assignmentSelect + ` WHERE ` + effectiveOverlap + ` ORDER BY a.id`
	return r.queryAssignments(ctx, query, formatTime(w.End), formatTime(w.Start))
}

func (r *repo) ListAbsencesInWindow(ctx context.Context, w generic.Window) ([]generic.ResourceAbsence, error) {
	if !w.Valid() {
		return nil, nil
	}
	query := `SELECT id, resource_id, starts_at, ends_at, recurrence_rule
		FROM resource_absences
		WHERE starts_at < ends_at AND starts_at < ? AND ends_at > ?
		ORDER BY starts_at, id`
	return r.queryAbsences(ctx, query, formatTime(w.End), formatTime(w.Start))
}

// =============================================================================
// CATALOG (generic.Catalog interface)
// =============================================================================

func (r *repo) CreateResourceType(ctx context.Context, rt generic.ResourceType) (generic.ResourceType, error) {
	id, err := r.insert(ctx, `INSERT INTO resource_types (name, description) VALUES (?, ?)`, rt.Name, rt.Description)
	if err != nil {
		return generic.ResourceType{}, fmt.Errorf("failed to create resource type: %w", err)
	}
	rt.ID = generic.ResourceTypeID(id)
	return rt, nil
}

func (r *repo) GetResourceType(ctx context.Context, id generic.ResourceTypeID) (generic.ResourceType, error) {
	var row struct {
		ID          int64  `db:"id"`
		Name        string `db:"name"`
		Description string `db:"description"`
	}
	err := sqlx.GetContext(ctx, r.q, &row, `SELECT id, name, description FROM resource_types WHERE id = ?`, int64(id))
	if err == sql.ErrNoRows {
		return generic.ResourceType{}, &generic.NotFoundError{Kind: "resource type", ID: int64(id)}
	}
	if err != nil {
		return generic.ResourceType{}, fmt.Errorf("failed to get resource type: %w", err)
	}
	return generic.ResourceType{ID: generic.ResourceTypeID(row.ID), Name: row.Name, Description: row.Description}, nil
}

func (r *repo) CreateResource(ctx context.Context, res generic.Resource) (generic.Resource, error) {
	if res.ResourceTypeID != nil {
		if err := r.requireRow(ctx, "resource_types", "resource type", int64(*res.ResourceTypeID)); err != nil {
			return generic.Resource{}, err
		}
	}
	id, err := r.insert(ctx,
		`INSERT INTO resources (name, resource_type_id, capacity_value, capacity_unit) VALUES (?, ?, ?, ?)`,
		res.Name, nullTypeID(res.ResourceTypeID), res.CapacityValue, string(res.CapacityUnit),
	)
	if err != nil {
		return generic.Resource{}, fmt.Errorf("failed to create resource: %w", err)
	}
	res.ID = generic.ResourceID(id)
	return res, nil
}

func (r *repo) CreateQualification(ctx context.Context, q generic.Qualification) (generic.Qualification, error) {
	if q.ResourceTypeID != nil {
		if err := r.requireRow(ctx, "resource_types", "resource type", int64(*q.ResourceTypeID)); err != nil {
			return generic.Qualification{}, err
		}
	}
	id, err := r.insert(ctx,
		`INSERT INTO qualifications (name, description, resource_type_id) VALUES (?, ?, ?)`,
		q.Name, q.Description, nullTypeID(q.ResourceTypeID),
	)
	if err != nil {
		return generic.Qualification{}, fmt.Errorf("failed to create qualification: %w", err)
	}
	q.ID = generic.QualificationID(id)
	return q, nil
}

func (r *repo) GetQualification(ctx context.Context, id generic.QualificationID) (generic.Qualification, error) {
	var row struct {
		ID             int64         `db:"id"`
		Name           string        `db:"name"`
		Description    string        `db:"description"`
		ResourceTypeID sql.NullInt64 `db:"resource_type_id"`
	}
	err := sqlx.GetContext(ctx, r.q, &row,
		`SELECT id, name, description, resource_type_id FROM qualifications WHERE id = ?`, int64(id))
	if err == sql.ErrNoRows {
		return generic.Qualification{}, &generic.NotFoundError{Kind: "qualification", ID: int64(id)}
	}
	if err != nil {
		return generic.Qualification{}, fmt.Errorf("failed to get qualification: %w", err)
	}
	return generic.Qualification{
		ID:             generic.QualificationID(row.ID),
		Name:           row.Name,
		Description:    row.Description,
		ResourceTypeID: typeIDPtr(row.ResourceTypeID),
	}, nil
}

func (r *repo) CreateResourceQualification(ctx context.Context, rq generic.ResourceQualification) (generic.ResourceQualification, error) {
	if err := r.requireRow(ctx, "resources", "resource", int64(rq.ResourceID)); err != nil {
		return generic.ResourceQualification{}, err
	}
	if err := r.requireRow(ctx, "qualifications", "qualification", int64(rq.QualificationID)); err != nil {
		return generic.ResourceQualification{}, err
	}
	id, err := r.insert(ctx,
		`INSERT INTO resource_qualifications (resource_id, qualification_id, level) VALUES (?, ?, ?)`,
		int64(rq.ResourceID), int64(rq.QualificationID), string(rq.Level),
	)
	if err != nil {
		return generic.ResourceQualification{}, fmt.Errorf("failed to create resource qualification: %w", err)
	}
	rq.ID = generic.ResourceQualificationID(id)
	return rq, nil
}

func (r *repo) CreateTask(ctx context.Context, t generic.Task) (generic.Task, error) {
	status := t.Status
	if status == "" {
		status = generic.TaskPlanned
	}
	id, err := r.insert(ctx, `
		INSERT INTO tasks (title, description, starts_at, ends_at, effort_value, effort_unit, priority, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Title, t.Description, formatTimePtr(t.StartsAt), formatTimePtr(t.EndsAt),
		t.EffortValue, string(t.EffortUnit), string(t.Priority), string(status),
	)
	if err != nil {
		return generic.Task{}, fmt.Errorf("failed to create task: %w", err)
	}
	t.ID = generic.TaskID(id)
	t.Status = status

	reqs := make([]generic.TaskRequirement, 0, len(t.Requirements))
	for _, req := range t.Requirements {
		req.TaskID = t.ID
		saved, err := r.AddRequirement(ctx, req)
		if err != nil {
			return generic.Task{}, err
		}
		reqs = append(reqs, saved)
	}
	t.Requirements = reqs
	return t, nil
}

func (r *repo) AddRequirement(ctx context.Context, req generic.TaskRequirement) (generic.TaskRequirement, error) {
	if err := r.requireRow(ctx, "tasks", "task", int64(req.TaskID)); err != nil {
		return generic.TaskRequirement{}, err
	}
	if err := r.requireRow(ctx, "qualifications", "qualification", int64(req.QualificationID)); err != nil {
		return generic.TaskRequirement{}, err
	}
	id, err := r.insert(ctx,
		`INSERT INTO task_requirements (task_id, qualification_id, required_level) VALUES (?, ?, ?)`,
		int64(req.TaskID), int64(req.QualificationID), string(req.RequiredLevel),
	)
	if err != nil {
		return generic.TaskRequirement{}, fmt.Errorf("failed to add requirement: %w", err)
	}
	req.ID = generic.RequirementID(id)
	return req, nil
}

func (r *repo) ListTasks(ctx context.Context) ([]generic.Task, error) {
	return r.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks t ORDER BY t.id`)
}

func (r *repo) CreateAbsence(ctx context.Context, a generic.ResourceAbsence) (generic.ResourceAbsence, error) {
	if err := r.requireRow(ctx, "resources", "resource", int64(a.ResourceID)); err != nil {
		return generic.ResourceAbsence{}, err
	}
	id, err := r.insert(ctx,
		`INSERT INTO resource_absences (resource_id, starts_at, ends_at, recurrence_rule) VALUES (?, ?, ?, ?)`,
		int64(a.ResourceID), formatTime(a.StartsAt), formatTime(a.EndsAt), a.RecurrenceRule,
	)
	if err != nil {
		return generic.ResourceAbsence{}, fmt.Errorf("failed to create absence: %w", err)
	}
	a.ID = generic.AbsenceID(id)
	return a, nil
}

func (r *repo) ListAssignments(ctx context.Context) ([]generic.TaskAssignment, error) {
	return r.queryAssignments(ctx, assignmentSelect+` ORDER BY a.id`)
}

// =============================================================================
// QUERY HELPERS
// =============================================================================

func (r *repo) insert(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// requireRow returns a NotFoundError when table has no row with id.
func (r *repo) requireRow(ctx context.Context, table, kind string, id int64) error {
	var count int
	if err := sqlx.GetContext(ctx, r.q, &count, `SELECT COUNT(*) FROM `+table+` WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to look up %s: %w", kind, err)
	}
	if count == 0 {
		return &generic.NotFoundError{Kind: kind, ID: id}
	}
	return nil
}

func (r *repo) queryResources(ctx context.Context, query string, args ...any) ([]generic.Resource, error) {
	var rows []resourceRow
	if err := sqlx.SelectContext(ctx, r.q, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query resources: %w", err)
	}
	out := make([]generic.Resource, len(rows))
	for i, row := range rows {
		out[i] = row.toResource()
	}
	return out, nil
}

func (r *repo) queryTasks(ctx context.Context, query string, args ...any) ([]generic.Task, error) {
	var rows []taskRow
	if err := sqlx.SelectContext(ctx, r.q, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	out := make([]generic.Task, len(rows))
	ptrs := make([]*generic.Task, len(rows))
	for i, row := range rows {
		t, err := row.toTask()
		if err != nil {
			return nil, err
		}
		out[i] = t
		ptrs[i] = &out[i]
	}
	if err := r.attachRequirements(ctx, ptrs); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *repo) queryAssignments(ctx context.Context, query string, args ...any) ([]generic.TaskAssignment, error) {
	var rows []assignmentRow
	if err := sqlx.SelectContext(ctx, r.q, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query assignments: %w", err)
	}
	out := make([]generic.TaskAssignment, len(rows))
	tasks := make([]*generic.Task, len(rows))
	for i, row := range rows {
		a, err := row.toAssignment()
		if err != nil {
			return nil, err
		}
		out[i] = a
		tasks[i] = a.Task
	}
	if err := r.attachRequirements(ctx, tasks); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *repo) queryAbsences(ctx context.Context, query string, args ...any) ([]generic.ResourceAbsence, error) {
	var rows []absenceRow
	if err := sqlx.SelectContext(ctx, r.q, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query absences: %w", err)
	}
	out := make([]generic.ResourceAbsence, len(rows))
	for i, row := range rows {
		a, err := row.toAbsence()
		if err != nil {
			return nil, err
		}
		out[i] = a
	}
	return out, nil
}

// attachRequirements loads the requirements of every task in one query.
func (r *repo) attachRequirements(ctx context.Context, tasks []*generic.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	byID := make(map[generic.TaskID][]*generic.Task, len(tasks))
	ids := make([]int64, 0, len(tasks))
	for _, t := range tasks {
		if _, seen := byID[t.ID]; !seen {
			ids = append(ids, int64(t.ID))
		}
		byID[t.ID] = append(byID[t.ID], t)
	}

	query, args, err := sqlx.In(`SELECT id, task_id, qualification_id, required_level
		FROM task_requirements WHERE task_id IN (?) ORDER BY id`, ids)
	if err != nil {
		return fmt.Errorf("failed to build requirement query: %w", err)
	}
	var rows []requirementRow
	if err := sqlx.SelectContext(ctx, r.q, &rows, r.q.Rebind(query), args...); err != nil {
		return fmt.Errorf("failed to query requirements: %w", err)
	}
	for _, row := range rows {
		req := generic.TaskRequirement{
			ID:              generic.RequirementID(row.ID),
			TaskID:          generic.TaskID(row.TaskID),
			QualificationID: generic.QualificationID(row.QualificationID),
			RequiredLevel:   generic.QualificationLevel(row.RequiredLevel),
		}
		for _, t := range byID[req.TaskID] {
			t.Requirements = append(t.Requirements, req)
		}
	}
	return nil
}

// Helper functions

// timeLayout keeps every digit of the fraction so stored values sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil, fmt.Errorf("failed to parse time %q: %w", s.String, err)
	}
	return &t, nil
}

func nullTypeID(id *generic.ResourceTypeID) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*id), Valid: true}
}

func typeIDPtr(n sql.NullInt64) *generic.ResourceTypeID {
	if !n.Valid {
		return nil
	}
	id := generic.ResourceTypeID(n.Int64)
	return &id
}
