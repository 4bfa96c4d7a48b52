package scheduling

import (
	"time"

	"github.com/warp/resource-scheduler/generic"
)

// SummaryTimeLayout formats timestamps in summaries.
const SummaryTimeLayout = "2006-01-02 15:04:05"

type TaskSummary struct {
	ID       generic.TaskID `json:"id"`
	Title    string         `json:"title"`
	Priority string         `json:"priority"`
	StartsAt *string        `json:"starts_at"`
	EndsAt   *string        `json:"ends_at"`
}

type ResourceSummary struct {
	ID                    generic.ResourceID `json:"id"`
	Name                  string             `json:"name"`
	UtilizationPercentage *float64           `json:"utilization_percentage"`
}

type AssignmentSummary struct {
	ID               generic.AssignmentID `json:"id"`
	TaskID           generic.TaskID       `json:"task_id"`
	TaskTitle        string               `json:"task_title"`
	TaskPriority     string               `json:"task_priority"`
	StartsAt         *string              `json:"starts_at"`
	EndsAt           *string              `json:"ends_at"`
	AssignmentSource string               `json:"assignment_source"`
}

func SummarizeTask(t generic.Task) TaskSummary {
	return TaskSummary{
		ID:       t.ID,
		Title:    t.Title,
		Priority: string(t.Priority),
		StartsAt: formatTime(t.StartsAt),
		EndsAt:   formatTime(t.EndsAt),
	}
}

// SummarizeResource includes the utilization when util has an entry for r.
func SummarizeResource(r generic.Resource, util map[generic.ResourceID]float64) ResourceSummary {
	s := ResourceSummary{ID: r.ID, Name: r.Name}
	if v, ok := util[r.ID]; ok {
		s.UtilizationPercentage = &v
	}
	return s
}

// SummarizeAssignment falls back to the task dates per bound. A missing task
// is reported as "Unknown task" with priority "unknown".
func SummarizeAssignment(a generic.TaskAssignment) AssignmentSummary {
	s := AssignmentSummary{
		ID:               a.ID,
		TaskID:           a.TaskID,
		TaskTitle:        "Unknown task",
		TaskPriority:     "unknown",
		StartsAt:         formatTime(a.StartsAt),
		EndsAt:           formatTime(a.EndsAt),
		AssignmentSource: string(a.Source),
	}
	if a.Task != nil {
		s.TaskTitle = a.Task.Title
		s.TaskPriority = string(a.Task.Priority)
		if s.StartsAt == nil {
			s.StartsAt = formatTime(a.Task.StartsAt)
		}
		if s.EndsAt == nil {
			s.EndsAt = formatTime(a.Task.EndsAt)
		}
	}
	return s
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(SummaryTimeLayout)
	return &s
}
