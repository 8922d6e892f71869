package server

import (
	"time"

	"taskflow/internal/domain"
	"taskflow/internal/engine"
)

// Request payloads

type SubtaskRequest struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Required    *bool  `json:"required,omitempty"`
}

type CreateTaskRequest struct {
	ID          string           `json:"id,omitempty"`
	Title       string           `json:"title"`
	Description string           `json:"description,omitempty"`
	Priority    string           `json:"priority,omitempty"`
	Status      string           `json:"status,omitempty"`
	Tags        []string         `json:"tags,omitempty"`
	Deadline    *time.Time       `json:"deadline,omitempty"`
	Subtasks    []SubtaskRequest `json:"subtasks,omitempty"`
}

// UpdateTaskRequest maps each present field to one update command.
// ClearDeadline removes the deadline; Deadline sets it.
type UpdateTaskRequest struct {
	ExpectedVersion *int       `json:"expected_version,omitempty"`
	Title           *string    `json:"title,omitempty"`
	Description     *string    `json:"description,omitempty"`
	Priority        *string    `json:"priority,omitempty" enum:"low,medium,high,critical"`
	Deadline        *time.Time `json:"deadline,omitempty"`
	ClearDeadline   bool       `json:"clear_deadline,omitempty"`
	Tags            []string   `json:"tags,omitempty"`
	AddTags         []string   `json:"add_tags,omitempty"`
	RemoveTags      []string   `json:"remove_tags,omitempty"`
	Locked          *bool      `json:"locked,omitempty"`
}

type MoveTaskRequest struct {
	Column string `json:"column"`
}

type DirectionRequest struct {
	Direction string `json:"direction" example:"up"`
}

type SetRequiredRequest struct {
	Required bool `json:"required"`
}

type LinkRequest struct {
	TargetID string `json:"target_id"`
}

type NoteRequest struct {
	Text string `json:"text"`
}

type ColumnRequest struct {
	Name string `json:"name"`
}

type ActivityRequest struct {
	Text string `json:"text"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
}

// Responses

type TaskResponse struct {
	domain.Task
	RequiredDone  int  `json:"required_done"`
	RequiredTotal int  `json:"required_total"`
	CanFinish     bool `json:"can_finish"`
}

type EligibilityResponse struct {
	TaskID        string   `json:"task_id"`
	Eligible      bool     `json:"eligible"`
	RequiredDone  int      `json:"required_done"`
	RequiredTotal int      `json:"required_total"`
	Missing       []string `json:"missing"`
}

type NextSubtaskResponse struct {
	Found   bool            `json:"found"`
	Subtask *domain.Subtask `json:"subtask,omitempty"`
}

type BoardColumnResponse struct {
	Column domain.Column  `json:"column"`
	Tasks  []TaskResponse `json:"tasks"`
}

type BoardResponse struct {
	ID      string                `json:"id"`
	Name    string                `json:"name"`
	Columns []BoardColumnResponse `json:"columns"`
}

type paginatedEvents struct {
	Items      []domain.Activity `json:"items"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

type MeResponse struct {
	ActorID string `json:"actor_id"`
	Source  string `json:"source"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

// Output wrappers

type taskOutput struct {
	Body TaskResponse `json:"body"`
}

type tasksOutput struct {
	Body []TaskResponse `json:"body"`
}

type columnsOutput struct {
	Body []domain.Column `json:"body"`
}

type columnOutput struct {
	Body domain.Column `json:"body"`
}

type activityOutput struct {
	Body []domain.Activity `json:"body"`
}

func taskResponse(e *engine.Engine, t domain.Task) TaskResponse {
	done, total := engine.RequiredProgress(t)
	return TaskResponse{Task: t, RequiredDone: done, RequiredTotal: total, CanFinish: e.IsEligibleForAdvance(t)}
}

func mapTasks(e *engine.Engine, items []domain.Task) []TaskResponse {
	res := make([]TaskResponse, 0, len(items))
	for _, t := range items {
		res = append(res, taskResponse(e, t))
	}
	return res
}

func subtaskDrafts(in []SubtaskRequest) []engine.SubtaskDraft {
	res := make([]engine.SubtaskDraft, 0, len(in))
	for _, s := range in {
		res = append(res, engine.SubtaskDraft{Title: s.Title, Description: s.Description, Required: s.Required})
	}
	return res
}

func (r CreateTaskRequest) options(actorID string) engine.TaskCreateOptions {
	return engine.TaskCreateOptions{
		ID:          r.ID,
		Title:       r.Title,
		Description: r.Description,
		Priority:    domain.Priority(r.Priority),
		Status:      r.Status,
		Tags:        r.Tags,
		Deadline:    r.Deadline,
		Subtasks:    subtaskDrafts(r.Subtasks),
		ActorID:     actorID,
	}
}

func (r UpdateTaskRequest) commands() []engine.Command {
	var cmds []engine.Command
	if r.Title != nil {
		cmds = append(cmds, engine.SetTitle{Title: *r.Title})
	}
	if r.Description != nil {
		cmds = append(cmds, engine.SetDescription{Description: *r.Description})
	}
	if r.Priority != nil {
		cmds = append(cmds, engine.SetPriority{Priority: domain.Priority(*r.Priority)})
	}
	if r.ClearDeadline {
		cmds = append(cmds, engine.SetDeadline{})
	} else if r.Deadline != nil {
		cmds = append(cmds, engine.SetDeadline{Deadline: r.Deadline})
	}
	if r.Tags != nil {
		cmds = append(cmds, engine.SetTags{Tags: r.Tags})
	}
	for _, tag := range r.AddTags {
		cmds = append(cmds, engine.AddTag{Tag: tag})
	}
	for _, tag := range r.RemoveTags {
		cmds = append(cmds, engine.RemoveTag{Tag: tag})
	}
	if r.Locked != nil {
		cmds = append(cmds, engine.SetLocked{Locked: *r.Locked})
	}
	return cmds
}
