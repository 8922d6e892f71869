package domain

import (
	"slices"
	"time"
)

type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Rank orders priorities; higher is more urgent. Unknown values rank lowest.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	default:
		return 0
	}
}

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

type ColumnRole string

const (
	RoleIntake   ColumnRole = "intake"
	RoleReview   ColumnRole = "review"
	RoleTerminal ColumnRole = "terminal"
)

type Column struct {
	Name        string     `json:"name"`
	Role        ColumnRole `json:"role,omitempty" enum:"intake,review,terminal,"`
	IsProtected bool       `json:"is_protected"`
}

// IsGated reports whether entering the column requires a complete checklist.
func (c Column) IsGated() bool {
	return c.Role == RoleReview || c.Role == RoleTerminal
}

type ClaimState string

const (
	ClaimUnassigned ClaimState = "unassigned"
	ClaimClaimed    ClaimState = "claimed"
	ClaimReleased   ClaimState = "released"
)

type Subtask struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	IsRequired  bool       `json:"is_required"`
	IsCompleted bool       `json:"is_completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty" format:"date-time"`
	Assignee    string     `json:"assignee,omitempty"`
	Claim       ClaimState `json:"claim" enum:"unassigned,claimed,released"`
}

type Note struct {
	Author string    `json:"author"`
	Text   string    `json:"text"`
	At     time.Time `json:"at" format:"date-time"`
}

type Task struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Description   string     `json:"description,omitempty"`
	Priority      Priority   `json:"priority" enum:"low,medium,high,critical"`
	Status        string     `json:"status"`
	Tags          []string   `json:"tags"`
	Subtasks      []Subtask  `json:"subtasks"`
	Notes         []Note     `json:"notes"`
	Links         []string   `json:"links"`
	Collaborators []string   `json:"collaborators"`
	Creator       string     `json:"creator"`
	IsLocked      bool       `json:"is_locked"`
	Version       int        `json:"version"`
	CreatedAt     time.Time  `json:"created_at" format:"date-time"`
	UpdatedAt     time.Time  `json:"updated_at" format:"date-time"`
	CompletedAt   *time.Time `json:"completed_at,omitempty" format:"date-time"`
	Deadline      *time.Time `json:"deadline,omitempty" format:"date-time"`
}

// Clone returns a deep copy so callers never alias engine state.
func (t Task) Clone() Task {
	c := t
	c.Tags = slices.Clone(t.Tags)
	c.Subtasks = slices.Clone(t.Subtasks)
	for i := range c.Subtasks {
		c.Subtasks[i].CompletedAt = cloneTime(t.Subtasks[i].CompletedAt)
	}
	c.Notes = slices.Clone(t.Notes)
	c.Links = slices.Clone(t.Links)
	c.Collaborators = slices.Clone(t.Collaborators)
	c.CompletedAt = cloneTime(t.CompletedAt)
	c.Deadline = cloneTime(t.Deadline)
	return c
}

func (t Task) HasLink(target string) bool {
	return slices.Contains(t.Links, target)
}

func (t Task) SubtaskIndex(id string) int {
	return slices.IndexFunc(t.Subtasks, func(s Subtask) bool { return s.ID == id })
}

type Activity struct {
	ID      int64     `json:"id"`
	At      time.Time `json:"at" format:"date-time"`
	Type    string    `json:"type"`
	TaskID  string    `json:"task_id,omitempty"`
	ActorID string    `json:"actor_id,omitempty"`
	Text    string    `json:"text"`
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// APIKey identifies an actor to the HTTP API. Only the hash is stored.
type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"-"`
	CreatedAt string `json:"created_at"`
}
