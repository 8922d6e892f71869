package engine

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"taskflow/internal/domain"
)

// SubtaskDraft describes a subtask to add. Required defaults to true when nil.
type SubtaskDraft struct {
	ID          string
	Title       string
	Description string
	Required    *bool
}

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	ID          string
	Title       string
	Description string
	Priority    domain.Priority
	Status      string
	Tags        []string
	Deadline    *time.Time
	Subtasks    []SubtaskDraft
	ActorID     string
}

func (e *Engine) CreateTask(opts TaskCreateOptions) (domain.Task, error) {
	t, err := e.buildTask(opts)
	if err != nil {
		return domain.Task{}, err
	}
	e.insertTask(t)
	e.record("task.created", t.ID, opts.ActorID, fmt.Sprintf("Created %q in %s", t.Title, t.Status))
	return t.Clone(), nil
}

func (e *Engine) buildTask(opts TaskCreateOptions) (*domain.Task, error) {
	title := strings.TrimSpace(opts.Title)
	if title == "" {
		return nil, invalid("task title is required")
	}
	if strings.TrimSpace(opts.ActorID) == "" {
		return nil, invalid("actor id is required")
	}
	id := opts.ID
	if id == "" {
		id = e.newID()
	}
	if _, exists := e.tasks[id]; exists {
		return nil, fmt.Errorf("%w: task %s already exists", ErrConflict, id)
	}
	prio := opts.Priority
	if prio == "" {
		prio = domain.Priority(e.Config.Workflow.DefaultPriority)
	}
	if !prio.Valid() {
		return nil, invalid("unknown priority %q", prio)
	}
	now := e.now()
	t := &domain.Task{
		ID:            id,
		Title:         title,
		Description:   opts.Description,
		Priority:      prio,
		Status:        e.intake().Name,
		Tags:          normalizeTags(opts.Tags),
		Subtasks:      []domain.Subtask{},
		Notes:         []domain.Note{},
		Links:         []string{},
		Collaborators: []string{opts.ActorID},
		Creator:       opts.ActorID,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
		Deadline:      utcPtr(opts.Deadline),
	}
	for _, d := range opts.Subtasks {
		st, err := e.newSubtask(d)
		if err != nil {
			return nil, err
		}
		t.Subtasks = append(t.Subtasks, st)
	}
	if opts.Status != "" {
		col, err := e.column(opts.Status)
		if err != nil {
			return nil, err
		}
		if err := e.checkGate(t, col); err != nil {
			return nil, err
		}
		t.Status = col.Name
		if col.Role == domain.RoleTerminal {
			t.CompletedAt = &now
		}
	}
	return t, nil
}

func (e *Engine) insertTask(t *domain.Task) {
	e.tasks[t.ID] = t
	e.markTask(t.ID)
}

// TaskUpdateOptions applies Commands to one task atomically. When
// ExpectedVersion is set, the update is rejected unless it matches.
type TaskUpdateOptions struct {
	ID              string
	ActorID         string
	ExpectedVersion *int
	Commands        []Command
}

// Command is a single field mutation of a task.
type Command interface {
	// Restricted commands are denied to non-creators while the task is locked.
	Restricted() bool
	Apply(t *domain.Task) error
	Field() string
}

type SetTitle struct{ Title string }
type SetDescription struct{ Description string }
type SetPriority struct{ Priority domain.Priority }
type SetDeadline struct{ Deadline *time.Time }
type SetTags struct{ Tags []string }
type AddTag struct{ Tag string }
type RemoveTag struct{ Tag string }
type SetLocked struct{ Locked bool }

func (SetTitle) Restricted() bool       { return true }
func (SetDescription) Restricted() bool { return true }
func (SetPriority) Restricted() bool    { return true }
func (SetDeadline) Restricted() bool    { return true }
func (SetTags) Restricted() bool        { return true }
func (AddTag) Restricted() bool         { return true }
func (RemoveTag) Restricted() bool      { return true }
func (SetLocked) Restricted() bool      { return true }

func (SetTitle) Field() string       { return "title" }
func (SetDescription) Field() string { return "description" }
func (SetPriority) Field() string    { return "priority" }
func (SetDeadline) Field() string    { return "deadline" }
func (SetTags) Field() string        { return "tags" }
func (AddTag) Field() string         { return "tags" }
func (RemoveTag) Field() string      { return "tags" }
func (SetLocked) Field() string      { return "locked" }

func (c SetTitle) Apply(t *domain.Task) error {
	title := strings.TrimSpace(c.Title)
	if title == "" {
		return invalid("task title is required")
	}
	t.Title = title
	return nil
}

func (c SetDescription) Apply(t *domain.Task) error {
	t.Description = c.Description
	return nil
}

func (c SetPriority) Apply(t *domain.Task) error {
	if !c.Priority.Valid() {
		return invalid("unknown priority %q", c.Priority)
	}
	t.Priority = c.Priority
	return nil
}

func (c SetDeadline) Apply(t *domain.Task) error {
	t.Deadline = utcPtr(c.Deadline)
	return nil
}

func (c SetTags) Apply(t *domain.Task) error {
	t.Tags = normalizeTags(c.Tags)
	return nil
}

func (c AddTag) Apply(t *domain.Task) error {
	tag := strings.TrimSpace(c.Tag)
	if tag == "" {
		return invalid("tag is required")
	}
	t.Tags = normalizeTags(append(t.Tags, tag))
	return nil
}

func (c RemoveTag) Apply(t *domain.Task) error {
	t.Tags = slices.DeleteFunc(t.Tags, func(s string) bool { return s == strings.TrimSpace(c.Tag) })
	return nil
}

func (c SetLocked) Apply(t *domain.Task) error {
	t.IsLocked = c.Locked
	return nil
}

func (e *Engine) UpdateTask(opts TaskUpdateOptions) (domain.Task, error) {
	cur, err := e.get(opts.ID)
	if err != nil {
		return domain.Task{}, err
	}
	if opts.ExpectedVersion != nil && *opts.ExpectedVersion != cur.Version {
		return domain.Task{}, fmt.Errorf("%w: task %s is at version %d, expected %d", ErrConflict, cur.ID, cur.Version, *opts.ExpectedVersion)
	}
	if len(opts.Commands) == 0 {
		return cur.Clone(), nil
	}
	next := cur.Clone()
	var fields []string
	for _, cmd := range opts.Commands {
		if cmd == nil {
			return domain.Task{}, invalid("nil command")
		}
		if err := authorize(cur, cmd, opts.ActorID); err != nil {
			return domain.Task{}, err
		}
		if err := cmd.Apply(&next); err != nil {
			return domain.Task{}, err
		}
		if !slices.Contains(fields, cmd.Field()) {
			fields = append(fields, cmd.Field())
		}
	}
	*cur = next
	e.touch(cur, opts.ActorID)
	e.record("task.updated", cur.ID, opts.ActorID, fmt.Sprintf("Updated %q: %s", cur.Title, strings.Join(fields, ", ")))
	return cur.Clone(), nil
}

// authorize applies the lock rule. SetLocked is reserved to the creator
// whether or not the task is locked.
func authorize(t *domain.Task, cmd Command, actorID string) error {
	if _, ok := cmd.(SetLocked); ok && actorID != t.Creator {
		return fmt.Errorf("%w: only the creator can lock or unlock task %s", ErrPermissionDenied, t.ID)
	}
	if t.IsLocked && cmd.Restricted() && actorID != t.Creator {
		return fmt.Errorf("%w: task %s is locked; only %s can change %s", ErrPermissionDenied, t.ID, t.Creator, cmd.Field())
	}
	return nil
}

// ArchiveTask removes a finished task and every edge touching it.
func (e *Engine) ArchiveTask(taskID, actorID string) error {
	t, err := e.get(taskID)
	if err != nil {
		return err
	}
	term := e.terminal()
	if t.Status != term.Name {
		return fmt.Errorf("%w: task %s can only be archived from %s", ErrTransitionRejected, t.ID, term.Name)
	}
	if t.IsLocked && actorID != t.Creator {
		return fmt.Errorf("%w: task %s is locked", ErrPermissionDenied, t.ID)
	}
	for _, target := range t.Links {
		e.unindexLink(t.ID, target)
	}
	for src := range e.upstream[t.ID] {
		if s, ok := e.tasks[src]; ok {
			s.Links = slices.DeleteFunc(s.Links, func(id string) bool { return id == t.ID })
			e.touch(s, actorID)
		}
	}
	delete(e.upstream, t.ID)
	delete(e.tasks, t.ID)
	e.markArchived(t.ID)
	e.record("task.archived", t.ID, actorID, fmt.Sprintf("Archived %q", t.Title))
	return nil
}

// SortCriterion names an ordering for ListTasksSorted.
type SortCriterion string

const (
	SortPriority  SortCriterion = "priority"
	SortDeadline  SortCriterion = "deadline"
	SortCreatedAt SortCriterion = "created_at"
)

func (c SortCriterion) Valid() bool {
	switch c {
	case SortPriority, SortDeadline, SortCreatedAt:
		return true
	}
	return false
}

// ListTasksByColumn returns the tasks whose status is column, oldest first.
func (e *Engine) ListTasksByColumn(column string) ([]domain.Task, error) {
	col, err := e.column(column)
	if err != nil {
		return nil, err
	}
	res := []domain.Task{}
	for _, t := range e.tasks {
		if t.Status == col.Name {
			res = append(res, t.Clone())
		}
	}
	sortTasks(res, SortCreatedAt)
	return res, nil
}

// ListTasksSorted returns every task ordered by criterion. Priority sorts most
// urgent first; deadline sorts soonest first with undated tasks last.
func (e *Engine) ListTasksSorted(criterion SortCriterion) ([]domain.Task, error) {
	if !criterion.Valid() {
		return nil, invalid("unknown sort criterion %q", criterion)
	}
	res := e.Tasks()
	sortTasks(res, criterion)
	return res, nil
}

func sortTasks(tasks []domain.Task, criterion SortCriterion) {
	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		switch criterion {
		case SortPriority:
			if a.Priority.Rank() != b.Priority.Rank() {
				return a.Priority.Rank() > b.Priority.Rank()
			}
		case SortDeadline:
			switch {
			case a.Deadline != nil && b.Deadline == nil:
				return true
			case a.Deadline == nil && b.Deadline != nil:
				return false
			case a.Deadline != nil && !a.Deadline.Equal(*b.Deadline):
				return a.Deadline.Before(*b.Deadline)
			}
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

func normalizeTags(in []string) []string {
	out := make([]string, 0, len(in))
	for _, tag := range in {
		tag = strings.TrimSpace(tag)
		if tag != "" {
			out = append(out, tag)
		}
	}
	sort.Strings(out)
	return slices.Compact(out)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
