package engine

import (
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"

	"taskflow/internal/config"
	"taskflow/internal/domain"
	"taskflow/internal/events"
)

// Engine is the in-memory task store and workflow engine for one board.
// It is single-writer: callers that share an Engine across goroutines must
// serialise access themselves (see app.Service).
type Engine struct {
	Config *config.Config
	Now    func() time.Time
	NewID  func() string

	tasks    map[string]*domain.Task
	columns  []domain.Column
	upstream map[string]map[string]struct{}
	activity *events.Log
	seq      int64
	dirty    changeSet
}

// State is a persisted board as loaded by the repo.
type State struct {
	Columns     []domain.Column
	Tasks       []domain.Task
	Activity    []domain.Activity // oldest first
	LastEventID int64
}

// Changes lists what committed mutations touched since the last TakeChanges.
type Changes struct {
	Tasks    []string
	Archived []string
	Columns  bool
	Activity []domain.Activity
}

func (c Changes) Empty() bool {
	return len(c.Tasks) == 0 && len(c.Archived) == 0 && !c.Columns && len(c.Activity) == 0
}

type changeSet struct {
	tasks    map[string]struct{}
	archived map[string]struct{}
	columns  bool
	activity []domain.Activity
}

func New(cfg *config.Config) *Engine {
	if cfg == nil {
		cfg = config.Default("default")
	}
	e := &Engine{
		Config:   cfg,
		Now:      time.Now,
		NewID:    uuid.NewString,
		tasks:    map[string]*domain.Task{},
		upstream: map[string]map[string]struct{}{},
		activity: events.NewLog(cfg.Activity.Limit),
	}
	e.resetChanges()
	for _, c := range cfg.Columns {
		role := domain.ColumnRole(c.Role)
		e.columns = append(e.columns, domain.Column{Name: c.Name, Role: role, IsProtected: role != ""})
	}
	return e
}

// Restore rebuilds an engine from persisted state. Columns from the state win
// over the configured seed columns; an empty state keeps the seed.
func Restore(cfg *config.Config, st State) (*Engine, error) {
	e := New(cfg)
	if len(st.Columns) > 0 {
		if err := validateColumns(st.Columns); err != nil {
			return nil, fmt.Errorf("restore columns: %w", err)
		}
		e.columns = slices.Clone(st.Columns)
	} else {
		e.dirty.columns = true
	}
	for _, t := range st.Tasks {
		task := t.Clone()
		if _, ok := e.tasks[task.ID]; ok {
			return nil, fmt.Errorf("restore: duplicate task %s", task.ID)
		}
		e.tasks[task.ID] = &task
	}
	for _, t := range e.tasks {
		if e.columnIndex(t.Status) < 0 {
			t.Status = e.intake().Name
			e.markTask(t.ID)
		}
		terminal := t.Status == e.terminal().Name
		if terminal && t.CompletedAt == nil {
			at := t.UpdatedAt
			t.CompletedAt = &at
			e.markTask(t.ID)
		} else if !terminal && t.CompletedAt != nil {
			t.CompletedAt = nil
			e.markTask(t.ID)
		}
		t.Links = slices.DeleteFunc(t.Links, func(id string) bool {
			_, ok := e.tasks[id]
			return !ok || id == t.ID
		})
		for _, target := range t.Links {
			e.indexLink(t.ID, target)
		}
	}
	for _, a := range st.Activity {
		e.activity.Record(a)
	}
	e.seq = st.LastEventID
	return e, nil
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e *Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

// TakeChanges returns and clears the change set accumulated by committed mutations.
func (e *Engine) TakeChanges() Changes {
	c := Changes{Columns: e.dirty.columns, Activity: e.dirty.activity}
	for id := range e.dirty.tasks {
		c.Tasks = append(c.Tasks, id)
	}
	for id := range e.dirty.archived {
		c.Archived = append(c.Archived, id)
	}
	sort.Strings(c.Tasks)
	sort.Strings(c.Archived)
	e.resetChanges()
	return c
}

func (e *Engine) resetChanges() {
	e.dirty = changeSet{tasks: map[string]struct{}{}, archived: map[string]struct{}{}}
}

func (e *Engine) markTask(id string) {
	e.dirty.tasks[id] = struct{}{}
}

func (e *Engine) markArchived(id string) {
	delete(e.dirty.tasks, id)
	e.dirty.archived[id] = struct{}{}
}

// touch commits a mutation on t made by actor.
func (e *Engine) touch(t *domain.Task, actorID string) {
	if actorID != "" && !slices.Contains(t.Collaborators, actorID) {
		t.Collaborators = append(t.Collaborators, actorID)
	}
	e.bump(t)
}

func (e *Engine) bump(t *domain.Task) {
	t.Version++
	t.UpdatedAt = e.now()
	e.markTask(t.ID)
}

func (e *Engine) record(evtType, taskID, actorID, text string) domain.Activity {
	e.seq++
	a := domain.Activity{ID: e.seq, At: e.now(), Type: evtType, TaskID: taskID, ActorID: actorID, Text: text}
	e.activity.Record(a)
	e.dirty.activity = append(e.dirty.activity, a)
	return a
}

func (e *Engine) get(id string) (*domain.Task, error) {
	t, ok := e.tasks[id]
	if !ok {
		return nil, notFound("task", id)
	}
	return t, nil
}

// Task returns a copy of the task with the given id.
func (e *Engine) Task(id string) (domain.Task, error) {
	t, err := e.get(id)
	if err != nil {
		return domain.Task{}, err
	}
	return t.Clone(), nil
}

// Tasks returns copies of all tasks in creation order.
func (e *Engine) Tasks() []domain.Task {
	res := make([]domain.Task, 0, len(e.tasks))
	for _, t := range e.tasks {
		res = append(res, t.Clone())
	}
	sortTasks(res, SortCreatedAt)
	return res
}

// Snapshot returns the full state of the board.
func (e *Engine) Snapshot() State {
	acts := e.activity.Latest(0)
	slices.Reverse(acts)
	return State{
		Columns:     e.Columns(),
		Tasks:       e.Tasks(),
		Activity:    acts,
		LastEventID: e.seq,
	}
}

// BoardColumn is one column of the board with its tasks, oldest first.
type BoardColumn struct {
	Column domain.Column `json:"column"`
	Tasks  []domain.Task `json:"tasks"`
}

// Board groups every task under its column, in column order.
func (e *Engine) Board() []BoardColumn {
	res := make([]BoardColumn, 0, len(e.columns))
	byName := map[string]int{}
	for i, c := range e.columns {
		byName[c.Name] = i
		res = append(res, BoardColumn{Column: c, Tasks: []domain.Task{}})
	}
	for _, t := range e.Tasks() {
		i := byName[t.Status]
		res[i].Tasks = append(res[i].Tasks, t)
	}
	return res
}
