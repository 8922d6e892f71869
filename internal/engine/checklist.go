package engine

import (
	"fmt"
	"strings"

	"taskflow/internal/config"
	"taskflow/internal/domain"
)

// Direction moves an item one slot towards the front (Up) or back (Down).
type Direction int

const (
	Up   Direction = -1
	Down Direction = 1
)

// ParseDirection accepts up/left/prev and down/right/next.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "up", "left", "prev":
		return Up, nil
	case "down", "right", "next":
		return Down, nil
	}
	return 0, invalid("unknown direction %q", s)
}

func (d Direction) String() string {
	if d == Up {
		return "up"
	}
	return "down"
}

// RequiredProgress counts required subtasks and how many of them are complete.
func RequiredProgress(t domain.Task) (done, total int) {
	for _, s := range t.Subtasks {
		if !s.IsRequired {
			continue
		}
		total++
		if s.IsCompleted {
			done++
		}
	}
	return done, total
}

// IsEligibleForAdvance reports whether t may enter a gated column. Under the
// blocked zero-subtask policy a task needs at least one required subtask.
func (e *Engine) IsEligibleForAdvance(t domain.Task) bool {
	return len(e.missingRequired(t)) == 0 && e.passesZeroPolicy(t)
}

// CanFinish is the predicate behind a "finish" affordance; it is the gate.
func (e *Engine) CanFinish(taskID string) (bool, error) {
	t, err := e.get(taskID)
	if err != nil {
		return false, err
	}
	return e.IsEligibleForAdvance(*t), nil
}

func (e *Engine) passesZeroPolicy(t domain.Task) bool {
	if e.Config.Workflow.ZeroSubtasks != config.ZeroSubtasksBlocked {
		return true
	}
	_, total := RequiredProgress(t)
	return total > 0
}

func (e *Engine) missingRequired(t domain.Task) []string {
	var missing []string
	for _, s := range t.Subtasks {
		if s.IsRequired && !s.IsCompleted {
			missing = append(missing, s.Title)
		}
	}
	return missing
}

func (e *Engine) checkGate(t *domain.Task, col domain.Column) error {
	if !col.IsGated() || e.IsEligibleForAdvance(*t) {
		return nil
	}
	return &TransitionError{TaskID: t.ID, Column: col.Name, Missing: e.missingRequired(*t)}
}

func (e *Engine) newSubtask(d SubtaskDraft) (domain.Subtask, error) {
	title := strings.TrimSpace(d.Title)
	if title == "" {
		return domain.Subtask{}, invalid("subtask title is required")
	}
	id := d.ID
	if id == "" {
		id = e.newID()
	}
	required := true
	if d.Required != nil {
		required = *d.Required
	}
	return domain.Subtask{
		ID:          id,
		Title:       title,
		Description: d.Description,
		IsRequired:  required,
		Claim:       domain.ClaimUnassigned,
	}, nil
}

func (e *Engine) subtask(taskID, subtaskID string) (*domain.Task, int, error) {
	t, err := e.get(taskID)
	if err != nil {
		return nil, -1, err
	}
	idx := t.SubtaskIndex(subtaskID)
	if idx < 0 {
		return nil, -1, notFound("subtask", subtaskID)
	}
	return t, idx, nil
}

// AddSubtask appends a subtask to the end of the checklist.
func (e *Engine) AddSubtask(taskID string, draft SubtaskDraft, actorID string) (domain.Task, error) {
	t, err := e.get(taskID)
	if err != nil {
		return domain.Task{}, err
	}
	st, err := e.newSubtask(draft)
	if err != nil {
		return domain.Task{}, err
	}
	if t.SubtaskIndex(st.ID) >= 0 {
		return domain.Task{}, fmt.Errorf("%w: subtask %s already exists", ErrConflict, st.ID)
	}
	t.Subtasks = append(t.Subtasks, st)
	e.touch(t, actorID)
	e.record("subtask.added", t.ID, actorID, fmt.Sprintf("Added subtask %q to %q", st.Title, t.Title))
	return t.Clone(), nil
}

// ToggleSubtask flips completion. It never changes the task status.
func (e *Engine) ToggleSubtask(taskID, subtaskID, actorID string) (domain.Task, error) {
	t, idx, err := e.subtask(taskID, subtaskID)
	if err != nil {
		return domain.Task{}, err
	}
	st := &t.Subtasks[idx]
	st.IsCompleted = !st.IsCompleted
	verb := "Reopened"
	if st.IsCompleted {
		now := e.now()
		st.CompletedAt = &now
		verb = "Completed"
	} else {
		st.CompletedAt = nil
	}
	e.touch(t, actorID)
	e.record("subtask.toggled", t.ID, actorID, fmt.Sprintf("%s subtask %q on %q", verb, st.Title, t.Title))
	return t.Clone(), nil
}

// ReorderSubtask swaps a subtask with its neighbour; no-op at the boundaries.
func (e *Engine) ReorderSubtask(taskID, subtaskID string, dir Direction, actorID string) (domain.Task, error) {
	t, idx, err := e.subtask(taskID, subtaskID)
	if err != nil {
		return domain.Task{}, err
	}
	if dir != Up && dir != Down {
		return domain.Task{}, invalid("unknown direction %d", dir)
	}
	j := idx + int(dir)
	if j < 0 || j >= len(t.Subtasks) {
		return t.Clone(), nil
	}
	t.Subtasks[idx], t.Subtasks[j] = t.Subtasks[j], t.Subtasks[idx]
	e.touch(t, actorID)
	e.record("subtask.reordered", t.ID, actorID, fmt.Sprintf("Moved subtask %q %s on %q", t.Subtasks[j].Title, dir, t.Title))
	return t.Clone(), nil
}

// PickUpSubtask claims a subtask for actorID. The first claim wins; a
// released subtask can be claimed again.
func (e *Engine) PickUpSubtask(taskID, subtaskID, actorID string) (domain.Task, error) {
	if strings.TrimSpace(actorID) == "" {
		return domain.Task{}, invalid("actor id is required")
	}
	t, idx, err := e.subtask(taskID, subtaskID)
	if err != nil {
		return domain.Task{}, err
	}
	st := &t.Subtasks[idx]
	if st.Claim == domain.ClaimClaimed {
		if st.Assignee == actorID {
			return t.Clone(), nil
		}
		return domain.Task{}, fmt.Errorf("%w: subtask %s is claimed by %s", ErrConflict, st.ID, st.Assignee)
	}
	st.Assignee = actorID
	st.Claim = domain.ClaimClaimed
	e.touch(t, actorID)
	e.record("subtask.claimed", t.ID, actorID, fmt.Sprintf("%s picked up %q on %q", actorID, st.Title, t.Title))
	return t.Clone(), nil
}

// ReleaseSubtask gives up a claim. Only the assignee may release.
func (e *Engine) ReleaseSubtask(taskID, subtaskID, actorID string) (domain.Task, error) {
	t, idx, err := e.subtask(taskID, subtaskID)
	if err != nil {
		return domain.Task{}, err
	}
	st := &t.Subtasks[idx]
	if st.Claim != domain.ClaimClaimed {
		return domain.Task{}, fmt.Errorf("%w: subtask %s is not claimed", ErrConflict, st.ID)
	}
	if st.Assignee != actorID {
		return domain.Task{}, fmt.Errorf("%w: subtask %s is claimed by %s", ErrPermissionDenied, st.ID, st.Assignee)
	}
	st.Assignee = ""
	st.Claim = domain.ClaimReleased
	e.touch(t, actorID)
	e.record("subtask.released", t.ID, actorID, fmt.Sprintf("%s released %q on %q", actorID, st.Title, t.Title))
	return t.Clone(), nil
}

func (e *Engine) SetSubtaskRequired(taskID, subtaskID string, required bool, actorID string) (domain.Task, error) {
	t, idx, err := e.subtask(taskID, subtaskID)
	if err != nil {
		return domain.Task{}, err
	}
	st := &t.Subtasks[idx]
	if st.IsRequired == required {
		return t.Clone(), nil
	}
	st.IsRequired = required
	kind := "optional"
	if required {
		kind = "required"
	}
	e.touch(t, actorID)
	e.record("subtask.required", t.ID, actorID, fmt.Sprintf("Marked subtask %q %s on %q", st.Title, kind, t.Title))
	return t.Clone(), nil
}

func (e *Engine) RemoveSubtask(taskID, subtaskID, actorID string) (domain.Task, error) {
	t, idx, err := e.subtask(taskID, subtaskID)
	if err != nil {
		return domain.Task{}, err
	}
	title := t.Subtasks[idx].Title
	t.Subtasks = append(t.Subtasks[:idx:idx], t.Subtasks[idx+1:]...)
	e.touch(t, actorID)
	e.record("subtask.removed", t.ID, actorID, fmt.Sprintf("Removed subtask %q from %q", title, t.Title))
	return t.Clone(), nil
}

// NextSubtask returns the first incomplete subtask, preferring required ones.
func (e *Engine) NextSubtask(taskID string) (domain.Subtask, bool, error) {
	t, err := e.get(taskID)
	if err != nil {
		return domain.Subtask{}, false, err
	}
	for _, requiredOnly := range []bool{true, false} {
		for _, s := range t.Subtasks {
			if s.IsCompleted || (requiredOnly && !s.IsRequired) {
				continue
			}
			return s, true, nil
		}
	}
	return domain.Subtask{}, false, nil
}
