package engine

import (
	"fmt"

	"taskflow/internal/domain"
)

// MoveTask moves a task to target. Entering a gated column requires every
// required subtask to be complete; a rejected move leaves the task untouched.
func (e *Engine) MoveTask(taskID, target, actorID string) (domain.Task, error) {
	t, err := e.get(taskID)
	if err != nil {
		return domain.Task{}, err
	}
	col, err := e.column(target)
	if err != nil {
		return domain.Task{}, err
	}
	if t.Status == col.Name {
		return t.Clone(), nil
	}
	if err := e.checkGate(t, col); err != nil {
		return domain.Task{}, err
	}
	from := t.Status
	t.Status = col.Name
	if col.Role == domain.RoleTerminal {
		now := e.now()
		t.CompletedAt = &now
	} else {
		t.CompletedAt = nil
	}
	e.touch(t, actorID)
	e.record("task.moved", t.ID, actorID, fmt.Sprintf("Moved %q from %s to %s", t.Title, from, col.Name))
	return t.Clone(), nil
}
