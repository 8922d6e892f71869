package engine

import (
	"fmt"
	"strings"

	"taskflow/internal/domain"
)

// AddNote appends a note. Notes are allowed on locked tasks.
func (e *Engine) AddNote(taskID, actorID, text string) (domain.Task, error) {
	t, err := e.get(taskID)
	if err != nil {
		return domain.Task{}, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Task{}, invalid("note text is required")
	}
	if strings.TrimSpace(actorID) == "" {
		return domain.Task{}, invalid("actor id is required")
	}
	t.Notes = append(t.Notes, domain.Note{Author: actorID, Text: text, At: e.now()})
	e.touch(t, actorID)
	e.record("note.added", t.ID, actorID, fmt.Sprintf("%s commented on %q", actorID, t.Title))
	return t.Clone(), nil
}

// RecordActivity appends a free-form entry to the activity log.
func (e *Engine) RecordActivity(actorID, text string) (domain.Activity, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Activity{}, invalid("activity text is required")
	}
	return e.record("activity", "", actorID, text), nil
}

// ActivityLog returns up to limit entries, most recent first. limit <= 0
// returns every retained entry.
func (e *Engine) ActivityLog(limit int) []domain.Activity {
	return e.activity.Latest(limit)
}

// Collaborators returns everyone who has committed a change to the task.
func (e *Engine) Collaborators(taskID string) ([]string, error) {
	t, err := e.get(taskID)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), t.Collaborators...), nil
}
