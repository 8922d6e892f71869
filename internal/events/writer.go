package events

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"time"

	"taskflow/internal/domain"
)

// Log is the in-memory activity log. It keeps at most limit entries and
// drops the oldest first.
type Log struct {
	limit   int
	entries []domain.Activity // oldest first
}

func NewLog(limit int) *Log {
	if limit <= 0 {
		limit = 500
	}
	return &Log{limit: limit}
}

func (l *Log) Record(a domain.Activity) {
	l.entries = append(l.entries, a)
	if over := len(l.entries) - l.limit; over > 0 {
		l.entries = slices.Delete(l.entries, 0, over)
	}
}

// Latest returns up to n entries, most recent first. n <= 0 returns everything retained.
func (l *Log) Latest(n int) []domain.Activity {
	if n <= 0 || n > len(l.entries) {
		n = len(l.entries)
	}
	res := make([]domain.Activity, 0, n)
	for i := len(l.entries) - 1; i >= 0 && len(res) < n; i-- {
		res = append(res, l.entries[i])
	}
	return res
}

func (l *Log) Len() int { return len(l.entries) }

func (l *Log) Limit() int { return l.limit }

// Writer persists activity entries to the events table.
type Writer struct{}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, boardID string, a domain.Activity) error {
	if a.ID == 0 {
		return fmt.Errorf("activity id required")
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO events(id,board_id,ts,type,task_id,actor_id,text) VALUES (?,?,?,?,?,?,?)`,
		a.ID, boardID, a.At.UTC().Format(time.RFC3339Nano), a.Type, nullable(a.TaskID), nullable(a.ActorID), a.Text)
	if err != nil {
		return fmt.Errorf("append event %d: %w", a.ID, err)
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
