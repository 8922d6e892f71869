package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"taskflow/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

type Board struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
}

// EnsureBoard inserts the board row if it does not exist yet and reports whether it was created.
func (r Repo) EnsureBoard(ctx context.Context, tx *sql.Tx, b Board) (bool, error) {
	if b.CreatedAt == "" {
		b.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO boards(id,name,created_at) VALUES (?,?,?) ON CONFLICT(id) DO NOTHING`,
		b.ID, nullable(b.Name), b.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert board: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r Repo) GetBoard(ctx context.Context, id string) (Board, error) {
	var b Board
	var name sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,created_at FROM boards WHERE id=?`, id).Scan(&b.ID, &name, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Board{}, ErrNotFound
	}
	if err != nil {
		return Board{}, err
	}
	b.Name = name.String
	return b, nil
}

func (r Repo) ListColumns(ctx context.Context, boardID string) ([]domain.Column, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT name,COALESCE(role,''),is_protected FROM board_columns WHERE board_id=? ORDER BY position`, boardID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Column
	for rows.Next() {
		var c domain.Column
		var role string
		if err := rows.Scan(&c.Name, &role, &c.IsProtected); err != nil {
			return nil, err
		}
		c.Role = domain.ColumnRole(role)
		res = append(res, c)
	}
	return res, rows.Err()
}

// SaveColumnsTx replaces the column list of a board.
func (r Repo) SaveColumnsTx(ctx context.Context, tx *sql.Tx, boardID string, cols []domain.Column) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM board_columns WHERE board_id=?`, boardID); err != nil {
		return fmt.Errorf("clear columns: %w", err)
	}
	for i, c := range cols {
		if _, err := tx.ExecContext(ctx, `INSERT INTO board_columns(board_id,position,name,role,is_protected) VALUES (?,?,?,?,?)`,
			boardID, i, c.Name, nullable(string(c.Role)), c.IsProtected); err != nil {
			return fmt.Errorf("insert column %s: %w", c.Name, err)
		}
	}
	return nil
}

// SaveTaskTx upserts a task row and rewrites its child rows.
func (r Repo) SaveTaskTx(ctx context.Context, tx *sql.Tx, boardID string, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(id,board_id,title,description,priority,status,creator,is_locked,version,created_at,updated_at,completed_at,deadline)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET title=excluded.title, description=excluded.description, priority=excluded.priority,
  status=excluded.status, is_locked=excluded.is_locked, version=excluded.version, updated_at=excluded.updated_at,
  completed_at=excluded.completed_at, deadline=excluded.deadline`,
		t.ID, boardID, t.Title, nullable(t.Description), string(t.Priority), t.Status, t.Creator, t.IsLocked, t.Version,
		formatTime(t.CreatedAt), formatTime(t.UpdatedAt), nullableTime(t.CompletedAt), nullableTime(t.Deadline))
	if err != nil {
		return fmt.Errorf("upsert task %s: %w", t.ID, err)
	}
	for _, table := range []string{"subtasks", "notes", "task_tags", "task_collaborators"} {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE task_id=?`, table), t.ID); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM task_links WHERE source_id=?`, t.ID); err != nil {
		return fmt.Errorf("clear links: %w", err)
	}
	for i, s := range t.Subtasks {
		if _, err := tx.ExecContext(ctx, `INSERT INTO subtasks(task_id,id,position,title,description,is_required,is_completed,completed_at,assignee,claim) VALUES (?,?,?,?,?,?,?,?,?,?)`,
			t.ID, s.ID, i, s.Title, nullable(s.Description), s.IsRequired, s.IsCompleted, nullableTime(s.CompletedAt), nullable(s.Assignee), claimOrDefault(s.Claim)); err != nil {
			return fmt.Errorf("insert subtask %s: %w", s.ID, err)
		}
	}
	for i, n := range t.Notes {
		if _, err := tx.ExecContext(ctx, `INSERT INTO notes(task_id,position,author,text,at) VALUES (?,?,?,?,?)`,
			t.ID, i, n.Author, n.Text, formatTime(n.At)); err != nil {
			return fmt.Errorf("insert note: %w", err)
		}
	}
	for i, target := range t.Links {
		if _, err := tx.ExecContext(ctx, `INSERT INTO task_links(source_id,target_id,position) VALUES (?,?,?)`, t.ID, target, i); err != nil {
			return fmt.Errorf("insert link %s->%s: %w", t.ID, target, err)
		}
	}
	for _, tag := range t.Tags {
		if _, err := tx.ExecContext(ctx, `INSERT INTO task_tags(task_id,tag) VALUES (?,?)`, t.ID, tag); err != nil {
			return fmt.Errorf("insert tag: %w", err)
		}
	}
	for i, actor := range t.Collaborators {
		if _, err := tx.ExecContext(ctx, `INSERT INTO task_collaborators(task_id,position,actor_id) VALUES (?,?,?)`, t.ID, i, actor); err != nil {
			return fmt.Errorf("insert collaborator: %w", err)
		}
	}
	return nil
}

// DeleteTaskTx removes a task; child rows and edges cascade.
func (r Repo) DeleteTaskTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	var boardID string
	err := r.DB.QueryRowContext(ctx, `SELECT board_id FROM tasks WHERE id=?`, id).Scan(&boardID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Task{}, ErrNotFound
	}
	if err != nil {
		return domain.Task{}, err
	}
	tasks, err := r.listTasks(ctx, boardID, id)
	if err != nil {
		return domain.Task{}, err
	}
	if len(tasks) == 0 {
		return domain.Task{}, ErrNotFound
	}
	return tasks[0], nil
}

// ListTasks loads every task of a board with its child rows, oldest first.
func (r Repo) ListTasks(ctx context.Context, boardID string) ([]domain.Task, error) {
	return r.listTasks(ctx, boardID, "")
}

func (r Repo) listTasks(ctx context.Context, boardID, onlyID string) ([]domain.Task, error) {
	where := "board_id=?"
	args := []any{boardID}
	if onlyID != "" {
		where += " AND id=?"
		args = append(args, onlyID)
	}
	rows, err := r.DB.QueryContext(ctx, fmt.Sprintf(`SELECT id,title,COALESCE(description,''),priority,status,creator,is_locked,version,created_at,updated_at,completed_at,deadline
FROM tasks WHERE %s ORDER BY created_at,id`, where), args...)
	if err != nil {
		return nil, err
	}
	var res []domain.Task
	index := map[string]int{}
	for rows.Next() {
		var t domain.Task
		var prio, createdAt, updatedAt string
		var completedAt, deadline sql.NullString
		if err := rows.Scan(&t.ID, &t.Title, &t.Description, &prio, &t.Status, &t.Creator, &t.IsLocked, &t.Version, &createdAt, &updatedAt, &completedAt, &deadline); err != nil {
			rows.Close()
			return nil, err
		}
		t.Priority = domain.Priority(prio)
		t.CreatedAt = parseTime(createdAt)
		t.UpdatedAt = parseTime(updatedAt)
		t.CompletedAt = parseNullTime(completedAt)
		t.Deadline = parseNullTime(deadline)
		t.Tags, t.Subtasks, t.Notes, t.Links, t.Collaborators = []string{}, []domain.Subtask{}, []domain.Note{}, []string{}, []string{}
		index[t.ID] = len(res)
		res = append(res, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return res, nil
	}
	if err := r.loadChildren(ctx, where, args, res, index); err != nil {
		return nil, err
	}
	return res, nil
}

func (r Repo) loadChildren(ctx context.Context, where string, args []any, tasks []domain.Task, index map[string]int) error {
	scope := fmt.Sprintf(`IN (SELECT id FROM tasks WHERE %s)`, where)

	err := r.each(ctx, `SELECT task_id,id,title,COALESCE(description,''),is_required,is_completed,completed_at,COALESCE(assignee,''),claim FROM subtasks WHERE task_id `+scope+` ORDER BY task_id,position`, args,
		func(rows *sql.Rows) error {
			var taskID, claim string
			var s domain.Subtask
			var completedAt sql.NullString
			if err := rows.Scan(&taskID, &s.ID, &s.Title, &s.Description, &s.IsRequired, &s.IsCompleted, &completedAt, &s.Assignee, &claim); err != nil {
				return err
			}
			s.CompletedAt = parseNullTime(completedAt)
			s.Claim = domain.ClaimState(claim)
			if i, ok := index[taskID]; ok {
				tasks[i].Subtasks = append(tasks[i].Subtasks, s)
			}
			return nil
		})
	if err != nil {
		return fmt.Errorf("load subtasks: %w", err)
	}
	err = r.each(ctx, `SELECT task_id,author,text,at FROM notes WHERE task_id `+scope+` ORDER BY task_id,position`, args,
		func(rows *sql.Rows) error {
			var taskID, at string
			var n domain.Note
			if err := rows.Scan(&taskID, &n.Author, &n.Text, &at); err != nil {
				return err
			}
			n.At = parseTime(at)
			if i, ok := index[taskID]; ok {
				tasks[i].Notes = append(tasks[i].Notes, n)
			}
			return nil
		})
	if err != nil {
		return fmt.Errorf("load notes: %w", err)
	}
	lists := []struct {
		query string
		field func(*domain.Task) *[]string
	}{
		{`SELECT source_id,target_id FROM task_links WHERE source_id ` + scope + ` ORDER BY source_id,position`, func(t *domain.Task) *[]string { return &t.Links }},
		{`SELECT task_id,tag FROM task_tags WHERE task_id ` + scope + ` ORDER BY task_id,tag`, func(t *domain.Task) *[]string { return &t.Tags }},
		{`SELECT task_id,actor_id FROM task_collaborators WHERE task_id ` + scope + ` ORDER BY task_id,position`, func(t *domain.Task) *[]string { return &t.Collaborators }},
	}
	for _, l := range lists {
		err := r.each(ctx, l.query, args, func(rows *sql.Rows) error {
			var taskID, v string
			if err := rows.Scan(&taskID, &v); err != nil {
				return err
			}
			if i, ok := index[taskID]; ok {
				dst := l.field(&tasks[i])
				*dst = append(*dst, v)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) each(ctx context.Context, query string, args []any, fn func(*sql.Rows) error) error {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

// EventFilter narrows event queries. Zero values match everything.
type EventFilter struct {
	BoardID string
	Type    string
	TaskID  string
	ActorID string
}

func (f EventFilter) where() (string, []any) {
	clauses := []string{"1=1"}
	var args []any
	for _, c := range []struct{ col, v string }{
		{"board_id", f.BoardID}, {"type", f.Type}, {"task_id", f.TaskID}, {"actor_id", f.ActorID},
	} {
		if c.v != "" {
			clauses = append(clauses, c.col+"=?")
			args = append(args, c.v)
		}
	}
	return strings.Join(clauses, " AND "), args
}

// LatestEvents returns events most recent first. A positive cursor returns
// only events older than it.
func (r Repo) LatestEvents(ctx context.Context, limit int, cursor int64, f EventFilter) ([]domain.Activity, error) {
	if limit <= 0 {
		limit = 100
	}
	where, args := f.where()
	if cursor > 0 {
		where += " AND id<?"
		args = append(args, cursor)
	}
	args = append(args, limit)
	return r.queryEvents(ctx, fmt.Sprintf(`SELECT id,ts,type,COALESCE(task_id,''),COALESCE(actor_id,''),text FROM events WHERE %s ORDER BY id DESC LIMIT ?`, where), args)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, boardID string) ([]domain.Activity, error) {
	if limit <= 0 {
		limit = 100
	}
	where, args := EventFilter{BoardID: boardID}.where()
	if cursor > 0 {
		where += " AND id>?"
		args = append(args, cursor)
	}
	args = append(args, limit)
	return r.queryEvents(ctx, fmt.Sprintf(`SELECT id,ts,type,COALESCE(task_id,''),COALESCE(actor_id,''),text FROM events WHERE %s ORDER BY id ASC LIMIT ?`, where), args)
}

func (r Repo) queryEvents(ctx context.Context, query string, args []any) ([]domain.Activity, error) {
	var res []domain.Activity
	err := r.each(ctx, query, args, func(rows *sql.Rows) error {
		var a domain.Activity
		var ts string
		if err := rows.Scan(&a.ID, &ts, &a.Type, &a.TaskID, &a.ActorID, &a.Text); err != nil {
			return err
		}
		a.At = parseTime(ts)
		res = append(res, a)
		return nil
	})
	return res, err
}

// LatestEventID returns the most recent event ID for a board.
func (r Repo) LatestEventID(ctx context.Context, boardID string) (int64, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events WHERE board_id=?`, boardID)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// MaxEventID returns the highest event ID across boards; IDs are global.
func (r Repo) MaxEventID(ctx context.Context) (int64, error) {
	var id int64
	if err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func claimOrDefault(c domain.ClaimState) string {
	if c == "" {
		return string(domain.ClaimUnassigned)
	}
	return string(c)
}
