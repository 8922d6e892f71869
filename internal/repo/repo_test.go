package repo_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"taskflow/internal/db"
	"taskflow/internal/domain"
	"taskflow/internal/events"
	"taskflow/internal/migrate"
	"taskflow/internal/repo"
)

func newTestRepo(t *testing.T) (repo.Repo, context.Context) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.Repo{DB: conn}
	ctx := context.Background()
	inTx(t, r, func(tx *sql.Tx) error {
		_, err := r.EnsureBoard(ctx, tx, repo.Board{ID: "b1", Name: "Board"})
		return err
	})
	return r, ctx
}

func inTx(t *testing.T, r repo.Repo, fn func(*sql.Tx) error) {
	t.Helper()
	tx, err := r.DB.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		t.Fatalf("tx: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestColumnsRoundTrip(t *testing.T) {
	r, ctx := newTestRepo(t)
	cols := []domain.Column{
		{Name: "Backlog", Role: domain.RoleIntake, IsProtected: true},
		{Name: "Doing"},
		{Name: "Review", Role: domain.RoleReview, IsProtected: true},
		{Name: "Done", Role: domain.RoleTerminal, IsProtected: true},
	}
	inTx(t, r, func(tx *sql.Tx) error { return r.SaveColumnsTx(ctx, tx, "b1", cols) })
	got, err := r.ListColumns(ctx, "b1")
	if err != nil {
		t.Fatalf("list columns: %v", err)
	}
	if len(got) != 4 || got[1].Name != "Doing" || got[1].IsProtected || got[3].Role != domain.RoleTerminal || !got[3].IsProtected {
		t.Fatalf("unexpected columns: %+v", got)
	}
	created, err := func() (bool, error) {
		tx, _ := r.DB.Begin()
		defer tx.Rollback()
		return r.EnsureBoard(ctx, tx, repo.Board{ID: "b1"})
	}()
	if err != nil || created {
		t.Fatalf("existing board should not be recreated: %v", err)
	}
}

func TestTaskRoundTrip(t *testing.T) {
	r, ctx := newTestRepo(t)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	done := now.Add(time.Hour)
	a := domain.Task{
		ID: "a", Title: "A", Priority: domain.PriorityHigh, Status: "Done", Creator: "alice",
		Tags:          []string{"api", "ui"},
		Subtasks:      []domain.Subtask{{ID: "s1", Title: "one", IsRequired: true, IsCompleted: true, CompletedAt: &done, Claim: domain.ClaimClaimed, Assignee: "bob"}, {ID: "s2", Title: "two"}},
		Notes:         []domain.Note{{Author: "bob", Text: "hi", At: now}},
		Links:         []string{"b"},
		Collaborators: []string{"alice", "bob"},
		Version:       3, CreatedAt: now, UpdatedAt: done, CompletedAt: &done,
	}
	b := domain.Task{ID: "b", Title: "B", Priority: domain.PriorityLow, Status: "Backlog", Creator: "alice", Version: 1, CreatedAt: done, UpdatedAt: done}
	// the source is saved before its target exists; the edge check is deferred to commit
	inTx(t, r, func(tx *sql.Tx) error {
		if err := r.SaveTaskTx(ctx, tx, "b1", a); err != nil {
			return err
		}
		return r.SaveTaskTx(ctx, tx, "b1", b)
	})

	tasks, err := r.ListTasks(ctx, "b1")
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(tasks) != 2 || tasks[0].ID != "a" {
		t.Fatalf("unexpected tasks: %+v", tasks)
	}
	got := tasks[0]
	if got.CompletedAt == nil || !got.CompletedAt.Equal(done) || got.Version != 3 || got.Priority != domain.PriorityHigh {
		t.Fatalf("scalar fields lost: %+v", got)
	}
	if len(got.Subtasks) != 2 || got.Subtasks[0].Assignee != "bob" || got.Subtasks[0].Claim != domain.ClaimClaimed || got.Subtasks[1].Claim != domain.ClaimUnassigned {
		t.Fatalf("subtasks lost: %+v", got.Subtasks)
	}
	if len(got.Links) != 1 || got.Links[0] != "b" || len(got.Tags) != 2 || len(got.Collaborators) != 2 || len(got.Notes) != 1 {
		t.Fatalf("child rows lost: %+v", got)
	}

	a.Title = "A2"
	a.Subtasks = a.Subtasks[:1]
	inTx(t, r, func(tx *sql.Tx) error { return r.SaveTaskTx(ctx, tx, "b1", a) })
	got, err = r.GetTask(ctx, "a")
	if err != nil || got.Title != "A2" || len(got.Subtasks) != 1 {
		t.Fatalf("update not persisted: %v %+v", err, got)
	}

	inTx(t, r, func(tx *sql.Tx) error { return r.DeleteTaskTx(ctx, tx, "b") })
	got, _ = r.GetTask(ctx, "a")
	if len(got.Links) != 0 {
		t.Fatalf("edge to deleted task should cascade: %v", got.Links)
	}
	if _, err := r.GetTask(ctx, "b"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestEvents(t *testing.T) {
	r, ctx := newTestRepo(t)
	w := events.Writer{}
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	inTx(t, r, func(tx *sql.Tx) error {
		for i := int64(1); i <= 5; i++ {
			typ := "task.moved"
			if i%2 == 0 {
				typ = "note.added"
			}
			if err := w.Append(ctx, tx, "b1", domain.Activity{ID: i, At: at, Type: typ, TaskID: "t", ActorID: "alice", Text: "x"}); err != nil {
				return err
			}
		}
		return nil
	})
	latest, err := r.LatestEvents(ctx, 2, 0, repo.EventFilter{BoardID: "b1"})
	if err != nil || len(latest) != 2 || latest[0].ID != 5 {
		t.Fatalf("latest events: %v %+v", err, latest)
	}
	older, _ := r.LatestEvents(ctx, 10, 3, repo.EventFilter{BoardID: "b1", Type: "task.moved"})
	if len(older) != 1 || older[0].ID != 1 {
		t.Fatalf("cursor/type filter: %+v", older)
	}
	after, _ := r.EventsAfter(ctx, 10, 3, "b1")
	if len(after) != 2 || after[0].ID != 4 {
		t.Fatalf("events after: %+v", after)
	}
	if id, _ := r.LatestEventID(ctx, "b1"); id != 5 {
		t.Fatalf("latest id: %d", id)
	}
	if err := w.Append(ctx, nil, "b1", domain.Activity{}); err == nil {
		t.Fatalf("append without id should fail")
	}
}

func TestAPIKeys(t *testing.T) {
	r, ctx := newTestRepo(t)
	key, raw, err := r.CreateAPIKey(ctx, "bob", "laptop")
	if err != nil {
		t.Fatalf("create key: %v", err)
	}
	if key.KeyHash == raw || key.KeyHash != repo.HashAPIKey(raw) {
		t.Fatalf("key must be stored hashed")
	}
	got, err := r.GetAPIKeyByHash(ctx, repo.HashAPIKey(raw))
	if err != nil || got.ActorID != "bob" || got.Name != "laptop" {
		t.Fatalf("lookup: %v %+v", err, got)
	}
	keys, _ := r.ListAPIKeys(ctx, "bob")
	if len(keys) != 1 {
		t.Fatalf("expected one key, got %d", len(keys))
	}
	if err := r.DeleteAPIKey(ctx, key.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := r.GetAPIKeyByHash(ctx, key.KeyHash); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}
