package app_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"taskflow/internal/app"
	"taskflow/internal/config"
	"taskflow/internal/db"
	"taskflow/internal/domain"
	"taskflow/internal/engine"
	"taskflow/internal/migrate"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}

func fixedNow() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }

func TestServicePersistsAcrossReopen(t *testing.T) {
	conn := openTestDB(t)
	ctx := context.Background()
	cfg := config.Default("board-1")
	svc, err := app.Open(ctx, conn, cfg, app.Options{Now: fixedNow})
	if err != nil {
		t.Fatalf("open service: %v", err)
	}
	a, err := app.Do(ctx, svc, func(e *engine.Engine) (domain.Task, error) {
		return e.CreateTask(engine.TaskCreateOptions{Title: "A", ActorID: "alice", Subtasks: []engine.SubtaskDraft{{Title: "check"}}})
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	b, err := app.Do(ctx, svc, func(e *engine.Engine) (domain.Task, error) {
		return e.SpawnLinkedTask(a.ID, engine.TaskCreateOptions{Title: "B", ActorID: "bob"})
	})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if err := svc.Mutate(ctx, func(e *engine.Engine) error {
		if _, err := e.AddColumn("QA", "alice"); err != nil {
			return err
		}
		_, err := e.AddNote(a.ID, "carol", "ship it")
		return err
	}); err != nil {
		t.Fatalf("mutate: %v", err)
	}

	reopened, err := app.Open(ctx, conn, cfg, app.Options{Now: fixedNow})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, err := app.Query(reopened, func(e *engine.Engine) (domain.Task, error) { return e.Task(a.ID) })
	if err != nil {
		t.Fatalf("task after reopen: %v", err)
	}
	if len(got.Links) != 1 || got.Links[0] != b.ID || len(got.Notes) != 1 || len(got.Subtasks) != 1 {
		t.Fatalf("task not restored: %+v", got)
	}
	up, _ := app.Query(reopened, func(e *engine.Engine) ([]domain.Task, error) { return e.UpstreamOf(b.ID) })
	if len(up) != 1 || up[0].ID != a.ID {
		t.Fatalf("reverse index not restored: %+v", up)
	}
	cols, _ := app.Query(reopened, func(e *engine.Engine) ([]domain.Column, error) { return e.Columns(), nil })
	if len(cols) != 6 || cols[3].Name != "QA" {
		t.Fatalf("columns not restored: %+v", cols)
	}
	log, _ := app.Query(reopened, func(e *engine.Engine) ([]domain.Activity, error) { return e.ActivityLog(0), nil })
	if len(log) != 4 || log[0].Type != "note.added" {
		t.Fatalf("activity not restored: %+v", log)
	}
	next, err := app.Do(ctx, reopened, func(e *engine.Engine) (domain.Activity, error) { return e.RecordActivity("alice", "hello") })
	if err != nil || next.ID != 5 {
		t.Fatalf("activity ids should continue after reopen: %v %d", err, next.ID)
	}
}

func TestServiceRejectionPersistsNothing(t *testing.T) {
	conn := openTestDB(t)
	ctx := context.Background()
	svc, err := app.Open(ctx, conn, config.Default("board-1"), app.Options{})
	if err != nil {
		t.Fatalf("open service: %v", err)
	}
	task, _ := app.Do(ctx, svc, func(e *engine.Engine) (domain.Task, error) {
		return e.CreateTask(engine.TaskCreateOptions{Title: "gated", ActorID: "alice", Subtasks: []engine.SubtaskDraft{{Title: "todo"}}})
	})
	before, _ := svc.Repo.LatestEventID(ctx, "board-1")
	_, err = app.Do(ctx, svc, func(e *engine.Engine) (domain.Task, error) { return e.MoveTask(task.ID, "Done", "alice") })
	if !errors.Is(err, engine.ErrTransitionRejected) {
		t.Fatalf("expected rejection, got %v", err)
	}
	after, _ := svc.Repo.LatestEventID(ctx, "board-1")
	if before != after {
		t.Fatalf("rejected move wrote events: %d -> %d", before, after)
	}
	stored, err := svc.Repo.GetTask(ctx, task.ID)
	if err != nil || stored.Status != "Backlog" {
		t.Fatalf("stored task changed: %v %+v", err, stored)
	}
}

func TestServiceArchiveDeletesRows(t *testing.T) {
	conn := openTestDB(t)
	ctx := context.Background()
	svc, err := app.Open(ctx, conn, config.Default("board-1"), app.Options{})
	if err != nil {
		t.Fatalf("open service: %v", err)
	}
	task, _ := app.Do(ctx, svc, func(e *engine.Engine) (domain.Task, error) {
		return e.CreateTask(engine.TaskCreateOptions{Title: "finish", ActorID: "alice", Status: "Done"})
	})
	if task.CompletedAt == nil {
		t.Fatalf("task created in terminal column should be completed")
	}
	if err := svc.Mutate(ctx, func(e *engine.Engine) error { return e.ArchiveTask(task.ID, "alice") }); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if tasks, _ := svc.Repo.ListTasks(ctx, "board-1"); len(tasks) != 0 {
		t.Fatalf("archived task still stored: %+v", tasks)
	}
}
