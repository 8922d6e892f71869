package taskflowsdk

import (
	"context"
	"net/http/httptest"
	"testing"

	"taskflow/internal/app"
	"taskflow/internal/config"
	"taskflow/internal/db"
	"taskflow/internal/migrate"
	"taskflow/internal/server"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	svc, err := app.Open(ctx, conn, config.Default("sdk"), app.Options{})
	if err != nil {
		t.Fatalf("open service: %v", err)
	}
	handler, err := server.New(server.Config{Service: svc})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	_, raw, err := svc.Repo.CreateAPIKey(ctx, "sdk-user", "test")
	if err != nil {
		t.Fatalf("create api key: %v", err)
	}
	c := New(ts.URL)
	c.APIKey = raw
	return c
}

func TestClientWorkflow(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	task, err := c.CreateTask(ctx, CreateTaskInput{Title: "Ship SDK", Priority: "high", Subtasks: []string{"docs"}})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if task.Creator != "sdk-user" || task.RequiredTotal != 1 {
		t.Fatalf("unexpected task: %+v", task)
	}

	_, err = c.MoveTask(ctx, task.ID, "Done")
	if !IsTransitionRejected(err) {
		t.Fatalf("expected transition rejection, got %v", err)
	}
	if _, err := c.ToggleSubtask(ctx, task.ID, task.Subtasks[0].ID); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	done, err := c.MoveTask(ctx, task.ID, "Done")
	if err != nil || done.CompletedAt == nil {
		t.Fatalf("move to done: %v %+v", err, done)
	}

	child, err := c.SpawnTask(ctx, task.ID, "Announce SDK")
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	down, err := c.Downstream(ctx, task.ID, false)
	if err != nil || len(down) != 1 || down[0].ID != child.ID {
		t.Fatalf("downstream: %v %+v", err, down)
	}

	if err := c.ArchiveTask(ctx, child.ID); err == nil {
		t.Fatalf("archiving an unfinished task should fail")
	}
	if err := c.ArchiveTask(ctx, task.ID); err != nil {
		t.Fatalf("archive: %v", err)
	}

	page, err := c.EventsPage(ctx, 2, "")
	if err != nil || len(page.Items) != 2 || page.NextCursor == "" {
		t.Fatalf("events page: %v %+v", err, page)
	}
	if page.Items[0].Type != "task.archived" {
		t.Fatalf("latest event should be the archive: %+v", page.Items[0])
	}
}

func TestClientColumns(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	if _, err := c.AddColumn(ctx, "QA"); err != nil {
		t.Fatalf("add column: %v", err)
	}
	cols, err := c.Columns(ctx)
	if err != nil || len(cols) != 6 {
		t.Fatalf("columns: %v %+v", err, cols)
	}
	tasks, err := c.ListTasks(ctx, "QA", "priority")
	if err != nil || len(tasks) != 0 {
		t.Fatalf("empty column: %v %+v", err, tasks)
	}
}
