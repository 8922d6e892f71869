package mcp

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"taskflow/internal/app"
	"taskflow/internal/domain"
	"taskflow/internal/engine"
)

// NewServer exposes the board to MCP clients. Mutations are attributed to
// actorID unless a call passes its own actor_id.
func NewServer(svc *app.Service, actorID string) *server.MCPServer {
	s := server.NewMCPServer("Taskflow", "0.1.0")
	h := handlers{svc: svc, actorID: actorID}

	// Board
	s.AddTool(mcp.NewTool("get_board",
		mcp.WithDescription("Show every column with its tasks, in board order."),
	), h.getBoard)

	s.AddTool(mcp.NewTool("list_columns",
		mcp.WithDescription("List the board columns in order."),
	), h.listColumns)

	s.AddTool(mcp.NewTool("add_column",
		mcp.WithDescription("Add a custom column just before the review column."),
		mcp.WithString("name", mcp.Description("Column name (unique)"), mcp.Required()),
		mcp.WithString("actor_id", mcp.Description("Acting user (defaults to the server actor)")),
	), h.addColumn)

	// Tasks
	s.AddTool(mcp.NewTool("list_tasks",
		mcp.WithDescription("List tasks, optionally only one column, optionally sorted."),
		mcp.WithString("column", mcp.Description("Only tasks in this column")),
		mcp.WithString("sort", mcp.Description("priority|deadline|created_at")),
	), h.listTasks)

	s.AddTool(mcp.NewTool("get_task",
		mcp.WithDescription("Get a task with its checklist, notes and links."),
		mcp.WithString("task_id", mcp.Description("Task ID"), mcp.Required()),
	), h.getTask)

	s.AddTool(mcp.NewTool("create_task",
		mcp.WithDescription("Create a task in the intake column."),
		mcp.WithString("title", mcp.Description("Task title"), mcp.Required()),
		mcp.WithString("description", mcp.Description("Task description")),
		mcp.WithString("priority", mcp.Description("low|medium|high|critical")),
		mcp.WithString("tags", mcp.Description("Comma-separated tags")),
		mcp.WithString("subtasks", mcp.Description("Newline-separated required checklist items")),
		mcp.WithString("actor_id", mcp.Description("Acting user (defaults to the server actor)")),
	), h.createTask)

	s.AddTool(mcp.NewTool("update_task",
		mcp.WithDescription("Update task fields. Locked tasks only accept edits from their creator."),
		mcp.WithString("task_id", mcp.Description("Task ID"), mcp.Required()),
		mcp.WithString("title", mcp.Description("New title")),
		mcp.WithString("description", mcp.Description("New description")),
		mcp.WithString("priority", mcp.Description("New priority")),
		mcp.WithNumber("expected_version", mcp.Description("Reject the update unless the task is at this version")),
		mcp.WithString("actor_id", mcp.Description("Acting user (defaults to the server actor)")),
	), h.updateTask)

	s.AddTool(mcp.NewTool("move_task",
		mcp.WithDescription("Move a task to another column. Review and done require every required subtask to be complete."),
		mcp.WithString("task_id", mcp.Description("Task ID"), mcp.Required()),
		mcp.WithString("column", mcp.Description("Target column name"), mcp.Required()),
		mcp.WithString("actor_id", mcp.Description("Acting user (defaults to the server actor)")),
	), h.moveTask)

	s.AddTool(mcp.NewTool("can_finish",
		mcp.WithDescription("Report whether a task may enter review or done."),
		mcp.WithString("task_id", mcp.Description("Task ID"), mcp.Required()),
	), h.canFinish)

	// Checklist
	s.AddTool(mcp.NewTool("add_subtask",
		mcp.WithDescription("Append a checklist item to a task."),
		mcp.WithString("task_id", mcp.Description("Task ID"), mcp.Required()),
		mcp.WithString("title", mcp.Description("Subtask title"), mcp.Required()),
		mcp.WithBoolean("required", mcp.Description("Whether the subtask gates review and done (default true)")),
		mcp.WithString("actor_id", mcp.Description("Acting user (defaults to the server actor)")),
	), h.addSubtask)

	s.AddTool(mcp.NewTool("toggle_subtask",
		mcp.WithDescription("Flip a subtask between open and complete. Never moves the task."),
		mcp.WithString("task_id", mcp.Description("Task ID"), mcp.Required()),
		mcp.WithString("subtask_id", mcp.Description("Subtask ID"), mcp.Required()),
		mcp.WithString("actor_id", mcp.Description("Acting user (defaults to the server actor)")),
	), h.toggleSubtask)

	s.AddTool(mcp.NewTool("pickup_subtask",
		mcp.WithDescription("Claim a subtask."),
		mcp.WithString("task_id", mcp.Description("Task ID"), mcp.Required()),
		mcp.WithString("subtask_id", mcp.Description("Subtask ID"), mcp.Required()),
		mcp.WithString("actor_id", mcp.Description("Acting user (defaults to the server actor)")),
	), h.pickUpSubtask)

	s.AddTool(mcp.NewTool("release_subtask",
		mcp.WithDescription("Release a subtask you claimed."),
		mcp.WithString("task_id", mcp.Description("Task ID"), mcp.Required()),
		mcp.WithString("subtask_id", mcp.Description("Subtask ID"), mcp.Required()),
		mcp.WithString("actor_id", mcp.Description("Acting user (defaults to the server actor)")),
	), h.releaseSubtask)

	s.AddTool(mcp.NewTool("next_subtask",
		mcp.WithDescription("First open subtask of a task, required items first."),
		mcp.WithString("task_id", mcp.Description("Task ID"), mcp.Required()),
	), h.nextSubtask)

	// Dependencies
	s.AddTool(mcp.NewTool("add_link",
		mcp.WithDescription("Record that one task blocks another."),
		mcp.WithString("task_id", mcp.Description("Upstream task ID"), mcp.Required()),
		mcp.WithString("target_id", mcp.Description("Downstream task ID"), mcp.Required()),
		mcp.WithString("actor_id", mcp.Description("Acting user (defaults to the server actor)")),
	), h.addLink)

	s.AddTool(mcp.NewTool("remove_link",
		mcp.WithDescription("Remove a link between two tasks."),
		mcp.WithString("task_id", mcp.Description("Upstream task ID"), mcp.Required()),
		mcp.WithString("target_id", mcp.Description("Downstream task ID"), mcp.Required()),
		mcp.WithString("actor_id", mcp.Description("Acting user (defaults to the server actor)")),
	), h.removeLink)

	s.AddTool(mcp.NewTool("spawn_task",
		mcp.WithDescription("Create a follow-up task that the given task blocks."),
		mcp.WithString("task_id", mcp.Description("Source task ID"), mcp.Required()),
		mcp.WithString("title", mcp.Description("New task title"), mcp.Required()),
		mcp.WithString("description", mcp.Description("New task description")),
		mcp.WithString("actor_id", mcp.Description("Acting user (defaults to the server actor)")),
	), h.spawnTask)

	s.AddTool(mcp.NewTool("list_dependencies",
		mcp.WithDescription("List the tasks a task blocks (downstream) or is blocked by (upstream)."),
		mcp.WithString("task_id", mcp.Description("Task ID"), mcp.Required()),
		mcp.WithString("direction", mcp.Description("downstream|upstream (default downstream)")),
		mcp.WithBoolean("transitive", mcp.Description("Follow links beyond direct neighbours")),
	), h.listDependencies)

	// Collaboration
	s.AddTool(mcp.NewTool("add_note",
		mcp.WithDescription("Append a note to a task. Allowed on locked tasks."),
		mcp.WithString("task_id", mcp.Description("Task ID"), mcp.Required()),
		mcp.WithString("text", mcp.Description("Note text"), mcp.Required()),
		mcp.WithString("actor_id", mcp.Description("Acting user (defaults to the server actor)")),
	), h.addNote)

	s.AddTool(mcp.NewTool("get_activity",
		mcp.WithDescription("Recent board activity, most recent first."),
		mcp.WithNumber("limit", mcp.Description("Maximum entries (default 20)")),
	), h.getActivity)

	return s
}

// Serve starts the MCP server on stdio.
func Serve(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

type handlers struct {
	svc     *app.Service
	actorID string
}

func (h handlers) actor(request mcp.CallToolRequest) string {
	if a := strings.TrimSpace(mcp.ParseString(request, "actor_id", "")); a != "" {
		return a
	}
	return h.actorID
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// mutateTask applies fn and returns the resulting task as JSON.
func (h handlers) mutateTask(ctx context.Context, fn func(*engine.Engine) (domain.Task, error)) (*mcp.CallToolResult, error) {
	t, err := app.Do(ctx, h.svc, fn)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(t)
}

func (h handlers) queryTasks(fn func(*engine.Engine) ([]domain.Task, error)) (*mcp.CallToolResult, error) {
	tasks, err := app.Query(h.svc, fn)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if tasks == nil {
		tasks = []domain.Task{}
	}
	return jsonResult(tasks)
}

func (h handlers) getBoard(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	board, _ := app.Query(h.svc, func(e *engine.Engine) ([]engine.BoardColumn, error) { return e.Board(), nil })
	return jsonResult(board)
}

func (h handlers) listColumns(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cols, _ := app.Query(h.svc, func(e *engine.Engine) ([]domain.Column, error) { return e.Columns(), nil })
	return jsonResult(cols)
}

func (h handlers) addColumn(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := mcp.ParseString(request, "name", "")
	actor := h.actor(request)
	col, err := app.Do(ctx, h.svc, func(e *engine.Engine) (domain.Column, error) { return e.AddColumn(name, actor) })
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(col)
}

func (h handlers) listTasks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	column := mcp.ParseString(request, "column", "")
	sort := mcp.ParseString(request, "sort", "")
	return h.queryTasks(func(e *engine.Engine) ([]domain.Task, error) {
		var tasks []domain.Task
		var err error
		switch {
		case sort != "":
			tasks, err = e.ListTasksSorted(engine.SortCriterion(sort))
		case column != "":
			return e.ListTasksByColumn(column)
		default:
			return e.Tasks(), nil
		}
		if err != nil || column == "" {
			return tasks, err
		}
		if _, err := e.ListTasksByColumn(column); err != nil {
			return nil, err
		}
		filtered := tasks[:0]
		for _, t := range tasks {
			if t.Status == column {
				filtered = append(filtered, t)
			}
		}
		return filtered, nil
	})
}

func (h handlers) getTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := mcp.ParseString(request, "task_id", "")
	t, err := app.Query(h.svc, func(e *engine.Engine) (domain.Task, error) { return e.Task(id) })
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(t)
}

func (h handlers) createTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	opts := engine.TaskCreateOptions{
		Title:       mcp.ParseString(request, "title", ""),
		Description: mcp.ParseString(request, "description", ""),
		Priority:    domain.Priority(mcp.ParseString(request, "priority", "")),
		Tags:        splitList(mcp.ParseString(request, "tags", ""), ","),
		ActorID:     h.actor(request),
	}
	for _, title := range splitList(mcp.ParseString(request, "subtasks", ""), "\n") {
		opts.Subtasks = append(opts.Subtasks, engine.SubtaskDraft{Title: title})
	}
	return h.mutateTask(ctx, func(e *engine.Engine) (domain.Task, error) { return e.CreateTask(opts) })
}

func (h handlers) updateTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	opts := engine.TaskUpdateOptions{
		ID:      mcp.ParseString(request, "task_id", ""),
		ActorID: h.actor(request),
	}
	args := request.GetArguments()
	if _, ok := args["title"]; ok {
		opts.Commands = append(opts.Commands, engine.SetTitle{Title: mcp.ParseString(request, "title", "")})
	}
	if _, ok := args["description"]; ok {
		opts.Commands = append(opts.Commands, engine.SetDescription{Description: mcp.ParseString(request, "description", "")})
	}
	if _, ok := args["priority"]; ok {
		opts.Commands = append(opts.Commands, engine.SetPriority{Priority: domain.Priority(mcp.ParseString(request, "priority", ""))})
	}
	if _, ok := args["expected_version"]; ok {
		v := mcp.ParseInt(request, "expected_version", 0)
		opts.ExpectedVersion = &v
	}
	return h.mutateTask(ctx, func(e *engine.Engine) (domain.Task, error) { return e.UpdateTask(opts) })
}

func (h handlers) moveTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := mcp.ParseString(request, "task_id", "")
	column := mcp.ParseString(request, "column", "")
	actor := h.actor(request)
	return h.mutateTask(ctx, func(e *engine.Engine) (domain.Task, error) { return e.MoveTask(id, column, actor) })
}

func (h handlers) canFinish(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := mcp.ParseString(request, "task_id", "")
	type eligibility struct {
		TaskID        string `json:"task_id"`
		Eligible      bool   `json:"eligible"`
		RequiredDone  int    `json:"required_done"`
		RequiredTotal int    `json:"required_total"`
	}
	res, err := app.Query(h.svc, func(e *engine.Engine) (eligibility, error) {
		t, err := e.Task(id)
		if err != nil {
			return eligibility{}, err
		}
		done, total := engine.RequiredProgress(t)
		return eligibility{TaskID: t.ID, Eligible: e.IsEligibleForAdvance(t), RequiredDone: done, RequiredTotal: total}, nil
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res)
}

func (h handlers) addSubtask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := mcp.ParseString(request, "task_id", "")
	required := mcp.ParseBoolean(request, "required", true)
	draft := engine.SubtaskDraft{Title: mcp.ParseString(request, "title", ""), Required: &required}
	actor := h.actor(request)
	return h.mutateTask(ctx, func(e *engine.Engine) (domain.Task, error) { return e.AddSubtask(id, draft, actor) })
}

func (h handlers) toggleSubtask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, sub, actor := mcp.ParseString(request, "task_id", ""), mcp.ParseString(request, "subtask_id", ""), h.actor(request)
	return h.mutateTask(ctx, func(e *engine.Engine) (domain.Task, error) { return e.ToggleSubtask(id, sub, actor) })
}

func (h handlers) pickUpSubtask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, sub, actor := mcp.ParseString(request, "task_id", ""), mcp.ParseString(request, "subtask_id", ""), h.actor(request)
	return h.mutateTask(ctx, func(e *engine.Engine) (domain.Task, error) { return e.PickUpSubtask(id, sub, actor) })
}

func (h handlers) releaseSubtask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, sub, actor := mcp.ParseString(request, "task_id", ""), mcp.ParseString(request, "subtask_id", ""), h.actor(request)
	return h.mutateTask(ctx, func(e *engine.Engine) (domain.Task, error) { return e.ReleaseSubtask(id, sub, actor) })
}

func (h handlers) nextSubtask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := mcp.ParseString(request, "task_id", "")
	var found bool
	s, err := app.Query(h.svc, func(e *engine.Engine) (domain.Subtask, error) {
		s, ok, err := e.NextSubtask(id)
		found = ok
		return s, err
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !found {
		return mcp.NewToolResultText("No open subtasks"), nil
	}
	return jsonResult(s)
}

func (h handlers) addLink(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	src, tgt, actor := mcp.ParseString(request, "task_id", ""), mcp.ParseString(request, "target_id", ""), h.actor(request)
	return h.mutateTask(ctx, func(e *engine.Engine) (domain.Task, error) { return e.AddLink(src, tgt, actor) })
}

func (h handlers) removeLink(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	src, tgt, actor := mcp.ParseString(request, "task_id", ""), mcp.ParseString(request, "target_id", ""), h.actor(request)
	return h.mutateTask(ctx, func(e *engine.Engine) (domain.Task, error) { return e.RemoveLink(src, tgt, actor) })
}

func (h handlers) spawnTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	src := mcp.ParseString(request, "task_id", "")
	opts := engine.TaskCreateOptions{
		Title:       mcp.ParseString(request, "title", ""),
		Description: mcp.ParseString(request, "description", ""),
		ActorID:     h.actor(request),
	}
	return h.mutateTask(ctx, func(e *engine.Engine) (domain.Task, error) { return e.SpawnLinkedTask(src, opts) })
}

func (h handlers) listDependencies(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := mcp.ParseString(request, "task_id", "")
	upstream := mcp.ParseString(request, "direction", "downstream") == "upstream"
	transitive := mcp.ParseBoolean(request, "transitive", false)
	return h.queryTasks(func(e *engine.Engine) ([]domain.Task, error) {
		switch {
		case upstream && transitive:
			return e.TransitiveUpstream(id)
		case upstream:
			return e.UpstreamOf(id)
		case transitive:
			return e.TransitiveDownstream(id)
		default:
			return e.DownstreamOf(id)
		}
	})
}

func (h handlers) addNote(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, text, actor := mcp.ParseString(request, "task_id", ""), mcp.ParseString(request, "text", ""), h.actor(request)
	return h.mutateTask(ctx, func(e *engine.Engine) (domain.Task, error) { return e.AddNote(id, actor, text) })
}

func (h handlers) getActivity(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := mcp.ParseInt(request, "limit", 20)
	log, _ := app.Query(h.svc, func(e *engine.Engine) ([]domain.Activity, error) { return e.ActivityLog(limit), nil })
	if log == nil {
		log = []domain.Activity{}
	}
	return jsonResult(log)
}

func splitList(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
