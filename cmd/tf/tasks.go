package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskflow/internal/app"
	"taskflow/internal/domain"
	"taskflow/internal/engine"
)

func boardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "board",
		Short: "Show every column with its tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, svc *app.Service) error {
				board, err := app.Query(svc, func(e *engine.Engine) ([]engine.BoardColumn, error) {
					return e.Board(), nil
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(board)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Column", "ID", "Title", "Priority", "Checklist", "Locked"})
				for _, bc := range board {
					name := bc.Column.Name
					if bc.Column.Role != "" {
						name += " (" + string(bc.Column.Role) + ")"
					}
					if len(bc.Tasks) == 0 {
						tw.AppendRow(table.Row{name, "", "", "", "", ""})
					}
					for _, t := range bc.Tasks {
						tw.AppendRow(table.Row{name, t.ID, t.Title, t.Priority, progress(t), lockMark(t)})
					}
					tw.AppendSeparator()
				}
				tw.Render()
				return nil
			})
		},
	}
}

func columnCmd() *cobra.Command {
	col := &cobra.Command{Use: "column", Short: "Manage board columns"}
	col.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List columns in board order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, svc *app.Service) error {
				cols, err := app.Query(svc, func(e *engine.Engine) ([]domain.Column, error) {
					return e.Columns(), nil
				})
				if err != nil {
					return err
				}
				return printColumns(cols)
			})
		},
	})
	col.AddCommand(&cobra.Command{
		Use:   "add <name>",
		Short: "Add a custom column before review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutate(cmd, func(e *engine.Engine, actor string) (any, error) {
				return e.AddColumn(args[0], actor)
			})
		},
	})
	col.AddCommand(&cobra.Command{
		Use:   "rename <name> <new-name>",
		Short: "Rename a custom column; its tasks follow",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutate(cmd, func(e *engine.Engine, actor string) (any, error) {
				return e.RenameColumn(args[0], args[1], actor)
			})
		},
	})
	col.AddCommand(&cobra.Command{
		Use:   "rm <name>",
		Short: "Delete a custom column; its tasks go back to intake",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutate(cmd, func(e *engine.Engine, actor string) (any, error) {
				if err := e.DeleteColumn(args[0], actor); err != nil {
					return nil, err
				}
				return e.Columns(), nil
			})
		},
	})
	col.AddCommand(&cobra.Command{
		Use:   "move <name> <up|down>",
		Short: "Shift a custom column one slot",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := engine.ParseDirection(args[1])
			if err != nil {
				return err
			}
			return mutate(cmd, func(e *engine.Engine, actor string) (any, error) {
				return e.MoveColumn(args[0], dir, actor)
			})
		},
	})
	return col
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Create, inspect and move tasks",
		Long: `Tasks start in the intake column. Moving into a review or terminal column
is refused while any required subtask is open; the error lists them.`,
	}
	task.AddCommand(taskCreateCmd(), taskListCmd(), taskShowCmd(), taskUpdateCmd())

	task.AddCommand(&cobra.Command{
		Use:   "move <id> <column>",
		Short: "Move a task to another column",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutate(cmd, func(e *engine.Engine, actor string) (any, error) {
				return e.MoveTask(args[0], args[1], actor)
			})
		},
	})
	task.AddCommand(&cobra.Command{
		Use:   "archive <id>",
		Short: "Remove a finished task from the board",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, svc *app.Service) error {
				err := svc.Mutate(ctx, func(e *engine.Engine) error {
					return e.ArchiveTask(args[0], viper.GetString("actor-id"))
				})
				if err != nil {
					return err
				}
				fmt.Printf("Archived %s\n", args[0])
				return nil
			})
		},
	})
	task.AddCommand(&cobra.Command{
		Use:   "can-finish <id>",
		Short: "Report whether the task may enter review or done",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, svc *app.Service) error {
				ok, err := app.Query(svc, func(e *engine.Engine) (bool, error) {
					return e.CanFinish(args[0])
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"task_id": args[0], "can_finish": ok})
				}
				fmt.Println(ok)
				return nil
			})
		},
	})
	return task
}

func taskCreateCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	var priority, deadline string
	var subtasks, optional []string
	cmd := &cobra.Command{
		Use:   "create <title>",
		Short: "Create a task in the intake column",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Title = strings.Join(args, " ")
			opts.Priority = domain.Priority(priority)
			due, err := parseDeadline(deadline)
			if err != nil {
				return err
			}
			opts.Deadline = due
			for _, s := range subtasks {
				opts.Subtasks = append(opts.Subtasks, engine.SubtaskDraft{Title: s})
			}
			no := false
			for _, s := range optional {
				opts.Subtasks = append(opts.Subtasks, engine.SubtaskDraft{Title: s, Required: &no})
			}
			return mutate(cmd, func(e *engine.Engine, actor string) (any, error) {
				opts.ActorID = actor
				return e.CreateTask(opts)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "explicit task id")
	cmd.Flags().StringVarP(&opts.Description, "description", "d", "", "description")
	cmd.Flags().StringVarP(&priority, "priority", "p", "", "low|medium|high|critical")
	cmd.Flags().StringVar(&opts.Status, "status", "", "initial column (gated columns need a complete checklist)")
	cmd.Flags().StringSliceVarP(&opts.Tags, "tag", "t", nil, "tag (repeatable)")
	cmd.Flags().StringVar(&deadline, "deadline", "", "deadline (2006-01-02 or RFC3339)")
	cmd.Flags().StringArrayVarP(&subtasks, "subtask", "s", nil, "required subtask (repeatable)")
	cmd.Flags().StringArrayVar(&optional, "optional-subtask", nil, "optional subtask (repeatable)")
	return cmd
}

func taskListCmd() *cobra.Command {
	var column, sortBy string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, svc *app.Service) error {
				tasks, err := app.Query(svc, func(e *engine.Engine) ([]domain.Task, error) {
					if sortBy == "" && column != "" {
						return e.ListTasksByColumn(column)
					}
					if sortBy == "" {
						sortBy = string(engine.SortCreatedAt)
					}
					all, err := e.ListTasksSorted(engine.SortCriterion(sortBy))
					if err != nil || column == "" {
						return all, err
					}
					inCol, err := e.ListTasksByColumn(column)
					if err != nil {
						return nil, err
					}
					keep := map[string]bool{}
					for _, t := range inCol {
						keep[t.ID] = true
					}
					res := []domain.Task{}
					for _, t := range all {
						if keep[t.ID] {
							res = append(res, t)
						}
					}
					return res, nil
				})
				if err != nil {
					return err
				}
				return printTasks(tasks)
			})
		},
	}
	cmd.Flags().StringVarP(&column, "column", "c", "", "only tasks in this column")
	cmd.Flags().StringVar(&sortBy, "sort", "", "priority|deadline|created_at")
	return cmd
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a task with its checklist and notes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, svc *app.Service) error {
				t, err := app.Query(svc, func(e *engine.Engine) (domain.Task, error) {
					return e.Task(args[0])
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(t)
				}
				printTaskDetail(t)
				return nil
			})
		},
	}
}

func taskUpdateCmd() *cobra.Command {
	var title, description, priority, deadline string
	var tags, addTags, removeTags []string
	var clearDeadline, lock, unlock bool
	var expected int
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Edit task fields; locked tasks only accept edits from their creator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := cmd.Flags()
			var cmds []engine.Command
			if f.Changed("title") {
				cmds = append(cmds, engine.SetTitle{Title: title})
			}
			if f.Changed("description") {
				cmds = append(cmds, engine.SetDescription{Description: description})
			}
			if f.Changed("priority") {
				cmds = append(cmds, engine.SetPriority{Priority: domain.Priority(priority)})
			}
			if f.Changed("deadline") {
				due, err := parseDeadline(deadline)
				if err != nil {
					return err
				}
				cmds = append(cmds, engine.SetDeadline{Deadline: due})
			}
			if clearDeadline {
				cmds = append(cmds, engine.SetDeadline{})
			}
			if f.Changed("tag") {
				cmds = append(cmds, engine.SetTags{Tags: tags})
			}
			for _, t := range addTags {
				cmds = append(cmds, engine.AddTag{Tag: t})
			}
			for _, t := range removeTags {
				cmds = append(cmds, engine.RemoveTag{Tag: t})
			}
			if lock && unlock {
				return fmt.Errorf("--lock and --unlock are mutually exclusive")
			}
			if lock || unlock {
				cmds = append(cmds, engine.SetLocked{Locked: lock})
			}
			opts := engine.TaskUpdateOptions{ID: args[0], Commands: cmds}
			if f.Changed("expected-version") {
				opts.ExpectedVersion = &expected
			}
			return mutate(cmd, func(e *engine.Engine, actor string) (any, error) {
				opts.ActorID = actor
				return e.UpdateTask(opts)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringVarP(&description, "description", "d", "", "new description")
	cmd.Flags().StringVarP(&priority, "priority", "p", "", "low|medium|high|critical")
	cmd.Flags().StringVar(&deadline, "deadline", "", "deadline (2006-01-02 or RFC3339)")
	cmd.Flags().BoolVar(&clearDeadline, "clear-deadline", false, "remove the deadline")
	cmd.Flags().StringSliceVarP(&tags, "tag", "t", nil, "replace tags")
	cmd.Flags().StringSliceVar(&addTags, "add-tag", nil, "add a tag")
	cmd.Flags().StringSliceVar(&removeTags, "remove-tag", nil, "remove a tag")
	cmd.Flags().BoolVar(&lock, "lock", false, "lock the task (creator only)")
	cmd.Flags().BoolVar(&unlock, "unlock", false, "unlock the task (creator only)")
	cmd.Flags().IntVar(&expected, "expected-version", 0, "reject the update unless the task is at this version")
	return cmd
}

func subtaskCmd() *cobra.Command {
	sub := &cobra.Command{
		Use:   "subtask",
		Short: "Work a task's checklist",
		Long:  "Toggling a subtask never moves its task; use 'tf task move' once the checklist is done.",
	}

	var optional bool
	var description string
	add := &cobra.Command{
		Use:   "add <task-id> <title>",
		Short: "Append a checklist item",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			required := !optional
			draft := engine.SubtaskDraft{Title: strings.Join(args[1:], " "), Description: description, Required: &required}
			return mutate(cmd, func(e *engine.Engine, actor string) (any, error) {
				return e.AddSubtask(args[0], draft, actor)
			})
		},
	}
	add.Flags().BoolVar(&optional, "optional", false, "do not gate the task on this item")
	add.Flags().StringVarP(&description, "description", "d", "", "description")

	required := &cobra.Command{
		Use:   "required <task-id> <subtask-id> <true|false>",
		Short: "Mark a checklist item required or optional",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := parseBool(args[2])
			if err != nil {
				return err
			}
			return mutate(cmd, func(e *engine.Engine, actor string) (any, error) {
				return e.SetSubtaskRequired(args[0], args[1], v, actor)
			})
		},
	}

	move := &cobra.Command{
		Use:   "move <task-id> <subtask-id> <up|down>",
		Short: "Shift a checklist item one slot",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := engine.ParseDirection(args[2])
			if err != nil {
				return err
			}
			return mutate(cmd, func(e *engine.Engine, actor string) (any, error) {
				return e.ReorderSubtask(args[0], args[1], dir, actor)
			})
		},
	}

	next := &cobra.Command{
		Use:   "next <task-id>",
		Short: "Show the first open required item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, svc *app.Service) error {
				var st domain.Subtask
				var ok bool
				err := svc.Read(func(e *engine.Engine) error {
					var err error
					st, ok, err = e.NextSubtask(args[0])
					return err
				})
				if err != nil {
					return err
				}
				if !ok {
					fmt.Println("No open subtasks")
					return nil
				}
				return printJSONOrTable(st)
			})
		},
	}

	sub.AddCommand(add, required, move, next,
		subtaskAction("toggle", "Flip an item between done and open", func(e *engine.Engine, task, sub, actor string) (domain.Task, error) {
			return e.ToggleSubtask(task, sub, actor)
		}),
		subtaskAction("pickup", "Claim an item", func(e *engine.Engine, task, sub, actor string) (domain.Task, error) {
			return e.PickUpSubtask(task, sub, actor)
		}),
		subtaskAction("release", "Give up a claimed item", func(e *engine.Engine, task, sub, actor string) (domain.Task, error) {
			return e.ReleaseSubtask(task, sub, actor)
		}),
		subtaskAction("rm", "Remove an item", func(e *engine.Engine, task, sub, actor string) (domain.Task, error) {
			return e.RemoveSubtask(task, sub, actor)
		}),
	)
	return sub
}

func subtaskAction(use, short string, fn func(e *engine.Engine, taskID, subtaskID, actorID string) (domain.Task, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <task-id> <subtask-id>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutate(cmd, func(e *engine.Engine, actor string) (any, error) {
				return fn(e, args[0], args[1], actor)
			})
		},
	}
}

func linkCmd() *cobra.Command {
	link := &cobra.Command{
		Use:   "link",
		Short: "Manage blocks-links between tasks",
	}
	link.AddCommand(&cobra.Command{
		Use:   "add <source-id> <target-id>",
		Short: "Record that source blocks target",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutate(cmd, func(e *engine.Engine, actor string) (any, error) {
				return e.AddLink(args[0], args[1], actor)
			})
		},
	})
	link.AddCommand(&cobra.Command{
		Use:   "rm <source-id> <target-id>",
		Short: "Remove a link",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutate(cmd, func(e *engine.Engine, actor string) (any, error) {
				return e.RemoveLink(args[0], args[1], actor)
			})
		},
	})

	var priority string
	spawn := &cobra.Command{
		Use:   "spawn <source-id> <title>",
		Short: "Create a follow-up task blocked by source",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutate(cmd, func(e *engine.Engine, actor string) (any, error) {
				return e.SpawnLinkedTask(args[0], engine.TaskCreateOptions{
					Title:    strings.Join(args[1:], " "),
					Priority: domain.Priority(priority),
					ActorID:  actor,
				})
			})
		},
	}
	spawn.Flags().StringVarP(&priority, "priority", "p", "", "low|medium|high|critical")

	link.AddCommand(spawn,
		traversalCmd("down", "Tasks blocked by this one", (*engine.Engine).DownstreamOf, (*engine.Engine).TransitiveDownstream),
		traversalCmd("up", "Tasks blocking this one", (*engine.Engine).UpstreamOf, (*engine.Engine).TransitiveUpstream),
	)
	return link
}

func traversalCmd(use, short string, direct, transitive func(*engine.Engine, string) ([]domain.Task, error)) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, svc *app.Service) error {
				tasks, err := app.Query(svc, func(e *engine.Engine) ([]domain.Task, error) {
					if all {
						return transitive(e, args[0])
					}
					return direct(e, args[0])
				})
				if err != nil {
					return err
				}
				return printTasks(tasks)
			})
		},
	}
	cmd.Flags().BoolVar(&all, "transitive", false, "follow links all the way")
	return cmd
}

func noteCmd() *cobra.Command {
	note := &cobra.Command{Use: "note", Short: "Task notes"}
	note.AddCommand(&cobra.Command{
		Use:   "add <task-id> <text>",
		Short: "Append a note; allowed on locked tasks",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutate(cmd, func(e *engine.Engine, actor string) (any, error) {
				return e.AddNote(args[0], actor, strings.Join(args[1:], " "))
			})
		},
	})
	return note
}

// mutate runs fn as the configured actor and prints its result.
func mutate(cmd *cobra.Command, fn func(e *engine.Engine, actorID string) (any, error)) error {
	return withService(cmd.Context(), func(ctx context.Context, svc *app.Service) error {
		actor := viper.GetString("actor-id")
		res, err := app.Do(ctx, svc, func(e *engine.Engine) (any, error) {
			return fn(e, actor)
		})
		if err != nil {
			return err
		}
		switch v := res.(type) {
		case domain.Task:
			if viper.GetBool("json") {
				return printJSON(v)
			}
			printTaskDetail(v)
			return nil
		case []domain.Column:
			return printColumns(v)
		}
		return printJSONOrTable(res)
	})
}

func printTasks(tasks []domain.Task) error {
	if viper.GetBool("json") {
		return printJSON(tasks)
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"ID", "Title", "Column", "Priority", "Checklist", "Deadline", "Tags"})
	for _, t := range tasks {
		tw.AppendRow(table.Row{t.ID, t.Title, t.Status, t.Priority, progress(t), formatDeadline(t.Deadline), strings.Join(t.Tags, ",")})
	}
	tw.Render()
	return nil
}

func printTaskDetail(t domain.Task) {
	tw := newTable()
	tw.AppendRows([]table.Row{
		{"ID", t.ID},
		{"Title", t.Title},
		{"Column", t.Status},
		{"Priority", t.Priority},
		{"Creator", t.Creator},
		{"Locked", t.IsLocked},
		{"Version", t.Version},
		{"Deadline", formatDeadline(t.Deadline)},
		{"Tags", strings.Join(t.Tags, ", ")},
		{"Blocks", strings.Join(t.Links, ", ")},
		{"Collaborators", strings.Join(t.Collaborators, ", ")},
		{"Checklist", progress(t)},
	})
	if t.Description != "" {
		tw.AppendRow(table.Row{"Description", t.Description})
	}
	tw.Render()

	if len(t.Subtasks) > 0 {
		st := newTable()
		st.AppendHeader(table.Row{"", "ID", "Subtask", "Required", "Claim"})
		for _, s := range t.Subtasks {
			mark := "[ ]"
			if s.IsCompleted {
				mark = "[x]"
			}
			claim := string(s.Claim)
			if s.Assignee != "" {
				claim += " by " + s.Assignee
			}
			st.AppendRow(table.Row{mark, s.ID, s.Title, s.IsRequired, claim})
		}
		st.Render()
	}
	for _, n := range t.Notes {
		fmt.Printf("%s  %s: %s\n", n.At.Local().Format(time.DateTime), n.Author, n.Text)
	}
}

func printColumns(cols []domain.Column) error {
	if viper.GetBool("json") {
		return printJSON(cols)
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"#", "Name", "Role", "Protected"})
	for i, c := range cols {
		tw.AppendRow(table.Row{i + 1, c.Name, c.Role, c.IsProtected})
	}
	tw.Render()
	return nil
}

func progress(t domain.Task) string {
	done, total := engine.RequiredProgress(t)
	return fmt.Sprintf("%d/%d", done, total)
}

func lockMark(t domain.Task) string {
	if t.IsLocked {
		return "locked"
	}
	return ""
}

func formatDeadline(d *time.Time) string {
	if d == nil {
		return ""
	}
	return d.Local().Format(time.DateOnly)
}

func parseDeadline(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("invalid deadline %q (use 2006-01-02 or RFC3339)", s)
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "true", "yes", "1", "required":
		return true, nil
	case "false", "no", "0", "optional":
		return false, nil
	}
	return false, fmt.Errorf("expected true or false, got %q", s)
}
