package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"taskflow/internal/app"
	"taskflow/internal/domain"
	"taskflow/internal/engine"
)

var mutationErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
}

type taskPath struct {
	TaskID string `path:"task_id"`
}

type subtaskPath struct {
	TaskID    string `path:"task_id"`
	SubtaskID string `path:"subtask_id"`
}

// mutateTask runs fn as an authenticated mutation and renders the resulting task.
func mutateTask(ctx context.Context, svc *app.Service, fn func(e *engine.Engine, actorID string) (domain.Task, error)) (*taskOutput, error) {
	actorID, authErr := actorIDFromContext(ctx)
	if authErr != nil {
		return nil, authErr
	}
	res, err := app.Do(ctx, svc, func(e *engine.Engine) (TaskResponse, error) {
		t, err := fn(e, actorID)
		if err != nil {
			return TaskResponse{}, err
		}
		return taskResponse(e, t), nil
	})
	if err != nil {
		return nil, handleError(err)
	}
	return &taskOutput{Body: res}, nil
}

func queryTasks(svc *app.Service, fn func(e *engine.Engine) ([]domain.Task, error)) (*tasksOutput, error) {
	res, err := app.Query(svc, func(e *engine.Engine) ([]TaskResponse, error) {
		tasks, err := fn(e)
		if err != nil {
			return nil, err
		}
		return mapTasks(e, tasks), nil
	})
	if err != nil {
		return nil, handleError(err)
	}
	return &tasksOutput{Body: res}, nil
}

func registerTasks(api huma.API, svc *app.Service) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*taskOutput, error) {
		return mutateTask(ctx, svc, func(e *engine.Engine, actorID string) (domain.Task, error) {
			return e.CreateTask(input.Body.options(actorID))
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks, optionally filtered by column and sorted",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Column string `query:"column"`
		Sort   string `query:"sort" doc:"priority, deadline or created_at"`
	}) (*tasksOutput, error) {
		return queryTasks(svc, func(e *engine.Engine) ([]domain.Task, error) {
			column := strings.TrimSpace(input.Column)
			if input.Sort == "" {
				if column == "" {
					return e.Tasks(), nil
				}
				return e.ListTasksByColumn(column)
			}
			if column != "" {
				if _, err := e.ListTasksByColumn(column); err != nil {
					return nil, err
				}
			}
			sorted, err := e.ListTasksSorted(engine.SortCriterion(input.Sort))
			if err != nil || column == "" {
				return sorted, err
			}
			filtered := sorted[:0]
			for _, t := range sorted {
				if t.Status == column {
					filtered = append(filtered, t)
				}
			}
			return filtered, nil
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*taskOutput, error) {
		res, err := app.Query(svc, func(e *engine.Engine) (TaskResponse, error) {
			t, err := e.Task(input.TaskID)
			if err != nil {
				return TaskResponse{}, err
			}
			return taskResponse(e, t), nil
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &taskOutput{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{task_id}",
		Summary:     "Update task fields atomically",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		TaskID string            `path:"task_id"`
		Body   UpdateTaskRequest `json:"body"`
	}) (*taskOutput, error) {
		return mutateTask(ctx, svc, func(e *engine.Engine, actorID string) (domain.Task, error) {
			return e.UpdateTask(engine.TaskUpdateOptions{
				ID:              input.TaskID,
				ActorID:         actorID,
				ExpectedVersion: input.Body.ExpectedVersion,
				Commands:        input.Body.commands(),
			})
		})
	})

	huma.Register(api, huma.Operation{
		OperationID:   "archive-task",
		Method:        http.MethodDelete,
		Path:          "/tasks/{task_id}",
		Summary:       "Archive a finished task",
		DefaultStatus: http.StatusNoContent,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *taskPath) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := svc.Mutate(ctx, func(e *engine.Engine) error { return e.ArchiveTask(input.TaskID, actorID) }); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "move-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/move",
		Summary:     "Move task to a column",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		TaskID string          `path:"task_id"`
		Body   MoveTaskRequest `json:"body"`
	}) (*taskOutput, error) {
		return mutateTask(ctx, svc, func(e *engine.Engine, actorID string) (domain.Task, error) {
			return e.MoveTask(input.TaskID, input.Body.Column, actorID)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "task-eligibility",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}/can-finish",
		Summary:     "Whether the task may enter review or done",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*struct {
		Body EligibilityResponse `json:"body"`
	}, error) {
		res, err := app.Query(svc, func(e *engine.Engine) (EligibilityResponse, error) {
			t, err := e.Task(input.TaskID)
			if err != nil {
				return EligibilityResponse{}, err
			}
			done, total := engine.RequiredProgress(t)
			res := EligibilityResponse{TaskID: t.ID, Eligible: e.IsEligibleForAdvance(t), RequiredDone: done, RequiredTotal: total, Missing: []string{}}
			for _, s := range t.Subtasks {
				if s.IsRequired && !s.IsCompleted {
					res.Missing = append(res.Missing, s.Title)
				}
			}
			return res, nil
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EligibilityResponse `json:"body"`
		}{Body: res}, nil
	})
}

func registerSubtasks(api huma.API, svc *app.Service) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-subtask",
		Method:        http.MethodPost,
		Path:          "/tasks/{task_id}/subtasks",
		Summary:       "Append a checklist item",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		TaskID string         `path:"task_id"`
		Body   SubtaskRequest `json:"body"`
	}) (*taskOutput, error) {
		return mutateTask(ctx, svc, func(e *engine.Engine, actorID string) (domain.Task, error) {
			draft := engine.SubtaskDraft{Title: input.Body.Title, Description: input.Body.Description, Required: input.Body.Required}
			return e.AddSubtask(input.TaskID, draft, actorID)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "next-subtask",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}/subtasks/next",
		Summary:     "First open subtask, required items first",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*struct {
		Body NextSubtaskResponse `json:"body"`
	}, error) {
		res, err := app.Query(svc, func(e *engine.Engine) (NextSubtaskResponse, error) {
			s, ok, err := e.NextSubtask(input.TaskID)
			if err != nil || !ok {
				return NextSubtaskResponse{}, err
			}
			return NextSubtaskResponse{Found: true, Subtask: &s}, nil
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body NextSubtaskResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "toggle-subtask",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/subtasks/{subtask_id}/toggle",
		Summary:     "Flip a subtask's completion",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *subtaskPath) (*taskOutput, error) {
		return mutateTask(ctx, svc, func(e *engine.Engine, actorID string) (domain.Task, error) {
			return e.ToggleSubtask(input.TaskID, input.SubtaskID, actorID)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "reorder-subtask",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/subtasks/{subtask_id}/move",
		Summary:     "Move a subtask one position up or down",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		TaskID    string           `path:"task_id"`
		SubtaskID string           `path:"subtask_id"`
		Body      DirectionRequest `json:"body"`
	}) (*taskOutput, error) {
		dir, err := engine.ParseDirection(input.Body.Direction)
		if err != nil {
			return nil, handleError(err)
		}
		return mutateTask(ctx, svc, func(e *engine.Engine, actorID string) (domain.Task, error) {
			return e.ReorderSubtask(input.TaskID, input.SubtaskID, dir, actorID)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "pickup-subtask",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/subtasks/{subtask_id}/pickup",
		Summary:     "Claim a subtask for the calling actor",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *subtaskPath) (*taskOutput, error) {
		return mutateTask(ctx, svc, func(e *engine.Engine, actorID string) (domain.Task, error) {
			return e.PickUpSubtask(input.TaskID, input.SubtaskID, actorID)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "release-subtask",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/subtasks/{subtask_id}/release",
		Summary:     "Release a claimed subtask",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *subtaskPath) (*taskOutput, error) {
		return mutateTask(ctx, svc, func(e *engine.Engine, actorID string) (domain.Task, error) {
			return e.ReleaseSubtask(input.TaskID, input.SubtaskID, actorID)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-subtask-required",
		Method:      http.MethodPatch,
		Path:        "/tasks/{task_id}/subtasks/{subtask_id}",
		Summary:     "Mark a subtask required or optional",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		TaskID    string             `path:"task_id"`
		SubtaskID string             `path:"subtask_id"`
		Body      SetRequiredRequest `json:"body"`
	}) (*taskOutput, error) {
		return mutateTask(ctx, svc, func(e *engine.Engine, actorID string) (domain.Task, error) {
			return e.SetSubtaskRequired(input.TaskID, input.SubtaskID, input.Body.Required, actorID)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-subtask",
		Method:      http.MethodDelete,
		Path:        "/tasks/{task_id}/subtasks/{subtask_id}",
		Summary:     "Remove a subtask",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *subtaskPath) (*taskOutput, error) {
		return mutateTask(ctx, svc, func(e *engine.Engine, actorID string) (domain.Task, error) {
			return e.RemoveSubtask(input.TaskID, input.SubtaskID, actorID)
		})
	})
}

func registerLinks(api huma.API, svc *app.Service) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-link",
		Method:        http.MethodPost,
		Path:          "/tasks/{task_id}/links",
		Summary:       "Link the task to a downstream task",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		TaskID string      `path:"task_id"`
		Body   LinkRequest `json:"body"`
	}) (*taskOutput, error) {
		return mutateTask(ctx, svc, func(e *engine.Engine, actorID string) (domain.Task, error) {
			return e.AddLink(input.TaskID, input.Body.TargetID, actorID)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-link",
		Method:      http.MethodDelete,
		Path:        "/tasks/{task_id}/links/{target_id}",
		Summary:     "Remove a link",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		TaskID   string `path:"task_id"`
		TargetID string `path:"target_id"`
	}) (*taskOutput, error) {
		return mutateTask(ctx, svc, func(e *engine.Engine, actorID string) (domain.Task, error) {
			return e.RemoveLink(input.TaskID, input.TargetID, actorID)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID:   "spawn-task",
		Method:        http.MethodPost,
		Path:          "/tasks/{task_id}/spawn",
		Summary:       "Create a task linked downstream of this one",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		TaskID string            `path:"task_id"`
		Body   CreateTaskRequest `json:"body"`
	}) (*taskOutput, error) {
		return mutateTask(ctx, svc, func(e *engine.Engine, actorID string) (domain.Task, error) {
			return e.SpawnLinkedTask(input.TaskID, input.Body.options(actorID))
		})
	})

	type neighbourInput struct {
		TaskID     string `path:"task_id"`
		Transitive bool   `query:"transitive"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "list-downstream",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}/downstream",
		Summary:     "Tasks this task links to",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *neighbourInput) (*tasksOutput, error) {
		return queryTasks(svc, func(e *engine.Engine) ([]domain.Task, error) {
			if input.Transitive {
				return e.TransitiveDownstream(input.TaskID)
			}
			return e.DownstreamOf(input.TaskID)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-upstream",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}/upstream",
		Summary:     "Tasks that link to this task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *neighbourInput) (*tasksOutput, error) {
		return queryTasks(svc, func(e *engine.Engine) ([]domain.Task, error) {
			if input.Transitive {
				return e.TransitiveUpstream(input.TaskID)
			}
			return e.UpstreamOf(input.TaskID)
		})
	})
}

func registerNotes(api huma.API, svc *app.Service) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-note",
		Method:        http.MethodPost,
		Path:          "/tasks/{task_id}/notes",
		Summary:       "Append a note to the task",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		TaskID string      `path:"task_id"`
		Body   NoteRequest `json:"body"`
	}) (*taskOutput, error) {
		return mutateTask(ctx, svc, func(e *engine.Engine, actorID string) (domain.Task, error) {
			return e.AddNote(input.TaskID, actorID, input.Body.Text)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-collaborators",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}/collaborators",
		Summary:     "Actors who have touched the task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*struct {
		Body []string `json:"body"`
	}, error) {
		res, err := app.Query(svc, func(e *engine.Engine) ([]string, error) { return e.Collaborators(input.TaskID) })
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []string `json:"body"`
		}{Body: nonNilSlice(res)}, nil
	})
}
