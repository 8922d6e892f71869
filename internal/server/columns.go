package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"taskflow/internal/app"
	"taskflow/internal/domain"
	"taskflow/internal/engine"
)

type columnPath struct {
	Name string `path:"name"`
}

func registerColumns(api huma.API, svc *app.Service) {
	huma.Register(api, huma.Operation{
		OperationID: "list-columns",
		Method:      http.MethodGet,
		Path:        "/columns",
		Summary:     "Columns in board order",
	}, func(ctx context.Context, _ *struct{}) (*columnsOutput, error) {
		cols, _ := app.Query(svc, func(e *engine.Engine) ([]domain.Column, error) { return e.Columns(), nil })
		return &columnsOutput{Body: cols}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-column",
		Method:        http.MethodPost,
		Path:          "/columns",
		Summary:       "Add a column before review",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body ColumnRequest `json:"body"`
	}) (*columnOutput, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		col, err := app.Do(ctx, svc, func(e *engine.Engine) (domain.Column, error) { return e.AddColumn(input.Body.Name, actorID) })
		if err != nil {
			return nil, handleError(err)
		}
		return &columnOutput{Body: col}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "rename-column",
		Method:      http.MethodPatch,
		Path:        "/columns/{name}",
		Summary:     "Rename a column and move its tasks with it",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		Name string        `path:"name"`
		Body ColumnRequest `json:"body"`
	}) (*columnOutput, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		col, err := app.Do(ctx, svc, func(e *engine.Engine) (domain.Column, error) {
			return e.RenameColumn(input.Name, input.Body.Name, actorID)
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &columnOutput{Body: col}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-column",
		Method:        http.MethodDelete,
		Path:          "/columns/{name}",
		Summary:       "Delete a column; its tasks return to intake",
		DefaultStatus: http.StatusNoContent,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *columnPath) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := svc.Mutate(ctx, func(e *engine.Engine) error { return e.DeleteColumn(input.Name, actorID) }); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "move-column",
		Method:      http.MethodPost,
		Path:        "/columns/{name}/move",
		Summary:     "Swap a column with its neighbour",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		Name string           `path:"name"`
		Body DirectionRequest `json:"body"`
	}) (*columnsOutput, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		dir, err := engine.ParseDirection(input.Body.Direction)
		if err != nil {
			return nil, handleError(err)
		}
		cols, err := app.Do(ctx, svc, func(e *engine.Engine) ([]domain.Column, error) { return e.MoveColumn(input.Name, dir, actorID) })
		if err != nil {
			return nil, handleError(err)
		}
		return &columnsOutput{Body: cols}, nil
	})
}
