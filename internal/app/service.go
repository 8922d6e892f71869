package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"taskflow/internal/config"
	"taskflow/internal/engine"
	"taskflow/internal/events"
	"taskflow/internal/repo"
)

// Service hosts one board engine over the workspace database. Calls are
// serialised; every committed mutation is written in a single transaction.
type Service struct {
	Repo    repo.Repo
	Events  events.Writer
	Config  *config.Config
	BoardID string

	mu    sync.Mutex
	now   func() time.Time
	newID func() string
	eng   *engine.Engine
}

// Options tune the engine a Service builds. Zero values use the engine defaults.
type Options struct {
	Now   func() time.Time
	NewID func() string
}

// Open loads the configured board, seeding it from config on first use.
func Open(ctx context.Context, conn *sql.DB, cfg *config.Config, opts Options) (*Service, error) {
	if cfg == nil {
		cfg = config.Default("default")
	}
	s := &Service{
		Repo:    repo.Repo{DB: conn},
		Config:  cfg,
		BoardID: cfg.Board.ID,
		now:     opts.Now,
		newID:   opts.NewID,
	}
	if err := s.ensureBoard(ctx); err != nil {
		return nil, err
	}
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) ensureBoard(ctx context.Context) error {
	tx, err := s.Repo.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := s.Repo.EnsureBoard(ctx, tx, repo.Board{ID: s.BoardID, Name: s.Config.Board.Name}); err != nil {
		return fmt.Errorf("ensure board: %w", err)
	}
	return tx.Commit()
}

// load rebuilds the engine from the database. Repairs made by Restore (and
// the seed columns of a new board) are written back immediately.
func (s *Service) load(ctx context.Context) error {
	cols, err := s.Repo.ListColumns(ctx, s.BoardID)
	if err != nil {
		return fmt.Errorf("load columns: %w", err)
	}
	tasks, err := s.Repo.ListTasks(ctx, s.BoardID)
	if err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}
	recent, err := s.Repo.LatestEvents(ctx, s.Config.Activity.Limit, 0, repo.EventFilter{BoardID: s.BoardID})
	if err != nil {
		return fmt.Errorf("load activity: %w", err)
	}
	slices.Reverse(recent)
	lastID, err := s.Repo.MaxEventID(ctx)
	if err != nil {
		return fmt.Errorf("load activity cursor: %w", err)
	}
	eng, err := engine.Restore(s.Config, engine.State{Columns: cols, Tasks: tasks, Activity: recent, LastEventID: lastID})
	if err != nil {
		return err
	}
	if s.now != nil {
		eng.Now = s.now
	}
	if s.newID != nil {
		eng.NewID = s.newID
	}
	s.eng = eng
	if ch := eng.TakeChanges(); !ch.Empty() {
		return s.persist(ctx, ch)
	}
	return nil
}

// Read runs fn with exclusive access to the engine. fn must not mutate.
func (s *Service) Read(fn func(*engine.Engine) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.eng)
}

// Mutate runs fn and persists whatever it committed. If persisting fails the
// engine is reloaded from the database so memory matches disk.
func (s *Service) Mutate(ctx context.Context, fn func(*engine.Engine) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fnErr := fn(s.eng)
	ch := s.eng.TakeChanges()
	if ch.Empty() {
		return fnErr
	}
	if err := s.persist(ctx, ch); err != nil {
		if reloadErr := s.load(ctx); reloadErr != nil {
			return errors.Join(err, fmt.Errorf("reload board: %w", reloadErr))
		}
		return err
	}
	return fnErr
}

// Do is Mutate for operations that return a value.
func Do[T any](ctx context.Context, s *Service, fn func(*engine.Engine) (T, error)) (T, error) {
	var out T
	err := s.Mutate(ctx, func(e *engine.Engine) error {
		var err error
		out, err = fn(e)
		return err
	})
	return out, err
}

// Query is Read for operations that return a value.
func Query[T any](s *Service, fn func(*engine.Engine) (T, error)) (T, error) {
	var out T
	err := s.Read(func(e *engine.Engine) error {
		var err error
		out, err = fn(e)
		return err
	})
	return out, err
}

func (s *Service) persist(ctx context.Context, ch engine.Changes) error {
	tx, err := s.Repo.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if ch.Columns {
		if err := s.Repo.SaveColumnsTx(ctx, tx, s.BoardID, s.eng.Columns()); err != nil {
			return err
		}
	}
	for _, id := range ch.Archived {
		if err := s.Repo.DeleteTaskTx(ctx, tx, id); err != nil && !errors.Is(err, repo.ErrNotFound) {
			return err
		}
	}
	for _, id := range ch.Tasks {
		t, err := s.eng.Task(id)
		if err != nil {
			continue
		}
		if err := s.Repo.SaveTaskTx(ctx, tx, s.BoardID, t); err != nil {
			return err
		}
	}
	for _, a := range ch.Activity {
		if err := s.Events.Append(ctx, tx, s.BoardID, a); err != nil {
			return err
		}
	}
	return tx.Commit()
}
