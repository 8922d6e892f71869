package engine

import (
	"fmt"
	"slices"

	"taskflow/internal/domain"
)

// indexLink maintains the reverse-edge index: upstream[target] holds every
// source whose Links contain target.
func (e *Engine) indexLink(src, tgt string) {
	set, ok := e.upstream[tgt]
	if !ok {
		set = map[string]struct{}{}
		e.upstream[tgt] = set
	}
	set[src] = struct{}{}
}

func (e *Engine) unindexLink(src, tgt string) {
	set := e.upstream[tgt]
	delete(set, src)
	if len(set) == 0 {
		delete(e.upstream, tgt)
	}
}

// AddLink records that src blocks tgt. Adding an existing link is a no-op.
func (e *Engine) AddLink(src, tgt, actorID string) (domain.Task, error) {
	s, err := e.get(src)
	if err != nil {
		return domain.Task{}, err
	}
	if src == tgt {
		return domain.Task{}, fmt.Errorf("%w: task %s cannot link to itself", ErrInvalidLink, src)
	}
	target, ok := e.tasks[tgt]
	if !ok {
		return domain.Task{}, fmt.Errorf("%w: target task %s does not exist", ErrInvalidLink, tgt)
	}
	if s.HasLink(tgt) {
		return s.Clone(), nil
	}
	if e.Config.Dependencies.RejectCycles && e.reaches(tgt, src) {
		return domain.Task{}, fmt.Errorf("%w: linking %s to %s would create a cycle", ErrInvalidLink, src, tgt)
	}
	s.Links = append(s.Links, tgt)
	e.indexLink(src, tgt)
	e.touch(s, actorID)
	e.record("link.added", s.ID, actorID, fmt.Sprintf("%q now blocks %q", s.Title, target.Title))
	return s.Clone(), nil
}

func (e *Engine) RemoveLink(src, tgt, actorID string) (domain.Task, error) {
	s, err := e.get(src)
	if err != nil {
		return domain.Task{}, err
	}
	idx := slices.Index(s.Links, tgt)
	if idx < 0 {
		return domain.Task{}, fmt.Errorf("%w: %s does not link to %s", ErrNotFound, src, tgt)
	}
	s.Links = slices.Delete(s.Links, idx, idx+1)
	e.unindexLink(src, tgt)
	e.touch(s, actorID)
	e.record("link.removed", s.ID, actorID, fmt.Sprintf("Removed link from %q to %s", s.Title, tgt))
	return s.Clone(), nil
}

// SpawnLinkedTask creates a task and links src to it in one step.
func (e *Engine) SpawnLinkedTask(src string, opts TaskCreateOptions) (domain.Task, error) {
	s, err := e.get(src)
	if err != nil {
		return domain.Task{}, err
	}
	t, err := e.buildTask(opts)
	if err != nil {
		return domain.Task{}, err
	}
	e.insertTask(t)
	s.Links = append(s.Links, t.ID)
	e.indexLink(s.ID, t.ID)
	e.touch(s, opts.ActorID)
	e.record("task.spawned", t.ID, opts.ActorID, fmt.Sprintf("Spawned %q from %q", t.Title, s.Title))
	return t.Clone(), nil
}

// DownstreamOf returns the tasks id blocks, in link order.
func (e *Engine) DownstreamOf(id string) ([]domain.Task, error) {
	t, err := e.get(id)
	if err != nil {
		return nil, err
	}
	res := make([]domain.Task, 0, len(t.Links))
	for _, tgt := range t.Links {
		if d, ok := e.tasks[tgt]; ok {
			res = append(res, d.Clone())
		}
	}
	return res, nil
}

// UpstreamOf returns the tasks that block id, oldest first.
func (e *Engine) UpstreamOf(id string) ([]domain.Task, error) {
	if _, err := e.get(id); err != nil {
		return nil, err
	}
	res := make([]domain.Task, 0, len(e.upstream[id]))
	for src := range e.upstream[id] {
		res = append(res, e.tasks[src].Clone())
	}
	sortTasks(res, SortCreatedAt)
	return res, nil
}

// TransitiveDownstream walks outgoing links breadth-first, at most
// dependencies.max_depth hops. Each task appears once, and never the start.
func (e *Engine) TransitiveDownstream(id string) ([]domain.Task, error) {
	return e.walk(id, func(t *domain.Task) []string { return t.Links })
}

// TransitiveUpstream is TransitiveDownstream over incoming links.
func (e *Engine) TransitiveUpstream(id string) ([]domain.Task, error) {
	return e.walk(id, func(t *domain.Task) []string {
		srcs := make([]string, 0, len(e.upstream[t.ID]))
		for src := range e.upstream[t.ID] {
			srcs = append(srcs, src)
		}
		slices.Sort(srcs)
		return srcs
	})
}

func (e *Engine) walk(id string, next func(*domain.Task) []string) ([]domain.Task, error) {
	start, err := e.get(id)
	if err != nil {
		return nil, err
	}
	visited := map[string]bool{id: true}
	frontier := []*domain.Task{start}
	res := []domain.Task{}
	for depth := 0; depth < e.Config.Dependencies.MaxDepth && len(frontier) > 0; depth++ {
		var following []*domain.Task
		for _, t := range frontier {
			for _, nid := range next(t) {
				n, ok := e.tasks[nid]
				if !ok || visited[nid] {
					continue
				}
				visited[nid] = true
				res = append(res, n.Clone())
				following = append(following, n)
			}
		}
		frontier = following
	}
	return res, nil
}

// reaches reports whether to is reachable from from along outgoing links.
func (e *Engine) reaches(from, to string) bool {
	visited := map[string]bool{}
	stack := []string{from}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == to {
			return true
		}
		if visited[id] {
			continue
		}
		visited[id] = true
		if t, ok := e.tasks[id]; ok {
			stack = append(stack, t.Links...)
		}
	}
	return false
}
