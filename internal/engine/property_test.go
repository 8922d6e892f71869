package engine_test

import (
	"errors"
	"fmt"
	"slices"
	"testing"

	"pgregory.net/rapid"

	"taskflow/internal/config"
	"taskflow/internal/domain"
	"taskflow/internal/engine"
)

func newPropertyEngine() *engine.Engine {
	eng := engine.New(config.Default("prop"))
	seq := 0
	eng.NewID = func() string {
		seq++
		return fmt.Sprintf("p-%03d", seq)
	}
	return eng
}

func TestPropertyGatingMatchesRequiredSubtasks(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		eng := newPropertyEngine()
		n := rapid.IntRange(1, 8).Draw(rt, "subtasks")
		var drafts []engine.SubtaskDraft
		complete := make([]bool, n)
		required := make([]bool, n)
		for i := 0; i < n; i++ {
			required[i] = rapid.Bool().Draw(rt, fmt.Sprintf("required_%d", i))
			complete[i] = rapid.Bool().Draw(rt, fmt.Sprintf("complete_%d", i))
			drafts = append(drafts, engine.SubtaskDraft{Title: fmt.Sprintf("s%d", i), Required: boolPtr(required[i])})
		}
		task, err := eng.CreateTask(engine.TaskCreateOptions{Title: "gate", ActorID: "alice", Subtasks: drafts})
		if err != nil {
			rt.Fatalf("create: %v", err)
		}
		eligible := true
		for i, s := range task.Subtasks {
			if complete[i] {
				if _, err := eng.ToggleSubtask(task.ID, s.ID, "alice"); err != nil {
					rt.Fatalf("toggle: %v", err)
				}
			}
			if required[i] && !complete[i] {
				eligible = false
			}
		}
		target := rapid.SampledFrom([]string{"Review", "Done"}).Draw(rt, "target")
		moved, err := eng.MoveTask(task.ID, target, "alice")
		if eligible && (err != nil || moved.Status != target) {
			rt.Fatalf("eligible task rejected: %v", err)
		}
		if !eligible && !errors.Is(err, engine.ErrTransitionRejected) {
			rt.Fatalf("ineligible task accepted into %s", target)
		}
	})
}

func TestPropertyCompletedAtTracksTerminal(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		eng := newPropertyEngine()
		task, err := eng.CreateTask(engine.TaskCreateOptions{Title: "moves", ActorID: "alice"})
		if err != nil {
			rt.Fatalf("create: %v", err)
		}
		var names []string
		for _, c := range eng.Columns() {
			names = append(names, c.Name)
		}
		steps := rapid.SliceOfN(rapid.SampledFrom(names), 1, 30).Draw(rt, "moves")
		for _, target := range steps {
			got, err := eng.MoveTask(task.ID, target, "alice")
			if err != nil {
				rt.Fatalf("move to %s: %v", target, err)
			}
			if (got.CompletedAt != nil) != (got.Status == "Done") {
				rt.Fatalf("completed_at inconsistent in %s: %v", got.Status, got.CompletedAt)
			}
		}
	})
}

type linkOp struct {
	add      bool
	src, tgt int
}

func TestPropertyGraphSymmetry(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		eng := newPropertyEngine()
		n := rapid.IntRange(2, 6).Draw(rt, "tasks")
		var ids []string
		for i := 0; i < n; i++ {
			task, err := eng.CreateTask(engine.TaskCreateOptions{Title: fmt.Sprintf("T%d", i), ActorID: "alice"})
			if err != nil {
				rt.Fatalf("create: %v", err)
			}
			ids = append(ids, task.ID)
		}
		ops := rapid.SliceOfN(rapid.Custom(func(t *rapid.T) linkOp {
			return linkOp{
				add: rapid.IntRange(0, 3).Draw(t, "kind") > 0,
				src: rapid.IntRange(0, n-1).Draw(t, "src"),
				tgt: rapid.IntRange(0, n-1).Draw(t, "tgt"),
			}
		}), 1, 40).Draw(rt, "ops")
		for _, op := range ops {
			if op.add {
				_, err := eng.AddLink(ids[op.src], ids[op.tgt], "alice")
				if op.src == op.tgt && !errors.Is(err, engine.ErrInvalidLink) {
					rt.Fatalf("self link accepted")
				}
				continue
			}
			eng.RemoveLink(ids[op.src], ids[op.tgt], "alice")
		}
		for _, a := range ids {
			task, _ := eng.Task(a)
			if len(slices.Compact(slices.Sorted(slices.Values(task.Links)))) != len(task.Links) {
				rt.Fatalf("duplicate links on %s: %v", a, task.Links)
			}
			down, _ := eng.DownstreamOf(a)
			for _, b := range ids {
				up, _ := eng.UpstreamOf(b)
				inDown := slices.ContainsFunc(down, func(d domain.Task) bool { return d.ID == b })
				inUp := slices.ContainsFunc(up, func(u domain.Task) bool { return u.ID == a })
				if inDown != inUp {
					rt.Fatalf("asymmetry between %s and %s: downstream=%v upstream=%v", a, b, inDown, inUp)
				}
			}
		}
	})
}
