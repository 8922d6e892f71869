package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default("board-1")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Board.ID != "board-1" {
		t.Fatalf("expected board id board-1, got %s", cfg.Board.ID)
	}
	if len(cfg.Columns) != 5 || cfg.Columns[0].Role != "intake" || cfg.Columns[4].Role != "terminal" {
		t.Fatalf("unexpected default columns: %+v", cfg.Columns)
	}
	if cfg.Activity.Limit != 500 {
		t.Fatalf("expected activity limit 500, got %d", cfg.Activity.Limit)
	}
}

func TestValidateRejectsBadColumns(t *testing.T) {
	cases := map[string]string{
		"missing review": `board: {id: b}
columns:
  - {name: Backlog, role: intake}
  - {name: Doing}
  - {name: Done, role: terminal}
`,
		"intake not first": `board: {id: b}
columns:
  - {name: Doing}
  - {name: Backlog, role: intake}
  - {name: Review, role: review}
  - {name: Done, role: terminal}
`,
		"terminal not last": `board: {id: b}
columns:
  - {name: Backlog, role: intake}
  - {name: Done, role: terminal}
  - {name: Review, role: review}
`,
		"duplicate name": `board: {id: b}
columns:
  - {name: Backlog, role: intake}
  - {name: Backlog}
  - {name: Review, role: review}
  - {name: Done, role: terminal}
`,
		"bad zero policy": `board: {id: b}
columns:
  - {name: Backlog, role: intake}
  - {name: Review, role: review}
  - {name: Done, role: terminal}
workflow:
  zero_subtasks: sometimes
`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := FromYAML([]byte(raw)); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestLoadOrDefault(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOrDefault(dir)
	if err != nil {
		t.Fatalf("load default: %v", err)
	}
	if cfg.Board.ID != "default" {
		t.Fatalf("expected default board, got %s", cfg.Board.ID)
	}
	raw := strings.Replace(GenerateDefault("ops"), "zero_subtasks: eligible", "zero_subtasks: blocked", 1)
	if err := os.WriteFile(filepath.Join(dir, "taskflow.yml"), []byte(raw), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err = LoadOrDefault(dir)
	if err != nil {
		t.Fatalf("load file: %v", err)
	}
	if cfg.Board.ID != "ops" || cfg.Workflow.ZeroSubtasks != ZeroSubtasksBlocked {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}
