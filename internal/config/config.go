package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	ZeroSubtasksEligible = "eligible"
	ZeroSubtasksBlocked  = "blocked"

	defaultActivityLimit = 500
	defaultMaxDepth      = 64
)

// Config models taskflow.yml.
type Config struct {
	Board struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"board"`
	Columns  []ColumnConfig `yaml:"columns"`
	Workflow struct {
		// ZeroSubtasks decides whether a task without required subtasks may enter a gated column.
		ZeroSubtasks    string `yaml:"zero_subtasks"`
		DefaultPriority string `yaml:"default_priority"`
	} `yaml:"workflow"`
	Dependencies struct {
		RejectCycles bool `yaml:"reject_cycles"`
		MaxDepth     int  `yaml:"max_depth"`
	} `yaml:"dependencies"`
	Activity struct {
		Limit int `yaml:"limit"`
	} `yaml:"activity"`
	Server struct {
		Addr                   string `yaml:"addr"`
		BasePath               string `yaml:"base_path"`
		AllowLegacyActorHeader bool   `yaml:"allow_legacy_actor_header"`
	} `yaml:"server"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type ColumnConfig struct {
	Name string `yaml:"name"`
	Role string `yaml:"role,omitempty"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events,omitempty"`
	Secret         string   `yaml:"secret,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with tf init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOrDefault returns the workspace config, or the default config when the file does not exist.
func LoadOrDefault(workspace string) (*Config, error) {
	cfg, err := LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return Default("default"), nil
	}
	return cfg, nil
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

func (c *Config) applyDefaults() {
	if c.Workflow.ZeroSubtasks == "" {
		c.Workflow.ZeroSubtasks = ZeroSubtasksEligible
	}
	if c.Workflow.DefaultPriority == "" {
		c.Workflow.DefaultPriority = "medium"
	}
	if c.Dependencies.MaxDepth == 0 {
		c.Dependencies.MaxDepth = defaultMaxDepth
	}
	if c.Activity.Limit == 0 {
		c.Activity.Limit = defaultActivityLimit
	}
	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:8080"
	}
	if c.Server.BasePath == "" {
		c.Server.BasePath = "/v0"
	}
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Board.ID == "" {
		return fmt.Errorf("config.board.id is required")
	}
	if len(c.Columns) < 3 {
		return fmt.Errorf("config.columns needs at least the intake, review and terminal columns")
	}
	seen := map[string]bool{}
	roles := map[string]int{}
	for i, col := range c.Columns {
		name := strings.TrimSpace(col.Name)
		if name == "" {
			return fmt.Errorf("config.columns[%d] has empty name", i)
		}
		if seen[name] {
			return fmt.Errorf("column %s is defined twice", name)
		}
		seen[name] = true
		switch col.Role {
		case "":
		case "intake", "review", "terminal":
			if _, dup := roles[col.Role]; dup {
				return fmt.Errorf("column role %s is assigned twice", col.Role)
			}
			roles[col.Role] = i
		default:
			return fmt.Errorf("column %s has unknown role %s", name, col.Role)
		}
	}
	for _, role := range []string{"intake", "review", "terminal"} {
		if _, ok := roles[role]; !ok {
			return fmt.Errorf("config.columns must define a %s column", role)
		}
	}
	if roles["intake"] != 0 {
		return fmt.Errorf("intake column must be first")
	}
	if roles["terminal"] != len(c.Columns)-1 {
		return fmt.Errorf("terminal column must be last")
	}
	switch c.Workflow.ZeroSubtasks {
	case ZeroSubtasksEligible, ZeroSubtasksBlocked:
	default:
		return fmt.Errorf("config.workflow.zero_subtasks must be %s or %s", ZeroSubtasksEligible, ZeroSubtasksBlocked)
	}
	switch c.Workflow.DefaultPriority {
	case "low", "medium", "high", "critical":
	default:
		return fmt.Errorf("config.workflow.default_priority %s is not a priority", c.Workflow.DefaultPriority)
	}
	if c.Dependencies.MaxDepth < 1 {
		return fmt.Errorf("config.dependencies.max_depth must be positive")
	}
	if c.Activity.Limit < 1 {
		return fmt.Errorf("config.activity.limit must be positive")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "taskflow.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(boardID string) string {
	return fmt.Sprintf(defaultTemplate, boardID)
}

// Default returns the default Config struct for a board.
func Default(boardID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(boardID))).Decode(&cfg)
	cfg.applyDefaults()
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `board:
  id: %s
  name: Task board

# The intake, review and terminal columns are protected anchors:
# they cannot be renamed, deleted or reordered. Review and terminal are gated.
columns:
  - name: Backlog
    role: intake
  - name: Ready
  - name: In Progress
  - name: Review
    role: review
  - name: Done
    role: terminal

workflow:
  zero_subtasks: eligible
  default_priority: medium

dependencies:
  reject_cycles: false
  max_depth: 64

activity:
  limit: 500

server:
  addr: 127.0.0.1:8080
  base_path: /v0
  allow_legacy_actor_header: false
`
