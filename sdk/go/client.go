package taskflowsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Taskflow HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Subtask is one checklist item.
type Subtask struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	IsRequired  bool   `json:"is_required"`
	IsCompleted bool   `json:"is_completed"`
	Assignee    string `json:"assignee,omitempty"`
	Claim       string `json:"claim"`
}

// Task represents the API task model (partial).
type Task struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Description   string     `json:"description,omitempty"`
	Priority      string     `json:"priority"`
	Status        string     `json:"status"`
	Tags          []string   `json:"tags"`
	Subtasks      []Subtask  `json:"subtasks"`
	Links         []string   `json:"links"`
	Collaborators []string   `json:"collaborators"`
	Creator       string     `json:"creator"`
	IsLocked      bool       `json:"is_locked"`
	Version       int        `json:"version"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	RequiredDone  int        `json:"required_done"`
	RequiredTotal int        `json:"required_total"`
	CanFinish     bool       `json:"can_finish"`
}

// Column is a board column.
type Column struct {
	Name        string `json:"name"`
	Role        string `json:"role,omitempty"`
	IsProtected bool   `json:"is_protected"`
}

// Event represents a collaboration log entry.
type Event struct {
	ID      int64     `json:"id"`
	At      time.Time `json:"at"`
	Type    string    `json:"type"`
	TaskID  string    `json:"task_id,omitempty"`
	ActorID string    `json:"actor_id,omitempty"`
	Text    string    `json:"text"`
}

// CreateTaskInput describes a new task.
type CreateTaskInput struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Priority    string   `json:"priority,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Subtasks    []string `json:"-"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d code=%s body=%s", e.StatusCode, e.Code, e.Body)
}

// IsTransitionRejected reports whether err is a gated move the server refused.
func IsTransitionRejected(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == "transition_rejected"
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// CreateTask creates a task; Subtasks become required checklist items.
func (c *Client) CreateTask(ctx context.Context, in CreateTaskInput) (Task, error) {
	body := map[string]any{
		"title":       in.Title,
		"description": in.Description,
	}
	if len(in.Tags) > 0 {
		body["tags"] = in.Tags
	}
	if in.Priority != "" {
		body["priority"] = in.Priority
	}
	subtasks := make([]map[string]any, 0, len(in.Subtasks))
	for _, s := range in.Subtasks {
		subtasks = append(subtasks, map[string]any{"title": s})
	}
	body["subtasks"] = subtasks
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks", body, &resp)
	return resp, err
}

// GetTask fetches a task by id.
func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, taskPath(id), nil, &resp)
	return resp, err
}

// ListTasks lists tasks, optionally restricted to a column and sorted.
func (c *Client) ListTasks(ctx context.Context, column, sort string) ([]Task, error) {
	q := url.Values{}
	if column != "" {
		q.Set("column", column)
	}
	if sort != "" {
		q.Set("sort", sort)
	}
	endpoint := "tasks"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp []Task
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// MoveTask moves a task into column.
func (c *Client) MoveTask(ctx context.Context, id, column string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, taskPath(id, "move"), map[string]any{"column": column}, &resp)
	return resp, err
}

// ArchiveTask removes a finished task from the board.
func (c *Client) ArchiveTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, taskPath(id), nil, nil)
}

// AddSubtask appends a checklist item.
func (c *Client) AddSubtask(ctx context.Context, taskID, title string, required bool) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, taskPath(taskID, "subtasks"), map[string]any{"title": title, "required": required}, &resp)
	return resp, err
}

// ToggleSubtask flips a checklist item.
func (c *Client) ToggleSubtask(ctx context.Context, taskID, subtaskID string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, taskPath(taskID, "subtasks", subtaskID, "toggle"), nil, &resp)
	return resp, err
}

// PickUpSubtask claims a checklist item for the caller.
func (c *Client) PickUpSubtask(ctx context.Context, taskID, subtaskID string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, taskPath(taskID, "subtasks", subtaskID, "pickup"), nil, &resp)
	return resp, err
}

// AddLink records that taskID blocks targetID.
func (c *Client) AddLink(ctx context.Context, taskID, targetID string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, taskPath(taskID, "links"), map[string]any{"target_id": targetID}, &resp)
	return resp, err
}

// SpawnTask creates a task downstream of taskID.
func (c *Client) SpawnTask(ctx context.Context, taskID, title string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, taskPath(taskID, "spawn"), map[string]any{"title": title}, &resp)
	return resp, err
}

// Downstream lists the tasks taskID blocks.
func (c *Client) Downstream(ctx context.Context, taskID string, transitive bool) ([]Task, error) {
	var resp []Task
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s?transitive=%t", taskPath(taskID, "downstream"), transitive), nil, &resp)
	return resp, err
}

// AddNote appends a note to a task.
func (c *Client) AddNote(ctx context.Context, taskID, text string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, taskPath(taskID, "notes"), map[string]any{"text": text}, &resp)
	return resp, err
}

// Columns lists the board columns in order.
func (c *Client) Columns(ctx context.Context) ([]Column, error) {
	var resp []Column
	err := c.do(ctx, http.MethodGet, "columns", nil, &resp)
	return resp, err
}

// AddColumn inserts a custom column before review.
func (c *Client) AddColumn(ctx context.Context, name string) (Column, error) {
	var resp Column
	err := c.do(ctx, http.MethodPost, "columns", map[string]any{"name": name}, &resp)
	return resp, err
}

// Activity returns the most recent log entries.
func (c *Client) Activity(ctx context.Context, limit int) ([]Event, error) {
	var resp []Event
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("activity?limit=%d", limit), nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/v0/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func taskPath(id string, rest ...string) string {
	parts := []string{"tasks", url.PathEscape(id)}
	for _, p := range rest {
		parts = append(parts, url.PathEscape(p))
	}
	return strings.Join(parts, "/")
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
