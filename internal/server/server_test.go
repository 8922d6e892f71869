package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"taskflow/internal/app"
	"taskflow/internal/config"
	"taskflow/internal/db"
	"taskflow/internal/domain"
	"taskflow/internal/migrate"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	svc    *app.Service
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	return newTestServerWithAuth(t, AuthConfig{JWTSecret: testSecret, AllowLegacyActorHeader: true, EnableDevLogin: true})
}

func newTestServerWithAuth(t *testing.T, authCfg AuthConfig) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	svc, err := app.Open(context.Background(), conn, config.Default("taskflow"), app.Options{})
	if err != nil {
		t.Fatalf("open service: %v", err)
	}
	handler, err := New(Config{Service: svc, BasePath: "/v0", Auth: authCfg})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		svc:    svc,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func as(actor string) map[string]string {
	return map[string]string{"X-Actor-Id": actor}
}

func decodeTask(t *testing.T, data []byte) TaskResponse {
	t.Helper()
	var task TaskResponse
	if err := json.Unmarshal(data, &task); err != nil {
		t.Fatalf("unmarshal task: %v: %s", err, string(data))
	}
	return task
}

func decodeError(t *testing.T, data []byte) apiErrorBody {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error: %v: %s", err, string(data))
	}
	return env.Error
}

func TestGatedMoveToDone(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
		"title":    "Ship feature",
		"priority": "high",
		"subtasks": []map[string]any{{"title": "write tests"}, {"title": "polish", "required": false}},
	}, as("alice"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task status %d: %s", res.StatusCode, string(data))
	}
	task := decodeTask(t, data)
	if task.Status != "Backlog" || task.RequiredTotal != 1 || task.CanFinish {
		t.Fatalf("unexpected new task: %+v", task)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+task.ID+"/move", map[string]any{"column": "Done"}, as("alice"))
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("gated move status %d: %s", res.StatusCode, string(data))
	}
	apiErr := decodeError(t, data)
	if apiErr.Code != "transition_rejected" || apiErr.Details["column"] != "Done" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
	if missing, _ := apiErr.Details["missing"].([]any); len(missing) != 1 || missing[0] != "write tests" {
		t.Fatalf("missing subtasks not reported: %+v", apiErr.Details)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks/"+task.ID+"/can-finish", nil, as("alice"))
	var elig EligibilityResponse
	if err := json.Unmarshal(data, &elig); err != nil || res.StatusCode != http.StatusOK || elig.Eligible {
		t.Fatalf("eligibility: %d %s", res.StatusCode, string(data))
	}

	required := task.Subtasks[0].ID
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+task.ID+"/subtasks/"+required+"/toggle", nil, as("bob"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("toggle status %d: %s", res.StatusCode, string(data))
	}
	toggled := decodeTask(t, data)
	if toggled.Status != "Backlog" || !toggled.CanFinish {
		t.Fatalf("toggle should not move the task: %+v", toggled)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+task.ID+"/move", map[string]any{"column": "Done"}, as("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("move status %d: %s", res.StatusCode, string(data))
	}
	done := decodeTask(t, data)
	if done.Status != "Done" || done.CompletedAt == nil {
		t.Fatalf("task not completed: %+v", done)
	}
	if len(done.Collaborators) != 2 {
		t.Fatalf("expected alice and bob as collaborators: %v", done.Collaborators)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/board", nil, as("alice"))
	var board BoardResponse
	if err := json.Unmarshal(data, &board); err != nil || res.StatusCode != http.StatusOK {
		t.Fatalf("board: %d %s", res.StatusCode, string(data))
	}
	last := board.Columns[len(board.Columns)-1]
	if last.Column.Name != "Done" || len(last.Tasks) != 1 {
		t.Fatalf("task not on Done column: %+v", board.Columns)
	}

	res, _ = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/tasks/"+task.ID, nil, as("alice"))
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("archive status %d", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks/"+task.ID, nil, as("alice"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("archived task should be gone, got %d", res.StatusCode)
	}
}

func TestSpawnAndTraverseLinks(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks", map[string]any{"title": "Design API"}, as("alice"))
	a := decodeTask(t, data)
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+a.ID+"/spawn", map[string]any{"title": "Implement API"}, as("bob"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("spawn status %d: %s", res.StatusCode, string(data))
	}
	b := decodeTask(t, data)
	_, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+b.ID+"/spawn", map[string]any{"title": "Document API"}, as("bob"))
	c := decodeTask(t, data)

	var up []TaskResponse
	_, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks/"+b.ID+"/upstream", nil, as("alice"))
	if err := json.Unmarshal(data, &up); err != nil || len(up) != 1 || up[0].ID != a.ID {
		t.Fatalf("upstream of spawned task: %s", string(data))
	}
	var down []TaskResponse
	_, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks/"+a.ID+"/downstream?transitive=true", nil, as("alice"))
	if err := json.Unmarshal(data, &down); err != nil || len(down) != 2 {
		t.Fatalf("transitive downstream: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+c.ID+"/links", map[string]any{"target_id": c.ID}, as("alice"))
	if res.StatusCode != http.StatusBadRequest || decodeError(t, data).Code != "invalid_link" {
		t.Fatalf("self link status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/tasks/"+a.ID+"/links/"+b.ID, nil, as("alice"))
	if res.StatusCode != http.StatusOK || len(decodeTask(t, data).Links) != 0 {
		t.Fatalf("remove link status %d: %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/tasks/"+a.ID+"/links/"+b.ID, nil, as("alice"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("removing a missing link should 404, got %d", res.StatusCode)
	}
}

func TestLockedTaskAndVersionConflict(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks", map[string]any{"title": "Budget"}, as("alice"))
	task := decodeTask(t, data)
	res, data := doJSON(t, client, http.MethodPatch, srv.URL+"/v0/tasks/"+task.ID, map[string]any{"locked": true}, as("alice"))
	if res.StatusCode != http.StatusOK || !decodeTask(t, data).IsLocked {
		t.Fatalf("lock status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/tasks/"+task.ID, map[string]any{"title": "Hijacked"}, as("mallory"))
	if res.StatusCode != http.StatusForbidden || decodeError(t, data).Code != "permission_denied" {
		t.Fatalf("locked edit status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+task.ID+"/notes", map[string]any{"text": "looks good"}, as("mallory"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("notes stay open on locked tasks, got %d: %s", res.StatusCode, string(data))
	}
	current := decodeTask(t, data)

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/tasks/"+task.ID, map[string]any{
		"title":            "Budget 2025",
		"expected_version": current.Version - 1,
	}, as("alice"))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("stale version status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/tasks/"+task.ID, map[string]any{
		"title":            "Budget 2025",
		"add_tags":         []string{"finance"},
		"expected_version": current.Version,
	}, as("alice"))
	updated := decodeTask(t, data)
	if res.StatusCode != http.StatusOK || updated.Title != "Budget 2025" || len(updated.Tags) != 1 || updated.Version != current.Version+1 {
		t.Fatalf("update status %d: %s", res.StatusCode, string(data))
	}
}

func TestSubtaskClaims(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
		"title":    "Release",
		"subtasks": []map[string]any{{"title": "tag"}, {"title": "announce"}},
	}, as("alice"))
	task := decodeTask(t, data)
	sub := task.Subtasks[1].ID
	base := srv.URL + "/v0/tasks/" + task.ID + "/subtasks/" + sub

	res, data := doJSON(t, client, http.MethodPost, base+"/pickup", nil, as("bob"))
	if res.StatusCode != http.StatusOK || decodeTask(t, data).Subtasks[1].Assignee != "bob" {
		t.Fatalf("pickup status %d: %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, client, http.MethodPost, base+"/pickup", nil, as("carol"))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("second claim should conflict, got %d", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodPost, base+"/release", nil, as("carol"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("non-assignee release should be forbidden, got %d", res.StatusCode)
	}
	res, data = doJSON(t, client, http.MethodPost, base+"/release", nil, as("bob"))
	if res.StatusCode != http.StatusOK || decodeTask(t, data).Subtasks[1].Claim != domain.ClaimReleased {
		t.Fatalf("release status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/move", map[string]any{"direction": "up"}, as("bob"))
	if res.StatusCode != http.StatusOK || decodeTask(t, data).Subtasks[0].ID != sub {
		t.Fatalf("reorder status %d: %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, client, http.MethodPost, base+"/move", map[string]any{"direction": "sideways"}, as("bob"))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad direction should 400, got %d", res.StatusCode)
	}

	var next NextSubtaskResponse
	_, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks/"+task.ID+"/subtasks/next", nil, as("bob"))
	if err := json.Unmarshal(data, &next); err != nil || !next.Found || next.Subtask.ID != sub {
		t.Fatalf("next subtask: %s", string(data))
	}
}

func TestColumnsEndpoints(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/columns", map[string]any{"name": "QA"}, as("alice"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("add column status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/columns/Done", map[string]any{"name": "Shipped"}, as("alice"))
	if res.StatusCode != http.StatusConflict || decodeError(t, data).Code != "protected_column" {
		t.Fatalf("protected rename status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/columns/"+url.PathEscape("In Progress"), map[string]any{"name": "Doing"}, as("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("rename status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/columns/QA/move", map[string]any{"direction": "up"}, as("alice"))
	var cols []domain.Column
	if err := json.Unmarshal(data, &cols); err != nil || res.StatusCode != http.StatusOK {
		t.Fatalf("move column status %d: %s", res.StatusCode, string(data))
	}
	names := make([]string, 0, len(cols))
	for _, c := range cols {
		names = append(names, c.Name)
	}
	want := []string{"Backlog", "Ready", "QA", "Doing", "Review", "Done"}
	if len(names) != len(want) {
		t.Fatalf("columns %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("columns %v, want %v", names, want)
		}
	}
	res, _ = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/columns/QA", nil, as("alice"))
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete column status %d", res.StatusCode)
	}
}

func TestEventsPagination(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	for _, text := range []string{"one", "two", "three"} {
		res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/activity", map[string]any{"text": text}, as("alice"))
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("record activity status %d: %s", res.StatusCode, string(data))
		}
	}
	var page paginatedEvents
	_, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?limit=2", nil, as("alice"))
	if err := json.Unmarshal(data, &page); err != nil || len(page.Items) != 2 || page.NextCursor == "" {
		t.Fatalf("first page: %s", string(data))
	}
	if page.Items[0].Text != "three" {
		t.Fatalf("events should be most recent first: %+v", page.Items)
	}
	_, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?limit=2&cursor="+page.NextCursor, nil, as("alice"))
	var next paginatedEvents
	if err := json.Unmarshal(data, &next); err != nil || len(next.Items) != 1 || next.Items[0].Text != "one" || next.NextCursor != "" {
		t.Fatalf("second page: %s", string(data))
	}
	res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?cursor=abc", nil, as("alice"))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid cursor should 400, got %d", res.StatusCode)
	}

	var log []domain.Activity
	_, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/activity?limit=1", nil, as("alice"))
	if err := json.Unmarshal(data, &log); err != nil || len(log) != 1 || log[0].Text != "three" {
		t.Fatalf("activity log: %s", string(data))
	}
}

func TestAuthentication(t *testing.T) {
	srv, cleanup := newTestServerWithAuth(t, AuthConfig{JWTSecret: testSecret, EnableDevLogin: true})
	defer cleanup()
	client := srv.Client()

	res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health should be public, got %d", res.StatusCode)
	}
	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/board", nil, nil)
	if res.StatusCode != http.StatusUnauthorized || decodeError(t, data).Code != "unauthorized" {
		t.Fatalf("missing credentials status %d: %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/board", nil, as("alice"))
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("legacy header must be ignored when disabled, got %d", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/board", nil, map[string]string{"Authorization": "Bearer nope"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token status %d", res.StatusCode)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{"actor_id": "alice"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login status %d: %s", res.StatusCode, string(data))
	}
	var login DevLoginResponse
	if err := json.Unmarshal(data, &login); err != nil || login.Token == "" {
		t.Fatalf("dev login body: %s", string(data))
	}
	var me MeResponse
	_, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"Authorization": "Bearer " + login.Token})
	if err := json.Unmarshal(data, &me); err != nil || me.ActorID != "alice" || me.Source != "jwt" {
		t.Fatalf("me via jwt: %s", string(data))
	}

	_, raw, err := srv.svc.Repo.CreateAPIKey(context.Background(), "bob", "ci")
	if err != nil {
		t.Fatalf("create api key: %v", err)
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks", map[string]any{"title": "From CI"}, map[string]string{"X-Api-Key": raw})
	if res.StatusCode != http.StatusCreated || decodeTask(t, data).Creator != "bob" {
		t.Fatalf("api key create status %d: %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/board", nil, map[string]string{"X-Api-Key": "tfk_unknown"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unknown api key status %d", res.StatusCode)
	}
}

func TestValidationErrorsAreBadRequest(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks", map[string]any{"description": "no title"}, as("alice"))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing title status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks", map[string]any{"title": "x", "priority": "urgent"}, as("alice"))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid priority status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks?sort=alphabetical", nil, as("alice"))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid sort status %d: %s", res.StatusCode, string(data))
	}
}

func TestOpenAPIDocument(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/openapi.json", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("openapi status %d", res.StatusCode)
	}
	var doc struct {
		Paths      map[string]any `json:"paths"`
		Components struct {
			SecuritySchemes map[string]any `json:"securitySchemes"`
		} `json:"components"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("decode openapi: %v", err)
	}
	if _, ok := doc.Paths["/v0/tasks/{task_id}/move"]; !ok {
		t.Fatalf("move route missing from document")
	}
	if _, ok := doc.Components.SecuritySchemes["bearerAuth"]; !ok {
		t.Fatalf("bearer auth scheme missing")
	}
}

func TestWebhookDelivery(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	var mu sync.Mutex
	var got []webhookEvent
	var headers []http.Header
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt webhookEvent
		_ = json.NewDecoder(r.Body).Decode(&evt)
		mu.Lock()
		got = append(got, evt)
		headers = append(headers, r.Header.Clone())
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	d := newWebhookDispatcher(srv.svc, []config.WebhookConfig{{URL: hook.URL, Events: []string{"task.moved"}, Secret: "s3cret"}})
	ctx := context.Background()
	_, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks", map[string]any{"title": "Early"}, as("alice"))
	early := decodeTask(t, data)
	// the cursor starts after events that existed before the first dispatch
	d.dispatchAll(ctx)

	doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks/"+early.ID+"/move", map[string]any{"column": "Ready"}, as("alice"))
	doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/activity", map[string]any{"text": "filtered out"}, as("alice"))
	d.dispatchAll(ctx)
	d.dispatchAll(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("expected exactly one delivery, got %+v", got)
	}
	if got[0].Type != "task.moved" || got[0].TaskID != early.ID || got[0].BoardID != "taskflow" {
		t.Fatalf("unexpected payload: %+v", got[0])
	}
	if headers[0].Get("X-Taskflow-Secret") != "s3cret" || headers[0].Get("X-Taskflow-Event") != "task.moved" {
		t.Fatalf("missing webhook headers: %v", headers[0])
	}
}
