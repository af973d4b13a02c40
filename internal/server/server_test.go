package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"testing"

	"samkit/internal/config"
	"samkit/internal/db"
	"samkit/internal/domain"
	"samkit/internal/engine"
	"samkit/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v1",
		Auth:     AuthConfig{AllowUserHeader: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(ts.close)
	return ts
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, user string) (*http.Response, []byte) {
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
	if user != "" {
		req.Header.Set("X-User", user)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer res.Body.Close()
	var buf bytes.Buffer
	buf.ReadFrom(res.Body)
	return res, buf.Bytes()
}

// errorEnvelope ignores the schema link huma adds next to the error body.
type errorEnvelope struct {
	Error apiErrorBody `json:"error"`
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return v
}

func TestHealthNoAuth(t *testing.T) {
	ts := newTestServer(t)
	res, _ := doJSON(t, ts.client, http.MethodGet, ts.URL+"/v1/health", nil, "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health: %d", res.StatusCode)
	}
}

func TestUnauthenticated(t *testing.T) {
	ts := newTestServer(t)
	res, body := doJSON(t, ts.client, http.MethodGet, ts.URL+"/v1/projects", nil, "")
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, body)
	}
	envelope := decode[errorEnvelope](t, body)
	if envelope.Error.Code != "unauthorized" {
		t.Fatalf("error envelope: %s", body)
	}
}

func TestProductionRoundTrip(t *testing.T) {
	ts := newTestServer(t)

	res, body := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v1/projects",
		CreateProjectRequest{Name: "demo", Root: "P:/", FromTemplate: true}, "sam")
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create project: %d %s", res.StatusCode, body)
	}
	project := decode[domain.Project](t, body)

	res, body = doJSON(t, ts.client, http.MethodGet,
		fmt.Sprintf("%s/v1/projects/%s/tags?genus=asset", ts.URL, project.ID), nil, "sam")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list tags: %d %s", res.StatusCode, body)
	}
	var chTag domain.Tag
	for _, tag := range decode[[]domain.Tag](t, body) {
		if tag.Name == "CH" {
			chTag = tag
		}
	}
	if chTag.ID == "" {
		t.Fatalf("CH tag not seeded: %s", body)
	}

	res, body = doJSON(t, ts.client, http.MethodGet,
		fmt.Sprintf("%s/v1/projects/%s/stages?genus=asset", ts.URL, project.ID), nil, "sam")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list stages: %d %s", res.StatusCode, body)
	}
	var mdl domain.Stage
	for _, stage := range decode[[]domain.Stage](t, body) {
		if stage.Name == "mdl" {
			mdl = stage
		}
	}
	if mdl.ID == "" {
		t.Fatalf("mdl stage not seeded: %s", body)
	}

	res, body = doJSON(t, ts.client, http.MethodPost, ts.URL+"/v1/entities",
		CreateEntityRequest{TagID: chTag.ID, Name: "Danny"}, "sam")
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create entity: %d %s", res.StatusCode, body)
	}
	danny := decode[domain.Entity](t, body)

	res, body = doJSON(t, ts.client, http.MethodPost, ts.URL+"/v1/tasks",
		CreateTaskRequest{EntityID: danny.ID, StageID: mdl.ID}, "sam")
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task: %d %s", res.StatusCode, body)
	}
	task := decode[domain.Task](t, body)
	if task.Status != domain.StatusInitialized {
		t.Fatalf("new task status: %s", task.Status)
	}

	res, body = doJSON(t, ts.client, http.MethodPost,
		fmt.Sprintf("%s/v1/tasks/%s/checkout", ts.URL, task.ID), nil, "sam")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("checkout: %d %s", res.StatusCode, body)
	}
	checkout := decode[CheckoutResponse](t, body)
	if checkout.SourcePath != "P:/asset/CH/Danny/Danny_mdl.ma" {
		t.Fatalf("source path: %s", checkout.SourcePath)
	}

	// losing contender gets a conflict naming the owner
	res, body = doJSON(t, ts.client, http.MethodPost,
		fmt.Sprintf("%s/v1/tasks/%s/checkout", ts.URL, task.ID), nil, "max")
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("second checkout: %d %s", res.StatusCode, body)
	}
	envelope := decode[errorEnvelope](t, body)
	if envelope.Error.Code != "already_checked_out" {
		t.Fatalf("conflict code: %s", body)
	}

	res, body = doJSON(t, ts.client, http.MethodPost,
		fmt.Sprintf("%s/v1/tasks/%s/checkin", ts.URL, task.ID), CheckinRequest{Comment: "first pass"}, "sam")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("checkin: %d %s", res.StatusCode, body)
	}
	checkin := decode[CheckinResponse](t, body)
	if checkin.Version != 1 || checkin.Task.Status != domain.StatusSubmitted {
		t.Fatalf("checkin result: %+v", checkin)
	}

	res, body = doJSON(t, ts.client, http.MethodPost,
		fmt.Sprintf("%s/v1/tasks/%s/sync", ts.URL, task.ID), SyncRequest{}, "max")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("sync: %d %s", res.StatusCode, body)
	}
	sync := decode[SyncResponse](t, body)
	if sync.Version != 1 || sync.DataPath != "P:/UE/asset/CH/Danny/" {
		t.Fatalf("sync result: %+v", sync)
	}

	res, body = doJSON(t, ts.client, http.MethodPost,
		fmt.Sprintf("%s/v1/tasks/%s/review", ts.URL, task.ID), ReviewRequest{Approved: true}, "lead")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("review: %d %s", res.StatusCode, body)
	}
	if reviewed := decode[domain.Task](t, body); reviewed.Status != domain.StatusApproved {
		t.Fatalf("review status: %s", reviewed.Status)
	}

	res, body = doJSON(t, ts.client, http.MethodGet,
		fmt.Sprintf("%s/v1/tasks/%s/history", ts.URL, task.ID), nil, "sam")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("history: %d %s", res.StatusCode, body)
	}
	if history := decode[[]domain.Version](t, body); len(history) != 1 || history[0].User != "sam" {
		t.Fatalf("history: %s", body)
	}

	res, body = doJSON(t, ts.client, http.MethodGet, ts.URL+"/v1/events?limit=50", nil, "sam")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events: %d %s", res.StatusCode, body)
	}
	events := decode[[]EventResponse](t, body)
	if len(events) == 0 || events[0].Type != "task.status" {
		t.Fatalf("events tail: %s", body)
	}
}

func TestGetTaskDetail(t *testing.T) {
	ts := newTestServer(t)

	_, body := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v1/projects",
		CreateProjectRequest{Name: "demo", Root: "P:/", FromTemplate: true}, "sam")
	project := decode[domain.Project](t, body)
	_, body = doJSON(t, ts.client, http.MethodGet,
		fmt.Sprintf("%s/v1/projects/%s/tags?genus=asset", ts.URL, project.ID), nil, "sam")
	tags := decode[[]domain.Tag](t, body)
	_, body = doJSON(t, ts.client, http.MethodPost, ts.URL+"/v1/entities",
		CreateEntityRequest{TagID: tags[0].ID, Name: "Prop01"}, "sam")
	entity := decode[domain.Entity](t, body)
	_, body = doJSON(t, ts.client, http.MethodGet,
		fmt.Sprintf("%s/v1/projects/%s/stages?genus=asset", ts.URL, project.ID), nil, "sam")
	stages := decode[[]domain.Stage](t, body)
	_, body = doJSON(t, ts.client, http.MethodPost, ts.URL+"/v1/tasks",
		CreateTaskRequest{EntityID: entity.ID, StageID: stages[0].ID}, "sam")
	task := decode[domain.Task](t, body)

	res, body := doJSON(t, ts.client, http.MethodGet,
		fmt.Sprintf("%s/v1/tasks/%s", ts.URL, task.ID), nil, "sam")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get task: %d %s", res.StatusCode, body)
	}
	detail := decode[TaskDetailResponse](t, body)
	if detail.Task.ID != task.ID || detail.SourcePath == "" || detail.DataPath == "" {
		t.Fatalf("detail: %+v", detail)
	}

	res, body = doJSON(t, ts.client, http.MethodGet, ts.URL+"/v1/tasks/nope", nil, "sam")
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("missing task: %d %s", res.StatusCode, body)
	}
}
