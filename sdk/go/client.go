// Package samkitsdk is the Go client for the samkit registry API.
package samkitsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to a samkit server. Authentication is either a bearer
// token or an API key; the User field is only honored by servers that
// allow the unauthenticated X-User header.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	User        string
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

type Project struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Info      string `json:"info,omitempty"`
	Root      string `json:"root"`
	CreatedAt string `json:"created_at"`
}

type Ref struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Info string `json:"info,omitempty"`
}

type Tag struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Genus     string `json:"genus"`
	Name      string `json:"name"`
	Info      string `json:"info,omitempty"`
}

type Stage struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Genus     string `json:"genus"`
	Name      string `json:"name"`
	Info      string `json:"info,omitempty"`
	Source    string `json:"source"`
	Data      string `json:"data"`
}

type Entity struct {
	ID    string `json:"id"`
	TagID string `json:"tag_id"`
	Name  string `json:"name"`
	Info  string `json:"info,omitempty"`
	Thumb string `json:"thumb,omitempty"`
}

type Task struct {
	ID        string `json:"id"`
	EntityID  string `json:"entity_id"`
	StageID   string `json:"stage_id"`
	Status    string `json:"status"`
	Owner     string `json:"owner,omitempty"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type Version struct {
	TaskID  string `json:"task_id"`
	Version int    `json:"version"`
	TS      string `json:"ts"`
	User    string `json:"user"`
	Comment string `json:"comment,omitempty"`
}

type TaskDetail struct {
	Task       Task      `json:"task"`
	Versions   []Version `json:"versions"`
	SourcePath string    `json:"source_path,omitempty"`
	DataPath   string    `json:"data_path,omitempty"`
}

type CheckoutResult struct {
	Task       Task   `json:"task"`
	SourcePath string `json:"source_path"`
}

type CheckinResult struct {
	Task    Task `json:"task"`
	Version int  `json:"version"`
}

type SyncResult struct {
	Task       Task   `json:"task"`
	Version    int    `json:"version"`
	Latest     int    `json:"latest"`
	SourcePath string `json:"source_path"`
	DataPath   string `json:"data_path"`
}

type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps a non-2xx response. Code and Message come from the
// server's error envelope when it parses; Body always keeps the raw
// response for diagnostics.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// ListGenuses returns the genus enumeration.
func (c *Client) ListGenuses(ctx context.Context) ([]string, error) {
	var resp []string
	err := c.do(ctx, http.MethodGet, "genuses", nil, &resp)
	return resp, err
}

// ListStatuses returns the task status enumeration.
func (c *Client) ListStatuses(ctx context.Context) ([]string, error) {
	var resp []string
	err := c.do(ctx, http.MethodGet, "statuses", nil, &resp)
	return resp, err
}

func (c *Client) ListDepartments(ctx context.Context) ([]Ref, error) {
	var resp []Ref
	err := c.do(ctx, http.MethodGet, "departments", nil, &resp)
	return resp, err
}

func (c *Client) ListRoles(ctx context.Context) ([]Ref, error) {
	var resp []Ref
	err := c.do(ctx, http.MethodGet, "roles", nil, &resp)
	return resp, err
}

// CreateProject creates a project, optionally seeding the template catalog.
func (c *Client) CreateProject(ctx context.Context, name, info, root string, fromTemplate bool) (Project, error) {
	body := map[string]any{
		"name":          name,
		"info":          info,
		"root":          root,
		"from_template": fromTemplate,
	}
	var resp Project
	err := c.do(ctx, http.MethodPost, "projects", body, &resp)
	return resp, err
}

func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	var resp []Project
	err := c.do(ctx, http.MethodGet, "projects", nil, &resp)
	return resp, err
}

func (c *Client) GetProject(ctx context.Context, id string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodGet, "projects/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

func (c *Client) CreateTag(ctx context.Context, projectID, genus, name, info string) (Tag, error) {
	body := map[string]any{"genus": genus, "name": name, "info": info}
	var resp Tag
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("projects/%s/tags", url.PathEscape(projectID)), body, &resp)
	return resp, err
}

// ListTags lists a project's tags, optionally filtered by genus.
func (c *Client) ListTags(ctx context.Context, projectID, genus string) ([]Tag, error) {
	endpoint := fmt.Sprintf("projects/%s/tags", url.PathEscape(projectID))
	if genus != "" {
		endpoint += "?genus=" + url.QueryEscape(genus)
	}
	var resp []Tag
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) CreateStage(ctx context.Context, projectID string, stage Stage) (Stage, error) {
	body := map[string]any{
		"genus":  stage.Genus,
		"name":   stage.Name,
		"info":   stage.Info,
		"source": stage.Source,
		"data":   stage.Data,
	}
	var resp Stage
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("projects/%s/stages", url.PathEscape(projectID)), body, &resp)
	return resp, err
}

func (c *Client) ListStages(ctx context.Context, projectID, genus string) ([]Stage, error) {
	endpoint := fmt.Sprintf("projects/%s/stages", url.PathEscape(projectID))
	if genus != "" {
		endpoint += "?genus=" + url.QueryEscape(genus)
	}
	var resp []Stage
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) CreateEntity(ctx context.Context, tagID, name, info, thumb string) (Entity, error) {
	body := map[string]any{"tag_id": tagID, "name": name, "info": info, "thumb": thumb}
	var resp Entity
	err := c.do(ctx, http.MethodPost, "entities", body, &resp)
	return resp, err
}

func (c *Client) ListEntities(ctx context.Context, tagID, name string) ([]Entity, error) {
	params := url.Values{}
	if tagID != "" {
		params.Set("tag_id", tagID)
	}
	if name != "" {
		params.Set("name", name)
	}
	endpoint := "entities"
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp []Entity
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) UpdateEntity(ctx context.Context, id, name, info, thumb string) (Entity, error) {
	body := map[string]any{}
	if name != "" {
		body["name"] = name
	}
	if info != "" {
		body["info"] = info
	}
	if thumb != "" {
		body["thumb"] = thumb
	}
	var resp Entity
	err := c.do(ctx, http.MethodPatch, "entities/"+url.PathEscape(id), body, &resp)
	return resp, err
}

// CreateTask pairs an entity with a stage.
func (c *Client) CreateTask(ctx context.Context, entityID, stageID string) (Task, error) {
	body := map[string]any{"entity_id": entityID, "stage_id": stageID}
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks", body, &resp)
	return resp, err
}

// ListTasks filters by any combination of entity, stage, owner, status.
func (c *Client) ListTasks(ctx context.Context, entityID, stageID, owner, status string) ([]Task, error) {
	params := url.Values{}
	if entityID != "" {
		params.Set("entity_id", entityID)
	}
	if stageID != "" {
		params.Set("stage_id", stageID)
	}
	if owner != "" {
		params.Set("owner", owner)
	}
	if status != "" {
		params.Set("status", status)
	}
	endpoint := "tasks"
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp []Task
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// GetTask returns a task with its history and resolved paths.
func (c *Client) GetTask(ctx context.Context, id string) (TaskDetail, error) {
	var resp TaskDetail
	err := c.do(ctx, http.MethodGet, "tasks/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

func (c *Client) TaskHistory(ctx context.Context, id string) ([]Version, error) {
	var resp []Version
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("tasks/%s/history", url.PathEscape(id)), nil, &resp)
	return resp, err
}

// Checkout acquires the exclusive checkout of a task.
func (c *Client) Checkout(ctx context.Context, taskID string) (CheckoutResult, error) {
	var resp CheckoutResult
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("tasks/%s/checkout", url.PathEscape(taskID)), nil, &resp)
	return resp, err
}

// Checkin publishes the working copy as a new version and releases the
// checkout.
func (c *Client) Checkin(ctx context.Context, taskID, comment string) (CheckinResult, error) {
	var resp CheckinResult
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("tasks/%s/checkin", url.PathEscape(taskID)),
		map[string]any{"comment": comment}, &resp)
	return resp, err
}

// Sync resolves the repository paths for a version pull; version 0
// means latest.
func (c *Client) Sync(ctx context.Context, taskID string, version int) (SyncResult, error) {
	var resp SyncResult
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("tasks/%s/sync", url.PathEscape(taskID)),
		map[string]any{"version": version}, &resp)
	return resp, err
}

// Revert asks the registry to authorize discarding local edits.
func (c *Client) Revert(ctx context.Context, taskID string) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("tasks/%s/revert", url.PathEscape(taskID)), nil, nil)
}

func (c *Client) Review(ctx context.Context, taskID string, approved bool) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("tasks/%s/review", url.PathEscape(taskID)),
		map[string]any{"approved": approved}, &resp)
	return resp, err
}

func (c *Client) Expire(ctx context.Context, taskID string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("tasks/%s/expire", url.PathEscape(taskID)), nil, &resp)
	return resp, err
}

func (c *Client) Ignore(ctx context.Context, taskID string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("tasks/%s/ignore", url.PathEscape(taskID)), nil, &resp)
	return resp, err
}

// Events tails the change log, newest first.
func (c *Client) Events(ctx context.Context, limit int, projectID string) ([]Event, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", limit))
	}
	if projectID != "" {
		params.Set("project_id", projectID)
	}
	endpoint := "events"
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/v1/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	case c.User != "":
		req.Header.Set("X-User", c.User)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
