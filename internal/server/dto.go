package server

import (
	"encoding/json"

	"samkit/internal/domain"
	"samkit/internal/engine"
)

type CreateProjectRequest struct {
	Name         string `json:"name" example:"Danny"`
	Info         string `json:"info,omitempty"`
	Root         string `json:"root" example:"P:/"`
	FromTemplate bool   `json:"from_template,omitempty"`
}

type CreateTagRequest struct {
	Genus string `json:"genus" enum:"asset,shot,batch"`
	Name  string `json:"name" example:"CH"`
	Info  string `json:"info,omitempty"`
}

type CreateStageRequest struct {
	Genus  string `json:"genus" enum:"asset,shot,batch"`
	Name   string `json:"name" example:"mdl"`
	Info   string `json:"info,omitempty"`
	Source string `json:"source" example:"{project}/{genus}/{tag}/{entity}/{entity}_{stage}.ma"`
	Data   string `json:"data" example:"{project}/UE/{genus}/{tag}/{entity}/"`
}

type CreateEntityRequest struct {
	TagID string `json:"tag_id"`
	Name  string `json:"name" example:"Danny"`
	Info  string `json:"info,omitempty"`
	Thumb string `json:"thumb,omitempty"`
}

type UpdateEntityRequest struct {
	Name  string `json:"name,omitempty"`
	Info  string `json:"info,omitempty"`
	Thumb string `json:"thumb,omitempty"`
}

type CreateTaskRequest struct {
	EntityID string `json:"entity_id"`
	StageID  string `json:"stage_id"`
}

type CheckinRequest struct {
	Comment string `json:"comment,omitempty"`
}

type SyncRequest struct {
	Version int `json:"version,omitempty" doc:"0 or absent means latest"`
}

type ReviewRequest struct {
	Approved bool `json:"approved"`
}

// CheckoutResponse reports the acquired task and where its source file
// lives under the project root.
type CheckoutResponse struct {
	Task       domain.Task `json:"task"`
	SourcePath string      `json:"source_path"`
}

type SyncResponse struct {
	Task       domain.Task `json:"task"`
	Version    int         `json:"version"`
	Latest     int         `json:"latest"`
	SourcePath string      `json:"source_path"`
	DataPath   string      `json:"data_path"`
}

type CheckinResponse struct {
	Task    domain.Task `json:"task"`
	Version int         `json:"version"`
}

// TaskDetailResponse is a task with its resolved paths and history.
type TaskDetailResponse struct {
	Task       domain.Task      `json:"task"`
	Versions   []domain.Version `json:"versions"`
	SourcePath string           `json:"source_path,omitempty"`
	DataPath   string           `json:"data_path,omitempty"`
}

type EventResponse struct {
	ID         int64           `json:"id"`
	TS         string          `json:"ts" format:"date-time"`
	Type       string          `json:"type"`
	ProjectID  string          `json:"project_id,omitempty"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	Payload    json.RawMessage `json:"payload"`
}

func eventResponse(e domain.Event) EventResponse {
	payload := json.RawMessage("{}")
	if e.Payload != "" && json.Valid([]byte(e.Payload)) {
		payload = json.RawMessage(e.Payload)
	}
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		ProjectID:  e.ProjectID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    payload,
	}
}

func mapEvents(events []domain.Event) []EventResponse {
	out := make([]EventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, eventResponse(e))
	}
	return out
}

func checkoutResponse(res engine.CheckoutResult) CheckoutResponse {
	return CheckoutResponse{Task: res.Task, SourcePath: res.SourcePath}
}

func syncResponse(res engine.SyncResult) SyncResponse {
	return SyncResponse{
		Task:       res.Task,
		Version:    res.Version,
		Latest:     res.Latest,
		SourcePath: res.SourcePath,
		DataPath:   res.DataPath,
	}
}
