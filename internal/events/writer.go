// Package events is the registry's change diary: every engine mutation
// appends one entry in the same transaction as the rows it describes,
// so the log can never disagree with the registry.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Type names one kind of registry change, dotted <record>.<verb>.
// Types are stored verbatim and matched verbatim by webhook filters, so
// renaming one is a breaking change.
type Type string

const (
	ProjectCreated Type = "project.created"
	TagCreated     Type = "tag.created"
	StageCreated   Type = "stage.created"
	EntityCreated  Type = "entity.created"
	EntityUpdated  Type = "entity.updated"
	TaskCreated    Type = "task.created"
	TaskCheckout   Type = "task.checkout"
	TaskCheckin    Type = "task.checkin"
	TaskRevert     Type = "task.revert"
	TaskStatus     Type = "task.status"
)

// Kind returns the record kind a type concerns: "task.checkout" files
// under "task".
func (t Type) Kind() string {
	s := string(t)
	if i := strings.IndexByte(s, '.'); i > 0 {
		return s[:i]
	}
	return s
}

// Payload is the free-form detail stored as JSON next to the fixed columns.
type Payload map[string]any

// Writer appends diary entries inside the caller's transaction.
type Writer struct {
	Now func() time.Time
}

// Append records one change. The entity kind is derived from the type,
// so a checkout on task X always files under ("task", X).
func (w Writer) Append(ctx context.Context, tx *sql.Tx, typ Type, projectID, entityID, actorID string, payload Payload) error {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO events(ts,type,project_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		now().UTC().Format(time.RFC3339), string(typ), nullable(projectID), typ.Kind(), nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
