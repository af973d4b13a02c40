package events_test

import (
	"context"
	"testing"
	"time"

	"samkit/internal/db"
	"samkit/internal/events"
	"samkit/internal/migrate"
)

func TestTypeKind(t *testing.T) {
	cases := map[events.Type]string{
		events.ProjectCreated: "project",
		events.TagCreated:     "tag",
		events.StageCreated:   "stage",
		events.EntityUpdated:  "entity",
		events.TaskCheckout:   "task",
		events.TaskStatus:     "task",
	}
	for typ, want := range cases {
		if got := typ.Kind(); got != want {
			t.Errorf("%s: kind %q, want %q", typ, got, want)
		}
	}
}

func TestAppendDerivesKindAndStamps(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	w := events.Writer{Now: func() time.Time { return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC) }}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Append(ctx, tx, events.TaskCheckout, "p1", "t1", "sam", events.Payload{"owner": "sam"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	var ts, typ, kind, entityID, actorID, payload string
	row := conn.QueryRowContext(ctx, `SELECT ts,type,entity_kind,entity_id,actor_id,payload_json FROM events`)
	if err := row.Scan(&ts, &typ, &kind, &entityID, &actorID, &payload); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if typ != string(events.TaskCheckout) || kind != "task" {
		t.Fatalf("type %q kind %q", typ, kind)
	}
	if ts != "2024-01-01T12:00:00Z" {
		t.Fatalf("ts %q", ts)
	}
	if entityID != "t1" || actorID != "sam" {
		t.Fatalf("entity %q actor %q", entityID, actorID)
	}
	if payload != `{"owner":"sam"}` {
		t.Fatalf("payload %q", payload)
	}
}
