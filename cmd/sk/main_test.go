package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"samkit/internal/app"
	"samkit/internal/domain"
	"samkit/internal/engine"
	"samkit/internal/paths"
)

func TestPublishAndCheckinGuardsOwnership(t *testing.T) {
	ctx := context.Background()
	wsDir := t.TempDir()
	repoRoot := filepath.Join(t.TempDir(), "repo")

	a, err := app.Open(ctx, wsDir)
	if err != nil {
		t.Fatalf("open app: %v", err)
	}
	t.Cleanup(func() { a.Close() })

	project, err := a.Engine.CreateProject(ctx, engine.ProjectCreateOptions{
		Name: "demo", Root: repoRoot, FromTemplate: true, ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	tag, err := a.Engine.Repo.GetTagByName(ctx, project.ID, domain.GenusAsset, "CH")
	if err != nil {
		t.Fatal(err)
	}
	stage, err := a.Engine.Repo.GetStageByName(ctx, project.ID, domain.GenusAsset, "mdl")
	if err != nil {
		t.Fatal(err)
	}
	ent, err := a.Engine.CreateEntity(ctx, domain.Entity{TagID: tag.ID, Name: "Danny"}, "tester")
	if err != nil {
		t.Fatal(err)
	}
	task, err := a.Engine.CreateTask(ctx, ent.ID, stage.ID, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.Engine.Checkout(ctx, task.ID, "sam"); err != nil {
		t.Fatalf("checkout: %v", err)
	}

	pctx := paths.For(project, tag, ent, stage)
	local, err := a.Workspace.LocalPath(stage.Source, pctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(local, []byte("working copy"), 0o644); err != nil {
		t.Fatal(err)
	}
	source, err := paths.Resolve(stage.Source, pctx)
	if err != nil {
		t.Fatal(err)
	}

	// a non-owner with a local copy must not reach the shared source
	if _, err := publishAndCheckin(ctx, a, task.ID, "max", "not mine"); !errors.Is(err, domain.ErrNotOwner) {
		t.Fatalf("non-owner checkin: %v", err)
	}
	if _, err := os.Stat(source); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("non-owner checkin wrote the repository copy: %v", err)
	}

	version, err := publishAndCheckin(ctx, a, task.ID, "sam", "first pass")
	if err != nil {
		t.Fatalf("owner checkin: %v", err)
	}
	if version != 1 {
		t.Fatalf("version = %d, want 1", version)
	}
	data, err := os.ReadFile(source)
	if err != nil {
		t.Fatalf("published copy: %v", err)
	}
	if string(data) != "working copy" {
		t.Fatalf("published copy content: %q", data)
	}
}
