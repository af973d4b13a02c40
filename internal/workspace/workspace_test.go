package workspace_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"samkit/internal/domain"
	"samkit/internal/paths"
	"samkit/internal/workspace"
)

func newWorkspace(t *testing.T) *workspace.Workspace {
	t.Helper()
	ws, err := workspace.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open workspace: %v", err)
	}
	return ws
}

func TestManifestRoundTrip(t *testing.T) {
	ws := newWorkspace(t)
	ctx := context.Background()

	if _, found, err := ws.Lookup(ctx, "t1"); err != nil || found {
		t.Fatalf("empty lookup: found=%v err=%v", found, err)
	}
	local := filepath.Join(ws.Root, "asset", "CH", "Danny", "Danny_mdl.ma")
	if err := ws.Record(ctx, "t1", 3, local, "sam"); err != nil {
		t.Fatalf("record: %v", err)
	}
	entry, found, err := ws.Lookup(ctx, "t1")
	if err != nil || !found {
		t.Fatalf("lookup: found=%v err=%v", found, err)
	}
	if entry.Version != 3 || entry.Path != local || entry.User != "sam" {
		t.Fatalf("entry: %+v", entry)
	}
	if err := ws.Forget(ctx, "t1"); err != nil {
		t.Fatalf("forget: %v", err)
	}
	if _, found, _ := ws.Lookup(ctx, "t1"); found {
		t.Fatal("entry survived forget")
	}
}

func TestLocalPathUsesWorkspaceRoot(t *testing.T) {
	ws := newWorkspace(t)
	pctx := paths.Context{Project: "P:/", Genus: "asset", Tag: "CH", Entity: "Danny", Stage: "mdl"}
	got, err := ws.LocalPath("{project}/{genus}/{tag}/{entity}/{entity}_{stage}.ma", pctx)
	if err != nil {
		t.Fatalf("local path: %v", err)
	}
	want := filepath.Join(ws.Root, "asset", "CH", "Danny", "Danny_mdl.ma")
	if got != want {
		t.Fatalf("local path = %s, want %s", got, want)
	}
}

func TestLocalStateMatrix(t *testing.T) {
	ws := newWorkspace(t)
	ctx := context.Background()
	task := domain.Task{ID: "t1", Status: domain.StatusInitialized}

	state, err := ws.LocalState(ctx, task, 0, "sam")
	if err != nil || state != workspace.StateAbsent {
		t.Fatalf("no entry: %s %v", state, err)
	}

	// recorded but file missing is still absent
	ghost := filepath.Join(ws.Root, "gone.ma")
	if err := ws.Record(ctx, "t1", 1, ghost, "sam"); err != nil {
		t.Fatal(err)
	}
	if state, _ = ws.LocalState(ctx, task, 1, "sam"); state != workspace.StateAbsent {
		t.Fatalf("missing file: %s", state)
	}

	local := filepath.Join(ws.Root, "Danny_mdl.ma")
	if err := os.WriteFile(local, []byte("ma"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := ws.Record(ctx, "t1", 1, local, "sam"); err != nil {
		t.Fatal(err)
	}

	if state, _ = ws.LocalState(ctx, task, 1, "sam"); state != workspace.StateUpToDate {
		t.Fatalf("current copy: %s", state)
	}
	if state, _ = ws.LocalState(ctx, task, 2, "sam"); state != workspace.StateStale {
		t.Fatalf("behind latest: %s", state)
	}

	task.Owner, task.Status = "sam", domain.StatusAssigned
	if state, _ = ws.LocalState(ctx, task, 2, "sam"); state != workspace.StateOwnedHere {
		t.Fatalf("checked out here: %s", state)
	}
	// someone else's checkout does not own this copy
	if state, _ = ws.LocalState(ctx, task, 2, "max"); state != workspace.StateStale {
		t.Fatalf("other user: %s", state)
	}
}

func TestMaterializeAndDiscard(t *testing.T) {
	ws := newWorkspace(t)
	ctx := context.Background()

	src := filepath.Join(t.TempDir(), "Danny_mdl.ma")
	if err := os.WriteFile(src, []byte("scene data"), 0o644); err != nil {
		t.Fatal(err)
	}
	dst := filepath.Join(ws.Root, "asset", "CH", "Danny", "Danny_mdl.ma")
	if err := workspace.Materialize(ctx, src, dst); err != nil {
		t.Fatalf("materialize: %v", err)
	}
	data, err := os.ReadFile(dst)
	if err != nil || string(data) != "scene data" {
		t.Fatalf("copy content: %q %v", data, err)
	}

	// directory targets are created, not copied
	dir := filepath.Join(ws.Root, "UE", "asset", "CH", "Danny") + string(os.PathSeparator)
	if err := workspace.Materialize(ctx, "", dir); err != nil {
		t.Fatalf("materialize dir: %v", err)
	}
	if info, err := os.Stat(filepath.Join(ws.Root, "UE", "asset", "CH", "Danny")); err != nil || !info.IsDir() {
		t.Fatalf("dir target: %v", err)
	}

	if err := ws.Record(ctx, "t1", 1, dst, "sam"); err != nil {
		t.Fatal(err)
	}
	if err := ws.Discard(ctx, "t1"); err != nil {
		t.Fatalf("discard: %v", err)
	}
	if _, err := os.Stat(dst); !os.IsNotExist(err) {
		t.Fatalf("copy survived discard: %v", err)
	}
	if _, found, _ := ws.Lookup(ctx, "t1"); found {
		t.Fatal("entry survived discard")
	}
}

func TestMaterializeCancelled(t *testing.T) {
	ws := newWorkspace(t)
	src := filepath.Join(t.TempDir(), "big.ma")
	if err := os.WriteFile(src, make([]byte, 1<<20), 0o644); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	dst := filepath.Join(ws.Root, "big.ma")
	if err := workspace.Materialize(ctx, src, dst); err == nil {
		t.Fatal("expected cancellation error")
	}
	if _, err := os.Stat(dst); !os.IsNotExist(err) {
		t.Fatal("partial copy left behind")
	}
}
