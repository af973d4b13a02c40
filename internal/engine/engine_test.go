package engine_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"samkit/internal/config"
	"samkit/internal/db"
	"samkit/internal/domain"
	"samkit/internal/engine"
	"samkit/internal/migrate"
)

type testEnv struct {
	Engine  engine.Engine
	Ctx     context.Context
	Project domain.Project
	Tag     domain.Tag
	Entity  domain.Entity
	Stage   domain.Stage
	Task    domain.Task
}

// newTestEnv seeds a project from the builtin template with one asset
// entity (CH/Danny) and a task on the mdl stage.
func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	project, err := eng.CreateProject(ctx, engine.ProjectCreateOptions{
		Name: "demo", Root: "P:/", FromTemplate: true, ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	tag, err := eng.Repo.GetTagByName(ctx, project.ID, domain.GenusAsset, "CH")
	if err != nil {
		t.Fatalf("get tag: %v", err)
	}
	stage, err := eng.Repo.GetStageByName(ctx, project.ID, domain.GenusAsset, "mdl")
	if err != nil {
		t.Fatalf("get stage: %v", err)
	}
	ent, err := eng.CreateEntity(ctx, domain.Entity{TagID: tag.ID, Name: "Danny"}, "tester")
	if err != nil {
		t.Fatalf("create entity: %v", err)
	}
	task, err := eng.CreateTask(ctx, ent.ID, stage.ID, "tester")
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx, Project: project, Tag: tag, Entity: ent, Stage: stage, Task: task}
}

func TestCheckoutCheckinRoundTrip(t *testing.T) {
	env := newTestEnv(t)

	res, err := env.Engine.Checkout(env.Ctx, env.Task.ID, "sam")
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if res.Task.Status != domain.StatusAssigned || res.Task.Owner != "sam" {
		t.Fatalf("after checkout: status=%s owner=%s", res.Task.Status, res.Task.Owner)
	}
	if res.SourcePath != "P:/asset/CH/Danny/Danny_mdl.ma" {
		t.Fatalf("source path: %s", res.SourcePath)
	}

	version, err := env.Engine.Checkin(env.Ctx, env.Task.ID, "sam", "first pass")
	if err != nil {
		t.Fatalf("checkin: %v", err)
	}
	if version != 1 {
		t.Fatalf("version = %d, want 1", version)
	}
	task, err := env.Engine.Repo.GetTask(env.Ctx, env.Task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if task.Status != domain.StatusSubmitted || task.Owner != "" {
		t.Fatalf("after checkin: status=%s owner=%q", task.Status, task.Owner)
	}

	// submitted tasks can be checked out again; versions stay contiguous
	if _, err := env.Engine.Checkout(env.Ctx, env.Task.ID, "sam"); err != nil {
		t.Fatalf("re-checkout: %v", err)
	}
	version, err = env.Engine.Checkin(env.Ctx, env.Task.ID, "sam", "second pass")
	if err != nil {
		t.Fatalf("second checkin: %v", err)
	}
	if version != 2 {
		t.Fatalf("version = %d, want 2", version)
	}
	history, err := env.Engine.History(env.Ctx, env.Task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 || history[0].Version != 1 || history[1].Version != 2 {
		t.Fatalf("history: %+v", history)
	}
}

func TestCheckoutMutualExclusion(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.Checkout(env.Ctx, env.Task.ID, "sam"); err != nil {
		t.Fatalf("checkout: %v", err)
	}
	_, err := env.Engine.Checkout(env.Ctx, env.Task.ID, "max")
	if !errors.Is(err, domain.ErrAlreadyCheckedOut) {
		t.Fatalf("second checkout: %v", err)
	}
	// holder re-checkout is not a refresh either
	_, err = env.Engine.Checkout(env.Ctx, env.Task.ID, "sam")
	if !errors.Is(err, domain.ErrAlreadyCheckedOut) {
		t.Fatalf("holder re-checkout: %v", err)
	}
}

func TestCheckoutRace(t *testing.T) {
	env := newTestEnv(t)
	const workers = 8
	errs := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			_, err := env.Engine.Checkout(env.Ctx, env.Task.ID, user)
			errs <- err
		}(fmt.Sprintf("user-%d", i))
	}
	wg.Wait()
	close(errs)

	wins := 0
	for err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, domain.ErrAlreadyCheckedOut):
		default:
			t.Fatalf("unexpected checkout error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("exactly one checkout must win, got %d", wins)
	}
}

func TestCheckinRequiresOwnership(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.Checkin(env.Ctx, env.Task.ID, "sam", "no checkout"); !errors.Is(err, domain.ErrNotOwner) {
		t.Fatalf("checkin without checkout: %v", err)
	}
	if _, err := env.Engine.Checkout(env.Ctx, env.Task.ID, "sam"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Checkin(env.Ctx, env.Task.ID, "max", "not mine"); !errors.Is(err, domain.ErrNotOwner) {
		t.Fatalf("checkin by non-owner: %v", err)
	}
	if history, _ := env.Engine.History(env.Ctx, env.Task.ID); len(history) != 0 {
		t.Fatalf("failed checkins must not append versions: %+v", history)
	}
}

func TestReviewFlow(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.Review(env.Ctx, env.Task.ID, true, "lead"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("review before submission: %v", err)
	}
	if _, err := env.Engine.Checkout(env.Ctx, env.Task.ID, "sam"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Checkin(env.Ctx, env.Task.ID, "sam", "v1"); err != nil {
		t.Fatal(err)
	}
	task, err := env.Engine.Review(env.Ctx, env.Task.ID, false, "lead")
	if err != nil || task.Status != domain.StatusUnapproved {
		t.Fatalf("reject: %v status=%s", err, task.Status)
	}
	// unapproved is free again: rework and resubmit
	if _, err := env.Engine.Checkout(env.Ctx, env.Task.ID, "sam"); err != nil {
		t.Fatalf("rework checkout: %v", err)
	}
	if _, err := env.Engine.Checkin(env.Ctx, env.Task.ID, "sam", "v2"); err != nil {
		t.Fatal(err)
	}
	task, err = env.Engine.Review(env.Ctx, env.Task.ID, true, "lead")
	if err != nil || task.Status != domain.StatusApproved {
		t.Fatalf("approve: %v status=%s", err, task.Status)
	}
}

func TestAdministrativeStatuses(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.SetTaskStatus(env.Ctx, env.Task.ID, domain.StatusExpired, "admin")
	if err != nil || task.Status != domain.StatusExpired {
		t.Fatalf("expire: %v status=%s", err, task.Status)
	}
	// assigned and submitted are reserved for checkout/checkin
	if _, err := env.Engine.SetTaskStatus(env.Ctx, env.Task.ID, domain.StatusAssigned, "admin"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("direct assign: %v", err)
	}
	if _, err := env.Engine.SetTaskStatus(env.Ctx, env.Task.ID, domain.StatusSubmitted, "admin"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("direct submit: %v", err)
	}
	// a checked-out task cannot be expired or ignored
	if _, err := env.Engine.Checkout(env.Ctx, env.Task.ID, "sam"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SetTaskStatus(env.Ctx, env.Task.ID, domain.StatusIgnored, "admin"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("ignore while assigned: %v", err)
	}
}

func TestDuplicateTask(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateTask(env.Ctx, env.Entity.ID, env.Stage.ID, "tester")
	if !errors.Is(err, domain.ErrDuplicateTask) {
		t.Fatalf("duplicate task: %v", err)
	}
}

func TestGenusMismatch(t *testing.T) {
	env := newTestEnv(t)
	batchTag, err := env.Engine.Repo.GetTagByName(env.Ctx, env.Project.ID, domain.GenusBatch, "scene")
	if err != nil {
		t.Fatalf("get batch tag: %v", err)
	}
	scene, err := env.Engine.CreateEntity(env.Ctx, domain.Entity{TagID: batchTag.ID, Name: "sc010"}, "tester")
	if err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.CreateTask(env.Ctx, scene.ID, env.Stage.ID, "tester")
	if !errors.Is(err, domain.ErrGenusMismatch) {
		t.Fatalf("asset stage on shot entity: %v", err)
	}
}

func TestSyncVersions(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.Checkout(env.Ctx, env.Task.ID, "sam"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Checkin(env.Ctx, env.Task.ID, "sam", "v1"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Checkout(env.Ctx, env.Task.ID, "sam"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Checkin(env.Ctx, env.Task.ID, "sam", "v2"); err != nil {
		t.Fatal(err)
	}

	// latest is open to anyone
	res, err := env.Engine.Sync(env.Ctx, env.Task.ID, "max", 0)
	if err != nil {
		t.Fatalf("sync latest: %v", err)
	}
	if res.Version != 2 || res.Latest != 2 {
		t.Fatalf("sync latest: version=%d latest=%d", res.Version, res.Latest)
	}
	if res.SourcePath != "P:/asset/CH/Danny/Danny_mdl.ma" || res.DataPath != "P:/UE/asset/CH/Danny/" {
		t.Fatalf("paths: %s %s", res.SourcePath, res.DataPath)
	}

	// older versions only for the checkout holder
	if _, err := env.Engine.Sync(env.Ctx, env.Task.ID, "max", 1); !errors.Is(err, domain.ErrNotOwner) {
		t.Fatalf("non-owner old sync: %v", err)
	}
	if _, err := env.Engine.Checkout(env.Ctx, env.Task.ID, "sam"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Sync(env.Ctx, env.Task.ID, "sam", 1); err != nil {
		t.Fatalf("owner old sync: %v", err)
	}
	if _, err := env.Engine.Sync(env.Ctx, env.Task.ID, "sam", 9); err == nil {
		t.Fatal("sync beyond history should fail")
	}
}

func TestRevertKeepsEverything(t *testing.T) {
	env := newTestEnv(t)
	if err := env.Engine.Revert(env.Ctx, env.Task.ID, "sam"); !errors.Is(err, domain.ErrNotOwner) {
		t.Fatalf("revert without checkout: %v", err)
	}
	if _, err := env.Engine.Checkout(env.Ctx, env.Task.ID, "sam"); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.Revert(env.Ctx, env.Task.ID, "sam"); err != nil {
		t.Fatalf("revert: %v", err)
	}
	task, err := env.Engine.Repo.GetTask(env.Ctx, env.Task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if task.Status != domain.StatusAssigned || task.Owner != "sam" {
		t.Fatalf("revert must keep the checkout: status=%s owner=%s", task.Status, task.Owner)
	}
	if history, _ := env.Engine.History(env.Ctx, env.Task.ID); len(history) != 0 {
		t.Fatalf("revert must not append versions: %+v", history)
	}
}

func TestSeedReferenceIdempotent(t *testing.T) {
	env := newTestEnv(t)
	if err := env.Engine.SeedReference(env.Ctx); err != nil {
		t.Fatal(err)
	}
	deps, err := env.Engine.Repo.ListDepartments(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.SeedReference(env.Ctx); err != nil {
		t.Fatal(err)
	}
	again, err := env.Engine.Repo.ListDepartments(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(deps) == 0 || len(deps) != len(again) {
		t.Fatalf("seed not idempotent: %d then %d", len(deps), len(again))
	}
}
