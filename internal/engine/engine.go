package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"samkit/internal/config"
	"samkit/internal/domain"
	"samkit/internal/events"
	"samkit/internal/paths"
	"samkit/internal/repo"
)

// Engine owns every mutation of the task registry and the catalog. All
// state transitions run in a single transaction together with their
// event-log entry, so a failed operation leaves no partial mutation.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

// SeedReference inserts the departments and roles from config if the
// tables are still empty. Idempotent.
func (e Engine) SeedReference(ctx context.Context) error {
	if e.Config == nil {
		return errors.New("config not loaded")
	}
	existing, err := e.Repo.ListDepartments(ctx)
	if err != nil {
		return err
	}
	if len(existing) == 0 {
		for _, d := range e.Config.Departments {
			dep := domain.Department{ID: uuid.New().String(), Name: d.Name, Info: d.Info}
			if err := e.Repo.InsertDepartment(ctx, dep); err != nil {
				return fmt.Errorf("seed department %s: %w", d.Name, err)
			}
		}
	}
	roles, err := e.Repo.ListRoles(ctx)
	if err != nil {
		return err
	}
	if len(roles) == 0 {
		for _, r := range e.Config.Roles {
			role := domain.Role{ID: uuid.New().String(), Name: r.Name, Info: r.Info}
			if err := e.Repo.InsertRole(ctx, role); err != nil {
				return fmt.Errorf("seed role %s: %w", r.Name, err)
			}
		}
	}
	return nil
}

// ProjectCreateOptions are parameters for creating a project.
type ProjectCreateOptions struct {
	Name         string
	Info         string
	Root         string
	FromTemplate bool
	ActorID      string
}

// CreateProject inserts a project and, when FromTemplate is set, copies
// the template catalog's tags and stages into it.
func (e Engine) CreateProject(ctx context.Context, opts ProjectCreateOptions) (domain.Project, error) {
	if e.Config == nil {
		return domain.Project{}, errors.New("config not loaded")
	}
	if opts.Name == "" {
		return domain.Project{}, errors.New("name is required")
	}
	if opts.Root == "" {
		return domain.Project{}, errors.New("root is required")
	}
	p := domain.Project{
		ID:        uuid.New().String(),
		Name:      opts.Name,
		Info:      opts.Info,
		Root:      opts.Root,
		CreatedAt: e.stamp(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertProjectTx(ctx, tx, p); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	if opts.FromTemplate {
		for _, t := range e.Config.Tags {
			tag := domain.Tag{ID: uuid.New().String(), ProjectID: p.ID, Genus: t.Genus, Name: t.Name, Info: t.Info}
			if err := e.Repo.InsertTagTx(ctx, tx, tag); err != nil {
				return domain.Project{}, fmt.Errorf("seed tag %s: %w", t.Name, err)
			}
		}
		for _, s := range e.Config.Stages {
			stage := domain.Stage{
				ID: uuid.New().String(), ProjectID: p.ID,
				Genus: s.Genus, Name: s.Name, Info: s.Info,
				Source: s.Source, Data: s.Data,
			}
			if err := e.Repo.InsertStageTx(ctx, tx, stage); err != nil {
				return domain.Project{}, fmt.Errorf("seed stage %s: %w", s.Name, err)
			}
		}
	}
	if err := e.Events.Append(ctx, tx, events.ProjectCreated, p.ID, p.ID, opts.ActorID, events.Payload{"name": p.Name, "root": p.Root}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// CreateTag adds a classification axis to a project genus.
func (e Engine) CreateTag(ctx context.Context, t domain.Tag, actorID string) (domain.Tag, error) {
	if !domain.ValidGenus(t.Genus) {
		return t, domain.ConfigError("unknown genus %s", t.Genus)
	}
	if t.Name == "" {
		return t, errors.New("name is required")
	}
	if _, err := e.Repo.GetProject(ctx, t.ProjectID); err != nil {
		return t, err
	}
	t.ID = uuid.New().String()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertTagTx(ctx, tx, t); err != nil {
		return t, err
	}
	if err := e.Events.Append(ctx, tx, events.TagCreated, t.ProjectID, t.ID, actorID, events.Payload{"genus": t.Genus, "name": t.Name}); err != nil {
		return t, err
	}
	return t, tx.Commit()
}

// CreateStage adds a pipeline step. Both templates are validated here
// so a bad placeholder is rejected at write time, not at resolve time.
func (e Engine) CreateStage(ctx context.Context, s domain.Stage, actorID string) (domain.Stage, error) {
	if !domain.ValidGenus(s.Genus) {
		return s, domain.ConfigError("unknown genus %s", s.Genus)
	}
	if s.Name == "" {
		return s, errors.New("name is required")
	}
	if err := paths.Validate(s.Source); err != nil {
		return s, fmt.Errorf("source template: %w", err)
	}
	if err := paths.Validate(s.Data); err != nil {
		return s, fmt.Errorf("data template: %w", err)
	}
	if _, err := e.Repo.GetProject(ctx, s.ProjectID); err != nil {
		return s, err
	}
	s.ID = uuid.New().String()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return s, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertStageTx(ctx, tx, s); err != nil {
		return s, err
	}
	if err := e.Events.Append(ctx, tx, events.StageCreated, s.ProjectID, s.ID, actorID, events.Payload{"genus": s.Genus, "name": s.Name}); err != nil {
		return s, err
	}
	return s, tx.Commit()
}

// CreateEntity adds a concrete work item under a tag.
func (e Engine) CreateEntity(ctx context.Context, ent domain.Entity, actorID string) (domain.Entity, error) {
	if ent.Name == "" {
		return ent, errors.New("name is required")
	}
	tag, err := e.Repo.GetTag(ctx, ent.TagID)
	if err != nil {
		return ent, err
	}
	ent.ID = uuid.New().String()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ent, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertEntityTx(ctx, tx, ent); err != nil {
		return ent, err
	}
	if err := e.Events.Append(ctx, tx, events.EntityCreated, tag.ProjectID, ent.ID, actorID, events.Payload{"tag": tag.Name, "name": ent.Name}); err != nil {
		return ent, err
	}
	return ent, tx.Commit()
}

// UpdateEntity renames or re-describes an entity in place.
func (e Engine) UpdateEntity(ctx context.Context, ent domain.Entity, actorID string) (domain.Entity, error) {
	if ent.ID == "" {
		return ent, errors.New("id is required")
	}
	tag, err := e.Repo.GetTag(ctx, ent.TagID)
	if err != nil {
		return ent, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ent, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateEntityTx(ctx, tx, ent); err != nil {
		return ent, err
	}
	if err := e.Events.Append(ctx, tx, events.EntityUpdated, tag.ProjectID, ent.ID, actorID, events.Payload{"name": ent.Name}); err != nil {
		return ent, err
	}
	return ent, tx.Commit()
}

// CreateTask pairs an entity with a stage. The stage genus must match
// the genus of the tag owning the entity; at most one task may exist
// per (entity, stage).
func (e Engine) CreateTask(ctx context.Context, entityID, stageID, actorID string) (domain.Task, error) {
	ent, err := e.Repo.GetEntity(ctx, entityID)
	if err != nil {
		return domain.Task{}, err
	}
	stage, err := e.Repo.GetStage(ctx, stageID)
	if err != nil {
		return domain.Task{}, err
	}
	tag, err := e.Repo.GetTag(ctx, ent.TagID)
	if err != nil {
		return domain.Task{}, err
	}
	if stage.Genus != tag.Genus {
		return domain.Task{}, domain.GenusMismatch(stage.Genus, tag.Genus)
	}
	if stage.ProjectID != tag.ProjectID {
		return domain.Task{}, domain.ConfigError("stage and entity belong to different projects")
	}
	now := e.stamp()
	t := domain.Task{
		ID:        uuid.New().String(),
		EntityID:  entityID,
		StageID:   stageID,
		Status:    domain.StatusInitialized,
		CreatedAt: now,
		UpdatedAt: now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertTaskTx(ctx, tx, t); err != nil {
		return t, err
	}
	if err := e.Events.Append(ctx, tx, events.TaskCreated, stage.ProjectID, t.ID, actorID, events.Payload{
		"entity": ent.Name, "stage": stage.Name,
	}); err != nil {
		return t, err
	}
	return t, tx.Commit()
}

// ensureTransition is the status state machine. Checkout and checkin
// have dedicated entry points; this guards review and administrative
// moves plus the generic SetTaskStatus surface.
func ensureTransition(from, to string) error {
	if !domain.ValidStatus(to) {
		return domain.ConfigError("unknown status %s", to)
	}
	switch to {
	case domain.StatusAssigned:
		// only via checkout, from any free state
		if from != domain.StatusAssigned {
			return nil
		}
	case domain.StatusSubmitted:
		// only via checkin
		if from == domain.StatusAssigned {
			return nil
		}
	case domain.StatusApproved, domain.StatusUnapproved:
		if from == domain.StatusSubmitted {
			return nil
		}
	case domain.StatusExpired, domain.StatusIgnored:
		// administrative, one-way for the cycle; never while checked out
		if from != domain.StatusAssigned {
			return nil
		}
	}
	return domain.InvalidTransition(from, to)
}

// Checkout acquires exclusive write ownership of a task. Exactly one of
// two racing checkouts succeeds; the loser is told who owns it. The
// returned result carries the resolved source path so the caller can
// materialize the working copy.
func (e Engine) Checkout(ctx context.Context, taskID, user string) (CheckoutResult, error) {
	if user == "" {
		return CheckoutResult{}, errors.New("user is required")
	}
	tc, err := e.Repo.GetTaskContext(ctx, taskID)
	if err != nil {
		return CheckoutResult{}, err
	}
	if tc.Task.Status == domain.StatusAssigned || tc.Task.Owner != "" {
		return CheckoutResult{}, domain.AlreadyCheckedOut(tc.Task.Owner)
	}
	if err := ensureTransition(tc.Task.Status, domain.StatusAssigned); err != nil {
		return CheckoutResult{}, err
	}
	source, err := paths.Resolve(tc.Stage.Source, paths.For(tc.Project, tc.Tag, tc.Entity, tc.Stage))
	if err != nil {
		return CheckoutResult{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return CheckoutResult{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.CheckoutTaskTx(ctx, tx, taskID, user, e.stamp()); err != nil {
		return CheckoutResult{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TaskCheckout, tc.Project.ID, taskID, user, events.Payload{"owner": user}); err != nil {
		return CheckoutResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return CheckoutResult{}, err
	}
	tc.Task.Owner = user
	tc.Task.Status = domain.StatusAssigned
	return CheckoutResult{Task: tc.Task, SourcePath: source}, nil
}

// CheckoutResult reports the new task state and where the working copy
// belongs on disk.
type CheckoutResult struct {
	Task       domain.Task
	SourcePath string
}

// Checkin appends a version, clears ownership and moves the task to
// submitted, all in one transaction. A failed checkin leaves status,
// owner and history untouched.
func (e Engine) Checkin(ctx context.Context, taskID, user, comment string) (int, error) {
	if user == "" {
		return 0, errors.New("user is required")
	}
	tc, err := e.Repo.GetTaskContext(ctx, taskID)
	if err != nil {
		return 0, err
	}
	if tc.Task.Owner != user || tc.Task.Status != domain.StatusAssigned {
		return 0, domain.NotOwner(user)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	version, err := e.Repo.AppendVersionTx(ctx, tx, domain.Version{
		TaskID:  taskID,
		TS:      e.stamp(),
		User:    user,
		Comment: comment,
	})
	if err != nil {
		return 0, err
	}
	if err := e.Repo.ReleaseTaskTx(ctx, tx, taskID, user, domain.StatusSubmitted, e.stamp()); err != nil {
		return 0, err
	}
	if err := e.Events.Append(ctx, tx, events.TaskCheckin, tc.Project.ID, taskID, user, events.Payload{
		"version": version, "comment": comment,
	}); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return version, nil
}

// SyncResult carries everything a caller needs to pull a version into
// its local workspace.
type SyncResult struct {
	Task       domain.Task
	Version    int
	Latest     int
	SourcePath string
	DataPath   string
}

// Sync resolves the repository paths for a version pull. Syncing the
// latest published snapshot is always permitted; pulling any other
// version requires holding the checkout, because it would overwrite
// local checked-out state. version<=0 means latest.
func (e Engine) Sync(ctx context.Context, taskID, user string, version int) (SyncResult, error) {
	tc, err := e.Repo.GetTaskContext(ctx, taskID)
	if err != nil {
		return SyncResult{}, err
	}
	latest, err := e.Repo.LatestVersion(ctx, taskID)
	if err != nil {
		return SyncResult{}, err
	}
	if version <= 0 {
		version = latest
	}
	if version != latest && tc.Task.Owner != user {
		return SyncResult{}, domain.NotOwner(user)
	}
	if version > latest {
		return SyncResult{}, fmt.Errorf("version %d not in history (latest %d)", version, latest)
	}
	rctx := paths.For(tc.Project, tc.Tag, tc.Entity, tc.Stage)
	source, err := paths.Resolve(tc.Stage.Source, rctx)
	if err != nil {
		return SyncResult{}, err
	}
	data, err := paths.Resolve(tc.Stage.Data, rctx)
	if err != nil {
		return SyncResult{}, err
	}
	return SyncResult{Task: tc.Task, Version: version, Latest: latest, SourcePath: source, DataPath: data}, nil
}

// Revert verifies ownership so the caller may discard its local
// uncommitted changes. It never appends a version and never changes
// status or owner; the filesystem work belongs to the caller.
func (e Engine) Revert(ctx context.Context, taskID, user string) error {
	tc, err := e.Repo.GetTaskContext(ctx, taskID)
	if err != nil {
		return err
	}
	if tc.Task.Owner != user || tc.Task.Status != domain.StatusAssigned {
		return domain.NotOwner(user)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, events.TaskRevert, tc.Project.ID, taskID, user, events.Payload{}); err != nil {
		return err
	}
	return tx.Commit()
}

// Review records the reviewer's decision on a submitted task. The
// decision itself comes from outside; this only moves the status.
func (e Engine) Review(ctx context.Context, taskID string, approved bool, actorID string) (domain.Task, error) {
	target := domain.StatusUnapproved
	if approved {
		target = domain.StatusApproved
	}
	return e.SetTaskStatus(ctx, taskID, target, actorID)
}

// SetTaskStatus applies a validated status transition. Checkout and
// checkin must go through their dedicated entry points; this rejects
// transitions into assigned or submitted.
func (e Engine) SetTaskStatus(ctx context.Context, taskID, status, actorID string) (domain.Task, error) {
	tc, err := e.Repo.GetTaskContext(ctx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if status == domain.StatusAssigned || status == domain.StatusSubmitted {
		return tc.Task, domain.InvalidTransition(tc.Task.Status, status)
	}
	if err := ensureTransition(tc.Task.Status, status); err != nil {
		return tc.Task, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return tc.Task, err
	}
	defer tx.Rollback()
	if err := e.Repo.SetTaskStatusTx(ctx, tx, taskID, status, e.stamp()); err != nil {
		return tc.Task, err
	}
	if err := e.Events.Append(ctx, tx, events.TaskStatus, tc.Project.ID, taskID, actorID, events.Payload{
		"from": tc.Task.Status, "to": status,
	}); err != nil {
		return tc.Task, err
	}
	if err := tx.Commit(); err != nil {
		return tc.Task, err
	}
	tc.Task.Status = status
	return tc.Task, nil
}

// ResolvedPaths returns the repository source and data locations for a
// task without touching the filesystem.
func (e Engine) ResolvedPaths(ctx context.Context, taskID string) (source, data string, err error) {
	tc, err := e.Repo.GetTaskContext(ctx, taskID)
	if err != nil {
		return "", "", err
	}
	rctx := paths.For(tc.Project, tc.Tag, tc.Entity, tc.Stage)
	if source, err = paths.Resolve(tc.Stage.Source, rctx); err != nil {
		return "", "", err
	}
	if data, err = paths.Resolve(tc.Stage.Data, rctx); err != nil {
		return "", "", err
	}
	return source, data, nil
}

// History returns a task's version history ascending.
func (e Engine) History(ctx context.Context, taskID string) ([]domain.Version, error) {
	if _, err := e.Repo.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	return e.Repo.ListVersions(ctx, taskID)
}
