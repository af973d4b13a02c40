// Package app wires the registry stack for a workspace: config, sqlite,
// migrations, engine and the local manifest. CLI and server share it.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"samkit/internal/config"
	"samkit/internal/db"
	"samkit/internal/domain"
	"samkit/internal/engine"
	"samkit/internal/migrate"
	"samkit/internal/repo"
	"samkit/internal/workspace"
)

// App bundles everything a command needs against one workspace.
type App struct {
	DB        *sql.DB
	Config    *config.Config
	Engine    engine.Engine
	Workspace *workspace.Workspace
}

// Open loads the workspace config (builtin template when no samkit.yml
// exists), opens and migrates the database, and seeds departments and
// roles on first use.
func Open(ctx context.Context, workspaceDir string) (*App, error) {
	cfg, err := config.Load(workspaceDir)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspaceDir})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	ws, err := workspace.Open(workspaceDir)
	if err != nil {
		conn.Close()
		return nil, err
	}
	eng := engine.New(conn, cfg)
	if err := eng.SeedReference(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("seed reference data: %w", err)
	}
	return &App{DB: conn, Config: cfg, Engine: eng, Workspace: ws}, nil
}

func (a *App) Close() error {
	return a.DB.Close()
}

// ResolveProject picks the active project: an explicit name or ID wins;
// otherwise a workspace with exactly one project uses it implicitly.
func (a *App) ResolveProject(ctx context.Context, override string) (domain.Project, error) {
	if override != "" {
		p, err := a.Engine.Repo.GetProjectByName(ctx, override)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return domain.Project{}, err
		}
		return a.Engine.Repo.GetProject(ctx, override)
	}
	projects, err := a.Engine.Repo.ListProjects(ctx)
	if err != nil {
		return domain.Project{}, err
	}
	switch len(projects) {
	case 0:
		return domain.Project{}, errors.New("no projects yet; run 'sk project create' first")
	case 1:
		return projects[0], nil
	default:
		return domain.Project{}, errors.New("multiple projects; pick one with --project")
	}
}
