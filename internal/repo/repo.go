package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"samkit/internal/domain"
)

// Repo is the SQL persistence layer. It is the single source of truth
// for catalog and task state; checkout and version allocation go through
// the compare-and-set helpers below so concurrent clients resolve
// deterministically.
type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

// --- departments / roles ---

func (r Repo) InsertDepartment(ctx context.Context, d domain.Department) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO departments(id,name,info) VALUES (?,?,?)`,
		d.ID, d.Name, nullable(d.Info))
	return err
}

func (r Repo) ListDepartments(ctx context.Context) ([]domain.Department, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,COALESCE(info,'') FROM departments ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Department
	for rows.Next() {
		var d domain.Department
		if err := rows.Scan(&d.ID, &d.Name, &d.Info); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func (r Repo) InsertRole(ctx context.Context, role domain.Role) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO roles(id,name,info) VALUES (?,?,?)`,
		role.ID, role.Name, nullable(role.Info))
	return err
}

func (r Repo) ListRoles(ctx context.Context) ([]domain.Role, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,COALESCE(info,'') FROM roles ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Role
	for rows.Next() {
		var role domain.Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Info); err != nil {
			return nil, err
		}
		res = append(res, role)
	}
	return res, rows.Err()
}

// --- projects ---

func (r Repo) InsertProjectTx(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO projects(id,name,info,root,created_at) VALUES (?,?,?,?,?)`,
		p.ID, p.Name, nullable(p.Info), p.Root, p.CreatedAt)
	return err
}

const projectCols = `id,name,COALESCE(info,''),root,created_at`

func scanProject(row *sql.Row) (domain.Project, error) {
	var p domain.Project
	err := row.Scan(&p.ID, &p.Name, &p.Info, &p.Root, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return scanProject(r.DB.QueryRowContext(ctx, `SELECT `+projectCols+` FROM projects WHERE id=?`, id))
}

func (r Repo) GetProjectByName(ctx context.Context, name string) (domain.Project, error) {
	return scanProject(r.DB.QueryRowContext(ctx, `SELECT `+projectCols+` FROM projects WHERE name=?`, name))
}

func (r Repo) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+projectCols+` FROM projects ORDER BY created_at,name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Info, &p.Root, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// --- tags ---

const tagCols = `id,project_id,genus,name,COALESCE(info,'')`

func (r Repo) InsertTagTx(ctx context.Context, tx *sql.Tx, t domain.Tag) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tags(id,project_id,genus,name,info) VALUES (?,?,?,?,?)`,
		t.ID, t.ProjectID, t.Genus, t.Name, nullable(t.Info))
	return err
}

func (r Repo) GetTag(ctx context.Context, id string) (domain.Tag, error) {
	var t domain.Tag
	err := r.DB.QueryRowContext(ctx, `SELECT `+tagCols+` FROM tags WHERE id=?`, id).
		Scan(&t.ID, &t.ProjectID, &t.Genus, &t.Name, &t.Info)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

func (r Repo) GetTagByName(ctx context.Context, projectID, genus, name string) (domain.Tag, error) {
	var t domain.Tag
	err := r.DB.QueryRowContext(ctx, `SELECT `+tagCols+` FROM tags WHERE project_id=? AND genus=? AND name=?`,
		projectID, genus, name).Scan(&t.ID, &t.ProjectID, &t.Genus, &t.Name, &t.Info)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

func (r Repo) ListTags(ctx context.Context, projectID, genus string) ([]domain.Tag, error) {
	clauses := []string{"project_id=?"}
	args := []any{projectID}
	if genus != "" {
		clauses = append(clauses, "genus=?")
		args = append(args, genus)
	}
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+tagCols+` FROM tags WHERE `+strings.Join(clauses, " AND ")+` ORDER BY genus,name`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Tag
	for rows.Next() {
		var t domain.Tag
		if err := rows.Scan(&t.ID, &t.ProjectID, &t.Genus, &t.Name, &t.Info); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// --- stages ---

const stageCols = `id,project_id,genus,name,COALESCE(info,''),source,data`

func (r Repo) InsertStageTx(ctx context.Context, tx *sql.Tx, s domain.Stage) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO stages(id,project_id,genus,name,info,source,data) VALUES (?,?,?,?,?,?,?)`,
		s.ID, s.ProjectID, s.Genus, s.Name, nullable(s.Info), s.Source, s.Data)
	return err
}

func scanStage(row *sql.Row) (domain.Stage, error) {
	var s domain.Stage
	err := row.Scan(&s.ID, &s.ProjectID, &s.Genus, &s.Name, &s.Info, &s.Source, &s.Data)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

func (r Repo) GetStage(ctx context.Context, id string) (domain.Stage, error) {
	return scanStage(r.DB.QueryRowContext(ctx, `SELECT `+stageCols+` FROM stages WHERE id=?`, id))
}

func (r Repo) GetStageByName(ctx context.Context, projectID, genus, name string) (domain.Stage, error) {
	return scanStage(r.DB.QueryRowContext(ctx, `SELECT `+stageCols+` FROM stages WHERE project_id=? AND genus=? AND name=?`,
		projectID, genus, name))
}

func (r Repo) ListStages(ctx context.Context, projectID, genus string) ([]domain.Stage, error) {
	clauses := []string{"project_id=?"}
	args := []any{projectID}
	if genus != "" {
		clauses = append(clauses, "genus=?")
		args = append(args, genus)
	}
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+stageCols+` FROM stages WHERE `+strings.Join(clauses, " AND ")+` ORDER BY genus,name`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Stage
	for rows.Next() {
		var s domain.Stage
		if err := rows.Scan(&s.ID, &s.ProjectID, &s.Genus, &s.Name, &s.Info, &s.Source, &s.Data); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// --- entities ---

const entityCols = `id,tag_id,name,COALESCE(info,''),COALESCE(thumb,'')`

func (r Repo) InsertEntityTx(ctx context.Context, tx *sql.Tx, e domain.Entity) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO entities(id,tag_id,name,info,thumb) VALUES (?,?,?,?,?)`,
		e.ID, e.TagID, e.Name, nullable(e.Info), nullable(e.Thumb))
	return err
}

func (r Repo) UpdateEntityTx(ctx context.Context, tx *sql.Tx, e domain.Entity) error {
	res, err := tx.ExecContext(ctx, `UPDATE entities SET tag_id=?, name=?, info=?, thumb=? WHERE id=?`,
		e.TagID, e.Name, nullable(e.Info), nullable(e.Thumb), e.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetEntity(ctx context.Context, id string) (domain.Entity, error) {
	var e domain.Entity
	err := r.DB.QueryRowContext(ctx, `SELECT `+entityCols+` FROM entities WHERE id=?`, id).
		Scan(&e.ID, &e.TagID, &e.Name, &e.Info, &e.Thumb)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	return e, err
}

type EntityFilters struct {
	TagID string
	Name  string
}

func (r Repo) ListEntities(ctx context.Context, f EntityFilters) ([]domain.Entity, error) {
	var clauses []string
	var args []any
	if f.TagID != "" {
		clauses = append(clauses, "tag_id=?")
		args = append(args, f.TagID)
	}
	if f.Name != "" {
		clauses = append(clauses, "name=?")
		args = append(args, f.Name)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+entityCols+` FROM entities `+where+` ORDER BY name`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Entity
	for rows.Next() {
		var e domain.Entity
		if err := rows.Scan(&e.ID, &e.TagID, &e.Name, &e.Info, &e.Thumb); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// --- events ---

const eventCols = `id,ts,type,COALESCE(project_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json`

// LatestEvents returns the most recent events, newest first.
func (r Repo) LatestEvents(ctx context.Context, limit int, projectID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if projectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, projectID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+eventCols+` FROM events WHERE `+strings.Join(clauses, " AND ")+` ORDER BY id DESC LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.ProjectID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the highest event id, optionally scoped to a project.
func (r Repo) LatestEventID(ctx context.Context, projectID string) (int64, error) {
	query := `SELECT COALESCE(MAX(id),0) FROM events`
	var args []any
	if projectID != "" {
		query += ` WHERE project_id=?`
		args = append(args, projectID)
	}
	var id int64
	if err := r.DB.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, projectID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"1=1"}
	var args []any
	if projectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, projectID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, cursor)
	}
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+eventCols+` FROM events WHERE `+strings.Join(clauses, " AND ")+` ORDER BY id ASC LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.ProjectID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
