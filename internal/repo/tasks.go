package repo

import (
	"context"
	"database/sql"
	"strings"

	"samkit/internal/domain"
)

const taskCols = `id,entity_id,stage_id,status,owner,created_at,updated_at`

func scanTask(row *sql.Row) (domain.Task, error) {
	var t domain.Task
	err := row.Scan(&t.ID, &t.EntityID, &t.StageID, &t.Status, &t.Owner, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

// InsertTaskTx creates a task, enforcing the one-task-per-(entity,stage)
// invariant through the unique index.
func (r Repo) InsertTaskTx(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(id,entity_id,stage_id,status,owner,created_at,updated_at) VALUES (?,?,?,?,?,?,?)`,
		t.ID, t.EntityID, t.StageID, t.Status, t.Owner, t.CreatedAt, t.UpdatedAt)
	if isUniqueViolation(err) {
		return domain.DuplicateTask(t.EntityID, t.StageID)
	}
	return err
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return scanTask(r.DB.QueryRowContext(ctx, `SELECT `+taskCols+` FROM tasks WHERE id=?`, id))
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	return scanTask(tx.QueryRowContext(ctx, `SELECT `+taskCols+` FROM tasks WHERE id=?`, id))
}

// TaskFilters narrow ListTasks; zero values are ignored, so the empty
// filter returns every task.
type TaskFilters struct {
	EntityID string
	StageID  string
	Owner    string
	Status   string
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	if f.StageID != "" {
		clauses = append(clauses, "stage_id=?")
		args = append(args, f.StageID)
	}
	if f.Owner != "" {
		clauses = append(clauses, "owner=?")
		args = append(args, f.Owner)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+taskCols+` FROM tasks `+where+` ORDER BY created_at,id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		var t domain.Task
		if err := rows.Scan(&t.ID, &t.EntityID, &t.StageID, &t.Status, &t.Owner, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// CheckoutTaskTx is the compare-and-set acquiring exclusive ownership:
// the UPDATE only matches while owner is empty, so of two racing
// checkouts exactly one sees an affected row. The loser gets the
// current owner back for the error message.
func (r Repo) CheckoutTaskTx(ctx context.Context, tx *sql.Tx, taskID, user, updatedAt string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE tasks SET owner=?, status=?, updated_at=? WHERE id=? AND owner='' AND status!=?`,
		user, domain.StatusAssigned, updatedAt, taskID, domain.StatusAssigned)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	t, err := r.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return err
	}
	return domain.AlreadyCheckedOut(t.Owner)
}

// ReleaseTaskTx clears ownership and moves the task to the given status.
// Only the recorded owner matches, so a stale client cannot release a
// checkout it no longer holds.
func (r Repo) ReleaseTaskTx(ctx context.Context, tx *sql.Tx, taskID, user, status, updatedAt string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE tasks SET owner='', status=?, updated_at=? WHERE id=? AND owner=?`,
		status, updatedAt, taskID, user)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NotOwner(user)
	}
	return nil
}

func (r Repo) SetTaskStatusTx(ctx context.Context, tx *sql.Tx, taskID, status, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET status=?, updated_at=? WHERE id=?`, status, updatedAt, taskID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendVersionTx allocates the next version number inside the caller's
// transaction. The (task_id, version) primary key turns a racing append
// into a unique violation, reported as a concurrency error the caller
// may retry once.
func (r Repo) AppendVersionTx(ctx context.Context, tx *sql.Tx, v domain.Version) (int, error) {
	var next int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version),0)+1 FROM task_versions WHERE task_id=?`, v.TaskID).Scan(&next); err != nil {
		return 0, err
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO task_versions(task_id,version,ts,user,comment) VALUES (?,?,?,?,?)`,
		v.TaskID, next, v.TS, v.User, nullable(v.Comment))
	if isUniqueViolation(err) {
		return 0, domain.ErrConcurrentModification
	}
	if err != nil {
		return 0, err
	}
	return next, nil
}

// ListVersions returns a task's history ascending by version number.
func (r Repo) ListVersions(ctx context.Context, taskID string) ([]domain.Version, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT task_id,version,ts,user,COALESCE(comment,'') FROM task_versions WHERE task_id=? ORDER BY version`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Version
	for rows.Next() {
		var v domain.Version
		if err := rows.Scan(&v.TaskID, &v.Version, &v.TS, &v.User, &v.Comment); err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}

// LatestVersion returns 0 when no version has been checked in yet.
func (r Repo) LatestVersion(ctx context.Context, taskID string) (int, error) {
	var latest int
	err := r.DB.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version),0) FROM task_versions WHERE task_id=?`, taskID).Scan(&latest)
	return latest, err
}

// TaskContext is the joined catalog tuple a task resolves paths against.
type TaskContext struct {
	Task    domain.Task
	Project domain.Project
	Tag     domain.Tag
	Entity  domain.Entity
	Stage   domain.Stage
}

// GetTaskContext loads the full resolution tuple for one task.
func (r Repo) GetTaskContext(ctx context.Context, taskID string) (TaskContext, error) {
	var tc TaskContext
	task, err := r.GetTask(ctx, taskID)
	if err != nil {
		return tc, err
	}
	tc.Task = task
	if tc.Entity, err = r.GetEntity(ctx, task.EntityID); err != nil {
		return tc, err
	}
	if tc.Stage, err = r.GetStage(ctx, task.StageID); err != nil {
		return tc, err
	}
	if tc.Tag, err = r.GetTag(ctx, tc.Entity.TagID); err != nil {
		return tc, err
	}
	if tc.Project, err = r.GetProject(ctx, tc.Stage.ProjectID); err != nil {
		return tc, err
	}
	return tc, nil
}
