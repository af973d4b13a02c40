// Package workspace tracks which task versions are materialized in a
// local working directory. The registry stays authoritative; the
// manifest here is advisory state for one machine, guarded by a file
// lock so concurrent sk invocations in the same workspace serialize.
package workspace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"samkit/internal/db"
	"samkit/internal/domain"
	"samkit/internal/paths"
)

const (
	manifestName = "workspace.json"
	lockName     = "workspace.lock"

	lockRetry = 100 * time.Millisecond
)

// Entry records one materialized task copy.
type Entry struct {
	Version int    `json:"version"`
	Path    string `json:"path"`
	User    string `json:"user"`
}

// Manifest maps task IDs to their local copies.
type Manifest struct {
	Entries map[string]Entry `json:"entries"`
}

// State classifies a local copy against the registry.
type State string

const (
	StateAbsent    State = "absent"
	StateStale     State = "stale"
	StateUpToDate  State = "up_to_date"
	StateOwnedHere State = "owned_here"
)

// Workspace is a working directory with a .samkit manifest.
type Workspace struct {
	Root string
	lock *flock.Flock
}

// Open prepares the .samkit directory under root and binds the lock
// file. No lock is taken until a manifest operation runs.
func Open(root string) (*Workspace, error) {
	meta, err := db.EnsureWorkspace(root)
	if err != nil {
		return nil, err
	}
	return &Workspace{
		Root: root,
		lock: flock.New(filepath.Join(meta, lockName)),
	}, nil
}

func (w *Workspace) manifestPath() string {
	return filepath.Join(w.Root, ".samkit", manifestName)
}

func (w *Workspace) load() (*Manifest, error) {
	m := &Manifest{Entries: map[string]Entry{}}
	data, err := os.ReadFile(w.manifestPath())
	if errors.Is(err, os.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", w.manifestPath(), err)
	}
	if m.Entries == nil {
		m.Entries = map[string]Entry{}
	}
	return m, nil
}

func (w *Workspace) save(m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	tmp := w.manifestPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, w.manifestPath())
}

// withLock holds the workspace lock for the duration of fn and
// persists any manifest mutation fn makes.
func (w *Workspace) withLock(ctx context.Context, fn func(m *Manifest) error) error {
	ok, err := w.lock.TryLockContext(ctx, lockRetry)
	if err != nil {
		return fmt.Errorf("acquire workspace lock: %w", err)
	}
	if !ok {
		return errors.New("workspace locked by another process")
	}
	defer w.lock.Unlock()

	m, err := w.load()
	if err != nil {
		return err
	}
	if err := fn(m); err != nil {
		return err
	}
	return w.save(m)
}

// Record notes that version of taskID now lives at path.
func (w *Workspace) Record(ctx context.Context, taskID string, version int, path, user string) error {
	return w.withLock(ctx, func(m *Manifest) error {
		m.Entries[taskID] = Entry{Version: version, Path: path, User: user}
		return nil
	})
}

// Forget drops the manifest entry for taskID. Missing entries are fine.
func (w *Workspace) Forget(ctx context.Context, taskID string) error {
	return w.withLock(ctx, func(m *Manifest) error {
		delete(m.Entries, taskID)
		return nil
	})
}

// Lookup returns the manifest entry for taskID, if any.
func (w *Workspace) Lookup(ctx context.Context, taskID string) (Entry, bool, error) {
	var (
		entry Entry
		found bool
	)
	err := w.withLock(ctx, func(m *Manifest) error {
		entry, found = m.Entries[taskID]
		return nil
	})
	return entry, found, err
}

// LocalPath resolves a stage template against the workspace root
// instead of the project root, yielding where the working copy lives
// on this machine.
func (w *Workspace) LocalPath(template string, pctx paths.Context) (string, error) {
	pctx.Project = w.Root
	resolved, err := paths.Resolve(template, pctx)
	if err != nil {
		return "", err
	}
	return filepath.FromSlash(resolved), nil
}

// LocalState classifies the working copy of task for localUser. The
// answer is advisory: the registry can move on between this call and
// the caller's next action.
func (w *Workspace) LocalState(ctx context.Context, task domain.Task, latest int, localUser string) (State, error) {
	entry, found, err := w.Lookup(ctx, task.ID)
	if err != nil {
		return StateAbsent, err
	}
	if !found || !paths.Exists(entry.Path) {
		return StateAbsent, nil
	}
	if task.Owner == localUser && task.Status == domain.StatusAssigned {
		return StateOwnedHere, nil
	}
	if entry.Version < latest {
		return StateStale, nil
	}
	return StateUpToDate, nil
}

// Discard removes the working copy and its manifest entry. The
// registry checkout, if any, is untouched; reverting ownership is the
// engine's business.
func (w *Workspace) Discard(ctx context.Context, taskID string) error {
	entry, found, err := w.Lookup(ctx, taskID)
	if err != nil {
		return err
	}
	if found && entry.Path != "" {
		if err := os.RemoveAll(entry.Path); err != nil {
			return err
		}
	}
	return w.Forget(ctx, taskID)
}

// Materialize copies src to dst, creating parent directories. A
// trailing-separator src is a directory target and is created rather
// than copied. Copies honor ctx cancellation.
func Materialize(ctx context.Context, src, dst string) error {
	if paths.IsDir(dst) {
		return os.MkdirAll(filepath.FromSlash(dst), 0o755)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if err := copyCtx(ctx, out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}

func copyCtx(ctx context.Context, dst io.Writer, src io.Reader) error {
	buf := make([]byte, 128*1024)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
