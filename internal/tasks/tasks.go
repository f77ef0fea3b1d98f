// Package tasks implements the async task queue contract spec.md §3/§4.14
// specifies as an external collaborator, scoped to the one job type the
// core actually drives: library_scan. Grounded on the teacher's
// internal/jobs package (same SQLite-backed queued/running/done/failed
// state machine, same claim-and-run polling loop), generalized to the
// Task model's status vocabulary and the "one running/queued scan per
// library" invariant spec.md §3/§5 calls for.
package tasks

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/gaby/audiobookd/internal/db"
)

type Type string

type Status string

const (
	TypeLibraryScan Type = "library_scan"

	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

var ErrNoQueuedTasks = errors.New("no queued tasks")

// LibraryScanPayload is the payload shape for a library_scan task
// (spec.md §3 "Task").
type LibraryScanPayload struct {
	LibraryID   int64  `json:"library_id"`
	LibraryPath string `json:"library_path"`
}

type Task struct {
	ID         string          `json:"id"`
	Type       Type            `json:"type"`
	Status     Status          `json:"status"`
	Payload    json.RawMessage `json:"payload"`
	Message    string          `json:"message"`
	Error      *string         `json:"error,omitempty"`
	Retries    int             `json:"retries"`
	MaxRetries int             `json:"max_retries"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Cancelled reports whether a freshly re-read task has moved to the
// cancelled state. The scan pipeline itself polls Store.IsCancelled
// between directory groups (spec.md §4.6 "Progress, cancellation, errors").
func (t Task) Cancelled() bool { return t.Status == StatusCancelled }

type Store struct {
	db *db.DB
}

func NewStore(d *db.DB) *Store { return &Store{db: d} }

func (s *Store) DB() *db.DB { return s.db }

func scanTask(row interface {
	Scan(dest ...any) error
}) (*Task, error) {
	var (
		id, typ, status, payload, message string
		errStr                            *string
		retries, maxRetries               int
		created, updated                  int64
	)
	if err := row.Scan(&id, &typ, &status, &payload, &message, &errStr, &retries, &maxRetries, &created, &updated); err != nil {
		return nil, err
	}
	return &Task{
		ID: id, Type: Type(typ), Status: Status(status),
		Payload: json.RawMessage(payload), Message: message, Error: errStr,
		Retries: retries, MaxRetries: maxRetries,
		CreatedAt: time.Unix(created, 0), UpdatedAt: time.Unix(updated, 0),
	}, nil
}

const taskCols = `id,type,status,payload_json,message,error,retries,max_retries,created_at,updated_at`

// Submit enqueues a new task. For library_scan, it first cancels any
// queued or running library_scan task for the same library_id — spec.md
// §3's Task invariant: "at most one library_scan per library_id may be
// running or queued; submitting another cancels the predecessor."
func (s *Store) Submit(ctx context.Context, typ Type, payload any) (*Task, error) {
	p, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	if typ == TypeLibraryScan {
		var lp LibraryScanPayload
		if err := json.Unmarshal(p, &lp); err == nil {
			if err := s.cancelActiveScansForLibrary(ctx, lp.LibraryID); err != nil {
				return nil, err
			}
		}
	}

	id := uuid.NewString()
	now := time.Now().Unix()
	_, err = s.db.SQL.ExecContext(ctx,
		`INSERT INTO tasks(id,type,status,payload_json,message,error,retries,max_retries,created_at,updated_at) VALUES(?,?,?,?,?,?,?,?,?,?)`,
		id, string(typ), string(StatusQueued), string(p), "", nil, 0, 3, now, now)
	if err != nil {
		return nil, err
	}
	return &Task{ID: id, Type: typ, Status: StatusQueued, Payload: p, MaxRetries: 3, CreatedAt: time.Unix(now, 0), UpdatedAt: time.Unix(now, 0)}, nil
}

// ActiveScanForLibrary returns the queued or running library_scan task for
// libraryID, if any. Used by the cancel endpoint (spec.md §6 "POST
// /api/libraries/:id/cancel (via task cancel)") to resolve a library ID
// into the task ID Cancel actually operates on.
func (s *Store) ActiveScanForLibrary(ctx context.Context, libraryID int64) (*Task, error) {
	rows, err := s.db.SQL.QueryContext(ctx,
		`SELECT `+taskCols+` FROM tasks WHERE type=? AND status IN (?,?)`,
		string(TypeLibraryScan), string(StatusQueued), string(StatusRunning))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		var lp LibraryScanPayload
		if err := json.Unmarshal(t.Payload, &lp); err != nil {
			continue
		}
		if lp.LibraryID == libraryID {
			return t, nil
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return nil, ErrNoQueuedTasks
}

func (s *Store) cancelActiveScansForLibrary(ctx context.Context, libraryID int64) error {
	rows, err := s.db.SQL.QueryContext(ctx,
		`SELECT `+taskCols+` FROM tasks WHERE type=? AND status IN (?,?)`,
		string(TypeLibraryScan), string(StatusQueued), string(StatusRunning))
	if err != nil {
		return err
	}
	defer rows.Close()

	var toCancel []string
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return err
		}
		var lp LibraryScanPayload
		if err := json.Unmarshal(t.Payload, &lp); err != nil {
			continue
		}
		if lp.LibraryID == libraryID {
			toCancel = append(toCancel, t.ID)
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for _, id := range toCancel {
		if err := s.SetStatus(ctx, id, StatusCancelled, "superseded by a newer scan submission"); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*Task, error) {
	row := s.db.SQL.QueryRowContext(ctx, `SELECT `+taskCols+` FROM tasks WHERE id=?`, id)
	return scanTask(row)
}

func (s *Store) List(ctx context.Context, limit int) ([]Task, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.SQL.QueryContext(ctx, `SELECT `+taskCols+` FROM tasks ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// ClaimNext sets the oldest queued task to running and returns it.
func (s *Store) ClaimNext(ctx context.Context) (*Task, error) {
	tx, err := s.db.SQL.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+taskCols+` FROM tasks WHERE status=? ORDER BY created_at ASC LIMIT 1`, string(StatusQueued))
	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoQueuedTasks
		}
		return nil, err
	}

	now := time.Now().Unix()
	if _, err := tx.ExecContext(ctx, `UPDATE tasks SET status=?, updated_at=? WHERE id=?`, string(StatusRunning), now, t.ID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	t.Status = StatusRunning
	t.UpdatedAt = time.Unix(now, 0)
	return t, nil
}

// Cancel marks a task cancelled if it is still queued or running.
func (s *Store) Cancel(ctx context.Context, id string) error {
	_, err := s.db.SQL.ExecContext(ctx,
		`UPDATE tasks SET status=?, updated_at=? WHERE id=? AND status IN (?,?)`,
		string(StatusCancelled), time.Now().Unix(), id, string(StatusQueued), string(StatusRunning))
	return err
}

// UpdateProgress writes a human-readable progress message without
// changing status (spec.md §4.14 "update_progress(id, message)").
func (s *Store) UpdateProgress(ctx context.Context, id, message string) error {
	_, err := s.db.SQL.ExecContext(ctx, `UPDATE tasks SET message=?, updated_at=? WHERE id=?`, message, time.Now().Unix(), id)
	return err
}

func (s *Store) SetStatus(ctx context.Context, id string, status Status, message string) error {
	_, err := s.db.SQL.ExecContext(ctx, `UPDATE tasks SET status=?, message=?, updated_at=? WHERE id=?`, string(status), message, time.Now().Unix(), id)
	return err
}

// SetFailed increments retries and either requeues (retries <
// max_retries, matching original_source/task_queue.rs's retry loop per
// SPEC_FULL.md §12) or goes terminal.
func (s *Store) SetFailed(ctx context.Context, id string, errMsg string) error {
	t, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	now := time.Now().Unix()
	if t.Retries+1 < t.MaxRetries {
		_, err := s.db.SQL.ExecContext(ctx,
			`UPDATE tasks SET status=?, retries=retries+1, error=?, message=?, updated_at=? WHERE id=?`,
			string(StatusQueued), errMsg, "retrying after failure: "+errMsg, now, id)
		return err
	}
	_, err = s.db.SQL.ExecContext(ctx,
		`UPDATE tasks SET status=?, retries=retries+1, error=?, updated_at=? WHERE id=?`,
		string(StatusFailed), errMsg, now, id)
	return err
}

func (s *Store) SetCompleted(ctx context.Context, id string, message string) error {
	_, err := s.db.SQL.ExecContext(ctx,
		`UPDATE tasks SET status=?, message=?, error=NULL, updated_at=? WHERE id=?`,
		string(StatusCompleted), message, time.Now().Unix(), id)
	return err
}

// IsCancelled re-reads status from the DB — the cooperative-polling
// contract of spec.md §5 ("no preemptive cancellation: scan polls a
// persisted flag").
func (s *Store) IsCancelled(ctx context.Context, id string) (bool, error) {
	var status string
	err := s.db.SQL.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id=?`, id).Scan(&status)
	if err != nil {
		return false, err
	}
	return Status(status) == StatusCancelled, nil
}
