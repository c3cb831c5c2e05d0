package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"research/internals/schemas"
)

var (
	ErrNotFound = errors.New("task not found")
	// ErrInvalidTransition guards status monotonicity: a terminal task can
	// never be reopened. Hitting it means a bug or concurrent corruption.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// errNoDatabase is returned by read paths when nothing has ever been
// written; reads never create the database file.
var errNoDatabase = errors.New("database does not exist")

//go:embed migrations/*.sql
var migrations embed.FS

var (
	gooseOnce sync.Once
	gooseErr  error
)

// initLocks holds one mutex per store path so concurrent first-writers
// within a process initialize the schema exactly once. Cross-process
// writers are serialized by sqlite's own file locking.
var initLocks sync.Map

// Fixed-width UTC timestamps so the created_at index orders correctly.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store is a durable keyed record store for research tasks backed by a
// single sqlite file. The file is created lazily on first write and is
// owner-only; the restriction is re-enforced on every open.
type Store struct {
	path string
	mu   sync.Mutex
	db   *sql.DB
}

func New(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Create inserts a PENDING row and returns the assigned id.
func (s *Store) Create(ctx context.Context, query, model, parentID string) (int64, error) {
	db, err := s.ensure(true)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	result, err := db.ExecContext(ctx, `
INSERT INTO research_tasks (parent_id, query, model, status, created_at)
VALUES (?, ?, ?, ?, ?)
`, nullIfEmpty(parentID), query, model, schemas.TaskStatusPending, time.Now().UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("create task: %w", err)
	}
	return result.LastInsertId()
}

type UpdateParams struct {
	ID     int64
	Status schemas.TaskStatus
	// Empty fields below keep their stored value.
	InteractionID string
	Report        string
	ErrorDetail   string
}

// Update overwrites the mutable fields of a row. It is idempotent by id:
// repeating an update with identical arguments leaves the record unchanged.
// Changing the status of a terminal row is rejected.
func (s *Store) Update(ctx context.Context, params UpdateParams) error {
	db, err := s.ensure(true)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM research_tasks WHERE id = ?`, params.ID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("task %d: %w", params.ID, ErrNotFound)
	}
	if err != nil {
		return err
	}
	if status := schemas.TaskStatus(current); status.Terminal() && params.Status != status {
		return fmt.Errorf("task %d is %s: %w", params.ID, status, ErrInvalidTransition)
	}

	_, err = tx.ExecContext(ctx, `
UPDATE research_tasks
SET status = ?,
	interaction_id = COALESCE(NULLIF(?, ''), interaction_id),
	report = COALESCE(NULLIF(?, ''), report),
	error_detail = COALESCE(NULLIF(?, ''), error_detail)
WHERE id = ?
`, params.Status, params.InteractionID, params.Report, params.ErrorDetail, params.ID)
	if err != nil {
		return fmt.Errorf("update task %d: %w", params.ID, err)
	}
	return tx.Commit()
}

func (s *Store) Get(ctx context.Context, id int64) (*schemas.TaskRecord, error) {
	db, err := s.ensure(false)
	if errors.Is(err, errNoDatabase) {
		return nil, fmt.Errorf("task %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	row := db.QueryRowContext(ctx, `
SELECT id, interaction_id, parent_id, query, model, status, report, error_detail, created_at
FROM research_tasks
WHERE id = ?
`, id)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

// Recent lists records most-recent first. With no database yet it returns
// an empty list without creating one.
func (s *Store) Recent(ctx context.Context, limit int) ([]schemas.TaskRecord, error) {
	db, err := s.ensure(false)
	if errors.Is(err, errNoDatabase) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
SELECT id, interaction_id, parent_id, query, model, status, report, error_detail, created_at
FROM research_tasks
ORDER BY created_at DESC, id DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []schemas.TaskRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	return records, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRecord(row scannable) (*schemas.TaskRecord, error) {
	var record schemas.TaskRecord
	var status string
	var interactionID, parentID, report, errorDetail sql.NullString
	err := row.Scan(&record.ID, &interactionID, &parentID, &record.Query, &record.Model, &status, &report, &errorDetail, &record.CreatedAt)
	if err != nil {
		return nil, err
	}
	record.Status = schemas.TaskStatus(status)
	record.InteractionID = interactionID.String
	record.ParentID = parentID.String
	record.Report = report.String
	record.ErrorDetail = errorDetail.String
	return &record, nil
}

// ensure opens the database handle, creating file and schema when create is
// set. Reads on a store that has never been written report errNoDatabase.
func (s *Store) ensure(create bool) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db, nil
	}

	if !create {
		if _, err := os.Stat(s.path); errors.Is(err, os.ErrNotExist) {
			return nil, errNoDatabase
		} else if err != nil {
			return nil, err
		}
	}

	lock := pathLock(s.path)
	lock.Lock()
	defer lock.Unlock()

	if create {
		if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
			return nil, err
		}
		file, err := os.OpenFile(s.path, os.O_CREATE|os.O_RDWR, 0o600)
		if err != nil {
			return nil, err
		}
		if err := file.Close(); err != nil {
			return nil, err
		}
	}
	if err := enforcePermissions(s.path); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return nil, err
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA busy_timeout = 5000;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, err
		}
	}

	if create {
		if err := migrate(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("initialize schema: %w", err)
		}
	}

	s.db = db
	return db, nil
}

func migrate(db *sql.DB) error {
	gooseOnce.Do(func() {
		goose.SetBaseFS(migrations)
		goose.SetLogger(goose.NopLogger())
		gooseErr = goose.SetDialect("sqlite3")
	})
	if gooseErr != nil {
		return gooseErr
	}
	return goose.Up(db, "migrations")
}

// enforcePermissions tightens the store file and its directory to
// owner-only access, failing loudly when it cannot.
func enforcePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Mode().Perm()&0o077 != 0 {
		if err := os.Chmod(path, 0o600); err != nil {
			return fmt.Errorf("cannot restrict %s to owner-only access: %w", path, err)
		}
	}

	dir := filepath.Dir(path)
	dirInfo, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if dirInfo.Mode().Perm()&0o077 != 0 {
		if err := os.Chmod(dir, 0o700); err != nil {
			return fmt.Errorf("cannot restrict %s to owner-only access: %w", dir, err)
		}
	}
	return nil
}

func pathLock(path string) *sync.Mutex {
	actual, _ := initLocks.LoadOrStore(path, &sync.Mutex{})
	return actual.(*sync.Mutex)
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}
