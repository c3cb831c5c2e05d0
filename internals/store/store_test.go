package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"research/internals/schemas"
	"research/internals/testutil"
)

func TestCreateInitializesSchemaLazily(t *testing.T) {
	path := testutil.TempDBPath(t)
	s := New(path)
	defer s.Close()

	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected no database before first write")
	}

	id, err := s.Create(context.Background(), "what is dark matter", "deep-research-pro", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if id != 1 {
		t.Fatalf("expected first id 1, got %d", id)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected database after first write: %v", err)
	}
}

func TestReadsNeverCreateDatabase(t *testing.T) {
	path := testutil.TempDBPath(t)
	s := New(path)
	defer s.Close()

	if _, err := s.Get(context.Background(), 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	records, err := s.Recent(context.Background(), 20)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected empty history, got %d records", len(records))
	}

	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("reads must not create the database file")
	}
}

func TestRecordRoundTrip(t *testing.T) {
	s := New(testutil.TempDBPath(t))
	defer s.Close()
	ctx := context.Background()

	id, err := s.Create(ctx, "query", "model-a", "parent-inter")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := s.Update(ctx, UpdateParams{ID: id, Status: schemas.TaskStatusInProgress, InteractionID: "inter-1"}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	record, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if record.Status != schemas.TaskStatusInProgress {
		t.Fatalf("expected IN_PROGRESS, got %s", record.Status)
	}
	if record.InteractionID != "inter-1" {
		t.Fatalf("expected interaction id, got %q", record.InteractionID)
	}
	if record.ParentID != "parent-inter" {
		t.Fatalf("expected parent id, got %q", record.ParentID)
	}
	if record.CreatedAt == "" {
		t.Fatalf("expected created_at to be set")
	}
}

func TestUpdateKeepsUnsetFields(t *testing.T) {
	s := New(testutil.TempDBPath(t))
	defer s.Close()
	ctx := context.Background()

	id, err := s.Create(ctx, "query", "model-a", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Update(ctx, UpdateParams{ID: id, Status: schemas.TaskStatusInProgress, InteractionID: "inter-1"}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := s.Update(ctx, UpdateParams{ID: id, Status: schemas.TaskStatusCompleted, Report: "the report"}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	record, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if record.InteractionID != "inter-1" {
		t.Fatalf("interaction id lost on later update: %q", record.InteractionID)
	}
	if record.Report != "the report" {
		t.Fatalf("expected report, got %q", record.Report)
	}
}

func TestUpdateIsIdempotent(t *testing.T) {
	s := New(testutil.TempDBPath(t))
	defer s.Close()
	ctx := context.Background()

	id, err := s.Create(ctx, "query", "model-a", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	params := UpdateParams{ID: id, Status: schemas.TaskStatusCompleted, InteractionID: "inter-1", Report: "done"}
	if err := s.Update(ctx, params); err != nil {
		t.Fatalf("first update: %v", err)
	}
	if err := s.Update(ctx, params); err != nil {
		t.Fatalf("identical second update: %v", err)
	}

	record, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if record.Status != schemas.TaskStatusCompleted || record.Report != "done" {
		t.Fatalf("record changed by idempotent update: %+v", record)
	}
}

func TestTerminalRowsCannotBeReopened(t *testing.T) {
	s := New(testutil.TempDBPath(t))
	defer s.Close()
	ctx := context.Background()

	id, err := s.Create(ctx, "query", "model-a", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Update(ctx, UpdateParams{ID: id, Status: schemas.TaskStatusFailed, ErrorDetail: "boom"}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	err = s.Update(ctx, UpdateParams{ID: id, Status: schemas.TaskStatusInProgress})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	err = s.Update(ctx, UpdateParams{ID: id, Status: schemas.TaskStatusCompleted})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for cross-terminal move, got %v", err)
	}

	record, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if record.Status != schemas.TaskStatusFailed || record.ErrorDetail != "boom" {
		t.Fatalf("terminal record mutated: %+v", record)
	}
}

func TestUpdateMissingTask(t *testing.T) {
	s := New(testutil.TempDBPath(t))
	defer s.Close()

	err := s.Update(context.Background(), UpdateParams{ID: 42, Status: schemas.TaskStatusInProgress})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRecentOrdersMostRecentFirst(t *testing.T) {
	s := New(testutil.TempDBPath(t))
	defer s.Close()
	ctx := context.Background()

	for _, q := range []string{"first", "second", "third"} {
		if _, err := s.Create(ctx, q, "model-a", ""); err != nil {
			t.Fatalf("Create %s: %v", q, err)
		}
	}

	records, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Query != "third" || records[1].Query != "second" {
		t.Fatalf("unexpected order: %q, %q", records[0].Query, records[1].Query)
	}
}

func TestOwnerOnlyPermissions(t *testing.T) {
	path := testutil.TempDBPath(t)
	s := New(path)

	if _, err := s.Create(context.Background(), "query", "model-a", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}
	s.Close()

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		t.Fatalf("expected owner-only file, got %o", perm)
	}
	dirInfo, err := os.Stat(filepath.Dir(path))
	if err != nil {
		t.Fatalf("stat dir: %v", err)
	}
	if perm := dirInfo.Mode().Perm(); perm&0o077 != 0 {
		t.Fatalf("expected owner-only directory, got %o", perm)
	}

	// A later open tightens a file that became too permissive.
	if err := os.Chmod(path, 0o644); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	s2 := New(path)
	defer s2.Close()
	if _, err := s2.Create(context.Background(), "another", "model-a", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}
	info, err = os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		t.Fatalf("expected permissions tightened on reopen, got %o", perm)
	}
}

func TestConcurrentFirstWriters(t *testing.T) {
	path := testutil.TempDBPath(t)

	const writers = 4
	stores := make([]*Store, writers)
	for i := range stores {
		stores[i] = New(path)
	}
	defer func() {
		for _, s := range stores {
			s.Close()
		}
	}()

	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = stores[i].Create(context.Background(), "concurrent", "model-a", "")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("writer %d: %v", i, err)
		}
	}

	records, err := stores[0].Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(records) != writers {
		t.Fatalf("expected %d records, got %d", writers, len(records))
	}
	seen := map[int64]bool{}
	for _, record := range records {
		if seen[record.ID] {
			t.Fatalf("duplicate id %d", record.ID)
		}
		seen[record.ID] = true
	}
}
