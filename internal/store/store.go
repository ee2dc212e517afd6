package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/playlog-cli/internal/model"
)

// Store is the persistence gateway for the warehouse tables and the load log.
type Store interface {
	// Writes
	Begin(ctx context.Context) (Tx, error)

	// Catalog lookups
	LookupTrack(ctx context.Context, title, artist string, duration, tolerance float64) (model.Match, error)
	CatalogEntries(ctx context.Context) ([]model.CatalogEntry, error)

	// Load log
	StartRun(ctx context.Context, source model.Source, root string, filesTotal int) (string, error)
	CompleteRun(ctx context.Context, runID string, result model.RunResult) error
	FailRun(ctx context.Context, runID string, result model.RunResult, errMsg string) error
	ListRuns(ctx context.Context, limit int) ([]model.LoadRun, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Tx stages the rows of one or more source files until Commit.
type Tx interface {
	// Apply writes every row of b. Catalog and calendar rows are inserted
	// or ignored, users are upserted on level (last row wins), songplays are
	// ignored when (start_time, user_id, session_id) already exists.
	Apply(ctx context.Context, b *model.Batch) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// StorageError marks a failure reported by the storage engine.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return e.Err.Error()
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// storageErr wraps err with op and tags it as a StorageError. nil stays nil.
func storageErr(err error, op string) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: eris.Wrap(err, op)}
}

// lastUserWins keeps one row per user id, holding the last level seen while
// preserving first-seen order.
func lastUserWins(users []model.UserRow) []model.UserRow {
	idx := make(map[string]int, len(users))
	out := make([]model.UserRow, 0, len(users))
	for _, u := range users {
		if i, ok := idx[u.UserID]; ok {
			out[i] = u
			continue
		}
		idx[u.UserID] = len(out)
		out = append(out, u)
	}
	return out
}

const defaultRunLimit = 50
