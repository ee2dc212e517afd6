package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sells-group/playlog-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, storageErr(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, storageErr(err, "sqlite: exec "+pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// DB returns the underlying handle.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	log := zap.L().With(zap.String("component", "store.migrate"))

	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		filename   TEXT NOT NULL UNIQUE,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`); err != nil {
		return storageErr(err, "sqlite: ensure migration table")
	}

	rows, err := s.db.QueryContext(ctx, "SELECT filename FROM schema_migrations")
	if err != nil {
		return storageErr(err, "sqlite: query applied migrations")
	}
	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close() //nolint:errcheck
			return storageErr(err, "sqlite: scan migration row")
		}
		applied[name] = true
	}
	rows.Close() //nolint:errcheck
	if err := rows.Err(); err != nil {
		return storageErr(err, "sqlite: iterate migrations")
	}

	pending, err := pendingMigrations("sqlite", applied)
	if err != nil {
		return err
	}

	for _, m := range pending {
		log.Info("applying migration", zap.String("file", m.Name))

		if _, err := s.db.ExecContext(ctx, m.SQL); err != nil {
			return storageErr(err, "sqlite: apply migration "+m.Name)
		}
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO schema_migrations (filename) VALUES (?)`, m.Name,
		); err != nil {
			return storageErr(err, "sqlite: record migration "+m.Name)
		}
	}
	return nil
}

func (s *SQLiteStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr(err, "sqlite: begin")
	}
	return &sqliteTx{tx: tx}, nil
}

func (s *SQLiteStore) LookupTrack(ctx context.Context, title, artist string, duration, tolerance float64) (model.Match, error) {
	var trackID, artistID string
	err := s.db.QueryRowContext(ctx,
		`SELECT t.track_id, a.artist_id
		 FROM tracks t
		 JOIN artists a ON a.artist_id = t.artist_id
		 WHERE t.title = ? AND a.name = ? AND ABS(t.duration - ?) <= ?
		 ORDER BY t.track_id
		 LIMIT 1`,
		title, artist, duration, tolerance,
	).Scan(&trackID, &artistID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Match{}, nil
	}
	if err != nil {
		return model.Match{}, storageErr(err, "sqlite: lookup track")
	}
	return model.Match{TrackID: &trackID, ArtistID: &artistID}, nil
}

func (s *SQLiteStore) CatalogEntries(ctx context.Context) ([]model.CatalogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT t.track_id, t.title, a.artist_id, a.name, t.duration
		 FROM tracks t
		 JOIN artists a ON a.artist_id = t.artist_id`,
	)
	if err != nil {
		return nil, storageErr(err, "sqlite: query catalog")
	}
	defer rows.Close() //nolint:errcheck

	var entries []model.CatalogEntry
	for rows.Next() {
		var e model.CatalogEntry
		if err := rows.Scan(&e.TrackID, &e.Title, &e.ArtistID, &e.ArtistName, &e.Duration); err != nil {
			return nil, storageErr(err, "sqlite: scan catalog entry")
		}
		entries = append(entries, e)
	}
	return entries, storageErr(rows.Err(), "sqlite: iterate catalog")
}

func (s *SQLiteStore) StartRun(ctx context.Context, source model.Source, root string, filesTotal int) (string, error) {
	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO load_log (id, source, root, status, started_at, files_total) VALUES (?, ?, ?, ?, ?, ?)`,
		id, string(source), root, string(model.RunStatusRunning), time.Now().UTC(), filesTotal,
	)
	if err != nil {
		return "", storageErr(err, "sqlite: start run")
	}
	return id, nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, result model.RunResult) error {
	return s.finishRun(ctx, runID, model.RunStatusComplete, result, nil)
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string, result model.RunResult, errMsg string) error {
	return s.finishRun(ctx, runID, model.RunStatusFailed, result, &errMsg)
}

func (s *SQLiteStore) finishRun(ctx context.Context, runID string, status model.RunStatus, result model.RunResult, errMsg *string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE load_log
		 SET status = ?, completed_at = ?, files_done = ?, rows_loaded = ?, error = ?
		 WHERE id = ?`,
		string(status), time.Now().UTC(), result.FilesDone, result.RowsLoaded, errMsg, runID,
	)
	if err != nil {
		return storageErr(err, "sqlite: finish run "+runID)
	}
	return storageErr(checkRowsAffected(res, "load run", runID), "sqlite: finish run")
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]model.LoadRun, error) {
	if limit <= 0 {
		limit = defaultRunLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source, root, status, started_at, completed_at, files_total, files_done, rows_loaded, error
		 FROM load_log ORDER BY started_at DESC, rowid DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, storageErr(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.LoadRun
	for rows.Next() {
		var r model.LoadRun
		var source, status string
		var completedAt sql.NullTime
		var errStr sql.NullString
		if err := rows.Scan(&r.ID, &source, &r.Root, &status, &r.StartedAt, &completedAt,
			&r.FilesTotal, &r.FilesDone, &r.RowsLoaded, &errStr); err != nil {
			return nil, storageErr(err, "sqlite: scan run")
		}
		r.Source = model.Source(source)
		r.Status = model.RunStatus(status)
		if completedAt.Valid {
			t := completedAt.Time
			r.CompletedAt = &t
		}
		r.Error = errStr.String
		runs = append(runs, r)
	}
	return runs, storageErr(rows.Err(), "sqlite: iterate runs")
}

// sqliteTx writes one statement per row inside a database/sql transaction.
type sqliteTx struct {
	tx *sql.Tx
}

const (
	sqliteInsertTrack = `INSERT INTO tracks (track_id, title, artist_id, year, duration)
		VALUES (?, ?, ?, ?, ?) ON CONFLICT (track_id) DO NOTHING`
	sqliteInsertArtist = `INSERT INTO artists (artist_id, name, location, latitude, longitude)
		VALUES (?, ?, ?, ?, ?) ON CONFLICT (artist_id) DO NOTHING`
	sqliteInsertCalendar = `INSERT INTO calendar (start_time, hour, day, week, month, year, weekday)
		VALUES (?, ?, ?, ?, ?, ?, ?) ON CONFLICT (start_time) DO NOTHING`
	sqliteUpsertUser = `INSERT INTO users (user_id, first_name, last_name, gender, level)
		VALUES (?, ?, ?, ?, ?) ON CONFLICT (user_id) DO UPDATE SET level = excluded.level`
	sqliteInsertSongplay = `INSERT INTO songplays (start_time, user_id, level, track_id, artist_id, session_id, location, user_agent)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT (start_time, user_id, session_id) DO NOTHING`
)

func (t *sqliteTx) Apply(ctx context.Context, b *model.Batch) error {
	if b == nil {
		return nil
	}
	for _, r := range b.Tracks {
		if err := t.exec(ctx, sqliteInsertTrack, r.TrackID, r.Title, r.ArtistID, r.Year, r.Duration); err != nil {
			return storageErr(err, "sqlite: insert track "+r.TrackID)
		}
	}
	for _, r := range b.Artists {
		if err := t.exec(ctx, sqliteInsertArtist, r.ArtistID, r.Name, r.Location, r.Latitude, r.Longitude); err != nil {
			return storageErr(err, "sqlite: insert artist "+r.ArtistID)
		}
	}
	for _, r := range b.Calendar {
		if err := t.exec(ctx, sqliteInsertCalendar, r.StartTime, r.Hour, r.Day, r.Week, r.Month, r.Year, r.Weekday); err != nil {
			return storageErr(err, "sqlite: insert calendar")
		}
	}
	for _, r := range b.Users {
		if err := t.exec(ctx, sqliteUpsertUser, r.UserID, r.FirstName, r.LastName, r.Gender, r.Level); err != nil {
			return storageErr(err, "sqlite: upsert user "+r.UserID)
		}
	}
	for _, r := range b.Songplays {
		if err := t.exec(ctx, sqliteInsertSongplay, r.StartTime, r.UserID, r.Level, r.TrackID, r.ArtistID, r.SessionID, r.Location, r.UserAgent); err != nil {
			return storageErr(err, "sqlite: insert songplay")
		}
	}
	return nil
}

func (t *sqliteTx) exec(ctx context.Context, query string, args ...any) error {
	_, err := t.tx.ExecContext(ctx, query, args...)
	return err
}

func (t *sqliteTx) Commit(_ context.Context) error {
	return storageErr(t.tx.Commit(), "sqlite: commit")
}

func (t *sqliteTx) Rollback(_ context.Context) error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return storageErr(err, "sqlite: rollback")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}
