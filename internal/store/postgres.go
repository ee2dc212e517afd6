package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/playlog-cli/internal/db"
	"github.com/sells-group/playlog-cli/internal/model"
)

// migrationLockID keys the advisory lock held while migrating.
const migrationLockID = 8675309

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// The loader is single-threaded; one lookup connection plus one writer is enough.
	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, storageErr(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, storageErr(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Migrate applies pending embedded migrations under an advisory lock so
// overlapping runs do not race on DDL.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	log := zap.L().With(zap.String("component", "store.migrate"))

	if _, err := s.pool.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return storageErr(err, "postgres: acquire migration advisory lock")
	}
	defer func() {
		if _, err := s.pool.Exec(ctx, "SELECT pg_advisory_unlock($1)", migrationLockID); err != nil {
			log.Warn("postgres: failed to release migration advisory lock", zap.Error(err))
		}
	}()

	if _, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		id         SERIAL PRIMARY KEY,
		filename   TEXT NOT NULL UNIQUE,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		return storageErr(err, "postgres: ensure migration table")
	}

	applied, err := s.appliedMigrations(ctx)
	if err != nil {
		return err
	}

	pending, err := pendingMigrations("postgres", applied)
	if err != nil {
		return err
	}

	for _, m := range pending {
		log.Info("applying migration", zap.String("file", m.Name))

		if _, err := s.pool.Exec(ctx, m.SQL); err != nil {
			return storageErr(err, "postgres: apply migration "+m.Name)
		}
		if _, err := s.pool.Exec(ctx,
			"INSERT INTO schema_migrations (filename, applied_at) VALUES ($1, now())",
			m.Name,
		); err != nil {
			return storageErr(err, "postgres: record migration "+m.Name)
		}
	}
	return nil
}

func (s *PostgresStore) appliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx, "SELECT filename FROM schema_migrations")
	if err != nil {
		return nil, storageErr(err, "postgres: query applied migrations")
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, storageErr(err, "postgres: scan migration row")
		}
		applied[name] = true
	}
	return applied, storageErr(rows.Err(), "postgres: iterate migrations")
}

// Begin opens a write transaction.
func (s *PostgresStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, storageErr(err, "postgres: begin")
	}
	return &postgresTx{tx: tx}, nil
}

const lookupTrackSQL = `SELECT t.track_id, a.artist_id
	FROM tracks t
	JOIN artists a ON a.artist_id = t.artist_id
	WHERE t.title = $1 AND a.name = $2 AND ABS(t.duration - $3) <= $4
	ORDER BY t.track_id
	LIMIT 1`

// LookupTrack resolves one (title, artist name, duration) triple. Ties are
// broken by the lowest track_id. No match returns the zero Match.
func (s *PostgresStore) LookupTrack(ctx context.Context, title, artist string, duration, tolerance float64) (model.Match, error) {
	var trackID, artistID string
	err := s.pool.QueryRow(ctx, lookupTrackSQL, title, artist, duration, tolerance).Scan(&trackID, &artistID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Match{}, nil
		}
		return model.Match{}, storageErr(err, "postgres: lookup track")
	}
	return model.Match{TrackID: &trackID, ArtistID: &artistID}, nil
}

const catalogEntriesSQL = `SELECT t.track_id, t.title, a.artist_id, a.name, t.duration
	FROM tracks t
	JOIN artists a ON a.artist_id = t.artist_id`

// CatalogEntries returns every track joined with its artist.
func (s *PostgresStore) CatalogEntries(ctx context.Context) ([]model.CatalogEntry, error) {
	rows, err := s.pool.Query(ctx, catalogEntriesSQL)
	if err != nil {
		return nil, storageErr(err, "postgres: query catalog")
	}
	defer rows.Close()

	var entries []model.CatalogEntry
	for rows.Next() {
		var e model.CatalogEntry
		if err := rows.Scan(&e.TrackID, &e.Title, &e.ArtistID, &e.ArtistName, &e.Duration); err != nil {
			return nil, storageErr(err, "postgres: scan catalog entry")
		}
		entries = append(entries, e)
	}
	return entries, storageErr(rows.Err(), "postgres: iterate catalog")
}

func (s *PostgresStore) StartRun(ctx context.Context, source model.Source, root string, filesTotal int) (string, error) {
	id := uuid.New().String()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO load_log (id, source, root, status, started_at, files_total) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, string(source), root, string(model.RunStatusRunning), time.Now().UTC(), filesTotal,
	)
	if err != nil {
		return "", storageErr(err, "postgres: start run")
	}
	return id, nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, result model.RunResult) error {
	return s.finishRun(ctx, runID, model.RunStatusComplete, result, nil)
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, result model.RunResult, errMsg string) error {
	return s.finishRun(ctx, runID, model.RunStatusFailed, result, &errMsg)
}

func (s *PostgresStore) finishRun(ctx context.Context, runID string, status model.RunStatus, result model.RunResult, errMsg *string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE load_log
		 SET status = $1, completed_at = $2, files_done = $3, rows_loaded = $4, error = $5
		 WHERE id = $6`,
		string(status), time.Now().UTC(), result.FilesDone, result.RowsLoaded, errMsg, runID,
	)
	if err != nil {
		return storageErr(err, "postgres: finish run "+runID)
	}
	if tag.RowsAffected() == 0 {
		return storageErr(eris.Errorf("load run not found: %s", runID), "postgres: finish run")
	}
	return nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]model.LoadRun, error) {
	if limit <= 0 {
		limit = defaultRunLimit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, source, root, status, started_at, completed_at, files_total, files_done, rows_loaded, error
		 FROM load_log ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, storageErr(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.LoadRun
	for rows.Next() {
		var r model.LoadRun
		var source, status string
		var errStr *string
		if err := rows.Scan(&r.ID, &source, &r.Root, &status, &r.StartedAt, &r.CompletedAt,
			&r.FilesTotal, &r.FilesDone, &r.RowsLoaded, &errStr); err != nil {
			return nil, storageErr(err, "postgres: scan run")
		}
		r.Source = model.Source(source)
		r.Status = model.RunStatus(status)
		if errStr != nil {
			r.Error = *errStr
		}
		runs = append(runs, r)
	}
	return runs, storageErr(rows.Err(), "postgres: iterate runs")
}

// postgresTx applies batches through temp-table bulk upserts.
type postgresTx struct {
	tx pgx.Tx
}

var (
	trackUpsert = db.UpsertConfig{
		Table:        "tracks",
		Columns:      []string{"track_id", "title", "artist_id", "year", "duration"},
		ConflictKeys: []string{"track_id"},
		DoNothing:    true,
	}
	artistUpsert = db.UpsertConfig{
		Table:        "artists",
		Columns:      []string{"artist_id", "name", "location", "latitude", "longitude"},
		ConflictKeys: []string{"artist_id"},
		DoNothing:    true,
	}
	calendarUpsert = db.UpsertConfig{
		Table:        "calendar",
		Columns:      []string{"start_time", "hour", "day", "week", "month", "year", "weekday"},
		ConflictKeys: []string{"start_time"},
		DoNothing:    true,
	}
	userUpsert = db.UpsertConfig{
		Table:        "users",
		Columns:      []string{"user_id", "first_name", "last_name", "gender", "level"},
		ConflictKeys: []string{"user_id"},
		UpdateCols:   []string{"level"},
	}
	songplayUpsert = db.UpsertConfig{
		Table:        "songplays",
		Columns:      []string{"start_time", "user_id", "level", "track_id", "artist_id", "session_id", "location", "user_agent"},
		ConflictKeys: []string{"start_time", "user_id", "session_id"},
		DoNothing:    true,
	}
)

func (t *postgresTx) Apply(ctx context.Context, b *model.Batch) error {
	if b == nil {
		return nil
	}

	tracks := make([][]any, len(b.Tracks))
	for i, r := range b.Tracks {
		tracks[i] = []any{r.TrackID, r.Title, r.ArtistID, r.Year, r.Duration}
	}
	artists := make([][]any, len(b.Artists))
	for i, r := range b.Artists {
		artists[i] = []any{r.ArtistID, r.Name, r.Location, r.Latitude, r.Longitude}
	}
	calendar := make([][]any, len(b.Calendar))
	for i, r := range b.Calendar {
		calendar[i] = []any{r.StartTime, r.Hour, r.Day, r.Week, r.Month, r.Year, r.Weekday}
	}
	users := lastUserWins(b.Users)
	userRows := make([][]any, len(users))
	for i, r := range users {
		userRows[i] = []any{r.UserID, r.FirstName, r.LastName, r.Gender, r.Level}
	}
	songplays := make([][]any, len(b.Songplays))
	for i, r := range b.Songplays {
		songplays[i] = []any{r.StartTime, r.UserID, r.Level, r.TrackID, r.ArtistID, r.SessionID, r.Location, r.UserAgent}
	}

	steps := []struct {
		cfg  db.UpsertConfig
		rows [][]any
	}{
		{trackUpsert, tracks},
		{artistUpsert, artists},
		{calendarUpsert, calendar},
		{userUpsert, userRows},
		{songplayUpsert, songplays},
	}
	for _, step := range steps {
		if _, err := db.BulkUpsert(ctx, t.tx, step.cfg, step.rows); err != nil {
			return storageErr(err, "postgres: apply "+step.cfg.Table)
		}
	}
	return nil
}

func (t *postgresTx) Commit(ctx context.Context) error {
	return storageErr(t.tx.Commit(ctx), "postgres: commit")
}

func (t *postgresTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return storageErr(err, "postgres: rollback")
}
