package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/playlog-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func expectBulkUpsert(mock pgxmock.PgxPoolIface, table string, columns []string, n int64) {
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_` + table + `"`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_" + table}, columns).WillReturnResult(n)
	mock.ExpectExec(`INSERT INTO "` + table + `"`).WillReturnResult(pgxmock.NewResult("INSERT", n))
	mock.ExpectExec(`DROP TABLE "_tmp_upsert_` + table + `"`).WillReturnResult(pgxmock.NewResult("DROP", 0))
}

func TestPostgresStore_ApplyAndCommit(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	expectBulkUpsert(mock, "calendar", calendarUpsert.Columns, 1)
	expectBulkUpsert(mock, "users", userUpsert.Columns, 1)
	expectBulkUpsert(mock, "songplays", songplayUpsert.Columns, 1)
	mock.ExpectCommit()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)

	err = tx.Apply(ctx, &model.Batch{
		Calendar:  []model.CalendarRow{{StartTime: ms(1541721400000)}},
		Users:     []model.UserRow{{UserID: "7", Level: "free"}, {UserID: "7", Level: "paid"}},
		Songplays: []model.SongplayRow{{StartTime: ms(1541721400000), UserID: "7", Level: "free", SessionID: 139}},
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ApplyCatalog(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	expectBulkUpsert(mock, "tracks", trackUpsert.Columns, 1)
	expectBulkUpsert(mock, "artists", artistUpsert.Columns, 1)
	mock.ExpectCommit()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Apply(ctx, catalogBatch("T1", "Song A", "A1", "Artist A", 210.5)))
	require.NoError(t, tx.Commit(ctx))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ApplyErrorIsStorageError(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnError(fmt.Errorf("permission denied"))
	mock.ExpectRollback()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)

	err = tx.Apply(ctx, &model.Batch{Users: []model.UserRow{{UserID: "7", Level: "free"}}})
	require.Error(t, err)
	var se *StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "postgres: apply users", se.Op)
	assert.Contains(t, err.Error(), "permission denied")

	require.NoError(t, tx.Rollback(ctx))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_BeginError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin().WillReturnError(fmt.Errorf("too many connections"))

	_, err := s.Begin(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: begin")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LookupTrack_Found(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT t.track_id, a.artist_id`).
		WithArgs("Song A", "Artist A", 210.5, 0.001).
		WillReturnRows(pgxmock.NewRows([]string{"track_id", "artist_id"}).AddRow("T1", "A1"))

	m, err := s.LookupTrack(context.Background(), "Song A", "Artist A", 210.5, 0.001)
	require.NoError(t, err)
	require.True(t, m.Found())
	assert.Equal(t, "T1", *m.TrackID)
	assert.Equal(t, "A1", *m.ArtistID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LookupTrack_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT t.track_id, a.artist_id`).
		WithArgs("Song Z", "Nobody", 99.0, 0.001).
		WillReturnError(pgx.ErrNoRows)

	m, err := s.LookupTrack(context.Background(), "Song Z", "Nobody", 99.0, 0.001)
	require.NoError(t, err)
	assert.False(t, m.Found())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LookupTrack_Error(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT t.track_id, a.artist_id`).
		WithArgs("Song A", "Artist A", 210.5, 0.0).
		WillReturnError(fmt.Errorf("connection reset"))

	_, err := s.LookupTrack(context.Background(), "Song A", "Artist A", 210.5, 0)
	require.Error(t, err)
	var se *StorageError
	assert.ErrorAs(t, err, &se)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CatalogEntries(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT t.track_id, t.title, a.artist_id, a.name, t.duration`).
		WillReturnRows(pgxmock.NewRows([]string{"track_id", "title", "artist_id", "name", "duration"}).
			AddRow("T1", "Song A", "A1", "Artist A", 210.5).
			AddRow("T2", "Song B", "A1", "Artist A", 180.0))

	entries, err := s.CatalogEntries(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "T2", entries[1].TrackID)
	assert.InDelta(t, 180.0, entries[1].Duration, 0)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_StartRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO load_log`).
		WithArgs(pgxmock.AnyArg(), "catalog", "/data/song_data", "running", pgxmock.AnyArg(), 4).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	id, err := s.StartRun(context.Background(), model.SourceCatalog, "/data/song_data", 4)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FailRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE load_log`).
		WithArgs("failed", pgxmock.AnyArg(), 1, int64(12), pgxmock.AnyArg(), "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.FailRun(context.Background(), "run-1", model.RunResult{FilesDone: 1, RowsLoaded: 12}, "boom")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompleteRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE load_log`).
		WithArgs("complete", pgxmock.AnyArg(), 0, int64(0), pgxmock.AnyArg(), "nope").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.CompleteRun(context.Background(), "nope", model.RunResult{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load run not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate_FreshDB(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	pending, err := pendingMigrations("postgres", nil)
	require.NoError(t, err)

	mock.ExpectExec(`SELECT pg_advisory_lock`).WithArgs(migrationLockID).WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery(`SELECT filename FROM schema_migrations`).WillReturnRows(pgxmock.NewRows([]string{"filename"}))
	for _, m := range pending {
		mock.ExpectExec(".*").WillReturnResult(pgxmock.NewResult("EXEC", 0))
		mock.ExpectExec(`INSERT INTO schema_migrations`).WithArgs(m.Name).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	mock.ExpectExec(`SELECT pg_advisory_unlock`).WithArgs(migrationLockID).WillReturnResult(pgxmock.NewResult("SELECT", 1))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate_AllApplied(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`SELECT pg_advisory_lock`).WithArgs(migrationLockID).WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery(`SELECT filename FROM schema_migrations`).
		WillReturnRows(pgxmock.NewRows([]string{"filename"}).AddRow("001_warehouse.sql").AddRow("002_load_log.sql"))
	mock.ExpectExec(`SELECT pg_advisory_unlock`).WithArgs(migrationLockID).WillReturnResult(pgxmock.NewResult("SELECT", 1))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate_LockError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`SELECT pg_advisory_lock`).WithArgs(migrationLockID).WillReturnError(fmt.Errorf("connection refused"))

	err := s.Migrate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "advisory lock")
	assert.NoError(t, mock.ExpectationsWereMet())
}
