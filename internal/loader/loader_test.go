package loader

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/playlog-cli/internal/model"
	"github.com/sells-group/playlog-cli/internal/resolve"
	"github.com/sells-group/playlog-cli/internal/source"
	"github.com/sells-group/playlog-cli/internal/store"
	"github.com/sells-group/playlog-cli/internal/transform"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

const (
	catalogT1 = `{"num_songs":1,"artist_id":"A1","artist_latitude":null,"artist_longitude":null,"artist_location":"","artist_name":"Artist A","song_id":"T1","title":"Song A","duration":210.5,"year":2000}`
	catalogT2 = `{"num_songs":1,"artist_id":"A2","artist_latitude":45.5,"artist_longitude":-122.6,"artist_location":"Portland, OR","artist_name":"Artist B","song_id":"T2","title":"Song B","duration":180.25,"year":0}`
)

func nextSong(ts int64, song, artist string, length float64, userID, level string) string {
	return fmt.Sprintf(`{"artist":%q,"auth":"Logged In","firstName":"Ann","gender":"F","itemInSession":0,"lastName":"Lee","length":%v,"level":%q,"location":"Portland, OR","method":"PUT","page":"NextSong","registration":1540919166796,"sessionId":139,"song":%q,"status":200,"ts":%d,"userAgent":"Mozilla/5.0","userId":%q}`,
		artist, length, level, song, ts, userID)
}

func homePage(ts int64, userID string) string {
	return fmt.Sprintf(`{"artist":null,"auth":"Logged In","firstName":"Ann","gender":"F","itemInSession":1,"lastName":"Lee","length":null,"level":"free","location":"Portland, OR","method":"GET","page":"Home","registration":1540919166796,"sessionId":139,"song":null,"status":200,"ts":%d,"userAgent":"Mozilla/5.0","userId":%q}`,
		ts, userID)
}

func writeFile(t *testing.T, path string, lines ...string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
}

type fixture struct {
	st          *store.SQLiteStore
	catalogRoot string
	logRoot     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	st, err := store.NewSQLite(filepath.Join(dir, "warehouse.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	f := &fixture{
		st:          st,
		catalogRoot: filepath.Join(dir, "song_data"),
		logRoot:     filepath.Join(dir, "log_data"),
	}
	require.NoError(t, os.MkdirAll(f.catalogRoot, 0o755))
	require.NoError(t, os.MkdirAll(f.logRoot, 0o755))
	return f
}

func (f *fixture) loader(mode resolve.Mode, out io.Writer) *Loader {
	return New(f.st, Options{
		CatalogRoot: f.catalogRoot,
		LogRoot:     f.logRoot,
		CommitEvery: 1,
		Resolver:    mode,
		Tolerance:   0.001,
	}, out)
}

func (f *fixture) count(t *testing.T, table string) int {
	t.Helper()
	var n int
	require.NoError(t, f.st.DB().QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

type songplay struct {
	userID   string
	level    string
	trackID  sql.NullString
	artistID sql.NullString
}

func (f *fixture) songplays(t *testing.T) []songplay {
	t.Helper()
	rows, err := f.st.DB().Query("SELECT user_id, level, track_id, artist_id FROM songplays ORDER BY songplay_id")
	require.NoError(t, err)
	defer rows.Close() //nolint:errcheck

	var out []songplay
	for rows.Next() {
		var sp songplay
		require.NoError(t, rows.Scan(&sp.userID, &sp.level, &sp.trackID, &sp.artistID))
		out = append(out, sp)
	}
	require.NoError(t, rows.Err())
	return out
}

func (f *fixture) userLevel(t *testing.T, userID string) string {
	t.Helper()
	var level string
	require.NoError(t, f.st.DB().QueryRow("SELECT level FROM users WHERE user_id = ?", userID).Scan(&level))
	return level
}

func TestLoad_CatalogThenEvents(t *testing.T) {
	for _, mode := range []resolve.Mode{resolve.ModeIndex, resolve.ModeQuery} {
		t.Run(string(mode), func(t *testing.T) {
			f := newFixture(t)
			writeFile(t, filepath.Join(f.catalogRoot, "A", "T1.json"), catalogT1)
			writeFile(t, filepath.Join(f.logRoot, "2018", "11", "2018-11-08-events.json"),
				nextSong(1541721400000, "Song A", "Artist A", 210.5, "7", "free"),
				homePage(1541721500000, "7"),
			)

			var out bytes.Buffer
			sum, err := f.loader(mode, &out).Load(context.Background())
			require.NoError(t, err)

			assert.Equal(t, 1, f.count(t, "tracks"))
			var trackID string
			require.NoError(t, f.st.DB().QueryRow("SELECT track_id FROM tracks").Scan(&trackID))
			assert.Equal(t, "T1", trackID)
			assert.Equal(t, 1, f.count(t, "artists"))

			assert.Equal(t, 1, f.count(t, "calendar"))
			var hour, weekday int
			require.NoError(t, f.st.DB().QueryRow("SELECT hour, weekday FROM calendar").Scan(&hour, &weekday))
			assert.Equal(t, 23, hour)
			assert.Equal(t, 3, weekday)

			assert.Equal(t, 1, f.count(t, "users"))
			assert.Equal(t, "free", f.userLevel(t, "7"))

			plays := f.songplays(t)
			require.Len(t, plays, 1)
			assert.Equal(t, "7", plays[0].userID)
			assert.Equal(t, "T1", plays[0].trackID.String)
			assert.Equal(t, "A1", plays[0].artistID.String)

			assert.Equal(t, 1, sum.Catalog.FilesDone)
			assert.Equal(t, int64(2), sum.Catalog.RowsLoaded)
			assert.Equal(t, 1, sum.Events.FilesDone)
			assert.Equal(t, int64(3), sum.Events.RowsLoaded)

			assert.Equal(t, "1 files found in "+f.catalogRoot+"\n"+
				"1/1 files processed.\n"+
				"1 files found in "+f.logRoot+"\n"+
				"1/1 files processed.\n", out.String())
		})
	}
}

func TestLoad_TierChangeLastLevelWins(t *testing.T) {
	f := newFixture(t)
	writeFile(t, filepath.Join(f.logRoot, "events.json"),
		nextSong(1541721400000, "Song A", "Artist A", 210.5, "7", "free"),
		nextSong(1541721600000, "Song A", "Artist A", 210.5, "7", "paid"),
	)

	_, err := f.loader(resolve.ModeIndex, nil).Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, f.count(t, "users"))
	assert.Equal(t, "paid", f.userLevel(t, "7"))

	plays := f.songplays(t)
	require.Len(t, plays, 2)
	assert.Equal(t, "free", plays[0].level)
	assert.Equal(t, "paid", plays[1].level)
}

func TestLoad_UnmatchedEventStillInserted(t *testing.T) {
	f := newFixture(t)
	writeFile(t, filepath.Join(f.catalogRoot, "T1.json"), catalogT1)
	writeFile(t, filepath.Join(f.logRoot, "events.json"),
		nextSong(1541721400000, "Song Z", "Nobody", 99.9, "7", "free"),
		nextSong(1541721600000, "Song A", "Artist A", 215, "8", "free"),
	)

	_, err := f.loader(resolve.ModeIndex, nil).Load(context.Background())
	require.NoError(t, err)

	plays := f.songplays(t)
	require.Len(t, plays, 2)
	for _, sp := range plays {
		assert.False(t, sp.trackID.Valid)
		assert.False(t, sp.artistID.Valid)
	}
}

func TestLoad_RerunDoesNotDuplicate(t *testing.T) {
	f := newFixture(t)
	writeFile(t, filepath.Join(f.catalogRoot, "T1.json"), catalogT1)
	writeFile(t, filepath.Join(f.catalogRoot, "T2.json"), catalogT2)
	writeFile(t, filepath.Join(f.logRoot, "a.json"),
		nextSong(1541721400000, "Song A", "Artist A", 210.5, "7", "free"),
		nextSong(1541721600000, "Song B", "Artist B", 180.25, "8", "paid"),
	)
	writeFile(t, filepath.Join(f.logRoot, "b.json"),
		nextSong(1541721400000, "Song A", "Artist A", 210.5, "7", "free"),
	)

	ctx := context.Background()
	_, err := f.loader(resolve.ModeIndex, nil).Load(ctx)
	require.NoError(t, err)
	_, err = f.loader(resolve.ModeQuery, nil).Load(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, f.count(t, "tracks"))
	assert.Equal(t, 2, f.count(t, "artists"))
	assert.Equal(t, 2, f.count(t, "calendar"))
	assert.Equal(t, 2, f.count(t, "users"))
	assert.Equal(t, 2, f.count(t, "songplays"))

	runs, err := f.st.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 4)
	for _, r := range runs {
		assert.Equal(t, model.RunStatusComplete, r.Status)
	}
}

func TestLoad_ParseFailureKeepsCommittedFiles(t *testing.T) {
	f := newFixture(t)
	writeFile(t, filepath.Join(f.logRoot, "a.json"),
		nextSong(1541721400000, "Song A", "Artist A", 210.5, "7", "free"),
	)
	bad := filepath.Join(f.logRoot, "b.json")
	writeFile(t, bad,
		nextSong(1541721600000, "Song A", "Artist A", 210.5, "8", "free"),
		`{"page":"NextSong","ts":`,
	)
	writeFile(t, filepath.Join(f.logRoot, "c.json"),
		nextSong(1541721800000, "Song A", "Artist A", 210.5, "9", "free"),
	)

	var out bytes.Buffer
	sum, err := f.loader(resolve.ModeIndex, &out).Load(context.Background())
	require.Error(t, err)

	var pe *source.ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, bad, pe.Path)
	assert.Equal(t, 2, pe.Line)

	assert.Equal(t, 1, sum.Events.FilesDone)
	assert.Equal(t, 1, f.count(t, "songplays"))
	assert.Equal(t, 1, f.count(t, "users"))
	assert.Contains(t, out.String(), "1/3 files processed.\n")
	assert.NotContains(t, out.String(), "2/3 files processed.")

	runs, err := f.st.ListRuns(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.SourceEvents, runs[0].Source)
	assert.Equal(t, model.RunStatusFailed, runs[0].Status)
	assert.Equal(t, 1, runs[0].FilesDone)
	assert.NotEmpty(t, runs[0].Error)
}

func TestLoad_MissingField(t *testing.T) {
	f := newFixture(t)
	writeFile(t, filepath.Join(f.logRoot, "events.json"),
		`{"page":"NextSong","ts":1541721400000,"userId":"7","level":"free","song":"Song A","artist":"Artist A","length":210.5}`,
	)

	_, err := f.loader(resolve.ModeIndex, nil).Load(context.Background())
	require.Error(t, err)

	var mf *source.MissingFieldError
	require.ErrorAs(t, err, &mf)
	assert.Equal(t, "sessionId", mf.Field)
	assert.Equal(t, 0, f.count(t, "songplays"))
}

func TestLoad_CatalogPolicy(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(f.catalogRoot, "multi.json")
	writeFile(t, path, catalogT1, catalogT2)

	strict := New(f.st, Options{
		CatalogRoot:   f.catalogRoot,
		LogRoot:       f.logRoot,
		CatalogPolicy: transform.CatalogStrict,
	}, nil)
	_, err := strict.Load(context.Background())
	var pe *source.ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, path, pe.Path)
	assert.Equal(t, 0, f.count(t, "tracks"))

	_, err = f.loader(resolve.ModeIndex, nil).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, f.count(t, "tracks"))
}

func TestLoad_MissingRoot(t *testing.T) {
	f := newFixture(t)
	l := New(f.st, Options{
		CatalogRoot: filepath.Join(t.TempDir(), "nope"),
		LogRoot:     f.logRoot,
	}, nil)

	_, err := l.Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loader: stat root")
}

func TestLoad_TrackAddedAfterIndexDoesNotResolve(t *testing.T) {
	f := newFixture(t)
	writeFile(t, filepath.Join(f.logRoot, "events.json"),
		nextSong(1541721400000, "Song A", "Artist A", 210.5, "7", "free"),
	)
	l := f.loader(resolve.ModeIndex, nil)

	resolver, err := l.resolver(context.Background())
	require.NoError(t, err)

	tx, err := f.st.Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, tx.Apply(context.Background(), &model.Batch{
		Tracks:  []model.TrackRow{{TrackID: "T1", Title: "Song A", ArtistID: "A1", Year: 2000, Duration: 210.5}},
		Artists: []model.ArtistRow{{ArtistID: "A1", Name: "Artist A"}},
	}))
	require.NoError(t, tx.Commit(context.Background()))

	m, err := resolver.Resolve(context.Background(), "Song A", "Artist A", 210.5)
	require.NoError(t, err)
	assert.False(t, m.Found())
}

func TestWithPath(t *testing.T) {
	pe := &source.ParseError{Line: 3, Err: errors.New("bad")}
	err := withPath(pe, "/data/x.json")
	assert.Equal(t, "/data/x.json", pe.Path)
	assert.Equal(t, "parse /data/x.json:3: bad", err.Error())

	kept := &source.ParseError{Path: "/data/a.json", Err: errors.New("bad")}
	_ = withPath(kept, "/data/b.json")
	assert.Equal(t, "/data/a.json", kept.Path)

	assert.NoError(t, withPath(nil, "/data/x.json"))
}
