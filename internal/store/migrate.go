package store

import (
	"embed"
	"io/fs"
	"path"
	"sort"

	"github.com/rotisserie/eris"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationFS embed.FS

// migration is one embedded SQL file.
type migration struct {
	Name string
	SQL  string
}

// pendingMigrations returns the dialect's migrations not yet in applied,
// in lexicographic (= numeric, zero-padded) order.
func pendingMigrations(dialect string, applied map[string]bool) ([]migration, error) {
	dir := path.Join("migrations", dialect)
	entries, err := fs.ReadDir(migrationFS, dir)
	if err != nil {
		return nil, eris.Wrapf(err, "migrate: read migration dir %s", dir)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	var out []migration
	for _, entry := range entries {
		name := entry.Name()
		if applied[name] {
			continue
		}
		data, err := migrationFS.ReadFile(path.Join(dir, name))
		if err != nil {
			return nil, eris.Wrapf(err, "migrate: read migration %s", name)
		}
		out = append(out, migration{Name: name, SQL: string(data)})
	}
	return out, nil
}
