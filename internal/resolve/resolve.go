// Package resolve maps a played (title, artist name, duration) triple to the
// catalog's track and artist ids.
package resolve

import (
	"context"
	"math"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/playlog-cli/internal/model"
)

// Mode selects how events are resolved against the catalog.
type Mode string

const (
	// ModeIndex resolves against an in-memory index built once per event phase.
	ModeIndex Mode = "index"
	// ModeQuery issues one storage lookup per event.
	ModeQuery Mode = "query"
)

// ParseMode validates a configured resolver name.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeIndex, ModeQuery:
		return Mode(s), nil
	default:
		return "", eris.Errorf("resolve: unknown resolver %q (want index or query)", s)
	}
}

// TrackLookup is the storage point lookup used by QueryResolver.
type TrackLookup interface {
	LookupTrack(ctx context.Context, title, artist string, duration, tolerance float64) (model.Match, error)
}

// CatalogSource lists every persisted track joined with its artist.
type CatalogSource interface {
	CatalogEntries(ctx context.Context) ([]model.CatalogEntry, error)
}

// QueryResolver resolves each event with a storage query.
type QueryResolver struct {
	lookup    TrackLookup
	tolerance float64
}

// NewQueryResolver creates a QueryResolver. tolerance is the allowed absolute
// difference in seconds between the event length and the track duration.
func NewQueryResolver(lookup TrackLookup, tolerance float64) *QueryResolver {
	return &QueryResolver{lookup: lookup, tolerance: tolerance}
}

// Resolve returns the matching ids, or the zero Match when nothing matches.
func (r *QueryResolver) Resolve(ctx context.Context, title, artist string, duration float64) (model.Match, error) {
	return r.lookup.LookupTrack(ctx, title, artist, duration, r.tolerance)
}

type indexKey struct {
	title  string
	artist string
}

type candidate struct {
	trackID  string
	artistID string
	duration float64
}

// Index is an in-memory copy of the catalog keyed by (title, artist name).
// It is read-only after construction.
type Index struct {
	byKey     map[indexKey][]candidate
	tolerance float64
}

// NewIndex builds an Index from catalog entries. Candidates sharing a key are
// ordered by track id so the lowest id within tolerance wins.
func NewIndex(entries []model.CatalogEntry, tolerance float64) *Index {
	idx := &Index{
		byKey:     make(map[indexKey][]candidate, len(entries)),
		tolerance: tolerance,
	}
	for _, e := range entries {
		k := indexKey{title: e.Title, artist: e.ArtistName}
		idx.byKey[k] = append(idx.byKey[k], candidate{
			trackID:  e.TrackID,
			artistID: e.ArtistID,
			duration: e.Duration,
		})
	}
	for _, cands := range idx.byKey {
		sort.Slice(cands, func(i, j int) bool { return cands[i].trackID < cands[j].trackID })
	}
	return idx
}

// Build reads the persisted catalog and indexes it.
func Build(ctx context.Context, src CatalogSource, tolerance float64) (*Index, error) {
	entries, err := src.CatalogEntries(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "resolve: load catalog")
	}
	idx := NewIndex(entries, tolerance)
	zap.L().Info("catalog index built",
		zap.Int("tracks", len(entries)),
		zap.Int("keys", len(idx.byKey)),
	)
	return idx, nil
}

// Len returns the number of distinct (title, artist name) keys.
func (x *Index) Len() int {
	return len(x.byKey)
}

// Resolve returns the matching ids, or the zero Match when nothing matches.
func (x *Index) Resolve(_ context.Context, title, artist string, duration float64) (model.Match, error) {
	for _, c := range x.byKey[indexKey{title: title, artist: artist}] {
		if math.Abs(c.duration-duration) <= x.tolerance {
			trackID, artistID := c.trackID, c.artistID
			return model.Match{TrackID: &trackID, ArtistID: &artistID}, nil
		}
	}
	return model.Match{}, nil
}
