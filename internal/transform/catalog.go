package transform

import (
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/playlog-cli/internal/model"
	"github.com/sells-group/playlog-cli/internal/source"
)

// CatalogPolicy decides what happens when a catalog file holds more than one record.
type CatalogPolicy string

const (
	// CatalogFirst loads the first record and logs how many were ignored.
	CatalogFirst CatalogPolicy = "first"
	// CatalogStrict rejects the file.
	CatalogStrict CatalogPolicy = "strict"
)

// ParseCatalogPolicy validates a policy name.
func ParseCatalogPolicy(s string) (CatalogPolicy, error) {
	switch CatalogPolicy(s) {
	case CatalogFirst, CatalogStrict:
		return CatalogPolicy(s), nil
	default:
		return "", eris.Errorf("unknown catalog policy: %q (valid: first, strict)", s)
	}
}

// ExtractCatalog projects one catalog record into its track and artist rows.
func ExtractCatalog(rec source.Record) (model.TrackRow, model.ArtistRow, error) {
	var (
		track  model.TrackRow
		artist model.ArtistRow
		err    error
	)

	if track.TrackID, err = rec.String("song_id"); err != nil {
		return track, artist, err
	}
	if track.Title, err = rec.String("title"); err != nil {
		return track, artist, err
	}
	if track.ArtistID, err = rec.String("artist_id"); err != nil {
		return track, artist, err
	}
	year, err := rec.Int("year")
	if err != nil {
		return track, artist, err
	}
	track.Year = int(year)
	if track.Duration, err = rec.Float("duration"); err != nil {
		return track, artist, err
	}

	artist.ArtistID = track.ArtistID
	if artist.Name, err = rec.String("artist_name"); err != nil {
		return track, artist, err
	}
	if artist.Location, err = rec.NullString("artist_location"); err != nil {
		return track, artist, err
	}
	if artist.Latitude, err = rec.NullFloat("artist_latitude"); err != nil {
		return track, artist, err
	}
	if artist.Longitude, err = rec.NullFloat("artist_longitude"); err != nil {
		return track, artist, err
	}

	return track, artist, nil
}

// CatalogBatch builds the batch for one catalog file according to policy.
func CatalogBatch(records []source.Record, policy CatalogPolicy) (*model.Batch, error) {
	if len(records) == 0 {
		return nil, &source.ParseError{Err: eris.New("catalog file has no records")}
	}
	if len(records) > 1 {
		if policy == CatalogStrict {
			return nil, &source.ParseError{
				Line: records[1].Line,
				Err:  eris.Errorf("catalog file has %d records, expected 1", len(records)),
			}
		}
		zap.L().Warn("catalog file has extra records, loading the first only",
			zap.String("component", "transform.catalog"),
			zap.Int("ignored", len(records)-1),
		)
	}

	track, artist, err := ExtractCatalog(records[0])
	if err != nil {
		return nil, err
	}
	return &model.Batch{
		Tracks:  []model.TrackRow{track},
		Artists: []model.ArtistRow{artist},
	}, nil
}
