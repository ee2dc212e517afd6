package transform

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/playlog-cli/internal/model"
	"github.com/sells-group/playlog-cli/internal/source"
)

// PlaybackPage is the only page value that produces rows.
const PlaybackPage = "NextSong"

// Resolver looks up catalog identifiers for a playback event.
type Resolver interface {
	Resolve(ctx context.Context, title, artist string, duration float64) (model.Match, error)
}

// EventTransformer turns the events of one log file into calendar, user
// and songplay rows.
type EventTransformer struct {
	resolver Resolver
}

// NewEventTransformer creates an EventTransformer backed by r.
func NewEventTransformer(r Resolver) *EventTransformer {
	return &EventTransformer{resolver: r}
}

// Transform filters records to playback events and, for each in file order,
// appends one calendar row, one user row and one songplay row. Unresolved
// events still yield a songplay row with nil track and artist ids.
func (t *EventTransformer) Transform(ctx context.Context, records []source.Record) (*model.Batch, error) {
	batch := &model.Batch{}

	for _, rec := range records {
		if !isPlayback(rec) {
			continue
		}

		ev, err := decodeEvent(rec)
		if err != nil {
			return nil, err
		}

		cal := Decompose(ev.ts)
		batch.Calendar = append(batch.Calendar, cal)
		batch.Users = append(batch.Users, model.UserRow{
			UserID:    ev.userID,
			FirstName: ev.firstName,
			LastName:  ev.lastName,
			Gender:    ev.gender,
			Level:     ev.level,
		})

		match, err := t.resolver.Resolve(ctx, ev.song, ev.artist, ev.length)
		if err != nil {
			return nil, eris.Wrapf(err, "transform: resolve line %d", rec.Line)
		}

		batch.Songplays = append(batch.Songplays, model.SongplayRow{
			StartTime: cal.StartTime,
			UserID:    ev.userID,
			Level:     ev.level,
			TrackID:   match.TrackID,
			ArtistID:  match.ArtistID,
			SessionID: ev.sessionID,
			Location:  ev.location,
			UserAgent: ev.userAgent,
		})
	}

	return batch, nil
}

type event struct {
	ts        int64
	userID    string
	firstName *string
	lastName  *string
	gender    *string
	level     string
	song      string
	artist    string
	length    float64
	sessionID int64
	location  *string
	userAgent *string
}

// isPlayback reports whether rec carries page NextSong. Records with the key
// absent, null or mistyped are not playback events.
func isPlayback(rec source.Record) bool {
	page, err := rec.NullString("page")
	return err == nil && page != nil && *page == PlaybackPage
}

func decodeEvent(rec source.Record) (event, error) {
	var (
		ev  event
		err error
	)
	if ev.ts, err = rec.Int("ts"); err != nil {
		return ev, err
	}
	if ev.userID, err = rec.Text("userId"); err != nil {
		return ev, err
	}
	if ev.level, err = rec.String("level"); err != nil {
		return ev, err
	}
	if ev.song, err = rec.String("song"); err != nil {
		return ev, err
	}
	if ev.artist, err = rec.String("artist"); err != nil {
		return ev, err
	}
	if ev.length, err = rec.Float("length"); err != nil {
		return ev, err
	}
	if ev.sessionID, err = rec.Int("sessionId"); err != nil {
		return ev, err
	}

	ev.firstName = optionalString(rec, "firstName")
	ev.lastName = optionalString(rec, "lastName")
	ev.gender = optionalString(rec, "gender")
	ev.location = optionalString(rec, "location")
	ev.userAgent = optionalString(rec, "userAgent")
	return ev, nil
}

// optionalString reads a descriptive field; absent, null or mistyped values become nil.
func optionalString(rec source.Record, key string) *string {
	s, err := rec.NullText(key)
	if err != nil {
		return nil
	}
	return s
}
