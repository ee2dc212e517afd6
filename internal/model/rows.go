package model

import "time"

// TrackRow is one row of the tracks table.
type TrackRow struct {
	TrackID  string  `json:"track_id"`
	Title    string  `json:"title"`
	ArtistID string  `json:"artist_id"`
	Year     int     `json:"year"` // 0 = unknown
	Duration float64 `json:"duration"`
}

// ArtistRow is one row of the artists table.
type ArtistRow struct {
	ArtistID  string   `json:"artist_id"`
	Name      string   `json:"name"`
	Location  *string  `json:"location,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// CalendarRow is the time dimension for one playback timestamp.
// Weekday follows 0 = Monday .. 6 = Sunday.
type CalendarRow struct {
	StartTime time.Time `json:"start_time"`
	Hour      int       `json:"hour"`
	Day       int       `json:"day"`
	Week      int       `json:"week"`
	Month     int       `json:"month"`
	Year      int       `json:"year"`
	Weekday   int       `json:"weekday"`
}

// UserRow is the user dimension. Level is the only mutable column.
type UserRow struct {
	UserID    string `json:"user_id"`
	FirstName *string `json:"first_name,omitempty"`
	LastName  *string `json:"last_name,omitempty"`
	Gender    *string `json:"gender,omitempty"`
	Level     string  `json:"level"`
}

// SongplayRow is the fact row for one playback event. TrackID and ArtistID
// are nil when the event could not be matched against the catalog.
type SongplayRow struct {
	StartTime time.Time `json:"start_time"`
	UserID    string    `json:"user_id"`
	Level     string    `json:"level"`
	TrackID   *string   `json:"track_id,omitempty"`
	ArtistID  *string   `json:"artist_id,omitempty"`
	SessionID int64     `json:"session_id"`
	Location  *string   `json:"location,omitempty"`
	UserAgent *string   `json:"user_agent,omitempty"`
}

// Match is the outcome of a catalog lookup. The zero value means not found.
type Match struct {
	TrackID  *string `json:"track_id,omitempty"`
	ArtistID *string `json:"artist_id,omitempty"`
}

// Found reports whether the lookup resolved to a catalog entry.
func (m Match) Found() bool {
	return m.TrackID != nil && m.ArtistID != nil
}

// CatalogEntry is a joined track/artist pair used to resolve events.
type CatalogEntry struct {
	TrackID    string  `json:"track_id"`
	Title      string  `json:"title"`
	ArtistID   string  `json:"artist_id"`
	ArtistName string  `json:"artist_name"`
	Duration   float64 `json:"duration"`
}

// Batch holds every row produced from one source file, in production order.
type Batch struct {
	Tracks    []TrackRow    `json:"tracks,omitempty"`
	Artists   []ArtistRow   `json:"artists,omitempty"`
	Calendar  []CalendarRow `json:"calendar,omitempty"`
	Users     []UserRow     `json:"users,omitempty"`
	Songplays []SongplayRow `json:"songplays,omitempty"`
}

// Rows returns the total number of rows across all tables.
func (b *Batch) Rows() int {
	if b == nil {
		return 0
	}
	return len(b.Tracks) + len(b.Artists) + len(b.Calendar) + len(b.Users) + len(b.Songplays)
}
