// Package transform turns parsed source records into warehouse rows.
package transform

import (
	"time"

	"github.com/sells-group/playlog-cli/internal/model"
)

// Decompose converts an epoch-millisecond timestamp into its calendar row.
// All fields are computed in UTC. Week is the ISO 8601 week number and
// Weekday counts from Monday = 0 to Sunday = 6.
func Decompose(ts int64) model.CalendarRow {
	t := time.UnixMilli(ts).UTC()
	_, week := t.ISOWeek()
	return model.CalendarRow{
		StartTime: t,
		Hour:      t.Hour(),
		Day:       t.Day(),
		Week:      week,
		Month:     int(t.Month()),
		Year:      t.Year(),
		Weekday:   mondayWeekday(t.Weekday()),
	}
}

// mondayWeekday shifts time.Weekday (Sunday = 0) to Monday = 0.
func mondayWeekday(d time.Weekday) int {
	return (int(d) + 6) % 7
}
