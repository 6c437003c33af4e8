package domain

import (
	"strings"
	"time"
)

const clockLayout = "15:04"

// Slot is a candidate booking window on a given date. It is derived, never stored.
type Slot struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Label     string `json:"formatted_label"`
}

func NewSlot(start, end time.Time) Slot {
	return Slot{
		StartTime: start.Format(clockLayout),
		EndTime:   end.Format(clockLayout),
		Label:     start.Format("3:04 PM") + " - " + end.Format("3:04 PM"),
	}
}

// Bounds resolves the slot's clock times on date (midnight in the provider's location).
func (s Slot) Bounds(date time.Time) (start, end time.Time, err error) {
	start, err = clockOn(date, s.StartTime)
	if err != nil {
		return time.Time{}, time.Time{}, FieldError("start_time", "must be HH:MM")
	}
	end, err = clockOn(date, s.EndTime)
	if err != nil {
		return time.Time{}, time.Time{}, FieldError("end_time", "must be HH:MM")
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, FieldError("end_time", "must be after start_time")
	}
	return start, end, nil
}

func clockOn(date time.Time, clock string) (time.Time, error) {
	c, err := time.Parse(clockLayout, strings.TrimSpace(clock))
	if err != nil {
		return time.Time{}, err
	}
	y, m, d := date.Date()
	return time.Date(y, m, d, c.Hour(), c.Minute(), 0, 0, date.Location()), nil
}
