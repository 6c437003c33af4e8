package domain

import (
	"fmt"
	"time"
)

const minutesPerDay = 24 * 60

// DayHours is one weekday of a provider's operating hours. Open and Close are
// minutes after midnight.
type DayHours struct {
	Weekday time.Weekday `json:"weekday"`
	Closed  bool         `json:"closed"`
	Open    int          `json:"open_minute"`
	Close   int          `json:"close_minute"`
}

func (d DayHours) Validate() error {
	if d.Weekday < time.Sunday || d.Weekday > time.Saturday {
		return FieldError("weekday", "weekday must be 0..6")
	}
	if d.Closed {
		return nil
	}
	if d.Open < 0 || d.Close > minutesPerDay || d.Open >= d.Close {
		return FieldError("hours", fmt.Sprintf("%s: open must be before close within the day", d.Weekday))
	}
	return nil
}

// Window returns the open interval of d on date in date's location. Open and
// Close are wall-clock minutes, so the window keeps its clock times on days
// with a DST change. ok is false when the day is closed.
func (d DayHours) Window(date time.Time) (start, end time.Time, ok bool) {
	if d.Closed {
		return time.Time{}, time.Time{}, false
	}
	return wallClock(date, d.Open), wallClock(date, d.Close), true
}

// wallClock is minute of the day on date; minutesPerDay is the next midnight.
func wallClock(date time.Time, minute int) time.Time {
	y, m, day := date.Date()
	if minute >= minutesPerDay {
		return time.Date(y, m, day+1, 0, 0, 0, 0, date.Location())
	}
	return time.Date(y, m, day, minute/60, minute%60, 0, 0, date.Location())
}

// OperatingHours is indexed by time.Weekday.
type OperatingHours [7]DayHours

// DefaultOperatingHours is Monday to Friday 09:00-17:00, closed at weekends.
func DefaultOperatingHours() OperatingHours {
	var oh OperatingHours
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		oh[wd] = DayHours{Weekday: wd, Open: 9 * 60, Close: 17 * 60}
		if wd == time.Saturday || wd == time.Sunday {
			oh[wd].Closed = true
		}
	}
	return oh
}

func (oh OperatingHours) ForDate(date time.Time) DayHours {
	return oh[date.Weekday()]
}

func (oh OperatingHours) Validate() error {
	for i, d := range oh {
		if d.Weekday != time.Weekday(i) {
			return FieldError("weekday", fmt.Sprintf("entry %d has weekday %d", i, d.Weekday))
		}
		if err := d.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// FromDays builds a table from a weekday list; missing days are closed and a
// day listed twice is rejected.
func FromDays(days []DayHours) (OperatingHours, error) {
	var oh OperatingHours
	seen := make(map[time.Weekday]bool, len(days))
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		oh[wd] = DayHours{Weekday: wd, Closed: true}
	}
	for _, d := range days {
		if err := d.Validate(); err != nil {
			return OperatingHours{}, err
		}
		if seen[d.Weekday] {
			return OperatingHours{}, FieldError("weekday", fmt.Sprintf("%s listed more than once", d.Weekday))
		}
		seen[d.Weekday] = true
		oh[d.Weekday] = d
	}
	return oh, nil
}

type Service struct {
	ID              string  `json:"id"`
	ProviderID      string  `json:"provider_id"`
	Name            string  `json:"name"`
	DurationMinutes int     `json:"duration_minutes"`
	PriceMin        float64 `json:"price_min"`
	PriceMax        float64 `json:"price_max"`
}

type ScheduleInfo struct {
	ProviderID     string         `json:"provider_id"`
	Timezone       string         `json:"timezone"`
	OperatingHours OperatingHours `json:"operating_hours"`
	Services       []Service      `json:"services"`
}
