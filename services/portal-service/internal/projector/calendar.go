package projector

import (
	"cmp"
	"slices"
	"time"

	"github.com/md-rashed-zaman/carebook/libs/domain"
)

type View string

const (
	ViewMonth View = "month"
	ViewWeek  View = "week"
	ViewDay   View = "day"
)

func ParseView(s string) (View, error) {
	switch View(s) {
	case ViewMonth, ViewWeek, ViewDay:
		return View(s), nil
	case "":
		return ViewMonth, nil
	}
	return "", domain.FieldError("view", "view must be month, week or day")
}

// CalendarRange is the inclusive date range a view of anchor displays.
func CalendarRange(view View, anchor time.Time, weekStart time.Weekday) (start, end time.Time) {
	day := dateOf(anchor)
	switch view {
	case ViewDay:
		return day, day
	case ViewWeek:
		start = startOfWeek(day, weekStart)
		return start, start.AddDate(0, 0, 6)
	default:
		first := time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, time.UTC)
		start = startOfWeek(first, weekStart)
		return start, start.AddDate(0, 0, 6*7-1)
	}
}

// dateOf drops the clock and zone, keeping the wall-clock date.
func dateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// wall re-reads t's wall clock as UTC so appointments from any provider
// zone bin by the local time they were booked in.
func wall(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC)
}

func startOfWeek(day time.Time, weekStart time.Weekday) time.Time {
	back := (int(day.Weekday()) - int(weekStart) + 7) % 7
	return day.AddDate(0, 0, -back)
}

func sortByStart(appts []domain.Appointment) []domain.Appointment {
	out := slices.Clone(appts)
	slices.SortStableFunc(out, func(a, b domain.Appointment) int {
		return cmp.Compare(a.StartTime.UnixNano(), b.StartTime.UnixNano())
	})
	return out
}

type DayCell struct {
	Date    string  `json:"date"`
	InMonth bool    `json:"in_month"`
	Entries []Entry `json:"entries"`
}

type MonthView struct {
	Year  int           `json:"year"`
	Month time.Month    `json:"month"`
	Weeks [6][7]DayCell `json:"weeks"`
}

// Month bins each appointment into the cell of its start date.
func Month(anchor time.Time, appts []domain.Appointment, weekStart time.Weekday) MonthView {
	start, _ := CalendarRange(ViewMonth, anchor, weekStart)
	v := MonthView{Year: anchor.Year(), Month: anchor.Month()}
	index := make(map[string]*DayCell, 42)
	for w := range v.Weeks {
		for d := range v.Weeks[w] {
			day := start.AddDate(0, 0, w*7+d)
			cell := &v.Weeks[w][d]
			cell.Date = day.Format(domain.DateLayout)
			cell.InMonth = day.Month() == v.Month
			cell.Entries = []Entry{}
			index[cell.Date] = cell
		}
	}
	for _, a := range sortByStart(appts) {
		if cell, ok := index[wall(a.StartTime).Format(domain.DateLayout)]; ok {
			cell.Entries = append(cell.Entries, entryFor(a))
		}
	}
	return v
}

// HourRange bounds the hour rows of week and day views, To exclusive.
type HourRange struct {
	From int
	To   int
}

var AllDay = HourRange{From: 0, To: 24}

func (h HourRange) normalize() HourRange {
	h.From = max(0, min(h.From, 23))
	h.To = max(h.From+1, min(h.To, 24))
	return h
}

type HourCell struct {
	Hour    int     `json:"hour"`
	Entries []Entry `json:"entries"`
}

type DayColumn struct {
	Date  string     `json:"date"`
	Hours []HourCell `json:"hours"`
}

type GridView struct {
	View View        `json:"view"`
	Days []DayColumn `json:"days"`
}

// Week lays out seven day columns of hour cells starting on weekStart.
func Week(anchor time.Time, appts []domain.Appointment, weekStart time.Weekday, hours HourRange) GridView {
	start, _ := CalendarRange(ViewWeek, anchor, weekStart)
	return grid(ViewWeek, start, 7, appts, hours)
}

func Day(date time.Time, appts []domain.Appointment, hours HourRange) GridView {
	return grid(ViewDay, dateOf(date), 1, appts, hours)
}

// grid places an appointment in every hour cell it overlaps, marking all but
// the first as continued.
func grid(view View, start time.Time, days int, appts []domain.Appointment, hours HourRange) GridView {
	hours = hours.normalize()
	sorted := sortByStart(appts)
	v := GridView{View: view, Days: make([]DayColumn, days)}
	for d := range v.Days {
		day := start.AddDate(0, 0, d)
		col := DayColumn{Date: day.Format(domain.DateLayout)}
		for h := hours.From; h < hours.To; h++ {
			cellStart := day.Add(time.Duration(h) * time.Hour)
			cellEnd := cellStart.Add(time.Hour)
			cell := HourCell{Hour: h, Entries: []Entry{}}
			for _, a := range sorted {
				s, e := wall(a.StartTime), wall(a.EndTime)
				if !e.After(s) {
					e = s.Add(time.Minute)
				}
				if s.Before(cellEnd) && e.After(cellStart) {
					entry := entryFor(a)
					entry.Continued = s.Before(cellStart)
					cell.Entries = append(cell.Entries, entry)
				}
			}
			col.Hours = append(col.Hours, cell)
		}
		v.Days[d] = col
	}
	return v
}
