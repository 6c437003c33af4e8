package domain

import (
	"fmt"
	"strings"
	"time"
)

const DateLayout = "2006-01-02"

type AppointmentService struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	DurationMinutes int     `json:"duration_minutes"`
	Price           float64 `json:"price"`
}

type Cancellation struct {
	Reason    string    `json:"reason"`
	ActorID   string    `json:"actor_id"`
	ActorRole string    `json:"actor_role"`
	At        time.Time `json:"at"`
}

type Appointment struct {
	ID           string               `json:"id"`
	Number       string               `json:"appointment_number"`
	PatientID    string               `json:"patient_id"`
	PatientName  string               `json:"patient_name,omitempty"`
	ProviderID   string               `json:"provider_id"`
	Services     []AppointmentService `json:"services"`
	Date         string               `json:"appointment_date"`
	StartTime    time.Time            `json:"start_time"`
	EndTime      time.Time            `json:"end_time"`
	Status       Status               `json:"status"`
	Notes        string               `json:"notes,omitempty"`
	TotalPrice   float64              `json:"total_price"`
	Cancellation *Cancellation        `json:"cancellation,omitempty"`
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
}

func (a Appointment) Duration() time.Duration {
	return a.EndTime.Sub(a.StartTime)
}

// Overlaps uses half-open intervals: [start,end) against [a.StartTime,a.EndTime).
func (a Appointment) Overlaps(start, end time.Time) bool {
	return start.Before(a.EndTime) && end.After(a.StartTime)
}

// Blocking reports whether the appointment still occupies its window.
func (a Appointment) Blocking() bool {
	return a.Status.Blocking()
}

func (a Appointment) ServiceIDs() []string {
	ids := make([]string, 0, len(a.Services))
	for _, s := range a.Services {
		ids = append(ids, s.ID)
	}
	return ids
}

// AppointmentNumber formats APT-YYYYMMDD-XXXXXX from the booking time and an
// opaque suffix source (usually a uuid).
func AppointmentNumber(at time.Time, suffix string) string {
	s := strings.ToUpper(strings.ReplaceAll(suffix, "-", ""))
	if len(s) > 6 {
		s = s[:6]
	}
	return fmt.Sprintf("APT-%s-%s", at.Format("20060102"), s)
}

// ParseDate parses YYYY-MM-DD as midnight in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	d, err := time.ParseInLocation(DateLayout, strings.TrimSpace(s), loc)
	if err != nil {
		return time.Time{}, FieldError("date", "must be a date in YYYY-MM-DD format")
	}
	return d, nil
}

// In returns a copy with its timestamps expressed in loc.
func (a Appointment) In(loc *time.Location) Appointment {
	if loc == nil {
		return a
	}
	a.StartTime = a.StartTime.In(loc)
	a.EndTime = a.EndTime.In(loc)
	if a.Cancellation != nil {
		c := *a.Cancellation
		c.At = c.At.In(loc)
		a.Cancellation = &c
	}
	return a
}
