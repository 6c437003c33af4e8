package domain

import "time"

// Appointment event kinds. Each kind is published on its own topic.
const (
	EventBooked    = "booked"
	EventConfirmed = "confirmed"
	EventCompleted = "completed"
	EventCancelled = "cancelled"
	EventNoShow    = "no_show"
)

func AppointmentTopic(kind string) string {
	return "booking.appointment." + kind + ".v1"
}

// AppointmentTopics lists every topic an appointment event can appear on.
func AppointmentTopics() []string {
	kinds := []string{EventBooked, EventConfirmed, EventCompleted, EventCancelled, EventNoShow}
	topics := make([]string, 0, len(kinds))
	for _, k := range kinds {
		topics = append(topics, AppointmentTopic(k))
	}
	return topics
}

// EventKindFor maps a status reached through a transition to its event kind.
func EventKindFor(s Status) string {
	switch s {
	case StatusConfirmed:
		return EventConfirmed
	case StatusCompleted:
		return EventCompleted
	case StatusCancelled:
		return EventCancelled
	case StatusNoShow:
		return EventNoShow
	default:
		return EventBooked
	}
}

// AppointmentEvent is the payload of every appointment topic.
type AppointmentEvent struct {
	AppointmentID string    `json:"appointment_id"`
	Number        string    `json:"appointment_number"`
	ProviderID    string    `json:"provider_id"`
	PatientID     string    `json:"patient_id"`
	Date          string    `json:"appointment_date"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
	Status        Status    `json:"status"`
	Reason        string    `json:"reason,omitempty"`
	ActorID       string    `json:"actor_id,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

func NewAppointmentEvent(a Appointment, at time.Time) AppointmentEvent {
	evt := AppointmentEvent{
		AppointmentID: a.ID,
		Number:        a.Number,
		ProviderID:    a.ProviderID,
		PatientID:     a.PatientID,
		Date:          a.Date,
		StartTime:     a.StartTime,
		EndTime:       a.EndTime,
		Status:        a.Status,
		OccurredAt:    at,
	}
	if a.Cancellation != nil {
		evt.Reason = a.Cancellation.Reason
		evt.ActorID = a.Cancellation.ActorID
	}
	return evt
}
