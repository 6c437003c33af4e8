package outbox

import (
	"encoding/json"
	"time"

	"github.com/md-rashed-zaman/carebook/libs/domain"
)

// Event is the envelope written to the outbox table.
// The Kafka topic name equals EventType.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// AppointmentEvent builds the outbox row for an appointment lifecycle event.
func AppointmentEvent(a domain.Appointment, kind string, at time.Time) (Event, error) {
	payload, err := json.Marshal(domain.NewAppointmentEvent(a, at))
	if err != nil {
		return Event{}, err
	}
	return Event{
		AggregateType: "appointment",
		AggregateID:   a.ID,
		EventType:     domain.AppointmentTopic(kind),
		Payload:       payload,
	}, nil
}
