// Package projector turns appointment collections into list and calendar views.
package projector

import "github.com/md-rashed-zaman/carebook/libs/domain"

type Category struct {
	Status domain.Status `json:"status"`
	Label  string        `json:"label"`
	Colour string        `json:"colour"`
}

var categories = map[domain.Status]Category{
	domain.StatusPending:   {Status: domain.StatusPending, Label: "Pending", Colour: "amber"},
	domain.StatusConfirmed: {Status: domain.StatusConfirmed, Label: "Confirmed", Colour: "blue"},
	domain.StatusCompleted: {Status: domain.StatusCompleted, Label: "Completed", Colour: "green"},
	domain.StatusCancelled: {Status: domain.StatusCancelled, Label: "Cancelled", Colour: "red"},
	domain.StatusNoShow:    {Status: domain.StatusNoShow, Label: "No show", Colour: "gray"},
}

func CategoryFor(s domain.Status) Category {
	if c, ok := categories[s]; ok {
		return c
	}
	return Category{Status: s, Label: string(s), Colour: "gray"}
}

// Entry is one appointment placed in a view.
type Entry struct {
	Appointment domain.Appointment `json:"appointment"`
	Category    Category           `json:"category"`
	// Continued marks an hour cell after the one the appointment starts in.
	Continued bool `json:"continued,omitempty"`
}

func entryFor(a domain.Appointment) Entry {
	return Entry{Appointment: a, Category: CategoryFor(a.Status)}
}
