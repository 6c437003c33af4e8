package domain

import "fmt"

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusNoShow    Status = "no_show"
)

// Statuses lists every status in display order.
var Statuses = []Status{StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled, StatusNoShow}

var transitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusCancelled, StatusNoShow},
	StatusConfirmed: {StatusCompleted, StatusCancelled, StatusNoShow},
}

func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", Validation("invalid_status", fmt.Sprintf("unknown status %q", s), map[string][]string{
			"status": {"must be one of pending, confirmed, completed, cancelled, no_show"},
		})
	}
	return st, nil
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	default:
		return false
	}
}

// Terminal statuses have no outgoing transitions.
func (s Status) Terminal() bool {
	return s.Valid() && len(transitions[s]) == 0
}

// Blocking reports whether an appointment in this status still holds its time window.
func (s Status) Blocking() bool {
	return s != StatusCancelled && s != StatusNoShow
}

func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition returns an invalid_state error when from -> to is not an edge of the lifecycle.
func Transition(from, to Status) error {
	if !CanTransition(from, to) {
		return InvalidState(fmt.Sprintf("cannot move appointment from %s to %s", from, to))
	}
	return nil
}

type Action string

const (
	ActionConfirm  Action = "confirm"
	ActionComplete Action = "complete"
	ActionCancel   Action = "cancel"
	ActionNoShow   Action = "no_show"
)

// ParseAction accepts the URL form ("no-show") as well as the canonical one.
func ParseAction(s string) (Action, error) {
	switch s {
	case "confirm":
		return ActionConfirm, nil
	case "complete":
		return ActionComplete, nil
	case "cancel":
		return ActionCancel, nil
	case "no_show", "no-show":
		return ActionNoShow, nil
	}
	return "", NotFound(fmt.Sprintf("unknown action %q", s))
}

func (a Action) Target() Status {
	switch a {
	case ActionConfirm:
		return StatusConfirmed
	case ActionComplete:
		return StatusCompleted
	case ActionCancel:
		return StatusCancelled
	case ActionNoShow:
		return StatusNoShow
	}
	return ""
}

func (a Action) RequiresReason() bool {
	return a == ActionCancel || a == ActionNoShow
}

// Path is the URL segment used by the appointment action routes.
func (a Action) Path() string {
	if a == ActionNoShow {
		return "no-show"
	}
	return string(a)
}
