// Package validation runs the editorial review of a content: an author asks
// for a commit to be reviewed, a validator reserves the proposal and then
// accepts it, which publishes that commit, or rejects it.
package validation

import (
	"fmt"

	"git.handmade.network/hmn/tutorials/src/models"
)

type Event int

const (
	EventReserve Event = iota + 1
	EventUnreserve
	EventCancel
	EventReject
	EventAccept
)

func (e Event) String() string {
	switch e {
	case EventReserve:
		return "reserve"
	case EventUnreserve:
		return "unreserve"
	case EventCancel:
		return "cancel"
	case EventReject:
		return "reject"
	case EventAccept:
		return "accept"
	}
	return "unknown"
}

var transitions = map[models.ValidationStatus]map[Event]models.ValidationStatus{
	models.ValidationStatusPending: {
		EventReserve: models.ValidationStatusPendingReserved,
		EventCancel:  models.ValidationStatusCanceled,
	},
	models.ValidationStatusPendingReserved: {
		EventUnreserve: models.ValidationStatusPending,
		EventCancel:    models.ValidationStatusCanceled,
		EventReject:    models.ValidationStatusRejected,
		EventAccept:    models.ValidationStatusAccepted,
	},
}

// TransitionError is an event that the proposal's status does not allow. It
// matches models.ErrInvalidTransition.
type TransitionError struct {
	From  models.ValidationStatus
	Event Event
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s a %s validation", e.Event, e.From)
}

func (e *TransitionError) Unwrap() error {
	return models.ErrInvalidTransition
}

// Next is the status a proposal moves to on an event.
func Next(from models.ValidationStatus, event Event) (models.ValidationStatus, error) {
	to, ok := transitions[from][event]
	if !ok {
		return 0, &TransitionError{From: from, Event: event}
	}
	return to, nil
}
