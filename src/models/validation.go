package models

import "time"

type ValidationStatus int

const (
	ValidationStatusPending ValidationStatus = iota + 1
	ValidationStatusPendingReserved
	ValidationStatusAccepted
	ValidationStatusRejected
	ValidationStatusCanceled
)

func (s ValidationStatus) String() string {
	switch s {
	case ValidationStatusPending:
		return "pending"
	case ValidationStatusPendingReserved:
		return "pending_reserved"
	case ValidationStatusAccepted:
		return "accepted"
	case ValidationStatusRejected:
		return "rejected"
	case ValidationStatusCanceled:
		return "canceled"
	}
	return "unknown"
}

// Pending and PendingReserved are the only non-terminal states. At most one
// validation per content may be in one of them.
func (s ValidationStatus) Active() bool {
	return s == ValidationStatusPending || s == ValidationStatusPendingReserved
}

// ActiveValidationStatuses is used in queries and in the partial unique index.
var ActiveValidationStatuses = []ValidationStatus{ValidationStatusPending, ValidationStatusPendingReserved}

type Validation struct {
	ID        int    `db:"id"`
	ContentID int    `db:"content_id"`
	Version   string `db:"version"` // commit pinned when validation was asked

	Status      ValidationStatus `db:"status"`
	ValidatorID *int             `db:"validator_id"`

	CommentAuthor    string `db:"comment_authors"`
	CommentValidator string `db:"comment_validator"`

	DateProposition time.Time  `db:"date_proposition"`
	DateReserve     *time.Time `db:"date_reserve"`
	DateValidation  *time.Time `db:"date_validation"`
}
