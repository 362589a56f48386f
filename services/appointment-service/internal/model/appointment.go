package model

import "time"

// Status is the lifecycle state of an appointment. There are no automatic
// transitions; state only changes through explicit update or cancel.
type Status string

const (
	StatusPendingConfirmation Status = "pending_confirmation"
	StatusConfirmed           Status = "confirmed"
	StatusCancelledByClient   Status = "cancelled_by_client"
	StatusCancelledByProvider Status = "cancelled_by_provider"
)

// ParseStatus reports whether raw names a known status.
func ParseStatus(raw string) (Status, bool) {
	switch Status(raw) {
	case StatusPendingConfirmation, StatusConfirmed, StatusCancelledByClient, StatusCancelledByProvider:
		return Status(raw), true
	}
	return "", false
}

// Cancelled statuses do not participate in conflict detection.
func (s Status) Cancelled() bool {
	return s == StatusCancelledByClient || s == StatusCancelledByProvider
}

// DateLayout is the wire and storage format for appointment dates.
const DateLayout = "2006-01-02"

// TimeLayout is the wire format for the optional time-of-day component.
const TimeLayout = "15:04"

type Appointment struct {
	ID           string
	PetID        string
	Date         time.Time // calendar date, midnight UTC
	TimeOfDay    string    // HH:MM, empty when unspecified
	Reason       string
	ContactEmail string
	Status       Status
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
