package scheduling

import (
	"errors"
	"fmt"
)

// ErrNotFound means the appointment id is unknown (or already deleted).
var ErrNotFound = errors.New("appointment not found")

// ConflictError means the pet is already booked for the slot. It is a
// domain error, deliberately distinct from validation failures.
type ConflictError struct {
	PetID     string
	Date      string
	TimeOfDay string
}

func (e *ConflictError) Error() string {
	if e.TimeOfDay == "" {
		return fmt.Sprintf("pet %s already has an appointment on %s", e.PetID, e.Date)
	}
	return fmt.Sprintf("pet %s already has an appointment on %s at %s", e.PetID, e.Date, e.TimeOfDay)
}

// NotificationError means the confirmation email could not be confirmed.
// The coordinator rolls back the whole mutation when it occurs.
type NotificationError struct {
	Err error
}

func (e *NotificationError) Error() string {
	return "notification failed: " + e.Err.Error()
}

func (e *NotificationError) Unwrap() error { return e.Err }

// PersistError means the storage layer failed inside the atomic boundary.
type PersistError struct {
	Op  string
	Err error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist failed in %s: %v", e.Op, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }
