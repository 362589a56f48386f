package scheduling

import (
	"context"
	"time"

	"github.com/cvaldebenito/vetbook/services/appointment-service/internal/model"
)

// Slot identifies a potential scheduling collision.
type Slot struct {
	PetID     string
	Date      time.Time
	TimeOfDay string
}

// Tx is the transaction-scoped view of appointment storage. Every method
// observes and is observed by the surrounding transaction, which is what
// makes the conflict check safe against concurrent commits.
type Tx interface {
	// HasConflict reports whether a non-cancelled appointment other than
	// excludeID occupies the slot. matchTime narrows the comparison from
	// (pet, date) to (pet, date, time).
	HasConflict(ctx context.Context, slot Slot, excludeID string, matchTime bool) (bool, error)
	Insert(ctx context.Context, appt *model.Appointment) error
	// GetForUpdate loads and row-locks an appointment, or ErrNotFound.
	GetForUpdate(ctx context.Context, id string) (*model.Appointment, error)
	Replace(ctx context.Context, appt *model.Appointment) error
	// Delete removes the record and returns it, or ErrNotFound.
	Delete(ctx context.Context, id string) (*model.Appointment, error)
	// AppendEvent writes a domain event to the transactional outbox.
	AppendEvent(ctx context.Context, eventType string, appt *model.Appointment) error
}

// Store is the appointment persistence boundary used by the engine.
type Store interface {
	// Atomic runs fn inside a transaction; any error rolls everything back.
	Atomic(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetByID(ctx context.Context, id string) (*model.Appointment, error)
	ListAll(ctx context.Context) ([]model.Appointment, error)
	ListByPet(ctx context.Context, petID string) ([]model.Appointment, error)
}

// PetStore is the read-only pet registry consulted for display fields.
type PetStore interface {
	GetByID(ctx context.Context, id string) (*model.Pet, bool, error)
}

// Notifier delivers appointment emails. Failure is observable so the
// coordinator can abort the owning transaction.
type Notifier interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}
