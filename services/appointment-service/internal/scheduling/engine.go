// Package scheduling is the appointment core: it decides whether a
// requested slot is valid and non-conflicting, computes the state
// transition, and hands the result to the transactional coordinator.
package scheduling

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cvaldebenito/vetbook/services/appointment-service/internal/model"
	"github.com/cvaldebenito/vetbook/services/appointment-service/internal/notify"
	"github.com/cvaldebenito/vetbook/services/appointment-service/internal/validate"
)

// Outbox event types, one topic per event.
const (
	EventCreated   = "appointment.created.v1"
	EventUpdated   = "appointment.updated.v1"
	EventCancelled = "appointment.cancelled.v1"
	EventDeleted   = "appointment.deleted.v1"
)

// CancelledBy values accepted by Cancel.
const (
	CancelledByClient   = "client"
	CancelledByProvider = "provider"
)

// Policy resolves the two behaviors the legacy system left ambiguous.
type Policy struct {
	// UpdateConflictIncludesTime widens the update-path conflict check from
	// (pet, date) to the create path's (pet, date, time). Off by default to
	// preserve the original one-appointment-per-day-on-update behavior.
	UpdateConflictIncludesTime bool
	// UpdateRequiresFutureDate applies the create path's future-date rule
	// to updates as well. On by default, matching the original.
	UpdateRequiresFutureDate bool
}

type Engine struct {
	store     Store
	pets      PetStore
	coord     *Coordinator
	validator *validate.Validator
	policy    Policy
	logger    *slog.Logger
}

func NewEngine(store Store, pets PetStore, coord *Coordinator, validator *validate.Validator, policy Policy, logger *slog.Logger) *Engine {
	return &Engine{
		store:     store,
		pets:      pets,
		coord:     coord,
		validator: validator,
		policy:    policy,
		logger:    logger,
	}
}

// Create books a new appointment. The committed record always starts in
// PendingConfirmation regardless of any status carried by the request.
func (e *Engine) Create(ctx context.Context, req *validate.Request) (*model.Appointment, error) {
	if verr := e.validator.Validate(req, validate.Rules{RequireFutureDate: true}); verr != nil {
		return nil, verr
	}

	pet, verr, err := e.lookupPet(ctx, req.PetID)
	if err != nil {
		return nil, err
	}
	if verr != nil {
		return nil, verr
	}

	date, _ := time.Parse(model.DateLayout, req.Date)
	now := time.Now().UTC()
	appt := &model.Appointment{
		ID:           uuid.NewString(),
		PetID:        req.PetID,
		Date:         date,
		TimeOfDay:    req.TimeOfDay,
		Reason:       req.Reason,
		ContactEmail: req.ContactEmail,
		Status:       model.StatusPendingConfirmation,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	return e.coord.RunAtomic(ctx, "create",
		func(ctx context.Context, tx Tx) (*model.Appointment, error) {
			slot := Slot{PetID: appt.PetID, Date: appt.Date, TimeOfDay: appt.TimeOfDay}
			busy, err := tx.HasConflict(ctx, slot, "", true)
			if err != nil {
				return nil, err
			}
			if busy {
				return nil, &ConflictError{PetID: appt.PetID, Date: req.Date, TimeOfDay: appt.TimeOfDay}
			}
			if err := tx.Insert(ctx, appt); err != nil {
				return nil, err
			}
			if err := tx.AppendEvent(ctx, EventCreated, appt); err != nil {
				return nil, err
			}
			return appt, nil
		},
		func(appt *model.Appointment) *notify.Message {
			return notify.CreatedMessage(appt, pet)
		},
	)
}

// Update fully replaces the mutable fields of an existing appointment.
// A request without a status keeps the stored one; an explicit status is
// how Confirmed and the cancelled states are normally reached.
func (e *Engine) Update(ctx context.Context, id string, req *validate.Request) (*model.Appointment, error) {
	if verr := e.validator.Validate(req, validate.Rules{RequireFutureDate: e.policy.UpdateRequiresFutureDate}); verr != nil {
		return nil, verr
	}

	pet, verr, err := e.lookupPet(ctx, req.PetID)
	if err != nil {
		return nil, err
	}
	if verr != nil {
		return nil, verr
	}

	date, _ := time.Parse(model.DateLayout, req.Date)

	return e.coord.RunAtomic(ctx, "update",
		func(ctx context.Context, tx Tx) (*model.Appointment, error) {
			current, err := tx.GetForUpdate(ctx, id)
			if err != nil {
				return nil, err
			}

			slot := Slot{PetID: req.PetID, Date: date, TimeOfDay: req.TimeOfDay}
			busy, err := tx.HasConflict(ctx, slot, id, e.policy.UpdateConflictIncludesTime)
			if err != nil {
				return nil, err
			}
			if busy {
				return nil, &ConflictError{PetID: req.PetID, Date: req.Date, TimeOfDay: req.TimeOfDay}
			}

			next := *current
			next.PetID = req.PetID
			next.Date = date
			next.TimeOfDay = req.TimeOfDay
			next.Reason = req.Reason
			next.ContactEmail = req.ContactEmail
			if req.Status != "" {
				status, _ := model.ParseStatus(req.Status)
				next.Status = status
			}
			next.UpdatedAt = time.Now().UTC()

			if err := tx.Replace(ctx, &next); err != nil {
				return nil, err
			}
			if err := tx.AppendEvent(ctx, EventUpdated, &next); err != nil {
				return nil, err
			}
			return &next, nil
		},
		func(appt *model.Appointment) *notify.Message {
			return notify.UpdatedMessage(appt, pet)
		},
	)
}

// Cancel transitions the appointment into the matching cancelled state.
// Cancelling an already-cancelled record is a no-op returning the record,
// and no email is sent on this path.
func (e *Engine) Cancel(ctx context.Context, id, by string) (*model.Appointment, error) {
	status := model.StatusCancelledByClient
	if by == CancelledByProvider {
		status = model.StatusCancelledByProvider
	}

	return e.coord.RunAtomic(ctx, "cancel",
		func(ctx context.Context, tx Tx) (*model.Appointment, error) {
			current, err := tx.GetForUpdate(ctx, id)
			if err != nil {
				return nil, err
			}
			if current.Status.Cancelled() {
				return current, nil
			}

			next := *current
			next.Status = status
			next.UpdatedAt = time.Now().UTC()
			if err := tx.Replace(ctx, &next); err != nil {
				return nil, err
			}
			if err := tx.AppendEvent(ctx, EventCancelled, &next); err != nil {
				return nil, err
			}
			return &next, nil
		},
		nil,
	)
}

// Delete is terminal and silent: the record is removed, nothing is sent.
func (e *Engine) Delete(ctx context.Context, id string) (*model.Appointment, error) {
	return e.coord.RunAtomic(ctx, "delete",
		func(ctx context.Context, tx Tx) (*model.Appointment, error) {
			appt, err := tx.Delete(ctx, id)
			if err != nil {
				return nil, err
			}
			if err := tx.AppendEvent(ctx, EventDeleted, appt); err != nil {
				return nil, err
			}
			return appt, nil
		},
		nil,
	)
}

func (e *Engine) GetByID(ctx context.Context, id string) (*model.Appointment, error) {
	return e.store.GetByID(ctx, id)
}

func (e *Engine) ListAll(ctx context.Context) ([]model.Appointment, error) {
	return e.store.ListAll(ctx)
}

func (e *Engine) ListByPet(ctx context.Context, petID string) ([]model.Appointment, error) {
	return e.store.ListByPet(ctx, petID)
}

// lookupPet fetches the pet referenced by the request. An unknown pet is a
// caller-correctable problem, so it is reported as a field error rather
// than an internal failure.
func (e *Engine) lookupPet(ctx context.Context, petID string) (*model.Pet, *validate.Error, error) {
	pet, ok, err := e.pets.GetByID(ctx, petID)
	if err != nil {
		e.logger.Error("pet lookup failed", "pet_id", petID, "err", err)
		return nil, nil, &PersistError{Op: "pet lookup", Err: err}
	}
	if !ok {
		return nil, &validate.Error{Fields: []validate.FieldError{{
			Field:   "pet_id",
			Code:    validate.CodeUnknownPet,
			Message: "pet " + petID + " is not registered",
		}}}, nil
	}
	return pet, nil, nil
}
