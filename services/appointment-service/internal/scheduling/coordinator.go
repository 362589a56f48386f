package scheduling

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cvaldebenito/vetbook/services/appointment-service/internal/model"
	"github.com/cvaldebenito/vetbook/services/appointment-service/internal/notify"
)

// Coordinator runs a persistence mutation and its dependent notification as
// one atomic unit. The documented policy is commit-only-if-notify-succeeds:
// a failed or timed-out send aborts the transaction, so the system never
// holds a committed appointment whose owning notification was not confirmed.
type Coordinator struct {
	store         Store
	notifier      Notifier
	notifyTimeout time.Duration
	logger        *slog.Logger
}

func NewCoordinator(store Store, notifier Notifier, notifyTimeout time.Duration, logger *slog.Logger) *Coordinator {
	if notifyTimeout <= 0 {
		notifyTimeout = 10 * time.Second
	}
	return &Coordinator{
		store:         store,
		notifier:      notifier,
		notifyTimeout: notifyTimeout,
		logger:        logger,
	}
}

// RunAtomic applies mutate inside a transaction and, when note is non-nil,
// sends the notification before committing. The returned appointment is the
// committed state.
//
// Error mapping: domain errors from mutate (ConflictError, ErrNotFound)
// pass through untouched; notifier failures surface as *NotificationError;
// anything else becomes a *PersistError. In every non-nil case the
// transaction has been rolled back.
func (c *Coordinator) RunAtomic(
	ctx context.Context,
	op string,
	mutate func(ctx context.Context, tx Tx) (*model.Appointment, error),
	note func(appt *model.Appointment) *notify.Message,
) (*model.Appointment, error) {
	var out *model.Appointment

	err := c.store.Atomic(ctx, func(ctx context.Context, tx Tx) error {
		appt, err := mutate(ctx, tx)
		if err != nil {
			return err
		}
		out = appt

		if note == nil {
			return nil
		}
		msg := note(appt)

		// A stuck SMTP exchange would otherwise block the whole operation
		// while holding row locks.
		sendCtx, cancel := context.WithTimeout(ctx, c.notifyTimeout)
		defer cancel()
		if err := c.notifier.Send(sendCtx, msg.To, msg.Subject, msg.HTML); err != nil {
			return &NotificationError{Err: err}
		}
		return nil
	})
	if err != nil {
		return nil, c.classify(op, err)
	}
	return out, nil
}

func (c *Coordinator) classify(op string, err error) error {
	var conflict *ConflictError
	var notification *NotificationError
	switch {
	case errors.Is(err, ErrNotFound), errors.As(err, &conflict):
		return err
	case errors.As(err, &notification):
		c.logger.Error("notification aborted transaction", "op", op, "err", err)
		return err
	default:
		c.logger.Error("storage failure", "op", op, "err", err)
		return &PersistError{Op: op, Err: err}
	}
}
