package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/cvaldebenito/vetbook/libs/db"
	"github.com/cvaldebenito/vetbook/services/appointment-service/internal/model"
	"github.com/cvaldebenito/vetbook/services/appointment-service/internal/outbox"
	"github.com/cvaldebenito/vetbook/services/appointment-service/internal/scheduling"
)

const cancelledStatuses = `('cancelled_by_client', 'cancelled_by_provider')`

const apptColumns = `id::text, pet_id, date, COALESCE(time_of_day, ''), reason, contact_email, status, created_at, updated_at`

// AppointmentStore is the Postgres implementation of scheduling.Store.
//
// Double-booking is enforced twice: HasConflict gives the friendly error,
// and a partial unique index on (pet_id, date, time_of_day) over
// non-cancelled rows serializes racing inserts so that at most one of two
// concurrent identical requests can commit.
type AppointmentStore struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewAppointmentStore(pool *db.Pool, outboxRepo *outbox.Repository) *AppointmentStore {
	return &AppointmentStore{pool: pool, outbox: outboxRepo}
}

func (s *AppointmentStore) Atomic(ctx context.Context, fn func(ctx context.Context, tx scheduling.Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, &apptTx{tx: tx, outbox: s.outbox})
	})
}

func (s *AppointmentStore) GetByID(ctx context.Context, id string) (*model.Appointment, error) {
	appt, err := scanAppointment(s.pool.QueryRow(ctx, `
		SELECT `+apptColumns+`
		FROM appointments
		WHERE id::text = $1
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, scheduling.ErrNotFound
	}
	return appt, err
}

func (s *AppointmentStore) ListAll(ctx context.Context) ([]model.Appointment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+apptColumns+`
		FROM appointments
		ORDER BY date, time_of_day, created_at
	`)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (s *AppointmentStore) ListByPet(ctx context.Context, petID string) ([]model.Appointment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+apptColumns+`
		FROM appointments
		WHERE pet_id = $1
		ORDER BY date, time_of_day, created_at
	`, petID)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

type apptTx struct {
	tx     pgx.Tx
	outbox *outbox.Repository
}

func (t *apptTx) HasConflict(ctx context.Context, slot scheduling.Slot, excludeID string, matchTime bool) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE pet_id = $1
			  AND date = $2
			  AND status NOT IN ` + cancelledStatuses
	args := []any{slot.PetID, slot.Date}
	if matchTime {
		args = append(args, slot.TimeOfDay)
		query += fmt.Sprintf(" AND COALESCE(time_of_day, '') = $%d", len(args))
	}
	if excludeID != "" {
		args = append(args, excludeID)
		query += fmt.Sprintf(" AND id::text <> $%d", len(args))
	}
	query += ")"

	var busy bool
	err := t.tx.QueryRow(ctx, query, args...).Scan(&busy)
	return busy, err
}

func (t *apptTx) Insert(ctx context.Context, appt *model.Appointment) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO appointments
			(id, pet_id, date, time_of_day, reason, contact_email, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, appt.ID, appt.PetID, appt.Date, appt.TimeOfDay, appt.Reason, appt.ContactEmail,
		string(appt.Status), appt.CreatedAt, appt.UpdatedAt)
	if isUniqueViolation(err) {
		return &scheduling.ConflictError{
			PetID:     appt.PetID,
			Date:      appt.Date.Format(model.DateLayout),
			TimeOfDay: appt.TimeOfDay,
		}
	}
	return err
}

func (t *apptTx) GetForUpdate(ctx context.Context, id string) (*model.Appointment, error) {
	appt, err := scanAppointment(t.tx.QueryRow(ctx, `
		SELECT `+apptColumns+`
		FROM appointments
		WHERE id::text = $1
		FOR UPDATE
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, scheduling.ErrNotFound
	}
	return appt, err
}

func (t *apptTx) Replace(ctx context.Context, appt *model.Appointment) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE appointments
		SET pet_id = $2,
			date = $3,
			time_of_day = $4,
			reason = $5,
			contact_email = $6,
			status = $7,
			updated_at = $8
		WHERE id::text = $1
	`, appt.ID, appt.PetID, appt.Date, appt.TimeOfDay, appt.Reason, appt.ContactEmail,
		string(appt.Status), appt.UpdatedAt)
	if isUniqueViolation(err) {
		return &scheduling.ConflictError{
			PetID:     appt.PetID,
			Date:      appt.Date.Format(model.DateLayout),
			TimeOfDay: appt.TimeOfDay,
		}
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return scheduling.ErrNotFound
	}
	return nil
}

func (t *apptTx) Delete(ctx context.Context, id string) (*model.Appointment, error) {
	appt, err := scanAppointment(t.tx.QueryRow(ctx, `
		DELETE FROM appointments
		WHERE id::text = $1
		RETURNING `+apptColumns+`
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, scheduling.ErrNotFound
	}
	return appt, err
}

func (t *apptTx) AppendEvent(ctx context.Context, eventType string, appt *model.Appointment) error {
	payload, err := json.Marshal(map[string]any{
		"appointment_id": appt.ID,
		"pet_id":         appt.PetID,
		"date":           appt.Date.Format(model.DateLayout),
		"time":           appt.TimeOfDay,
		"status":         string(appt.Status),
		"contact_email":  appt.ContactEmail,
	})
	if err != nil {
		return err
	}
	return t.outbox.Insert(ctx, t.tx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     eventType,
		Payload:       payload,
	})
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

type row interface {
	Scan(dest ...any) error
}

func scanAppointment(r row) (*model.Appointment, error) {
	var appt model.Appointment
	var status string
	var date time.Time
	if err := r.Scan(
		&appt.ID,
		&appt.PetID,
		&date,
		&appt.TimeOfDay,
		&appt.Reason,
		&appt.ContactEmail,
		&status,
		&appt.CreatedAt,
		&appt.UpdatedAt,
	); err != nil {
		return nil, err
	}
	appt.Date = date.UTC()
	appt.Status = model.Status(status)
	return &appt, nil
}

func collectAppointments(rows pgx.Rows) ([]model.Appointment, error) {
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, *appt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}
