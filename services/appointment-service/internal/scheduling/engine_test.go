package scheduling

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/cvaldebenito/vetbook/services/appointment-service/internal/model"
	"github.com/cvaldebenito/vetbook/services/appointment-service/internal/validate"
)

// memStore is an in-memory Store with transaction semantics: each Atomic
// call works on a staged copy that only replaces the live map on success.
type memStore struct {
	mu     sync.Mutex
	appts  map[string]model.Appointment
	events []string
}

func newMemStore() *memStore {
	return &memStore{appts: map[string]model.Appointment{}}
}

func (s *memStore) Atomic(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	staged := make(map[string]model.Appointment, len(s.appts))
	for k, v := range s.appts {
		staged[k] = v
	}
	tx := &memTx{appts: staged}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.appts = staged
	s.events = append(s.events, tx.events...)
	return nil
}

func (s *memStore) GetByID(_ context.Context, id string) (*model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	appt, ok := s.appts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &appt, nil
}

func (s *memStore) ListAll(context.Context) ([]model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Appointment, 0, len(s.appts))
	for _, appt := range s.appts {
		out = append(out, appt)
	}
	return out, nil
}

func (s *memStore) ListByPet(_ context.Context, petID string) ([]model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Appointment
	for _, appt := range s.appts {
		if appt.PetID == petID {
			out = append(out, appt)
		}
	}
	return out, nil
}

type memTx struct {
	appts  map[string]model.Appointment
	events []string
}

func (t *memTx) HasConflict(_ context.Context, slot Slot, excludeID string, matchTime bool) (bool, error) {
	for id, appt := range t.appts {
		if id == excludeID || appt.Status.Cancelled() {
			continue
		}
		if appt.PetID != slot.PetID || !appt.Date.Equal(slot.Date) {
			continue
		}
		if matchTime && appt.TimeOfDay != slot.TimeOfDay {
			continue
		}
		return true, nil
	}
	return false, nil
}

func (t *memTx) Insert(_ context.Context, appt *model.Appointment) error {
	t.appts[appt.ID] = *appt
	return nil
}

func (t *memTx) GetForUpdate(_ context.Context, id string) (*model.Appointment, error) {
	appt, ok := t.appts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &appt, nil
}

func (t *memTx) Replace(_ context.Context, appt *model.Appointment) error {
	if _, ok := t.appts[appt.ID]; !ok {
		return ErrNotFound
	}
	t.appts[appt.ID] = *appt
	return nil
}

func (t *memTx) Delete(_ context.Context, id string) (*model.Appointment, error) {
	appt, ok := t.appts[id]
	if !ok {
		return nil, ErrNotFound
	}
	delete(t.appts, id)
	return &appt, nil
}

func (t *memTx) AppendEvent(_ context.Context, eventType string, _ *model.Appointment) error {
	t.events = append(t.events, eventType)
	return nil
}

type sentMail struct {
	To      string
	Subject string
	HTML    string
}

type fakeNotifier struct {
	mu   sync.Mutex
	fail bool
	sent []sentMail
}

func (n *fakeNotifier) Send(_ context.Context, to, subject, htmlBody string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return errors.New("smtp connection refused")
	}
	n.sent = append(n.sent, sentMail{To: to, Subject: subject, HTML: htmlBody})
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type fakePets struct {
	pets map[string]model.Pet
}

func (p *fakePets) GetByID(_ context.Context, id string) (*model.Pet, bool, error) {
	pet, ok := p.pets[id]
	if !ok {
		return nil, false, nil
	}
	return &pet, true, nil
}

func newTestEngine(policy Policy) (*Engine, *memStore, *fakeNotifier) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := newMemStore()
	notifier := &fakeNotifier{}
	pets := &fakePets{pets: map[string]model.Pet{
		"pet-001": {ID: "pet-001", Name: "Firulais", Age: 4, Breed: "Quiltro", Identifier: "CHIP-77", HealthStatus: "stable"},
		"pet-002": {ID: "pet-002", Name: "Misifu", Age: 2, Breed: "Siames", Identifier: "CHIP-12", HealthStatus: "stable"},
	}}
	coord := NewCoordinator(store, notifier, time.Second, logger)
	return NewEngine(store, pets, coord, validate.New(), policy, logger), store, notifier
}

func createReq(petID, date, timeOfDay string) *validate.Request {
	return &validate.Request{
		PetID:        petID,
		Date:         date,
		TimeOfDay:    timeOfDay,
		Reason:       "annual vaccination",
		ContactEmail: "owner@example.com",
	}
}

func TestCreate_Success(t *testing.T) {
	engine, store, notifier := newTestEngine(Policy{UpdateRequiresFutureDate: true})

	appt, err := engine.Create(context.Background(), createReq("pet-001", "2030-01-02", "10:00"))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if appt.ID == "" {
		t.Fatal("expected generated id")
	}
	if appt.Status != model.StatusPendingConfirmation {
		t.Fatalf("expected pending_confirmation, got %s", appt.Status)
	}
	if notifier.count() != 1 {
		t.Fatalf("expected 1 email, got %d", notifier.count())
	}
	if notifier.sent[0].To != "owner@example.com" {
		t.Fatalf("email went to %s", notifier.sent[0].To)
	}
	if len(store.appts) != 1 {
		t.Fatalf("expected 1 stored appointment, got %d", len(store.appts))
	}
	if len(store.events) != 1 || store.events[0] != EventCreated {
		t.Fatalf("expected one %s event, got %v", EventCreated, store.events)
	}
}

func TestCreate_IgnoresRequestStatus(t *testing.T) {
	engine, _, _ := newTestEngine(Policy{})

	req := createReq("pet-001", "2030-01-02", "10:00")
	req.Status = "confirmed"
	appt, err := engine.Create(context.Background(), req)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if appt.Status != model.StatusPendingConfirmation {
		t.Fatalf("create must force pending_confirmation, got %s", appt.Status)
	}
}

func TestCreate_SlotConflict(t *testing.T) {
	engine, store, _ := newTestEngine(Policy{})
	ctx := context.Background()

	if _, err := engine.Create(ctx, createReq("pet-001", "2030-01-02", "10:00")); err != nil {
		t.Fatalf("first create failed: %v", err)
	}

	_, err := engine.Create(ctx, createReq("pet-001", "2030-01-02", "10:00"))
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.PetID != "pet-001" {
		t.Fatalf("conflict names wrong pet: %s", conflict.PetID)
	}
	if len(store.appts) != 1 {
		t.Fatalf("conflicting create must not persist, got %d records", len(store.appts))
	}
}

func TestCreate_SamePetDifferentTime(t *testing.T) {
	engine, _, _ := newTestEngine(Policy{})
	ctx := context.Background()

	if _, err := engine.Create(ctx, createReq("pet-001", "2030-01-02", "10:00")); err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	if _, err := engine.Create(ctx, createReq("pet-001", "2030-01-02", "11:00")); err != nil {
		t.Fatalf("different time on same day must be accepted: %v", err)
	}
}

func TestCreate_ConcurrentIdenticalRequests(t *testing.T) {
	engine, store, _ := newTestEngine(Policy{})
	ctx := context.Background()

	results := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.Create(ctx, createReq("pet-002", "2030-05-05", "09:00"))
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var conflicts, oks int
	for err := range results {
		switch {
		case err == nil:
			oks++
		default:
			var conflict *ConflictError
			if !errors.As(err, &conflict) {
				t.Fatalf("unexpected error kind: %v", err)
			}
			conflicts++
		}
	}
	if oks != 1 || conflicts != 1 {
		t.Fatalf("expected exactly one winner, got %d ok / %d conflict", oks, conflicts)
	}
	if len(store.appts) != 1 {
		t.Fatalf("expected 1 stored appointment, got %d", len(store.appts))
	}
}

func TestCreate_PastDateRejected(t *testing.T) {
	engine, store, notifier := newTestEngine(Policy{})

	_, err := engine.Create(context.Background(), createReq("pet-001", "2020-01-01", "10:00"))
	var verr *validate.Error
	if !errors.As(err, &verr) || !verr.Has("date", validate.CodeNotFuture) {
		t.Fatalf("expected date/not_future, got %v", err)
	}
	if len(store.appts) != 0 || notifier.count() != 0 {
		t.Fatal("rejected create must not persist or notify")
	}
}

func TestCreate_ProhibitedReasonRejected(t *testing.T) {
	engine, _, _ := newTestEngine(Policy{})

	req := createReq("pet-001", "2030-01-02", "10:00")
	req.Reason = "control wea urgente"
	_, err := engine.Create(context.Background(), req)
	var verr *validate.Error
	if !errors.As(err, &verr) || !verr.Has("reason", validate.CodeProhibitedTerm) {
		t.Fatalf("expected reason/prohibited_term, got %v", err)
	}
}

func TestCreate_UnknownPet(t *testing.T) {
	engine, store, _ := newTestEngine(Policy{})

	_, err := engine.Create(context.Background(), createReq("pet-999", "2030-01-02", "10:00"))
	var verr *validate.Error
	if !errors.As(err, &verr) || !verr.Has("pet_id", validate.CodeUnknownPet) {
		t.Fatalf("expected pet_id/unknown_pet, got %v", err)
	}
	if len(store.appts) != 0 {
		t.Fatal("unknown pet must not persist")
	}
}

func TestCreate_NotifierFailureRollsBack(t *testing.T) {
	engine, store, notifier := newTestEngine(Policy{})
	notifier.fail = true

	_, err := engine.Create(context.Background(), createReq("pet-001", "2030-01-02", "10:00"))
	var nerr *NotificationError
	if !errors.As(err, &nerr) {
		t.Fatalf("expected NotificationError, got %v", err)
	}
	if len(store.appts) != 0 {
		t.Fatalf("failed notification must roll back, found %d records", len(store.appts))
	}
	if len(store.events) != 0 {
		t.Fatalf("failed notification must not emit events, got %v", store.events)
	}
}

func TestUpdate_NotFound(t *testing.T) {
	engine, _, _ := newTestEngine(Policy{UpdateRequiresFutureDate: true})

	_, err := engine.Update(context.Background(), "missing-id", createReq("pet-001", "2030-01-02", "10:00"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdate_Success(t *testing.T) {
	engine, store, notifier := newTestEngine(Policy{UpdateRequiresFutureDate: true})
	ctx := context.Background()

	appt, err := engine.Create(ctx, createReq("pet-001", "2030-01-02", "10:00"))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	req := createReq("pet-001", "2030-01-03", "12:00")
	req.Reason = "followup consultation"
	updated, err := engine.Update(ctx, appt.ID, req)
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.Date.Format(model.DateLayout) != "2030-01-03" || updated.TimeOfDay != "12:00" {
		t.Fatalf("slot not replaced: %s %s", updated.Date, updated.TimeOfDay)
	}
	if updated.Status != model.StatusPendingConfirmation {
		t.Fatalf("empty request status must keep stored status, got %s", updated.Status)
	}
	if notifier.count() != 2 {
		t.Fatalf("expected create+update emails, got %d", notifier.count())
	}
	if store.events[len(store.events)-1] != EventUpdated {
		t.Fatalf("expected %s event, got %v", EventUpdated, store.events)
	}
}

func TestUpdate_ExplicitStatus(t *testing.T) {
	engine, _, _ := newTestEngine(Policy{})
	ctx := context.Background()

	appt, err := engine.Create(ctx, createReq("pet-001", "2030-01-02", "10:00"))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	req := createReq("pet-001", "2030-01-02", "10:00")
	req.Status = "confirmed"
	updated, err := engine.Update(ctx, appt.ID, req)
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.Status != model.StatusConfirmed {
		t.Fatalf("expected confirmed, got %s", updated.Status)
	}
}

func TestUpdate_DateOnlyConflictByDefault(t *testing.T) {
	engine, _, _ := newTestEngine(Policy{})
	ctx := context.Background()

	if _, err := engine.Create(ctx, createReq("pet-001", "2030-01-02", "10:00")); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	other, err := engine.Create(ctx, createReq("pet-001", "2030-01-03", "09:00"))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	// Moving onto an occupied day conflicts even at a different time.
	_, err = engine.Update(ctx, other.ID, createReq("pet-001", "2030-01-02", "11:00"))
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
}

func TestUpdate_TimeAwareConflictPolicy(t *testing.T) {
	engine, _, _ := newTestEngine(Policy{UpdateConflictIncludesTime: true})
	ctx := context.Background()

	if _, err := engine.Create(ctx, createReq("pet-001", "2030-01-02", "10:00")); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	other, err := engine.Create(ctx, createReq("pet-001", "2030-01-03", "09:00"))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if _, err := engine.Update(ctx, other.ID, createReq("pet-001", "2030-01-02", "11:00")); err != nil {
		t.Fatalf("different time must be accepted under time-aware policy: %v", err)
	}
	_, err = engine.Update(ctx, other.ID, createReq("pet-001", "2030-01-02", "10:00"))
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError on exact slot, got %v", err)
	}
}

func TestUpdate_SelfSlotAllowed(t *testing.T) {
	engine, _, _ := newTestEngine(Policy{})
	ctx := context.Background()

	appt, err := engine.Create(ctx, createReq("pet-001", "2030-01-02", "10:00"))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	// Re-saving the same slot must not conflict with itself.
	req := createReq("pet-001", "2030-01-02", "10:00")
	req.Reason = "rescheduled by phone"
	if _, err := engine.Update(ctx, appt.ID, req); err != nil {
		t.Fatalf("self update failed: %v", err)
	}
}

func TestUpdate_NotifierFailureKeepsPriorVersion(t *testing.T) {
	engine, store, notifier := newTestEngine(Policy{})
	ctx := context.Background()

	appt, err := engine.Create(ctx, createReq("pet-001", "2030-01-02", "10:00"))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	notifier.fail = true
	_, err = engine.Update(ctx, appt.ID, createReq("pet-001", "2030-01-05", "08:00"))
	var nerr *NotificationError
	if !errors.As(err, &nerr) {
		t.Fatalf("expected NotificationError, got %v", err)
	}

	stored := store.appts[appt.ID]
	if stored.Date.Format(model.DateLayout) != "2030-01-02" {
		t.Fatalf("rollback must keep prior date, got %s", stored.Date)
	}
}

func TestCancel_TransitionsAndIdempotent(t *testing.T) {
	engine, store, notifier := newTestEngine(Policy{})
	ctx := context.Background()

	appt, err := engine.Create(ctx, createReq("pet-001", "2030-01-02", "10:00"))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	emailsAfterCreate := notifier.count()

	cancelled, err := engine.Cancel(ctx, appt.ID, CancelledByProvider)
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if cancelled.Status != model.StatusCancelledByProvider {
		t.Fatalf("expected cancelled_by_provider, got %s", cancelled.Status)
	}
	if store.events[len(store.events)-1] != EventCancelled {
		t.Fatalf("expected %s event, got %v", EventCancelled, store.events)
	}

	// Second cancel is a no-op that keeps the original cancelled state.
	again, err := engine.Cancel(ctx, appt.ID, CancelledByClient)
	if err != nil {
		t.Fatalf("repeat cancel failed: %v", err)
	}
	if again.Status != model.StatusCancelledByProvider {
		t.Fatalf("repeat cancel must not retarget status, got %s", again.Status)
	}
	eventCount := 0
	for _, evt := range store.events {
		if evt == EventCancelled {
			eventCount++
		}
	}
	if eventCount != 1 {
		t.Fatalf("repeat cancel must not emit another event, got %d", eventCount)
	}
	if notifier.count() != emailsAfterCreate {
		t.Fatal("cancel must not send email")
	}
}

func TestCancel_FreesSlot(t *testing.T) {
	engine, _, _ := newTestEngine(Policy{})
	ctx := context.Background()

	appt, err := engine.Create(ctx, createReq("pet-001", "2030-01-02", "10:00"))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := engine.Cancel(ctx, appt.ID, CancelledByClient); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	if _, err := engine.Create(ctx, createReq("pet-001", "2030-01-02", "10:00")); err != nil {
		t.Fatalf("cancelled slot must be bookable again: %v", err)
	}
}

func TestDelete_RemovesAndReports(t *testing.T) {
	engine, store, _ := newTestEngine(Policy{})
	ctx := context.Background()

	appt, err := engine.Create(ctx, createReq("pet-001", "2030-01-02", "10:00"))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	deleted, err := engine.Delete(ctx, appt.ID)
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if deleted.ID != appt.ID {
		t.Fatalf("delete returned wrong record: %s", deleted.ID)
	}
	if len(store.appts) != 0 {
		t.Fatalf("expected empty store, got %d", len(store.appts))
	}
	if store.events[len(store.events)-1] != EventDeleted {
		t.Fatalf("expected %s event, got %v", EventDeleted, store.events)
	}

	if _, err := engine.Delete(ctx, appt.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete must be ErrNotFound, got %v", err)
	}
}

func TestGetAndList(t *testing.T) {
	engine, _, _ := newTestEngine(Policy{})
	ctx := context.Background()

	a, err := engine.Create(ctx, createReq("pet-001", "2030-01-02", "10:00"))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := engine.Create(ctx, createReq("pet-002", "2030-01-02", "10:00")); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	got, err := engine.GetByID(ctx, a.ID)
	if err != nil || got.ID != a.ID {
		t.Fatalf("get failed: %v", err)
	}
	if _, err := engine.GetByID(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	all, err := engine.ListAll(ctx)
	if err != nil || len(all) != 2 {
		t.Fatalf("expected 2 appointments, got %d (%v)", len(all), err)
	}
	byPet, err := engine.ListByPet(ctx, "pet-001")
	if err != nil || len(byPet) != 1 {
		t.Fatalf("expected 1 appointment for pet-001, got %d (%v)", len(byPet), err)
	}
}
