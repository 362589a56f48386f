package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cvaldebenito/vetbook/services/appointment-service/internal/model"
	"github.com/cvaldebenito/vetbook/services/appointment-service/internal/scheduling"
	"github.com/cvaldebenito/vetbook/services/appointment-service/internal/validate"
)

// Scheduler is the slice of the engine the HTTP layer needs.
type Scheduler interface {
	Create(ctx context.Context, req *validate.Request) (*model.Appointment, error)
	Update(ctx context.Context, id string, req *validate.Request) (*model.Appointment, error)
	Cancel(ctx context.Context, id, by string) (*model.Appointment, error)
	Delete(ctx context.Context, id string) (*model.Appointment, error)
	GetByID(ctx context.Context, id string) (*model.Appointment, error)
	ListAll(ctx context.Context) ([]model.Appointment, error)
	ListByPet(ctx context.Context, petID string) ([]model.Appointment, error)
}

type AppointmentHandler struct {
	engine Scheduler
	logger *slog.Logger
}

func NewAppointmentHandler(engine Scheduler, logger *slog.Logger) *AppointmentHandler {
	return &AppointmentHandler{engine: engine, logger: logger}
}

type appointmentItem struct {
	ID           string `json:"id"`
	PetID        string `json:"pet_id"`
	Date         string `json:"date"`
	Time         string `json:"time,omitempty"`
	Reason       string `json:"reason"`
	ContactEmail string `json:"contact_email"`
	Status       string `json:"status"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

type updateRequest struct {
	ID string `json:"id"`
	validate.Request
}

type cancelRequest struct {
	ID          string `json:"id"`
	CancelledBy string `json:"cancelled_by"`
}

type deleteRequest struct {
	ID string `json:"id"`
}

// List handles GET /api/v1/appointments, optionally filtered by pet_id.
func (h *AppointmentHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var (
		appts []model.Appointment
		err   error
	)
	if petID := strings.TrimSpace(r.URL.Query().Get("pet_id")); petID != "" {
		appts, err = h.engine.ListByPet(r.Context(), petID)
	} else {
		appts, err = h.engine.ListAll(r.Context())
	}
	if err != nil {
		h.writeError(w, "list", err)
		return
	}

	items := make([]appointmentItem, 0, len(appts))
	for i := range appts {
		items = append(items, toItem(&appts[i]))
	}
	h.writeJSON(w, http.StatusOK, items)
}

// Create handles POST /api/v1/appointments.
func (h *AppointmentHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req validate.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	trimRequest(&req)

	appt, err := h.engine.Create(r.Context(), &req)
	if err != nil {
		h.writeError(w, "create", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, toItem(appt))
}

// Get handles GET /api/v1/appointments/get?id=.
func (h *AppointmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		http.Error(w, "id required", http.StatusBadRequest)
		return
	}

	appt, err := h.engine.GetByID(r.Context(), id)
	if err != nil {
		h.writeError(w, "get", err)
		return
	}
	h.writeJSON(w, http.StatusOK, toItem(appt))
}

// Update handles POST /api/v1/appointments/update.
func (h *AppointmentHandler) Update(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" {
		http.Error(w, "id required", http.StatusBadRequest)
		return
	}
	trimRequest(&req.Request)

	appt, err := h.engine.Update(r.Context(), req.ID, &req.Request)
	if err != nil {
		h.writeError(w, "update", err)
		return
	}
	h.writeJSON(w, http.StatusOK, toItem(appt))
}

// Cancel handles POST /api/v1/appointments/cancel.
func (h *AppointmentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" {
		http.Error(w, "id required", http.StatusBadRequest)
		return
	}
	by := strings.TrimSpace(req.CancelledBy)
	if by == "" {
		by = scheduling.CancelledByClient
	}
	if by != scheduling.CancelledByClient && by != scheduling.CancelledByProvider {
		http.Error(w, "cancelled_by must be client or provider", http.StatusBadRequest)
		return
	}

	appt, err := h.engine.Cancel(r.Context(), req.ID, by)
	if err != nil {
		h.writeError(w, "cancel", err)
		return
	}
	h.writeJSON(w, http.StatusOK, toItem(appt))
}

// Delete handles POST /api/v1/appointments/delete. Destructive and silent:
// no notification goes out for deletes.
func (h *AppointmentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req deleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" {
		http.Error(w, "id required", http.StatusBadRequest)
		return
	}

	appt, err := h.engine.Delete(r.Context(), req.ID)
	if err != nil {
		h.writeError(w, "delete", err)
		return
	}
	h.writeJSON(w, http.StatusOK, toItem(appt))
}

func (h *AppointmentHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// writeError maps domain errors onto status codes. Client-correctable kinds
// keep their detail; everything else is logged with the operation name and
// answered with a generic message.
func (h *AppointmentHandler) writeError(w http.ResponseWriter, op string, err error) {
	var verr *validate.Error
	var conflict *scheduling.ConflictError
	var notification *scheduling.NotificationError

	switch {
	case errors.As(err, &verr):
		h.writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "validation failed",
			"fields": verr.Fields,
		})
	case errors.As(err, &conflict):
		h.writeJSON(w, http.StatusConflict, map[string]any{"error": conflict.Error()})
	case errors.Is(err, scheduling.ErrNotFound):
		h.writeJSON(w, http.StatusNotFound, map[string]any{"error": "appointment not found"})
	case errors.As(err, &notification):
		h.logger.Error("operation failed", "op", op, "err", err)
		h.writeJSON(w, http.StatusBadGateway, map[string]any{"error": "notification could not be confirmed"})
	default:
		h.logger.Error("operation failed", "op", op, "err", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
	}
}

func trimRequest(req *validate.Request) {
	req.PetID = strings.TrimSpace(req.PetID)
	req.Date = strings.TrimSpace(req.Date)
	req.TimeOfDay = strings.TrimSpace(req.TimeOfDay)
	req.Reason = strings.TrimSpace(req.Reason)
	req.ContactEmail = strings.TrimSpace(req.ContactEmail)
	req.Status = strings.TrimSpace(req.Status)
}

func toItem(appt *model.Appointment) appointmentItem {
	return appointmentItem{
		ID:           appt.ID,
		PetID:        appt.PetID,
		Date:         appt.Date.Format(model.DateLayout),
		Time:         appt.TimeOfDay,
		Reason:       appt.Reason,
		ContactEmail: appt.ContactEmail,
		Status:       string(appt.Status),
		CreatedAt:    appt.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    appt.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
