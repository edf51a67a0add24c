package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/careport/go-adt-bridge/internal/domain/registration"
)

// EventStore is the audit history the handler reads.
type EventStore interface {
	GetEvents(ctx context.Context, mrn string) ([]*registration.Event, error)
	GetEventsByType(ctx context.Context, eventType registration.EventType, limit int) ([]*registration.Event, error)
}

// defaultEventLimit caps the by-type listing when no limit is given.
const defaultEventLimit = 50

// AuditHandler exposes the registration audit trail.
type AuditHandler struct {
	store  EventStore
	logger *zap.Logger
}

// NewAuditHandler creates a new handler
func NewAuditHandler(store EventStore, logger *zap.Logger) *AuditHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditHandler{store: store, logger: logger}
}

// Routes returns the handler routes
func (h *AuditHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.Recent)
	r.Get("/{mrn}", h.History)
	return r
}

// History handles GET /audit/events/{mrn}, returning the full event
// trail for one patient in processing order.
func (h *AuditHandler) History(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	mrn := chi.URLParam(r, "mrn")

	events, err := h.store.GetEvents(ctx, mrn)
	if err != nil {
		h.logger.Error("event lookup failed",
			zap.String("mrn", mrn),
			zap.Error(err),
		)
		jsonError(w, "failed to get events", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(events)
}

// Recent handles GET /audit/events?type=PatientCreated&limit=50,
// listing recent events of one type across patients.
func (h *AuditHandler) Recent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	eventType := registration.EventType(r.URL.Query().Get("type"))
	if eventType == "" {
		jsonError(w, "type query parameter is required", http.StatusBadRequest)
		return
	}

	limit := defaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			jsonError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	events, err := h.store.GetEventsByType(ctx, eventType, limit)
	if err != nil {
		h.logger.Error("event listing failed",
			zap.String("event_type", string(eventType)),
			zap.Error(err),
		)
		jsonError(w, "failed to get events", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(events)
}
