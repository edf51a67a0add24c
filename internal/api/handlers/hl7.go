// Package handlers provides HTTP handlers for the gateway services.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/careport/go-adt-bridge/internal/adt/mapper"
	"github.com/careport/go-adt-bridge/internal/api/middleware"
	"github.com/careport/go-adt-bridge/internal/domain/registration"
	hl7 "github.com/careport/go-adt-bridge/internal/hl7/v25"
	"github.com/careport/go-adt-bridge/internal/observability/metrics"
)

// maxHL7MessageBytes bounds inbound HL7 payloads.
const maxHL7MessageBytes = 1 << 20

// HL7Handler handles inbound HL7 message endpoints
type HL7Handler struct {
	service *registration.Service
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewHL7Handler creates a new handler. Metrics may be nil.
func NewHL7Handler(service *registration.Service, m *metrics.Metrics, logger *zap.Logger) *HL7Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HL7Handler{service: service, metrics: m, logger: logger}
}

// Routes returns the handler routes
func (h *HL7Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Inbound)
	return r
}

// Inbound handles POST /hl7/inbound. The body is raw HL7 v2 text.
func (h *HL7Handler) Inbound(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("hl7-handler")
	ctx, span := tracer.Start(ctx, "hl7_inbound")
	defer span.End()

	start := time.Now()
	if h.metrics != nil {
		h.metrics.HL7MessagesReceived.Inc()
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxHL7MessageBytes))
	if err != nil {
		jsonError(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	summary, err := h.service.ProcessMessage(ctx, string(body))
	if err != nil {
		h.writeProcessingError(w, r, err)
		return
	}

	if h.metrics != nil {
		h.metrics.ProcessingDuration.Observe(time.Since(start).Seconds())
		if summary.Patient.Action == registration.ActionCreated {
			h.metrics.PatientsCreated.Inc()
		} else {
			h.metrics.PatientsMatched.Inc()
		}
		if summary.Coverage != nil {
			h.metrics.CoveragesCreated.Inc()
		}
	}
	span.SetAttributes(attribute.String("patient.action", summary.Patient.Action))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(summary)
}

// writeProcessingError maps pipeline errors to HTTP statuses. Malformed
// messages are the client's fault; backend failures are a gateway
// problem.
func (h *HL7Handler) writeProcessingError(w http.ResponseWriter, r *http.Request, err error) {
	var parseErr *hl7.ParseError
	var missingErr *hl7.MissingSegmentError
	var dateErr *hl7.InvalidDateError
	var valErr *mapper.ValidationError

	switch {
	case errors.As(err, &parseErr), errors.As(err, &missingErr),
		errors.As(err, &dateErr), errors.As(err, &valErr):
		if h.metrics != nil {
			h.metrics.HL7ParseFailures.Inc()
		}
		h.logger.Warn("hl7 message rejected",
			zap.Error(err),
			zap.String("request_id", middleware.GetRequestID(r.Context())),
		)
		jsonError(w, err.Error(), http.StatusBadRequest)
	default:
		h.logger.Error("hl7 processing failed",
			zap.Error(err),
			zap.String("request_id", middleware.GetRequestID(r.Context())),
		)
		jsonError(w, "failed to process message", http.StatusBadGateway)
	}
}

func jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
