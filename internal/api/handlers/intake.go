package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

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

// EMRGateway is the EMR-side API the intake service talks to.
type EMRGateway interface {
	PatientExists(ctx context.Context, mrn string) (bool, error)
	SubmitHL7(ctx context.Context, message string) (*registration.Summary, error)
}

// HL7Publisher queues composed HL7 messages for asynchronous delivery.
type HL7Publisher interface {
	PublishHL7(ctx context.Context, controlID, message string) error
}

// IntakeHandler handles simplified patient registration requests,
// composing them into HL7 and forwarding to the EMR gateway.
type IntakeHandler struct {
	composer  *mapper.IntakeToHL7Composer
	gateway   EMRGateway
	publisher HL7Publisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewIntakeHandler creates a new handler. When publisher is non-nil,
// accepted registrations are queued instead of delivered inline.
func NewIntakeHandler(gateway EMRGateway, publisher HL7Publisher, m *metrics.Metrics, logger *zap.Logger) *IntakeHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IntakeHandler{
		composer:  mapper.NewIntakeToHL7Composer(),
		gateway:   gateway,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}
}

// Routes returns the handler routes
func (h *IntakeHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Register)
	return r
}

// RegisterResponse is returned for queued (asynchronous) registrations.
type RegisterResponse struct {
	Status    string `json:"status"`
	MRN       string `json:"mrn"`
	ControlID string `json:"controlId,omitempty"`
}

// Register handles POST /patient
func (h *IntakeHandler) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("intake-handler")
	ctx, span := tracer.Start(ctx, "register_patient")
	defer span.End()

	var payload mapper.IntakePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := mapper.ValidatePayload(&payload); err != nil {
		var valErr *mapper.ValidationError
		if errors.As(err, &valErr) {
			h.writeValidationError(w, valErr)
			return
		}
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.String("patient.mrn", payload.MRN))

	exists, err := h.gateway.PatientExists(ctx, payload.MRN)
	if err != nil {
		h.logger.Error("existence check failed",
			zap.String("mrn", payload.MRN),
			zap.Error(err),
		)
		jsonError(w, "emr gateway unavailable", http.StatusBadGateway)
		return
	}
	if exists {
		h.logger.Info("duplicate registration rejected",
			zap.String("mrn", payload.MRN),
			zap.String("request_id", middleware.GetRequestID(ctx)),
		)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{
			"error": "patient already registered",
			"mrn":   payload.MRN,
		})
		return
	}

	message, err := h.composer.Compose(&payload)
	if err != nil {
		h.logger.Error("compose failed", zap.Error(err))
		jsonError(w, "failed to compose message", http.StatusInternalServerError)
		return
	}

	if h.publisher != nil {
		h.queueMessage(ctx, w, &payload, message)
		return
	}

	summary, err := h.gateway.SubmitHL7(ctx, message)
	if err != nil {
		h.logger.Error("hl7 submission failed",
			zap.String("mrn", payload.MRN),
			zap.Error(err),
		)
		jsonError(w, "failed to deliver registration", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(summary)
}

// queueMessage hands the composed message to the publisher and answers
// 202; the relay delivers it to the EMR gateway.
func (h *IntakeHandler) queueMessage(ctx context.Context, w http.ResponseWriter, payload *mapper.IntakePayload, message string) {
	controlID := controlIDOf(message)
	if err := h.publisher.PublishHL7(ctx, controlID, message); err != nil {
		h.logger.Error("publish failed",
			zap.String("mrn", payload.MRN),
			zap.Error(err),
		)
		jsonError(w, "failed to queue registration", http.StatusServiceUnavailable)
		return
	}

	if h.metrics != nil {
		h.metrics.KafkaMessagesProduced.Inc()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(RegisterResponse{
		Status:    "queued",
		MRN:       payload.MRN,
		ControlID: controlID,
	})
}

// controlIDOf extracts MSH-10 from a composed message for tracking.
func controlIDOf(message string) string {
	msg, err := hl7.Parse(message)
	if err != nil {
		return ""
	}
	return msg.ControlID()
}

func (h *IntakeHandler) writeValidationError(w http.ResponseWriter, valErr *mapper.ValidationError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error":  "validation failed",
		"fields": valErr.Errors,
	})
}
