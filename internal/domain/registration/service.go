// Package registration implements the HL7 intake pipeline: parse,
// map, idempotent persistence against the FHIR backend.
package registration

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/careport/go-adt-bridge/internal/adt/mapper"
	"github.com/careport/go-adt-bridge/internal/fhir/r4"
	hl7 "github.com/careport/go-adt-bridge/internal/hl7/v25"
	"github.com/careport/go-adt-bridge/pkg/idempotency"
)

// FHIRStore is the subset of FHIR backend operations the registration
// pipeline needs. Implemented by the Medplum client.
type FHIRStore interface {
	// FindPatientByIdentifier searches for a patient by MRN identifier
	// value, returning nil when no match exists.
	FindPatientByIdentifier(ctx context.Context, value string) (*r4.Patient, error)
	CreatePatient(ctx context.Context, patient *r4.Patient) (*r4.Patient, error)
	CreateCoverage(ctx context.Context, coverage *r4.Coverage) (*r4.Coverage, error)
}

// Action values reported per resource in a registration summary
const (
	ActionCreated = "created"
	ActionExists  = "exists"
)

// ResourceSummary reports what happened to one resource.
type ResourceSummary struct {
	Action string `json:"action"`
	ID     string `json:"id"`
}

// Summary is the outcome of processing one ADT message. Coverage is nil
// when the message carried no IN1 segment.
type Summary struct {
	Patient  ResourceSummary  `json:"patient"`
	Coverage *ResourceSummary `json:"coverage,omitempty"`
}

// Service runs the registration pipeline.
type Service struct {
	store  FHIRStore
	mapper *mapper.HL7ToFHIRMapper
	audit  AuditLog
	inbox  *idempotency.Inbox
	logger *zap.Logger
}

// NewService creates a registration service. The audit log may be nil
// when event persistence is not configured.
func NewService(store FHIRStore, audit AuditLog, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  store,
		mapper: mapper.NewHL7ToFHIRMapper(),
		audit:  audit,
		logger: logger,
	}
}

// WithInbox enables message-level deduplication. A redelivered message
// with the same MRN and control ID returns its original summary without
// touching the backend again.
func (s *Service) WithInbox(inbox *idempotency.Inbox) *Service {
	s.inbox = inbox
	return s
}

// ProcessMessage parses raw HL7 text, maps it to FHIR resources and
// persists them idempotently keyed on the MRN: an existing patient is
// reported as "exists" with its current ID and is never duplicated.
// Coverage, when present, always references the resolved patient ID.
func (s *Service) ProcessMessage(ctx context.Context, raw string) (*Summary, error) {
	tracer := otel.Tracer("registration")
	ctx, span := tracer.Start(ctx, "registration.process_message")
	defer span.End()

	msg, err := hl7.ParseADT(raw)
	if err != nil {
		return nil, err
	}
	controlID := msg.ControlID()
	span.SetAttributes(attribute.String("hl7.control_id", controlID))

	result, err := s.mapper.MapMessage(msg)
	if err != nil {
		s.recordEvent(ctx, "", EventMessageRejected, &MessageRejectedData{Reason: err.Error()}, controlID)
		return nil, err
	}

	mrn := result.PatientRecord.Identifier
	span.SetAttributes(attribute.String("patient.mrn", mrn))
	s.recordEvent(ctx, mrn, EventMessageReceived, nil, controlID)

	if s.inbox != nil && controlID != "" {
		return s.persistDeduplicated(ctx, result, mrn, controlID)
	}
	return s.persist(ctx, result, mrn, controlID)
}

// persistDeduplicated runs persistence through the inbox so a
// redelivered message maps to its stored summary.
func (s *Service) persistDeduplicated(ctx context.Context, result *mapper.MapResult, mrn, controlID string) (*Summary, error) {
	key := idempotency.GenerateKey(mrn, controlID)
	payload, _ := json.Marshal(map[string]string{"mrn": mrn, "control_id": controlID})

	res, err := s.inbox.Process(ctx, key, "registration", payload,
		func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
			summary, err := s.persist(ctx, result, mrn, controlID)
			if err != nil {
				return nil, err
			}
			return json.Marshal(summary)
		})
	if err != nil {
		return nil, err
	}

	var summary Summary
	if err := json.Unmarshal(res.Result, &summary); err != nil {
		return nil, fmt.Errorf("decode stored summary: %w", err)
	}
	if !res.IsNew {
		s.logger.Info("duplicate delivery short-circuited",
			zap.String("mrn", mrn),
			zap.String("control_id", controlID),
		)
	}
	return &summary, nil
}

func (s *Service) persist(ctx context.Context, result *mapper.MapResult, mrn, controlID string) (*Summary, error) {
	patientID, patientAction, err := s.resolvePatient(ctx, mrn, result.Patient, controlID)
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		Patient: ResourceSummary{Action: patientAction, ID: patientID},
	}

	if result.Coverage != nil {
		// The mapper references the patient by MRN; rewrite to the
		// backend-assigned resource ID before creating.
		result.Coverage.Beneficiary = r4.Reference{Reference: "Patient/" + patientID}

		created, err := s.store.CreateCoverage(ctx, result.Coverage)
		if err != nil {
			return nil, fmt.Errorf("create coverage: %w", err)
		}
		summary.Coverage = &ResourceSummary{Action: ActionCreated, ID: created.ID}
		s.recordEvent(ctx, mrn, EventCoverageCreated, &CoverageCreatedData{
			CoverageID:   created.ID,
			PatientID:    patientID,
			SubscriberID: result.CoverageRecord.SubscriberID,
			PayorName:    result.CoverageRecord.PayorName,
		}, controlID)
	}

	s.logger.Info("registration processed",
		zap.String("mrn", mrn),
		zap.String("control_id", controlID),
		zap.String("patient_action", summary.Patient.Action),
		zap.Bool("coverage", summary.Coverage != nil),
	)
	return summary, nil
}

// resolvePatient performs the check-then-create: search by MRN first,
// create only on no match.
func (s *Service) resolvePatient(ctx context.Context, mrn string, patient *r4.Patient, controlID string) (string, string, error) {
	if mrn != "" {
		existing, err := s.store.FindPatientByIdentifier(ctx, mrn)
		if err != nil {
			return "", "", fmt.Errorf("search patient: %w", err)
		}
		if existing != nil {
			s.recordEvent(ctx, mrn, EventPatientMatched, &PatientMatchedData{PatientID: existing.ID}, controlID)
			return existing.ID, ActionExists, nil
		}
	}

	created, err := s.store.CreatePatient(ctx, patient)
	if err != nil {
		return "", "", fmt.Errorf("create patient: %w", err)
	}
	s.recordEvent(ctx, mrn, EventPatientCreated, &PatientCreatedData{
		PatientID: created.ID,
		Family:    familyName(created),
		Gender:    created.Gender,
		BirthDate: created.BirthDate,
	}, controlID)
	return created.ID, ActionCreated, nil
}

// recordEvent writes an audit event. Audit failures are logged, not
// propagated; the clinical pipeline must not fail on audit writes.
func (s *Service) recordEvent(ctx context.Context, mrn string, eventType EventType, data interface{}, controlID string) {
	if s.audit == nil {
		return
	}
	event, err := NewEvent(mrn, eventType, data)
	if err != nil {
		s.logger.Warn("audit event marshal failed", zap.Error(err))
		return
	}
	event.WithControlID(controlID)
	if err := s.audit.Record(ctx, event); err != nil {
		s.logger.Warn("audit event write failed",
			zap.String("event_type", string(eventType)),
			zap.Error(err),
		)
	}
}

func familyName(p *r4.Patient) string {
	if name := p.GetOfficialName(); name != nil {
		return name.Family
	}
	return ""
}
