package registration

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of registration audit event
type EventType string

const (
	EventMessageReceived EventType = "MessageReceived"
	EventPatientCreated  EventType = "PatientCreated"
	EventPatientMatched  EventType = "PatientMatched"
	EventCoverageCreated EventType = "CoverageCreated"
	EventMessageRejected EventType = "MessageRejected"
)

// Event represents a registration audit event
type Event struct {
	ID        string          `json:"id"`
	MRN       string          `json:"mrn"`
	EventType EventType       `json:"event_type"`
	EventData json.RawMessage `json:"event_data,omitempty"`
	ControlID string          `json:"control_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEvent creates a new audit event
func NewEvent(mrn string, eventType EventType, data interface{}) (*Event, error) {
	var eventData json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		eventData = b
	}
	return &Event{
		ID:        uuid.New().String(),
		MRN:       mrn,
		EventType: eventType,
		EventData: eventData,
		Timestamp: time.Now().UTC(),
	}, nil
}

// WithControlID attaches the HL7 message control identifier
func (e *Event) WithControlID(controlID string) *Event {
	e.ControlID = controlID
	return e
}

// PatientCreatedData contains patient creation details
type PatientCreatedData struct {
	PatientID string `json:"patient_id"`
	Family    string `json:"family,omitempty"`
	Gender    string `json:"gender,omitempty"`
	BirthDate string `json:"birth_date,omitempty"`
}

// PatientMatchedData contains details of an existing patient match
type PatientMatchedData struct {
	PatientID string `json:"patient_id"`
}

// CoverageCreatedData contains coverage creation details
type CoverageCreatedData struct {
	CoverageID   string `json:"coverage_id"`
	PatientID    string `json:"patient_id"`
	SubscriberID string `json:"subscriber_id,omitempty"`
	PayorName    string `json:"payor_name,omitempty"`
}

// MessageRejectedData contains rejection details
type MessageRejectedData struct {
	Reason string `json:"reason"`
}
