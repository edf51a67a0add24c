// Outbound direction: intake payloads to HL7 ADT^A04.
package mapper

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	hl7 "github.com/careport/go-adt-bridge/internal/hl7/v25"
)

// InsuranceInfo is the optional insurance block of an intake payload.
type InsuranceInfo struct {
	Name        string `json:"name"`
	MemberID    string `json:"memberID"`
	Plan        string `json:"plan,omitempty"`
	GroupNumber string `json:"groupNumber,omitempty"`
}

// IntakePayload is the simplified patient registration input accepted
// by the intake service.
type IntakePayload struct {
	MRN       string         `json:"mrn"`
	LastName  string         `json:"lastName"`
	FirstName string         `json:"firstName"`
	// DOB is MM/DD/YYYY text.
	DOB    string `json:"dob"`
	Gender string `json:"gender"`

	Insurance *InsuranceInfo `json:"insurance,omitempty"`
}

// FieldError names a single invalid intake field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError aggregates every offending intake field. All checks
// run before reporting so the caller gets the complete list in one
// response.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return "intake validation failed: " + strings.Join(parts, "; ")
}

// ValidatePayload checks an intake payload and returns a
// ValidationError listing every problem, or nil when the payload is
// well formed.
func ValidatePayload(p *IntakePayload) error {
	var errs []FieldError

	required := []struct {
		field string
		value string
	}{
		{"mrn", p.MRN},
		{"lastName", p.LastName},
		{"firstName", p.FirstName},
		{"dob", p.DOB},
		{"gender", p.Gender},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			errs = append(errs, FieldError{Field: r.field, Message: "is required"})
		}
	}

	if strings.TrimSpace(p.DOB) != "" {
		if _, err := parseIntakeDOB(p.DOB); err != nil {
			errs = append(errs, FieldError{Field: "dob", Message: err.Error()})
		}
	}

	if p.Insurance != nil && strings.TrimSpace(p.Insurance.MemberID) == "" {
		errs = append(errs, FieldError{Field: "insurance.memberID", Message: "is required when insurance is provided"})
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

// IntakeToHL7Composer builds HL7 ADT^A04 messages from validated
// intake payloads.
type IntakeToHL7Composer struct {
	// Now supplies the MSH timestamp; overridable in tests.
	Now func() time.Time
	// NewControlID supplies the unique MSH-10 control identifier.
	NewControlID func() string
}

// NewIntakeToHL7Composer creates a composer with wall-clock time and
// UUID-derived control IDs.
func NewIntakeToHL7Composer() *IntakeToHL7Composer {
	return &IntakeToHL7Composer{
		Now: time.Now,
		NewControlID: func() string {
			return "MSG-" + uuid.New().String()[:8]
		},
	}
}

// Fixed MSH routing placeholders, matching the clinic-to-EMR topology
// this bridge serves.
const (
	sendingApplication   = "INTEGRATION"
	sendingFacility      = "CLINIC"
	receivingApplication = "EMR"
	receivingFacility    = "HOSPITAL"
)

// Compose validates the payload and emits HL7 text with MSH, PID and
// (when insurance is present) IN1 segments joined by the segment
// terminator. Omitted fields between populated ones are kept as empty
// tokens so downstream positional parsing stays correct.
func (c *IntakeToHL7Composer) Compose(p *IntakePayload) (string, error) {
	if err := ValidatePayload(p); err != nil {
		return "", err
	}

	dob, err := parseIntakeDOB(p.DOB)
	if err != nil {
		// Unreachable after validation, kept for direct callers.
		return "", &hl7.InvalidDateError{Field: "dob", Value: p.DOB}
	}

	timestamp := hl7.FormatDateTime(c.Now())

	msh := hl7.BuildSegment(hl7.SegmentMSH,
		hl7.EncodingCharacters,
		sendingApplication,
		sendingFacility,
		receivingApplication,
		receivingFacility,
		timestamp,
		"", // security
		hl7.MessageTypeADTA04,
		c.NewControlID(),
		hl7.ProcessingID,
		hl7.VersionID,
	)

	pid := hl7.BuildSegment(hl7.SegmentPID,
		"1",
		"", // patient ID (external)
		hl7.Escape(p.MRN)+"^^^MRN",
		"", // alternate patient ID
		hl7.Escape(p.LastName)+hl7.ComponentSeparator+hl7.Escape(p.FirstName),
		"", // mother's maiden name
		hl7.FormatDate(dob),
		mapGenderTextToCode(p.Gender),
	)

	segments := []string{msh, pid}

	if p.Insurance != nil {
		in1 := hl7.BuildSegment(hl7.SegmentIN1,
			"1",
			hl7.Escape(p.Insurance.MemberID),
			"", // insurance company ID
			hl7.Escape(p.Insurance.Name),
			"", // company address
			"", // company contact person
			"", // company phone number
			hl7.Escape(p.Insurance.GroupNumber),
			hl7.Escape(p.Insurance.Plan),
		)
		segments = append(segments, in1)
	}

	return strings.Join(segments, hl7.SegmentTerminator), nil
}

// parseIntakeDOB parses MM/DD/YYYY text with strict calendar
// validation, rejecting values such as 02/30/2020.
func parseIntakeDOB(s string) (time.Time, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 || len(parts[2]) != 4 {
		return time.Time{}, fmt.Errorf("must be MM/DD/YYYY, got %q", s)
	}
	month, day := zeroPad(parts[0]), zeroPad(parts[1])
	t, err := time.Parse("01/02/2006", month+"/"+day+"/"+parts[2])
	if err != nil {
		return time.Time{}, fmt.Errorf("not a valid calendar date: %q", s)
	}
	return t, nil
}

// zeroPad left-pads single-digit month and day tokens.
func zeroPad(s string) string {
	if len(s) == 1 {
		return "0" + s
	}
	return s
}

// mapGenderTextToCode converts free-text gender to the HL7 single
// character code. Unrecognized values map to U rather than guessing.
func mapGenderTextToCode(gender string) string {
	switch strings.ToUpper(strings.TrimSpace(gender)) {
	case "MALE", "M":
		return "M"
	case "FEMALE", "F":
		return "F"
	default:
		return "U"
	}
}
