// Package v25 provides HL7 v2.5 message structures for the patient
// integration bridge. Only the ADT^A04 subset needed for patient
// registration is modeled: MSH, PID and IN1 segments with pipe/caret
// delimited fields.
package v25

import (
	"fmt"
	"time"
)

// HL7 v2 delimiter set. Fixed by this bridge rather than negotiated
// from MSH-2.
const (
	FieldSeparator        = "|"
	ComponentSeparator    = "^"
	RepetitionSeparator   = "~"
	EscapeCharacter       = "\\"
	SubcomponentSeparator = "&"

	// EncodingCharacters is the MSH-2 value: component, repetition,
	// escape and subcomponent separators in order.
	EncodingCharacters = ComponentSeparator + RepetitionSeparator + EscapeCharacter + SubcomponentSeparator

	// SegmentTerminator joins segments on output. Input accepts CR,
	// LF or CRLF.
	SegmentTerminator = "\r"
)

// Segment tag constants for the registration subset
const (
	SegmentMSH = "MSH"
	SegmentPID = "PID"
	SegmentIN1 = "IN1"
	SegmentEVN = "EVN"
)

// Message type constants
const (
	MessageTypeADTA04 = "ADT^A04"
	ProcessingID      = "P"
	VersionID         = "2.5"
)

// Message represents a parsed HL7 v2 message as an ordered sequence of
// segments. Order is significant: the first segment of a given tag wins
// when duplicates occur.
type Message struct {
	Segments []Segment
}

// Segment is a single HL7 segment: a 3-character tag followed by
// pipe-delimited fields.
type Segment struct {
	Tag string

	// tokens holds the raw pipe-split tokens of the segment line,
	// including the tag at index 0.
	tokens []string
}

// Field returns the value of the 1-indexed field per HL7 convention.
// MSH is special-cased: MSH-1 is the field separator character itself
// and MSH-2 the encoding characters, so numbering shifts by one
// relative to the pipe-split tokens. Fields beyond the segment's length
// are blank, not an error.
func (s *Segment) Field(i int) string {
	if i < 1 {
		return ""
	}
	if s.Tag == SegmentMSH {
		if i == 1 {
			return FieldSeparator
		}
		i--
	}
	if i >= len(s.tokens) {
		return ""
	}
	return s.tokens[i]
}

// FieldComponent returns the 1-indexed component of the 1-indexed field,
// splitting on the component separator. Blank when absent.
func (s *Segment) FieldComponent(field, component int) string {
	comps := splitComponents(s.Field(field))
	if component < 1 || component > len(comps) {
		return ""
	}
	return comps[component-1]
}

// FieldCount returns the number of fields present in the segment,
// excluding the tag token.
func (s *Segment) FieldCount() int {
	n := len(s.tokens) - 1
	if s.Tag == SegmentMSH {
		n++ // MSH-1 is the separator itself
	}
	if n < 0 {
		n = 0
	}
	return n
}

// Segment returns the first segment with the given tag.
func (m *Message) Segment(tag string) (*Segment, bool) {
	for i := range m.Segments {
		if m.Segments[i].Tag == tag {
			return &m.Segments[i], true
		}
	}
	return nil, false
}

// HasSegment reports whether any segment with the given tag is present.
func (m *Message) HasSegment(tag string) bool {
	_, ok := m.Segment(tag)
	return ok
}

// MessageType returns MSH-9 (e.g. "ADT^A04"), blank when MSH is absent.
func (m *Message) MessageType() string {
	msh, ok := m.Segment(SegmentMSH)
	if !ok {
		return ""
	}
	return msh.Field(9)
}

// ControlID returns MSH-10, the unique message control identifier.
func (m *Message) ControlID() string {
	msh, ok := m.Segment(SegmentMSH)
	if !ok {
		return ""
	}
	return msh.Field(10)
}

// ParseError indicates malformed or empty HL7 input. Fatal for the
// request; no partial result is produced.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return "hl7: parse error: " + e.Reason
}

// MissingSegmentError indicates a mandatory segment was not found.
type MissingSegmentError struct {
	Segment string
}

func (e *MissingSegmentError) Error() string {
	return "hl7: missing required segment " + e.Segment
}

// InvalidDateError indicates a date token that is not digit-shaped or
// not a valid calendar date, in either translation direction.
type InvalidDateError struct {
	Field string
	Value string
}

func (e *InvalidDateError) Error() string {
	return fmt.Sprintf("hl7: invalid date in %s: %q", e.Field, e.Value)
}

// FormatDateTime formats a time.Time to the HL7 timestamp format
// (YYYYMMDDHHMMSS) used in MSH-7.
func FormatDateTime(t time.Time) string {
	return t.Format("20060102150405")
}

// FormatDate formats a time.Time to the HL7 date format (YYYYMMDD).
func FormatDate(t time.Time) string {
	return t.Format("20060102")
}

// ParseDate parses an HL7 date (YYYYMMDD) with strict calendar
// validation: exactly eight digits and a real calendar date. Longer
// timestamps (YYYYMMDDHHMMSS) are not accepted here; callers truncate
// first if they want the date portion.
func ParseDate(s string) (time.Time, error) {
	if len(s) != 8 {
		return time.Time{}, fmt.Errorf("hl7: date must be 8 digits, got %d", len(s))
	}
	t, err := time.Parse("20060102", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("hl7: not a calendar date: %w", err)
	}
	return t, nil
}
