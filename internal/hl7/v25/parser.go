// Parsing of raw HL7 text into segments and fields.
package v25

import "strings"

// Parse tokenizes raw HL7 text into a Message. Segment terminators may
// be CR, LF or CRLF; empty trailing segment lines are discarded. Each
// line is split on the field separator, with the first token taken as
// the segment tag. Returns ParseError when the input is empty or
// contains no segment lines.
func Parse(raw string) (*Message, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, &ParseError{Reason: "empty message"}
	}

	normalized := strings.ReplaceAll(raw, "\r\n", "\r")
	normalized = strings.ReplaceAll(normalized, "\n", "\r")

	var msg Message
	for _, line := range strings.Split(normalized, "\r") {
		line = strings.TrimRight(line, " ")
		if line == "" {
			continue
		}
		if len(line) < 3 {
			return nil, &ParseError{Reason: "segment line shorter than tag: " + line}
		}
		tokens := strings.Split(line, FieldSeparator)
		msg.Segments = append(msg.Segments, Segment{
			Tag:    tokens[0],
			tokens: tokens,
		})
	}

	if len(msg.Segments) == 0 {
		return nil, &ParseError{Reason: "no segment lines"}
	}
	return &msg, nil
}

// ParseADT parses raw HL7 text and enforces the ADT registration
// invariants: MSH must be the first segment and PID must be present.
// IN1 absence is not an error.
func ParseADT(raw string) (*Message, error) {
	msg, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	if msg.Segments[0].Tag != SegmentMSH {
		return nil, &ParseError{Reason: "message does not start with MSH"}
	}
	if !msg.HasSegment(SegmentPID) {
		return nil, &MissingSegmentError{Segment: SegmentPID}
	}
	return msg, nil
}

// splitComponents splits a field value on the component separator.
func splitComponents(field string) []string {
	if field == "" {
		return nil
	}
	return strings.Split(field, ComponentSeparator)
}

// SplitRepetitions splits a field value on the repetition separator.
// Registration segments do not repeat in this scope, but repeated
// PID-3 values from upstream feeds still need first-repetition access.
func SplitRepetitions(field string) []string {
	if field == "" {
		return nil
	}
	return strings.Split(field, RepetitionSeparator)
}

// BuildSegment joins a tag and field values into one segment line,
// preserving empty tokens so field positions stay intact. Callers are
// responsible for escaping field values first.
func BuildSegment(tag string, fields ...string) string {
	return tag + FieldSeparator + strings.Join(fields, FieldSeparator)
}
