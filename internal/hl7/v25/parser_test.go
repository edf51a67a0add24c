package v25

import (
	"errors"
	"strings"
	"testing"
)

const sampleADT = "MSH|^~\\&|INTEGRATION|CLINIC|EMR|HOSPITAL|20260115093000||ADT^A04|MSG-0001|P|2.5\r" +
	"PID|1||MRN123456^^^MRN||Smith^John^A||19801215|M\r" +
	"IN1|1|MEM789||Acme Health||||GRP-22|Gold Plan"

func TestParseTerminatorVariants(t *testing.T) {
	variants := map[string]string{
		"CR":   sampleADT,
		"LF":   strings.ReplaceAll(sampleADT, "\r", "\n"),
		"CRLF": strings.ReplaceAll(sampleADT, "\r", "\r\n"),
	}

	for name, raw := range variants {
		t.Run(name, func(t *testing.T) {
			msg, err := Parse(raw)
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			if len(msg.Segments) != 3 {
				t.Fatalf("expected 3 segments, got %d", len(msg.Segments))
			}
			if msg.Segments[0].Tag != SegmentMSH || msg.Segments[1].Tag != SegmentPID || msg.Segments[2].Tag != SegmentIN1 {
				t.Errorf("unexpected segment order: %s %s %s",
					msg.Segments[0].Tag, msg.Segments[1].Tag, msg.Segments[2].Tag)
			}
		})
	}
}

func TestParseEmptyInput(t *testing.T) {
	for _, raw := range []string{"", "   ", "\r\n\r\n"} {
		_, err := Parse(raw)
		var perr *ParseError
		if !errors.As(err, &perr) {
			t.Errorf("Parse(%q): expected ParseError, got %v", raw, err)
		}
	}
}

func TestMSHFieldIndexing(t *testing.T) {
	msg, err := Parse(sampleADT)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	msh, ok := msg.Segment(SegmentMSH)
	if !ok {
		t.Fatal("MSH segment not found")
	}

	// MSH-1 is the field separator itself, shifting all later fields.
	if got := msh.Field(1); got != "|" {
		t.Errorf("MSH-1 = %q, want %q", got, "|")
	}
	if got := msh.Field(2); got != "^~\\&" {
		t.Errorf("MSH-2 = %q, want %q", got, "^~\\&")
	}
	if got := msh.Field(9); got != "ADT^A04" {
		t.Errorf("MSH-9 = %q, want %q", got, "ADT^A04")
	}
	if got := msh.Field(10); got != "MSG-0001" {
		t.Errorf("MSH-10 = %q, want %q", got, "MSG-0001")
	}
	if got := msh.Field(12); got != "2.5" {
		t.Errorf("MSH-12 = %q, want %q", got, "2.5")
	}
}

func TestFieldOutOfRange(t *testing.T) {
	msg, err := Parse(sampleADT)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	pid, _ := msg.Segment(SegmentPID)

	if got := pid.Field(0); got != "" {
		t.Errorf("PID-0 = %q, want empty", got)
	}
	if got := pid.Field(40); got != "" {
		t.Errorf("PID-40 = %q, want empty", got)
	}
	if got := pid.FieldComponent(5, 9); got != "" {
		t.Errorf("PID-5.9 = %q, want empty", got)
	}
}

func TestFieldComponent(t *testing.T) {
	msg, err := Parse(sampleADT)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	pid, _ := msg.Segment(SegmentPID)

	if got := pid.FieldComponent(3, 1); got != "MRN123456" {
		t.Errorf("PID-3.1 = %q, want %q", got, "MRN123456")
	}
	if got := pid.FieldComponent(5, 1); got != "Smith" {
		t.Errorf("PID-5.1 = %q, want %q", got, "Smith")
	}
	if got := pid.FieldComponent(5, 2); got != "John" {
		t.Errorf("PID-5.2 = %q, want %q", got, "John")
	}
	if got := pid.FieldComponent(5, 3); got != "A" {
		t.Errorf("PID-5.3 = %q, want %q", got, "A")
	}
}

func TestParseADTEnforcesStructure(t *testing.T) {
	if _, err := ParseADT("PID|1||MRN1^^^MRN||Smith^John"); err == nil {
		t.Error("expected error for message not starting with MSH")
	}

	noPID := "MSH|^~\\&|A|B|C|D|20260101000000||ADT^A04|M1|P|2.5"
	_, err := ParseADT(noPID)
	var merr *MissingSegmentError
	if !errors.As(err, &merr) {
		t.Fatalf("expected MissingSegmentError, got %v", err)
	}
	if merr.Segment != SegmentPID {
		t.Errorf("missing segment = %q, want PID", merr.Segment)
	}
}

func TestMessageAccessors(t *testing.T) {
	msg, err := ParseADT(sampleADT)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if got := msg.MessageType(); got != MessageTypeADTA04 {
		t.Errorf("MessageType = %q, want %q", got, MessageTypeADTA04)
	}
	if got := msg.ControlID(); got != "MSG-0001" {
		t.Errorf("ControlID = %q, want %q", got, "MSG-0001")
	}
	if !msg.HasSegment(SegmentIN1) {
		t.Error("expected IN1 segment")
	}
	if msg.HasSegment(SegmentEVN) {
		t.Error("did not expect EVN segment")
	}
}

func TestDuplicateSegmentFirstWins(t *testing.T) {
	raw := sampleADT + "\rPID|2||OTHER^^^MRN||Jones^Mary"
	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	pid, _ := msg.Segment(SegmentPID)
	if got := pid.FieldComponent(3, 1); got != "MRN123456" {
		t.Errorf("first PID should win, got identifier %q", got)
	}
}

func TestParseDateStrict(t *testing.T) {
	tests := []struct {
		value string
		ok    bool
	}{
		{"19801215", true},
		{"20000229", true}, // leap day
		{"1980121", false}, // 7 digits
		{"198012150", false},
		{"20210230", false}, // Feb 30
		{"2021ab30", false},
		{"", false},
	}
	for _, tt := range tests {
		_, err := ParseDate(tt.value)
		if tt.ok && err != nil {
			t.Errorf("ParseDate(%q): unexpected error %v", tt.value, err)
		}
		if !tt.ok && err == nil {
			t.Errorf("ParseDate(%q): expected error", tt.value)
		}
	}
}

func TestEscapeRoundTrip(t *testing.T) {
	values := []string{
		"Smith & Sons",
		"A|B^C~D\\E&F",
		"plain text",
		"",
	}
	for _, v := range values {
		escaped := Escape(v)
		if v != "" && strings.ContainsAny(escaped, "|^~&") {
			t.Errorf("Escape(%q) = %q still contains delimiters", v, escaped)
		}
		if got := Unescape(escaped); got != v {
			t.Errorf("round trip of %q = %q", v, got)
		}
	}
}

func TestBuildSegmentPreservesEmptyTokens(t *testing.T) {
	seg := BuildSegment(SegmentPID, "1", "", "MRN1^^^MRN", "", "Smith^John")
	if seg != "PID|1||MRN1^^^MRN||Smith^John" {
		t.Errorf("unexpected segment: %s", seg)
	}
}

// TestMRNExtractionForRouting covers the lookup chain the outbox write
// path relies on: parse a composed message, find PID, take the first
// component of PID-3, and tolerate a message without the segment.
func TestMRNExtractionForRouting(t *testing.T) {
	msg, err := Parse(sampleADT)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	pid, ok := msg.Segment(SegmentPID)
	if !ok {
		t.Fatal("PID segment not found")
	}
	if got := pid.FieldComponent(3, 1); got != "MRN123456" {
		t.Errorf("PID-3.1 = %q, want MRN123456", got)
	}

	if evn, ok := msg.Segment(SegmentEVN); ok || evn != nil {
		t.Errorf("Segment(EVN) = %v, %v; want nil, false", evn, ok)
	}
}

func TestSplitRepetitionsFirstWins(t *testing.T) {
	reps := SplitRepetitions("MRN123456^^^MRN~ALT-9^^^PI")
	if len(reps) != 2 {
		t.Fatalf("expected 2 repetitions, got %d", len(reps))
	}
	if reps[0] != "MRN123456^^^MRN" {
		t.Errorf("first repetition = %q", reps[0])
	}
	if SplitRepetitions("") != nil {
		t.Error("expected nil for empty field")
	}
}

func TestFieldCount(t *testing.T) {
	msg, err := Parse(sampleADT)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	msh, _ := msg.Segment(SegmentMSH)
	if got := msh.FieldCount(); got != 12 {
		t.Errorf("MSH field count = %d, want 12", got)
	}
	pid, _ := msg.Segment(SegmentPID)
	if got := pid.FieldCount(); got != 8 {
		t.Errorf("PID field count = %d, want 8", got)
	}
}
