package mapper

import (
	"errors"
	"strings"
	"testing"
	"time"

	hl7 "github.com/careport/go-adt-bridge/internal/hl7/v25"
)

func fixedComposer() *IntakeToHL7Composer {
	return &IntakeToHL7Composer{
		Now:          func() time.Time { return time.Date(2026, 1, 15, 9, 30, 0, 0, time.UTC) },
		NewControlID: func() string { return "MSG-TEST01" },
	}
}

func validIntake() *IntakePayload {
	return &IntakePayload{
		MRN:       "MRN123456",
		LastName:  "Smith",
		FirstName: "John",
		DOB:       "12/15/1980",
		Gender:    "male",
		Insurance: &InsuranceInfo{
			Name:        "Acme Health",
			MemberID:    "MEM789",
			Plan:        "Gold Plan",
			GroupNumber: "GRP-22",
		},
	}
}

func TestComposeFullMessage(t *testing.T) {
	raw, err := fixedComposer().Compose(validIntake())
	if err != nil {
		t.Fatalf("compose failed: %v", err)
	}

	lines := strings.Split(raw, "\r")
	if len(lines) != 3 {
		t.Fatalf("expected 3 segments, got %d: %q", len(lines), raw)
	}
	if lines[0] != "MSH|^~\\&|INTEGRATION|CLINIC|EMR|HOSPITAL|20260115093000||ADT^A04|MSG-TEST01|P|2.5" {
		t.Errorf("MSH = %q", lines[0])
	}
	if lines[1] != "PID|1||MRN123456^^^MRN||Smith^John||19801215|M" {
		t.Errorf("PID = %q", lines[1])
	}
	if lines[2] != "IN1|1|MEM789||Acme Health||||GRP-22|Gold Plan" {
		t.Errorf("IN1 = %q", lines[2])
	}
}

func TestComposeWithoutInsurance(t *testing.T) {
	p := validIntake()
	p.Insurance = nil
	p.Gender = "female"

	raw, err := fixedComposer().Compose(p)
	if err != nil {
		t.Fatalf("compose failed: %v", err)
	}
	if strings.Contains(raw, "IN1") {
		t.Error("message should not contain an IN1 segment")
	}
	if !strings.Contains(raw, "|F") {
		t.Error("expected gender code F")
	}
}

func TestComposeGenderFallback(t *testing.T) {
	p := validIntake()
	p.Gender = "nonbinary"

	raw, err := fixedComposer().Compose(p)
	if err != nil {
		t.Fatalf("compose failed: %v", err)
	}
	if !strings.HasSuffix(strings.Split(raw, "\r")[1], "|U") {
		t.Errorf("expected gender code U, got PID %q", strings.Split(raw, "\r")[1])
	}
}

func TestComposeRoundTrip(t *testing.T) {
	raw, err := fixedComposer().Compose(validIntake())
	if err != nil {
		t.Fatalf("compose failed: %v", err)
	}

	result, err := NewHL7ToFHIRMapper().MapMessage(parseADT(t, raw))
	if err != nil {
		t.Fatalf("mapping composed message failed: %v", err)
	}
	if got := result.Patient.GetMRN(); got != "MRN123456" {
		t.Errorf("round-trip MRN = %q", got)
	}
	if result.Patient.BirthDate != "1980-12-15" {
		t.Errorf("round-trip birthDate = %q", result.Patient.BirthDate)
	}
	if result.Coverage == nil || result.Coverage.SubscriberID != "MEM789" {
		t.Errorf("round-trip coverage = %+v", result.Coverage)
	}
}

func TestComposeEscapesDelimiters(t *testing.T) {
	p := validIntake()
	p.LastName = "Smith|Jones"
	p.Insurance.Name = "Acme & Co"

	raw, err := fixedComposer().Compose(p)
	if err != nil {
		t.Fatalf("compose failed: %v", err)
	}
	if !strings.Contains(raw, `Smith\F\Jones`) {
		t.Errorf("pipe in name not escaped: %q", raw)
	}
	if !strings.Contains(raw, `Acme \T\ Co`) {
		t.Errorf("ampersand in payor not escaped: %q", raw)
	}
}

func TestValidatePayloadAggregatesErrors(t *testing.T) {
	err := ValidatePayload(&IntakePayload{})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(verr.Errors) != 5 {
		t.Fatalf("expected 5 field errors, got %d: %v", len(verr.Errors), verr)
	}

	fields := make(map[string]bool)
	for _, fe := range verr.Errors {
		fields[fe.Field] = true
	}
	for _, want := range []string{"mrn", "lastName", "firstName", "dob", "gender"} {
		if !fields[want] {
			t.Errorf("missing field error for %q", want)
		}
	}
}

func TestValidatePayloadBadDOB(t *testing.T) {
	for _, dob := range []string{"02/30/2020", "1980-12-15", "13/01/1990", "12/15/80"} {
		p := validIntake()
		p.DOB = dob

		err := ValidatePayload(p)
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("DOB %q: expected ValidationError, got %v", dob, err)
		}
		if len(verr.Errors) != 1 || verr.Errors[0].Field != "dob" {
			t.Errorf("DOB %q: errors = %+v, want single dob error", dob, verr.Errors)
		}
	}
}

func TestValidatePayloadSingleDigitDOB(t *testing.T) {
	p := validIntake()
	p.DOB = "1/5/1980"

	if err := ValidatePayload(p); err != nil {
		t.Fatalf("single-digit month/day should be accepted: %v", err)
	}

	raw, err := fixedComposer().Compose(p)
	if err != nil {
		t.Fatalf("compose failed: %v", err)
	}
	if !strings.Contains(raw, "|19800105|") {
		t.Errorf("expected padded DOB 19800105 in %q", raw)
	}
}

func TestValidatePayloadInsuranceMemberID(t *testing.T) {
	p := validIntake()
	p.Insurance.MemberID = " "

	err := ValidatePayload(p)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(verr.Errors) != 1 || verr.Errors[0].Field != "insurance.memberID" {
		t.Errorf("errors = %+v", verr.Errors)
	}
}

func TestComposeRejectsInvalidPayload(t *testing.T) {
	p := validIntake()
	p.MRN = ""

	_, err := fixedComposer().Compose(p)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError from Compose, got %v", err)
	}
}

func TestComposedTimestampFormat(t *testing.T) {
	raw, err := fixedComposer().Compose(validIntake())
	if err != nil {
		t.Fatalf("compose failed: %v", err)
	}
	msg, err := hl7.ParseADT(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	msh, _ := msg.Segment(hl7.SegmentMSH)
	if got := msh.Field(7); got != "20260115093000" {
		t.Errorf("MSH-7 = %q, want 20260115093000", got)
	}
	if got := msg.ControlID(); got != "MSG-TEST01" {
		t.Errorf("MSH-10 = %q", got)
	}
}
