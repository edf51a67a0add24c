package mapper

import (
	"errors"
	"reflect"
	"testing"

	"github.com/careport/go-adt-bridge/internal/fhir/r4"
	hl7 "github.com/careport/go-adt-bridge/internal/hl7/v25"
)

func parseADT(t *testing.T, raw string) *hl7.Message {
	t.Helper()
	msg, err := hl7.ParseADT(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	return msg
}

const inboundADT = "MSH|^~\\&|CLINIC|SITE|EMR|HOSP|20260115093000||ADT^A04|MSG-42|P|2.5\r" +
	"PID|1||MRN123456^^^MRN||Smith^John^A||19801215|M\r" +
	"IN1|1|MEM789||Acme Health||||GRP-22|Gold Plan"

func TestMapMessageFull(t *testing.T) {
	m := NewHL7ToFHIRMapper()
	result, err := m.MapMessage(parseADT(t, inboundADT))
	if err != nil {
		t.Fatalf("mapping failed: %v", err)
	}

	p := result.Patient
	if p == nil {
		t.Fatal("expected patient resource")
	}
	if got := p.GetMRN(); got != "MRN123456" {
		t.Errorf("MRN = %q, want MRN123456", got)
	}
	if len(p.Identifier) != 1 || p.Identifier[0].Use != "usual" {
		t.Errorf("identifier use = %+v, want usual", p.Identifier)
	}
	if p.Identifier[0].Type == nil || p.Identifier[0].Type.Coding[0].Code != r4.CodeMRN {
		t.Error("identifier missing MR type coding")
	}
	name := p.GetOfficialName()
	if name == nil || name.Family != "Smith" {
		t.Fatalf("official name = %+v, want family Smith", name)
	}
	if !reflect.DeepEqual(name.Given, []string{"John", "A"}) {
		t.Errorf("given = %v, want [John A]", name.Given)
	}
	if p.Gender != r4.GenderMale {
		t.Errorf("gender = %q, want male", p.Gender)
	}
	if p.BirthDate != "1980-12-15" {
		t.Errorf("birthDate = %q, want 1980-12-15", p.BirthDate)
	}

	c := result.Coverage
	if c == nil {
		t.Fatal("expected coverage resource")
	}
	if c.Status != r4.CoverageStatusActive {
		t.Errorf("status = %q, want active", c.Status)
	}
	if c.SubscriberID != "MEM789" {
		t.Errorf("subscriberId = %q, want MEM789", c.SubscriberID)
	}
	if c.Beneficiary.Reference != "Patient/MRN123456" {
		t.Errorf("beneficiary = %q", c.Beneficiary.Reference)
	}
	if len(c.Payor) != 1 || c.Payor[0].Display != "Acme Health" {
		t.Errorf("payor = %+v", c.Payor)
	}
	if len(c.Class) != 2 {
		t.Fatalf("expected 2 class entries, got %d", len(c.Class))
	}
	if c.Class[0].Type.Coding[0].Code != r4.CoverageClassGroup || c.Class[0].Value != "GRP-22" {
		t.Errorf("group class = %+v", c.Class[0])
	}
	if c.Class[1].Type.Coding[0].Code != r4.CoverageClassPlan || c.Class[1].Value != "Gold Plan" {
		t.Errorf("plan class = %+v", c.Class[1])
	}
}

func TestMapMessageNoInsurance(t *testing.T) {
	raw := "MSH|^~\\&|CLINIC|SITE|EMR|HOSP|20260115093000||ADT^A04|MSG-43|P|2.5\r" +
		"PID|1||MRN777^^^MRN||Jones^Mary||19920301|F"

	result, err := NewHL7ToFHIRMapper().MapMessage(parseADT(t, raw))
	if err != nil {
		t.Fatalf("mapping failed: %v", err)
	}
	if result.Coverage != nil {
		t.Error("expected nil coverage without IN1")
	}
	if result.Patient.Gender != r4.GenderFemale {
		t.Errorf("gender = %q, want female", result.Patient.Gender)
	}
}

func TestMapMessageMissingPID(t *testing.T) {
	raw := "MSH|^~\\&|CLINIC|SITE|EMR|HOSP|20260115093000||ADT^A04|MSG-44|P|2.5"
	msg, err := hl7.Parse(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	_, err = NewHL7ToFHIRMapper().MapMessage(msg)
	var merr *hl7.MissingSegmentError
	if !errors.As(err, &merr) {
		t.Fatalf("expected MissingSegmentError, got %v", err)
	}
	if merr.Segment != hl7.SegmentPID {
		t.Errorf("segment = %q, want PID", merr.Segment)
	}
}

func TestMapPIDBirthDate(t *testing.T) {
	tests := []struct {
		name    string
		dob     string
		want    string
		wantErr bool
	}{
		{"valid", "19801215", "1980-12-15", false},
		{"absent", "", "", false},
		{"seven digits", "1980121", "", true},
		{"feb 30", "20210230", "", true},
		{"non numeric", "1980AB15", "", true},
	}

	m := NewHL7ToFHIRMapper()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := "MSH|^~\\&|A|B|C|D|20260101000000||ADT^A04|M1|P|2.5\r" +
				"PID|1||MRN1^^^MRN||Smith^John||" + tt.dob + "|M"
			result, err := m.MapMessage(parseADT(t, raw))
			if tt.wantErr {
				var derr *hl7.InvalidDateError
				if !errors.As(err, &derr) {
					t.Fatalf("expected InvalidDateError, got %v", err)
				}
				if derr.Field != "PID-7" || derr.Value != tt.dob {
					t.Errorf("error = %+v", derr)
				}
				return
			}
			if err != nil {
				t.Fatalf("mapping failed: %v", err)
			}
			if result.Patient.BirthDate != tt.want {
				t.Errorf("birthDate = %q, want %q", result.Patient.BirthDate, tt.want)
			}
		})
	}
}

func TestMapGenderCodes(t *testing.T) {
	tests := []struct {
		code string
		want string
	}{
		{"M", r4.GenderMale},
		{"m", r4.GenderMale},
		{"F", r4.GenderFemale},
		{"O", r4.GenderOther},
		{"X", r4.GenderUnknown},
		{"", r4.GenderUnknown},
	}
	for _, tt := range tests {
		if got := mapGenderCodeToFHIR(tt.code); got != tt.want {
			t.Errorf("mapGenderCodeToFHIR(%q) = %q, want %q", tt.code, got, tt.want)
		}
	}
}

func TestMapPIDEscapedName(t *testing.T) {
	raw := "MSH|^~\\&|A|B|C|D|20260101000000||ADT^A04|M1|P|2.5\r" +
		"PID|1||MRN1^^^MRN||Smith \\T\\ Sons^John||19801215|M"
	result, err := NewHL7ToFHIRMapper().MapMessage(parseADT(t, raw))
	if err != nil {
		t.Fatalf("mapping failed: %v", err)
	}
	if got := result.Patient.GetOfficialName().Family; got != "Smith & Sons" {
		t.Errorf("family = %q, want unescaped ampersand", got)
	}
}

func TestBuildCoverageOptionalClasses(t *testing.T) {
	m := NewHL7ToFHIRMapper()

	c := m.BuildCoverage(&CoverageRecord{SubscriberID: "S1", PayorName: "P"}, "Patient/X")
	if len(c.Class) != 0 {
		t.Errorf("expected no class entries, got %d", len(c.Class))
	}

	c = m.BuildCoverage(&CoverageRecord{SubscriberID: "S1", PlanName: "Silver"}, "Patient/X")
	if len(c.Class) != 1 || c.Class[0].Type.Coding[0].Code != r4.CoverageClassPlan {
		t.Errorf("expected single plan class, got %+v", c.Class)
	}
	if len(c.Payor) != 0 {
		t.Error("expected no payor without IN1-4")
	}
}

func TestMapPIDRepeatedIdentifiers(t *testing.T) {
	raw := "MSH|^~\\&|CLINIC|SITE|EMR|HOSP|20260115093000||ADT^A04|MSG-77|P|2.5\r" +
		"PID|1||MRN777^^^MRN~ALT-1^^^PI||Lee^Ana||19900101|F"

	m := NewHL7ToFHIRMapper()
	result, err := m.MapMessage(parseADT(t, raw))
	if err != nil {
		t.Fatalf("mapping failed: %v", err)
	}

	// Only the first PID-3 repetition is the MRN; secondary identifiers
	// from upstream feeds are ignored.
	if got := result.Patient.GetMRN(); got != "MRN777" {
		t.Errorf("MRN = %q, want MRN777", got)
	}
	if got := result.PatientRecord.Identifier; got != "MRN777" {
		t.Errorf("record identifier = %q, want MRN777", got)
	}
}
