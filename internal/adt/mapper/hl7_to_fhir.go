// Package mapper provides transformation logic between HL7 v2 ADT
// messages and FHIR R4 resources.
package mapper

import (
	"strings"

	"github.com/careport/go-adt-bridge/internal/fhir/r4"
	hl7 "github.com/careport/go-adt-bridge/internal/hl7/v25"
)

// PatientRecord is the intermediate output of PID field mapping, before
// FHIR resource construction.
type PatientRecord struct {
	// Identifier is the medical record number value from PID-3.
	Identifier string
	Family     string
	// Given holds the given names in order: first, then middle.
	Given []string
	// BirthDate is a FHIR date (YYYY-MM-DD), empty when PID-7 is absent.
	BirthDate string
	// Gender is the FHIR administrative gender.
	Gender string
}

// CoverageRecord is the intermediate output of IN1 field mapping.
type CoverageRecord struct {
	SubscriberID string
	PayorName    string
	// GroupNumber and PlanName are independently optional.
	GroupNumber string
	PlanName    string
}

// MapResult holds the resources produced from one ADT message.
type MapResult struct {
	Patient        *r4.Patient
	Coverage       *r4.Coverage
	PatientRecord  *PatientRecord
	CoverageRecord *CoverageRecord
}

// HL7ToFHIRMapper transforms parsed ADT segments into FHIR R4 resources.
type HL7ToFHIRMapper struct{}

// NewHL7ToFHIRMapper creates a new inbound mapper.
func NewHL7ToFHIRMapper() *HL7ToFHIRMapper {
	return &HL7ToFHIRMapper{}
}

// MapMessage converts a parsed ADT message into FHIR resources. The
// first PID segment wins; IN1 is optional and its absence produces a
// nil Coverage rather than an error.
func (m *HL7ToFHIRMapper) MapMessage(msg *hl7.Message) (*MapResult, error) {
	pid, ok := msg.Segment(hl7.SegmentPID)
	if !ok {
		return nil, &hl7.MissingSegmentError{Segment: hl7.SegmentPID}
	}

	patientRec, err := m.MapPID(pid)
	if err != nil {
		return nil, err
	}

	result := &MapResult{
		PatientRecord: patientRec,
		Patient:       m.BuildPatient(patientRec),
	}

	if in1, ok := msg.Segment(hl7.SegmentIN1); ok {
		coverageRec := m.MapIN1(in1)
		result.CoverageRecord = coverageRec
		result.Coverage = m.BuildCoverage(coverageRec, "Patient/"+patientRec.Identifier)
	}

	return result, nil
}

// MapPID converts a PID segment into a PatientRecord.
//
//	PID-3  identifier (component before the first caret)
//	PID-5  name (family^first given^second given)
//	PID-7  birth date (YYYYMMDD, strict)
//	PID-8  administrative sex code
func (m *HL7ToFHIRMapper) MapPID(pid *hl7.Segment) (*PatientRecord, error) {
	// Upstream feeds may repeat PID-3; the first repetition carries the
	// MRN in this scope.
	mrn := pid.Field(3)
	if reps := hl7.SplitRepetitions(mrn); len(reps) > 0 {
		mrn = reps[0]
	}
	mrn = strings.SplitN(mrn, hl7.ComponentSeparator, 2)[0]

	rec := &PatientRecord{
		Identifier: hl7.Unescape(mrn),
		Family:     hl7.Unescape(pid.FieldComponent(5, 1)),
		Gender:     mapGenderCodeToFHIR(pid.Field(8)),
	}

	if given := hl7.Unescape(pid.FieldComponent(5, 2)); given != "" {
		rec.Given = append(rec.Given, given)
	}
	if middle := hl7.Unescape(pid.FieldComponent(5, 3)); middle != "" {
		rec.Given = append(rec.Given, middle)
	}

	// PID-7 absence is not an error; a present but malformed value is.
	if dob := pid.Field(7); dob != "" {
		t, err := hl7.ParseDate(dob)
		if err != nil {
			return nil, &hl7.InvalidDateError{Field: "PID-7", Value: dob}
		}
		rec.BirthDate = t.Format("2006-01-02")
	}

	return rec, nil
}

// MapIN1 converts an IN1 segment into a CoverageRecord.
//
//	IN1-2  subscriber (member) identifier
//	IN1-4  payor display name
//	IN1-8  group number (optional)
//	IN1-9  plan name (optional)
func (m *HL7ToFHIRMapper) MapIN1(in1 *hl7.Segment) *CoverageRecord {
	return &CoverageRecord{
		SubscriberID: hl7.Unescape(in1.Field(2)),
		PayorName:    hl7.Unescape(in1.Field(4)),
		GroupNumber:  strings.TrimSpace(hl7.Unescape(in1.Field(8))),
		PlanName:     strings.TrimSpace(hl7.Unescape(in1.Field(9))),
	}
}

// BuildPatient constructs the FHIR Patient resource for a record. The
// identifier carries the v2-0203 MR type coding; the name, when any
// part is present, is the official name.
func (m *HL7ToFHIRMapper) BuildPatient(rec *PatientRecord) *r4.Patient {
	patient := &r4.Patient{
		ResourceType: "Patient",
		Gender:       rec.Gender,
		BirthDate:    rec.BirthDate,
	}

	if rec.Identifier != "" {
		patient.Identifier = []r4.Identifier{
			{
				Use: "usual",
				Type: &r4.CodeableConcept{
					Coding: []r4.Coding{
						{
							System:  r4.SystemIdentifierType,
							Code:    r4.CodeMRN,
							Display: "Medical Record Number",
						},
					},
				},
				Value: rec.Identifier,
			},
		}
	}

	if rec.Family != "" || len(rec.Given) > 0 {
		patient.Name = []r4.HumanName{
			{
				Use:    "official",
				Family: rec.Family,
				Given:  rec.Given,
			},
		}
	}

	return patient
}

// BuildCoverage constructs the FHIR Coverage resource for a record.
// Status is fixed to active; group and plan class entries are emitted
// only when present.
func (m *HL7ToFHIRMapper) BuildCoverage(rec *CoverageRecord, patientRef string) *r4.Coverage {
	coverage := &r4.Coverage{
		ResourceType: "Coverage",
		Status:       r4.CoverageStatusActive,
		SubscriberID: rec.SubscriberID,
		Beneficiary:  r4.Reference{Reference: patientRef},
	}

	if rec.PayorName != "" {
		coverage.Payor = []r4.Reference{{Display: rec.PayorName}}
	}

	if rec.GroupNumber != "" {
		coverage.Class = append(coverage.Class, r4.CoverageClass{
			Type: r4.CodeableConcept{
				Coding: []r4.Coding{
					{System: r4.SystemCoverageClass, Code: r4.CoverageClassGroup, Display: "Group"},
				},
			},
			Value: rec.GroupNumber,
		})
	}

	if rec.PlanName != "" {
		coverage.Class = append(coverage.Class, r4.CoverageClass{
			Type: r4.CodeableConcept{
				Coding: []r4.Coding{
					{System: r4.SystemCoverageClass, Code: r4.CoverageClassPlan, Display: "Plan"},
				},
			},
			Value: rec.PlanName,
			Name:  rec.PlanName,
		})
	}

	return coverage
}

// mapGenderCodeToFHIR converts an HL7 administrative sex code to a FHIR
// gender. Any unrecognized or blank code maps to unknown.
func mapGenderCodeToFHIR(code string) string {
	switch strings.ToUpper(code) {
	case "M":
		return r4.GenderMale
	case "F":
		return r4.GenderFemale
	case "O":
		return r4.GenderOther
	default:
		return r4.GenderUnknown
	}
}
