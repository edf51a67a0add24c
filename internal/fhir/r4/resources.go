package r4

import "encoding/json"

// Patient represents a FHIR R4 Patient resource, limited to the
// demographics subset carried by ADT registration messages.
type Patient struct {
	ResourceType string       `json:"resourceType"`
	ID           string       `json:"id,omitempty"`
	Identifier   []Identifier `json:"identifier,omitempty"`
	Active       bool         `json:"active,omitempty"`
	Name         []HumanName  `json:"name,omitempty"`
	Gender       string       `json:"gender,omitempty"` // male | female | other | unknown
	BirthDate    string       `json:"birthDate,omitempty"`
}

// GetMRN returns the patient's medical record number, identified by the
// v2-0203 "MR" type coding, falling back to the first identifier.
func (p *Patient) GetMRN() string {
	for _, id := range p.Identifier {
		if id.Type == nil {
			continue
		}
		for _, coding := range id.Type.Coding {
			if coding.Code == CodeMRN {
				return id.Value
			}
		}
	}
	if len(p.Identifier) > 0 {
		return p.Identifier[0].Value
	}
	return ""
}

// GetOfficialName returns the patient's official name, or first available.
func (p *Patient) GetOfficialName() *HumanName {
	for i := range p.Name {
		if p.Name[i].Use == "official" {
			return &p.Name[i]
		}
	}
	if len(p.Name) > 0 {
		return &p.Name[0]
	}
	return nil
}

// Coverage represents a FHIR R4 Coverage resource carrying the
// insurance subset of an IN1 segment.
type Coverage struct {
	ResourceType string          `json:"resourceType"`
	ID           string          `json:"id,omitempty"`
	Status       string          `json:"status"`
	SubscriberID string          `json:"subscriberId,omitempty"`
	Beneficiary  Reference       `json:"beneficiary"`
	Payor        []Reference     `json:"payor,omitempty"`
	Class        []CoverageClass `json:"class,omitempty"`
}

// CoverageClass represents a group or plan entry under Coverage.class.
type CoverageClass struct {
	Type  CodeableConcept `json:"type"`
	Value string          `json:"value"`
	Name  string          `json:"name,omitempty"`
}

// Coverage status and class codes used by the bridge
const (
	CoverageStatusActive = "active"
	CoverageClassGroup   = "group"
	CoverageClassPlan    = "plan"
)

// Bundle represents a FHIR searchset Bundle, as returned by Patient and
// Coverage searches against the backend store.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	Type         string        `json:"type,omitempty"`
	Total        int           `json:"total,omitempty"`
	Entry        []BundleEntry `json:"entry,omitempty"`
}

// BundleEntry is a single entry within a Bundle.
type BundleEntry struct {
	FullURL  string          `json:"fullUrl,omitempty"`
	Resource json.RawMessage `json:"resource,omitempty"`
}
