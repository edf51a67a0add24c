package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/careport/go-adt-bridge/internal/domain/registration"
)

// fakeReader answers proxy reads from a canned map of paths.
type fakeReader struct {
	responses map[string][]byte
	err       error
	lastQuery url.Values
}

func (f *fakeReader) Get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	f.lastQuery = query
	if f.err != nil {
		return nil, f.err
	}
	body, ok := f.responses[path]
	if !ok {
		return nil, errors.New("unexpected path " + path)
	}
	return body, nil
}

func TestProxySearchPassesQueryThrough(t *testing.T) {
	reader := &fakeReader{responses: map[string][]byte{
		"/Patient": []byte(`{"resourceType":"Bundle","type":"searchset","entry":[]}`),
	}}
	srv := httptest.NewServer(NewProxyHandler(reader, nil).Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/Patient?identifier=MRN123")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/fhir+json" {
		t.Errorf("content type = %q", ct)
	}
	if got := reader.lastQuery.Get("identifier"); got != "MRN123" {
		t.Errorf("identifier param = %q, want MRN123", got)
	}
}

func TestProxyRejectsMutations(t *testing.T) {
	reader := &fakeReader{responses: map[string][]byte{}}
	srv := httptest.NewServer(NewProxyHandler(reader, nil).Routes())
	defer srv.Close()

	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch} {
		req, _ := http.NewRequest(method, srv.URL+"/Patient", strings.NewReader("{}"))
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s request failed: %v", method, err)
		}
		resp.Body.Close()

		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Errorf("%s status = %d, want 405", method, resp.StatusCode)
		}
		if allow := resp.Header.Get("Allow"); allow != http.MethodGet {
			t.Errorf("%s Allow = %q, want GET", method, allow)
		}
	}
}

func TestProxyUnknownResourceType(t *testing.T) {
	reader := &fakeReader{responses: map[string][]byte{}}
	srv := httptest.NewServer(NewProxyHandler(reader, nil).Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/Observation/obs-1")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

// fakeGateway drives the intake handler without a real EMR server.
type fakeGateway struct {
	exists    bool
	existsErr error
	submitted []string
}

func (f *fakeGateway) PatientExists(ctx context.Context, mrn string) (bool, error) {
	return f.exists, f.existsErr
}

func (f *fakeGateway) SubmitHL7(ctx context.Context, message string) (*registration.Summary, error) {
	f.submitted = append(f.submitted, message)
	return &registration.Summary{
		Patient: registration.ResourceSummary{Action: registration.ActionCreated, ID: "pat-001"},
	}, nil
}

type fakePublisher struct {
	controlIDs []string
	messages   []string
}

func (f *fakePublisher) PublishHL7(ctx context.Context, controlID, message string) error {
	f.controlIDs = append(f.controlIDs, controlID)
	f.messages = append(f.messages, message)
	return nil
}

const validIntakeBody = `{
	"mrn": "MRN777",
	"firstName": "Dana",
	"lastName": "Wu",
	"dob": "04/12/1990",
	"gender": "female"
}`

func TestIntakeDirectSubmission(t *testing.T) {
	gw := &fakeGateway{}
	srv := httptest.NewServer(NewIntakeHandler(gw, nil, nil, nil).Routes())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/", "application/json", strings.NewReader(validIntakeBody))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	if len(gw.submitted) != 1 {
		t.Fatalf("submitted %d messages, want 1", len(gw.submitted))
	}
	if !strings.Contains(gw.submitted[0], "MRN777^^^MRN") {
		t.Errorf("message missing MRN field: %q", gw.submitted[0])
	}

	var summary registration.Summary
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if summary.Patient.Action != registration.ActionCreated {
		t.Errorf("action = %q, want created", summary.Patient.Action)
	}
}

func TestIntakeQueuedSubmission(t *testing.T) {
	gw := &fakeGateway{}
	pub := &fakePublisher{}
	srv := httptest.NewServer(NewIntakeHandler(gw, pub, nil, nil).Routes())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/", "application/json", strings.NewReader(validIntakeBody))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	if len(pub.messages) != 1 {
		t.Fatalf("published %d messages, want 1", len(pub.messages))
	}
	if len(gw.submitted) != 0 {
		t.Errorf("expected no direct submissions, got %d", len(gw.submitted))
	}

	var queued RegisterResponse
	if err := json.NewDecoder(resp.Body).Decode(&queued); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if queued.Status != "queued" || queued.MRN != "MRN777" {
		t.Errorf("response = %+v", queued)
	}
	if queued.ControlID == "" || queued.ControlID != pub.controlIDs[0] {
		t.Errorf("control ID mismatch: %q vs %q", queued.ControlID, pub.controlIDs[0])
	}
}

func TestIntakeDuplicateRejected(t *testing.T) {
	gw := &fakeGateway{exists: true}
	srv := httptest.NewServer(NewIntakeHandler(gw, nil, nil, nil).Routes())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/", "application/json", strings.NewReader(validIntakeBody))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if body["mrn"] != "MRN777" {
		t.Errorf("mrn = %q, want MRN777", body["mrn"])
	}
}

func TestIntakeValidationFailure(t *testing.T) {
	gw := &fakeGateway{}
	srv := httptest.NewServer(NewIntakeHandler(gw, nil, nil, nil).Routes())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/", "application/json",
		strings.NewReader(`{"mrn":"MRN1","dob":"02/30/2020"}`))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}

	var body struct {
		Error  string `json:"error"`
		Fields []struct {
			Field string `json:"field"`
		} `json:"fields"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if body.Error != "validation failed" {
		t.Errorf("error = %q", body.Error)
	}
	fields := make(map[string]bool)
	for _, f := range body.Fields {
		fields[f.Field] = true
	}
	for _, want := range []string{"firstName", "lastName", "dob", "gender"} {
		if !fields[want] {
			t.Errorf("missing field error for %s; got %v", want, body.Fields)
		}
	}
	if len(gw.submitted) != 0 {
		t.Errorf("expected no submission on invalid payload")
	}
}

func TestIntakeGatewayUnavailable(t *testing.T) {
	gw := &fakeGateway{existsErr: errors.New("connection refused")}
	srv := httptest.NewServer(NewIntakeHandler(gw, nil, nil, nil).Routes())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/", "application/json", strings.NewReader(validIntakeBody))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", resp.StatusCode)
	}
}

// fakeEventStore serves canned audit events.
type fakeEventStore struct {
	byMRN  map[string][]*registration.Event
	byType map[registration.EventType][]*registration.Event
	err    error

	lastLimit int
}

func (f *fakeEventStore) GetEvents(ctx context.Context, mrn string) ([]*registration.Event, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.byMRN[mrn], nil
}

func (f *fakeEventStore) GetEventsByType(ctx context.Context, eventType registration.EventType, limit int) ([]*registration.Event, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.lastLimit = limit
	return f.byType[eventType], nil
}

func TestAuditHistoryByMRN(t *testing.T) {
	received, _ := registration.NewEvent("MRN555", registration.EventMessageReceived, nil)
	created, _ := registration.NewEvent("MRN555", registration.EventPatientCreated,
		&registration.PatientCreatedData{PatientID: "pat-001"})

	store := &fakeEventStore{byMRN: map[string][]*registration.Event{
		"MRN555": {received, created},
	}}
	srv := httptest.NewServer(NewAuditHandler(store, nil).Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/MRN555")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var events []*registration.Event
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].EventType != registration.EventMessageReceived ||
		events[1].EventType != registration.EventPatientCreated {
		t.Errorf("event order = %s, %s", events[0].EventType, events[1].EventType)
	}
}

func TestAuditRecentByType(t *testing.T) {
	created, _ := registration.NewEvent("MRN1", registration.EventPatientCreated, nil)
	store := &fakeEventStore{byType: map[registration.EventType][]*registration.Event{
		registration.EventPatientCreated: {created},
	}}
	srv := httptest.NewServer(NewAuditHandler(store, nil).Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/?type=PatientCreated&limit=10")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if store.lastLimit != 10 {
		t.Errorf("limit = %d, want 10", store.lastLimit)
	}

	var events []*registration.Event
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(events) != 1 || events[0].MRN != "MRN1" {
		t.Errorf("events = %+v", events)
	}
}

func TestAuditRecentRequiresType(t *testing.T) {
	srv := httptest.NewServer(NewAuditHandler(&fakeEventStore{}, nil).Routes())
	defer srv.Close()

	for _, path := range []string{"/", "/?type=PatientCreated&limit=0", "/?type=PatientCreated&limit=abc"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("GET %s status = %d, want 400", path, resp.StatusCode)
		}
	}
}

func TestAuditHistoryStoreFailure(t *testing.T) {
	store := &fakeEventStore{err: errors.New("connection reset")}
	srv := httptest.NewServer(NewAuditHandler(store, nil).Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/MRN555")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
}
