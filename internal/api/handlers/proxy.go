package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/careport/go-adt-bridge/internal/fhir/r4"
	"github.com/careport/go-adt-bridge/internal/medplum"
)

// FHIRReader is the read-only backend access the proxy needs.
type FHIRReader interface {
	Get(ctx context.Context, path string, query url.Values) ([]byte, error)
}

// proxiedResources lists the resource types exposed through the proxy.
var proxiedResources = map[string]bool{
	"Patient":  true,
	"Coverage": true,
}

// ProxyHandler exposes a read-only FHIR passthrough to the backend.
// All mutations are rejected; writes go through the HL7 intake path.
type ProxyHandler struct {
	backend FHIRReader
	logger  *zap.Logger
}

// NewProxyHandler creates a new handler
func NewProxyHandler(backend FHIRReader, logger *zap.Logger) *ProxyHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProxyHandler{backend: backend, logger: logger}
}

// Routes returns the handler routes
func (h *ProxyHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.MethodNotAllowed(h.rejectMutation)
	r.Get("/{resourceType}", h.Search)
	r.Get("/{resourceType}/{id}", h.Read)
	return r
}

// Search handles GET /fhir/{resourceType}, passing query parameters
// through to the backend.
func (h *ProxyHandler) Search(w http.ResponseWriter, r *http.Request) {
	resourceType := chi.URLParam(r, "resourceType")
	if !proxiedResources[resourceType] {
		h.writeOutcome(w, http.StatusNotFound, "not-found",
			"resource type not available through this gateway")
		return
	}

	body, err := h.backend.Get(r.Context(), "/"+resourceType, r.URL.Query())
	if err != nil {
		h.writeBackendError(w, r, err)
		return
	}
	h.writeFHIR(w, http.StatusOK, body)
}

// Read handles GET /fhir/{resourceType}/{id}
func (h *ProxyHandler) Read(w http.ResponseWriter, r *http.Request) {
	resourceType := chi.URLParam(r, "resourceType")
	if !proxiedResources[resourceType] {
		h.writeOutcome(w, http.StatusNotFound, "not-found",
			"resource type not available through this gateway")
		return
	}

	body, err := h.backend.Get(r.Context(), "/"+resourceType+"/"+chi.URLParam(r, "id"), nil)
	if err != nil {
		h.writeBackendError(w, r, err)
		return
	}
	h.writeFHIR(w, http.StatusOK, body)
}

// rejectMutation answers every non-GET with 405. The proxy is strictly
// read-only.
func (h *ProxyHandler) rejectMutation(w http.ResponseWriter, r *http.Request) {
	h.logger.Warn("mutation rejected",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
	)
	w.Header().Set("Allow", http.MethodGet)
	h.writeOutcome(w, http.StatusMethodNotAllowed, "not-supported",
		"write operations are not permitted through this gateway")
}

func (h *ProxyHandler) writeBackendError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *medplum.APIError
	if errors.As(err, &apiErr) {
		// Pass backend FHIR errors through with their status.
		h.writeFHIR(w, apiErr.StatusCode, []byte(apiErr.Body))
		return
	}
	h.logger.Error("backend read failed",
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)
	h.writeOutcome(w, http.StatusBadGateway, "transient", "backend unavailable")
}

func (h *ProxyHandler) writeFHIR(w http.ResponseWriter, code int, body []byte) {
	w.Header().Set("Content-Type", "application/fhir+json")
	w.WriteHeader(code)
	w.Write(body)
}

func (h *ProxyHandler) writeOutcome(w http.ResponseWriter, code int, issueCode, diagnostics string) {
	w.Header().Set("Content-Type", "application/fhir+json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(r4.NewErrorOutcome(issueCode, diagnostics))
}
