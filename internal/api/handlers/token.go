package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/careport/go-adt-bridge/internal/auth"
	"github.com/careport/go-adt-bridge/internal/observability/metrics"
)

// TokenHandler issues bearer tokens for gateway clients
type TokenHandler struct {
	store   *auth.TokenStore
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewTokenHandler creates a new handler. Metrics may be nil.
func NewTokenHandler(store *auth.TokenStore, m *metrics.Metrics, logger *zap.Logger) *TokenHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenHandler{store: store, metrics: m, logger: logger}
}

// Routes returns the handler routes
func (h *TokenHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Issue)
	return r
}

// TokenRequest is the credential payload for POST /auth/token
type TokenRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// Issue handles POST /auth/token
func (h *TokenHandler) Issue(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	token, err := h.store.Issue(req.ClientID, req.ClientSecret)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			h.logger.Warn("token request rejected", zap.String("client_id", req.ClientID))
			jsonError(w, "invalid client credentials", http.StatusUnauthorized)
			return
		}
		h.logger.Error("token issuance failed", zap.Error(err))
		jsonError(w, "failed to issue token", http.StatusInternalServerError)
		return
	}

	if h.metrics != nil {
		h.metrics.TokensIssued.Inc()
	}
	h.logger.Info("token issued", zap.String("client_id", req.ClientID))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(token)
}
