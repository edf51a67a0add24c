// Package medplum provides an OAuth2 client for the Medplum FHIR
// backend. Access tokens are obtained with the client credentials grant
// and cached until shortly before expiry.
package medplum

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/careport/go-adt-bridge/internal/fhir/r4"
	"github.com/careport/go-adt-bridge/pkg/circuitbreaker"
)

// Config holds Medplum connection settings
type Config struct {
	// BaseURL is the FHIR base, e.g. https://api.medplum.com/fhir/R4
	BaseURL string
	// TokenURL is the OAuth2 token endpoint
	TokenURL     string
	ClientID     string
	ClientSecret string
	// Timeout bounds each backend request
	Timeout time.Duration
}

// DefaultConfig returns Medplum defaults
func DefaultConfig() Config {
	return Config{
		BaseURL:  "https://api.medplum.com/fhir/R4",
		TokenURL: "https://api.medplum.com/oauth2/token",
		Timeout:  15 * time.Second,
	}
}

// tokenRefreshBuffer refreshes tokens this long before expiry so
// in-flight requests never carry a token that dies mid-request.
const tokenRefreshBuffer = 5 * time.Minute

// APIError is a non-2xx response from the FHIR backend
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("medplum: backend returned %d: %s", e.StatusCode, e.Body)
}

// Client talks to the Medplum FHIR API
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *zap.Logger
	breaker    *circuitbreaker.CircuitBreaker

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewClient creates a Medplum client. The circuit breaker may be nil,
// in which case calls go straight through.
func NewClient(cfg Config, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Client{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
		breaker:    breaker,
	}
}

// tokenResponse is the OAuth2 token endpoint payload
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// token returns a valid access token, refreshing when the cached one is
// within the refresh buffer of expiry.
func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Until(c.tokenExpiry) > tokenRefreshBuffer {
		return c.accessToken, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.TokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.config.ClientID, c.config.ClientSecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("token response missing access_token")
	}

	c.accessToken = tok.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	c.logger.Debug("backend token refreshed",
		zap.Time("expires_at", c.tokenExpiry))
	return c.accessToken, nil
}

// do executes one authenticated FHIR request through the circuit
// breaker and returns the response body for 2xx statuses.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload interface{}) ([]byte, error) {
	fn := func() (interface{}, error) {
		return c.doOnce(ctx, method, path, query, payload)
	}

	var result interface{}
	var err error
	if c.breaker != nil {
		result, err = c.breaker.Execute(ctx, fn)
	} else {
		result, err = fn()
	}
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}

func (c *Client) doOnce(ctx context.Context, method, path string, query url.Values, payload interface{}) ([]byte, error) {
	endpoint := strings.TrimRight(c.config.BaseURL, "/") + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	tok, err := c.token(ctx)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Accept", "application/fhir+json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/fhir+json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	return respBody, nil
}

// FindPatientByIdentifier searches for a patient by identifier value,
// returning nil when the searchset is empty.
func (c *Client) FindPatientByIdentifier(ctx context.Context, value string) (*r4.Patient, error) {
	query := url.Values{}
	query.Set("identifier", value)

	body, err := c.do(ctx, http.MethodGet, "/Patient", query, nil)
	if err != nil {
		return nil, err
	}

	var bundle r4.Bundle
	if err := json.Unmarshal(body, &bundle); err != nil {
		return nil, fmt.Errorf("decode search bundle: %w", err)
	}
	if len(bundle.Entry) == 0 {
		return nil, nil
	}

	var patient r4.Patient
	if err := json.Unmarshal(bundle.Entry[0].Resource, &patient); err != nil {
		return nil, fmt.Errorf("decode patient entry: %w", err)
	}
	return &patient, nil
}

// CreatePatient creates a Patient resource and returns the stored copy
// with its backend-assigned ID.
func (c *Client) CreatePatient(ctx context.Context, patient *r4.Patient) (*r4.Patient, error) {
	body, err := c.do(ctx, http.MethodPost, "/Patient", nil, patient)
	if err != nil {
		return nil, err
	}

	var created r4.Patient
	if err := json.Unmarshal(body, &created); err != nil {
		return nil, fmt.Errorf("decode created patient: %w", err)
	}
	return &created, nil
}

// CreateCoverage creates a Coverage resource.
func (c *Client) CreateCoverage(ctx context.Context, coverage *r4.Coverage) (*r4.Coverage, error) {
	body, err := c.do(ctx, http.MethodPost, "/Coverage", nil, coverage)
	if err != nil {
		return nil, err
	}

	var created r4.Coverage
	if err := json.Unmarshal(body, &created); err != nil {
		return nil, fmt.Errorf("decode created coverage: %w", err)
	}
	return &created, nil
}

// Get performs a raw read against the backend for the proxy layer.
// Only GETs pass through here; mutations are rejected upstream.
func (c *Client) Get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, query, nil)
}
