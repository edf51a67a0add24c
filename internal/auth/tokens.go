// Package auth implements opaque bearer token issuance for the EMR
// gateway. Tokens are random, stored in memory and expire after a
// fixed lifetime; expired entries are evicted lazily on validation.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"
	"time"
)

// DefaultTokenTTL is the lifetime of an issued token.
const DefaultTokenTTL = 24 * time.Hour

// ErrInvalidCredentials indicates an unknown client id/secret pair.
var ErrInvalidCredentials = errors.New("auth: invalid client credentials")

// ErrInvalidToken indicates an unknown or expired bearer token.
var ErrInvalidToken = errors.New("auth: invalid or expired token")

// Credentials is a registered API client.
type Credentials struct {
	ClientID     string
	ClientSecret string
}

// Token is an issued bearer token.
type Token struct {
	Value     string    `json:"access_token"`
	TokenType string    `json:"token_type"`
	ExpiresAt time.Time `json:"-"`
	ExpiresIn int       `json:"expires_in"`
}

// TokenStore issues and validates opaque bearer tokens.
type TokenStore struct {
	mu      sync.RWMutex
	clients map[string]string
	tokens  map[string]time.Time
	ttl     time.Duration
	now     func() time.Time
}

// NewTokenStore creates a store with the given registered clients.
func NewTokenStore(clients []Credentials, ttl time.Duration) *TokenStore {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	s := &TokenStore{
		clients: make(map[string]string, len(clients)),
		tokens:  make(map[string]time.Time),
		ttl:     ttl,
		now:     time.Now,
	}
	for _, c := range clients {
		s.clients[c.ClientID] = c.ClientSecret
	}
	return s
}

// Issue validates client credentials and returns a new bearer token.
func (s *TokenStore) Issue(clientID, clientSecret string) (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	secret, ok := s.clients[clientID]
	if !ok || secret != clientSecret {
		return nil, ErrInvalidCredentials
	}

	value, err := randomToken()
	if err != nil {
		return nil, err
	}

	expiresAt := s.now().Add(s.ttl)
	s.tokens[value] = expiresAt
	return &Token{
		Value:     value,
		TokenType: "Bearer",
		ExpiresAt: expiresAt,
		ExpiresIn: int(s.ttl.Seconds()),
	}, nil
}

// Validate checks a bearer token, evicting it when expired.
func (s *TokenStore) Validate(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiresAt, ok := s.tokens[token]
	if !ok {
		return ErrInvalidToken
	}
	if s.now().After(expiresAt) {
		delete(s.tokens, token)
		return ErrInvalidToken
	}
	return nil
}

// Revoke removes a token immediately.
func (s *TokenStore) Revoke(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, token)
}

// ActiveTokens reports how many unexpired tokens are held.
func (s *TokenStore) ActiveTokens() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	count := 0
	for _, expiresAt := range s.tokens {
		if now.Before(expiresAt) {
			count++
		}
	}
	return count
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
