package cloudbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// ErrLogin is returned when the platform rejects the API credentials
var ErrLogin = errors.New("cloudbridge: login failed")

// TokenSource holds the REST session credential and refreshes it
type TokenSource struct {
	loginURL string
	username string
	password string
	http     *http.Client
	log      *zap.Logger

	mu     sync.RWMutex
	token  string
	expiry time.Time

	refreshMu sync.Mutex
}

// NewTokenSource creates a source logging in at baseURL + /api/auth/login
func NewTokenSource(baseURL, username, password string, client *http.Client, log *zap.Logger) *TokenSource {
	return &TokenSource{
		loginURL: baseURL + "/api/auth/login",
		username: username,
		password: password,
		http:     client,
		log:      log.Named("token"),
	}
}

// Token returns the current credential, possibly stale
func (s *TokenSource) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Expiry returns the expiry claim of the current credential
func (s *TokenSource) Expiry() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expiry
}

// RefreshNow logs in again and swaps the credential. Concurrent callers share
// one login.
func (s *TokenSource) RefreshNow(ctx context.Context) error {
	stale := s.Token()
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	if cur := s.Token(); cur != "" && cur != stale {
		// another caller refreshed while we waited
		return nil
	}

	token, err := s.login(ctx)
	if err != nil {
		return err
	}
	expiry := tokenExpiry(token)

	s.mu.Lock()
	s.token = token
	s.expiry = expiry
	s.mu.Unlock()
	s.log.Info("Cloud credential refreshed", zap.Time("expires_at", expiry))
	return nil
}

// Run refreshes the credential every interval until ctx is done. Failures
// are logged and the stale credential is kept.
func (s *TokenSource) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.RefreshNow(ctx); err != nil {
				s.log.Error("Cloud credential refresh failed", zap.Error(err))
			}
		}
	}
}

func (s *TokenSource) login(ctx context.Context) (string, error) {
	body, err := json.Marshal(map[string]string{"username": s.username, "password": s.password})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.loginURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrLogin, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", ErrLogin, resp.StatusCode)
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: %w", ErrLogin, err)
	}
	if out.Token == "" {
		return "", fmt.Errorf("%w: response has no token", ErrLogin)
	}
	return out.Token, nil
}

// tokenExpiry reads exp without verifying the signature; the platform is
// the only party that can verify it
func tokenExpiry(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
