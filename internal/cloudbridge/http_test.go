package cloudbridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap/zaptest"
)

type fakePlatform struct {
	logins  atomic.Int32
	calls   atomic.Int32
	rejectN int32 // number of API calls answered with 401
	token   func(n int32) string
}

func (p *fakePlatform) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		n := p.logins.Add(1)
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body["username"] != "tenant" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"token": p.token(n)})
	})
	mux.HandleFunc("/api/thing", func(w http.ResponseWriter, r *http.Request) {
		n := p.calls.Add(1)
		if n <= p.rejectN {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.Header.Get("X-Authorization") == "" {
			t.Error("missing X-Authorization header")
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"ok": "yes"})
	})
	mux.HandleFunc("/api/broken", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	return mux
}

func newRESTFixture(t *testing.T, p *fakePlatform) (*RESTClient, *TokenSource) {
	t.Helper()
	if p.token == nil {
		p.token = func(n int32) string { return "token-" + string(rune('0'+n)) }
	}
	srv := httptest.NewServer(p.handler(t))
	t.Cleanup(srv.Close)
	tokens := NewTokenSource(srv.URL, "tenant", "secret", srv.Client(), zaptest.NewLogger(t))
	if err := tokens.RefreshNow(context.Background()); err != nil {
		t.Fatalf("RefreshNow() error = %v", err)
	}
	return NewRESTClient(srv.URL, srv.Client(), tokens), tokens
}

func TestDoRetriesOnceAfterRefresh(t *testing.T) {
	p := &fakePlatform{rejectN: 1}
	rest, tokens := newRESTFixture(t, p)
	before := tokens.Token()

	var out map[string]string
	if err := rest.Do(context.Background(), http.MethodGet, "/api/thing", nil, &out); err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if out["ok"] != "yes" {
		t.Fatalf("out = %v", out)
	}
	if got := p.logins.Load(); got != 2 {
		t.Fatalf("logins = %d, want initial + one refresh", got)
	}
	if tokens.Token() == before {
		t.Fatal("token not replaced after refresh")
	}
}

func TestDoPropagatesPersistentUnauthorized(t *testing.T) {
	p := &fakePlatform{rejectN: 100}
	rest, _ := newRESTFixture(t, p)

	err := rest.Do(context.Background(), http.MethodGet, "/api/thing", nil, nil)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("Do() error = %v, want ErrUnauthorized", err)
	}
	if got := p.calls.Load(); got != 2 {
		t.Fatalf("api calls = %d, want 2", got)
	}
	if got := p.logins.Load(); got != 2 {
		t.Fatalf("logins = %d, want 2", got)
	}
}

func TestDoDoesNotRetryOtherErrors(t *testing.T) {
	p := &fakePlatform{}
	rest, _ := newRESTFixture(t, p)

	err := rest.Do(context.Background(), http.MethodGet, "/api/broken", nil, nil)
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.Status != http.StatusInternalServerError {
		t.Fatalf("Do() error = %v, want HTTPError 500", err)
	}
	if got := p.logins.Load(); got != 1 {
		t.Fatalf("logins = %d, want 1", got)
	}
}

func TestTokenExpiryFromClaims(t *testing.T) {
	exp := time.Now().Add(2 * time.Hour).Truncate(time.Second)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "tenant",
		"exp": exp.Unix(),
	}).SignedString([]byte("platform-secret"))
	if err != nil {
		t.Fatal(err)
	}

	p := &fakePlatform{token: func(int32) string { return signed }}
	_, tokens := newRESTFixture(t, p)

	if got := tokens.Expiry(); !got.Equal(exp) {
		t.Fatalf("Expiry() = %v, want %v", got, exp)
	}
}

func TestLoginRejected(t *testing.T) {
	p := &fakePlatform{token: func(int32) string { return "x" }}
	srv := httptest.NewServer(p.handler(t))
	defer srv.Close()

	tokens := NewTokenSource(srv.URL, "intruder", "nope", srv.Client(), zaptest.NewLogger(t))
	if err := tokens.RefreshNow(context.Background()); !errors.Is(err, ErrLogin) {
		t.Fatalf("RefreshNow() error = %v, want ErrLogin", err)
	}
	if tokens.Token() != "" {
		t.Fatal("token set after failed login")
	}
}

func TestStreamURL(t *testing.T) {
	tests := []struct {
		base, want string
	}{
		{"http://tb.local:8080", "ws://tb.local:8080/api/ws/plugins/telemetry?token=abc"},
		{"https://tb.example.com/", "wss://tb.example.com/api/ws/plugins/telemetry?token=abc"},
	}
	for _, tt := range tests {
		got, err := streamURL(tt.base, "abc")
		if err != nil || got != tt.want {
			t.Errorf("streamURL(%q) = %q, %v; want %q", tt.base, got, err, tt.want)
		}
	}
	if _, err := streamURL("ftp://x", "abc"); err == nil {
		t.Error("streamURL(ftp) error = nil")
	}
}

func TestNewStreamRejectsBadDeviceID(t *testing.T) {
	if _, err := NewStream(StreamConfig{BaseURL: "http://x", DeviceID: "gateway-1"}, nil, zaptest.NewLogger(t)); err == nil {
		t.Fatal("NewStream() error = nil for non-UUID device id")
	}
}
