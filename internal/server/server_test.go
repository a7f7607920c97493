package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"soundflow/internal/api"
	"soundflow/internal/auth"
	"soundflow/internal/observability/logging"
	"soundflow/internal/observability/metrics"
	"soundflow/internal/storage"
)

const testAppSecret = "0123456789abcdef0123456789abcdef"

func newTestRequest(remoteAddr, forwarded, realIP string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "http://localhost/", nil)
	r.RemoteAddr = remoteAddr
	if forwarded != "" {
		r.Header.Set("X-Forwarded-For", forwarded)
	}
	if realIP != "" {
		r.Header.Set("X-Real-IP", realIP)
	}
	return r
}

func newTestServer(t *testing.T, rate RateLimitConfig) *Server {
	t.Helper()
	issuer, err := auth.NewTokenIssuer("test-signing-secret")
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	logger := logging.New(logging.Config{Writer: io.Discard})
	handler := api.NewHandler(storage.NewMemoryRepository(), issuer, testAppSecret, logger)
	handler.Metrics = metrics.New()

	srv, err := New(handler, Config{
		Addr:      "127.0.0.1:0",
		RateLimit: rate,
		Logger:    logger,
		Metrics:   handler.Metrics,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return srv
}

func TestServerTLSFiles(t *testing.T) {
	issuer, err := auth.NewTokenIssuer("test-signing-secret")
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	logger := logging.New(logging.Config{Writer: io.Discard})
	handler := api.NewHandler(storage.NewMemoryRepository(), issuer, testAppSecret, logger)
	handler.Metrics = metrics.New()

	srv, err := New(handler, Config{
		Addr:    "127.0.0.1:0",
		TLS:     TLSConfig{CertFile: " /etc/soundflow/cert.pem ", KeyFile: "/etc/soundflow/key.pem"},
		Logger:  logger,
		Metrics: handler.Metrics,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cert, key := srv.TLSFiles()
	if cert != "/etc/soundflow/cert.pem" || key != "/etc/soundflow/key.pem" {
		t.Fatalf("unexpected TLS files: cert=%q key=%q", cert, key)
	}
	if srv.HTTPServer().TLSConfig == nil {
		t.Fatal("expected a TLS config once cert and key are set")
	}
}

func TestServerCloseWithoutSharedStore(t *testing.T) {
	srv := newTestServer(t, RateLimitConfig{LoginLimit: 1, LoginWindow: time.Minute})
	if err := srv.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestServerRoutesHealthz(t *testing.T) {
	srv := newTestServer(t, RateLimitConfig{})

	req := httptest.NewRequest(http.MethodGet, "http://localhost/healthz", nil)
	rec := httptest.NewRecorder()
	srv.HTTPServer().Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "ok") {
		t.Fatalf("unexpected health body: %q", rec.Body.String())
	}
}

func TestServerAssignsRequestID(t *testing.T) {
	srv := newTestServer(t, RateLimitConfig{})

	req := httptest.NewRequest(http.MethodGet, "http://localhost/healthz", nil)
	rec := httptest.NewRecorder()
	srv.HTTPServer().Handler.ServeHTTP(rec, req)
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatal("expected a generated X-Request-Id header")
	}

	req = httptest.NewRequest(http.MethodGet, "http://localhost/healthz", nil)
	req.Header.Set("X-Request-Id", "caller-supplied")
	rec = httptest.NewRecorder()
	srv.HTTPServer().Handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-Id"); got != "caller-supplied" {
		t.Fatalf("expected the caller-supplied request ID to be echoed, got %q", got)
	}
}

func TestServerExposesMetrics(t *testing.T) {
	srv := newTestServer(t, RateLimitConfig{})

	// Drive one request through the chain so counters exist.
	warm := httptest.NewRequest(http.MethodGet, "http://localhost/healthz", nil)
	srv.HTTPServer().Handler.ServeHTTP(httptest.NewRecorder(), warm)

	req := httptest.NewRequest(http.MethodGet, "http://localhost/metrics", nil)
	rec := httptest.NewRecorder()
	srv.HTTPServer().Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "soundflow_http_requests_total") {
		t.Fatalf("expected request counters in exposition, got: %s", rec.Body.String())
	}
}

func TestServerThrottlesLoginAttempts(t *testing.T) {
	srv := newTestServer(t, RateLimitConfig{LoginLimit: 1, LoginWindow: time.Minute})

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "http://localhost/users/login", strings.NewReader(`{"username":"ghost","password":"x"}`))
		req.RemoteAddr = "203.0.113.9:4421"
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		srv.HTTPServer().Handler.ServeHTTP(rec, req)
		return rec
	}

	if rec := send(); rec.Code == http.StatusTooManyRequests {
		t.Fatalf("first attempt should reach the handler, got %d", rec.Code)
	}
	rec := send()
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after exhausting the login budget, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected a Retry-After hint")
	}
}

func TestServerGlobalRateLimit(t *testing.T) {
	srv := newTestServer(t, RateLimitConfig{GlobalRPS: 0.001, GlobalBurst: 1})

	first := httptest.NewRequest(http.MethodGet, "http://localhost/healthz", nil)
	rec := httptest.NewRecorder()
	srv.HTTPServer().Handler.ServeHTTP(rec, first)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected first request to pass, got %d", rec.Code)
	}

	second := httptest.NewRequest(http.MethodGet, "http://localhost/healthz", nil)
	rec = httptest.NewRecorder()
	srv.HTTPServer().Handler.ServeHTTP(rec, second)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 once the global bucket drains, got %d", rec.Code)
	}
}
