package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/text/unicode/norm"

	"soundflow/internal/auth"
	"soundflow/internal/observability/metrics"
	"soundflow/internal/storage"
)

// AppSecretHeader carries the shared application secret that authorizes the
// track endpoints.
const AppSecretHeader = "App-Secret"

// appSecretLength is the exact secret length accepted before dispatch.
const appSecretLength = 32

// Handler bundles the store, the token issuer, and the shared app secret used
// by every API endpoint.
type Handler struct {
	Store     storage.Repository
	Tokens    *auth.TokenIssuer
	AppSecret string
	Logger    *slog.Logger
	Metrics   *metrics.Recorder
}

// NewHandler wires the API handlers to their dependencies.
func NewHandler(store storage.Repository, tokens *auth.TokenIssuer, appSecret string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Store: store, Tokens: tokens, AppSecret: appSecret, Logger: logger, Metrics: metrics.Default()}
}

func (h *Handler) recorder() *metrics.Recorder {
	if h.Metrics != nil {
		return h.Metrics
	}
	return metrics.Default()
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"message": err.Error()})
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

func decodeJSON(r *http.Request, dest interface{}) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(r.Body)
	decoder.UseNumber()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	writeError(w, http.StatusMethodNotAllowed, errors.New("method "+r.Method+" not allowed"))
	return false
}

// requireAppSecret enforces the shared-secret header before any store access:
// the header must be exactly 32 characters and match the configured secret.
func (h *Handler) requireAppSecret(w http.ResponseWriter, r *http.Request) bool {
	secret := r.Header.Get(AppSecretHeader)
	if len(secret) != appSecretLength {
		writeError(w, http.StatusBadRequest, errors.New("app secret incorrect format"))
		return false
	}
	if subtle.ConstantTimeCompare([]byte(secret), []byte(h.AppSecret)) != 1 {
		writeError(w, http.StatusBadRequest, errors.New("app secret incorrect"))
		return false
	}
	return true
}

// normalizeField NFC-normalizes user-supplied identifiers so lookups match
// registrations regardless of the client's Unicode composition.
func normalizeField(value string) string {
	return norm.NFC.String(strings.TrimSpace(value))
}

// Health reports liveness, including a datastore ping.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	if err := h.Store.Ping(r.Context()); err != nil {
		h.Logger.Error("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
