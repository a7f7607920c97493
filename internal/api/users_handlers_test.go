package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"soundflow/internal/auth"
	"soundflow/internal/observability/logging"
	"soundflow/internal/observability/metrics"
	"soundflow/internal/storage"
)

const testAppSecret = "0123456789abcdef0123456789abcdef"

func newTestHandler(t *testing.T) (*Handler, *storage.MemoryRepository) {
	t.Helper()
	issuer, err := auth.NewTokenIssuer("test-signing-secret")
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	store := storage.NewMemoryRepository()
	handler := NewHandler(store, issuer, testAppSecret, logging.New(logging.Config{Writer: io.Discard}))
	handler.Metrics = metrics.New()
	return handler, store
}

func postJSON(t *testing.T, handler http.HandlerFunc, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "http://localhost"+path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dest); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func registerUser(t *testing.T, handler *Handler, username, password string) string {
	t.Helper()
	rec := postJSON(t, handler.CreateUser, "/users/create", createUserRequest{
		Username:  username,
		FirstName: "Ada",
		LastName:  "Lovelace",
		Password:  password,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 from registration, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp authResponse
	decodeBody(t, rec, &resp)
	if resp.AuthToken == "" {
		t.Fatal("expected registration to return an auth token")
	}
	return resp.AuthToken
}

func TestRootWelcome(t *testing.T) {
	handler, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "http://localhost/", nil)
	rec := httptest.NewRecorder()
	handler.Root(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Welcome to SoundFlow") {
		t.Fatalf("unexpected welcome body: %q", rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "http://localhost/nothing-here", nil)
	rec = httptest.NewRecorder()
	handler.Root(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown path, got %d", rec.Code)
	}
}

func TestCreateUserIssuesVerifiableToken(t *testing.T) {
	handler, _ := newTestHandler(t)
	token := registerUser(t, handler, "ada", "supersecret")

	subject, err := handler.Tokens.Subject(token)
	if err != nil {
		t.Fatalf("Subject: %v", err)
	}
	if subject != "ada" {
		t.Fatalf("expected token subject ada, got %q", subject)
	}
}

func TestCreateUserDuplicateConflict(t *testing.T) {
	handler, _ := newTestHandler(t)
	registerUser(t, handler, "ada", "supersecret")

	rec := postJSON(t, handler.CreateUser, "/users/create", createUserRequest{Username: "ada", Password: "other"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate username, got %d", rec.Code)
	}
}

func TestCreateUserValidation(t *testing.T) {
	handler, _ := newTestHandler(t)

	cases := []struct {
		name string
		req  createUserRequest
	}{
		{name: "missing username", req: createUserRequest{Password: "secret"}},
		{name: "missing password", req: createUserRequest{Username: "ada"}},
		{name: "whitespace username", req: createUserRequest{Username: "   ", Password: "secret"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := postJSON(t, handler.CreateUser, "/users/create", tc.req)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
		})
	}
}

func TestLoginReturnsRegistrationToken(t *testing.T) {
	handler, _ := newTestHandler(t)
	issued := registerUser(t, handler, "ada", "supersecret")

	rec := postJSON(t, handler.Login, "/users/login", loginRequest{Username: "ada", Password: "supersecret"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp authResponse
	decodeBody(t, rec, &resp)
	if resp.AuthToken != issued {
		t.Fatal("expected login to return the token issued at registration")
	}
}

func TestLoginFailures(t *testing.T) {
	handler, _ := newTestHandler(t)
	registerUser(t, handler, "ada", "supersecret")

	cases := []struct {
		name string
		req  loginRequest
	}{
		{name: "unknown user", req: loginRequest{Username: "ghost", Password: "supersecret"}},
		{name: "wrong password", req: loginRequest{Username: "ada", Password: "nope"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := postJSON(t, handler.Login, "/users/login", tc.req)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
		})
	}
}

func TestUpdatePasswordRotatesCredentials(t *testing.T) {
	handler, _ := newTestHandler(t)
	registerUser(t, handler, "ada", "supersecret")

	rec := postJSON(t, handler.UpdatePassword, "/users/password/update", updatePasswordRequest{
		Username:    "ada",
		Password:    "supersecret",
		NewPassword: "even-more-secret",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	if rec := postJSON(t, handler.Login, "/users/login", loginRequest{Username: "ada", Password: "supersecret"}); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected old password to be rejected, got %d", rec.Code)
	}
	if rec := postJSON(t, handler.Login, "/users/login", loginRequest{Username: "ada", Password: "even-more-secret"}); rec.Code != http.StatusCreated {
		t.Fatalf("expected new password to log in, got %d", rec.Code)
	}
}

func TestUpdatePasswordRejectsWrongCurrentPassword(t *testing.T) {
	handler, _ := newTestHandler(t)
	registerUser(t, handler, "ada", "supersecret")

	rec := postJSON(t, handler.UpdatePassword, "/users/password/update", updatePasswordRequest{
		Username:    "ada",
		Password:    "wrong",
		NewPassword: "whatever",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestUsersAllOmitsPasswordMaterial(t *testing.T) {
	handler, _ := newTestHandler(t)
	registerUser(t, handler, "ada", "supersecret")

	req := httptest.NewRequest(http.MethodGet, "http://localhost/users/all", nil)
	rec := httptest.NewRecorder()
	handler.UsersAll(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, banned := range []string{"passwordHash", "passwordSalt", "password_hash", "password_salt"} {
		if strings.Contains(body, banned) {
			t.Fatalf("user listing leaks %q: %s", banned, body)
		}
	}
	var resp struct {
		Result []userResponse `json:"result"`
	}
	decodeBody(t, rec, &resp)
	if len(resp.Result) != 1 || resp.Result[0].Username != "ada" {
		t.Fatalf("unexpected listing: %+v", resp.Result)
	}
}

func TestDeleteAllRemovesUsersAndTokens(t *testing.T) {
	handler, store := newTestHandler(t)
	registerUser(t, handler, "ada", "supersecret")

	req := httptest.NewRequest(http.MethodGet, "http://localhost/users/delete/all", nil)
	rec := httptest.NewRecorder()
	handler.DeleteAll(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	users, err := store.ListUsers(req.Context())
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(users) != 0 {
		t.Fatalf("expected users to be wiped, got %d", len(users))
	}
	if _, ok, _ := store.GetAuthToken(req.Context(), "ada"); ok {
		t.Fatal("expected tokens to be wiped")
	}

	if rec := postJSON(t, handler.Login, "/users/login", loginRequest{Username: "ada", Password: "supersecret"}); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected login after wipe to fail with 400, got %d", rec.Code)
	}
}

func TestUnicodeUsernameNormalization(t *testing.T) {
	handler, _ := newTestHandler(t)

	// NFD form of "é" followed by the NFC form: both must address one account.
	decomposed := "cafe\u0301"
	composed := "caf\u00e9"
	registerUser(t, handler, decomposed, "supersecret")

	rec := postJSON(t, handler.Login, "/users/login", loginRequest{Username: composed, Password: "supersecret"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected NFC-equivalent username to log in, got %d", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	handler, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "http://localhost/users/create", nil)
	rec := httptest.NewRecorder()
	handler.CreateUser(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
	if allow := rec.Header().Get("Allow"); allow != http.MethodPost {
		t.Fatalf("expected Allow: POST, got %q", allow)
	}
}
