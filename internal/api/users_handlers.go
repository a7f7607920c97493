package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"soundflow/internal/auth"
	"soundflow/internal/models"
	"soundflow/internal/storage"
)

type createUserRequest struct {
	Username  string `json:"username"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Password  string `json:"password"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type updatePasswordRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	NewPassword string `json:"newPassword"`
}

type userResponse struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	CreatedAt string `json:"createdAt"`
}

type authResponse struct {
	Message   string `json:"message"`
	AuthToken string `json:"authToken"`
}

func newUserResponse(user models.User) userResponse {
	return userResponse{
		ID:        user.ID,
		Username:  user.Username,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		CreatedAt: user.CreatedAt.Format(time.RFC3339Nano),
	}
}

// Root serves the static welcome text.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, errors.New("not found"))
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if r.Method == http.MethodHead {
		return
	}
	_, _ = w.Write([]byte("Welcome to SoundFlow, a music web app player"))
}

// Users answers the bare /users path with a usage hint.
func (h *Handler) Users(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	writeMessage(w, http.StatusOK, "An API endpoint to create users")
}

// UsersAll lists every registered user record. Password material is never
// included in the response.
func (h *Handler) UsersAll(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	users, err := h.Store.ListUsers(r.Context())
	if err != nil {
		h.Logger.Error("list users failed", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	response := make([]userResponse, 0, len(users))
	for _, user := range users {
		response = append(response, newUserResponse(user))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"result": response})
}

// CreateUser registers a new account: availability check, salt+hash
// derivation, then user record and issued token persisted in one
// transaction. A duplicate username yields 409.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req createUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	username := normalizeField(req.Username)
	if username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, errors.New("username and password are required"))
		return
	}

	available, err := h.Store.IsUsernameAvailable(r.Context(), username)
	if err != nil {
		h.Logger.Error("username availability check failed", "username", username, "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !available {
		writeError(w, http.StatusConflict, storage.ErrUsernameTaken)
		return
	}

	salt, err := auth.NewSalt()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	token, err := h.Tokens.Issue(username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	_, err = h.Store.CreateUser(r.Context(), storage.CreateUserParams{
		Username:     username,
		FirstName:    normalizeField(req.FirstName),
		LastName:     normalizeField(req.LastName),
		PasswordSalt: salt,
		PasswordHash: auth.DeriveHash(req.Password, salt),
		Token:        token,
	})
	if err != nil {
		// The unique constraint closes the window between the availability
		// check and the insert under concurrent registration.
		if errors.Is(err, storage.ErrUsernameTaken) {
			writeError(w, http.StatusConflict, storage.ErrUsernameTaken)
			return
		}
		h.Logger.Error("create user failed", "username", username, "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	h.recorder().ObserveAuthEvent("signup")
	writeJSON(w, http.StatusCreated, authResponse{Message: "New user created", AuthToken: token})
}

// Login verifies credentials and returns the token issued at registration.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	username := normalizeField(req.Username)

	user, ok, err := h.Store.GetUser(r.Context(), username)
	if err != nil {
		h.Logger.Error("login lookup failed", "username", username, "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		h.recorder().ObserveAuthEvent("login_failure")
		writeError(w, http.StatusBadRequest, storage.ErrUserNotFound)
		return
	}
	if !auth.VerifyPassword(req.Password, user.PasswordSalt, user.PasswordHash) {
		h.recorder().ObserveAuthEvent("login_failure")
		writeError(w, http.StatusBadRequest, errors.New("wrong password"))
		return
	}

	token, ok, err := h.Store.GetAuthToken(r.Context(), username)
	if err != nil {
		h.Logger.Error("token lookup failed", "username", username, "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		writeError(w, http.StatusBadRequest, errors.New("an internal error occurred"))
		return
	}
	h.recorder().ObserveAuthEvent("login_success")
	writeJSON(w, http.StatusCreated, authResponse{Message: "User login successful", AuthToken: token.Token})
}

// UpdatePassword rotates the salt and hash after verifying the current
// password.
func (h *Handler) UpdatePassword(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req updatePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	username := normalizeField(req.Username)

	user, ok, err := h.Store.GetUser(r.Context(), username)
	if err != nil {
		h.Logger.Error("password update lookup failed", "username", username, "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		writeError(w, http.StatusBadRequest, storage.ErrUserNotFound)
		return
	}
	if !auth.VerifyPassword(req.Password, user.PasswordSalt, user.PasswordHash) {
		writeError(w, http.StatusBadRequest, errors.New("user cannot be validated"))
		return
	}

	salt, err := auth.NewSalt()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := h.Store.UpdatePassword(r.Context(), username, salt, auth.DeriveHash(req.NewPassword, salt)); err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			writeError(w, http.StatusBadRequest, storage.ErrUserNotFound)
			return
		}
		h.Logger.Error("password update failed", "username", username, "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.recorder().ObserveAuthEvent("password_update")
	writeMessage(w, http.StatusCreated, "Password updated")
}

// DeleteAll wipes every user record and every auth token. The two deletes are
// independent operations with no cross-store transaction.
func (h *Handler) DeleteAll(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	if err := h.Store.DeleteAllUsers(r.Context()); err != nil {
		h.Logger.Error("delete users failed", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := h.Store.DeleteAllAuthTokens(r.Context()); err != nil {
		h.Logger.Error("delete auth tokens failed", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeMessage(w, http.StatusOK, "All records deleted")
}
