package handlers

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mohit-ai/mohit/pkg/core"
	"github.com/mohit-ai/mohit/pkg/core/types"
	"github.com/mohit-ai/mohit/pkg/gateway/auth"
	"github.com/mohit-ai/mohit/pkg/store"
)

type AuthHandler struct {
	Users        store.UserStore
	Tokens       *auth.Tokens
	CookieSecure bool
}

type authResponse struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	User      *types.User `json:"user"`
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

const maxPasswordLength = 72 // bcrypt ignores anything longer

// Unknown emails still pay for a bcrypt comparison.
var dummyHash = sync.OnceValue(func() string {
	h, _ := auth.HashPassword("mohit-dummy-password")
	return h
})

func (h AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	email := types.NormalizeEmail(req.Email)
	if email == "" {
		writeError(w, r, core.NewInvalidRequestErrorWithParam("email is required", "email"))
		return
	}
	if err := types.ValidateEmail(email); err != nil {
		writeError(w, r, core.NewInvalidRequestErrorWithParam(err.Error(), "email"))
		return
	}
	if len(req.Password) < auth.MinPasswordLength || len(req.Password) > maxPasswordLength {
		writeError(w, r, core.NewInvalidRequestErrorWithParam("password must be 8 to 72 characters", "password"))
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, r, core.NewInvalidRequestErrorWithParam("name is required", "name"))
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	user := &types.User{Email: email, Name: name, PasswordHash: hash}
	if err := h.Users.Create(r.Context(), user); err != nil {
		if errors.Is(err, store.ErrConflict) {
			writeError(w, r, core.NewConflictError("email is already registered", nil))
			return
		}
		writeError(w, r, err)
		return
	}
	h.issue(w, r, user, http.StatusCreated)
}

func (h AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	invalid := core.NewAuthenticationError("invalid email or password")

	user, err := h.Users.GetByEmail(r.Context(), types.NormalizeEmail(req.Email))
	if errors.Is(err, store.ErrNotFound) {
		_ = auth.CheckPassword(dummyHash(), req.Password)
		writeError(w, r, invalid)
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := auth.CheckPassword(user.PasswordHash, req.Password); err != nil {
		writeError(w, r, invalid)
		return
	}
	h.issue(w, r, user, http.StatusOK)
}

func (h AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (h AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.Users.Get(r.Context(), userID(r))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, r, core.NewAuthenticationError("user no longer exists"))
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (h AuthHandler) issue(w http.ResponseWriter, r *http.Request, user *types.User, status int) {
	token, exp, err := h.Tokens.Issue(user.ID, user.Email)
	if err != nil {
		writeError(w, r, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    token,
		Path:     "/",
		Expires:  exp,
		MaxAge:   int(h.Tokens.TTL().Seconds()),
		HttpOnly: true,
		Secure:   h.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, status, authResponse{Token: token, ExpiresAt: exp, User: user})
}
