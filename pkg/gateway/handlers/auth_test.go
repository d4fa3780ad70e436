package handlers

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mohit-ai/mohit/pkg/gateway/auth"
	"github.com/mohit-ai/mohit/pkg/store/memory"
)

func newAuthHandler() AuthHandler {
	return AuthHandler{
		Users:  memory.New().Users(),
		Tokens: auth.NewTokens("0123456789abcdef0123456789abcdef", "mohit-test", time.Hour),
	}
}

func TestAuth_RegisterLoginMe(t *testing.T) {
	h := newAuthHandler()

	rr := serve(h.Register, newRequest(http.MethodPost, "/api/auth/register",
		`{"email":" Rep@Example.com ","password":"hunter22!","name":"Rep One"}`, uuid.Nil))
	if rr.Code != http.StatusCreated {
		t.Fatalf("register status=%d body=%q", rr.Code, rr.Body.String())
	}
	reg := decodeBody[authResponse](t, rr)
	if reg.Token == "" || reg.User == nil || reg.User.Email != "rep@example.com" {
		t.Fatalf("register resp=%+v", reg)
	}
	var cookie *http.Cookie
	for _, c := range rr.Result().Cookies() {
		if c.Name == auth.CookieName {
			cookie = c
		}
	}
	if cookie == nil || !cookie.HttpOnly || cookie.Value != reg.Token {
		t.Fatalf("cookie=%+v", cookie)
	}
	if containsHash(rr.Body.String()) {
		t.Fatalf("response leaks password hash: %s", rr.Body.String())
	}

	rr = serve(h.Login, newRequest(http.MethodPost, "/api/auth/login",
		`{"email":"rep@example.com","password":"hunter22!"}`, uuid.Nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("login status=%d body=%q", rr.Code, rr.Body.String())
	}
	login := decodeBody[authResponse](t, rr)
	p, err := h.Tokens.Verify(login.Token)
	if err != nil || p.UserID != reg.User.ID {
		t.Fatalf("verify principal=%+v err=%v", p, err)
	}

	rr = serve(h.Me, newRequest(http.MethodGet, "/api/auth/me", "", reg.User.ID))
	if rr.Code != http.StatusOK {
		t.Fatalf("me status=%d body=%q", rr.Code, rr.Body.String())
	}
}

func containsHash(body string) bool {
	return strings.Contains(body, "$2a$") || strings.Contains(body, "password_hash")
}

func TestAuth_RegisterValidation(t *testing.T) {
	h := newAuthHandler()
	tests := []struct {
		name  string
		body  string
		param string
	}{
		{"missing email", `{"password":"hunter22!","name":"A"}`, "email"},
		{"bad email", `{"email":"nope","password":"hunter22!","name":"A"}`, "email"},
		{"short password", `{"email":"a@example.com","password":"short","name":"A"}`, "password"},
		{"missing name", `{"email":"a@example.com","password":"hunter22!"}`, "name"},
		{"unknown field", `{"email":"a@example.com","password":"hunter22!","name":"A","admin":true}`, "admin"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := serve(h.Register, newRequest(http.MethodPost, "/api/auth/register", tt.body, uuid.Nil))
			body := expectError(t, rr, http.StatusBadRequest, "invalid_request_error")
			if body.Error.Param != tt.param {
				t.Fatalf("param=%q, want %q", body.Error.Param, tt.param)
			}
		})
	}
}

func TestAuth_DuplicateEmailAndBadLogin(t *testing.T) {
	h := newAuthHandler()
	body := `{"email":"a@example.com","password":"hunter22!","name":"A"}`
	if rr := serve(h.Register, newRequest(http.MethodPost, "/api/auth/register", body, uuid.Nil)); rr.Code != http.StatusCreated {
		t.Fatalf("register status=%d", rr.Code)
	}
	rr := serve(h.Register, newRequest(http.MethodPost, "/api/auth/register", body, uuid.Nil))
	expectError(t, rr, http.StatusConflict, "conflict_error")

	rr = serve(h.Login, newRequest(http.MethodPost, "/api/auth/login", `{"email":"a@example.com","password":"wrong-password"}`, uuid.Nil))
	wrong := expectError(t, rr, http.StatusUnauthorized, "authentication_error")
	rr = serve(h.Login, newRequest(http.MethodPost, "/api/auth/login", `{"email":"nobody@example.com","password":"hunter22!"}`, uuid.Nil))
	unknown := expectError(t, rr, http.StatusUnauthorized, "authentication_error")
	if wrong.Error.Message != unknown.Error.Message {
		t.Fatalf("login errors differ: %q vs %q", wrong.Error.Message, unknown.Error.Message)
	}
}

func TestAuth_LogoutClearsCookie(t *testing.T) {
	h := newAuthHandler()
	rr := serve(h.Logout, newRequest(http.MethodPost, "/api/auth/logout", "", uuid.Nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status=%d", rr.Code)
	}
	cookies := rr.Result().Cookies()
	if len(cookies) != 1 || cookies[0].MaxAge >= 0 {
		t.Fatalf("cookies=%+v", cookies)
	}
}
