package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/sakif/apicore/internal/auth"
	"github.com/sakif/apicore/internal/model"
	"github.com/sakif/apicore/internal/service"
)

// AuthHandler exchanges a username and password for an access token.
//
// HTTP: POST /auth
//
// The token is returned in the body for API clients and set as an HttpOnly
// cookie for browsers; auth.RequireAuth accepts either.
type AuthHandler struct {
	registration *service.RegistrationService
	tokens       *auth.TokenService
	secureCookie bool
	logger       *slog.Logger
}

func NewAuthHandler(
	registration *service.RegistrationService,
	tokens *auth.TokenService,
	secureCookie bool,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		registration: registration,
		tokens:       tokens,
		secureCookie: secureCookie,
		logger:       logger,
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is the body of a successful login.
type LoginResponse struct {
	Token string        `json:"token"`
	User  model.Display `json:"user"`
}

func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}

	account, err := h.registration.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		h.logger.Info("login refused", slog.String("username", req.Username))
		writeError(w, err)
		return
	}

	token, err := h.tokens.Generate(account.ID)
	if err != nil {
		h.logger.Error("login: token generation failed", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}

	// HttpOnly keeps the token away from scripts; Lax keeps it off
	// cross-site POSTs.
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.tokens.TTL() / time.Second),
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})

	h.logger.Info("user logged in", slog.String("accountID", account.ID))
	writeJSON(w, http.StatusOK, LoginResponse{Token: token, User: account.Display()})
}

// HandleLogout clears the token cookie.
//
// HTTP: POST /auth/logout
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}
