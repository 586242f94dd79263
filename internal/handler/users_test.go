package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/apicore/internal/auth"
	"github.com/sakif/apicore/internal/handler"
	"github.com/sakif/apicore/internal/model"
	"github.com/sakif/apicore/internal/notify"
	"github.com/sakif/apicore/internal/repository/memory"
	"github.com/sakif/apicore/internal/service"
)

type fixture struct {
	store  *memory.Store
	mail   *notify.Recorder
	tokens *auth.TokenService
	reg    *service.RegistrationService
	users  *handler.UsersHandler
	login  *handler.AuthHandler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store := memory.New()
	mail := &notify.Recorder{}
	tokens, err := auth.NewTokenService("test-secret-at-least-16-chars!!", time.Minute)
	require.NoError(t, err)

	verification := service.NewVerificationService(store, store, mail, service.VerificationConfig{
		From:      "admin@apicore",
		Signature: "Boost team",
		VerifyURL: "http://localhost:8080/users/verify",
	}, logger)
	reg := service.NewRegistrationService(store, auth.NewPasswordServiceWithCost(4), verification, logger)
	directory := service.NewDirectoryService(store, logger)

	return &fixture{
		store:  store,
		mail:   mail,
		tokens: tokens,
		reg:    reg,
		users:  handler.NewUsersHandler(reg, verification, directory, logger),
		login:  handler.NewAuthHandler(reg, tokens, false, logger),
	}
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

const lemmyJSON = `{"username":"lemmy","firstname":"Lemmy","lastname":"Kilmister","email":"lemmy@liveui.io","password":"sup3rS3cr3t","su":true,"disabled":true}`

func TestHandleRegister(t *testing.T) {
	t.Run("created", func(t *testing.T) {
		f := newFixture(t)
		rr := httptest.NewRecorder()
		f.users.HandleRegister(rr, jsonRequest(http.MethodPost, "/users", lemmyJSON))

		require.Equal(t, http.StatusCreated, rr.Code)
		var display model.Display
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&display))
		assert.Equal(t, "lemmy", display.Username)
		assert.False(t, display.Verified)

		stored, err := f.store.FindByUsername(context.Background(), "lemmy")
		require.NoError(t, err)
		assert.False(t, stored.IsSuperuser, "su in the body must be ignored")
		assert.False(t, stored.Disabled, "disabled in the body must be ignored")
		assert.Len(t, f.mail.Messages(), 1)
	})

	t.Run("invalid body", func(t *testing.T) {
		f := newFixture(t)
		rr := httptest.NewRecorder()
		f.users.HandleRegister(rr, jsonRequest(http.MethodPost, "/users", `{"username":`))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("invalid email", func(t *testing.T) {
		f := newFixture(t)
		rr := httptest.NewRecorder()
		body := strings.Replace(lemmyJSON, "lemmy@liveui.io", "lemmy", 1)
		f.users.HandleRegister(rr, jsonRequest(http.MethodPost, "/users", body))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		var resp handler.ErrorResponse
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		assert.Equal(t, "email", resp.Field)
	})

	t.Run("notifier down", func(t *testing.T) {
		f := newFixture(t)
		f.mail.Err = errors.New("relay refused")
		rr := httptest.NewRecorder()
		f.users.HandleRegister(rr, jsonRequest(http.MethodPost, "/users", lemmyJSON))
		assert.Equal(t, http.StatusBadGateway, rr.Code)
	})
}

func TestHandleVerify(t *testing.T) {
	f := newFixture(t)
	rr := httptest.NewRecorder()
	f.users.HandleRegister(rr, jsonRequest(http.MethodPost, "/users", lemmyJSON))
	require.Equal(t, http.StatusCreated, rr.Code)

	msg, _ := f.mail.Last()
	token, ok := notify.TokenFromText(msg.Text)
	require.True(t, ok)

	tests := []struct {
		name       string
		token      string
		wantStatus int
	}{
		{"missing", "", http.StatusNotFound},
		{"unknown", "nope", http.StatusNotFound},
		{"valid", token, http.StatusOK},
		{"reused", token, http.StatusGone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			f.users.HandleVerify(rr, httptest.NewRequest(http.MethodGet, "/users/verify?token="+tt.token, nil))
			assert.Equal(t, tt.wantStatus, rr.Code)
		})
	}
}

func TestHandleResend(t *testing.T) {
	f := newFixture(t)

	rr := httptest.NewRecorder()
	f.users.HandleResend(rr, jsonRequest(http.MethodPost, "/users/verify/resend", `{}`))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	f.users.HandleResend(rr, jsonRequest(http.MethodPost, "/users/verify/resend", `{"email":"ghost@liveui.io"}`))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandleListAndSearch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin, err := f.reg.EnsureSuperuser(ctx, model.RegistrationInput{
		Username: "admin", Firstname: "Super", Lastname: "Admin", Email: "admin@liveui.io", Password: "pw",
	})
	require.NoError(t, err)

	t.Run("anonymous", func(t *testing.T) {
		rr := httptest.NewRecorder()
		f.users.HandleList(rr, httptest.NewRequest(http.MethodGet, "/users", nil))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("list", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/users", nil)
		req = req.WithContext(auth.WithAccountID(req.Context(), admin.ID))
		rr := httptest.NewRecorder()
		f.users.HandleList(rr, req)

		require.Equal(t, http.StatusOK, rr.Code)
		var out []model.Display
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&out))
		require.Len(t, out, 1)
		assert.Equal(t, "admin", out[0].Username)
	})

	t.Run("search", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/users/global?search=ADM", nil)
		req = req.WithContext(auth.WithAccountID(req.Context(), admin.ID))
		rr := httptest.NewRecorder()
		f.users.HandleSearch(rr, req)

		require.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), `"avatar":"e7e8b7ac59a724a481bec410d0cb44a4"`)
		assert.Contains(t, rr.Body.String(), `"su":true`)
		assert.NotContains(t, rr.Body.String(), "password")
	})

	t.Run("search empty result is an array", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/users/global?search=zzz", nil)
		req = req.WithContext(auth.WithAccountID(req.Context(), admin.ID))
		rr := httptest.NewRecorder()
		f.users.HandleSearch(rr, req)

		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "[]\n", rr.Body.String())
	})
}

func TestHandleLogin(t *testing.T) {
	f := newFixture(t)
	_, err := f.reg.EnsureSuperuser(context.Background(), model.RegistrationInput{
		Username: "admin", Firstname: "Super", Lastname: "Admin", Email: "admin@liveui.io", Password: "pw",
	})
	require.NoError(t, err)

	t.Run("success", func(t *testing.T) {
		rr := httptest.NewRecorder()
		f.login.HandleLogin(rr, jsonRequest(http.MethodPost, "/auth", `{"username":"admin","password":"pw"}`))

		require.Equal(t, http.StatusOK, rr.Code)
		var resp handler.LoginResponse
		require.NoError(t, json.NewDecoder(bytes.NewReader(rr.Body.Bytes())).Decode(&resp))
		accountID, err := f.tokens.Validate(resp.Token)
		require.NoError(t, err)
		assert.Equal(t, resp.User.ID, accountID)

		cookies := rr.Result().Cookies()
		require.Len(t, cookies, 1)
		assert.Equal(t, auth.CookieName, cookies[0].Name)
		assert.Equal(t, 60, cookies[0].MaxAge)
	})

	t.Run("wrong password", func(t *testing.T) {
		rr := httptest.NewRecorder()
		f.login.HandleLogin(rr, jsonRequest(http.MethodPost, "/auth", `{"username":"admin","password":"nope"}`))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Empty(t, rr.Result().Cookies())
	})
}
