package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/sakif/apicore/internal/apperror"
	"github.com/sakif/apicore/internal/auth"
	"github.com/sakif/apicore/internal/model"
	"github.com/sakif/apicore/internal/service"
)

const maxBodyBytes = 1 << 20

// UsersHandler serves registration, verification and the account directory.
//
//	POST /users                 register, 201 + display
//	GET  /users                 list (auth)
//	GET  /users/global          search (auth), ?search= ?team=
//	GET  /users/verify          redeem ?token=
//	POST /users/verify/resend   email a fresh token
type UsersHandler struct {
	registration *service.RegistrationService
	verification *service.VerificationService
	directory    *service.DirectoryService
	logger       *slog.Logger
}

func NewUsersHandler(
	registration *service.RegistrationService,
	verification *service.VerificationService,
	directory *service.DirectoryService,
	logger *slog.Logger,
) *UsersHandler {
	return &UsersHandler{
		registration: registration,
		verification: verification,
		directory:    directory,
		logger:       logger,
	}
}

// HandleRegister creates an account from the request body. Privilege keys
// in the body (disabled, su) have nowhere to land and are dropped.
func (h *UsersHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var in model.RegistrationInput
	if !decodeBody(w, r, &in) {
		return
	}

	account, err := h.registration.Register(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, account.Display())
}

func (h *UsersHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	requester, ok := h.requester(w, r)
	if !ok {
		return
	}

	accounts, err := h.directory.List(r.Context(), requester)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]model.Display, 0, len(accounts))
	for i := range accounts {
		out = append(out, accounts[i].Display())
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *UsersHandler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	requester, ok := h.requester(w, r)
	if !ok {
		return
	}

	q := model.SearchQuery{
		Text:   r.URL.Query().Get("search"),
		TeamID: r.URL.Query().Get("team"),
	}
	entries, err := h.directory.Search(r.Context(), requester, q)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *UsersHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	account, err := h.verification.Verify(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account.Display())
}

type resendRequest struct {
	Email string `json:"email"`
}

func (h *UsersHandler) HandleResend(w http.ResponseWriter, r *http.Request) {
	var req resendRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Email == "" {
		writeError(w, apperror.ValidationFailed("email", "email is required"))
		return
	}

	if err := h.verification.Resend(r.Context(), req.Email); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// requester resolves the account set on the context by auth.RequireAuth.
func (h *UsersHandler) requester(w http.ResponseWriter, r *http.Request) (*model.Account, bool) {
	accountID, _ := auth.AccountIDFromContext(r.Context())
	account, err := h.directory.Requester(r.Context(), accountID)
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return account, true
}

// decodeBody reads a JSON body into dst, answering 400 itself on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, apperror.ValidationFailed("", "Invalid request body"))
		return false
	}
	return true
}
