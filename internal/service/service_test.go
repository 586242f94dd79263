package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sakif/apicore/internal/apperror"
	"github.com/sakif/apicore/internal/auth"
	"github.com/sakif/apicore/internal/model"
	"github.com/sakif/apicore/internal/notify"
	"github.com/sakif/apicore/internal/repository"
	"github.com/sakif/apicore/internal/repository/memory"
)

// =========================================================================
// FAKES AND HELPERS
// =========================================================================

// testEnv wires every service against one in-memory store and a recording
// notifier, the same way server.New wires them against SQLite and SMTP.
type testEnv struct {
	store        *memory.Store
	mail         *notify.Recorder
	passwords    *auth.PasswordService
	verification *VerificationService
	registration *RegistrationService
	directory    *DirectoryService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWith(t, nil)
}

// newTestEnvWith lets a test put a fake in front of the user repository.
// A nil users uses the memory store directly.
func newTestEnvWith(t *testing.T, users repository.UserRepository) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.New()
	if users == nil {
		users = store
	}
	mail := &notify.Recorder{}
	passwords := auth.NewPasswordServiceWithCost(4)

	verification := NewVerificationService(store, users, mail, VerificationConfig{
		From:      "admin@apicore",
		Signature: "Boost team",
		VerifyURL: "http://localhost:8080/users/verify",
	}, logger)

	return &testEnv{
		store:        store,
		mail:         mail,
		passwords:    passwords,
		verification: verification,
		registration: NewRegistrationService(users, passwords, verification, logger),
		directory:    NewDirectoryService(users, logger),
	}
}

func lemmy() model.RegistrationInput {
	return model.RegistrationInput{
		Username:  "lemmy",
		Firstname: "Lemmy",
		Lastname:  "Kilmister",
		Email:     "lemmy@liveui.io",
		Password:  "sup3rS3cr3t",
	}
}

func admin() model.RegistrationInput {
	return model.RegistrationInput{
		Username:  "admin",
		Firstname: "Super",
		Lastname:  "Admin",
		Email:     "admin@liveui.io",
		Password:  "admin-password",
	}
}

// sentToken returns the raw token of the last verification email.
func (e *testEnv) sentToken(t *testing.T) string {
	t.Helper()
	msg, ok := e.mail.Last()
	require.True(t, ok, "no email was sent")
	token, ok := notify.TokenFromText(msg.Text)
	require.True(t, ok, "email text carries no token")
	return token
}

// racingRepo hides existing accounts from the lookups, as if a concurrent
// registration had committed between the pre-check and the insert.
type racingRepo struct {
	*memory.Store
}

func (r racingRepo) FindByUsername(_ context.Context, username string) (*model.Account, error) {
	return nil, apperror.NotFound("user", username)
}

func (r racingRepo) FindByEmail(_ context.Context, email string) (*model.Account, error) {
	return nil, apperror.NotFound("user", email)
}

// brokenRepo fails every call with a storage error.
type brokenRepo struct {
	*memory.Store
}

var errDiskGone = errors.New("disk I/O error")

func (brokenRepo) FindByUsername(context.Context, string) (*model.Account, error) {
	return nil, apperror.Storage("finding user", errDiskGone)
}

func (brokenRepo) FindByEmail(context.Context, string) (*model.Account, error) {
	return nil, apperror.Storage("finding user", errDiskGone)
}

func (brokenRepo) FindByID(context.Context, string) (*model.Account, error) {
	return nil, apperror.Storage("finding user", errDiskGone)
}

func (brokenRepo) ListAll(context.Context) ([]model.Account, error) {
	return nil, apperror.Storage("listing users", errDiskGone)
}
