// Package service holds the identity business rules.
//
//	UsersHandler (HTTP) → RegistrationService → UserRepository
//	                                          ↘ PasswordService (bcrypt)
//	                                          ↘ VerificationService → VerificationTokenStore
//	                                                                ↘ Notifier
//	                    → DirectoryService    → UserRepository
//
// Services never see HTTP. They return *apperror.AppError values that the
// handlers map to status codes.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/sakif/apicore/internal/apperror"
	"github.com/sakif/apicore/internal/auth"
	"github.com/sakif/apicore/internal/model"
	"github.com/sakif/apicore/internal/repository"
)

// RegistrationService creates accounts and authenticates them.
type RegistrationService struct {
	users        repository.UserRepository
	passwords    *auth.PasswordService
	verification *VerificationService
	logger       *slog.Logger
}

func NewRegistrationService(
	users repository.UserRepository,
	passwords *auth.PasswordService,
	verification *VerificationService,
	logger *slog.Logger,
) *RegistrationService {
	return &RegistrationService{
		users:        users,
		passwords:    passwords,
		verification: verification,
		logger:       logger,
	}
}

// Register creates an unverified account and emails it a verification
// token.
//
// Duplicate usernames and emails are reported before format problems. The
// lookups are a fast path only: a concurrent registration that slips past
// them is still rejected by the repository's uniqueness constraint and
// reported the same way.
//
// If the email cannot be sent the account and its token are removed again
// and the call fails with apperror.ErrNotifier.
func (s *RegistrationService) Register(ctx context.Context, in model.RegistrationInput) (*model.Account, error) {
	if err := s.checkAvailable(ctx, in.Username, in.Email); err != nil {
		return nil, err
	}
	if err := validateRegistration(in); err != nil {
		return nil, err
	}

	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("service/registration: hashing password: %w", err)
	}

	account := model.NewAccount(in, hash)
	if err := s.insert(ctx, account); err != nil {
		return nil, err
	}

	token, err := s.verification.Issue(ctx, account.ID)
	if err != nil {
		s.rollback(ctx, account.ID)
		return nil, err
	}
	if err := s.verification.send(ctx, account, token.Token); err != nil {
		s.rollback(ctx, account.ID)
		s.logger.Warn("registration rolled back, verification email failed",
			slog.String("username", account.Username),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	s.logger.Info("account registered",
		slog.String("accountID", account.ID),
		slog.String("username", account.Username),
	)
	return account, nil
}

// EnsureSuperuser creates a verified superuser from trusted configuration
// unless an account with that username already exists. It is safe to call on
// every start.
func (s *RegistrationService) EnsureSuperuser(ctx context.Context, in model.RegistrationInput, teamIDs ...string) (*model.Account, error) {
	account, err := s.users.FindByUsername(ctx, in.Username)
	switch {
	case err == nil:
		return account, nil
	case !errors.Is(err, apperror.ErrNotFound):
		return nil, fmt.Errorf("service/registration: looking up %s: %w", in.Username, err)
	}

	if err := validateRegistration(in); err != nil {
		return nil, err
	}
	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("service/registration: hashing password: %w", err)
	}

	account = model.NewAccount(in, hash)
	account.IsSuperuser = true
	account.Verified = true
	if err := s.insert(ctx, account); err != nil {
		return nil, err
	}
	for _, teamID := range teamIDs {
		if err := s.users.AddTeamMember(ctx, teamID, account.ID); err != nil {
			return nil, fmt.Errorf("service/registration: adding %s to team %s: %w", account.ID, teamID, err)
		}
		account.TeamIDs = append(account.TeamIDs, teamID)
	}

	s.logger.Info("superuser created",
		slog.String("accountID", account.ID),
		slog.String("username", account.Username),
	)
	return account, nil
}

// Authenticate checks a username and password. Unverified and disabled
// accounts are refused.
func (s *RegistrationService) Authenticate(ctx context.Context, username, password string) (*model.Account, error) {
	account, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthorized("invalid username or password")
		}
		return nil, fmt.Errorf("service/registration: looking up %s: %w", username, err)
	}
	if !s.passwords.Verify(account.PasswordHash, password) {
		return nil, apperror.Unauthorized("invalid username or password")
	}
	if !account.Verified {
		return nil, apperror.Unauthorized("email address has not been verified")
	}
	if account.Disabled {
		return nil, apperror.Unauthorized("account is disabled")
	}
	return account, nil
}

func (s *RegistrationService) checkAvailable(ctx context.Context, username, email string) error {
	if strings.TrimSpace(username) != "" {
		_, err := s.users.FindByUsername(ctx, username)
		switch {
		case err == nil:
			return apperror.DuplicateUsername(username)
		case !errors.Is(err, apperror.ErrNotFound):
			return fmt.Errorf("service/registration: checking username: %w", err)
		}
	}
	if strings.TrimSpace(email) != "" {
		_, err := s.users.FindByEmail(ctx, email)
		switch {
		case err == nil:
			return apperror.DuplicateEmail(email)
		case !errors.Is(err, apperror.ErrNotFound):
			return fmt.Errorf("service/registration: checking email: %w", err)
		}
	}
	return nil
}

func (s *RegistrationService) insert(ctx context.Context, account *model.Account) error {
	err := s.users.Insert(ctx, account)
	if err == nil {
		return nil
	}

	var uv *repository.UniquenessViolation
	if errors.As(err, &uv) {
		if uv.Field == repository.FieldEmail {
			return apperror.DuplicateEmail(account.Email)
		}
		return apperror.DuplicateUsername(account.Username)
	}
	return fmt.Errorf("service/registration: inserting %s: %w", account.Username, err)
}

// rollback undoes a half-finished registration. Failures are logged; the
// caller already has an error to return.
func (s *RegistrationService) rollback(ctx context.Context, accountID string) {
	if err := s.verification.tokens.InvalidateActiveFor(ctx, accountID); err != nil {
		s.logger.Error("rollback: invalidating token", slog.String("accountID", accountID), slog.String("error", err.Error()))
	}
	if err := s.users.Delete(ctx, accountID); err != nil {
		s.logger.Error("rollback: deleting account", slog.String("accountID", accountID), slog.String("error", err.Error()))
	}
}

// validateRegistration rejects the first invalid field.
func validateRegistration(in model.RegistrationInput) error {
	required := []struct{ field, value string }{
		{"username", in.Username},
		{"firstname", in.Firstname},
		{"lastname", in.Lastname},
		{"email", in.Email},
		{"password", in.Password},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return apperror.ValidationFailed(r.field, r.field+" is required")
		}
	}

	if strings.ContainsAny(in.Username, " \t\r\n") {
		return apperror.ValidationFailed("username", "username must not contain whitespace")
	}

	addr, err := mail.ParseAddress(in.Email)
	if err != nil || addr.Address != in.Email {
		return apperror.ValidationFailed("email", "email is not a valid address")
	}

	if len(in.Password) > auth.MaxPasswordBytes {
		return apperror.ValidationFailed("password", fmt.Sprintf("password must be at most %d bytes", auth.MaxPasswordBytes))
	}
	return nil
}
