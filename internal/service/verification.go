package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sakif/apicore/internal/apperror"
	"github.com/sakif/apicore/internal/model"
	"github.com/sakif/apicore/internal/notify"
	"github.com/sakif/apicore/internal/repository"
)

// DefaultTokenTTL is used when VerificationConfig.TTL is zero.
const DefaultTokenTTL = 24 * time.Hour

const tokenBytes = 32

// VerificationConfig carries the settings of the verification email.
type VerificationConfig struct {
	TTL       time.Duration
	From      string
	Signature string
	// VerifyURL is the public endpoint the emailed link points at,
	// e.g. https://api.example.com/users/verify.
	VerifyURL string
}

// VerificationService issues, delivers and redeems email verification tokens.
type VerificationService struct {
	tokens   repository.VerificationTokenStore
	users    repository.UserRepository
	notifier notify.Notifier
	cfg      VerificationConfig
	now      func() time.Time
	logger   *slog.Logger
}

func NewVerificationService(
	tokens repository.VerificationTokenStore,
	users repository.UserRepository,
	notifier notify.Notifier,
	cfg VerificationConfig,
	logger *slog.Logger,
) *VerificationService {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTokenTTL
	}
	return &VerificationService{
		tokens:   tokens,
		users:    users,
		notifier: notifier,
		cfg:      cfg,
		now:      time.Now,
		logger:   logger,
	}
}

// HashToken returns the lookup key stored for a raw token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func newRawToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("service/verification: reading random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Issue creates a fresh token for the account. Any earlier unconsumed token
// of the account stops validating. The returned token carries the raw value
// in Token; only its hash is stored.
func (s *VerificationService) Issue(ctx context.Context, accountID string) (*model.VerificationToken, error) {
	raw, err := newRawToken()
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	t := &model.VerificationToken{
		Token:     raw,
		TokenHash: HashToken(raw),
		AccountID: accountID,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.cfg.TTL),
	}
	if err := s.tokens.Put(ctx, t); err != nil {
		return nil, fmt.Errorf("service/verification: storing token for %s: %w", accountID, err)
	}
	return t, nil
}

// Validate redeems a raw token and returns the account it belongs to.
// A token validates at most once, even under concurrent calls.
func (s *VerificationService) Validate(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", apperror.TokenNotFound()
	}
	hash := HashToken(token)

	t, err := s.tokens.GetByToken(ctx, hash)
	if err != nil {
		return "", fmt.Errorf("service/verification: looking up token: %w", err)
	}
	if t.Consumed {
		return "", apperror.TokenAlreadyUsed()
	}
	if t.Expired(s.now()) {
		return "", apperror.TokenExpired()
	}

	if err := s.tokens.MarkConsumed(ctx, hash); err != nil {
		return "", fmt.Errorf("service/verification: consuming token: %w", err)
	}
	return t.AccountID, nil
}

// Verify redeems the token and marks its account verified.
func (s *VerificationService) Verify(ctx context.Context, token string) (*model.Account, error) {
	accountID, err := s.Validate(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := s.users.MarkVerified(ctx, accountID); err != nil {
		return nil, fmt.Errorf("service/verification: marking %s verified: %w", accountID, err)
	}
	account, err := s.users.FindByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("service/verification: loading %s: %w", accountID, err)
	}

	s.logger.Info("account verified", slog.String("accountID", accountID))
	return account, nil
}

// Resend issues a new token for an unverified account and emails it again.
func (s *VerificationService) Resend(ctx context.Context, email string) error {
	account, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return apperror.NotFound("account", email)
		}
		return fmt.Errorf("service/verification: finding %s: %w", email, err)
	}
	if account.Verified {
		return &apperror.AppError{
			Err:     apperror.ErrConflict,
			Message: "account is already verified",
			Field:   "email",
		}
	}

	t, err := s.Issue(ctx, account.ID)
	if err != nil {
		return err
	}
	if err := s.send(ctx, account, t.Token); err != nil {
		return err
	}

	s.logger.Info("verification email resent", slog.String("accountID", account.ID))
	return nil
}

// send renders the verification email for account and hands it to the
// notifier. Failures come back as apperror.ErrNotifier.
func (s *VerificationService) send(ctx context.Context, account *model.Account, token string) error {
	msg, err := notify.Verification{
		From:      s.cfg.From,
		To:        account.Email,
		Firstname: account.Firstname,
		Lastname:  account.Lastname,
		Token:     token,
		VerifyURL: s.cfg.VerifyURL,
		Signature: s.cfg.Signature,
	}.Render()
	if err != nil {
		return apperror.Notifier(err)
	}
	if err := s.notifier.Send(ctx, msg); err != nil {
		return apperror.Notifier(err)
	}
	return nil
}
