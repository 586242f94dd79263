// Package repository declares the storage collaborators of the identity core.
//
// Implementations live in sub-packages (sqlite, memory, redisstore). They report
// failures with the apperror taxonomy:
//
//	lookup misses           → apperror.ErrNotFound
//	uniqueness violations   → *UniquenessViolation (also ErrConflict)
//	anything else           → apperror.ErrStorage
package repository

import (
	"context"
	"fmt"

	"github.com/sakif/apicore/internal/apperror"
	"github.com/sakif/apicore/internal/model"
)

// UserRepository stores accounts and enforces username/email uniqueness
// natively: a duplicate Insert fails with *UniquenessViolation and never
// overwrites the existing row.
type UserRepository interface {
	FindByUsername(ctx context.Context, username string) (*model.Account, error)
	FindByEmail(ctx context.Context, email string) (*model.Account, error)
	FindByID(ctx context.Context, id string) (*model.Account, error)
	// Insert assigns ID, CreatedAt and UpdatedAt on the passed account.
	Insert(ctx context.Context, account *model.Account) error
	// ListAll returns every account ordered by ID ascending.
	ListAll(ctx context.Context) ([]model.Account, error)
	Delete(ctx context.Context, id string) error
	MarkVerified(ctx context.Context, id string) error
	AddTeamMember(ctx context.Context, teamID, accountID string) error
}

// VerificationTokenStore persists verification tokens keyed by token hash.
type VerificationTokenStore interface {
	// Put stores the token and, in the same atomic step, removes any
	// unconsumed token of the same account.
	Put(ctx context.Context, token *model.VerificationToken) error
	GetByToken(ctx context.Context, tokenHash string) (*model.VerificationToken, error)
	InvalidateActiveFor(ctx context.Context, accountID string) error
	// MarkConsumed flips the consumed flag if and only if it is still unset.
	// It returns apperror.ErrTokenAlreadyUsed when another caller won and
	// apperror.ErrTokenNotFound when the token no longer exists.
	MarkConsumed(ctx context.Context, tokenHash string) error
}

// Unique fields reported by UniquenessViolation.
const (
	FieldUsername = "username"
	FieldEmail    = "email"
)

// UniquenessViolation is returned by UserRepository.Insert when another
// account already holds the username or email.
type UniquenessViolation struct {
	Field string
	Value string
}

func (e *UniquenessViolation) Error() string {
	return fmt.Sprintf("repository: %s %q already exists", e.Field, e.Value)
}

// Is lets errors.Is(err, apperror.ErrConflict) match.
func (e *UniquenessViolation) Is(target error) bool {
	return target == apperror.ErrConflict
}
