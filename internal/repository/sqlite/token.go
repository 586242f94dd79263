package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/sakif/apicore/internal/apperror"
	"github.com/sakif/apicore/internal/model"
	"github.com/sakif/apicore/internal/repository"
)

var _ repository.VerificationTokenStore = (*DB)(nil)

// Put replaces the account's active token with t inside one transaction.
func (db *DB) Put(ctx context.Context, t *model.VerificationToken) (err error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return apperror.Storage("starting token transaction", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx,
		`DELETE FROM verification_tokens WHERE account_id = ? AND consumed = 0`,
		t.AccountID,
	); err != nil {
		return apperror.Storage("superseding verification token", err)
	}

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO verification_tokens (token_hash, account_id, issued_at, expires_at, consumed)
		 VALUES (?, ?, ?, ?, ?)`,
		t.TokenHash,
		t.AccountID,
		t.IssuedAt.UTC(),
		t.ExpiresAt.UTC(),
		t.Consumed,
	); err != nil {
		return apperror.Storage("inserting verification token", err)
	}

	if err = tx.Commit(); err != nil {
		return apperror.Storage("committing verification token", err)
	}
	return nil
}

// GetByToken loads a token by its hash.
// Returns apperror.ErrTokenNotFound if it does not exist.
func (db *DB) GetByToken(ctx context.Context, tokenHash string) (*model.VerificationToken, error) {
	var t model.VerificationToken
	err := db.conn.QueryRowContext(ctx,
		`SELECT token_hash, account_id, issued_at, expires_at, consumed
		 FROM verification_tokens WHERE token_hash = ?`,
		tokenHash,
	).Scan(&t.TokenHash, &t.AccountID, &t.IssuedAt, &t.ExpiresAt, &t.Consumed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.TokenNotFound()
		}
		return nil, apperror.Storage("getting verification token", err)
	}
	return &t, nil
}

// InvalidateActiveFor deletes the account's unconsumed token, if any.
func (db *DB) InvalidateActiveFor(ctx context.Context, accountID string) error {
	if _, err := db.conn.ExecContext(ctx,
		`DELETE FROM verification_tokens WHERE account_id = ? AND consumed = 0`,
		accountID,
	); err != nil {
		return apperror.Storage("invalidating verification token", err)
	}
	return nil
}

// MarkConsumed is a conditional update: of any number of concurrent callers
// exactly one sees a row affected.
func (db *DB) MarkConsumed(ctx context.Context, tokenHash string) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE verification_tokens SET consumed = 1 WHERE token_hash = ? AND consumed = 0`,
		tokenHash,
	)
	if err != nil {
		return apperror.Storage("consuming verification token", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return apperror.Storage("reading affected rows", err)
	}
	if n == 1 {
		return nil
	}

	// Lost the race or the token is gone; tell the two apart.
	var consumed bool
	err = db.conn.QueryRowContext(ctx,
		`SELECT consumed FROM verification_tokens WHERE token_hash = ?`, tokenHash,
	).Scan(&consumed)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return apperror.TokenNotFound()
	case err != nil:
		return apperror.Storage("re-reading verification token", err)
	default:
		return apperror.TokenAlreadyUsed()
	}
}
