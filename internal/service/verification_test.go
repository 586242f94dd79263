package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/apicore/internal/apperror"
)

func TestIssue_TokenShape(t *testing.T) {
	env := newTestEnv(t)
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	env.verification.now = func() time.Time { return fixed }

	tok, err := env.verification.Issue(context.Background(), "acct-1")
	require.NoError(t, err)

	assert.Len(t, tok.Token, 43, "32 bytes, unpadded base64url")
	assert.Len(t, tok.TokenHash, 64)
	assert.Equal(t, HashToken(tok.Token), tok.TokenHash)
	assert.Equal(t, fixed, tok.IssuedAt)
	assert.Equal(t, fixed.Add(DefaultTokenTTL), tok.ExpiresAt)

	other, err := env.verification.Issue(context.Background(), "acct-2")
	require.NoError(t, err)
	assert.NotEqual(t, tok.Token, other.Token)
}

func TestValidate_SingleUse(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tok, err := env.verification.Issue(ctx, "acct-1")
	require.NoError(t, err)

	accountID, err := env.verification.Validate(ctx, tok.Token)
	require.NoError(t, err)
	assert.Equal(t, "acct-1", accountID)

	_, err = env.verification.Validate(ctx, tok.Token)
	assert.ErrorIs(t, err, apperror.ErrTokenAlreadyUsed)
}

func TestValidate_ReissueInvalidatesPrevious(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	old, err := env.verification.Issue(ctx, "acct-1")
	require.NoError(t, err)
	fresh, err := env.verification.Issue(ctx, "acct-1")
	require.NoError(t, err)

	_, err = env.verification.Validate(ctx, old.Token)
	assert.ErrorIs(t, err, apperror.ErrTokenNotFound)

	_, err = env.verification.Validate(ctx, fresh.Token)
	assert.NoError(t, err)
}

func TestValidate_Expired(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tok, err := env.verification.Issue(ctx, "acct-1")
	require.NoError(t, err)

	env.verification.now = func() time.Time { return tok.ExpiresAt.Add(time.Second) }
	_, err = env.verification.Validate(ctx, tok.Token)
	assert.ErrorIs(t, err, apperror.ErrTokenExpired)

	// an expired token is not consumed
	stored, err := env.store.GetByToken(ctx, tok.TokenHash)
	require.NoError(t, err)
	assert.False(t, stored.Consumed)
}

func TestValidate_Unknown(t *testing.T) {
	env := newTestEnv(t)

	for _, token := range []string{"", "not-a-token"} {
		_, err := env.verification.Validate(context.Background(), token)
		assert.ErrorIs(t, err, apperror.ErrTokenNotFound, "token %q", token)
	}
}

func TestValidate_ConcurrentExactlyOneWins(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tok, err := env.verification.Issue(ctx, "acct-1")
	require.NoError(t, err)

	const callers = 16
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.verification.Validate(ctx, tok.Token)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var wins int
	for err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, apperror.ErrTokenAlreadyUsed)
	}
	assert.Equal(t, 1, wins)
}

func TestVerify_MarksAccountVerified(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	registered, err := env.registration.Register(ctx, lemmy())
	require.NoError(t, err)

	account, err := env.verification.Verify(ctx, env.sentToken(t))
	require.NoError(t, err)
	assert.Equal(t, registered.ID, account.ID)
	assert.True(t, account.Verified)

	_, err = env.verification.Verify(ctx, env.sentToken(t))
	assert.ErrorIs(t, err, apperror.ErrTokenAlreadyUsed)
}

// =========================================================================
// Resend
// =========================================================================

func TestResend(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.registration.Register(ctx, lemmy())
	require.NoError(t, err)
	first := env.sentToken(t)

	require.NoError(t, env.verification.Resend(ctx, "LEMMY@liveui.io"))
	require.Len(t, env.mail.Messages(), 2)
	second := env.sentToken(t)
	assert.NotEqual(t, first, second)

	_, err = env.verification.Validate(ctx, first)
	assert.ErrorIs(t, err, apperror.ErrTokenNotFound)

	_, err = env.verification.Verify(ctx, second)
	require.NoError(t, err)

	err = env.verification.Resend(ctx, "lemmy@liveui.io")
	assert.ErrorIs(t, err, apperror.ErrConflict)
	assert.Len(t, env.mail.Messages(), 2)
}

func TestResend_Errors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	err := env.verification.Resend(ctx, "nobody@liveui.io")
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	_, err = env.registration.Register(ctx, lemmy())
	require.NoError(t, err)
	env.mail.Err = errors.New("relay refused")

	err = env.verification.Resend(ctx, "lemmy@liveui.io")
	assert.ErrorIs(t, err, apperror.ErrNotifier)
}
