// Package redisstore keeps verification tokens in Redis.
//
// Each token is a hash at verification_token:<sha256> and each account with
// an unconsumed token has a pointer at verification_token:active:<accountID>.
// The multi-key steps (supersede on Put, consume, invalidate) run as Lua
// scripts, so Redis executes each of them atomically.
//
// Keys outlive the token's expiry by a retention window, so a late
// validation still reports "expired" instead of "not found".
package redisstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sakif/apicore/internal/apperror"
	"github.com/sakif/apicore/internal/model"
	"github.com/sakif/apicore/internal/repository"
)

var _ repository.VerificationTokenStore = (*Store)(nil)

const (
	tokenPrefix  = "verification_token:"
	activePrefix = "verification_token:active:"
)

// KEYS[1] token key, KEYS[2] active pointer
// ARGV[1] hash, ARGV[2] account, ARGV[3] issued, ARGV[4] expires, ARGV[5] ttl ms, ARGV[6] token prefix
var putScript = redis.NewScript(`
local old = redis.call('GET', KEYS[2])
if old then
	local oldKey = ARGV[6] .. old
	if redis.call('HGET', oldKey, 'consumed') == '0' then
		redis.call('DEL', oldKey)
	end
end
redis.call('HSET', KEYS[1], 'account_id', ARGV[2], 'issued_at', ARGV[3], 'expires_at', ARGV[4], 'consumed', '0')
redis.call('PEXPIRE', KEYS[1], ARGV[5])
redis.call('SET', KEYS[2], ARGV[1], 'PX', ARGV[5])
return 1
`)

// KEYS[1] token key; ARGV[1] active prefix, ARGV[2] hash
// returns -1 missing, 0 already consumed, 1 consumed now
var consumeScript = redis.NewScript(`
local consumed = redis.call('HGET', KEYS[1], 'consumed')
if not consumed then
	return -1
end
if consumed == '1' then
	return 0
end
redis.call('HSET', KEYS[1], 'consumed', '1')
local activeKey = ARGV[1] .. redis.call('HGET', KEYS[1], 'account_id')
if redis.call('GET', activeKey) == ARGV[2] then
	redis.call('DEL', activeKey)
end
return 1
`)

// KEYS[1] active pointer; ARGV[1] token prefix
var invalidateScript = redis.NewScript(`
local hash = redis.call('GET', KEYS[1])
if not hash then
	return 0
end
local tokenKey = ARGV[1] .. hash
if redis.call('HGET', tokenKey, 'consumed') == '0' then
	redis.call('DEL', tokenKey)
end
redis.call('DEL', KEYS[1])
return 1
`)

// Store implements repository.VerificationTokenStore on Redis.
type Store struct {
	client    redis.UniversalClient
	retention time.Duration
}

// New returns a Store. retention is how long a token key is kept after it
// expires.
func New(client redis.UniversalClient, retention time.Duration) *Store {
	if retention < 0 {
		retention = 0
	}
	return &Store{client: client, retention: retention}
}

func tokenKey(hash string) string      { return tokenPrefix + hash }
func activeKey(accountID string) string { return activePrefix + accountID }

func (s *Store) Put(ctx context.Context, t *model.VerificationToken) error {
	ttl := time.Until(t.ExpiresAt) + s.retention
	if ttl < time.Second {
		ttl = time.Second
	}

	err := putScript.Run(ctx, s.client,
		[]string{tokenKey(t.TokenHash), activeKey(t.AccountID)},
		t.TokenHash,
		t.AccountID,
		t.IssuedAt.UnixNano(),
		t.ExpiresAt.UnixNano(),
		ttl.Milliseconds(),
		tokenPrefix,
	).Err()
	if err != nil {
		return apperror.Storage("storing verification token", err)
	}
	return nil
}

func (s *Store) GetByToken(ctx context.Context, tokenHash string) (*model.VerificationToken, error) {
	data, err := s.client.HGetAll(ctx, tokenKey(tokenHash)).Result()
	if err != nil {
		return nil, apperror.Storage("getting verification token", err)
	}
	if len(data) == 0 {
		return nil, apperror.TokenNotFound()
	}

	issued, err := strconv.ParseInt(data["issued_at"], 10, 64)
	if err != nil {
		return nil, apperror.Storage("decoding verification token", fmt.Errorf("issued_at: %w", err))
	}
	expires, err := strconv.ParseInt(data["expires_at"], 10, 64)
	if err != nil {
		return nil, apperror.Storage("decoding verification token", fmt.Errorf("expires_at: %w", err))
	}

	return &model.VerificationToken{
		TokenHash: tokenHash,
		AccountID: data["account_id"],
		IssuedAt:  time.Unix(0, issued),
		ExpiresAt: time.Unix(0, expires),
		Consumed:  data["consumed"] == "1",
	}, nil
}

func (s *Store) InvalidateActiveFor(ctx context.Context, accountID string) error {
	err := invalidateScript.Run(ctx, s.client, []string{activeKey(accountID)}, tokenPrefix).Err()
	if err != nil {
		return apperror.Storage("invalidating verification token", err)
	}
	return nil
}

func (s *Store) MarkConsumed(ctx context.Context, tokenHash string) error {
	res, err := consumeScript.Run(ctx, s.client, []string{tokenKey(tokenHash)}, activePrefix, tokenHash).Int()
	if err != nil {
		return apperror.Storage("consuming verification token", err)
	}

	switch res {
	case 1:
		return nil
	case 0:
		return apperror.TokenAlreadyUsed()
	default:
		return apperror.TokenNotFound()
	}
}
