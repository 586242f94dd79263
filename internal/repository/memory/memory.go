// Package memory is an in-process implementation of the repository
// interfaces. It backs the service tests and the server when no database
// path is configured.
//
// A single mutex guards every operation, which makes each method atomic
// with respect to the others.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/apicore/internal/apperror"
	"github.com/sakif/apicore/internal/model"
	"github.com/sakif/apicore/internal/repository"
)

var (
	_ repository.UserRepository         = (*Store)(nil)
	_ repository.VerificationTokenStore = (*Store)(nil)
)

// Store holds accounts and verification tokens in maps.
type Store struct {
	mu sync.Mutex

	users      map[string]*model.Account // keyed by ID
	byUsername map[string]string         // lowercased username → ID
	byEmail    map[string]string         // lowercased email → ID

	tokens map[string]*model.VerificationToken // keyed by hash
	active map[string]string                   // account ID → hash of its unconsumed token
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		users:      make(map[string]*model.Account),
		byUsername: make(map[string]string),
		byEmail:    make(map[string]string),
		tokens:     make(map[string]*model.VerificationToken),
		active:     make(map[string]string),
	}
}

func fold(s string) string { return strings.ToLower(s) }

func (s *Store) Insert(_ context.Context, a *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byUsername[fold(a.Username)]; ok {
		return &repository.UniquenessViolation{Field: repository.FieldUsername, Value: a.Username}
	}
	if _, ok := s.byEmail[fold(a.Email)]; ok {
		return &repository.UniquenessViolation{Field: repository.FieldEmail, Value: a.Email}
	}

	now := time.Now().UTC()
	a.ID = xid.New().String()
	a.CreatedAt = now
	a.UpdatedAt = now

	stored := *a
	stored.TeamIDs = append([]string(nil), a.TeamIDs...)
	s.users[a.ID] = &stored
	s.byUsername[fold(a.Username)] = a.ID
	s.byEmail[fold(a.Email)] = a.ID
	return nil
}

func (s *Store) FindByID(_ context.Context, id string) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyOf(id, id)
}

func (s *Store) FindByUsername(_ context.Context, username string) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyOf(s.byUsername[fold(username)], username)
}

func (s *Store) FindByEmail(_ context.Context, email string) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyOf(s.byEmail[fold(email)], email)
}

// copyOf returns a copy so callers can't modify internal state.
// Callers must hold s.mu.
func (s *Store) copyOf(id, lookup string) (*model.Account, error) {
	a, ok := s.users[id]
	if !ok {
		return nil, apperror.NotFound("user", lookup)
	}
	out := *a
	out.TeamIDs = append([]string(nil), a.TeamIDs...)
	return &out, nil
}

func (s *Store) ListAll(_ context.Context) ([]model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Account, 0, len(s.users))
	for id := range s.users {
		a, _ := s.copyOf(id, id)
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.users[id]
	if !ok {
		return apperror.NotFound("user", id)
	}
	delete(s.users, id)
	delete(s.byUsername, fold(a.Username))
	delete(s.byEmail, fold(a.Email))

	for hash, t := range s.tokens {
		if t.AccountID == id {
			delete(s.tokens, hash)
		}
	}
	delete(s.active, id)
	return nil
}

func (s *Store) MarkVerified(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.users[id]
	if !ok {
		return apperror.NotFound("user", id)
	}
	a.Verified = true
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) AddTeamMember(_ context.Context, teamID, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.users[accountID]
	if !ok {
		return apperror.NotFound("user", accountID)
	}
	if !a.InTeam(teamID) {
		a.TeamIDs = append(a.TeamIDs, teamID)
		sort.Strings(a.TeamIDs)
	}
	return nil
}

// Put stores t and drops the account's previous unconsumed token.
func (s *Store) Put(_ context.Context, t *model.VerificationToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.active[t.AccountID]; ok {
		delete(s.tokens, old)
	}
	stored := *t
	stored.Token = ""
	s.tokens[t.TokenHash] = &stored
	if !t.Consumed {
		s.active[t.AccountID] = t.TokenHash
	}
	return nil
}

func (s *Store) GetByToken(_ context.Context, tokenHash string) (*model.VerificationToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[tokenHash]
	if !ok {
		return nil, apperror.TokenNotFound()
	}
	out := *t
	return &out, nil
}

func (s *Store) InvalidateActiveFor(_ context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if hash, ok := s.active[accountID]; ok {
		delete(s.tokens, hash)
		delete(s.active, accountID)
	}
	return nil
}

func (s *Store) MarkConsumed(_ context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[tokenHash]
	if !ok {
		return apperror.TokenNotFound()
	}
	if t.Consumed {
		return apperror.TokenAlreadyUsed()
	}
	t.Consumed = true
	if s.active[t.AccountID] == tokenHash {
		delete(s.active, t.AccountID)
	}
	return nil
}
