package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/apicore/internal/apperror"
	"github.com/sakif/apicore/internal/auth"
	"github.com/sakif/apicore/internal/model"
	"github.com/sakif/apicore/internal/repository"
)

// DirectoryService lists and searches accounts for authenticated requesters.
type DirectoryService struct {
	users  repository.UserRepository
	logger *slog.Logger
}

func NewDirectoryService(users repository.UserRepository, logger *slog.Logger) *DirectoryService {
	return &DirectoryService{users: users, logger: logger}
}

// Requester loads the account behind an authenticated request. An id that no
// longer resolves is treated as anonymous.
func (s *DirectoryService) Requester(ctx context.Context, accountID string) (*model.Account, error) {
	if accountID == "" {
		return nil, apperror.Unauthorized("authentication required")
	}
	account, err := s.users.FindByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthorized("authentication required")
		}
		return nil, fmt.Errorf("service/directory: loading requester %s: %w", accountID, err)
	}
	return account, nil
}

// List returns every account ordered by id.
func (s *DirectoryService) List(ctx context.Context, requester *model.Account) ([]model.Account, error) {
	if requester == nil {
		return nil, apperror.Unauthorized("authentication required")
	}
	accounts, err := s.users.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("service/directory: listing accounts: %w", err)
	}
	return accounts, nil
}

// Search returns the accounts matching q ordered by id, each with its avatar
// fingerprint. The zero query matches everything.
//
// Disabled and superuser flags are only filled in for superuser requesters.
func (s *DirectoryService) Search(ctx context.Context, requester *model.Account, q model.SearchQuery) ([]model.DirectoryEntry, error) {
	accounts, err := s.List(ctx, requester)
	if err != nil {
		return nil, err
	}

	text := strings.ToLower(strings.TrimSpace(q.Text))
	entries := make([]model.DirectoryEntry, 0, len(accounts))
	for i := range accounts {
		a := &accounts[i]
		if q.TeamID != "" && !a.InTeam(q.TeamID) {
			continue
		}
		if text != "" && !matches(a, text) {
			continue
		}
		entries = append(entries, entry(a, requester.IsSuperuser))
	}

	s.logger.Debug("directory search",
		slog.String("requester", requester.ID),
		slog.String("text", q.Text),
		slog.String("team", q.TeamID),
		slog.Int("results", len(entries)),
	)
	return entries, nil
}

func matches(a *model.Account, lowered string) bool {
	for _, field := range []string{a.Username, a.Firstname, a.Lastname, a.Email} {
		if strings.Contains(strings.ToLower(field), lowered) {
			return true
		}
	}
	return false
}

func entry(a *model.Account, privileged bool) model.DirectoryEntry {
	e := model.DirectoryEntry{
		ID:        a.ID,
		Username:  a.Username,
		Firstname: a.Firstname,
		Lastname:  a.Lastname,
		Avatar:    auth.AvatarFingerprint(a.Email),
	}
	if privileged {
		disabled, su := a.Disabled, a.IsSuperuser
		e.Disabled = &disabled
		e.Superuser = &su
	}
	return e
}
