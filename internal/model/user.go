// Package model defines the data structures used throughout the application.
package model

import "time"

// Account is the identity record of a registered user.
//
// The privilege fields (Disabled, IsSuperuser) are never bound from request
// input: RegistrationInput has no such fields and NewAccount hardcodes the
// safe defaults.
//
// Username and Email are unique across all accounts. Uniqueness is
// case-insensitive; the values are stored as submitted.
type Account struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Firstname    string    `json:"firstname"`
	Lastname     string    `json:"lastname"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Disabled     bool      `json:"disabled"`
	IsSuperuser  bool      `json:"su"`
	Verified     bool      `json:"verified"`
	TeamIDs      []string  `json:"-"` // opaque, used for search scoping only
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// NewAccount builds the record persisted by a public registration.
// The hash must already be computed; ID and timestamps are filled in by the
// repository on insert.
func NewAccount(in RegistrationInput, passwordHash string) *Account {
	return &Account{
		Username:     in.Username,
		Firstname:    in.Firstname,
		Lastname:     in.Lastname,
		Email:        in.Email,
		PasswordHash: passwordHash,
		Disabled:     false,
		IsSuperuser:  false,
		Verified:     false,
	}
}

// InTeam reports whether the account is a member of the given team.
func (a *Account) InTeam(teamID string) bool {
	for _, id := range a.TeamIDs {
		if id == teamID {
			return true
		}
	}
	return false
}

// RegistrationInput is the untrusted payload of a public registration.
type RegistrationInput struct {
	Username  string `json:"username"`
	Firstname string `json:"firstname"`
	Lastname  string `json:"lastname"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

// Display is the public projection of an Account returned by registration,
// verification and listing.
type Display struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Firstname string    `json:"firstname"`
	Lastname  string    `json:"lastname"`
	Email     string    `json:"email"`
	Verified  bool      `json:"verified"`
	CreatedAt time.Time `json:"registered"`
}

// Display returns the public projection of the account.
func (a *Account) Display() Display {
	return Display{
		ID:        a.ID,
		Username:  a.Username,
		Firstname: a.Firstname,
		Lastname:  a.Lastname,
		Email:     a.Email,
		Verified:  a.Verified,
		CreatedAt: a.CreatedAt,
	}
}

// DirectoryEntry is the search projection of an Account. Avatar is derived
// from the email on every read and never stored.
//
// Disabled and Superuser are only set for requesters allowed to see them.
type DirectoryEntry struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Firstname string `json:"firstname"`
	Lastname  string `json:"lastname"`
	Avatar    string `json:"avatar"`
	Disabled  *bool  `json:"disabled,omitempty"`
	Superuser *bool  `json:"su,omitempty"`
}

// SearchQuery narrows a directory search. The zero value matches every
// account.
type SearchQuery struct {
	Text   string // case-insensitive substring of username, names or email
	TeamID string // restrict to members of this team
}

// IsZero reports whether the query applies no filter.
func (q SearchQuery) IsZero() bool {
	return q.Text == "" && q.TeamID == ""
}
