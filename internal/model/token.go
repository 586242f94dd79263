package model

import "time"

// VerificationToken proves ownership of an account's email address.
//
// Only TokenHash is persisted. Token carries the raw secret from issuance to
// the notifier and is empty on anything read back from a store.
type VerificationToken struct {
	Token     string    `json:"-"`
	TokenHash string    `json:"-"`
	AccountID string    `json:"accountId"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	Consumed  bool      `json:"consumed"`
}

// Expired reports whether the token is past its expiry at now.
func (t *VerificationToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}
