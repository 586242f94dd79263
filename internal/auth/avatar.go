package auth

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
)

// AvatarFingerprint derives the avatar key for an email address: the MD5 of
// the trimmed, lowercased address, as 32 lowercase hex characters. This is
// the Gravatar key format, so it must stay unsalted and stable across
// processes.
func AvatarFingerprint(email string) string {
	sum := md5.Sum([]byte(strings.ToLower(strings.TrimSpace(email))))
	return hex.EncodeToString(sum[:])
}
