package security

import (
	"crypto/rand"
	"fmt"
	"strings"
)

// alphanumeric is the alphabet used for generated identifiers.
const alphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// GenerateRandomString returns a random alphanumeric string of length n.
func GenerateRandomString(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("security: invalid length: %d", n)
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("security: read random: %w", err)
	}
	for i, b := range buf {
		buf[i] = alphanumeric[int(b)%len(alphanumeric)]
	}
	return string(buf), nil
}

// GenerateUID returns a new public user identifier.
func GenerateUID() (string, error) {
	suffix, err := GenerateRandomString(12)
	if err != nil {
		return "", err
	}
	return "UID-" + strings.ToUpper(suffix), nil
}

// GenerateReferralCode returns a new uppercase referral code.
func GenerateReferralCode() (string, error) {
	code, err := GenerateRandomString(8)
	if err != nil {
		return "", err
	}
	return strings.ToUpper(code), nil
}
