package licensing

import (
	"fmt"
	"strings"

	"github.com/keyforge-panel/keyforge/internal/security"
)

// customKeyMinLen and customKeyMaxLen bound caller-supplied key strings.
const (
	customKeyMinLen = 5
	customKeyMaxLen = 10
)

// randomSuffixLen is the length of the random part of derived key strings.
const randomSuffixLen = 10

// DefaultMaxAttempts bounds the uniqueness retry loop for random keys.
const DefaultMaxAttempts = 10

// KeyGenerator produces candidate license key strings. The random source is
// injectable so tests can force collisions.
type KeyGenerator struct {
	MaxAttempts int                         // Retry budget for random candidates.
	randFn      func(n int) (string, error) // Random string source.
}

// NewKeyGenerator constructs a KeyGenerator with default policy.
func NewKeyGenerator() *KeyGenerator {
	return &KeyGenerator{
		MaxAttempts: DefaultMaxAttempts,
		randFn:      security.GenerateRandomString,
	}
}

// Candidate derives a candidate key string. A custom key is normalized to
// alphanumerics, length-checked, and uppercased; otherwise the candidate is
// the normalized username plus a random alphanumeric suffix.
func (g *KeyGenerator) Candidate(username, customKey string) (string, error) {
	if customKey != "" {
		normalized := stripNonAlphanumeric(customKey)
		if len(normalized) < customKeyMinLen || len(normalized) > customKeyMaxLen {
			return "", fmt.Errorf("%w: custom key must be %d-%d alphanumeric characters",
				ErrInvalidInput, customKeyMinLen, customKeyMaxLen)
		}
		return strings.ToUpper(normalized), nil
	}

	suffix, errRand := g.randFn(randomSuffixLen)
	if errRand != nil {
		return "", fmt.Errorf("licensing: generate key suffix: %w", errRand)
	}
	prefix := stripNonAlphanumeric(strings.ToLower(username))
	return prefix + "-" + suffix, nil
}

// stripNonAlphanumeric removes everything outside [A-Za-z0-9].
func stripNonAlphanumeric(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
