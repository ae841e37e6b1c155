// Package ratelimit throttles the public license verification endpoint.
// Limits are fixed one-second windows counted per license key, backed by
// Redis when configured and by process memory otherwise.
package ratelimit

import (
	"context"
	"time"
)

// Result describes the outcome of a rate limit check.
type Result struct {
	Allowed   bool
	Remaining int
	Reset     time.Time
}

// Limiter provides rate limit checks.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, now time.Time) (Result, error)
}

// KeyForLicense builds a limiter key for a license key string.
func KeyForLicense(licenseKey string) string {
	if licenseKey == "" {
		return ""
	}
	return "k:" + licenseKey
}
