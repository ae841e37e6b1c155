package licensing

import (
	"errors"
	"fmt"

	"github.com/keyforge-panel/keyforge/internal/models"
)

// Sentinel errors returned by the licensing service.
var (
	// ErrInvalidInput marks malformed days, device counts, or custom keys.
	ErrInvalidInput = errors.New("licensing: invalid input")
	// ErrKeyNotFound indicates the key id does not exist.
	ErrKeyNotFound = errors.New("licensing: key not found")
	// ErrForbidden indicates the requester does not own the key.
	ErrForbidden = errors.New("licensing: forbidden")
	// ErrDuplicateKey indicates a caller-supplied key string already exists.
	ErrDuplicateKey = errors.New("licensing: license key already exists")
	// ErrGenerationExhausted indicates the random retry budget ran out.
	ErrGenerationExhausted = errors.New("licensing: failed to generate unique key")
	// ErrInvalidKey indicates the key string is unknown.
	ErrInvalidKey = errors.New("licensing: invalid license key")
	// ErrKeyExpired indicates the key is past its expiry date.
	ErrKeyExpired = errors.New("licensing: license key has expired")
)

// NotActiveError reports a key whose status blocks validation.
type NotActiveError struct {
	Status models.KeyStatus // Current key status.
}

// Error implements the error interface.
func (e *NotActiveError) Error() string {
	return fmt.Sprintf("licensing: license key is not active: %s", e.Status)
}

// SeatLimitError reports a key whose device seats are all consumed.
type SeatLimitError struct {
	MaxDevices int // Seat cap on the key.
}

// Error implements the error interface.
func (e *SeatLimitError) Error() string {
	return fmt.Sprintf("licensing: maximum devices (%d) reached", e.MaxDevices)
}
