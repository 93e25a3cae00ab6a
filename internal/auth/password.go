package auth

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

const (
	bcryptCost = 10

	minPasswordLen = 6
	// bcrypt only looks at the first 72 bytes.
	maxPasswordLen = 72
)

// ValidatePassword enforces the length policy for new passwords.
func ValidatePassword(password string) error {
	if len(password) < minPasswordLen || len(password) > maxPasswordLen {
		return ErrInvalidPassword
	}
	return nil
}

// HashPassword validates password and returns its bcrypt hash.
func HashPassword(password string) (string, error) {
	if err := ValidatePassword(password); err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// ComparePassword checks password against a stored hash. A mismatch is
// reported as ErrInvalidCredentials; anything else means the hash is unusable.
func ComparePassword(hashedPassword, password string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return ErrInvalidCredentials
	default:
		return fmt.Errorf("compare password: %w", err)
	}
}

var (
	decoyOnce sync.Once
	decoyHash []byte
)

// spendCompare burns one bcrypt comparison so a login for an unknown user
// takes as long as one with a wrong password.
func spendCompare(password string) {
	decoyOnce.Do(func() {
		decoyHash, _ = bcrypt.GenerateFromPassword([]byte("decoy-password"), bcryptCost) //nolint:errcheck // fixed input
	})
	_ = bcrypt.CompareHashAndPassword(decoyHash, []byte(password)) //nolint:errcheck // result is irrelevant
}
