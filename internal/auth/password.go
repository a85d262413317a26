package auth

import (
	"golang.org/x/crypto/bcrypt"

	"github.com/versatiles/printops/internal/fault"
)

const (
	bcryptCost = 12
	// bcrypt ignores everything past 72 bytes.
	maxPasswordBytes = 72
)

// HashPassword is the users.PasswordHasher used in production.
func HashPassword(password string) (string, error) {
	if len(password) > maxPasswordBytes {
		return "", fault.Validation("password must be at most %d bytes", maxPasswordBytes)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func ComparePassword(hash, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}
