package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// passwordCost is bcrypt's work factor for new hashes. Stored hashes embed
// their own cost, so raising this later only affects new registrations.
const passwordCost = bcrypt.DefaultCost

// HashPassword derives the bcrypt hash stored in place of a user's password.
func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), passwordCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashed), nil
}

// CheckPasswordHash reports whether the plaintext password matches the stored
// hash. Any bcrypt error (including a malformed hash) counts as a mismatch.
func CheckPasswordHash(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
