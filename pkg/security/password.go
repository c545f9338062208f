package security

import (
	"github.com/ampguard/telemetry-core/pkg/apperr"
	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength is the minimum length enforced on password changes.
const MinPasswordLength = 8

// HashPassword hashes a plaintext password at the given bcrypt cost.
func HashPassword(password string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", apperr.Wrap(apperr.Fatal, "hash password", err)
	}
	return string(hash), nil
}

// CheckPassword compares a plaintext password against a bcrypt hash in
// constant time. It never distinguishes "wrong password" from "malformed
// hash" to the caller.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
