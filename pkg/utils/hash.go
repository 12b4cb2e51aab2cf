package utils

import (
	"golang.org/x/crypto/bcrypt"
)

// HashPassword hashes an account password with bcrypt at the default cost.
// The hash is what gets stored in the users table.
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

// CheckPassword reports whether plain matches the stored bcrypt hash.
// Login and register both route through this instead of comparing directly.
func CheckPassword(plain, hashed string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plain))
	return err == nil
}
