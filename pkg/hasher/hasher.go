package hasher

import (
	"crypto/rand"
	"encoding/base64"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

const cost = 10

var ErrEmptyPassword = errors.New("empty password")

func HashPassword(pw []byte) (string, error) {
	if len(pw) == 0 {
		return "", ErrEmptyPassword
	}
	bytes, err := bcrypt.GenerateFromPassword(pw, cost)
	return string(bytes), err
}

func PasswordCorrect(password, hash string) bool {
	if password == "" || hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// GenerateToken returns length random bytes, URL-safe base64 encoded.
func GenerateToken(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(bytes), nil
}
