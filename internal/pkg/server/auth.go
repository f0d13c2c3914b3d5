package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/anicoll/scalemodel-panel/pkg/hasher"
)

const (
	tokenIssuer  = "scalemodel-panel"
	tokenSubject = "operator"
)

var (
	errBadPassword = errors.New("wrong password")
	errNoToken     = errors.New("missing bearer token")
	errAuthOff     = errors.New("login disabled")
)

type authenticator struct {
	hash   string
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func (a *authenticator) enabled() bool {
	return a != nil && a.hash != ""
}

func (a *authenticator) issue(password string) (string, time.Time, error) {
	if !a.enabled() {
		return "", time.Time{}, errAuthOff
	}
	if !hasher.PasswordCorrect(password, a.hash) {
		return "", time.Time{}, errBadPassword
	}
	now := a.now()
	expires := now.Add(a.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   tokenSubject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	})
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expires, nil
}

func (a *authenticator) verify(raw string) error {
	_, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(*jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithSubject(tokenSubject),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	return err
}

// middleware lets requests through untouched when no password is configured.
func (a *authenticator) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.enabled() {
			next.ServeHTTP(w, r)
			return
		}
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			http.Error(w, errNoToken.Error(), http.StatusUnauthorized)
			return
		}
		if err := a.verify(raw); err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
