package auth

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are embedded in every session token, so authorization checks never
// need a user lookup.
type Claims struct {
	UserID     string `json:"userId"`
	Username   string `json:"username"`
	IsAdmin    bool   `json:"isAdmin"`
	IsApproved bool   `json:"isApproved"`
	jwt.RegisteredClaims
}

var (
	ErrInvalidToken   = errors.New("invalid token")
	ErrExpiredToken   = errors.New("expired token")
	ErrMalformedToken = errors.New("malformed token")
)

var validMethods = []string{jwt.SigningMethodHS256.Alg()}

func IssueToken(secret []byte, claims Claims) (string, error) {
	if claims.ExpiresAt == nil {
		return "", errors.New("issue token: expiry is required")
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func ParseToken(secret []byte, raw string) (Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(strings.TrimSpace(raw), &claims, keyFunc(secret),
		jwt.WithValidMethods(validMethods),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return Claims{}, classify(err)
	}
	if claims.UserID == "" || claims.Username == "" {
		return Claims{}, ErrMalformedToken
	}
	return claims, nil
}

// ExpiryOf returns the expiry claim of a correctly signed token without
// enforcing it, which is what revocation needs.
func ExpiryOf(secret []byte, raw string) (time.Time, error) {
	var claims Claims
	parser := jwt.NewParser(jwt.WithValidMethods(validMethods), jwt.WithoutClaimsValidation())
	if _, err := parser.ParseWithClaims(strings.TrimSpace(raw), &claims, keyFunc(secret)); err != nil {
		return time.Time{}, classify(err)
	}
	if claims.ExpiresAt == nil || claims.ExpiresAt.IsZero() {
		return time.Time{}, ErrMalformedToken
	}
	return claims.ExpiresAt.Time, nil
}

func keyFunc(secret []byte) jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return secret, nil
	}
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpiredToken
	case errors.Is(err, jwt.ErrTokenMalformed), errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return ErrMalformedToken
	default:
		return ErrInvalidToken
	}
}

func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return fmt.Sprintf("%x", sum)
}
