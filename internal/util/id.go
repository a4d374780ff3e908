package util

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

var ErrMalformedID = errors.New("malformed id")

func NewID() string {
	return uuid.NewString()
}

// ParseID normalizes an id received from a client. Anything that is not a
// canonical UUID is rejected so it never reaches a uuid-typed query.
func ParseID(raw string) (string, error) {
	parsed, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", ErrMalformedID
	}
	return parsed.String(), nil
}
