package model

import (
	"fmt"
	"net/mail"
	"strings"
	"time"
)

type User struct {
	ID        string    `json:"uid"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NormalizeEmail accepts a bare RFC 5322 address and returns it trimmed
// and lowercased. Display-name forms like "Bob <bob@x>" are rejected.
func NormalizeEmail(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s || addr.Name != "" {
		return "", fmt.Errorf("%w: invalid email %q", ErrInvalidInput, s)
	}
	return strings.ToLower(addr.Address), nil
}
