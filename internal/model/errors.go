package model

import "errors"

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
	// ErrConflict means a write lost an optimistic-concurrency race.
	ErrConflict  = errors.New("version conflict")
	ErrLastAdmin = errors.New("calendar must keep at least one admin")
)
