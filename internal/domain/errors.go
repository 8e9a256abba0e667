package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrSeatUnavailable  = errors.New("seat unavailable")
	ErrHoldExpired      = errors.New("hold expired")
	ErrHolderMismatch   = errors.New("holder mismatch")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrInvalidInput     = errors.New("invalid input")
)
