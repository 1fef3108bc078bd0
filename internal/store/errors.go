package store

import "errors"

var (
	ErrNotFound     = errors.New("sale not found")
	ErrInvalidState = errors.New("invalid sale state")
	// ErrAlreadySynced guards the outbox invariant: a SYNCED sale must never
	// transition back to a pushable state.
	ErrAlreadySynced = errors.New("sale already synced")
)
