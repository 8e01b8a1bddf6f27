package domain

import "errors"

var (
	// ErrUniverseFetch fails a cycle before anything is written.
	ErrUniverseFetch = errors.New("asset universe fetch failed")
	// ErrPersistence fails a cycle; the transaction has been rolled back.
	ErrPersistence = errors.New("persistence failed")
	ErrNotFound    = errors.New("not found")
)
