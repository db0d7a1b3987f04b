package store

import (
	"errors"
	"fmt"
)

// Error messages are part of the API: callers and clients match on them.
var (
	ErrInvalidID   = errors.New("Invalid bin ID")
	ErrBinNotFound = errors.New("Bin not found")

	// ErrStoreFailure matches any error wrapped by Failure.
	ErrStoreFailure = errors.New("storage failure")
)

// StoreError is an opaque failure from the underlying key-value store.
type StoreError struct {
	Op  string
	Key string
	Err error
}

// Failure wraps err as a StoreError for the given operation and key.
func Failure(op, key string, err error) error {
	return &StoreError{Op: op, Key: key, Err: err}
}

func (e *StoreError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool { return target == ErrStoreFailure }
