// Package kv defines the flat key-value store that echohook persists into,
// along with its backends.
package kv

import (
	"bytes"
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Get when the key does not exist.
	ErrNotFound = errors.New("kv: key not found")
	// ErrConflict is returned by Apply when a guarded op's precondition fails.
	ErrConflict = errors.New("kv: precondition failed")
)

// Store is a point-lookup and prefix-scan key-value store.
//
// List makes no ordering guarantee. Apply writes every op or none of them.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) (map[string][]byte, error)
	Apply(ctx context.Context, ops ...Op) error
	Close() error
}

type guardKind int

const (
	guardNone guardKind = iota
	guardAbsent
	guardMatch
)

// Op is one write within an Apply batch.
type Op struct {
	Key    string
	Value  []byte
	Delete bool

	guard guardKind
	match []byte
}

// Put returns an op that stores value under key.
func Put(key string, value []byte) Op {
	return Op{Key: key, Value: value}
}

// Delete returns an op that removes key.
func Delete(key string) Op {
	return Op{Key: key, Delete: true}
}

// IfAbsent makes the op conditional on key not existing.
func (o Op) IfAbsent() Op {
	o.guard = guardAbsent
	o.match = nil
	return o
}

// IfMatch makes the op conditional on key currently holding prev.
func (o Op) IfMatch(prev []byte) Op {
	o.guard = guardMatch
	o.match = prev
	return o
}

// Guarded reports whether the op carries a precondition.
func (o Op) Guarded() bool { return o.guard != guardNone }

func (o Op) requiresAbsent() bool { return o.guard == guardAbsent }

// Check evaluates the op's precondition against the current value of its key.
// exists is false when the key is absent.
func (o Op) Check(current []byte, exists bool) bool {
	switch o.guard {
	case guardAbsent:
		return !exists
	case guardMatch:
		return exists && bytes.Equal(current, o.match)
	default:
		return true
	}
}

// PrefixEnd returns the smallest key greater than every key with the given
// prefix, or "" when no such bound exists.
func PrefixEnd(prefix string) string {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return string(b[:i+1])
		}
	}
	return ""
}
