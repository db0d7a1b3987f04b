// Package store implements the bin and captured-request repository on top of
// a flat key-value store. Collections are emulated with key prefixes; see
// keys.go for the layout.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rsclarke/echohook/internal/kv"
)

const (
	// maxCASAttempts bounds optimistic retries when a guarded write loses a race.
	maxCASAttempts = 8

	deleteConcurrency = 16
)

// Repository provides CRUD and listing for bins and their captured requests.
type Repository struct {
	kv     kv.Store
	logger *zap.Logger
	now    func() time.Time
	newID  func() string
}

// Option configures a Repository.
type Option func(*Repository)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) { r.now = now }
}

// WithIDGenerator overrides how record ids are minted.
func WithIDGenerator(newID func() string) Option {
	return func(r *Repository) { r.newID = newID }
}

// New returns a Repository over s.
func New(s kv.Store, logger *zap.Logger, opts ...Option) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Repository{
		kv:     s,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Now returns the repository's current time in UTC.
func (r *Repository) Now() time.Time { return r.now().UTC() }

// NewID mints a fresh record id.
func (r *Repository) NewID() string { return r.newID() }

// Ping checks that the store answers a point lookup.
func (r *Repository) Ping(ctx context.Context) error {
	_, err := r.kv.Get(ctx, BinKey("healthcheck"))
	if err != nil && !errors.Is(err, kv.ErrNotFound) {
		return Failure("ping", "", err)
	}
	return nil
}

func blank(s string) bool { return strings.TrimSpace(s) == "" }

// getJSON loads key into out and returns the raw bytes for use as a CAS guard.
func (r *Repository) getJSON(ctx context.Context, key string, out any) ([]byte, error) {
	raw, err := r.kv.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, Failure("decode", key, err)
	}
	return raw, nil
}

// listJSON decodes every JSON value under prefix, skipping entries
// that fail to decode.
func listJSON[T any](ctx context.Context, r *Repository, prefix string) ([]T, error) {
	raw, err := r.kv.List(ctx, prefix)
	if err != nil {
		return nil, Failure("list", prefix, err)
	}
	out := make([]T, 0, len(raw))
	for key, v := range raw {
		var item T
		if err := json.Unmarshal(v, &item); err != nil {
			r.logger.Warn("skipping malformed record", zap.String("key", key), zap.Error(err))
			continue
		}
		out = append(out, item)
	}
	return out, nil
}
