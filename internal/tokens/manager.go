// Package tokens implements API token issuance, listing, revocation and the
// per-request validation that enforces expiry and daily quotas.
package tokens

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rsclarke/echohook/internal/kv"
	"github.com/rsclarke/echohook/internal/logging"
	"github.com/rsclarke/echohook/internal/models"
	"github.com/rsclarke/echohook/internal/store"
	"github.com/rsclarke/echohook/internal/token"
	"github.com/rsclarke/echohook/internal/validate"
)

const (
	DefaultQuota      = 1000
	DefaultExpiryDays = 365

	maxCASAttempts = 8
	dateLayout     = "2006-01-02"
	unknownName    = "Unknown Token"
)

// CreateInput describes a token to issue. ExpiresIn is a day count as
// received from the caller; empty means the token never expires.
type CreateInput struct {
	Name        string
	Description string
	ExpiresIn   string
	DailyQuota  *int
}

// Manager owns the token key space.
type Manager struct {
	kv           kv.Store
	logger       *zap.Logger
	defaultQuota int
	now          func() time.Time
	newID        func() string
	newSecret    func() (string, error)
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source used for expiry and quota windows.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithIDGenerator overrides how token ids are minted.
func WithIDGenerator(newID func() string) Option {
	return func(m *Manager) { m.newID = newID }
}

// WithSecretGenerator overrides how token secrets are minted.
func WithSecretGenerator(gen func() (string, error)) Option {
	return func(m *Manager) { m.newSecret = gen }
}

// NewManager returns a Manager over s. A non-positive defaultQuota falls back
// to DefaultQuota.
func NewManager(s kv.Store, logger *zap.Logger, defaultQuota int, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaultQuota <= 0 {
		defaultQuota = DefaultQuota
	}
	m := &Manager{
		kv:           s,
		logger:       logger,
		defaultQuota: defaultQuota,
		now:          time.Now,
		newID:        uuid.NewString,
		newSecret:    token.Generate,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create issues a new token. The record and its secret lookup are written in
// one batch, so a token is either fully usable or absent.
func (m *Manager) Create(ctx context.Context, in CreateInput) (*models.TokenCreation, error) {
	name := validate.Sanitize(in.Name)
	if in.Name != "" && !validate.TokenName(name) {
		return nil, ErrInvalidName
	}

	quota := m.defaultQuota
	if in.DailyQuota != nil {
		if *in.DailyQuota <= 0 {
			return nil, ErrInvalidQuota
		}
		quota = *in.DailyQuota
	}

	secret, err := m.newSecret()
	if err != nil {
		return nil, err
	}
	id := m.newID()
	now := m.now().UTC()

	if name == "" {
		name = "API Token " + id[:min(8, len(id))]
	}

	rec := models.APIToken{
		ID:             id,
		Token:          secret,
		Name:           name,
		Description:    validate.Sanitize(in.Description),
		CreatedAt:      now,
		ExpiresAt:      expiry(now, in.ExpiresIn),
		IsActive:       true,
		DailyQuota:     quota,
		UsageResetDate: now.Format(dateLayout),
	}
	raw, err := json.Marshal(&rec)
	if err != nil {
		return nil, store.Failure("encode", store.TokenKey(id), err)
	}

	err = m.kv.Apply(ctx,
		kv.Put(store.TokenKey(id), raw).IfAbsent(),
		kv.Put(store.TokenLookupKey(secret), []byte(id)).IfAbsent(),
	)
	if err != nil {
		return nil, store.Failure("create", store.TokenKey(id), err)
	}

	m.logger.Info("token created",
		logging.TokenID(id),
		zap.String("name", name),
		zap.Int("daily_quota", quota))

	return &models.TokenCreation{
		ID:          rec.ID,
		Token:       rec.Token,
		Name:        rec.Name,
		Description: rec.Description,
		CreatedAt:   rec.CreatedAt,
		ExpiresAt:   rec.ExpiresAt,
		IsActive:    rec.IsActive,
	}, nil
}

// expiry resolves a caller-supplied day count. Anything that is not a
// positive integer falls back to DefaultExpiryDays.
func expiry(now time.Time, expiresIn string) *time.Time {
	expiresIn = strings.TrimSpace(expiresIn)
	if expiresIn == "" {
		return nil
	}
	days, err := strconv.Atoi(expiresIn)
	if err != nil || days <= 0 {
		days = DefaultExpiryDays
	}
	at := now.AddDate(0, 0, days)
	return &at
}

// List returns every token, newest first, with secrets masked.
func (m *Manager) List(ctx context.Context) ([]models.TokenListing, error) {
	raw, err := m.kv.List(ctx, store.TokenPrefix)
	if err != nil {
		return nil, store.Failure("list", store.TokenPrefix, err)
	}

	recs := make([]models.APIToken, 0, len(raw))
	for key, v := range raw {
		var rec models.APIToken
		if err := json.Unmarshal(v, &rec); err != nil || rec.ID == "" {
			m.logger.Warn("skipping malformed token record", zap.String("key", key))
			continue
		}
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].CreatedAt.After(recs[j].CreatedAt)
		}
		return recs[i].ID < recs[j].ID
	})

	out := make([]models.TokenListing, len(recs))
	for i, rec := range recs {
		out[i] = models.TokenListing{
			ID:          rec.ID,
			Token:       token.Mask(rec.Token),
			Name:        rec.Name,
			Description: rec.Description,
			CreatedAt:   rec.CreatedAt,
			LastUsedAt:  rec.LastUsedAt,
			ExpiresAt:   rec.ExpiresAt,
			IsActive:    rec.IsActive,
		}
	}
	return out, nil
}

// Delete removes a token and its secret lookup. The lookup goes first in the
// batch and both are removed together.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrInvalidTokenID
	}

	var rec models.APIToken
	prev, err := m.getRecord(ctx, id, &rec)
	if errors.Is(err, kv.ErrNotFound) {
		return ErrTokenNotFound
	}
	if err != nil {
		return err
	}

	err = m.kv.Apply(ctx,
		kv.Delete(store.TokenLookupKey(rec.Token)),
		kv.Delete(store.TokenKey(id)).IfMatch(prev),
	)
	if errors.Is(err, kv.ErrConflict) {
		// Changed under us; a usage bump is harmless, so delete unconditionally.
		err = m.kv.Apply(ctx,
			kv.Delete(store.TokenLookupKey(rec.Token)),
			kv.Delete(store.TokenKey(id)),
		)
	}
	if err != nil {
		return store.Failure("delete", store.TokenKey(id), err)
	}

	m.logger.Info("token deleted", logging.TokenID(id))
	return nil
}

// Validate authenticates secret and consumes one unit of its daily quota.
// The usage increment is a compare-and-swap on the token record, so
// concurrent requests cannot overshoot the quota.
func (m *Manager) Validate(ctx context.Context, secret string) (*models.TokenIdentity, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrTokenRequired
	}

	idRaw, err := m.kv.Get(ctx, store.TokenLookupKey(secret))
	if errors.Is(err, kv.ErrNotFound) {
		m.logger.Warn("token lookup failed")
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, store.Failure("get", store.TokenLookupPrefix, err)
	}
	id := string(idRaw)

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		var rec models.APIToken
		prev, err := m.getRecord(ctx, id, &rec)
		if errors.Is(err, kv.ErrNotFound) {
			m.logger.Warn("token record missing", logging.TokenID(id))
			return nil, ErrTokenInactive
		}
		if err != nil {
			return nil, err
		}
		if !rec.IsActive {
			m.logger.Warn("token inactive", logging.TokenID(id))
			return nil, ErrTokenInactive
		}

		now := m.now().UTC()
		if rec.ExpiresAt != nil && rec.ExpiresAt.Before(now) {
			m.logger.Warn("token expired", logging.TokenID(id), zap.Time("expires_at", *rec.ExpiresAt))
			return nil, ErrTokenExpired
		}

		today := now.Format(dateLayout)
		used := rec.UsageCount
		if rec.UsageResetDate != today {
			used = 0
		}
		quota := rec.DailyQuota
		if quota <= 0 {
			quota = m.defaultQuota
		}
		if used >= quota {
			m.logger.Warn("token quota exceeded",
				logging.TokenID(id),
				zap.Int("usage_count", used),
				zap.Int("daily_quota", quota))
			return nil, ErrQuotaExceeded
		}

		rec.UsageCount = used + 1
		rec.UsageResetDate = today
		rec.TotalRequests++
		rec.LastUsedAt = &now

		next, err := json.Marshal(&rec)
		if err != nil {
			return nil, store.Failure("encode", store.TokenKey(id), err)
		}
		err = m.kv.Apply(ctx, kv.Put(store.TokenKey(id), next).IfMatch(prev))
		if errors.Is(err, kv.ErrConflict) {
			m.logger.Debug("token usage conflict, retrying", logging.TokenID(id), zap.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return nil, store.Failure("update", store.TokenKey(id), err)
		}

		m.logger.Debug("token validated",
			logging.TokenID(id),
			zap.Int("usage_count", rec.UsageCount),
			zap.Int("daily_quota", quota))

		name := rec.Name
		if name == "" {
			name = unknownName
		}
		return &models.TokenIdentity{TokenID: id, Name: name}, nil
	}
	return nil, store.Failure("update", store.TokenKey(id), kv.ErrConflict)
}

func (m *Manager) getRecord(ctx context.Context, id string, rec *models.APIToken) ([]byte, error) {
	key := store.TokenKey(id)
	raw, err := m.kv.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, store.Failure("get", key, err)
	}
	if err := json.Unmarshal(raw, rec); err != nil {
		return nil, store.Failure("decode", key, err)
	}
	return raw, nil
}
