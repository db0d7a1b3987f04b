package tokens

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/rsclarke/echohook/internal/kv"
	"github.com/rsclarke/echohook/internal/logging"
	"github.com/rsclarke/echohook/internal/models"
	"github.com/rsclarke/echohook/internal/store"
)

// RepairReport summarises a Repair pass.
type RepairReport struct {
	TokensChecked   int `json:"tokens_checked"`
	LookupsRestored int `json:"lookups_restored"`
	LookupsRemoved  int `json:"lookups_removed"`
}

// Repair makes the lookup index agree with the token records: every record
// gets a lookup entry pointing at it, and lookup entries that resolve to no
// record, or to a record holding a different secret, are removed. It is
// idempotent.
func (m *Manager) Repair(ctx context.Context) (RepairReport, error) {
	var report RepairReport

	// Lookups are read before records: a token created in between then looks
	// like a missing lookup, never like a dangling one.
	rawLookups, err := m.kv.List(ctx, store.TokenLookupPrefix)
	if err != nil {
		return report, store.Failure("list", store.TokenLookupPrefix, err)
	}
	rawTokens, err := m.kv.List(ctx, store.TokenPrefix)
	if err != nil {
		return report, store.Failure("list", store.TokenPrefix, err)
	}

	secrets := make(map[string]string, len(rawTokens))
	for key, v := range rawTokens {
		var rec models.APIToken
		if err := json.Unmarshal(v, &rec); err != nil || rec.ID == "" || rec.Token == "" {
			m.logger.Warn("skipping malformed token record", zap.String("key", key))
			continue
		}
		report.TokensChecked++
		secrets[rec.Token] = rec.ID

		lookupKey := store.TokenLookupKey(rec.Token)
		if string(rawLookups[lookupKey]) == rec.ID {
			continue
		}
		if err := m.kv.Put(ctx, lookupKey, []byte(rec.ID)); err != nil {
			return report, store.Failure("put", lookupKey, err)
		}
		rawLookups[lookupKey] = []byte(rec.ID)
		report.LookupsRestored++
		m.logger.Info("restored token lookup", logging.TokenID(rec.ID))
	}

	for key, v := range rawLookups {
		secret := strings.TrimPrefix(key, store.TokenLookupPrefix)
		if id, ok := secrets[secret]; ok && id == string(v) {
			continue
		}
		err := m.kv.Apply(ctx, kv.Delete(key).IfMatch(v))
		if errors.Is(err, kv.ErrConflict) {
			continue
		}
		if err != nil {
			return report, store.Failure("delete", store.TokenLookupPrefix, err)
		}
		report.LookupsRemoved++
		m.logger.Info("removed dangling token lookup", logging.TokenID(string(v)))
	}

	return report, nil
}
