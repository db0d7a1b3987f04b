package store

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/rsclarke/echohook/internal/logging"
	"github.com/rsclarke/echohook/internal/models"
)

// ReconcileReport summarises a Reconcile pass.
type ReconcileReport struct {
	BinsChecked    int `json:"bins_checked"`
	CountersFixed  int `json:"counters_fixed"`
	OrphansRemoved int `json:"orphans_removed"`
}

// Reconcile brings request_count back in line with the stored requests of
// each bin and removes requests whose bin no longer exists. It is meant for
// maintenance windows; captures racing with it may need a second pass.
func (r *Repository) Reconcile(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport

	raw, err := r.kv.List(ctx, RequestPrefix)
	if err != nil {
		return report, Failure("list", RequestPrefix, err)
	}
	byBin := make(map[string][]string)
	for key := range raw {
		binID, ok := requestBinID(key)
		if !ok {
			continue
		}
		byBin[binID] = append(byBin[binID], key)
	}

	bins, err := r.ListBins(ctx)
	if err != nil {
		return report, err
	}
	live := make(map[string]bool, len(bins))
	for _, bin := range bins {
		live[bin.ID] = true
		report.BinsChecked++

		count := len(byBin[bin.ID])
		if bin.RequestCount == count {
			continue
		}
		r.logger.Warn("request counter drift",
			logging.BinID(bin.ID),
			zap.Int("stored", bin.RequestCount),
			zap.Int("actual", count))
		if _, err := r.mutateBin(ctx, bin.ID, nil, func(b *models.Bin) {
			b.RequestCount = count
			b.UpdatedAt = r.Now()
		}); err != nil {
			return report, err
		}
		report.CountersFixed++
	}

	for binID, keys := range byBin {
		if live[binID] {
			continue
		}
		for _, key := range keys {
			if err := r.kv.Delete(ctx, key); err != nil {
				return report, Failure("delete", key, err)
			}
			report.OrphansRemoved++
		}
	}

	return report, nil
}

// requestBinID extracts the bin id from request:<binId>:<requestId>.
func requestBinID(key string) (string, bool) {
	rest, ok := strings.CutPrefix(key, RequestPrefix)
	if !ok {
		return "", false
	}
	i := strings.LastIndex(rest, ":")
	if i <= 0 {
		return "", false
	}
	return rest[:i], true
}
