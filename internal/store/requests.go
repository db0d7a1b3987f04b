package store

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/rsclarke/echohook/internal/kv"
	"github.com/rsclarke/echohook/internal/logging"
	"github.com/rsclarke/echohook/internal/models"
)

// ListRequests returns the requests captured into a bin, newest first.
func (r *Repository) ListRequests(ctx context.Context, binID string) ([]models.CapturedRequest, error) {
	if blank(binID) {
		return nil, ErrInvalidID
	}
	if _, err := r.kv.Get(ctx, BinKey(binID)); err != nil {
		return nil, r.binErr("get", binID, err)
	}

	reqs, err := listJSON[models.CapturedRequest](ctx, r, RequestsPrefix(binID))
	if err != nil {
		return nil, err
	}
	sort.Slice(reqs, func(i, j int) bool {
		if !reqs[i].ReceivedAt.Equal(reqs[j].ReceivedAt) {
			return reqs[i].ReceivedAt.After(reqs[j].ReceivedAt)
		}
		return reqs[i].ID < reqs[j].ID
	})
	return reqs, nil
}

// RecordCapture stores req and advances its bin's counters in one atomic
// batch. The batch is guarded on the bin record, so a concurrent capture or
// update forces a re-read instead of losing an increment, and a concurrent
// delete surfaces as ErrBinNotFound rather than leaving an orphan.
func (r *Repository) RecordCapture(ctx context.Context, req *models.CapturedRequest) (*models.Bin, error) {
	if blank(req.BinID) {
		return nil, ErrInvalidID
	}
	key := RequestKey(req.BinID, req.ID)
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, Failure("encode", key, err)
	}

	at := req.ReceivedAt
	bin, err := r.mutateBin(ctx, req.BinID, []kv.Op{kv.Put(key, raw).IfAbsent()}, func(bin *models.Bin) {
		bin.RequestCount++
		bin.LastRequestAt = &at
		bin.UpdatedAt = at
	})
	if err != nil {
		return nil, err
	}

	r.logger.Debug("request recorded",
		logging.BinID(req.BinID),
		logging.RequestID(req.ID),
		logging.Method(req.Method))
	return bin, nil
}
