package store

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rsclarke/echohook/internal/kv"
	"github.com/rsclarke/echohook/internal/logging"
	"github.com/rsclarke/echohook/internal/models"
)

// BinInput holds the caller-supplied fields of a new bin.
type BinInput struct {
	Name        string
	Description *string
}

// BinPatch holds an update. A nil field is left untouched; a non-nil
// Description replaces the current one even when empty.
type BinPatch struct {
	Name        *string
	Description *string
}

// ListBins returns every bin, newest first.
func (r *Repository) ListBins(ctx context.Context) ([]models.Bin, error) {
	bins, err := listJSON[models.Bin](ctx, r, BinPrefix)
	if err != nil {
		return nil, err
	}
	sort.Slice(bins, func(i, j int) bool {
		if !bins[i].CreatedAt.Equal(bins[j].CreatedAt) {
			return bins[i].CreatedAt.After(bins[j].CreatedAt)
		}
		return bins[i].ID < bins[j].ID
	})
	return bins, nil
}

// GetBin returns the bin with the given id.
func (r *Repository) GetBin(ctx context.Context, id string) (*models.Bin, error) {
	if blank(id) {
		return nil, ErrInvalidID
	}
	var bin models.Bin
	if _, err := r.getJSON(ctx, BinKey(id), &bin); err != nil {
		return nil, r.binErr("get", id, err)
	}
	return &bin, nil
}

// CreateBin persists a new bin. A blank name is replaced with a generated one.
func (r *Repository) CreateBin(ctx context.Context, in BinInput) (*models.Bin, error) {
	id := r.newID()
	now := r.Now()

	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = "Webhook Bin " + id[:min(8, len(id))]
	}

	bin := &models.Bin{
		ID:          id,
		Name:        name,
		Description: in.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	raw, err := json.Marshal(bin)
	if err != nil {
		return nil, Failure("encode", BinKey(id), err)
	}
	if err := r.kv.Apply(ctx, kv.Put(BinKey(id), raw).IfAbsent()); err != nil {
		return nil, Failure("create", BinKey(id), err)
	}

	r.logger.Info("bin created", logging.BinID(id))
	return bin, nil
}

// UpdateBin merges patch into the bin and bumps updated_at.
func (r *Repository) UpdateBin(ctx context.Context, id string, patch BinPatch) (*models.Bin, error) {
	if blank(id) {
		return nil, ErrInvalidID
	}
	return r.mutateBin(ctx, id, nil, func(bin *models.Bin) {
		if patch.Name != nil {
			if name := strings.TrimSpace(*patch.Name); name != "" {
				bin.Name = name
			}
		}
		if patch.Description != nil {
			desc := *patch.Description
			bin.Description = &desc
		}
		bin.UpdatedAt = r.Now()
	})
}

// DeleteBin removes the bin and every request captured into it. Requests are
// deleted concurrently; the call only succeeds once all of them are gone.
func (r *Repository) DeleteBin(ctx context.Context, id string) error {
	if blank(id) {
		return ErrInvalidID
	}
	if _, err := r.kv.Get(ctx, BinKey(id)); err != nil {
		return r.binErr("get", id, err)
	}
	if err := r.kv.Delete(ctx, BinKey(id)); err != nil {
		return Failure("delete", BinKey(id), err)
	}

	n, err := r.purgeRequests(ctx, id)
	if err != nil {
		return err
	}

	r.logger.Info("bin deleted", logging.BinID(id), zap.Int("requests_deleted", n))
	return nil
}

func (r *Repository) purgeRequests(ctx context.Context, binID string) (int, error) {
	prefix := RequestsPrefix(binID)
	keys, err := r.kv.List(ctx, prefix)
	if err != nil {
		return 0, Failure("list", prefix, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(deleteConcurrency)
	for key := range keys {
		g.Go(func() error {
			if err := r.kv.Delete(gctx, key); err != nil {
				return Failure("delete", key, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return len(keys), nil
}

// mutateBin applies fn to the current bin and writes it back, together with
// extra, guarded on the bin not having changed since it was read. Lost races
// are retried.
func (r *Repository) mutateBin(ctx context.Context, id string, extra []kv.Op, fn func(*models.Bin)) (*models.Bin, error) {
	key := BinKey(id)
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		var bin models.Bin
		prev, err := r.getJSON(ctx, key, &bin)
		if err != nil {
			return nil, r.binErr("get", id, err)
		}

		fn(&bin)

		next, err := json.Marshal(&bin)
		if err != nil {
			return nil, Failure("encode", key, err)
		}
		ops := append([]kv.Op{kv.Put(key, next).IfMatch(prev)}, extra...)
		err = r.kv.Apply(ctx, ops...)
		if err == nil {
			return &bin, nil
		}
		if !errors.Is(err, kv.ErrConflict) {
			return nil, Failure("update", key, err)
		}
		r.logger.Debug("bin write conflict, retrying", logging.BinID(id), zap.Int("attempt", attempt+1))
	}
	return nil, Failure("update", key, kv.ErrConflict)
}

func (r *Repository) binErr(op, id string, err error) error {
	if errors.Is(err, kv.ErrNotFound) {
		return ErrBinNotFound
	}
	if errors.Is(err, ErrStoreFailure) {
		return err
	}
	return Failure(op, BinKey(id), err)
}
