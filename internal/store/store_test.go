package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rsclarke/echohook/internal/kv"
	"github.com/rsclarke/echohook/internal/models"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

// Now returns the current time and advances the clock by one second.
func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(time.Second)
	return t
}

func newTestRepo(t *testing.T) (*Repository, kv.Store) {
	t.Helper()
	mem := kv.NewMemory()
	clock := &stepClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	return New(mem, zap.NewNop(), WithClock(clock.Now)), mem
}

func strPtr(s string) *string { return &s }

func capture(t *testing.T, r *Repository, binID string) *models.CapturedRequest {
	t.Helper()
	req := &models.CapturedRequest{
		ID:         r.NewID(),
		BinID:      binID,
		Method:     "POST",
		Body:       "{}",
		ReceivedAt: r.Now(),
	}
	_, err := r.RecordCapture(context.Background(), req)
	require.NoError(t, err)
	return req
}

func TestCreateGetBin(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRepo(t)

	bin, err := r.CreateBin(ctx, BinInput{Name: "X"})
	require.NoError(t, err)

	got, err := r.GetBin(ctx, bin.ID)
	require.NoError(t, err)
	assert.Equal(t, "X", got.Name)
	assert.Equal(t, 0, got.RequestCount)
	assert.Nil(t, got.LastRequestAt)
	assert.Nil(t, got.Description)
	assert.Equal(t, got.CreatedAt, got.UpdatedAt)
}

func TestCreateBinDefaultName(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRepo(t)

	for _, name := range []string{"", "   "} {
		bin, err := r.CreateBin(ctx, BinInput{Name: name})
		require.NoError(t, err)
		assert.Equal(t, "Webhook Bin "+bin.ID[:8], bin.Name)
	}
}

func TestGetBinErrors(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRepo(t)

	_, err := r.GetBin(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidID)

	_, err = r.GetBin(ctx, "missing")
	assert.ErrorIs(t, err, ErrBinNotFound)
}

func TestListBinsOrder(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRepo(t)

	var ids []string
	for i := 0; i < 4; i++ {
		bin, err := r.CreateBin(ctx, BinInput{Name: fmt.Sprintf("bin %d", i)})
		require.NoError(t, err)
		ids = append(ids, bin.ID)
	}

	first, err := r.ListBins(ctx)
	require.NoError(t, err)
	require.Len(t, first, 4)
	for i, bin := range first {
		assert.Equal(t, ids[len(ids)-1-i], bin.ID)
	}

	second, err := r.ListBins(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestListBinsTieBreak(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ids := []string{"c", "a", "b"}
	next := 0
	r := New(kv.NewMemory(), zap.NewNop(),
		WithClock(func() time.Time { return at }),
		WithIDGenerator(func() string { id := ids[next]; next++; return id }))

	for range ids {
		_, err := r.CreateBin(ctx, BinInput{Name: "same"})
		require.NoError(t, err)
	}

	bins, err := r.ListBins(ctx)
	require.NoError(t, err)
	require.Len(t, bins, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{bins[0].ID, bins[1].ID, bins[2].ID})
}

func TestListBinsSkipsMalformed(t *testing.T) {
	ctx := context.Background()
	r, mem := newTestRepo(t)

	_, err := r.CreateBin(ctx, BinInput{Name: "ok"})
	require.NoError(t, err)
	require.NoError(t, mem.Put(ctx, BinKey("broken"), []byte("{")))

	bins, err := r.ListBins(ctx)
	require.NoError(t, err)
	assert.Len(t, bins, 1)
}

func TestUpdateBin(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRepo(t)

	bin, err := r.CreateBin(ctx, BinInput{Name: "orig", Description: strPtr("first")})
	require.NoError(t, err)

	// Absent fields leave the record untouched apart from updated_at.
	got, err := r.UpdateBin(ctx, bin.ID, BinPatch{})
	require.NoError(t, err)
	assert.Equal(t, "orig", got.Name)
	require.NotNil(t, got.Description)
	assert.Equal(t, "first", *got.Description)
	assert.True(t, got.UpdatedAt.After(bin.UpdatedAt))

	// A blank name is ignored.
	got, err = r.UpdateBin(ctx, bin.ID, BinPatch{Name: strPtr("  ")})
	require.NoError(t, err)
	assert.Equal(t, "orig", got.Name)

	// An explicit empty description clears it.
	got, err = r.UpdateBin(ctx, bin.ID, BinPatch{Name: strPtr(" renamed "), Description: strPtr("")})
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	require.NotNil(t, got.Description)
	assert.Equal(t, "", *got.Description)

	stored, err := r.GetBin(ctx, bin.ID)
	require.NoError(t, err)
	assert.Equal(t, got, stored)

	_, err = r.UpdateBin(ctx, "missing", BinPatch{})
	assert.ErrorIs(t, err, ErrBinNotFound)
	_, err = r.UpdateBin(ctx, "", BinPatch{})
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestRecordCapture(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRepo(t)

	bin, err := r.CreateBin(ctx, BinInput{Name: "caps"})
	require.NoError(t, err)

	const n = 5
	var last *models.CapturedRequest
	for i := 0; i < n; i++ {
		last = capture(t, r, bin.ID)
	}

	got, err := r.GetBin(ctx, bin.ID)
	require.NoError(t, err)
	assert.Equal(t, n, got.RequestCount)
	require.NotNil(t, got.LastRequestAt)
	assert.Equal(t, last.ReceivedAt, *got.LastRequestAt)
	assert.Equal(t, last.ReceivedAt, got.UpdatedAt)

	reqs, err := r.ListRequests(ctx, bin.ID)
	require.NoError(t, err)
	require.Len(t, reqs, n)
	assert.Equal(t, last.ID, reqs[0].ID, "newest first")
	for i := 1; i < len(reqs); i++ {
		assert.False(t, reqs[i].ReceivedAt.After(reqs[i-1].ReceivedAt))
	}
}

func TestRecordCaptureMissingBin(t *testing.T) {
	ctx := context.Background()
	r, mem := newTestRepo(t)

	req := &models.CapturedRequest{ID: "r1", BinID: "ghost", ReceivedAt: r.Now()}
	_, err := r.RecordCapture(ctx, req)
	assert.ErrorIs(t, err, ErrBinNotFound)

	_, err = mem.Get(ctx, RequestKey("ghost", "r1"))
	assert.ErrorIs(t, err, kv.ErrNotFound, "no orphan request may be written")
}

func TestRecordCaptureConcurrent(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRepo(t)

	bin, err := r.CreateBin(ctx, BinInput{})
	require.NoError(t, err)

	const n = 6
	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := &models.CapturedRequest{ID: r.NewID(), BinID: bin.ID, ReceivedAt: r.Now()}
			if _, err := r.RecordCapture(ctx, req); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	got, err := r.GetBin(ctx, bin.ID)
	require.NoError(t, err)
	reqs, err := r.ListRequests(ctx, bin.ID)
	require.NoError(t, err)
	assert.Equal(t, ok, got.RequestCount)
	assert.Len(t, reqs, ok)
}

func TestDeleteBin(t *testing.T) {
	ctx := context.Background()
	r, mem := newTestRepo(t)

	bin, err := r.CreateBin(ctx, BinInput{Name: "doomed"})
	require.NoError(t, err)
	other, err := r.CreateBin(ctx, BinInput{Name: "survivor"})
	require.NoError(t, err)
	for i := 0; i < 40; i++ {
		capture(t, r, bin.ID)
	}
	capture(t, r, other.ID)

	require.NoError(t, r.DeleteBin(ctx, bin.ID))

	_, err = r.GetBin(ctx, bin.ID)
	assert.ErrorIs(t, err, ErrBinNotFound)
	_, err = r.ListRequests(ctx, bin.ID)
	assert.ErrorIs(t, err, ErrBinNotFound)

	left, err := mem.List(ctx, RequestsPrefix(bin.ID))
	require.NoError(t, err)
	assert.Empty(t, left)

	reqs, err := r.ListRequests(ctx, other.ID)
	require.NoError(t, err)
	assert.Len(t, reqs, 1)

	assert.ErrorIs(t, r.DeleteBin(ctx, bin.ID), ErrBinNotFound)
	assert.ErrorIs(t, r.DeleteBin(ctx, " "), ErrInvalidID)
}

func TestDeleteBinReusedIDStartsEmpty(t *testing.T) {
	ctx := context.Background()
	ids := []string{"reused", "reused"}
	next := 0
	r := New(kv.NewMemory(), zap.NewNop(),
		WithIDGenerator(func() string { id := ids[next%len(ids)]; next++; return id }))

	_, err := r.CreateBin(ctx, BinInput{})
	require.NoError(t, err)
	_, err = r.RecordCapture(ctx, &models.CapturedRequest{ID: "req", BinID: "reused", ReceivedAt: r.Now()})
	require.NoError(t, err)
	require.NoError(t, r.DeleteBin(ctx, "reused"))

	_, err = r.CreateBin(ctx, BinInput{})
	require.NoError(t, err)
	reqs, err := r.ListRequests(ctx, "reused")
	require.NoError(t, err)
	assert.Empty(t, reqs)
}

func TestListRequestsErrors(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRepo(t)

	_, err := r.ListRequests(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidID)
	_, err = r.ListRequests(ctx, "missing")
	assert.ErrorIs(t, err, ErrBinNotFound)
}

func TestReconcile(t *testing.T) {
	ctx := context.Background()
	r, mem := newTestRepo(t)

	bin, err := r.CreateBin(ctx, BinInput{Name: "drifted"})
	require.NoError(t, err)
	capture(t, r, bin.ID)
	capture(t, r, bin.ID)

	// Counter drift.
	stored, err := r.GetBin(ctx, bin.ID)
	require.NoError(t, err)
	stored.RequestCount = 9
	raw, err := json.Marshal(stored)
	require.NoError(t, err)
	require.NoError(t, mem.Put(ctx, BinKey(bin.ID), raw))

	// Orphans of a bin that no longer exists.
	require.NoError(t, mem.Put(ctx, RequestKey("gone", "a"), []byte("{}")))
	require.NoError(t, mem.Put(ctx, RequestKey("gone", "b"), []byte("{}")))

	report, err := r.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReconcileReport{BinsChecked: 1, CountersFixed: 1, OrphansRemoved: 2}, report)

	got, err := r.GetBin(ctx, bin.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.RequestCount)

	orphans, err := mem.List(ctx, RequestsPrefix("gone"))
	require.NoError(t, err)
	assert.Empty(t, orphans)

	again, err := r.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReconcileReport{BinsChecked: 1}, again)
}

func TestRequestBinID(t *testing.T) {
	tests := []struct {
		key    string
		want   string
		wantOK bool
	}{
		{"request:b1:r1", "b1", true},
		{"request:with:colon:r1", "with:colon", true},
		{"request::r1", "", false},
		{"request:norequest", "", false},
		{"bin:b1", "", false},
	}
	for _, tt := range tests {
		got, ok := requestBinID(tt.key)
		assert.Equal(t, tt.wantOK, ok, tt.key)
		assert.Equal(t, tt.want, got, tt.key)
	}
}

func TestStoreErrorIs(t *testing.T) {
	err := Failure("get", "bin:x", fmt.Errorf("boom"))
	assert.ErrorIs(t, err, ErrStoreFailure)
	assert.NotErrorIs(t, err, ErrBinNotFound)
	assert.Equal(t, "store get bin:x: boom", err.Error())
	assert.Equal(t, "store ping: boom", Failure("ping", "", fmt.Errorf("boom")).Error())
}

func TestPing(t *testing.T) {
	r, _ := newTestRepo(t)
	assert.NoError(t, r.Ping(context.Background()))
}
