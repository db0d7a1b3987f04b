package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type manualClock struct{ now time.Time }

func (c *manualClock) Now() time.Time          { return c.now }
func (c *manualClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestAllowWithinWindow(t *testing.T) {
	ctx := context.Background()
	clock := &manualClock{now: time.Unix(1_700_000_000, 0)}
	l := New(NewMemory(clock.Now), zap.NewNop(), Rule{Prefix: "/", Limit: 3, Window: time.Minute})

	for i := 0; i < 3; i++ {
		d, err := l.Allow(ctx, "1.2.3.4", "/bins")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, 3, d.Limit)
		assert.Equal(t, 2-i, d.Remaining)
		assert.Equal(t, clock.now.Add(time.Minute), d.Reset)
	}

	d, err := l.Allow(ctx, "1.2.3.4", "/bins")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, 60, d.RetryAfter(clock.now))

	clock.Advance(time.Minute + time.Second)

	d, err = l.Allow(ctx, "1.2.3.4", "/bins")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 2, d.Remaining)
}

func TestAllowKeyedByIPAndPath(t *testing.T) {
	ctx := context.Background()
	l := New(NewMemory(nil), zap.NewNop(), Rule{Prefix: "", Limit: 1, Window: time.Hour})

	d, err := l.Allow(ctx, "a", "/bins")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = l.Allow(ctx, "a", "/bins")
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	d, err = l.Allow(ctx, "b", "/bins")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "other client has its own window")

	d, err = l.Allow(ctx, "a", "/auth/tokens")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "other path has its own window")
}

func TestDefaultRules(t *testing.T) {
	l := New(NewMemory(nil), nil)

	tests := []struct {
		path  string
		limit int
	}{
		{"/auth/token", 5},
		{"/webhook/abc", 1000},
		{"/auth/tokens", 5},
		{"/bins", 100},
		{"/", 100},
	}
	for _, tt := range tests {
		rule, ok := l.match(tt.path)
		require.True(t, ok, tt.path)
		assert.Equal(t, tt.limit, rule.Limit, tt.path)
		assert.Equal(t, time.Hour, rule.Window, tt.path)
	}
}

func TestUnmatchedPathAllowed(t *testing.T) {
	l := New(NewMemory(nil), nil, Rule{Prefix: "/webhook/", Limit: 1, Window: time.Hour})
	for i := 0; i < 3; i++ {
		d, err := l.Allow(context.Background(), "ip", "/bins")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Zero(t, d.Limit)
	}
}

func TestMemorySweepsClosedWindows(t *testing.T) {
	ctx := context.Background()
	clock := &manualClock{now: time.Unix(1_700_000_000, 0)}
	m := NewMemory(clock.Now)

	for _, k := range []string{"a", "b", "c"} {
		_, _, err := m.Hit(ctx, k, time.Second)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, m.Len())

	clock.Advance(2 * time.Minute)
	_, _, err := m.Hit(ctx, "d", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, m.Len())
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"cloudflare", map[string]string{"CF-Connecting-IP": "1.1.1.1", "X-Forwarded-For": "2.2.2.2"}, "1.1.1.1"},
		{"forwarded", map[string]string{"X-Forwarded-For": "2.2.2.2", "X-Real-IP": "3.3.3.3"}, "2.2.2.2"},
		{"real ip", map[string]string{"X-Real-IP": "3.3.3.3"}, "3.3.3.3"},
		{"none", nil, "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(r))
		})
	}
}

func TestRedisCounter(t *testing.T) {
	url := os.Getenv("ECHOHOOK_TEST_REDIS_URL")
	if url == "" {
		t.Skip("ECHOHOOK_TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	prefix := "echohook-test-" + t.Name() + "-" + time.Now().Format("150405.000000000") + ":"
	c := NewRedis(client, prefix)
	t.Cleanup(func() { client.Del(ctx, prefix+"rate:k") })

	for i := 1; i <= 3; i++ {
		n, reset, err := c.Hit(ctx, "k", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, i, n)
		assert.WithinDuration(t, time.Now().Add(time.Minute), reset, 5*time.Second)
	}
}
