//go:build e2e

package rdb

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

var redisURL string

func TestMain(m *testing.M) {
	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		panic(err)
	}
	redisURL, err = container.ConnectionString(ctx)
	if err != nil {
		panic(err)
	}

	code := m.Run()

	_ = testcontainers.TerminateContainer(container)
	os.Exit(code)
}

func TestAllow_FixedWindow(t *testing.T) {
	ctx := context.Background()
	c, err := New(ctx, redisURL, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	fixed := time.Date(2025, 1, 1, 9, 0, 45, 0, time.UTC)
	c.now = func() time.Time { return fixed }
	q := Quota{Max: 2, Window: time.Minute}

	d, err := c.Allow(ctx, "198.51.100.4", q)
	require.NoError(t, err)
	assert.Equal(t, Decision{Allowed: true, Remaining: 1}, d)
	_, err = c.Allow(ctx, "198.51.100.4", q)
	require.NoError(t, err)

	d, err = c.Allow(ctx, "198.51.100.4", q)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, 15*time.Second, d.RetryAfter)

	ttl, err := c.rdb.TTL(ctx, keyPrefix+"198.51.100.4:"+strconv.FormatInt(fixed.Truncate(time.Minute).Unix(), 10)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Minute, "counters outlive their window")
}

func TestRateLimit_PerClientWindow(t *testing.T) {
	ctx := context.Background()
	c, err := New(ctx, redisURL, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	// Pin the clock mid-window so the test cannot straddle a boundary.
	fixed := time.Date(2025, 1, 1, 12, 0, 30, 0, time.UTC)
	c.now = func() time.Time { return fixed }

	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	h := middleware.RealIP(c.RateLimit(Quota{Max: 2, Window: time.Minute})(ok))

	call := func(forwarded string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodGet, "/api/teams", nil)
		r.RemoteAddr = "10.0.0.1:4000"
		if forwarded != "" {
			r.Header.Set("X-Forwarded-For", forwarded)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		return rec
	}

	first := call("")
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "2", first.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, http.StatusOK, call("").Code)

	limited := call("")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "30", limited.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"success":false,"error":"rate limited"}`, limited.Body.String())

	assert.Equal(t, http.StatusOK, call("203.0.113.9").Code, "a forwarded client has its own budget")

	fixed = fixed.Add(time.Minute)
	assert.Equal(t, http.StatusOK, call("").Code, "a new window resets the count")
}

func TestNew_BadURL(t *testing.T) {
	_, err := New(context.Background(), "not a url", zap.NewNop())
	assert.Error(t, err)
}
