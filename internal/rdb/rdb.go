// Package rdb guards the API with a per-client request limiter backed by Redis.
package rdb

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "prpulse:rl:"

type Client struct {
	rdb *redis.Client
	log *zap.Logger
	now func() time.Time
}

func New(ctx context.Context, redisURL string, log *zap.Logger) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}
	c := &Client{rdb: redis.NewClient(opts), log: log.Named("rdb"), now: time.Now}
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		_ = c.rdb.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return c, nil
}

func (c *Client) Close() error { return c.rdb.Close() }

// ── Fixed-window counter ─────────────────────────────────────────────────────

// Quota is the number of requests a client may make per Window.
type Quota struct {
	Max    int
	Window time.Duration
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Allow counts one request for client in the current window.
func (c *Client) Allow(ctx context.Context, client string, q Quota) (Decision, error) {
	window := q.Window
	if window < time.Second {
		window = time.Second
	}
	now := c.now()
	slot := now.Truncate(window)
	key := keyPrefix + client + ":" + strconv.FormatInt(slot.Unix(), 10)

	var count *redis.IntCmd
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		count = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, 2*window)
		return nil
	})
	if err != nil {
		return Decision{}, fmt.Errorf("counting %s: %w", key, err)
	}

	used := int(count.Val())
	d := Decision{Allowed: used <= q.Max, Remaining: max(q.Max-used, 0)}
	if !d.Allowed {
		d.RetryAfter = slot.Add(window).Sub(now)
	}
	return d, nil
}

// ── Middleware ───────────────────────────────────────────────────────────────

// RateLimit limits each client address to q. It expects chi's RealIP
// middleware to have run, so RemoteAddr already holds the forwarded address.
// When Redis is unreachable requests pass through.
func (c *Client) RateLimit(q Quota) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d, err := c.Allow(r.Context(), clientAddr(r), q)
			if err != nil {
				c.log.Warn("rate limiter unavailable", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(q.Max))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			if d.Allowed {
				next.ServeHTTP(w, r)
				return
			}

			secs := int((d.RetryAfter + time.Second - 1) / time.Second)
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "rate limited"})
		})
	}
}

// clientAddr is RemoteAddr without its port. RealIP leaves a bare IP.
func clientAddr(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
