package analytics

import (
	"github.com/posthog/posthog-go"
	"go.uber.org/zap"
)

const defaultEndpoint = "https://us.i.posthog.com"

// Events.
const (
	EventTeamMetricsViewed = "team_metrics_viewed"
	EventCacheCleared      = "cache_cleared"
)

// Client wraps the PostHog client with nil-safe methods.
// A zero-value Client is a no-op (safe to use without initialization).
type Client struct {
	ph posthog.Client
}

type Option func(*posthog.Config)

// WithEndpoint points the client at another PostHog host.
func WithEndpoint(url string) Option { return func(c *posthog.Config) { c.Endpoint = url } }

// New creates a PostHog analytics client. Returns a no-op client if apiKey is empty.
func New(apiKey string, log *zap.Logger, opts ...Option) *Client {
	if apiKey == "" {
		return &Client{}
	}
	cfg := posthog.Config{Endpoint: defaultEndpoint}
	for _, o := range opts {
		o(&cfg)
	}
	ph, err := posthog.NewWithConfig(apiKey, cfg)
	if err != nil {
		log.Warn("analytics disabled: failed to init posthog", zap.Error(err))
		return &Client{}
	}
	return &Client{ph: ph}
}

// Close flushes pending events and closes the client.
func (c *Client) Close() {
	if c.ph != nil {
		c.ph.Close()
	}
}

func (c *Client) TeamMetricsViewed(distinctID, team, strategy string, partial bool) {
	c.capture(distinctID, EventTeamMetricsViewed, map[string]any{
		"team":           team,
		"cache_strategy": strategy,
		"partial":        partial,
	})
}

// CacheCleared records a clear; scope is a team name, "all" or "refresh".
func (c *Client) CacheCleared(distinctID, scope string, removed int) {
	c.capture(distinctID, EventCacheCleared, map[string]any{
		"scope":   scope,
		"removed": removed,
	})
}

// capture enqueues an event asynchronously. Safe to call on a no-op client.
func (c *Client) capture(distinctID, event string, props map[string]any) {
	if c.ph == nil {
		return
	}
	p := posthog.NewProperties()
	for k, v := range props {
		p.Set(k, v)
	}
	_ = c.ph.Enqueue(posthog.Capture{
		DistinctId: distinctID,
		Event:      event,
		Properties: p,
	})
}
