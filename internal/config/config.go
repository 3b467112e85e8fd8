package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// DefaultPath is where the team file lives unless -config_path or CONFIG_PATH says otherwise.
const DefaultPath = "data/github_data.json"

var (
	ErrConfiguration = errors.New("configuration error")
	ErrUnknownTeam   = errors.New("unknown team")
)

// Error describes a malformed or missing piece of configuration. It matches
// ErrConfiguration (and the wrapped cause, if any) under errors.Is.
type Error struct {
	Field  string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrConfiguration}
	}
	return []error{ErrConfiguration, e.Err}
}

// Team maps a display name to the ordered repositories it owns.
type Team struct {
	Name         string   `json:"name"`
	Repositories []string `json:"repositories"`
}

type Config struct {
	GitHubToken  string `json:"github_token" env:"GITHUB_TOKEN"`
	Organization string `json:"organization" env:"GITHUB_ORG"`
	Teams        []Team `json:"teams"`

	HTTP   HTTP   `json:"http"`
	Logger Logger `json:"logger"`
	Cache  Cache  `json:"cache"`
	Fetch  Fetch  `json:"fetch"`

	// Optional integrations; empty disables them.
	RedisURL      string `json:"redis_url" env:"REDIS_URL"`
	PostHogAPIKey string `json:"posthog_api_key" env:"POSTHOG_API_KEY"`
}

type HTTP struct {
	Host            string        `json:"host" env:"HOST" env-default:"127.0.0.1"`
	Port            string        `json:"port" env:"PORT" env-default:"5000"`
	Timeout         time.Duration `json:"timeout" env:"HTTP_TIMEOUT" env-default:"60s"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" env:"HTTP_SHUTDOWN_TIMEOUT" env-default:"10s"`
	RateLimit       int           `json:"rate_limit" env:"HTTP_RATE_LIMIT" env-default:"300"`
}

type Logger struct {
	Level  string `json:"level" env:"LOG_LEVEL" env-default:"info"`
	Format string `json:"format" env:"LOG_FORMAT" env-default:"json"`
}

type Cache struct {
	TTL          time.Duration `json:"ttl" env:"CACHE_TTL" env-default:"12h"`
	ErrorTTL     time.Duration `json:"error_ttl" env:"CACHE_ERROR_TTL" env-default:"5m"`
	RateLimitTTL time.Duration `json:"rate_limit_ttl" env:"CACHE_RATE_LIMIT_TTL" env-default:"5m"`
	PruneEvery   time.Duration `json:"prune_every" env:"CACHE_PRUNE_EVERY" env-default:"30m"`
	StaleGrace   time.Duration `json:"stale_grace" env:"CACHE_STALE_GRACE" env-default:"24h"`
}

type Fetch struct {
	Concurrency       int `json:"concurrency" env:"FETCH_CONCURRENCY" env-default:"8"`
	PRConcurrency     int `json:"pr_concurrency" env:"FETCH_PR_CONCURRENCY" env-default:"4"`
	MaxInFlight       int `json:"max_in_flight" env:"GITHUB_MAX_IN_FLIGHT" env-default:"16"`
	PerPage           int `json:"per_page" env:"FETCH_PER_PAGE" env-default:"20"`
	MaxPages          int `json:"max_pages" env:"FETCH_MAX_PAGES" env-default:"2"`
	DefaultWindowDays int `json:"default_window_days" env:"FETCH_WINDOW_DAYS" env-default:"30"`
	SlowestReviews    int `json:"slowest_reviews" env:"SLOWEST_REVIEWS" env-default:"5"`

	RequestDelay       time.Duration `json:"request_delay" env:"REQUEST_DELAY" env-default:"100ms"`
	RequestTimeout     time.Duration `json:"request_timeout" env:"REQUEST_TIMEOUT" env-default:"30s"`
	MaxRetries         int           `json:"max_retries" env:"GITHUB_MAX_RETRIES" env-default:"3"`
	BackoffBase        time.Duration `json:"backoff_base" env:"GITHUB_BACKOFF_BASE" env-default:"1s"`
	BackoffMax         time.Duration `json:"backoff_max" env:"GITHUB_BACKOFF_MAX" env-default:"30s"`
	RateLimitThreshold int           `json:"rate_limit_threshold" env:"GITHUB_RATE_LIMIT_THRESHOLD" env-default:"10"`
	MaxRateLimitWait   time.Duration `json:"max_rate_limit_wait" env:"GITHUB_MAX_RATE_LIMIT_WAIT" env-default:"15m"`
	FailFast           bool          `json:"fail_fast" env:"GITHUB_FAIL_FAST" env-default:"false"`
}

// Load reads .env (if present), the JSON team file at path and the
// environment, in that order of precedence (env wins), then validates.
func Load(path string) (*Config, error) {
	// Load .env if present (ignored if missing)
	_ = godotenv.Load()

	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, &Error{Field: "file", Reason: fmt.Sprintf("reading %s: %v", path, err)}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a config populated from env-default tags and the
// environment only. Teams are left empty for the caller to fill.
func Default() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, &Error{Field: "env", Reason: err.Error()}
	}
	return &cfg, nil
}

// Validate checks the team list; it does not touch credentials.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Organization) == "" {
		return &Error{Field: "organization", Reason: "must be set"}
	}
	if len(c.Teams) == 0 {
		return &Error{Field: "teams", Reason: "at least one team is required"}
	}
	seen := make(map[string]bool, len(c.Teams))
	for i, t := range c.Teams {
		if strings.TrimSpace(t.Name) == "" {
			return &Error{Field: fmt.Sprintf("teams[%d].name", i), Reason: "must not be empty"}
		}
		if seen[t.Name] {
			return &Error{Field: fmt.Sprintf("teams[%d].name", i), Reason: fmt.Sprintf("duplicate team %q", t.Name)}
		}
		seen[t.Name] = true
		for j, r := range t.Repositories {
			if strings.TrimSpace(r) == "" {
				return &Error{Field: fmt.Sprintf("teams[%d].repositories[%d]", i, j), Reason: "must not be empty"}
			}
		}
	}
	return nil
}

// TeamNames returns team names in configuration order.
func (c *Config) TeamNames() []string {
	names := make([]string, 0, len(c.Teams))
	for _, t := range c.Teams {
		names = append(names, t.Name)
	}
	return names
}

// Team looks a team up by its display name.
func (c *Config) Team(name string) (Team, error) {
	for _, t := range c.Teams {
		if t.Name == name {
			return t, nil
		}
	}
	return Team{}, &Error{Field: "team", Reason: fmt.Sprintf("team %q not found", name), Err: ErrUnknownTeam}
}
