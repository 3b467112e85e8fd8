package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "github_data.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_FileAndDefaults(t *testing.T) {
	path := writeFile(t, `{
		"github_token": "ghp_file",
		"organization": "acme",
		"teams": [
			{"name": "Backend", "repositories": ["api", "billing"]},
			{"name": "Frontend", "repositories": ["web"]}
		]
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "acme", cfg.Organization)
	assert.Equal(t, []string{"Backend", "Frontend"}, cfg.TeamNames())
	assert.Equal(t, 12*time.Hour, cfg.Cache.TTL)
	assert.Equal(t, 5*time.Minute, cfg.Cache.RateLimitTTL)
	assert.Equal(t, 8, cfg.Fetch.Concurrency)
	assert.Equal(t, 100*time.Millisecond, cfg.Fetch.RequestDelay)

	team, err := cfg.Team("Backend")
	require.NoError(t, err)
	assert.Equal(t, []string{"api", "billing"}, team.Repositories)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "ghp_env")
	t.Setenv("FETCH_CONCURRENCY", "3")
	path := writeFile(t, `{"github_token": "ghp_file", "organization": "acme", "teams": [{"name": "A", "repositories": ["a"]}]}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "ghp_env", cfg.GitHubToken)
	assert.Equal(t, 3, cfg.Fetch.Concurrency)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		cfg   Config
		field string
	}{
		{"no organization", Config{Teams: []Team{{Name: "A"}}}, "organization"},
		{"no teams", Config{Organization: "acme"}, "teams"},
		{"empty team name", Config{Organization: "acme", Teams: []Team{{Name: " "}}}, "teams[0].name"},
		{"duplicate team", Config{Organization: "acme", Teams: []Team{{Name: "A"}, {Name: "A"}}}, "teams[1].name"},
		{"empty repo", Config{Organization: "acme", Teams: []Team{{Name: "A", Repositories: []string{"x", ""}}}}, "teams[0].repositories[1]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			var cfgErr *Error
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tt.field, cfgErr.Field)
			assert.ErrorIs(t, err, ErrConfiguration)
		})
	}
}

func TestTeam_Unknown(t *testing.T) {
	cfg := Config{Organization: "acme", Teams: []Team{{Name: "A"}}}
	_, err := cfg.Team("B")
	assert.ErrorIs(t, err, ErrUnknownTeam)
	assert.ErrorIs(t, err, ErrConfiguration)
}
