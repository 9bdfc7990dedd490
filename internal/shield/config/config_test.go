package config

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "prod", cfg.Env)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, DEFAULT_APP_CONFIG.DataDir, cfg.DataDir)
	assert.Equal(t, "adblock-engine.bin", cfg.CacheFile)
	assert.Empty(t, cfg.SourcesFile)
	assert.Empty(t, cfg.URLs)
	assert.Equal(t, 6*time.Hour, cfg.UpdateInterval)
	assert.Equal(t, 30*time.Second, cfg.FetchTimeout)
	assert.True(t, cfg.Compression)
	assert.Equal(t, 4096, cfg.DecisionCacheSize)
	assert.InDelta(t, 0.01, cfg.BloomFPRate, 1e-9)
	assert.False(t, cfg.WatchSources)
	assert.Equal(t, filepath.Join(cfg.DataDir, "adblock-engine.bin"), cfg.CachePath())
}

func TestLoad_ValidOverrides(t *testing.T) {
	t.Setenv("SHIELD_ENV", "dev")
	t.Setenv("SHIELD_LOG_LEVEL", "debug")
	t.Setenv("SHIELD_DATA_DIR", "/tmp/shield")
	t.Setenv("SHIELD_CACHE_FILE", "engine.db")
	t.Setenv("SHIELD_SOURCES_FILE", "/etc/rr-shield/sources.yaml")
	t.Setenv("SHIELD_URLS", "https://a.example/list.txt,https://b.example/x")
	t.Setenv("SHIELD_UPDATE_INTERVAL", "30m")
	t.Setenv("SHIELD_FETCH_TIMEOUT", "10s")
	t.Setenv("SHIELD_MAX_LIST_BYTES", "1048576")
	t.Setenv("SHIELD_COMPRESSION", "false")
	t.Setenv("SHIELD_DECISION_CACHE_SIZE", "-1")
	t.Setenv("SHIELD_BLOOM_FP_RATE", "0.001")
	t.Setenv("SHIELD_WATCH_SOURCES", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "/tmp/shield/engine.db", cfg.CachePath())
	assert.Equal(t, "/etc/rr-shield/sources.yaml", cfg.SourcesFile)
	assert.Equal(t, []string{"https://a.example/list.txt", "https://b.example/x"}, cfg.URLs)
	assert.Equal(t, 30*time.Minute, cfg.UpdateInterval)
	assert.Equal(t, 10*time.Second, cfg.FetchTimeout)
	assert.Equal(t, int64(1048576), cfg.MaxListBytes)
	assert.False(t, cfg.Compression)
	assert.Equal(t, -1, cfg.DecisionCacheSize)
	assert.InDelta(t, 0.001, cfg.BloomFPRate, 1e-9)
	assert.True(t, cfg.WatchSources)
}

func TestLoad_SingleURL(t *testing.T) {
	t.Setenv("SHIELD_URLS", "https://a.example/list.txt")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example/list.txt"}, cfg.URLs)
}

func TestLoad_InvalidValues(t *testing.T) {
	cases := map[string]struct{ key, value string }{
		"env":             {"SHIELD_ENV", "staging"},
		"log level":       {"SHIELD_LOG_LEVEL", "verbose"},
		"url scheme":      {"SHIELD_URLS", "ftp://a.example/list.txt"},
		"url no host":     {"SHIELD_URLS", "https://"},
		"short interval":  {"SHIELD_UPDATE_INTERVAL", "30s"},
		"bad interval":    {"SHIELD_UPDATE_INTERVAL", "soon"},
		"short timeout":   {"SHIELD_FETCH_TIMEOUT", "10ms"},
		"negative bytes":  {"SHIELD_MAX_LIST_BYTES", "-5"},
		"cache size":      {"SHIELD_DECISION_CACHE_SIZE", "-2"},
		"fp rate":         {"SHIELD_BLOOM_FP_RATE", "1.5"},
		"empty data dir":  {"SHIELD_DATA_DIR", " "},
		"empty cachefile": {"SHIELD_CACHE_FILE", " "},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestValidListURL(t *testing.T) {
	v := validator.New()
	require.NoError(t, v.RegisterValidation("list_url", validListURL))

	assert.NoError(t, v.Var("https://easylist.to/easylist/easylist.txt", "list_url"))
	assert.NoError(t, v.Var("http://lists.example/hosts", "list_url"))
	assert.Error(t, v.Var("lists.example/hosts", "list_url"))
	assert.Error(t, v.Var("file:///etc/hosts", "list_url"))
}

func TestLoad_DefaultLoaderError(t *testing.T) {
	orig := defaultLoader
	defaultLoader = func(k *koanf.Koanf) error { return errors.New("mocked error") }
	defer func() { defaultLoader = orig }()

	_, err := Load()
	assert.ErrorContains(t, err, "error loading default config")
}

func TestLoad_EnvLoaderError(t *testing.T) {
	orig := envLoader
	envLoader = func(k *koanf.Koanf) error { return errors.New("mocked error") }
	defer func() { envLoader = orig }()

	_, err := Load()
	assert.ErrorContains(t, err, "error loading env")
}

func TestLoad_RegisterValidationError(t *testing.T) {
	orig := registerValidation
	registerValidation = func(v *validator.Validate) error { return errors.New("mocked validation error") }
	defer func() { registerValidation = orig }()

	_, err := Load()
	assert.ErrorContains(t, err, "error registering validation")
}
