package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/haukened/rr-shield/internal/shield/domain"
)

// AppConfig holds configuration values parsed from environment variables.
type AppConfig struct {
	// Env is the runtime environment, either "dev" or "prod".
	Env string `koanf:"env" validate:"required,oneof=dev prod"`

	// LogLevel controls log verbosity: "debug", "info", "warn", or "error".
	LogLevel string `koanf:"log_level" validate:"required,oneof=debug info warn error"`

	// DataDir holds the engine cache.
	DataDir string `koanf:"data_dir" validate:"required"`

	// CacheFile is the engine cache file name inside DataDir.
	CacheFile string `koanf:"cache_file" validate:"required"`

	// SourcesFile optionally points at a yaml, json or toml list of rule sources.
	SourcesFile string `koanf:"sources_file"`

	// URLs overrides the built-in rule lists when SourcesFile is unset.
	URLs []string `koanf:"urls" validate:"omitempty,dive,list_url"`

	UpdateInterval time.Duration `koanf:"update_interval" validate:"gte=1m"`
	FetchTimeout   time.Duration `koanf:"fetch_timeout" validate:"gte=1s"`

	// MaxListBytes caps a single downloaded list; 0 selects the fetcher default.
	MaxListBytes int64 `koanf:"max_list_bytes" validate:"gte=0"`

	// Compression brotli-compresses the cached engine.
	Compression bool `koanf:"compression"`

	// DecisionCacheSize sizes each engine's decision memo; -1 disables it.
	DecisionCacheSize int `koanf:"decision_cache_size" validate:"gte=-1"`

	BloomFPRate float64 `koanf:"bloom_fp_rate" validate:"gt=0,lt=1"`

	// WatchSources rebuilds the engine when SourcesFile changes.
	WatchSources bool `koanf:"watch_sources"`
}

// CachePath is the full path of the engine cache file.
func (c *AppConfig) CachePath() string {
	return filepath.Join(c.DataDir, c.CacheFile)
}

// DEFAULT_APP_CONFIG defines the default application configuration settings
// for the shield host: production logging, a six hour refresh and a
// compressed cache under the user's config directory.
var DEFAULT_APP_CONFIG = AppConfig{
	Env:               "prod",
	LogLevel:          "info",
	DataDir:           defaultDataDir(),
	CacheFile:         "adblock-engine.bin",
	UpdateInterval:    6 * time.Hour,
	FetchTimeout:      30 * time.Second,
	MaxListBytes:      0,
	Compression:       true,
	DecisionCacheSize: 4096,
	BloomFPRate:       0.01,
	WatchSources:      false,
}

func defaultDataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".rr-shield"
	}
	return filepath.Join(dir, "rr-shield")
}

// validListURL accepts absolute http(s) URLs with a host.
func validListURL(fl validator.FieldLevel) bool {
	return domain.ValidateListURL(fl.Field().String()) == nil
}

// envLoader loads environment variables with the prefix "SHIELD_".
// Keys are lowercased with the prefix removed; values containing commas or
// spaces become lists. It can be swapped out in tests.
var envLoader = func(k *koanf.Koanf) error {
	return k.Load(env.Provider(".", env.Opt{
		Prefix: "SHIELD_",
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, "SHIELD_"))
			value = strings.TrimSpace(value)

			if value == "" {
				return key, value
			}

			if strings.Contains(value, " ") || strings.Contains(value, ",") {
				parts := strings.FieldsFunc(value, func(r rune) bool {
					return r == ' ' || r == ','
				})
				return key, parts
			}

			return key, value
		},
	}), nil)
}

// defaultLoader loads DEFAULT_APP_CONFIG through the structs provider.
var defaultLoader = func(k *koanf.Koanf) error {
	return k.Load(structs.Provider(DEFAULT_APP_CONFIG, "koanf"), nil)
}

// registerValidation registers the "list_url" tag.
var registerValidation = func(v *validator.Validate) error {
	return v.RegisterValidation("list_url", validListURL)
}

// Load parses environment variables and returns an AppConfig instance.
// It applies default values and runs validation automatically.
func Load() (*AppConfig, error) {
	k := koanf.New(".")

	if err := defaultLoader(k); err != nil {
		return nil, fmt.Errorf("error loading default config: %w", err)
	}

	if err := envLoader(k); err != nil {
		return nil, fmt.Errorf("error loading env: %w", err)
	}

	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := registerValidation(validate); err != nil {
		return nil, fmt.Errorf("error registering validation: %w", err)
	}

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	return &cfg, nil
}
