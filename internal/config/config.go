// Package config loads service settings from defaults, an optional YAML file
// and environment variables, in increasing order of priority.
package config

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/viper"

	"vrpdiag/internal/diag"
)

type Config struct {
	Port          string `mapstructure:"port" yaml:"port"`
	DatabaseURL   string `mapstructure:"database_url" yaml:"database_url"`
	DBMigrate     bool   `mapstructure:"db_migrate" yaml:"db_migrate"`
	MigrationsDir string `mapstructure:"migrations_dir" yaml:"migrations_dir"`
	RedisURL      string `mapstructure:"redis_url" yaml:"redis_url"`

	Auth     AuthConfig     `mapstructure:"auth" yaml:"auth"`
	Rate     RateConfig     `mapstructure:"rate" yaml:"rate"`
	Webhook  WebhookConfig  `mapstructure:"webhook" yaml:"webhook"`
	Diag     DiagConfig     `mapstructure:"diag" yaml:"diag"`
	Cache    CacheConfig    `mapstructure:"cache" yaml:"cache"`
	Optimize OptimizeConfig `mapstructure:"optimize" yaml:"optimize"`
}

type AuthConfig struct {
	Mode       string `mapstructure:"mode" yaml:"mode"`
	HMACSecret string `mapstructure:"hmac_secret" yaml:"hmac_secret,omitempty"`
	JWKSURL    string `mapstructure:"jwks_url" yaml:"jwks_url,omitempty"`
}

type RateConfig struct {
	RPS   float64 `mapstructure:"rps" yaml:"rps"`
	Burst int     `mapstructure:"burst" yaml:"burst"`
}

type WebhookConfig struct {
	MaxAttempts int `mapstructure:"max_attempts" yaml:"max_attempts"`
}

type DiagConfig struct {
	Workers           int     `mapstructure:"workers" yaml:"workers"`
	Mode              string  `mapstructure:"mode" yaml:"mode"`
	TieBreak          string  `mapstructure:"tie_break" yaml:"tie_break"`
	IncludeDetails    bool    `mapstructure:"include_details" yaml:"include_details"`
	UseSearchEvidence bool    `mapstructure:"use_search_evidence" yaml:"use_search_evidence"`
	TimeoutMs         int     `mapstructure:"timeout_ms" yaml:"timeout_ms"`
	SpeedKph          float64 `mapstructure:"speed_kph" yaml:"speed_kph"`
}

type CacheConfig struct {
	TTLSec int `mapstructure:"ttl_sec" yaml:"ttl_sec"`
}

type OptimizeConfig struct {
	TimeBudgetMs  int `mapstructure:"time_budget_ms" yaml:"time_budget_ms"`
	MaxIterations int `mapstructure:"max_iterations" yaml:"max_iterations"`
}

// envNames maps config keys to the environment variables that override them.
var envNames = map[string]string{
	"port":                     "PORT",
	"database_url":             "DATABASE_URL",
	"db_migrate":               "DB_MIGRATE",
	"migrations_dir":           "DB_MIGRATIONS_DIR",
	"redis_url":                "REDIS_URL",
	"auth.mode":                "AUTH_MODE",
	"auth.hmac_secret":         "AUTH_HMAC_SECRET",
	"auth.jwks_url":            "AUTH_JWKS_URL",
	"rate.rps":                 "RATE_RPS",
	"rate.burst":               "RATE_BURST",
	"webhook.max_attempts":     "WEBHOOK_MAX_ATTEMPTS",
	"diag.workers":             "DIAG_WORKERS",
	"diag.mode":                "DIAG_MODE",
	"diag.tie_break":           "DIAG_TIE_BREAK",
	"diag.include_details":     "DIAG_INCLUDE_DETAILS",
	"diag.use_search_evidence": "DIAG_USE_SEARCH_EVIDENCE",
	"diag.timeout_ms":          "DIAG_TIMEOUT_MS",
	"diag.speed_kph":           "DIAG_SPEED_KPH",
	"cache.ttl_sec":            "CACHE_TTL_SEC",
	"optimize.time_budget_ms":  "OPT_TIME_BUDGET_MS",
	"optimize.max_iterations":  "OPT_MAX_ITERATIONS",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("database_url", "")
	v.SetDefault("db_migrate", true)
	v.SetDefault("migrations_dir", "db/migrations")
	v.SetDefault("redis_url", "")
	v.SetDefault("auth.mode", "dev")
	v.SetDefault("auth.hmac_secret", "")
	v.SetDefault("rate.rps", 0)
	v.SetDefault("rate.burst", 20)
	v.SetDefault("webhook.max_attempts", 10)
	v.SetDefault("diag.workers", 0)
	v.SetDefault("diag.mode", "exhaustive")
	v.SetDefault("diag.tie_break", "nearest-miss")
	v.SetDefault("diag.include_details", false)
	v.SetDefault("diag.use_search_evidence", true)
	v.SetDefault("diag.timeout_ms", 10000)
	v.SetDefault("diag.speed_kph", 50)
	v.SetDefault("cache.ttl_sec", 300)
	v.SetDefault("optimize.time_budget_ms", 300)
	v.SetDefault("optimize.max_iterations", 0)
}

// Default returns the built-in configuration.
func Default() Config {
	cfg, _ := Load("")
	return cfg
}

// Load reads path (when not empty) and applies environment overrides.
func Load(path string) (Config, error) {
	return load(viper.New(), path)
}

func load(v *viper.Viper, path string) (Config, error) {
	setDefaults(v)
	for key, env := range envNames {
		_ = v.BindEnv(key, env)
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if _, err := diag.ParseMode(c.Diag.Mode); err != nil {
		return fmt.Errorf("diag.mode: %w", err)
	}
	if _, err := diag.ParseTieBreak(c.Diag.TieBreak); err != nil {
		return fmt.Errorf("diag.tie_break: %w", err)
	}
	switch strings.ToLower(c.Auth.Mode) {
	case "dev", "hmac", "jwks":
	default:
		return fmt.Errorf("auth.mode: unknown mode %q", c.Auth.Mode)
	}
	if c.Rate.RPS < 0 || c.Rate.Burst < 0 {
		return fmt.Errorf("rate: values must be >= 0")
	}
	if c.Diag.Workers < 0 || c.Diag.TimeoutMs < 0 {
		return fmt.Errorf("diag: workers and timeout_ms must be >= 0")
	}
	if c.Cache.TTLSec <= 0 {
		return fmt.Errorf("cache.ttl_sec: must be > 0")
	}
	return nil
}

// DiagOptions is the service-wide default evaluator configuration.
func (c Config) DiagOptions() diag.Options {
	o := diag.DefaultOptions()
	o.Mode, _ = diag.ParseMode(c.Diag.Mode)
	o.TieBreak, _ = diag.ParseTieBreak(c.Diag.TieBreak)
	o.IncludeDetails = c.Diag.IncludeDetails
	o.UseSearchEvidence = c.Diag.UseSearchEvidence
	o.Workers = c.Diag.Workers
	if o.Workers == 0 {
		o.Workers = runtime.GOMAXPROCS(0)
	}
	return o
}
