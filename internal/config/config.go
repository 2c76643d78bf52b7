package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kjstillabower/placemark-weather/internal/validation"
)

// Config holds service configuration loaded from YAML, .env and the environment.
type Config struct {
	ServerPort string `validate:"required,numeric"`

	PlacemarkAPIURL     string        `validate:"required,url"`
	PlacemarkAPITimeout time.Duration `validate:"gt=0"`
	// PlacemarkAPIToken authenticates scheduled cache warming and requests that carry no Authorization header.
	PlacemarkAPIToken string

	RequestTimeout time.Duration `validate:"gtfield=PlacemarkAPITimeout"`
	CacheTTL       time.Duration `validate:"gt=0"`
	CacheBackend   string        `validate:"oneof=in_memory memcached"` // "in_memory" or "memcached"

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	RetryAttempts  int `validate:"gte=1,lte=10"`
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration `validate:"gtefield=RetryBaseDelay"`
	RateLimitRPS   int
	RateLimitBurst int

	CircuitBreakerEnabled          bool
	CircuitBreakerMaxRequests      uint32
	CircuitBreakerInterval         time.Duration
	CircuitBreakerTimeout          time.Duration
	CircuitBreakerFailureThreshold uint32

	CoalesceEnabled bool
	CoalesceTimeout time.Duration

	HeatmapDays int `validate:"gte=1,lte=16"`

	WarmPlacemarkIDs []string `validate:"dive,placemarkid"`
	WarmSchedule     string   `validate:"omitempty,cronspec"`

	DegradedWindow   time.Duration
	DegradedErrorPct int `validate:"gte=0,lte=100"`

	ShutdownTimeout               time.Duration
	ShutdownInFlightTimeout       time.Duration
	ShutdownInFlightCheckInterval time.Duration
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	PlacemarkAPI struct {
		URL     string `yaml:"url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"placemark_api"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Cache struct {
		Backend   string `yaml:"backend"`
		TTL       string `yaml:"ttl"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
	} `yaml:"cache"`

	Reliability struct {
		RetryMaxAttempts int    `yaml:"retry_max_attempts"`
		RetryBaseDelay   string `yaml:"retry_base_delay"`
		RetryMaxDelay    string `yaml:"retry_max_delay"`
		RateLimitRPS     int    `yaml:"rate_limit_rps"`
		RateLimitBurst   int    `yaml:"rate_limit_burst"`
		CircuitBreaker   struct {
			Enabled          *bool  `yaml:"enabled"`
			MaxRequests      uint32 `yaml:"max_requests"`
			Interval         string `yaml:"interval"`
			Timeout          string `yaml:"timeout"`
			FailureThreshold uint32 `yaml:"failure_threshold"`
		} `yaml:"circuit_breaker"`
	} `yaml:"reliability"`

	Coalesce struct {
		Enabled *bool  `yaml:"enabled"`
		Timeout string `yaml:"timeout"`
	} `yaml:"coalesce"`

	Charts struct {
		HeatmapDays int `yaml:"heatmap_days"`
	} `yaml:"charts"`

	Warming struct {
		PlacemarkIDs []string `yaml:"placemark_ids"`
		Schedule     string   `yaml:"schedule"`
	} `yaml:"warming"`

	Lifecycle struct {
		DegradedWindow   string `yaml:"degraded_window"`
		DegradedErrorPct int    `yaml:"degraded_error_pct"`
	} `yaml:"lifecycle"`

	Shutdown struct {
		Timeout               string `yaml:"timeout"`
		InFlightTimeout       string `yaml:"in_flight_timeout"`
		InFlightCheckInterval string `yaml:"in_flight_check_interval"`
	} `yaml:"shutdown"`
}

type secretsFile struct {
	PlacemarkAPIToken string `yaml:"placemark_api_token"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev), an optional .env file
// and config/secrets.yaml. Environment variables win over file values. Call from project root.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	if err := loadDotEnv(filepath.Join(cwd, ".env")); err != nil {
		return nil, err
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := &Config{}

	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}

	cfg.PlacemarkAPIURL = strings.TrimSpace(os.Getenv("PLACEMARK_API_URL"))
	if cfg.PlacemarkAPIURL == "" {
		cfg.PlacemarkAPIURL = strings.TrimSpace(fc.PlacemarkAPI.URL)
	}
	if cfg.PlacemarkAPIURL == "" {
		cfg.PlacemarkAPIURL = "http://localhost:3000"
	}
	cfg.PlacemarkAPITimeout = parseDurationOrZero(fc.PlacemarkAPI.Timeout, 2*time.Second)

	cfg.PlacemarkAPIToken = os.Getenv("PLACEMARK_API_TOKEN")
	if cfg.PlacemarkAPIToken == "" {
		token, err := readSecrets(filepath.Join(cwd, "config", "secrets.yaml"))
		if err != nil {
			return nil, err
		}
		cfg.PlacemarkAPIToken = token
	}

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 5*time.Second)
	cfg.CacheTTL = parseDuration(fc.Cache.TTL, 5*time.Minute)
	cfg.CacheBackend = strings.TrimSpace(strings.ToLower(os.Getenv("CACHE_BACKEND")))
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = strings.TrimSpace(strings.ToLower(fc.Cache.Backend))
	}
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = "in_memory"
	}
	cfg.MemcachedAddrs = strings.TrimSpace(os.Getenv("MEMCACHED_ADDRS"))
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = strings.TrimSpace(fc.Cache.Memcached.Addrs)
	}
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.RetryAttempts = fc.Reliability.RetryMaxAttempts
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, 100*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, 2*time.Second)
	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 100
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 250
	}

	cb := fc.Reliability.CircuitBreaker
	cfg.CircuitBreakerEnabled = boolOr(cb.Enabled, true)
	cfg.CircuitBreakerMaxRequests = cb.MaxRequests
	if cfg.CircuitBreakerMaxRequests == 0 {
		cfg.CircuitBreakerMaxRequests = 1
	}
	cfg.CircuitBreakerInterval = parseDuration(cb.Interval, 60*time.Second)
	cfg.CircuitBreakerTimeout = parseDuration(cb.Timeout, 30*time.Second)
	cfg.CircuitBreakerFailureThreshold = cb.FailureThreshold
	if cfg.CircuitBreakerFailureThreshold == 0 {
		cfg.CircuitBreakerFailureThreshold = 5
	}

	cfg.CoalesceEnabled = boolOr(fc.Coalesce.Enabled, true)
	cfg.CoalesceTimeout = parseDuration(fc.Coalesce.Timeout, 5*time.Second)

	cfg.HeatmapDays = fc.Charts.HeatmapDays
	if cfg.HeatmapDays <= 0 {
		cfg.HeatmapDays = 7
	}

	cfg.WarmPlacemarkIDs = fc.Warming.PlacemarkIDs
	cfg.WarmSchedule = strings.TrimSpace(fc.Warming.Schedule)
	if cfg.WarmSchedule == "" && len(cfg.WarmPlacemarkIDs) > 0 {
		cfg.WarmSchedule = "@every 10m"
	}

	cfg.DegradedWindow = parseDuration(fc.Lifecycle.DegradedWindow, 60*time.Second)
	cfg.DegradedErrorPct = fc.Lifecycle.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 50
	}

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.ShutdownInFlightTimeout = parseDuration(fc.Shutdown.InFlightTimeout, 10*time.Second)
	cfg.ShutdownInFlightCheckInterval = parseDuration(fc.Shutdown.InFlightCheckInterval, 100*time.Millisecond)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadDotEnv loads KEY=VALUE pairs from path into the environment without overriding
// variables that are already set. A missing file is not an error.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat .env: %w", err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func readSecrets(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read secrets file: %w", err)
	}
	var sec secretsFile
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return "", fmt.Errorf("parse secrets file: %w", err)
	}
	return sec.PlacemarkAPIToken, nil
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Returns zero or negative durations as-is so validation can reject them.
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// ErrWarmingTokenRequired is returned when warming is configured without an upstream token.
var ErrWarmingTokenRequired = errors.New("PLACEMARK_API_TOKEN required when warming.placemark_ids is set")

// validate runs struct-tag validation plus cross-field rules the tags cannot express.
// RequestTimeout is raised above PlacemarkAPITimeout instead of failing.
func validate(cfg *Config) error {
	if cfg.PlacemarkAPITimeout > 0 && cfg.RequestTimeout <= cfg.PlacemarkAPITimeout {
		cfg.RequestTimeout = cfg.PlacemarkAPITimeout + time.Second
	}
	if err := validation.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if len(cfg.WarmPlacemarkIDs) > 0 && cfg.PlacemarkAPIToken == "" {
		return ErrWarmingTokenRequired
	}
	return nil
}
