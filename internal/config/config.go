package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Get returns the environment value for key, or fallback when unset.
func Get(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Config is the dashboard process configuration.
//
// Values come from Default, then the YAML file named by DASHBOARD_CONFIG
// (if any), then environment variables. Command-line flags are applied last
// by the command.
type Config struct {
	Port string `yaml:"port"`

	Backend BackendConfig `yaml:"backend"`
	Cache   CacheConfig   `yaml:"cache"`
	Roads   RoadsConfig   `yaml:"roads"`

	Dashboard DashboardConfig `yaml:"dashboard"`
	Training  TrainingDefaults `yaml:"training"`
}

type BackendConfig struct {
	URL string `yaml:"url"`
	// Env only (BACKEND_API_KEY); never read from the file.
	APIKey string `yaml:"-"`
	// Serve a seeded in-process backend instead of calling URL.
	Offline  bool   `yaml:"offline"`
	SeedPath string `yaml:"seed_path"`
	// Simulated training speed in offline mode.
	EpisodesPerSecond float64       `yaml:"episodes_per_second"`
	Timeout           time.Duration `yaml:"timeout"`
}

type CacheConfig struct {
	// "sqlite", "pgx" or "" to disable the sample cache.
	DBDriver    string        `yaml:"db_driver"`
	DatabaseURL string        `yaml:"database_url"`
	RedisAddr   string        `yaml:"redis_addr"`
	RedisPrefix string        `yaml:"redis_prefix"`
	EntityTTL   time.Duration `yaml:"entity_ttl"`
}

type RoadsConfig struct {
	// Env only (ORS_API_KEY). Empty disables road geometry in offline mode.
	ORSKey  string `yaml:"-"`
	BaseURL string `yaml:"base_url"`
}

type DashboardConfig struct {
	PollInterval    time.Duration `yaml:"poll_interval"`
	MaxBackoff      time.Duration `yaml:"max_backoff"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	HistoryLimit    int           `yaml:"history_limit"`
	SampleCapacity  int           `yaml:"sample_capacity"`
	WindowSize      int           `yaml:"window_size"`
	// Consecutive transient failures before a notice is shown.
	NoticeAfter  int      `yaml:"notice_after"`
	DefaultDepot string   `yaml:"default_depot"`
	Palette      []string `yaml:"palette"`
}

type TrainingDefaults struct {
	ModelName    string  `yaml:"model_name"`
	Episodes     int     `yaml:"episodes"`
	LearningRate float64 `yaml:"learning_rate"`
}

func Default() *Config {
	return &Config{
		Port: "8080",
		Backend: BackendConfig{
			URL:               "http://localhost:8000",
			SeedPath:          "data/seeds/fleet.json",
			EpisodesPerSecond: 25,
			Timeout:           10 * time.Second,
		},
		Cache: CacheConfig{
			DBDriver:    "sqlite",
			DatabaseURL: "data/dashboard.db",
			RedisPrefix: "dashboard",
			EntityTTL:   10 * time.Minute,
		},
		Dashboard: DashboardConfig{
			PollInterval:    2 * time.Second,
			MaxBackoff:      30 * time.Second,
			RefreshInterval: 30 * time.Second,
			HistoryLimit:    500,
			SampleCapacity:  500,
			WindowSize:      10,
			NoticeAfter:     3,
		},
		Training: TrainingDefaults{
			ModelName:    "dashboard_model",
			Episodes:     1000,
			LearningRate: 0.001,
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file named
// by DASHBOARD_CONFIG and the environment.
func Load() (*Config, error) {
	if path := os.Getenv("DASHBOARD_CONFIG"); path != "" {
		return LoadFile(path)
	}
	cfg := Default()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// LoadFile reads a YAML file over the defaults, then applies the environment.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("load config %q: parse yaml: %w", path, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	c.Port = Get("PORT", c.Port)
	c.Backend.URL = Get("BACKEND_URL", c.Backend.URL)
	c.Backend.APIKey = Get("BACKEND_API_KEY", c.Backend.APIKey)
	c.Backend.SeedPath = Get("SEED_PATH", c.Backend.SeedPath)
	c.Cache.DBDriver = Get("DB_DRIVER", c.Cache.DBDriver)
	c.Cache.DatabaseURL = Get("DATABASE_URL", c.Cache.DatabaseURL)
	c.Cache.RedisAddr = Get("REDIS_ADDR", c.Cache.RedisAddr)
	c.Roads.ORSKey = Get("ORS_API_KEY", c.Roads.ORSKey)

	if v := os.Getenv("OFFLINE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: OFFLINE=%q: %w", v, err)
		}
		c.Backend.Offline = b
	}
	if v := os.Getenv("POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: POLL_INTERVAL=%q: %w", v, err)
		}
		c.Dashboard.PollInterval = d
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Port) == "" {
		errs = append(errs, errors.New("port is empty"))
	}
	if !c.Backend.Offline && strings.TrimSpace(c.Backend.URL) == "" {
		errs = append(errs, errors.New("backend.url is required unless offline"))
	}
	if c.Backend.Offline && strings.TrimSpace(c.Backend.SeedPath) == "" {
		errs = append(errs, errors.New("backend.seed_path is required when offline"))
	}
	switch c.Cache.DBDriver {
	case "", "sqlite", "pgx":
	default:
		errs = append(errs, fmt.Errorf("cache.db_driver %q is not one of sqlite, pgx", c.Cache.DBDriver))
	}
	if c.Cache.DBDriver != "" && strings.TrimSpace(c.Cache.DatabaseURL) == "" {
		errs = append(errs, errors.New("cache.database_url is required when db_driver is set"))
	}
	if c.Dashboard.PollInterval <= 0 {
		errs = append(errs, errors.New("dashboard.poll_interval must be positive"))
	}
	if c.Dashboard.RefreshInterval < 0 {
		errs = append(errs, errors.New("dashboard.refresh_interval must not be negative"))
	}
	if c.Dashboard.WindowSize < 1 {
		errs = append(errs, errors.New("dashboard.window_size must be at least 1"))
	}
	if c.Dashboard.NoticeAfter < 1 {
		errs = append(errs, errors.New("dashboard.notice_after must be at least 1"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
