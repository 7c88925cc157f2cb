// Package config provides unified configuration loading for the discovery orchestrator.
// Supports YAML files, environment variables, and programmatic overrides.
package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the orchestrator.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Mongo         MongoConfig         `yaml:"mongo"`
	Database      DatabaseConfig      `yaml:"database"`
	Cache         CacheConfig         `yaml:"cache"`
	LLM           LLMConfig           `yaml:"llm"`
	Providers     ProvidersConfig     `yaml:"providers"`
	Search        SearchConfig        `yaml:"search"`
	Observability ObservabilityConfig `yaml:"observability"`
	Auth          AuthConfig          `yaml:"auth"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
	AllowedOrigins   []string      `yaml:"allowed_origins"`
}

// MongoConfig holds the geo-cache document store settings.
type MongoConfig struct {
	URI        string        `yaml:"uri"` // empty selects the in-memory store
	Database   string        `yaml:"database"`
	Collection string        `yaml:"collection"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxPool    uint64        `yaml:"max_pool"`
}

// DatabaseConfig holds thread/message store connection settings.
type DatabaseConfig struct {
	Driver   string         `yaml:"driver"` // sqlite or postgres
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path         string `yaml:"path"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// PostgresConfig holds Postgres-specific settings.
type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// CacheConfig holds the ephemeral cache settings used for chat sessions.
type CacheConfig struct {
	Driver     string        `yaml:"driver"` // memory or redis
	MaxEntries int           `yaml:"max_entries"`
	SessionTTL time.Duration `yaml:"session_ttl"`
	Redis      RedisConfig   `yaml:"redis"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
	Prefix   string `yaml:"prefix"`
}

// LLMConfig holds generative model settings. The endpoint must speak the
// OpenAI chat completions protocol.
type LLMConfig struct {
	Endpoint    string        `yaml:"endpoint"`
	Model       string        `yaml:"model"`
	APIKey      string        `yaml:"api_key"`
	Timeout     time.Duration `yaml:"timeout"`
	Temperature float64       `yaml:"temperature"`
}

// ProvidersConfig holds connector credentials and limits.
type ProvidersConfig struct {
	Timeout      time.Duration      `yaml:"timeout"`
	RPS          float64            `yaml:"rps"`
	Burst        int                `yaml:"burst"`
	MaxRetries   int                `yaml:"max_retries"`
	Geoapify     GeoapifyConfig     `yaml:"geoapify"`
	SerpAPI      SerpAPIConfig      `yaml:"serpapi"`
	GooglePlaces GooglePlacesConfig `yaml:"google_places"`
	CMS          CMSConfig          `yaml:"cms"`
	Geocoder     GeocoderConfig     `yaml:"geocoder"`
	Enabled      []string           `yaml:"enabled"`
}

// GeoapifyConfig holds Geoapify Places settings.
type GeoapifyConfig struct {
	APIKey       string  `yaml:"api_key"`
	BaseURL      string  `yaml:"base_url"`
	Categories   string  `yaml:"categories"`
	RadiusMeters float64 `yaml:"radius_meters"`
	Limit        int     `yaml:"limit"`
}

// SerpAPIConfig holds SerpApi Google Maps settings.
type SerpAPIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Zoom    int    `yaml:"zoom"`
}

// GooglePlacesConfig holds Google Places enrichment settings.
type GooglePlacesConfig struct {
	APIKey           string  `yaml:"api_key"`
	BaseURL          string  `yaml:"base_url"`
	BiasRadiusMeters float64 `yaml:"bias_radius_meters"`
	PhotoMaxWidth    int     `yaml:"photo_max_width"`
}

// CMSConfig holds headless CMS connector settings.
type CMSConfig struct {
	ProjectID  string `yaml:"project_id"`
	Dataset    string `yaml:"dataset"`
	APIVersion string `yaml:"api_version"`
	Token      string `yaml:"token"`
	BaseURL    string `yaml:"base_url"`
	Brand      string `yaml:"brand"`
}

// GeocoderConfig holds forward-geocoding settings.
type GeocoderConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

// SearchConfig holds search orchestration settings.
type SearchConfig struct {
	CacheRadiusMeters float64       `yaml:"cache_radius_meters"`
	Limit             int           `yaml:"limit"`
	StaleAfter        time.Duration `yaml:"stale_after"`
	EnrichWorkers     int           `yaml:"enrich_workers"`
	EnrichQueue       int           `yaml:"enrich_queue"`
	EnrichTimeout     time.Duration `yaml:"enrich_timeout"`
	CardLimit         int           `yaml:"card_limit"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	ServiceName string `yaml:"service_name"`
}

// AuthConfig holds current-user resolution settings.
type AuthConfig struct {
	Enabled   bool   `yaml:"enabled"`
	DevUserID string `yaml:"dev_user_id"`
}

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8080,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     0, // SSE and websocket responses are long lived
			IdleTimeout:      120 * time.Second,
			RequestTimeout:   60 * time.Second,
			GracefulShutdown: 10 * time.Second,
			AllowedOrigins:   []string{"*"},
		},
		Mongo: MongoConfig{
			Database:   "food-discovery-orchestrator",
			Collection: "products",
			Timeout:    5 * time.Second,
			MaxPool:    50,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{
				Path:         "/tmp/food-discovery.db",
				MaxOpenConns: 1,
			},
			Postgres: PostgresConfig{
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
			},
		},
		Cache: CacheConfig{
			Driver:     "memory",
			MaxEntries: 10000,
			SessionTTL: 5 * time.Minute,
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				PoolSize: 10,
				Prefix:   "fd:",
			},
		},
		LLM: LLMConfig{
			Endpoint:    "https://generativelanguage.googleapis.com/v1beta/openai/",
			Model:       "gemini-2.0-flash",
			Timeout:     30 * time.Second,
			Temperature: 0.4,
		},
		Providers: ProvidersConfig{
			Timeout:    8 * time.Second,
			RPS:        5,
			Burst:      5,
			MaxRetries: 2,
			Geoapify: GeoapifyConfig{
				BaseURL:      "https://api.geoapify.com",
				Categories:   "catering.restaurant",
				RadiusMeters: 5000,
				Limit:        20,
			},
			SerpAPI: SerpAPIConfig{
				BaseURL: "https://serpapi.com",
				Zoom:    15,
			},
			GooglePlaces: GooglePlacesConfig{
				BaseURL:          "https://maps.googleapis.com",
				BiasRadiusMeters: 2000,
				PhotoMaxWidth:    400,
			},
			CMS: CMSConfig{
				Dataset:    "production",
				APIVersion: "2022-03-10",
				Brand:      "SnacksCo",
			},
			Geocoder: GeocoderConfig{
				BaseURL: "https://geocode.maps.co",
			},
			Enabled: []string{"geoapify", "serpapi", "cms", "google_places"},
		},
		Search: SearchConfig{
			CacheRadiusMeters: 5000,
			Limit:             20,
			StaleAfter:        24 * time.Hour,
			EnrichWorkers:     4,
			EnrichQueue:       256,
			EnrichTimeout:     15 * time.Second,
			CardLimit:         5,
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			ServiceName: "food-discovery-orchestrator",
		},
		Auth: AuthConfig{
			Enabled:   false,
			DevUserID: "dev-user",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Driver != "sqlite" && c.Database.Driver != "postgres" {
		return fmt.Errorf("invalid database driver: %s", c.Database.Driver)
	}

	if c.Database.Driver == "postgres" && c.Database.Postgres.DSN == "" {
		return fmt.Errorf("postgres driver requires a dsn")
	}

	if c.Cache.Driver != "memory" && c.Cache.Driver != "redis" {
		return fmt.Errorf("invalid cache driver: %s", c.Cache.Driver)
	}

	if c.Cache.SessionTTL <= 0 {
		return fmt.Errorf("session_ttl must be positive")
	}

	if c.Search.CacheRadiusMeters <= 0 {
		return fmt.Errorf("cache_radius_meters must be positive")
	}

	if c.Search.Limit < 1 || c.Search.Limit > 100 {
		return fmt.Errorf("search limit must be between 1 and 100")
	}

	if c.Search.EnrichWorkers < 1 {
		return fmt.Errorf("enrich_workers must be at least 1")
	}

	if c.Search.StaleAfter < 0 {
		return fmt.Errorf("stale_after must not be negative")
	}

	return nil
}

// IsDevelopment returns true if running without the production backends.
func (c *Config) IsDevelopment() bool {
	return c.Mongo.URI == "" || !c.Auth.Enabled
}

// LogFormat returns the configured log format. When unset, development runs
// log for humans and everything else logs JSON.
func (c *Config) LogFormat() string {
	if f := strings.TrimSpace(c.Observability.LogFormat); f != "" {
		return f
	}
	if c.IsDevelopment() {
		return "console"
	}
	return "json"
}

// DSN returns the connection string for the configured driver. An empty
// sqlite path means a private in-memory database.
func (d DatabaseConfig) DSN() string {
	if d.Driver == "postgres" {
		return d.Postgres.DSN
	}
	if d.SQLite.Path == "" {
		return ":memory:"
	}
	return d.SQLite.Path
}

// EnabledProviders returns the enabled connector names lower-cased and
// without duplicates, in configured order.
func (p ProvidersConfig) EnabledProviders() []string {
	out := make([]string, 0, len(p.Enabled))
	for _, n := range p.Enabled {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" || slices.Contains(out, n) {
			continue
		}
		out = append(out, n)
	}
	return out
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}

	if v := os.Getenv("MONGODB_URI"); v != "" {
		cfg.Mongo.URI = v
	}

	if v := os.Getenv("MONGODB_DB_NAME"); v != "" {
		cfg.Mongo.Database = v
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		if strings.HasPrefix(v, "sqlite:") {
			cfg.Database.Driver = "sqlite"
			cfg.Database.SQLite.Path = strings.TrimPrefix(v, "sqlite:")
		} else if strings.HasPrefix(v, "postgres") {
			cfg.Database.Driver = "postgres"
			cfg.Database.Postgres.DSN = v
		}
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.Driver = "redis"
		cfg.Cache.Redis.Addr = v
	}

	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}

	if v := os.Getenv("LLM_ENDPOINT"); v != "" {
		cfg.LLM.Endpoint = v
	}

	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}

	if v := os.Getenv("GEOAPIFY_API_KEY"); v != "" {
		cfg.Providers.Geoapify.APIKey = v
	}

	if v := os.Getenv("SERPAPI_API_KEY"); v != "" {
		cfg.Providers.SerpAPI.APIKey = v
	}

	if v := os.Getenv("GOOGLE_PLACES_API_KEY"); v != "" {
		cfg.Providers.GooglePlaces.APIKey = v
	}

	if v := os.Getenv("SANITY_PROJECT_ID"); v != "" {
		cfg.Providers.CMS.ProjectID = v
	}

	if v := os.Getenv("SANITY_DATASET"); v != "" {
		cfg.Providers.CMS.Dataset = v
	}

	if v := os.Getenv("SANITY_TOKEN"); v != "" {
		cfg.Providers.CMS.Token = v
	}

	if v := os.Getenv("GEOCODER_API_KEY"); v != "" {
		cfg.Providers.Geocoder.APIKey = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}

	if v := os.Getenv("AUTH_ENABLED"); v == "true" {
		cfg.Auth.Enabled = true
	}
}
