package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"

	"voxlobby/internal/core/domain"
)

type Config struct {
	HTTP struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"http"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	Transport struct {
		URL string `yaml:"url"` // audio transport signaling endpoint (ws/wss)
	} `yaml:"transport"`

	Token struct {
		URL     string        `yaml:"url"` // credential endpoint base URL
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"token"`

	Rooms struct {
		StaleAfter time.Duration `yaml:"stale_after"`
		Permanent  []string      `yaml:"permanent"`
	} `yaml:"rooms"`

	Auth struct {
		SharedSecret string `yaml:"shared_secret"`
	} `yaml:"auth"`

	RateLimiting struct {
		CreatesPerMinute float64 `yaml:"creates_per_minute"`
		Burst            int     `yaml:"burst"`
	} `yaml:"rate_limiting"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// Validate checks that configuration values are within acceptable ranges.
// Any missing required parameter fails here, at startup, rather than
// degrading silently later.
func (c *Config) Validate() error {
	if c.HTTP.Address == "" {
		return fmt.Errorf("http.address must not be empty")
	}
	if c.HTTP.ReadTimeout <= 0 {
		return fmt.Errorf("http.read_timeout must be > 0")
	}
	if c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("http.write_timeout must be > 0")
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		return fmt.Errorf("http.shutdown_timeout must be > 0")
	}

	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}

	if c.Transport.URL == "" {
		return fmt.Errorf("transport.url must not be empty")
	}
	if c.Token.URL == "" {
		return fmt.Errorf("token.url must not be empty")
	}
	if c.Token.Timeout <= 0 {
		return fmt.Errorf("token.timeout must be > 0")
	}

	if c.Rooms.StaleAfter <= 0 {
		return fmt.Errorf("rooms.stale_after must be > 0")
	}
	if len(c.Rooms.Permanent) == 0 {
		return fmt.Errorf("rooms.permanent must list the reserved room ids")
	}

	if c.Auth.SharedSecret == "" {
		return fmt.Errorf("auth.shared_secret must not be empty")
	}

	if c.RateLimiting.CreatesPerMinute <= 0 {
		return fmt.Errorf("rate_limiting.creates_per_minute must be > 0")
	}
	if c.RateLimiting.Burst <= 0 {
		return fmt.Errorf("rate_limiting.burst must be > 0")
	}

	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	return nil
}

// Load reads configuration from a YAML file, applies defaults and env
// overrides, and validates the result.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults. Transport URL,
// token URL, and the shared secret have no defaults on purpose; Validate
// rejects a config that never set them.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.HTTP.Address = ":8080"
	cfg.HTTP.ReadTimeout = 30 * time.Second
	cfg.HTTP.WriteTimeout = 30 * time.Second
	cfg.HTTP.ShutdownTimeout = 30 * time.Second

	cfg.Redis.Enabled = true
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10

	cfg.Token.Timeout = 10 * time.Second

	cfg.Rooms.StaleAfter = domain.StaleThreshold
	for _, id := range domain.DefaultPermanentRoomIDs() {
		cfg.Rooms.Permanent = append(cfg.Rooms.Permanent, string(id))
	}

	cfg.RateLimiting.CreatesPerMinute = 10
	cfg.RateLimiting.Burst = 3

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	return cfg
}

// PermanentRoomIDs returns the configured reserved ids as domain values.
func (c *Config) PermanentRoomIDs() []domain.RoomID {
	ids := make([]domain.RoomID, 0, len(c.Rooms.Permanent))
	for _, id := range c.Rooms.Permanent {
		ids = append(ids, domain.RoomID(id))
	}
	return ids
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("VOXLOBBY_HTTP_ADDRESS"); v != "" {
		c.HTTP.Address = v
	}
	if v := os.Getenv("VOXLOBBY_REDIS_ADDRESS"); v != "" {
		c.Redis.Address = v
	}
	if v := os.Getenv("VOXLOBBY_REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("VOXLOBBY_REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			c.Redis.DB = db
		}
	}
	if v := os.Getenv("VOXLOBBY_TRANSPORT_URL"); v != "" {
		c.Transport.URL = v
	}
	if v := os.Getenv("VOXLOBBY_TOKEN_URL"); v != "" {
		c.Token.URL = v
	}
	if v := os.Getenv("VOXLOBBY_SHARED_SECRET"); v != "" {
		c.Auth.SharedSecret = v
	}
	if v := os.Getenv("VOXLOBBY_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}
