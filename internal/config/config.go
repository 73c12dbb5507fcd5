// README: Config loader: defaults, optional YAML file, then TRACKD_* env overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type RealtimeConfig struct {
	QueueSize        int           `yaml:"queue_size"`
	MaxDrops         int           `yaml:"max_drops"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	PingInterval     time.Duration `yaml:"ping_interval"`
}

type TrackingConfig struct {
	TransitWindow time.Duration `yaml:"transit_window"`
	TickInterval  time.Duration `yaml:"tick_interval"`
	PathSteps     int           `yaml:"path_steps"`
}

type LocationConfig struct {
	CacheTTL      time.Duration `yaml:"cache_ttl"`
	RatePerSecond float64       `yaml:"rate_per_second"`
	Burst         int           `yaml:"burst"`
}

type PollingConfig struct {
	ViewerTTL     time.Duration `yaml:"viewer_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// Config is the whole process configuration. An empty DB.DSN or
// Redis.Addr selects the in-memory implementations.
type Config struct {
	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`
	DB struct {
		DSN string `yaml:"dsn"`
	} `yaml:"db"`
	Redis struct {
		Addr string `yaml:"addr"`
	} `yaml:"redis"`
	AMQP struct {
		URL      string `yaml:"url"`
		Exchange string `yaml:"exchange"`
	} `yaml:"amqp"`
	Firebase struct {
		ProjectID       string `yaml:"project_id"`
		CredentialsFile string `yaml:"credentials_file"`
		DatabaseURL     string `yaml:"database_url"`
	} `yaml:"firebase"`
	Maps struct {
		APIKey string `yaml:"api_key"`
	} `yaml:"maps"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Tracking TrackingConfig `yaml:"tracking"`
	Location LocationConfig `yaml:"location"`
	Polling  PollingConfig  `yaml:"polling"`
}

// Default returns the configuration used when neither a file nor the
// environment overrides a value.
func Default() Config {
	var cfg Config
	cfg.HTTP.Addr = ":8080"
	cfg.AMQP.Exchange = "order_events"
	cfg.Log.Level = "info"
	cfg.Realtime = RealtimeConfig{
		QueueSize:        64,
		MaxDrops:         16,
		HandshakeTimeout: 5 * time.Second,
		WriteTimeout:     10 * time.Second,
		PingInterval:     30 * time.Second,
	}
	cfg.Tracking = TrackingConfig{
		TransitWindow: 90 * time.Second,
		TickInterval:  2 * time.Second,
		PathSteps:     45,
	}
	cfg.Location = LocationConfig{
		CacheTTL:      2 * time.Minute,
		RatePerSecond: 2,
		Burst:         4,
	}
	cfg.Polling = PollingConfig{
		ViewerTTL:     10 * time.Minute,
		SweepInterval: time.Minute,
	}
	return cfg
}

// Load reads path (if non-empty and present) over the defaults, then
// applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	applyEnv(&cfg)
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.HTTP.Addr = envOrDefault("TRACKD_HTTP_ADDR", cfg.HTTP.Addr)
	cfg.DB.DSN = envOrDefault("TRACKD_DB_DSN", cfg.DB.DSN)
	cfg.Redis.Addr = envOrDefault("TRACKD_REDIS_ADDR", cfg.Redis.Addr)
	cfg.AMQP.URL = envOrDefault("TRACKD_AMQP_URL", cfg.AMQP.URL)
	cfg.AMQP.Exchange = envOrDefault("TRACKD_AMQP_EXCHANGE", cfg.AMQP.Exchange)
	cfg.Firebase.ProjectID = envOrDefault("TRACKD_FIREBASE_PROJECT_ID", cfg.Firebase.ProjectID)
	cfg.Firebase.CredentialsFile = envOrDefault("TRACKD_FIREBASE_CREDENTIALS", cfg.Firebase.CredentialsFile)
	cfg.Firebase.DatabaseURL = envOrDefault("TRACKD_FIREBASE_DATABASE_URL", cfg.Firebase.DatabaseURL)
	cfg.Maps.APIKey = envOrDefault("TRACKD_MAPS_API_KEY", cfg.Maps.APIKey)
	cfg.Log.Level = envOrDefault("TRACKD_LOG_LEVEL", cfg.Log.Level)

	cfg.Realtime.QueueSize = envOrDefaultInt("TRACKD_QUEUE_SIZE", cfg.Realtime.QueueSize)
	cfg.Realtime.MaxDrops = envOrDefaultInt("TRACKD_MAX_DROPS", cfg.Realtime.MaxDrops)
	cfg.Realtime.HandshakeTimeout = envOrDefaultDuration("TRACKD_HANDSHAKE_TIMEOUT", cfg.Realtime.HandshakeTimeout)

	cfg.Tracking.TransitWindow = envOrDefaultDuration("TRACKD_TRANSIT_WINDOW", cfg.Tracking.TransitWindow)
	cfg.Tracking.TickInterval = envOrDefaultDuration("TRACKD_TICK_INTERVAL", cfg.Tracking.TickInterval)
	cfg.Tracking.PathSteps = envOrDefaultInt("TRACKD_PATH_STEPS", cfg.Tracking.PathSteps)

	cfg.Location.CacheTTL = envOrDefaultDuration("TRACKD_POSITION_TTL", cfg.Location.CacheTTL)
	cfg.Location.RatePerSecond = envOrDefaultFloat("TRACKD_POSITION_RATE", cfg.Location.RatePerSecond)
	cfg.Location.Burst = envOrDefaultInt("TRACKD_POSITION_BURST", cfg.Location.Burst)

	cfg.Polling.ViewerTTL = envOrDefaultDuration("TRACKD_VIEWER_TTL", cfg.Polling.ViewerTTL)
	cfg.Polling.SweepInterval = envOrDefaultDuration("TRACKD_VIEWER_SWEEP", cfg.Polling.SweepInterval)
}

func (c Config) validate() error {
	if c.Realtime.QueueSize <= 0 {
		return fmt.Errorf("realtime.queue_size must be positive, got %d", c.Realtime.QueueSize)
	}
	if c.Realtime.HandshakeTimeout <= 0 {
		return errors.New("realtime.handshake_timeout must be positive")
	}
	if c.Tracking.TransitWindow <= 0 || c.Tracking.TickInterval <= 0 {
		return errors.New("tracking.transit_window and tracking.tick_interval must be positive")
	}
	if c.Tracking.PathSteps < 1 {
		return fmt.Errorf("tracking.path_steps must be at least 1, got %d", c.Tracking.PathSteps)
	}
	return nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
