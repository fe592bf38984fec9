package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port                   string        `mapstructure:"PORT"`
	Env                    string        `mapstructure:"ENV"`
	LogLevel               string        `mapstructure:"LOG_LEVEL"`
	DatabaseURL            string        `mapstructure:"DATABASE_URL"`
	DBMaxConns             int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns             int32         `mapstructure:"DB_MIN_CONNS"`
	StoreBackend           string        `mapstructure:"STORE_BACKEND"`
	CacheBackend           string        `mapstructure:"CACHE_BACKEND"`
	BroadcastBackend       string        `mapstructure:"BROADCAST_BACKEND"`
	RedisURL               string        `mapstructure:"REDIS_URL"`
	ClinicTimezone         string        `mapstructure:"CLINIC_TIMEZONE"`
	LeadTimeMinutes        int           `mapstructure:"LEAD_TIME_MINUTES"`
	AvailabilityCacheTTL   time.Duration `mapstructure:"AVAILABILITY_CACHE_TTL"`
	RuleCacheTTL           time.Duration `mapstructure:"RULE_CACHE_TTL"`
	CacheSweepInterval     time.Duration `mapstructure:"CACHE_SWEEP_INTERVAL"`
	SummaryHorizonDays     int           `mapstructure:"SUMMARY_HORIZON_DAYS"`
	SummaryRebuildInterval time.Duration `mapstructure:"SUMMARY_REBUILD_INTERVAL"`
	WorkerCount            int           `mapstructure:"WORKER_COUNT"`
	WorkerQueueSize        int           `mapstructure:"WORKER_QUEUE_SIZE"`
	BroadcastBuffer        int           `mapstructure:"BROADCAST_BUFFER"`
	InitialBookingStatus   string        `mapstructure:"INITIAL_BOOKING_STATUS"`
	AuthSigningKey         string        `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins            []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS           float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst         int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout         time.Duration `mapstructure:"REQUEST_TIMEOUT"`
}

var envKeys = []string{
	"PORT", "ENV", "LOG_LEVEL",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"STORE_BACKEND", "CACHE_BACKEND", "BROADCAST_BACKEND", "REDIS_URL",
	"CLINIC_TIMEZONE", "LEAD_TIME_MINUTES",
	"AVAILABILITY_CACHE_TTL", "RULE_CACHE_TTL", "CACHE_SWEEP_INTERVAL",
	"SUMMARY_HORIZON_DAYS", "SUMMARY_REBUILD_INTERVAL",
	"WORKER_COUNT", "WORKER_QUEUE_SIZE", "BROADCAST_BUFFER",
	"INITIAL_BOOKING_STATUS", "AUTH_SIGNING_KEY", "CORS_ORIGINS",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("STORE_BACKEND", "postgres")
	v.SetDefault("CACHE_BACKEND", "memory")
	v.SetDefault("BROADCAST_BACKEND", "hub")
	v.SetDefault("CLINIC_TIMEZONE", "Asia/Seoul")
	v.SetDefault("LEAD_TIME_MINUTES", 60)
	v.SetDefault("AVAILABILITY_CACHE_TTL", "30s")
	v.SetDefault("RULE_CACHE_TTL", "5m")
	v.SetDefault("CACHE_SWEEP_INTERVAL", "1m")
	v.SetDefault("SUMMARY_HORIZON_DAYS", 28)
	v.SetDefault("SUMMARY_REBUILD_INTERVAL", "0s")
	v.SetDefault("WORKER_COUNT", 4)
	v.SetDefault("WORKER_QUEUE_SIZE", 1024)
	v.SetDefault("BROADCAST_BUFFER", 256)
	v.SetDefault("INITIAL_BOOKING_STATUS", "BOOKED")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("REQUEST_TIMEOUT", "15s")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) <= 1 {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// UsesRedis reports whether any component is configured with the redis backend.
func (c *Config) UsesRedis() bool {
	return c.CacheBackend == "redis" || c.BroadcastBackend == "redis"
}

// Location resolves CLINIC_TIMEZONE. Slot times and "today" are evaluated in it.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.ClinicTimezone)
	if err != nil {
		return nil, fmt.Errorf("load CLINIC_TIMEZONE %q: %w", c.ClinicTimezone, err)
	}
	return loc, nil
}

// LeadTime is the minimum distance between now and a same-day slot.
func (c *Config) LeadTime() time.Duration {
	return time.Duration(c.LeadTimeMinutes) * time.Minute
}

// Validate checks backend selections and their required settings.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required")
		}
	case "memory":
	default:
		return fmt.Errorf("STORE_BACKEND must be \"postgres\" or \"memory\", got %q", c.StoreBackend)
	}

	if c.CacheBackend != "memory" && c.CacheBackend != "redis" {
		return fmt.Errorf("CACHE_BACKEND must be \"memory\" or \"redis\", got %q", c.CacheBackend)
	}
	if c.BroadcastBackend != "hub" && c.BroadcastBackend != "redis" {
		return fmt.Errorf("BROADCAST_BACKEND must be \"hub\" or \"redis\", got %q", c.BroadcastBackend)
	}
	if c.UsesRedis() && c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required when a redis backend is selected")
	}

	if c.LeadTimeMinutes < 0 {
		return fmt.Errorf("LEAD_TIME_MINUTES must not be negative, got %d", c.LeadTimeMinutes)
	}
	if c.AvailabilityCacheTTL <= 0 {
		return fmt.Errorf("AVAILABILITY_CACHE_TTL must be positive")
	}
	if c.SummaryHorizonDays <= 0 {
		return fmt.Errorf("SUMMARY_HORIZON_DAYS must be positive, got %d", c.SummaryHorizonDays)
	}
	if c.InitialBookingStatus != "BOOKED" && c.InitialBookingStatus != "PENDING" {
		return fmt.Errorf("INITIAL_BOOKING_STATUS must be BOOKED or PENDING, got %q", c.InitialBookingStatus)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}
