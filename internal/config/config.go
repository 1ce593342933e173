// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

type RuntimeConfig struct {
	Dev bool `env:"DEV" envDefault:"false"`
}

type BotConfig struct {
	Token          string  `env:"BOT_TOKEN,required"`
	AdminIDs       []int64 `env:"ADMIN_IDS" envSeparator:","`
	ChatID         int64   `env:"CHAT_ID" envDefault:"0"` // onboarding channel; 0 disables join approvals
	Workers        int     `env:"UPDATE_WORKERS" envDefault:"8"`
	ThrottleMS     int     `env:"USER_THROTTLE_MS" envDefault:"500"`
	PreCheckoutMS  int     `env:"PRECHECKOUT_TIMEOUT_MS" envDefault:"3000"`
	PollTimeoutSec int     `env:"POLL_TIMEOUT_SECONDS" envDefault:"30"`
}

type LogConfig struct {
	Level    string `env:"LOG_LEVEL" envDefault:"info"`    // trace|debug|info|warn|error
	Format   string `env:"LOG_FORMAT" envDefault:"json"`   // json|console
	Sampling bool   `env:"LOG_SAMPLING" envDefault:"false"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL      string `env:"DATABASE_URL,required"`
	MaxConns int32  `env:"DB_MAX_CONNS" envDefault:"10"`
}

type RedisConfig struct {
	URL      string `env:"REDIS_URL"` // host:port; empty falls back to in-process throttling
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

type BroadcastConfig struct {
	TickSeconds    int `env:"BROADCAST_TICK_SECONDS" envDefault:"10"`
	RatePerSec     int `env:"BROADCAST_RATE_PER_SEC" envDefault:"30"`
	MaxRetries     int `env:"BROADCAST_MAX_RETRIES" envDefault:"3"`
	ReclaimAfter   int `env:"BROADCAST_RECLAIM_AFTER" envDefault:"3600"` // seconds
	MaxReclaims    int `env:"BROADCAST_MAX_RECLAIMS" envDefault:"3"`
	ConcurrentRuns int `env:"BROADCAST_CONCURRENT_RUNS" envDefault:"4"`
	InFlight       int `env:"BROADCAST_INFLIGHT" envDefault:"4"`
}

type OnboardingConfig struct {
	ScriptPath  string `env:"ONBOARDING_SCRIPT"`
	TickSeconds int    `env:"ONBOARDING_TICK_SECONDS" envDefault:"15"`
}

type AdminConfig struct {
	HTTPAddr  string `env:"HTTP_ADDR" envDefault:":8080"`
	APISecret string `env:"ADMIN_API_SECRET"` // empty disables /api/v1
}

type Config struct {
	Bot        BotConfig
	Log        LogConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Broadcast  BroadcastConfig
	Onboarding OnboardingConfig
	Admin      AdminConfig
	Runtime    RuntimeConfig
}

// LoadConfig reads an optional .env file and then the process environment.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return parse(env.Options{})
}

// LoadFromMap parses configuration from an explicit environment. Used by tests
// and tooling that should not touch the process environment.
func LoadFromMap(vars map[string]string) (*Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	b := c.Broadcast
	switch {
	case b.TickSeconds <= 0:
		return errors.New("BROADCAST_TICK_SECONDS must be positive")
	case b.RatePerSec <= 0:
		return errors.New("BROADCAST_RATE_PER_SEC must be positive")
	case b.MaxRetries < 0:
		return errors.New("BROADCAST_MAX_RETRIES must not be negative")
	case b.ReclaimAfter <= 0:
		return errors.New("BROADCAST_RECLAIM_AFTER must be positive")
	case b.ConcurrentRuns <= 0 || b.InFlight <= 0:
		return errors.New("broadcast concurrency must be positive")
	}
	if c.Bot.Workers <= 0 {
		c.Bot.Workers = 8
	}
	if c.Bot.ThrottleMS < 0 {
		return errors.New("USER_THROTTLE_MS must not be negative")
	}
	if c.Bot.PreCheckoutMS <= 0 {
		c.Bot.PreCheckoutMS = 3000
	}
	if c.Onboarding.TickSeconds <= 0 {
		c.Onboarding.TickSeconds = 15
	}
	return nil
}

func (b BroadcastConfig) Tick() time.Duration { return time.Duration(b.TickSeconds) * time.Second }
func (b BroadcastConfig) ReclaimGrace() time.Duration {
	return time.Duration(b.ReclaimAfter) * time.Second
}
func (b BotConfig) Throttle() time.Duration { return time.Duration(b.ThrottleMS) * time.Millisecond }
func (b BotConfig) PreCheckoutTimeout() time.Duration {
	return time.Duration(b.PreCheckoutMS) * time.Millisecond
}
func (o OnboardingConfig) Tick() time.Duration { return time.Duration(o.TickSeconds) * time.Second }
