package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`

	// DSN demo：
	// app:apppass@tcp(127.0.0.1:3306)/carelink?charset=utf8mb4&parseTime=true&loc=Local
	DBDSN        string        `env:"DB_DSN" envDefault:"carelink.db"`
	StoreTimeout time.Duration `env:"STORE_TIMEOUT" envDefault:"5s"`

	JWTSecret      string        `env:"JWT_SECRET" envDefault:"dev-secret-change-me"`
	TokenTTL       time.Duration `env:"TOKEN_TTL" envDefault:"24h"`
	AdminSignupKey string        `env:"ADMIN_SIGNUP_KEY"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// rabbitMQ
	RabbitURL   string `env:"RABBIT_URL"`
	RabbitQueue string `env:"RABBIT_QUEUE" envDefault:"support_outbox"`

	StatsCacheTTL    time.Duration `env:"STATS_CACHE_TTL" envDefault:"10s"`
	MessageViewLimit int           `env:"MESSAGE_VIEW_LIMIT" envDefault:"1000"`
	PublicRateLimit  int           `env:"PUBLIC_RATE_LIMIT" envDefault:"30"`
	CORSOrigins      []string      `env:"CORS_ORIGINS" envSeparator:"," envDefault:"http://localhost:5173,http://localhost:5174"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console"`

	// AI provider, empty disables assisted replies
	AIProvider    string        `env:"AI_PROVIDER"`
	OllamaBaseURL string        `env:"OLLAMA_BASE_URL" envDefault:"http://localhost:11434"`
	OllamaModel   string        `env:"OLLAMA_MODEL" envDefault:"llama3:latest"`
	AITimeout     time.Duration `env:"AI_TIMEOUT" envDefault:"8s"`

	// worker
	WorkerConcurrency   int           `env:"WORKER_CONCURRENCY" envDefault:"2"`
	OutboxSweepInterval time.Duration `env:"OUTBOX_SWEEP_INTERVAL" envDefault:"30s"`
	OutboxMaxAttempts   int           `env:"OUTBOX_MAX_ATTEMPTS" envDefault:"5"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	// .env is a convenience for local runs; a missing file is fine.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.StoreTimeout <= 0 {
		return errors.New("STORE_TIMEOUT must be positive")
	}
	if c.TokenTTL <= 0 {
		return errors.New("TOKEN_TTL must be positive")
	}
	if strings.TrimSpace(c.JWTSecret) == "" {
		return errors.New("JWT_SECRET must not be empty")
	}
	switch strings.ToLower(c.LogFormat) {
	case "console", "json":
	default:
		return fmt.Errorf("unsupported LOG_FORMAT %q", c.LogFormat)
	}
	if c.WorkerConcurrency <= 0 {
		c.WorkerConcurrency = 2
	}
	if c.WorkerConcurrency > 50 {
		c.WorkerConcurrency = 50
	}
	if c.OutboxSweepInterval <= 0 {
		c.OutboxSweepInterval = 30 * time.Second
	}
	if c.OutboxMaxAttempts <= 0 {
		c.OutboxMaxAttempts = 5
	}
	if c.MessageViewLimit < 0 {
		c.MessageViewLimit = 0
	}

	origins := c.CORSOrigins[:0]
	for _, o := range c.CORSOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	c.CORSOrigins = origins
	return nil
}

// UsesMySQL reports whether DBDSN points at a MySQL server rather than a SQLite file.
func (c *Config) UsesMySQL() bool {
	return strings.Contains(c.DBDSN, "@tcp(")
}
