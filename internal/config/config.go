package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config defines parking-service configuration.
type Config struct {
	HTTP struct {
		Port string `yaml:"port" env:"PARKING_HTTP_PORT"`
	} `yaml:"http"`
	Database struct {
		DSN string `yaml:"dsn" env:"PARKING_POSTGRES_DSN"`
	} `yaml:"database"`
	Redis struct {
		Addr     string `yaml:"addr" env:"PARKING_REDIS_ADDR"`
		Password string `yaml:"password" env:"PARKING_REDIS_PASSWORD"`
		TTL      int    `yaml:"ttlSeconds" env:"PARKING_REDIS_TTL"`
	} `yaml:"redis"`
	Dedup struct {
		WindowSeconds int `yaml:"windowSeconds" env:"PARKING_DEDUP_WINDOW"`
		SweepSeconds  int `yaml:"sweepSeconds" env:"PARKING_DEDUP_SWEEP"`
	} `yaml:"dedup"`
	Reservations struct {
		SweepSeconds int `yaml:"sweepSeconds" env:"PARKING_RESERVATION_SWEEP"`
	} `yaml:"reservations"`
	Clients struct {
		CustomerURL string        `yaml:"customerUrl" env:"CUSTOMER_SERVICE_URL"`
		PaymentURL  string        `yaml:"paymentUrl" env:"PAYMENT_SERVICE_URL"`
		EmailURL      string        `yaml:"emailUrl" env:"EMAIL_SERVICE_URL"`
		InternalToken string        `yaml:"internalToken" env:"INTERNAL_SERVICE_TOKEN"`
		Timeout       time.Duration `yaml:"timeout" env:"PARKING_CLIENT_TIMEOUT"`
	} `yaml:"clients"`
	Camera struct {
		JWTSecret string `yaml:"jwtSecret" env:"CAMERA_JWT_SECRET"`
	} `yaml:"camera"`
}

// Load reads configuration from YAML file and environment.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.HTTP.Port = "8085"
	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.TTL = 86400
	cfg.Dedup.WindowSeconds = 60
	cfg.Dedup.SweepSeconds = 120
	cfg.Reservations.SweepSeconds = 300
	cfg.Clients.Timeout = 5 * time.Second

	if err := load(cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.Database.DSN) == "" {
		return nil, errors.New("config: database dsn required")
	}
	if strings.TrimSpace(cfg.Clients.CustomerURL) == "" {
		return nil, errors.New("config: customer service url required")
	}
	if strings.TrimSpace(cfg.Clients.PaymentURL) == "" {
		return nil, errors.New("config: payment service url required")
	}
	return cfg, nil
}

// HTTPAddress returns :port style.
func (c *Config) HTTPAddress() string {
	port := strings.TrimSpace(c.HTTP.Port)
	if port == "" {
		port = "8085"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}

// ActiveSessionTTL bounds the lifetime of cached active sessions.
func (c *Config) ActiveSessionTTL() time.Duration {
	if c.Redis.TTL <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.Redis.TTL) * time.Second
}

// DedupWindow returns the duplicate-detection span.
func (c *Config) DedupWindow() time.Duration {
	if c.Dedup.WindowSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.Dedup.WindowSeconds) * time.Second
}

// DedupSweepInterval returns the eviction cadence of the dedup window.
func (c *Config) DedupSweepInterval() time.Duration {
	if c.Dedup.SweepSeconds <= 0 {
		return 2 * time.Minute
	}
	return time.Duration(c.Dedup.SweepSeconds) * time.Second
}

// ReservationSweepInterval returns the expirer cadence.
func (c *Config) ReservationSweepInterval() time.Duration {
	if c.Reservations.SweepSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.Reservations.SweepSeconds) * time.Second
}

// ClientTimeout bounds every outbound collaborator call.
func (c *Config) ClientTimeout() time.Duration {
	if c.Clients.Timeout <= 0 {
		return 5 * time.Second
	}
	return c.Clients.Timeout
}
