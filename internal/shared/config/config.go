package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full configuration of the transit service.
type Config struct {
	Database DBConfig
	RabbitMQ MQConfig
	HTTP     HTTPConfig
	JWT      JWTConfig
	Tracking TrackingConfig
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.User), url.QueryEscape(c.Password), c.Host, c.Port, c.Database, c.SSLMode)
}

type MQConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	VHost    string
	// Enabled gates the fan-out side-channel; the service runs without a
	// broker when false.
	Enabled bool
}

func (c MQConfig) AMQPURL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d/%s",
		url.QueryEscape(c.User), url.QueryEscape(c.Password), c.Host, c.Port, url.QueryEscape(c.VHost))
}

type HTTPConfig struct {
	Port        int
	MetricsPort int // 0 disables the metrics listener
}

type JWTConfig struct {
	Secret        string
	ExpiryMinutes int
}

type TrackingConfig struct {
	// HistoryDepth caps the per-vehicle sample history buffer.
	HistoryDepth int
	// Freshness is how old a latest sample may be before a vehicle is
	// excluded from nearby/arrival queries.
	Freshness time.Duration
	// SendBuffer is the per-connection outbound queue length.
	SendBuffer int
	// PersistTimeout bounds the fire-and-forget sample write.
	PersistTimeout time.Duration
}

// Load reads configuration from the environment. A .env file in the working
// directory is merged in first (missing file is fine).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Database: DBConfig{
			Host:     getenv("DB_HOST", "127.0.0.1"),
			User:     getenv("DB_USER", "postgres"),
			Password: os.Getenv("DB_PASSWORD"),
			Database: getenv("DB_NAME", "bustrack"),
			SSLMode:  getenv("DB_SSLMODE", "disable"),
		},
		RabbitMQ: MQConfig{
			Host:     getenv("RABBITMQ_HOST", "127.0.0.1"),
			User:     getenv("RABBITMQ_USER", "guest"),
			Password: getenv("RABBITMQ_PASSWORD", "guest"),
			VHost:    getenv("RABBITMQ_VHOST", "/"),
		},
		JWT: JWTConfig{
			Secret: os.Getenv("JWT_SECRET"),
		},
	}

	var err error
	if cfg.Database.Port, err = getenvInt("DB_PORT", 5432); err != nil {
		return nil, err
	}
	if cfg.RabbitMQ.Port, err = getenvInt("RABBITMQ_PORT", 5672); err != nil {
		return nil, err
	}
	cfg.RabbitMQ.Enabled = getenvBool("RABBITMQ_ENABLED", true)

	if cfg.HTTP.Port, err = getenvInt("HTTP_PORT", 8080); err != nil {
		return nil, err
	}
	if cfg.HTTP.MetricsPort, err = getenvInt("METRICS_PORT", 0); err != nil {
		return nil, err
	}

	if cfg.JWT.ExpiryMinutes, err = getenvInt("JWT_EXPIRY_MINUTES", 12*60); err != nil {
		return nil, err
	}
	if cfg.JWT.Secret == "" {
		return nil, fmt.Errorf("JWT_SECRET must be set")
	}

	if cfg.Tracking.HistoryDepth, err = getenvInt("TRACKING_HISTORY_DEPTH", 100); err != nil {
		return nil, err
	}
	if cfg.Tracking.SendBuffer, err = getenvInt("TRACKING_SEND_BUFFER", 256); err != nil {
		return nil, err
	}

	freshSec, err := getenvInt("TRACKING_FRESHNESS_SEC", 300)
	if err != nil {
		return nil, err
	}
	cfg.Tracking.Freshness = time.Duration(freshSec) * time.Second

	persistSec, err := getenvInt("TRACKING_PERSIST_TIMEOUT_SEC", 5)
	if err != nil {
		return nil, err
	}
	cfg.Tracking.PersistTimeout = time.Duration(persistSec) * time.Second

	return cfg, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return n, nil
}

func getenvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
