package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Runtime RuntimeConfig
	Metrics MetricsConfig
	Logging LogConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8000"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
	// CORSAllowOrigins is permissive by default; tighten before production.
	CORSAllowOrigins string `envconfig:"CORS_ALLOW_ORIGINS" default:"*"`
	BodyLimitMB      int    `envconfig:"BODY_LIMIT_MB" default:"100"`
}

// StorageConfig holds bundle storage configuration.
type StorageConfig struct {
	UploadDir string `envconfig:"UPLOAD_DIR" default:"uploads"`
}

// RuntimeConfig holds container lifecycle configuration.
type RuntimeConfig struct {
	ContainerPort    int           `envconfig:"CONTAINER_PORT" default:"8000"`
	BuildTimeout     time.Duration `envconfig:"BUILD_TIMEOUT" default:"10m"`
	RunTimeout       time.Duration `envconfig:"RUN_TIMEOUT" default:"1m"`
	StopTimeout      time.Duration `envconfig:"STOP_TIMEOUT" default:"15s"`
	LogTail          int           `envconfig:"LOG_TAIL" default:"200"`
	ProxyHost        string        `envconfig:"PROXY_HOST" default:"127.0.0.1"`
	ReconcileOnStart bool          `envconfig:"RECONCILE_ON_START" default:"true"`
}

// MetricsConfig holds Prometheus exposition configuration.
type MetricsConfig struct {
	// Addr is where /metrics is served; empty disables the metrics listener.
	Addr string `envconfig:"METRICS_ADDR" default:":8001"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:             "8000",
			Host:             "0.0.0.0",
			CORSAllowOrigins: "*",
			BodyLimitMB:      100,
		},
		Storage: StorageConfig{
			UploadDir: "uploads",
		},
		Runtime: RuntimeConfig{
			ContainerPort:    8000,
			BuildTimeout:     10 * time.Minute,
			RunTimeout:       time.Minute,
			StopTimeout:      15 * time.Second,
			LogTail:          200,
			ProxyHost:        "127.0.0.1",
			ReconcileOnStart: true,
		},
		Metrics: MetricsConfig{
			Addr: ":8001",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
	}
}

// Validate rejects values the server cannot run with.
func (c *Config) Validate() error {
	if c.Runtime.ContainerPort <= 0 || c.Runtime.ContainerPort > 65535 {
		return fmt.Errorf("CONTAINER_PORT out of range: %d", c.Runtime.ContainerPort)
	}
	if c.Runtime.BuildTimeout <= 0 || c.Runtime.RunTimeout <= 0 || c.Runtime.StopTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	if c.Server.BodyLimitMB <= 0 {
		return fmt.Errorf("BODY_LIMIT_MB must be positive")
	}
	if strings.TrimSpace(c.Storage.UploadDir) == "" {
		return fmt.Errorf("UPLOAD_DIR must not be empty")
	}
	return nil
}

// Address returns the HTTP listen address.
func (s ServerConfig) Address() string {
	return net.JoinHostPort(s.Host, s.Port)
}
