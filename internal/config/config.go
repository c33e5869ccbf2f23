// Package config loads configuration for the broker and the client tools.
// Priority: environment variables > YAML file > defaults. Outside
// production a .env file found up the directory tree seeds the
// environment first.
package config

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ssafy13th-common/glml-chat/internal/logger"
)

// loadEnv reads .env only outside production (in containers/prod the
// config comes from env only).
func loadEnv() {
	if os.Getenv("APP_ENV") == "production" {
		return
	}
	dir, err := os.Getwd()
	if err != nil {
		return
	}
	for i := 0; i < 5; i++ {
		path := dir + "/.env"
		f, err := os.Open(path)
		if err == nil {
			loadEnvFrom(f)
			f.Close()
			return
		}
		parent := strings.TrimSuffix(dir, "/")
		idx := strings.LastIndex(parent, "/")
		if idx <= 0 {
			return
		}
		dir = parent[:idx]
		if dir == "" {
			dir = "/"
		}
	}
}

func loadEnvFrom(f *os.File) {
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.Index(line, "=")
		if idx <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		if key == "" {
			continue
		}
		if len(val) >= 2 && (val[0] == '"' && val[len(val)-1] == '"' || val[0] == '\'' && val[len(val)-1] == '\'') {
			val = val[1 : len(val)-1]
		}
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// BrokerConfig — settings for the development/integration broker.
type BrokerConfig struct {
	ServerAddr         string `yaml:"server_addr"`
	CORSAllowedOrigins string `yaml:"cors_allowed_origins"`
	// RedisURL empty means the in-memory history store.
	RedisURL string `yaml:"redis_url"`
	// JWTSecret signs and verifies live-location access tokens.
	JWTSecret string `yaml:"jwt_secret"`
	// LateFeePerMinute is charged per minute past a group's meeting time.
	LateFeePerMinute int64 `yaml:"late_fee_per_minute"`
	MaxConnections   int   `yaml:"max_connections"`
}

// ClientConfig — settings for the chat client core.
type ClientConfig struct {
	// ChatWSURL is the primary chat socket; the fallback is retried once
	// per connect attempt when the primary dial fails.
	ChatWSURL         string `yaml:"chat_ws_url"`
	ChatWSFallbackURL string `yaml:"chat_ws_fallback_url"`
	RestBaseURL       string `yaml:"rest_base_url"`
	LocationWSURL     string `yaml:"location_ws_url"`

	PageSize int `yaml:"page_size"`

	ReportIntervalSec  int `yaml:"report_interval_sec"`
	RefreshIntervalSec int `yaml:"refresh_interval_sec"`
	SendTimeoutSec     int `yaml:"send_timeout_sec"`

	BackoffInitialSec int `yaml:"backoff_initial_sec"`
	BackoffMaxSec     int `yaml:"backoff_max_sec"`
	// MaxRetries 0 preserves the historical behavior: retry forever.
	MaxRetries int `yaml:"max_retries"`
}

// Config holds both sections plus shared settings.
type Config struct {
	Broker   BrokerConfig `yaml:"broker"`
	Client   ClientConfig `yaml:"client"`
	LogLevel string       `yaml:"log_level"`
}

// ReportInterval returns the read-report cadence.
func (c *ClientConfig) ReportInterval() time.Duration {
	return time.Duration(c.ReportIntervalSec) * time.Second
}

// RefreshInterval returns the head-refresh cadence.
func (c *ClientConfig) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalSec) * time.Second
}

// SendTimeout returns how long a pending send waits for its echo.
func (c *ClientConfig) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutSec) * time.Second
}

// BackoffInitial returns the reconnect delay floor.
func (c *ClientConfig) BackoffInitial() time.Duration {
	return time.Duration(c.BackoffInitialSec) * time.Second
}

// BackoffMax returns the reconnect delay cap.
func (c *ClientConfig) BackoffMax() time.Duration {
	return time.Duration(c.BackoffMaxSec) * time.Second
}

// Load reads configuration: .env (outside production), then
// CONFIG_PATH / config/chat.yaml, then env overrides.
func Load() *Config {
	loadEnv()

	cfg := &Config{
		Broker: BrokerConfig{
			ServerAddr:         ":8090",
			CORSAllowedOrigins: "*",
			JWTSecret:          "dev-secret",
			LateFeePerMinute:   0,
			MaxConnections:     10000,
		},
		Client: ClientConfig{
			ChatWSURL:          "ws://localhost:8090/ws/chat",
			RestBaseURL:        "http://localhost:8090",
			LocationWSURL:      "ws://localhost:8090/ws/live-location",
			PageSize:           30,
			ReportIntervalSec:  10,
			RefreshIntervalSec: 30,
			SendTimeoutSec:     15,
			BackoffInitialSec:  2,
			BackoffMaxSec:      30,
			MaxRetries:         0,
		},
		LogLevel: "info",
	}

	paths := []string{os.Getenv("CONFIG_PATH"), "config/chat.yaml"}
	for _, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			logger.Errorf("config: parse %s: %v (using defaults)", path, err)
		} else {
			logger.Infof("config: loaded %s", path)
		}
		break
	}

	// Environment variables have the highest priority.
	cfg.Broker.ServerAddr = envStr("SERVER_ADDR", cfg.Broker.ServerAddr)
	cfg.Broker.CORSAllowedOrigins = envStr("CORS_ALLOWED_ORIGINS", cfg.Broker.CORSAllowedOrigins)
	cfg.Broker.RedisURL = envStr("REDIS_URL", cfg.Broker.RedisURL)
	cfg.Broker.JWTSecret = envStr("JWT_SECRET", cfg.Broker.JWTSecret)
	cfg.Broker.LateFeePerMinute = int64(envInt("LATE_FEE_PER_MINUTE", int(cfg.Broker.LateFeePerMinute)))
	cfg.Broker.MaxConnections = envInt("MAX_CONNECTIONS", cfg.Broker.MaxConnections)

	cfg.Client.ChatWSURL = envStr("CHAT_WS_URL", cfg.Client.ChatWSURL)
	cfg.Client.ChatWSFallbackURL = envStr("CHAT_WS_FALLBACK_URL", cfg.Client.ChatWSFallbackURL)
	cfg.Client.RestBaseURL = envStr("REST_BASE_URL", cfg.Client.RestBaseURL)
	cfg.Client.LocationWSURL = envStr("LOCATION_WS_URL", cfg.Client.LocationWSURL)
	cfg.Client.PageSize = envInt("PAGE_SIZE", cfg.Client.PageSize)
	cfg.Client.ReportIntervalSec = envInt("REPORT_INTERVAL_SEC", cfg.Client.ReportIntervalSec)
	cfg.Client.RefreshIntervalSec = envInt("REFRESH_INTERVAL_SEC", cfg.Client.RefreshIntervalSec)
	cfg.Client.SendTimeoutSec = envInt("SEND_TIMEOUT_SEC", cfg.Client.SendTimeoutSec)
	cfg.Client.BackoffInitialSec = envInt("BACKOFF_INITIAL_SEC", cfg.Client.BackoffInitialSec)
	cfg.Client.BackoffMaxSec = envInt("BACKOFF_MAX_SEC", cfg.Client.BackoffMaxSec)
	cfg.Client.MaxRetries = envInt("MAX_RETRIES", cfg.Client.MaxRetries)
	cfg.LogLevel = envStr("LOG_LEVEL", cfg.LogLevel)

	if os.Getenv("APP_ENV") == "production" && cfg.Broker.JWTSecret == "dev-secret" {
		logger.Errorf("config: set JWT_SECRET in production (dev default refused)")
		os.Exit(1)
	}

	return cfg
}

// envStr returns the env value or fallback.
func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envInt returns the numeric env value or fallback.
func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
