// Package config reads calshare settings from the environment once at
// start-up. Values are treated as immutable afterwards.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds the server settings.
type Config struct {
	// Server
	Port    string
	BaseURL string

	// Database
	DBPath string

	// Identity
	TokenSecret    string
	LinkTTL        time.Duration
	SessionTTL     time.Duration
	AllowedOrigins []string

	// Email
	PostmarkToken string
	FromEmail     string

	// Rate limit, per IP per minute on the sign-in endpoints
	RateLimitPerMin int
	// Take client IPs from proxy headers
	TrustProxy bool

	CleanupInterval time.Duration
	LogLevel        string
}

// Load reads the server Config. CALSHARE_TOKEN_SECRET is required.
func Load() (*Config, error) {
	cfg := &Config{}

	var missing []string
	cfg.TokenSecret = os.Getenv("CALSHARE_TOKEN_SECRET")
	if cfg.TokenSecret == "" {
		missing = append(missing, "CALSHARE_TOKEN_SECRET")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	cfg.Port = getEnvString("CALSHARE_PORT", "8080")
	cfg.BaseURL = strings.TrimRight(getEnvString("CALSHARE_BASE_URL", "http://localhost:"+cfg.Port), "/")
	cfg.DBPath = getEnvString("CALSHARE_DB_PATH", "calshare.db")
	cfg.LinkTTL = getEnvDuration("CALSHARE_LINK_TTL", 15*time.Minute)
	cfg.SessionTTL = getEnvDuration("CALSHARE_SESSION_TTL", 720*time.Hour)
	cfg.PostmarkToken = os.Getenv("CALSHARE_POSTMARK_TOKEN")
	cfg.FromEmail = os.Getenv("CALSHARE_FROM_EMAIL")
	cfg.RateLimitPerMin = getEnvInt("CALSHARE_RATE_LIMIT_PER_MIN", 10)
	cfg.TrustProxy = getEnvBool("CALSHARE_TRUST_PROXY", false)
	cfg.CleanupInterval = getEnvDuration("CALSHARE_CLEANUP_INTERVAL", time.Hour)
	cfg.LogLevel = getEnvString("CALSHARE_LOG_LEVEL", "info")

	if _, err := originOf(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("CALSHARE_BASE_URL: %w", err)
	}
	cfg.AllowedOrigins = []string{}
	for _, o := range getEnvList("CALSHARE_ALLOWED_RETURN_ORIGINS") {
		origin, err := originOf(o)
		if err != nil {
			return nil, fmt.Errorf("CALSHARE_ALLOWED_RETURN_ORIGINS: %w", err)
		}
		cfg.AllowedOrigins = append(cfg.AllowedOrigins, origin)
	}
	if len(cfg.AllowedOrigins) == 0 {
		origin, _ := originOf(cfg.BaseURL)
		cfg.AllowedOrigins = []string{origin}
	}

	return cfg, nil
}

// OriginHosts returns the host[:port] of each allowed origin, the form
// websocket origin checks expect.
func (c *Config) OriginHosts() []string {
	hosts := make([]string, 0, len(c.AllowedOrigins))
	for _, o := range c.AllowedOrigins {
		if u, err := url.Parse(o); err == nil {
			hosts = append(hosts, u.Host)
		}
	}
	return hosts
}

// ClientConfig holds the CLI settings.
type ClientConfig struct {
	Server    string
	StatePath string
	LogLevel  string
}

func LoadClient() (*ClientConfig, error) {
	cfg := &ClientConfig{
		Server:    strings.TrimRight(getEnvString("CALSHARE_SERVER", "http://localhost:8080"), "/"),
		StatePath: os.Getenv("CALSHARE_STATE"),
		LogLevel:  getEnvString("CALSHARE_LOG_LEVEL", "warn"),
	}
	if _, err := originOf(cfg.Server); err != nil {
		return nil, fmt.Errorf("CALSHARE_SERVER: %w", err)
	}
	if cfg.StatePath == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("locate config dir: %w", err)
		}
		cfg.StatePath = filepath.Join(dir, "calshare", "state.json")
	}
	return cfg, nil
}

// originOf returns scheme://host[:port] for an absolute http(s) URL.
func originOf(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%q is not an absolute http(s) URL", raw)
	}
	return strings.ToLower(u.Scheme + "://" + u.Host), nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil || i <= 0 {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
