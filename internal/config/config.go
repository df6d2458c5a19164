package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"

	"keepalive/internal/logger"
)

// ErrInvalidTarget is the one fatal configuration error: the resolved ping
// target is not an absolute http(s) URL and no custom pinger was supplied.
var ErrInvalidTarget = errors.New("invalid ping target URL")

// Platform-provided URL variables, checked in order.
var platformURLVars = []string{
	"RENDER_EXTERNAL_URL",
	"KOYEB_URL",
	"RAILWAY_STATIC_URL",
	"HEROKU_APP_URL",
}

// Explicit holds constructor-supplied settings. Zero values (nil for the
// pointer fields) mean "not set" and fall through to the environment.
type Explicit struct {
	PingInterval   time.Duration
	PingEndpoint   string
	PingMessage    string
	Port           int
	Host           string
	Timezone       string
	ExternalURL    string
	RequestTimeout time.Duration
	MaxRetries     *int
	BackoffBase    time.Duration
	UseServer      *bool
	LogLevel       string

	HistoryDB   string
	HistoryKeep int

	StatsUser           string
	StatsPassword       string
	StatsPasswordBcrypt string
}

// Config is the effective configuration, immutable after Resolve.
type Config struct {
	PingInterval   time.Duration
	PingEndpoint   string // leading/trailing slashes trimmed
	PingMessage    string
	Host           string
	Port           int
	TargetURL      string // base URL the pinger hits, without the endpoint
	TargetSource   string // precedence tier that produced TargetURL
	RequestTimeout time.Duration
	MaxRetries     int
	BackoffBase    time.Duration
	Timezone       string
	Location       *time.Location
	UseServer      bool
	LogLevel       logger.Level

	HistoryDB   string
	HistoryKeep int

	StatsUser string
	StatsHash []byte
}

// Environ loads a .env file if present and returns a snapshot of the
// process environment for Resolve.
func Environ() map[string]string {
	_ = godotenv.Load()

	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i > 0 {
			env[kv[:i]] = kv[i+1:]
		}
	}
	return env
}

// Resolve computes the effective configuration from explicit settings and
// an environment snapshot. Precedence per setting: explicit > environment
// variable > platform auto-detection (target URL only) > default.
func Resolve(explicit Explicit, env map[string]string) (*Config, error) {
	cfg := &Config{
		PingInterval:   envDurSecs(env, "KEEPALIVE_INTERVAL", 60),
		PingEndpoint:   getenv(env, "KEEPALIVE_ENDPOINT", "alive"),
		PingMessage:    getenv(env, "KEEPALIVE_MESSAGE", "I am alive!"),
		Host:           getenv(env, "KEEPALIVE_HOST", "0.0.0.0"),
		Port:           envInt(env, "KEEPALIVE_PORT", 10000),
		RequestTimeout: envDurSecs(env, "KEEPALIVE_TIMEOUT_SECONDS", 10),
		MaxRetries:     envInt(env, "KEEPALIVE_MAX_RETRIES", 2),
		BackoffBase:    time.Duration(envInt(env, "KEEPALIVE_BACKOFF_MS", 1000)) * time.Millisecond,
		Timezone:       getenv(env, "KEEPALIVE_TIMEZONE", "UTC"),
		UseServer:      envBool(env, "KEEPALIVE_USE_FLASK", true),
		LogLevel:       logger.Parse(getenv(env, "KEEPALIVE_LOG_LEVEL", "info")),
		HistoryDB:      getenv(env, "KEEPALIVE_HISTORY_DB", ""),
		HistoryKeep:    envInt(env, "KEEPALIVE_HISTORY_KEEP", 10000),
		StatsUser:      getenv(env, "KEEPALIVE_STATS_USER", ""),
	}

	if explicit.PingInterval > 0 {
		cfg.PingInterval = explicit.PingInterval
	}
	if explicit.PingEndpoint != "" {
		cfg.PingEndpoint = explicit.PingEndpoint
	}
	if explicit.PingMessage != "" {
		cfg.PingMessage = explicit.PingMessage
	}
	if explicit.Host != "" {
		cfg.Host = explicit.Host
	}
	if explicit.Port > 0 {
		cfg.Port = explicit.Port
	}
	if explicit.RequestTimeout > 0 {
		cfg.RequestTimeout = explicit.RequestTimeout
	}
	if explicit.MaxRetries != nil {
		cfg.MaxRetries = *explicit.MaxRetries
	}
	if explicit.BackoffBase > 0 {
		cfg.BackoffBase = explicit.BackoffBase
	}
	if explicit.Timezone != "" {
		cfg.Timezone = explicit.Timezone
	}
	if explicit.UseServer != nil {
		cfg.UseServer = *explicit.UseServer
	}
	if explicit.LogLevel != "" {
		cfg.LogLevel = logger.Parse(explicit.LogLevel)
	}
	if explicit.HistoryDB != "" {
		cfg.HistoryDB = explicit.HistoryDB
	}
	if explicit.HistoryKeep > 0 {
		cfg.HistoryKeep = explicit.HistoryKeep
	}
	if explicit.StatsUser != "" {
		cfg.StatsUser = explicit.StatsUser
	}

	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	cfg.PingEndpoint = strings.Trim(cfg.PingEndpoint, "/")

	cfg.TargetURL, cfg.TargetSource = resolveTarget(explicit.ExternalURL, env, cfg.Host, cfg.Port)
	logger.Infof("ping target %s (source: %s)", cfg.TargetURL, cfg.TargetSource)

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.Warnf("unknown timezone %q, falling back to UTC", cfg.Timezone)
		cfg.Timezone = "UTC"
		loc = time.UTC
	}
	cfg.Location = loc

	hash, err := resolveStatsHash(explicit, env)
	if err != nil {
		return nil, err
	}
	cfg.StatsHash = hash
	if cfg.StatsUser == "" {
		cfg.StatsHash = nil
	}

	return cfg, nil
}

// ValidateTargetURL checks that raw is an absolute http(s) URL.
func ValidateTargetURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: %q must be absolute http(s)", ErrInvalidTarget, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: %q has no host", ErrInvalidTarget, raw)
	}
	return nil
}

// detectLocalIP resolves the machine's own address, as a last resort before
// the host:port default. Stubbed in tests.
var detectLocalIP = func() (string, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return "", err
	}
	addrs, err := net.LookupHost(hostname)
	if err != nil || len(addrs) == 0 {
		return "", fmt.Errorf("lookup %s: %v", hostname, err)
	}
	return addrs[0], nil
}

func resolveTarget(explicitURL string, env map[string]string, host string, port int) (target, source string) {
	if explicitURL != "" {
		return strings.TrimSuffix(explicitURL, "/"), "explicit"
	}
	if v := env["KEEPALIVE_URL"]; v != "" {
		return strings.TrimSuffix(v, "/"), "env:KEEPALIVE_URL"
	}
	for _, k := range platformURLVars {
		if v := env[k]; v != "" {
			return strings.TrimSuffix(v, "/"), "env:" + k
		}
	}
	if ip, err := detectLocalIP(); err == nil {
		return fmt.Sprintf("http://%s:%d", ip, port), "detected"
	} else {
		logger.Warnf("could not determine local IP: %v", err)
	}
	return fmt.Sprintf("http://%s:%d", host, port), "default"
}

func resolveStatsHash(explicit Explicit, env map[string]string) ([]byte, error) {
	if h := explicit.StatsPasswordBcrypt; h != "" {
		return []byte(h), nil
	}
	if h := env["KEEPALIVE_STATS_PASSWORD_BCRYPT"]; h != "" {
		return []byte(h), nil
	}
	pw := explicit.StatsPassword
	if pw == "" {
		pw = env["KEEPALIVE_STATS_PASSWORD"]
	}
	if pw == "" {
		return nil, nil
	}
	h, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Helper functions over the injected environment snapshot.
func getenv(env map[string]string, k, def string) string {
	if v := env[k]; v != "" {
		return v
	}
	return def
}

func envInt(env map[string]string, k string, def int) int {
	if v := env[k]; v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(env map[string]string, k string, def bool) bool {
	v := strings.ToLower(env[k])
	if v == "" {
		return def
	}
	return v == "1" || v == "true" || v == "yes"
}

func envDurSecs(env map[string]string, k string, def int) time.Duration {
	return time.Duration(envInt(env, k, def)) * time.Second
}
