package config

import (
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"keepalive/internal/logger"
)

// stubLocalIP makes the detection tier deterministic for a test.
func stubLocalIP(t *testing.T, ip string, err error) {
	t.Helper()
	orig := detectLocalIP
	detectLocalIP = func() (string, error) { return ip, err }
	t.Cleanup(func() { detectLocalIP = orig })
}

func TestResolve_Defaults(t *testing.T) {
	stubLocalIP(t, "", errors.New("no network"))

	cfg, err := Resolve(Explicit{}, map[string]string{})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if cfg.PingInterval != 60*time.Second {
		t.Errorf("expected 60s interval, got %v", cfg.PingInterval)
	}
	if cfg.PingEndpoint != "alive" {
		t.Errorf("expected endpoint alive, got %q", cfg.PingEndpoint)
	}
	if cfg.PingMessage != "I am alive!" {
		t.Errorf("expected default message, got %q", cfg.PingMessage)
	}
	if cfg.Host != "0.0.0.0" {
		t.Errorf("expected host 0.0.0.0, got %q", cfg.Host)
	}
	if cfg.Port != 10000 {
		t.Errorf("expected port 10000, got %d", cfg.Port)
	}
	if cfg.RequestTimeout != 10*time.Second {
		t.Errorf("expected 10s timeout, got %v", cfg.RequestTimeout)
	}
	if cfg.MaxRetries != 2 {
		t.Errorf("expected 2 retries, got %d", cfg.MaxRetries)
	}
	if cfg.BackoffBase != time.Second {
		t.Errorf("expected 1s backoff base, got %v", cfg.BackoffBase)
	}
	if !cfg.UseServer {
		t.Error("expected server enabled by default")
	}
	if cfg.TargetURL != "http://0.0.0.0:10000" {
		t.Errorf("expected host:port fallback target, got %q", cfg.TargetURL)
	}
	if cfg.TargetSource != "default" {
		t.Errorf("expected source default, got %q", cfg.TargetSource)
	}
}

func TestResolve_EnvOverrides(t *testing.T) {
	env := map[string]string{
		"KEEPALIVE_INTERVAL":  "120",
		"KEEPALIVE_ENDPOINT":  "health",
		"KEEPALIVE_MESSAGE":   "Service is healthy!",
		"KEEPALIVE_PORT":      "8080",
		"KEEPALIVE_HOST":      "127.0.0.1",
		"KEEPALIVE_URL":       "https://my-app.onrender.com",
		"KEEPALIVE_LOG_LEVEL": "debug",
	}
	cfg, err := Resolve(Explicit{}, env)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if cfg.PingInterval != 120*time.Second {
		t.Errorf("expected 120s interval, got %v", cfg.PingInterval)
	}
	if cfg.PingEndpoint != "health" {
		t.Errorf("expected endpoint health, got %q", cfg.PingEndpoint)
	}
	if cfg.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Port)
	}
	if cfg.TargetURL != "https://my-app.onrender.com" {
		t.Errorf("expected env target, got %q", cfg.TargetURL)
	}
	if cfg.TargetSource != "env:KEEPALIVE_URL" {
		t.Errorf("expected env:KEEPALIVE_URL source, got %q", cfg.TargetSource)
	}
	if cfg.LogLevel != logger.LevelDebug {
		t.Errorf("expected debug level, got %v", cfg.LogLevel)
	}
}

func TestResolve_ExplicitBeatsEnv(t *testing.T) {
	env := map[string]string{
		"KEEPALIVE_INTERVAL": "120",
		"KEEPALIVE_URL":      "https://from-env.example.com",
	}
	retries := 5
	cfg, err := Resolve(Explicit{
		PingInterval: 30 * time.Second,
		ExternalURL:  "https://explicit.example.com/",
		MaxRetries:   &retries,
	}, env)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if cfg.PingInterval != 30*time.Second {
		t.Errorf("explicit interval should win, got %v", cfg.PingInterval)
	}
	if cfg.TargetURL != "https://explicit.example.com" {
		t.Errorf("explicit URL should win (trailing slash trimmed), got %q", cfg.TargetURL)
	}
	if cfg.TargetSource != "explicit" {
		t.Errorf("expected source explicit, got %q", cfg.TargetSource)
	}
	if cfg.MaxRetries != 5 {
		t.Errorf("expected 5 retries, got %d", cfg.MaxRetries)
	}
}

func TestResolve_PlatformDetection(t *testing.T) {
	cfg, err := Resolve(Explicit{}, map[string]string{
		"RENDER_EXTERNAL_URL": "https://app.onrender.com",
		"KOYEB_URL":           "https://app.koyeb.app",
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if cfg.TargetURL != "https://app.onrender.com" {
		t.Errorf("expected Render URL to win, got %q", cfg.TargetURL)
	}
	if cfg.TargetSource != "env:RENDER_EXTERNAL_URL" {
		t.Errorf("expected env:RENDER_EXTERNAL_URL source, got %q", cfg.TargetSource)
	}
}

func TestResolve_PlatformOrder(t *testing.T) {
	cfg, err := Resolve(Explicit{}, map[string]string{
		"HEROKU_APP_URL":     "https://app.herokuapp.com",
		"RAILWAY_STATIC_URL": "https://app.up.railway.app",
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if cfg.TargetURL != "https://app.up.railway.app" {
		t.Errorf("expected Railway to beat Heroku, got %q", cfg.TargetURL)
	}
}

func TestResolve_LocalDetectionTier(t *testing.T) {
	stubLocalIP(t, "10.1.2.3", nil)

	cfg, err := Resolve(Explicit{}, map[string]string{"KEEPALIVE_PORT": "9000"})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if cfg.TargetURL != "http://10.1.2.3:9000" {
		t.Errorf("expected detected local URL, got %q", cfg.TargetURL)
	}
	if cfg.TargetSource != "detected" {
		t.Errorf("expected source detected, got %q", cfg.TargetSource)
	}
}

func TestResolve_EndpointSlashesTrimmed(t *testing.T) {
	cfg, err := Resolve(Explicit{PingEndpoint: "/health/", ExternalURL: "http://x.test"}, map[string]string{})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if cfg.PingEndpoint != "health" {
		t.Errorf("expected trimmed endpoint, got %q", cfg.PingEndpoint)
	}
}

func TestResolve_UseServerDisabledViaEnv(t *testing.T) {
	for _, v := range []string{"false", "0", "off"} {
		cfg, err := Resolve(Explicit{ExternalURL: "http://x.test"}, map[string]string{"KEEPALIVE_USE_FLASK": v})
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if cfg.UseServer {
			t.Errorf("expected server disabled for %q", v)
		}
	}
}

func TestResolve_NegativeMaxRetriesClamped(t *testing.T) {
	retries := -3
	cfg, err := Resolve(Explicit{ExternalURL: "http://x.test", MaxRetries: &retries}, map[string]string{})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if cfg.MaxRetries != 0 {
		t.Errorf("expected negative retries clamped to 0, got %d", cfg.MaxRetries)
	}
}

func TestResolve_InvalidTimezoneFallsBack(t *testing.T) {
	cfg, err := Resolve(Explicit{Timezone: "Not/AZone", ExternalURL: "http://x.test"}, map[string]string{})
	if err != nil {
		t.Fatalf("invalid timezone should not be fatal: %v", err)
	}
	if cfg.Timezone != "UTC" || cfg.Location != time.UTC {
		t.Errorf("expected UTC fallback, got %q", cfg.Timezone)
	}
}

func TestResolve_StatsPasswordHashed(t *testing.T) {
	cfg, err := Resolve(Explicit{
		ExternalURL:   "http://x.test",
		StatsUser:     "admin",
		StatsPassword: "hunter2",
	}, map[string]string{})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(cfg.StatsHash) == 0 {
		t.Fatal("expected a bcrypt hash")
	}
	if bcrypt.CompareHashAndPassword(cfg.StatsHash, []byte("hunter2")) != nil {
		t.Error("hash does not verify the password")
	}
}

func TestResolve_PreHashedPasswordPassthrough(t *testing.T) {
	h, _ := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	cfg, err := Resolve(Explicit{ExternalURL: "http://x.test", StatsUser: "admin"},
		map[string]string{"KEEPALIVE_STATS_PASSWORD_BCRYPT": string(h)})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if string(cfg.StatsHash) != string(h) {
		t.Error("expected pre-hashed value to pass through unchanged")
	}
}

func TestResolve_NoStatsUserClearsHash(t *testing.T) {
	cfg, err := Resolve(Explicit{ExternalURL: "http://x.test", StatsPassword: "pw"}, map[string]string{})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if cfg.StatsHash != nil {
		t.Error("a password without a user should not arm auth")
	}
}

// --- ValidateTargetURL ---

func TestValidateTargetURL_Valid(t *testing.T) {
	for _, u := range []string{"http://example.com", "https://example.com:8443/base"} {
		if err := ValidateTargetURL(u); err != nil {
			t.Errorf("expected %q to be valid: %v", u, err)
		}
	}
}

func TestValidateTargetURL_Invalid(t *testing.T) {
	for _, u := range []string{"://bad", "example.com", "ftp://example.com", "http://"} {
		err := ValidateTargetURL(u)
		if err == nil {
			t.Errorf("expected %q to be rejected", u)
			continue
		}
		if !errors.Is(err, ErrInvalidTarget) {
			t.Errorf("expected ErrInvalidTarget for %q, got %v", u, err)
		}
	}
}

// --- env helpers ---

func TestGetenv_EmptyUsesDefault(t *testing.T) {
	if got := getenv(map[string]string{"K": ""}, "K", "def"); got != "def" {
		t.Errorf("expected default for empty value, got %q", got)
	}
}

func TestEnvInt_Invalid(t *testing.T) {
	if got := envInt(map[string]string{"K": "nope"}, "K", 7); got != 7 {
		t.Errorf("expected default 7 for invalid int, got %d", got)
	}
}

func TestEnvBool_Values(t *testing.T) {
	if !envBool(map[string]string{"K": "TRUE"}, "K", false) {
		t.Error("expected TRUE to parse as true")
	}
	if envBool(map[string]string{"K": "false"}, "K", true) {
		t.Error("expected false to parse as false")
	}
	if !envBool(map[string]string{}, "K", true) {
		t.Error("expected default true for missing key")
	}
}
