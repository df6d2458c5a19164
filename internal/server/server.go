package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/crypto/bcrypt"

	"keepalive/internal/config"
	"keepalive/internal/history"
	"keepalive/internal/logger"
	"keepalive/internal/pinger"
	"keepalive/internal/ratelimit"
	"keepalive/internal/stats"
)

// Server exposes the liveness probe and the read-only stats surface.
type Server struct {
	cfg     *config.Config
	rec     *stats.Recorder
	hist    *history.Store // nil when history is disabled
	limiter *ratelimit.Limiter
	srv     *http.Server
}

// New wires the routes and the underlying http.Server.
func New(cfg *config.Config, rec *stats.Recorder, hist *history.Store) *Server {
	s := &Server{
		cfg:  cfg,
		rec:  rec,
		hist: hist,
		limiter: ratelimit.New(ratelimit.Config{
			TokensPerMinute: 120,
			MaxTokens:       120,
		}),
	}

	s.srv = &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler builds the route table. Exposed so tests can drive the surface
// without binding a port.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/"+s.cfg.PingEndpoint, s.handleAlive)
	mux.HandleFunc("/keepalive/stats", s.requireAuth(s.rateLimited(s.handleStats)))
	if s.hist != nil {
		mux.HandleFunc("/keepalive/history", s.requireAuth(s.rateLimited(s.handleHistory)))
	}
	return secureHeaders(mux)
}

// Start begins serving in the background.
func (s *Server) Start() {
	logger.Infof("HTTP server starting on %s", s.srv.Addr)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("HTTP server failed: %v", err)
		}
	}()
}

// Shutdown gracefully stops the server and the rate limiter sweep.
func (s *Server) Shutdown(ctx context.Context) error {
	s.limiter.Stop()
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleAlive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	logger.Debugf("received ping request from %s", clientIP(r))
	fmt.Fprint(w, s.cfg.PingMessage)
}

type outcomeView struct {
	Timestamp  time.Time `json:"timestamp"`
	Success    bool      `json:"success"`
	StatusCode int       `json:"status_code,omitempty"`
	LatencyMS  int64     `json:"latency_ms"`
	Reason     string    `json:"reason,omitempty"`
	Error      string    `json:"error,omitempty"`
	Attempt    int       `json:"attempt"`
}

type statsPayload struct {
	Uptime              string       `json:"uptime"`
	UptimeSeconds       float64      `json:"uptime_seconds"`
	PingInterval        float64      `json:"ping_interval"`
	TotalPings          int64        `json:"total_pings"`
	SuccessfulPings     int64        `json:"successful_pings"`
	FailedPings         int64        `json:"failed_pings"`
	SuccessRate         float64      `json:"success_rate"`
	ConsecutiveFailures int64        `json:"consecutive_failures"`
	LastOutcome         *outcomeView `json:"last_outcome"`
	StartedAt           string       `json:"started_at"`
	ExternalURL         string       `json:"external_url"`
	TargetSource        string       `json:"target_source"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snap := s.rec.Snapshot()
	uptime := snap.Uptime()
	payload := statsPayload{
		Uptime:              formatUptime(uptime),
		UptimeSeconds:       uptime.Seconds(),
		PingInterval:        s.cfg.PingInterval.Seconds(),
		TotalPings:          snap.TotalAttempts,
		SuccessfulPings:     snap.TotalSuccesses,
		FailedPings:         snap.TotalFailures,
		SuccessRate:         snap.SuccessRate(),
		ConsecutiveFailures: snap.ConsecutiveFailures,
		LastOutcome:         viewOf(snap.LastOutcome),
		StartedAt:           snap.StartedAt.In(s.cfg.Location).Format("2006-01-02 15:04:05"),
		ExternalURL:         s.cfg.TargetURL,
		TargetSource:        s.cfg.TargetSource,
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 100
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			if n > 1000 {
				n = 1000
			}
			limit = n
		}
	}

	entries, err := s.hist.Recent(limit)
	if err != nil {
		logger.Errorf("history query failed: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(entries)
}

// requireAuth enforces basic auth against the configured bcrypt hash.
// A missing stats user leaves the surface open.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.StatsUser == "" {
			next(w, r)
			return
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != s.cfg.StatsUser ||
			bcrypt.CompareHashAndPassword(s.cfg.StatsHash, []byte(pass)) != nil {
			w.Header().Set("WWW-Authenticate", `Basic realm="keepalive"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow(clientIP(r)) {
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

func secureHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func viewOf(o *pinger.Outcome) *outcomeView {
	if o == nil {
		return nil
	}
	return &outcomeView{
		Timestamp:  o.Timestamp,
		Success:    o.Success,
		StatusCode: o.StatusCode,
		LatencyMS:  o.Latency.Milliseconds(),
		Reason:     o.Reason,
		Error:      o.Err,
		Attempt:    o.Attempt,
	}
}

func formatUptime(d time.Duration) string {
	secs := int64(d.Seconds())
	days := secs / 86400
	secs %= 86400
	hours := secs / 3600
	secs %= 3600
	mins := secs / 60
	secs %= 60
	return fmt.Sprintf("%dd %dh %dm %ds", days, hours, mins, secs)
}
