// Package keepalive keeps a web application warm on hosting platforms that
// suspend inactive processes, by pinging itself over HTTP on a fixed
// interval and exposing a small health-check surface.
package keepalive

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"keepalive/internal/config"
	"keepalive/internal/history"
	"keepalive/internal/logger"
	"keepalive/internal/pinger"
	"keepalive/internal/server"
	"keepalive/internal/stats"
)

// Stats is a point-in-time snapshot of ping statistics.
type Stats = stats.Stats

// Outcome is the result of one complete ping cycle.
type Outcome = pinger.Outcome

// SchedulerOptions tune the timing behavior of the ping loop.
type SchedulerOptions struct {
	// Jitter delays each cycle by a random duration in [0, Jitter).
	Jitter time.Duration
	// NoInitialPing skips the immediate ping normally fired on Start.
	NoInitialPing bool
}

// Options configure a Service. Zero values fall through to environment
// variables and then to documented defaults (interval 60s, endpoint
// "alive", port 10000, host "0.0.0.0").
type Options struct {
	PingInterval   time.Duration
	PingEndpoint   string
	PingMessage    string
	Port           int
	Host           string
	Timezone       string
	ExternalURL    string // base URL to ping; auto-detected when empty
	RequestTimeout time.Duration
	MaxRetries     *int
	BackoffBase    time.Duration
	LogLevel       string

	// CustomPinger replaces the HTTP pinger entirely. Retry/backoff and
	// HTTP semantics are bypassed; a nil return is a success.
	CustomPinger func(ctx context.Context) error

	// UseServer controls the embedded HTTP server (default true). When
	// false the loop runs standalone and the host application must answer
	// the ping endpoint itself.
	UseServer *bool

	Scheduler SchedulerOptions

	// HistoryDB enables the SQLite ping log when set to a database path.
	HistoryDB   string
	HistoryKeep int

	// StatsUser/StatsPassword guard the stats endpoints with basic auth.
	StatsUser           string
	StatsPassword       string
	StatsPasswordBcrypt string
}

// Service owns the ping loop and its collaborators. Lifecycle is explicit:
// the caller starts and stops it, there is no process-wide instance.
type Service struct {
	cfg   *config.Config
	ping  pinger.Pinger
	sched SchedulerOptions

	mu      sync.Mutex
	running bool
	rec     *stats.Recorder
	srv     *server.Server
	hist    *history.Store
	cancel  context.CancelFunc
	done    chan struct{}
}

// New constructs a Service from options, the environment and platform
// auto-detection. It fails iff the resolved target is not an absolute
// http(s) URL and no custom pinger is supplied; every later failure is
// recorded, never returned.
func New(opts Options) (*Service, error) {
	cfg, err := config.Resolve(config.Explicit{
		PingInterval:        opts.PingInterval,
		PingEndpoint:        opts.PingEndpoint,
		PingMessage:         opts.PingMessage,
		Port:                opts.Port,
		Host:                opts.Host,
		Timezone:            opts.Timezone,
		ExternalURL:         opts.ExternalURL,
		RequestTimeout:      opts.RequestTimeout,
		MaxRetries:          opts.MaxRetries,
		BackoffBase:         opts.BackoffBase,
		UseServer:           opts.UseServer,
		LogLevel:            opts.LogLevel,
		HistoryDB:           opts.HistoryDB,
		HistoryKeep:         opts.HistoryKeep,
		StatsUser:           opts.StatsUser,
		StatsPassword:       opts.StatsPassword,
		StatsPasswordBcrypt: opts.StatsPasswordBcrypt,
	}, config.Environ())
	if err != nil {
		return nil, err
	}
	logger.SetLevel(cfg.LogLevel)

	s := &Service{cfg: cfg, sched: opts.Scheduler}
	if opts.CustomPinger != nil {
		s.ping = pinger.Func(opts.CustomPinger)
	} else {
		if err := config.ValidateTargetURL(cfg.TargetURL); err != nil {
			return nil, err
		}
		s.ping = &pinger.HTTP{
			URL:         cfg.TargetURL + "/" + cfg.PingEndpoint,
			Timeout:     cfg.RequestTimeout,
			MaxRetries:  cfg.MaxRetries,
			BackoffBase: cfg.BackoffBase,
		}
	}

	logger.Infof("keepalive initialized with interval %v and endpoint /%s", cfg.PingInterval, cfg.PingEndpoint)
	return s, nil
}

// NewDefault constructs a Service entirely from the environment and
// documented defaults.
func NewDefault() (*Service, error) {
	return New(Options{})
}

// Create constructs and starts a Service in one call.
func Create(opts Options) (*Service, error) {
	s, err := New(opts)
	if err != nil {
		return nil, err
	}
	if err := s.Start(); err != nil {
		return nil, err
	}
	return s, nil
}

// Start transitions Stopped -> Running: opens the optional history store,
// starts the embedded server when enabled, and launches the ping loop.
// Calling Start on a running service is a no-op.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		logger.Warnf("keepalive service is already running")
		return nil
	}

	s.rec = stats.NewRecorder(time.Now())

	if s.cfg.HistoryDB != "" {
		hist, err := history.Open(s.cfg.HistoryDB)
		if err != nil {
			return err
		}
		s.hist = hist
	}

	if s.cfg.UseServer {
		s.srv = server.New(s.cfg, s.rec, s.hist)
		s.srv.Start()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx)

	s.running = true
	logger.Infof("scheduler started with %v interval", s.cfg.PingInterval)
	return nil
}

// Stop transitions Running -> Stopped. It cancels any pending cycle and
// backoff wait, lets the in-flight cycle finish and be recorded, then shuts
// the server and history store down. Safe to call from any goroutine;
// calling Stop on a stopped service is a no-op.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		logger.Warnf("keepalive service is not running")
		return
	}

	s.cancel()
	<-s.done

	if s.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = s.srv.Shutdown(ctx)
		cancel()
		s.srv = nil
	}
	if s.hist != nil {
		_ = s.hist.Close()
		s.hist = nil
	}

	s.running = false
	logger.Infof("keepalive service stopped")
}

// Stats returns a snapshot of the current statistics. Before the first
// Start it returns a zero snapshot (vacuously healthy).
func (s *Service) Stats() Stats {
	s.mu.Lock()
	rec := s.rec
	s.mu.Unlock()

	if rec == nil {
		return Stats{}
	}
	return rec.Snapshot()
}

// Running reports whether the loop is active.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// run is the scheduler loop: one cycle per interval tick, strictly
// serialized. A cycle that overruns the interval delays the next tick
// (the ticker buffers one) but never overlaps it.
func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	if !s.sched.NoInitialPing {
		s.cycle(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			s.cycle(ctx)
		}
	}
}

// cycle executes one ping, records the outcome, and appends it to the
// history log when enabled.
func (s *Service) cycle(ctx context.Context) {
	if s.sched.Jitter > 0 {
		t := time.NewTimer(time.Duration(rand.Int63n(int64(s.sched.Jitter))))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}

	out := s.ping.Execute(ctx)
	consecutive := s.rec.Record(out)

	if s.hist != nil {
		if err := s.hist.Record(out); err != nil {
			logger.Warnf("failed to record ping history: %v", err)
		}
		_ = s.hist.Prune(s.cfg.HistoryKeep)
	}

	if out.Success {
		logger.Infof("ping successful in %v (attempt %d)", out.Latency.Round(time.Millisecond), out.Attempt)
	} else {
		logger.Errorf("ping failed reason=%s err=%q attempt=%d consecutive=%d",
			out.Reason, out.Err, out.Attempt, consecutive)
	}
}
