package pinger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"keepalive/internal/logger"
)

// Failure reason codes recorded on an Outcome.
const (
	ReasonTimeout    = "timeout"
	ReasonConnection = "connection"
	ReasonCustom     = "custom_pinger_error"
)

// Outcome is the result of one complete ping cycle, retries included.
// It is immutable once produced.
type Outcome struct {
	Timestamp  time.Time
	Success    bool
	StatusCode int // 0 when no HTTP response was received
	Latency    time.Duration
	Reason     string // empty on success
	Err        string
	Attempt    int // 1-based count of tries consumed
}

// Pinger produces one Outcome per call. Implementations never panic and
// never return an error: every recoverable condition becomes a failed
// Outcome.
type Pinger interface {
	Execute(ctx context.Context) Outcome
}

// Func adapts a user-supplied function into a Pinger. Retry and HTTP
// semantics are bypassed: a nil return is a success, anything else a
// failure, always with Attempt=1.
type Func func(ctx context.Context) error

// Execute runs the function once, mapping its result to an Outcome.
func (f Func) Execute(ctx context.Context) (out Outcome) {
	t0 := time.Now()
	out = Outcome{Timestamp: t0, Attempt: 1}

	defer func() {
		out.Latency = time.Since(t0)
		if r := recover(); r != nil {
			out.Success = false
			out.Reason = ReasonCustom
			out.Err = fmt.Sprintf("panic: %v", r)
		}
	}()

	if err := f(ctx); err != nil {
		out.Reason = ReasonCustom
		out.Err = err.Error()
		return out
	}
	out.Success = true
	return out
}

// HTTP pings a URL with a bounded timeout and exponential backoff retries.
// It holds no mutable state; a single instance is safe for serialized use
// by the scheduler loop.
type HTTP struct {
	URL         string
	Timeout     time.Duration
	MaxRetries  int // retries after the first attempt; total tries = MaxRetries+1
	BackoffBase time.Duration

	// Client overrides the default client, mainly for tests.
	Client *http.Client
}

// Execute performs up to MaxRetries+1 attempts, waiting
// BackoffBase * 2^(attempt-1) between failures. It stops on the first
// success, on exhaustion, or when ctx is cancelled during a backoff wait.
// The returned Outcome carries the final attempt's result and the true
// number of attempts consumed.
func (p *HTTP) Execute(ctx context.Context) Outcome {
	client := p.Client
	if client == nil {
		client = &http.Client{Timeout: p.Timeout}
	}

	var out Outcome
	for attempt := 1; ; attempt++ {
		out = p.attempt(client, attempt)
		if out.Success || attempt > p.MaxRetries {
			return out
		}

		wait := p.BackoffBase << (attempt - 1)
		logger.Debugf("ping attempt %d failed (%s), retrying in %v", attempt, out.Reason, wait)
		t := time.NewTimer(wait)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return out
		}
	}
}

func (p *HTTP) attempt(client *http.Client, n int) Outcome {
	t0 := time.Now()
	resp, err := client.Get(p.URL)
	out := Outcome{
		Timestamp: t0,
		Latency:   time.Since(t0),
		Attempt:   n,
	}
	if err != nil {
		out.Reason, out.Err = classify(err)
		return out
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	out.StatusCode = resp.StatusCode
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		out.Success = true
		return out
	}
	out.Reason = fmt.Sprintf("http_status:%d", resp.StatusCode)
	out.Err = resp.Status
	return out
}

func classify(err error) (reason, msg string) {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ReasonTimeout, err.Error()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout, err.Error()
	}
	return ReasonConnection, err.Error()
}
