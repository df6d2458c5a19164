package ratelimit

import (
	"sync"
	"time"
)

// Limiter is a per-key token bucket, keyed by client IP.
type Limiter struct {
	mu           sync.Mutex
	buckets      map[string]*bucket
	tokensPerMin int
	maxTokens    int

	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
}

type bucket struct {
	tokens    float64
	lastCheck time.Time
}

// Config for creating a new rate limiter.
type Config struct {
	TokensPerMinute int // tokens added per minute
	MaxTokens       int // burst ceiling; defaults to TokensPerMinute
}

// New creates a rate limiter and starts its stale-bucket sweep.
func New(cfg Config) *Limiter {
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = cfg.TokensPerMinute
	}

	l := &Limiter{
		buckets:      make(map[string]*bucket),
		tokensPerMin: cfg.TokensPerMinute,
		maxTokens:    cfg.MaxTokens,
		stopCleanup:  make(chan struct{}),
	}

	l.cleanupTicker = time.NewTicker(5 * time.Minute)
	go l.cleanup()

	return l
}

// cleanup removes buckets idle for more than 10 minutes.
func (l *Limiter) cleanup() {
	for {
		select {
		case <-l.cleanupTicker.C:
			l.mu.Lock()
			now := time.Now()
			for key, b := range l.buckets {
				if now.Sub(b.lastCheck) > 10*time.Minute {
					delete(l.buckets, key)
				}
			}
			l.mu.Unlock()
		case <-l.stopCleanup:
			l.cleanupTicker.Stop()
			return
		}
	}
}

// Stop stops the cleanup goroutine.
func (l *Limiter) Stop() {
	close(l.stopCleanup)
}

// Allow reports whether one request is allowed for the given key.
func (l *Limiter) Allow(key string) bool {
	return l.AllowN(key, 1)
}

// AllowN reports whether n requests are allowed for the given key.
func (l *Limiter) AllowN(key string, n int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	b, exists := l.buckets[key]
	if !exists {
		b = &bucket{
			tokens:    float64(l.maxTokens),
			lastCheck: now,
		}
		l.buckets[key] = b
	}

	elapsed := now.Sub(b.lastCheck).Minutes()
	b.tokens += elapsed * float64(l.tokensPerMin)
	if b.tokens > float64(l.maxTokens) {
		b.tokens = float64(l.maxTokens)
	}
	b.lastCheck = now

	if b.tokens >= float64(n) {
		b.tokens -= float64(n)
		return true
	}
	return false
}

// Remaining returns the number of tokens currently available for a key.
func (l *Limiter) Remaining(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, exists := l.buckets[key]
	if !exists {
		return l.maxTokens
	}

	elapsed := time.Since(b.lastCheck).Minutes()
	tokens := b.tokens + elapsed*float64(l.tokensPerMin)
	if tokens > float64(l.maxTokens) {
		tokens = float64(l.maxTokens)
	}
	return int(tokens)
}

// Reset clears the bucket for a key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}
