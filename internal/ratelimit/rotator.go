package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrNoCredentials is returned when the pool is empty.
var ErrNoCredentials = errors.New("ratelimit: no credentials configured")

// Options tune the rotator.
type Options struct {
	// RequestsPerMinute is the per-credential budget within one shared window.
	RequestsPerMinute int
	// Window is the shared reset period for all counters.
	Window time.Duration
	// Cooldown is how long Acquire blocks once the current credential is exhausted.
	Cooldown time.Duration
	// Now and Sleep are injectable for tests.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Rotator hands out API credentials round-robin and enforces a per-credential
// request budget over one window shared by the whole pool.
type Rotator struct {
	mu          sync.Mutex
	credentials []string
	counts      map[string]int
	next        int
	windowStart time.Time
	opts        Options
	logger      zerolog.Logger
}

// New builds a rotator over an ordered credential list.
func New(credentials []string, opts Options, logger zerolog.Logger) *Rotator {
	if opts.RequestsPerMinute <= 0 {
		opts.RequestsPerMinute = 8
	}
	if opts.Window <= 0 {
		opts.Window = time.Minute
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}

	creds := append([]string(nil), credentials...)
	counts := make(map[string]int, len(creds))
	for _, c := range creds {
		counts[c] = 0
	}

	return &Rotator{
		credentials: creds,
		counts:      counts,
		windowStart: opts.Now(),
		opts:        opts,
		logger:      logger.With().Str("component", "rate_limiter").Logger(),
	}
}

// Len reports the pool size.
func (r *Rotator) Len() int {
	return len(r.credentials)
}

// Acquire returns the next credential and charges one request against it.
// When that credential has exceeded its budget, Acquire blocks for the
// cooldown, resets every counter and charges the credential with exactly one.
// The lock is held for the whole call so concurrent callers queue behind a
// cooldown.
func (r *Rotator) Acquire(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.credentials) == 0 {
		return "", ErrNoCredentials
	}

	r.maybeResetLocked()

	credential := r.credentials[r.next]
	r.next = (r.next + 1) % len(r.credentials)

	r.counts[credential]++
	r.logger.Debug().
		Str("credential", mask(credential)).
		Int("count", r.counts[credential]).
		Int("budget", r.opts.RequestsPerMinute).
		Msg("credential acquired")

	if r.counts[credential] > r.opts.RequestsPerMinute {
		r.logger.Info().
			Str("credential", mask(credential)).
			Dur("cooldown", r.opts.Cooldown).
			Msg("credential budget exhausted, cooling down")
		if err := r.opts.Sleep(ctx, r.opts.Cooldown); err != nil {
			r.counts[credential]--
			return "", err
		}
		r.resetLocked()
		r.counts[credential] = 1
	}

	return credential, nil
}

// RecordUse charges one request against credential without rotating.
func (r *Rotator) RecordUse(credential string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.maybeResetLocked()
	r.counts[credential]++
}

// IsExhausted reports whether credential has used up its budget in the current window.
func (r *Rotator) IsExhausted(credential string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.maybeResetLocked()
	return r.counts[credential] >= r.opts.RequestsPerMinute
}

// Count returns the requests charged to credential in the current window.
func (r *Rotator) Count(credential string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[credential]
}

func (r *Rotator) maybeResetLocked() {
	if r.opts.Now().Sub(r.windowStart) >= r.opts.Window {
		r.resetLocked()
		r.logger.Debug().Msg("credential counters reset")
	}
}

func (r *Rotator) resetLocked() {
	for c := range r.counts {
		r.counts[c] = 0
	}
	r.windowStart = r.opts.Now()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func mask(credential string) string {
	if len(credential) <= 4 {
		return "****"
	}
	return "****" + credential[len(credential)-4:]
}
