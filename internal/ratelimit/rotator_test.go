package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
}

func (f *fakeClock) Now() time.Time { return f.now }

func (f *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	f.sleeps = append(f.sleeps, d)
	f.now = f.now.Add(d)
	return nil
}

func newTestRotator(creds []string, budget int, clock *fakeClock) *Rotator {
	return New(creds, Options{
		RequestsPerMinute: budget,
		Cooldown:          time.Minute,
		Now:               clock.Now,
		Sleep:             clock.Sleep,
	}, zerolog.Nop())
}

func TestAcquireRoundRobin(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 5, 2, 14, 0, 0, 0, time.UTC)}
	r := newTestRotator([]string{"a", "b", "c"}, 8, clock)

	want := []string{"a", "b", "c", "a", "b"}
	for i, w := range want {
		got, err := r.Acquire(context.Background())
		if err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
		if got != w {
			t.Fatalf("acquire %d: expected %s, got %s", i, w, got)
		}
	}
	if r.Count("a") != 2 || r.Count("c") != 1 {
		t.Fatalf("unexpected counts a=%d c=%d", r.Count("a"), r.Count("c"))
	}
}

func TestAcquireBlocksAfterBudget(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 5, 2, 14, 0, 0, 0, time.UTC)}
	const budget = 8
	r := newTestRotator([]string{"only"}, budget, clock)

	for i := 0; i < budget; i++ {
		if _, err := r.Acquire(context.Background()); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}
	if len(clock.sleeps) != 0 {
		t.Fatalf("no cooldown expected within budget, got %v", clock.sleeps)
	}
	if !r.IsExhausted("only") {
		t.Fatal("credential should be exhausted after budget requests")
	}

	if _, err := r.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire over budget: %v", err)
	}
	if len(clock.sleeps) != 1 || clock.sleeps[0] != time.Minute {
		t.Fatalf("expected one 60s cooldown, got %v", clock.sleeps)
	}
	if got := r.Count("only"); got != 1 {
		t.Fatalf("counter after cooldown should be 1, got %d", got)
	}
}

func TestCooldownResetsWholePool(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 5, 2, 14, 0, 0, 0, time.UTC)}
	r := newTestRotator([]string{"a", "b"}, 1, clock)

	for i := 0; i < 2; i++ {
		if _, err := r.Acquire(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	// third acquisition hits "a" a second time
	if _, err := r.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	if r.Count("a") != 1 || r.Count("b") != 0 {
		t.Fatalf("expected a=1 b=0 after reset, got a=%d b=%d", r.Count("a"), r.Count("b"))
	}
}

func TestWindowResetWithoutCooldown(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 5, 2, 14, 0, 0, 0, time.UTC)}
	r := newTestRotator([]string{"a"}, 2, clock)

	for i := 0; i < 2; i++ {
		if _, err := r.Acquire(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	clock.now = clock.now.Add(61 * time.Second)

	if _, err := r.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(clock.sleeps) != 0 {
		t.Fatalf("window expiry should avoid the cooldown, slept %v", clock.sleeps)
	}
	if r.Count("a") != 1 {
		t.Fatalf("expected count 1 after window reset, got %d", r.Count("a"))
	}
}

func TestAcquireCancelledDuringCooldown(t *testing.T) {
	r := New([]string{"a"}, Options{RequestsPerMinute: 1, Cooldown: time.Hour}, zerolog.Nop())
	if _, err := r.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Acquire(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestAcquireEmptyPool(t *testing.T) {
	r := New(nil, Options{}, zerolog.Nop())
	if _, err := r.Acquire(context.Background()); !errors.Is(err, ErrNoCredentials) {
		t.Fatalf("expected ErrNoCredentials, got %v", err)
	}
}

func TestRecordUseChargesWithoutRotating(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 5, 2, 14, 0, 0, 0, time.UTC)}
	r := newTestRotator([]string{"a", "b"}, 2, clock)

	r.RecordUse("b")
	r.RecordUse("b")
	if r.Count("b") != 2 || !r.IsExhausted("b") {
		t.Fatalf("RecordUse should charge b twice, got %d", r.Count("b"))
	}

	got, err := r.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got != "a" {
		t.Fatalf("rotation should still start at a, got %s", got)
	}
	if len(clock.sleeps) != 0 {
		t.Fatalf("no cooldown expected, slept %v", clock.sleeps)
	}
}
