package ratelimit

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xonecas/symbcore/internal/provider"
)

// fakeRateLimitProvider adds FetchRateLimit to a plain mock provider.
type fakeRateLimitProvider struct {
	*provider.MockProvider
	calls   atomic.Int32
	percent float64
}

func (f *fakeRateLimitProvider) FetchRateLimit(ctx context.Context) (provider.RateLimitSnapshot, error) {
	f.calls.Add(1)
	return provider.RateLimitSnapshot{
		Primary: provider.RateLimitWindow{UsedPercent: f.percent, WindowMinutes: 60},
	}, nil
}

func TestPollerReturnsErrNotSupportedForPlainProvider(t *testing.T) {
	p := New(provider.NewMock("m", "hi"), 10*time.Millisecond, nil)
	if err := p.Run(context.Background()); err != ErrNotSupported {
		t.Fatalf("expected ErrNotSupported, got %v", err)
	}
}

func TestPollerPollsOnInterval(t *testing.T) {
	fake := &fakeRateLimitProvider{MockProvider: provider.NewMock("m", "hi"), percent: 42}
	var got []provider.RateLimitSnapshot
	p := New(fake, 5*time.Millisecond, func(s provider.RateLimitSnapshot) {
		got = append(got, s)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_ = p.Run(ctx)

	if fake.calls.Load() < 2 {
		t.Fatalf("expected at least 2 polls, got %d", fake.calls.Load())
	}
	if len(got) == 0 || got[0].Primary.UsedPercent != 42 {
		t.Fatalf("unexpected snapshots: %+v", got)
	}
	if p.Last() == nil {
		t.Fatal("expected Last() to be populated")
	}
}

func TestPollerWarnsOnceAndResetsOnDrop(t *testing.T) {
	fake := &fakeRateLimitProvider{MockProvider: provider.NewMock("m", "hi"), percent: 80}
	var warnings []int
	p := New(fake, time.Hour, nil)
	p.OnWarning = func(percent int, suggestSwitch bool) {
		warnings = append(warnings, percent)
	}

	p.poll(context.Background())
	if len(warnings) != 1 || warnings[0] != 75 {
		t.Fatalf("expected a single 75%% warning, got %v", warnings)
	}

	p.poll(context.Background())
	if len(warnings) != 1 {
		t.Fatalf("expected no repeat warning at the same level, got %v", warnings)
	}

	fake.percent = 60
	p.poll(context.Background())
	fake.percent = 80
	p.poll(context.Background())
	if len(warnings) != 2 || warnings[1] != 75 {
		t.Fatalf("expected re-crossing 75%% to warn again, got %v", warnings)
	}
}

func TestPollerSuppressesLowerThresholdsAt100Percent(t *testing.T) {
	fake := &fakeRateLimitProvider{MockProvider: provider.NewMock("m", "hi"), percent: 100}
	var warnings []int
	var suggests []bool
	p := New(fake, time.Hour, nil)
	p.OnWarning = func(percent int, suggestSwitch bool) {
		warnings = append(warnings, percent)
		suggests = append(suggests, suggestSwitch)
	}

	p.poll(context.Background())
	if len(warnings) != 1 || warnings[0] != 95 {
		t.Fatalf("expected only the highest threshold (95) to fire at 100%%, got %v", warnings)
	}
	if !suggests[0] {
		t.Fatal("expected model-switch suggestion at 100% usage")
	}
}
