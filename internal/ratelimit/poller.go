// Package ratelimit runs a single ticking goroutine that periodically asks a
// provider for its current rate-limit usage, when that provider supports it.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/xonecas/symbcore/internal/provider"
)

// ErrNotSupported is returned by Poller.Run when the configured provider has
// no FetchRateLimit capability.
var ErrNotSupported = errors.New("ratelimit: provider does not support rate limit queries")

// WarningThresholds are the one-shot usage percentages a Poller warns at.
// ModelSwitchThreshold is the percentage at which it additionally suggests
// switching to a cheaper/less-loaded model.
var WarningThresholds = []int{75, 90, 95}

const ModelSwitchThreshold = 90

// Poller ticks on an interval and reports the latest RateLimitSnapshot via
// its OnSnapshot callback, plus one-shot threshold-crossing warnings via
// OnWarning.
type Poller struct {
	fetcher  provider.RateLimitFetcher
	interval time.Duration
	onSnap   func(provider.RateLimitSnapshot)

	// OnWarning fires the first time a snapshot's usage crosses upward
	// through a WarningThresholds entry, and again only after usage drops
	// back below that threshold and re-crosses it.
	OnWarning func(percent int, suggestSwitch bool)

	mu      sync.Mutex
	last    *provider.RateLimitSnapshot
	warned  map[int]bool
}

// New creates a Poller. If prov does not implement provider.RateLimitFetcher,
// Run returns ErrNotSupported immediately without starting a goroutine —
// mirroring the teacher's capability-gated ListModels/Close pattern where
// not every provider implements every optional method meaningfully.
func New(prov provider.Provider, interval time.Duration, onSnap func(provider.RateLimitSnapshot)) *Poller {
	fetcher, _ := prov.(provider.RateLimitFetcher)
	return &Poller{fetcher: fetcher, interval: interval, onSnap: onSnap, warned: make(map[int]bool)}
}

// Run blocks, polling until ctx is cancelled. Returns ErrNotSupported
// immediately if the provider has no FetchRateLimit capability. Pacing is a
// plain time.Ticker — an extra golang.org/x/time/rate limiter in front of it
// would only double-pace the same interval, so this doesn't carry one.
func (p *Poller) Run(ctx context.Context) error {
	if p.fetcher == nil {
		return ErrNotSupported
	}

	p.poll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	snap, err := p.fetcher.FetchRateLimit(ctx)
	if err != nil {
		return
	}
	p.mu.Lock()
	p.last = &snap
	p.mu.Unlock()
	if p.onSnap != nil {
		p.onSnap(snap)
	}
	p.checkThresholds(snap)
}

// checkThresholds emits one-shot warnings for each WarningThresholds entry
// newly crossed by this snapshot's highest window usage. A snapshot at 100%
// or more that crosses multiple thresholds at once only reports the highest
// one it crossed, rather than replaying the whole ladder — the lower ones are
// implied and would just be noise. Below 100%, every newly crossed threshold
// is reported.
func (p *Poller) checkThresholds(snap provider.RateLimitSnapshot) {
	if p.OnWarning == nil {
		return
	}
	percent := snap.Primary.UsedPercent
	if snap.Secondary != nil && snap.Secondary.UsedPercent > percent {
		percent = snap.Secondary.UsedPercent
	}

	p.mu.Lock()
	var crossed []int
	for _, t := range WarningThresholds {
		if percent >= float64(t) {
			if !p.warned[t] {
				crossed = append(crossed, t)
			}
		} else {
			p.warned[t] = false
		}
	}
	if percent >= 100 && len(crossed) > 1 {
		crossed = crossed[len(crossed)-1:]
	}
	for _, t := range crossed {
		p.warned[t] = true
	}
	p.mu.Unlock()

	for _, t := range crossed {
		p.OnWarning(t, percent >= ModelSwitchThreshold)
	}
}

// Last returns the most recently fetched snapshot, or nil if none yet.
func (p *Poller) Last() *provider.RateLimitSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}
