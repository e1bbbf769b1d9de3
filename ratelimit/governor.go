// Package ratelimit gates outbound fetches behind a sliding request budget
// and a cooldown window entered when the upstream signals a block.
package ratelimit

import (
	"sync"
	"time"

	"github.com/izome2/moftahak-discovery/config"
)

// Decision is the outcome of a Check call.
type Decision struct {
	Allowed bool
	Wait    time.Duration
	Reason  string
}

// Governor tracks the rolling request window, per-request spacing and the
// cooldown state. Safe for concurrent use; fetches in a batch run on
// separate goroutines.
type Governor struct {
	window          time.Duration
	maxPerWindow    int
	spacing         time.Duration
	defaultCooldown time.Duration

	mu           sync.Mutex
	now          func() time.Time
	requestCount int
	windowStart  time.Time
	lastRequest  time.Time
	blocked      bool
	blockUntil   time.Time
}

// New builds a governor from the configured budget.
func New(cfg *config.Config) *Governor {
	g := &Governor{
		window:          cfg.RateWindow,
		maxPerWindow:    cfg.MaxRequestsPerMinute,
		spacing:         cfg.MinRequestSpacing,
		defaultCooldown: cfg.DefaultCooldown,
		now:             time.Now,
	}
	g.windowStart = g.now()
	return g
}

// Check reports whether a fetch may be issued right now. An expired
// cooldown or window is reset lazily here; otherwise the call does not
// mutate state.
func (g *Governor) Check() Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()

	if g.blocked {
		if now.Before(g.blockUntil) {
			return Decision{Wait: g.blockUntil.Sub(now), Reason: "cooldown active"}
		}
		g.blocked = false
		g.requestCount = 0
		g.windowStart = now
	}

	g.rollWindowLocked(now)

	if g.requestCount >= g.maxPerWindow {
		return Decision{Wait: g.windowStart.Add(g.window).Sub(now), Reason: "minute budget exhausted"}
	}
	if !g.lastRequest.IsZero() {
		if since := now.Sub(g.lastRequest); since < g.spacing {
			return Decision{Wait: g.spacing - since, Reason: "request spacing"}
		}
	}
	return Decision{Allowed: true}
}

// Record accounts for one actual outbound fetch. Call it once per HTTP
// request, never per logical search.
func (g *Governor) Record() {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.rollWindowLocked(now)
	g.requestCount++
	g.lastRequest = now
}

// Cooldown suspends all fetching for d. A non-positive d applies the
// configured default.
func (g *Governor) Cooldown(d time.Duration) {
	if d <= 0 {
		d = g.defaultCooldown
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.blocked = true
	g.blockUntil = g.now().Add(d)
}

// Reset unconditionally zeroes all counters and clears any cooldown.
func (g *Governor) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requestCount = 0
	g.windowStart = g.now()
	g.lastRequest = time.Time{}
	g.blocked = false
	g.blockUntil = time.Time{}
}

// Blocked reports whether a cooldown is currently in force.
func (g *Governor) Blocked() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.blocked && g.now().Before(g.blockUntil)
}

// Requests returns the request count in the current window.
func (g *Governor) Requests() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollWindowLocked(g.now())
	return g.requestCount
}

func (g *Governor) rollWindowLocked(now time.Time) {
	if now.Sub(g.windowStart) >= g.window {
		g.requestCount = 0
		g.windowStart = now
	}
}
