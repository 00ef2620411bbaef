// Package dedup suppresses duplicate and too-frequent signals. Two windows
// apply independently: a per-(strategy, symbol, side) dedup window, and a
// per-symbol cooldown after the last successful entry regardless of key.
package dedup

import (
	"fmt"
	"sync"
	"time"
)

// Limiter tracks last-seen signals and last entries per symbol
type Limiter struct {
	mu          sync.Mutex
	now         func() time.Time
	dedupWindow time.Duration
	cooldown    time.Duration
	lastSeen    map[string]time.Time
	lastEntry   map[string]time.Time
}

// New creates a Limiter. Pass nil for now to use time.Now.
func New(dedupWindow, cooldown time.Duration, now func() time.Time) *Limiter {
	if now == nil {
		now = time.Now
	}
	return &Limiter{
		now:         now,
		dedupWindow: dedupWindow,
		cooldown:    cooldown,
		lastSeen:    make(map[string]time.Time),
		lastEntry:   make(map[string]time.Time),
	}
}

// Admit decides whether a signal may proceed. A repeat of the same
// (strategy, symbol, side) key inside the dedup window is rejected, as is
// any signal for a symbol still inside its entry cooldown. Every signal,
// admitted or not, refreshes the key's last-seen timestamp, so a
// continuous duplicate stream stays suppressed until it pauses for a full
// window.
func (l *Limiter) Admit(strategy, symbol, side string) (bool, string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	key := fmt.Sprintf("%s|%s|%s", strategy, symbol, side)

	seen, repeat := l.lastSeen[key]
	l.lastSeen[key] = now

	if repeat && now.Sub(seen) < l.dedupWindow {
		return false, "duplicate signal inside dedup window"
	}
	if entered, ok := l.lastEntry[symbol]; ok && now.Sub(entered) < l.cooldown {
		return false, "symbol inside entry cooldown"
	}
	return true, ""
}

// MarkEntry records a successful entry for a symbol, starting its cooldown
func (l *Limiter) MarkEntry(symbol string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastEntry[symbol] = l.now()
}
