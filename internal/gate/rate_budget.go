package gate

import (
	"sync"
	"time"

	"rpcguard/internal/config"
)

const budgetIdleEviction = 5 * time.Minute

// rateBudget is a per-identity soft limit using a two-slot sliding window
// approximation: the previous second's count is weighted by the unelapsed
// fraction of the current second. Cheap enough for the hot path and smooth
// enough to not gate bursts at second boundaries.
type rateBudget struct {
	mu      sync.Mutex
	windows map[string]*budgetWindow
	sweep   time.Time
}

type budgetWindow struct {
	second   int64
	current  uint64
	previous uint64
	lastSeen time.Time
}

func newRateBudget() *rateBudget {
	return &rateBudget{
		windows: make(map[string]*budgetWindow),
	}
}

// Allow counts the request against the key's budget and reports whether it
// fits. The limit is requests_per_second with burst headroom on top, both
// from live configuration.
func (b *rateBudget) Allow(key string, now time.Time) bool {
	cfg := config.GetConfig().Gate
	if cfg.RequestsPerSecond == 0 {
		return true
	}
	limit := float64(cfg.RequestsPerSecond) + float64(cfg.Burst)

	sec := now.Unix()

	b.mu.Lock()
	defer b.mu.Unlock()

	w, ok := b.windows[key]
	if !ok {
		w = &budgetWindow{second: sec}
		b.windows[key] = w
	}

	if sec != w.second {
		if sec == w.second+1 {
			w.previous = w.current
		} else {
			w.previous = 0
		}
		w.current = 0
		w.second = sec
	}

	w.lastSeen = now
	b.maybeSweep(now)

	elapsed := float64(now.Nanosecond()) / float64(time.Second)
	estimated := float64(w.previous)*(1-elapsed) + float64(w.current) + 1

	if estimated > limit {
		return false
	}

	w.current++
	return true
}

// maybeSweep drops windows idle past the eviction horizon. Runs at most
// once per horizon, under the lock already held by Allow.
func (b *rateBudget) maybeSweep(now time.Time) {
	if now.Sub(b.sweep) < budgetIdleEviction {
		return
	}
	b.sweep = now

	for key, w := range b.windows {
		if now.Sub(w.lastSeen) > budgetIdleEviction {
			delete(b.windows, key)
		}
	}
}
