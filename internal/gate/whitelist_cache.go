package gate

import (
	"context"
	"sync"
	"time"

	"rpcguard/internal/config"
	"rpcguard/internal/database"
	"rpcguard/internal/domain"

	"github.com/charmbracelet/log"
)

// WhitelistCache mirrors the whitelist tables in memory so the gate's
// short-circuit check costs a map lookup. Refreshed on the same cadence as
// the ban snapshot; admin mutations apply locally right away.
type WhitelistCache struct {
	mu      sync.RWMutex
	entries map[string]struct{}
}

func NewWhitelistCache() *WhitelistCache {
	return &WhitelistCache{
		entries: make(map[string]struct{}),
	}
}

func (c *WhitelistCache) Contains(identity domain.Identity) bool {
	c.mu.RLock()
	_, ok := c.entries[identity.Key()]
	c.mu.RUnlock()
	return ok
}

func (c *WhitelistCache) Add(identity domain.Identity) {
	c.mu.Lock()
	c.entries[identity.Key()] = struct{}{}
	c.mu.Unlock()
}

func (c *WhitelistCache) Remove(identity domain.Identity) {
	c.mu.Lock()
	delete(c.entries, identity.Key())
	c.mu.Unlock()
}

// Refresh rebuilds the cache from the durable whitelist.
func (c *WhitelistCache) Refresh(ctx context.Context) error {
	identities, err := database.ListWhitelist(ctx)
	if err != nil {
		return err
	}

	entries := make(map[string]struct{}, len(identities))
	for _, identity := range identities {
		entries[identity.Key()] = struct{}{}
	}

	c.mu.Lock()
	c.entries = entries
	c.mu.Unlock()
	return nil
}

// StartRefreshLoop keeps the cache synchronized until cancelled. Failures
// keep the previous view.
func (c *WhitelistCache) StartRefreshLoop(parent context.Context) context.CancelFunc {
	ctx, cancel := context.WithCancel(parent)

	go func() {
		for {
			interval := time.Duration(config.GetConfig().Bans.SnapshotRefreshSeconds) * time.Second
			if interval <= 0 {
				interval = 15 * time.Second
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(interval):
				refreshCtx, refreshCancel := context.WithTimeout(ctx, interval)
				if err := c.Refresh(refreshCtx); err != nil {
					log.Error("Whitelist cache refresh failed, serving stale view", "error", err)
				}
				refreshCancel()
			}
		}
	}()

	return cancel
}
