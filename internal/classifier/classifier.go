package classifier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"rpcguard/internal/aggregator"
	"rpcguard/internal/banstore"
	"rpcguard/internal/config"
	"rpcguard/internal/database"
	"rpcguard/internal/domain"
	"rpcguard/internal/support"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const (
	classifierLeaderKey = "rpcguard:leader:classifier"
	sweepParallelism    = 8
	sweepTimeout        = 45 * time.Second
	globalEpisodeKey    = "global|" + domain.PatternDistributed
)

// Classifier periodically evaluates aggregator output and raw-log
// correlation against the configured decision table, records attack
// patterns, and triggers ban escalation. A failed sweep is logged and
// retried on the next tick, never fatal.
type Classifier struct {
	agg  *aggregator.Aggregator
	bans *banstore.Store

	mu       sync.Mutex
	episodes map[string]time.Time
}

func New(agg *aggregator.Aggregator, bans *banstore.Store) *Classifier {
	return &Classifier{
		agg:      agg,
		bans:     bans,
		episodes: make(map[string]time.Time),
	}
}

// Launch runs the sweep loop in the background. With Redis available the
// loop is leadership-gated so only one instance classifies at a time.
func (c *Classifier) Launch(parent context.Context, redisClient *redis.Client) context.CancelFunc {
	ctx, cancel := context.WithCancel(parent)

	go func() {
		err := support.RunWithLeader(ctx, redisClient, classifierLeaderKey, support.DefaultLeadershipTTL, func(leaderCtx context.Context) {
			c.runLoop(leaderCtx)
		})
		if err != nil && ctx.Err() == nil {
			log.Error("Classifier leadership loop terminated", "error", err)
		}
	}()

	return cancel
}

func (c *Classifier) runLoop(ctx context.Context) {
	for {
		interval := time.Duration(config.GetConfig().Classifier.IntervalSeconds) * time.Second
		if interval <= 0 {
			interval = 30 * time.Second
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
			sweepCtx, cancel := context.WithTimeout(ctx, sweepTimeout)
			if err := c.Sweep(sweepCtx, time.Now()); err != nil {
				log.Error("Classification sweep failed, will retry on next tick", "error", err)
			}
			cancel()
		}
	}
}

// Sweep runs one full evaluation pass: per-identity bands in parallel, then
// the cross-identity distributed check against the raw log.
func (c *Classifier) Sweep(ctx context.Context, now time.Time) error {
	cfg := config.GetConfig()
	bands := BuildBands(cfg)
	actionAt := ParseSeverity(cfg.Classifier.ActionSeverity)

	activities := c.agg.ActiveIdentities(now)

	var (
		verdictMu sync.Mutex
		verdicts  []Verdict
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(sweepParallelism)

	for _, activity := range activities {
		activity := activity
		group.Go(func() error {
			if groupCtx.Err() != nil {
				return groupCtx.Err()
			}

			m := Metrics{
				Identity: activity.Identity,
				Requests: activity.Requests,
				Blocked:  activity.Blocked,
				Errors:   activity.Errors,
			}
			if m.Requests > 0 {
				m.BlockedRatio = float64(m.Blocked) / float64(m.Requests)
				m.ErrorRatio = float64(m.Errors) / float64(m.Requests)
			}

			verdict, ok := Evaluate(bands, m)
			if !ok {
				return nil
			}

			verdictMu.Lock()
			verdicts = append(verdicts, verdict)
			verdictMu.Unlock()
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return err
	}

	for _, verdict := range verdicts {
		c.handleVerdict(ctx, cfg, verdict, actionAt, now)
	}

	return c.sweepGlobal(ctx, cfg, now)
}

func (c *Classifier) handleVerdict(ctx context.Context, cfg config.Config, verdict Verdict, actionAt Severity, now time.Time) {
	key := verdict.Identity.Key() + "|" + verdict.Pattern
	if !c.episodeAllowed(key, cfg.ClassifierCooldown(), now) {
		return
	}

	autoBlock := actionAt > SeverityNone && verdict.Severity >= actionAt

	pattern := &domain.AttackPattern{
		PatternType:   verdict.Pattern,
		Severity:      verdict.Severity.String(),
		DetectedAt:    now.UTC(),
		TotalRequests: verdict.Metrics.Requests,
		AutoBlocked:   autoBlock,
		Notes: fmt.Sprintf("%s %s: %d requests, blocked ratio %.2f, error ratio %.2f",
			verdict.Identity.Type, verdict.Identity.Value,
			verdict.Metrics.Requests, verdict.Metrics.BlockedRatio, verdict.Metrics.ErrorRatio),
	}
	switch verdict.Identity.Type {
	case domain.IdentityIP:
		pattern.DistinctIPs = 1
	case domain.IdentityWallet:
		pattern.DistinctWallets = 1
	}

	if err := database.InsertAttackPattern(ctx, pattern); err != nil {
		log.Error("Failed to record attack pattern", "error", err, "target", verdict.Identity.Value)
		c.clearEpisode(key)
		return
	}

	log.Warn("Abuse detected",
		"pattern", verdict.Pattern,
		"severity", verdict.Severity.String(),
		"type", verdict.Identity.Type,
		"target", verdict.Identity.Value,
		"requests", verdict.Metrics.Requests,
		"auto_blocked", autoBlock,
	)

	if !autoBlock {
		return
	}

	reason := fmt.Sprintf("auto: %s %s", verdict.Pattern, verdict.Severity)
	if _, err := c.bans.Ban(ctx, verdict.Identity, reason, 0, false); err != nil {
		log.Error("Failed to apply auto ban", "error", err, "target", verdict.Identity.Value)
	}
}

func (c *Classifier) sweepGlobal(ctx context.Context, cfg config.Config, now time.Time) error {
	since := now.Add(-cfg.ClassifierWindow())

	ips, wallets, countries, err := database.CountDistinctIdentitiesSince(ctx, since)
	if err != nil {
		return fmt.Errorf("classifier: distinct identity scan: %w", err)
	}

	pattern, severity, ok := EvaluateGlobal(cfg, GlobalMetrics{
		DistinctIPs:       ips,
		DistinctWallets:   wallets,
		DistinctCountries: countries,
	})
	if !ok {
		return nil
	}

	if !c.episodeAllowed(globalEpisodeKey, cfg.ClassifierCooldown(), now) {
		return nil
	}

	record := &domain.AttackPattern{
		PatternType:     pattern,
		Severity:        severity.String(),
		DetectedAt:      now.UTC(),
		DistinctIPs:     uint32(ips),
		DistinctWallets: uint32(wallets),
		Notes: fmt.Sprintf("distributed traffic: %d distinct IPs, %d wallets, %d countries in %s",
			ips, wallets, countries, cfg.ClassifierWindow()),
	}

	if err := database.InsertAttackPattern(ctx, record); err != nil {
		c.clearEpisode(globalEpisodeKey)
		return fmt.Errorf("classifier: record distributed pattern: %w", err)
	}

	log.Warn("Distributed attack pattern detected",
		"severity", severity.String(),
		"distinct_ips", ips,
		"distinct_countries", countries,
	)
	return nil
}

// episodeAllowed reports whether a new attack-pattern record may be emitted
// for the episode key, and marks it. Repeated detections of the same
// ongoing episode inside the cool-down are suppressed.
func (c *Classifier) episodeAllowed(key string, cooldown time.Duration, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if last, ok := c.episodes[key]; ok && now.Sub(last) < cooldown {
		return false
	}

	// Prune stale episodes opportunistically.
	for k, t := range c.episodes {
		if now.Sub(t) >= cooldown {
			delete(c.episodes, k)
		}
	}

	c.episodes[key] = now
	return true
}

func (c *Classifier) clearEpisode(key string) {
	c.mu.Lock()
	delete(c.episodes, key)
	c.mu.Unlock()
}
