package runtime

import (
	"context"
	"time"

	"rpcguard/internal/config"
	"rpcguard/internal/database"
	"rpcguard/internal/support"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

const (
	retentionLeaderKey = "rpcguard:leader:retention"
	retentionLeaderTTL = 2 * time.Minute
	sweepTimeout       = 10 * time.Minute
)

// LaunchRetentionSweep runs the storage housekeeping loop: raw request
// rows past their retention window are folded into rollup buckets, old
// rollups and stale expired bans are purged. Only the leader instance
// sweeps, the rest stand by.
func LaunchRetentionSweep(parent context.Context, client *redis.Client) context.CancelFunc {
	ctx, cancel := context.WithCancel(parent)

	go func() {
		err := support.RunWithLeader(ctx, client, retentionLeaderKey, retentionLeaderTTL, retentionLoop)
		if err != nil && ctx.Err() == nil {
			log.Error("Retention leadership lost", "error", err)
		}
	}()

	return cancel
}

func retentionLoop(ctx context.Context) {
	for {
		interval := time.Duration(config.GetConfig().Retention.SweepIntervalMinutes) * time.Minute
		if interval <= 0 {
			interval = time.Hour
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
			sweepCtx, cancel := context.WithTimeout(ctx, sweepTimeout)
			runRetentionSweep(sweepCtx)
			cancel()
		}
	}
}

func runRetentionSweep(ctx context.Context) {
	cfg := config.GetConfig()
	now := time.Now().UTC()

	rawCutoff := now.Add(-time.Duration(cfg.Retention.RawRetentionHours) * time.Hour)
	bucketWidth := time.Duration(cfg.Aggregator.RollupBucketSeconds) * time.Second

	compacted, err := database.CompactRequestLog(ctx, rawCutoff, bucketWidth)
	if err != nil {
		log.Error("Request log compaction failed", "error", err)
	} else if compacted > 0 {
		log.Info("Compacted request log", "rows", compacted, "cutoff", rawCutoff)
	}

	aggCutoff := now.AddDate(0, 0, -int(cfg.Retention.AggregatedRetentionDays))
	purged, err := database.PurgeAggregatedStatsBefore(ctx, aggCutoff)
	if err != nil {
		log.Error("Aggregated stats purge failed", "error", err)
	} else if purged > 0 {
		log.Info("Purged aggregated stats", "rows", purged, "cutoff", aggCutoff)
	}

	// Expired bans stay around for the repeat window so escalation still
	// sees them; past that they are noise.
	removed, err := database.PurgeExpiredBans(ctx, cfg.BanRepeatWindow())
	if err != nil {
		log.Error("Expired ban purge failed", "error", err)
	} else if removed > 0 {
		log.Info("Purged expired bans", "rows", removed)
	}
}
