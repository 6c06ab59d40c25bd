package runtime

import (
	"context"
	"errors"
	"time"

	"rpcguard/internal/geo"
	"rpcguard/internal/geolite"
	"rpcguard/internal/support"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

const (
	geoLiteLeaderKey   = "rpcguard:leader:geolite_update"
	geoLiteLeaderTTL   = 2 * time.Minute
	geoLiteUpdateEvery = 24 * time.Hour
	geoLiteTimeout     = 5 * time.Minute
)

// LaunchGeoLiteUpdate refreshes the country database daily and reloads the
// resolver. Leadership-gated: with several instances sharing a data volume,
// one download is enough. Without a license key the loop idles.
func LaunchGeoLiteUpdate(parent context.Context, client *redis.Client, resolver *geo.Resolver) context.CancelFunc {
	ctx, cancel := context.WithCancel(parent)

	go func() {
		err := support.RunWithLeader(ctx, client, geoLiteLeaderKey, geoLiteLeaderTTL, func(leaderCtx context.Context) {
			geoLiteUpdateLoop(leaderCtx, resolver)
		})
		if err != nil && ctx.Err() == nil {
			log.Error("GeoLite update leadership lost", "error", err)
		}
	}()

	return cancel
}

func geoLiteUpdateLoop(ctx context.Context, resolver *geo.Resolver) {
	runGeoLiteUpdate(ctx, resolver)

	ticker := time.NewTicker(geoLiteUpdateEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runGeoLiteUpdate(ctx, resolver)
		}
	}
}

func runGeoLiteUpdate(ctx context.Context, resolver *geo.Resolver) {
	updateCtx, cancel := context.WithTimeout(ctx, geoLiteTimeout)
	defer cancel()

	updated, err := geolite.UpdateDatabase(updateCtx)
	if err != nil {
		if errors.Is(err, geolite.ErrNoLicenseKey) {
			log.Debug("GeoLite update skipped, no license key configured")
			return
		}
		log.Error("GeoLite update failed", "error", err)
		return
	}
	if !updated {
		return
	}

	if err := resolver.Reload(); err != nil {
		log.Error("Failed to reload GeoLite database after update", "error", err)
		return
	}
	log.Info("GeoLite country database updated")
}
