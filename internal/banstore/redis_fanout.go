package banstore

import (
	"context"
	"encoding/json"
	"time"

	"rpcguard/internal/domain"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

const (
	banUpdatesChannel   = "rpcguard:bans:updates"
	banPublishTimeout   = 2 * time.Second
	banFanoutRefreshTTL = 10 * time.Second
)

// banUpdate is the cross-instance invalidation message. Other gateway
// instances apply it to their snapshots immediately instead of waiting for
// the next refresh, which keeps the ban propagation delay to network
// latency rather than the refresh interval.
type banUpdate struct {
	Action  string              `json:"action"`
	BanType domain.IdentityType `json:"ban_type"`
	Target  string              `json:"target"`
}

type publisher struct {
	client *redis.Client
}

// EnableRedisFanout publishes local ban mutations and applies remote ones.
// Without Redis the store still works; propagation falls back to the
// snapshot refresh interval.
func (s *Store) EnableRedisFanout(ctx context.Context, client *redis.Client) {
	if client == nil {
		log.Warn("Ban fanout disabled: redis client is nil")
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	s.pub = &publisher{client: client}

	go s.subscribeBanUpdates(ctx, client)
}

func (s *Store) publish(update banUpdate) {
	if s.pub == nil {
		return
	}

	payload, err := json.Marshal(update)
	if err != nil {
		log.Error("Ban fanout: failed to serialize update", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), banPublishTimeout)
	defer cancel()

	if err := s.pub.client.Publish(ctx, banUpdatesChannel, payload).Err(); err != nil {
		log.Warn("Ban fanout: publish failed, peers rely on snapshot refresh", "error", err)
	}
}

func (s *Store) subscribeBanUpdates(ctx context.Context, client *redis.Client) {
	sub := client.Subscribe(ctx, banUpdatesChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}

			var update banUpdate
			if err := json.Unmarshal([]byte(msg.Payload), &update); err != nil {
				log.Error("Ban fanout: malformed update", "error", err)
				continue
			}

			switch update.Action {
			case "unban":
				s.snapshot.remove(domain.Identity{Type: update.BanType, Value: update.Target})
			case "ban":
				// The message carries no expiry; pull the authoritative row.
				refreshCtx, cancel := context.WithTimeout(ctx, banFanoutRefreshTTL)
				if err := s.Refresh(refreshCtx); err != nil {
					log.Warn("Ban fanout: refresh after remote ban failed", "error", err)
				}
				cancel()
			}
		}
	}
}
