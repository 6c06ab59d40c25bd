package config

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

const (
	redisConfigKey     = "rpcguard:config:settings"
	redisConfigChannel = "rpcguard:config:updates"
	redisOpTimeout     = 5 * time.Second
)

type redisSyncState struct {
	mu     sync.RWMutex
	client *redis.Client
	ctx    context.Context
	cancel context.CancelFunc
}

var globalRedisSync redisSyncState

// EnableRedisSynchronization keeps threshold tuning consistent across
// gateway instances: updates applied on one instance are published and
// picked up by the rest.
func EnableRedisSynchronization(ctx context.Context, client *redis.Client) {
	if client == nil {
		log.Warn("Config synchronization disabled: redis client is nil")
		return
	}

	if ctx == nil {
		ctx = context.Background()
	}

	syncCtx, cancel := context.WithCancel(ctx)

	globalRedisSync.mu.Lock()
	if globalRedisSync.client != nil {
		globalRedisSync.mu.Unlock()
		cancel()
		return
	}

	globalRedisSync.client = client
	globalRedisSync.ctx = syncCtx
	globalRedisSync.cancel = cancel
	globalRedisSync.mu.Unlock()

	loaded, err := loadConfigFromRedis(syncCtx, client)
	if err != nil {
		log.Error("Config sync: failed to load configuration from redis", "error", err)
	}

	if !loaded {
		payload, err := json.Marshal(GetConfig())
		if err != nil {
			log.Error("Config sync: failed to serialize configuration for redis", "error", err)
		} else if err := broadcastConfigUpdate(payload); err != nil {
			log.Error("Config sync: failed to publish configuration to redis", "error", err)
		}
	}

	go subscribeToConfigUpdates(syncCtx, client)
}

// DisableRedisSynchronization tears down the subscription, primarily for
// shutdown paths.
func DisableRedisSynchronization() {
	globalRedisSync.mu.Lock()
	defer globalRedisSync.mu.Unlock()

	if globalRedisSync.cancel != nil {
		globalRedisSync.cancel()
	}
	globalRedisSync.client = nil
	globalRedisSync.ctx = nil
	globalRedisSync.cancel = nil
}

func loadConfigFromRedis(ctx context.Context, client *redis.Client) (bool, error) {
	opCtx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	payload, err := client.Get(opCtx, redisConfigKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}

	cfg, err := parseConfig([]byte(payload))
	if err != nil {
		return true, err
	}

	if err := applyConfigUpdate(cfg, configUpdateOptions{persistToFile: true, source: "redis"}); err != nil {
		return true, err
	}

	return true, nil
}

func broadcastConfigUpdate(payload []byte) error {
	globalRedisSync.mu.RLock()
	client := globalRedisSync.client
	ctx := globalRedisSync.ctx
	globalRedisSync.mu.RUnlock()

	if client == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	opCtx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	if err := client.Set(opCtx, redisConfigKey, payload, 0).Err(); err != nil {
		return err
	}
	return client.Publish(opCtx, redisConfigChannel, payload).Err()
}

func subscribeToConfigUpdates(ctx context.Context, client *redis.Client) {
	sub := client.Subscribe(ctx, redisConfigChannel)
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
			cfg, err := parseConfig([]byte(msg.Payload))
			if err != nil {
				log.Error("Config sync: received malformed configuration", "error", err)
				continue
			}
			if err := applyConfigUpdate(cfg, configUpdateOptions{persistToFile: true, source: "redis"}); err != nil {
				log.Error("Config sync: failed to apply remote configuration", "error", err)
			}
		}
	}
}
