package support

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultLeadershipTTL = 45 * time.Second
	leadershipRetryDelay = time.Second
	leadershipOpTimeout  = 5 * time.Second
)

var (
	leaderCounter atomic.Uint64

	renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end`)

	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`)
)

// RunWithLeader acquires a Redis leadership lock and invokes run while the
// lock is held. Only one gateway instance at a time should run the abuse
// sweep and the retention compactor; this is the serialization point. The
// run function receives a context that is cancelled when leadership is lost
// or the parent context is done. When client is nil (Redis disabled) run is
// invoked directly, since a single instance is trivially the leader.
func RunWithLeader(ctx context.Context, client *redis.Client, key string, ttl time.Duration, run func(context.Context)) error {
	if run == nil {
		return errors.New("support: leader run function cannot be nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if ttl <= 0 {
		ttl = DefaultLeadershipTTL
	}

	if client == nil {
		run(ctx)
		return ctx.Err()
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		value := leaderID()
		ok, err := client.SetNX(ctx, key, value, ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn("leader lock: setnx failed", "key", key, "error", err)
			if !sleepCtx(ctx, leadershipRetryDelay) {
				return ctx.Err()
			}
			continue
		}
		if !ok {
			if !sleepCtx(ctx, leadershipRetryDelay) {
				return ctx.Err()
			}
			continue
		}

		log.Debug("leader lock: acquired", "key", key)
		leaderCtx, cancel := context.WithCancel(ctx)
		stopRenew := make(chan struct{})
		go renewLoop(leaderCtx, cancel, client, key, value, ttl, stopRenew)

		run(leaderCtx)

		close(stopRenew)
		cancel()
		releaseLock(client, key, value)
		log.Debug("leader lock: released", "key", key)

		if !sleepCtx(ctx, leadershipRetryDelay) {
			return ctx.Err()
		}
	}
}

func renewLoop(ctx context.Context, cancel context.CancelFunc, client *redis.Client, key, value string, ttl time.Duration, stop <-chan struct{}) {
	interval := ttl / 3
	if interval < time.Second {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			opCtx, opCancel := context.WithTimeout(context.Background(), leadershipOpTimeout)
			res, err := renewScript.Run(opCtx, client, []string{key}, value, ttl.Milliseconds()).Result()
			opCancel()
			if err != nil {
				log.Warn("leader lock: renewal failed", "key", key, "error", err)
				cancel()
				return
			}
			if updated, ok := res.(int64); ok && updated == 0 {
				log.Warn("leader lock: lost", "key", key)
				cancel()
				return
			}
		}
	}
}

func releaseLock(client *redis.Client, key, value string) {
	ctx, cancel := context.WithTimeout(context.Background(), leadershipOpTimeout)
	defer cancel()

	if _, err := releaseScript.Run(ctx, client, []string{key}, value).Result(); err != nil && !errors.Is(err, redis.Nil) {
		log.Warn("leader lock: release failed", "key", key, "error", err)
	}
}

func leaderID() string {
	host, _ := os.Hostname()
	return fmt.Sprintf("%s-%d-%d-%d", host, os.Getpid(), time.Now().UnixNano(), leaderCounter.Add(1))
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
