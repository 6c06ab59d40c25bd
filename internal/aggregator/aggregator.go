package aggregator

import (
	"context"
	"sync"
	"time"

	"rpcguard/internal/config"
	"rpcguard/internal/database"
	"rpcguard/internal/domain"
	"rpcguard/internal/ingest"

	"github.com/charmbracelet/log"
)

const (
	// rollupGrace delays closing a rollup bucket so stragglers from the
	// ingest queue still land in it.
	rollupGrace = 2 * time.Second

	flushTimeout = 30 * time.Second
)

// IdentityActivity is the realtime-window summary handed to the classifier.
type IdentityActivity struct {
	Identity domain.Identity
	Requests uint64
	Blocked  uint64
	Errors   uint64
}

type identityState struct {
	identity domain.Identity
	realtime *window
	lastSeen time.Time
}

// Aggregator folds the ingest event stream into per-identity sliding
// windows and durable rollup buckets. One instance owns all window state;
// every access goes through its lock, so concurrent ingestion into the
// current bucket is safe while closed buckets stay immutable.
type Aggregator struct {
	mu sync.Mutex

	identities map[string]*identityState
	global     *window

	// rollups holds still-open rollup buckets per identity key.
	rollups map[string]map[int64]*bucket

	// watermark is the highest ingest sequence seen; events at or below it
	// are redeliveries and are ignored.
	watermark uint64

	realtimeSize  int
	realtimeWidth time.Duration
	rollupWidth   time.Duration
}

func New() *Aggregator {
	cfg := config.GetConfig()

	size := int(cfg.Aggregator.RealtimeBuckets)
	if size <= 0 {
		size = 60
	}
	width := time.Duration(cfg.Aggregator.RealtimeBucketSeconds) * time.Second
	if width <= 0 {
		width = time.Second
	}
	rollupWidth := time.Duration(cfg.Aggregator.RollupBucketSeconds) * time.Second
	if rollupWidth <= 0 {
		rollupWidth = time.Minute
	}

	return &Aggregator{
		identities:    make(map[string]*identityState),
		global:        newWindow(size, width, time.Now()),
		rollups:       make(map[string]map[int64]*bucket),
		realtimeSize:  size,
		realtimeWidth: width,
		rollupWidth:   rollupWidth,
	}
}

// Run consumes the event stream and advances the windows once per realtime
// bucket, flushing closed rollups to the durable store. Returns when ctx is
// done and the events channel has been drained, flushing what remains.
func (a *Aggregator) Run(ctx context.Context, events <-chan ingest.Event) {
	if ctx == nil {
		ctx = context.Background()
	}

	ticker := time.NewTicker(a.realtimeWidth)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case ev, ok := <-events:
					if !ok {
						a.flushAll()
						return
					}
					a.Observe(ev)
				default:
					a.flushAll()
					return
				}
			}
		case ev, ok := <-events:
			if !ok {
				a.flushAll()
				return
			}
			a.Observe(ev)
		case now := <-ticker.C:
			closed := a.Tick(now)
			a.flush(closed)
		}
	}
}

// Observe folds one event into the realtime windows and the open rollup
// bucket for each identity it names. Redelivered events (sequence at or
// below the watermark) are dropped, so reprocessing never double-counts.
func (a *Aggregator) Observe(ev ingest.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if ev.Seq != 0 {
		if ev.Seq <= a.watermark {
			return
		}
		a.watermark = ev.Seq
	}

	entry := ev.Entry
	ts := entry.RequestedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	isError := entry.StatusCode >= 400 && !entry.Blocked

	a.global.add(ts, entry.Blocked, isError)

	a.observeIdentity(domain.IPIdentity(entry.IP), ts, entry.Blocked, isError)
	if entry.Wallet != "" {
		a.observeIdentity(domain.WalletIdentity(entry.Wallet), ts, entry.Blocked, isError)
	}
}

func (a *Aggregator) observeIdentity(identity domain.Identity, ts time.Time, blocked, isError bool) {
	key := identity.Key()

	state, ok := a.identities[key]
	if !ok {
		state = &identityState{
			identity: identity,
			realtime: newWindow(a.realtimeSize, a.realtimeWidth, ts),
		}
		a.identities[key] = state
	}
	state.realtime.add(ts, blocked, isError)
	state.lastSeen = ts

	buckets, ok := a.rollups[key]
	if !ok {
		buckets = make(map[int64]*bucket)
		a.rollups[key] = buckets
	}
	slot := ts.UTC().Truncate(a.rollupWidth).Unix()
	b, ok := buckets[slot]
	if !ok {
		b = &bucket{}
		buckets[slot] = b
	}
	b.requests++
	if blocked {
		b.blocked++
	}
	if isError {
		b.errors++
	}
}

// Tick advances every window to now, evicts idle identities, and returns
// the rollup buckets that closed and are ready to persist.
func (a *Aggregator) Tick(now time.Time) []domain.AggregatedStat {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.global.advance(now)

	span := time.Duration(a.realtimeSize) * a.realtimeWidth
	for key, state := range a.identities {
		state.realtime.advance(now)
		if now.Sub(state.lastSeen) > span {
			delete(a.identities, key)
		}
	}

	closedBefore := now.UTC().Add(-rollupGrace).Truncate(a.rollupWidth)

	var closed []domain.AggregatedStat
	for key, buckets := range a.rollups {
		identity := identityFromKey(key)
		for slot, b := range buckets {
			start := time.Unix(slot, 0).UTC()
			if !start.Before(closedBefore) {
				continue
			}
			closed = append(closed, domain.AggregatedStat{
				IdentityType:  string(identity.Type),
				Identity:      identity.Value,
				BucketStart:   start,
				BucketSeconds: uint32(a.rollupWidth / time.Second),
				RequestCount:  b.requests,
				BlockedCount:  b.blocked,
				ErrorCount:    b.errors,
			})
			delete(buckets, slot)
		}
		if len(buckets) == 0 {
			delete(a.rollups, key)
		}
	}

	return closed
}

func (a *Aggregator) flush(stats []domain.AggregatedStat) {
	if len(stats) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	if err := database.UpsertAggregatedStats(ctx, stats); err != nil {
		log.Error("Failed to flush aggregated stats", "error", err, "count", len(stats))
		return
	}
	log.Debug("Flushed aggregated stats", "count", len(stats))
}

// flushAll closes every remaining rollup bucket on shutdown.
func (a *Aggregator) flushAll() {
	a.mu.Lock()

	var stats []domain.AggregatedStat
	for key, buckets := range a.rollups {
		identity := identityFromKey(key)
		for slot, b := range buckets {
			stats = append(stats, domain.AggregatedStat{
				IdentityType:  string(identity.Type),
				Identity:      identity.Value,
				BucketStart:   time.Unix(slot, 0).UTC(),
				BucketSeconds: uint32(a.rollupWidth / time.Second),
				RequestCount:  b.requests,
				BlockedCount:  b.blocked,
				ErrorCount:    b.errors,
			})
		}
	}
	a.rollups = make(map[string]map[int64]*bucket)
	a.mu.Unlock()

	a.flush(stats)
}

// Series returns the gap-filled realtime timeline for one identity. An
// identity with no recorded traffic still yields a full window of zeros.
func (a *Aggregator) Series(identity domain.Identity, now time.Time) []Point {
	a.mu.Lock()
	defer a.mu.Unlock()

	state, ok := a.identities[identity.Key()]
	if !ok {
		return emptySeries(a.realtimeSize, a.realtimeWidth, now)
	}
	return state.realtime.series(now)
}

// GlobalSeries returns the gap-filled realtime timeline across all traffic.
func (a *Aggregator) GlobalSeries(now time.Time) []Point {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.global.series(now)
}

// ActiveIdentities summarizes every identity with traffic in the realtime
// window, for the classifier sweep.
func (a *Aggregator) ActiveIdentities(now time.Time) []IdentityActivity {
	a.mu.Lock()
	defer a.mu.Unlock()

	activities := make([]IdentityActivity, 0, len(a.identities))
	for _, state := range a.identities {
		state.realtime.advance(now)
		requests, blocked, errors := state.realtime.totals()
		if requests == 0 {
			continue
		}
		activities = append(activities, IdentityActivity{
			Identity: state.identity,
			Requests: requests,
			Blocked:  blocked,
			Errors:   errors,
		})
	}
	return activities
}

func emptySeries(size int, width time.Duration, now time.Time) []Point {
	current := now.UTC().Truncate(width)
	points := make([]Point, size)
	for i := 0; i < size; i++ {
		offset := size - 1 - i
		points[i] = Point{Start: current.Add(-time.Duration(offset) * width)}
	}
	return points
}

func identityFromKey(key string) domain.Identity {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			return domain.Identity{Type: domain.IdentityType(key[:i]), Value: key[i+1:]}
		}
	}
	return domain.Identity{Type: domain.IdentityIP, Value: key}
}
