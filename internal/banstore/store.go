package banstore

import (
	"context"
	"sync"
	"time"

	"rpcguard/internal/config"
	"rpcguard/internal/database"
	"rpcguard/internal/domain"
	"rpcguard/internal/support"

	"github.com/charmbracelet/log"
)

const lockStripes = 64

// Store is the single writer of ban state. The classifier and the admin
// action endpoint both go through it, so escalation never races: writes to
// the same target serialize on a striped lock (plus the row lock inside the
// transaction), while different targets proceed in parallel.
type Store struct {
	locks [lockStripes]sync.Mutex

	snapshot *snapshot
	pub      *publisher
}

func New() *Store {
	return &Store{
		snapshot: newSnapshot(),
	}
}

func (s *Store) stripe(identity domain.Identity) *sync.Mutex {
	return &s.locks[support.HashString(identity.Key())%lockStripes]
}

// Ban creates or escalates the ban for the target and returns the resulting
// record. A zero duration uses the configured default; permanent forces the
// escalated state immediately (admin action).
func (s *Store) Ban(ctx context.Context, identity domain.Identity, reason string, duration time.Duration, permanent bool) (domain.BanRecord, error) {
	cfg := config.GetConfig()
	if duration <= 0 {
		duration = cfg.BanDefaultDuration()
	}

	mu := s.stripe(identity)
	mu.Lock()
	defer mu.Unlock()

	record, err := database.ApplyBan(ctx, database.BanParams{
		Identity:            identity,
		Reason:              reason,
		Duration:            duration,
		Permanent:           permanent,
		EscalationThreshold: cfg.Bans.EscalationThreshold,
		RepeatWindow:        cfg.BanRepeatWindow(),
	})
	if err != nil {
		return domain.BanRecord{}, err
	}

	s.snapshot.apply(record)
	s.publish(banUpdate{Action: "ban", BanType: record.BanType, Target: record.Target})

	log.Info("Ban applied",
		"type", record.BanType,
		"target", record.Target,
		"count", record.BanCount,
		"status", record.BanStatus,
		"reason", record.Reason,
	)
	return record, nil
}

// Unban removes any ban for the target, permanent or not. Unbanning a
// target that is not banned succeeds: the admin tooling stays idempotent.
// Deleting the row also clears the escalation ladder; the override is
// logged as the audit trail.
func (s *Store) Unban(ctx context.Context, identity domain.Identity) error {
	mu := s.stripe(identity)
	mu.Lock()
	defer mu.Unlock()

	existed, err := database.RemoveBan(ctx, identity)
	if err != nil {
		return err
	}

	s.snapshot.remove(identity)
	s.publish(banUpdate{Action: "unban", BanType: identity.Type, Target: identity.Value})

	if existed {
		log.Warn("Ban removed by override", "type", identity.Type, "target", identity.Value)
	} else {
		log.Debug("Unban for target with no active ban", "type", identity.Type, "target", identity.Value)
	}
	return nil
}

// BanStatus describes the admission-relevant state of one identity.
type BanStatus struct {
	Banned    bool
	Permanent bool
	ExpiresAt time.Time
	Reason    string
}

// IsBanned answers from the in-memory snapshot only; it never touches the
// durable store, so it serves the gate's hot path in microseconds. While
// the store is unreachable the snapshot goes stale but cached bans keep
// being enforced; unknown identities stay admitted (fail open for unknown,
// closed for known).
func (s *Store) IsBanned(identity domain.Identity) BanStatus {
	return s.snapshot.lookup(identity, time.Now())
}

// SnapshotAge reports how stale the cached ban view is, for the gate's
// fail-open decision and the health endpoint.
func (s *Store) SnapshotAge(now time.Time) time.Duration {
	return s.snapshot.age(now)
}

// ListActive returns currently enforceable bans from the durable store,
// newest first, optionally filtered by type.
func (s *Store) ListActive(ctx context.Context, banType *domain.IdentityType) ([]domain.BanRecord, error) {
	return database.ListActiveBans(ctx, banType)
}

// Refresh rebuilds the snapshot from the durable store.
func (s *Store) Refresh(ctx context.Context) error {
	records, err := database.ListActiveBans(ctx, nil)
	if err != nil {
		return err
	}
	s.snapshot.replace(records, time.Now())
	return nil
}

// StartRefreshLoop refreshes the snapshot on the configured interval until
// the returned cancel func is called. A failed refresh keeps the previous
// snapshot: staleness is bounded by the next successful pass.
func (s *Store) StartRefreshLoop(parent context.Context) context.CancelFunc {
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
				if err := s.Refresh(refreshCtx); err != nil {
					log.Error("Ban snapshot refresh failed, serving stale view", "error", err, "age", s.snapshot.age(time.Now()))
				}
				refreshCancel()
			}
		}
	}()

	return cancel
}
