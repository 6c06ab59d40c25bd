package banstore

import (
	"sync"
	"time"

	"rpcguard/internal/domain"
)

type snapshotEntry struct {
	permanent bool
	expiresAt time.Time
	reason    string
}

// snapshot is the periodically rebuilt in-memory ban table serving the
// gate. Mutations from the local Ban/Unban path are applied immediately so
// a fresh ban is enforced on the very next request, without waiting for the
// refresh loop.
type snapshot struct {
	mu        sync.RWMutex
	entries   map[string]snapshotEntry
	loadedAt  time.Time
	everBuilt bool
}

func newSnapshot() *snapshot {
	return &snapshot{
		entries: make(map[string]snapshotEntry),
	}
}

func (s *snapshot) lookup(identity domain.Identity, now time.Time) BanStatus {
	s.mu.RLock()
	entry, ok := s.entries[identity.Key()]
	s.mu.RUnlock()

	if !ok {
		return BanStatus{}
	}
	if entry.permanent {
		return BanStatus{Banned: true, Permanent: true, Reason: entry.reason}
	}
	if entry.expiresAt.After(now) {
		return BanStatus{Banned: true, ExpiresAt: entry.expiresAt, Reason: entry.reason}
	}
	return BanStatus{}
}

func (s *snapshot) apply(record domain.BanRecord) {
	key := domain.Identity{Type: record.BanType, Value: record.Target}.Key()

	entry := snapshotEntry{reason: record.Reason}
	if record.ExpiresAt == nil {
		entry.permanent = true
	} else {
		entry.expiresAt = *record.ExpiresAt
	}

	s.mu.Lock()
	s.entries[key] = entry
	s.mu.Unlock()
}

func (s *snapshot) remove(identity domain.Identity) {
	s.mu.Lock()
	delete(s.entries, identity.Key())
	s.mu.Unlock()
}

func (s *snapshot) replace(records []domain.BanRecord, now time.Time) {
	entries := make(map[string]snapshotEntry, len(records))
	for _, record := range records {
		if !record.Active(now) {
			continue
		}
		entry := snapshotEntry{reason: record.Reason}
		if record.ExpiresAt == nil {
			entry.permanent = true
		} else {
			entry.expiresAt = *record.ExpiresAt
		}
		entries[domain.Identity{Type: record.BanType, Value: record.Target}.Key()] = entry
	}

	s.mu.Lock()
	s.entries = entries
	s.loadedAt = now
	s.everBuilt = true
	s.mu.Unlock()
}

func (s *snapshot) age(now time.Time) time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.everBuilt {
		return -1
	}
	return now.Sub(s.loadedAt)
}
