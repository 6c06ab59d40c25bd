package aggregator

import (
	"testing"
	"time"

	"rpcguard/internal/domain"
	"rpcguard/internal/ingest"
)

func requestEvent(seq uint64, ip string, at time.Time) ingest.Event {
	return ingest.Event{
		Seq: seq,
		Entry: domain.RequestLogEntry{
			IP:          ip,
			Method:      "POST",
			StatusCode:  200,
			RequestedAt: at,
		},
	}
}

func identityTotals(t *testing.T, a *Aggregator, identity domain.Identity, now time.Time) IdentityActivity {
	t.Helper()
	for _, activity := range a.ActiveIdentities(now) {
		if activity.Identity == identity {
			return activity
		}
	}
	return IdentityActivity{Identity: identity}
}

func TestObserveDeduplicatesBySequence(t *testing.T) {
	a := New()
	now := time.Now()

	ev := requestEvent(7, "203.0.113.1", now)
	a.Observe(ev)
	a.Observe(ev)
	a.Observe(requestEvent(3, "203.0.113.1", now))

	activity := identityTotals(t, a, domain.IPIdentity("203.0.113.1"), now)
	if activity.Requests != 1 {
		t.Fatalf("redelivered events must count once, got %d", activity.Requests)
	}
}

func TestObserveTracksWalletAndIPSeparately(t *testing.T) {
	a := New()
	now := time.Now()
	wallet := "0x00000000000000000000000000000000000000dd"

	ev := requestEvent(1, "203.0.113.1", now)
	ev.Entry.Wallet = wallet
	ev.Entry.Blocked = true
	ev.Entry.StatusCode = 403
	a.Observe(ev)

	ipActivity := identityTotals(t, a, domain.IPIdentity("203.0.113.1"), now)
	walletActivity := identityTotals(t, a, domain.WalletIdentity(wallet), now)

	if ipActivity.Requests != 1 || ipActivity.Blocked != 1 {
		t.Fatalf("unexpected ip activity %+v", ipActivity)
	}
	if walletActivity.Requests != 1 || walletActivity.Blocked != 1 {
		t.Fatalf("unexpected wallet activity %+v", walletActivity)
	}

	// Blocked requests are not errors.
	if ipActivity.Errors != 0 {
		t.Fatalf("blocked request must not count as error, got %d", ipActivity.Errors)
	}
}

func TestSeriesIsGapFilled(t *testing.T) {
	a := New()
	now := time.Now()
	identity := domain.IPIdentity("203.0.113.1")

	a.Observe(requestEvent(1, identity.Value, now.Add(-55*time.Second)))
	a.Observe(requestEvent(2, identity.Value, now.Add(-20*time.Second)))

	series := a.Series(identity, now)
	if len(series) != a.realtimeSize {
		t.Fatalf("expected %d points, got %d", a.realtimeSize, len(series))
	}

	var total uint64
	for i, point := range series {
		total += point.Requests
		if i > 0 {
			gap := point.Start.Sub(series[i-1].Start)
			if gap != a.realtimeWidth {
				t.Fatalf("series must be contiguous, gap of %v at index %d", gap, i)
			}
		}
	}
	if total != 2 {
		t.Fatalf("expected 2 requests across the window, got %d", total)
	}
}

func TestSeriesForUnknownIdentityIsAllZeros(t *testing.T) {
	a := New()
	now := time.Now()

	series := a.Series(domain.IPIdentity("198.51.100.9"), now)
	if len(series) != a.realtimeSize {
		t.Fatalf("expected %d points, got %d", a.realtimeSize, len(series))
	}
	for _, point := range series {
		if point.Requests != 0 || point.Blocked != 0 {
			t.Fatalf("unknown identity must yield zeros, got %+v", point)
		}
	}
}

func TestTickClosesElapsedRollupBuckets(t *testing.T) {
	a := New()
	now := time.Now()

	a.Observe(requestEvent(1, "203.0.113.1", now.Add(-5*time.Minute)))
	a.Observe(requestEvent(2, "203.0.113.1", now.Add(-5*time.Minute)))

	closed := a.Tick(now)
	if len(closed) != 1 {
		t.Fatalf("expected one closed bucket, got %d", len(closed))
	}

	stat := closed[0]
	if stat.Identity != "203.0.113.1" || stat.RequestCount != 2 {
		t.Fatalf("unexpected closed bucket %+v", stat)
	}
	if stat.BucketSeconds != uint32(a.rollupWidth/time.Second) {
		t.Fatalf("unexpected bucket width %d", stat.BucketSeconds)
	}

	// The bucket is gone after closing; a second tick returns nothing.
	if again := a.Tick(now); len(again) != 0 {
		t.Fatalf("closed buckets must not be re-emitted, got %d", len(again))
	}
}

func TestTickKeepsOpenRollupBucket(t *testing.T) {
	a := New()
	now := time.Now()

	a.Observe(requestEvent(1, "203.0.113.1", now))

	if closed := a.Tick(now); len(closed) != 0 {
		t.Fatalf("current bucket must stay open, got %d closed", len(closed))
	}
}

func TestTickEvictsIdleIdentities(t *testing.T) {
	a := New()
	start := time.Now()
	identity := domain.IPIdentity("203.0.113.1")

	a.Observe(requestEvent(1, identity.Value, start))

	span := time.Duration(a.realtimeSize) * a.realtimeWidth
	later := start.Add(span + 2*a.realtimeWidth)
	a.Tick(later)

	if activities := a.ActiveIdentities(later); len(activities) != 0 {
		t.Fatalf("idle identity must be evicted, got %d active", len(activities))
	}
}
