package database

import (
	"context"
	"testing"
	"time"

	"rpcguard/internal/domain"
)

func rollupAt(identity string, start time.Time, requests uint64) domain.AggregatedStat {
	return domain.AggregatedStat{
		IdentityType:  string(domain.IdentityIP),
		Identity:      identity,
		BucketStart:   start,
		BucketSeconds: 60,
		RequestCount:  requests,
	}
}

func TestUpsertAggregatedStatsIsRetrySafe(t *testing.T) {
	setupSecurityTestDB(t)
	ctx := context.Background()

	start := time.Now().UTC().Truncate(time.Minute)
	stats := []domain.AggregatedStat{rollupAt("203.0.113.1", start, 42)}

	if err := UpsertAggregatedStats(ctx, stats); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	// A retried flush of the same closed bucket must overwrite, not add.
	if err := UpsertAggregatedStats(ctx, stats); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	total, err := SumRequestCounts(ctx, domain.IPIdentity("203.0.113.1"), start.Add(-time.Minute), start.Add(time.Minute))
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	if total != 42 {
		t.Fatalf("expected 42 requests after retry, got %d", total)
	}
}

func TestInsertAggregatedStatsIfAbsentKeepsExisting(t *testing.T) {
	setupSecurityTestDB(t)
	ctx := context.Background()

	start := time.Now().UTC().Truncate(time.Minute)

	if err := UpsertAggregatedStats(ctx, []domain.AggregatedStat{rollupAt("203.0.113.1", start, 42)}); err != nil {
		t.Fatalf("seed bucket: %v", err)
	}
	if err := InsertAggregatedStatsIfAbsent(ctx, []domain.AggregatedStat{rollupAt("203.0.113.1", start, 7)}); err != nil {
		t.Fatalf("insert if absent: %v", err)
	}

	total, err := SumRequestCounts(ctx, domain.IPIdentity("203.0.113.1"), start.Add(-time.Minute), start.Add(time.Minute))
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	if total != 42 {
		t.Fatalf("existing bucket must win, got %d", total)
	}
}

func TestListAggregatedStatsOrdersByBucket(t *testing.T) {
	setupSecurityTestDB(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Minute)
	stats := []domain.AggregatedStat{
		rollupAt("203.0.113.1", base, 2),
		rollupAt("203.0.113.1", base.Add(-2*time.Minute), 1),
		rollupAt("203.0.113.2", base, 9),
	}
	if err := UpsertAggregatedStats(ctx, stats); err != nil {
		t.Fatalf("seed: %v", err)
	}

	listed, err := ListAggregatedStats(ctx, domain.IPIdentity("203.0.113.1"), base.Add(-time.Hour), base.Add(time.Hour))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("expected 2 buckets for the identity, got %d", len(listed))
	}
	if !listed[0].BucketStart.Before(listed[1].BucketStart) {
		t.Fatal("buckets must be ordered oldest first")
	}
}

func TestPurgeAggregatedStatsBefore(t *testing.T) {
	setupSecurityTestDB(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Minute)
	if err := UpsertAggregatedStats(ctx, []domain.AggregatedStat{
		rollupAt("203.0.113.1", base.AddDate(0, 0, -100), 1),
		rollupAt("203.0.113.1", base, 2),
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	purged, err := PurgeAggregatedStatsBefore(ctx, base.AddDate(0, 0, -90))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if purged != 1 {
		t.Fatalf("expected 1 purged bucket, got %d", purged)
	}
}
