package classifier

import (
	"context"
	"fmt"
	"testing"
	"time"

	"rpcguard/internal/aggregator"
	"rpcguard/internal/banstore"
	"rpcguard/internal/config"
	"rpcguard/internal/database"
	"rpcguard/internal/domain"
	"rpcguard/internal/ingest"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupClassifierTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_fk=1", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite database: %v", err)
	}

	if err := db.AutoMigrate(
		&domain.RequestLogEntry{},
		&domain.AttackPattern{},
		&domain.IPBan{},
		&domain.WalletBan{},
	); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}

	database.DB = db
	t.Cleanup(func() {
		database.DB = nil
	})

	return db
}

func floodAggregator(agg *aggregator.Aggregator, ip string, count int, now time.Time) {
	for i := 0; i < count; i++ {
		agg.Observe(ingest.Event{
			Seq: uint64(i + 1),
			Entry: domain.RequestLogEntry{
				IP:          ip,
				Method:      "POST",
				StatusCode:  200,
				RequestedAt: now,
			},
		})
	}
}

func TestSweepRecordsPatternAndAutoBans(t *testing.T) {
	db := setupClassifierTestDB(t)

	agg := aggregator.New()
	bans := banstore.New()
	c := New(agg, bans)

	now := time.Now()
	flood := int(config.GetConfig().Classifier.VolumetricHigh)
	floodAggregator(agg, "203.0.113.1", flood, now)

	if err := c.Sweep(context.Background(), now); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	var patterns []domain.AttackPattern
	if err := db.Find(&patterns).Error; err != nil {
		t.Fatalf("load patterns: %v", err)
	}
	if len(patterns) != 1 {
		t.Fatalf("expected one attack pattern, got %d", len(patterns))
	}

	pattern := patterns[0]
	if pattern.PatternType != domain.PatternVolumetric || pattern.Severity != "high" {
		t.Fatalf("unexpected pattern %+v", pattern)
	}
	if !pattern.AutoBlocked {
		t.Fatal("high severity must trigger the auto-block action")
	}
	if pattern.TotalRequests != uint64(flood) {
		t.Fatalf("expected %d requests in record, got %d", flood, pattern.TotalRequests)
	}

	if !bans.IsBanned(domain.IPIdentity("203.0.113.1")).Banned {
		t.Fatal("expected the offender to be banned")
	}
}

func TestSweepSuppressesOngoingEpisode(t *testing.T) {
	db := setupClassifierTestDB(t)

	agg := aggregator.New()
	c := New(agg, banstore.New())

	now := time.Now()
	floodAggregator(agg, "203.0.113.2", int(config.GetConfig().Classifier.VolumetricHigh), now)

	if err := c.Sweep(context.Background(), now); err != nil {
		t.Fatalf("first sweep: %v", err)
	}
	if err := c.Sweep(context.Background(), now.Add(time.Second)); err != nil {
		t.Fatalf("second sweep: %v", err)
	}

	var count int64
	if err := db.Model(&domain.AttackPattern{}).Count(&count).Error; err != nil {
		t.Fatalf("count patterns: %v", err)
	}
	if count != 1 {
		t.Fatalf("ongoing episode must yield a single record, got %d", count)
	}
}

func TestSweepBelowThresholdsIsQuiet(t *testing.T) {
	db := setupClassifierTestDB(t)

	agg := aggregator.New()
	c := New(agg, banstore.New())

	now := time.Now()
	floodAggregator(agg, "203.0.113.3", 10, now)

	if err := c.Sweep(context.Background(), now); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	var count int64
	if err := db.Model(&domain.AttackPattern{}).Count(&count).Error; err != nil {
		t.Fatalf("count patterns: %v", err)
	}
	if count != 0 {
		t.Fatalf("normal traffic must not be classified, got %d records", count)
	}
}

func TestEpisodeAllowedCooldown(t *testing.T) {
	c := New(nil, nil)
	now := time.Now()
	cooldown := 5 * time.Minute

	if !c.episodeAllowed("ip:203.0.113.1|volumetric", cooldown, now) {
		t.Fatal("first detection must be allowed")
	}
	if c.episodeAllowed("ip:203.0.113.1|volumetric", cooldown, now.Add(time.Minute)) {
		t.Fatal("repeat inside the cooldown must be suppressed")
	}
	if !c.episodeAllowed("ip:203.0.113.1|volumetric", cooldown, now.Add(cooldown)) {
		t.Fatal("detection after the cooldown must be allowed again")
	}

	// A failed insert clears the episode so the next sweep can retry.
	c.clearEpisode("ip:203.0.113.2|volumetric")
	if !c.episodeAllowed("ip:203.0.113.2|volumetric", cooldown, now) {
		t.Fatal("cleared episode must be allowed")
	}
}
