package banstore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"rpcguard/internal/database"
	"rpcguard/internal/domain"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupBanStoreTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_fk=1", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite database: %v", err)
	}

	if err := db.Exec("PRAGMA busy_timeout = 5000").Error; err != nil {
		t.Fatalf("set busy timeout: %v", err)
	}

	if err := db.AutoMigrate(&domain.IPBan{}, &domain.WalletBan{}); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}

	database.DB = db
	t.Cleanup(func() {
		database.DB = nil
	})

	return db
}

func TestConcurrentBansIncrementExactlyOncePerCall(t *testing.T) {
	setupBanStoreTestDB(t)
	store := New()

	identity := domain.IPIdentity("203.0.113.1")
	const callers = 8

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Ban(context.Background(), identity, "volumetric abuse", time.Hour, false); err != nil {
				t.Errorf("concurrent ban: %v", err)
			}
		}()
	}
	wg.Wait()

	records, err := store.ListActive(context.Background(), nil)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected a single ban row, got %d", len(records))
	}
	if records[0].BanCount != callers {
		t.Fatalf("expected ban_count %d, got %d", callers, records[0].BanCount)
	}
}

func TestBanIsEnforcedImmediately(t *testing.T) {
	setupBanStoreTestDB(t)
	store := New()

	identity := domain.IPIdentity("203.0.113.2")
	if _, err := store.Ban(context.Background(), identity, "manual ban", time.Hour, false); err != nil {
		t.Fatalf("ban: %v", err)
	}

	status := store.IsBanned(identity)
	if !status.Banned {
		t.Fatal("fresh ban must be visible without waiting for a refresh")
	}
	if status.Reason != "manual ban" {
		t.Fatalf("unexpected reason %q", status.Reason)
	}
}

func TestUnbanClearsEnforcementAndIsIdempotent(t *testing.T) {
	setupBanStoreTestDB(t)
	store := New()

	identity := domain.WalletIdentity("0x00000000000000000000000000000000000000ee")
	if _, err := store.Ban(context.Background(), identity, "credential stuffing", time.Hour, true); err != nil {
		t.Fatalf("ban: %v", err)
	}

	if err := store.Unban(context.Background(), identity); err != nil {
		t.Fatalf("unban: %v", err)
	}
	if store.IsBanned(identity).Banned {
		t.Fatal("unbanned identity must be admitted")
	}

	// Unbanning again must not fail.
	if err := store.Unban(context.Background(), identity); err != nil {
		t.Fatalf("second unban: %v", err)
	}
}

func TestExpiredBanIsNotEnforced(t *testing.T) {
	db := setupBanStoreTestDB(t)
	store := New()

	expired := time.Now().UTC().Add(-time.Minute)
	row := domain.IPBan{IP: "203.0.113.3", BanCount: 1, BannedAt: expired.Add(-time.Hour), ExpiresAt: &expired}
	if err := db.Create(&row).Error; err != nil {
		t.Fatalf("seed expired ban: %v", err)
	}

	if err := store.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	if store.IsBanned(domain.IPIdentity("203.0.113.3")).Banned {
		t.Fatal("expired ban must not deny traffic")
	}
}

func TestSnapshotAgeBeforeFirstRefresh(t *testing.T) {
	setupBanStoreTestDB(t)
	store := New()

	if age := store.SnapshotAge(time.Now()); age >= 0 {
		t.Fatalf("expected negative age before first refresh, got %v", age)
	}

	if err := store.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if age := store.SnapshotAge(time.Now()); age < 0 {
		t.Fatalf("expected non-negative age after refresh, got %v", age)
	}
}
