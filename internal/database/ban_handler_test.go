package database

import (
	"context"
	"testing"
	"time"

	"rpcguard/internal/domain"
)

func banParams(identity domain.Identity) BanParams {
	return BanParams{
		Identity:            identity,
		Reason:              "volumetric abuse",
		Duration:            time.Hour,
		EscalationThreshold: 3,
		RepeatWindow:        24 * time.Hour,
	}
}

func TestApplyBanCreatesTemporaryBan(t *testing.T) {
	setupSecurityTestDB(t)

	record, err := ApplyBan(context.Background(), banParams(domain.IPIdentity("203.0.113.7")))
	if err != nil {
		t.Fatalf("apply ban: %v", err)
	}

	if record.BanCount != 1 {
		t.Fatalf("expected ban_count 1, got %d", record.BanCount)
	}
	if record.BanStatus != domain.BanStatusTemporary {
		t.Fatalf("expected temporary ban, got %s", record.BanStatus)
	}
	if record.ExpiresAt == nil || !record.ExpiresAt.After(time.Now()) {
		t.Fatalf("expected future expiry, got %v", record.ExpiresAt)
	}
}

func TestApplyBanEscalatesToPermanent(t *testing.T) {
	setupSecurityTestDB(t)

	params := banParams(domain.WalletIdentity("0x00000000000000000000000000000000000000aa"))
	params.EscalationThreshold = 2

	var record domain.BanRecord
	var err error
	for i := 0; i < 3; i++ {
		record, err = ApplyBan(context.Background(), params)
		if err != nil {
			t.Fatalf("apply ban %d: %v", i+1, err)
		}
	}

	if record.BanCount != 3 {
		t.Fatalf("expected ban_count 3, got %d", record.BanCount)
	}
	if record.BanStatus != domain.BanStatusPermanent {
		t.Fatalf("expected permanent after exceeding threshold, got %s", record.BanStatus)
	}
	if record.ExpiresAt != nil {
		t.Fatalf("permanent ban must have no expiry, got %v", record.ExpiresAt)
	}
}

func TestApplyBanPermanentFlagWinsImmediately(t *testing.T) {
	setupSecurityTestDB(t)

	params := banParams(domain.IPIdentity("203.0.113.8"))
	params.Permanent = true

	record, err := ApplyBan(context.Background(), params)
	if err != nil {
		t.Fatalf("apply ban: %v", err)
	}

	if record.BanStatus != domain.BanStatusPermanent || record.ExpiresAt != nil {
		t.Fatalf("expected immediate permanent ban, got %+v", record)
	}
}

func TestApplyBanCountsRecentRepeatOffense(t *testing.T) {
	db := setupSecurityTestDB(t)

	expired := time.Now().UTC().Add(-time.Hour)
	seed := domain.IPBan{
		IP:        "203.0.113.9",
		BanCount:  1,
		BannedAt:  expired.Add(-time.Hour),
		ExpiresAt: &expired,
		Reason:    "volumetric abuse",
	}
	if err := db.Create(&seed).Error; err != nil {
		t.Fatalf("seed expired ban: %v", err)
	}

	record, err := ApplyBan(context.Background(), banParams(domain.IPIdentity("203.0.113.9")))
	if err != nil {
		t.Fatalf("apply ban: %v", err)
	}

	if record.BanCount != 2 {
		t.Fatalf("expected repeat within window to escalate to 2, got %d", record.BanCount)
	}
}

func TestApplyBanRestartsLadderAfterStaleExpiry(t *testing.T) {
	db := setupSecurityTestDB(t)

	expired := time.Now().UTC().Add(-72 * time.Hour)
	seed := domain.IPBan{
		IP:        "203.0.113.10",
		BanCount:  2,
		BannedAt:  expired.Add(-time.Hour),
		ExpiresAt: &expired,
		Reason:    "volumetric abuse",
	}
	if err := db.Create(&seed).Error; err != nil {
		t.Fatalf("seed stale ban: %v", err)
	}

	record, err := ApplyBan(context.Background(), banParams(domain.IPIdentity("203.0.113.10")))
	if err != nil {
		t.Fatalf("apply ban: %v", err)
	}

	if record.BanCount != 1 {
		t.Fatalf("expected stale episode to restart the ladder, got count %d", record.BanCount)
	}
}

func TestRemoveBanIsIdempotent(t *testing.T) {
	setupSecurityTestDB(t)

	identity := domain.IPIdentity("203.0.113.11")
	if _, err := ApplyBan(context.Background(), banParams(identity)); err != nil {
		t.Fatalf("apply ban: %v", err)
	}

	existed, err := RemoveBan(context.Background(), identity)
	if err != nil {
		t.Fatalf("remove ban: %v", err)
	}
	if !existed {
		t.Fatal("expected removal of existing ban to report true")
	}

	existed, err = RemoveBan(context.Background(), identity)
	if err != nil {
		t.Fatalf("second remove must succeed: %v", err)
	}
	if existed {
		t.Fatal("expected second removal to report false")
	}
}

func TestListActiveBansFiltersExpired(t *testing.T) {
	db := setupSecurityTestDB(t)

	now := time.Now().UTC()
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	rows := []domain.IPBan{
		{IP: "203.0.113.20", BanCount: 1, BannedAt: now, ExpiresAt: &future, Reason: "active"},
		{IP: "203.0.113.21", BanCount: 1, BannedAt: now, ExpiresAt: &past, Reason: "expired"},
		{IP: "203.0.113.22", BanCount: 4, BannedAt: now, Reason: "permanent"},
	}
	for i := range rows {
		if err := db.Create(&rows[i]).Error; err != nil {
			t.Fatalf("seed ban: %v", err)
		}
	}

	records, err := ListActiveBans(context.Background(), nil)
	if err != nil {
		t.Fatalf("list active bans: %v", err)
	}

	if len(records) != 2 {
		t.Fatalf("expected 2 active bans, got %d", len(records))
	}
	for _, record := range records {
		if record.Target == "203.0.113.21" {
			t.Fatal("expired ban must not be listed")
		}
	}
}

func TestListActiveBansOrdersNewestFirst(t *testing.T) {
	db := setupSecurityTestDB(t)

	now := time.Now().UTC()
	if err := db.Create(&domain.IPBan{IP: "203.0.113.25", BanCount: 1, BannedAt: now.Add(-2 * time.Hour)}).Error; err != nil {
		t.Fatalf("seed ip ban: %v", err)
	}
	if err := db.Create(&domain.WalletBan{Wallet: "0x00000000000000000000000000000000000000dd", BanCount: 1, BannedAt: now.Add(-time.Hour)}).Error; err != nil {
		t.Fatalf("seed wallet ban: %v", err)
	}
	if err := db.Create(&domain.IPBan{IP: "203.0.113.26", BanCount: 1, BannedAt: now}).Error; err != nil {
		t.Fatalf("seed ip ban: %v", err)
	}

	records, err := ListActiveBans(context.Background(), nil)
	if err != nil {
		t.Fatalf("list active bans: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 bans, got %d", len(records))
	}
	for i := 1; i < len(records); i++ {
		if records[i].BannedAt.After(records[i-1].BannedAt) {
			t.Fatalf("bans out of order at %d: %v after %v", i, records[i].BannedAt, records[i-1].BannedAt)
		}
	}
	if records[0].Target != "203.0.113.26" {
		t.Fatalf("expected newest ban first, got %s", records[0].Target)
	}
}

func TestPurgeExpiredBansKeepsRepeatWindow(t *testing.T) {
	db := setupSecurityTestDB(t)

	now := time.Now().UTC()
	recentlyExpired := now.Add(-time.Hour)
	longExpired := now.Add(-100 * time.Hour)

	rows := []domain.IPBan{
		{IP: "203.0.113.30", BanCount: 1, BannedAt: now, ExpiresAt: &recentlyExpired},
		{IP: "203.0.113.31", BanCount: 1, BannedAt: now, ExpiresAt: &longExpired},
		{IP: "203.0.113.32", BanCount: 4, BannedAt: now},
	}
	for i := range rows {
		if err := db.Create(&rows[i]).Error; err != nil {
			t.Fatalf("seed ban: %v", err)
		}
	}

	purged, err := PurgeExpiredBans(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatalf("purge expired bans: %v", err)
	}
	if purged != 1 {
		t.Fatalf("expected 1 purged row, got %d", purged)
	}

	var remaining int64
	if err := db.Model(&domain.IPBan{}).Count(&remaining).Error; err != nil {
		t.Fatalf("count remaining: %v", err)
	}
	if remaining != 2 {
		t.Fatalf("expected recently expired and permanent bans to remain, got %d rows", remaining)
	}
}
