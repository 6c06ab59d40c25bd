package database

import (
	"context"
	"errors"
	"sort"
	"time"

	"rpcguard/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BanParams carries one lifecycle request from the classifier or an admin
// action into the escalation transaction.
type BanParams struct {
	Identity  domain.Identity
	Reason    string
	Duration  time.Duration
	Permanent bool

	// EscalationThreshold: once ban_count exceeds this, the ban becomes
	// permanent. RepeatWindow bounds how long after expiry a new violation
	// still counts as a repeat.
	EscalationThreshold uint32
	RepeatWindow        time.Duration
}

// ApplyBan creates or escalates the single ban row for the target inside a
// transaction, locking the row on Postgres so concurrent callers increment
// ban_count exactly once each.
func ApplyBan(ctx context.Context, params BanParams) (domain.BanRecord, error) {
	if DB == nil {
		return domain.BanRecord{}, errors.New("database not initialised")
	}

	db := DB
	if ctx != nil {
		db = db.WithContext(ctx)
	}

	now := time.Now().UTC()

	var record domain.BanRecord
	err := db.Transaction(func(tx *gorm.DB) error {
		if tx.Dialector.Name() == "postgres" {
			tx = tx.Clauses(clause.Locking{Strength: "UPDATE"})
		}

		switch params.Identity.Type {
		case domain.IdentityIP:
			var ban domain.IPBan
			err := tx.Where("ip = ?", params.Identity.Value).First(&ban).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				ban = domain.IPBan{IP: params.Identity.Value}
				applyBanLifecycle(&banState{
					count: &ban.BanCount, bannedAt: &ban.BannedAt, expiresAt: &ban.ExpiresAt, reason: &ban.Reason,
				}, params, now, false)
				if err := tx.Create(&ban).Error; err != nil {
					return err
				}
				record = ban.Record()
				return nil
			}
			if err != nil {
				return err
			}
			applyBanLifecycle(&banState{
				count: &ban.BanCount, bannedAt: &ban.BannedAt, expiresAt: &ban.ExpiresAt, reason: &ban.Reason,
			}, params, now, true)
			if err := tx.Save(&ban).Error; err != nil {
				return err
			}
			record = ban.Record()
			return nil

		case domain.IdentityWallet:
			var ban domain.WalletBan
			err := tx.Where("wallet = ?", params.Identity.Value).First(&ban).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				ban = domain.WalletBan{Wallet: params.Identity.Value}
				applyBanLifecycle(&banState{
					count: &ban.BanCount, bannedAt: &ban.BannedAt, expiresAt: &ban.ExpiresAt, reason: &ban.Reason,
				}, params, now, false)
				if err := tx.Create(&ban).Error; err != nil {
					return err
				}
				record = ban.Record()
				return nil
			}
			if err != nil {
				return err
			}
			applyBanLifecycle(&banState{
				count: &ban.BanCount, bannedAt: &ban.BannedAt, expiresAt: &ban.ExpiresAt, reason: &ban.Reason,
			}, params, now, true)
			if err := tx.Save(&ban).Error; err != nil {
				return err
			}
			record = ban.Record()
			return nil

		default:
			return domain.ErrInvalidIdentity
		}
	})
	if err != nil {
		return domain.BanRecord{}, err
	}
	return record, nil
}

// banState lets the lifecycle rules run over both ban tables without
// duplicating the escalation logic.
type banState struct {
	count     *uint32
	bannedAt  *time.Time
	expiresAt **time.Time
	reason    *string
}

func applyBanLifecycle(state *banState, params BanParams, now time.Time, existing bool) {
	duration := params.Duration

	switch {
	case !existing:
		*state.count = 1
	case *state.expiresAt == nil:
		// Already permanent; record the repeat violation and keep it that
		// way.
		*state.count++
	case (*state.expiresAt).After(now):
		// Active temporary ban hit again.
		*state.count++
	case now.Sub(**state.expiresAt) <= params.RepeatWindow:
		// Expired recently enough to count as a repeat offense.
		*state.count++
	default:
		// The previous episode is stale; restart the escalation ladder.
		*state.count = 1
	}

	*state.bannedAt = now
	if params.Reason != "" {
		*state.reason = params.Reason
	}

	if params.Permanent || *state.count > params.EscalationThreshold || (existing && *state.expiresAt == nil) {
		*state.expiresAt = nil
		return
	}

	expiry := now.Add(duration)
	*state.expiresAt = &expiry
}

// RemoveBan deletes the ban row for the target. Removing a ban that does
// not exist is success: the admin tooling treats unban as idempotent.
func RemoveBan(ctx context.Context, identity domain.Identity) (bool, error) {
	if DB == nil {
		return false, errors.New("database not initialised")
	}

	db := DB
	if ctx != nil {
		db = db.WithContext(ctx)
	}

	var res *gorm.DB
	switch identity.Type {
	case domain.IdentityIP:
		res = db.Where("ip = ?", identity.Value).Delete(&domain.IPBan{})
	case domain.IdentityWallet:
		res = db.Where("wallet = ?", identity.Value).Delete(&domain.WalletBan{})
	default:
		return false, domain.ErrInvalidIdentity
	}

	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ListActiveBans returns currently enforceable bans, newest first. Expired
// temporary bans are filtered out here rather than deleted, matching the
// active_bans view.
func ListActiveBans(ctx context.Context, banType *domain.IdentityType) ([]domain.BanRecord, error) {
	if DB == nil {
		return nil, errors.New("database not initialised")
	}

	db := DB
	if ctx != nil {
		db = db.WithContext(ctx)
	}

	now := time.Now().UTC()
	var records []domain.BanRecord

	if banType == nil || *banType == domain.IdentityIP {
		var bans []domain.IPBan
		if err := db.
			Where("expires_at IS NULL OR expires_at > ?", now).
			Order("banned_at DESC").
			Find(&bans).Error; err != nil {
			return nil, err
		}
		for i := range bans {
			records = append(records, bans[i].Record())
		}
	}

	if banType == nil || *banType == domain.IdentityWallet {
		var bans []domain.WalletBan
		if err := db.
			Where("expires_at IS NULL OR expires_at > ?", now).
			Order("banned_at DESC").
			Find(&bans).Error; err != nil {
			return nil, err
		}
		for i := range bans {
			records = append(records, bans[i].Record())
		}
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].BannedAt.After(records[j].BannedAt)
	})
	return records, nil
}

// PurgeExpiredBans physically removes temporary bans that expired before
// the repeat window, so stale rows do not accumulate. Recent expirations
// are kept because they still feed the escalation ladder.
func PurgeExpiredBans(ctx context.Context, repeatWindow time.Duration) (int64, error) {
	if DB == nil {
		return 0, errors.New("database not initialised")
	}

	db := DB
	if ctx != nil {
		db = db.WithContext(ctx)
	}

	cutoff := time.Now().UTC().Add(-repeatWindow)

	var purged int64
	res := db.Where("expires_at IS NOT NULL AND expires_at < ?", cutoff).Delete(&domain.IPBan{})
	if res.Error != nil {
		return purged, res.Error
	}
	purged += res.RowsAffected

	res = db.Where("expires_at IS NOT NULL AND expires_at < ?", cutoff).Delete(&domain.WalletBan{})
	if res.Error != nil {
		return purged, res.Error
	}
	purged += res.RowsAffected

	return purged, nil
}
