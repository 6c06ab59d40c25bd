package database

import (
	"context"
	"errors"

	"rpcguard/internal/domain"

	"gorm.io/gorm/clause"
)

// AddWhitelistEntry stores an identity exempt from all ban and rate checks.
// Re-adding an existing entry refreshes its note.
func AddWhitelistEntry(ctx context.Context, identity domain.Identity, note string) error {
	if DB == nil {
		return errors.New("database not initialised")
	}

	db := DB
	if ctx != nil {
		db = db.WithContext(ctx)
	}

	switch identity.Type {
	case domain.IdentityIP:
		entry := domain.WhitelistedIP{IP: identity.Value, Note: note}
		return db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "ip"}},
			DoUpdates: clause.AssignmentColumns([]string{"note"}),
		}).Create(&entry).Error
	case domain.IdentityWallet:
		entry := domain.WhitelistedWallet{Wallet: identity.Value, Note: note}
		return db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "wallet"}},
			DoUpdates: clause.AssignmentColumns([]string{"note"}),
		}).Create(&entry).Error
	default:
		return domain.ErrInvalidIdentity
	}
}

// RemoveWhitelistEntry deletes the entry; missing entries are success.
func RemoveWhitelistEntry(ctx context.Context, identity domain.Identity) (bool, error) {
	if DB == nil {
		return false, errors.New("database not initialised")
	}

	db := DB
	if ctx != nil {
		db = db.WithContext(ctx)
	}

	switch identity.Type {
	case domain.IdentityIP:
		res := db.Where("ip = ?", identity.Value).Delete(&domain.WhitelistedIP{})
		return res.RowsAffected > 0, res.Error
	case domain.IdentityWallet:
		res := db.Where("wallet = ?", identity.Value).Delete(&domain.WhitelistedWallet{})
		return res.RowsAffected > 0, res.Error
	default:
		return false, domain.ErrInvalidIdentity
	}
}

// ListWhitelist returns all exempt identities, used both by the admin
// surface and by the gate's periodic cache refresh.
func ListWhitelist(ctx context.Context) ([]domain.Identity, error) {
	if DB == nil {
		return nil, errors.New("database not initialised")
	}

	db := DB
	if ctx != nil {
		db = db.WithContext(ctx)
	}

	var ips []string
	if err := db.Model(&domain.WhitelistedIP{}).Pluck("ip", &ips).Error; err != nil {
		return nil, err
	}

	var wallets []string
	if err := db.Model(&domain.WhitelistedWallet{}).Pluck("wallet", &wallets).Error; err != nil {
		return nil, err
	}

	identities := make([]domain.Identity, 0, len(ips)+len(wallets))
	for _, ip := range ips {
		identities = append(identities, domain.IPIdentity(ip))
	}
	for _, wallet := range wallets {
		identities = append(identities, domain.WalletIdentity(wallet))
	}
	return identities, nil
}

// ListWhitelistEntries returns the full rows for the admin dashboard.
func ListWhitelistEntries(ctx context.Context) ([]domain.WhitelistedIP, []domain.WhitelistedWallet, error) {
	if DB == nil {
		return nil, nil, errors.New("database not initialised")
	}

	db := DB
	if ctx != nil {
		db = db.WithContext(ctx)
	}

	var ips []domain.WhitelistedIP
	if err := db.Order("created_at DESC").Find(&ips).Error; err != nil {
		return nil, nil, err
	}

	var wallets []domain.WhitelistedWallet
	if err := db.Order("created_at DESC").Find(&wallets).Error; err != nil {
		return nil, nil, err
	}

	return ips, wallets, nil
}
