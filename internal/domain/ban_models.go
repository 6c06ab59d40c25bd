package domain

import "time"

// Ban status values as exposed by the active_bans view.
const (
	BanStatusPermanent = "PERMANENT"
	BanStatusTemporary = "TEMPORARY"
)

// IPBan is the enforcement record for a banned IP address. One row per IP;
// ban_count grows monotonically across repeat violations and drives the
// permanent escalation.
type IPBan struct {
	ID uint64 `gorm:"primaryKey;autoIncrement" json:"id"`

	IP string `gorm:"size:45;uniqueIndex;not null" json:"ip"`

	BanCount uint32    `gorm:"not null;default:1" json:"ban_count"`
	BannedAt time.Time `gorm:"index;not null" json:"banned_at"`

	// ExpiresAt nil means permanent.
	ExpiresAt *time.Time `gorm:"index" json:"expires_at"`

	Reason    string    `gorm:"size:512" json:"reason"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (IPBan) TableName() string {
	return "ip_blacklist"
}

// WalletBan mirrors IPBan for wallet identities.
type WalletBan struct {
	ID uint64 `gorm:"primaryKey;autoIncrement" json:"id"`

	Wallet string `gorm:"size:42;uniqueIndex;not null" json:"wallet"`

	BanCount  uint32     `gorm:"not null;default:1" json:"ban_count"`
	BannedAt  time.Time  `gorm:"index;not null" json:"banned_at"`
	ExpiresAt *time.Time `gorm:"index" json:"expires_at"`

	Reason    string    `gorm:"size:512" json:"reason"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (WalletBan) TableName() string {
	return "wallet_blacklist"
}

// BanRecord is the unified read model matching the active_bans view columns.
type BanRecord struct {
	BanType   IdentityType `json:"ban_type"`
	Target    string       `json:"target"`
	BanCount  uint32       `json:"ban_count"`
	BannedAt  time.Time    `json:"banned_at"`
	ExpiresAt *time.Time   `json:"expires_at"`
	BanStatus string       `json:"ban_status"`
	Reason    string       `json:"reason"`
}

// Active reports whether the ban is still enforceable at now.
func (b BanRecord) Active(now time.Time) bool {
	return b.ExpiresAt == nil || b.ExpiresAt.After(now)
}

func (b *IPBan) Record() BanRecord {
	return BanRecord{
		BanType:   IdentityIP,
		Target:    b.IP,
		BanCount:  b.BanCount,
		BannedAt:  b.BannedAt,
		ExpiresAt: b.ExpiresAt,
		BanStatus: banStatus(b.ExpiresAt),
		Reason:    b.Reason,
	}
}

func (b *WalletBan) Record() BanRecord {
	return BanRecord{
		BanType:   IdentityWallet,
		Target:    b.Wallet,
		BanCount:  b.BanCount,
		BannedAt:  b.BannedAt,
		ExpiresAt: b.ExpiresAt,
		BanStatus: banStatus(b.ExpiresAt),
		Reason:    b.Reason,
	}
}

func banStatus(expiresAt *time.Time) string {
	if expiresAt == nil {
		return BanStatusPermanent
	}
	return BanStatusTemporary
}
