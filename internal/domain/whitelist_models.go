package domain

import "time"

// WhitelistedIP is exempt from all ban and rate checks. Administrative only.
type WhitelistedIP struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	IP        string    `gorm:"size:45;uniqueIndex;not null" json:"ip"`
	Note      string    `gorm:"size:512" json:"note"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (WhitelistedIP) TableName() string {
	return "ip_whitelist"
}

// WhitelistedWallet mirrors WhitelistedIP for wallet identities.
type WhitelistedWallet struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Wallet    string    `gorm:"size:42;uniqueIndex;not null" json:"wallet"`
	Note      string    `gorm:"size:512" json:"note"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (WhitelistedWallet) TableName() string {
	return "wallet_whitelist"
}
