package domain

import "time"

// RequestLogEntry is one row per admitted or denied RPC request attempt.
// Append-only; rows older than the raw retention window are compacted into
// AggregatedStat and purged.
type RequestLogEntry struct {
	ID uint64 `gorm:"primaryKey;autoIncrement" json:"id"`

	IP string `gorm:"size:45;index;not null" json:"ip"`

	// Wallet is only resolved for authenticated JSON-RPC calls.
	Wallet string `gorm:"size:42;index" json:"wallet,omitempty"`

	Method     string `gorm:"size:16" json:"method"`
	StatusCode int    `gorm:"not null" json:"status_code"`

	// Blocked marks attempts denied by the gate (ban or rate budget).
	Blocked bool `gorm:"not null;default:false" json:"blocked"`

	LatencyMillis int64  `json:"latency_ms"`
	UserAgent     string `gorm:"size:512" json:"user_agent"`
	Country       string `gorm:"size:2" json:"country,omitempty"`

	RequestedAt time.Time `gorm:"index;not null" json:"requested_at"`
}

func (RequestLogEntry) TableName() string {
	return "request_log"
}
