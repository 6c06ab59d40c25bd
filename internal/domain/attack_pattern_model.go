package domain

import "time"

// Pattern types recorded by the classifier.
const (
	PatternVolumetric         = "volumetric"
	PatternDistributed        = "distributed"
	PatternCredentialStuffing = "credential_stuffing"
)

// AttackPattern is the append-only audit record of one detected
// coordinated-abuse episode. Created only by the classifier, never mutated.
type AttackPattern struct {
	ID uint64 `gorm:"primaryKey;autoIncrement" json:"id"`

	PatternType string `gorm:"size:32;index;not null" json:"pattern_type"`

	// Severity is the ordered band name: low, medium, high, critical.
	Severity string `gorm:"size:16;not null" json:"severity"`

	DetectedAt time.Time `gorm:"index;not null" json:"detected_at"`

	DistinctIPs     uint32 `gorm:"not null;default:0" json:"distinct_ips"`
	DistinctWallets uint32 `gorm:"not null;default:0" json:"distinct_wallets"`
	TotalRequests   uint64 `gorm:"not null;default:0" json:"total_requests"`

	AutoBlocked bool   `gorm:"not null;default:false" json:"auto_blocked"`
	Notes       string `gorm:"size:1024" json:"notes"`
}

func (AttackPattern) TableName() string {
	return "attack_patterns"
}
