package domain

import "time"

// AggregatedStat is one row per (identity, time bucket) summarizing request
// counts for a fixed bucket width. Produced by the rolling aggregator and by
// the retention compactor; replaces raw request_log detail once the raw
// window ages out.
type AggregatedStat struct {
	ID uint64 `gorm:"primaryKey;autoIncrement" json:"id"`

	IdentityType string    `gorm:"size:8;not null;uniqueIndex:idx_aggregated_stats_bucket,priority:1" json:"identity_type"`
	Identity     string    `gorm:"size:45;not null;uniqueIndex:idx_aggregated_stats_bucket,priority:2" json:"identity"`
	BucketStart  time.Time `gorm:"not null;uniqueIndex:idx_aggregated_stats_bucket,priority:3;index" json:"bucket_start"`

	BucketSeconds uint32 `gorm:"not null" json:"bucket_seconds"`

	RequestCount uint64 `gorm:"not null;default:0" json:"request_count"`
	BlockedCount uint64 `gorm:"not null;default:0" json:"blocked_count"`
	ErrorCount   uint64 `gorm:"not null;default:0" json:"error_count"`
}

func (AggregatedStat) TableName() string {
	return "aggregated_stats"
}
