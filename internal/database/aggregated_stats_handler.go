package database

import (
	"context"
	"errors"
	"time"

	"rpcguard/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const aggregatedStatsBatchSize = 500

// UpsertAggregatedStats persists closed rollup buckets from the aggregator.
// Closed buckets are immutable, so a retried flush carries identical totals
// and the upsert keyed on (identity_type, identity, bucket_start) simply
// overwrites: reprocessing never double-counts.
func UpsertAggregatedStats(ctx context.Context, stats []domain.AggregatedStat) error {
	if DB == nil {
		return errors.New("database not initialised")
	}
	if len(stats) == 0 {
		return nil
	}

	db := DB
	if ctx != nil {
		db = db.WithContext(ctx)
	}

	return db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "identity_type"}, {Name: "identity"}, {Name: "bucket_start"}},
		DoUpdates: clause.Assignments(map[string]any{
			"request_count": gorm.Expr("EXCLUDED.request_count"),
			"blocked_count": gorm.Expr("EXCLUDED.blocked_count"),
			"error_count":   gorm.Expr("EXCLUDED.error_count"),
		}),
	}).CreateInBatches(&stats, aggregatedStatsBatchSize).Error
}

// InsertAggregatedStatsIfAbsent writes rollups only for buckets that have no
// row yet. The retention compactor uses it as a crash-recovery net: buckets
// the aggregator already flushed are left untouched, so compaction cannot
// inflate them.
func InsertAggregatedStatsIfAbsent(ctx context.Context, stats []domain.AggregatedStat) error {
	if DB == nil {
		return errors.New("database not initialised")
	}
	if len(stats) == 0 {
		return nil
	}

	db := DB
	if ctx != nil {
		db = db.WithContext(ctx)
	}

	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "identity_type"}, {Name: "identity"}, {Name: "bucket_start"}},
		DoNothing: true,
	}).CreateInBatches(&stats, aggregatedStatsBatchSize).Error
}

// ListAggregatedStats returns rollup buckets for one identity in a time
// range, oldest first, for the historical charts.
func ListAggregatedStats(ctx context.Context, identity domain.Identity, from, to time.Time) ([]domain.AggregatedStat, error) {
	if DB == nil {
		return nil, errors.New("database not initialised")
	}

	db := DB
	if ctx != nil {
		db = db.WithContext(ctx)
	}

	var stats []domain.AggregatedStat
	err := db.
		Where("identity_type = ? AND identity = ? AND bucket_start >= ? AND bucket_start < ?",
			string(identity.Type), identity.Value, from, to).
		Order("bucket_start ASC").
		Find(&stats).Error
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// SumRequestCounts totals rollup request counts for one identity in a time
// range.
func SumRequestCounts(ctx context.Context, identity domain.Identity, from, to time.Time) (uint64, error) {
	if DB == nil {
		return 0, errors.New("database not initialised")
	}

	db := DB
	if ctx != nil {
		db = db.WithContext(ctx)
	}

	var total int64
	err := db.Model(&domain.AggregatedStat{}).
		Where("identity_type = ? AND identity = ? AND bucket_start >= ? AND bucket_start < ?",
			string(identity.Type), identity.Value, from, to).
		Select("COALESCE(SUM(request_count), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return uint64(total), nil
}

// PurgeAggregatedStatsBefore removes rollups past the aggregated retention.
func PurgeAggregatedStatsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if DB == nil {
		return 0, errors.New("database not initialised")
	}

	db := DB
	if ctx != nil {
		db = db.WithContext(ctx)
	}

	res := db.Where("bucket_start < ?", cutoff).Delete(&domain.AggregatedStat{})
	return res.RowsAffected, res.Error
}
