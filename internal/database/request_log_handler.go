package database

import (
	"context"
	"errors"
	"time"

	"rpcguard/internal/domain"

	"gorm.io/gorm"
)

const requestLogInsertBatchSize = 500

// InsertRequestLogEntries appends a batch of request events. Entries are
// immutable once written.
func InsertRequestLogEntries(ctx context.Context, entries []domain.RequestLogEntry) error {
	if DB == nil {
		return errors.New("database not initialised")
	}
	if len(entries) == 0 {
		return nil
	}

	db := DB
	if ctx != nil {
		db = db.WithContext(ctx)
	}

	return db.CreateInBatches(&entries, requestLogInsertBatchSize).Error
}

// ListRecentActivity returns the newest request attempts, optionally
// filtered to a single identity.
func ListRecentActivity(ctx context.Context, identity *domain.Identity, limit int) ([]domain.RequestLogEntry, error) {
	if DB == nil {
		return nil, errors.New("database not initialised")
	}
	if limit <= 0 {
		limit = 100
	}

	db := DB
	if ctx != nil {
		db = db.WithContext(ctx)
	}

	query := db.Model(&domain.RequestLogEntry{}).Order("requested_at DESC").Limit(limit)
	if identity != nil {
		switch identity.Type {
		case domain.IdentityIP:
			query = query.Where("ip = ?", identity.Value)
		case domain.IdentityWallet:
			query = query.Where("wallet = ?", identity.Value)
		}
	}

	var entries []domain.RequestLogEntry
	if err := query.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// CountRequestsSince returns totals over the raw log for one identity,
// used by the classifier to cross-check aggregator output.
func CountRequestsSince(ctx context.Context, identity domain.Identity, since time.Time) (total, blocked int64, err error) {
	if DB == nil {
		return 0, 0, errors.New("database not initialised")
	}

	db := DB
	if ctx != nil {
		db = db.WithContext(ctx)
	}

	column := "ip"
	if identity.Type == domain.IdentityWallet {
		column = "wallet"
	}

	if err = db.Model(&domain.RequestLogEntry{}).
		Where(column+" = ? AND requested_at >= ?", identity.Value, since).
		Count(&total).Error; err != nil {
		return 0, 0, err
	}
	if err = db.Model(&domain.RequestLogEntry{}).
		Where(column+" = ? AND requested_at >= ? AND blocked = ?", identity.Value, since, true).
		Count(&blocked).Error; err != nil {
		return 0, 0, err
	}
	return total, blocked, nil
}

// CountDistinctIdentitiesSince measures cross-identity correlation for the
// distributed-attack rule: how many distinct IPs, wallets, and countries
// produced traffic in the window.
func CountDistinctIdentitiesSince(ctx context.Context, since time.Time) (ips, wallets, countries int64, err error) {
	if DB == nil {
		return 0, 0, 0, errors.New("database not initialised")
	}

	db := DB
	if ctx != nil {
		db = db.WithContext(ctx)
	}

	if err = db.Model(&domain.RequestLogEntry{}).
		Where("requested_at >= ?", since).
		Distinct("ip").Count(&ips).Error; err != nil {
		return 0, 0, 0, err
	}
	if err = db.Model(&domain.RequestLogEntry{}).
		Where("requested_at >= ? AND wallet <> ''", since).
		Distinct("wallet").Count(&wallets).Error; err != nil {
		return 0, 0, 0, err
	}
	if err = db.Model(&domain.RequestLogEntry{}).
		Where("requested_at >= ? AND country <> ''", since).
		Distinct("country").Count(&countries).Error; err != nil {
		return 0, 0, 0, err
	}
	return ips, wallets, countries, nil
}

// CompactRequestLog folds raw rows older than cutoff into aggregated_stats
// rollup buckets and deletes them. The rollups are written before the raw
// rows are removed so the count invariant holds at every step. The sweep
// proceeds one whole bucket at a time: a bucket's stat row is only ever
// written from the complete set of its raw rows, because the if-absent
// insert would silently keep a partial row on any later pass.
func CompactRequestLog(ctx context.Context, cutoff time.Time, bucketWidth time.Duration) (int64, error) {
	if DB == nil {
		return 0, errors.New("database not initialised")
	}
	if bucketWidth <= 0 {
		bucketWidth = time.Minute
	}

	db := DB
	if ctx != nil {
		db = db.WithContext(ctx)
	}

	// Rows in the bucket straddling the cutoff stay for the next sweep.
	cutoff = cutoff.UTC().Truncate(bucketWidth)

	var compacted int64
	for {
		var oldest domain.RequestLogEntry
		err := db.
			Where("requested_at < ?", cutoff).
			Order("requested_at ASC").
			First(&oldest).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return compacted, nil
		}
		if err != nil {
			return compacted, err
		}

		bucketStart := oldest.RequestedAt.UTC().Truncate(bucketWidth)
		bucketEnd := bucketStart.Add(bucketWidth)

		var batch []domain.RequestLogEntry
		if err := db.
			Where("requested_at >= ? AND requested_at < ?", bucketStart, bucketEnd).
			Find(&batch).Error; err != nil {
			return compacted, err
		}

		stats := foldIntoBuckets(batch, bucketWidth)
		if err := InsertAggregatedStatsIfAbsent(ctx, stats); err != nil {
			return compacted, err
		}

		res := db.Where("requested_at >= ? AND requested_at < ?", bucketStart, bucketEnd).
			Delete(&domain.RequestLogEntry{})
		if res.Error != nil {
			return compacted, res.Error
		}
		compacted += res.RowsAffected
	}
}

func foldIntoBuckets(entries []domain.RequestLogEntry, bucketWidth time.Duration) []domain.AggregatedStat {
	type key struct {
		identityType string
		identity     string
		bucket       int64
	}

	folded := make(map[key]*domain.AggregatedStat)

	add := func(identityType, identity string, entry domain.RequestLogEntry) {
		bucketStart := entry.RequestedAt.UTC().Truncate(bucketWidth)
		k := key{identityType: identityType, identity: identity, bucket: bucketStart.Unix()}
		stat, ok := folded[k]
		if !ok {
			stat = &domain.AggregatedStat{
				IdentityType:  identityType,
				Identity:      identity,
				BucketStart:   bucketStart,
				BucketSeconds: uint32(bucketWidth / time.Second),
			}
			folded[k] = stat
		}
		stat.RequestCount++
		if entry.Blocked {
			stat.BlockedCount++
		}
		if entry.StatusCode >= 400 && !entry.Blocked {
			stat.ErrorCount++
		}
	}

	for _, entry := range entries {
		add(string(domain.IdentityIP), entry.IP, entry)
		if entry.Wallet != "" {
			add(string(domain.IdentityWallet), entry.Wallet, entry)
		}
	}

	stats := make([]domain.AggregatedStat, 0, len(folded))
	for _, stat := range folded {
		stats = append(stats, *stat)
	}
	return stats
}
