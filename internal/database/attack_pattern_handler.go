package database

import (
	"context"
	"errors"

	"rpcguard/internal/domain"
)

// InsertAttackPattern records one detected abuse episode. Patterns are
// append-only; there is deliberately no update path.
func InsertAttackPattern(ctx context.Context, pattern *domain.AttackPattern) error {
	if DB == nil {
		return errors.New("database not initialised")
	}

	db := DB
	if ctx != nil {
		db = db.WithContext(ctx)
	}

	return db.Create(pattern).Error
}

// ListAttackPatterns returns the newest detections for the admin dashboard.
func ListAttackPatterns(ctx context.Context, limit int) ([]domain.AttackPattern, error) {
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

	var patterns []domain.AttackPattern
	if err := db.Order("detected_at DESC").Limit(limit).Find(&patterns).Error; err != nil {
		return nil, err
	}
	return patterns, nil
}
