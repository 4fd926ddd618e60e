package hazards

import (
	"context"
	"fmt"
	"time"

	"github.com/router-for-me/hazardguard/internal/models"
	"gorm.io/gorm"
)

// LoadDB reads enabled hazards ordered by position then id.
func LoadDB(ctx context.Context, db *gorm.DB) ([]Definition, error) {
	if db == nil {
		return nil, nil
	}
	var rows []models.Hazard
	if errFind := db.WithContext(ctx).
		Where("enabled = ?", true).
		Order("position ASC").
		Order("id ASC").
		Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("hazards: load db: %w", errFind)
	}
	out := make([]Definition, 0, len(rows))
	for _, row := range rows {
		def, errConvert := FromModel(row)
		if errConvert != nil {
			return nil, errConvert
		}
		out = append(out, def)
	}
	return out, nil
}

// dbFingerprint summarizes the hazards table so pollers can skip unchanged reads.
type dbFingerprint struct {
	count     int64
	updatedAt time.Time
	maxID     uint64
}

func loadFingerprint(ctx context.Context, db *gorm.DB) (dbFingerprint, error) {
	var fp dbFingerprint
	var latest models.Hazard
	q := db.WithContext(ctx).Model(&models.Hazard{})
	if errCount := q.Count(&fp.count).Error; errCount != nil {
		return fp, errCount
	}
	if fp.count == 0 {
		return fp, nil
	}
	if errLatest := db.WithContext(ctx).Order("updated_at DESC").Order("id DESC").Limit(1).Find(&latest).Error; errLatest != nil {
		return fp, errLatest
	}
	fp.updatedAt = latest.UpdatedAt.UTC()
	fp.maxID = latest.ID
	return fp, nil
}
