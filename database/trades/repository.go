package trades

import (
	"fmt"
	"strings"

	"gorm.io/gorm"

	models "intraday-autotrader/database/models_pkg"
)

// Repository handles database operations for committed trade records
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new trades repository
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// SaveTradeRecord persists one committed trade. A duplicate (run, sequence)
// pair means the async durability retry raced a successful first write, so
// duplicates are ignored rather than surfaced.
func (r *Repository) SaveTradeRecord(record *models.TradeRecord) error {
	if err := r.db.Create(record).Error; err != nil {
		if strings.Contains(err.Error(), "duplicate key value violates unique constraint") {
			return nil
		}
		return fmt.Errorf("SaveTradeRecord: %w", err)
	}
	return nil
}

// GetTradesByRun retrieves a run's trades in commit order
func (r *Repository) GetTradesByRun(runID string) ([]models.TradeRecord, error) {
	var records []models.TradeRecord
	err := r.db.Where("run_id = ?", runID).
		Order("sequence ASC").
		Find(&records).Error

	if err != nil {
		return nil, fmt.Errorf("GetTradesByRun: %w", err)
	}
	return records, nil
}

// CountTradesByRun returns the number of committed trades for a run
func (r *Repository) CountTradesByRun(runID string) (int64, error) {
	var count int64
	err := r.db.Model(&models.TradeRecord{}).
		Where("run_id = ?", runID).
		Count(&count).Error

	if err != nil {
		return 0, fmt.Errorf("CountTradesByRun: %w", err)
	}
	return count, nil
}
