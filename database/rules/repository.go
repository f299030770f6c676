package rules

import (
	"fmt"

	"gorm.io/gorm"

	models "intraday-autotrader/database/models_pkg"
)

// Repository handles database operations for tenant rule definitions
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new rules repository
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// GetActiveRules loads a tenant's active rules in descending priority order.
// This is the only rule query the trading loop needs: rules are loaded once
// at run start and read-only afterwards.
func (r *Repository) GetActiveRules(tenant string) ([]models.RuleRecord, error) {
	var records []models.RuleRecord
	err := r.db.Where("tenant = ? AND active = ?", tenant, true).
		Order("priority DESC").
		Find(&records).Error

	if err != nil {
		return nil, fmt.Errorf("GetActiveRules: %w", err)
	}
	return records, nil
}

// SaveRule inserts or updates a rule definition
func (r *Repository) SaveRule(record *models.RuleRecord) error {
	if err := r.db.Save(record).Error; err != nil {
		return fmt.Errorf("SaveRule: %w", err)
	}
	return nil
}
