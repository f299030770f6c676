package runs

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	models "intraday-autotrader/database/models_pkg"
)

// Repository handles database operations for run metadata
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new runs repository
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// CreateRun inserts the initial run record (status running)
func (r *Repository) CreateRun(record *models.RunRecord) error {
	if err := r.db.Create(record).Error; err != nil {
		return fmt.Errorf("CreateRun: %w", err)
	}
	return nil
}

// GetRun retrieves a run by id
func (r *Repository) GetRun(runID string) (*models.RunRecord, error) {
	var record models.RunRecord
	err := r.db.Where("id = ?", runID).First(&record).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetRun: %w", err)
	}
	return &record, nil
}

// GetRunsByTenant retrieves recent runs for a tenant
func (r *Repository) GetRunsByTenant(tenant string, limit int) ([]models.RunRecord, error) {
	var records []models.RunRecord
	query := r.db.Where("tenant = ?", tenant).Order("started_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("GetRunsByTenant: %w", err)
	}
	return records, nil
}

// FinalizeRun writes the terminal status and aggregate metrics. The run
// controller calls this exactly once per run.
func (r *Repository) FinalizeRun(record *models.RunRecord) error {
	now := time.Now()
	record.EndedAt = &now
	if err := r.db.Save(record).Error; err != nil {
		return fmt.Errorf("FinalizeRun: %w", err)
	}
	return nil
}
