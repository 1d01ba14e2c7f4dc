package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/equiptrack_backend/config"
)

// ReconciliationReport records one finding of the consistency sweep: a
// summary row that disagreed with the ledger, or a duplicated unsettled
// (personnel, inventory) pair. Rows are kept for audit even after the drift
// is repaired.
type ReconciliationReport struct {
	ID          int        `gorm:"primary_key" json:"id"`
	OrgId       string     `gorm:"size:64;index;not null" json:"org_id"`
	CheckName   string     `gorm:"size:50;not null" json:"check_name"`
	PersonnelId int        `gorm:"index" json:"personnel_id"`
	InventoryId int        `json:"inventory_id"`
	Detail      string     `gorm:"type:text" json:"detail"`
	Repaired    bool       `gorm:"not null;default:false" json:"repaired"`
	RepairedAt  *time.Time `json:"repaired_at"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

func GetReconciliationReports(ctx context.Context, limit int) ([]*ReconciliationReport, error) {
	orgId, err := orgIdFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	db := config.GetDB()
	var reports []*ReconciliationReport
	if err := db.WithContext(ctx).
		Where("org_id = ?", orgId).
		Order("id DESC").
		Limit(limit).
		Find(&reports).Error; err != nil {
		return nil, err
	}
	return reports, nil
}
