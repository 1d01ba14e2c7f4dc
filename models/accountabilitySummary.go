package models

import (
	"context"
	"errors"
	"time"

	"github.com/mmdatafocus/equiptrack_backend/config"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PersonnelAccountabilitySummary is a derived row, never a source of truth.
// It must always equal the aggregate of unsettled LOST/DAMAGED records for
// its (personnel, clearance request) key; the nil clearance key tracks
// routine, non-clearance accountability separately.
type PersonnelAccountabilitySummary struct {
	ID                    int                  `gorm:"primary_key" json:"id"`
	OrgId                 string               `gorm:"size:64;not null;uniqueIndex:idx_summary_key,priority:1" json:"org_id"`
	PersonnelId           int                  `gorm:"not null;uniqueIndex:idx_summary_key,priority:2" json:"personnel_id"`
	ClearanceRequestId    *int                 `gorm:"uniqueIndex:idx_summary_key,priority:3" json:"clearance_request_id"`
	LostEquipmentCount    int                  `gorm:"not null" json:"lost_equipment_count"`
	DamagedEquipmentCount int                  `gorm:"not null" json:"damaged_equipment_count"`
	LostEquipmentValue    decimal.Decimal      `gorm:"type:decimal(20,5);not null" json:"lost_equipment_value"`
	DamagedEquipmentValue decimal.Decimal      `gorm:"type:decimal(20,5);not null" json:"damaged_equipment_value"`
	TotalOutstandingAmount decimal.Decimal     `gorm:"type:decimal(20,5);not null" json:"total_outstanding_amount"`
	AccountabilityStatus  AccountabilityStatus `gorm:"size:20;not null;default:'SETTLED'" json:"accountability_status"`
	CreatedAt             time.Time            `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time            `gorm:"autoUpdateTime" json:"updated_at"`
}

type summaryTotals struct {
	LostCount        int
	DamagedCount     int
	LostValue        decimal.Decimal
	DamagedValue     decimal.Decimal
	TotalOutstanding decimal.Decimal
	Status           AccountabilityStatus
}

// computeSummaryTotals re-derives the aggregate from scratch. Callers pass
// only unsettled LOST/DAMAGED records for one (personnel, clearance) key;
// anything else in the slice is ignored rather than miscounted.
func computeSummaryTotals(records []AccountabilityRecord) summaryTotals {
	totals := summaryTotals{
		LostValue:        decimal.Zero,
		DamagedValue:     decimal.Zero,
		TotalOutstanding: decimal.Zero,
	}
	for _, record := range records {
		if record.IsSettled {
			continue
		}
		switch record.RecordType {
		case AccountabilityRecordTypeLost:
			totals.LostCount++
			totals.LostValue = totals.LostValue.Add(record.AmountDue)
		case AccountabilityRecordTypeDamaged:
			totals.DamagedCount++
			totals.DamagedValue = totals.DamagedValue.Add(record.AmountDue)
		default:
			continue
		}
		totals.TotalOutstanding = totals.TotalOutstanding.Add(record.AmountDue)
	}
	if totals.TotalOutstanding.IsPositive() {
		totals.Status = AccountabilityStatusUnsettled
	} else {
		totals.Status = AccountabilityStatusSettled
	}
	return totals
}

// RecomputeSummaryTx re-derives and upserts the summary row for one key
// inside the caller's transaction. Full recompute, never an incremental
// patch: scattered ad hoc aggregation is what lets summaries drift.
func RecomputeSummaryTx(tx *gorm.DB, orgId string, personnelId int, clearanceRequestId *int) (*PersonnelAccountabilitySummary, error) {

	var records []AccountabilityRecord
	q := tx.Where("org_id = ? AND personnel_id = ? AND is_settled = ? AND record_type IN ?",
		orgId, personnelId, false,
		[]AccountabilityRecordType{AccountabilityRecordTypeLost, AccountabilityRecordTypeDamaged})
	if clearanceRequestId == nil {
		q = q.Where("clearance_request_id IS NULL")
	} else {
		q = q.Where("clearance_request_id = ?", *clearanceRequestId)
	}
	if err := q.Find(&records).Error; err != nil {
		return nil, err
	}

	totals := computeSummaryTotals(records)

	var summary PersonnelAccountabilitySummary
	qs := tx.Where("org_id = ? AND personnel_id = ?", orgId, personnelId)
	if clearanceRequestId == nil {
		qs = qs.Where("clearance_request_id IS NULL")
	} else {
		qs = qs.Where("clearance_request_id = ?", *clearanceRequestId)
	}
	err := qs.First(&summary).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	summary.OrgId = orgId
	summary.PersonnelId = personnelId
	summary.ClearanceRequestId = clearanceRequestId
	summary.LostEquipmentCount = totals.LostCount
	summary.DamagedEquipmentCount = totals.DamagedCount
	summary.LostEquipmentValue = totals.LostValue
	summary.DamagedEquipmentValue = totals.DamagedValue
	summary.TotalOutstandingAmount = totals.TotalOutstanding
	summary.AccountabilityStatus = totals.Status

	if errors.Is(err, gorm.ErrRecordNotFound) {
		if err := tx.Create(&summary).Error; err != nil {
			return nil, err
		}
	} else {
		if err := tx.Model(&PersonnelAccountabilitySummary{}).
			Where("id = ?", summary.ID).
			Updates(map[string]interface{}{
				"lost_equipment_count":     summary.LostEquipmentCount,
				"damaged_equipment_count":  summary.DamagedEquipmentCount,
				"lost_equipment_value":     summary.LostEquipmentValue,
				"damaged_equipment_value":  summary.DamagedEquipmentValue,
				"total_outstanding_amount": summary.TotalOutstandingAmount,
				"accountability_status":    summary.AccountabilityStatus,
			}).Error; err != nil {
			return nil, err
		}
	}
	return &summary, nil
}

// RecomputeSummary is the standalone wrapper used by reports and maintenance
// harnesses; core mutations call RecomputeSummaryTx inside their own
// transaction instead.
func RecomputeSummary(ctx context.Context, personnelId int, clearanceRequestId *int) (*PersonnelAccountabilitySummary, error) {
	orgId, err := orgIdFromContext(ctx)
	if err != nil {
		return nil, err
	}
	db := config.GetDB()

	var summary *PersonnelAccountabilitySummary
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		summary, txErr = RecomputeSummaryTx(tx, orgId, personnelId, clearanceRequestId)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return summary, nil
}

// CheckApprovalEligibility returns true iff no summary row exists for the
// (personnel, request) key or the row is settled.
func CheckApprovalEligibility(ctx context.Context, requestId int, personnelId int) (bool, error) {
	orgId, err := orgIdFromContext(ctx)
	if err != nil {
		return false, err
	}
	db := config.GetDB()

	var summary PersonnelAccountabilitySummary
	err = db.WithContext(ctx).
		Where("org_id = ? AND personnel_id = ? AND clearance_request_id = ?", orgId, personnelId, requestId).
		First(&summary).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return summary.AccountabilityStatus == AccountabilityStatusSettled, nil
}

// checkApprovalEligibilityTx is the in-transaction variant used by the
// request-status recompute.
func checkApprovalEligibilityTx(tx *gorm.DB, orgId string, requestId int, personnelId int) (bool, error) {
	var summary PersonnelAccountabilitySummary
	err := tx.
		Where("org_id = ? AND personnel_id = ? AND clearance_request_id = ?", orgId, personnelId, requestId).
		First(&summary).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return summary.AccountabilityStatus == AccountabilityStatusSettled, nil
}

// GetPersonnelSummaries lists every summary key for a personnel (routine key
// first). Read-only; reflects the last committed transaction.
func GetPersonnelSummaries(ctx context.Context, personnelId int) ([]*PersonnelAccountabilitySummary, error) {
	orgId, err := orgIdFromContext(ctx)
	if err != nil {
		return nil, err
	}
	db := config.GetDB()
	var summaries []*PersonnelAccountabilitySummary
	if err := db.WithContext(ctx).
		Where("org_id = ? AND personnel_id = ?", orgId, personnelId).
		Order("clearance_request_id ASC").
		Find(&summaries).Error; err != nil {
		return nil, err
	}
	return summaries, nil
}
