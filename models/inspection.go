package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mmdatafocus/equiptrack_backend/config"
	"github.com/mmdatafocus/equiptrack_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Inspection is the scheduled physical check of one equipment item. Completing
// it records the verdict and triggers the clearance/ledger fan-out.
type Inspection struct {
	ID            int                       `gorm:"primary_key" json:"id"`
	OrgId         string                    `gorm:"size:64;index;not null" json:"org_id"`
	InventoryId   int                       `gorm:"index;not null" json:"inventory_id"`
	ScheduledDate time.Time                 `gorm:"not null" json:"scheduled_date"`
	Status        InspectionStatus          `gorm:"size:20;not null;default:'Scheduled'" json:"status"`
	InspectorName string                    `gorm:"size:100" json:"inspector_name"`
	Result        *EquipmentConditionStatus `gorm:"size:20" json:"result"`
	CompletedAt   *time.Time                `json:"completed_at"`
	Remarks       string                    `gorm:"type:text" json:"remarks"`
	CreatedAt     time.Time                 `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time                 `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewInspection struct {
	InventoryId   int       `json:"inventory_id" binding:"required"`
	ScheduledDate time.Time `json:"scheduled_date" binding:"required"`
	InspectorName string    `json:"inspector_name"`
	Remarks       string    `json:"remarks"`
}

func ScheduleInspection(ctx context.Context, input *NewInspection) (*Inspection, error) {
	orgId, err := orgIdFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := utils.ValidateResourceId[EquipmentItem](ctx, orgId, input.InventoryId); err != nil {
		return nil, utils.NewNotFoundError("equipment item", input.InventoryId)
	}

	inspection := Inspection{
		OrgId:         orgId,
		InventoryId:   input.InventoryId,
		ScheduledDate: input.ScheduledDate,
		Status:        InspectionStatusScheduled,
		InspectorName: input.InspectorName,
		Remarks:       input.Remarks,
	}

	db := config.GetDB()
	tx := db.Begin().WithContext(ctx)
	if err := tx.Create(&inspection).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := SaveHistoryCreate(tx, inspection.ID, "inspections",
		&inspection, fmt.Sprintf("Inspection scheduled for equipment %d.", inspection.InventoryId)); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return &inspection, nil
}

func GetInspection(ctx context.Context, id int) (*Inspection, error) {
	orgId, err := orgIdFromContext(ctx)
	if err != nil {
		return nil, err
	}
	inspection, err := utils.FetchModel[Inspection](ctx, orgId, id)
	if err != nil {
		return nil, utils.NewNotFoundError("inspection", id)
	}
	return inspection, nil
}

func CancelInspection(ctx context.Context, id int, reason string) (*Inspection, error) {
	orgId, err := orgIdFromContext(ctx)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	tx := db.Begin().WithContext(ctx)

	var inspection Inspection
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("org_id = ? AND id = ?", orgId, id).
		First(&inspection).Error; err != nil {
		tx.Rollback()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NewNotFoundError("inspection", id)
		}
		return nil, err
	}
	if inspection.Status != InspectionStatusScheduled {
		tx.Rollback()
		return nil, utils.NewInvalidStateError("inspection", id, string(inspection.Status), string(InspectionStatusScheduled))
	}

	old := inspection
	inspection.Status = InspectionStatusCancelled
	inspection.Remarks = reason
	if err := tx.Model(&Inspection{}).
		Where("org_id = ? AND id = ?", orgId, id).
		Updates(map[string]interface{}{
			"status":  InspectionStatusCancelled,
			"remarks": reason,
		}).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := SaveHistoryUpdate(tx, inspection.ID, "inspections", &old, &inspection,
		fmt.Sprintf("Inspection %d cancelled.", inspection.ID)); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return &inspection, nil
}

type CompleteInspectionInput struct {
	Condition EquipmentConditionStatus `json:"condition" binding:"required"`
	AmountDue *decimal.Decimal         `json:"amount_due"`
	Remarks   string                   `json:"remarks"`
}

// CompleteInspection stamps the inspection row and fans the verdict out to
// the equipment, its clearance item rows, and the accountability ledger, all
// in one transaction. Either everything lands or nothing does.
func CompleteInspection(ctx context.Context, id int, input *CompleteInspectionInput) (*Inspection, error) {
	orgId, err := orgIdFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := MapConditionToClearanceStatus(input.Condition); err != nil {
		return nil, utils.NewValidationError("condition", "invalid equipment condition")
	}
	if input.AmountDue != nil && input.AmountDue.IsNegative() {
		return nil, utils.NewValidationError("amount_due", "amount must not be negative")
	}

	db := config.GetDB()

	var pending Inspection
	if err := db.WithContext(ctx).
		Where("org_id = ? AND id = ?", orgId, id).
		First(&pending).Error; err != nil {
		return nil, utils.NewNotFoundError("inspection", id)
	}
	var equipment EquipmentItem
	if err := db.WithContext(ctx).
		Where("org_id = ? AND id = ?", orgId, pending.InventoryId).
		First(&equipment).Error; err != nil {
		return nil, utils.NewNotFoundError("equipment item", pending.InventoryId)
	}

	locks, err := lockRequestsForEquipment(ctx, orgId, pending.InventoryId, "CompleteInspection")
	if err != nil {
		return nil, err
	}
	defer releaseLocks(ctx, locks)

	tx := db.Begin().WithContext(ctx)

	var inspection Inspection
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("org_id = ? AND id = ?", orgId, id).
		First(&inspection).Error; err != nil {
		tx.Rollback()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NewNotFoundError("inspection", id)
		}
		return nil, err
	}
	if inspection.Status != InspectionStatusScheduled {
		tx.Rollback()
		return nil, utils.NewInvalidStateError("inspection", id, string(inspection.Status), string(InspectionStatusScheduled))
	}

	now := time.Now().UTC()
	old := inspection
	inspection.Status = InspectionStatusCompleted
	inspection.Result = &input.Condition
	inspection.CompletedAt = &now
	if err := tx.Model(&Inspection{}).
		Where("org_id = ? AND id = ?", orgId, id).
		Updates(map[string]interface{}{
			"status":       InspectionStatusCompleted,
			"result":       input.Condition,
			"completed_at": now,
		}).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := SaveHistoryUpdate(tx, inspection.ID, "inspections", &old, &inspection,
		fmt.Sprintf("Inspection %d completed with result %s.", inspection.ID, input.Condition)); err != nil {
		tx.Rollback()
		return nil, err
	}

	outcome := InspectionOutcome{
		InventoryId: inspection.InventoryId,
		Condition:   input.Condition,
		InspectedBy: inspection.InspectorName,
		AmountDue:   input.AmountDue,
		Remarks:     input.Remarks,
	}
	if err := recordInspectionOutcomeTx(ctx, tx, orgId, &equipment, &outcome, &inspection.ID); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, utils.NewPersistenceError("commit", err)
	}

	invalidateClearanceItemCache(orgId, inspection.InventoryId)
	return &inspection, nil
}
