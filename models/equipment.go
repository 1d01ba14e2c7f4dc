package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/equiptrack_backend/config"
	"github.com/mmdatafocus/equiptrack_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// EquipmentItem lifecycle is owned by the equipment registry; the clearance
// core only reads/writes the condition and assignment fields. Items are
// never deleted here.
type EquipmentItem struct {
	ID                  int                      `gorm:"primary_key" json:"id"`
	OrgId               string                   `gorm:"size:64;index;not null" json:"org_id"`
	Name                string                   `gorm:"size:100;not null" json:"name"`
	SerialNumber        string                   `gorm:"size:100;index" json:"serial_number"`
	Value               decimal.Decimal          `gorm:"type:decimal(20,5);not null" json:"value"`
	ConditionStatus     EquipmentConditionStatus `gorm:"size:20;not null;default:'Good'" json:"condition_status"`
	AssignedPersonnelId *int                     `gorm:"index" json:"assigned_personnel_id"`
	CreatedAt           time.Time                `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time                `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewEquipmentItem struct {
	Name                string          `json:"name" binding:"required"`
	SerialNumber        string          `json:"serial_number" binding:"required"`
	Value               decimal.Decimal `json:"value"`
	AssignedPersonnelId *int            `json:"assigned_personnel_id"`
}

func CreateEquipmentItem(ctx context.Context, input *NewEquipmentItem) (*EquipmentItem, error) {
	db := config.GetDB()

	orgId, err := orgIdFromContext(ctx)
	if err != nil {
		return nil, err
	}

	if input.Value.IsNegative() {
		return nil, utils.NewValidationError("value", "value must not be negative")
	}
	if err := utils.ValidateUnique[EquipmentItem](ctx, orgId, "serial_number", input.SerialNumber, 0); err != nil {
		return nil, err
	}
	if input.AssignedPersonnelId != nil {
		if err := utils.ValidateResourceId[Personnel](ctx, orgId, *input.AssignedPersonnelId); err != nil {
			return nil, utils.NewNotFoundError("personnel", *input.AssignedPersonnelId)
		}
	}

	item := EquipmentItem{
		OrgId:               orgId,
		Name:                input.Name,
		SerialNumber:        input.SerialNumber,
		Value:               input.Value,
		ConditionStatus:     EquipmentConditionGood,
		AssignedPersonnelId: input.AssignedPersonnelId,
	}

	tx := db.Begin()
	if err := tx.WithContext(ctx).Create(&item).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := SaveHistoryCreate(tx.WithContext(ctx), item.ID, "equipment_items", &item, "Equipment "+item.Name+" created."); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := PublishToClearanceFeed(ctx, tx, orgId, time.Now().UTC(), item.ID, FeedRefTypeEquipmentItem, &item, nil, ClearanceEventActionCreate); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return &item, nil
}

func GetEquipmentItem(ctx context.Context, id int) (*EquipmentItem, error) {
	orgId, err := orgIdFromContext(ctx)
	if err != nil {
		return nil, err
	}
	item, err := utils.FetchModel[EquipmentItem](ctx, orgId, id)
	if err != nil {
		return nil, utils.NewNotFoundError("equipment item", id)
	}
	return item, nil
}

// AssignEquipment moves an item to a personnel. Lost or retired items cannot
// be assigned.
func AssignEquipment(ctx context.Context, equipmentId int, personnelId int) (*EquipmentItem, error) {
	db := config.GetDB()
	orgId, err := orgIdFromContext(ctx)
	if err != nil {
		return nil, err
	}

	item, err := GetEquipmentItem(ctx, equipmentId)
	if err != nil {
		return nil, err
	}
	if item.ConditionStatus == EquipmentConditionLost || item.ConditionStatus == EquipmentConditionRetired {
		return nil, utils.NewInvalidStateError("equipment item", equipmentId, string(item.ConditionStatus), "assignable condition")
	}
	if err := utils.ValidateResourceId[Personnel](ctx, orgId, personnelId); err != nil {
		return nil, utils.NewNotFoundError("personnel", personnelId)
	}

	old := *item
	item.AssignedPersonnelId = &personnelId

	tx := db.Begin()
	if err := tx.WithContext(ctx).Model(&EquipmentItem{}).
		Where("org_id = ? AND id = ?", orgId, equipmentId).
		Update("assigned_personnel_id", personnelId).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := SaveHistoryUpdate(tx.WithContext(ctx), item.ID, "equipment_items", &old, item, "Equipment assigned."); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return item, nil
}

// ListEquipmentByPersonnel returns the items currently assigned to a
// personnel. Clearance request creation uses this to seed its item rows.
func ListEquipmentByPersonnel(ctx context.Context, personnelId int) ([]*EquipmentItem, error) {
	orgId, err := orgIdFromContext(ctx)
	if err != nil {
		return nil, err
	}
	db := config.GetDB()
	var items []*EquipmentItem
	if err := db.WithContext(ctx).
		Where("org_id = ? AND assigned_personnel_id = ?", orgId, personnelId).
		Order("id ASC").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// updateEquipmentConditionTx applies an inspection or return outcome to the
// item inside the caller's transaction. clearAssignment drops the personnel
// link (used when a lost item comes back Good).
func updateEquipmentConditionTx(tx *gorm.DB, orgId string, equipmentId int, condition EquipmentConditionStatus, clearAssignment bool) error {
	updates := map[string]interface{}{
		"condition_status": condition,
	}
	if clearAssignment {
		updates["assigned_personnel_id"] = nil
	}
	result := tx.Model(&EquipmentItem{}).
		Where("org_id = ? AND id = ?", orgId, equipmentId).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return utils.NewNotFoundError("equipment item", equipmentId)
	}
	return nil
}
