package models

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/equiptrack_backend/config"
	"github.com/mmdatafocus/equiptrack_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ClearanceInventoryItem links one equipment item to one clearance request.
// The same equipment can appear on several requests; each row carries its own
// inspection outcome.
type ClearanceInventoryItem struct {
	ID                 int                 `gorm:"primary_key" json:"id"`
	OrgId              string              `gorm:"size:64;index;not null" json:"org_id"`
	ClearanceRequestId int                 `gorm:"not null;uniqueIndex:idx_clearance_item,priority:1" json:"clearance_request_id"`
	InventoryId        int                 `gorm:"not null;index;uniqueIndex:idx_clearance_item,priority:2" json:"inventory_id"`
	PersonnelId        int                 `gorm:"index;not null" json:"personnel_id"`
	Status             ClearanceItemStatus `gorm:"size:20;not null;default:'Pending'" json:"status"`
	InspectedBy        string              `gorm:"size:100" json:"inspected_by"`
	InspectionDate     *time.Time          `json:"inspection_date"`
	Remarks            string              `gorm:"type:text" json:"remarks"`
	CreatedAt          time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

// linkUnlinkedLossRecordsTx attaches the personnel's routine unsettled LOST
// records to a newly created clearance request, so losses reported before the
// clearance opened still block it. Returns the number of linked rows; zero is
// not an error.
func linkUnlinkedLossRecordsTx(tx *gorm.DB, orgId string, clearanceRequestId int, personnelId int) (int, error) {
	result := tx.Model(&AccountabilityRecord{}).
		Where("org_id = ? AND personnel_id = ? AND record_type = ? AND is_settled = ? AND clearance_request_id IS NULL",
			orgId, personnelId, AccountabilityRecordTypeLost, false).
		Updates(map[string]interface{}{
			"clearance_request_id": clearanceRequestId,
			"source_type":          AccountabilitySourceClearance,
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return int(result.RowsAffected), nil
}

// LinkUnlinkedLossRecords is the standalone variant for requests that were
// created before the personnel's routine losses were recorded.
func LinkUnlinkedLossRecords(ctx context.Context, clearanceRequestId int) (int, error) {
	orgId, err := orgIdFromContext(ctx)
	if err != nil {
		return 0, err
	}

	request, err := GetClearanceRequest(ctx, clearanceRequestId)
	if err != nil {
		return 0, err
	}
	if request.Status.IsTerminal() {
		return 0, utils.NewInvalidStateError("clearance request", clearanceRequestId, string(request.Status), "Pending, InProgress or PendingForApproval")
	}

	lock, err := utils.ClearanceLock(ctx, orgId, clearanceRequestId, "clearanceInventoryItem.go", "LinkUnlinkedLossRecords")
	if err != nil {
		return 0, err
	}
	defer func() { _ = lock.Release(ctx) }()

	db := config.GetDB()
	var linked int
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		linked, txErr = linkUnlinkedLossRecordsTx(tx, orgId, clearanceRequestId, request.PersonnelId)
		if txErr != nil {
			return txErr
		}
		if linked == 0 {
			return nil
		}
		if _, txErr = RecomputeSummaryTx(tx, orgId, request.PersonnelId, &clearanceRequestId); txErr != nil {
			return txErr
		}
		if _, txErr = RecomputeSummaryTx(tx, orgId, request.PersonnelId, nil); txErr != nil {
			return txErr
		}
		if _, txErr = recomputeRequestStatusTx(tx, orgId, clearanceRequestId); txErr != nil {
			return txErr
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return linked, nil
}

type InspectionOutcome struct {
	InventoryId int                      `json:"inventory_id" binding:"required"`
	Condition   EquipmentConditionStatus `json:"condition" binding:"required"`
	InspectedBy string                   `json:"inspected_by"`
	AmountDue   *decimal.Decimal         `json:"amount_due"`
	Remarks     string                   `json:"remarks"`
}

type affectedSummaryKey struct {
	personnelId int
	requestId   int // 0 = routine key
}

// lockRequestsForEquipment takes the per-request locks for every clearance
// request with a pending item row on the equipment, in request-id order so
// concurrent inspections cannot deadlock on each other. Callers release via
// releaseLocks.
func lockRequestsForEquipment(ctx context.Context, orgId string, inventoryId int, funcName string) ([]*redislock.Lock, error) {
	db := config.GetDB()
	var pendingItems []ClearanceInventoryItem
	if err := db.WithContext(ctx).
		Where("org_id = ? AND inventory_id = ? AND status = ?",
			orgId, inventoryId, ClearanceItemStatusPending).
		Find(&pendingItems).Error; err != nil {
		return nil, utils.NewPersistenceError("load-items", err)
	}
	requestIds := make([]int, 0, len(pendingItems))
	seen := make(map[int]bool)
	for _, item := range pendingItems {
		if !seen[item.ClearanceRequestId] {
			seen[item.ClearanceRequestId] = true
			requestIds = append(requestIds, item.ClearanceRequestId)
		}
	}
	sort.Ints(requestIds)

	locks := make([]*redislock.Lock, 0, len(requestIds))
	for _, requestId := range requestIds {
		lock, err := utils.ClearanceLock(ctx, orgId, requestId, "clearanceInventoryItem.go", funcName)
		if err != nil {
			releaseLocks(ctx, locks)
			return nil, err
		}
		locks = append(locks, lock)
	}
	return locks, nil
}

func releaseLocks(ctx context.Context, locks []*redislock.Lock) {
	for _, l := range locks {
		_ = l.Release(ctx)
	}
}

// recordInspectionOutcomeTx fans one inspection verdict out inside the
// caller's transaction: equipment condition, every pending clearance item row
// on the equipment, a ledger charge per linking clearance request (or one
// routine charge on the assigned personnel when no request links it), then
// summaries and request statuses. Callers hold the per-request locks.
func recordInspectionOutcomeTx(ctx context.Context, tx *gorm.DB, orgId string, equipment *EquipmentItem, outcome *InspectionOutcome, inspectionId *int) error {
	itemStatus, err := MapConditionToClearanceStatus(outcome.Condition)
	if err != nil {
		return utils.NewValidationError("condition", "invalid equipment condition")
	}
	now := time.Now().UTC()
	chargeable := itemStatus == ClearanceItemStatusDamaged || itemStatus == ClearanceItemStatusLost

	if err := updateEquipmentConditionTx(tx, orgId, equipment.ID, outcome.Condition, false); err != nil {
		return utils.NewPersistenceError("update-equipment", err)
	}

	var items []ClearanceInventoryItem
	if err := tx.Where("org_id = ? AND inventory_id = ? AND status = ?",
		orgId, equipment.ID, ClearanceItemStatusPending).
		Find(&items).Error; err != nil {
		return utils.NewPersistenceError("load-items", err)
	}
	for _, item := range items {
		if !item.Status.CanTransition(itemStatus) {
			return utils.NewInvalidStateError("clearance item", item.ID, string(item.Status), string(itemStatus))
		}
		if err := tx.Model(&ClearanceInventoryItem{}).
			Where("org_id = ? AND id = ?", orgId, item.ID).
			Updates(map[string]interface{}{
				"status":          itemStatus,
				"inspected_by":    outcome.InspectedBy,
				"inspection_date": now,
				"remarks":         outcome.Remarks,
			}).Error; err != nil {
			return utils.NewPersistenceError("update-items", err)
		}
	}

	summaryKeys := make(map[affectedSummaryKey]*int)
	affectedRequests := make(map[int]bool)
	for _, item := range items {
		affectedRequests[item.ClearanceRequestId] = true
	}

	if chargeable {
		recordType := AccountabilityRecordTypeDamaged
		if itemStatus == ClearanceItemStatusLost {
			recordType = AccountabilityRecordTypeLost
		}
		amount := equipment.Value
		if outcome.AmountDue != nil {
			amount = *outcome.AmountDue
		}

		if len(items) > 0 {
			// One charge per linking clearance request; each request owns its
			// own accountability key.
			for _, item := range items {
				requestId := item.ClearanceRequestId
				input := NewAccountabilityRecord{
					PersonnelId:        item.PersonnelId,
					InventoryId:        equipment.ID,
					InspectionId:       inspectionId,
					RecordType:         recordType,
					AmountDue:          amount,
					ClearanceRequestId: &requestId,
					Remarks:            outcome.Remarks,
				}
				if _, err := recordLossTx(ctx, tx, orgId, &input); err != nil {
					return err
				}
				summaryKeys[affectedSummaryKey{item.PersonnelId, requestId}] = &requestId
			}
		} else if equipment.AssignedPersonnelId != nil {
			// No clearance links the item: routine charge on the holder.
			input := NewAccountabilityRecord{
				PersonnelId:  *equipment.AssignedPersonnelId,
				InventoryId:  equipment.ID,
				InspectionId: inspectionId,
				RecordType:   recordType,
				AmountDue:    amount,
				Remarks:      outcome.Remarks,
			}
			if _, err := recordLossTx(ctx, tx, orgId, &input); err != nil {
				return err
			}
			summaryKeys[affectedSummaryKey{*equipment.AssignedPersonnelId, 0}] = nil
		}
		// Unassigned and unlinked: the condition still changes, nobody is
		// charged.
	}

	for key, requestId := range summaryKeys {
		if _, err := RecomputeSummaryTx(tx, orgId, key.personnelId, requestId); err != nil {
			return utils.NewPersistenceError("recompute-summary", err)
		}
	}
	for requestId := range affectedRequests {
		if _, err := recomputeRequestStatusTx(tx, orgId, requestId); err != nil {
			return utils.NewPersistenceError("recompute-request-status", err)
		}
	}

	if err := SaveHistoryUpdate(tx, equipment.ID, "equipment_items", nil, outcome,
		fmt.Sprintf("Inspection outcome %s recorded for equipment %d.", outcome.Condition, equipment.ID)); err != nil {
		return err
	}
	return nil
}

// RecordInspectionOutcome applies an ad hoc inspection verdict (no scheduled
// inspection row) in a single transaction. Scheduled inspections go through
// CompleteInspection, which stamps its row in the same transaction.
func RecordInspectionOutcome(ctx context.Context, outcome *InspectionOutcome) error {
	orgId, err := orgIdFromContext(ctx)
	if err != nil {
		return err
	}
	if _, err := MapConditionToClearanceStatus(outcome.Condition); err != nil {
		return utils.NewValidationError("condition", "invalid equipment condition")
	}
	if outcome.AmountDue != nil && outcome.AmountDue.IsNegative() {
		return utils.NewValidationError("amount_due", "amount must not be negative")
	}

	db := config.GetDB()
	var equipment EquipmentItem
	if err := db.WithContext(ctx).
		Where("org_id = ? AND id = ?", orgId, outcome.InventoryId).
		First(&equipment).Error; err != nil {
		return utils.NewNotFoundError("equipment item", outcome.InventoryId)
	}

	locks, err := lockRequestsForEquipment(ctx, orgId, outcome.InventoryId, "RecordInspectionOutcome")
	if err != nil {
		return err
	}
	defer releaseLocks(ctx, locks)

	tx := db.Begin().WithContext(ctx)
	if err := recordInspectionOutcomeTx(ctx, tx, orgId, &equipment, outcome, nil); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit().Error; err != nil {
		return utils.NewPersistenceError("commit", err)
	}

	invalidateClearanceItemCache(orgId, outcome.InventoryId)
	return nil
}

// GetClearanceItems lists the item rows of one request in id order.
func GetClearanceItems(ctx context.Context, clearanceRequestId int) ([]*ClearanceInventoryItem, error) {
	orgId, err := orgIdFromContext(ctx)
	if err != nil {
		return nil, err
	}
	db := config.GetDB()
	var items []*ClearanceInventoryItem
	if err := db.WithContext(ctx).
		Where("org_id = ? AND clearance_request_id = ?", orgId, clearanceRequestId).
		Order("id ASC").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
