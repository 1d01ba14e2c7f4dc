package models

import (
	"context"
	"fmt"
	"time"

	"github.com/mmdatafocus/equiptrack_backend/config"
	"github.com/mmdatafocus/equiptrack_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// AccountabilityRecord is an append-mostly ledger entry charging a personnel
// for lost/damaged equipment. Records are never physically deleted, only
// soft-settled.
type AccountabilityRecord struct {
	ID                 int                      `gorm:"primary_key" json:"id"`
	OrgId              string                   `gorm:"size:64;index;not null" json:"org_id"`
	PersonnelId        int                      `gorm:"index;not null;index:idx_ledger_pair,priority:1" json:"personnel_id"`
	InventoryId        int                      `gorm:"index;not null;index:idx_ledger_pair,priority:2" json:"inventory_id"`
	InspectionId       *int                     `gorm:"index" json:"inspection_id"`
	RecordType         AccountabilityRecordType `gorm:"size:10;not null" json:"record_type"`
	AmountDue          decimal.Decimal          `gorm:"type:decimal(20,5);not null" json:"amount_due"`
	IsSettled          bool                     `gorm:"index;not null;default:false" json:"is_settled"`
	EquipmentReturned  bool                     `gorm:"not null;default:false" json:"equipment_returned"`
	SettlementDate     *time.Time               `json:"settlement_date"`
	SettlementMethod   string                   `gorm:"size:50" json:"settlement_method"`
	SourceType         AccountabilitySourceType `gorm:"size:20;not null" json:"source_type"`
	ClearanceRequestId *int                     `gorm:"index" json:"clearance_request_id"`
	Remarks            string                   `gorm:"type:text" json:"remarks"`
	CreatedAt          time.Time                `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time                `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewAccountabilityRecord struct {
	PersonnelId        int                      `json:"personnel_id" binding:"required"`
	InventoryId        int                      `json:"inventory_id" binding:"required"`
	InspectionId       *int                     `json:"inspection_id"`
	RecordType         AccountabilityRecordType `json:"record_type" binding:"required"`
	AmountDue          decimal.Decimal          `json:"amount_due"`
	ClearanceRequestId *int                     `json:"clearance_request_id"`
	Remarks            string                   `json:"remarks"`
}

func (input *NewAccountabilityRecord) validate() error {
	if input.RecordType != AccountabilityRecordTypeLost && input.RecordType != AccountabilityRecordTypeDamaged {
		return utils.NewValidationError("record_type", "record type must be LOST or DAMAGED")
	}
	if input.AmountDue.IsNegative() {
		return utils.NewValidationError("amount_due", "amount must not be negative")
	}
	return nil
}

// recordLossTx inserts one new unsettled ledger row inside the caller's
// transaction. Creation does not dedupe against existing unsettled rows for
// the same (personnel, inventory) pair; duplicates are surfaced by the
// reconciliation checks instead of being silently merged.
func recordLossTx(ctx context.Context, tx *gorm.DB, orgId string, input *NewAccountabilityRecord) (*AccountabilityRecord, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}

	sourceType := AccountabilitySourceRoutine
	if input.ClearanceRequestId != nil {
		sourceType = AccountabilitySourceClearance
	}

	record := AccountabilityRecord{
		OrgId:              orgId,
		PersonnelId:        input.PersonnelId,
		InventoryId:        input.InventoryId,
		InspectionId:       input.InspectionId,
		RecordType:         input.RecordType,
		AmountDue:          input.AmountDue,
		IsSettled:          false,
		SourceType:         sourceType,
		ClearanceRequestId: input.ClearanceRequestId,
		Remarks:            input.Remarks,
	}
	if err := tx.Create(&record).Error; err != nil {
		return nil, utils.NewPersistenceError("record-loss", err)
	}
	if err := PublishToClearanceFeed(ctx, tx, orgId, time.Now().UTC(), record.ID, FeedRefTypeAccountabilityRecord, &record, nil, ClearanceEventActionCreate); err != nil {
		return nil, utils.NewPersistenceError("record-loss-feed", err)
	}
	return &record, nil
}

// RecordLoss charges a personnel for a lost/damaged item outside the
// inspection flow (manual ledger entry). Inspection outcomes go through
// RecordInspectionOutcome which calls recordLossTx for every linked request.
func RecordLoss(ctx context.Context, input *NewAccountabilityRecord) (*AccountabilityRecord, error) {
	orgId, err := orgIdFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := utils.ValidateResourceId[Personnel](ctx, orgId, input.PersonnelId); err != nil {
		return nil, utils.NewNotFoundError("personnel", input.PersonnelId)
	}
	if err := utils.ValidateResourceId[EquipmentItem](ctx, orgId, input.InventoryId); err != nil {
		return nil, utils.NewNotFoundError("equipment item", input.InventoryId)
	}
	if input.ClearanceRequestId != nil {
		if err := utils.ValidateResourceId[ClearanceRequest](ctx, orgId, *input.ClearanceRequestId); err != nil {
			return nil, utils.NewNotFoundError("clearance request", *input.ClearanceRequestId)
		}
	}

	db := config.GetDB()
	tx := db.Begin().WithContext(ctx)

	record, err := recordLossTx(ctx, tx, orgId, input)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if _, err := RecomputeSummaryTx(tx, orgId, input.PersonnelId, input.ClearanceRequestId); err != nil {
		tx.Rollback()
		return nil, utils.NewPersistenceError("recompute-summary", err)
	}
	if input.ClearanceRequestId != nil {
		if _, err := recomputeRequestStatusTx(tx, orgId, *input.ClearanceRequestId); err != nil {
			tx.Rollback()
			return nil, utils.NewPersistenceError("recompute-request-status", err)
		}
	}
	if err := SaveHistoryCreate(tx, record.ID, "accountability_records",
		record, fmt.Sprintf("Accountability of %v recorded for personnel %d.", record.AmountDue, record.PersonnelId)); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, utils.NewPersistenceError("commit", err)
	}
	return record, nil
}

// SettleAccountabilityRecords marks the listed records settled. The id set
// is expanded to every unsettled record sharing a (personnel, inventory)
// pair with a listed one, across clearance keys: settling only one of a
// duplicated pair resurrects stale accountability later. Already-settled
// records are a no-op, not an error.
func SettleAccountabilityRecords(ctx context.Context, recordIds []int, method string) error {
	orgId, err := orgIdFromContext(ctx)
	if err != nil {
		return err
	}
	if len(recordIds) == 0 {
		return utils.NewValidationError("record_ids", "at least one record id is required")
	}
	if method == "" {
		return utils.NewValidationError("method", "settlement method is required")
	}

	db := config.GetDB()
	tx := db.Begin().WithContext(ctx)
	if err := settleRecordsTx(ctx, tx, orgId, recordIds, method, time.Now().UTC()); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit().Error; err != nil {
		return utils.NewPersistenceError("commit", err)
	}
	return nil
}

func settleRecordsTx(ctx context.Context, tx *gorm.DB, orgId string, recordIds []int, method string, settledAt time.Time) error {
	recordIds = utils.UniqueSlice(recordIds)

	var listed []AccountabilityRecord
	if err := tx.Where("org_id = ? AND id IN ?", orgId, recordIds).Find(&listed).Error; err != nil {
		return utils.NewPersistenceError("load-records", err)
	}
	if len(listed) != len(recordIds) {
		found := make(map[int]bool, len(listed))
		for _, r := range listed {
			found[r.ID] = true
		}
		for _, id := range recordIds {
			if !found[id] {
				return utils.NewNotFoundError("accountability record", id)
			}
		}
	}

	// Expand to all unsettled duplicates per (personnel, inventory) pair.
	var toSettle []AccountabilityRecord
	seen := make(map[int]bool)
	for _, record := range listed {
		var matches []AccountabilityRecord
		if err := tx.Where(
			"org_id = ? AND personnel_id = ? AND inventory_id = ? AND is_settled = ? AND record_type IN ?",
			orgId, record.PersonnelId, record.InventoryId, false,
			[]AccountabilityRecordType{AccountabilityRecordTypeLost, AccountabilityRecordTypeDamaged},
		).Find(&matches).Error; err != nil {
			return utils.NewPersistenceError("load-duplicates", err)
		}
		for _, m := range matches {
			if !seen[m.ID] {
				seen[m.ID] = true
				toSettle = append(toSettle, m)
			}
		}
	}
	if len(toSettle) == 0 {
		// Everything listed was already settled.
		return nil
	}

	settleIds := make([]int, 0, len(toSettle))
	for _, r := range toSettle {
		settleIds = append(settleIds, r.ID)
	}
	if err := tx.Model(&AccountabilityRecord{}).
		Where("org_id = ? AND id IN ?", orgId, settleIds).
		Updates(map[string]interface{}{
			"is_settled":        true,
			"settlement_date":   settledAt,
			"settlement_method": method,
		}).Error; err != nil {
		return utils.NewPersistenceError("settle-records", err)
	}

	// Recompute every summary key the settled records touched, then the
	// status of every clearance request they belonged to.
	type summaryKey struct {
		personnelId int
		requestId   int // 0 = routine (nil) key
	}
	keys := make(map[summaryKey]*int)
	requestIds := make(map[int]bool)
	for _, r := range toSettle {
		k := summaryKey{personnelId: r.PersonnelId}
		if r.ClearanceRequestId != nil {
			k.requestId = *r.ClearanceRequestId
			requestIds[*r.ClearanceRequestId] = true
		}
		keys[k] = r.ClearanceRequestId
	}
	for k, requestId := range keys {
		if _, err := RecomputeSummaryTx(tx, orgId, k.personnelId, requestId); err != nil {
			return utils.NewPersistenceError("recompute-summary", err)
		}
	}
	for requestId := range requestIds {
		if _, err := recomputeRequestStatusTx(tx, orgId, requestId); err != nil {
			return utils.NewPersistenceError("recompute-request-status", err)
		}
	}

	for i := range toSettle {
		record := toSettle[i]
		if err := PublishToClearanceFeed(ctx, tx, orgId, settledAt, record.ID, FeedRefTypeAccountabilityRecord, nil, &record, ClearanceEventActionUpdate); err != nil {
			return utils.NewPersistenceError("settle-feed", err)
		}
	}
	if err := SaveHistoryUpdate(tx, toSettle[0].ID, "accountability_records", nil, settleIds,
		fmt.Sprintf("Settled %d accountability record(s) via %s.", len(toSettle), method)); err != nil {
		return err
	}
	return nil
}

// ReturnEquipment resolves a loss/damage record by physical return of the
// item. The record becomes RETURNED (was LOST) or REPAIRED (was DAMAGED) and
// is settled; the equipment condition is updated, the assignment is cleared
// when a lost item comes back Good, linked clearance items move to Returned,
// and the summary and request status are recomputed.
func ReturnEquipment(ctx context.Context, recordId int, conditionAfterReturn EquipmentConditionStatus, remarks string) error {
	orgId, err := orgIdFromContext(ctx)
	if err != nil {
		return err
	}

	db := config.GetDB()
	var record AccountabilityRecord
	if err := db.WithContext(ctx).Where("org_id = ? AND id = ?", orgId, recordId).First(&record).Error; err != nil {
		return utils.NewNotFoundError("accountability record", recordId)
	}
	if record.RecordType != AccountabilityRecordTypeLost && record.RecordType != AccountabilityRecordTypeDamaged {
		return utils.NewInvalidStateError("accountability record", recordId, string(record.RecordType), "LOST or DAMAGED")
	}
	if record.EquipmentReturned {
		return utils.NewInvalidStateError("accountability record", recordId, "returned", "outstanding")
	}

	newType := AccountabilityRecordTypeRepaired
	wasLost := record.RecordType == AccountabilityRecordTypeLost
	if wasLost {
		newType = AccountabilityRecordTypeReturned
	}
	now := time.Now().UTC()
	old := record

	tx := db.Begin().WithContext(ctx)

	if err := tx.Model(&AccountabilityRecord{}).
		Where("org_id = ? AND id = ?", orgId, recordId).
		Updates(map[string]interface{}{
			"record_type":        newType,
			"is_settled":         true,
			"equipment_returned": true,
			"settlement_date":    now,
			"settlement_method":  "EquipmentReturn",
			"remarks":            remarks,
		}).Error; err != nil {
		tx.Rollback()
		return utils.NewPersistenceError("update-record", err)
	}

	// A returned item also sweeps duplicate unsettled rows for the pair so
	// stale accountability cannot resurface.
	var duplicates []AccountabilityRecord
	if err := tx.Where(
		"org_id = ? AND personnel_id = ? AND inventory_id = ? AND is_settled = ? AND id <> ? AND record_type IN ?",
		orgId, record.PersonnelId, record.InventoryId, false, recordId,
		[]AccountabilityRecordType{AccountabilityRecordTypeLost, AccountabilityRecordTypeDamaged},
	).Find(&duplicates).Error; err != nil {
		tx.Rollback()
		return utils.NewPersistenceError("load-duplicates", err)
	}
	if len(duplicates) > 0 {
		dupIds := make([]int, 0, len(duplicates))
		for _, d := range duplicates {
			dupIds = append(dupIds, d.ID)
		}
		if err := tx.Model(&AccountabilityRecord{}).
			Where("org_id = ? AND id IN ?", orgId, dupIds).
			Updates(map[string]interface{}{
				"is_settled":         true,
				"equipment_returned": true,
				"settlement_date":    now,
				"settlement_method":  "EquipmentReturn",
			}).Error; err != nil {
			tx.Rollback()
			return utils.NewPersistenceError("settle-duplicates", err)
		}
	}

	clearAssignment := wasLost && conditionAfterReturn == EquipmentConditionGood
	if err := updateEquipmentConditionTx(tx, orgId, record.InventoryId, conditionAfterReturn, clearAssignment); err != nil {
		tx.Rollback()
		return utils.NewPersistenceError("update-equipment-condition", err)
	}

	// Damaged/Lost clearance items on this equipment move to Returned.
	var items []ClearanceInventoryItem
	if err := tx.Where("org_id = ? AND inventory_id = ? AND status IN ?",
		orgId, record.InventoryId,
		[]ClearanceItemStatus{ClearanceItemStatusDamaged, ClearanceItemStatusLost}).
		Find(&items).Error; err != nil {
		tx.Rollback()
		return utils.NewPersistenceError("load-clearance-items", err)
	}
	affectedRequests := make(map[int]bool)
	for _, item := range items {
		if err := tx.Model(&ClearanceInventoryItem{}).
			Where("org_id = ? AND id = ?", orgId, item.ID).
			Updates(map[string]interface{}{
				"status":  ClearanceItemStatusReturned,
				"remarks": remarks,
			}).Error; err != nil {
			tx.Rollback()
			return utils.NewPersistenceError("update-clearance-items", err)
		}
		affectedRequests[item.ClearanceRequestId] = true
	}

	// Recompute the record's own summary key plus the keys of swept duplicates.
	recomputed := make(map[int]bool)
	allAffected := append([]AccountabilityRecord{record}, duplicates...)
	for _, r := range allAffected {
		keyId := 0
		if r.ClearanceRequestId != nil {
			keyId = *r.ClearanceRequestId
		}
		if recomputed[keyId] {
			continue
		}
		recomputed[keyId] = true
		if _, err := RecomputeSummaryTx(tx, orgId, r.PersonnelId, r.ClearanceRequestId); err != nil {
			tx.Rollback()
			return utils.NewPersistenceError("recompute-summary", err)
		}
	}
	for requestId := range affectedRequests {
		if _, err := recomputeRequestStatusTx(tx, orgId, requestId); err != nil {
			tx.Rollback()
			return utils.NewPersistenceError("recompute-request-status", err)
		}
	}

	if err := PublishToClearanceFeed(ctx, tx, orgId, now, record.ID, FeedRefTypeAccountabilityRecord, &record, &old, ClearanceEventActionUpdate); err != nil {
		tx.Rollback()
		return utils.NewPersistenceError("return-feed", err)
	}
	if err := SaveHistoryUpdate(tx, record.ID, "accountability_records", &old, &record,
		fmt.Sprintf("Equipment %d returned as %s.", record.InventoryId, conditionAfterReturn)); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit().Error; err != nil {
		return utils.NewPersistenceError("commit", err)
	}

	invalidateClearanceItemCache(orgId, record.InventoryId)
	return nil
}

// GetUnsettledRecords lists outstanding LOST/DAMAGED rows for a personnel,
// optionally narrowed to one clearance key. Read-only, used by dashboards.
func GetUnsettledRecords(ctx context.Context, personnelId int, clearanceRequestId *int) ([]*AccountabilityRecord, error) {
	orgId, err := orgIdFromContext(ctx)
	if err != nil {
		return nil, err
	}
	db := config.GetDB()
	q := db.WithContext(ctx).
		Where("org_id = ? AND personnel_id = ? AND is_settled = ? AND record_type IN ?",
			orgId, personnelId, false,
			[]AccountabilityRecordType{AccountabilityRecordTypeLost, AccountabilityRecordTypeDamaged})
	if clearanceRequestId != nil {
		q = q.Where("clearance_request_id = ?", *clearanceRequestId)
	}
	var records []*AccountabilityRecord
	if err := q.Order("id ASC").Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}
