package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mmdatafocus/equiptrack_backend/config"
	"github.com/mmdatafocus/equiptrack_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ClearanceRequest struct {
	ID          int                    `gorm:"primary_key" json:"id"`
	OrgId       string                 `gorm:"size:64;index;not null" json:"org_id"`
	PersonnelId int                    `gorm:"index;not null" json:"personnel_id"`
	Type        ClearanceRequestType   `gorm:"size:30;not null" json:"type"`
	Status      ClearanceRequestStatus `gorm:"size:30;not null;default:'Pending'" json:"status"`
	Remarks     string                 `gorm:"type:text" json:"remarks"`
	CompletedAt *time.Time             `json:"completed_at"`
	CreatedAt   time.Time              `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time              `gorm:"autoUpdateTime" json:"updated_at"`

	Items []ClearanceInventoryItem `gorm:"foreignKey:ClearanceRequestId" json:"items,omitempty"`
}

type NewClearanceRequest struct {
	PersonnelId  int                  `json:"personnel_id" binding:"required"`
	Type         ClearanceRequestType `json:"type" binding:"required"`
	InventoryIds []int                `json:"inventory_ids"`
	Remarks      string               `json:"remarks"`
}

type clearanceItemCounts struct {
	Total    int
	Pending  int
	Cleared  int
	Damaged  int
	Lost     int
	Returned int
}

func countClearanceItems(items []ClearanceInventoryItem) clearanceItemCounts {
	var counts clearanceItemCounts
	counts.Total = len(items)
	for _, item := range items {
		switch item.Status {
		case ClearanceItemStatusPending:
			counts.Pending++
		case ClearanceItemStatusCleared:
			counts.Cleared++
		case ClearanceItemStatusDamaged:
			counts.Damaged++
		case ClearanceItemStatusLost:
			counts.Lost++
		case ClearanceItemStatusReturned:
			counts.Returned++
		}
	}
	return counts
}

// nextRequestStatus evaluates one step of the derived-status rules.
// PendingForApproval -> Completed is never automatic: completion is a gated
// administrative act via ApproveSettlement.
func nextRequestStatus(current ClearanceRequestStatus, counts clearanceItemCounts, accountabilitySettled bool) ClearanceRequestStatus {
	if current.IsTerminal() || current == ClearanceRequestStatusPendingForApproval {
		return current
	}
	if counts.Pending == 0 {
		if current == ClearanceRequestStatusPending {
			return ClearanceRequestStatusInProgress
		}
		if current == ClearanceRequestStatusInProgress {
			if counts.Damaged > 0 || counts.Lost > 0 {
				if accountabilitySettled {
					return ClearanceRequestStatusPendingForApproval
				}
				return ClearanceRequestStatusInProgress
			}
			return ClearanceRequestStatusPendingForApproval
		}
		return current
	}
	// Partial progress: at least one item already cleared.
	if counts.Cleared > 0 && current == ClearanceRequestStatusPending {
		return ClearanceRequestStatusInProgress
	}
	return current
}

// recomputeRequestStatusTx re-derives the request status from its item rows
// and the personnel's accountability summary, inside the caller's
// transaction. It runs the rules to a fixpoint so the call is re-entrant and
// idempotent: a second call with no intervening mutation changes nothing.
// The status only moves forward; rejection and approval happen elsewhere.
func recomputeRequestStatusTx(tx *gorm.DB, orgId string, requestId int) (*ClearanceRequest, error) {
	var request ClearanceRequest
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("org_id = ? AND id = ?", orgId, requestId).
		First(&request).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NewNotFoundError("clearance request", requestId)
		}
		return nil, err
	}
	if request.Status.IsTerminal() {
		return &request, nil
	}

	var items []ClearanceInventoryItem
	if err := tx.Where("org_id = ? AND clearance_request_id = ?", orgId, requestId).
		Find(&items).Error; err != nil {
		return nil, err
	}
	counts := countClearanceItems(items)

	// Returned items are resolved loss/damage; for advancement they count as
	// neither pending nor outstanding (the ledger settlement already gated).
	settled, err := checkApprovalEligibilityTx(tx, orgId, requestId, request.PersonnelId)
	if err != nil {
		return nil, err
	}

	status := request.Status
	for {
		next := nextRequestStatus(status, counts, settled)
		if next == status {
			break
		}
		if !status.CanTransition(next) {
			return nil, utils.NewInvalidStateError("clearance request", requestId, string(status), string(next))
		}
		status = next
	}

	if status == request.Status {
		return &request, nil
	}

	old := request
	request.Status = status
	if err := tx.Model(&ClearanceRequest{}).
		Where("org_id = ? AND id = ?", orgId, requestId).
		Update("status", status).Error; err != nil {
		return nil, err
	}
	ctx := tx.Statement.Context
	if err := PublishToClearanceFeed(ctx, tx, orgId, time.Now().UTC(), request.ID, FeedRefTypeClearanceRequest, &request, &old, ClearanceEventActionUpdate); err != nil {
		return nil, err
	}
	return &request, nil
}

// RecomputeRequestStatus re-derives one request's status in its own
// transaction, serialized per request.
func RecomputeRequestStatus(ctx context.Context, requestId int) (*ClearanceRequest, error) {
	orgId, err := orgIdFromContext(ctx)
	if err != nil {
		return nil, err
	}

	lock, err := utils.ClearanceLock(ctx, orgId, requestId, "clearanceRequest.go", "RecomputeRequestStatus")
	if err != nil {
		return nil, err
	}
	defer func() { _ = lock.Release(ctx) }()

	db := config.GetDB()
	var request *ClearanceRequest
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		request, txErr = recomputeRequestStatusTx(tx, orgId, requestId)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return request, nil
}

// CreateClearanceRequest opens a clearance flow for a personnel. At most one
// active Resignation-or-Retirement request may exist per personnel, and the
// two types are mutually exclusive while active; EquipmentCompletion
// requests may coexist. Pre-existing routine loss records are merged into
// the new request's accountability.
func CreateClearanceRequest(ctx context.Context, input *NewClearanceRequest) (*ClearanceRequest, error) {
	orgId, err := orgIdFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := utils.ValidateResourceId[Personnel](ctx, orgId, input.PersonnelId); err != nil {
		return nil, utils.NewNotFoundError("personnel", input.PersonnelId)
	}

	if input.Type.IsExclusive() {
		count, err := utils.ResourceCountWhere[ClearanceRequest](ctx, orgId,
			"personnel_id = ? AND type IN ? AND status IN ?",
			input.PersonnelId,
			[]ClearanceRequestType{ClearanceTypeResignation, ClearanceTypeRetirement},
			[]ClearanceRequestStatus{ClearanceRequestStatusPending, ClearanceRequestStatusInProgress})
		if err != nil {
			return nil, err
		}
		if count > 0 {
			return nil, utils.NewInvalidStateError("personnel", input.PersonnelId, "active resignation/retirement clearance exists", "no active exclusive clearance")
		}
	}

	// Seed item rows from the explicit list, or from everything currently
	// assigned to the personnel.
	var equipment []*EquipmentItem
	if len(input.InventoryIds) > 0 {
		if err := utils.ValidateResourcesId[EquipmentItem](ctx, orgId, input.InventoryIds); err != nil {
			return nil, utils.NewValidationError("inventory_ids", "one or more equipment items not found")
		}
		db := config.GetDB()
		if err := db.WithContext(ctx).
			Where("org_id = ? AND id IN ?", orgId, utils.UniqueSlice(input.InventoryIds)).
			Find(&equipment).Error; err != nil {
			return nil, err
		}
	} else {
		equipment, err = ListEquipmentByPersonnel(ctx, input.PersonnelId)
		if err != nil {
			return nil, err
		}
	}

	request := ClearanceRequest{
		OrgId:       orgId,
		PersonnelId: input.PersonnelId,
		Type:        input.Type,
		Status:      ClearanceRequestStatusPending,
		Remarks:     input.Remarks,
	}

	db := config.GetDB()
	tx := db.Begin().WithContext(ctx)

	if err := tx.Create(&request).Error; err != nil {
		tx.Rollback()
		return nil, utils.NewPersistenceError("create-request", err)
	}
	for _, item := range equipment {
		row := ClearanceInventoryItem{
			OrgId:              orgId,
			ClearanceRequestId: request.ID,
			InventoryId:        item.ID,
			PersonnelId:        input.PersonnelId,
			Status:             ClearanceItemStatusPending,
		}
		if err := tx.Create(&row).Error; err != nil {
			tx.Rollback()
			return nil, utils.NewPersistenceError("create-items", err)
		}
	}

	linked, err := linkUnlinkedLossRecordsTx(tx, orgId, request.ID, input.PersonnelId)
	if err != nil {
		tx.Rollback()
		return nil, utils.NewPersistenceError("link-loss-records", err)
	}
	if _, err := RecomputeSummaryTx(tx, orgId, input.PersonnelId, &request.ID); err != nil {
		tx.Rollback()
		return nil, utils.NewPersistenceError("recompute-summary", err)
	}
	if linked > 0 {
		// Linked records left the routine key; it must shrink accordingly.
		if _, err := RecomputeSummaryTx(tx, orgId, input.PersonnelId, nil); err != nil {
			tx.Rollback()
			return nil, utils.NewPersistenceError("recompute-summary", err)
		}
	}

	if err := SaveHistoryCreate(tx, request.ID, "clearance_requests", &request,
		fmt.Sprintf("%s clearance request created for personnel %d.", request.Type, request.PersonnelId)); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := PublishToClearanceFeed(ctx, tx, orgId, time.Now().UTC(), request.ID, FeedRefTypeClearanceRequest, &request, nil, ClearanceEventActionCreate); err != nil {
		tx.Rollback()
		return nil, utils.NewPersistenceError("create-request-feed", err)
	}
	if err := tx.Commit().Error; err != nil {
		return nil, utils.NewPersistenceError("commit", err)
	}
	return &request, nil
}

// ApproveSettlement completes a clearance request. Only valid from
// PendingForApproval unless force is set (admin override for reports with
// remaining non-equipment accountability). Settles every associated
// unsettled record, clears the item rows, and stamps completion.
func ApproveSettlement(ctx context.Context, requestId int, force bool) (*ClearanceRequest, error) {
	orgId, err := orgIdFromContext(ctx)
	if err != nil {
		return nil, err
	}

	lock, err := utils.ClearanceLock(ctx, orgId, requestId, "clearanceRequest.go", "ApproveSettlement")
	if err != nil {
		return nil, err
	}
	defer func() { _ = lock.Release(ctx) }()

	db := config.GetDB()
	tx := db.Begin().WithContext(ctx)

	var request ClearanceRequest
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("org_id = ? AND id = ?", orgId, requestId).
		First(&request).Error; err != nil {
		tx.Rollback()
		return nil, utils.NewNotFoundError("clearance request", requestId)
	}
	if request.Status == ClearanceRequestStatusCompleted {
		tx.Rollback()
		return nil, utils.NewInvalidStateError("clearance request", requestId, string(request.Status), "PendingForApproval")
	}
	if !force && request.Status != ClearanceRequestStatusPendingForApproval {
		tx.Rollback()
		return nil, utils.NewInvalidStateError("clearance request", requestId, string(request.Status), string(ClearanceRequestStatusPendingForApproval))
	}
	if request.Status == ClearanceRequestStatusRejected {
		tx.Rollback()
		return nil, utils.NewInvalidStateError("clearance request", requestId, string(request.Status), "PendingForApproval")
	}

	now := time.Now().UTC()
	old := request

	// Settle every outstanding record on this request's key (and, through
	// the batch expansion, any duplicate unsettled rows per inventory pair).
	var outstanding []AccountabilityRecord
	if err := tx.Where("org_id = ? AND clearance_request_id = ? AND is_settled = ? AND record_type IN ?",
		orgId, requestId, false,
		[]AccountabilityRecordType{AccountabilityRecordTypeLost, AccountabilityRecordTypeDamaged}).
		Find(&outstanding).Error; err != nil {
		tx.Rollback()
		return nil, utils.NewPersistenceError("load-outstanding", err)
	}
	if len(outstanding) > 0 {
		ids := make([]int, 0, len(outstanding))
		for _, r := range outstanding {
			ids = append(ids, r.ID)
		}
		if err := settleRecordsTx(ctx, tx, orgId, ids, "ClearanceApproval", now); err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	// Clear remaining unresolved item rows; Returned rows stay Returned
	// (already a resolved recovery state).
	var items []ClearanceInventoryItem
	if err := tx.Where("org_id = ? AND clearance_request_id = ?", orgId, requestId).
		Find(&items).Error; err != nil {
		tx.Rollback()
		return nil, utils.NewPersistenceError("load-items", err)
	}
	for _, item := range items {
		if item.Status == ClearanceItemStatusCleared || item.Status == ClearanceItemStatusReturned {
			continue
		}
		if err := tx.Model(&ClearanceInventoryItem{}).
			Where("org_id = ? AND id = ?", orgId, item.ID).
			Updates(map[string]interface{}{
				"status":          ClearanceItemStatusCleared,
				"inspection_date": now,
			}).Error; err != nil {
			tx.Rollback()
			return nil, utils.NewPersistenceError("clear-items", err)
		}
	}

	request.Status = ClearanceRequestStatusCompleted
	request.CompletedAt = &now
	if err := tx.Model(&ClearanceRequest{}).
		Where("org_id = ? AND id = ?", orgId, requestId).
		Updates(map[string]interface{}{
			"status":       ClearanceRequestStatusCompleted,
			"completed_at": now,
		}).Error; err != nil {
		tx.Rollback()
		return nil, utils.NewPersistenceError("complete-request", err)
	}

	if _, err := RecomputeSummaryTx(tx, orgId, request.PersonnelId, &requestId); err != nil {
		tx.Rollback()
		return nil, utils.NewPersistenceError("recompute-summary", err)
	}

	if err := SaveHistoryUpdate(tx, request.ID, "clearance_requests", &old, &request,
		fmt.Sprintf("Clearance request %d approved and completed.", request.ID)); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := PublishToClearanceFeed(ctx, tx, orgId, now, request.ID, FeedRefTypeClearanceRequest, &request, &old, ClearanceEventActionUpdate); err != nil {
		tx.Rollback()
		return nil, utils.NewPersistenceError("approve-feed", err)
	}
	if err := tx.Commit().Error; err != nil {
		return nil, utils.NewPersistenceError("commit", err)
	}

	for _, item := range items {
		invalidateClearanceItemCache(orgId, item.InventoryId)
	}
	return &request, nil
}

// RejectClearanceRequest is only valid while the request is Pending or
// InProgress.
func RejectClearanceRequest(ctx context.Context, requestId int, reason string) (*ClearanceRequest, error) {
	orgId, err := orgIdFromContext(ctx)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	tx := db.Begin().WithContext(ctx)

	var request ClearanceRequest
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("org_id = ? AND id = ?", orgId, requestId).
		First(&request).Error; err != nil {
		tx.Rollback()
		return nil, utils.NewNotFoundError("clearance request", requestId)
	}
	if !request.Status.CanTransition(ClearanceRequestStatusRejected) {
		tx.Rollback()
		return nil, utils.NewInvalidStateError("clearance request", requestId, string(request.Status), "Pending or InProgress")
	}

	old := request
	request.Status = ClearanceRequestStatusRejected
	request.Remarks = reason
	if err := tx.Model(&ClearanceRequest{}).
		Where("org_id = ? AND id = ?", orgId, requestId).
		Updates(map[string]interface{}{
			"status":  ClearanceRequestStatusRejected,
			"remarks": reason,
		}).Error; err != nil {
		tx.Rollback()
		return nil, utils.NewPersistenceError("reject-request", err)
	}
	if err := SaveHistoryUpdate(tx, request.ID, "clearance_requests", &old, &request,
		fmt.Sprintf("Clearance request %d rejected.", request.ID)); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := PublishToClearanceFeed(ctx, tx, orgId, time.Now().UTC(), request.ID, FeedRefTypeClearanceRequest, &request, &old, ClearanceEventActionUpdate); err != nil {
		tx.Rollback()
		return nil, utils.NewPersistenceError("reject-feed", err)
	}
	if err := tx.Commit().Error; err != nil {
		return nil, utils.NewPersistenceError("commit", err)
	}
	return &request, nil
}

func GetClearanceRequest(ctx context.Context, requestId int) (*ClearanceRequest, error) {
	orgId, err := orgIdFromContext(ctx)
	if err != nil {
		return nil, err
	}
	request, err := utils.FetchModel[ClearanceRequest](ctx, orgId, requestId, "Items")
	if err != nil {
		return nil, utils.NewNotFoundError("clearance request", requestId)
	}
	return request, nil
}

// GetActiveClearanceRequests lists non-terminal requests for a personnel.
// EquipmentCompletion rows are returned alongside any exclusive request;
// callers merge them for the combined clearance type display.
func GetActiveClearanceRequests(ctx context.Context, personnelId int) ([]*ClearanceRequest, error) {
	orgId, err := orgIdFromContext(ctx)
	if err != nil {
		return nil, err
	}
	db := config.GetDB()
	var requests []*ClearanceRequest
	if err := db.WithContext(ctx).
		Where("org_id = ? AND personnel_id = ? AND status IN ?",
			orgId, personnelId,
			[]ClearanceRequestStatus{ClearanceRequestStatusPending, ClearanceRequestStatusInProgress, ClearanceRequestStatusPendingForApproval}).
		Order("id ASC").
		Find(&requests).Error; err != nil {
		return nil, err
	}
	return requests, nil
}
