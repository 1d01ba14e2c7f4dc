package models

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/equiptrack_backend/utils"
	"gorm.io/gorm"
)

// PublishToClearanceFeed implements the transactional outbox: it writes the
// event record inside the caller's DB transaction but does NOT publish.
// Publishing is performed asynchronously by the outbox dispatcher after commit.
func PublishToClearanceFeed(ctx context.Context, tx *gorm.DB, orgId string, eventDateTime time.Time, refId int, refType string, obj interface{}, oldObj interface{}, action ClearanceEventAction) error {

	var objInByte []byte
	var oldObjInByte []byte
	var err error

	if action == ClearanceEventActionCreate || action == ClearanceEventActionUpdate {
		objInByte, err = json.Marshal(obj)
		if err != nil {
			return err
		}
	}
	if action == ClearanceEventActionUpdate || action == ClearanceEventActionDelete {
		oldObjInByte, err = json.Marshal(oldObj)
		if err != nil {
			return err
		}
	}

	record := ClearanceEventRecord{
		OrgId:         orgId,
		EventDateTime: eventDateTime,
		ReferenceId:   refId,
		ReferenceType: refType,
		Action:        action,
		NewObj:        objInByte,
		OldObj:        oldObjInByte,
		PublishStatus: OutboxPublishStatusPending,
		CorrelationId: correlationIdFromContextOrNew(ctx),
	}
	err = tx.Create(&record).Error
	if err != nil {
		return err
	}
	return nil
}

func correlationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := utils.GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}

// orgIdFromContext is the common precondition of every tenant-scoped mutation.
func orgIdFromContext(ctx context.Context) (string, error) {
	orgId, ok := utils.GetOrgIdFromContext(ctx)
	if !ok || orgId == "" {
		return "", utils.NewValidationError("org_id", "org id is required")
	}
	return orgId, nil
}
