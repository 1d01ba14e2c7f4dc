package models

import (
	"time"

	"github.com/mmdatafocus/equiptrack_backend/config"
)

// ClearanceEventRecord is the transactional-outbox row for the clearance
// change feed. It is written inside the same DB transaction as the mutation
// it describes; publishing happens after commit via the dispatcher.
type ClearanceEventRecord struct {
	ID            int                  `gorm:"primary_key;index:idx_outbox_dispatch,priority:3" json:"id"`
	OrgId         string               `gorm:"size:64;not null;index" json:"org_id"`
	EventDateTime time.Time            `gorm:"index;not null" json:"event_date_time"`
	ReferenceId   int                  `json:"reference_id"`
	ReferenceType string               `gorm:"size:40;index" json:"reference_type"`
	Action        ClearanceEventAction `gorm:"size:10" json:"action"`
	OldObj        []byte               `gorm:"type:blob" json:"old_obj"`
	NewObj        []byte               `gorm:"type:blob" json:"new_obj"`

	// Outbox metadata (publish happens after commit via dispatcher).
	PublishStatus    string     `gorm:"size:20;index;not null;default:'PENDING';index:idx_outbox_dispatch,priority:1" json:"publish_status"` // PENDING|PROCESSING|PUBLISHED|FAILED|DEAD
	PublishedAt      *time.Time `gorm:"index" json:"published_at"`
	PubSubMessageId  *string    `gorm:"size:255" json:"pubsub_message_id"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time `gorm:"index;index:idx_outbox_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time `gorm:"index" json:"locked_at"`
	LockedBy         *string    `gorm:"size:100" json:"locked_by"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`
	CorrelationId    string     `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// Outbox reference types (what changed).
const (
	FeedRefTypeAccountabilityRecord   = "AccountabilityRecord"
	FeedRefTypeClearanceRequest       = "ClearanceRequest"
	FeedRefTypeClearanceInventoryItem = "ClearanceInventoryItem"
	FeedRefTypeAccountabilitySummary  = "PersonnelAccountabilitySummary"
	FeedRefTypeEquipmentItem          = "EquipmentItem"
	FeedRefTypeInspection             = "Inspection"
)

func ConvertToClearanceEvent(record ClearanceEventRecord) config.ClearanceEvent {
	return config.ClearanceEvent{
		ID:            record.ID,
		OrgId:         record.OrgId,
		EventDateTime: record.EventDateTime,
		ReferenceId:   record.ReferenceId,
		ReferenceType: record.ReferenceType,
		Action:        string(record.Action),
		OldObj:        record.OldObj,
		NewObj:        record.NewObj,
		CorrelationId: record.CorrelationId,
	}
}
