package models

import (
	"errors"
)

type EquipmentConditionStatus string

const (
	EquipmentConditionGood             EquipmentConditionStatus = "Good"
	EquipmentConditionNeedsMaintenance EquipmentConditionStatus = "NeedsMaintenance"
	EquipmentConditionDamaged          EquipmentConditionStatus = "Damaged"
	EquipmentConditionUnderRepair      EquipmentConditionStatus = "UnderRepair"
	EquipmentConditionRetired          EquipmentConditionStatus = "Retired"
	EquipmentConditionLost             EquipmentConditionStatus = "Lost"
)

func (t *EquipmentConditionStatus) UnmarshalJSON(b []byte) error {
	str, err := unquote(b)
	if err != nil {
		return errors.New("equipment condition status must be string")
	}
	switch str {
	case "Good":
		*t = EquipmentConditionGood
	case "NeedsMaintenance":
		*t = EquipmentConditionNeedsMaintenance
	case "Damaged":
		*t = EquipmentConditionDamaged
	case "UnderRepair":
		*t = EquipmentConditionUnderRepair
	case "Retired":
		*t = EquipmentConditionRetired
	case "Lost":
		*t = EquipmentConditionLost
	default:
		return errors.New("invalid equipment condition status")
	}
	return nil
}

type AccountabilityRecordType string

const (
	AccountabilityRecordTypeLost     AccountabilityRecordType = "LOST"
	AccountabilityRecordTypeDamaged  AccountabilityRecordType = "DAMAGED"
	AccountabilityRecordTypeReturned AccountabilityRecordType = "RETURNED"
	AccountabilityRecordTypeRepaired AccountabilityRecordType = "REPAIRED"
)

func (t *AccountabilityRecordType) UnmarshalJSON(b []byte) error {
	str, err := unquote(b)
	if err != nil {
		return errors.New("accountability record type must be string")
	}
	switch str {
	case "LOST":
		*t = AccountabilityRecordTypeLost
	case "DAMAGED":
		*t = AccountabilityRecordTypeDamaged
	case "RETURNED":
		*t = AccountabilityRecordTypeReturned
	case "REPAIRED":
		*t = AccountabilityRecordTypeRepaired
	default:
		return errors.New("invalid accountability record type")
	}
	return nil
}

type AccountabilitySourceType string

const (
	AccountabilitySourceRoutine   AccountabilitySourceType = "Routine"
	AccountabilitySourceClearance AccountabilitySourceType = "Clearance"
)

type AccountabilityStatus string

const (
	AccountabilityStatusUnsettled AccountabilityStatus = "UNSETTLED"
	AccountabilityStatusSettled   AccountabilityStatus = "SETTLED"
)

type ClearanceRequestType string

const (
	ClearanceTypeResignation         ClearanceRequestType = "Resignation"
	ClearanceTypeRetirement          ClearanceRequestType = "Retirement"
	ClearanceTypeEquipmentCompletion ClearanceRequestType = "EquipmentCompletion"
)

func (t *ClearanceRequestType) UnmarshalJSON(b []byte) error {
	str, err := unquote(b)
	if err != nil {
		return errors.New("clearance request type must be string")
	}
	switch str {
	case "Resignation":
		*t = ClearanceTypeResignation
	case "Retirement":
		*t = ClearanceTypeRetirement
	case "EquipmentCompletion":
		*t = ClearanceTypeEquipmentCompletion
	default:
		return errors.New("invalid clearance request type")
	}
	return nil
}

// IsExclusive reports whether the type participates in the one-active-request
// invariant (Resignation and Retirement are mutually exclusive while active).
func (t ClearanceRequestType) IsExclusive() bool {
	return t == ClearanceTypeResignation || t == ClearanceTypeRetirement
}

type ClearanceRequestStatus string

const (
	ClearanceRequestStatusPending            ClearanceRequestStatus = "Pending"
	ClearanceRequestStatusInProgress         ClearanceRequestStatus = "InProgress"
	ClearanceRequestStatusPendingForApproval ClearanceRequestStatus = "PendingForApproval"
	ClearanceRequestStatusCompleted          ClearanceRequestStatus = "Completed"
	ClearanceRequestStatusRejected           ClearanceRequestStatus = "Rejected"
)

// clearanceRequestTransitions is the explicit transition table. Any move not
// listed here is rejected at the API boundary.
var clearanceRequestTransitions = map[ClearanceRequestStatus][]ClearanceRequestStatus{
	ClearanceRequestStatusPending:            {ClearanceRequestStatusInProgress, ClearanceRequestStatusRejected},
	ClearanceRequestStatusInProgress:         {ClearanceRequestStatusPendingForApproval, ClearanceRequestStatusRejected},
	ClearanceRequestStatusPendingForApproval: {ClearanceRequestStatusCompleted},
	ClearanceRequestStatusCompleted:          {},
	ClearanceRequestStatusRejected:           {},
}

func (s ClearanceRequestStatus) CanTransition(to ClearanceRequestStatus) bool {
	for _, next := range clearanceRequestTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

func (s ClearanceRequestStatus) IsTerminal() bool {
	return s == ClearanceRequestStatusCompleted || s == ClearanceRequestStatusRejected
}

// IsActive reports whether the request still blocks a new exclusive request
// for the same personnel.
func (s ClearanceRequestStatus) IsActive() bool {
	return s == ClearanceRequestStatusPending || s == ClearanceRequestStatusInProgress
}

func (t *ClearanceRequestStatus) UnmarshalJSON(b []byte) error {
	str, err := unquote(b)
	if err != nil {
		return errors.New("clearance request status must be string")
	}
	switch str {
	case "Pending":
		*t = ClearanceRequestStatusPending
	case "InProgress":
		*t = ClearanceRequestStatusInProgress
	case "PendingForApproval":
		*t = ClearanceRequestStatusPendingForApproval
	case "Completed":
		*t = ClearanceRequestStatusCompleted
	case "Rejected":
		*t = ClearanceRequestStatusRejected
	default:
		return errors.New("invalid clearance request status")
	}
	return nil
}

type ClearanceItemStatus string

const (
	ClearanceItemStatusPending  ClearanceItemStatus = "Pending"
	ClearanceItemStatusCleared  ClearanceItemStatus = "Cleared"
	ClearanceItemStatusDamaged  ClearanceItemStatus = "Damaged"
	ClearanceItemStatusLost     ClearanceItemStatus = "Lost"
	ClearanceItemStatusReturned ClearanceItemStatus = "Returned"
)

// Once inspected an item never goes back to Pending. Returned is a terminal
// recovery state reachable only from Damaged/Lost after a manual return.
var clearanceItemTransitions = map[ClearanceItemStatus][]ClearanceItemStatus{
	ClearanceItemStatusPending:  {ClearanceItemStatusCleared, ClearanceItemStatusDamaged, ClearanceItemStatusLost},
	ClearanceItemStatusDamaged:  {ClearanceItemStatusReturned, ClearanceItemStatusCleared},
	ClearanceItemStatusLost:     {ClearanceItemStatusReturned, ClearanceItemStatusCleared},
	ClearanceItemStatusCleared:  {},
	ClearanceItemStatusReturned: {},
}

func (s ClearanceItemStatus) CanTransition(to ClearanceItemStatus) bool {
	for _, next := range clearanceItemTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// MapConditionToClearanceStatus derives the per-item clearance status from an
// inspection's resulting equipment condition. Retired equipment carries no
// accountability and clears the item.
func MapConditionToClearanceStatus(condition EquipmentConditionStatus) (ClearanceItemStatus, error) {
	switch condition {
	case EquipmentConditionGood, EquipmentConditionNeedsMaintenance, EquipmentConditionUnderRepair, EquipmentConditionRetired:
		return ClearanceItemStatusCleared, nil
	case EquipmentConditionDamaged:
		return ClearanceItemStatusDamaged, nil
	case EquipmentConditionLost:
		return ClearanceItemStatusLost, nil
	default:
		return "", errors.New("invalid equipment condition status")
	}
}

type InspectionStatus string

const (
	InspectionStatusScheduled InspectionStatus = "Scheduled"
	InspectionStatusCompleted InspectionStatus = "Completed"
	InspectionStatusCancelled InspectionStatus = "Cancelled"
)

type ClearanceEventAction string

const (
	ClearanceEventActionCreate ClearanceEventAction = "CREATE"
	ClearanceEventActionUpdate ClearanceEventAction = "UPDATE"
	ClearanceEventActionDelete ClearanceEventAction = "DELETE"
)

const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusPublished  = "PUBLISHED"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)

func unquote(b []byte) (string, error) {
	if len(b) < 2 || b[0] != '"' || b[len(b)-1] != '"' {
		return "", errors.New("not a json string")
	}
	return string(b[1 : len(b)-1]), nil
}
