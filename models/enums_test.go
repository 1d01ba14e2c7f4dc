package models

import (
	"encoding/json"
	"testing"
)

func TestClearanceRequestStatusTransitions(t *testing.T) {
	allowed := []struct {
		from ClearanceRequestStatus
		to   ClearanceRequestStatus
	}{
		{ClearanceRequestStatusPending, ClearanceRequestStatusInProgress},
		{ClearanceRequestStatusPending, ClearanceRequestStatusRejected},
		{ClearanceRequestStatusInProgress, ClearanceRequestStatusPendingForApproval},
		{ClearanceRequestStatusInProgress, ClearanceRequestStatusRejected},
		{ClearanceRequestStatusPendingForApproval, ClearanceRequestStatusCompleted},
	}
	for _, tc := range allowed {
		if !tc.from.CanTransition(tc.to) {
			t.Errorf("%s -> %s should be allowed", tc.from, tc.to)
		}
	}

	denied := []struct {
		from ClearanceRequestStatus
		to   ClearanceRequestStatus
	}{
		{ClearanceRequestStatusPending, ClearanceRequestStatusCompleted},
		{ClearanceRequestStatusPending, ClearanceRequestStatusPendingForApproval},
		{ClearanceRequestStatusInProgress, ClearanceRequestStatusPending},
		{ClearanceRequestStatusInProgress, ClearanceRequestStatusCompleted},
		{ClearanceRequestStatusPendingForApproval, ClearanceRequestStatusRejected},
		{ClearanceRequestStatusPendingForApproval, ClearanceRequestStatusInProgress},
		{ClearanceRequestStatusCompleted, ClearanceRequestStatusPending},
		{ClearanceRequestStatusCompleted, ClearanceRequestStatusRejected},
		{ClearanceRequestStatusRejected, ClearanceRequestStatusPending},
		{ClearanceRequestStatusRejected, ClearanceRequestStatusCompleted},
	}
	for _, tc := range denied {
		if tc.from.CanTransition(tc.to) {
			t.Errorf("%s -> %s should be rejected", tc.from, tc.to)
		}
	}
}

func TestClearanceRequestStatusTerminalAndActive(t *testing.T) {
	if !ClearanceRequestStatusCompleted.IsTerminal() || !ClearanceRequestStatusRejected.IsTerminal() {
		t.Error("Completed and Rejected must be terminal")
	}
	for _, s := range []ClearanceRequestStatus{
		ClearanceRequestStatusPending,
		ClearanceRequestStatusInProgress,
		ClearanceRequestStatusPendingForApproval,
	} {
		if s.IsTerminal() {
			t.Errorf("%s must not be terminal", s)
		}
	}

	if !ClearanceRequestStatusPending.IsActive() || !ClearanceRequestStatusInProgress.IsActive() {
		t.Error("Pending and InProgress must count as active")
	}
	for _, s := range []ClearanceRequestStatus{
		ClearanceRequestStatusPendingForApproval,
		ClearanceRequestStatusCompleted,
		ClearanceRequestStatusRejected,
	} {
		if s.IsActive() {
			t.Errorf("%s must not count as active", s)
		}
	}
}

func TestClearanceItemStatusTransitions(t *testing.T) {
	allowed := []struct {
		from ClearanceItemStatus
		to   ClearanceItemStatus
	}{
		{ClearanceItemStatusPending, ClearanceItemStatusCleared},
		{ClearanceItemStatusPending, ClearanceItemStatusDamaged},
		{ClearanceItemStatusPending, ClearanceItemStatusLost},
		{ClearanceItemStatusDamaged, ClearanceItemStatusReturned},
		{ClearanceItemStatusDamaged, ClearanceItemStatusCleared},
		{ClearanceItemStatusLost, ClearanceItemStatusReturned},
		{ClearanceItemStatusLost, ClearanceItemStatusCleared},
	}
	for _, tc := range allowed {
		if !tc.from.CanTransition(tc.to) {
			t.Errorf("%s -> %s should be allowed", tc.from, tc.to)
		}
	}

	denied := []struct {
		from ClearanceItemStatus
		to   ClearanceItemStatus
	}{
		{ClearanceItemStatusPending, ClearanceItemStatusReturned},
		{ClearanceItemStatusDamaged, ClearanceItemStatusPending},
		{ClearanceItemStatusDamaged, ClearanceItemStatusLost},
		{ClearanceItemStatusLost, ClearanceItemStatusPending},
		{ClearanceItemStatusCleared, ClearanceItemStatusPending},
		{ClearanceItemStatusCleared, ClearanceItemStatusDamaged},
		{ClearanceItemStatusReturned, ClearanceItemStatusCleared},
		{ClearanceItemStatusReturned, ClearanceItemStatusPending},
	}
	for _, tc := range denied {
		if tc.from.CanTransition(tc.to) {
			t.Errorf("%s -> %s should be rejected", tc.from, tc.to)
		}
	}
}

func TestMapConditionToClearanceStatus(t *testing.T) {
	cases := []struct {
		condition EquipmentConditionStatus
		want      ClearanceItemStatus
	}{
		{EquipmentConditionGood, ClearanceItemStatusCleared},
		{EquipmentConditionNeedsMaintenance, ClearanceItemStatusCleared},
		{EquipmentConditionUnderRepair, ClearanceItemStatusCleared},
		{EquipmentConditionRetired, ClearanceItemStatusCleared},
		{EquipmentConditionDamaged, ClearanceItemStatusDamaged},
		{EquipmentConditionLost, ClearanceItemStatusLost},
	}
	for _, tc := range cases {
		got, err := MapConditionToClearanceStatus(tc.condition)
		if err != nil {
			t.Errorf("%s: unexpected error %v", tc.condition, err)
			continue
		}
		if got != tc.want {
			t.Errorf("%s: got %s want %s", tc.condition, got, tc.want)
		}
	}

	if _, err := MapConditionToClearanceStatus("Broken"); err == nil {
		t.Error("unknown condition must error")
	}
}

func TestClearanceRequestTypeIsExclusive(t *testing.T) {
	if !ClearanceTypeResignation.IsExclusive() {
		t.Error("Resignation must be exclusive")
	}
	if !ClearanceTypeRetirement.IsExclusive() {
		t.Error("Retirement must be exclusive")
	}
	if ClearanceTypeEquipmentCompletion.IsExclusive() {
		t.Error("EquipmentCompletion must not be exclusive")
	}
}

func TestEnumUnmarshalRejectsInvalidValues(t *testing.T) {
	var condition EquipmentConditionStatus
	if err := json.Unmarshal([]byte(`"Shiny"`), &condition); err == nil {
		t.Error("invalid equipment condition must fail to unmarshal")
	}
	if err := json.Unmarshal([]byte(`42`), &condition); err == nil {
		t.Error("non-string equipment condition must fail to unmarshal")
	}
	if err := json.Unmarshal([]byte(`"Lost"`), &condition); err != nil {
		t.Errorf("valid condition failed to unmarshal: %v", err)
	}
	if condition != EquipmentConditionLost {
		t.Errorf("got %s want Lost", condition)
	}

	var recordType AccountabilityRecordType
	if err := json.Unmarshal([]byte(`"STOLEN"`), &recordType); err == nil {
		t.Error("invalid record type must fail to unmarshal")
	}
	if err := json.Unmarshal([]byte(`"DAMAGED"`), &recordType); err != nil {
		t.Errorf("valid record type failed to unmarshal: %v", err)
	}

	var requestType ClearanceRequestType
	if err := json.Unmarshal([]byte(`"Transfer"`), &requestType); err == nil {
		t.Error("invalid request type must fail to unmarshal")
	}

	var requestStatus ClearanceRequestStatus
	if err := json.Unmarshal([]byte(`"Done"`), &requestStatus); err == nil {
		t.Error("invalid request status must fail to unmarshal")
	}
}
