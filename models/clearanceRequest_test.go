package models

import "testing"

func TestCountClearanceItems(t *testing.T) {
	items := []ClearanceInventoryItem{
		{Status: ClearanceItemStatusPending},
		{Status: ClearanceItemStatusPending},
		{Status: ClearanceItemStatusCleared},
		{Status: ClearanceItemStatusDamaged},
		{Status: ClearanceItemStatusLost},
		{Status: ClearanceItemStatusReturned},
	}
	counts := countClearanceItems(items)
	if counts.Total != 6 {
		t.Errorf("total: got %d want 6", counts.Total)
	}
	if counts.Pending != 2 || counts.Cleared != 1 || counts.Damaged != 1 || counts.Lost != 1 || counts.Returned != 1 {
		t.Errorf("unexpected counts: %+v", counts)
	}
}

func TestNextRequestStatus(t *testing.T) {
	cases := []struct {
		name    string
		current ClearanceRequestStatus
		counts  clearanceItemCounts
		settled bool
		want    ClearanceRequestStatus
	}{
		{
			name:    "pending with all items untouched stays pending",
			current: ClearanceRequestStatusPending,
			counts:  clearanceItemCounts{Total: 3, Pending: 3},
			settled: true,
			want:    ClearanceRequestStatusPending,
		},
		{
			name:    "pending with partial progress moves to in progress",
			current: ClearanceRequestStatusPending,
			counts:  clearanceItemCounts{Total: 3, Pending: 2, Cleared: 1},
			settled: true,
			want:    ClearanceRequestStatusInProgress,
		},
		{
			name:    "pending with all items cleared moves to in progress",
			current: ClearanceRequestStatusPending,
			counts:  clearanceItemCounts{Total: 2, Cleared: 2},
			settled: true,
			want:    ClearanceRequestStatusInProgress,
		},
		{
			name:    "in progress with all cleared and no charges moves to approval",
			current: ClearanceRequestStatusInProgress,
			counts:  clearanceItemCounts{Total: 2, Cleared: 2},
			settled: true,
			want:    ClearanceRequestStatusPendingForApproval,
		},
		{
			name:    "in progress with unsettled damage stays in progress",
			current: ClearanceRequestStatusInProgress,
			counts:  clearanceItemCounts{Total: 2, Cleared: 1, Damaged: 1},
			settled: false,
			want:    ClearanceRequestStatusInProgress,
		},
		{
			name:    "in progress with settled damage moves to approval",
			current: ClearanceRequestStatusInProgress,
			counts:  clearanceItemCounts{Total: 2, Cleared: 1, Damaged: 1},
			settled: true,
			want:    ClearanceRequestStatusPendingForApproval,
		},
		{
			name:    "in progress with unsettled loss stays in progress",
			current: ClearanceRequestStatusInProgress,
			counts:  clearanceItemCounts{Total: 1, Lost: 1},
			settled: false,
			want:    ClearanceRequestStatusInProgress,
		},
		{
			name:    "in progress with returned items and no charges moves to approval",
			current: ClearanceRequestStatusInProgress,
			counts:  clearanceItemCounts{Total: 2, Cleared: 1, Returned: 1},
			settled: true,
			want:    ClearanceRequestStatusPendingForApproval,
		},
		{
			name:    "pending for approval never advances automatically",
			current: ClearanceRequestStatusPendingForApproval,
			counts:  clearanceItemCounts{Total: 2, Cleared: 2},
			settled: true,
			want:    ClearanceRequestStatusPendingForApproval,
		},
		{
			name:    "completed is a no-op",
			current: ClearanceRequestStatusCompleted,
			counts:  clearanceItemCounts{Total: 2, Cleared: 2},
			settled: true,
			want:    ClearanceRequestStatusCompleted,
		},
		{
			name:    "rejected is a no-op",
			current: ClearanceRequestStatusRejected,
			counts:  clearanceItemCounts{Total: 2, Pending: 2},
			settled: false,
			want:    ClearanceRequestStatusRejected,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := nextRequestStatus(tc.current, tc.counts, tc.settled)
			if got != tc.want {
				t.Errorf("got %s want %s", got, tc.want)
			}
		})
	}
}

// Recompute runs the single-step rules to a fixpoint. Pending with every item
// already cleared must land on PendingForApproval in one recompute, and a
// second evaluation from there must change nothing.
func TestNextRequestStatusFixpoint(t *testing.T) {
	counts := clearanceItemCounts{Total: 2, Cleared: 2}

	status := ClearanceRequestStatusPending
	for i := 0; i < 5; i++ {
		next := nextRequestStatus(status, counts, true)
		if next == status {
			break
		}
		status = next
	}
	if status != ClearanceRequestStatusPendingForApproval {
		t.Errorf("fixpoint from Pending: got %s want PendingForApproval", status)
	}
	if again := nextRequestStatus(status, counts, true); again != status {
		t.Errorf("fixpoint not stable: %s -> %s", status, again)
	}
}
