package models

import (
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestComputeSummaryTotalsEmptyIsSettled(t *testing.T) {
	totals := computeSummaryTotals(nil)
	if totals.Status != AccountabilityStatusSettled {
		t.Errorf("empty ledger: got %s want SETTLED", totals.Status)
	}
	if totals.LostCount != 0 || totals.DamagedCount != 0 {
		t.Errorf("empty ledger: counts must be zero, got lost=%d damaged=%d", totals.LostCount, totals.DamagedCount)
	}
	if !totals.TotalOutstanding.IsZero() {
		t.Errorf("empty ledger: outstanding must be zero, got %s", totals.TotalOutstanding)
	}
}

func TestComputeSummaryTotalsMixedRecords(t *testing.T) {
	records := []AccountabilityRecord{
		{RecordType: AccountabilityRecordTypeLost, AmountDue: dec("1200.50")},
		{RecordType: AccountabilityRecordTypeLost, AmountDue: dec("300")},
		{RecordType: AccountabilityRecordTypeDamaged, AmountDue: dec("99.99")},
	}
	totals := computeSummaryTotals(records)

	if totals.LostCount != 2 {
		t.Errorf("lost count: got %d want 2", totals.LostCount)
	}
	if totals.DamagedCount != 1 {
		t.Errorf("damaged count: got %d want 1", totals.DamagedCount)
	}
	if !totals.LostValue.Equal(dec("1500.50")) {
		t.Errorf("lost value: got %s want 1500.50", totals.LostValue)
	}
	if !totals.DamagedValue.Equal(dec("99.99")) {
		t.Errorf("damaged value: got %s want 99.99", totals.DamagedValue)
	}
	if !totals.TotalOutstanding.Equal(dec("1600.49")) {
		t.Errorf("total outstanding: got %s want 1600.49", totals.TotalOutstanding)
	}
	if totals.Status != AccountabilityStatusUnsettled {
		t.Errorf("status: got %s want UNSETTLED", totals.Status)
	}
}

func TestComputeSummaryTotalsSkipsSettledRecords(t *testing.T) {
	records := []AccountabilityRecord{
		{RecordType: AccountabilityRecordTypeLost, AmountDue: dec("1000"), IsSettled: true},
		{RecordType: AccountabilityRecordTypeDamaged, AmountDue: dec("50")},
	}
	totals := computeSummaryTotals(records)

	if totals.LostCount != 0 {
		t.Errorf("settled record counted: lost count got %d want 0", totals.LostCount)
	}
	if !totals.TotalOutstanding.Equal(dec("50")) {
		t.Errorf("total outstanding: got %s want 50", totals.TotalOutstanding)
	}
	if totals.Status != AccountabilityStatusUnsettled {
		t.Errorf("status: got %s want UNSETTLED", totals.Status)
	}
}

func TestComputeSummaryTotalsIgnoresReturnedAndRepaired(t *testing.T) {
	records := []AccountabilityRecord{
		{RecordType: AccountabilityRecordTypeReturned, AmountDue: dec("500")},
		{RecordType: AccountabilityRecordTypeRepaired, AmountDue: dec("250")},
	}
	totals := computeSummaryTotals(records)

	if totals.LostCount != 0 || totals.DamagedCount != 0 {
		t.Errorf("RETURNED/REPAIRED must not count, got lost=%d damaged=%d", totals.LostCount, totals.DamagedCount)
	}
	if !totals.TotalOutstanding.IsZero() {
		t.Errorf("total outstanding: got %s want 0", totals.TotalOutstanding)
	}
	if totals.Status != AccountabilityStatusSettled {
		t.Errorf("status: got %s want SETTLED", totals.Status)
	}
}

func TestComputeSummaryTotalsZeroAmountIsSettled(t *testing.T) {
	// A zero-value charge still counts equipment but carries no outstanding
	// balance, so the key reads SETTLED.
	records := []AccountabilityRecord{
		{RecordType: AccountabilityRecordTypeDamaged, AmountDue: decimal.Zero},
	}
	totals := computeSummaryTotals(records)

	if totals.DamagedCount != 1 {
		t.Errorf("damaged count: got %d want 1", totals.DamagedCount)
	}
	if totals.Status != AccountabilityStatusSettled {
		t.Errorf("status: got %s want SETTLED", totals.Status)
	}
}
