package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/mmdatafocus/equiptrack_backend/config"
	"github.com/mmdatafocus/equiptrack_backend/models"
	"github.com/mmdatafocus/equiptrack_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// RunReconciliationChecks sweeps one org for drift between the accountability
// ledger and its derived artifacts. Summary mismatches are repaired in place
// with a forced recompute; duplicate unsettled pairs are reported only, since
// merging them needs a human decision about which charge stands.
func RunReconciliationChecks(ctx context.Context, db *gorm.DB, logger *logrus.Logger, orgId string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if db == nil {
		return fmt.Errorf("db is nil")
	}
	now := time.Now().UTC()

	// 1) Summary rows vs ledger aggregate, NULL-safe on the clearance key.
	type summaryMismatch struct {
		SummaryId          int
		PersonnelId        int
		ClearanceRequestId *int
		ExpectedTotal      string
		ActualTotal        string
	}
	var mismatches []summaryMismatch
	if err := db.WithContext(ctx).Raw(`
		SELECT
			s.id AS summary_id,
			s.personnel_id,
			s.clearance_request_id,
			CAST(s.total_outstanding_amount AS CHAR) AS expected_total,
			CAST(COALESCE(SUM(r.amount_due), 0) AS CHAR) AS actual_total
		FROM personnel_accountability_summaries s
		LEFT JOIN accountability_records r
		  ON r.org_id = s.org_id
		 AND r.personnel_id = s.personnel_id
		 AND r.clearance_request_id <=> s.clearance_request_id
		 AND r.is_settled = 0
		 AND r.record_type IN ('LOST','DAMAGED')
		WHERE s.org_id = ?
		GROUP BY s.id
		HAVING ROUND(s.total_outstanding_amount, 4) <> ROUND(COALESCE(SUM(r.amount_due), 0), 4)
	`, orgId).Scan(&mismatches).Error; err != nil {
		return err
	}
	var failedRepairs int
	for _, m := range mismatches {
		report := models.ReconciliationReport{
			OrgId:       orgId,
			CheckName:   "SUMMARY_LEDGER",
			PersonnelId: m.PersonnelId,
			Detail:      fmt.Sprintf("summary %d total=%s != ledger sum=%s", m.SummaryId, m.ExpectedTotal, m.ActualTotal),
			CreatedAt:   now,
		}
		if err := db.WithContext(ctx).Create(&report).Error; err != nil {
			continue
		}
		repairErr := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			_, txErr := models.RecomputeSummaryTx(tx, orgId, m.PersonnelId, m.ClearanceRequestId)
			return txErr
		})
		if repairErr != nil {
			config.LogError(logger, "workflow", "RunReconciliationChecks", "forced summary recompute", m.SummaryId, repairErr)
			failedRepairs++
			continue
		}
		repairedAt := time.Now().UTC()
		_ = db.WithContext(ctx).Model(&models.ReconciliationReport{}).
			Where("id = ?", report.ID).
			Updates(map[string]interface{}{
				"repaired":    true,
				"repaired_at": repairedAt,
			}).Error
	}

	// 2) Duplicate unsettled charges for one (personnel, inventory) pair.
	type duplicatePair struct {
		PersonnelId int
		InventoryId int
		RecordCount int
	}
	var duplicates []duplicatePair
	if err := db.WithContext(ctx).Raw(`
		SELECT
			r.personnel_id,
			r.inventory_id,
			COUNT(*) AS record_count
		FROM accountability_records r
		WHERE r.org_id = ?
		  AND r.is_settled = 0
		  AND r.record_type IN ('LOST','DAMAGED')
		GROUP BY r.personnel_id, r.inventory_id
		HAVING COUNT(*) > 1
	`, orgId).Scan(&duplicates).Error; err != nil {
		return err
	}
	for _, d := range duplicates {
		consistency := fmt.Sprintf("%d unsettled charges for personnel %d on equipment %d", d.RecordCount, d.PersonnelId, d.InventoryId)
		_ = db.WithContext(ctx).Create(&models.ReconciliationReport{
			OrgId:       orgId,
			CheckName:   "DUPLICATE_UNSETTLED_PAIR",
			PersonnelId: d.PersonnelId,
			InventoryId: d.InventoryId,
			Detail:      consistency,
			CreatedAt:   now,
		}).Error
	}

	if logger != nil {
		logger.WithFields(logrus.Fields{
			"field":              "ReconciliationChecks",
			"org_id":             orgId,
			"summary_mismatches": len(mismatches),
			"duplicate_pairs":    len(duplicates),
		}).Info("reconciliation checks completed")
	}
	if failedRepairs > 0 {
		return utils.NewConsistencyError("SUMMARY_LEDGER",
			fmt.Sprintf("%d summary row(s) out of sync and could not be repaired", failedRepairs))
	}
	return nil
}

// RunReconciliationLoop sweeps every org on an interval. No-op when the
// RECONCILIATION_CHECKS flag is off.
func RunReconciliationLoop(ctx context.Context, db *gorm.DB, logger *logrus.Logger, interval time.Duration) {
	if !config.ReconciliationEnabled() {
		return
	}
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var orgIds []string
			if err := db.WithContext(ctx).
				Model(&models.AccountabilityRecord{}).
				Distinct("org_id").
				Pluck("org_id", &orgIds).Error; err != nil {
				config.LogError(logger, "workflow", "RunReconciliationLoop", "listing orgs", nil, err)
				continue
			}
			for _, orgId := range orgIds {
				if err := RunReconciliationChecks(ctx, db, logger, orgId); err != nil {
					config.LogError(logger, "workflow", "RunReconciliationLoop", "running checks", orgId, err)
				}
			}
		}
	}
}
