// summary-rebuild re-derives every personnel accountability summary for one
// org from the ledger. Safe to run anytime; the summary is never a source of
// truth.
//
// Usage:
//   go run ./cmd/summary-rebuild --org-id=acme [--dry-run=false]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/mmdatafocus/equiptrack_backend/config"
	"github.com/mmdatafocus/equiptrack_backend/models"
	"gorm.io/gorm"
)

func main() {
	orgId := flag.String("org-id", "", "Required: org id")
	dryRun := flag.Bool("dry-run", true, "List summary keys only (no writes)")
	flag.Parse()

	if strings.TrimSpace(*orgId) == "" {
		fmt.Fprintln(os.Stderr, "--org-id is required")
		os.Exit(1)
	}

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	// Every key that has either a summary row or ledger rows.
	type key struct {
		PersonnelId        int
		ClearanceRequestId *int
	}
	var keys []key
	if err := db.WithContext(ctx).Raw(`
		SELECT DISTINCT personnel_id, clearance_request_id FROM (
			SELECT personnel_id, clearance_request_id
			FROM accountability_records WHERE org_id = ?
			UNION
			SELECT personnel_id, clearance_request_id
			FROM personnel_accountability_summaries WHERE org_id = ?
		) k
	`, *orgId, *orgId).Scan(&keys).Error; err != nil {
		fmt.Fprintf(os.Stderr, "failed to list summary keys: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%d summary key(s) for org %q\n", len(keys), *orgId)
	if *dryRun {
		for _, k := range keys {
			if k.ClearanceRequestId == nil {
				fmt.Printf("  personnel=%d key=routine\n", k.PersonnelId)
			} else {
				fmt.Printf("  personnel=%d key=clearance:%d\n", k.PersonnelId, *k.ClearanceRequestId)
			}
		}
		fmt.Println("dry run; pass --dry-run=false to rebuild")
		return
	}

	rebuilt := 0
	for _, k := range keys {
		err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			_, txErr := models.RecomputeSummaryTx(tx, *orgId, k.PersonnelId, k.ClearanceRequestId)
			return txErr
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "recompute failed for personnel %d: %v\n", k.PersonnelId, err)
			continue
		}
		rebuilt++
	}
	fmt.Printf("rebuilt %d/%d summaries\n", rebuilt, len(keys))
}
