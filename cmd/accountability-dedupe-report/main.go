// accountability-dedupe-report lists duplicated unsettled charges per
// (personnel, inventory) pair for one org. Read-only; merging duplicates is a
// human decision made through the settle endpoint.
//
// Usage:
//   go run ./cmd/accountability-dedupe-report --org-id=acme
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/mmdatafocus/equiptrack_backend/config"
)

func main() {
	orgId := flag.String("org-id", "", "Required: org id")
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

	type duplicate struct {
		PersonnelId int
		InventoryId int
		RecordCount int
		RecordIds   string
		TotalDue    string
	}
	var duplicates []duplicate
	if err := db.WithContext(ctx).Raw(`
		SELECT
			personnel_id,
			inventory_id,
			COUNT(*) AS record_count,
			GROUP_CONCAT(id ORDER BY id) AS record_ids,
			CAST(SUM(amount_due) AS CHAR) AS total_due
		FROM accountability_records
		WHERE org_id = ?
		  AND is_settled = 0
		  AND record_type IN ('LOST','DAMAGED')
		GROUP BY personnel_id, inventory_id
		HAVING COUNT(*) > 1
		ORDER BY personnel_id, inventory_id
	`, *orgId).Scan(&duplicates).Error; err != nil {
		fmt.Fprintf(os.Stderr, "query failed: %v\n", err)
		os.Exit(1)
	}

	if len(duplicates) == 0 {
		fmt.Println("no duplicated unsettled charges")
		return
	}
	fmt.Printf("%d duplicated pair(s):\n", len(duplicates))
	for _, d := range duplicates {
		fmt.Printf("  personnel=%d equipment=%d records=[%s] count=%d total_due=%s\n",
			d.PersonnelId, d.InventoryId, d.RecordIds, d.RecordCount, d.TotalDue)
	}
}
