package models_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/mmdatafocus/equiptrack_backend/config"
	"github.com/mmdatafocus/equiptrack_backend/models"
	"github.com/mmdatafocus/equiptrack_backend/utils"
	"github.com/shopspring/decimal"
)

func TestClearanceLifecycleEndToEnd(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := testContext(t)
	orgId, _ := utils.GetOrgIdFromContext(ctx)
	db := config.GetDB()

	person, err := models.CreatePersonnel(ctx, &models.NewPersonnel{
		Name:        "Aye Chan",
		BadgeNumber: "B-1001",
	})
	if err != nil {
		t.Fatalf("CreatePersonnel: %v", err)
	}

	laptop, err := models.CreateEquipmentItem(ctx, &models.NewEquipmentItem{
		Name:                "Laptop",
		SerialNumber:        "LT-001",
		Value:               decimal.NewFromInt(1500),
		AssignedPersonnelId: &person.ID,
	})
	if err != nil {
		t.Fatalf("CreateEquipmentItem laptop: %v", err)
	}
	radio, err := models.CreateEquipmentItem(ctx, &models.NewEquipmentItem{
		Name:                "Radio",
		SerialNumber:        "RD-001",
		Value:               decimal.NewFromInt(400),
		AssignedPersonnelId: &person.ID,
	})
	if err != nil {
		t.Fatalf("CreateEquipmentItem radio: %v", err)
	}

	// 1) Open a resignation clearance. Both assigned items must be seeded as
	// pending clearance rows.
	request, err := models.CreateClearanceRequest(ctx, &models.NewClearanceRequest{
		PersonnelId: person.ID,
		Type:        models.ClearanceTypeResignation,
	})
	if err != nil {
		t.Fatalf("CreateClearanceRequest: %v", err)
	}
	if request.Status != models.ClearanceRequestStatusPending {
		t.Fatalf("new request status: got %s want Pending", request.Status)
	}
	if len(request.Items) != 2 {
		t.Fatalf("seeded items: got %d want 2", len(request.Items))
	}
	for _, item := range request.Items {
		if item.Status != models.ClearanceItemStatusPending {
			t.Fatalf("seeded item %d status: got %s want Pending", item.ID, item.Status)
		}
	}

	// 2) A second exclusive request for the same personnel must be rejected
	// while the first is active.
	if _, err := models.CreateClearanceRequest(ctx, &models.NewClearanceRequest{
		PersonnelId: person.ID,
		Type:        models.ClearanceTypeRetirement,
	}); err == nil {
		t.Fatal("second exclusive request must be rejected while one is active")
	}

	// 3) Inspect the laptop through the scheduled-inspection flow. A Good
	// verdict clears the item and moves the request to InProgress.
	inspection, err := models.ScheduleInspection(ctx, &models.NewInspection{
		InventoryId:   laptop.ID,
		ScheduledDate: time.Now().UTC(),
		InspectorName: "Inspector Thiha",
	})
	if err != nil {
		t.Fatalf("ScheduleInspection: %v", err)
	}
	completed, err := models.CompleteInspection(ctx, inspection.ID, &models.CompleteInspectionInput{
		Condition: models.EquipmentConditionGood,
	})
	if err != nil {
		t.Fatalf("CompleteInspection: %v", err)
	}
	if completed.Status != models.InspectionStatusCompleted || completed.CompletedAt == nil {
		t.Fatalf("inspection not stamped: status=%s completed_at=%v", completed.Status, completed.CompletedAt)
	}

	request = mustGetRequest(t, ctx, request.ID)
	if request.Status != models.ClearanceRequestStatusInProgress {
		t.Fatalf("request after first clear: got %s want InProgress", request.Status)
	}
	if got := itemStatusFor(request, laptop.ID); got != models.ClearanceItemStatusCleared {
		t.Fatalf("laptop item: got %s want Cleared", got)
	}

	// 4) The radio comes back damaged with a repair charge. The request must
	// hold in InProgress until the charge is settled.
	amount := decimal.NewFromInt(150)
	if err := models.RecordInspectionOutcome(ctx, &models.InspectionOutcome{
		InventoryId: radio.ID,
		Condition:   models.EquipmentConditionDamaged,
		InspectedBy: "Inspector Thiha",
		AmountDue:   &amount,
	}); err != nil {
		t.Fatalf("RecordInspectionOutcome damaged: %v", err)
	}

	request = mustGetRequest(t, ctx, request.ID)
	if request.Status != models.ClearanceRequestStatusInProgress {
		t.Fatalf("request with unsettled damage: got %s want InProgress", request.Status)
	}
	if got := itemStatusFor(request, radio.ID); got != models.ClearanceItemStatusDamaged {
		t.Fatalf("radio item: got %s want Damaged", got)
	}

	unsettled, err := models.GetUnsettledRecords(ctx, person.ID, &request.ID)
	if err != nil {
		t.Fatalf("GetUnsettledRecords: %v", err)
	}
	if len(unsettled) != 1 {
		t.Fatalf("unsettled records: got %d want 1", len(unsettled))
	}
	if unsettled[0].RecordType != models.AccountabilityRecordTypeDamaged || !unsettled[0].AmountDue.Equal(amount) {
		t.Fatalf("charge: got %s %s want DAMAGED 150", unsettled[0].RecordType, unsettled[0].AmountDue)
	}

	var summary models.PersonnelAccountabilitySummary
	if err := db.Where("org_id = ? AND personnel_id = ? AND clearance_request_id = ?",
		orgId, person.ID, request.ID).First(&summary).Error; err != nil {
		t.Fatalf("fetch request summary: %v", err)
	}
	if summary.AccountabilityStatus != models.AccountabilityStatusUnsettled {
		t.Fatalf("summary: got %s want UNSETTLED", summary.AccountabilityStatus)
	}
	if !summary.TotalOutstandingAmount.Equal(amount) {
		t.Fatalf("summary outstanding: got %s want 150", summary.TotalOutstandingAmount)
	}

	eligible, err := models.CheckApprovalEligibility(ctx, request.ID, person.ID)
	if err != nil {
		t.Fatalf("CheckApprovalEligibility: %v", err)
	}
	if eligible {
		t.Fatal("eligibility must be false while a charge is outstanding")
	}

	// 5) Settle the charge. The summary flips to SETTLED and the request
	// advances to PendingForApproval on its own.
	if err := models.SettleAccountabilityRecords(ctx, []int{unsettled[0].ID}, "Cash"); err != nil {
		t.Fatalf("SettleAccountabilityRecords: %v", err)
	}
	if err := db.Where("org_id = ? AND personnel_id = ? AND clearance_request_id = ?",
		orgId, person.ID, request.ID).First(&summary).Error; err != nil {
		t.Fatalf("refetch request summary: %v", err)
	}
	if summary.AccountabilityStatus != models.AccountabilityStatusSettled {
		t.Fatalf("summary after settle: got %s want SETTLED", summary.AccountabilityStatus)
	}
	request = mustGetRequest(t, ctx, request.ID)
	if request.Status != models.ClearanceRequestStatusPendingForApproval {
		t.Fatalf("request after settle: got %s want PendingForApproval", request.Status)
	}

	// 6) Approval completes the request and finalizes every item.
	approved, err := models.ApproveSettlement(ctx, request.ID, false)
	if err != nil {
		t.Fatalf("ApproveSettlement: %v", err)
	}
	if approved.Status != models.ClearanceRequestStatusCompleted || approved.CompletedAt == nil {
		t.Fatalf("approved request: status=%s completed_at=%v", approved.Status, approved.CompletedAt)
	}
	request = mustGetRequest(t, ctx, request.ID)
	for _, item := range request.Items {
		if item.Status != models.ClearanceItemStatusCleared {
			t.Fatalf("item %d after approval: got %s want Cleared", item.ID, item.Status)
		}
	}

	// 7) A second approval must fail: Completed is terminal even under force.
	if _, err := models.ApproveSettlement(ctx, request.ID, true); err == nil {
		t.Fatal("approving a completed request must fail")
	}

	// Every mutation above must have left an outbox row behind.
	var eventCount int64
	if err := db.Model(&models.ClearanceEventRecord{}).Where("org_id = ?", orgId).Count(&eventCount).Error; err != nil {
		t.Fatalf("count outbox rows: %v", err)
	}
	if eventCount == 0 {
		t.Fatal("expected outbox rows after the lifecycle, got none")
	}
}

func TestRoutineLossLinkAndEquipmentReturn(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := testContext(t)
	orgId, _ := utils.GetOrgIdFromContext(ctx)
	db := config.GetDB()

	person, err := models.CreatePersonnel(ctx, &models.NewPersonnel{
		Name:        "Kyaw Zin",
		BadgeNumber: "B-2001",
	})
	if err != nil {
		t.Fatalf("CreatePersonnel: %v", err)
	}
	scanner, err := models.CreateEquipmentItem(ctx, &models.NewEquipmentItem{
		Name:                "Scanner",
		SerialNumber:        "SC-001",
		Value:               decimal.NewFromInt(800),
		AssignedPersonnelId: &person.ID,
	})
	if err != nil {
		t.Fatalf("CreateEquipmentItem: %v", err)
	}

	// Loss reported before any clearance exists: a routine ledger entry.
	loss, err := models.RecordLoss(ctx, &models.NewAccountabilityRecord{
		PersonnelId: person.ID,
		InventoryId: scanner.ID,
		RecordType:  models.AccountabilityRecordTypeLost,
		AmountDue:   decimal.NewFromInt(800),
	})
	if err != nil {
		t.Fatalf("RecordLoss: %v", err)
	}
	if loss.SourceType != models.AccountabilitySourceRoutine || loss.ClearanceRequestId != nil {
		t.Fatalf("routine loss: source=%s request=%v", loss.SourceType, loss.ClearanceRequestId)
	}

	// Opening the clearance adopts the pre-existing loss under its key.
	request, err := models.CreateClearanceRequest(ctx, &models.NewClearanceRequest{
		PersonnelId: person.ID,
		Type:        models.ClearanceTypeResignation,
	})
	if err != nil {
		t.Fatalf("CreateClearanceRequest: %v", err)
	}

	var linked models.AccountabilityRecord
	if err := db.Where("org_id = ? AND id = ?", orgId, loss.ID).First(&linked).Error; err != nil {
		t.Fatalf("refetch loss record: %v", err)
	}
	if linked.ClearanceRequestId == nil || *linked.ClearanceRequestId != request.ID {
		t.Fatalf("loss not linked to request: got %v want %d", linked.ClearanceRequestId, request.ID)
	}
	if linked.SourceType != models.AccountabilitySourceClearance {
		t.Fatalf("linked loss source: got %s want Clearance", linked.SourceType)
	}

	var summary models.PersonnelAccountabilitySummary
	if err := db.Where("org_id = ? AND personnel_id = ? AND clearance_request_id = ?",
		orgId, person.ID, request.ID).First(&summary).Error; err != nil {
		t.Fatalf("fetch request summary: %v", err)
	}
	if summary.AccountabilityStatus != models.AccountabilityStatusUnsettled {
		t.Fatalf("summary: got %s want UNSETTLED", summary.AccountabilityStatus)
	}
	if summary.LostEquipmentCount != 1 {
		t.Fatalf("lost count: got %d want 1", summary.LostEquipmentCount)
	}

	// The scanner turns up in good shape. The record settles as RETURNED and
	// the assignment drops.
	if err := models.ReturnEquipment(ctx, loss.ID, models.EquipmentConditionGood, "found in storeroom"); err != nil {
		t.Fatalf("ReturnEquipment: %v", err)
	}

	if err := db.Where("org_id = ? AND id = ?", orgId, loss.ID).First(&linked).Error; err != nil {
		t.Fatalf("refetch returned record: %v", err)
	}
	if linked.RecordType != models.AccountabilityRecordTypeReturned {
		t.Fatalf("record type after return: got %s want RETURNED", linked.RecordType)
	}
	if !linked.IsSettled || !linked.EquipmentReturned {
		t.Fatalf("record after return: settled=%v returned=%v", linked.IsSettled, linked.EquipmentReturned)
	}

	var item models.EquipmentItem
	if err := db.Where("org_id = ? AND id = ?", orgId, scanner.ID).First(&item).Error; err != nil {
		t.Fatalf("refetch equipment: %v", err)
	}
	if item.ConditionStatus != models.EquipmentConditionGood {
		t.Fatalf("equipment condition: got %s want Good", item.ConditionStatus)
	}
	if item.AssignedPersonnelId != nil {
		t.Fatalf("assignment must be cleared after a lost item returns Good, got %v", *item.AssignedPersonnelId)
	}

	if err := db.Where("org_id = ? AND personnel_id = ? AND clearance_request_id = ?",
		orgId, person.ID, request.ID).First(&summary).Error; err != nil {
		t.Fatalf("refetch request summary: %v", err)
	}
	if summary.AccountabilityStatus != models.AccountabilityStatusSettled {
		t.Fatalf("summary after return: got %s want SETTLED", summary.AccountabilityStatus)
	}

	// Finish the clearance: the pending item row still needs its inspection.
	if err := models.RecordInspectionOutcome(ctx, &models.InspectionOutcome{
		InventoryId: scanner.ID,
		Condition:   models.EquipmentConditionGood,
		InspectedBy: "Inspector Thiha",
	}); err != nil {
		t.Fatalf("RecordInspectionOutcome: %v", err)
	}
	request = mustGetRequest(t, ctx, request.ID)
	if request.Status != models.ClearanceRequestStatusPendingForApproval {
		t.Fatalf("request after final inspection: got %s want PendingForApproval", request.Status)
	}

	approved, err := models.ApproveSettlement(ctx, request.ID, false)
	if err != nil {
		t.Fatalf("ApproveSettlement: %v", err)
	}
	if approved.Status != models.ClearanceRequestStatusCompleted {
		t.Fatalf("approved request: got %s want Completed", approved.Status)
	}
}

// testContext boots the docker dependencies, connects, migrates, and returns
// a context carrying org and user identity for the history hooks.
func testContext(t *testing.T) context.Context {
	t.Helper()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "equiptrack_test")
	t.Setenv("CHANGE_FEED_MODE", "poll")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	if err := models.MigrateTable(); err != nil {
		t.Fatalf("MigrateTable: %v", err)
	}

	ctx := context.Background()
	ctx = utils.SetOrgIdInContext(ctx, fmt.Sprintf("org-test-%d", time.Now().UnixNano()))
	ctx = utils.SetUserIdInContext(ctx, 1)
	ctx = utils.SetUserNameInContext(ctx, "Test")
	return ctx
}

func mustGetRequest(t *testing.T, ctx context.Context, requestId int) *models.ClearanceRequest {
	t.Helper()
	request, err := models.GetClearanceRequest(ctx, requestId)
	if err != nil {
		t.Fatalf("GetClearanceRequest %d: %v", requestId, err)
	}
	return request
}

func itemStatusFor(request *models.ClearanceRequest, inventoryId int) models.ClearanceItemStatus {
	for _, item := range request.Items {
		if item.InventoryId == inventoryId {
			return item.Status
		}
	}
	return ""
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("equiptrack-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("equiptrack-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=equiptrack_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
