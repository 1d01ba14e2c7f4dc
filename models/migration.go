package models

import (
	"github.com/mmdatafocus/equiptrack_backend/config"
)

func MigrateTable() error {
	db := config.GetDB()
	err := db.AutoMigrate(
		&User{},
		&Personnel{},
		&EquipmentItem{},
		&ClearanceRequest{},
		&ClearanceInventoryItem{},
		&AccountabilityRecord{},
		&PersonnelAccountabilitySummary{},
		&Inspection{},
		&ClearanceEventRecord{},
		&History{},
		&ReconciliationReport{},
	)
	if err != nil {
		return err
	}
	return nil
}
