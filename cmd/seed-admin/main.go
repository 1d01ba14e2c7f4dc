// seed-admin creates or updates the ops console user for one org.
//
// Usage:
//   DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... \
//     go run ./cmd/seed-admin --org-id=acme
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/mmdatafocus/equiptrack_backend/config"
	"github.com/mmdatafocus/equiptrack_backend/models"
	"github.com/mmdatafocus/equiptrack_backend/utils"
	"gorm.io/gorm"
)

const (
	adminUsername = "equiptrackAdmin"
	adminName     = "EquipTrack Admin"
)

func main() {
	orgId := flag.String("org-id", "", "Required: org id")
	password := flag.String("password", "", "Admin password (default: generated from ADMIN_PASSWORD env)")
	flag.Parse()

	if strings.TrimSpace(*orgId) == "" {
		fmt.Fprintln(os.Stderr, "--org-id is required")
		os.Exit(1)
	}
	pw := strings.TrimSpace(*password)
	if pw == "" {
		pw = strings.TrimSpace(os.Getenv("ADMIN_PASSWORD"))
	}
	if pw == "" {
		fmt.Fprintln(os.Stderr, "set --password or ADMIN_PASSWORD")
		os.Exit(1)
	}

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}

	hashed, err := utils.HashPassword(pw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to hash password: %v\n", err)
		os.Exit(1)
	}
	hashedStr := string(hashed)

	var existing models.User
	err = db.WithContext(ctx).Model(&models.User{}).
		Where("org_id = ? AND username = ?", *orgId, adminUsername).
		First(&existing).Error
	if err != nil {
		if err != gorm.ErrRecordNotFound {
			fmt.Fprintf(os.Stderr, "failed to lookup user: %v\n", err)
			os.Exit(1)
		}
		u := models.User{
			OrgId:    *orgId,
			Username: adminUsername,
			Name:     adminName,
			Password: hashedStr,
			Role:     "admin",
			IsActive: utils.NewTrue(),
		}
		if err := db.WithContext(ctx).Create(&u).Error; err != nil {
			fmt.Fprintf(os.Stderr, "failed to create admin user: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Created admin user: username=%q org=%q\n", adminUsername, *orgId)
		return
	}

	if err := db.WithContext(ctx).Model(&models.User{}).
		Where("org_id = ? AND username = ?", *orgId, adminUsername).
		Updates(map[string]any{
			"password":  hashedStr,
			"name":      adminName,
			"is_active": utils.NewTrue(),
			"role":      "admin",
		}).Error; err != nil {
		fmt.Fprintf(os.Stderr, "failed to update admin user: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Updated admin user: username=%q org=%q\n", adminUsername, *orgId)
}
