package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/equiptrack_backend/config"
	"github.com/mmdatafocus/equiptrack_backend/utils"
)

type Personnel struct {
	ID          int       `gorm:"primary_key" json:"id"`
	OrgId       string    `gorm:"size:64;index;not null" json:"org_id"`
	Name        string    `gorm:"size:100;not null" json:"name"`
	Email       string    `gorm:"size:100" json:"email"`
	Phone       string    `gorm:"size:20" json:"phone"`
	BadgeNumber string    `gorm:"size:30;index" json:"badge_number"`
	IsActive    *bool     `gorm:"default:true" json:"is_active"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewPersonnel struct {
	Name        string `json:"name" binding:"required"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	BadgeNumber string `json:"badge_number" binding:"required"`
}

func (input *NewPersonnel) validate(ctx context.Context, orgId string) error {
	if input.Email != "" && !utils.IsValidEmail(input.Email) {
		return utils.NewValidationError("email", "invalid email")
	}
	if input.Phone != "" {
		if err := utils.ValidatePhoneNumber(input.Phone, utils.CountryCode); err != nil {
			return utils.NewValidationError("phone", "invalid phone number")
		}
	}
	if err := utils.ValidateUnique[Personnel](ctx, orgId, "badge_number", input.BadgeNumber, 0); err != nil {
		return err
	}
	return nil
}

func CreatePersonnel(ctx context.Context, input *NewPersonnel) (*Personnel, error) {
	db := config.GetDB()

	orgId, err := orgIdFromContext(ctx)
	if err != nil {
		return nil, err
	}

	if err := input.validate(ctx, orgId); err != nil {
		return nil, err
	}

	personnel := Personnel{
		OrgId:       orgId,
		Name:        input.Name,
		Email:       input.Email,
		Phone:       input.Phone,
		BadgeNumber: input.BadgeNumber,
		IsActive:    utils.NewTrue(),
	}

	tx := db.Begin()
	if err := tx.WithContext(ctx).Create(&personnel).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := SaveHistoryCreate(tx.WithContext(ctx), personnel.ID, "personnels", &personnel, "Personnel "+personnel.Name+" created."); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return &personnel, nil
}

func GetPersonnel(ctx context.Context, id int) (*Personnel, error) {
	orgId, err := orgIdFromContext(ctx)
	if err != nil {
		return nil, err
	}
	personnel, err := utils.FetchModel[Personnel](ctx, orgId, id)
	if err != nil {
		return nil, utils.NewNotFoundError("personnel", id)
	}
	return personnel, nil
}

func DeactivatePersonnel(ctx context.Context, id int) error {
	db := config.GetDB()
	orgId, err := orgIdFromContext(ctx)
	if err != nil {
		return err
	}
	result := db.WithContext(ctx).Model(&Personnel{}).
		Where("org_id = ? AND id = ?", orgId, id).
		Update("is_active", false)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return utils.NewNotFoundError("personnel", id)
	}
	return nil
}
