package models

import (
	"context"
	"errors"
	"time"

	"github.com/mmdatafocus/equiptrack_backend/config"
	"github.com/mmdatafocus/equiptrack_backend/utils"
	"gorm.io/gorm"
)

type User struct {
	ID        int       `gorm:"primary_key" json:"id"`
	OrgId     string    `gorm:"size:64;index;not null" json:"org_id"`
	Username  string    `gorm:"size:100;not null;uniqueIndex:idx_user_org" json:"username"`
	Password  string    `gorm:"size:100;not null" json:"-"`
	Name      string    `gorm:"size:100" json:"name"`
	Role      string    `gorm:"size:30;not null;default:'user'" json:"role"`
	IsActive  *bool     `gorm:"default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewUser struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	Name     string `json:"name"`
	Role     string `json:"role"`
}

func CreateUser(ctx context.Context, orgId string, input *NewUser) (*User, error) {
	db := config.GetDB()

	if err := utils.ValidateUnique[User](ctx, orgId, "username", input.Username, 0); err != nil {
		return nil, err
	}

	hashed, err := utils.HashPassword(input.Password)
	if err != nil {
		return nil, err
	}
	role := input.Role
	if role == "" {
		role = "user"
	}

	user := User{
		OrgId:    orgId,
		Username: input.Username,
		Password: string(hashed),
		Name:     input.Name,
		Role:     role,
		IsActive: utils.NewTrue(),
	}
	if err := db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// Signin checks the credentials and returns a signed token carrying the user
// id and role. The org id travels in the token subject claims.
func Signin(ctx context.Context, orgId string, username string, password string) (string, *User, error) {
	db := config.GetDB()

	var user User
	err := db.WithContext(ctx).
		Where("org_id = ? AND username = ?", orgId, username).
		First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil, errors.New("invalid username or password")
	}
	if err != nil {
		return "", nil, err
	}
	if user.IsActive != nil && !*user.IsActive {
		return "", nil, errors.New("user is deactivated")
	}
	if err := utils.ComparePassword(user.Password, password); err != nil {
		return "", nil, errors.New("invalid username or password")
	}

	name := user.Name
	if name == "" {
		name = user.Username
	}
	token, err := utils.JwtGenerate(user.ID, user.OrgId, name, user.Role)
	if err != nil {
		return "", nil, err
	}
	return token, &user, nil
}
