package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/router-for-me/hazardguard/internal/config"
	"github.com/router-for-me/hazardguard/internal/db"
	"github.com/router-for-me/hazardguard/internal/http/api/admin/permissions"
	"github.com/router-for-me/hazardguard/internal/models"
	"github.com/router-for-me/hazardguard/internal/security"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const minPasswordLength = 8

var errAdminExists = errors.New("admin already exists")

// CreateAdminParams holds inputs for admin creation.
type CreateAdminParams struct {
	Username    string
	Password    string
	SuperAdmin  bool
	Permissions []string
}

// HasAdminInitialized reports whether at least one admin account exists.
func HasAdminInitialized(conn *gorm.DB) (bool, error) {
	if conn == nil {
		return false, fmt.Errorf("nil db")
	}
	if !conn.Migrator().HasTable(&models.Admin{}) {
		return false, nil
	}
	var count int64
	if errCount := conn.Model(&models.Admin{}).Count(&count).Error; errCount != nil {
		return false, errCount
	}
	return count > 0, nil
}

// CreateAdmin opens the configured database, migrates it and creates an admin.
func CreateAdmin(ctx context.Context, appCfg config.AppConfig, params CreateAdminParams) (models.Admin, error) {
	cfg, errLoad := LoadConfig(appCfg)
	if errLoad != nil {
		return models.Admin{}, errLoad
	}
	conn, errOpen := db.Open(cfg.DatabaseDSN)
	if errOpen != nil {
		return models.Admin{}, fmt.Errorf("open database: %w", errOpen)
	}
	defer closeDB(conn)
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return models.Admin{}, fmt.Errorf("migrate database: %w", errMigrate)
	}
	return CreateAdminWithConn(conn.WithContext(ctx), params)
}

// CreateAdminWithConn creates an admin. The first admin is always a super admin.
func CreateAdminWithConn(conn *gorm.DB, params CreateAdminParams) (models.Admin, error) {
	if conn == nil {
		return models.Admin{}, fmt.Errorf("open database: nil connection")
	}
	username := strings.TrimSpace(params.Username)
	if username == "" {
		return models.Admin{}, errors.New("username is required")
	}
	if len(params.Password) < minPasswordLength {
		return models.Admin{}, fmt.Errorf("password must be at least %d characters", minPasswordLength)
	}
	if errValidate := permissions.ValidatePermissions(params.Permissions); errValidate != nil {
		return models.Admin{}, errValidate
	}

	var existing int64
	if errCount := conn.Model(&models.Admin{}).Where("username = ?", username).Count(&existing).Error; errCount != nil {
		return models.Admin{}, fmt.Errorf("check admin: %w", errCount)
	}
	if existing > 0 {
		return models.Admin{}, fmt.Errorf("%w: %s", errAdminExists, username)
	}
	initialized, errInit := HasAdminInitialized(conn)
	if errInit != nil {
		return models.Admin{}, errInit
	}

	hashedPassword, errHash := security.HashPassword(params.Password)
	if errHash != nil {
		return models.Admin{}, fmt.Errorf("hash password: %w", errHash)
	}
	perms, errMarshal := permissions.MarshalPermissions(params.Permissions)
	if errMarshal != nil {
		return models.Admin{}, fmt.Errorf("encode permissions: %w", errMarshal)
	}

	now := time.Now().UTC()
	admin := models.Admin{
		Username:     username,
		Password:     hashedPassword,
		Active:       true,
		IsSuperAdmin: params.SuperAdmin || !initialized,
		Permissions:  datatypes.JSON(perms),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if errCreate := conn.Create(&admin).Error; errCreate != nil {
		return models.Admin{}, fmt.Errorf("create admin: %w", errCreate)
	}
	return admin, nil
}
