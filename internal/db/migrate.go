package db

import (
	"fmt"

	"github.com/router-for-me/hazardguard/internal/models"
	"gorm.io/gorm"
)

// schemaModels lists the tables managed by Migrate.
var schemaModels = []any{
	&models.Admin{},
	&models.Hazard{},
	&models.BlockageEvent{},
}

// Migrate runs database migrations for the current dialect.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	switch DialectName(conn) {
	case DialectSQLite:
		return migrateSQLite(conn)
	case DialectPostgres, "":
		return migratePostgres(conn)
	default:
		return fmt.Errorf("db: unsupported dialect: %s", DialectName(conn))
	}
}

// migratePostgres applies PostgreSQL-specific schema updates and indexes.
func migratePostgres(conn *gorm.DB) error {
	if errAutoMigrate := conn.AutoMigrate(schemaModels...); errAutoMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errAutoMigrate)
	}
	statements := []string{
		`CREATE INDEX IF NOT EXISTS idx_blockage_events_client_time ON blockage_events (client, occurred_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_hazards_enabled_position ON hazards (position, id) WHERE enabled`,
		`CREATE INDEX IF NOT EXISTS idx_hazards_rule_gin ON hazards USING GIN (rule)`,
	}
	for _, stmt := range statements {
		if errExec := conn.Exec(stmt).Error; errExec != nil {
			return fmt.Errorf("db: create index: %w", errExec)
		}
	}
	return nil
}

// migrateSQLite applies SQLite schema updates and indexes.
func migrateSQLite(conn *gorm.DB) error {
	if errAutoMigrate := conn.AutoMigrate(schemaModels...); errAutoMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errAutoMigrate)
	}
	statements := []string{
		`CREATE INDEX IF NOT EXISTS idx_blockage_events_client_time ON blockage_events (client, occurred_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_hazards_enabled_position ON hazards (position, id) WHERE enabled = 1`,
	}
	for _, stmt := range statements {
		if errExec := conn.Exec(stmt).Error; errExec != nil {
			return fmt.Errorf("db: create index: %w", errExec)
		}
	}
	return nil
}
