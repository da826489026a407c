package db

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

//go:embed sql/pre_automigrate.sql
var preAutoMigrateSQL string

//go:embed sql/post_automigrate.sql
var postAutoMigrateSQL string

// migrationLockKey is the advisory lock held while the listings schema
// migrates, so concurrent commands starting together do not race on DDL.
const migrationLockKey int64 = 0x464c5f4d4947

func (p *Pool) autoMigrate(ctx context.Context) error {
	if p == nil || p.gdb == nil {
		return fmt.Errorf("database pool is not initialized")
	}

	return p.gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", migrationLockKey).Error; err != nil {
			return wrapStorage("lock schema migration", err)
		}
		if err := runMigrationScript(tx, "pre-auto-migrate", preAutoMigrateSQL); err != nil {
			return err
		}
		if err := tx.AutoMigrate(autoMigrateModels()...); err != nil {
			return fmt.Errorf("gorm auto-migrate listings models: %w", err)
		}
		return runMigrationScript(tx, "post-auto-migrate", postAutoMigrateSQL)
	})
}

func runMigrationScript(tx *gorm.DB, label, sqlText string) error {
	trimmed := strings.TrimSpace(sqlText)
	if trimmed == "" {
		return nil
	}
	if err := tx.Exec(trimmed).Error; err != nil {
		return wrapStorage(label, err)
	}
	return nil
}
