// Package dbtest opens a throwaway sqlite database for package tests.
package dbtest

import (
	"log/slog"
	"testing"

	"gorm.io/gorm"

	"github.com/Keksclan/rawrcache/uow"
)

// Open returns an in-memory database with models migrated.
func Open(t *testing.T, models ...any) *gorm.DB {
	t.Helper()
	db, err := uow.Open(uow.DriverSQLite, ":memory:", uow.WithSQLLogger(slog.New(slog.DiscardHandler)))
	if err != nil {
		t.Fatalf("Failed to connect database: %v", err)
	}
	if err := db.AutoMigrate(models...); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}
