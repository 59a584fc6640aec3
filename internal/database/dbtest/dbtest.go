package dbtest

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"vpn-billing/internal/database"
)

var memSeq atomic.Int64

// OpenMemory opens a fresh migrated in-memory SQLite database. Each call gets its own schema.
func OpenMemory() (*gorm.DB, error) {
	dsn := fmt.Sprintf("file:billing_%d?mode=memory&cache=shared", memSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := database.Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// New is OpenMemory for tests; it fails the test on error.
func New(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := OpenMemory()
	require.NoError(t, err)
	return db
}
