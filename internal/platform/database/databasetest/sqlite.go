// Package databasetest opens throwaway in-memory SQLite databases for tests.
package databasetest

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/hanko-field/orderflow/internal/platform/config"
	"github.com/hanko-field/orderflow/internal/platform/database"
)

var seq atomic.Int64

// Open returns a provider bound to a fresh shared-cache in-memory database that is
// closed when the test ends. models are auto-migrated.
func Open(t testing.TB, models ...any) (*database.Provider, *gorm.DB) {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared&_busy_timeout=5000", name, seq.Add(1))

	provider := database.NewProvider(config.DatabaseConfig{Driver: database.DriverSQLite, DSN: dsn, MaxOpenConns: 1},
		database.WithDialector(sqlite.Open(dsn)),
	)
	db, err := provider.DB(context.Background())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if len(models) > 0 {
		if err := db.AutoMigrate(models...); err != nil {
			t.Fatalf("auto migrate: %v", err)
		}
	}
	t.Cleanup(func() {
		_ = provider.Close(context.Background())
	})
	return provider, db
}
