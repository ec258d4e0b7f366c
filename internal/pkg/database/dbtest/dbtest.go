// Package dbtest opens throwaway in-memory databases for package tests.
package dbtest

import (
	"fmt"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/pharmalink/pharmalink/app/models"
	"github.com/pharmalink/pharmalink/internal/pkg/database"
)

// Open returns a migrated in-memory database private to t. The pool holds a single
// connection, so concurrent transactions are serialized the way row locks serialize
// them on MySQL. Code under test must not use the outer handle while it holds a
// transaction.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%s?mode=memory&cache=shared", name, uuid.NewString()[:8])

	cfg := database.GormConfig()
	cfg.Logger = logger.Default.LogMode(logger.Silent)
	db, err := gorm.Open(sqlite.Open(dsn), cfg)
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.AutoMigrate(db))
	return db
}

// CreateAccount inserts a free account with the given external id.
func CreateAccount(t testing.TB, db *gorm.DB, externalID, email string) *models.Account {
	t.Helper()
	acc := &models.Account{ExternalID: externalID, Email: email}
	require.NoError(t, db.Create(acc).Error)
	return acc
}

// CreateAdmin inserts an account with the admin role.
func CreateAdmin(t testing.TB, db *gorm.DB, externalID string) *models.Account {
	t.Helper()
	acc := &models.Account{ExternalID: externalID, Email: externalID + "@admin.test", Role: models.RoleAdmin}
	require.NoError(t, db.Create(acc).Error)
	return acc
}

// ReloadAccount reads the account row again.
func ReloadAccount(t testing.TB, db *gorm.DB, id uint) *models.Account {
	t.Helper()
	var acc models.Account
	require.NoError(t, db.First(&acc, id).Error)
	return &acc
}
