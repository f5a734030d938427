package database_test

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/CUknot/yolo_backend/database"
	"github.com/CUknot/yolo_backend/models"
	"github.com/CUknot/yolo_backend/testutil"
)

func TestMigrate_CreatesTables(t *testing.T) {
	db := testutil.NewDB(t)

	for _, model := range []any{&models.User{}, &models.Event{}, &models.Chat{}} {
		assert.True(t, db.Migrator().HasTable(model), "missing table for %T", model)
	}
}

func TestUserDefaults_EmptyCollections(t *testing.T) {
	db := testutil.NewDB(t)
	user := testutil.CreateUser(t, db, "ana")

	var stored models.User
	require.NoError(t, db.First(&stored, user.ID).Error)
	assert.Equal(t, "[]", stored.PendingEvents)
	assert.Equal(t, "[]", stored.FriendRequests)
	assert.NotEqual(t, "secret1", stored.Password)
	assert.NoError(t, stored.ValidatePassword("secret1"))
}

func TestCompareAndSwap_RetriesConflicts(t *testing.T) {
	db := testutil.NewDB(t)

	attempts := 0
	err := database.CompareAndSwap(context.Background(), db, 5, func(tx *gorm.DB) error {
		attempts++
		if attempts < 3 {
			return database.ErrVersionConflict
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestCompareAndSwap_GivesUpAfterMaxTries(t *testing.T) {
	db := testutil.NewDB(t)

	attempts := 0
	err := database.CompareAndSwap(context.Background(), db, 2, func(tx *gorm.DB) error {
		attempts++
		return database.ErrVersionConflict
	})
	assert.ErrorIs(t, err, database.ErrVersionConflict)
	assert.Equal(t, 2, attempts)
}

func TestCompareAndSwap_RollsBackOnError(t *testing.T) {
	db := testutil.NewDB(t)
	user := testutil.CreateUser(t, db, "bo")
	boom := errors.New("boom")

	attempts := 0
	err := database.CompareAndSwap(context.Background(), db, 5, func(tx *gorm.DB) error {
		attempts++
		if err := tx.Model(&models.User{}).Where("id = ?", user.ID).Update("friends", "[9,]").Error; err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, attempts)

	var stored models.User
	require.NoError(t, db.First(&stored, user.ID).Error)
	assert.Equal(t, "[]", stored.Friends)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		unavailable bool
	}{
		{"nil", nil, false},
		{"bad conn", fmt.Errorf("query: %w", driver.ErrBadConn), true},
		{"pg connection failure", &pgconn.PgError{Code: "08006"}, true},
		{"pg admin shutdown", &pgconn.PgError{Code: "57P01"}, true},
		{"pg unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"record not found", gorm.ErrRecordNotFound, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := database.Classify(tt.err)
			assert.Equal(t, tt.unavailable, errors.Is(got, database.ErrStorageUnavailable))
			if tt.err != nil {
				assert.ErrorIs(t, got, tt.err)
			}
		})
	}
}
