package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/CUknot/yolo_backend/config"
)

func TestMigrateCommand(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "yolo.db")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", path)

	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetArgs([]string{"migrate"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "Database migration completed")

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	require.NoError(t, err)
	for _, table := range []string{"users", "events", "chats"} {
		assert.True(t, db.Migrator().HasTable(table), table)
	}
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.Close()
}

func TestNewLocker_DefaultsToLocal(t *testing.T) {
	l, closeFn, err := newLocker(&config.Config{}, nil)
	require.NoError(t, err)
	defer closeFn()
	assert.NotNil(t, l)
}

func TestRootCommand_HasSubcommands(t *testing.T) {
	root := newRootCommand()
	for _, name := range []string{"serve", "migrate"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, cmd.Name())
	}
}
