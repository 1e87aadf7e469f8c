package db

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/petermazzocco/go-image-tiers/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestOpen_SQLiteMigratesSchema(t *testing.T) {
	gdb, err := Open("sqlite", ":memory:")
	require.NoError(t, err)

	for _, m := range models.All() {
		assert.True(t, gdb.Migrator().HasTable(m), "missing table for %T", m)
	}
	assert.True(t, gdb.Migrator().HasTable("tier_sizes"))
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open("mysql", "whatever")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
}

func TestIsUniqueViolation(t *testing.T) {
	gdb, err := Open("sqlite", ":memory:")
	require.NoError(t, err)

	require.NoError(t, gdb.Create(&models.Size{Height: 200}).Error)
	err = gdb.Create(&models.Size{Height: 200}).Error
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err))
	assert.False(t, IsNotFound(err))
}

func TestNewLogger_SkipsRecordNotFound(t *testing.T) {
	gdb, err := Open("sqlite", ":memory:")
	require.NoError(t, err)
	var buf bytes.Buffer
	gdb = gdb.Session(&gorm.Session{Logger: NewLogger(slog.New(slog.NewTextHandler(&buf, nil)))})

	err = gdb.First(&models.Size{}, 42).Error
	assert.True(t, IsNotFound(err))
	assert.Empty(t, buf.String())

	err = gdb.Exec("SELECT * FROM no_such_table").Error
	require.Error(t, err)
	assert.Contains(t, buf.String(), "no_such_table")
	assert.Contains(t, buf.String(), "component=gorm")
}
