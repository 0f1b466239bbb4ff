package db

import (
	"errors"
	"testing"

	"github.com/smallbiznis/stitchery/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestDialectRejectsUnsupportedTypes(t *testing.T) {
	for _, kind := range []string{"mysql", "mssql", ""} {
		_, err := Dialect(config.Config{DBType: kind})
		require.Error(t, err, kind)
		assert.True(t, errors.Is(err, ErrUnsupportedDialect), kind)
	}
}

func TestDialectPostgresAndSQLite(t *testing.T) {
	pg, err := Dialect(config.Config{DBType: "postgres", DBHost: "db", DBPort: "5432", DBName: "stitchery"})
	require.NoError(t, err)
	assert.Equal(t, "postgres", pg.Name())

	lite, err := Dialect(config.Config{DBType: "sqlite", DBName: "local"})
	require.NoError(t, err)
	assert.Equal(t, "sqlite", lite.Name())
}

func TestForUpdateOnlyOnPostgres(t *testing.T) {
	pg, err := Dialect(config.Config{DBType: "postgres"})
	require.NoError(t, err)
	assert.Equal(t, " FOR UPDATE", ForUpdate(&gorm.DB{Config: &gorm.Config{Dialector: pg}}))

	lite, err := Dialect(config.Config{DBType: "sqlite"})
	require.NoError(t, err)
	assert.Empty(t, ForUpdate(&gorm.DB{Config: &gorm.Config{Dialector: lite}}))
	assert.Empty(t, ForUpdate(nil))
}
