package db

import (
	"errors"
	"fmt"

	"github.com/smallbiznis/stitchery/internal/config"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// ErrUnsupportedDialect is returned for any DATABASE_TYPE other than postgres
// or sqlite. Repositories rely on INSERT ... ON CONFLICT and the migrations
// are written for postgres.
var ErrUnsupportedDialect = errors.New("unsupported database type: use postgres or sqlite")

func Dialect(cfg config.Config) (gorm.Dialector, error) {
	switch cfg.DBType {
	case "postgres":
		return postgres.Open(DSN(cfg)), nil
	case "sqlite":
		name := cfg.DBName
		if name == "" {
			name = "stitchery"
		}
		return sqlite.Open(name + ".db"), nil
	default:
		return nil, fmt.Errorf("%w (got %q)", ErrUnsupportedDialect, cfg.DBType)
	}
}

// DSN renders the postgres connection string.
func DSN(cfg config.Config) string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		cfg.DBHost,
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBName,
		cfg.DBPort,
		cfg.DBSSLMode,
	)
}

// ForUpdate returns the row lock suffix for raw SELECT statements.
// SQLite serializes writers for the whole database, so no suffix is needed there.
func ForUpdate(tx *gorm.DB) string {
	if tx == nil || tx.Dialector == nil {
		return ""
	}
	switch tx.Dialector.Name() {
	case "postgres":
		return " FOR UPDATE"
	default:
		return ""
	}
}
