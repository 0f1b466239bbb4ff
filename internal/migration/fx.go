package migration

import (
	"fmt"

	"github.com/smallbiznis/stitchery/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(Migrate),
)

// Migrate brings the schema up to date for the configured dialect.
func Migrate(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
	switch cfg.DBType {
	case "postgres":
	case "sqlite":
		log.Info("applying embedded schema", zap.String("dialect", cfg.DBType))
		return ApplyStatements(conn)
	default:
		return fmt.Errorf("migrations are not supported for %s", cfg.DBType)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	if err := RunMigrations(sqlDB); err != nil {
		return err
	}
	log.Info("migrations applied")
	return nil
}
