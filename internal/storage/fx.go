package storage

import (
	"fmt"

	"github.com/smallbiznis/stitchery/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("storage",
	fx.Provide(New),
)

// New selects the backend named by STORAGE_DRIVER.
func New(cfg config.Config, log *zap.Logger) (Storage, error) {
	switch cfg.Storage.Driver {
	case "", "local":
		log.Info("using local storage", zap.String("root", cfg.Storage.LocalRoot))
		return NewLocal(cfg.Storage.LocalRoot)
	case "s3":
		log.Info("using s3 storage", zap.String("bucket", cfg.Storage.Bucket), zap.String("region", cfg.Storage.Region))
		return NewS3(cfg.Storage)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
	}
}
