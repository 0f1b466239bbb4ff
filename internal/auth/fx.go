package auth

import (
	"github.com/smallbiznis/stitchery/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("auth",
	fx.Provide(func(cfg config.Config) (*Verifier, error) {
		return NewVerifier(cfg.AuthJWTSecret)
	}),
)
