package design

import (
	"github.com/smallbiznis/stitchery/internal/design/repository"
	"github.com/smallbiznis/stitchery/internal/design/service"
	"go.uber.org/fx"
)

var Module = fx.Module("design.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
