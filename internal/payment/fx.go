package payment

import (
	"github.com/smallbiznis/stitchery/internal/payment/adapters/stripe"
	"github.com/smallbiznis/stitchery/internal/payment/repository"
	"github.com/smallbiznis/stitchery/internal/payment/service"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(stripe.Provide),
	fx.Provide(service.New),
)
