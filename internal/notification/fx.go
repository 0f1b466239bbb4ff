package notification

import (
	"context"

	notificationdomain "github.com/smallbiznis/stitchery/internal/notification/domain"
	"github.com/smallbiznis/stitchery/internal/notification/service"
	"go.uber.org/fx"
)

var Module = fx.Module("notification.service",
	fx.Provide(service.NewDispatcher),
	fx.Provide(func(d *service.Dispatcher) notificationdomain.Notifier { return d }),
	fx.Invoke(registerLifecycle),
)

func registerLifecycle(lc fx.Lifecycle, d *service.Dispatcher) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			d.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return d.Stop(ctx)
		},
	})
}
