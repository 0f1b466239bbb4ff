package marketmetrics

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/stitchery/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("market.metrics",
	fx.Provide(NewGauges),
	fx.Invoke(startWorker),
)

// Worker refreshes the gauges and pushes them on every tick.
type Worker struct {
	db       *gorm.DB
	gauges   *Gauges
	pusher   Pusher
	interval time.Duration
	log      *zap.Logger
}

func NewWorker(db *gorm.DB, gauges *Gauges, pusher Pusher, interval time.Duration, log *zap.Logger) *Worker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Worker{db: db, gauges: gauges, pusher: pusher, interval: interval, log: log.Named("marketmetrics")}
}

// PushOnce refreshes and pushes a single snapshot.
func (w *Worker) PushOnce(ctx context.Context) error {
	if err := w.gauges.Refresh(ctx, w.db); err != nil {
		return err
	}
	return w.pusher.Push(ctx, w.gauges.Registry())
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if err := w.PushOnce(ctx); err != nil && ctx.Err() == nil {
			w.log.Warn("metrics push failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func startWorker(lc fx.Lifecycle, cfg config.Config, db *gorm.DB, gauges *Gauges, log *zap.Logger) {
	pusher, err := NewPusher(cfg)
	if err != nil {
		if !errors.Is(err, ErrPushDisabled) {
			log.Warn("metrics push disabled", zap.Error(err))
		}
		return
	}

	worker := NewWorker(db, gauges, pusher, cfg.Push.Interval, log)
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go worker.Run(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
