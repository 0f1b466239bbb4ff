package scheduler

import (
	"context"
	"time"

	obscontext "github.com/smallbiznis/stitchery/internal/observability/context"
	obslogger "github.com/smallbiznis/stitchery/internal/observability/logger"
	"go.uber.org/zap"
)

// run tracks one execution of a job. It rides on the job's context so the
// job body can count work without threading it through every call.
type run struct {
	job       string
	id        string
	batch     int
	started   time.Time
	processed int
	failed    int
}

type runKey struct{}

func (r *run) done(n int) {
	if r != nil && n > 0 {
		r.processed += n
	}
}

func (r *run) fail() {
	if r != nil {
		r.failed++
	}
}

func runFrom(ctx context.Context) *run {
	r, _ := ctx.Value(runKey{}).(*run)
	return r
}

// begin tags ctx with a fresh run id, used as the request id of every log
// line and query the job produces.
func (s *Scheduler) begin(ctx context.Context, job string, batch int) (context.Context, *run) {
	r := &run{
		job:     job,
		id:      s.genID.Generate().String(),
		batch:   batch,
		started: s.clock.Now(),
	}
	ctx = context.WithValue(ctx, runKey{}, r)
	ctx = obscontext.WithRequestID(ctx, r.id)
	ctx = obscontext.WithActor(ctx, "system", "scheduler")
	return ctx, r
}

func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

func (s *Scheduler) logFinish(ctx context.Context, r *run) {
	fields := []zap.Field{
		zap.String("job", r.job),
		zap.String("run_id", r.id),
		zap.Int("batch_size", r.batch),
		zap.Duration("elapsed", s.clock.Now().Sub(r.started)),
		zap.Int("processed_count", r.processed),
		zap.Int("error_count", r.failed),
	}
	if r.failed > 0 {
		s.logger(ctx).Warn("scheduler.job.finish", fields...)
		return
	}
	s.logger(ctx).Info("scheduler.job.finish", fields...)
}

// jobError logs err and marks the current run as failed without stopping it.
func (s *Scheduler) jobError(ctx context.Context, msg string, err error, fields ...zap.Field) {
	runFrom(ctx).fail()
	s.logger(ctx).Error(msg, append(fields, zap.Error(err))...)
}
