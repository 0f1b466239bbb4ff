package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stitchery/internal/config"
	obsmetrics "github.com/smallbiznis/stitchery/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const keyGenerationUser = "generation:user:%s"

// ErrRateLimited is returned when a caller exhausted its quota.
var ErrRateLimited = errors.New("rate_limited")

// GenerationLimiter caps image generations per user per minute.
type GenerationLimiter struct {
	bucket     *TokenBucket
	economy    *config.EconomyHolder
	log        *zap.Logger
	obsMetrics *obsmetrics.Metrics
}

type GenerationLimiterParams struct {
	fx.In

	Bucket     *TokenBucket `optional:"true"`
	Economy    *config.EconomyHolder
	Log        *zap.Logger
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

func NewGenerationLimiter(p GenerationLimiterParams) *GenerationLimiter {
	return &GenerationLimiter{
		bucket:     p.Bucket,
		economy:    p.Economy,
		log:        p.Log.Named("ratelimit.generation"),
		obsMetrics: p.ObsMetrics,
	}
}

// Allow consumes one generation slot for userID. Without redis, or with a
// non-positive rate, every call is allowed. Redis failures fail open.
func (l *GenerationLimiter) Allow(ctx context.Context, userID snowflake.ID) error {
	if l == nil || l.bucket == nil {
		return nil
	}
	perMinute := l.economy.Get().GenerationRatePerMinute
	if perMinute <= 0 {
		return nil
	}

	res, err := l.bucket.Take(ctx, fmt.Sprintf(keyGenerationUser, userID), Rule{Limit: perMinute, Window: time.Minute})
	if err != nil {
		l.log.Warn("generation rate limit check failed", zap.String("user_id", userID.String()), zap.Error(err))
		return nil
	}
	if !res.Allowed {
		l.obsMetrics.RecordRateLimitDenied(ctx, "generation")
		return fmt.Errorf("%w: retry after %s", ErrRateLimited, res.RetryAfter.Round(time.Second))
	}
	return nil
}
