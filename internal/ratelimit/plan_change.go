package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/contractbilling/internal/config"
)

const keyPlanChangeOrg = "planchange:submit:org:%s"

// PlanChangeLimiter throttles plan change submissions per organization.
// A nil or disabled limiter allows everything.
type PlanChangeLimiter struct {
	enabled bool
	bucket  *TokenBucket
	rate    float64
	burst   int
}

func NewPlanChangeLimiter(cfg config.Config, client *redis.Client) (*PlanChangeLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}
	if client == nil {
		return nil, errors.New("rate limit requires REDIS_ADDR")
	}
	if limitCfg.PlanChangeRate <= 0 || limitCfg.PlanChangeBurst <= 0 {
		return nil, errors.New("plan change rate limit must be positive")
	}

	return &PlanChangeLimiter{
		enabled: true,
		bucket:  NewTokenBucket(client),
		rate:    limitCfg.PlanChangeRate,
		burst:   limitCfg.PlanChangeBurst,
	}, nil
}

func (l *PlanChangeLimiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *PlanChangeLimiter) AllowSubmit(ctx context.Context, orgID string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyPlanChangeOrg, strings.TrimSpace(orgID)), l.rate, l.burst)
}
