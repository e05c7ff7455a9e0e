package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/storefront/storefront-backend/pkg/logger"
)

// OrderExpirationJobName is also the job_runs key of the sweep.
const OrderExpirationJobName = "order-expiration"

type unpaidOrderExpirer interface {
	ExpireUnpaidOrders(ctx context.Context, cutoff time.Time, note string) (int, error)
}

type runClaimer interface {
	Claim(ctx context.Context, name string, interval time.Duration) (bool, error)
}

// OrderExpirationJobParams configure the unpaid order sweep.
type OrderExpirationJobParams struct {
	Logger    *logger.Logger
	Orders    unpaidOrderExpirer
	Throttle  runClaimer
	Interval  time.Duration
	UnpaidTTL time.Duration
}

// NewOrderExpirationJob builds the sweep that cancels gateway orders left
// unpaid for longer than UnpaidTTL. With a throttle, it runs at most once per
// Interval no matter how often it is triggered.
func NewOrderExpirationJob(params OrderExpirationJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("order expirer required")
	}
	if params.UnpaidTTL <= 0 {
		return nil, fmt.Errorf("unpaid ttl must be positive")
	}
	if params.Throttle != nil && params.Interval <= 0 {
		return nil, fmt.Errorf("throttle interval must be positive")
	}
	return &orderExpirationJob{
		logg:      params.Logger,
		orders:    params.Orders,
		throttle:  params.Throttle,
		interval:  params.Interval,
		unpaidTTL: params.UnpaidTTL,
		now:       time.Now,
	}, nil
}

type orderExpirationJob struct {
	logg      *logger.Logger
	orders    unpaidOrderExpirer
	throttle  runClaimer
	interval  time.Duration
	unpaidTTL time.Duration
	now       func() time.Time
}

func (j *orderExpirationJob) Name() string { return OrderExpirationJobName }

func (j *orderExpirationJob) Run(ctx context.Context) error {
	if j.throttle != nil {
		claimed, err := j.throttle.Claim(ctx, OrderExpirationJobName, j.interval)
		if err != nil {
			return fmt.Errorf("claim sweep run: %w", err)
		}
		if !claimed {
			return ErrThrottled
		}
	}

	cutoff := j.now().UTC().Add(-j.unpaidTTL)
	note := fmt.Sprintf("Automatically cancelled: payment not received within %s", formatTTL(j.unpaidTTL))
	count, err := j.orders.ExpireUnpaidOrders(ctx, cutoff, note)
	if err != nil {
		return fmt.Errorf("expire unpaid orders: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{"count": count, "cutoff": cutoff})
	j.logg.Info(logCtx, "order expiration sweep complete")
	return nil
}

func formatTTL(d time.Duration) string {
	if d%time.Hour == 0 {
		return fmt.Sprintf("%dh", int(d/time.Hour))
	}
	return d.String()
}
