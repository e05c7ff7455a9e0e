package cron

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/storefront/storefront-backend/pkg/logger"
)

const defaultTriggerTimeout = 2 * time.Minute

// Trigger runs a job opportunistically in the background, for example when
// API requests arrive. Concurrent fires coalesce into one run and the caller
// never waits for or sees the outcome.
//
// With a positive interval, a fire is dropped in process until interval has
// passed since the last accepted one, so steady traffic costs no goroutine
// and no database round trip. The job's own throttle still decides across
// instances.
type Trigger struct {
	job      Job
	logg     *logger.Logger
	timeout  time.Duration
	interval time.Duration
	now      func() time.Time
	nextAt   atomic.Int64
	group    singleflight.Group
	wg       sync.WaitGroup
}

func NewTrigger(job Job, logg *logger.Logger, timeout, interval time.Duration) *Trigger {
	if timeout <= 0 {
		timeout = defaultTriggerTimeout
	}
	return &Trigger{job: job, logg: logg, timeout: timeout, interval: interval, now: time.Now}
}

// Fire starts a run detached from ctx cancellation and returns immediately.
func (t *Trigger) Fire(ctx context.Context) {
	if t == nil || t.job == nil {
		return
	}
	if !t.due() {
		return
	}
	base := context.WithoutCancel(ctx)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		runCtx, cancel := context.WithTimeout(base, t.timeout)
		defer cancel()
		_, err, _ := t.group.Do(t.job.Name(), func() (any, error) {
			return nil, t.job.Run(runCtx)
		})
		if err == nil || errors.Is(err, ErrThrottled) || t.logg == nil {
			return
		}
		t.logg.Error(t.logg.WithJob(runCtx, t.job.Name()), "triggered job failed", err)
	}()
}

// due reports whether this fire may start a run and, if so, moves the next
// eligible time forward. Only one of several racing fires wins.
func (t *Trigger) due() bool {
	if t.interval <= 0 {
		return true
	}
	now := t.now().UnixNano()
	next := t.nextAt.Load()
	if now < next {
		return false
	}
	return t.nextAt.CompareAndSwap(next, now+int64(t.interval))
}

// Wait blocks until every fired run has finished.
func (t *Trigger) Wait() {
	if t == nil {
		return
	}
	t.wg.Wait()
}
