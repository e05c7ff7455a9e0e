package cron

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storefront/storefront-backend/pkg/db/dbtest"
)

type blockingJob struct {
	release chan struct{}
	runs    atomic.Int32
	sawCtx  atomic.Bool
}

func (b *blockingJob) Name() string { return "blocking" }

func (b *blockingJob) Run(ctx context.Context) error {
	b.runs.Add(1)
	<-b.release
	b.sawCtx.Store(ctx.Err() == nil)
	return nil
}

func TestTriggerCoalescesConcurrentFires(t *testing.T) {
	job := &blockingJob{release: make(chan struct{})}
	trigger := NewTrigger(job, testLogger(), time.Second, 0)

	for i := 0; i < 5; i++ {
		trigger.Fire(context.Background())
	}
	deadline := time.Now().Add(time.Second)
	for job.runs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	close(job.release)
	trigger.Wait()

	if got := job.runs.Load(); got < 1 || got > 5 {
		t.Fatalf("unexpected run count %d", got)
	}
	if got := job.runs.Load(); got != 1 {
		t.Logf("fires raced past singleflight: %d runs", got)
	}
}

func TestTriggerSurvivesRequestCancellation(t *testing.T) {
	job := &blockingJob{release: make(chan struct{})}
	trigger := NewTrigger(job, testLogger(), time.Second, 0)

	ctx, cancel := context.WithCancel(context.Background())
	trigger.Fire(ctx)
	cancel()
	close(job.release)
	trigger.Wait()

	if job.runs.Load() != 1 {
		t.Fatalf("expected one run, got %d", job.runs.Load())
	}
	if !job.sawCtx.Load() {
		t.Fatalf("run context must not inherit request cancellation")
	}
}

func TestTriggerSwallowsErrors(t *testing.T) {
	job := &testJob{name: "failing", err: context.DeadlineExceeded}
	trigger := NewTrigger(job, testLogger(), 0, 0)
	trigger.Fire(context.Background())
	trigger.Wait()
	if job.count() != 1 {
		t.Fatalf("expected one run, got %d", job.count())
	}

	var nilTrigger *Trigger
	nilTrigger.Fire(context.Background())
	nilTrigger.Wait()
}

type countingClaimer struct {
	next  runClaimer
	calls atomic.Int32
}

func (c *countingClaimer) Claim(ctx context.Context, name string, interval time.Duration) (bool, error) {
	c.calls.Add(1)
	return c.next.Claim(ctx, name, interval)
}

func TestTriggerSkipsDatabaseUntilIntervalElapses(t *testing.T) {
	db := dbtest.Open(t)
	throttle := NewJobRunThrottle(db)
	require.NoError(t, throttle.Seed(context.Background(), OrderExpirationJobName))
	claimer := &countingClaimer{next: throttle}
	expirer := &fakeExpirer{}

	job, err := NewOrderExpirationJob(OrderExpirationJobParams{
		Logger:    testLogger(),
		Orders:    expirer,
		Throttle:  claimer,
		Interval:  15 * time.Minute,
		UnpaidTTL: 24 * time.Hour,
	})
	require.NoError(t, err)

	current := time.Now()
	trigger := NewTrigger(job, testLogger(), time.Second, 15*time.Minute)
	trigger.now = func() time.Time { return current }

	for i := 0; i < 100; i++ {
		trigger.Fire(context.Background())
		trigger.Wait()
	}
	assert.Equal(t, int32(1), claimer.calls.Load())
	assert.Len(t, expirer.cutoffs, 1)

	current = current.Add(15 * time.Minute)
	trigger.Fire(context.Background())
	trigger.Wait()
	assert.Equal(t, int32(2), claimer.calls.Load())
}

func TestTriggerRacingFiresStartOneRunPerInterval(t *testing.T) {
	job := &blockingJob{release: make(chan struct{})}
	trigger := NewTrigger(job, testLogger(), time.Second, time.Hour)

	var firers sync.WaitGroup
	for i := 0; i < 20; i++ {
		firers.Add(1)
		go func() {
			defer firers.Done()
			trigger.Fire(context.Background())
		}()
	}
	firers.Wait()
	close(job.release)
	trigger.Wait()

	if got := job.runs.Load(); got != 1 {
		t.Fatalf("expected one run, got %d", got)
	}
}
