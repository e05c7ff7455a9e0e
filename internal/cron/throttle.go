package cron

import (
	"context"
	"errors"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/storefront/storefront-backend/pkg/db/models"
)

// ErrThrottled is returned by a job that ran too recently to run again.
var ErrThrottled = errors.New("job ran within its throttle interval")

// JobRunThrottle persists the last start of each job in job_runs so the
// interval holds across restarts and replicas.
type JobRunThrottle struct {
	db     *gorm.DB
	now    func() time.Time
	seeded sync.Map
}

func NewJobRunThrottle(db *gorm.DB) *JobRunThrottle {
	return &JobRunThrottle{db: db, now: time.Now}
}

// Seed creates the job_runs row for each name if it is missing. Binaries call
// it at startup; Claim falls back to it once per name otherwise.
func (t *JobRunThrottle) Seed(ctx context.Context, names ...string) error {
	for _, name := range names {
		seed := models.JobRun{Name: name, LastRunAt: time.Unix(0, 0).UTC()}
		err := t.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error
		if err != nil {
			return err
		}
		t.seeded.Store(name, struct{}{})
	}
	return nil
}

// Claim records a run of name when the previous one started at least
// interval ago. The conditional update lets exactly one concurrent caller win.
func (t *JobRunThrottle) Claim(ctx context.Context, name string, interval time.Duration) (bool, error) {
	if _, ok := t.seeded.Load(name); !ok {
		if err := t.Seed(ctx, name); err != nil {
			return false, err
		}
	}
	now := t.now().UTC()
	res := t.db.WithContext(ctx).Model(&models.JobRun{}).
		Where("name = ? AND last_run_at <= ?", name, now.Add(-interval)).
		Updates(map[string]any{"last_run_at": now, "updated_at": now})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// LastRun returns when name last claimed a run, zero if never.
func (t *JobRunThrottle) LastRun(ctx context.Context, name string) (time.Time, error) {
	var run models.JobRun
	err := t.db.WithContext(ctx).Where("name = ?", name).First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	if run.LastRunAt.Equal(time.Unix(0, 0)) {
		return time.Time{}, nil
	}
	return run.LastRunAt, nil
}
