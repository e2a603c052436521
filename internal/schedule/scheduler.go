package schedule

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job is a unit of scheduled work.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// CronScheduler runs jobs on cron specs. A job still running when its
// next slot fires is skipped, not overlapped.
type CronScheduler struct {
	cron    *cron.Cron
	entries map[string]cron.EntryID
	ctx     context.Context
	logger  *zap.Logger
}

// NewCronScheduler creates a scheduler using the standard five-field
// cron format.
func NewCronScheduler(logger *zap.Logger) *CronScheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return &CronScheduler{
		cron:    cron.New(cron.WithParser(parser)),
		entries: make(map[string]cron.EntryID),
		logger:  logger,
	}
}

// AddJob schedules a job on the given spec.
func (c *CronScheduler) AddJob(job Job, spec string) error {
	log := c.logger.With(zap.String("job", job.Name()), zap.String("spec", spec))
	entryID, err := c.cron.AddFunc(spec, c.wrap(job))
	if err != nil {
		log.Error("failed to schedule job", zap.Error(err))
		return err
	}
	c.entries[job.Name()] = entryID
	log.Info("job scheduled")
	return nil
}

// Start begins dispatching jobs.
func (c *CronScheduler) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	c.ctx = ctx
	c.cron.Start()
}

// Stop halts dispatch and waits for running jobs to finish.
func (c *CronScheduler) Stop() {
	ctx := c.cron.Stop()
	<-ctx.Done()
}

func (c *CronScheduler) wrap(job Job) func() {
	var running atomic.Bool
	return func() {
		if !running.CompareAndSwap(false, true) {
			c.logger.Info("job skipped: still running", zap.String("job", job.Name()))
			return
		}
		defer running.Store(false)

		ctx := c.ctx
		if ctx == nil {
			ctx = context.Background()
		}

		log := c.logger.With(zap.String("job", job.Name()))
		start := time.Now()
		if err := job.Run(ctx); err != nil {
			log.Error("job failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
			return
		}
		log.Debug("job finished", zap.Duration("duration", time.Since(start)))
	}
}
