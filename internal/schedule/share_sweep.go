package schedule

import (
	"context"

	"github.com/bustickets/service-tracking/internal/application"
)

// ShareSweepJob runs the expired-share cleanup opportunistically so
// shares nobody revisits still get purged. Expiry stays lazy
// otherwise: it is only observable through access or this sweep.
type ShareSweepJob struct {
	Shares *application.ShareService
}

// Name implements Job.
func (j *ShareSweepJob) Name() string { return "share-sweep" }

// Run implements Job.
func (j *ShareSweepJob) Run(ctx context.Context) error {
	j.Shares.CleanupExpired(ctx)
	return nil
}
