package mix

import (
	"context"
	"time"

	"mixfm/core/staging"
	"mixfm/logger"
	"mixfm/repository"
)

// reapBatch bounds the records cleaned per tick so a backlog cannot stall
// a tick indefinitely.
const reapBatch = 200

// Reaper removes expired ephemeral artifacts: the staged file first, then
// the record, so a crash between the two leaves only a harmless stale row.
// It also prunes staging orphans left behind by crashed requests.
type Reaper struct {
	mixes     repository.MixRepository
	staging   *staging.Store
	interval  time.Duration
	orphanAge time.Duration
}

func NewReaper(mixes repository.MixRepository, stagingStore *staging.Store, interval, orphanAge time.Duration) *Reaper {
	return &Reaper{
		mixes:     mixes,
		staging:   stagingStore,
		interval:  interval,
		orphanAge: orphanAge,
	}
}

// Run blocks until stop is closed, sweeping on every tick.
func (r *Reaper) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.Sweep(context.Background())
		}
	}
}

// Sweep performs one reaping pass.
func (r *Reaper) Sweep(ctx context.Context) {
	now := time.Now()
	expired, err := r.mixes.GetExpired(ctx, now, reapBatch)
	if err != nil {
		logger.Error("failed to list expired mixes", logger.ErrorField(err))
	} else {
		for _, rec := range expired {
			if rec.StagedToken != "" {
				r.staging.DeleteToken(rec.StagedToken)
			}
			if err := r.mixes.Delete(ctx, rec.ID); err != nil {
				logger.Error("failed to delete expired mix record",
					logger.Int64("mixId", rec.ID),
					logger.ErrorField(err))
				continue
			}
			logger.Debug("reaped expired mix",
				logger.Int64("mixId", rec.ID),
				logger.Int64("userId", rec.UserID))
		}
	}

	r.staging.PruneOlderThan(r.orphanAge)
}
