package audit

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cloudbro-ops/runguard/pkg/log"
)

// RetentionJob prunes stored entries past their retention window on a daily
// schedule. The JSON-lines file is append-only and never pruned; retention
// applies to the database only.
type RetentionJob struct {
	store *Store
	days  int
	cron  *cron.Cron
}

// StartRetention begins daily sweeps and runs the first one immediately, so
// an installation that was stopped for a while catches up on startup. A nil
// store or non-positive retention disables pruning and returns nil.
func StartRetention(store *Store, days int) *RetentionJob {
	if store == nil || days <= 0 {
		return nil
	}

	job := &RetentionJob{store: store, days: days, cron: cron.New()}
	if _, err := job.cron.AddFunc("@daily", job.sweep); err != nil {
		log.Errorf("Scheduling audit retention failed: %v", err)
		return nil
	}

	go job.sweep()
	job.cron.Start()
	return job
}

func (j *RetentionJob) sweep() {
	cutoff := time.Now().AddDate(0, 0, -j.days)
	purged, err := j.store.Purge(cutoff)
	if err != nil {
		log.Errorf("Audit retention sweep failed: %v", err)
		return
	}
	if purged > 0 {
		log.Infof("Audit retention removed %d entries older than %d days", purged, j.days)
	}
}

// Stop halts future sweeps. Safe to call on a nil job.
func (j *RetentionJob) Stop() {
	if j == nil {
		return
	}
	j.cron.Stop()
}
