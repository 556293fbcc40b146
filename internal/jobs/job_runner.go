package jobs

import (
	"libcirc-backend/internal/config"
	"libcirc-backend/internal/events"
	"libcirc-backend/internal/logger"
	"libcirc-backend/internal/repository"
)

// JobRunner coordinates all scheduled sweeps. Sweeps run outside the
// synchronous service contract; the request path never expires or
// flags anything itself.
type JobRunner struct {
	reservationRepo repository.ReservationRepository
	publisher       events.Publisher
	config          *config.Config
}

// NewJobRunner creates a new job runner with all dependencies
func NewJobRunner(reservationRepo repository.ReservationRepository, publisher events.Publisher, cfg *config.Config) *JobRunner {
	return &JobRunner{
		reservationRepo: reservationRepo,
		publisher:       publisher,
		config:          cfg,
	}
}

func (jr *JobRunner) Config() *config.Config {
	return jr.config
}

// runWithRecovery wraps job execution with panic recovery
func (jr *JobRunner) runWithRecovery(jobName string, jobFunc func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Job panicked", "job", jobName, "panic", r)
		}
	}()

	logger.Info("Starting job", "job", jobName)
	jobFunc()
	logger.Info("Job completed", "job", jobName)
}

// RunAllNightlyJobs runs all nightly jobs (for manual execution)
func (jr *JobRunner) RunAllNightlyJobs() {
	jr.ExpireStalePendingReservations()
	jr.MarkOverdueLoans()
}
