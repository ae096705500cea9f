// Package maintenance runs the periodic housekeeping jobs of the engine:
// catalog snapshot expiry and outbox table cleanup.
package maintenance

import (
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
)

// Job is a named housekeeping task.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func() error
}

// Scheduler wraps gocron and runs registered jobs at their intervals.
type Scheduler struct {
	scheduler *gocron.Scheduler
	jobs      []Job
	logger    *zap.Logger
}

// NewScheduler creates an empty scheduler.
func NewScheduler(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		logger:    logger,
	}
}

// Register adds a job. Must be called before Start.
func (s *Scheduler) Register(job Job) {
	s.jobs = append(s.jobs, job)
}

// Start schedules every registered job and begins running them async.
func (s *Scheduler) Start() error {
	for _, job := range s.jobs {
		job := job
		_, err := s.scheduler.Every(job.Interval).Do(func() {
			start := time.Now()
			if err := job.Run(); err != nil {
				s.logger.Error("maintenance job failed",
					zap.String("job", job.Name),
					zap.Error(err))
				return
			}
			s.logger.Debug("maintenance job completed",
				zap.String("job", job.Name),
				zap.Duration("duration", time.Since(start)))
		})
		if err != nil {
			return fmt.Errorf("schedule %s: %w", job.Name, err)
		}
	}

	s.scheduler.StartAsync()
	s.logger.Info("maintenance scheduler started", zap.Int("jobs", len(s.jobs)))
	return nil
}

// Stop stops the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	s.scheduler.Stop()
	s.logger.Info("maintenance scheduler stopped")
}
