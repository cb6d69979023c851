package fleet

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Job is one recurring maintenance task.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler runs each job on its own ticker until the context is cancelled.
// Jobs guard themselves against overlap; the scheduler only provides cadence.
type Scheduler struct {
	logger zerolog.Logger
	jobs   []Job
	wg     sync.WaitGroup
}

func NewScheduler(logger zerolog.Logger, jobs ...Job) *Scheduler {
	return &Scheduler{
		logger: logger.With().Str("component", "scheduler").Logger(),
		jobs:   jobs,
	}
}

// Start launches one goroutine per job and returns. Jobs with a non-positive
// interval are disabled.
func (s *Scheduler) Start(ctx context.Context) {
	for _, job := range s.jobs {
		if job.Interval <= 0 {
			s.logger.Warn().Str("job", job.Name).Msg("job disabled, non-positive interval")
			continue
		}
		s.wg.Add(1)
		go s.runJob(ctx, job)
	}
}

// Wait blocks until all job loops have exited after context cancellation.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) runJob(ctx context.Context, job Job) {
	defer s.wg.Done()

	s.logger.Info().Str("job", job.Name).Dur("interval", job.Interval).Msg("job scheduled")
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := job.Run(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error().Err(err).Str("job", job.Name).Msg("job run failed")
			}
		}
	}
}
