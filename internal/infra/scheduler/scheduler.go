package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"reading_group_scheduler/internal/app"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// PassRunner is the periodic job driven by the scheduler.
type PassRunner interface {
	Run(ctx context.Context) app.RunReport
}

// CohortScheduler runs the cohort scheduler pass on a cron spec and once at start.
type CohortScheduler struct {
	cronEngine  *cron.Cron
	job         PassRunner
	logger      *logrus.Entry
	cronSpec    string
	runOnStart  bool
	passTimeout time.Duration

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewCohortScheduler(job PassRunner, logger *logrus.Entry, cronSpec string, runOnStart bool, passTimeout time.Duration) *CohortScheduler {
	logger = logger.WithField("component", "scheduler")
	ctx, cancel := context.WithCancel(context.Background())
	return &CohortScheduler{
		// All cohort dates are UTC calendar days, so the trigger is evaluated in UTC as well.
		cronEngine: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(logger))),
		),
		job:         job,
		logger:      logger,
		cronSpec:    cronSpec,
		runOnStart:  runOnStart,
		passTimeout: passTimeout,
		baseCtx:     ctx,
		cancel:      cancel,
	}
}

// Start registers the cron job and starts the engine. An invalid spec is returned as an error.
func (s *CohortScheduler) Start() error {
	s.logger.Info("Starting cohort scheduler...")

	_, err := s.cronEngine.AddFunc(s.cronSpec, func() {
		s.logger.Info("Cron job triggered for scheduler pass.")
		s.runPass()
	})
	if err != nil {
		return fmt.Errorf("could not add scheduler cron job %q: %w", s.cronSpec, err)
	}

	s.cronEngine.Start()
	if s.runOnStart {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.logger.Info("Running startup scheduler pass.")
			s.runPass()
		}()
	}
	s.logger.WithField("spec", s.cronSpec).Info("Cohort scheduler started.")
	return nil
}

func (s *CohortScheduler) runPass() app.RunReport {
	ctx, cancel := context.WithTimeout(s.baseCtx, s.passTimeout)
	defer cancel()
	return s.job.Run(ctx)
}

// RunNow runs a pass immediately, bounded by the pass timeout and ctx.
func (s *CohortScheduler) RunNow(ctx context.Context) app.RunReport {
	ctx, cancel := context.WithTimeout(ctx, s.passTimeout)
	defer cancel()
	return s.job.Run(ctx)
}

// Stop stops the cron engine, cancels running passes and waits for them to return.
func (s *CohortScheduler) Stop() {
	s.logger.Info("Stopping cohort scheduler...")
	ctx := s.cronEngine.Stop() // Stops the scheduler from adding new jobs, waits for running jobs.
	s.cancel()
	<-ctx.Done()
	s.wg.Wait()
	s.logger.Info("Cohort scheduler gracefully stopped.")
}
