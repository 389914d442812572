package app

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Step names, also used as metric labels.
const (
	StepTransitions  = "transitions"
	StepEnsureCohort = "ensure_next_cohort"
	StepWelcome      = "welcome"
	StepReminders    = "invitation_reminders"
)

// StepResult is the outcome of one scheduler step.
type StepResult struct {
	Name     string
	Err      error
	Duration time.Duration
}

// RunReport lists the step results of one scheduler pass, in execution order.
type RunReport struct {
	RunID string
	Steps []StepResult
}

// Failed returns the steps that ended with an error.
func (r RunReport) Failed() []StepResult {
	var out []StepResult
	for _, s := range r.Steps {
		if s.Err != nil {
			out = append(out, s)
		}
	}
	return out
}

// SchedulerJob is the periodic pass over cohort lifecycle and notifications. Each step runs
// even when an earlier one failed.
type SchedulerJob struct {
	lifecycle     *LifecycleService
	notifications *NotificationService
	logger        *logrus.Entry
	metrics       Recorder

	mu sync.Mutex // one pass at a time
}

func NewSchedulerJob(lifecycle *LifecycleService, notifications *NotificationService, logger *logrus.Entry, metrics Recorder) *SchedulerJob {
	if metrics == nil {
		metrics = nopRecorder{}
	}
	return &SchedulerJob{
		lifecycle:     lifecycle,
		notifications: notifications,
		logger:        logger.WithField("component", "scheduler_job"),
		metrics:       metrics,
	}
}

// Run executes one full pass.
func (j *SchedulerJob) Run(ctx context.Context) RunReport {
	j.mu.Lock()
	defer j.mu.Unlock()

	report := RunReport{RunID: uuid.NewString()}
	logger := j.logger.WithField("run_id", report.RunID)
	logger.Info("Scheduler pass started")
	started := time.Now()

	report.Steps = append(report.Steps,
		j.runStep(ctx, logger, StepTransitions, j.transitions),
		j.runStep(ctx, logger, StepEnsureCohort, j.ensureCohort),
		j.runStep(ctx, logger, StepWelcome, j.welcome),
		j.runStep(ctx, logger, StepReminders, j.reminders),
	)

	fields := logrus.Fields{"duration": time.Since(started).String(), "failed_steps": len(report.Failed())}
	if len(report.Failed()) > 0 {
		logger.WithFields(fields).Warn("Scheduler pass finished with failures")
	} else {
		logger.WithFields(fields).Info("Scheduler pass finished")
	}
	return report
}

func (j *SchedulerJob) runStep(ctx context.Context, logger *logrus.Entry, name string, fn func(context.Context, *logrus.Entry) error) (res StepResult) {
	res.Name = name
	started := time.Now()
	stepLog := logger.WithField("step", name)
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("panic in step %s: %v", name, r)
			stepLog.WithField("stack", string(debug.Stack())).Errorf("Scheduler step panicked: %v", r)
		}
		res.Duration = time.Since(started)
		j.metrics.StepFinished(name, res.Err)
	}()

	if err := fn(ctx, stepLog); err != nil {
		res.Err = err
		stepLog.WithError(err).Error("Scheduler step failed")
		return res
	}
	stepLog.Debug("Scheduler step completed")
	return res
}

func (j *SchedulerJob) transitions(ctx context.Context, _ *logrus.Entry) error {
	_, err := j.lifecycle.RunTransitions(ctx)
	return err
}

func (j *SchedulerJob) ensureCohort(ctx context.Context, logger *logrus.Entry) error {
	open, err := j.lifecycle.GetCurrentOpenCohort(ctx)
	if err != nil {
		return err
	}
	if open == nil {
		created, err := j.lifecycle.EnsureNextCohortExists(ctx)
		if err != nil {
			return err
		}
		if created != nil {
			logger.WithField("cohort_id", created.ID).Info("Next cohort created")
		}
		if open, err = j.lifecycle.GetCurrentOpenCohort(ctx); err != nil {
			return err
		}
	}
	if open == nil {
		return nil
	}

	active, err := j.lifecycle.HasActiveCohort(ctx)
	if err != nil {
		return err
	}
	if !active {
		// The next cohort may already be due to start.
		_, err = j.lifecycle.RunTransitions(ctx)
	}
	return err
}

func (j *SchedulerJob) welcome(ctx context.Context, _ *logrus.Entry) error {
	_, err := j.notifications.RunWelcomePass(ctx)
	return err
}

func (j *SchedulerJob) reminders(ctx context.Context, _ *logrus.Entry) error {
	_, err := j.notifications.RunReminderPass(ctx)
	return err
}
