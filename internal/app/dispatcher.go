package app

import (
	"context"
	"sync"
	"time"

	"reading_group_scheduler/internal/domain/mail"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const defaultBatchSize = 10

// DispatcherConfig bounds outbound email concurrency.
type DispatcherConfig struct {
	BatchSize  int
	BatchDelay time.Duration
}

// DispatchReport summarizes one batch run over a recipient list.
type DispatchReport struct {
	Total   int
	Sent    int
	Failed  int
	Skipped int
}

// Add accumulates another report into r.
func (r *DispatchReport) Add(o DispatchReport) {
	r.Total += o.Total
	r.Sent += o.Sent
	r.Failed += o.Failed
	r.Skipped += o.Skipped
}

// Dispatcher sends one email per recipient in fixed-size concurrent batches with a pause
// between batches. A failed send never stops the remaining recipients.
type Dispatcher struct {
	transport mail.Transport
	health    mail.Health
	cfg       DispatcherConfig
	logger    *logrus.Entry
	metrics   Recorder
}

func NewDispatcher(transport mail.Transport, health mail.Health, cfg DispatcherConfig, logger *logrus.Entry, metrics Recorder) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.BatchDelay < 0 {
		cfg.BatchDelay = 0
	}
	if metrics == nil {
		metrics = nopRecorder{}
	}
	return &Dispatcher{
		transport: transport,
		health:    health,
		cfg:       cfg,
		logger:    logger.WithField("component", "dispatcher"),
		metrics:   metrics,
	}
}

// Dispatch renders and sends a message to every recipient.
func (d *Dispatcher) Dispatch(ctx context.Context, recipients []mail.Recipient, compose func(mail.Recipient) mail.Message) DispatchReport {
	report := DispatchReport{Total: len(recipients)}
	var mu sync.Mutex
	count := func(outcome string) {
		mu.Lock()
		switch outcome {
		case "sent":
			report.Sent++
		case "failed":
			report.Failed++
		case "skipped":
			report.Skipped++
		}
		mu.Unlock()
		d.metrics.EmailOutcome(outcome)
	}

	for start := 0; start < len(recipients); start += d.cfg.BatchSize {
		if start > 0 && d.cfg.BatchDelay > 0 {
			if err := sleepContext(ctx, d.cfg.BatchDelay); err != nil {
				remaining := len(recipients) - start
				d.logger.WithError(err).WithField("remaining", remaining).Warn("Dispatch interrupted between batches")
				mu.Lock()
				report.Failed += remaining
				mu.Unlock()
				break
			}
		}
		end := start + d.cfg.BatchSize
		if end > len(recipients) {
			end = len(recipients)
		}

		var g errgroup.Group
		g.SetLimit(d.cfg.BatchSize)
		for _, r := range recipients[start:end] {
			g.Go(func() error {
				count(d.sendOne(ctx, r, compose))
				return nil
			})
		}
		_ = g.Wait()
	}

	fields := logrus.Fields{
		"total":   report.Total,
		"sent":    report.Sent,
		"failed":  report.Failed,
		"skipped": report.Skipped,
	}
	if report.Failed > 0 {
		d.logger.WithFields(fields).Warn("Dispatch finished with failures")
	} else {
		d.logger.WithFields(fields).Info("Dispatch finished")
	}
	return report
}

func (d *Dispatcher) sendOne(ctx context.Context, r mail.Recipient, compose func(mail.Recipient) mail.Message) string {
	logger := d.logger.WithFields(logrus.Fields{"member_id": r.MemberID, "email": r.Email})

	if d.health != nil {
		skip, err := d.health.ShouldSkip(ctx, r.Email)
		if err != nil {
			logger.WithError(err).Warn("Email health lookup failed, sending anyway")
		} else if skip {
			logger.Debug("Skipping recipient with unhealthy email address")
			return "skipped"
		}
	}

	sendErr := d.transport.Send(ctx, r, compose(r))
	if d.health != nil {
		if err := d.health.RecordOutcome(ctx, r.Email, sendErr); err != nil {
			logger.WithError(err).Warn("Failed to record email outcome")
		}
	}
	if sendErr != nil {
		logger.WithError(sendErr).WithField("permanent", mail.IsPermanent(sendErr)).Error("Failed to send email")
		return "failed"
	}
	return "sent"
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
