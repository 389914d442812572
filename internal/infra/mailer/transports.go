package mailer

import (
	"context"
	"fmt"

	"reading_group_scheduler/internal/domain/mail"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// RateLimited caps the send rate of the wrapped transport across all dispatch goroutines.
type RateLimited struct {
	next    mail.Transport
	limiter *rate.Limiter
}

// NewRateLimited wraps next with a limiter of rps sends per second. A non-positive rps
// disables limiting.
func NewRateLimited(next mail.Transport, rps int) *RateLimited {
	lim := rate.NewLimiter(rate.Inf, 0)
	if rps > 0 {
		lim = rate.NewLimiter(rate.Limit(rps), rps)
	}
	return &RateLimited{next: next, limiter: lim}
}

func (t *RateLimited) Send(ctx context.Context, to mail.Recipient, msg mail.Message) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	return t.next.Send(ctx, to, msg)
}

// LogTransport writes messages to the log instead of sending them. It is used when no SMTP
// relay is configured.
type LogTransport struct {
	logger *logrus.Entry
}

func NewLogTransport(logger *logrus.Entry) *LogTransport {
	return &LogTransport{logger: logger.WithField("component", "mail_log")}
}

func (t *LogTransport) Send(_ context.Context, to mail.Recipient, msg mail.Message) error {
	t.logger.WithFields(logrus.Fields{
		"member_id": to.MemberID,
		"email":     to.Email,
		"subject":   msg.Subject,
	}).Info("Email not sent: no SMTP relay configured")
	return nil
}
