// Package mailer provides the outbound email transports.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"reading_group_scheduler/internal/domain/mail"

	"github.com/sirupsen/logrus"
	gomail "github.com/wneessen/go-mail"
)

const defaultSMTPTimeout = 30 * time.Second

// SMTPConfig describes the relay used for member emails.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// SMTPTransport delivers one message per connection to an SMTP relay. Rejections the relay
// reports as permanent are returned as mail.PermanentError.
type SMTPTransport struct {
	cfg    SMTPConfig
	opts   []gomail.Option
	logger *logrus.Entry
}

func NewSMTPTransport(cfg SMTPConfig, logger *logrus.Entry) (*SMTPTransport, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSMTPTimeout
	}
	if err := gomail.NewMsg().From(cfg.From); err != nil {
		return nil, fmt.Errorf("invalid sender address %q: %w", cfg.From, err)
	}

	opts := []gomail.Option{
		gomail.WithPort(cfg.Port),
		gomail.WithTimeout(cfg.Timeout),
		gomail.WithTLSPolicy(gomail.TLSOpportunistic),
	}
	if cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.Username),
			gomail.WithPassword(cfg.Password),
		)
	}
	return &SMTPTransport{cfg: cfg, opts: opts, logger: logger.WithField("component", "smtp")}, nil
}

func (t *SMTPTransport) Send(ctx context.Context, to mail.Recipient, msg mail.Message) error {
	m, err := buildMessage(t.cfg.From, to, msg, time.Now())
	if err != nil {
		return err
	}

	client, err := gomail.NewClient(t.cfg.Host, t.opts...)
	if err != nil {
		return fmt.Errorf("failed to configure smtp client: %w", err)
	}
	if err := client.DialWithContext(ctx); err != nil {
		return fmt.Errorf("failed to connect to smtp relay %s:%d: %w", t.cfg.Host, t.cfg.Port, err)
	}
	if err := client.Send(m); err != nil {
		_ = client.Close()
		return classify(err)
	}
	// The relay accepted the message; a failed QUIT does not undo that.
	if err := client.Close(); err != nil {
		t.logger.WithError(err).WithField("email", to.Email).Debug("SMTP session did not close cleanly after delivery")
	}
	return nil
}

// classify wraps rejections of the envelope or the message body that the relay did not mark
// as temporary.
func classify(err error) error {
	var sendErr *gomail.SendError
	if !errors.As(err, &sendErr) || sendErr.IsTemp() {
		return err
	}
	switch sendErr.Reason {
	case gomail.ErrSMTPMailFrom, gomail.ErrSMTPRcptTo, gomail.ErrSMTPData, gomail.ErrSMTPDataClose:
		return &mail.PermanentError{Err: err}
	}
	return err
}

// buildMessage renders a plain-text message. A recipient address the message cannot carry is
// a permanent failure.
func buildMessage(from string, to mail.Recipient, msg mail.Message, now time.Time) (*gomail.Msg, error) {
	m := gomail.NewMsg()
	if err := m.From(from); err != nil {
		return nil, fmt.Errorf("invalid sender address %q: %w", from, err)
	}
	if err := m.AddToFormat(to.Name, to.Email); err != nil {
		return nil, &mail.PermanentError{Err: fmt.Errorf("invalid recipient address %q: %w", to.Email, err)}
	}
	m.Subject(msg.Subject)
	m.SetDateWithValue(now)
	m.SetMessageID()
	m.SetBodyString(gomail.TypeTextPlain, msg.Body)
	return m, nil
}
