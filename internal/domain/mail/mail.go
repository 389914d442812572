// Package mail defines the outbound email collaborators used by the notification pipeline.
package mail

import (
	"context"
	"errors"
)

// Recipient is the addressee of one message.
type Recipient struct {
	MemberID int64
	Email    string
	Name     string
}

// Message is an already rendered plain-text email.
type Message struct {
	Subject string
	Body    string
}

// Transport delivers a single message.
type Transport interface {
	Send(ctx context.Context, to Recipient, msg Message) error
}

// Health tracks per-recipient delivery failures so that broken addresses are skipped.
type Health interface {
	ShouldSkip(ctx context.Context, email string) (bool, error)
	// RecordOutcome stores the result of a send; a nil sendErr is a success.
	RecordOutcome(ctx context.Context, email string, sendErr error) error
}

// PermanentError marks a delivery failure that will not succeed on retry, such as an SMTP
// 5xx reply for an unknown mailbox.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// IsPermanent reports whether err wraps a PermanentError.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
