package app

// Recorder receives counters from the services. infra/metrics provides the Prometheus
// implementation.
type Recorder interface {
	StepFinished(step string, err error)
	EnrollmentOutcome(outcome string)
	NotificationPosted(kind string)
	EmailOutcome(outcome string)
}

type nopRecorder struct{}

func (nopRecorder) StepFinished(string, error) {}
func (nopRecorder) EnrollmentOutcome(string) {}
func (nopRecorder) NotificationPosted(string) {}
func (nopRecorder) EmailOutcome(string) {}
