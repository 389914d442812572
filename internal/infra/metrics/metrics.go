// Package metrics exposes scheduler, enrollment and notification counters to Prometheus.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const namespace = "reading_group"

// Metrics implements app.Recorder on a private registry.
type Metrics struct {
	registry      *prometheus.Registry
	steps         *prometheus.CounterVec
	lastStepError *prometheus.GaugeVec
	enrollments   *prometheus.CounterVec
	notifications *prometheus.CounterVec
	emails        *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_steps_total",
			Help:      "Scheduler pass steps by step name and result.",
		}, []string{"step", "result"}),
		lastStepError: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduler_step_failed",
			Help:      "1 if the last run of the step failed.",
		}, []string{"step"}),
		enrollments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enrollments_total",
			Help:      "Enrollment attempts by outcome.",
		}, []string{"outcome"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_posted_total",
			Help:      "Notifications posted by kind.",
		}, []string{"kind"}),
		emails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "emails_total",
			Help:      "Email deliveries by outcome.",
		}, []string{"outcome"}),
	}
	m.registry.MustRegister(
		m.steps,
		m.lastStepError,
		m.enrollments,
		m.notifications,
		m.emails,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) StepFinished(step string, err error) {
	result := "ok"
	failed := 0.0
	if err != nil {
		result = "error"
		failed = 1
	}
	m.steps.WithLabelValues(step, result).Inc()
	m.lastStepError.WithLabelValues(step).Set(failed)
}

func (m *Metrics) EnrollmentOutcome(outcome string) {
	m.enrollments.WithLabelValues(outcome).Inc()
}

func (m *Metrics) NotificationPosted(kind string) {
	m.notifications.WithLabelValues(kind).Inc()
}

func (m *Metrics) EmailOutcome(outcome string) {
	m.emails.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics and /healthz on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *logrus.Entry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", addr).Info("Metrics server listening.")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("error shutting down metrics server: %w", err)
		}
		logger.Info("Metrics server stopped.")
		return nil
	}
}
