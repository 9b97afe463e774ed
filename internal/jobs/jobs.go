// Package jobs runs the portal's scheduled background work.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"bizmatch/internal/metrics"
)

// Func is one run of a job.
type Func func(ctx context.Context) error

// Scheduler wraps a cron runner. Runs of the same job never overlap.
type Scheduler struct {
	c       *cron.Cron
	log     logrus.FieldLogger
	timeout time.Duration
}

func NewScheduler(loc *time.Location, log logrus.FieldLogger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	cl := cronLogger{log: log}
	return &Scheduler{
		c: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		log:     log,
		timeout: 5 * time.Minute,
	}
}

// Add registers fn under name on a cron spec (seconds field first, or a
// descriptor such as @daily).
func (s *Scheduler) Add(name, spec string, fn Func) error {
	_, err := s.c.AddFunc(spec, func() { s.run(name, fn) })
	if err != nil {
		return fmt.Errorf("failed to schedule %s (%q): %w", name, spec, err)
	}
	s.log.WithFields(logrus.Fields{"job": name, "schedule": spec}).Info("job scheduled")
	return nil
}

func (s *Scheduler) run(name string, fn Func) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	metrics.RecordJobRun(name, err)

	entry := s.log.WithFields(logrus.Fields{"job": name, "duration": time.Since(start).String()})
	if err != nil {
		entry.WithError(err).Error("job failed")
		return
	}
	entry.Debug("job finished")
}

func (s *Scheduler) Start() {
	s.c.Start()
}

// Stop stops scheduling and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.c.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OverdueNotifier is implemented by the workflow orchestrator.
type OverdueNotifier interface {
	NotifyOverdueInvoices(ctx context.Context) (int, error)
}

// OverdueInvoices reports billed invoices past their payment deadline.
func OverdueInvoices(n OverdueNotifier, log logrus.FieldLogger) Func {
	return func(ctx context.Context) error {
		count, err := n.NotifyOverdueInvoices(ctx)
		if count > 0 {
			log.WithField("invoices", count).Info("overdue invoices notified")
		}
		return err
	}
}

// cronLogger adapts logrus to cron.Logger.
type cronLogger struct {
	log logrus.FieldLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(fields(keysAndValues)).Debug("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.WithFields(fields(keysAndValues)).WithError(err).Error("cron: " + msg)
}

func fields(kv []interface{}) logrus.Fields {
	f := logrus.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		f[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return f
}
