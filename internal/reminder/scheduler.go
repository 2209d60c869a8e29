package reminder

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler runs Dispatcher.Check on a cron schedule. A check still running
// when the next tick fires causes that tick to be skipped.
type Scheduler struct {
	cron *cron.Cron
	log  *zap.Logger
}

func NewScheduler(ctx context.Context, d *Dispatcher, spec string, loc *time.Location, log *zap.Logger) (*Scheduler, error) {
	cl := cronLogger{log: log.Sugar()}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	_, err := c.AddFunc(spec, func() {
		report, err := d.Check(ctx)
		if err != nil {
			log.Error("reminder check failed", zap.Error(err))
			return
		}
		if report.Due > 0 {
			log.Info("reminder check finished",
				zap.Int("due", report.Due),
				zap.Int("sent", report.Sent),
				zap.Int("not_found", report.NotFound),
				zap.Int("failed", report.Failed),
				zap.Int("skipped", report.Skipped))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule reminders %q: %w", spec, err)
	}
	return &Scheduler{cron: c, log: log}, nil
}

func (s *Scheduler) Start() {
	s.log.Info("reminder scheduler started")
	s.cron.Start()
}

// Stop stops the schedule and waits for a running check to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("reminder scheduler stopped")
}

type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
