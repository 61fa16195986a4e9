package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/roach88/epiboard/internal/store"
)

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	sugar *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}

// Scheduler runs Refresh on a cron schedule.
type Scheduler struct {
	cron     *cron.Cron
	schedule string
	logger   *zap.Logger
}

// NewScheduler schedules p.Refresh on schedule (standard five-field cron or a
// descriptor such as "@every 6h"). Each run is bounded by timeout and
// derives from ctx.
func NewScheduler(ctx context.Context, p *Pipeline, schedule string, timeout time.Duration, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 15 * time.Minute
	}
	cl := cronLogger{sugar: logger.Sugar()}
	c := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))

	_, err := c.AddFunc(schedule, func() {
		rctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if _, err := p.Refresh(rctx); err != nil {
			if errors.Is(err, store.ErrLocked) {
				logger.Info("scheduled refresh skipped, lock held elsewhere")
				return
			}
			logger.Error("scheduled refresh failed", zap.Error(err))
		}
	})
	if err != nil {
		return nil, err
	}
	return &Scheduler{cron: c, schedule: schedule, logger: logger}, nil
}

// Start begins scheduling in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("refresh schedule started", zap.String("schedule", s.schedule))
}

// Stop stops scheduling and waits for a running refresh to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Next reports when the next refresh is due.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}
