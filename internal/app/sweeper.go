package app

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Abandoner closes carts that have been idle for too long.
type Abandoner interface {
	AbandonStale(ctx context.Context, olderThan time.Duration) (int, error)
}

// Sweeper runs periodic maintenance jobs on a cron schedule: the stale cart
// sweep and any in-process housekeeping registered with Also.
type Sweeper struct {
	cron    *cron.Cron
	carts   Abandoner
	after   time.Duration
	timeout time.Duration
	lg      *zap.Logger
	extra   []func()
}

// NewSweeper schedules the stale cart sweep. The schedule accepts the
// standard five-field syntax and descriptors such as "@every 10m".
func NewSweeper(lg *zap.Logger, carts Abandoner, cfg SweeperConfig) (*Sweeper, error) {
	s := &Sweeper{
		carts:   carts,
		after:   cfg.AbandonAfter,
		timeout: time.Minute,
		lg:      lg,
	}
	cl := cronLogger{lg.Sugar()}
	s.cron = cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	if _, err := s.cron.AddFunc(cfg.Schedule, s.run); err != nil {
		return nil, errors.Wrapf(err, "parse sweeper schedule %q", cfg.Schedule)
	}
	return s, nil
}

// Also runs fn on every sweep after the cart sweep.
func (s *Sweeper) Also(fn func()) {
	s.extra = append(s.extra, fn)
}

// Start runs the scheduler in its own goroutine.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Sweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	s.sweep(ctx)
}

func (s *Sweeper) sweep(ctx context.Context) {
	n, err := s.carts.AbandonStale(ctx, s.after)
	if err != nil {
		s.lg.Error("Stale cart sweep failed", zap.Int("abandoned", n), zap.Error(err))
	} else {
		s.lg.Debug("Stale cart sweep done", zap.Int("abandoned", n))
	}
	for _, fn := range s.extra {
		fn()
	}
}

// cronLogger routes cron's own messages to zap.
type cronLogger struct {
	lg *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.lg.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.lg.Errorw(msg, append(keysAndValues, "error", err)...)
}
