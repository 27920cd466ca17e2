package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"lendrisk/services/lending/engine"
)

// DefaultSchedule runs the overdue sweep every five minutes.
const DefaultSchedule = "@every 5m"

var ErrAlreadyStarted = errors.New("sweeper: already started")

// Sweepable is the part of the lending service the sweeper drives.
type Sweepable interface {
	Sweep(ctx context.Context) (engine.SweepReport, error)
}

// Config controls the sweep cadence.
type Config struct {
	// Schedule is a standard five-field cron expression or a descriptor such
	// as "@every 1m" or "@hourly".
	Schedule string
	// Timeout bounds a single pass. Zero means no bound.
	Timeout time.Duration
}

// Sweeper runs periodic overdue sweeps. Overlapping runs are skipped.
type Sweeper struct {
	target  Sweepable
	cfg     Config
	logger  *slog.Logger
	cron    *cron.Cron
	mu      sync.Mutex
	started bool
	last    engine.SweepReport
	lastErr error
	lastRun time.Time
}

// New validates the schedule and prepares a stopped sweeper.
func New(target Sweepable, cfg Config, logger *slog.Logger) (*Sweeper, error) {
	if target == nil {
		return nil, fmt.Errorf("sweeper: target required")
	}
	cfg.Schedule = strings.TrimSpace(cfg.Schedule)
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("sweeper: invalid schedule %q: %w", cfg.Schedule, err)
	}
	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("sweeper: timeout must not be negative")
	}
	if logger == nil {
		logger = slog.Default()
	}
	cronLog := cronLogger{logger: logger}
	s := &Sweeper{
		target: target,
		cfg:    cfg,
		logger: logger,
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cronLog),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
	}
	if _, err := s.cron.AddFunc(cfg.Schedule, s.tick); err != nil {
		return nil, fmt.Errorf("sweeper: schedule: %w", err)
	}
	return s, nil
}

// Start begins scheduling sweeps in the background.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true
	s.cron.Start()
	s.logger.Info("overdue sweeper started", slog.String("schedule", s.cfg.Schedule))
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish or ctx to
// expire.
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.mu.Unlock()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce performs a sweep immediately, outside the schedule.
func (s *Sweeper) RunOnce(ctx context.Context) (engine.SweepReport, error) {
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}
	report, err := s.target.Sweep(ctx)
	s.mu.Lock()
	s.last = report
	s.lastErr = err
	s.lastRun = time.Now().UTC()
	s.mu.Unlock()
	return report, err
}

// Last returns the outcome of the most recent sweep.
func (s *Sweeper) Last() (engine.SweepReport, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.lastRun, s.lastErr
}

func (s *Sweeper) tick() {
	if _, err := s.RunOnce(context.Background()); err != nil {
		s.logger.Error("overdue sweep failed", slog.Any("error", err))
	}
}

// cronLogger adapts slog to the cron logging interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	args := append([]interface{}{slog.Any("error", err)}, keysAndValues...)
	l.logger.Error("cron: "+msg, args...)
}
