// Package scheduler drives the poll loop through its operating window.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ajou-notice/noticepoller/internal/ingest"
	"github.com/ajou-notice/noticepoller/internal/metrics"
	"github.com/ajou-notice/noticepoller/internal/notice"
)

// Default loop timings.
const (
	DefaultPeriod       = 1800 * time.Second
	DefaultRetryBackoff = 300 * time.Second
)

var (
	// ErrRetriesExhausted ends a cycle whose extraction kept failing.
	ErrRetriesExhausted = errors.New("extraction retries exhausted")
	// ErrCyclePanic reports a panic recovered inside a cycle.
	ErrCyclePanic = errors.New("cycle panicked")
)

// Config controls loop timing.
type Config struct {
	// URL is the listing page polled every cycle.
	URL          string
	Period       time.Duration
	RetryBackoff time.Duration
	// MaxRetries bounds the backoff retries of one cycle. Zero retries forever.
	MaxRetries int
}

// Ingester stores a batch of notices.
type Ingester interface {
	IngestAll(ctx context.Context, notices []notice.Notice) (ingest.Summary, error)
}

// Loop runs fetch, extract and ingest cycles inside the operating window.
type Loop struct {
	cfg       Config
	window    Window
	extractor notice.Extractor
	ingester  Ingester
	clock     notice.Clock
	sleeper   Sleeper
	ids       notice.IDGenerator
	logger    *zap.Logger
	onExit    func(State, error)
	state     atomic.Int32
}

// New wires a Loop. A nil sleeper sleeps on real timers.
func New(
	cfg Config,
	window Window,
	extractor notice.Extractor,
	ingester Ingester,
	clock notice.Clock,
	sleeper Sleeper,
	ids notice.IDGenerator,
	logger *zap.Logger,
) *Loop {
	if cfg.URL == "" {
		cfg.URL = notice.NewFilter("").Build()
	}
	if cfg.Period <= 0 {
		cfg.Period = DefaultPeriod
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	if sleeper == nil {
		sleeper = TimerSleeper{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		cfg:       cfg,
		window:    window,
		extractor: extractor,
		ingester:  ingester,
		clock:     clock,
		sleeper:   sleeper,
		ids:       ids,
		logger:    logger,
	}
}

// OnExit registers fn to run once Run returns, with the last state and the returned error.
func (l *Loop) OnExit(fn func(State, error)) {
	l.onExit = fn
}

// Run loops until ctx is canceled, returning nil in that case. A store
// failure or a panic inside a cycle stops the loop and is returned.
func (l *Loop) Run(ctx context.Context) (err error) {
	defer func() {
		last := l.State()
		l.enter(StateStopped)
		if err != nil {
			l.logger.Error("scheduler stopped", zap.String("last_state", last.String()), zap.Error(err))
		} else {
			l.logger.Info("scheduler stopped", zap.String("last_state", last.String()))
		}
		if l.onExit != nil {
			l.onExit(last, err)
		}
	}()

	l.logger.Info("scheduler started",
		zap.String("url", l.cfg.URL),
		zap.Duration("period", l.cfg.Period),
		zap.Duration("retry_backoff", l.cfg.RetryBackoff),
	)

	for {
		if ctx.Err() != nil {
			return nil
		}

		state, wait := Plan(l.clock.Now(), l.window)
		if state != StateRunning {
			l.logger.Info("outside operating window",
				zap.String("state", state.String()),
				zap.Duration("sleep", wait),
				zap.Time("wake_at", l.clock.Now().Add(wait)),
			)
			if l.sleep(ctx, state, wait) != nil {
				return nil
			}
			continue
		}

		l.enter(StateRunning)
		if cycleErr := l.runCycle(ctx); cycleErr != nil {
			if ctx.Err() != nil {
				return nil
			}
			return cycleErr
		}

		l.logger.Info("resting until next cycle", zap.Duration("sleep", l.cfg.Period))
		if l.sleep(ctx, StateRunning, l.cfg.Period) != nil {
			return nil
		}
	}
}

func (l *Loop) runCycle(ctx context.Context) (err error) {
	cycleID := l.newCycleID()
	logger := l.logger.With(zap.String("cycle_id", cycleID))

	defer func() {
		if r := recover(); r != nil {
			metrics.ObserveCycle("panic")
			logger.Error("cycle panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("%w: %v", ErrCyclePanic, r)
		}
	}()

	logger.Info("polling board")
	notices, err := l.extract(ctx, logger)
	if errors.Is(err, ErrRetriesExhausted) {
		metrics.ObserveCycle("retry_exhausted")
		logger.Error("giving up on this cycle", zap.Error(err))
		return nil
	}
	if err != nil {
		metrics.ObserveCycle("failed")
		return err
	}

	summary, err := l.ingester.IngestAll(ctx, notices)
	if err != nil {
		metrics.ObserveCycle("failed")
		return fmt.Errorf("cycle %s: %w", cycleID, err)
	}

	metrics.ObserveCycle("success")
	logger.Info("cycle complete",
		zap.Int("parsed", len(notices)),
		zap.Int("inserted", summary.Inserted),
		zap.Int("skipped", summary.Skipped),
	)
	return nil
}

// extract calls the extractor, sleeping the flat backoff after every parse failure.
func (l *Loop) extract(ctx context.Context, logger *zap.Logger) ([]notice.Notice, error) {
	failures := 0
	for {
		notices, err := l.extractor.FetchAndParse(ctx, l.cfg.URL)
		if err == nil {
			return notices, nil
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("extract: %w", ctx.Err())
		}
		if !notice.IsParseError(err) {
			return nil, fmt.Errorf("extract: %w", err)
		}

		kind := notice.KindOf(err)
		metrics.ObserveFetchError(string(kind))
		failures++
		if l.cfg.MaxRetries > 0 && failures > l.cfg.MaxRetries {
			return nil, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, failures, err)
		}

		logger.Warn("extraction failed, backing off",
			zap.String("kind", string(kind)),
			zap.Int("attempt", failures),
			zap.Duration("sleep", l.cfg.RetryBackoff),
			zap.Error(err),
		)
		metrics.ObserveRetry()
		if err := l.sleep(ctx, StateRetryBackoff, l.cfg.RetryBackoff); err != nil {
			return nil, fmt.Errorf("extract: %w", err)
		}
		l.enter(StateRunning)
	}
}

func (l *Loop) sleep(ctx context.Context, state State, d time.Duration) error {
	l.enter(state)
	metrics.ObserveSleep(state.String(), d)
	if err := l.sleeper.Sleep(ctx, d); err != nil {
		return fmt.Errorf("sleep %s: %w", state, err)
	}
	return nil
}

func (l *Loop) enter(state State) {
	l.state.Store(int32(state))
	metrics.SetSchedulerState(state.String())
}

// State returns the loop's current state. It is safe to call from any goroutine.
func (l *Loop) State() State {
	return State(l.state.Load())
}

func (l *Loop) newCycleID() string {
	if l.ids == nil {
		return ""
	}
	id, err := l.ids.NewID()
	if err != nil {
		l.logger.Warn("cycle id generation failed", zap.Error(err))
		return ""
	}
	return id
}
