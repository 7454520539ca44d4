package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"stockwatcher/internal/alerting"
	"stockwatcher/internal/events"
	"stockwatcher/internal/index"
	"stockwatcher/internal/scheduler"
	"stockwatcher/internal/storage"
)

// ErrLockHeld is returned by Run when another instance owns ingestion.
var ErrLockHeld = errors.New("service: ingestion lock held by another instance")

// syntheticStep advances the synthetic clock when the market is closed.
const syntheticStep = time.Minute

// Fetcher returns live (or fallback) observations while the market is open.
type Fetcher interface {
	Fetch(ctx context.Context, symbols []string, interval string) ([]storage.Observation, error)
}

// Generator produces synthetic observations at a given time.
type Generator interface {
	Generate(ctx context.Context, symbols []string, basisTime time.Time) ([]storage.Observation, error)
}

// MarketGate reports whether the exchange session is open.
type MarketGate interface {
	IsOpen(t time.Time) bool
}

// Annotator fills rolling analytics.
type Annotator interface {
	Annotate(ctx context.Context, observations []storage.Observation) ([]storage.Observation, error)
}

// Indexer keeps the similarity index current.
type Indexer interface {
	Index(ctx context.Context, observations []storage.Observation) error
}

// AlertRunner evaluates active alert rules.
type AlertRunner interface {
	Run(ctx context.Context) (alerting.EvaluationResult, error)
}

// Dependencies are the collaborators of one streaming loop. Indexer, Sink and
// Alerts may be nil.
type Dependencies struct {
	Scheduler *scheduler.Scheduler
	Store     storage.ObservationStore
	Fetcher   Fetcher
	Generator Generator
	Gate      MarketGate
	Analytics Annotator
	Indexer   Indexer
	Sink      events.Sink
	Alerts    AlertRunner
}

// Options tune the loop.
type Options struct {
	Symbols         []string
	AdvisoryLockKey int64
	Now             func() time.Time
}

// TickResult reports what a tick produced.
type TickResult struct {
	Observations []storage.Observation
	Triggers     []storage.AlertTrigger
	Synthetic    bool
}

// Service orchestrates fetching, analytics, persistence, indexing and alerting.
type Service struct {
	deps    Dependencies
	symbols []string
	lockKey int64
	locker  storage.AdvisoryLocker
	now     func() time.Time
	logger  zerolog.Logger
}

// New constructs the streaming service.
func New(deps Dependencies, opts Options, logger zerolog.Logger) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := deps.Store.(storage.AdvisoryLocker); ok {
		locker = l
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Service{
		deps:    deps,
		symbols: append([]string(nil), opts.Symbols...),
		lockKey: opts.AdvisoryLockKey,
		locker:  locker,
		now:     now,
		logger:  logger.With().Str("component", "service").Logger(),
	}
}

// Run holds the ingestion lock, when the backend supports one, and drives the
// loop until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if s.deps.Scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}

	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		return ErrLockHeld
	}
	if unlock != nil {
		defer unlock()
	}

	s.logger.Info().Strs("symbols", s.symbols).Msg("streaming started")
	err = s.deps.Scheduler.Run(ctx, func(ctx context.Context, _ time.Time) error {
		_, err := s.Tick(ctx)
		return err
	})
	s.logger.Info().Msg("streaming stopped")
	return err
}

// Tick performs one ingestion cycle. Persistence failures abandon the tick;
// index, event and alert failures are logged and the tick completes.
// Cancellation is honoured only up to the write.
func (s *Service) Tick(ctx context.Context) (TickResult, error) {
	var result TickResult
	if err := ctx.Err(); err != nil {
		return result, err
	}

	observations, synthetic, err := s.collect(ctx)
	if err != nil {
		return result, err
	}
	result.Synthetic = synthetic
	if len(observations) == 0 {
		s.logger.Warn().Msg("tick produced no observations")
		return result, nil
	}

	if err := ctx.Err(); err != nil {
		return result, err
	}

	observations, err = s.deps.Analytics.Annotate(ctx, observations)
	if err != nil {
		return result, fmt.Errorf("annotate observations: %w", err)
	}
	for i := range observations {
		observations[i].Summary = index.Summary(observations[i])
	}

	if err := s.deps.Store.InsertObservations(ctx, observations); err != nil {
		return result, fmt.Errorf("persist observations: %w", err)
	}
	result.Observations = observations

	// Rows are committed; the rest of the tick runs to completion even if
	// ctx is cancelled meanwhile.
	post := context.WithoutCancel(ctx)

	if s.deps.Indexer != nil {
		if err := s.deps.Indexer.Index(post, observations); err != nil {
			s.logger.Error().Err(err).Msg("failed to update similarity index")
		}
	}

	s.publishUpdates(post, observations)

	if s.deps.Alerts != nil {
		evaluation, err := s.deps.Alerts.Run(post)
		if err != nil {
			s.logger.Error().Err(err).Msg("alert evaluation failed")
		}
		result.Triggers = evaluation.Triggers
	}

	s.logger.Info().
		Int("observations", len(observations)).
		Bool("synthetic", synthetic).
		Int("alerts_triggered", len(result.Triggers)).
		Msg("tick completed")
	return result, nil
}

func (s *Service) collect(ctx context.Context) ([]storage.Observation, bool, error) {
	now := s.now().UTC()
	if s.deps.Gate == nil || s.deps.Gate.IsOpen(now) {
		observations, err := s.deps.Fetcher.Fetch(ctx, s.symbols, "")
		if err != nil {
			return nil, false, fmt.Errorf("fetch observations: %w", err)
		}
		return observations, false, nil
	}

	basis, err := s.syntheticClock(ctx, now)
	if err != nil {
		return nil, true, err
	}
	observations, err := s.deps.Generator.Generate(ctx, s.symbols, basis)
	if err != nil {
		return nil, true, fmt.Errorf("generate synthetic observations: %w", err)
	}
	return observations, true, nil
}

// syntheticClock returns one step past the newest persisted observation, or
// now when nothing is stored yet.
func (s *Service) syntheticClock(ctx context.Context, now time.Time) (time.Time, error) {
	latest, ok, err := s.deps.Store.LatestObservedAt(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("load latest observation time: %w", err)
	}
	if !ok {
		return now, nil
	}
	return latest.Add(syntheticStep), nil
}

func (s *Service) publishUpdates(ctx context.Context, observations []storage.Observation) {
	if s.deps.Sink == nil {
		return
	}
	for _, obs := range observations {
		payload := events.StockUpdatePayload{
			Symbol:     obs.Symbol,
			Price:      obs.Price,
			ObservedAt: obs.ObservedAt,
			MovingAvg:  obs.MovingAvg,
			Volatility: obs.Volatility,
			Source:     obs.Source,
		}
		if err := s.deps.Sink.Publish(ctx, events.StockUpdate, payload); err != nil {
			s.logger.Error().Err(err).Str("symbol", obs.Symbol).Msg("failed to publish stock update")
		}
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
