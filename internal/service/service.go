package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"market-pulse/internal/config"
	"market-pulse/internal/pipeline"
	"market-pulse/internal/provider"
	"market-pulse/internal/rules"
	"market-pulse/internal/scheduler"
	"market-pulse/internal/score"
	"market-pulse/internal/status"
	"market-pulse/internal/storage"
)

const fetchTimeout = 60 * time.Second

// RuleEvaluator runs the alert rule batch once per evaluation cycle.
type RuleEvaluator interface {
	EvaluateAll(ctx context.Context) ([]rules.Outcome, error)
}

// Deps wires the pipeline stages into the service.
type Deps struct {
	Config     *config.Config
	Registry   *provider.Registry
	Points     storage.PointStore
	Raw        storage.RawPointStore
	Derived    storage.DerivedMetricStore
	Snapshots  storage.SnapshotStore
	Locker     storage.AdvisoryLocker
	Aggregator *pipeline.Aggregator
	Deriver    *pipeline.Deriver
	Statuses   *status.Engine
	Scorer     *score.Scorer
	Rules      RuleEvaluator
	Logger     zerolog.Logger
}

// Service runs the ingestion pollers and the periodic evaluation cycle.
type Service struct {
	deps   Deps
	logger zerolog.Logger
}

// New constructs the Service.
func New(deps Deps) *Service {
	return &Service{
		deps:   deps,
		logger: deps.Logger.With().Str("component", "service").Logger(),
	}
}

// Run blocks until ctx is cancelled: one poll goroutine per enabled indicator
// plus the aligned evaluation scheduler.
func (s *Service) Run(ctx context.Context) error {
	cfg := s.deps.Config

	var wg sync.WaitGroup
	for _, ic := range cfg.EnabledIndicators() {
		if s.deps.Registry.Resolve(ic.Key) == nil {
			s.logger.Warn().Str("indicator", ic.Key).Msg("no provider adapter for indicator, polling disabled")
			continue
		}
		wg.Add(1)
		go func(ic config.IndicatorConfig) {
			defer wg.Done()
			s.pollLoop(ctx, ic)
		}(ic)
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     cfg.Scheduler.EvalInterval,
		AlignToStart: cfg.Scheduler.AlignToBucket,
		StartupDelay: cfg.Scheduler.StartupDelay,
	}, s.logger)

	err := sched.Run(ctx, func(tickCtx context.Context, bucket time.Time) error {
		return s.evalTick(tickCtx, bucket)
	})

	wg.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// RunCycle performs one synchronous fetch-aggregate-derive-evaluate pass over
// every enabled indicator, using the full aggregation lookback.
func (s *Service) RunCycle(ctx context.Context) error {
	now := time.Now().UTC()
	lookback := time.Duration(s.deps.Config.Scheduler.AggregateLookbackDays) * 24 * time.Hour

	for _, ic := range s.deps.Config.EnabledIndicators() {
		if err := s.fetchIndicator(ctx, ic, lookback); err != nil {
			s.logger.Error().Err(err).Str("indicator", ic.Key).Msg("fetch failed")
		}
	}
	return s.evalTick(ctx, now)
}

func (s *Service) pollLoop(ctx context.Context, ic config.IndicatorConfig) {
	logger := s.logger.With().Str("indicator", ic.Key).Logger()
	logger.Info().Dur("interval", ic.PollInterval).Msg("poller started")

	fetch := func() {
		if err := s.fetchIndicator(ctx, ic, s.deps.Config.Scheduler.FetchLookback); err != nil {
			if errors.Is(err, provider.ErrRateLimited) {
				logger.Warn().Msg("provider throttled, retrying on next tick")
				return
			}
			logger.Error().Err(err).Msg("fetch failed")
		}
	}
	fetch()

	ticker := time.NewTicker(ic.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("poller stopped")
			return
		case <-ticker.C:
			fetch()
		}
	}
}

// fetchIndicator pulls raw observations from the indicator's adapter and runs
// the aggregation and derivation stages over the refreshed series.
func (s *Service) fetchIndicator(ctx context.Context, ic config.IndicatorConfig, lookback time.Duration) error {
	adapter := s.deps.Registry.Resolve(ic.Key)
	if adapter == nil {
		return nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	now := time.Now().UTC()
	window := provider.Window{From: now.Add(-lookback), To: now}

	points, err := adapter.Fetch(fetchCtx, ic.Key, window)
	if err != nil {
		return fmt.Errorf("fetch %s from %s: %w", ic.Key, adapter.Name(), err)
	}

	raws := make([]storage.RawPoint, 0, len(points))
	for _, p := range points {
		raws = append(raws, storage.RawPoint{
			IndicatorKey: p.IndicatorKey,
			Timestamp:    p.Timestamp,
			Value:        p.Value,
			Source:       p.Source,
			RawPayload:   p.RawPayload,
		})
	}

	inserted, err := s.deps.Raw.InsertRawPoints(fetchCtx, raws)
	if err != nil {
		return fmt.Errorf("store raw points for %s: %w", ic.Key, err)
	}
	if inserted > 0 {
		s.logger.Debug().Str("indicator", ic.Key).Int64("inserted", inserted).Msg("raw points ingested")
	}

	if _, err := s.deps.Aggregator.Run(fetchCtx, ic.Key, now); err != nil {
		return err
	}
	limit := s.deps.Config.Scheduler.AggregateLookbackDays + ic.TrendWindowDays
	if _, err := s.deps.Deriver.Run(fetchCtx, ic.Key, ic.TrendWindowDays, limit, now); err != nil {
		return err
	}
	return nil
}

// evalTick is the heart of the pipeline: classify every enabled indicator,
// snapshot the results, update the weekly score, and run the alert rules.
// A postgres advisory lock keeps concurrent replicas from double-evaluating.
func (s *Service) evalTick(ctx context.Context, bucket time.Time) error {
	unlock, acquired, err := s.deps.Locker.TryAdvisoryLock(ctx, s.deps.Config.Scheduler.AdvisoryLockKey)
	if err != nil {
		return fmt.Errorf("advisory lock: %w", err)
	}
	if !acquired {
		s.logger.Info().Time("bucket", bucket).Msg("another instance holds the evaluation lock, skipping")
		return nil
	}
	defer unlock()

	now := time.Now().UTC()
	enabled := s.deps.Config.EnabledIndicators()

	results := make(map[string]status.Result, len(enabled))
	for _, ic := range enabled {
		res, err := s.classify(ctx, ic, now)
		if err != nil {
			s.logger.Error().Err(err).Str("indicator", ic.Key).Msg("classification failed")
			res = status.Result{Status: status.Unknown, Trend: status.Flat, Explanation: "Classification error"}
		}
		results[ic.Key] = res
	}

	// composites roll up from their constituents after every leaf is classified
	for _, ic := range enabled {
		if len(ic.Constituents) == 0 {
			continue
		}
		members := make([]status.Status, 0, len(ic.Constituents))
		for _, key := range ic.Constituents {
			members = append(members, results[key].Status)
		}
		rolled, explanation := status.CompositeRollup(members)
		res := results[ic.Key]
		res.Status = rolled
		res.Explanation = explanation
		results[ic.Key] = res
	}

	var coreStatuses []status.Status
	for _, ic := range enabled {
		res := results[ic.Key]
		snap := storage.StatusSnapshot{
			Timestamp:    now,
			IndicatorKey: ic.Key,
			Status:       string(res.Status),
			Trend:        string(res.Trend),
			Explanation:  res.Explanation,
		}
		if err := s.deps.Snapshots.InsertSnapshot(ctx, snap); err != nil {
			return fmt.Errorf("snapshot %s: %w", ic.Key, err)
		}
		if ic.Core {
			coreStatuses = append(coreStatuses, res.Status)
		}
	}

	if len(coreStatuses) > 0 {
		if _, err := s.deps.Scorer.Record(ctx, coreStatuses, now); err != nil {
			return err
		}
	}

	if s.deps.Config.Alerting.Enabled && s.deps.Rules != nil {
		outcomes, err := s.deps.Rules.EvaluateAll(ctx)
		if err != nil {
			return err
		}
		fired := 0
		for _, o := range outcomes {
			if o.Fired {
				fired++
			}
		}
		s.logger.Info().Time("bucket", bucket).Int("rules", len(outcomes)).Int("fired", fired).Msg("evaluation cycle complete")
	}
	return nil
}

// classify loads the recent series and newest derived row for one indicator
// and hands them to the status engine.
func (s *Service) classify(ctx context.Context, ic config.IndicatorConfig, now time.Time) (status.Result, error) {
	limit := s.deps.Config.Scheduler.AggregateLookbackDays
	points, err := s.deps.Points.ListRecentPoints(ctx, ic.Key, limit)
	if err != nil {
		return status.Result{}, fmt.Errorf("load points: %w", err)
	}

	samples := make([]status.PointSample, len(points))
	for i, p := range points {
		samples[i] = status.PointSample{Time: p.Day, Value: p.Value.InexactFloat64()}
	}

	var derived *status.Derived
	metric, err := s.deps.Derived.LatestDerivedMetric(ctx, ic.Key)
	if err != nil {
		return status.Result{}, fmt.Errorf("load derived metric: %w", err)
	}
	if metric != nil {
		derived = &status.Derived{
			Pct1D:       metric.Pct1D,
			Pct7D:       metric.Pct7D,
			Pct14D:      metric.Pct14D,
			Pct21D:      metric.Pct21D,
			SlopeShort:  metric.SlopeShort,
			SlopeWindow: metric.SlopeWindow,
			MAWindow:    metric.MAWindow,
		}
	}

	// with no points at all the classifier reports the absence itself; the
	// staleness gate only applies once a latest point exists
	latest := now
	if len(points) > 0 {
		latest = points[len(points)-1].Day
	}

	return s.deps.Statuses.Compute(ic.Key, samples, derived, ic.StalenessBudget(), latest, now), nil
}
