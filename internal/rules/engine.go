package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"market-pulse/internal/status"
	"market-pulse/internal/storage"
)

const (
	defaultConfirmationsCross       = 1
	defaultConfirmationsPersistence = 2
	defaultSamplingMinutes          = 5
	defaultCooldownMinutes          = 360

	// snapshots are written on a 15-minute cadence; 90 minutes comfortably
	// covers the two newest entries plus drift
	trendChangeLookback = 90 * time.Minute
	persistenceLookback = 24 * time.Hour
)

// Notifier forwards a persisted firing to the configured channels.
type Notifier interface {
	Dispatch(ctx context.Context, fired storage.AlertFired, rule storage.AlertRule) error
}

// Outcome reports one rule's evaluation for the cycle summary.
type Outcome struct {
	RuleID     int64
	RuleName   string
	Fired      bool
	Suppressed bool
	Err        error
}

// Engine evaluates alert rules against recent points and snapshots. Each
// rule is an isolated unit of work: a failure is logged and reported, never
// propagated to abort the batch.
type Engine struct {
	rules          storage.AlertRuleStore
	points         storage.PointStore
	snapshots      storage.SnapshotStore
	fired          storage.AlertFiredStore
	notifier       Notifier
	defaultActions []string
	logger         zerolog.Logger
	now            func() time.Time
}

// NewEngine constructs the rules engine.
func NewEngine(
	rules storage.AlertRuleStore,
	points storage.PointStore,
	snapshots storage.SnapshotStore,
	fired storage.AlertFiredStore,
	notifier Notifier,
	defaultActions []string,
	logger zerolog.Logger,
) *Engine {
	if len(defaultActions) == 0 {
		defaultActions = []string{"email"}
	}
	return &Engine{
		rules:          rules,
		points:         points,
		snapshots:      snapshots,
		fired:          fired,
		notifier:       notifier,
		defaultActions: defaultActions,
		logger:         logger.With().Str("component", "rules_engine").Logger(),
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the engine clock. Intended for tests.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// EvaluateAll runs every enabled rule and returns the per-rule outcomes.
func (e *Engine) EvaluateAll(ctx context.Context) ([]Outcome, error) {
	rules, err := e.rules.ListEnabledRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("list enabled rules: %w", err)
	}

	outcomes := make([]Outcome, 0, len(rules))
	for _, rule := range rules {
		outcome := e.evaluateRule(ctx, rule)
		if outcome.Err != nil {
			e.logger.Error().Err(outcome.Err).Int64("rule_id", rule.ID).Str("rule", rule.Name).Msg("rule evaluation failed")
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

func (e *Engine) evaluateRule(ctx context.Context, rule storage.AlertRule) Outcome {
	outcome := Outcome{RuleID: rule.ID, RuleName: rule.Name}
	now := e.now()

	skip, err := e.inCooldown(ctx, rule, now)
	if err != nil {
		outcome.Err = err
		return outcome
	}
	if skip {
		return outcome
	}

	payload, fire, err := e.checkCondition(ctx, rule, now)
	if err != nil {
		outcome.Err = err
		return outcome
	}
	if !fire {
		return outcome
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		outcome.Err = fmt.Errorf("marshal payload: %w", err)
		return outcome
	}

	// hour bucket caps duplicate firings for the same logical event to once
	// per hour across repeated evaluation ticks
	dedupeKey := fmt.Sprintf("%d:%s:%s", rule.ID, now.Format("2006-01-02T15"), payloadJSON)

	fired := storage.AlertFired{
		RuleID:    rule.ID,
		Timestamp: now,
		Payload:   payloadJSON,
		DedupeKey: dedupeKey,
	}
	inserted, ok, err := e.fired.InsertAlertFired(ctx, fired)
	if err != nil {
		outcome.Err = err
		return outcome
	}
	if !ok {
		e.logger.Debug().Int64("rule_id", rule.ID).Str("dedupe_key", dedupeKey).Msg("firing suppressed by dedupe key")
		outcome.Suppressed = true
		return outcome
	}

	outcome.Fired = true
	e.logger.Info().Int64("rule_id", rule.ID).Str("rule", rule.Name).RawJSON("payload", payloadJSON).Msg("alert fired")

	if e.notifier != nil {
		dispatchRule := rule
		if len(dispatchRule.Actions) == 0 {
			dispatchRule.Actions = e.defaultActions
		}
		if err := e.notifier.Dispatch(ctx, *inserted, dispatchRule); err != nil {
			e.logger.Error().Err(err).Int64("rule_id", rule.ID).Msg("notification dispatch failed")
		}
	}
	return outcome
}

func (e *Engine) inCooldown(ctx context.Context, rule storage.AlertRule, now time.Time) (bool, error) {
	cooldown := rule.CooldownMinutes
	if cooldown <= 0 {
		cooldown = defaultCooldownMinutes
	}

	latest, err := e.fired.LatestFiringForRule(ctx, rule.ID)
	if err != nil {
		return false, fmt.Errorf("load latest firing: %w", err)
	}
	if latest == nil {
		return false, nil
	}
	return latest.Timestamp.After(now.Add(-time.Duration(cooldown) * time.Minute)), nil
}

func (e *Engine) checkCondition(ctx context.Context, rule storage.AlertRule, now time.Time) (map[string]any, bool, error) {
	switch rule.ConditionType {
	case "cross_below":
		return e.checkCross(ctx, rule, now, false)
	case "cross_above":
		return e.checkCross(ctx, rule, now, true)
	case "trend_change":
		return e.checkTrendChange(ctx, rule, now)
	case "persistence":
		return e.checkPersistence(ctx, rule, now)
	default:
		// unrecognized or incomplete conditions never fire
		return nil, false, nil
	}
}

// checkCross fires on a true threshold crossing: the newest confirmation run
// sits on the target side and the point immediately before it on the opposite
// side. Sustained state on one side never fires.
func (e *Engine) checkCross(ctx context.Context, rule storage.AlertRule, now time.Time, above bool) (map[string]any, bool, error) {
	if rule.IndicatorKey == "" {
		return nil, false, nil
	}

	confirmations := rule.Confirmations
	if confirmations <= 0 {
		confirmations = defaultConfirmationsCross
	}
	sampling := rule.SamplingMinutes
	if sampling <= 0 {
		sampling = defaultSamplingMinutes
	}

	points, err := e.points.ListRecentPoints(ctx, rule.IndicatorKey, confirmations+2)
	if err != nil {
		return nil, false, fmt.Errorf("load points: %w", err)
	}
	if len(points) < confirmations+1 {
		return nil, false, nil
	}

	// the series is daily, so the sampling window is floored to cover the
	// confirmation run in whole days
	lookback := time.Duration(sampling*confirmations) * time.Minute
	if floor := time.Duration(confirmations+2) * 24 * time.Hour; lookback < floor {
		lookback = floor
	}
	newest := points[len(points)-1]
	if newest.Day.Before(now.Add(-lookback)) {
		return nil, false, nil
	}

	onTarget := func(p storage.Point) bool {
		if above {
			return p.Value.GreaterThan(rule.Threshold)
		}
		return p.Value.LessThan(rule.Threshold)
	}

	for _, p := range points[len(points)-confirmations:] {
		if !onTarget(p) {
			return nil, false, nil
		}
	}
	preceding := points[len(points)-confirmations-1]
	if onTarget(preceding) {
		return nil, false, nil
	}

	direction := "below"
	if above {
		direction = "above"
	}
	payload := map[string]any{
		"indicator": rule.IndicatorKey,
		"value":     newest.Value.String(),
		"threshold": rule.Threshold.String(),
		"direction": direction,
	}
	return payload, true, nil
}

func (e *Engine) checkTrendChange(ctx context.Context, rule storage.AlertRule, now time.Time) (map[string]any, bool, error) {
	if rule.IndicatorKey == "" {
		return nil, false, nil
	}

	snaps, err := e.snapshots.ListSnapshots(ctx, rule.IndicatorKey, now.Add(-trendChangeLookback), 2)
	if err != nil {
		return nil, false, fmt.Errorf("load snapshots: %w", err)
	}
	if len(snaps) < 2 {
		return nil, false, nil
	}

	// snapshots arrive newest first
	if snaps[0].Trend == snaps[1].Trend {
		return nil, false, nil
	}
	payload := map[string]any{
		"indicator": rule.IndicatorKey,
		"from":      snaps[1].Trend,
		"to":        snaps[0].Trend,
	}
	return payload, true, nil
}

func (e *Engine) checkPersistence(ctx context.Context, rule storage.AlertRule, now time.Time) (map[string]any, bool, error) {
	if rule.IndicatorKey == "" {
		return nil, false, nil
	}

	confirmations := rule.Confirmations
	if confirmations <= 0 {
		confirmations = defaultConfirmationsPersistence
	}

	snaps, err := e.snapshots.ListSnapshots(ctx, rule.IndicatorKey, now.Add(-persistenceLookback), confirmations)
	if err != nil {
		return nil, false, fmt.Errorf("load snapshots: %w", err)
	}
	if len(snaps) < confirmations {
		return nil, false, nil
	}
	for _, snap := range snaps {
		if snap.Status != string(status.Green) {
			return nil, false, nil
		}
	}

	payload := map[string]any{
		"indicator":     rule.IndicatorKey,
		"status":        string(status.Green),
		"confirmations": confirmations,
	}
	return payload, true, nil
}
