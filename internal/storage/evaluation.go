package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const (
	insertSnapshotSQL = `INSERT INTO status_snapshots (
        ts,
        indicator_key,
        status,
        trend,
        explanation
    ) VALUES (
        $1,$2,$3,$4,$5
    ) RETURNING id;`

	latestSnapshotsSQL = `SELECT DISTINCT ON (indicator_key)
        id,
        ts,
        indicator_key,
        status,
        trend,
        explanation
    FROM status_snapshots
    ORDER BY indicator_key, ts DESC;`

	listSnapshotsSQL = `SELECT
        id,
        ts,
        indicator_key,
        status,
        trend,
        explanation
    FROM status_snapshots
    WHERE indicator_key = $1
      AND ts >= $2
    ORDER BY ts DESC
    LIMIT $3;`

	getWeeklyScoreSQL = `SELECT
        week_start,
        score,
        delta_score,
        updated_at
    FROM weekly_scores
    WHERE week_start = $1;`

	upsertWeeklyScoreSQL = `INSERT INTO weekly_scores (
        week_start,
        score,
        delta_score,
        updated_at
    ) VALUES (
        $1,$2,$3,NOW()
    )
    ON CONFLICT (week_start) DO UPDATE
    SET score       = EXCLUDED.score,
        delta_score = EXCLUDED.delta_score,
        updated_at  = NOW();`

	listWeeklyScoresSQL = `SELECT
        week_start,
        score,
        delta_score,
        updated_at
    FROM weekly_scores
    ORDER BY week_start DESC
    LIMIT $1;`

	listEnabledRulesSQL = `SELECT
        id,
        name,
        condition_type,
        indicator_key,
        threshold,
        confirmations,
        sampling_minutes,
        cooldown_minutes,
        actions,
        enabled,
        created_at
    FROM alert_rules
    WHERE enabled = TRUE
    ORDER BY id;`

	latestFiringForRuleSQL = `SELECT
        id,
        rule_id,
        ts,
        payload,
        dedupe_key
    FROM alerts_fired
    WHERE rule_id = $1
    ORDER BY ts DESC
    LIMIT 1;`

	insertAlertFiredSQL = `INSERT INTO alerts_fired (
        rule_id,
        ts,
        payload,
        dedupe_key
    ) VALUES (
        $1,$2,$3,$4
    )
    ON CONFLICT (dedupe_key) DO NOTHING
    RETURNING id;`

	listRecentFiringsSQL = `SELECT
        id,
        rule_id,
        ts,
        payload,
        dedupe_key
    FROM alerts_fired
    ORDER BY ts DESC
    LIMIT $1;`

	insertDeliverySQL = `INSERT INTO notification_deliveries (
        alert_id,
        channel,
        status,
        provider_message_id,
        ts
    ) VALUES (
        $1,$2,$3,$4,$5
    );`
)

// SnapshotStore defines operations for status snapshot history.
type SnapshotStore interface {
	InsertSnapshot(ctx context.Context, snap StatusSnapshot) error
	LatestSnapshots(ctx context.Context) ([]StatusSnapshot, error)
	ListSnapshots(ctx context.Context, key string, since time.Time, limit int) ([]StatusSnapshot, error)
}

// WeeklyScoreStore defines operations for the weekly composite score.
type WeeklyScoreStore interface {
	GetWeeklyScore(ctx context.Context, weekStart time.Time) (*WeeklyScore, error)
	UpsertWeeklyScore(ctx context.Context, score WeeklyScore) error
	ListRecentWeeklyScores(ctx context.Context, limit int) ([]WeeklyScore, error)
}

// AlertRuleStore exposes user-authored rules to the pipeline.
type AlertRuleStore interface {
	ListEnabledRules(ctx context.Context) ([]AlertRule, error)
}

// AlertFiredStore defines operations for the firing log.
type AlertFiredStore interface {
	LatestFiringForRule(ctx context.Context, ruleID int64) (*AlertFired, error)
	InsertAlertFired(ctx context.Context, fired AlertFired) (*AlertFired, bool, error)
	ListRecentFirings(ctx context.Context, limit int) ([]AlertFired, error)
}

// DeliveryStore records notification delivery attempts.
type DeliveryStore interface {
	InsertDelivery(ctx context.Context, delivery NotificationDelivery) error
}

// InsertSnapshot appends one classification result.
func (s *Store) InsertSnapshot(ctx context.Context, snap StatusSnapshot) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var id int64
	row := pool.QueryRow(ctx, insertSnapshotSQL, snap.Timestamp, snap.IndicatorKey, snap.Status, snap.Trend, snap.Explanation)
	if scanErr := row.Scan(&id); scanErr != nil {
		return fmt.Errorf("insert snapshot: %w", scanErr)
	}
	return nil
}

// LatestSnapshots returns the newest snapshot per indicator.
func (s *Store) LatestSnapshots(ctx context.Context) ([]StatusSnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, latestSnapshotsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("latest snapshots: %w", queryErr)
	}
	defer rows.Close()

	return scanSnapshots(rows)
}

// ListSnapshots returns an indicator's snapshots since a cutoff, newest first.
func (s *Store) ListSnapshots(ctx context.Context, key string, since time.Time, limit int) ([]StatusSnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSnapshotsSQL, key, since, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list snapshots: %w", queryErr)
	}
	defer rows.Close()

	return scanSnapshots(rows)
}

// GetWeeklyScore fetches the score row for a week, or nil.
func (s *Store) GetWeeklyScore(ctx context.Context, weekStart time.Time) (*WeeklyScore, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	var score WeeklyScore
	row := pool.QueryRow(ctx, getWeeklyScoreSQL, weekStart)
	if scanErr := row.Scan(&score.WeekStart, &score.Score, &score.DeltaScore, &score.UpdatedAt); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get weekly score: %w", scanErr)
	}
	return &score, nil
}

// UpsertWeeklyScore inserts or updates the score row for a week.
func (s *Store) UpsertWeeklyScore(ctx context.Context, score WeeklyScore) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	if _, execErr := pool.Exec(ctx, upsertWeeklyScoreSQL, score.WeekStart, score.Score, score.DeltaScore); execErr != nil {
		return fmt.Errorf("upsert weekly score: %w", execErr)
	}
	return nil
}

// ListRecentWeeklyScores lists the newest weekly scores.
func (s *Store) ListRecentWeeklyScores(ctx context.Context, limit int) ([]WeeklyScore, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listWeeklyScoresSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list weekly scores: %w", queryErr)
	}
	defer rows.Close()

	scores := make([]WeeklyScore, 0, limit)
	for rows.Next() {
		var score WeeklyScore
		if err := rows.Scan(&score.WeekStart, &score.Score, &score.DeltaScore, &score.UpdatedAt); err != nil {
			return nil, err
		}
		scores = append(scores, score)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return scores, nil
}

// ListEnabledRules returns all enabled alert rules.
func (s *Store) ListEnabledRules(ctx context.Context) ([]AlertRule, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listEnabledRulesSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list enabled rules: %w", queryErr)
	}
	defer rows.Close()

	rules := make([]AlertRule, 0)
	for rows.Next() {
		var (
			rule         AlertRule
			thresholdStr string
		)
		if err := rows.Scan(
			&rule.ID,
			&rule.Name,
			&rule.ConditionType,
			&rule.IndicatorKey,
			&thresholdStr,
			&rule.Confirmations,
			&rule.SamplingMinutes,
			&rule.CooldownMinutes,
			&rule.Actions,
			&rule.Enabled,
			&rule.CreatedAt,
		); err != nil {
			return nil, err
		}
		threshold, convErr := decimal.NewFromString(thresholdStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse rule threshold: %w", convErr)
		}
		rule.Threshold = threshold
		rules = append(rules, rule)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return rules, nil
}

// LatestFiringForRule returns a rule's most recent firing, or nil.
func (s *Store) LatestFiringForRule(ctx context.Context, ruleID int64) (*AlertFired, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	var fired AlertFired
	row := pool.QueryRow(ctx, latestFiringForRuleSQL, ruleID)
	if scanErr := row.Scan(&fired.ID, &fired.RuleID, &fired.Timestamp, &fired.Payload, &fired.DedupeKey); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest firing: %w", scanErr)
	}
	return &fired, nil
}

// InsertAlertFired appends a firing. The second return value reports whether a
// row was actually inserted; false means the dedupe key already existed.
func (s *Store) InsertAlertFired(ctx context.Context, fired AlertFired) (*AlertFired, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	row := pool.QueryRow(ctx, insertAlertFiredSQL, fired.RuleID, fired.Timestamp, []byte(fired.Payload), fired.DedupeKey)
	if scanErr := row.Scan(&fired.ID); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("insert alert fired: %w", scanErr)
	}
	return &fired, true, nil
}

// ListRecentFirings lists the newest fired alerts.
func (s *Store) ListRecentFirings(ctx context.Context, limit int) ([]AlertFired, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentFiringsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent firings: %w", queryErr)
	}
	defer rows.Close()

	firings := make([]AlertFired, 0, limit)
	for rows.Next() {
		var fired AlertFired
		if err := rows.Scan(&fired.ID, &fired.RuleID, &fired.Timestamp, &fired.Payload, &fired.DedupeKey); err != nil {
			return nil, err
		}
		firings = append(firings, fired)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return firings, nil
}

// InsertDelivery appends one delivery attempt to the audit trail.
func (s *Store) InsertDelivery(ctx context.Context, delivery NotificationDelivery) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var msgID interface{}
	if delivery.ProviderMessageID != "" {
		msgID = delivery.ProviderMessageID
	}

	if _, execErr := pool.Exec(ctx, insertDeliverySQL,
		delivery.AlertID,
		delivery.Channel,
		delivery.Status,
		msgID,
		delivery.Timestamp,
	); execErr != nil {
		return fmt.Errorf("insert delivery: %w", execErr)
	}
	return nil
}

func scanSnapshots(rows pgx.Rows) ([]StatusSnapshot, error) {
	snaps := make([]StatusSnapshot, 0)
	for rows.Next() {
		var snap StatusSnapshot
		if err := rows.Scan(&snap.ID, &snap.Timestamp, &snap.IndicatorKey, &snap.Status, &snap.Trend, &snap.Explanation); err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return snaps, nil
}
