package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	insertRawPointSQL = `INSERT INTO raw_points (
        indicator_key,
        ts,
        value,
        source,
        raw_payload
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    ON CONFLICT (indicator_key, ts) DO NOTHING;`

	listRawPointsSinceSQL = `SELECT
        indicator_key,
        ts,
        value,
        source,
        raw_payload,
        created_at
    FROM raw_points
    WHERE indicator_key = $1
      AND ts >= $2
    ORDER BY ts;`

	insertPointSQL = `INSERT INTO points (
        indicator_key,
        day,
        value,
        granularity,
        quality_flag
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    ON CONFLICT (indicator_key, day) DO NOTHING;`

	listPointsBetweenSQL = `SELECT
        indicator_key,
        day,
        value,
        granularity,
        quality_flag,
        created_at
    FROM points
    WHERE indicator_key = $1
      AND day >= $2
      AND day < $3
    ORDER BY day;`

	listRecentPointsSQL = `SELECT
        indicator_key,
        day,
        value,
        granularity,
        quality_flag,
        created_at
    FROM points
    WHERE indicator_key = $1
    ORDER BY day DESC
    LIMIT $2;`

	latestPointSQL = `SELECT
        indicator_key,
        day,
        value,
        granularity,
        quality_flag,
        created_at
    FROM points
    WHERE indicator_key = $1
    ORDER BY day DESC
    LIMIT 1;`

	insertDerivedMetricSQL = `INSERT INTO derived_metrics (
        indicator_key,
        ts,
        pct_1d,
        pct_7d,
        pct_14d,
        pct_21d,
        slope_short,
        slope_window,
        ma_window
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9
    )
    ON CONFLICT (indicator_key, ts) DO NOTHING;`

	latestDerivedMetricSQL = `SELECT
        indicator_key,
        ts,
        pct_1d,
        pct_7d,
        pct_14d,
        pct_21d,
        slope_short,
        slope_window,
        ma_window,
        created_at
    FROM derived_metrics
    WHERE indicator_key = $1
    ORDER BY ts DESC
    LIMIT 1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// RawPointStore defines operations for raw observation persistence.
type RawPointStore interface {
	InsertRawPoints(ctx context.Context, points []RawPoint) (int64, error)
	ListRawPointsSince(ctx context.Context, key string, since time.Time) ([]RawPoint, error)
}

// PointStore defines operations for the daily series.
type PointStore interface {
	InsertPoints(ctx context.Context, points []Point) (int64, error)
	ListPointsBetween(ctx context.Context, key string, from, to time.Time) ([]Point, error)
	ListRecentPoints(ctx context.Context, key string, limit int) ([]Point, error)
	LatestPoint(ctx context.Context, key string) (*Point, error)
}

// DerivedMetricStore defines operations for derived metric rows.
type DerivedMetricStore interface {
	InsertDerivedMetrics(ctx context.Context, metrics []DerivedMetric) (int64, error)
	LatestDerivedMetric(ctx context.Context, key string) (*DerivedMetric, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to all pipeline tables.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// unlock best effort; log omitted in storage package
		}
		conn.Release()
	}
	return unlock, true, nil
}

// InsertRawPoints appends raw observations, ignoring duplicates on
// (indicator_key, ts). Returns the number of newly inserted rows.
func (s *Store) InsertRawPoints(ctx context.Context, points []RawPoint) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	var inserted int64
	for _, p := range points {
		var payload interface{}
		if len(p.RawPayload) > 0 {
			payload = []byte(p.RawPayload)
		}
		tag, execErr := pool.Exec(ctx, insertRawPointSQL,
			p.IndicatorKey,
			p.Timestamp,
			p.Value.String(),
			p.Source,
			payload,
		)
		if execErr != nil {
			return inserted, fmt.Errorf("insert raw point: %w", execErr)
		}
		inserted += tag.RowsAffected()
	}
	return inserted, nil
}

// ListRawPointsSince lists raw observations for one indicator in ascending time order.
func (s *Store) ListRawPointsSince(ctx context.Context, key string, since time.Time) ([]RawPoint, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRawPointsSinceSQL, key, since)
	if queryErr != nil {
		return nil, fmt.Errorf("list raw points: %w", queryErr)
	}
	defer rows.Close()

	points := make([]RawPoint, 0)
	for rows.Next() {
		var (
			p        RawPoint
			valueStr string
		)
		if err := rows.Scan(&p.IndicatorKey, &p.Timestamp, &valueStr, &p.Source, &p.RawPayload, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Value, err = decimal.NewFromString(valueStr)
		if err != nil {
			return nil, fmt.Errorf("parse raw point value: %w", err)
		}
		points = append(points, p)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return points, nil
}

// InsertPoints writes daily points, ignoring days that already exist.
func (s *Store) InsertPoints(ctx context.Context, points []Point) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	var inserted int64
	for _, p := range points {
		granularity := p.Granularity
		if granularity == "" {
			granularity = "1d"
		}
		tag, execErr := pool.Exec(ctx, insertPointSQL,
			p.IndicatorKey,
			p.Day,
			p.Value.String(),
			granularity,
			p.QualityFlag,
		)
		if execErr != nil {
			return inserted, fmt.Errorf("insert point: %w", execErr)
		}
		inserted += tag.RowsAffected()
	}
	return inserted, nil
}

// ListPointsBetween lists daily points within [from, to) in ascending order.
func (s *Store) ListPointsBetween(ctx context.Context, key string, from, to time.Time) ([]Point, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listPointsBetweenSQL, key, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list points between: %w", queryErr)
	}
	defer rows.Close()

	return scanPoints(rows)
}

// ListRecentPoints returns the newest daily points in ascending order.
func (s *Store) ListRecentPoints(ctx context.Context, key string, limit int) ([]Point, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentPointsSQL, key, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent points: %w", queryErr)
	}
	defer rows.Close()

	points, err := scanPoints(rows)
	if err != nil {
		return nil, err
	}

	// query returns newest first; callers expect ascending day order
	for i, j := 0, len(points)-1; i < j; i, j = i+1, j-1 {
		points[i], points[j] = points[j], points[i]
	}
	return points, nil
}

// LatestPoint returns the most recent daily point, or nil when none exists.
func (s *Store) LatestPoint(ctx context.Context, key string) (*Point, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, latestPointSQL, key)
	if queryErr != nil {
		return nil, fmt.Errorf("latest point: %w", queryErr)
	}
	defer rows.Close()

	points, err := scanPoints(rows)
	if err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, nil
	}
	return &points[0], nil
}

// InsertDerivedMetrics writes derived metric rows, ignoring existing timestamps.
func (s *Store) InsertDerivedMetrics(ctx context.Context, metrics []DerivedMetric) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	var inserted int64
	for _, m := range metrics {
		tag, execErr := pool.Exec(ctx, insertDerivedMetricSQL,
			m.IndicatorKey,
			m.Timestamp,
			m.Pct1D,
			m.Pct7D,
			m.Pct14D,
			m.Pct21D,
			m.SlopeShort,
			m.SlopeWindow,
			m.MAWindow,
		)
		if execErr != nil {
			return inserted, fmt.Errorf("insert derived metric: %w", execErr)
		}
		inserted += tag.RowsAffected()
	}
	return inserted, nil
}

// LatestDerivedMetric returns the most recent derived metric row, or nil.
func (s *Store) LatestDerivedMetric(ctx context.Context, key string) (*DerivedMetric, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	var m DerivedMetric
	row := pool.QueryRow(ctx, latestDerivedMetricSQL, key)
	scanErr := row.Scan(
		&m.IndicatorKey,
		&m.Timestamp,
		&m.Pct1D,
		&m.Pct7D,
		&m.Pct14D,
		&m.Pct21D,
		&m.SlopeShort,
		&m.SlopeWindow,
		&m.MAWindow,
		&m.CreatedAt,
	)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest derived metric: %w", scanErr)
	}
	return &m, nil
}

func scanPoints(rows pgx.Rows) ([]Point, error) {
	points := make([]Point, 0)
	for rows.Next() {
		var (
			p        Point
			valueStr string
		)
		if err := rows.Scan(&p.IndicatorKey, &p.Day, &valueStr, &p.Granularity, &p.QualityFlag, &p.CreatedAt); err != nil {
			return nil, err
		}
		value, err := decimal.NewFromString(valueStr)
		if err != nil {
			return nil, fmt.Errorf("parse point value: %w", err)
		}
		p.Value = value
		points = append(points, p)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return points, nil
}
