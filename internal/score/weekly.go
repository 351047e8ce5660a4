package score

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"market-pulse/internal/status"
	"market-pulse/internal/storage"
)

// Scorer aggregates core indicator statuses into a weekly composite score.
type Scorer struct {
	store  storage.WeeklyScoreStore
	logger zerolog.Logger
}

// NewScorer constructs a Scorer.
func NewScorer(store storage.WeeklyScoreStore, logger zerolog.Logger) *Scorer {
	return &Scorer{
		store:  store,
		logger: logger.With().Str("component", "weekly_scorer").Logger(),
	}
}

// Record counts GREEN core statuses for the week containing now and upserts
// the row; re-runs within the same week update score and delta in place.
func (s *Scorer) Record(ctx context.Context, coreStatuses []status.Status, now time.Time) (storage.WeeklyScore, error) {
	week := WeekStart(now)

	score := 0
	for _, st := range coreStatuses {
		if st == status.Green {
			score++
		}
	}

	delta := 0
	previous, err := s.store.GetWeeklyScore(ctx, week.AddDate(0, 0, -7))
	if err != nil {
		return storage.WeeklyScore{}, fmt.Errorf("load previous week: %w", err)
	}
	if previous != nil {
		delta = score - previous.Score
	}

	row := storage.WeeklyScore{WeekStart: week, Score: score, DeltaScore: delta}
	if err := s.store.UpsertWeeklyScore(ctx, row); err != nil {
		return storage.WeeklyScore{}, fmt.Errorf("upsert weekly score: %w", err)
	}

	s.logger.Debug().Time("week_start", week).Int("score", score).Int("delta", delta).Msg("weekly score recorded")
	return row, nil
}

// WeekStart returns the Monday (UTC midnight) of the week containing t.
func WeekStart(t time.Time) time.Time {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}
