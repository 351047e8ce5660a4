package score

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"market-pulse/internal/status"
	"market-pulse/internal/storage"
)

type memoryScoreStore struct {
	rows map[time.Time]storage.WeeklyScore
}

func newMemoryScoreStore() *memoryScoreStore {
	return &memoryScoreStore{rows: make(map[time.Time]storage.WeeklyScore)}
}

func (m *memoryScoreStore) GetWeeklyScore(_ context.Context, weekStart time.Time) (*storage.WeeklyScore, error) {
	row, ok := m.rows[weekStart]
	if !ok {
		return nil, nil
	}
	return &row, nil
}

func (m *memoryScoreStore) UpsertWeeklyScore(_ context.Context, score storage.WeeklyScore) error {
	m.rows[score.WeekStart] = score
	return nil
}

func (m *memoryScoreStore) ListRecentWeeklyScores(_ context.Context, limit int) ([]storage.WeeklyScore, error) {
	out := make([]storage.WeeklyScore, 0, len(m.rows))
	for _, row := range m.rows {
		out = append(out, row)
	}
	return out, nil
}

func TestWeekStartIsMonday(t *testing.T) {
	cases := []struct {
		in   time.Time
		want time.Time
	}{
		// a Sunday maps back to the prior Monday
		{time.Date(2025, 8, 31, 15, 30, 0, 0, time.UTC), time.Date(2025, 8, 25, 0, 0, 0, 0, time.UTC)},
		// a Monday maps to itself at midnight
		{time.Date(2025, 8, 25, 23, 0, 0, 0, time.UTC), time.Date(2025, 8, 25, 0, 0, 0, 0, time.UTC)},
		// midweek
		{time.Date(2025, 8, 27, 1, 0, 0, 0, time.UTC), time.Date(2025, 8, 25, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		if got := WeekStart(tc.in); !got.Equal(tc.want) {
			t.Fatalf("WeekStart(%s): expected %s, got %s", tc.in, tc.want, got)
		}
	}
}

func TestRecordCountsGreens(t *testing.T) {
	store := newMemoryScoreStore()
	scorer := NewScorer(store, zerolog.Nop())
	now := time.Date(2025, 8, 27, 12, 0, 0, 0, time.UTC)

	statuses := []status.Status{
		status.Green, status.Green, status.Green, status.Green, status.Green,
		status.Yellow, status.Red, status.Unknown,
	}

	row, err := scorer.Record(context.Background(), statuses, now)
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if row.Score != 5 {
		t.Fatalf("expected score 5 for 5 GREEN of 8, got %d", row.Score)
	}
	if row.DeltaScore != 0 {
		t.Fatalf("delta should be 0 with no prior week, got %d", row.DeltaScore)
	}
}

func TestRecordUpsertsWithinWeek(t *testing.T) {
	store := newMemoryScoreStore()
	scorer := NewScorer(store, zerolog.Nop())
	now := time.Date(2025, 8, 27, 12, 0, 0, 0, time.UTC)

	// prior week scored 3
	prior := storage.WeeklyScore{WeekStart: WeekStart(now).AddDate(0, 0, -7), Score: 3}
	_ = store.UpsertWeeklyScore(context.Background(), prior)

	greens := []status.Status{status.Green, status.Green, status.Green, status.Green}
	if _, err := scorer.Record(context.Background(), greens, now); err != nil {
		t.Fatalf("first record failed: %v", err)
	}

	// re-run later in the same week with a different count
	greens = append(greens, status.Green)
	row, err := scorer.Record(context.Background(), greens, now.Add(48*time.Hour))
	if err != nil {
		t.Fatalf("second record failed: %v", err)
	}

	if row.Score != 5 || row.DeltaScore != 2 {
		t.Fatalf("expected score 5 delta 2, got %+v", row)
	}
	if len(store.rows) != 2 {
		t.Fatalf("re-run within the same week must not create a second row, got %d rows", len(store.rows))
	}
}
