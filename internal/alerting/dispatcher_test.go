package alerting

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"market-pulse/internal/config"
	"market-pulse/internal/storage"
)

type memoryDeliveryStore struct {
	rows []storage.NotificationDelivery
}

func (m *memoryDeliveryStore) InsertDelivery(_ context.Context, d storage.NotificationDelivery) error {
	m.rows = append(m.rows, d)
	return nil
}

type fakeChannel struct {
	name   string
	err    error
	titles []string
	bodies []string
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Send(_ context.Context, title, body string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.titles = append(f.titles, title)
	f.bodies = append(f.bodies, body)
	return "msg-1", nil
}

func newTestDispatcher(store *memoryDeliveryStore) *Dispatcher {
	return NewDispatcher(config.AlertingConfig{}, store, zerolog.Nop())
}

func crossFiring() (storage.AlertFired, storage.AlertRule) {
	fired := storage.AlertFired{
		ID:        7,
		RuleID:    1,
		Timestamp: time.Date(2025, 8, 27, 10, 0, 0, 0, time.UTC),
		Payload:   []byte(`{"indicator":"us10y","value":"3.99","threshold":"4","direction":"below"}`),
	}
	rule := storage.AlertRule{ID: 1, Name: "us10y breach", Actions: []string{"fake"}}
	return fired, rule
}

func TestDispatchRecordsSentDelivery(t *testing.T) {
	store := &memoryDeliveryStore{}
	dispatcher := newTestDispatcher(store)
	channel := &fakeChannel{name: "fake"}
	dispatcher.RegisterChannel(channel)

	fired, rule := crossFiring()
	if err := dispatcher.Dispatch(context.Background(), fired, rule); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}

	if len(store.rows) != 1 {
		t.Fatalf("expected one delivery row, got %d", len(store.rows))
	}
	row := store.rows[0]
	if row.Status != storage.DeliverySent || row.AlertID != 7 || row.Channel != "fake" {
		t.Fatalf("unexpected delivery row %+v", row)
	}
	if row.ProviderMessageID != "msg-1" {
		t.Fatalf("expected provider message id recorded, got %q", row.ProviderMessageID)
	}

	if channel.titles[0] != "us10y breach: us10y" {
		t.Fatalf("unexpected title %q", channel.titles[0])
	}
	if !strings.Contains(channel.bodies[0], "crossed below threshold 4") {
		t.Fatalf("body should describe the crossing, got %q", channel.bodies[0])
	}
}

func TestDispatchRecordsFailureWithoutAborting(t *testing.T) {
	store := &memoryDeliveryStore{}
	dispatcher := newTestDispatcher(store)
	dispatcher.RegisterChannel(&fakeChannel{name: "broken", err: errors.New("boom")})
	good := &fakeChannel{name: "fake"}
	dispatcher.RegisterChannel(good)

	fired, rule := crossFiring()
	rule.Actions = []string{"broken", "fake"}
	if err := dispatcher.Dispatch(context.Background(), fired, rule); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}

	if len(store.rows) != 2 {
		t.Fatalf("expected two delivery rows, got %d", len(store.rows))
	}
	if store.rows[0].Status != storage.DeliveryFailed {
		t.Fatalf("broken channel should record failed, got %+v", store.rows[0])
	}
	if store.rows[1].Status != storage.DeliverySent {
		t.Fatalf("healthy channel must still deliver, got %+v", store.rows[1])
	}
	if len(good.titles) != 1 {
		t.Fatalf("healthy channel never received the alert")
	}
}

func TestDispatchSkipsUnknownChannel(t *testing.T) {
	store := &memoryDeliveryStore{}
	dispatcher := newTestDispatcher(store)

	fired, rule := crossFiring()
	rule.Actions = []string{"pager"}
	if err := dispatcher.Dispatch(context.Background(), fired, rule); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}

	if len(store.rows) != 1 || store.rows[0].Status != storage.DeliverySkipped {
		t.Fatalf("unconfigured channel should record skipped, got %+v", store.rows)
	}
}

func TestRenderTrendChangeBody(t *testing.T) {
	fired := storage.AlertFired{
		Timestamp: time.Date(2025, 8, 27, 10, 0, 0, 0, time.UTC),
		Payload:   []byte(`{"indicator":"dxy","from":"RISING","to":"FALLING"}`),
	}
	rule := storage.AlertRule{Name: "dxy flip"}

	title, body := renderAlert(fired, rule)
	if title != "dxy flip: dxy" {
		t.Fatalf("unexpected title %q", title)
	}
	if !strings.Contains(body, "Trend changed: RISING -> FALLING") {
		t.Fatalf("body should describe the transition, got %q", body)
	}
}

func TestRenderUnknownPayloadFallsBackToKeyValues(t *testing.T) {
	fired := storage.AlertFired{
		Timestamp: time.Date(2025, 8, 27, 10, 0, 0, 0, time.UTC),
		Payload:   []byte(`{"indicator":"spx","note":"custom"}`),
	}
	rule := storage.AlertRule{Name: "custom rule"}

	_, body := renderAlert(fired, rule)
	if !strings.Contains(body, "note: custom") {
		t.Fatalf("fallback body should list payload fields, got %q", body)
	}
}
