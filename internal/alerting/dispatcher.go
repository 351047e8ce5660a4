package alerting

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"market-pulse/internal/config"
	"market-pulse/internal/storage"
)

// Channel delivers a rendered alert over one transport.
type Channel interface {
	Name() string
	Send(ctx context.Context, title, body string) (providerMessageID string, err error)
}

// Dispatcher fans a fired alert out to its configured channels and records one
// delivery row per (alert, channel). A channel failure never blocks the other
// channels.
type Dispatcher struct {
	channels   map[string]Channel
	deliveries storage.DeliveryStore
	logger     zerolog.Logger
	now        func() time.Time
}

// NewDispatcher builds a dispatcher from the alerting config. Channels that
// are disabled or missing credentials are simply absent from the registry;
// actions routed to them are recorded as skipped.
func NewDispatcher(cfg config.AlertingConfig, deliveries storage.DeliveryStore, logger zerolog.Logger) *Dispatcher {
	channels := make(map[string]Channel)

	if cfg.Telegram.Enabled && cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID != "" {
		tg := NewTelegramChannel(cfg.Telegram, 10*time.Second, logger)
		channels[tg.Name()] = tg
	}
	if cfg.Email.Enabled && cfg.Email.Host != "" && len(cfg.Email.To) > 0 {
		em := NewEmailChannel(cfg.Email, logger)
		channels[em.Name()] = em
	}

	return &Dispatcher{
		channels:   channels,
		deliveries: deliveries,
		logger:     logger.With().Str("component", "alert_dispatcher").Logger(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// RegisterChannel adds or replaces a channel. Intended for tests.
func (d *Dispatcher) RegisterChannel(ch Channel) {
	d.channels[ch.Name()] = ch
}

// Dispatch renders the firing once and sends it over every action channel.
func (d *Dispatcher) Dispatch(ctx context.Context, fired storage.AlertFired, rule storage.AlertRule) error {
	title, body := renderAlert(fired, rule)

	for _, action := range rule.Actions {
		delivery := storage.NotificationDelivery{
			AlertID:   fired.ID,
			Channel:   action,
			Timestamp: d.now(),
		}

		ch, ok := d.channels[action]
		if !ok {
			delivery.Status = storage.DeliverySkipped
			d.logger.Warn().Str("channel", action).Int64("alert_id", fired.ID).Msg("channel not configured, delivery skipped")
		} else {
			msgID, sendErr := ch.Send(ctx, title, body)
			if sendErr != nil {
				delivery.Status = storage.DeliveryFailed
				d.logger.Error().Err(sendErr).Str("channel", action).Int64("alert_id", fired.ID).Msg("delivery failed")
			} else {
				delivery.Status = storage.DeliverySent
				delivery.ProviderMessageID = msgID
				d.logger.Info().Str("channel", action).Int64("alert_id", fired.ID).Msg("alert delivered")
			}
		}

		if err := d.deliveries.InsertDelivery(ctx, delivery); err != nil {
			return fmt.Errorf("record delivery: %w", err)
		}
	}
	return nil
}

// renderAlert produces a human-readable title and body from the stored
// payload. Known payload shapes get a tailored body; anything else falls
// back to sorted key/value lines.
func renderAlert(fired storage.AlertFired, rule storage.AlertRule) (string, string) {
	var payload map[string]any
	if err := json.Unmarshal(fired.Payload, &payload); err != nil {
		payload = map[string]any{}
	}

	indicator, _ := payload["indicator"].(string)
	title := rule.Name
	if indicator != "" {
		title = fmt.Sprintf("%s: %s", rule.Name, indicator)
	}

	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("Fired: %s UTC\n", fired.Timestamp.UTC().Format(time.RFC3339)))

	switch {
	case payload["threshold"] != nil:
		builder.WriteString(fmt.Sprintf("Value %v crossed %v threshold %v\n",
			payload["value"], payload["direction"], payload["threshold"]))
	case payload["from"] != nil && payload["to"] != nil:
		builder.WriteString(fmt.Sprintf("Trend changed: %v -> %v\n", payload["from"], payload["to"]))
	case payload["confirmations"] != nil:
		builder.WriteString(fmt.Sprintf("Status %v held for %v consecutive snapshots\n",
			payload["status"], payload["confirmations"]))
	default:
		keys := make([]string, 0, len(payload))
		for k := range payload {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			builder.WriteString(fmt.Sprintf("%s: %v\n", k, payload[k]))
		}
	}
	return title, builder.String()
}
