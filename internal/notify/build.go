package notify

import (
	"log/slog"

	"faceguard/internal/alerts"
	"faceguard/internal/config"
)

// FromConfig builds the enabled notifiers.
func FromConfig(cfg config.NotifyConfig, logger *slog.Logger) []alerts.Notifier {
	var out []alerts.Notifier
	if cfg.Log.Enabled {
		out = append(out, NewLogNotifier(logger))
	}
	if cfg.Webhook.Enabled {
		out = append(out, NewWebhookNotifier(cfg.Webhook, nil))
	}
	if cfg.Kafka.Enabled {
		out = append(out, NewKafkaNotifier(cfg.Kafka))
	}
	return out
}
