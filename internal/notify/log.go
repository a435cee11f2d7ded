// Package notify holds the alert notifiers. Each one serves a set of
// escalation channels; the dispatcher only hands it alerts on those.
package notify

import (
	"context"
	"log/slog"

	"faceguard/internal/alerts"
	"faceguard/internal/model"
)

// LogNotifier writes every alert to the structured log.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Name() string { return "log" }

func (n *LogNotifier) Channels() []string { return []string{alerts.ChannelLog} }

func (n *LogNotifier) Notify(_ context.Context, a model.Alert) error {
	if n.logger == nil {
		return nil
	}
	level := slog.LevelInfo
	if a.Severity.Rank() >= model.SeverityHigh.Rank() {
		level = slog.LevelWarn
	}
	n.logger.Log(context.Background(), level, "alert",
		"alert_id", a.ID,
		"session_id", a.SessionID,
		"alert_type", a.Type,
		"severity", a.Severity,
		"score", a.Score,
		"occurrences", a.Occurrences,
		"message", a.Message,
	)
	return nil
}
