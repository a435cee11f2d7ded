// Package alerts classifies detection events, keeps the deduplicated alert
// list and hands alerts to notifiers without blocking the frame pipeline.
package alerts

import (
	"fmt"

	"faceguard/internal/config"
	"faceguard/internal/model"
)

// Notification channels, in escalation order.
const (
	ChannelLog   = "log"
	ChannelEmail = "email"
	ChannelChat  = "chat"
	ChannelSMS   = "sms"
)

// Classify maps an event to a severity. The second result is false when the
// event is below the band that warrants an alert at all.
func Classify(ev model.DetectionEvent, cfg config.AlertsConfig) (model.Severity, bool) {
	switch ev.Type {
	case model.AlertDeepfakeDetected:
		if ev.Score >= cfg.CriticalBand {
			return model.SeverityCritical, true
		}
		return model.SeverityHigh, true
	case model.AlertLivenessFailed:
		return model.SeverityMedium, true
	case model.AlertChallengeTimeout:
		return model.SeverityLow, true
	case model.AlertFaceNotDetected:
		// score is the share of frames without a usable face
		if ev.Score >= 0.5 {
			return model.SeverityMedium, true
		}
		return model.SeverityLow, true
	case model.AlertMultipleFaces:
		if ev.Score >= 0.2 {
			return model.SeverityMedium, true
		}
		return model.SeverityLow, true
	case model.AlertTextureAnomaly, model.AlertBlinkPatternAnomaly,
		model.AlertUnusualGeometry, model.AlertTemporalInconsistency:
		if ev.Score < cfg.AnomalyBand {
			return "", false
		}
		if ev.Score >= cfg.HighBand {
			return model.SeverityMedium, true
		}
		return model.SeverityLow, true
	}
	return "", false
}

// Channels is the escalation policy: each severity adds one channel on top
// of the one below it.
func Channels(sev model.Severity) []string {
	all := []string{ChannelLog, ChannelEmail, ChannelChat, ChannelSMS}
	n := sev.Rank()
	if n < 1 {
		n = 1
	}
	return append([]string(nil), all[:n]...)
}

func Message(ev model.DetectionEvent) string {
	var msg string
	switch ev.Type {
	case model.AlertDeepfakeDetected:
		msg = fmt.Sprintf("Deepfake indicators detected (score %.2f)", ev.Score)
	case model.AlertLivenessFailed:
		msg = fmt.Sprintf("Liveness verification failed (score %.2f)", ev.Score)
	case model.AlertChallengeTimeout:
		msg = "Liveness challenge timed out"
	case model.AlertFaceNotDetected:
		msg = fmt.Sprintf("Face not detected in %.0f%% of frames", ev.Score*100)
	case model.AlertMultipleFaces:
		msg = fmt.Sprintf("Multiple faces detected in %.0f%% of frames", ev.Score*100)
	case model.AlertTextureAnomaly:
		msg = fmt.Sprintf("Texture anomaly (score %.2f)", ev.Score)
	case model.AlertBlinkPatternAnomaly:
		msg = fmt.Sprintf("Unnatural blink pattern (score %.2f)", ev.Score)
	case model.AlertUnusualGeometry:
		msg = fmt.Sprintf("Unusual facial geometry (score %.2f)", ev.Score)
	case model.AlertTemporalInconsistency:
		msg = fmt.Sprintf("Temporal inconsistency between frames (score %.2f)", ev.Score)
	default:
		msg = string(ev.Type)
	}
	if ev.Detail != "" {
		msg += ": " + ev.Detail
	}
	return msg
}
