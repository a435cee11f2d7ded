// Package engine wires sessions, the decision engine and alerting into the
// operations exposed to transports.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"faceguard/internal/alerts"
	"faceguard/internal/config"
	"faceguard/internal/decision"
	"faceguard/internal/metrics"
	"faceguard/internal/model"
	"faceguard/internal/session"
	"faceguard/internal/storage"
)

var ErrMissingUser = errors.New("user id is required")

// Publisher takes alerts off the frame path. Publish must not block;
// Pending is the number of alerts waiting for delivery.
type Publisher interface {
	Publish(a model.Alert) bool
	Pending() int
}

type Engine struct {
	logger   *slog.Logger
	cfg      atomic.Value
	sessions *session.Table
	alerts   *alerts.Store
	dispatch Publisher
	store    storage.Store
	cooldown *alerts.Cooldown
	now      func() time.Time
	started  time.Time
}

func NewEngine(cfg *config.Config, logger *slog.Logger, sessions *session.Table, alertsStore *alerts.Store, dispatch Publisher, store storage.Store) *Engine {
	if sessions == nil {
		sessions = session.NewTable()
	}
	if alertsStore == nil {
		alertsStore = alerts.NewStore(cfg.Alerts.StoreLimit)
	}
	e := &Engine{
		logger:   logger,
		sessions: sessions,
		alerts:   alertsStore,
		dispatch: dispatch,
		store:    store,
		cooldown: alerts.NewCooldown(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	e.started = e.now()
	e.cfg.Store(cfg)
	return e
}

// SetClock replaces the time source for the engine and its alert state.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
	e.alerts.SetClock(now)
	e.cooldown.SetClock(now)
}

// UpdateConfig swaps the configuration for sessions created from now on.
// Running sessions keep the snapshot they started with.
func (e *Engine) UpdateConfig(cfg *config.Config) {
	e.cfg.Store(cfg)
}

func (e *Engine) config() *config.Config {
	if v := e.cfg.Load(); v != nil {
		return v.(*config.Config)
	}
	return config.DefaultConfig()
}

func (e *Engine) Alerts() *alerts.Store {
	return e.alerts
}

func (e *Engine) StartSession(userID string) (model.SessionView, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return model.SessionView{}, ErrMissingUser
	}
	s, err := e.sessions.Create(userID, e.config(), e.now())
	if err != nil {
		return model.SessionView{}, err
	}
	metrics.ActiveSessions.Inc()
	if e.logger != nil {
		e.logger.Info("session started", "session_id", s.ID, "user_id", userID)
	}
	return s.View(), nil
}

// IssueChallenge starts a challenge; an empty type issues the next one in
// the session's sequence.
func (e *Engine) IssueChallenge(sessionID string, t model.ChallengeType) (model.Challenge, error) {
	s, err := e.sessions.Get(sessionID)
	if err != nil {
		return model.Challenge{}, err
	}
	c, err := s.IssueChallenge(t, e.now())
	if err != nil {
		e.afterControlError(s, err)
		return model.Challenge{}, err
	}
	return c, nil
}

func (e *Engine) NextChallenge(sessionID string) (model.Challenge, error) {
	return e.IssueChallenge(sessionID, "")
}

func (e *Engine) FailChallenge(sessionID string) (model.Challenge, error) {
	s, err := e.sessions.Get(sessionID)
	if err != nil {
		return model.Challenge{}, err
	}
	c, err := s.FailChallenge(e.now())
	if err != nil {
		e.afterControlError(s, err)
		return model.Challenge{}, err
	}
	e.challengeConcluded(e.config(), sessionID, c)
	return c, nil
}

// ProcessFrame analyzes one frame. Only session-control problems are
// returned as errors; everything about the frame itself ends up in scores
// and alerts.
func (e *Engine) ProcessFrame(in model.FrameInput) (model.FrameResult, error) {
	began := time.Now()
	s, err := e.sessions.Get(in.SessionID)
	if err != nil {
		metrics.FramesTotal.WithLabelValues("rejected").Inc()
		return model.FrameResult{}, err
	}
	res, err := s.Process(in, e.now())
	if err != nil {
		metrics.FramesTotal.WithLabelValues("rejected").Inc()
		e.afterControlError(s, err)
		return model.FrameResult{}, err
	}
	result := "analyzed"
	switch {
	case res.FaceCount > 1:
		result = "multi_face"
	case !res.FaceDetected:
		result = "no_face"
	}
	metrics.ObserveFrame(result, time.Since(began), res.Suspect)
	e.frameAlerts(e.config(), res)
	return res, nil
}

func (e *Engine) frameAlerts(cfg *config.Config, res model.FrameResult) {
	now := e.now()
	if res.FaceCount > 1 {
		e.raise(cfg, model.DetectionEvent{SessionID: res.SessionID, Type: model.AlertMultipleFaces, Score: res.MultiFaceRatio, Timestamp: now})
	}
	if res.FaceDetected {
		sub := []struct {
			t model.AlertType
			v float64
		}{
			{model.AlertTextureAnomaly, res.Scores.Texture},
			{model.AlertBlinkPatternAnomaly, res.Scores.BlinkPattern},
			{model.AlertUnusualGeometry, res.Scores.Geometry},
			{model.AlertTemporalInconsistency, res.Scores.Temporal},
		}
		for _, s := range sub {
			if s.v >= cfg.Alerts.AnomalyBand {
				e.raise(cfg, model.DetectionEvent{SessionID: res.SessionID, Type: s.t, Score: s.v, Timestamp: now})
			}
		}
		th := decision.ThresholdsFrom(cfg)
		if res.Analyzed >= cfg.Alerts.MinDeepfakeFrames && decision.DeepfakeDetected(res.SessionDeepfake, th) {
			e.raise(cfg, model.DetectionEvent{
				SessionID: res.SessionID,
				Type:      model.AlertDeepfakeDetected,
				Score:     res.SessionDeepfake,
				Detail:    fmt.Sprintf("%.0f%% suspect frames", res.SuspectRatio*100),
				Timestamp: now,
			})
		}
	}
	if res.ChallengeConcluded && res.Challenge != nil {
		e.challengeConcluded(cfg, res.SessionID, *res.Challenge)
	}
}

func (e *Engine) challengeConcluded(cfg *config.Config, sessionID string, c model.Challenge) {
	metrics.ChallengesTotal.WithLabelValues(string(c.Type), string(c.Outcome)).Inc()
	if c.Outcome == model.OutcomeTimedOut {
		e.raise(cfg, model.DetectionEvent{
			SessionID: sessionID,
			Type:      model.AlertChallengeTimeout,
			Score:     1,
			Detail:    string(c.Type),
			Timestamp: c.EndedAt,
		})
	}
}

// raise classifies, deduplicates and publishes. Updates to an existing
// alert are re-sent only on escalation or once the renotify cooldown passed.
func (e *Engine) raise(cfg *config.Config, ev model.DetectionEvent) {
	sev, ok := alerts.Classify(ev, cfg.Alerts)
	if !ok {
		return
	}
	r := e.alerts.Raise(ev, sev)
	if r.Created {
		metrics.AlertsTotal.WithLabelValues(string(r.Alert.Type), string(r.Alert.Severity)).Inc()
		if e.logger != nil {
			e.logger.Warn("alert raised",
				"session_id", r.Alert.SessionID,
				"alert_type", r.Alert.Type,
				"severity", r.Alert.Severity,
				"score", r.Alert.Score,
			)
		}
	}
	send := e.cooldown.Allow(r.Alert, cfg.Alerts.RenotifyCooldown)
	if e.dispatch != nil && (r.Created || r.Escalated || send) {
		e.dispatch.Publish(r.Alert)
	}
}

// Complete closes the session and returns its verdict together with every
// alert it raised.
func (e *Engine) Complete(ctx context.Context, sessionID string) (model.Completion, error) {
	s, err := e.sessions.Get(sessionID)
	if err != nil {
		return model.Completion{}, err
	}
	now := e.now()
	sum, err := s.Complete(now)
	if err != nil {
		e.afterControlError(s, err)
		return model.Completion{}, err
	}
	cfg := e.config()
	r := decision.Decide(sum, decision.ThresholdsFrom(cfg))
	e.verdictAlerts(cfg, sessionID, r, now)

	out := model.Completion{
		SessionID:       sessionID,
		UserID:          s.UserID,
		Status:          r.Status,
		LivenessScore:   r.LivenessScore,
		DeepfakeScore:   r.DeepfakeScore,
		PresenceRatio:   r.PresenceRatio,
		Challenges:      sum.Challenges,
		Recommendations: r.Recommendations,
		Alerts:          e.alerts.BySession(sessionID),
		CompletedAt:     now,
	}
	metrics.ActiveSessions.Dec()
	metrics.SessionsEndedTotal.WithLabelValues(string(model.SessionCompleted)).Inc()
	metrics.VerdictsTotal.WithLabelValues(string(r.Status)).Inc()
	e.cooldown.Forget(sessionID)
	if e.logger != nil {
		e.logger.Info("session completed",
			"session_id", sessionID,
			"verdict", r.Status,
			"liveness_score", r.LivenessScore,
			"deepfake_score", r.DeepfakeScore,
			"alerts", len(out.Alerts),
		)
	}
	if e.store != nil {
		sctx, cancel := context.WithTimeout(ctx, cfg.Notify.Timeout)
		if err := e.store.SaveVerdict(sctx, out); err != nil {
			metrics.StoreFailuresTotal.WithLabelValues("verdict").Inc()
			if e.logger != nil {
				e.logger.Warn("verdict store failed", "session_id", sessionID, "err", err)
			}
		}
		cancel()
	}
	return out, nil
}

func (e *Engine) verdictAlerts(cfg *config.Config, sessionID string, r decision.Result, now time.Time) {
	if r.DeepfakeDetected {
		e.raise(cfg, model.DetectionEvent{SessionID: sessionID, Type: model.AlertDeepfakeDetected, Score: r.DeepfakeScore, Timestamp: now})
	}
	if r.LivenessFailed {
		e.raise(cfg, model.DetectionEvent{SessionID: sessionID, Type: model.AlertLivenessFailed, Score: r.LivenessScore, Timestamp: now})
	}
	if r.PresenceRatio < cfg.Decision.PresenceFloor {
		e.raise(cfg, model.DetectionEvent{SessionID: sessionID, Type: model.AlertFaceNotDetected, Score: 1 - r.PresenceRatio, Timestamp: now})
	}
	if r.MultiFaceRatio > cfg.Decision.MultiFaceTolerance {
		e.raise(cfg, model.DetectionEvent{SessionID: sessionID, Type: model.AlertMultipleFaces, Score: r.MultiFaceRatio, Timestamp: now})
	}
}

func (e *Engine) Cancel(sessionID string) error {
	s, err := e.sessions.Get(sessionID)
	if err != nil {
		return err
	}
	if err := s.Cancel(e.now()); err != nil {
		return err
	}
	metrics.ActiveSessions.Dec()
	metrics.SessionsEndedTotal.WithLabelValues(string(model.SessionCancelled)).Inc()
	e.cooldown.Forget(sessionID)
	if e.logger != nil {
		e.logger.Info("session cancelled", "session_id", sessionID)
	}
	return nil
}

func (e *Engine) Status(sessionID string) (model.SessionView, error) {
	s, err := e.sessions.Get(sessionID)
	if err != nil {
		return model.SessionView{}, err
	}
	return s.View(), nil
}

// afterControlError accounts for a session that a call found expired.
func (e *Engine) afterControlError(s *session.Session, err error) {
	if errors.Is(err, session.ErrSessionTerminated) && s.Status() == model.SessionExpired && s.MarkReported() {
		metrics.ActiveSessions.Dec()
		metrics.SessionsEndedTotal.WithLabelValues(string(model.SessionExpired)).Inc()
	}
}

// Sweep runs one expiry pass.
func (e *Engine) Sweep() session.SweepReport {
	cfg := e.config()
	rep := e.sessions.Sweep(e.now(), cfg.Session.TerminalRetention)
	for _, to := range rep.TimedOut {
		e.challengeConcluded(cfg, to.SessionID, to.Challenge)
	}
	for _, id := range rep.Expired {
		if s, err := e.sessions.Get(id); err == nil && s.MarkReported() {
			metrics.ActiveSessions.Dec()
			metrics.SessionsEndedTotal.WithLabelValues(string(model.SessionExpired)).Inc()
		}
		e.cooldown.Forget(id)
	}
	if e.logger != nil && (len(rep.Expired) > 0 || len(rep.TimedOut) > 0 || rep.Reclaimed > 0) {
		e.logger.Debug("sweep", "expired", len(rep.Expired), "timed_out", len(rep.TimedOut), "reclaimed", rep.Reclaimed)
	}
	return rep
}

// RunSweeper sweeps on the configured interval until ctx is done.
func (e *Engine) RunSweeper(ctx context.Context) error {
	interval := e.config().Session.SweepInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.Sweep()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

type StatusReport struct {
	Uptime         string           `json:"uptime"`
	Sessions       int              `json:"sessions"`
	ActiveSessions int              `json:"active_sessions"`
	Alerts         model.AlertStats `json:"alerts"`
	AlertQueue     int              `json:"alert_queue"`
}

func (e *Engine) Report() StatusReport {
	r := StatusReport{
		Uptime:         e.now().Sub(e.started).Truncate(time.Second).String(),
		Sessions:       e.sessions.Len(),
		ActiveSessions: e.sessions.CountActive(),
		Alerts:         e.alerts.Stats(),
	}
	if e.dispatch != nil {
		r.AlertQueue = e.dispatch.Pending()
	}
	return r
}
