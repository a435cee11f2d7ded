// Package api is the HTTP adapter over the engine. It only decodes,
// dispatches and maps errors; all decisions live in the engine.
package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"faceguard/internal/alerts"
	"faceguard/internal/config"
	"faceguard/internal/engine"
	"faceguard/internal/liveness"
	"faceguard/internal/model"
	"faceguard/internal/session"
)

const maxBody = 8 << 20

// Engine is the set of operations the API exposes.
type Engine interface {
	StartSession(userID string) (model.SessionView, error)
	IssueChallenge(sessionID string, t model.ChallengeType) (model.Challenge, error)
	FailChallenge(sessionID string) (model.Challenge, error)
	Complete(ctx context.Context, sessionID string) (model.Completion, error)
	Cancel(sessionID string) error
	Status(sessionID string) (model.SessionView, error)
	Report() engine.StatusReport
	Alerts() *alerts.Store
}

// FrameRunner processes a frame in session order and waits for the result.
type FrameRunner interface {
	Process(ctx context.Context, in model.FrameInput) (model.FrameResult, error)
}

type Server struct {
	cfg     *config.Manager
	engine  Engine
	frames  FrameRunner
	logger  *slog.Logger
	version string
}

type statusResponse struct {
	Status     string              `json:"status"`
	Time       string              `json:"time"`
	Version    string              `json:"version"`
	ConfigPath string              `json:"config_path"`
	Engine     engine.StatusReport `json:"engine"`
	Ingest     ingestStatus        `json:"ingest"`
	Notify     notifyStatus        `json:"notify"`
	Storage    storageStatus       `json:"storage"`
}

type ingestStatus struct {
	Kafka bool `json:"kafka"`
}

type notifyStatus struct {
	Log     bool `json:"log"`
	Webhook bool `json:"webhook"`
	Kafka   bool `json:"kafka"`
}

type storageStatus struct {
	Enabled bool   `json:"enabled"`
	Driver  string `json:"driver"`
}

func NewServer(cfg *config.Manager, eng Engine, frames FrameRunner, logger *slog.Logger, version string) *Server {
	return &Server{cfg: cfg, engine: eng, frames: frames, logger: logger, version: version}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/status", s.handleStatus)
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/admin/clear", s.handleClear)

	r.Route("/api/v1/sessions", func(r chi.Router) {
		r.Post("/", s.handleStartSession)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleSessionStatus)
			r.Delete("/", s.handleCancel)
			r.Post("/challenges", s.handleIssueChallenge)
			r.Post("/challenges/fail", s.handleFailChallenge)
			r.Post("/frames", s.handleFrame)
			r.Post("/complete", s.handleComplete)
		})
	})
	r.Route("/api/v1/alerts", func(r chi.Router) {
		r.Get("/", s.handleAlerts)
		r.Get("/active", s.handleActiveAlerts)
		r.Get("/statistics", s.handleAlertStats)
		r.Post("/{id}/acknowledge", s.handleAcknowledge)
	})
	return r
}

// Serve listens until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	addr := s.cfg.Get().API.Addr
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	if s.logger != nil {
		s.logger.Info("api listening", "addr", addr)
	}
	errc := make(chan error, 1)
	go func() { errc <- httpServer.ListenAndServe() }()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
		return ctx.Err()
	}
}

func (s *Server) String() string {
	return "api"
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	cfg := s.cfg.Get()
	writeJSON(w, http.StatusOK, statusResponse{
		Status:     "ok",
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		Version:    s.version,
		ConfigPath: s.cfg.Path(),
		Engine:     s.engine.Report(),
		Ingest:     ingestStatus{Kafka: cfg.Ingest.Kafka.Enabled},
		Notify: notifyStatus{
			Log:     cfg.Notify.Log.Enabled,
			Webhook: cfg.Notify.Webhook.Enabled,
			Kafka:   cfg.Notify.Kafka.Enabled,
		},
		Storage: storageStatus{Enabled: cfg.Storage.Enabled, Driver: cfg.Storage.Driver},
	})
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if !decodeBody(w, r, &req, false) {
		return
	}
	v, err := s.engine.StartSession(req.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	v, err := s.engine.Status(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.engine.Cancel(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "status": model.SessionCancelled})
}

func (s *Server) handleIssueChallenge(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type model.ChallengeType `json:"type"`
	}
	if !decodeBody(w, r, &req, true) {
		return
	}
	c, err := s.engine.IssueChallenge(chi.URLParam(r, "id"), req.Type)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleFailChallenge(w http.ResponseWriter, r *http.Request) {
	c, err := s.engine.FailChallenge(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	var in model.FrameInput
	if !decodeBody(w, r, &in, false) {
		return
	}
	in.SessionID = chi.URLParam(r, "id")
	if in.Image != nil && !in.Image.Valid() {
		writeJSON(w, http.StatusBadRequest, errorBody("image dimensions do not match pixel data"))
		return
	}
	res, err := s.frames.Process(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	out, err := s.engine.Complete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	store := s.engine.Alerts()
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	var list []model.Alert
	switch {
	case r.URL.Query().Get("session_id") != "":
		list = store.BySession(r.URL.Query().Get("session_id"))
	case r.URL.Query().Get("since") != "":
		ts, err := time.Parse(time.RFC3339, r.URL.Query().Get("since"))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("since must be RFC3339"))
			return
		}
		list = store.Since(ts)
	default:
		list = store.List(limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": list,
		"count":  len(list),
	})
}

func (s *Server) handleActiveAlerts(w http.ResponseWriter, r *http.Request) {
	list := s.engine.Alerts().Active()
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": list,
		"count":  len(list),
	})
}

func (s *Server) handleAlertStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Alerts().Stats())
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AcknowledgedBy string `json:"acknowledged_by"`
	}
	if !decodeBody(w, r, &req, false) {
		return
	}
	if strings.TrimSpace(req.AcknowledgedBy) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("acknowledged_by is required"))
		return
	}
	a, err := s.engine.Alerts().Acknowledge(chi.URLParam(r, "id"), req.AcknowledgedBy)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	s.engine.Alerts().Clear()
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// decodeBody reads a JSON body into dst. With optional set an empty body
// is accepted as-is.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any, optional bool) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("unreadable body"))
		return false
	}
	if len(strings.TrimSpace(string(body))) == 0 && optional {
		return true
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid json: "+err.Error()))
		return false
	}
	return true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, alerts.ErrAlertNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrSessionTerminated),
		errors.Is(err, session.ErrChallengeInProgress),
		errors.Is(err, session.ErrChallengeOutOfOrder),
		errors.Is(err, session.ErrNoChallengesLeft),
		errors.Is(err, session.ErrNoChallengeActive),
		errors.Is(err, session.ErrStaleFrame):
		return http.StatusConflict
	case errors.Is(err, liveness.ErrUnknownChallenge), errors.Is(err, engine.ErrMissingUser):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrPoolClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorBody(err.Error()))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
