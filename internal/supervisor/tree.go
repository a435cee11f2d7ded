// Package supervisor runs the long-lived services under a suture tree.
package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"faceguard/internal/config"
)

// Tree has three layers: the frame pipeline (workers, sweeper, alert
// dispatch), ingest, and the API.
type Tree struct {
	root     *suture.Supervisor
	pipeline *suture.Supervisor
	ingest   *suture.Supervisor
	api      *suture.Supervisor
}

func NewTree(cfg config.SuperviseConfig, logger *slog.Logger) *Tree {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.FailureDecay == 0 {
		cfg.FailureDecay = 30
	}
	if cfg.FailureBackoff == 0 {
		cfg.FailureBackoff = 15 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	spec := suture.Spec{
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	}
	rootSpec := spec
	if logger != nil {
		handler := &sutureslog.Handler{Logger: logger}
		rootSpec.EventHook = handler.MustHook()
	}
	t := &Tree{
		root:     suture.New("faceguard", rootSpec),
		pipeline: suture.New("pipeline", spec),
		ingest:   suture.New("ingest", spec),
		api:      suture.New("api", spec),
	}
	t.root.Add(t.pipeline)
	t.root.Add(t.ingest)
	t.root.Add(t.api)
	return t
}

func (t *Tree) AddPipeline(svc suture.Service) suture.ServiceToken {
	return t.pipeline.Add(svc)
}

func (t *Tree) AddIngest(svc suture.Service) suture.ServiceToken {
	return t.ingest.Add(svc)
}

func (t *Tree) AddAPI(svc suture.Service) suture.ServiceToken {
	return t.api.Add(svc)
}

func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

func (t *Tree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}
