package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"faceguard/internal/config"
)

func TestTreeRestartsFailingService(t *testing.T) {
	cfg := config.DefaultConfig().Supervise
	cfg.FailureBackoff = 10 * time.Millisecond
	tree := NewTree(cfg, nil)

	var runs atomic.Int32
	restarted := make(chan struct{})
	tree.AddIngest(Func{Name: "flaky", Run: func(ctx context.Context) error {
		if runs.Add(1) == 1 {
			return errors.New("boom")
		}
		close(restarted)
		<-ctx.Done()
		return ctx.Err()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	errc := tree.ServeBackground(ctx)
	select {
	case <-restarted:
	case <-time.After(5 * time.Second):
		t.Fatalf("service was not restarted")
	}
	cancel()
	<-errc
	if runs.Load() != 2 {
		t.Fatalf("expected two runs, got %d", runs.Load())
	}
}

func TestBlockingStopsOnCancel(t *testing.T) {
	stopped := make(chan struct{})
	svc := Blocking("watch", func(stop <-chan struct{}) {
		<-stop
		close(stopped)
	})
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- svc.Serve(ctx) }()
	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	select {
	case <-stopped:
	default:
		t.Fatalf("run must have returned before Serve")
	}
	if svc.String() != "watch" {
		t.Fatalf("unexpected name %q", svc.String())
	}
}
