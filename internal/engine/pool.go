package engine

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"

	"faceguard/internal/model"
)

var (
	ErrPoolClosed    = errors.New("frame pool closed")
	ErrFramePanicked = errors.New("frame processing panicked")
)

// FrameProcessor is the part of the engine the pool drives.
type FrameProcessor interface {
	ProcessFrame(in model.FrameInput) (model.FrameResult, error)
}

type job struct {
	in   model.FrameInput
	done func(model.FrameResult, error)
}

// Pool runs frames on a fixed set of workers. A session always hashes to
// the same worker, so its frames stay in order while sessions on different
// workers run in parallel.
type Pool struct {
	proc    FrameProcessor
	logger  *slog.Logger
	workers []chan job
	mu      sync.RWMutex
	closed  bool
}

func NewPool(proc FrameProcessor, workers, buffer int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if buffer <= 0 {
		buffer = 64
	}
	p := &Pool{proc: proc, logger: logger, workers: make([]chan job, workers)}
	for i := range p.workers {
		p.workers[i] = make(chan job, buffer)
	}
	return p
}

func (p *Pool) shard(sessionID string) chan job {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	return p.workers[h.Sum32()%uint32(len(p.workers))]
}

// Submit queues a frame, waiting for room on the session's worker. done may
// be nil; it runs on the worker goroutine.
func (p *Pool) Submit(ctx context.Context, in model.FrameInput, done func(model.FrameResult, error)) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.shard(in.SessionID) <- job{in: in, done: done}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Process submits a frame and waits for its result.
func (p *Pool) Process(ctx context.Context, in model.FrameInput) (model.FrameResult, error) {
	type out struct {
		res model.FrameResult
		err error
	}
	ch := make(chan out, 1)
	if err := p.Submit(ctx, in, func(res model.FrameResult, err error) { ch <- out{res, err} }); err != nil {
		return model.FrameResult{}, err
	}
	select {
	case o := <-ch:
		return o.res, o.err
	case <-ctx.Done():
		return model.FrameResult{}, ctx.Err()
	}
}

// Serve runs the workers until ctx is done. Frames still queued at that
// point are processed before Serve returns.
func (p *Pool) Serve(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, ch := range p.workers {
		wg.Add(1)
		go func(ch chan job) {
			defer wg.Done()
			p.work(ch)
		}(ch)
	}
	<-ctx.Done()
	p.mu.Lock()
	p.closed = true
	for _, ch := range p.workers {
		close(ch)
	}
	p.mu.Unlock()
	wg.Wait()
	return ctx.Err()
}

func (p *Pool) String() string {
	return "frame-pool"
}

func (p *Pool) work(ch chan job) {
	for j := range ch {
		res, err := p.process(j.in)
		if errors.Is(err, ErrFramePanicked) && p.logger != nil {
			p.logger.Error("frame panicked", "session_id", j.in.SessionID, "seq", j.in.Seq, "err", err)
		} else if err != nil && p.logger != nil {
			p.logger.Debug("frame rejected", "session_id", j.in.SessionID, "seq", j.in.Seq, "err", err)
		}
		if j.done != nil {
			j.done(res, err)
		}
	}
}

// process keeps a panic inside one frame from taking the worker down.
func (p *Pool) process(in model.FrameInput) (res model.FrameResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = model.FrameResult{}, fmt.Errorf("%w: %v", ErrFramePanicked, r)
		}
	}()
	return p.proc.ProcessFrame(in)
}
