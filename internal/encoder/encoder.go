// Package encoder turns per-observer patches into wire bytes, either on the
// calling goroutine or on a worker pool so the tick loop can run ahead.
package encoder

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/l1jgo/worldsync/internal/protocol"
)

// ErrClosed is the result of a patch submitted after Close.
var ErrClosed = errors.New("encoder: closed")

// Encoder encodes patches. Submit never blocks on encoding work that is
// queued behind other patches.
type Encoder interface {
	Submit(p *protocol.Patch) *Future
	Close(ctx context.Context) error
}

// Future is the pending result of one Submit.
type Future struct {
	done chan struct{}
	data []byte
	err  error
}

func newFuture() *Future { return &Future{done: make(chan struct{})} }

func (f *Future) resolve(data []byte, err error) {
	f.data, f.err = data, err
	close(f.done)
}

// Done is closed once the result is available.
func (f *Future) Done() <-chan struct{} { return f.done }

// Ready reports whether Result would return without blocking.
func (f *Future) Ready() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Result waits for the encoded bytes.
func (f *Future) Result() ([]byte, error) {
	<-f.done
	return f.data, f.err
}

// Inline encodes on the caller's goroutine.
type Inline struct{}

func (Inline) Submit(p *protocol.Patch) *Future {
	f := newFuture()
	f.resolve(protocol.EncodePatch(p))
	return f
}

func (Inline) Close(context.Context) error { return nil }

type job struct {
	patch  *protocol.Patch
	future *Future
}

// Pool encodes on a fixed set of worker goroutines fed by a bounded queue.
// When the queue is full Submit encodes inline instead of blocking, so a
// slow pool costs latency, never a stalled tick.
type Pool struct {
	log  *zap.Logger
	jobs chan job
	g    errgroup.Group

	mu     sync.Mutex
	closed bool
}

func NewPool(workers, queue int, log *zap.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queue < 1 {
		queue = 1
	}
	p := &Pool{log: log, jobs: make(chan job, queue)}
	for i := 0; i < workers; i++ {
		p.g.Go(p.work)
	}
	log.Debug("encoder pool started", zap.Int("workers", workers), zap.Int("queue", queue))
	return p
}

func (p *Pool) work() error {
	for j := range p.jobs {
		j.future.resolve(protocol.EncodePatch(j.patch))
	}
	return nil
}

func (p *Pool) Submit(patch *protocol.Patch) *Future {
	f := newFuture()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		f.resolve(nil, ErrClosed)
		return f
	}
	select {
	case p.jobs <- job{patch: patch, future: f}:
	default:
		p.log.Debug("encoder queue full, encoding inline")
		f.resolve(protocol.EncodePatch(patch))
	}
	return f
}

// Pending returns the number of queued patches not yet picked up.
func (p *Pool) Pending() int { return len(p.jobs) }

// Close stops accepting patches and waits for queued ones to finish, or for
// ctx to expire.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- p.g.Wait() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
