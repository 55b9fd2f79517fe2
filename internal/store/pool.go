package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"go.uber.org/zap"
)

// ErrPoolExhausted is returned when Acquire's context expires before a
// handle becomes available.
var ErrPoolExhausted = errors.New("connection pool exhausted")

// Handle is one pooled persistence connection.
type Handle interface {
	io.Closer
}

// Factory opens a fresh handle. It is called eagerly at pool construction
// and again whenever an invalid handle needs replacing.
type Factory func(ctx context.Context) (Handle, error)

// Pool is a fixed-size pool of persistence connections. Handles are checked
// out exclusively; a handle released as invalid is closed and replaced in
// the background so the pool eventually returns to its configured size.
type Pool struct {
	size    int
	factory Factory
	free    chan Handle
	log     *zap.Logger

	onReplenish func() // metrics hook, may be nil
}

// NewPool opens size connections up front. Construction fails if any of the
// initial connections cannot be opened.
func NewPool(ctx context.Context, size int, factory Factory, log *zap.Logger) (*Pool, error) {
	if size <= 0 {
		return nil, fmt.Errorf("pool size must be positive, got %d", size)
	}
	p := &Pool{
		size:    size,
		factory: factory,
		free:    make(chan Handle, size),
		log:     log,
	}
	for i := 0; i < size; i++ {
		h, err := factory(ctx)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("open pool connection %d/%d: %w", i+1, size, err)
		}
		p.free <- h
	}
	p.log.Info("connection pool initialized", zap.Int("size", size))
	return p, nil
}

// SetReplenishHook installs a callback fired each time a replacement handle
// is inserted. Must be called before the pool is shared.
func (p *Pool) SetReplenishHook(fn func()) { p.onReplenish = fn }

// Acquire blocks until a handle is available or ctx expires. Callers must
// not invoke it from a context that can never block.
func (p *Pool) Acquire(ctx context.Context) (Handle, error) {
	select {
	case h := <-p.free:
		return h, nil
	default:
	}
	select {
	case h := <-p.free:
		return h, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrPoolExhausted, ctx.Err())
	}
}

// Release returns a handle. A valid handle goes back to the pool and wakes
// one waiter; an invalid one is closed and a background task opens its
// replacement, so the releasing caller never blocks on reconnection.
func (p *Pool) Release(h Handle, valid bool) {
	if h == nil {
		return
	}
	if valid {
		p.free <- h
		return
	}
	_ = h.Close()
	p.log.Warn("dropped broken pool connection, replenishing")
	go p.replenish()
}

// replenish retries until a replacement handle is established.
func (p *Pool) replenish() {
	backoff := time.Second
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		h, err := p.factory(ctx)
		cancel()
		if err == nil {
			p.free <- h
			if p.onReplenish != nil {
				p.onReplenish()
			}
			p.log.Info("pool connection replenished")
			return
		}
		p.log.Warn("pool replenish attempt failed", zap.Error(err), zap.Duration("retry_in", backoff))
		time.Sleep(backoff)
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

// With runs fn with an exclusively held handle and releases it on every exit
// path, a panicking fn included. The handle is marked invalid when fn's error
// looks like a broken connection rather than a data-level failure.
func (p *Pool) With(ctx context.Context, fn func(Handle) error) (err error) {
	h, acquireErr := p.Acquire(ctx)
	if acquireErr != nil {
		return acquireErr
	}
	defer func() { p.Release(h, !isConnFatal(err)) }()
	return fn(h)
}

// Close drains and closes all currently pooled handles. Handles checked out
// at the time of the call are closed by their holders' release path.
func (p *Pool) Close() {
	for {
		select {
		case h := <-p.free:
			_ = h.Close()
		default:
			return
		}
	}
}

// isConnFatal classifies an error from a repository call as a transport-level
// connection failure. Data-level outcomes (including not-found, which
// repositories report as an absent result) never match.
func isConnFatal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
