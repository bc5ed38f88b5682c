package agent

import (
	"context"

	"github.com/tandem-cli/tandem/errors"
)

// compressionGuard serializes structural rewrites of a session's history.
// At most one compression runs per session at a time: the orchestrator
// blocks on Acquire at turn entry, while the manual compress command uses
// TryAcquire and surfaces a distinct error on contention instead of queuing.
type compressionGuard struct {
	sem chan struct{}
}

func newCompressionGuard() *compressionGuard {
	return &compressionGuard{sem: make(chan struct{}, 1)}
}

// Acquire blocks until the guard is free or ctx is cancelled.
func (g *compressionGuard) Acquire(ctx context.Context) error {
	select {
	case g.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryAcquire takes the guard only if it is free.
func (g *compressionGuard) TryAcquire() error {
	select {
	case g.sem <- struct{}{}:
		return nil
	default:
		return &errors.CompressionInProgressError{}
	}
}

func (g *compressionGuard) Release() {
	select {
	case <-g.sem:
	default:
		// Release without Acquire is a programming error; stay silent
		// rather than deadlock.
	}
}
