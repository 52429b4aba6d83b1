// Package ack models acknowledgement handles for durable writes. The
// pipeline accumulates handles as it runs and returns them to the caller,
// which must wait on all of them before committing the source message.
package ack

import (
	"context"
	"sync"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/bahdcoder/posthog/internal/metrics"
)

// Ack is a handle on a pending durable write.
type Ack interface {
	// Wait blocks until the write is acknowledged or fails. It is safe to
	// call more than once; the resolved outcome is cached.
	Wait(ctx context.Context) error
}

// resolved is an Ack that already has its outcome.
type resolved struct {
	err error
}

func (r resolved) Wait(ctx context.Context) error {
	return r.err
}

// Resolved returns an Ack that is already successfully completed.
func Resolved() Ack {
	return resolved{}
}

// Failed returns an Ack that already carries a failure.
func Failed(err error) Ack {
	return resolved{err: err}
}

// future adapts a JetStream publish future into an Ack.
type future struct {
	pf jetstream.PubAckFuture

	mu   sync.Mutex
	done bool
	err  error
}

// FromFuture wraps a JetStream publish future. The pending-acknowledgement
// gauge is incremented until the future resolves.
func FromFuture(pf jetstream.PubAckFuture) Ack {
	metrics.AcksPending.Inc()
	return &future{pf: pf}
}

func (f *future) Wait(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.done {
		return f.err
	}

	select {
	case <-f.pf.Ok():
		f.resolve(nil)
	case err := <-f.pf.Err():
		f.resolve(err)
	case <-ctx.Done():
		// Not resolved; a later Wait may still observe the outcome.
		return ctx.Err()
	}
	return f.err
}

// resolve records the outcome. Caller holds f.mu.
func (f *future) resolve(err error) {
	f.done = true
	f.err = err
	metrics.AcksPending.Dec()
	if err != nil {
		metrics.AcksFailed.Inc()
		return
	}
	metrics.AcksCompleted.Inc()
}

// WaitAll waits for every handle in order and returns the first failure.
func WaitAll(ctx context.Context, acks []Ack) error {
	for _, a := range acks {
		if err := a.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}
