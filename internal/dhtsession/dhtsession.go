// Package dhtsession defines the external contract for the DHT engine this
// module runs above (SPEC_FULL.md C4 / spec.md §4.12). The Kademlia routing,
// UDP transport, and replication are an external collaborator; this package
// only fixes the shape callers depend on, plus the borrowed/owned ownership
// split called for in spec.md §5 and §9 ("Global singletons in source →
// explicit ownership in the target").
package dhtsession

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrNotReady is returned by Get/Put when the session has not yet reported
// ready.
var ErrNotReady = errors.New("dhtsession: not ready")

// StatusCallback is invoked from the DHT's internal thread whenever session
// status changes. It must return quickly; long work should be dispatched
// elsewhere.
type StatusCallback func(ready bool)

// Session is the minimal key-value interface the DHT substrate exposes.
// A real implementation lives outside this module; tests and the dnanode CLI
// use MemSession.
type Session interface {
	// BootstrapRuntime attempts to connect to ip:port and returns a status.
	BootstrapRuntime(ctx context.Context, ip string, port int) error
	// WaitForReady blocks until the session is ready or timeout elapses,
	// returning false on timeout.
	WaitForReady(ctx context.Context, timeout time.Duration) bool
	// Get fetches the value stored at key, or ok=false if absent.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	// Put stores value at key with the given TTL.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// OnStatus registers a callback for ready/not-ready transitions. The
	// callback pointer is protected by a mutex internally; the callback body
	// itself must run outside that lock to avoid inversion.
	OnStatus(cb StatusCallback)
	// Close releases the session's resources. Idempotent.
	Close() error
}

// Handle wraps a Session with explicit ownership: either the Handle owns the
// session (and Close releases it) or it is borrowed (and Close is a no-op),
// preventing the double-free spec.md §5 calls out.
type Handle struct {
	mu      sync.Mutex
	session Session
	owned   bool
	closed  bool
}

// Own wraps session as an owned handle: Close will release it.
func Own(session Session) *Handle {
	return &Handle{session: session, owned: true}
}

// Borrow wraps session as a borrowed handle: Close is a no-op, the owner
// elsewhere is responsible for releasing it.
func Borrow(session Session) *Handle {
	return &Handle{session: session, owned: false}
}

// Session returns the underlying session, or nil if this handle has been
// closed.
func (h *Handle) Session() Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	return h.session
}

// Owned reports whether this handle owns the underlying session.
func (h *Handle) Owned() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.owned
}

// Close releases the session if this handle owns it. Safe to call multiple
// times; only the first call on an owned handle has an effect.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	if !h.owned {
		return nil
	}
	if h.session == nil {
		return nil
	}
	if err := h.session.Close(); err != nil {
		return fmt.Errorf("dhtsession: close: %w", err)
	}
	return nil
}
