// Package discovery implements the bootstrap registry-refresh background
// task (SPEC_FULL.md C3 / spec.md §4.3): a joinable, cancellable task that
// waits for the DHT session to come up, fetches the well-known peer
// registry, filters stale entries, and reconciles survivors against the
// bootstrap cache.
package discovery

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/dna/dht/internal/bootstrap/cache"
	"github.com/dna/dht/internal/dhtsession"
)

// ReadyTimeout is the maximum time to wait for the DHT session to report
// ready before giving up, per spec.md §4.3.
const ReadyTimeout = 10 * time.Second

// RegistryFetchAttempts and RegistryFetchDelay bound the registry-fetch
// retry loop: up to 3 attempts, 1s apart.
const (
	RegistryFetchAttempts = 3
	RegistryFetchDelay    = 1 * time.Second
)

// StaleAfter is the 15-minute staleness window a registry entry must be
// within to be considered for reconciliation.
const StaleAfter = 900 * time.Second

// RegistryEntry is one row of the well-known bootstrap peer registry, per
// spec.md §3 "Registry".
type RegistryEntry struct {
	IP       string `json:"ip"`
	Port     int    `json:"port"`
	NodeID   string `json:"node_id"`
	Version  string `json:"version"`
	LastSeen int64  `json:"last_seen"`
}

type registryDoc struct {
	Peers []RegistryEntry `json:"peers"`
}

// CompletionCallback is invoked exactly once when the task finishes,
// successfully or not, with the number of peers it successfully connected
// to. Task reads the callback and its user context under its lock, then
// releases the lock before making the call (spec.md §4.3).
type CompletionCallback func(connectedCount int, userCtx any)

// Config bundles the inputs a Task needs.
type Config struct {
	RegistryKey string
	Session     dhtsession.Session
	Cache       *cache.Cache
	Clock       clock.Clock // nil defaults to the real clock
	Logger      *logrus.Logger
	OnComplete  CompletionCallback
	UserCtx     any
}

// Task is a joinable background registry-refresh run. Zero value is not
// usable; construct with New.
type Task struct {
	cfg Config
	clk clock.Clock
	log *logrus.Logger

	mu        sync.Mutex
	running   bool
	done      chan struct{}
	connected int

	onComplete CompletionCallback
	userCtx    any
}

// New builds a Task from cfg. The task does not start until Run is called.
func New(cfg Config) *Task {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Task{
		cfg:        cfg,
		clk:        clk,
		log:        log,
		done:       make(chan struct{}),
		onComplete: cfg.OnComplete,
		userCtx:    cfg.UserCtx,
	}
}

// SetCompletionCallback replaces the completion callback under the task's
// lock, safe to call concurrently with a running task (it will fire the new
// callback if the task has not completed yet).
func (t *Task) SetCompletionCallback(cb CompletionCallback, userCtx any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onComplete = cb
	t.userCtx = userCtx
}

// Start launches Run in its own goroutine and returns immediately; call
// Wait to join it. Safe to use instead of calling Run directly when the
// caller wants a true background task.
func (t *Task) Start(ctx context.Context) {
	go t.Run(ctx)
}

// Run starts the task synchronously in the calling goroutine. Callers that
// want a background task spawn it themselves: `go task.Run(ctx)`, or call
// Start. Run returns once the registry has been fetched, reconciled, and
// the completion callback has fired, or once Stop is called (in which case
// it finishes the in-flight peer's bookkeeping before returning).
func (t *Task) Run(ctx context.Context) {
	t.mu.Lock()
	t.running = true
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		t.running = false
		cb, userCtx, connected := t.onComplete, t.userCtx, t.connected
		t.mu.Unlock()
		if cb != nil {
			cb(connected, userCtx)
		}
		close(t.done)
	}()

	if !t.cfg.Session.WaitForReady(ctx, ReadyTimeout) {
		t.log.Warn("bootstrap discovery: DHT session did not become ready in time")
		return
	}

	doc, err := t.fetchRegistry(ctx)
	if err != nil {
		t.log.WithError(err).Warn("bootstrap discovery: registry fetch failed")
		return
	}

	now := time.Now().Unix()
	connected := 0
	for _, entry := range doc.Peers {
		if !t.isRunning() {
			t.log.Debug("bootstrap discovery: cancelled, stopping before next peer")
			break
		}
		if now-entry.LastSeen > int64(StaleAfter.Seconds()) {
			continue
		}
		if t.reconcile(ctx, entry) {
			connected++
		}
	}

	t.mu.Lock()
	t.connected = connected
	t.mu.Unlock()
}

// reconcile puts entry into the cache, attempts a runtime connect, and
// records the outcome. It always finishes this bookkeeping even if
// cancellation was requested mid-peer, per spec.md §4.3's joinable-handle
// contract.
func (t *Task) reconcile(ctx context.Context, entry RegistryEntry) bool {
	if err := t.cfg.Cache.Put(entry.IP, entry.Port, entry.NodeID, entry.Version, entry.LastSeen); err != nil {
		t.log.WithError(err).WithField("peer", entry.IP).Warn("bootstrap discovery: cache put failed")
		return false
	}

	if err := t.cfg.Session.BootstrapRuntime(ctx, entry.IP, entry.Port); err != nil {
		if merr := t.cfg.Cache.MarkFailed(entry.IP, entry.Port); merr != nil {
			t.log.WithError(merr).Warn("bootstrap discovery: mark failed")
		}
		return false
	}
	if err := t.cfg.Cache.MarkConnected(entry.IP, entry.Port); err != nil {
		t.log.WithError(err).Warn("bootstrap discovery: mark connected")
	}
	return true
}

func (t *Task) fetchRegistry(ctx context.Context) (registryDoc, error) {
	var lastErr error
	for attempt := 0; attempt < RegistryFetchAttempts; attempt++ {
		raw, ok, err := t.cfg.Session.Get(ctx, t.cfg.RegistryKey)
		if err == nil && ok {
			var doc registryDoc
			if uerr := json.Unmarshal(raw, &doc); uerr != nil {
				return registryDoc{}, uerr
			}
			return doc, nil
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = errNotFound
		}
		if attempt < RegistryFetchAttempts-1 {
			t.sleep(ctx, RegistryFetchDelay)
		}
	}
	return registryDoc{}, lastErr
}

func (t *Task) sleep(ctx context.Context, d time.Duration) {
	timer := t.clk.Timer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func (t *Task) isRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Stop requests cancellation: the task finishes its current peer's
// bookkeeping, then exits its reconciliation loop. It does not block; call
// Wait to join.
func (t *Task) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = false
}

// Wait blocks until the task has fully terminated (including having fired
// its completion callback). Callers MUST Wait before releasing the DHT
// session the task was given, to avoid a use-after-free (spec.md §4.3).
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ConnectedCount returns the number of peers successfully connected to in
// the most recently completed run.
func (t *Task) ConnectedCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

var errNotFound = &notFoundErr{}

type notFoundErr struct{}

func (*notFoundErr) Error() string { return "discovery: registry key not found" }
