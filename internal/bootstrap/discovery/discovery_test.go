package discovery

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/dna/dht/internal/bootstrap/cache"
	"github.com/dna/dht/internal/dhtsession"
)

func newTestCache(t *testing.T) *cache.Cache {
	t.Helper()
	c, err := cache.Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func seedRegistry(t *testing.T, sess *dhtsession.MemSession, key string, peers []RegistryEntry) {
	t.Helper()
	raw, err := json.Marshal(registryDoc{Peers: peers})
	require.NoError(t, err)
	require.NoError(t, sess.Put(context.Background(), key, raw, 0))
}

func TestRunReconcilesFreshPeers(t *testing.T) {
	sess := dhtsession.NewMemSession()
	c := newTestCache(t)
	now := time.Now().Unix()
	seedRegistry(t, sess, "registry-key", []RegistryEntry{
		{IP: "1.2.3.4", Port: 9000, NodeID: "n1", LastSeen: now},
		{IP: "5.6.7.8", Port: 9001, NodeID: "n2", LastSeen: now},
	})

	var gotConnected int
	task := New(Config{
		RegistryKey: "registry-key",
		Session:     sess,
		Cache:       c,
		OnComplete:  func(connected int, _ any) { gotConnected = connected },
	})

	task.Run(context.Background())
	require.NoError(t, task.Wait(context.Background()))
	require.Equal(t, 2, gotConnected)

	entries, err := c.All()
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestRunFiltersStalePeers(t *testing.T) {
	sess := dhtsession.NewMemSession()
	c := newTestCache(t)
	now := time.Now().Unix()
	seedRegistry(t, sess, "registry-key", []RegistryEntry{
		{IP: "1.2.3.4", Port: 9000, NodeID: "fresh", LastSeen: now},
		{IP: "9.9.9.9", Port: 9002, NodeID: "stale", LastSeen: now - 901},
	})

	var gotConnected int
	task := New(Config{
		RegistryKey: "registry-key",
		Session:     sess,
		Cache:       c,
		OnComplete:  func(connected int, _ any) { gotConnected = connected },
	})

	task.Run(context.Background())
	require.NoError(t, task.Wait(context.Background()))
	require.Equal(t, 1, gotConnected)

	exists, err := c.Exists("9.9.9.9", 9002)
	require.NoError(t, err)
	require.False(t, exists)
}

func TestRunWaitsForSessionReadyThenGivesUp(t *testing.T) {
	sess := dhtsession.NewMemSession()
	sess.SetReady(false)
	c := newTestCache(t)
	mock := clock.NewMock()

	called := false
	task := New(Config{
		RegistryKey: "registry-key",
		Session:     sess,
		Cache:       c,
		Clock:       mock,
		OnComplete:  func(int, any) { called = true },
	})

	done := make(chan struct{})
	go func() {
		task.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return promptly when session never becomes ready")
	}
	require.True(t, called)
	require.Equal(t, 0, task.ConnectedCount())
}

// flakyGetSession wraps a MemSession and fails Get with ok=false for the
// first N calls before delegating, to deterministically exercise the
// registry-fetch retry loop without racing real or mock time.
type flakyGetSession struct {
	*dhtsession.MemSession
	mu       sync.Mutex
	failLeft int
}

func (f *flakyGetSession) Get(ctx context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	if f.failLeft > 0 {
		f.failLeft--
		f.mu.Unlock()
		return nil, false, nil
	}
	f.mu.Unlock()
	return f.MemSession.Get(ctx, key)
}

func TestRunRetriesRegistryFetchThenSucceeds(t *testing.T) {
	sess := &flakyGetSession{MemSession: dhtsession.NewMemSession(), failLeft: 2}
	c := newTestCache(t)
	mock := clock.NewMock()
	now := time.Now().Unix()
	seedRegistry(t, sess.MemSession, "registry-key", []RegistryEntry{
		{IP: "1.2.3.4", Port: 9000, NodeID: "n1", LastSeen: now},
	})

	task := New(Config{
		RegistryKey: "registry-key",
		Session:     sess,
		Cache:       c,
		Clock:       mock,
	})

	done := make(chan struct{})
	go func() {
		task.Run(context.Background())
		close(done)
	}()

	// Let the two failed attempts' retry sleeps advance; the third attempt
	// finds the already-seeded registry.
	time.Sleep(20 * time.Millisecond)
	mock.Add(RegistryFetchDelay)
	time.Sleep(20 * time.Millisecond)
	mock.Add(RegistryFetchDelay)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run never completed")
	}
	require.Equal(t, 1, task.ConnectedCount())
}

// stopOnFirstConnect asks the task to stop as soon as the first peer's
// BootstrapRuntime call lands, so the cancellation lands mid-loop: the
// current peer's bookkeeping (mark_connected) must still complete before
// the loop observes the cancellation and exits.
type stopOnFirstConnect struct {
	*dhtsession.MemSession
	stopFn func()
}

func (s *stopOnFirstConnect) BootstrapRuntime(ctx context.Context, ip string, port int) error {
	if s.stopFn != nil {
		s.stopFn()
	}
	return s.MemSession.BootstrapRuntime(ctx, ip, port)
}

func TestStopFinishesInFlightPeerThenExits(t *testing.T) {
	now := time.Now().Unix()
	var peers []RegistryEntry
	for i := 0; i < 5; i++ {
		peers = append(peers, RegistryEntry{IP: "10.0.0.1", Port: 9000 + i, NodeID: "n", LastSeen: now})
	}

	sess := &stopOnFirstConnect{MemSession: dhtsession.NewMemSession()}
	c := newTestCache(t)
	seedRegistry(t, sess.MemSession, "registry-key", peers)

	task := New(Config{
		RegistryKey: "registry-key",
		Session:     sess,
		Cache:       c,
	})
	sess.stopFn = task.Stop

	task.Run(context.Background())
	require.NoError(t, task.Wait(context.Background()))
	// Cancellation lands after the first peer's bookkeeping, so exactly
	// one peer is reconciled even though five survived the staleness
	// filter.
	require.Equal(t, 1, task.ConnectedCount())

	entries, err := c.All()
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestRunMarksConnectedOnSuccessfulBootstrap(t *testing.T) {
	sess := dhtsession.NewMemSession()
	c := newTestCache(t)
	now := time.Now().Unix()
	seedRegistry(t, sess, "registry-key", []RegistryEntry{
		{IP: "1.2.3.4", Port: 9000, NodeID: "n1", LastSeen: now},
	})

	task := New(Config{
		RegistryKey: "registry-key",
		Session:     sess,
		Cache:       c,
	})
	task.Run(context.Background())
	require.NoError(t, task.Wait(context.Background()))
	require.Equal(t, 1, task.ConnectedCount())

	entries, err := c.All()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, 1, entries[0].Attempts)
}
