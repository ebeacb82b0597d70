package engine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/dna/dht/internal/bootstrap/cache"
	"github.com/dna/dht/internal/chunked"
	"github.com/dna/dht/internal/cryptoadapter"
	"github.com/dna/dht/internal/dhtsession"
	"github.com/dna/dht/pkg/config"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	c, err := cache.Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	cfg := &config.Config{}
	cfg.Bootstrap.RegistryKey = "dna:registry:bootstrap"

	eng, err := New(Options{
		Config:   cfg,
		Session:  dhtsession.NewMemSession(),
		Owned:    true,
		Layer:    chunked.NewMemLayer(),
		Cache:    c,
		Registry: prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	return eng
}

func TestNewRequiresSessionLayerAndCache(t *testing.T) {
	_, err := New(Options{Layer: chunked.NewMemLayer(), Cache: &cache.Cache{}})
	require.Error(t, err)

	_, err = New(Options{Session: dhtsession.NewMemSession(), Cache: &cache.Cache{}})
	require.Error(t, err)

	_, err = New(Options{Session: dhtsession.NewMemSession(), Layer: chunked.NewMemLayer()})
	require.Error(t, err)
}

func TestBackupAndRecoverIdentityRoundTrip(t *testing.T) {
	eng := newTestEngine(t)
	t.Setenv("HOME", t.TempDir())
	ctx := context.Background()

	gen, _, err := eng.BackupIdentity(ctx, 1000)
	require.NoError(t, err)

	_, cert, err := eng.RecoverIdentity(ctx, gen.Identity.Fingerprint, gen.EncPriv)
	require.NoError(t, err)
	require.Equal(t, gen.Identity.Fingerprint, cert.Fingerprint)
}

func TestCreateGetDeleteTopicThroughEngine(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	kp, err := cryptoadapter.GenerateSigningKeyPair()
	require.NoError(t, err)

	tp, err := eng.CreateTopic(ctx, "authorFP", "General", "Hello", "World", nil, kp.PrivateKey, 1000)
	require.NoError(t, err)

	got, err := eng.GetTopic(ctx, tp.TopicUUID)
	require.NoError(t, err)
	require.Equal(t, "Hello", got.Title)

	require.NoError(t, eng.DeleteTopic(ctx, tp.TopicUUID, "authorFP", kp.PrivateKey, 2000))
	got, err = eng.GetTopic(ctx, tp.TopicUUID)
	require.NoError(t, err)
	require.True(t, got.Deleted)
}

func TestCastAndLoadVoteThroughEngine(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	kp, err := cryptoadapter.GenerateSigningKeyPair()
	require.NoError(t, err)

	_, err = eng.CastVote(ctx, "post-1", "voterA", 1, kp.PrivateKey, 1000)
	require.NoError(t, err)

	agg, err := eng.LoadVotes(ctx, "post-1", func(string) ([]byte, bool) { return kp.PublicKey, true })
	require.NoError(t, err)
	require.Equal(t, 1, agg.UpvoteCount)
}

func TestPublishAndFetchGroupListAndContactListThroughEngine(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	signKP, err := cryptoadapter.GenerateSigningKeyPair()
	require.NoError(t, err)
	encKP, err := cryptoadapter.GenerateEncapKeyPair()
	require.NoError(t, err)

	require.NoError(t, eng.PublishGroupList(ctx, "fp0", []string{"g1", "g2"}, signKP.PrivateKey, encKP.PublicKey, 1000))
	groups, err := eng.FetchGroupList(ctx, "fp0", encKP.PrivateKey, signKP.PublicKey, 1000)
	require.NoError(t, err)
	require.Equal(t, []string{"g1", "g2"}, groups.Items)

	require.NoError(t, eng.PublishContactList(ctx, "fp0", []string{"c1"}, signKP.PrivateKey, encKP.PublicKey, 1000))
	contacts, err := eng.FetchContactList(ctx, "fp0", encKP.PrivateKey, signKP.PublicKey, 1000)
	require.NoError(t, err)
	require.Equal(t, []string{"c1"}, contacts.Items)
}

func TestSeedFromCacheConnectsCachedPeers(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, eng.cache.Put("1.2.3.4", 9000, "n1", "", time.Now().Unix()))

	connected, err := eng.SeedFromCache(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, connected)
}

func TestStartStopDiscoveryJoinsBeforeClose(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	// Seed the registry so the background run's first fetch succeeds
	// immediately instead of exhausting the 1s retry spacing.
	raw, err := json.Marshal(struct {
		Peers []any `json:"peers"`
	}{Peers: []any{}})
	require.NoError(t, err)
	require.NoError(t, eng.session.Session().Put(ctx, eng.cfg.Bootstrap.RegistryKey, raw, 0))

	eng.StartDiscovery(ctx)
	require.NoError(t, eng.StopDiscovery(ctx))
	require.NoError(t, eng.Close())
}

func TestCloseWithoutDiscoveryIsSafe(t *testing.T) {
	eng := newTestEngine(t)
	require.NoError(t, eng.Close())
}

func TestChannelRegistryCreateAndList(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.Channels().Create(ctx, "creatorFP", "General", "general discussion", "creatorFP", 1000)
	require.NoError(t, err)

	list, err := eng.Channels().List(ctx, 1000)
	require.NoError(t, err)
	require.Len(t, list, 1)
}
