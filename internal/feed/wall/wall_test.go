package wall

import (
	"context"
	"strings"
	"testing"

	"github.com/dna/dht/internal/chunked"
	"github.com/dna/dht/internal/cryptoadapter"
	"github.com/dna/dht/internal/records"
	"github.com/stretchr/testify/require"
)

func mustKeyPair(t *testing.T) *cryptoadapter.KeyPair {
	t.Helper()
	kp, err := cryptoadapter.GenerateSigningKeyPair()
	require.NoError(t, err)
	return kp
}

func TestPostAndVerifyRoundTrip(t *testing.T) {
	kp := mustKeyPair(t)
	layer := chunked.NewMemLayer()
	ctx := context.Background()

	p, err := Post(ctx, layer, "ownerFP", "posterFP", "hello wall", "", kp.PrivateKey, 1000)
	require.NoError(t, err)
	require.Equal(t, "posterFP_1000", p.PostID)
	require.Equal(t, 0, p.ReplyDepth)
	require.NoError(t, Verify(p, kp.PublicKey))
}

func TestReplyDepthEnforcement(t *testing.T) {
	kp := mustKeyPair(t)
	layer := chunked.NewMemLayer()
	ctx := context.Background()

	root, err := Post(ctx, layer, "ownerFP", "posterFP", "root", "", kp.PrivateKey, 1000)
	require.NoError(t, err)
	depth1, err := Post(ctx, layer, "ownerFP", "posterFP", "reply1", root.PostID, kp.PrivateKey, 2000)
	require.NoError(t, err)
	require.Equal(t, 1, depth1.ReplyDepth)

	depth2, err := Post(ctx, layer, "ownerFP", "posterFP", "reply2", depth1.PostID, kp.PrivateKey, 3000)
	require.NoError(t, err)
	require.Equal(t, 2, depth2.ReplyDepth)

	_, err = Post(ctx, layer, "ownerFP", "posterFP", "reply3", depth2.PostID, kp.PrivateKey, 4000)
	require.Error(t, err)
	require.True(t, records.Is(err, records.KindMaxDepthExceeded))
}

func TestReplyCountIsDerivedAtFetch(t *testing.T) {
	kp := mustKeyPair(t)
	layer := chunked.NewMemLayer()
	ctx := context.Background()

	root, err := Post(ctx, layer, "ownerFP", "posterFP", "root", "", kp.PrivateKey, 1000)
	require.NoError(t, err)
	_, err = Post(ctx, layer, "ownerFP", "posterFP", "r1", root.PostID, kp.PrivateKey, 2000)
	require.NoError(t, err)
	_, err = Post(ctx, layer, "ownerFP", "posterFP", "r2", root.PostID, kp.PrivateKey, 3000)
	require.NoError(t, err)

	views, err := Get(ctx, layer, "ownerFP", "posterFP")
	require.NoError(t, err)
	require.Len(t, views, 3)

	for _, v := range views {
		if v.PostID == root.PostID {
			require.Equal(t, 2, v.ReplyCount)
		}
	}
}

func TestPostIDCollisionGetsRandomSuffix(t *testing.T) {
	kp := mustKeyPair(t)
	layer := chunked.NewMemLayer()
	ctx := context.Background()

	first, err := Post(ctx, layer, "ownerFP", "posterFP", "one", "", kp.PrivateKey, 1000)
	require.NoError(t, err)
	second, err := Post(ctx, layer, "ownerFP", "posterFP", "two", "", kp.PrivateKey, 1000)
	require.NoError(t, err)

	require.NotEqual(t, first.PostID, second.PostID)
	require.True(t, strings.HasPrefix(second.PostID, "posterFP_1000-"))
}

func TestBucketRotationKeepsOnly100Messages(t *testing.T) {
	kp := mustKeyPair(t)
	layer := chunked.NewMemLayer()
	ctx := context.Background()

	var last *Post
	for i := 0; i < 105; i++ {
		p, err := Post(ctx, layer, "ownerFP", "posterFP", "msg", "", kp.PrivateKey, int64(1000+i))
		require.NoError(t, err)
		last = p
	}

	views, err := Get(ctx, layer, "ownerFP", "posterFP")
	require.NoError(t, err)
	require.Len(t, views, 100)
	require.Equal(t, last.PostID, views[len(views)-1].PostID)
}

func TestReplyToUnknownPostIsNotFound(t *testing.T) {
	kp := mustKeyPair(t)
	layer := chunked.NewMemLayer()
	ctx := context.Background()

	_, err := Post(ctx, layer, "ownerFP", "posterFP", "reply", "nonexistent_123", kp.PrivateKey, 1000)
	require.Error(t, err)
	require.True(t, records.Is(err, records.KindNotFound))
}
