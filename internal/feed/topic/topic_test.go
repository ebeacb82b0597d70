package topic

import (
	"context"
	"strings"
	"testing"

	"github.com/dna/dht/internal/chunked"
	"github.com/dna/dht/internal/cryptoadapter"
	"github.com/dna/dht/internal/feed/index"
	"github.com/dna/dht/internal/records"
	"github.com/stretchr/testify/require"
)

func mustKeyPair(t *testing.T) *cryptoadapter.KeyPair {
	t.Helper()
	kp, err := cryptoadapter.GenerateSigningKeyPair()
	require.NoError(t, err)
	return kp
}

func TestCategoryIDIsLowercasedSHA256(t *testing.T) {
	require.Equal(t, CategoryID("Go"), CategoryID("go"))
	require.Len(t, CategoryID("go"), 64)
}

func TestCreateGetDeleteLifecycle(t *testing.T) {
	kp := mustKeyPair(t)
	layer := chunked.NewMemLayer()
	ctx := context.Background()

	topicRecord, err := Create(ctx, layer, layer, "fpAuthor", "General", "Hello world", "body text", []string{"intro"}, kp.PrivateKey, 1000, nil)
	require.NoError(t, err)
	require.True(t, strings.Contains(topicRecord.TopicUUID, "-"))

	fetched, err := Get(ctx, layer, topicRecord.TopicUUID)
	require.NoError(t, err)
	require.NoError(t, records.Verify(fetched, kp.PublicKey))
	require.False(t, fetched.Deleted)

	entries, err := index.List(ctx, layer, index.GlobalKey(index.DayBucket(1000)))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, topicRecord.TopicUUID, entries[0].TopicUUID)

	require.NoError(t, Delete(ctx, layer, layer, topicRecord.TopicUUID, "fpAuthor", kp.PrivateKey, 2000, nil))

	deleted, err := Get(ctx, layer, topicRecord.TopicUUID)
	require.NoError(t, err)
	require.NoError(t, records.Verify(deleted, kp.PublicKey))
	require.True(t, deleted.Deleted)
	require.Equal(t, int64(2000), deleted.DeletedAt)

	entriesAfter, err := index.List(ctx, layer, index.GlobalKey(index.DayBucket(1000)))
	require.NoError(t, err)
	require.Len(t, entriesAfter, 1)
	require.True(t, entriesAfter[0].Deleted)
}

func TestDeleteRejectsNonOwner(t *testing.T) {
	kp := mustKeyPair(t)
	layer := chunked.NewMemLayer()
	ctx := context.Background()

	topicRecord, err := Create(ctx, layer, layer, "fpAuthor", "General", "Hello", "body", nil, kp.PrivateKey, 1000, nil)
	require.NoError(t, err)

	err = Delete(ctx, layer, layer, topicRecord.TopicUUID, "fpSomeoneElse", kp.PrivateKey, 2000, nil)
	require.Error(t, err)
	require.True(t, records.Is(err, records.KindNotOwner))
}

func TestCreateRejectsOversizedTitle(t *testing.T) {
	kp := mustKeyPair(t)
	layer := chunked.NewMemLayer()
	ctx := context.Background()

	longTitle := strings.Repeat("a", 201)
	_, err := Create(ctx, layer, layer, "fpAuthor", "General", longTitle, "body", nil, kp.PrivateKey, 1000, nil)
	require.Error(t, err)
	require.True(t, records.Is(err, records.KindConfigError))
}

func TestCreateRejectsTooManyTags(t *testing.T) {
	kp := mustKeyPair(t)
	layer := chunked.NewMemLayer()
	ctx := context.Background()

	_, err := Create(ctx, layer, layer, "fpAuthor", "General", "title", "body", []string{"a", "b", "c", "d", "e", "f"}, kp.PrivateKey, 1000, nil)
	require.Error(t, err)
	require.True(t, records.Is(err, records.KindConfigError))
}
