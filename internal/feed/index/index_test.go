package index

import (
	"context"
	"testing"

	"github.com/dna/dht/internal/chunked"
	"github.com/stretchr/testify/require"
)

func TestDayBucketFormat(t *testing.T) {
	require.Equal(t, "20380119", DayBucket(2147483647))
}

func TestCategoryAndGlobalKeysAreStable(t *testing.T) {
	k1 := CategoryKey("abc123", "20260731")
	k2 := CategoryKey("abc123", "20260731")
	require.Equal(t, k1, k2)
	require.Len(t, k1, 64)

	g := GlobalKey("20260731")
	require.NotEqual(t, k1, g)
}

func TestAppendAndListMergesAcrossAuthors(t *testing.T) {
	layer := chunked.NewMemLayer()
	ctx := context.Background()
	key := GlobalKey("20260731")

	require.NoError(t, Append(ctx, layer, key, "authorA", Entry{TopicUUID: "t1", AuthorFP: "authorA", Title: "hello"}))
	require.NoError(t, Append(ctx, layer, key, "authorB", Entry{TopicUUID: "t2", AuthorFP: "authorB", Title: "world"}))
	require.NoError(t, Append(ctx, layer, key, "authorA", Entry{TopicUUID: "t3", AuthorFP: "authorA", Title: "again"}))

	entries, err := List(ctx, layer, key)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	var uuids []string
	for _, e := range entries {
		uuids = append(uuids, e.TopicUUID)
	}
	require.ElementsMatch(t, []string{"t1", "t2", "t3"}, uuids)
}

func TestReplaceByTopicMarksDeletedInOwnSlot(t *testing.T) {
	layer := chunked.NewMemLayer()
	ctx := context.Background()
	key := GlobalKey("20260731")

	require.NoError(t, Append(ctx, layer, key, "authorA", Entry{TopicUUID: "t1", AuthorFP: "authorA", Title: "hello"}))
	require.NoError(t, ReplaceByTopic(ctx, layer, key, "authorA", "t1", Entry{TopicUUID: "t1", AuthorFP: "authorA", Title: "hello", Deleted: true}))

	entries, err := List(ctx, layer, key)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.True(t, entries[0].Deleted)
}

func TestListToleratesUnparsableSlot(t *testing.T) {
	layer := chunked.NewMemLayer()
	ctx := context.Background()
	key := GlobalKey("20260731")

	require.NoError(t, Append(ctx, layer, key, "authorA", Entry{TopicUUID: "t1", AuthorFP: "authorA"}))
	require.NoError(t, layer.Publish(ctx, key, "authorB", []byte("not json"), bucketTTL))

	entries, err := List(ctx, layer, key)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "t1", entries[0].TopicUUID)
}
