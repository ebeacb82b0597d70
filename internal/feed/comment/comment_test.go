package comment

import (
	"context"
	"strings"
	"testing"

	"github.com/dna/dht/internal/chunked"
	"github.com/dna/dht/internal/records"
	"github.com/stretchr/testify/require"
)

func TestAddAndGetAllMergesAcrossAuthors(t *testing.T) {
	layer := chunked.NewMemLayer()
	ctx := context.Background()
	topicUUID := "topic-1"

	_, err := Add(ctx, layer, topicUUID, "authorA", "first", "", nil, make([]byte, 4896), 1000)
	require.NoError(t, err)
	_, err = Add(ctx, layer, topicUUID, "authorB", "second", "", nil, make([]byte, 4896), 2000)
	require.NoError(t, err)
	_, err = Add(ctx, layer, topicUUID, "authorA", "third", "", nil, make([]byte, 4896), 3000)
	require.NoError(t, err)

	all, err := GetAll(ctx, layer, topicUUID)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, int64(3000), all[0].CreatedAt)
	require.Equal(t, int64(2000), all[1].CreatedAt)
	require.Equal(t, int64(1000), all[2].CreatedAt)
}

func TestAddOnlyTouchesCallersOwnSlot(t *testing.T) {
	layer := chunked.NewMemLayer()
	ctx := context.Background()
	topicUUID := "topic-1"

	_, err := Add(ctx, layer, topicUUID, "authorA", "first", "", nil, make([]byte, 4896), 1000)
	require.NoError(t, err)

	mineA, err := layer.FetchMine(ctx, Key(topicUUID), "authorA")
	require.NoError(t, err)
	require.NotEmpty(t, mineA)

	_, err = layer.FetchMine(ctx, Key(topicUUID), "authorB")
	require.Error(t, err)
}

func TestGetAllToleratesUnparsableAuthorSlot(t *testing.T) {
	layer := chunked.NewMemLayer()
	ctx := context.Background()
	topicUUID := "topic-1"

	_, err := Add(ctx, layer, topicUUID, "authorA", "good", "", nil, make([]byte, 4896), 1000)
	require.NoError(t, err)
	require.NoError(t, layer.Publish(ctx, Key(topicUUID), "authorB", []byte("not json"), TTL))

	all, err := GetAll(ctx, layer, topicUUID)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, "good", all[0].Body)
}

func TestAddRejectsOversizedBody(t *testing.T) {
	layer := chunked.NewMemLayer()
	ctx := context.Background()

	_, err := Add(ctx, layer, "topic-1", "authorA", strings.Repeat("a", 2001), "", nil, make([]byte, 4896), 1000)
	require.Error(t, err)
	require.True(t, records.Is(err, records.KindConfigError))
}

func TestAddAcceptsReplyToTopLevelCommentFromAnotherAuthor(t *testing.T) {
	layer := chunked.NewMemLayer()
	ctx := context.Background()
	topicUUID := "topic-1"

	root, err := Add(ctx, layer, topicUUID, "authorA", "top level", "", nil, make([]byte, 4896), 1000)
	require.NoError(t, err)

	reply, err := Add(ctx, layer, topicUUID, "authorB", "a reply", root.CommentUUID, nil, make([]byte, 4896), 2000)
	require.NoError(t, err)
	require.Equal(t, root.CommentUUID, reply.ParentCommentUUID)
}

func TestAddRejectsReplyToAReply(t *testing.T) {
	layer := chunked.NewMemLayer()
	ctx := context.Background()
	topicUUID := "topic-1"

	root, err := Add(ctx, layer, topicUUID, "authorA", "top level", "", nil, make([]byte, 4896), 1000)
	require.NoError(t, err)
	reply, err := Add(ctx, layer, topicUUID, "authorB", "a reply", root.CommentUUID, nil, make([]byte, 4896), 2000)
	require.NoError(t, err)

	_, err = Add(ctx, layer, topicUUID, "authorC", "a reply to a reply", reply.CommentUUID, nil, make([]byte, 4896), 3000)
	require.Error(t, err)
	require.True(t, records.Is(err, records.KindMaxDepthExceeded))
}

func TestAddRejectsReplyToUnknownParent(t *testing.T) {
	layer := chunked.NewMemLayer()
	ctx := context.Background()

	_, err := Add(ctx, layer, "topic-1", "authorA", "a reply", "does-not-exist", nil, make([]byte, 4896), 1000)
	require.Error(t, err)
	require.True(t, records.Is(err, records.KindNotFound))
}

func TestAddRejectsTooManyMentions(t *testing.T) {
	layer := chunked.NewMemLayer()
	ctx := context.Background()
	mentions := make([]string, 11)

	_, err := Add(ctx, layer, "topic-1", "authorA", "hi", "", mentions, make([]byte, 4896), 1000)
	require.Error(t, err)
	require.True(t, records.Is(err, records.KindConfigError))
}
