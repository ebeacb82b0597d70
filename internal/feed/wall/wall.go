// Package wall implements wall posts with threading (SPEC_FULL.md C9 /
// spec.md §4.10): per-poster-per-wall message buckets with 100-message
// rotation, a depth-2 reply bound, and a fetch-time derived reply count.
package wall

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/dna/dht/internal/chunked"
	"github.com/dna/dht/internal/cryptoadapter"
	"github.com/dna/dht/internal/records"
)

const (
	// TTL is the default 30-day feed record lifetime of spec.md §3.
	TTL = 30 * 24 * time.Hour

	maxTextLen    = 1024
	maxMessages   = 100
	maxReplyDepth = 2
)

// Post is the record of spec.md §3 "Wall message". ReplyCount is derived at
// fetch time and never stored authoritatively, so the stored Post has no
// ReplyCount field — View wraps it with the derived count for readers.
type Post struct {
	PostID     string `json:"post_id"`
	Text       string `json:"text"`
	Timestamp  int64  `json:"timestamp"`
	ReplyTo    string `json:"reply_to,omitempty"`
	ReplyDepth int    `json:"reply_depth"`
	Sig        []byte `json:"signature,omitempty"`
}

// View adds the fetch-time-derived reply count spec.md §4.10 mandates.
type View struct {
	Post
	ReplyCount int `json:"reply_count"`
}

// Key returns the per-poster-per-wall DHT key:
// sha256("dna:wall:"+wall_owner_fp+":"+poster_fp).
func Key(wallOwnerFP, posterFP string) string {
	return records.DHTKey("dna:wall:" + wallOwnerFP + ":" + posterFP)
}

// signedBytes is the exact byte sequence the wall post signature covers:
// text || timestamp_be (spec.md §3).
func signedBytes(text string, timestamp int64) []byte {
	out := make([]byte, 0, len(text)+8)
	out = append(out, []byte(text)...)
	out = append(out, cryptoadapter.PutUint64BE(uint64(timestamp))...)
	return out
}

func sign(p *Post, signPriv []byte) error {
	sig, err := cryptoadapter.Sign(signedBytes(p.Text, p.Timestamp), signPriv)
	if err != nil {
		return records.Wrap(records.KindFramingError, "sign wall post", err)
	}
	p.Sig = sig
	return nil
}

// Verify checks a post's signature against the poster's signing public key.
func Verify(p *Post, signPub []byte) error {
	if len(p.Sig) == 0 {
		return records.New(records.KindFramingError, "wall post missing signature")
	}
	ok, err := cryptoadapter.VerifyErr(p.Sig, signedBytes(p.Text, p.Timestamp), signPub)
	if err != nil {
		return records.Wrap(records.KindFramingError, "verify wall post", err)
	}
	if !ok {
		return records.New(records.KindSignatureInvalid, "wall post signature does not match")
	}
	return nil
}

// Post appends a new message to posterFP's bucket on wallOwnerFP's wall,
// rotating out the oldest entries beyond 100 (spec.md §4.10). replyTo may
// be empty for a top-level post; a non-empty replyTo must name a post
// already in the bucket whose own reply_depth is < 2, else
// MaxDepthExceeded.
func Post(ctx context.Context, layer chunked.Layer, wallOwnerFP, posterFP, text, replyTo string, signPriv []byte, nowMs int64) (*Post, error) {
	if len(text) == 0 || len(text) > maxTextLen {
		return nil, records.New(records.KindConfigError, "wall post text must be 1-1024 characters")
	}

	key := Key(wallOwnerFP, posterFP)
	existing, err := loadBucket(ctx, layer, key)
	if err != nil && !records.Is(err, records.KindNotFound) {
		return nil, err
	}

	depth := 0
	if replyTo != "" {
		parent, ok := findPost(existing, replyTo)
		if !ok {
			return nil, records.New(records.KindNotFound, "reply target not found in wall bucket")
		}
		depth = parent.ReplyDepth + 1
		if depth > maxReplyDepth {
			return nil, records.New(records.KindMaxDepthExceeded, "reply depth exceeds 2")
		}
	}

	postID, err := uniquePostID(posterFP, nowMs, existing)
	if err != nil {
		return nil, err
	}

	p := &Post{
		PostID:     postID,
		Text:       text,
		Timestamp:  nowMs,
		ReplyTo:    replyTo,
		ReplyDepth: depth,
	}
	if err := sign(p, signPriv); err != nil {
		return nil, err
	}

	existing = append(existing, *p)
	if len(existing) > maxMessages {
		existing = existing[len(existing)-maxMessages:]
	}
	if err := storeBucket(ctx, layer, key, posterFP, existing); err != nil {
		return nil, err
	}
	return p, nil
}

// Get returns every post in posterFP's bucket on wallOwnerFP's wall, each
// annotated with its derived reply count.
func Get(ctx context.Context, layer chunked.Layer, wallOwnerFP, posterFP string) ([]View, error) {
	posts, err := loadBucket(ctx, layer, Key(wallOwnerFP, posterFP))
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int, len(posts))
	for _, p := range posts {
		if p.ReplyTo != "" {
			counts[p.ReplyTo]++
		}
	}

	views := make([]View, 0, len(posts))
	for _, p := range posts {
		views = append(views, View{Post: p, ReplyCount: counts[p.PostID]})
	}
	return views, nil
}

func findPost(posts []Post, postID string) (Post, bool) {
	for _, p := range posts {
		if p.PostID == postID {
			return p, true
		}
	}
	return Post{}, false
}

func uniquePostID(posterFP string, nowMs int64, existing []Post) (string, error) {
	base := posterFP + "_" + strconv.FormatInt(nowMs, 10)
	if _, taken := findPost(existing, base); !taken {
		return base, nil
	}
	suffix, err := cryptoadapter.RandomBytes(4)
	if err != nil {
		return "", err
	}
	return base + "-" + cryptoadapter.HexEncode(suffix), nil
}

func loadBucket(ctx context.Context, layer chunked.Layer, key string) ([]Post, error) {
	raw, err := layer.Fetch(ctx, key)
	if err != nil {
		return nil, records.Wrap(records.KindNotFound, "fetch wall bucket", err)
	}
	var posts []Post
	if err := json.Unmarshal(raw, &posts); err != nil {
		return nil, records.Wrap(records.KindFramingError, "unmarshal wall bucket", err)
	}
	return posts, nil
}

func storeBucket(ctx context.Context, layer chunked.Layer, key, posterFP string, posts []Post) error {
	raw, err := json.Marshal(posts)
	if err != nil {
		return records.Wrap(records.KindFramingError, "marshal wall bucket", err)
	}
	if err := layer.Publish(ctx, key, posterFP, raw, TTL); err != nil {
		return records.Wrap(records.KindTransientNetwork, "publish wall bucket", err)
	}
	return nil
}
