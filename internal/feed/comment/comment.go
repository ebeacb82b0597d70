// Package comment implements multi-owner feed comments (SPEC_FULL.md C9 /
// spec.md §4.9): each author keeps their own comment bucket in their
// personal slot at a shared per-topic key; add appends to the caller's own
// slot, get_all merges every author's slot.
package comment

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/dna/dht/internal/chunked"
	"github.com/dna/dht/internal/records"
	"github.com/google/uuid"
)

const (
	// TTL is the default 30-day feed record lifetime of spec.md §3.
	TTL = 30 * 24 * time.Hour

	maxBodyLen      = 2000
	maxMentions     = 10
)

// Comment is the record of spec.md §3 "Feed comment".
type Comment struct {
	Version           int      `json:"version"`
	CommentUUID       string   `json:"comment_uuid"`
	TopicUUID         string   `json:"topic_uuid"`
	ParentCommentUUID string   `json:"parent_comment_uuid,omitempty"`
	AuthorFP          string   `json:"author_fp"`
	Body              string   `json:"body"`
	Mentions          []string `json:"mentions,omitempty"`
	CreatedAt         int64    `json:"created_at"`
	Sig               []byte   `json:"signature,omitempty"`
}

func (c *Comment) CanonicalUnsigned() ([]byte, error) {
	cp := *c
	cp.Sig = nil
	return json.Marshal(cp)
}
func (c *Comment) Signature() []byte     { return c.Sig }
func (c *Comment) SetSignature(s []byte) { c.Sig = s }

var _ records.Signable = (*Comment)(nil)

// Key returns the DHT key of a topic's comment bucket:
// sha256("dna:feeds:topic:"+uuid+":comments").
func Key(topicUUID string) string {
	return records.DHTKey("dna:feeds:topic:" + topicUUID + ":comments")
}

func validate(body string, mentions []string) error {
	if len(body) == 0 || len(body) > maxBodyLen {
		return records.New(records.KindConfigError, "comment body must be 1-2000 characters")
	}
	if len(mentions) > maxMentions {
		return records.New(records.KindConfigError, "at most 10 mentions allowed")
	}
	return nil
}

// Add reads only the caller's own comment slot via fetch_mine, appends a
// newly-signed comment, and republishes the whole slot array (spec.md
// §4.9). parentCommentUUID is empty for a top-level comment; a non-empty
// parentCommentUUID must name a comment merged across every author's slot
// whose own ParentCommentUUID is empty (single-level threading, depth bound
// 1, 2 levels total) — replying to a reply is rejected with
// MaxDepthExceeded.
func Add(ctx context.Context, layer chunked.MultiOwnerLayer, topicUUID, authorFP, body, parentCommentUUID string, mentions []string, signPriv []byte, now int64) (*Comment, error) {
	if err := validate(body, mentions); err != nil {
		return nil, err
	}
	if parentCommentUUID != "" {
		if err := checkParentIsTopLevel(ctx, layer, topicUUID, parentCommentUUID); err != nil {
			return nil, err
		}
	}

	c := &Comment{
		Version:            1,
		CommentUUID:        uuid.New().String(),
		TopicUUID:          topicUUID,
		ParentCommentUUID:  parentCommentUUID,
		AuthorFP:           authorFP,
		Body:               body,
		Mentions:           mentions,
		CreatedAt:          now,
	}
	if err := records.Sign(c, signPriv); err != nil {
		return nil, err
	}

	key := Key(topicUUID)
	existing, err := loadMine(ctx, layer, key, authorFP)
	if err != nil && !records.Is(err, records.KindNotFound) {
		return nil, err
	}
	existing = append(existing, *c)

	if err := storeMine(ctx, layer, key, authorFP, existing); err != nil {
		return nil, err
	}
	return c, nil
}

// GetAll merges every author's comment slot for topicUUID and sorts the
// result by created_at descending (spec.md §4.9). A parse failure in one
// author's slot does not invalidate the others.
func GetAll(ctx context.Context, layer chunked.MultiOwnerLayer, topicUUID string) ([]Comment, error) {
	slots, err := layer.FetchAll(ctx, Key(topicUUID))
	if err != nil {
		return nil, records.Wrap(records.KindNotFound, "fetch comment slots", err)
	}

	var all []Comment
	for _, raw := range slots {
		var authorComments []Comment
		if err := json.Unmarshal(raw, &authorComments); err != nil {
			continue
		}
		for _, c := range authorComments {
			if c.TopicUUID != topicUUID {
				continue
			}
			all = append(all, c)
		}
	}

	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt > all[j].CreatedAt })
	return all, nil
}

// checkParentIsTopLevel fetches every author's comment slot for topicUUID
// and rejects parentCommentUUID unless it names a top-level comment
// (ParentCommentUUID == ""), enforcing spec.md §4.9's single-level
// threading bound.
func checkParentIsTopLevel(ctx context.Context, layer chunked.MultiOwnerLayer, topicUUID, parentCommentUUID string) error {
	all, err := GetAll(ctx, layer, topicUUID)
	if err != nil {
		return err
	}
	for _, c := range all {
		if c.CommentUUID != parentCommentUUID {
			continue
		}
		if c.ParentCommentUUID != "" {
			return records.New(records.KindMaxDepthExceeded, "reply depth exceeds 1")
		}
		return nil
	}
	return records.New(records.KindNotFound, "parent comment not found in topic")
}

func loadMine(ctx context.Context, layer chunked.MultiOwnerLayer, key, authorFP string) ([]Comment, error) {
	raw, err := layer.FetchMine(ctx, key, authorFP)
	if err != nil {
		return nil, records.Wrap(records.KindNotFound, "fetch own comment slot", err)
	}
	var comments []Comment
	if err := json.Unmarshal(raw, &comments); err != nil {
		return nil, records.Wrap(records.KindFramingError, "unmarshal own comment slot", err)
	}
	return comments, nil
}

func storeMine(ctx context.Context, layer chunked.MultiOwnerLayer, key, authorFP string, comments []Comment) error {
	raw, err := json.Marshal(comments)
	if err != nil {
		return records.Wrap(records.KindFramingError, "marshal comment slot", err)
	}
	if err := layer.Publish(ctx, key, authorFP, raw, TTL); err != nil {
		return records.Wrap(records.KindTransientNetwork, "publish comment slot", err)
	}
	return nil
}
