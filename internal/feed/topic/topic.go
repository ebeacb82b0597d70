// Package topic implements feed topics (SPEC_FULL.md C9 / spec.md §4.8):
// create/get/delete, UUIDv4 identifiers, category-keyed and global
// day-bucket indexing, and soft-delete.
package topic

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dna/dht/internal/chunked"
	"github.com/dna/dht/internal/cryptoadapter"
	"github.com/dna/dht/internal/feed/index"
	"github.com/dna/dht/internal/records"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	// TTL is the default 30-day feed record lifetime of spec.md §3.
	TTL = 30 * 24 * time.Hour

	maxTitleLen = 200
	maxBodyLen  = 4000
	maxTags     = 5
	maxTagLen   = 32
)

// Topic is the record of spec.md §3 "Feed topic".
type Topic struct {
	Version    int      `json:"version"`
	TopicUUID  string   `json:"topic_uuid"`
	AuthorFP   string   `json:"author_fp"`
	Title      string   `json:"title"`
	Body       string   `json:"body"`
	CategoryID string   `json:"category_id"`
	Tags       []string `json:"tags,omitempty"`
	CreatedAt  int64    `json:"created_at"`
	Deleted    bool     `json:"deleted"`
	DeletedAt  int64    `json:"deleted_at,omitempty"`
	Sig        []byte   `json:"signature,omitempty"`
}

func (t *Topic) CanonicalUnsigned() ([]byte, error) {
	cp := *t
	cp.Sig = nil
	return json.Marshal(cp)
}
func (t *Topic) Signature() []byte     { return t.Sig }
func (t *Topic) SetSignature(s []byte) { t.Sig = s }

var _ records.Signable = (*Topic)(nil)

// CategoryID computes sha256(lowercase(name)) hex, per spec.md §3/§4.8.
func CategoryID(name string) string {
	sum := cryptoadapter.Sha256([]byte(lower(name)))
	return cryptoadapter.HexEncode(sum[:])
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// Key returns the DHT key of a topic: sha256("dna:feeds:topic:"+uuid).
func Key(topicUUID string) string {
	return records.DHTKey("dna:feeds:topic:" + topicUUID)
}

// validate enforces the length bounds of spec.md §3.
func validate(title, body string, tags []string) error {
	if len(title) == 0 || len(title) > maxTitleLen {
		return records.New(records.KindConfigError, "title must be 1-200 characters")
	}
	if len(body) > maxBodyLen {
		return records.New(records.KindConfigError, "body exceeds 4000 characters")
	}
	if len(tags) > maxTags {
		return records.New(records.KindConfigError, "at most 5 tags allowed")
	}
	for _, tag := range tags {
		if len(tag) > maxTagLen {
			return records.New(records.KindConfigError, "tag exceeds 32 characters")
		}
	}
	return nil
}

// Create builds, signs, and publishes a new topic, then indexes it into
// the category and global day buckets per spec.md §4.8. Index failures are
// logged and swallowed: the topic remains reachable by UUID.
func Create(ctx context.Context, layer chunked.Layer, idxLayer chunked.MultiOwnerLayer, authorFP, categoryName, title, body string, tags []string, signPriv []byte, now int64, log *logrus.Logger) (*Topic, error) {
	if err := validate(title, body, tags); err != nil {
		return nil, err
	}
	id := uuid.New().String()
	catID := CategoryID(categoryName)

	t := &Topic{
		Version:    1,
		TopicUUID:  id,
		AuthorFP:   authorFP,
		Title:      title,
		Body:       body,
		CategoryID: catID,
		Tags:       tags,
		CreatedAt:  now,
	}
	if err := records.Sign(t, signPriv); err != nil {
		return nil, err
	}

	raw, err := json.Marshal(t)
	if err != nil {
		return nil, records.Wrap(records.KindFramingError, "marshal topic", err)
	}
	if err := layer.Publish(ctx, Key(id), authorFP, raw, TTL); err != nil {
		return nil, records.Wrap(records.KindTransientNetwork, "publish topic", err)
	}

	entry := index.Entry{TopicUUID: id, AuthorFP: authorFP, Title: title, CategoryID: catID, CreatedAt: now}
	day := index.DayBucket(now)
	if err := index.Append(ctx, idxLayer, index.CategoryKey(catID, day), authorFP, entry); err != nil && log != nil {
		log.WithError(err).WithField("topic_uuid", id).Warn("feed topic: category index append failed")
	}
	if err := index.Append(ctx, idxLayer, index.GlobalKey(day), authorFP, entry); err != nil && log != nil {
		log.WithError(err).WithField("topic_uuid", id).Warn("feed topic: global index append failed")
	}

	return t, nil
}

// Get fetches and parses a topic. Callers must run records.Verify before
// trusting it (spec.md §4.8: "callers must run verify before trusting").
func Get(ctx context.Context, layer chunked.Layer, topicUUID string) (*Topic, error) {
	raw, err := layer.Fetch(ctx, Key(topicUUID))
	if err != nil {
		return nil, records.Wrap(records.KindNotFound, "fetch topic", err)
	}
	var t Topic
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, records.Wrap(records.KindFramingError, "unmarshal topic", err)
	}
	return &t, nil
}

// Delete soft-deletes a topic: fetch, verify ownership, set
// deleted/deleted_at, re-sign, republish at the same key, and republish the
// index entries into their original day buckets marked deleted (spec.md
// §4.8).
func Delete(ctx context.Context, layer chunked.Layer, idxLayer chunked.MultiOwnerLayer, topicUUID, requesterFP string, signPriv []byte, now int64, log *logrus.Logger) error {
	t, err := Get(ctx, layer, topicUUID)
	if err != nil {
		return err
	}
	if t.AuthorFP != requesterFP {
		return records.New(records.KindNotOwner, "requester is not the topic author")
	}

	t.Deleted = true
	t.DeletedAt = now
	if err := records.Sign(t, signPriv); err != nil {
		return err
	}

	raw, err := json.Marshal(t)
	if err != nil {
		return records.Wrap(records.KindFramingError, "marshal topic", err)
	}
	if err := layer.Publish(ctx, Key(topicUUID), t.AuthorFP, raw, TTL); err != nil {
		return records.Wrap(records.KindTransientNetwork, "republish deleted topic", err)
	}

	entry := index.Entry{TopicUUID: topicUUID, AuthorFP: t.AuthorFP, Title: t.Title, CategoryID: t.CategoryID, CreatedAt: t.CreatedAt, Deleted: true}
	day := index.DayBucket(t.CreatedAt)
	if err := index.ReplaceByTopic(ctx, idxLayer, index.CategoryKey(t.CategoryID, day), t.AuthorFP, topicUUID, entry); err != nil && log != nil {
		log.WithError(err).WithField("topic_uuid", topicUUID).Warn("feed topic: category index update failed")
	}
	if err := index.ReplaceByTopic(ctx, idxLayer, index.GlobalKey(day), t.AuthorFP, topicUUID, entry); err != nil && log != nil {
		log.WithError(err).WithField("topic_uuid", topicUUID).Warn("feed topic: global index update failed")
	}
	return nil
}
