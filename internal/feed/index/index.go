// Package index implements the day-bucketed feed index of spec.md §3
// ("Feed index entry") and §4.8: a compact projection of a topic that lets
// list views avoid a full topic fetch, filed under category and global
// day buckets.
//
// A day bucket is written by every author who posts into it that day, so
// it is stored on the chunked layer's multi-owner variant: each author
// keeps their own slot (their own small array of entries they've filed into
// that bucket), and readers fetch_all and merge every author's slot, the
// same best-effort pattern feed/comment uses (spec.md §4.9).
package index

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dna/dht/internal/chunked"
	"github.com/dna/dht/internal/records"
)

// Entry is the compact projection of spec.md §3.
type Entry struct {
	TopicUUID  string `json:"topic_uuid"`
	AuthorFP   string `json:"author_fp"`
	Title      string `json:"title"`
	CategoryID string `json:"category_id"`
	CreatedAt  int64  `json:"created_at"`
	Deleted    bool   `json:"deleted"`
}

const bucketTTL = 30 * 24 * time.Hour

const dayLayout = "20060102"

// DayBucket formats a unix timestamp as the YYYYMMDD suffix spec.md §4.8
// uses in index keys.
func DayBucket(unixSeconds int64) string {
	return time.Unix(unixSeconds, 0).UTC().Format(dayLayout)
}

// CategoryKey returns the DHT key of the category day-bucket:
// sha256("dna:feeds:idx:cat:"+cat+":"+YYYYMMDD).
func CategoryKey(categoryID string, day string) string {
	return records.DHTKey("dna:feeds:idx:cat:" + categoryID + ":" + day)
}

// GlobalKey returns the DHT key of the global day-bucket:
// sha256("dna:feeds:idx:all:"+YYYYMMDD).
func GlobalKey(day string) string {
	return records.DHTKey("dna:feeds:idx:all:" + day)
}

// Append adds entry to the author's own slot in the bucket at key,
// preserving whatever entries the author already filed there. Per spec.md
// §4.8, index failures are non-fatal to the caller's topic publish — the
// topic itself is still reachable by UUID even if this call errors.
func Append(ctx context.Context, layer chunked.MultiOwnerLayer, key, authorFP string, entry Entry) error {
	entries, err := loadMine(ctx, layer, key, authorFP)
	if err != nil && !records.Is(err, records.KindNotFound) {
		return err
	}
	entries = append(entries, entry)
	return storeMine(ctx, layer, key, authorFP, entries)
}

// ReplaceByTopic rewrites the entry matching topicUUID within authorFP's
// own slot at key, used by topic soft-delete (spec.md §4.8: "republish
// index entries into the original day buckets with deleted=true").
func ReplaceByTopic(ctx context.Context, layer chunked.MultiOwnerLayer, key, authorFP, topicUUID string, updated Entry) error {
	entries, err := loadMine(ctx, layer, key, authorFP)
	if err != nil && !records.Is(err, records.KindNotFound) {
		return err
	}
	found := false
	for i := range entries {
		if entries[i].TopicUUID == topicUUID {
			entries[i] = updated
			found = true
		}
	}
	if !found {
		entries = append(entries, updated)
	}
	return storeMine(ctx, layer, key, authorFP, entries)
}

// List merges every author's slot at key into one entry list. A parse
// failure in one author's slot is skipped, not fatal to the whole read
// (the same best-effort merge feed/comment uses).
func List(ctx context.Context, layer chunked.MultiOwnerLayer, key string) ([]Entry, error) {
	slots, err := layer.FetchAll(ctx, key)
	if err != nil {
		return nil, records.Wrap(records.KindNotFound, "fetch index bucket", err)
	}
	var out []Entry
	for _, raw := range slots {
		var entries []Entry
		if err := json.Unmarshal(raw, &entries); err != nil {
			continue
		}
		out = append(out, entries...)
	}
	return out, nil
}

func loadMine(ctx context.Context, layer chunked.MultiOwnerLayer, key, authorFP string) ([]Entry, error) {
	raw, err := layer.FetchMine(ctx, key, authorFP)
	if err != nil {
		return nil, records.Wrap(records.KindNotFound, "fetch own index slot", err)
	}
	var entries []Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, records.Wrap(records.KindFramingError, "unmarshal own index slot", err)
	}
	return entries, nil
}

func storeMine(ctx context.Context, layer chunked.MultiOwnerLayer, key, authorFP string, entries []Entry) error {
	raw, err := json.Marshal(entries)
	if err != nil {
		return records.Wrap(records.KindFramingError, "marshal index slot", err)
	}
	if err := layer.Publish(ctx, key, authorFP, raw, bucketTTL); err != nil {
		return records.Wrap(records.KindTransientNetwork, "publish index slot", err)
	}
	return nil
}
