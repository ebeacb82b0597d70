// Package registry implements the channel/category registry
// (SPEC_FULL.md §4 "Supplemented features" / spec.md §3 "Channel/Registry"):
// a namespaced list of channels with last_seen, filtered for staleness at
// read time. The bootstrap peer registry applies its own staleness filter in
// internal/bootstrap/discovery.
package registry

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/dna/dht/internal/chunked"
	"github.com/dna/dht/internal/cryptoadapter"
	"github.com/dna/dht/internal/records"
)

// staleAfter is the 900-second staleness window of spec.md §3.
const staleAfter = 900 * time.Second

// RegistryKey is the well-known key the channel registry is filed under.
const RegistryKey = "dna:registry:channels"

// TTL is the registry's publish lifetime; the registry is refreshed often
// enough that the feed default (30 days) comfortably covers it.
const TTL = 30 * 24 * time.Hour

// Channel is spec.md §3 "Channel (v1)".
type Channel struct {
	ChannelID   string            `json:"channel_id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	CreatorFP   string            `json:"creator_fp"`
	CreatedAt   int64             `json:"created_at"`
	LastSeen    int64             `json:"last_seen"`
	Counters    map[string]int64  `json:"counters,omitempty"`
}

// ChannelID computes sha256(lowercase(name)) hex, per spec.md §3.
func ChannelID(name string) string {
	sum := cryptoadapter.Sha256([]byte(strings.ToLower(name)))
	return cryptoadapter.HexEncode(sum[:])
}

type registryDoc struct {
	Channels []Channel `json:"channels"`
}

// Registry is an in-memory-fetched view of the channel list, keyed to the
// chunked layer under a single well-known key (§6 "Key namespace").
type Registry struct {
	layer chunked.Layer
	key   string
}

// New returns a Registry using the default well-known key.
func New(layer chunked.Layer) *Registry {
	return &Registry{layer: layer, key: records.DHTKey(RegistryKey)}
}

// Create adds a new channel to the registry (or updates an existing one
// with the same name) and republishes it.
func (r *Registry) Create(ctx context.Context, ownerFP, name, description, creatorFP string, now int64) (*Channel, error) {
	doc, err := r.load(ctx)
	if err != nil && !records.Is(err, records.KindNotFound) {
		return nil, err
	}

	id := ChannelID(name)
	ch := Channel{
		ChannelID:   id,
		Name:        name,
		Description: description,
		CreatorFP:   creatorFP,
		CreatedAt:   now,
		LastSeen:    now,
	}

	replaced := false
	for i := range doc.Channels {
		if doc.Channels[i].ChannelID == id {
			doc.Channels[i] = ch
			replaced = true
		}
	}
	if !replaced {
		doc.Channels = append(doc.Channels, ch)
	}

	if err := r.store(ctx, ownerFP, doc); err != nil {
		return nil, err
	}
	return &ch, nil
}

// Get returns a single channel by id, regardless of staleness.
func (r *Registry) Get(ctx context.Context, channelID string) (*Channel, error) {
	doc, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	for i := range doc.Channels {
		if doc.Channels[i].ChannelID == channelID {
			return &doc.Channels[i], nil
		}
	}
	return nil, records.New(records.KindNotFound, "channel not found")
}

// List returns every channel whose last_seen is within the 900-second
// staleness window of now, per spec.md §3 ("Stale nodes... are filtered at
// read time" — the same rule applies to channel liveness here).
func (r *Registry) List(ctx context.Context, now int64) ([]Channel, error) {
	doc, err := r.load(ctx)
	if err != nil {
		if records.Is(err, records.KindNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var out []Channel
	for _, ch := range doc.Channels {
		if !IsStale(ch.LastSeen, now) {
			out = append(out, ch)
		}
	}
	return out, nil
}

// IsStale reports whether lastSeen is older than the 900-second window
// relative to now.
func IsStale(lastSeen, now int64) bool {
	return now-lastSeen > int64(staleAfter.Seconds())
}

func (r *Registry) load(ctx context.Context) (registryDoc, error) {
	raw, err := r.layer.Fetch(ctx, r.key)
	if err != nil {
		return registryDoc{}, records.Wrap(records.KindNotFound, "fetch channel registry", err)
	}
	var doc registryDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return registryDoc{}, records.Wrap(records.KindFramingError, "unmarshal channel registry", err)
	}
	return doc, nil
}

func (r *Registry) store(ctx context.Context, ownerFP string, doc registryDoc) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return records.Wrap(records.KindFramingError, "marshal channel registry", err)
	}
	if err := r.layer.Publish(ctx, r.key, ownerFP, raw, TTL); err != nil {
		return records.Wrap(records.KindTransientNetwork, "publish channel registry", err)
	}
	return nil
}
