// Package engine exposes the top-level Engine type: the single owner of a
// DHT session handle, the bootstrap cache/discovery pair, the chunked
// layer, and this module's record-level API surface (SPEC_FULL.md
// "internal/engine"). Engine follows spec.md §5/§9's "explicit ownership"
// design note: the session handle it holds is either owned (Close releases
// it) or borrowed (Close is a no-op), never a bare pointer a caller could
// free out from under a still-running discovery task.
package engine

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/dna/dht/internal/bootstrap/cache"
	"github.com/dna/dht/internal/bootstrap/discovery"
	"github.com/dna/dht/internal/chunked"
	"github.com/dna/dht/internal/collections"
	"github.com/dna/dht/internal/dhtsession"
	"github.com/dna/dht/internal/feed/comment"
	"github.com/dna/dht/internal/feed/registry"
	"github.com/dna/dht/internal/feed/topic"
	"github.com/dna/dht/internal/feed/vote"
	"github.com/dna/dht/internal/feed/wall"
	"github.com/dna/dht/internal/identity"
	"github.com/dna/dht/internal/profile"
	"github.com/dna/dht/internal/records"
	"github.com/dna/dht/pkg/config"
)

// Engine bundles every piece this module's callers (the CLI, or an embedder)
// need, owning the lifetimes that must be joined/closed in the right order:
// discovery must finish before the session handle is released.
type Engine struct {
	cfg     *config.Config
	log     *logrus.Logger
	metrics *Metrics

	session *dhtsession.Handle
	layer   chunked.MultiOwnerLayer
	cache   *cache.Cache

	registry *registry.Registry

	discovery     *discovery.Task
	discoveryDone chan struct{}
}

// Options configures New. Session, Layer and Cache are required; the rest
// default to sane values.
type Options struct {
	Config   *config.Config
	Session  dhtsession.Session
	Owned    bool // whether Engine should Close the session on Close
	Layer    chunked.MultiOwnerLayer
	Cache    *cache.Cache
	Logger   *logrus.Logger
	Registry prometheus.Registerer // defaults to prometheus.NewRegistry()
}

// New constructs an Engine. It does not start discovery; call
// StartDiscovery explicitly once the caller is ready to run it in the
// background.
func New(opts Options) (*Engine, error) {
	if opts.Session == nil {
		return nil, fmt.Errorf("engine: session is required")
	}
	if opts.Layer == nil {
		return nil, fmt.Errorf("engine: chunked layer is required")
	}
	if opts.Cache == nil {
		return nil, fmt.Errorf("engine: bootstrap cache is required")
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	var handle *dhtsession.Handle
	if opts.Owned {
		handle = dhtsession.Own(opts.Session)
	} else {
		handle = dhtsession.Borrow(opts.Session)
	}

	return &Engine{
		cfg:      opts.Config,
		log:      log,
		metrics:  NewMetrics(reg),
		session:  handle,
		layer:    opts.Layer,
		cache:    opts.Cache,
		registry: registry.New(opts.Layer),
	}, nil
}

// Metrics exposes the Prometheus collectors this Engine records against, so
// an embedder can mount them on its own /metrics handler.
func (e *Engine) Metrics() *Metrics { return e.metrics }

// SeedFromCache populates the DHT session's runtime connections from up to
// limit of the bootstrap cache's best (most reliable) entries, per spec.md
// §4.3's "cache seed" mode.
func (e *Engine) SeedFromCache(ctx context.Context, limit int) (int, error) {
	entries, err := e.cache.Best(limit)
	if err != nil {
		return 0, fmt.Errorf("engine: seed from cache: %w", err)
	}
	connected := 0
	session := e.session.Session()
	if session == nil {
		return 0, fmt.Errorf("engine: session handle is closed")
	}
	for _, entry := range entries {
		if err := session.BootstrapRuntime(ctx, entry.IP, entry.Port); err != nil {
			e.metrics.BootstrapAttempts.WithLabelValues("failed").Inc()
			_ = e.cache.MarkFailed(entry.IP, entry.Port)
			continue
		}
		e.metrics.BootstrapAttempts.WithLabelValues("connected").Inc()
		_ = e.cache.MarkConnected(entry.IP, entry.Port)
		connected++
	}
	return connected, nil
}

// StartDiscovery launches the background registry-refresh task (spec.md
// §4.3's "registry refresh" mode) and returns immediately. StopDiscovery
// must be called, and its Wait joined, before Close releases the session.
func (e *Engine) StartDiscovery(ctx context.Context) {
	task := discovery.New(discovery.Config{
		RegistryKey: e.cfg.Bootstrap.RegistryKey,
		Session:     e.session.Session(),
		Cache:       e.cache,
		Logger:      e.log,
		OnComplete: func(connected int, _ any) {
			e.metrics.DiscoveryRuns.Inc()
			e.metrics.DiscoveryConnected.Set(float64(connected))
		},
	})
	e.discovery = task
	e.discoveryDone = make(chan struct{})
	go func() {
		task.Run(ctx)
		close(e.discoveryDone)
	}()
}

// StopDiscovery requests the background discovery task to stop and blocks
// until it has fully terminated. Safe to call even if discovery was never
// started.
func (e *Engine) StopDiscovery(ctx context.Context) error {
	if e.discovery == nil {
		return nil
	}
	e.discovery.Stop()
	return e.discovery.Wait(ctx)
}

// Close stops discovery (if running) and releases the session if this
// Engine owns it. Discovery is always joined first, so the session is never
// closed while discovery might still be touching it.
func (e *Engine) Close() error {
	_ = e.StopDiscovery(context.Background())
	return e.session.Close()
}

// BackupIdentity generates a fresh identity, seals it under its own
// encryption key, writes it locally, and publishes it (spec.md §4.4).
func (e *Engine) BackupIdentity(ctx context.Context, now int64) (*identity.Generated, []byte, error) {
	gen, err := identity.Generate(now)
	if err != nil {
		return nil, nil, err
	}
	blob, err := identity.Seal(gen)
	if err != nil {
		return nil, nil, err
	}
	if err := identity.WriteLocal(gen.Identity.Fingerprint, blob); err != nil {
		return nil, nil, err
	}
	if err := identity.Publish(ctx, e.layer, gen.Identity.Fingerprint, blob); err != nil {
		return nil, nil, err
	}
	return gen, blob, nil
}

// RecoverIdentity fetches an identity backup (preferring the local copy,
// falling back to the chunked layer) and reverses the seal.
func (e *Engine) RecoverIdentity(ctx context.Context, fp string, encPriv []byte) ([]byte, *profile.Identity, error) {
	blob, err := identity.ReadLocal(fp)
	if err != nil {
		if !records.Is(err, records.KindNotFound) {
			return nil, nil, err
		}
		blob, err = identity.Fetch(ctx, e.layer, fp)
		if err != nil {
			return nil, nil, err
		}
	}
	signPriv, cert, err := identity.Recover(blob, encPriv)
	if err != nil {
		e.metrics.VerifyFailures.WithLabelValues("identity").Inc()
		return nil, nil, err
	}
	return signPriv, cert, nil
}

// CreateTopic creates a feed topic and indexes it. The same multi-owner
// layer backs both the topic record and its day-bucket index.
func (e *Engine) CreateTopic(ctx context.Context, authorFP, category, title, body string, tags []string, signPriv []byte, now int64) (*topic.Topic, error) {
	return topic.Create(ctx, e.layer, e.layer, authorFP, category, title, body, tags, signPriv, now, e.log)
}

// GetTopic fetches a single topic by id.
func (e *Engine) GetTopic(ctx context.Context, topicUUID string) (*topic.Topic, error) {
	return topic.Get(ctx, e.layer, topicUUID)
}

// DeleteTopic soft-deletes a topic on behalf of requesterFP.
func (e *Engine) DeleteTopic(ctx context.Context, topicUUID, requesterFP string, signPriv []byte, now int64) error {
	return topic.Delete(ctx, e.layer, e.layer, topicUUID, requesterFP, signPriv, now, e.log)
}

// AddComment appends a comment to a topic's multi-owner comment bucket.
func (e *Engine) AddComment(ctx context.Context, topicUUID, authorFP, body, parentCommentUUID string, mentions []string, signPriv []byte, now int64) (*comment.Comment, error) {
	return comment.Add(ctx, e.layer, topicUUID, authorFP, body, parentCommentUUID, mentions, signPriv, now)
}

// GetComments returns a topic's comments merged across all authors.
func (e *Engine) GetComments(ctx context.Context, topicUUID string) ([]comment.Comment, error) {
	return comment.GetAll(ctx, e.layer, topicUUID)
}

// PostWall appends a wall post for posterFP on wallOwnerFP's wall.
func (e *Engine) PostWall(ctx context.Context, wallOwnerFP, posterFP, text, replyTo string, signPriv []byte, nowMs int64) (*wall.Post, error) {
	return wall.Post(ctx, e.layer, wallOwnerFP, posterFP, text, replyTo, signPriv, nowMs)
}

// GetWall returns a poster's wall view for wallOwnerFP, with reply counts.
func (e *Engine) GetWall(ctx context.Context, wallOwnerFP, posterFP string) ([]wall.View, error) {
	return wall.Get(ctx, e.layer, wallOwnerFP, posterFP)
}

// CastVote records voterFP's vote on postID.
func (e *Engine) CastVote(ctx context.Context, postID, voterFP string, value int, signPriv []byte, now int64) (*vote.Aggregate, error) {
	return vote.Cast(ctx, e.layer, postID, voterFP, value, signPriv, now)
}

// LoadVotes fetches and verifies a post's vote aggregate.
func (e *Engine) LoadVotes(ctx context.Context, postID string, lookup vote.PublicKeyLookup) (*vote.Aggregate, error) {
	agg, err := vote.Load(ctx, e.layer, postID, lookup)
	if err != nil {
		e.metrics.VerifyFailures.WithLabelValues("vote").Inc()
	}
	return agg, err
}

// PublishGroupList self-encrypts and publishes fp's group membership list
// (spec.md §3/§4.7). encPub is fp's own KEM public key: the owner is both
// sender and recipient.
func (e *Engine) PublishGroupList(ctx context.Context, fp string, groups []string, signPriv, encPub []byte, now int64) error {
	return collections.Publish(ctx, e.layer, collections.KindGroupList, fp, groups, signPriv, encPub, now)
}

// FetchGroupList decrypts and verifies fp's group membership list using the
// owner's own keys.
func (e *Engine) FetchGroupList(ctx context.Context, fp string, encPriv, signPub []byte, now int64) (*collections.Payload, error) {
	p, err := collections.Fetch(ctx, e.layer, collections.KindGroupList, fp, encPriv, signPub, now)
	if err != nil {
		e.metrics.VerifyFailures.WithLabelValues("grouplist").Inc()
	}
	return p, err
}

// PublishContactList self-encrypts and publishes fp's contact list.
func (e *Engine) PublishContactList(ctx context.Context, fp string, contacts []string, signPriv, encPub []byte, now int64) error {
	return collections.Publish(ctx, e.layer, collections.KindContactList, fp, contacts, signPriv, encPub, now)
}

// FetchContactList decrypts and verifies fp's contact list using the
// owner's own keys.
func (e *Engine) FetchContactList(ctx context.Context, fp string, encPriv, signPub []byte, now int64) (*collections.Payload, error) {
	p, err := collections.Fetch(ctx, e.layer, collections.KindContactList, fp, encPriv, signPub, now)
	if err != nil {
		e.metrics.VerifyFailures.WithLabelValues("contactlist").Inc()
	}
	return p, err
}

// Channels returns the channel registry.
func (e *Engine) Channels() *registry.Registry { return e.registry }

// CacheStats reports the bootstrap cache size, refreshing the
// CacheSize gauge.
func (e *Engine) CacheStats() (int, error) {
	n, err := e.cache.Count()
	if err != nil {
		return 0, err
	}
	e.metrics.CacheSize.Set(float64(n))
	return n, nil
}

// ExpireCache removes cache rows whose last_seen is older than
// maxAgeSeconds.
func (e *Engine) ExpireCache(maxAgeSeconds int64) (int64, error) {
	return e.cache.Expire(maxAgeSeconds)
}
