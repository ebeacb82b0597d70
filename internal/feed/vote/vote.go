// Package vote implements feed votes (SPEC_FULL.md C9 / spec.md §4.11):
// permanent one-vote-per-voter casting, aggregate counters, and
// verify-on-load with a hard-error counter/tally consistency check.
package vote

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dna/dht/internal/chunked"
	"github.com/dna/dht/internal/cryptoadapter"
	"github.com/dna/dht/internal/records"
)

// TTL is the 30-day aggregate lifetime of spec.md §4.11.
const TTL = 30 * 24 * time.Hour

// Vote is the record of spec.md §3 "Vote".
type Vote struct {
	VoterFP   string `json:"voter_fp"`
	VoteValue int    `json:"vote_value"`
	Timestamp int64  `json:"timestamp"`
	Sig       []byte `json:"signature,omitempty"`
}

// Aggregate is spec.md §3 "Vote aggregate": counts must equal the tallies
// of Votes.
type Aggregate struct {
	PostID        string `json:"post_id"`
	UpvoteCount   int    `json:"upvote_count"`
	DownvoteCount int    `json:"downvote_count"`
	Votes         []Vote `json:"votes"`
}

// Key returns the DHT key of a post's vote aggregate:
// sha256("dna:feed:post:"+post_id+":votes").
func Key(postID string) string {
	return records.DHTKey("dna:feed:post:" + postID + ":votes")
}

// aggregateOwner is the fixed owner token Cast/Load publish the aggregate
// under on the single-owner chunked layer. A vote aggregate has no single
// natural author — any voter may cast — so the post itself, not a voter
// fingerprint, is treated as the owning identity for this key (see
// DESIGN.md's vote-aggregate-ownership decision).
func aggregateOwner(postID string) string {
	return "votes:" + postID
}

// signedBytes is the byte sequence a vote's signature covers:
// post_id || vote_value || timestamp_be (spec.md §3).
func signedBytes(postID string, value int, timestamp int64) []byte {
	out := make([]byte, 0, len(postID)+4+8)
	out = append(out, []byte(postID)...)
	out = append(out, cryptoadapter.PutUint32BE(uint32(int32(value)))...)
	out = append(out, cryptoadapter.PutUint64BE(uint64(timestamp))...)
	return out
}

// Cast records voterFP's vote on postID. A second vote from the same
// voter_fp fails AlreadyVoted — votes are permanent, never revisable
// (spec.md §3/§4.11).
func Cast(ctx context.Context, layer chunked.Layer, postID, voterFP string, value int, signPriv []byte, now int64) (*Aggregate, error) {
	if value != 1 && value != -1 {
		return nil, records.New(records.KindConfigError, "vote_value must be +1 or -1")
	}

	agg, err := loadRaw(ctx, layer, postID)
	if err != nil && !records.Is(err, records.KindNotFound) {
		return nil, err
	}
	for _, v := range agg.Votes {
		if v.VoterFP == voterFP {
			return nil, records.New(records.KindAlreadyVoted, "voter has already voted on this post")
		}
	}

	sig, err := cryptoadapter.Sign(signedBytes(postID, value, now), signPriv)
	if err != nil {
		return nil, records.Wrap(records.KindFramingError, "sign vote", err)
	}

	agg.PostID = postID
	agg.Votes = append(agg.Votes, Vote{VoterFP: voterFP, VoteValue: value, Timestamp: now, Sig: sig})
	if value == 1 {
		agg.UpvoteCount++
	} else {
		agg.DownvoteCount++
	}

	if err := storeRaw(ctx, layer, postID, agg); err != nil {
		return nil, err
	}
	return &agg, nil
}

// PublicKeyLookup resolves a voter's signing public key by fingerprint, so
// Load can verify each vote's signature.
type PublicKeyLookup func(voterFP string) ([]byte, bool)

// Load fetches and verifies a post's vote aggregate. A missing aggregate
// returns an empty Aggregate with a nil error — distinguishable from a
// real error — per spec.md §4.11: "Missing aggregate returns empty with
// status distinguishable from error." Every vote's signature is checked;
// the stored counters must equal the tallies of verified votes, or Load
// returns a hard error, never a silent mismatch.
func Load(ctx context.Context, layer chunked.Layer, postID string, lookup PublicKeyLookup) (*Aggregate, error) {
	agg, err := loadRaw(ctx, layer, postID)
	if err != nil {
		if records.Is(err, records.KindNotFound) {
			return &Aggregate{PostID: postID}, nil
		}
		return nil, err
	}

	var up, down int
	for i := range agg.Votes {
		v := agg.Votes[i]
		pubKey, ok := lookup(v.VoterFP)
		if !ok {
			return nil, records.New(records.KindConfigError, "unknown voter fingerprint: "+v.VoterFP)
		}
		valid, verr := cryptoadapter.VerifyErr(v.Sig, signedBytes(postID, v.VoteValue, v.Timestamp), pubKey)
		if verr != nil {
			return nil, records.Wrap(records.KindFramingError, "verify vote signature", verr)
		}
		if !valid {
			return nil, records.New(records.KindSignatureInvalid, "vote signature invalid for voter "+v.VoterFP)
		}
		switch v.VoteValue {
		case 1:
			up++
		case -1:
			down++
		default:
			return nil, records.New(records.KindFramingError, "vote_value out of range")
		}
	}

	if up != agg.UpvoteCount || down != agg.DownvoteCount {
		return nil, records.New(records.KindFramingError, "vote aggregate counters do not match verified tallies")
	}
	return &agg, nil
}

func loadRaw(ctx context.Context, layer chunked.Layer, postID string) (Aggregate, error) {
	raw, err := layer.Fetch(ctx, Key(postID))
	if err != nil {
		return Aggregate{}, records.Wrap(records.KindNotFound, "fetch vote aggregate", err)
	}
	var agg Aggregate
	if err := json.Unmarshal(raw, &agg); err != nil {
		return Aggregate{}, records.Wrap(records.KindFramingError, "unmarshal vote aggregate", err)
	}
	return agg, nil
}

func storeRaw(ctx context.Context, layer chunked.Layer, postID string, agg Aggregate) error {
	raw, err := json.Marshal(agg)
	if err != nil {
		return records.Wrap(records.KindFramingError, "marshal vote aggregate", err)
	}
	if err := layer.Publish(ctx, Key(postID), aggregateOwner(postID), raw, TTL); err != nil {
		return records.Wrap(records.KindTransientNetwork, "publish vote aggregate", err)
	}
	return nil
}
