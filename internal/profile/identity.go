// Package profile implements the unified identity/profile record
// (SPEC_FULL.md C10 / spec.md §3 "Identities") and the validation rules of
// spec.md §6: fingerprint format, DNA name charset/disallow-list, IPFS CID
// v0/v1, and per-chain wallet address formats.
package profile

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dna/dht/internal/cryptoadapter"
	"github.com/dna/dht/internal/records"
)

// NameExpirySeconds is the registered-name validity window: 365 days.
const NameExpirySeconds = 365 * 24 * 60 * 60

// Profile holds the user-editable display fields of an Identity.
type Profile struct {
	DisplayName string            `json:"display_name,omitempty"`
	Bio         string            `json:"bio,omitempty"`
	AvatarHash  string            `json:"avatar_hash,omitempty"`
	Location    string            `json:"location,omitempty"`
	Website     string            `json:"website,omitempty"`
	Wallets     map[string]string `json:"wallets,omitempty"` // chain name -> address
	Socials     map[string]string `json:"socials,omitempty"` // platform -> handle
}

// Identity is the unified identity record of spec.md §3.
type Identity struct {
	Fingerprint     string    `json:"fingerprint"`
	SigningPubKey   []byte    `json:"signing_pub_key"`
	EncPubKey       []byte    `json:"enc_pub_key"`
	Name            string    `json:"name,omitempty"`
	NameRegisteredAt int64    `json:"name_registered_at,omitempty"`
	NameExpiresAt   int64     `json:"name_expires_at,omitempty"`
	NameVersion     int       `json:"name_version,omitempty"`
	Profile         Profile   `json:"profile"`
	CreatedAt       int64     `json:"created_at"`
	UpdatedAt       int64     `json:"updated_at"`
	Version         int       `json:"version"`
	Sig             []byte    `json:"signature,omitempty"`
}

// CanonicalUnsigned implements records.Signable.
func (id *Identity) CanonicalUnsigned() ([]byte, error) {
	cp := *id
	cp.Sig = nil
	return json.Marshal(cp)
}

func (id *Identity) Signature() []byte     { return id.Sig }
func (id *Identity) SetSignature(s []byte) { id.Sig = s }

var _ records.Signable = (*Identity)(nil)

// NewIdentity builds an Identity from a signing/encryption key pair,
// computing the fingerprint as SHA-3-512 of the signing public key.
func NewIdentity(signingPub, encPub []byte, now int64) *Identity {
	fp := Fingerprint(signingPub)
	return &Identity{
		Fingerprint:   fp,
		SigningPubKey: signingPub,
		EncPubKey:     encPub,
		CreatedAt:     now,
		UpdatedAt:     now,
		Version:       1,
	}
}

// Fingerprint computes the hex-encoded SHA-3-512 fingerprint of a signing
// public key.
func Fingerprint(signingPub []byte) string {
	sum := cryptoadapter.Sha3512(signingPub)
	return cryptoadapter.HexEncode(sum[:])
}

// RegisterName sets a name and its 365-day expiry, bumping NameVersion.
func (id *Identity) RegisterName(name string, now int64) error {
	if err := ValidateDNAName(name); err != nil {
		return err
	}
	id.Name = name
	id.NameRegisteredAt = now
	id.NameExpiresAt = now + NameExpirySeconds
	id.NameVersion++
	return nil
}

// Validate checks the structural invariants of spec.md §3: fingerprint
// matches the signing key, name expiry is consistent if a name is
// registered, and updated_at is not before created_at. It does NOT check
// the signature — callers run records.Verify for that.
func (id *Identity) Validate() error {
	if err := ValidateFingerprint(id.Fingerprint); err != nil {
		return err
	}
	want := Fingerprint(id.SigningPubKey)
	if want != id.Fingerprint {
		return records.New(records.KindOwnershipViolation, "fingerprint does not match signing public key")
	}
	if id.Name != "" {
		if id.NameExpiresAt != id.NameRegisteredAt+NameExpirySeconds {
			return records.New(records.KindFramingError, "name_expires_at inconsistent with name_registered_at")
		}
	}
	if id.UpdatedAt < id.CreatedAt {
		return records.New(records.KindFramingError, "updated_at before created_at")
	}
	return nil
}

// ValidateFingerprint checks a fingerprint is exactly 128 lowercase hex
// characters (spec.md §6).
func ValidateFingerprint(fp string) error {
	if len(fp) != cryptoadapter.FingerprintHexLen {
		return records.New(records.KindConfigError, fmt.Sprintf("fingerprint must be %d hex chars, got %d", cryptoadapter.FingerprintHexLen, len(fp)))
	}
	for _, c := range fp {
		if !isLowerHex(c) {
			return records.New(records.KindConfigError, "fingerprint contains non-lowercase-hex characters")
		}
	}
	return nil
}

func isLowerHex(c rune) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')
}

// nowUnix is overridable in tests.
var nowUnix = func() int64 { return time.Now().Unix() }
