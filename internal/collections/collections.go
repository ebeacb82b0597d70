// Package collections implements the self-encrypted, single-owner
// grouplist and contactlist records (SPEC_FULL.md C8 / spec.md §3
// "Grouplist / contactlist records" and §4.7).
package collections

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dna/dht/internal/chunked"
	"github.com/dna/dht/internal/cryptoadapter"
	"github.com/dna/dht/internal/records"
)

// Kind distinguishes a grouplist from a contactlist envelope.
type Kind string

const (
	KindGroupList   Kind = "GLST"
	KindContactList Kind = "CLST"
)

const envelopeVersion = 1

// DefaultTTL is the 7-day group/contact list lifetime of spec.md §3
// ("Destruction is implicit via TTL... 7 days for group lists").
const DefaultTTL = 7 * 24 * time.Hour

// Payload is the plaintext structure sealed inside the envelope.
type Payload struct {
	Identity  string   `json:"identity"`
	Version   int      `json:"version"`
	Timestamp int64    `json:"timestamp"`
	Items     []string `json:"groups_or_contacts"`
	Sig       []byte   `json:"signature,omitempty"`
}

func (p *Payload) CanonicalUnsigned() ([]byte, error) {
	cp := *p
	cp.Sig = nil
	return json.Marshal(cp)
}
func (p *Payload) Signature() []byte     { return p.Sig }
func (p *Payload) SetSignature(s []byte) { p.Sig = s }

var _ records.Signable = (*Payload)(nil)

// KeyFor returns the DHT key for a grouplist/contactlist owned by fp.
func KeyFor(kind Kind, fp string) string {
	switch kind {
	case KindGroupList:
		return records.DHTKey(fp + ":grouplist")
	case KindContactList:
		return records.DHTKey(fp + ":contactlist")
	default:
		return records.DHTKey(fp + ":unknown")
	}
}

func magicFor(kind Kind) [4]byte {
	var m [4]byte
	copy(m[:], []byte(kind))
	return m
}

// Publish builds, signs, self-encrypts and publishes a grouplist or
// contactlist per spec.md §4.7.
func Publish(ctx context.Context, layer chunked.Layer, kind Kind, fp string, items []string, signPriv, encPub []byte, now int64) error {
	payload := &Payload{Identity: fp, Version: 1, Timestamp: now, Items: items}
	if err := records.Sign(payload, signPriv); err != nil {
		return err
	}

	plaintext, err := json.Marshal(payload)
	if err != nil {
		return records.Wrap(records.KindFramingError, "marshal payload", err)
	}

	kemCT, iv, tag, ct, err := selfEncrypt(plaintext, encPub)
	if err != nil {
		return records.Wrap(records.KindDecryptionFailed, "self-encrypt", err)
	}

	blob := frame(kind, now, now+int64(DefaultTTL.Seconds()), kemCT, iv, tag, ct)
	key := KeyFor(kind, fp)
	if err := layer.Publish(ctx, key, fp, blob, DefaultTTL); err != nil {
		return records.Wrap(records.KindTransientNetwork, "publish", err)
	}
	return nil
}

// Fetch retrieves, decrypts and verifies a grouplist/contactlist. The
// caller's own encPriv/signPub must match the owner's keys: fetch enforces
// the self-encryption check (the decrypted payload's identity/signature
// must verify against signPub).
func Fetch(ctx context.Context, layer chunked.Layer, kind Kind, fp string, encPriv, signPub []byte, now int64) (*Payload, error) {
	key := KeyFor(kind, fp)
	blob, err := layer.Fetch(ctx, key)
	if err != nil {
		return nil, records.Wrap(records.KindNotFound, "fetch envelope", err)
	}

	frameInfo, kemCT, iv, tag, ct, err := unframe(kind, blob)
	if err != nil {
		return nil, err
	}
	if frameInfo.expiry < now {
		return nil, records.New(records.KindNotFound, "envelope expired")
	}

	plaintext, err := decrypt(kemCT, ct, iv, tag, encPriv)
	if err != nil {
		return nil, records.Wrap(records.KindDecryptionFailed, "self-decrypt", err)
	}

	var payload Payload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil, records.Wrap(records.KindFramingError, "unmarshal payload", err)
	}
	if err := records.Verify(&payload, signPub); err != nil {
		return nil, err
	}
	if payload.Identity != fp {
		return nil, records.New(records.KindOwnershipViolation, "payload identity does not match requested owner")
	}
	return &payload, nil
}

type frameHeader struct {
	timestamp int64
	expiry    int64
}

// frame lays out the binary envelope exactly per spec.md §3: 4-byte magic,
// 1-byte version, 8-byte BE timestamp, 8-byte BE expiry, 4-byte encrypted
// length + payload, 4-byte sig length + sig. The "encrypted payload" region
// holds the self-encryption triple [kemCT(1568)][iv(12)][tag(16)][ct]; the
// outer "signature" region is unused because the signature already lives
// inside the encrypted payload and must be verified post-decrypt per
// spec.md §4.7 — it is kept at zero length to preserve the documented
// envelope shape for readers that inspect it before decryption.
func frame(kind Kind, ts, expiry int64, kemCT, iv, tag, ct []byte) []byte {
	magic := magicFor(kind)
	inner := make([]byte, 0, len(kemCT)+len(iv)+len(tag)+len(ct))
	inner = append(inner, kemCT...)
	inner = append(inner, iv...)
	inner = append(inner, tag...)
	inner = append(inner, ct...)

	out := make([]byte, 0, 4+1+8+8+4+len(inner)+4)
	out = append(out, magic[:]...)
	out = append(out, byte(envelopeVersion))
	out = append(out, cryptoadapter.PutUint64BE(uint64(ts))...)
	out = append(out, cryptoadapter.PutUint64BE(uint64(expiry))...)
	out = append(out, cryptoadapter.PutUint32BE(uint32(len(inner)))...)
	out = append(out, inner...)
	out = append(out, cryptoadapter.PutUint32BE(0)...) // outer signature length, unused (see above)
	return out
}

func unframe(kind Kind, blob []byte) (frameHeader, []byte, []byte, []byte, []byte, error) {
	const headerLen = 4 + 1 + 8 + 8 + 4
	if len(blob) < headerLen {
		return frameHeader{}, nil, nil, nil, nil, records.New(records.KindFramingError, "envelope too short")
	}
	wantMagic := magicFor(kind)
	if string(blob[:4]) != string(wantMagic[:]) {
		return frameHeader{}, nil, nil, nil, nil, records.New(records.KindFramingError, "magic mismatch")
	}
	version := blob[4]
	if version != envelopeVersion {
		return frameHeader{}, nil, nil, nil, nil, records.New(records.KindFramingError, fmt.Sprintf("unsupported envelope version %d", version))
	}
	ts := int64(cryptoadapter.Uint64BE(blob[5:13]))
	expiry := int64(cryptoadapter.Uint64BE(blob[13:21]))
	innerLen := cryptoadapter.Uint32BE(blob[21:25])
	rest := blob[25:]
	if uint64(innerLen) > uint64(len(rest)) {
		return frameHeader{}, nil, nil, nil, nil, records.New(records.KindFramingError, "encrypted length overflows blob")
	}
	inner := rest[:innerLen]
	tail := rest[innerLen:]
	if len(tail) < 4 {
		return frameHeader{}, nil, nil, nil, nil, records.New(records.KindFramingError, "missing outer signature length")
	}
	sigLen := cryptoadapter.Uint32BE(tail[:4])
	if uint64(sigLen) > uint64(len(tail)-4) {
		return frameHeader{}, nil, nil, nil, nil, records.New(records.KindFramingError, "signature length overflows blob")
	}

	minLen := cryptoadapter.EncapCiphertextSize + cryptoadapter.AEADNonceSize + cryptoadapter.AEADTagSize
	if len(inner) < minLen {
		return frameHeader{}, nil, nil, nil, nil, records.New(records.KindFramingError, "encrypted payload too short")
	}
	kemCT := inner[:cryptoadapter.EncapCiphertextSize]
	iv := inner[cryptoadapter.EncapCiphertextSize : cryptoadapter.EncapCiphertextSize+cryptoadapter.AEADNonceSize]
	tag := inner[cryptoadapter.EncapCiphertextSize+cryptoadapter.AEADNonceSize : minLen]
	ct := inner[minLen:]

	return frameHeader{timestamp: ts, expiry: expiry}, kemCT, iv, tag, ct, nil
}

// selfEncrypt treats the owner as both sender and recipient: it
// encapsulates a shared secret against the owner's own KEM public key and
// seals plaintext under it, per spec.md §4.7.
func selfEncrypt(plaintext, encPub []byte) (kemCT, iv, tag, ct []byte, err error) {
	kemCT, shared, err := cryptoadapter.KEMEncapsulate(encPub)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	ivBytes, err := cryptoadapter.RandomBytes(cryptoadapter.AEADNonceSize)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	var ivArr [cryptoadapter.AEADNonceSize]byte
	copy(ivArr[:], ivBytes)
	ct, tag, err = cryptoadapter.AEADSeal(shared, ivArr, nil, plaintext)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	return kemCT, ivBytes, tag, ct, nil
}

// decrypt reverses selfEncrypt using the owner's KEM private key. A tag
// mismatch — whether from the wrong key or tampering — surfaces as
// cryptoadapter.ErrDecryptionFailed, which callers treat as fatal.
func decrypt(kemCT, ct, iv, tag, encPriv []byte) ([]byte, error) {
	shared, err := cryptoadapter.KEMDecapsulate(kemCT, encPriv)
	if err != nil {
		return nil, err
	}
	var ivArr [cryptoadapter.AEADNonceSize]byte
	copy(ivArr[:], iv)
	return cryptoadapter.AEADOpen(shared, ivArr, nil, ct, tag)
}
