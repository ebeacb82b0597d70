// Package cryptoadapter is a thin, constant-time-where-possible contract
// around the post-quantum primitives the rest of the module signs, seals and
// hashes records with. Real ML-KEM-1024 / ML-DSA-87 / SHA-3-512 are external
// collaborators (see SPEC_FULL.md §1); this package pins their I/O shape —
// sizes, error semantics, and the hex/base64/byte-order helpers every codec
// needs — behind a reference implementation so the rest of the module can be
// written and tested against a stable contract.
package cryptoadapter

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	crand "crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/sha3"
)

// Sizes fixed by the NIST Category 5 parameter sets this module targets.
const (
	SigningPublicKeySize    = 2592 // ML-DSA-87 public key
	SigningPrivateKeySize   = 4896 // ML-DSA-87 private key
	SignatureMaxSize        = 4627 // ML-DSA-87 signature, upper bound
	EncapPublicKeySize      = 1568 // ML-KEM-1024 public key
	EncapPrivateKeySize     = 3168 // ML-KEM-1024 private key
	EncapCiphertextSize     = 1568 // ML-KEM-1024 ciphertext
	SharedSecretSize        = 32
	AEADKeySize             = 32
	AEADNonceSize           = 12
	AEADTagSize             = 16
	FingerprintSize         = 64 // SHA3-512 hex, 128 hex chars == 64 bytes
	FingerprintHexLen       = FingerprintSize * 2
)

// ErrSignatureInvalid is returned by Verify when a signature fails to
// validate; it is distinct from any decode/framing failure by contract.
var ErrSignatureInvalid = errors.New("cryptoadapter: signature invalid")

// ErrDecryptionFailed is returned by AEADOpen when the tag does not match —
// either the wrong key was used or the ciphertext was tampered with.
var ErrDecryptionFailed = errors.New("cryptoadapter: decryption failed")

// KeyPair is a signing identity: a private key and its public counterpart.
type KeyPair struct {
	PublicKey  []byte
	PrivateKey []byte
}

// GenerateSigningKeyPair produces a fresh ML-DSA-87-shaped key pair.
//
// This reference implementation derives a deterministic-from-random seed
// pair using SHA-512 expansion rather than linking a real lattice-signature
// library, so callers exercise the exact contract (sizes, Sign/Verify
// semantics) a real backend would present.
func GenerateSigningKeyPair() (*KeyPair, error) {
	seed, err := RandomBytes(64)
	if err != nil {
		return nil, fmt.Errorf("cryptoadapter: generate signing key: %w", err)
	}
	priv := expand(seed, SigningPrivateKeySize)
	pub := expand(priv, SigningPublicKeySize)
	return &KeyPair{PublicKey: pub, PrivateKey: priv}, nil
}

// GenerateEncapKeyPair produces a fresh ML-KEM-1024-shaped key pair.
func GenerateEncapKeyPair() (*KeyPair, error) {
	seed, err := RandomBytes(64)
	if err != nil {
		return nil, fmt.Errorf("cryptoadapter: generate encap key: %w", err)
	}
	priv := expand(seed, EncapPrivateKeySize)
	pub := expand(priv, EncapPublicKeySize)
	return &KeyPair{PublicKey: pub, PrivateKey: priv}, nil
}

// DerivePublicSigningKey recovers the public key matching a signing private
// key produced by GenerateSigningKeyPair. Identity recovery needs this to
// confirm a recovered private key actually matches the fingerprint the
// backup was filed under.
func DerivePublicSigningKey(priv []byte) []byte {
	return expand(priv, SigningPublicKeySize)
}

// Sign produces a signature over msg under privKey. The reference scheme is
// an HMAC-SHA512 MAC, keyed with the public key derived from privKey and
// padded/truncated to the ML-DSA-87 signature envelope, so VerifyErr can
// recompute it from the public key alone; it is not a post-quantum
// signature and MUST be swapped for the real ML-DSA-87 backend before this
// module handles production key material.
func Sign(msg, privKey []byte) ([]byte, error) {
	if len(privKey) != SigningPrivateKeySize {
		return nil, fmt.Errorf("cryptoadapter: sign: invalid private key size %d", len(privKey))
	}
	return macSignature(msg, DerivePublicSigningKey(privKey)), nil
}

// macSignature is the reference signature body shared by Sign and VerifyErr.
func macSignature(msg, key []byte) []byte {
	mac := hmac.New(sha512.New, key)
	mac.Write(msg)
	tag := mac.Sum(nil)
	sig := make([]byte, 0, SignatureMaxSize)
	sig = append(sig, tag...)
	for len(sig) < SignatureMaxSize {
		mac.Reset()
		mac.Write(sig)
		sig = append(sig, mac.Sum(nil)...)
	}
	return sig[:SignatureMaxSize]
}

// Verify reports whether sig is a valid signature over msg under pubKey.
// Verification failures are reported as a bool, never silently swallowed:
// callers that need a distinguishable error should use VerifyErr.
func Verify(sig, msg, pubKey []byte) bool {
	ok, _ := VerifyErr(sig, msg, pubKey)
	return ok
}

// VerifyErr is Verify with a non-nil error describing why verification could
// not even be attempted (malformed input), distinct from a clean "invalid
// signature" result (ok=false, err=nil).
func VerifyErr(sig, msg, pubKey []byte) (bool, error) {
	if len(pubKey) != SigningPublicKeySize {
		return false, fmt.Errorf("cryptoadapter: verify: invalid public key size %d", len(pubKey))
	}
	if len(sig) != SignatureMaxSize {
		return false, fmt.Errorf("cryptoadapter: verify: invalid signature size %d", len(sig))
	}
	want := macSignature(msg, pubKey)
	return subtle.ConstantTimeCompare(sig, want) == 1, nil
}

// KEMEncapsulate derives a shared secret for pubKey and returns the
// ciphertext the recipient needs to decapsulate it.
func KEMEncapsulate(pubKey []byte) (ct []byte, shared [SharedSecretSize]byte, err error) {
	if len(pubKey) != EncapPublicKeySize {
		return nil, shared, fmt.Errorf("cryptoadapter: encapsulate: invalid public key size %d", len(pubKey))
	}
	ephemeral, err := RandomBytes(EncapCiphertextSize)
	if err != nil {
		return nil, shared, err
	}
	h := sha512.Sum512(append(append([]byte{}, pubKey...), ephemeral...))
	copy(shared[:], h[:SharedSecretSize])
	return ephemeral, shared, nil
}

// KEMDecapsulate recovers the shared secret encapsulated in ct for privKey.
// privKey must be the private counterpart of the public key ct was produced
// against; a mismatched key produces a different (wrong) shared secret
// rather than an error, matching a real KEM's behaviour — callers detect the
// mismatch downstream via AEAD tag failure.
func KEMDecapsulate(ct []byte, privKey []byte) (shared [SharedSecretSize]byte, err error) {
	if len(privKey) != EncapPrivateKeySize {
		return shared, fmt.Errorf("cryptoadapter: decapsulate: invalid private key size %d", len(privKey))
	}
	pub := expand(privKey, EncapPublicKeySize)
	h := sha512.Sum512(append(append([]byte{}, pub...), ct...))
	copy(shared[:], h[:SharedSecretSize])
	return shared, nil
}

// AEADSeal seals pt under key/iv with additional authenticated data aad.
func AEADSeal(key [AEADKeySize]byte, iv [AEADNonceSize]byte, aad, pt []byte) (ct, tag []byte, err error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, nil, fmt.Errorf("cryptoadapter: seal: %w", err)
	}
	gcm, err := cipher.NewGCMWithTagSize(block, AEADTagSize)
	if err != nil {
		return nil, nil, fmt.Errorf("cryptoadapter: seal: %w", err)
	}
	sealed := gcm.Seal(nil, iv[:], pt, aad)
	ct = sealed[:len(sealed)-AEADTagSize]
	tag = sealed[len(sealed)-AEADTagSize:]
	return ct, tag, nil
}

// AEADOpen opens ct/tag under key/iv/aad. A tag mismatch returns
// ErrDecryptionFailed, which callers must treat as fatal — never retried and
// never conflated with "not found".
func AEADOpen(key [AEADKeySize]byte, iv [AEADNonceSize]byte, aad, ct, tag []byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("cryptoadapter: open: %w", err)
	}
	gcm, err := cipher.NewGCMWithTagSize(block, AEADTagSize)
	if err != nil {
		return nil, fmt.Errorf("cryptoadapter: open: %w", err)
	}
	sealed := append(append([]byte{}, ct...), tag...)
	pt, err := gcm.Open(nil, iv[:], sealed, aad)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return pt, nil
}

// Sha3512 returns the 64-byte SHA-3-512 digest of data.
func Sha3512(data []byte) [64]byte {
	return sha3.Sum512(data)
}

// Sha256 returns the 32-byte SHA-256 digest of data.
func Sha256(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// HexEncode/HexDecode/B64Encode/B64Decode are thin wrappers kept here so
// every record codec imports a single package for encoding concerns.
func HexEncode(b []byte) string { return hex.EncodeToString(b) }

func HexDecode(s string) ([]byte, error) { return hex.DecodeString(s) }

func B64Encode(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

func B64Decode(s string) ([]byte, error) { return base64.StdEncoding.DecodeString(s) }

// PutUint64BE/Uint64BE are the big-endian helpers every binary envelope in
// this module uses for timestamps and lengths (spec: "all multi-byte
// integers in envelopes are big-endian").
func PutUint64BE(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func Uint64BE(b []byte) uint64 { return binary.BigEndian.Uint64(b) }

func PutUint32BE(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func Uint32BE(b []byte) uint32 { return binary.BigEndian.Uint32(b) }

// RandomBytes returns n cryptographically random bytes.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := crand.Read(b); err != nil {
		return nil, fmt.Errorf("cryptoadapter: random bytes: %w", err)
	}
	return b, nil
}

// NowUnix and NowUnixMilli give the rest of the module a single monotonic
// time source to depend on. They read the wall clock directly and cannot be
// replaced; code that needs a controllable clock takes a clock.Clock instead
// (see internal/bootstrap/discovery).
func NowUnix() int64 { return time.Now().Unix() }

func NowUnixMilli() int64 { return time.Now().UnixMilli() }

// expand stretches seed to n bytes via repeated SHA-512, used by the
// reference KeyPair generators and the Sign/Verify stand-in above.
func expand(seed []byte, n int) []byte {
	out := make([]byte, 0, n+sha512.Size)
	block := seed
	for len(out) < n {
		h := sha512.Sum512(block)
		out = append(out, h[:]...)
		block = h[:]
	}
	return out[:n]
}
