// Package identity implements the single-device identity backup flow
// (SPEC_FULL.md C5 / spec.md §4.4): generate an identity, seal it under the
// owner's own KEM public key, persist it locally at owner-only permissions,
// publish it on the chunked layer, and reverse the process on a new device.
//
// Backup depends only on chunked, cryptoadapter, records and profile, mirroring the
// teacher wallet module's low-tier import discipline (core/wallet.go: "wallet
// depends only on common + utility... to stay at the lowest tier").
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dna/dht/internal/chunked"
	"github.com/dna/dht/internal/cryptoadapter"
	"github.com/dna/dht/internal/profile"
	"github.com/dna/dht/internal/records"
)

// BackupTTL is the 365-day publish TTL spec.md §4.4 mandates.
const BackupTTL = 365 * 24 * time.Hour

// minSealedSize is the invariant of spec.md §4.4: "blob size >=
// 1568+12+16".
const minSealedSize = cryptoadapter.EncapCiphertextSize + cryptoadapter.AEADNonceSize + cryptoadapter.AEADTagSize

// Generated bundles everything produced by Generate: the caller must retain
// signPriv and encPriv to use the identity, and encPub to reseal a future
// backup.
type Generated struct {
	Identity *profile.Identity
	SignPriv []byte
	EncPriv  []byte
	EncPub   []byte
}

// Generate creates a fresh signing + encryption key pair, builds a
// self-signed identity certificate, and returns everything needed to use or
// back it up (spec.md §4.4 step 1).
func Generate(now int64) (*Generated, error) {
	signKP, err := cryptoadapter.GenerateSigningKeyPair()
	if err != nil {
		return nil, fmt.Errorf("identity: generate signing key: %w", err)
	}
	encKP, err := cryptoadapter.GenerateEncapKeyPair()
	if err != nil {
		return nil, fmt.Errorf("identity: generate encap key: %w", err)
	}

	id := profile.NewIdentity(signKP.PublicKey, encKP.PublicKey, now)
	if err := records.Sign(id, signKP.PrivateKey); err != nil {
		return nil, fmt.Errorf("identity: self-sign: %w", err)
	}

	return &Generated{
		Identity: id,
		SignPriv: signKP.PrivateKey,
		EncPriv:  encKP.PrivateKey,
		EncPub:   encKP.PublicKey,
	}, nil
}

// serialize lays out the length-prefixed key/cert buffer of spec.md §4.4
// step 2: [key_len(4 BE)][key][cert_len(4 BE)][cert].
func serialize(signPriv []byte, cert []byte) []byte {
	out := make([]byte, 0, 4+len(signPriv)+4+len(cert))
	out = append(out, cryptoadapter.PutUint32BE(uint32(len(signPriv)))...)
	out = append(out, signPriv...)
	out = append(out, cryptoadapter.PutUint32BE(uint32(len(cert)))...)
	out = append(out, cert...)
	return out
}

// deserialize reverses serialize.
func deserialize(buf []byte) (signPriv []byte, cert []byte, err error) {
	if len(buf) < 4 {
		return nil, nil, records.New(records.KindFramingError, "serialized identity too short for key length")
	}
	keyLen := cryptoadapter.Uint32BE(buf[:4])
	rest := buf[4:]
	if uint64(keyLen) > uint64(len(rest)) {
		return nil, nil, records.New(records.KindFramingError, "key length overflows buffer")
	}
	signPriv = rest[:keyLen]
	rest = rest[keyLen:]

	if len(rest) < 4 {
		return nil, nil, records.New(records.KindFramingError, "serialized identity too short for cert length")
	}
	certLen := cryptoadapter.Uint32BE(rest[:4])
	rest = rest[4:]
	if uint64(certLen) > uint64(len(rest)) {
		return nil, nil, records.New(records.KindFramingError, "cert length overflows buffer")
	}
	cert = rest[:certLen]
	return signPriv, cert, nil
}

// Seal builds the sealed backup blob of spec.md §4.4 step 3:
// ct_kem(1568) || iv(12) || tag(16) || body, where body is AEAD-sealed
// serialized key/cert material under a shared secret encapsulated against
// encPub.
func Seal(g *Generated) ([]byte, error) {
	certJSON, err := json.Marshal(g.Identity)
	if err != nil {
		return nil, records.Wrap(records.KindFramingError, "marshal identity cert", err)
	}
	plaintext := serialize(g.SignPriv, certJSON)

	kemCT, shared, err := cryptoadapter.KEMEncapsulate(g.EncPub)
	if err != nil {
		return nil, fmt.Errorf("identity: seal: encapsulate: %w", err)
	}
	ivBytes, err := cryptoadapter.RandomBytes(cryptoadapter.AEADNonceSize)
	if err != nil {
		return nil, fmt.Errorf("identity: seal: random iv: %w", err)
	}
	var iv [cryptoadapter.AEADNonceSize]byte
	copy(iv[:], ivBytes)

	body, tag, err := cryptoadapter.AEADSeal(shared, iv, nil, plaintext)
	if err != nil {
		return nil, fmt.Errorf("identity: seal: aead: %w", err)
	}

	blob := make([]byte, 0, len(kemCT)+len(ivBytes)+len(tag)+len(body))
	blob = append(blob, kemCT...)
	blob = append(blob, ivBytes...)
	blob = append(blob, tag...)
	blob = append(blob, body...)
	return blob, nil
}

// Unseal reverses Seal using the owner's KEM private key. A tag mismatch —
// wrong key or tampered blob — is fatal and distinct from "not found", per
// spec.md §4.4.
func Unseal(blob []byte, encPriv []byte) (signPriv []byte, cert []byte, err error) {
	if len(blob) < minSealedSize {
		return nil, nil, records.New(records.KindFramingError, "sealed identity blob smaller than minimum size")
	}
	kemCT := blob[:cryptoadapter.EncapCiphertextSize]
	iv := blob[cryptoadapter.EncapCiphertextSize : cryptoadapter.EncapCiphertextSize+cryptoadapter.AEADNonceSize]
	tag := blob[cryptoadapter.EncapCiphertextSize+cryptoadapter.AEADNonceSize : minSealedSize]
	body := blob[minSealedSize:]

	shared, err := cryptoadapter.KEMDecapsulate(kemCT, encPriv)
	if err != nil {
		return nil, nil, fmt.Errorf("identity: unseal: decapsulate: %w", err)
	}
	var ivArr [cryptoadapter.AEADNonceSize]byte
	copy(ivArr[:], iv)

	plaintext, err := cryptoadapter.AEADOpen(shared, ivArr, nil, body, tag)
	if err != nil {
		return nil, nil, records.Wrap(records.KindDecryptionFailed, "unseal identity backup", err)
	}

	return deserialize(plaintext)
}

// localPath is ~/.dna/<fp>/dht_identity.enc, per spec.md §3's file layout.
func localPath(fp string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("identity: resolve home dir: %w", err)
	}
	return filepath.Join(home, ".dna", fp, "dht_identity.enc"), nil
}

// WriteLocal persists the sealed blob at owner-only permissions (spec.md
// §4.4 step 4).
func WriteLocal(fp string, blob []byte) error {
	path, err := localPath(fp)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("identity: create backup dir: %w", err)
	}
	if err := os.WriteFile(path, blob, 0600); err != nil {
		return fmt.Errorf("identity: write backup file: %w", err)
	}
	return nil
}

// ReadLocal reads back a previously written sealed blob.
func ReadLocal(fp string) ([]byte, error) {
	path, err := localPath(fp)
	if err != nil {
		return nil, err
	}
	blob, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, records.Wrap(records.KindNotFound, "local identity backup", err)
		}
		return nil, fmt.Errorf("identity: read backup file: %w", err)
	}
	return blob, nil
}

// DHTKey returns the publish key of spec.md §4.4 step 5:
// SHA-256("<fp>:dht_identity").
func DHTKey(fp string) string {
	return records.DHTKey(fp + ":dht_identity")
}

// Publish pushes the sealed blob onto the chunked layer at DHTKey(fp) with
// the 365-day backup TTL.
func Publish(ctx context.Context, layer chunked.Layer, fp string, blob []byte) error {
	if err := layer.Publish(ctx, DHTKey(fp), fp, blob, BackupTTL); err != nil {
		return records.Wrap(records.KindTransientNetwork, "publish identity backup", err)
	}
	return nil
}

// Fetch retrieves the sealed blob from the chunked layer.
func Fetch(ctx context.Context, layer chunked.Layer, fp string) ([]byte, error) {
	blob, err := layer.Fetch(ctx, DHTKey(fp))
	if err != nil {
		return nil, records.Wrap(records.KindNotFound, "fetch identity backup", err)
	}
	return blob, nil
}

// Recover unseals a backup blob, parses the recovered certificate, and
// enforces the fingerprint invariant of spec.md §4.4: "the fingerprint used
// in the key MUST equal SHA-3-512(signing_pubkey) of the imported identity."
func Recover(blob []byte, encPriv []byte) (signPriv []byte, cert *profile.Identity, err error) {
	signPriv, certJSON, err := Unseal(blob, encPriv)
	if err != nil {
		return nil, nil, err
	}

	var id profile.Identity
	if err := json.Unmarshal(certJSON, &id); err != nil {
		return nil, nil, records.Wrap(records.KindFramingError, "unmarshal recovered cert", err)
	}

	derivedPub := cryptoadapter.DerivePublicSigningKey(signPriv)
	wantFP := profile.Fingerprint(derivedPub)
	if wantFP != id.Fingerprint {
		return nil, nil, records.New(records.KindOwnershipViolation, "recovered private key does not match cert fingerprint")
	}
	if err := records.Verify(&id, id.SigningPubKey); err != nil {
		return nil, nil, err
	}

	return signPriv, &id, nil
}
