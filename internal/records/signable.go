package records

import (
	"fmt"

	"github.com/dna/dht/internal/cryptoadapter"
)

// Signable is implemented by the JSON record types this module signs: feed
// topics, comments, identity certificates, and the grouplist/contactlist
// payloads. Wall posts and votes are not Signable; they sign fixed byte
// sequences through cryptoadapter directly. CanonicalUnsigned must serialize the record deterministically
// with the signature field cleared — encoding/json's stable struct-field
// ordering and lack of insignificant whitespace are sufficient for the
// "canonical form" spec.md §4.6 requires, so implementations simply
// json.Marshal themselves after zeroing the signature.
type Signable interface {
	// CanonicalUnsigned returns the canonical bytes to sign/verify, with
	// the signature field cleared.
	CanonicalUnsigned() ([]byte, error)
	// Signature returns the currently attached signature, or nil.
	Signature() []byte
	// SetSignature attaches sig to the record.
	SetSignature(sig []byte)
}

// Sign builds the canonical unsigned bytes for r, signs them under privKey,
// and attaches the resulting signature to r.
func Sign(r Signable, privKey []byte) error {
	r.SetSignature(nil)
	msg, err := r.CanonicalUnsigned()
	if err != nil {
		return Wrap(KindFramingError, "canonicalize for signing", err)
	}
	sig, err := cryptoadapter.Sign(msg, privKey)
	if err != nil {
		return Wrap(KindFramingError, "sign record", err)
	}
	r.SetSignature(sig)
	return nil
}

// Verify rebuilds the canonical unsigned bytes for r (temporarily clearing
// and then restoring its attached signature) and checks them against sig
// under pubKey. A missing signature is a FramingError; a present-but-wrong
// signature is SignatureInvalid — the two must never be conflated.
func Verify(r Signable, pubKey []byte) error {
	sig := r.Signature()
	if len(sig) == 0 {
		return New(KindFramingError, "record has no signature")
	}
	r.SetSignature(nil)
	msg, err := r.CanonicalUnsigned()
	r.SetSignature(sig)
	if err != nil {
		return Wrap(KindFramingError, "canonicalize for verification", err)
	}
	ok, err := cryptoadapter.VerifyErr(sig, msg, pubKey)
	if err != nil {
		return Wrap(KindFramingError, "verify record", err)
	}
	if !ok {
		return New(KindSignatureInvalid, fmt.Sprintf("signature mismatch (msg len %d)", len(msg)))
	}
	return nil
}
