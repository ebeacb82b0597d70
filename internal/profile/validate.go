package profile

import (
	"regexp"
	"strings"

	"github.com/dna/dht/internal/records"
	"github.com/ipfs/go-cid"
	"github.com/mr-tron/base58"
)

// dnaNamePattern matches spec.md §6: 3-36 chars, [A-Za-z0-9._-].
var dnaNamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]{3,36}$`)

// disallowedNames mirrors spec.md §6's disallowed set.
var disallowedNames = map[string]bool{
	"admin": true, "root": true, "system": true, "network": true,
	"moderator": true, "support": true, "help": true, "official": true,
}

// ValidateDNAName checks charset, length, and the disallow-list.
func ValidateDNAName(name string) error {
	if !dnaNamePattern.MatchString(name) {
		return records.New(records.KindConfigError, "dna name must be 3-36 chars of [A-Za-z0-9._-]")
	}
	if disallowedNames[strings.ToLower(name)] {
		return records.New(records.KindConfigError, "dna name is reserved")
	}
	return nil
}

// ValidateIPFSCID checks that cidStr parses as a CID v0 or v1 (spec.md §6),
// using the same go-cid decoder internal/chunked addresses chunks with
// rather than re-deriving multibase/base58 rules by hand.
func ValidateIPFSCID(cidStr string) error {
	if _, err := cid.Decode(cidStr); err != nil {
		return records.New(records.KindConfigError, "invalid IPFS CID: "+err.Error())
	}
	return nil
}

var hexAddrPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// ValidateWalletAddress checks an address against the known format for
// chain, per spec.md §6 ("Wallet formats per chain").
func ValidateWalletAddress(chain, addr string) error {
	switch strings.ToLower(chain) {
	case "ethereum", "eth", "bsc", "polygon":
		if !hexAddrPattern.MatchString(addr) {
			return records.New(records.KindConfigError, chain+" address must be 0x + 40 hex chars")
		}
		return nil
	case "bitcoin", "btc":
		if len(addr) < 26 || len(addr) > 62 {
			return records.New(records.KindConfigError, "bitcoin address length out of range")
		}
		if strings.HasPrefix(addr, "bc1") {
			return nil // bech32, not base58-checked here
		}
		if _, err := base58.Decode(addr); err != nil {
			return records.New(records.KindConfigError, "bitcoin address is not valid base58")
		}
		return nil
	case "solana", "sol":
		if len(addr) < 32 || len(addr) > 44 {
			return records.New(records.KindConfigError, "solana address length out of range")
		}
		if _, err := base58.Decode(addr); err != nil {
			return records.New(records.KindConfigError, "solana address is not valid base58")
		}
		return nil
	default:
		return records.New(records.KindConfigError, "unknown wallet chain: "+chain)
	}
}
