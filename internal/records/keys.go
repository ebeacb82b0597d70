package records

import "github.com/dna/dht/internal/cryptoadapter"

// DHTKey computes the DHT key for a colon-delimited namespace string: the
// lowercase hex SHA-256 digest, per spec.md §3 ("Keys"). It is a pure
// function: same input always yields the same 64-char lowercase hex output.
func DHTKey(namespace string) string {
	sum := cryptoadapter.Sha256([]byte(namespace))
	return cryptoadapter.HexEncode(sum[:])
}
