package ir

import (
	"github.com/spaolacci/murmur3"
)

// Domain prefixes for fingerprints. The version suffix allows the hash to
// change without colliding with fingerprints computed by older builds.
const (
	DomainPrimaryKey = "tablet/pk/v1"
	DomainRow        = "tablet/row/v1"
)

// Fingerprint computes a 64-bit murmur3 hash with domain separation.
// Format: murmur3(domain + 0x00 + table + 0x00 + data)
//
// Fingerprints identify write-set entries for conflict detection. A
// collision can only cause a spurious conflict, never a missed one.
func Fingerprint(domain, table string, data []byte) uint64 {
	h := murmur3.New64()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write([]byte(table))
	h.Write([]byte{0x00})
	h.Write(data)
	return h.Sum64()
}
