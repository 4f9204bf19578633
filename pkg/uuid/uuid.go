// Package uuid provides UUID v7 generation.
// v7 identifiers sort by creation time, which keeps sqlite primary-key
// b-trees append-mostly (unlike v4).
package uuid

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"time"
)

// UUID is a 128-bit UUID v7 identifier.
type UUID [16]byte

// NewV7 generates a new UUID v7 per draft-ietf-uuidrev-rfc4122bis:
// 48 bits of millisecond UNIX time, version and variant bits, and
// 74 bits of randomness from crypto/rand.
func NewV7() UUID {
	var u UUID

	ms := uint64(time.Now().UnixMilli())
	binary.BigEndian.PutUint64(u[:8], ms<<16)

	// Bytes 6..15 start as random; the version and variant nibbles are
	// stamped over the top afterwards.
	if _, err := rand.Read(u[6:]); err != nil {
		// crypto/rand only fails when the process has no entropy source at all.
		panic(fmt.Sprintf("uuid: crypto/rand failed: %v", err))
	}

	u[6] = 0x70 | (u[6] & 0x0f) // version 7
	u[8] = 0x80 | (u[8] & 0x3f) // RFC 4122 variant

	return u
}

// String renders the canonical xxxxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx form.
func (u UUID) String() string {
	return fmt.Sprintf("%08x-%04x-%04x-%04x-%012x",
		u[0:4],
		u[4:6],
		u[6:8],
		u[8:10],
		u[10:16],
	)
}
