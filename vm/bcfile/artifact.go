// Package bcfile implements the on-disk form of compiled modules and heap
// snapshots. Both are CBOR documents wrapped in a small envelope that
// records what the payload holds, whether it is zstd compressed and an
// xxh3 checksum of the uncompressed payload.
package bcfile

import "fmt"

// Magic starts every envelope.
const Magic = "PVMB"

// Version is the current envelope version. Readers reject newer versions.
const Version = 1

// PayloadKind identifies what an envelope carries.
type PayloadKind uint8

const (
	PayloadModule   PayloadKind = 1
	PayloadSnapshot PayloadKind = 2
)

func (k PayloadKind) String() string {
	switch k {
	case PayloadModule:
		return "module"
	case PayloadSnapshot:
		return "snapshot"
	}
	return fmt.Sprintf("payload(%d)", uint8(k))
}

// Envelope frames an encoded payload.
type Envelope struct {
	Magic      string      `cbor:"1,keyasint"`
	Version    uint8       `cbor:"2,keyasint"`
	Kind       PayloadKind `cbor:"3,keyasint"`
	Compressed bool        `cbor:"4,keyasint,omitempty"`
	Checksum   uint64      `cbor:"5,keyasint"` // xxh3 of the uncompressed payload
	Payload    []byte      `cbor:"6,keyasint"`
}

// Options control encoding.
type Options struct {
	// Compress wraps the payload in a zstd frame.
	Compress bool
	// Level is the zstd encoder level; zero selects the default.
	Level int
}
