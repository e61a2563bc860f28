package bcfile

import (
	"errors"
	"fmt"
	"os"

	"github.com/chazu/protovm/vm"
	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/xxh3"
)

// ErrChecksum reports a payload that does not match its recorded checksum.
var ErrChecksum = errors.New("bcfile: checksum mismatch")

// maxDecodedSize bounds decompression of a single payload.
const maxDecodedSize = 1 << 30

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
	decoder *zstd.Decoder
)

func init() {
	opts := cbor.CanonicalEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	em, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("bcfile: failed to create CBOR enc mode: %v", err))
	}
	encMode = em

	// Snapshots of large heaps exceed the default element limits.
	dm, err := cbor.DecOptions{
		MaxArrayElements: 1<<31 - 1,
		MaxMapPairs:      1<<31 - 1,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("bcfile: failed to create CBOR dec mode: %v", err))
	}
	decMode = dm

	d, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecodedSize))
	if err != nil {
		panic(fmt.Sprintf("bcfile: failed to create zstd decoder: %v", err))
	}
	decoder = d
}

// ---------------------------------------------------------------------------
// Envelopes
// ---------------------------------------------------------------------------

func seal(kind PayloadKind, v any, opts Options) ([]byte, error) {
	payload, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("bcfile: marshal %s: %w", kind, err)
	}
	env := Envelope{
		Magic:    Magic,
		Version:  Version,
		Kind:     kind,
		Checksum: xxh3.Hash(payload),
		Payload:  payload,
	}
	if opts.Compress {
		level := zstd.SpeedDefault
		if opts.Level != 0 {
			level = zstd.EncoderLevelFromZstd(opts.Level)
		}
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
		if err != nil {
			return nil, fmt.Errorf("bcfile: zstd encoder: %w", err)
		}
		env.Payload = enc.EncodeAll(payload, nil)
		env.Compressed = true
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("bcfile: zstd encoder: %w", err)
		}
	}
	return encMode.Marshal(&env)
}

// Open decodes an envelope, checks its header and returns the uncompressed
// payload.
func Open(data []byte) (*Envelope, []byte, error) {
	var env Envelope
	if err := decMode.Unmarshal(data, &env); err != nil {
		return nil, nil, fmt.Errorf("bcfile: unmarshal envelope: %w", err)
	}
	if env.Magic != Magic {
		return nil, nil, fmt.Errorf("bcfile: bad magic %q", env.Magic)
	}
	if env.Version == 0 || env.Version > Version {
		return nil, nil, fmt.Errorf("bcfile: unsupported version %d", env.Version)
	}
	payload := env.Payload
	if env.Compressed {
		var err error
		if payload, err = decoder.DecodeAll(env.Payload, nil); err != nil {
			return nil, nil, fmt.Errorf("bcfile: decompress %s: %w", env.Kind, err)
		}
	}
	if got := xxh3.Hash(payload); got != env.Checksum {
		return nil, nil, fmt.Errorf("%w: %s payload hashes to %016x, recorded %016x", ErrChecksum, env.Kind, got, env.Checksum)
	}
	return &env, payload, nil
}

func unseal(data []byte, want PayloadKind, v any) error {
	env, payload, err := Open(data)
	if err != nil {
		return err
	}
	if env.Kind != want {
		return fmt.Errorf("bcfile: expected %s payload, found %s", want, env.Kind)
	}
	if err := decMode.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("bcfile: unmarshal %s: %w", want, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Modules
// ---------------------------------------------------------------------------

// MarshalModule serializes a module artifact.
func MarshalModule(m *vm.Module, opts Options) ([]byte, error) {
	if m == nil {
		return nil, errors.New("bcfile: nil module")
	}
	return seal(PayloadModule, m, opts)
}

// UnmarshalModule deserializes a module artifact and verifies its bytecode.
// Verification problems are all reported in the returned error.
func UnmarshalModule(data []byte) (*vm.Module, error) {
	var m vm.Module
	if err := unseal(data, PayloadModule, &m); err != nil {
		return nil, err
	}
	if err := vm.VerifyModule(&m); err != nil {
		return nil, fmt.Errorf("bcfile: module %q: %w", m.Name, err)
	}
	return &m, nil
}

// Fingerprint identifies a module by the hash of its canonical encoding.
// Equal modules have equal fingerprints.
func Fingerprint(m *vm.Module) (uint64, error) {
	payload, err := encMode.Marshal(m)
	if err != nil {
		return 0, fmt.Errorf("bcfile: marshal module: %w", err)
	}
	return xxh3.Hash(payload), nil
}

// ReadModuleFile loads and verifies a module artifact from disk.
func ReadModuleFile(path string) (*vm.Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m, err := UnmarshalModule(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// WriteModuleFile writes a module artifact to disk.
func WriteModuleFile(path string, m *vm.Module, opts Options) error {
	data, err := MarshalModule(m, opts)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ---------------------------------------------------------------------------
// Snapshots
// ---------------------------------------------------------------------------

// MarshalSnapshot serializes a heap snapshot.
func MarshalSnapshot(s *vm.Snapshot, opts Options) ([]byte, error) {
	if s == nil {
		return nil, errors.New("bcfile: nil snapshot")
	}
	return seal(PayloadSnapshot, s, opts)
}

// UnmarshalSnapshot deserializes a heap snapshot.
func UnmarshalSnapshot(data []byte) (*vm.Snapshot, error) {
	var s vm.Snapshot
	if err := unseal(data, PayloadSnapshot, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// WriteSnapshotFile writes a heap snapshot to disk.
func WriteSnapshotFile(path string, s *vm.Snapshot, opts Options) error {
	data, err := MarshalSnapshot(s, opts)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadSnapshotFile loads a heap snapshot from disk.
func ReadSnapshotFile(path string) (*vm.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s, err := UnmarshalSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}
