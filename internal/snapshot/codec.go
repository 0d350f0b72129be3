// Package snapshot serializes simulation states for transport and
// persistence.
//
// Wire layout:
//
//	"ALV1" || deflate(structural encoding || xxh3-64 of structural encoding)
//
// The structural encoding is core.State.MarshalBinary. Deflate runs at its
// highest compression level.
package snapshot

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/zeebo/xxh3"

	"github.com/signalsfoundry/alive-physics/core"
)

// ErrCorruptSnapshot is returned for any snapshot that cannot be decoded.
var ErrCorruptSnapshot = errors.New("corrupt snapshot")

var magic = []byte("ALV1")

const checksumSize = 8

// Codec encodes and decodes snapshots. The zero value is ready to use.
type Codec struct {
	// Level overrides the deflate level. Zero means flate.BestCompression.
	Level int
	// MaxDecodedSize bounds the inflated payload. Zero means 64 MiB.
	MaxDecodedSize int64
}

// Default is the codec used when none is configured.
var Default = Codec{}

func (c Codec) level() int {
	if c.Level == 0 {
		return flate.BestCompression
	}
	return c.Level
}

func (c Codec) maxDecoded() int64 {
	if c.MaxDecodedSize <= 0 {
		return 64 << 20
	}
	return c.MaxDecodedSize
}

// Encode serializes s.
func (c Codec) Encode(s *core.State) ([]byte, error) {
	raw, err := s.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}
	raw = binary.LittleEndian.AppendUint64(raw, xxh3.Hash(raw))

	var buf bytes.Buffer
	buf.Write(magic)
	w, err := flate.NewWriter(&buf, c.level())
	if err != nil {
		return nil, fmt.Errorf("deflate writer: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return nil, fmt.Errorf("deflate: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("deflate close: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode reverses Encode. Every failure wraps ErrCorruptSnapshot.
func (c Codec) Decode(data []byte) (*core.State, error) {
	if !bytes.HasPrefix(data, magic) {
		return nil, fmt.Errorf("%w: bad magic", ErrCorruptSnapshot)
	}
	r := flate.NewReader(bytes.NewReader(data[len(magic):]))
	defer r.Close()

	limit := c.maxDecoded()
	raw, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("%w: inflate: %v", ErrCorruptSnapshot, err)
	}
	if int64(len(raw)) > limit {
		return nil, fmt.Errorf("%w: payload exceeds %d bytes", ErrCorruptSnapshot, limit)
	}
	if len(raw) < checksumSize {
		return nil, fmt.Errorf("%w: payload too short", ErrCorruptSnapshot)
	}
	body, sum := raw[:len(raw)-checksumSize], raw[len(raw)-checksumSize:]
	if got, want := xxh3.Hash(body), binary.LittleEndian.Uint64(sum); got != want {
		return nil, fmt.Errorf("%w: checksum %016x, want %016x", ErrCorruptSnapshot, got, want)
	}

	s := new(core.State)
	if err := s.UnmarshalBinary(body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	return s, nil
}

// Encode serializes s with the default codec.
func Encode(s *core.State) ([]byte, error) { return Default.Encode(s) }

// Decode deserializes data with the default codec.
func Decode(data []byte) (*core.State, error) { return Default.Decode(data) }

// Digest fingerprints the structural encoding of s. Two states with equal
// digests step identically.
func Digest(s *core.State) (uint64, error) {
	raw, err := s.MarshalBinary()
	if err != nil {
		return 0, fmt.Errorf("marshal state: %w", err)
	}
	return xxh3.Hash(raw), nil
}
