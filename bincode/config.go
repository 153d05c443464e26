package bincode

import (
	"fmt"
	"strings"
)

// IntEncoding selects how integers wider than one byte are written.
type IntEncoding uint8

const (
	// FixintEncoding writes fixed-width little-endian integers, u64 lengths
	// and u32 variant indices.
	FixintEncoding IntEncoding = iota
	// VarintEncoding writes integers with the bincode varint scheme and
	// zig-zags signed values. Floats stay fixed-width.
	VarintEncoding
)

func (e IntEncoding) String() string {
	switch e {
	case FixintEncoding:
		return "fixint"
	case VarintEncoding:
		return "varint"
	default:
		return fmt.Sprintf("IntEncoding(%d)", uint8(e))
	}
}

// ParseIntEncoding parses "fixint" or "varint".
func ParseIntEncoding(s string) (IntEncoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fixint", "fixed":
		return FixintEncoding, nil
	case "varint":
		return VarintEncoding, nil
	default:
		return 0, fmt.Errorf("unknown int encoding %q", s)
	}
}

const (
	DefaultMaxContainerDepth = 500
	DefaultMaxSeqLen         = 1 << 27 // 128M elements
	DefaultMaxStringSize     = 1 << 30 // 1 GB
)

// Config controls the wire encoding and decoder limits. Zero fields take
// their defaults.
type Config struct {
	IntEncoding       IntEncoding
	MaxContainerDepth int
	MaxSeqLen         uint64
	MaxStringSize     int
}

// DefaultConfig returns the fixint configuration used by the native peer.
func DefaultConfig() Config {
	return Config{
		IntEncoding:       FixintEncoding,
		MaxContainerDepth: DefaultMaxContainerDepth,
		MaxSeqLen:         DefaultMaxSeqLen,
		MaxStringSize:     DefaultMaxStringSize,
	}
}

func (c Config) normalize() Config {
	if c.MaxContainerDepth <= 0 {
		c.MaxContainerDepth = DefaultMaxContainerDepth
	}
	if c.MaxSeqLen == 0 {
		c.MaxSeqLen = DefaultMaxSeqLen
	}
	if c.MaxStringSize <= 0 {
		c.MaxStringSize = DefaultMaxStringSize
	}
	return c
}
