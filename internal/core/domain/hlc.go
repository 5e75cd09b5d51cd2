package domain

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"sync"
	"time"
)

// HLCSize is the serialized width of a hybrid logical clock value.
const HLCSize = 14

// HLC is a hybrid logical clock value used to causally order mutations.
//
// Serialized format (big-endian, 14 bytes):
//   - bytes 0-7:  wall time, milliseconds since Unix epoch
//   - bytes 8-11: logical counter
//   - bytes 12-13: node identifier
//
// Big-endian layout means byte-wise comparison of serialized values is
// equivalent to Compare.
type HLC struct {
	// WallTime is milliseconds since the Unix epoch.
	WallTime uint64

	// Logical counts events within the same wall-clock millisecond.
	Logical uint32

	// NodeID identifies the originating node for tie-breaking.
	NodeID uint16
}

// ZeroHLC is the minimum clock value.
var ZeroHLC = HLC{}

// IsZero reports whether the clock value is the minimum.
func (h HLC) IsZero() bool {
	return h.WallTime == 0 && h.Logical == 0 && h.NodeID == 0
}

// Bytes serializes the clock value big-endian.
func (h HLC) Bytes() []byte {
	buf := make([]byte, HLCSize)
	binary.BigEndian.PutUint64(buf[0:8], h.WallTime)
	binary.BigEndian.PutUint32(buf[8:12], h.Logical)
	binary.BigEndian.PutUint16(buf[12:14], h.NodeID)
	return buf
}

// Hex returns the serialized clock value as a hex string.
func (h HLC) Hex() string {
	return hex.EncodeToString(h.Bytes())
}

// String implements fmt.Stringer.
func (h HLC) String() string {
	return h.Hex()
}

// MarshalText encodes the clock value as hex for JSON transport.
func (h HLC) MarshalText() ([]byte, error) {
	return []byte(h.Hex()), nil
}

// UnmarshalText decodes a hex clock value.
func (h *HLC) UnmarshalText(b []byte) error {
	parsed, err := ParseHLCHex(string(b))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// Compare orders two clock values. The result is negative when h < other,
// zero when equal, positive when h > other.
func (h HLC) Compare(other HLC) int {
	switch {
	case h.WallTime != other.WallTime:
		if h.WallTime < other.WallTime {
			return -1
		}
		return 1
	case h.Logical != other.Logical:
		if h.Logical < other.Logical {
			return -1
		}
		return 1
	case h.NodeID != other.NodeID:
		if h.NodeID < other.NodeID {
			return -1
		}
		return 1
	}
	return 0
}

// Before reports whether h orders strictly before other.
func (h HLC) Before(other HLC) bool {
	return h.Compare(other) < 0
}

// ParseHLC deserializes a big-endian clock value.
func ParseHLC(b []byte) (HLC, error) {
	if len(b) != HLCSize {
		return HLC{}, ErrInvalidClock(fmt.Sprintf("expected %d bytes, got %d", HLCSize, len(b)))
	}
	return HLC{
		WallTime: binary.BigEndian.Uint64(b[0:8]),
		Logical:  binary.BigEndian.Uint32(b[8:12]),
		NodeID:   binary.BigEndian.Uint16(b[12:14]),
	}, nil
}

// ParseHLCHex deserializes a clock value from its hex form.
func ParseHLCHex(s string) (HLC, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return HLC{}, ErrInvalidClock("invalid hex: " + err.Error())
	}
	return ParseHLC(b)
}

// Clock issues causally ordered HLC values for one node. Safe for
// concurrent use. The zero value is not usable; construct with NewClock.
type Clock struct {
	mu      sync.Mutex
	current HLC
	now     func() uint64
}

// NewClock creates a clock for the given node identifier.
func NewClock(nodeID uint16) *Clock {
	return &Clock{
		current: HLC{NodeID: nodeID},
		now:     func() uint64 { return uint64(time.Now().UnixMilli()) },
	}
}

// NewClockAt creates a clock with an injected wall-clock source.
// Production uses NewClock; the injected source exists for tests.
func NewClockAt(nodeID uint16, now func() uint64) *Clock {
	return &Clock{
		current: HLC{NodeID: nodeID},
		now:     now,
	}
}

// Tick advances the clock for a local event and returns the new value.
// The returned value is strictly greater than every previously issued one.
func (c *Clock) Tick() HLC {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if now > c.current.WallTime {
		c.current.WallTime = now
		c.current.Logical = 0
	} else {
		c.current.Logical = saturatingInc(c.current.Logical)
	}
	return c.current
}

// Observe merges a remote clock value into the local clock and returns the
// new local value, which is strictly greater than both the previous local
// value and the remote one.
func (c *Clock) Observe(remote HLC) HLC {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	switch {
	case now > c.current.WallTime && now > remote.WallTime:
		c.current.WallTime = now
		c.current.Logical = 0
	case c.current.WallTime == remote.WallTime:
		c.current.Logical = saturatingInc(max32(c.current.Logical, remote.Logical))
	case c.current.WallTime > remote.WallTime:
		c.current.Logical = saturatingInc(c.current.Logical)
	default:
		c.current.WallTime = remote.WallTime
		c.current.Logical = saturatingInc(remote.Logical)
	}
	return c.current
}

// Current returns the last issued value without advancing the clock.
func (c *Clock) Current() HLC {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// saturatingInc increments without wrapping; the counter pins at its
// maximum rather than regressing the clock.
func saturatingInc(v uint32) uint32 {
	if v == math.MaxUint32 {
		return v
	}
	return v + 1
}

func max32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}
