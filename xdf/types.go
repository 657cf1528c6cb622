// Package xdf writes Extensible Data Format (XDF) chunked recordings: a
// binary container of length-prefixed, tagged chunks describing one or more
// time-synchronized streams.
package xdf

import "time"

// Tag identifies the kind of an XDF chunk.
type Tag uint16

const (
	TagFileHeader   Tag = 1
	TagStreamHeader Tag = 2
	TagSamples      Tag = 3
	TagClockOffset  Tag = 4
	TagBoundary     Tag = 5
	TagStreamFooter Tag = 6
)

// Magic is the 4-byte preamble every XDF file starts with.
var Magic = [4]byte{'X', 'D', 'F', ':'}

// DefaultBoundaryUUID is the 16-byte boundary chunk payload used when the
// caller does not supply its own UUID generator.
var DefaultBoundaryUUID = [16]byte{
	0x43, 0xA5, 0x46, 0xDC, 0xCB, 0xF5, 0x41, 0x0F,
	0xB3, 0x0E, 0xD5, 0x46, 0x73, 0x83, 0xCB, 0xE4,
}

// ChannelFormat identifies the on-wire sample encoding for a stream.
type ChannelFormat string

const (
	FormatFloat32  ChannelFormat = "float32"
	FormatDouble64 ChannelFormat = "double64"
	FormatInt64    ChannelFormat = "int64"
	FormatInt32    ChannelFormat = "int32"
	FormatInt16    ChannelFormat = "int16"
	FormatInt8     ChannelFormat = "int8"
	FormatString   ChannelFormat = "string"
)

// StreamInfo describes a stream being added to a recording, mirroring the
// descriptor an acquisition source reports for it.
type StreamInfo struct {
	Name          string
	Type          string
	ChannelCount  int
	ChannelFormat ChannelFormat
	NominalSRate  float64
	// Desc is an opaque XML fragment carried through verbatim into the
	// <desc> element of the stream header and footer.
	Desc string
}

// Sample is one timestamped (or nominal-rate) reading for a stream. Exactly
// one of Floats, Ints, or Strings should be populated, matching the
// stream's ChannelFormat.
type Sample struct {
	HasTimestamp bool
	Timestamp    float64
	Floats       []float64
	Ints         []int64
	Strings      []string
}

// BoundaryPolicy decides when a Boundary chunk should be emitted.
type BoundaryPolicy struct {
	MaxBytes    int64
	MaxInterval time.Duration
}

// DefaultBoundaryPolicy emits a boundary roughly every 10MB or 10s of
// recorded payload, whichever comes first.
func DefaultBoundaryPolicy() BoundaryPolicy {
	return BoundaryPolicy{MaxBytes: 10 * 1024 * 1024, MaxInterval: 10 * time.Second}
}
