// Package source defines the boundary between the recording pipeline and
// whatever is actually producing streams — a real LSL network, a NATS
// transport, or an in-process synthetic generator for tests and demos.
// Nothing outside this package and its implementations should know which
// one is in use.
package source

import (
	"context"
	"time"

	"github.com/c360/labrecorder/xdf"
)

// StreamDescriptor is what discovery reports about an available stream,
// before it has been opened for acquisition.
type StreamDescriptor struct {
	UID                string
	Name               string
	Type               string
	ChannelCount       int
	ChannelFormat      xdf.ChannelFormat
	NominalSRate       float64
	MetadataDescriptor string
}

// OpenOptions carries the acquisition-side tuning knobs (spec §6.5) that a
// Source needs at Open time: how much history an inlet should buffer, and
// how it should batch/poll when Pull is called.
type OpenOptions struct {
	// BufferCapacity is the number of samples the inlet's internal queue
	// should hold before it starts dropping the oldest ones. Sized by
	// the caller from BufferSeconds * the stream's nominal rate.
	BufferCapacity int
	// MaxSamplesPerPull caps how many samples a single Pull call returns.
	MaxSamplesPerPull int
	// PullTimeout bounds how long Pull waits for at least one sample
	// before returning an empty batch.
	PullTimeout time.Duration
}

// Inlet is an open, pullable connection to one stream's live samples.
type Inlet interface {
	// Pull waits up to the inlet's configured PullTimeout for samples to
	// arrive. It returns an empty, nil-error batch on timeout (the caller
	// is expected to loop), an error only when ctx is cancelled or the
	// stream is permanently gone (io.EOF-like semantics signaled via a
	// SourceLost-classified error).
	Pull(ctx context.Context) ([]xdf.Sample, error)
	// TimeCorrection reports the offset between this stream's source
	// clock and the recorder's own clock (source time minus recorder
	// time, in seconds), for the periodic ClockOffset chunk (spec
	// §4.2/§4.4). A Transient-classified error means the caller should
	// skip this cycle rather than treat the stream as lost.
	TimeCorrection(ctx context.Context, timeout time.Duration) (float64, error)
	Close() error
}

// Source discovers available streams and opens inlets onto them.
type Source interface {
	// Discover returns the streams currently visible. Called by the
	// controller on each update-streams command, never assumed to be
	// cheap or instantaneous.
	Discover(ctx context.Context) ([]StreamDescriptor, error)
	// Open establishes an inlet for uid. Returns a SourceUnavailable
	// error (see errors.WrapSourceUnavailable) if uid is not currently
	// reachable.
	Open(ctx context.Context, uid string, opts OpenOptions) (Inlet, error)
}
