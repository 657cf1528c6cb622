// Package acquisition runs one goroutine per selected stream, pulling
// samples from its source.Inlet and handing them to the session writer.
// Each worker owns its own reconnect backoff and clock-offset cadence;
// it never writes its own stream footer — the controller does that from
// its own bookkeeping so an abandoned stream is still closed
// well-formed.
package acquisition

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	labrecerrors "github.com/c360/labrecorder/errors"
	"github.com/c360/labrecorder/health"
	"github.com/c360/labrecorder/metric"
	"github.com/c360/labrecorder/pkg/retry"
	"github.com/c360/labrecorder/source"
	"github.com/c360/labrecorder/xdf"
)

// Sink is the subset of the session writer a worker needs: appending
// samples and periodic clock offsets for its stream.
type Sink interface {
	WriteSamples(streamID uint32, samples []xdf.Sample) error
	WriteClockOffset(streamID uint32, collectionTime, offsetValue float64) error
}

// Config controls a worker's reconnect backoff, clock-offset cadence, and
// how it sizes/paces the inlet it opens (spec §6.5).
type Config struct {
	ReconnectInitialDelay time.Duration
	ReconnectMaxDelay     time.Duration
	ReconnectMultiplier   float64
	ClockOffsetInterval   time.Duration
	TimeCorrectionTimeout time.Duration

	// BufferSeconds sizes the inlet's queue as BufferSeconds times the
	// stream's nominal sample rate (see bufferCapacity); irregular-rate
	// streams (NominalSRate == 0, e.g. markers) get a fixed capacity
	// instead (minBufferCapacity * irregularRateBufferMultiple).
	BufferSeconds     float64
	MaxSamplesPerPull int
	PullTimeout       time.Duration
}

// DefaultConfig returns the spec's reconnect backoff (0.5s, 1s, 2s, 4s,
// capped at 10s), a 5s clock-offset cadence, and recorder.DefaultConfig's
// buffering/pull knobs.
func DefaultConfig() Config {
	return Config{
		ReconnectInitialDelay: 500 * time.Millisecond,
		ReconnectMaxDelay:     10 * time.Second,
		ReconnectMultiplier:   2.0,
		ClockOffsetInterval:   5 * time.Second,
		TimeCorrectionTimeout: 2 * time.Second,
		BufferSeconds:         360,
		MaxSamplesPerPull:     500,
		PullTimeout:           200 * time.Millisecond,
	}
}

// minBufferCapacity is the floor applied to any inlet buffer, regardless
// of BufferSeconds*rate, so a freshly opened inlet always has somewhere
// to put a first burst of samples.
const minBufferCapacity = 64

// irregularRateBufferMultiple sizes an irregular-rate stream's buffer
// (NominalSRate == 0, e.g. markers) as a fixed multiple of the floor
// instead of BufferSeconds*0.
const irregularRateBufferMultiple = 4

// bufferCapacity derives an inlet's buffer size from how many seconds of
// history it should hold at its nominal rate.
func bufferCapacity(bufferSeconds, nominalSRate float64) int {
	if nominalSRate <= 0 {
		return minBufferCapacity * irregularRateBufferMultiple
	}
	capacity := int(bufferSeconds * nominalSRate)
	if capacity < minBufferCapacity {
		return minBufferCapacity
	}
	return capacity
}

// Worker pulls samples for exactly one stream for the lifetime of a
// recording session.
type Worker struct {
	desc     source.StreamDescriptor
	streamID uint32
	src      source.Source
	sink     Sink
	cfg      Config
	logger   *slog.Logger
	metrics  *metric.Metrics
	health   *health.Monitor
	now      func() time.Time

	samplesWritten      atomic.Uint64
	clockOffsetsWritten atomic.Uint64
	reconnects          atomic.Uint64
}

// New creates a Worker for desc, already assigned streamID in the
// session's writer. monitor may be nil, in which case the worker simply
// never reports health (used by tests that don't care about status()).
func New(desc source.StreamDescriptor, streamID uint32, src source.Source, sink Sink, cfg Config, logger *slog.Logger, metrics *metric.Metrics, monitor *health.Monitor) *Worker {
	return &Worker{
		desc: desc, streamID: streamID, src: src, sink: sink,
		cfg: cfg, logger: logger, metrics: metrics, health: monitor, now: time.Now,
	}
}

// SamplesWritten returns the running count of samples successfully
// handed to the sink, for the controller's status() bookkeeping.
func (w *Worker) SamplesWritten() uint64 { return w.samplesWritten.Load() }

// ClockOffsetsWritten returns the running count of ClockOffset chunks
// successfully handed to the sink, for the stream footer's own count.
func (w *Worker) ClockOffsetsWritten() uint64 { return w.clockOffsetsWritten.Load() }

// healthComponent is this worker's name in the health.Monitor the
// controller aggregates for status()'s health sub-section.
func (w *Worker) healthComponent() string {
	return fmt.Sprintf("acquisition.%s", w.desc.Name)
}

// reportHealth records this worker's connectivity in the shared monitor,
// sanitizing err (if any) the same way control responses do.
func (w *Worker) reportHealth(err error) {
	if w.health == nil {
		return
	}
	w.health.Update(w.healthComponent(), health.New(w.healthComponent(), err == nil, err))
}

// Run drives the worker until ctx is cancelled. It never returns an
// error for a lost source — it retries under backoff instead — only for
// ctx cancellation, which the controller treats as a normal stop.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		inlet, err := w.connect(ctx)
		if err != nil {
			return err // ctx was cancelled during backoff
		}
		w.reportHealth(nil)

		lost := w.pullLoop(ctx, inlet)
		_ = inlet.Close()
		if lost == nil {
			return nil // ctx cancelled cleanly inside pullLoop
		}
		w.logger.Warn("acquisition worker lost source, reconnecting",
			"stream", w.desc.Name, "uid", w.desc.UID, "error", lost)
		w.reportHealth(lost)
		w.reconnects.Add(1)
		if w.metrics != nil {
			w.metrics.RecordWorkerReconnect(w.desc.Name)
		}
	}
}

// connect opens the inlet, retrying under the 0.5s/1s/2s/4s-capped-at-10s
// backoff for as long as ctx stays live. It only returns an error when
// ctx is cancelled.
func (w *Worker) connect(ctx context.Context) (source.Inlet, error) {
	cfg := retry.Config{
		MaxAttempts:  math.MaxInt32,
		InitialDelay: w.cfg.ReconnectInitialDelay,
		MaxDelay:     w.cfg.ReconnectMaxDelay,
		Multiplier:   w.cfg.ReconnectMultiplier,
		AddJitter:    true,
	}

	opts := source.OpenOptions{
		BufferCapacity:    bufferCapacity(w.cfg.BufferSeconds, w.desc.NominalSRate),
		MaxSamplesPerPull: w.cfg.MaxSamplesPerPull,
		PullTimeout:       w.cfg.PullTimeout,
	}

	return retry.DoWithResult(ctx, cfg, func() (source.Inlet, error) {
		inlet, err := w.src.Open(ctx, w.desc.UID, opts)
		if err != nil {
			w.logger.Debug("acquisition worker failed to open source, backing off",
				"stream", w.desc.Name, "uid", w.desc.UID, "error", err)
		}
		return inlet, err
	})
}

// pullLoop drains inlet until it is lost or ctx is cancelled, emitting
// periodic (and one initial) clock-offset chunks along the way.
func (w *Worker) pullLoop(ctx context.Context, inlet source.Inlet) error {
	offsetTicker := time.NewTicker(w.cfg.ClockOffsetInterval)
	defer offsetTicker.Stop()

	wroteInitialOffset := false

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-offsetTicker.C:
			w.emitClockOffset(ctx, inlet)
		default:
		}

		samples, err := inlet.Pull(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return labrecerrors.WrapSourceLost(err, "acquisition.Worker", "pullLoop")
		}
		if len(samples) == 0 {
			continue
		}

		if !wroteInitialOffset {
			w.emitClockOffset(ctx, inlet)
			wroteInitialOffset = true
		}

		if err := w.sink.WriteSamples(w.streamID, samples); err != nil {
			return labrecerrors.Wrap(err, "acquisition.Worker", "pullLoop", "write samples")
		}
		w.samplesWritten.Add(uint64(len(samples)))
		if w.metrics != nil {
			w.metrics.RecordSamplesWritten(w.desc.Name, len(samples))
		}
	}
}

// emitClockOffset queries inlet for the current source/recorder clock
// skew and writes it as a ClockOffset chunk. A Transient failure (spec
// §4.4 step 5: the round trip itself failed, not the stream) just skips
// this cycle — the stream stays up and the next tick tries again.
func (w *Worker) emitClockOffset(ctx context.Context, inlet source.Inlet) {
	now := w.now()
	collectionTime := float64(now.UnixNano()) / 1e9

	offsetValue, err := inlet.TimeCorrection(ctx, w.cfg.TimeCorrectionTimeout)
	if err != nil {
		if labrecerrors.ClassifyKind(err) == labrecerrors.KindTransient {
			w.logger.Debug("acquisition worker skipped clock offset, time correction was transient",
				"stream", w.desc.Name, "error", err)
			return
		}
		w.logger.Warn("acquisition worker failed to read time correction",
			"stream", w.desc.Name, "error", err)
		return
	}

	if err := w.sink.WriteClockOffset(w.streamID, collectionTime, offsetValue); err != nil {
		w.logger.Warn("acquisition worker failed to write clock offset",
			"stream", w.desc.Name, "error", err)
		return
	}
	w.clockOffsetsWritten.Add(1)
	if w.metrics != nil {
		w.metrics.RecordClockOffsetWritten(w.desc.Name)
	}
}
