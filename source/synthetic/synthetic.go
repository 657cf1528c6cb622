// Package synthetic implements a deterministic in-process source.Source
// for tests and for running the recording pipeline without a real LSL
// network or NATS broker. It reproduces the three demo streams the
// original tooling's dummy_sender used: a multichannel float stream at a
// fixed rate, a multichannel int stream at a slower fixed rate, and an
// irregular-rate string marker stream.
package synthetic

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	labrecerrors "github.com/c360/labrecorder/errors"
	"github.com/c360/labrecorder/pkg/buffer"
	"github.com/c360/labrecorder/source"
	"github.com/c360/labrecorder/xdf"
)

// Descriptors is the fixed catalogue this source always reports.
var Descriptors = []source.StreamDescriptor{
	{
		UID: "synthetic-float", Name: "DummyFloat", Type: "EEG",
		ChannelCount: 8, ChannelFormat: xdf.FormatFloat32, NominalSRate: 100,
		MetadataDescriptor: "<channels><channel label=\"ch0\"/></channels>",
	},
	{
		UID: "synthetic-int", Name: "DummyInt", Type: "Digital",
		ChannelCount: 4, ChannelFormat: xdf.FormatInt32, NominalSRate: 10,
	},
	{
		UID: "synthetic-marker", Name: "DummyStr", Type: "Markers",
		ChannelCount: 1, ChannelFormat: xdf.FormatString, NominalSRate: 0,
	},
}

// Source is a source.Source backed entirely by in-process generators.
type Source struct {
	mu     sync.Mutex
	clock  func() time.Time
	inlets map[string]*inlet
}

// New creates a synthetic Source. clock defaults to time.Now.
func New(clock func() time.Time) *Source {
	if clock == nil {
		clock = time.Now
	}
	return &Source{clock: clock, inlets: make(map[string]*inlet)}
}

func (s *Source) Discover(ctx context.Context) ([]source.StreamDescriptor, error) {
	out := make([]source.StreamDescriptor, len(Descriptors))
	copy(out, Descriptors)
	return out, nil
}

// defaultBufferCapacity is used when a caller's OpenOptions doesn't size
// the inlet buffer (e.g. a test calling Open directly).
const defaultBufferCapacity = 256

// defaultMaxSamplesPerPull and defaultPullTimeout are likewise used when
// OpenOptions leaves them unset. They are this package's own values and
// are smaller than recorder's DefaultConfig (500 samples, 200ms).
const defaultMaxSamplesPerPull = 64

const defaultPullTimeout = 20 * time.Millisecond

func (s *Source) Open(ctx context.Context, uid string, opts source.OpenOptions) (source.Inlet, error) {
	var desc *source.StreamDescriptor
	for i := range Descriptors {
		if Descriptors[i].UID == uid {
			desc = &Descriptors[i]
			break
		}
	}
	if desc == nil {
		return nil, labrecerrors.WrapSourceUnavailable(fmt.Errorf("no synthetic stream %q", uid), "synthetic.Source", "Open")
	}

	capacity := opts.BufferCapacity
	if capacity <= 0 {
		capacity = defaultBufferCapacity
	}
	maxPerPull := opts.MaxSamplesPerPull
	if maxPerPull <= 0 {
		maxPerPull = defaultMaxSamplesPerPull
	}
	pullTimeout := opts.PullTimeout
	if pullTimeout <= 0 {
		pullTimeout = defaultPullTimeout
	}

	buf, err := buffer.NewCircularBuffer[xdf.Sample](capacity, buffer.WithOverflowPolicy[xdf.Sample](buffer.DropOldest))
	if err != nil {
		return nil, labrecerrors.WrapIO(err, "synthetic.Source", "Open", "allocate inlet buffer")
	}

	ctx, cancel := context.WithCancel(context.Background())
	in := &inlet{desc: *desc, buf: buf, cancel: cancel, clock: s.clock, maxPerPull: maxPerPull, pullTimeout: pullTimeout}
	go in.generate(ctx)

	s.mu.Lock()
	s.inlets[uid] = in
	s.mu.Unlock()

	return in, nil
}

type inlet struct {
	desc        source.StreamDescriptor
	buf         buffer.Buffer[xdf.Sample]
	cancel      context.CancelFunc
	clock       func() time.Time
	maxPerPull  int
	pullTimeout time.Duration
	n           uint64
}

func (in *inlet) generate(ctx context.Context) {
	interval := time.Second
	if in.desc.NominalSRate > 0 {
		interval = time.Duration(float64(time.Second) / in.desc.NominalSRate)
	} else {
		interval = 750 * time.Millisecond // irregular marker stream's average gap
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			in.n++
			ts := float64(in.clock().UnixNano()) / 1e9
			sample := in.makeSample(ts)
			_ = in.buf.Write(sample)
		}
	}
}

func (in *inlet) makeSample(ts float64) xdf.Sample {
	switch in.desc.ChannelFormat {
	case xdf.FormatFloat32:
		vals := make([]float64, in.desc.ChannelCount)
		for c := range vals {
			vals[c] = math.Sin(float64(in.n)/10+float64(c)) * 100
		}
		return xdf.Sample{HasTimestamp: true, Timestamp: ts, Floats: vals}
	case xdf.FormatInt32:
		vals := make([]int64, in.desc.ChannelCount)
		for c := range vals {
			vals[c] = int64(in.n) + int64(c)
		}
		return xdf.Sample{HasTimestamp: true, Timestamp: ts, Ints: vals}
	default:
		return xdf.Sample{HasTimestamp: true, Timestamp: ts, Strings: []string{fmt.Sprintf("marker-%d", in.n)}}
	}
}

func (in *inlet) Pull(ctx context.Context) ([]xdf.Sample, error) {
	if batch := in.buf.ReadBatch(in.maxPerPull); len(batch) > 0 {
		return batch, nil
	}
	timer := time.NewTimer(in.pullTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return in.buf.ReadBatch(in.maxPerPull), nil
	}
}

// TimeCorrection always reports zero offset: the generator stamps every
// sample with the recorder's own clock, so there is no source/recorder
// skew to measure.
func (in *inlet) TimeCorrection(ctx context.Context, timeout time.Duration) (float64, error) {
	return 0.0, nil
}

func (in *inlet) Close() error {
	in.cancel()
	return in.buf.Close()
}
