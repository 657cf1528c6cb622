package acquisition

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/c360/labrecorder/health"
	"github.com/c360/labrecorder/source"
	"github.com/c360/labrecorder/xdf"
	"github.com/stretchr/testify/require"
)

type fakeInlet struct {
	mu       sync.Mutex
	samples  [][]xdf.Sample
	failOnce bool
	closed   bool
}

func (f *fakeInlet) Pull(ctx context.Context) ([]xdf.Sample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOnce {
		f.failOnce = false
		return nil, io.ErrUnexpectedEOF
	}
	if len(f.samples) == 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Millisecond):
			return nil, nil
		}
	}
	s := f.samples[0]
	f.samples = f.samples[1:]
	return s, nil
}

func (f *fakeInlet) TimeCorrection(ctx context.Context, timeout time.Duration) (float64, error) {
	return 0, nil
}

func (f *fakeInlet) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type fakeSource struct {
	mu       sync.Mutex
	inlet    *fakeInlet
	openErrs int
}

func (s *fakeSource) Discover(ctx context.Context) ([]source.StreamDescriptor, error) { return nil, nil }

func (s *fakeSource) Open(ctx context.Context, uid string, opts source.OpenOptions) (source.Inlet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openErrs > 0 {
		s.openErrs--
		return nil, errors.New("not ready yet")
	}
	return s.inlet, nil
}

type fakeSink struct {
	mu      sync.Mutex
	samples []xdf.Sample
	offsets int
}

func (f *fakeSink) WriteSamples(streamID uint32, samples []xdf.Sample) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.samples = append(f.samples, samples...)
	return nil
}

func (f *fakeSink) WriteClockOffset(streamID uint32, collectionTime, offsetValue float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offsets++
	return nil
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestWorkerPullsAndWritesSamples(t *testing.T) {
	inlet := &fakeInlet{samples: [][]xdf.Sample{
		{{HasTimestamp: true, Timestamp: 1, Floats: []float64{1, 2}}},
	}}
	src := &fakeSource{inlet: inlet}
	sink := &fakeSink{}

	w := New(source.StreamDescriptor{Name: "S", UID: "u"}, 1, src, sink, DefaultConfig(), testLogger(), nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_ = w.Run(ctx)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.samples, 1)
	require.GreaterOrEqual(t, sink.offsets, 1)
}

func TestWorkerRetriesOnOpenFailure(t *testing.T) {
	inlet := &fakeInlet{}
	src := &fakeSource{inlet: inlet, openErrs: 2}
	sink := &fakeSink{}

	cfg := DefaultConfig()
	cfg.ReconnectInitialDelay = time.Millisecond
	cfg.ReconnectMaxDelay = 5 * time.Millisecond

	w := New(source.StreamDescriptor{Name: "S", UID: "u"}, 1, src, sink, cfg, testLogger(), nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = w.Run(ctx)

	src.mu.Lock()
	defer src.mu.Unlock()
	require.Equal(t, 0, src.openErrs)
}

func TestWorkerReconnectsAfterSourceLost(t *testing.T) {
	inlet := &fakeInlet{failOnce: true}
	src := &fakeSource{inlet: inlet}
	sink := &fakeSink{}

	cfg := DefaultConfig()
	cfg.ReconnectInitialDelay = time.Millisecond

	w := New(source.StreamDescriptor{Name: "S", UID: "u"}, 1, src, sink, cfg, testLogger(), nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_ = w.Run(ctx)

	require.GreaterOrEqual(t, w.reconnects.Load(), uint64(1))
}

func TestWorkerReportsHealthToMonitor(t *testing.T) {
	inlet := &fakeInlet{samples: [][]xdf.Sample{
		{{HasTimestamp: true, Timestamp: 1, Floats: []float64{1, 2}}},
	}}
	src := &fakeSource{inlet: inlet}
	sink := &fakeSink{}
	monitor := health.NewMonitor()

	w := New(source.StreamDescriptor{Name: "S", UID: "u"}, 1, src, sink, DefaultConfig(), testLogger(), nil, monitor)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_ = w.Run(ctx)

	status, ok := monitor.Get("acquisition.S")
	require.True(t, ok)
	require.True(t, status.Healthy)
}
