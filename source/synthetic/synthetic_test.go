package synthetic

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	labrecerrors "github.com/c360/labrecorder/errors"
	"github.com/c360/labrecorder/source"
	"github.com/c360/labrecorder/xdf"
)

func TestDiscoverReturnsFixedCatalogue(t *testing.T) {
	s := New(nil)
	streams, err := s.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, streams, 3)

	byUID := map[string]xdf.ChannelFormat{}
	for _, d := range streams {
		byUID[d.UID] = d.ChannelFormat
	}
	require.Equal(t, xdf.FormatFloat32, byUID["synthetic-float"])
	require.Equal(t, xdf.FormatInt32, byUID["synthetic-int"])
	require.Equal(t, xdf.FormatString, byUID["synthetic-marker"])
}

func TestDiscoverReturnsACopyNotTheSharedSlice(t *testing.T) {
	s := New(nil)
	streams, err := s.Discover(context.Background())
	require.NoError(t, err)

	streams[0].Name = "mutated"
	again, err := s.Discover(context.Background())
	require.NoError(t, err)
	require.NotEqual(t, "mutated", again[0].Name)
}

func TestOpenUnknownUIDIsSourceUnavailable(t *testing.T) {
	s := New(nil)
	_, err := s.Open(context.Background(), "no-such-stream", source.OpenOptions{})
	require.Error(t, err)
	require.Equal(t, labrecerrors.KindSourceUnavailable, labrecerrors.ClassifyKind(err))
}

func TestOpenAndPullProducesTimestampedFloatSamples(t *testing.T) {
	s := New(nil)
	in, err := s.Open(context.Background(), "synthetic-float", source.OpenOptions{})
	require.NoError(t, err)
	defer in.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	samples := pullUntilNonEmpty(t, ctx, in)
	first := samples[0]
	require.True(t, first.HasTimestamp)
	require.Greater(t, first.Timestamp, 0.0)
	require.Len(t, first.Floats, 8)
}

func TestOpenAndPullProducesIntSamples(t *testing.T) {
	s := New(nil)
	in, err := s.Open(context.Background(), "synthetic-int", source.OpenOptions{})
	require.NoError(t, err)
	defer in.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	samples := pullUntilNonEmpty(t, ctx, in)
	require.Len(t, samples[0].Ints, 4)
}

func TestOpenAndPullProducesMarkerStrings(t *testing.T) {
	s := New(nil)
	in, err := s.Open(context.Background(), "synthetic-marker", source.OpenOptions{})
	require.NoError(t, err)
	defer in.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	samples := pullUntilNonEmpty(t, ctx, in)
	require.Len(t, samples[0].Strings, 1)
}

// pullUntilNonEmpty loops Pull the way acquisition.Worker's pullLoop does:
// Pull itself only waits up to its configured PullTimeout per call and
// returns an empty, nil-error batch on a miss.
func pullUntilNonEmpty(t *testing.T, ctx context.Context, in source.Inlet) []xdf.Sample {
	t.Helper()
	for {
		samples, err := in.Pull(ctx)
		require.NoError(t, err)
		if len(samples) > 0 {
			return samples
		}
	}
}

func TestPullReturnsContextErrorWhenNothingArrives(t *testing.T) {
	// A stream nobody generates samples for (closed immediately) must not
	// block Pull forever; the surrounding context deadline governs it.
	s := New(nil)
	in, err := s.Open(context.Background(), "synthetic-marker", source.OpenOptions{PullTimeout: 5 * time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, in.Close())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	var pullErr error
	for pullErr == nil {
		_, pullErr = in.Pull(ctx)
	}
	require.ErrorIs(t, pullErr, context.DeadlineExceeded)
}

func TestCloseStopsGeneration(t *testing.T) {
	s := New(nil)
	in, err := s.Open(context.Background(), "synthetic-float", source.OpenOptions{PullTimeout: 5 * time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, in.Close())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	var pullErr error
	for pullErr == nil {
		_, pullErr = in.Pull(ctx)
	}
	require.Error(t, pullErr)
}

func TestTimeCorrectionIsAlwaysZero(t *testing.T) {
	s := New(nil)
	in, err := s.Open(context.Background(), "synthetic-float", source.OpenOptions{})
	require.NoError(t, err)
	defer in.Close()

	offset, err := in.TimeCorrection(context.Background(), time.Second)
	require.NoError(t, err)
	require.Zero(t, offset)
}
