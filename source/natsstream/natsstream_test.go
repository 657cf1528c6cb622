package natsstream

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	labrecerrors "github.com/c360/labrecorder/errors"
	"github.com/c360/labrecorder/source"
)

func TestDefaultConfigSubjectLayout(t *testing.T) {
	cfg := DefaultConfig("nats://127.0.0.1:4222")
	require.Equal(t, "nats://127.0.0.1:4222", cfg.URL)
	require.Equal(t, "lsl.discovery", cfg.DiscoverySubject)
	require.Equal(t, "lsl.stream.", cfg.StreamSubjectPrefix)
	require.Positive(t, cfg.DiscoveryTimeout)
	require.Positive(t, cfg.DialTimeout)
	require.Equal(t, "lsl.timecorrection.", cfg.TimeCorrectionSubjectPrefix)
	require.Positive(t, cfg.BufferCapacity)
	require.Positive(t, cfg.MaxSamplesPerPull)
	require.Positive(t, cfg.PullTimeout)
}

func TestWireDescriptorRoundTrip(t *testing.T) {
	in := []wireDescriptor{
		{UID: "s1", Name: "EEG", Type: "EEG", ChannelCount: 8, ChannelFormat: 1, NominalSRate: 250},
	}
	raw, err := msgpack.Marshal(in)
	require.NoError(t, err)

	var out []wireDescriptor
	require.NoError(t, msgpack.Unmarshal(raw, &out))
	require.Equal(t, in, out)
}

func TestWireBatchRoundTrip(t *testing.T) {
	in := wireBatch{
		Samples: []wireSample{
			{HasTimestamp: true, Timestamp: 123.5, Floats: []float64{1, 2, 3}},
			{HasTimestamp: true, Timestamp: 124.5, Floats: []float64{4, 5, 6}},
		},
	}
	raw, err := msgpack.Marshal(in)
	require.NoError(t, err)

	var out wireBatch
	require.NoError(t, msgpack.Unmarshal(raw, &out))
	require.Equal(t, in, out)
}

func TestDiscoverFailsFastWhenBrokerUnreachable(t *testing.T) {
	cfg := DefaultConfig("nats://127.0.0.1:1")
	cfg.DialTimeout = 50 * time.Millisecond
	s := New(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	_, err := s.Discover(ctx)
	require.Error(t, err)
	require.Equal(t, labrecerrors.KindSourceUnavailable, labrecerrors.ClassifyKind(err))
}

func TestOpenFailsFastWhenBrokerUnreachable(t *testing.T) {
	cfg := DefaultConfig("nats://127.0.0.1:1")
	cfg.DialTimeout = 50 * time.Millisecond
	s := New(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	_, err := s.Open(ctx, "any-uid", source.OpenOptions{})
	require.Error(t, err)
	require.Equal(t, labrecerrors.KindSourceUnavailable, labrecerrors.ClassifyKind(err))
}

func TestCloseWithoutConnectionIsNoop(t *testing.T) {
	s := New(DefaultConfig("nats://127.0.0.1:4222"))
	require.NoError(t, s.Close())
}

func TestOpenHonorsOpenOptionsOverCfgDefaults(t *testing.T) {
	cfg := DefaultConfig("nats://127.0.0.1:1")
	cfg.DialTimeout = 50 * time.Millisecond
	s := New(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	// Open still fails fast (no broker), but exercises the OpenOptions
	// plumbing through to the point of attempting to connect.
	_, err := s.Open(ctx, "any-uid", source.OpenOptions{BufferCapacity: 32, MaxSamplesPerPull: 8, PullTimeout: 5 * time.Millisecond})
	require.Error(t, err)
}
