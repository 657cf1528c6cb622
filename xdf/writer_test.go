package xdf

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestWriter(t *testing.T, buf *bytes.Buffer) *Writer {
	w, err := NewWriter(buf, withClock(func() time.Time { return time.Unix(0, 0) }))
	require.NoError(t, err)
	return w
}

func TestNewWriterWritesMagicAndFileHeader(t *testing.T) {
	var buf bytes.Buffer
	newTestWriter(t, &buf)

	require.Equal(t, Magic[:], buf.Bytes()[:4])

	tag, content, err := readChunk(bytes.NewReader(buf.Bytes()[4:]))
	require.NoError(t, err)
	require.Equal(t, TagFileHeader, tag)
	require.Contains(t, string(content), "<info>")
}

func TestAddStreamWritesHeaderWithID(t *testing.T) {
	var buf bytes.Buffer
	w := newTestWriter(t, &buf)

	id, err := w.AddStream(StreamInfo{
		Name: "DummyFloat", Type: "EEG", ChannelCount: 2,
		ChannelFormat: FormatFloat32, NominalSRate: 100,
	})
	require.NoError(t, err)
	require.Equal(t, uint32(1), id)

	id2, err := w.AddStream(StreamInfo{Name: "DummyInt", ChannelCount: 1, ChannelFormat: FormatInt32})
	require.NoError(t, err)
	require.Equal(t, uint32(2), id2)
}

func TestWriteSamplesRequiresHeaderFirst(t *testing.T) {
	var buf bytes.Buffer
	w := newTestWriter(t, &buf)

	err := w.WriteSamples(99, []Sample{{HasTimestamp: true, Timestamp: 1.0, Floats: []float64{1, 2}}})
	require.Error(t, err)
}

func TestWriteSamplesAfterFooterIsOrderViolation(t *testing.T) {
	var buf bytes.Buffer
	w := newTestWriter(t, &buf)

	id, err := w.AddStream(StreamInfo{Name: "S", ChannelCount: 1, ChannelFormat: FormatFloat32})
	require.NoError(t, err)

	require.NoError(t, w.WriteStreamFooter(id, 0, 0, 0, 0))
	err = w.WriteSamples(id, []Sample{{Floats: []float64{1}}})
	require.Error(t, err)
}

func TestFullStreamLifecycleRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := newTestWriter(t, &buf)

	id, err := w.AddStream(StreamInfo{
		Name: "DummyFloat", Type: "EEG", ChannelCount: 2,
		ChannelFormat: FormatFloat32, NominalSRate: 100,
	})
	require.NoError(t, err)

	require.NoError(t, w.WriteSamples(id, []Sample{
		{HasTimestamp: true, Timestamp: 1.0, Floats: []float64{1.5, 2.5}},
		{HasTimestamp: true, Timestamp: 1.01, Floats: []float64{1.6, 2.6}},
	}))
	require.NoError(t, w.WriteClockOffset(id, 1.0, 0.002))

	firstTS, lastTS, count, offsetCount, ok := w.StreamStats(id)
	require.True(t, ok)
	require.Equal(t, uint64(2), count)
	require.Equal(t, uint64(1), offsetCount)
	require.Equal(t, 1.0, firstTS)
	require.Equal(t, 1.01, lastTS)

	require.NoError(t, w.WriteStreamFooter(id, firstTS, lastTS, count, offsetCount))
	require.Empty(t, w.OpenStreamIDs())
	require.NoError(t, w.Close())
}

func TestStreamFooterRecordsClockOffsetCount(t *testing.T) {
	var buf bytes.Buffer
	w := newTestWriter(t, &buf)

	id, err := w.AddStream(StreamInfo{Name: "S", ChannelCount: 1, ChannelFormat: FormatFloat32})
	require.NoError(t, err)
	require.NoError(t, w.WriteClockOffset(id, 1.0, 0.002))
	require.NoError(t, w.WriteClockOffset(id, 2.0, 0.003))

	_, _, _, offsetCount, ok := w.StreamStats(id)
	require.True(t, ok)
	require.Equal(t, uint64(2), offsetCount)

	require.NoError(t, w.WriteStreamFooter(id, 1.0, 2.0, 0, offsetCount))

	r := bytes.NewReader(buf.Bytes()[4:])
	var footer string
	for {
		tag, content, err := readChunk(r)
		if err != nil {
			break
		}
		if tag == TagStreamFooter {
			footer = string(content)
		}
	}
	require.Contains(t, footer, "<clock_offsets>2</clock_offsets>")
}

func TestCloseFailsWithUnfinalizedStream(t *testing.T) {
	var buf bytes.Buffer
	w := newTestWriter(t, &buf)

	id, err := w.AddStream(StreamInfo{Name: "S", ChannelCount: 1, ChannelFormat: FormatFloat32})
	require.NoError(t, err)
	require.NoError(t, w.WriteSamples(id, []Sample{{Floats: []float64{1}}}))

	err = w.Close()
	require.Error(t, err)
}

func TestBoundaryChunkEmittedAfterByteThreshold(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, WithBoundaryPolicy(BoundaryPolicy{MaxBytes: 16, MaxInterval: time.Hour}))
	require.NoError(t, err)

	id, err := w.AddStream(StreamInfo{Name: "S", ChannelCount: 4, ChannelFormat: FormatFloat32})
	require.NoError(t, err)

	require.NoError(t, w.WriteSamples(id, []Sample{{Floats: []float64{1, 2, 3, 4}}}))

	r := bytes.NewReader(buf.Bytes()[4:])
	var sawBoundary bool
	for {
		tag, _, err := readChunk(r)
		if err != nil {
			break
		}
		if tag == TagBoundary {
			sawBoundary = true
		}
	}
	require.True(t, sawBoundary)
}

func TestStringChannelFormatRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := newTestWriter(t, &buf)

	id, err := w.AddStream(StreamInfo{Name: "Markers", ChannelCount: 1, ChannelFormat: FormatString})
	require.NoError(t, err)
	require.NoError(t, w.WriteSamples(id, []Sample{
		{HasTimestamp: true, Timestamp: 2.0, Strings: []string{"event-a"}},
	}))
	require.NoError(t, w.WriteStreamFooter(id, 2.0, 2.0, 1, 0))
	require.NoError(t, w.Close())
}
