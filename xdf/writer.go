package xdf

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"time"

	xdferrors "github.com/c360/labrecorder/errors"
)

type streamState struct {
	id               uint32
	info             StreamInfo
	headerWritten    bool
	footerWritten    bool
	sampleCount      uint64
	clockOffsetCount uint64
	firstTS          float64
	lastTS           float64
	haveTS           bool
}

// UUIDFunc returns a fresh 16-byte boundary payload. Swappable for tests
// and for callers that want real random UUIDs per boundary (see
// WithUUIDFunc).
type UUIDFunc func() [16]byte

// Writer serializes an XDF recording to an underlying io.Writer. A Writer
// is safe for concurrent use: every public method takes an internal mutex
// for the duration of the write.
type Writer struct {
	mu      sync.Mutex
	out     *bufio.Writer
	closer  io.Closer
	streams map[uint32]*streamState
	nextID  uint32

	policy          BoundaryPolicy
	bytesSinceBound int64
	lastBoundary    time.Time
	uuidFn          UUIDFunc

	now func() time.Time
}

// Option configures a Writer at construction time.
type Option func(*Writer)

// WithBoundaryPolicy overrides DefaultBoundaryPolicy().
func WithBoundaryPolicy(p BoundaryPolicy) Option {
	return func(w *Writer) { w.policy = p }
}

// WithUUIDFunc overrides the boundary-chunk UUID generator.
func WithUUIDFunc(fn UUIDFunc) Option {
	return func(w *Writer) { w.uuidFn = fn }
}

func withClock(now func() time.Time) Option {
	return func(w *Writer) { w.now = now }
}

// NewWriter creates a Writer over dst, writing the magic preamble and
// FileHeader chunk immediately. If dst also implements io.Closer, Close
// will close it after flushing.
func NewWriter(dst io.Writer, opts ...Option) (*Writer, error) {
	w := &Writer{
		out:          bufio.NewWriter(dst),
		streams:      make(map[uint32]*streamState),
		policy:       DefaultBoundaryPolicy(),
		uuidFn:       func() [16]byte { return DefaultBoundaryUUID },
		now:          time.Now,
		lastBoundary: time.Now(),
	}
	if c, ok := dst.(io.Closer); ok {
		w.closer = c
	}
	for _, opt := range opts {
		opt(w)
	}
	w.lastBoundary = w.now()

	if _, err := w.out.Write(Magic[:]); err != nil {
		return nil, xdferrors.WrapIO(err, "xdf.Writer", "NewWriter", "write magic")
	}

	header := "<?xml version=\"1.0\"?><info><version>1.0</version></info>"
	if _, err := writeChunk(w.out, TagFileHeader, []byte(header)); err != nil {
		return nil, xdferrors.WrapIO(err, "xdf.Writer", "NewWriter", "write file header")
	}
	if err := w.out.Flush(); err != nil {
		return nil, xdferrors.WrapIO(err, "xdf.Writer", "NewWriter", "flush file header")
	}
	return w, nil
}

// AddStream registers a new stream and writes its StreamHeader chunk,
// returning an identifier to use in subsequent calls.
func (w *Writer) AddStream(info StreamInfo) (uint32, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.nextID++
	id := w.nextID
	st := &streamState{id: id, info: info}
	w.streams[id] = st

	body := streamHeaderXML(id, info)
	var buf strings.Builder
	var idBytes [4]byte
	binary.LittleEndian.PutUint32(idBytes[:], id)
	buf.Write(idBytes[:])
	buf.WriteString(body)

	n, err := writeChunk(w.out, TagStreamHeader, []byte(buf.String()))
	if err != nil {
		return 0, xdferrors.WrapIO(err, "xdf.Writer", "AddStream", "write stream header")
	}
	st.headerWritten = true
	w.accountBytes(int64(n))
	return id, nil
}

// WriteSamples appends one Samples chunk for streamID.
func (w *Writer) WriteSamples(streamID uint32, samples []Sample) error {
	if len(samples) == 0 {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	st, ok := w.streams[streamID]
	if !ok {
		return xdferrors.WrapOrderViolation(fmt.Errorf("unknown stream %d", streamID), "xdf.Writer", "WriteSamples")
	}
	if !st.headerWritten {
		return xdferrors.WrapOrderViolation(fmt.Errorf("stream %d has no header yet", streamID), "xdf.Writer", "WriteSamples")
	}
	if st.footerWritten {
		return xdferrors.WrapOrderViolation(fmt.Errorf("stream %d already closed", streamID), "xdf.Writer", "WriteSamples")
	}

	var body strings.Builder
	var idBytes [4]byte
	binary.LittleEndian.PutUint32(idBytes[:], streamID)
	body.Write(idBytes[:])

	numSamples := uint64(len(samples))
	numSamplesBytes, lenField := encodeLength(numSamples)
	body.WriteByte(numSamplesBytes)
	body.Write(lenField)

	for _, s := range samples {
		if s.HasTimestamp {
			body.WriteByte(8)
			var tsBuf [8]byte
			binary.LittleEndian.PutUint64(tsBuf[:], math.Float64bits(s.Timestamp))
			body.Write(tsBuf[:])
			if !st.haveTS {
				st.firstTS = s.Timestamp
				st.haveTS = true
			}
			st.lastTS = s.Timestamp
		} else {
			body.WriteByte(0)
		}

		switch st.info.ChannelFormat {
		case FormatString:
			for _, v := range s.Strings {
				n, lf := encodeLength(uint64(len(v)))
				body.WriteByte(n)
				body.Write(lf)
				body.WriteString(v)
			}
		case FormatFloat32:
			for _, v := range s.Floats {
				var b [4]byte
				binary.LittleEndian.PutUint32(b[:], math.Float32bits(float32(v)))
				body.Write(b[:])
			}
		case FormatDouble64:
			for _, v := range s.Floats {
				var b [8]byte
				binary.LittleEndian.PutUint64(b[:], math.Float64bits(v))
				body.Write(b[:])
			}
		case FormatInt64:
			for _, v := range s.Ints {
				var b [8]byte
				binary.LittleEndian.PutUint64(b[:], uint64(v))
				body.Write(b[:])
			}
		case FormatInt32:
			for _, v := range s.Ints {
				var b [4]byte
				binary.LittleEndian.PutUint32(b[:], uint32(v))
				body.Write(b[:])
			}
		case FormatInt16:
			for _, v := range s.Ints {
				var b [2]byte
				binary.LittleEndian.PutUint16(b[:], uint16(v))
				body.Write(b[:])
			}
		case FormatInt8:
			for _, v := range s.Ints {
				body.WriteByte(byte(v))
			}
		default:
			return xdferrors.WrapInvalidState(fmt.Errorf("unsupported channel format %q", st.info.ChannelFormat), "xdf.Writer", "WriteSamples")
		}
	}

	n, err := writeChunk(w.out, TagSamples, []byte(body.String()))
	if err != nil {
		return xdferrors.WrapIO(err, "xdf.Writer", "WriteSamples", "write samples chunk")
	}
	st.sampleCount += numSamples
	w.accountBytes(int64(n))
	return w.maybeWriteBoundaryLocked()
}

// encodeLength picks the smallest legal width (1/4/8 bytes) for a count
// field embedded inside a chunk body (distinct from the outer chunk
// length field, but using the same width rule).
func encodeLength(n uint64) (byte, []byte) {
	switch {
	case n <= 0xFF:
		return 1, []byte{byte(n)}
	case n <= 0xFFFFFFFF:
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, uint32(n))
		return 4, b
	default:
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, n)
		return 8, b
	}
}

// WriteClockOffset appends a ClockOffset chunk recording the skew between
// the source's clock and the recorder's clock as of collectionTime.
func (w *Writer) WriteClockOffset(streamID uint32, collectionTime, offsetValue float64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	st, ok := w.streams[streamID]
	if !ok {
		return xdferrors.WrapOrderViolation(fmt.Errorf("unknown stream %d", streamID), "xdf.Writer", "WriteClockOffset")
	}
	if !st.headerWritten || st.footerWritten {
		return xdferrors.WrapOrderViolation(fmt.Errorf("stream %d not open for clock offsets", streamID), "xdf.Writer", "WriteClockOffset")
	}

	var body [20]byte
	binary.LittleEndian.PutUint32(body[0:4], streamID)
	binary.LittleEndian.PutUint64(body[4:12], math.Float64bits(collectionTime))
	binary.LittleEndian.PutUint64(body[12:20], math.Float64bits(offsetValue))

	n, err := writeChunk(w.out, TagClockOffset, body[:])
	if err != nil {
		return xdferrors.WrapIO(err, "xdf.Writer", "WriteClockOffset", "write clock offset chunk")
	}
	st.clockOffsetCount++
	w.accountBytes(int64(n))
	return w.maybeWriteBoundaryLocked()
}

// WriteStreamFooter closes out streamID. Only the session controller
// calls this — acquisition workers never write their own footer, so a
// stream abandoned mid-recording is still closed well-formed.
func (w *Writer) WriteStreamFooter(streamID uint32, firstTimestamp, lastTimestamp float64, sampleCount, clockOffsetCount uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	st, ok := w.streams[streamID]
	if !ok {
		return xdferrors.WrapOrderViolation(fmt.Errorf("unknown stream %d", streamID), "xdf.Writer", "WriteStreamFooter")
	}
	if !st.headerWritten {
		return xdferrors.WrapOrderViolation(fmt.Errorf("stream %d has no header", streamID), "xdf.Writer", "WriteStreamFooter")
	}
	if st.footerWritten {
		return xdferrors.WrapOrderViolation(fmt.Errorf("stream %d already closed", streamID), "xdf.Writer", "WriteStreamFooter")
	}

	var idBytes [4]byte
	binary.LittleEndian.PutUint32(idBytes[:], streamID)
	body := append(idBytes[:], []byte(streamFooterXML(st.info, firstTimestamp, lastTimestamp, sampleCount, clockOffsetCount))...)

	n, err := writeChunk(w.out, TagStreamFooter, body)
	if err != nil {
		return xdferrors.WrapIO(err, "xdf.Writer", "WriteStreamFooter", "write stream footer")
	}
	st.footerWritten = true
	w.accountBytes(int64(n))
	if err := w.out.Flush(); err != nil {
		return xdferrors.WrapIO(err, "xdf.Writer", "WriteStreamFooter", "flush")
	}
	return nil
}

// OpenStreamIDs returns the IDs of streams that have a header but no
// footer yet, for the controller to finalize on shutdown.
func (w *Writer) OpenStreamIDs() []uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	var ids []uint32
	for id, st := range w.streams {
		if st.headerWritten && !st.footerWritten {
			ids = append(ids, id)
		}
	}
	return ids
}

// StreamStats reports bookkeeping the controller needs to write a footer
// for a stream it is finalizing (e.g. on abrupt shutdown).
func (w *Writer) StreamStats(streamID uint32) (firstTS, lastTS float64, sampleCount, clockOffsetCount uint64, ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	st, exists := w.streams[streamID]
	if !exists {
		return 0, 0, 0, 0, false
	}
	return st.firstTS, st.lastTS, st.sampleCount, st.clockOffsetCount, true
}

func (w *Writer) accountBytes(n int64) {
	w.bytesSinceBound += n
}

// maybeWriteBoundaryLocked emits a Boundary chunk if the configured
// byte/time thresholds have been crossed, then flushes buffered chunks to
// the underlying writer. Caller must hold w.mu.
func (w *Writer) maybeWriteBoundaryLocked() error {
	if w.bytesSinceBound < w.policy.MaxBytes && w.now().Sub(w.lastBoundary) < w.policy.MaxInterval {
		if err := w.out.Flush(); err != nil {
			return xdferrors.WrapIO(err, "xdf.Writer", "maybeWriteBoundary", "flush")
		}
		return nil
	}
	uid := w.uuidFn()
	n, err := writeChunk(w.out, TagBoundary, uid[:])
	if err != nil {
		return xdferrors.WrapIO(err, "xdf.Writer", "maybeWriteBoundary", "write boundary chunk")
	}
	w.bytesSinceBound = 0
	w.lastBoundary = w.now()
	_ = n
	if err := w.out.Flush(); err != nil {
		return xdferrors.WrapIO(err, "xdf.Writer", "maybeWriteBoundary", "flush")
	}
	return nil
}

// Flush forces buffered bytes to the underlying writer without closing it.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.out.Flush()
}

// Close flushes remaining buffered data and closes the underlying writer
// if it implements io.Closer. It returns an OrderViolation error if any
// stream still lacks a footer — the controller must finalize every
// stream before closing the writer.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for id, st := range w.streams {
		if st.headerWritten && !st.footerWritten {
			return xdferrors.WrapOrderViolation(fmt.Errorf("stream %d closed without a footer", id), "xdf.Writer", "Close")
		}
	}

	if err := w.out.Flush(); err != nil {
		return xdferrors.WrapIO(err, "xdf.Writer", "Close", "flush")
	}
	if w.closer != nil {
		if err := w.closer.Close(); err != nil {
			return xdferrors.WrapIO(err, "xdf.Writer", "Close", "close underlying file")
		}
	}
	return nil
}

func streamHeaderXML(id uint32, info StreamInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<info><name>%s</name><type>%s</type><channel_count>%d</channel_count>",
		xmlEscape(info.Name), xmlEscape(info.Type), info.ChannelCount)
	fmt.Fprintf(&b, "<nominal_srate>%s</nominal_srate><channel_format>%s</channel_format>",
		formatRate(info.NominalSRate), info.ChannelFormat)
	if info.Desc != "" {
		fmt.Fprintf(&b, "<desc>%s</desc>", info.Desc)
	}
	b.WriteString("</info>")
	return b.String()
}

func streamFooterXML(info StreamInfo, firstTS, lastTS float64, sampleCount, clockOffsetCount uint64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<info><first_timestamp>%v</first_timestamp><last_timestamp>%v</last_timestamp><sample_count>%d</sample_count><clock_offsets>%d</clock_offsets>",
		firstTS, lastTS, sampleCount, clockOffsetCount)
	if info.Desc != "" {
		fmt.Fprintf(&b, "<desc>%s</desc>", info.Desc)
	}
	b.WriteString("</info>")
	return b.String()
}

func formatRate(r float64) string {
	if r == 0 {
		return "0"
	}
	return fmt.Sprintf("%g", r)
}

func xmlEscape(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '&':
			b.WriteString("&amp;")
		case '<':
			b.WriteString("&lt;")
		case '>':
			b.WriteString("&gt;")
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
