// Package natsstream implements source.Source over a NATS broker: stream
// discovery is a request/reply round trip against a well-known subject,
// and each open inlet is a subscription on a per-stream subject carrying
// msgpack-encoded sample batches. The connection itself reconnects under
// NATS's own built-in backoff; this package only adds the outer retry
// around the initial dial, matching the rest of the pipeline's reconnect
// shape rather than the original client's circuit-breaker/JetStream
// machinery, neither of which the acquisition model needs.
package natsstream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/vmihailenco/msgpack/v5"

	labrecerrors "github.com/c360/labrecorder/errors"
	"github.com/c360/labrecorder/pkg/buffer"
	"github.com/c360/labrecorder/pkg/retry"
	"github.com/c360/labrecorder/source"
	"github.com/c360/labrecorder/xdf"
)

// Config controls how the source dials and addresses the broker.
type Config struct {
	URL string

	// DiscoverySubject receives a request with no payload and replies
	// with a msgpack-encoded []wireDescriptor snapshot of streams
	// currently visible to whatever is publishing on the network.
	DiscoverySubject string

	// StreamSubjectPrefix + uid is where an opened inlet subscribes for
	// msgpack-encoded wireBatch sample batches.
	StreamSubjectPrefix string

	// TimeCorrectionSubjectPrefix + uid receives a request with no
	// payload and replies with a msgpack-encoded float64: the
	// publisher's own clock reading in seconds, for computing the
	// ClockOffset chunk (spec §4.2/§4.4).
	TimeCorrectionSubjectPrefix string

	DiscoveryTimeout      time.Duration
	DialTimeout           time.Duration
	TimeCorrectionTimeout time.Duration

	// BufferCapacity, MaxSamplesPerPull, and PullTimeout size and pace
	// an opened inlet; overridden per-stream by the OpenOptions a caller
	// passes to Open, these are only the fallback when it leaves a field
	// unset.
	BufferCapacity    int
	MaxSamplesPerPull int
	PullTimeout       time.Duration
}

// DefaultConfig returns the conventional subject layout this package
// expects any publisher-side adapter to use.
func DefaultConfig(url string) Config {
	return Config{
		URL:                         url,
		DiscoverySubject:            "lsl.discovery",
		StreamSubjectPrefix:         "lsl.stream.",
		TimeCorrectionSubjectPrefix: "lsl.timecorrection.",
		DiscoveryTimeout:            2 * time.Second,
		DialTimeout:                 10 * time.Second,
		TimeCorrectionTimeout:       2 * time.Second,
		BufferCapacity:              1024,
		MaxSamplesPerPull:           64,
		PullTimeout:                 20 * time.Millisecond,
	}
}

// wireDescriptor is the msgpack wire form of source.StreamDescriptor.
type wireDescriptor struct {
	UID                string  `msgpack:"uid"`
	Name               string  `msgpack:"name"`
	Type               string  `msgpack:"type"`
	ChannelCount       int     `msgpack:"channel_count"`
	ChannelFormat      uint8   `msgpack:"channel_format"`
	NominalSRate       float64 `msgpack:"nominal_srate"`
	MetadataDescriptor string  `msgpack:"metadata_descriptor"`
}

// wireSample is the msgpack wire form of one xdf.Sample; exactly one of
// the value slices is populated, matching the descriptor's channel
// format for the stream this batch belongs to.
type wireSample struct {
	HasTimestamp bool      `msgpack:"has_timestamp"`
	Timestamp    float64   `msgpack:"timestamp"`
	Floats       []float64 `msgpack:"floats,omitempty"`
	Ints         []int64   `msgpack:"ints,omitempty"`
	Strings      []string  `msgpack:"strings,omitempty"`
}

// wireBatch is what a publisher sends on a stream's subject: one or more
// samples collected since the last publish.
type wireBatch struct {
	Samples []wireSample `msgpack:"samples"`
}

// Source is a source.Source backed by a NATS connection.
type Source struct {
	cfg Config

	mu   sync.Mutex
	conn *nats.Conn
}

// New creates a Source that dials lazily on first Discover/Open.
func New(cfg Config) *Source {
	return &Source{cfg: cfg}
}

// Connect dials the broker now rather than lazily, retrying under
// exponential backoff until ctx is cancelled. Callers that want the
// pipeline to block at startup until NATS is reachable should call this
// explicitly; Discover/Open will also dial on demand.
func (s *Source) Connect(ctx context.Context) error {
	_, err := s.connection(ctx)
	return err
}

func (s *Source) connection(ctx context.Context) (*nats.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil && s.conn.IsConnected() {
		return s.conn, nil
	}

	cfg := retry.Config{
		MaxAttempts:  5,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		AddJitter:    true,
	}

	conn, err := retry.DoWithResult(ctx, cfg, func() (*nats.Conn, error) {
		return nats.Connect(s.cfg.URL,
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
			nats.Timeout(s.cfg.DialTimeout),
			nats.Name("labrecorder"),
		)
	})
	if err != nil {
		return nil, labrecerrors.WrapSourceUnavailable(err, "natsstream.Source", "connection")
	}

	s.conn = conn
	return conn, nil
}

// Close drains and closes the underlying connection, if one was made.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Drain()
	s.conn = nil
	return err
}

func (s *Source) Discover(ctx context.Context) ([]source.StreamDescriptor, error) {
	conn, err := s.connection(ctx)
	if err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.cfg.DiscoveryTimeout)
	defer cancel()

	msg, err := conn.RequestWithContext(reqCtx, s.cfg.DiscoverySubject, nil)
	if err != nil {
		return nil, labrecerrors.WrapTransient(err, "natsstream.Source", "Discover", "discovery request")
	}

	var wire []wireDescriptor
	if err := msgpack.Unmarshal(msg.Data, &wire); err != nil {
		return nil, labrecerrors.WrapIO(err, "natsstream.Source", "Discover", "decode discovery snapshot")
	}

	out := make([]source.StreamDescriptor, len(wire))
	for i, d := range wire {
		out[i] = source.StreamDescriptor{
			UID:                d.UID,
			Name:               d.Name,
			Type:               d.Type,
			ChannelCount:       d.ChannelCount,
			ChannelFormat:      xdf.ChannelFormat(d.ChannelFormat),
			NominalSRate:       d.NominalSRate,
			MetadataDescriptor: d.MetadataDescriptor,
		}
	}
	return out, nil
}

func (s *Source) Open(ctx context.Context, uid string, opts source.OpenOptions) (source.Inlet, error) {
	conn, err := s.connection(ctx)
	if err != nil {
		return nil, err
	}

	capacity := opts.BufferCapacity
	if capacity <= 0 {
		capacity = s.cfg.BufferCapacity
	}
	maxPerPull := opts.MaxSamplesPerPull
	if maxPerPull <= 0 {
		maxPerPull = s.cfg.MaxSamplesPerPull
	}
	pullTimeout := opts.PullTimeout
	if pullTimeout <= 0 {
		pullTimeout = s.cfg.PullTimeout
	}

	buf, err := buffer.NewCircularBuffer[xdf.Sample](capacity, buffer.WithOverflowPolicy[xdf.Sample](buffer.DropOldest))
	if err != nil {
		return nil, labrecerrors.WrapIO(err, "natsstream.Source", "Open", "allocate inlet buffer")
	}

	in := &inlet{buf: buf, conn: conn, cfg: s.cfg, uid: uid, maxPerPull: maxPerPull, pullTimeout: pullTimeout}

	subject := s.cfg.StreamSubjectPrefix + uid
	sub, err := conn.Subscribe(subject, func(msg *nats.Msg) {
		var batch wireBatch
		if err := msgpack.Unmarshal(msg.Data, &batch); err != nil {
			return
		}
		for _, ws := range batch.Samples {
			_ = in.buf.Write(xdf.Sample{
				HasTimestamp: ws.HasTimestamp,
				Timestamp:    ws.Timestamp,
				Floats:       ws.Floats,
				Ints:         ws.Ints,
				Strings:      ws.Strings,
			})
		}
	})
	if err != nil {
		_ = buf.Close()
		return nil, labrecerrors.WrapSourceUnavailable(fmt.Errorf("subscribe %s: %w", subject, err), "natsstream.Source", "Open")
	}

	in.sub = sub
	return in, nil
}

type inlet struct {
	buf buffer.Buffer[xdf.Sample]
	sub *nats.Subscription

	conn        *nats.Conn
	cfg         Config
	uid         string
	maxPerPull  int
	pullTimeout time.Duration
}

func (in *inlet) Pull(ctx context.Context) ([]xdf.Sample, error) {
	if batch := in.buf.ReadBatch(in.maxPerPull); len(batch) > 0 {
		return batch, nil
	}
	if in.sub != nil && !in.sub.IsValid() {
		return nil, labrecerrors.WrapSourceLost(fmt.Errorf("subscription no longer valid"), "natsstream.inlet", "Pull")
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

// TimeCorrection requests the publisher's clock reading over
// TimeCorrectionSubjectPrefix+uid and returns the skew against the
// recorder's own clock. A request that times out or finds no responder
// is Transient — the stream itself may still be healthy, just unable to
// answer this particular round trip right now.
func (in *inlet) TimeCorrection(ctx context.Context, timeout time.Duration) (float64, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	subject := in.cfg.TimeCorrectionSubjectPrefix + in.uid
	msg, err := in.conn.RequestWithContext(reqCtx, subject, nil)
	if err != nil {
		return 0, labrecerrors.WrapTransient(err, "natsstream.inlet", "TimeCorrection", "time correction request")
	}

	var sourceTime float64
	if err := msgpack.Unmarshal(msg.Data, &sourceTime); err != nil {
		return 0, labrecerrors.WrapIO(err, "natsstream.inlet", "TimeCorrection", "decode time correction reply")
	}

	localTime := float64(time.Now().UnixNano()) / 1e9
	return sourceTime - localTime, nil
}

func (in *inlet) Close() error {
	if in.sub != nil {
		_ = in.sub.Unsubscribe()
	}
	return in.buf.Close()
}
