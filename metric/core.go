package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the fixed set of recording-pipeline metrics, independent
// of which stream source implementation is active.
type Metrics struct {
	ChunksWritten       *prometheus.CounterVec
	BytesWritten        *prometheus.CounterVec
	SamplesWritten       *prometheus.CounterVec
	ClockOffsetsWritten  *prometheus.CounterVec
	WorkerReconnects     *prometheus.CounterVec
	DiscoveryRuns        prometheus.Counter
	BoundaryChunks       prometheus.Counter
	RecordingState       prometheus.Gauge

	// NATS connection health for the natsstream source, set through
	// RecordNATSConnected and RecordNATSReconnect. No code in this
	// repository calls those two methods.
	NATSConnected  prometheus.Gauge
	NATSReconnects prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all recording metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		ChunksWritten: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "labrecorder",
				Subsystem: "xdf",
				Name:      "chunks_written_total",
				Help:      "Total number of XDF chunks written, by tag.",
			},
			[]string{"tag"},
		),
		BytesWritten: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "labrecorder",
				Subsystem: "xdf",
				Name:      "bytes_written_total",
				Help:      "Total number of bytes written to the recording file, by stream.",
			},
			[]string{"stream"},
		),
		SamplesWritten: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "labrecorder",
				Subsystem: "acquisition",
				Name:      "samples_written_total",
				Help:      "Total number of samples written, by stream.",
			},
			[]string{"stream"},
		),
		ClockOffsetsWritten: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "labrecorder",
				Subsystem: "acquisition",
				Name:      "clock_offsets_written_total",
				Help:      "Total number of clock offset chunks written, by stream.",
			},
			[]string{"stream"},
		),
		WorkerReconnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "labrecorder",
				Subsystem: "acquisition",
				Name:      "worker_reconnects_total",
				Help:      "Total number of times an acquisition worker lost its source and started reconnecting, by stream.",
			},
			[]string{"stream"},
		),
		DiscoveryRuns: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "labrecorder",
				Subsystem: "discovery",
				Name:      "runs_total",
				Help:      "Total number of stream discovery scans performed.",
			},
		),
		BoundaryChunks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "labrecorder",
				Subsystem: "xdf",
				Name:      "boundary_chunks_total",
				Help:      "Total number of Boundary chunks emitted.",
			},
		),
		RecordingState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "labrecorder",
				Subsystem: "controller",
				Name:      "state",
				Help:      "Current controller state (0=Idle,1=Discovering,2=Ready,3=Recording,4=Stopping,5=Closed).",
			},
		),
		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "labrecorder",
				Subsystem: "natsstream",
				Name:      "connected",
				Help:      "NATS connection status for the natsstream source (0=disconnected, 1=connected).",
			},
		),
		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "labrecorder",
				Subsystem: "natsstream",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections observed by the natsstream source.",
			},
		),
	}
}

func (m *Metrics) RecordChunkWritten(tag string) { m.ChunksWritten.WithLabelValues(tag).Inc() }

func (m *Metrics) RecordBytesWritten(stream string, n int) {
	m.BytesWritten.WithLabelValues(stream).Add(float64(n))
}

func (m *Metrics) RecordSamplesWritten(stream string, n int) {
	m.SamplesWritten.WithLabelValues(stream).Add(float64(n))
}

func (m *Metrics) RecordClockOffsetWritten(stream string) {
	m.ClockOffsetsWritten.WithLabelValues(stream).Inc()
}

func (m *Metrics) RecordWorkerReconnect(stream string) {
	m.WorkerReconnects.WithLabelValues(stream).Inc()
}

func (m *Metrics) RecordDiscoveryRun() { m.DiscoveryRuns.Inc() }

func (m *Metrics) RecordBoundaryChunk() { m.BoundaryChunks.Inc() }

func (m *Metrics) RecordControllerState(state int) { m.RecordingState.Set(float64(state)) }

func (m *Metrics) RecordNATSConnected(connected bool) {
	v := 0.0
	if connected {
		v = 1.0
	}
	m.NATSConnected.Set(v)
}

func (m *Metrics) RecordNATSReconnect() { m.NATSReconnects.Inc() }
