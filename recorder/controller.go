// Package recorder owns the session state machine: the set of selected
// streams, the active xdf.Writer, and the acquisition workers recording
// into it. Every exported method is a control-plane command; each blocks
// until its transition completes or is rejected, matching the control
// server's expectation that a response is never observed before the
// state change it reports.
package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/labrecorder/acquisition"
	labrecerrors "github.com/c360/labrecorder/errors"
	"github.com/c360/labrecorder/health"
	"github.com/c360/labrecorder/metric"
	"github.com/c360/labrecorder/source"
	"github.com/c360/labrecorder/xdf"
)

// writerHealthComponent is the health.Monitor component name the
// controller itself reports on status()'s health sub-section, alongside
// each acquisition.Worker's own component.
const writerHealthComponent = "xdf.Writer"

// streamSession is the controller's bookkeeping for one selected stream
// across a single recording.
type streamSession struct {
	desc     source.StreamDescriptor
	streamID uint32
	worker   *acquisition.Worker
}

// PerStreamStatus is one entry of status()'s per_stream list.
type PerStreamStatus struct {
	UID           string  `json:"uid"`
	Name          string  `json:"name"`
	SampleCount   uint64  `json:"sample_count"`
	LastTimestamp float64 `json:"last_timestamp"`
}

// AvailableStream is one entry of the streams() command's catalogue: a
// discovered stream plus whether it is part of the current selection.
type AvailableStream struct {
	source.StreamDescriptor
	Selected bool `json:"selected"`
}

// Status is the result of the status() command.
type Status struct {
	State         string            `json:"state"`
	Filename      string            `json:"filename"`
	SelectedCount int               `json:"selected_count"`
	PerStream     []PerStreamStatus `json:"per_stream"`
	Health        health.Status     `json:"health"`
}

// Controller is the session controller. A single mutex guards both the
// state machine and its bookkeeping (available/selected streams,
// filename, active writer and workers). Command methods hold it while
// they read or change that state; UpdateStreams, Start and Stop release
// it around their discovery, file/writer and worker I/O, and it is never
// held across a worker's I/O. The xdf.Writer's own internal mutex is the
// distinct "writer mutex" the concurrency model calls for: the controller
// reaches into it from Start()/Stop() and from StatusReport() (which
// holds this mutex while calling StreamStats), and the writer never calls
// back into the controller, so the two locks never invert.
type Controller struct {
	mu sync.Mutex

	state   State
	src     source.Source
	cfg     Config
	logger  *slog.Logger
	metrics *metric.Metrics
	health  *health.Monitor
	now     func() time.Time

	availableStreams []source.StreamDescriptor
	selected         []string // uids, in selection order
	filename         string
	starting         bool // true while Start()'s unlocked file/writer I/O is in flight

	writer      *xdf.Writer
	writerFile  *os.File
	sessions    []*streamSession
	sessionCtx  context.Context
	sessionStop context.CancelFunc
	group       *errgroup.Group
}

// New creates an Idle Controller backed by src.
func New(src source.Source, cfg Config, logger *slog.Logger, metrics *metric.Metrics) *Controller {
	return &Controller{
		state:   StateIdle,
		src:     src,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		health:  health.NewMonitor(),
		now:     time.Now,
	}
}

// AvailableStreams returns the most recent discovery snapshot, annotated
// with whether each stream is part of the current selection (grounded on
// the "streams" command's selected flag).
func (c *Controller) AvailableStreams() []AvailableStream {
	c.mu.Lock()
	defer c.mu.Unlock()

	selected := make(map[string]bool, len(c.selected))
	for _, uid := range c.selected {
		selected[uid] = true
	}

	out := make([]AvailableStream, len(c.availableStreams))
	for i, s := range c.availableStreams {
		out[i] = AvailableStream{StreamDescriptor: s, Selected: selected[s.UID]}
	}
	return out
}

// State returns the controller's current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// UpdateStreams runs discovery and replaces the available-streams set.
// Valid from Idle or Ready; transitions Idle/Ready -> Discovering -> Ready.
func (c *Controller) UpdateStreams(ctx context.Context) ([]source.StreamDescriptor, error) {
	c.mu.Lock()
	if c.state != StateIdle && c.state != StateReady {
		state := c.state
		c.mu.Unlock()
		return nil, labrecerrors.WrapInvalidState(fmt.Errorf("update_streams invalid in state %s", state), "recorder.Controller", "UpdateStreams")
	}
	c.state = StateDiscovering
	c.mu.Unlock()

	discoverCtx, cancel := context.WithTimeout(ctx, c.cfg.DiscoveryTimeout)
	defer cancel()
	streams, err := c.src.Discover(discoverCtx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.state = StateReady
		if len(c.availableStreams) == 0 {
			c.state = StateIdle
		}
		return nil, labrecerrors.WrapTransient(err, "recorder.Controller", "UpdateStreams", "discovery")
	}

	c.availableStreams = streams
	c.selected = dedupeSelection(c.selected, streams)
	c.state = StateReady
	if c.metrics != nil {
		c.metrics.RecordDiscoveryRun()
	}

	out := make([]source.StreamDescriptor, len(streams))
	copy(out, streams)
	return out, nil
}

// dedupeSelection drops any previously-selected uid that discovery no
// longer reports, per the spec's reset-on-vanish rule.
func dedupeSelection(selected []string, streams []source.StreamDescriptor) []string {
	known := make(map[string]bool, len(streams))
	for _, s := range streams {
		known[s.UID] = true
	}
	var out []string
	for _, uid := range selected {
		if known[uid] {
			out = append(out, uid)
		}
	}
	return out
}

// Select updates the selection from uids, "all", or "none". Unknown uids
// and duplicates are rejected/deduplicated respectively.
func (c *Controller) Select(uids []string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateReady && c.state != StateIdle {
		return nil, labrecerrors.WrapInvalidState(fmt.Errorf("select invalid in state %s", c.state), "recorder.Controller", "Select")
	}

	if len(uids) == 1 && uids[0] == "none" {
		c.selected = nil
		return nil, nil
	}
	if len(uids) == 1 && uids[0] == "all" {
		c.selected = nil
		for _, s := range c.availableStreams {
			c.selected = append(c.selected, s.UID)
		}
		return append([]string(nil), c.selected...), nil
	}

	known := make(map[string]bool, len(c.availableStreams))
	for _, s := range c.availableStreams {
		known[s.UID] = true
	}

	seen := make(map[string]bool, len(uids))
	var out []string
	for _, uid := range uids {
		if !known[uid] {
			return nil, labrecerrors.WrapBadRequest(fmt.Errorf("unknown stream uid %q", uid), "recorder.Controller", "Select")
		}
		if seen[uid] {
			continue
		}
		seen[uid] = true
		out = append(out, uid)
	}
	c.selected = out
	return append([]string(nil), out...), nil
}

// SetFilename parses spec (§6.2 templating) and stores the resolved path.
// Valid any time the controller is not Recording.
func (c *Controller) SetFilename(spec string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateRecording {
		return "", labrecerrors.WrapInvalidState(fmt.Errorf("cannot set filename while recording"), "recorder.Controller", "SetFilename")
	}

	resolved, err := ResolveFilename(spec)
	if err != nil {
		return "", err
	}
	c.filename = resolved
	return resolved, nil
}

// Filename returns the currently resolved filename.
func (c *Controller) Filename() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filename
}

// Start opens the writer, writes a StreamHeader per selected stream, and
// launches one acquisition worker per selection. Valid only from Ready
// with a non-empty selection and a filename already set.
func (c *Controller) Start() error {
	c.mu.Lock()
	if c.state != StateReady || c.starting {
		state := c.state
		c.mu.Unlock()
		return labrecerrors.WrapInvalidState(fmt.Errorf("start invalid in state %s", state), "recorder.Controller", "Start")
	}
	if len(c.selected) == 0 {
		c.mu.Unlock()
		return labrecerrors.WrapNoSelection(fmt.Errorf("no streams selected"), "recorder.Controller", "Start")
	}
	if c.filename == "" {
		c.mu.Unlock()
		return labrecerrors.WrapInvalidState(fmt.Errorf("no filename set"), "recorder.Controller", "Start")
	}

	byUID := make(map[string]source.StreamDescriptor, len(c.availableStreams))
	for _, s := range c.availableStreams {
		byUID[s.UID] = s
	}
	selected := append([]string(nil), c.selected...)
	filename := c.filename

	// Stays in Ready (spec §4.5's SessionState has no separate "starting"
	// point); c.starting blocks a second Start() from racing this one's
	// unlocked file/writer I/O below.
	c.starting = true
	c.mu.Unlock()

	f, err := os.Create(filename)
	if err != nil {
		c.abandonStart()
		return labrecerrors.WrapIO(err, "recorder.Controller", "Start", "create output file")
	}
	writer, err := xdf.NewWriter(f)
	if err != nil {
		_ = f.Close()
		c.abandonStart()
		return labrecerrors.WrapIO(err, "recorder.Controller", "Start", "open writer")
	}

	sessions := make([]*streamSession, 0, len(selected))
	for _, uid := range selected {
		desc, ok := byUID[uid]
		if !ok {
			_ = writer.Close()
			_ = f.Close()
			c.abandonStart()
			return labrecerrors.WrapInvalidState(fmt.Errorf("selected uid %q no longer available", uid), "recorder.Controller", "Start")
		}

		id, err := writer.AddStream(xdf.StreamInfo{
			Name:          desc.Name,
			Type:          desc.Type,
			ChannelCount:  desc.ChannelCount,
			ChannelFormat: desc.ChannelFormat,
			NominalSRate:  desc.NominalSRate,
			Desc:          desc.MetadataDescriptor,
		})
		if err != nil {
			_ = writer.Close()
			_ = f.Close()
			c.abandonStart()
			return labrecerrors.Wrap(err, "recorder.Controller", "Start", "write stream header")
		}

		sessions = append(sessions, &streamSession{desc: desc, streamID: id})
	}

	sessionCtx, sessionStop := context.WithCancel(context.Background())
	group := &errgroup.Group{}

	workerCfg := acquisition.Config{
		ReconnectInitialDelay: 500 * time.Millisecond,
		ReconnectMaxDelay:     10 * time.Second,
		ReconnectMultiplier:   2.0,
		ClockOffsetInterval:   c.cfg.ClockSyncInterval,
		TimeCorrectionTimeout: 2 * time.Second,
		BufferSeconds:         c.cfg.BufferSeconds,
		MaxSamplesPerPull:     c.cfg.MaxSamplesPerPull,
		PullTimeout:           c.cfg.PullTimeout,
	}

	for _, sess := range sessions {
		worker := acquisition.New(sess.desc, sess.streamID, c.src, writer, workerCfg, c.logger, c.metrics, c.health)
		sess.worker = worker
		group.Go(func() error {
			return worker.Run(sessionCtx)
		})
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.writer = writer
	c.writerFile = f
	c.sessions = sessions
	c.sessionCtx = sessionCtx
	c.sessionStop = sessionStop
	c.group = group
	c.state = StateRecording
	c.starting = false
	c.health.UpdateHealthy(writerHealthComponent, "writer open, recording "+filename)
	if c.metrics != nil {
		c.metrics.RecordControllerState(int(StateRecording))
	}
	return nil
}

// abandonStart clears the starting guard after a Start() attempt fails
// partway through its unlocked file/writer I/O, leaving the controller in
// Ready for a retry.
func (c *Controller) abandonStart() {
	c.mu.Lock()
	c.starting = false
	c.mu.Unlock()
}

// Stop signals every worker to cancel, waits up to stop_timeout_s for
// them to join, writes every still-open stream's footer from the
// writer's own bookkeeping regardless of whether its worker joined in
// time, closes the file, and returns to Idle.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if c.state != StateRecording {
		state := c.state
		c.mu.Unlock()
		return labrecerrors.WrapInvalidState(fmt.Errorf("stop invalid in state %s", state), "recorder.Controller", "Stop")
	}
	c.state = StateStopping
	sessionStop := c.sessionStop
	group := c.group
	writer := c.writer
	file := c.writerFile
	c.mu.Unlock()

	sessionStop()

	done := make(chan error, 1)
	go func() { done <- group.Wait() }()

	select {
	case err := <-done:
		if err != nil && c.logger != nil {
			c.logger.Debug("acquisition worker group finished with error", "error", err)
		}
	case <-time.After(c.cfg.StopTimeout):
		if c.logger != nil {
			c.logger.Warn("stop timeout exceeded, abandoning unjoined workers", "timeout", c.cfg.StopTimeout)
		}
	}

	for _, id := range writer.OpenStreamIDs() {
		firstTS, lastTS, sampleCount, clockOffsetCount, ok := writer.StreamStats(id)
		if !ok {
			continue
		}
		if err := writer.WriteStreamFooter(id, nanIfZero(firstTS, sampleCount), nanIfZero(lastTS, sampleCount), sampleCount, clockOffsetCount); err != nil && c.logger != nil {
			c.logger.Error("failed to finalize stream footer", "stream_id", id, "error", err)
		}
	}

	closeErr := writer.Close()
	if closeErr != nil && c.logger != nil {
		c.logger.Error("failed to close writer", "error", closeErr)
	}
	_ = file.Close()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.writer = nil
	c.writerFile = nil
	c.sessions = nil
	c.sessionCtx = nil
	c.sessionStop = nil
	c.group = nil
	c.state = StateIdle
	if closeErr != nil {
		c.health.UpdateUnhealthy(writerHealthComponent, health.Sanitize(closeErr))
	} else {
		c.health.UpdateHealthy(writerHealthComponent, "writer closed")
	}
	if c.metrics != nil {
		c.metrics.RecordControllerState(int(StateIdle))
	}
	return nil
}

// nanIfZero reports NaN for a timestamp that was never set because the
// stream never received a sample, matching the "NaN until first sample"
// convention the acquisition worker's counters use.
func nanIfZero(ts float64, sampleCount uint64) float64 {
	if sampleCount == 0 {
		return math.NaN()
	}
	return ts
}

// StatusReport returns the current session status. Pure: never mutates
// state, callable in any state.
func (c *Controller) StatusReport() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		State:         c.state.String(),
		Filename:      c.filename,
		SelectedCount: len(c.selected),
		Health:        c.health.AggregateHealth("labrecorder"),
	}

	for _, sess := range c.sessions {
		entry := PerStreamStatus{UID: sess.desc.UID, Name: sess.desc.Name}
		if sess.worker != nil {
			entry.SampleCount = sess.worker.SamplesWritten()
		}
		if c.writer != nil {
			if _, lastTS, sampleCount, _, ok := c.writer.StreamStats(sess.streamID); ok {
				entry.SampleCount = sampleCount
				entry.LastTimestamp = lastTS
			}
		}
		st.PerStream = append(st.PerStream, entry)
	}

	sort.Slice(st.PerStream, func(i, j int) bool { return st.PerStream[i].UID < st.PerStream[j].UID })
	return st
}
