// Package labrecorder records one or more labeled streaming sources into
// a single timestamped XDF file, and exposes a line-oriented TCP control
// channel for driving the recording session remotely.
//
// # Architecture
//
//	┌────────────────┐     Discover/Open/Pull      ┌───────────────┐
//	│  source.Source  │ ◄─────────────────────────  │  acquisition   │
//	│ (synthetic,     │                              │    .Worker     │
//	│  natsstream)    │ ─────────────────────────►  │ (one per       │
//	└────────────────┘       []xdf.Sample            │  selected      │
//	                                                  │  stream)       │
//	                                                  └───────┬────────┘
//	                                                          │ WriteSamples /
//	                                                          │ WriteClockOffset
//	                                                          ▼
//	                                                  ┌────────────────┐
//	                                                  │   xdf.Writer    │
//	                                                  │ (one .xdf file) │
//	                                                  └────────────────┘
//
// A recorder.Controller owns the session state machine
// (Idle → Discovering → Ready → Recording → Stopping → Closed), the
// active xdf.Writer, and the set of running acquisition.Worker
// goroutines. The control package exposes that controller over a TCP
// socket; cmd/labrecorder wires a concrete source.Source, the
// controller, and the control server together into a runnable binary.
//
// # Packages
//
//   - xdf: the binary chunked file format (magic, chunk framing, sample
//     and clock-offset encoding, stream footers)
//   - source: the Source/Inlet abstraction, plus synthetic and
//     natsstream implementations
//   - acquisition: the per-stream worker that pulls from a source.Inlet
//     and writes into an xdf.Writer, reconnecting under backoff
//   - recorder: the session controller, its config, and filename
//     templating
//   - control: the TCP control protocol and server
//   - errors: the shared error-kind taxonomy used across all of the
//     above
//   - health: component health status and error-message sanitization
//   - metric: Prometheus metrics for the recording pipeline
//   - pkg/buffer: the generic circular buffer used as each inlet's
//     pulled-sample queue
//   - pkg/retry: exponential backoff with jitter, used by every
//     reconnect loop
package labrecorder
