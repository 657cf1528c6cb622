// Package metric wraps a Prometheus registry with the recording
// pipeline's fixed metric set: chunks/bytes/samples written, clock
// offsets, worker reconnects, and discovery/boundary counters. Exposed
// optionally over HTTP by cmd/labrecorder when --metrics-port is
// non-zero.
package metric
