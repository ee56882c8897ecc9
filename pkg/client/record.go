// Package client implements the client half of the speed test: the TCP bulk
// stream engine, the UDP segmented datagram engine with loss and jitter
// measurement, and the orchestrator that fans out many concurrent transfers
// and waits for all of them to reach a terminal state.
package client

import (
	"errors"
	"time"
)

// ErrPrematureClose marks a TCP stream that ended before the requested byte
// count was delivered.
var ErrPrematureClose = errors.New("client: connection closed before transfer completed")

type Kind string

const (
	KindTCP Kind = "tcp"
	KindUDP Kind = "udp"
)

// TransferRecord is the terminal outcome of one transfer attempt chain. It is
// owned by the goroutine driving the transfer and published only by value.
type TransferRecord struct {
	ID             string
	Kind           Kind
	RequestedBytes uint64

	// Delivered counts bytes for TCP and unique segments for UDP; Total is
	// the matching declared target. Delivered never exceeds Total.
	Delivered uint64
	Total     uint64

	Start      time.Time
	Elapsed    time.Duration
	Throughput float64 // bytes per second

	// UDP only.
	Lost   uint64
	Jitter time.Duration

	Attempts int
	Err      error
}

// Success reports whether the transfer reached its terminal state without a
// recorded failure. A TCP transfer additionally requires every requested byte.
func (r TransferRecord) Success() bool {
	if r.Err != nil {
		return false
	}
	if r.Kind == KindTCP {
		return r.Delivered == r.Total
	}
	return true
}

// ProgressSink receives live per-transfer snapshots and terminal records.
// Implementations must be safe for concurrent use: every transfer goroutine
// calls into the same sink.
type ProgressSink interface {
	Progress(id string, delivered, total uint64)
	Complete(rec TransferRecord)
}

// NopSink discards all progress events.
type NopSink struct{}

func (NopSink) Progress(string, uint64, uint64) {}
func (NopSink) Complete(TransferRecord)         {}
