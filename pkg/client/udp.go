package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/aamit98/netblast/internal"
	"github.com/aamit98/netblast/pkg/wire"
)

// UDPConfig bounds a UDP transfer attempt. Zero values fall back to the
// protocol defaults.
type UDPConfig struct {
	ReceiveTimeout  time.Duration // per-receive deadline, default 1s
	MaxQuietPeriods int           // consecutive timeouts meaning end of stream, default 5
	MaxAttempts     int           // attempt budget for hard socket errors, default 3
	Backoff         time.Duration // wait between attempts, default 1s
	ReadBufferSize  int           // SO_RCVBUF hint, default 64 KiB
}

func (c UDPConfig) withDefaults() UDPConfig {
	if c.ReceiveTimeout <= 0 {
		c.ReceiveTimeout = time.Second
	}
	if c.MaxQuietPeriods <= 0 {
		c.MaxQuietPeriods = 5
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.Backoff <= 0 {
		c.Backoff = time.Second
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = 1 << 16
	}
	return c
}

// segmentTracker deduplicates payload sequences and records arrival times in
// receipt order. It is owned by a single transfer goroutine.
type segmentTracker struct {
	seen     map[uint64]struct{}
	arrivals []time.Time
	total    uint64 // declared by the first valid payload, 0 until then
}

func newSegmentTracker() *segmentTracker {
	return &segmentTracker{seen: make(map[uint64]struct{})}
}

// record counts seq once; a duplicate sequence must not be double-counted.
func (t *segmentTracker) record(seq uint64, at time.Time) bool {
	if _, dup := t.seen[seq]; dup {
		return false
	}
	t.seen[seq] = struct{}{}
	t.arrivals = append(t.arrivals, at)
	return true
}

func (t *segmentTracker) received() uint64 { return uint64(len(t.seen)) }

func (t *segmentTracker) complete() bool {
	return t.total > 0 && t.received() >= t.total
}

// jitter is the mean absolute difference between consecutive arrivals in
// receipt order, zero with fewer than two arrivals.
func (t *segmentTracker) jitter() time.Duration {
	if len(t.arrivals) < 2 {
		return 0
	}
	var sum time.Duration
	for i := 1; i < len(t.arrivals); i++ {
		d := t.arrivals[i].Sub(t.arrivals[i-1])
		if d < 0 {
			d = -d
		}
		sum += d
	}
	return sum / time.Duration(len(t.arrivals)-1)
}

// lost computes expected − received for a transfer of size bytes. Expected is
// size/SegmentSize, matching the server's emission count.
func (t *segmentTracker) lost(size uint64) uint64 {
	expected := size / wire.SegmentSize
	if t.received() >= expected {
		return 0
	}
	return expected - t.received()
}

// RunUDPTransfer sends one sized Request to addr and collects numbered
// Payload segments until the declared total arrives or the quiet period
// elapses. Silence is the protocol's only end-of-stream signal, so a run of
// consecutive receive timeouts terminates the transfer as measured, not
// failed. Hard socket errors are retried on a fresh socket up to the attempt
// budget.
func RunUDPTransfer(ctx context.Context, addr string, size uint64, streamID uint64, id string, cfg UDPConfig, sink ProgressSink) TransferRecord {
	cfg = cfg.withDefaults()
	rec := TransferRecord{
		ID:             id,
		Kind:           KindUDP,
		RequestedBytes: size,
		Total:          size / wire.SegmentSize,
		Start:          time.Now(),
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		rec.Attempts = attempt
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}

		tracker, elapsed, err := udpAttempt(ctx, addr, size, streamID, id, cfg, sink)
		if err == nil {
			rec.Delivered = tracker.received()
			rec.Lost = tracker.lost(size)
			rec.Jitter = tracker.jitter()
			rec.Elapsed = elapsed
			if elapsed > 0 {
				rec.Throughput = float64(tracker.received()*wire.SegmentSize) / elapsed.Seconds()
			}
			sink.Complete(rec)
			return rec
		}

		lastErr = err
		internal.Warn("udp transfer attempt failed", internal.Fields{
			internal.FieldTransfer: id,
			internal.FieldAttempt:  attempt,
			internal.FieldError:    err.Error(),
		})
		if attempt < cfg.MaxAttempts {
			if !sleepCtx(ctx, cfg.Backoff) {
				lastErr = ctx.Err()
				break
			}
		}
	}

	rec.Elapsed = time.Since(rec.Start)
	rec.Err = lastErr
	sink.Complete(rec)
	return rec
}

func udpAttempt(ctx context.Context, addr string, size uint64, streamID uint64, id string, cfg UDPConfig, sink ProgressSink) (*segmentTracker, time.Duration, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, 0, fmt.Errorf("resolve %s: %w", addr, err)
	}
	// A connected socket filters datagrams from other sources for free.
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, 0, fmt.Errorf("open udp socket: %w", err)
	}
	defer conn.Close()
	_ = conn.SetReadBuffer(cfg.ReadBufferSize)

	start := time.Now()
	req := wire.EncodeRequest(wire.Request{FileSize: size, StreamID: streamID})
	if _, err := conn.Write(req); err != nil {
		return nil, 0, fmt.Errorf("send request: %w", err)
	}

	tracker := newSegmentTracker()
	expected := size / wire.SegmentSize
	buf := make([]byte, wire.MaxDatagramLen+1)
	quiet := 0
	lastProgress := time.Now()

	for !tracker.complete() {
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		_ = conn.SetReadDeadline(time.Now().Add(cfg.ReceiveTimeout))

		n, err := conn.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				quiet++
				if quiet > cfg.MaxQuietPeriods {
					break // end of stream: the server has gone silent
				}
				continue
			}
			return nil, 0, fmt.Errorf("receive segment: %w", err)
		}

		pkt, err := wire.DecodePayload(buf[:n])
		if err != nil {
			if errors.Is(err, wire.ErrUnexpectedMessage) || errors.Is(err, wire.ErrMalformedMessage) {
				continue // shared port space, drop noise silently
			}
			continue
		}

		if tracker.total == 0 {
			tracker.total = pkt.TotalSegments
		}
		if tracker.record(pkt.Sequence, time.Now()) {
			quiet = 0
		}

		if time.Since(lastProgress) >= 100*time.Millisecond {
			sink.Progress(id, tracker.received(), expected)
			lastProgress = time.Now()
		}
	}

	sink.Progress(id, tracker.received(), expected)
	return tracker, time.Since(start), nil
}
