package client

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/aamit98/netblast/pkg/wire"
)

func TestSegmentTrackerDedup(t *testing.T) {
	tr := newSegmentTracker()
	now := time.Now()

	if !tr.record(3, now) {
		t.Fatal("first sequence should count")
	}
	if tr.record(3, now.Add(time.Millisecond)) {
		t.Fatal("duplicate sequence must not count again")
	}
	if got := tr.received(); got != 1 {
		t.Fatalf("received count: got %d want 1", got)
	}
	if got := len(tr.arrivals); got != 1 {
		t.Fatalf("arrival count: got %d want 1", got)
	}
}

func TestSegmentTrackerJitter(t *testing.T) {
	tr := newSegmentTracker()
	t0 := time.Now()

	// Arrivals at t0, t0+1s, t0+3s: consecutive deltas 1s and 2s, mean 1.5s.
	tr.record(0, t0)
	tr.record(1, t0.Add(1*time.Second))
	tr.record(2, t0.Add(3*time.Second))

	if got := tr.jitter(); got != 1500*time.Millisecond {
		t.Fatalf("jitter: got %v want 1.5s", got)
	}
}

func TestSegmentTrackerJitterUniformSpacing(t *testing.T) {
	tr := newSegmentTracker()
	t0 := time.Now()

	// Evenly spaced arrivals: jitter equals the spacing itself.
	tr.record(0, t0)
	tr.record(1, t0.Add(1*time.Second))
	tr.record(2, t0.Add(2*time.Second))

	if got := tr.jitter(); got != time.Second {
		t.Fatalf("jitter: got %v want 1s", got)
	}
}

func TestSegmentTrackerJitterTooFewArrivals(t *testing.T) {
	tr := newSegmentTracker()
	if got := tr.jitter(); got != 0 {
		t.Fatalf("jitter with no arrivals: got %v want 0", got)
	}
	tr.record(0, time.Now())
	if got := tr.jitter(); got != 0 {
		t.Fatalf("jitter with one arrival: got %v want 0", got)
	}
}

func TestSegmentTrackerLoss(t *testing.T) {
	tr := newSegmentTracker()
	now := time.Now()
	for _, seq := range []uint64{0, 1, 2, 4, 5, 7} {
		tr.record(seq, now)
	}

	// requestedSize 10240 declares 10 expected segments.
	if got := tr.received(); got != 6 {
		t.Fatalf("received: got %d want 6", got)
	}
	if got := tr.lost(10240); got != 4 {
		t.Fatalf("lost: got %d want 4", got)
	}
}

func TestSegmentTrackerLossNeverNegative(t *testing.T) {
	tr := newSegmentTracker()
	now := time.Now()
	for seq := uint64(0); seq < 3; seq++ {
		tr.record(seq, now)
	}
	if got := tr.lost(2048); got != 0 {
		t.Fatalf("lost with surplus arrivals: got %d want 0", got)
	}
}

// fakeUDPServer answers the first request datagram with the given sequences,
// all declaring total segments, then goes silent.
func fakeUDPServer(t *testing.T, total uint64, sequences []uint64) *net.UDPAddr {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen fake server: %v", err)
	}
	t.Cleanup(func() { pc.Close() })

	go func() {
		buf := make([]byte, wire.MaxDatagramLen)
		n, addr, err := pc.ReadFrom(buf)
		if err != nil {
			return
		}
		if _, err := wire.DecodeRequest(buf[:n]); err != nil {
			return
		}
		data := make([]byte, wire.SegmentSize)
		for _, seq := range sequences {
			msg := wire.EncodePayload(wire.Payload{
				TotalSegments: total,
				Sequence:      seq,
				Data:          data,
			})
			_, _ = pc.WriteTo(msg, addr)
		}
	}()

	return pc.LocalAddr().(*net.UDPAddr)
}

func TestRunUDPTransferComplete(t *testing.T) {
	addr := fakeUDPServer(t, 4, []uint64{0, 1, 2, 3})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg := UDPConfig{
		ReceiveTimeout:  200 * time.Millisecond,
		MaxQuietPeriods: 2,
		MaxAttempts:     1,
		Backoff:         10 * time.Millisecond,
	}
	rec := RunUDPTransfer(ctx, addr.String(), 4*wire.SegmentSize, 1, "udp-1", cfg, NopSink{})

	if !rec.Success() {
		t.Fatalf("transfer failed: %v", rec.Err)
	}
	if rec.Delivered != 4 {
		t.Fatalf("delivered segments: got %d want 4", rec.Delivered)
	}
	if rec.Lost != 0 {
		t.Fatalf("lost segments: got %d want 0", rec.Lost)
	}
	if rec.Throughput <= 0 {
		t.Fatal("throughput should be positive")
	}
}

func TestRunUDPTransferLossAndDuplicates(t *testing.T) {
	// 10 declared segments; only 6 unique arrive and one of them twice.
	addr := fakeUDPServer(t, 10, []uint64{0, 1, 1, 2, 4, 5, 7})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg := UDPConfig{
		ReceiveTimeout:  100 * time.Millisecond,
		MaxQuietPeriods: 2,
		MaxAttempts:     1,
	}
	rec := RunUDPTransfer(ctx, addr.String(), 10240, 2, "udp-2", cfg, NopSink{})

	if !rec.Success() {
		t.Fatalf("quiet-period end must not be a failure: %v", rec.Err)
	}
	if rec.Delivered != 6 {
		t.Fatalf("delivered segments: got %d want 6", rec.Delivered)
	}
	if rec.Lost != 4 {
		t.Fatalf("lost segments: got %d want 4", rec.Lost)
	}
}

func TestRunUDPTransferIgnoresNoise(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen fake server: %v", err)
	}
	defer pc.Close()

	go func() {
		buf := make([]byte, wire.MaxDatagramLen)
		n, addr, err := pc.ReadFrom(buf)
		if err != nil {
			return
		}
		if _, err := wire.DecodeRequest(buf[:n]); err != nil {
			return
		}
		// Garbage, an offer, then the real payload: only the last one counts.
		_, _ = pc.WriteTo([]byte{0x01, 0x02}, addr)
		_, _ = pc.WriteTo(wire.EncodeOffer(wire.Offer{UDPPort: 1, TCPPort: 2}), addr)
		_, _ = pc.WriteTo(wire.EncodePayload(wire.Payload{
			TotalSegments: 1,
			Sequence:      0,
			Data:          make([]byte, wire.SegmentSize),
		}), addr)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg := UDPConfig{
		ReceiveTimeout:  100 * time.Millisecond,
		MaxQuietPeriods: 2,
		MaxAttempts:     1,
	}
	rec := RunUDPTransfer(ctx, pc.LocalAddr().String(), wire.SegmentSize, 3, "udp-3", cfg, NopSink{})

	if !rec.Success() {
		t.Fatalf("transfer failed: %v", rec.Err)
	}
	if rec.Delivered != 1 {
		t.Fatalf("delivered segments: got %d want 1", rec.Delivered)
	}
}
