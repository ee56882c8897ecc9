package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/aamit98/netblast/pkg/client"
)

func TestRunCollectorAggregates(t *testing.T) {
	c := NewRunCollector("")

	c.Observe(client.TransferRecord{
		ID: "tcp-1", Kind: client.KindTCP,
		Delivered: 5000, Total: 5000,
		Elapsed: time.Second, Throughput: 5000,
	})
	c.Observe(client.TransferRecord{
		ID: "udp-1", Kind: client.KindUDP,
		Delivered: 6, Total: 10, Lost: 4,
		Jitter:  1500 * time.Millisecond,
		Elapsed: time.Second, Throughput: 6144,
	})
	c.Observe(client.TransferRecord{
		ID: "tcp-2", Kind: client.KindTCP,
		Delivered: 100, Total: 5000,
		Err: errors.New("connection refused"),
	})

	snap := c.Snapshot()
	if snap.Transfers != 3 {
		t.Fatalf("transfers: got %d want 3", snap.Transfers)
	}
	if snap.TransfersFailed != 1 {
		t.Fatalf("failed: got %d want 1", snap.TransfersFailed)
	}
	if snap.TCPBytesReceived != 5100 {
		t.Fatalf("tcp bytes: got %d want 5100", snap.TCPBytesReceived)
	}
	if snap.UDPSegments != 6 || snap.UDPSegmentsLost != 4 {
		t.Fatalf("udp segments: got %d lost %d", snap.UDPSegments, snap.UDPSegmentsLost)
	}
	if snap.LossRatio != 0.4 {
		t.Fatalf("loss ratio: got %v want 0.4", snap.LossRatio)
	}
	if snap.MeanJitter != 1500*time.Millisecond {
		t.Fatalf("mean jitter: got %v want 1.5s", snap.MeanJitter)
	}
	// The failed transfer must not drag the aggregate throughput down.
	if got := snap.MeanThroughputBps; got != (5000+6144)/2.0 {
		t.Fatalf("mean throughput: got %v", got)
	}
}

func TestRunCollectorRegistryGathers(t *testing.T) {
	c := NewRunCollector("netblast_test")
	c.Observe(client.TransferRecord{
		ID: "udp-1", Kind: client.KindUDP,
		Delivered: 10, Total: 10,
		Elapsed: time.Second, Throughput: 10240,
	})

	families, err := c.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) == 0 {
		t.Fatal("expected registered metric families")
	}
}
