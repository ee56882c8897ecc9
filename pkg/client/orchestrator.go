package client

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aamit98/netblast/internal"
	"github.com/aamit98/netblast/pkg/discovery"
)

// Params are supplied by the operator before a run starts.
type Params struct {
	FileSizeBytes uint64
	TCPCount      int
	UDPCount      int
}

func (p Params) Validate() error {
	if p.FileSizeBytes == 0 {
		return fmt.Errorf("file size must be positive")
	}
	if p.TCPCount < 0 || p.UDPCount < 0 {
		return fmt.Errorf("connection counts must be non-negative")
	}
	return nil
}

// Orchestrator fans out the requested number of concurrent TCP and UDP
// transfers against a discovered server and blocks until every one of them
// reaches a terminal state. Transfers never abort their siblings: each runs
// to its own conclusion.
type Orchestrator struct {
	TCP     TCPConfig
	UDP     UDPConfig
	Stagger time.Duration // delay between launches, default 100ms
	Sink    ProgressSink

	mu       sync.Mutex
	progress map[string]ProgressEntry
}

type ProgressEntry struct {
	Delivered uint64
	Total     uint64
}

func NewOrchestrator(tcp TCPConfig, udp UDPConfig, stagger time.Duration, sink ProgressSink) *Orchestrator {
	if stagger <= 0 {
		stagger = 100 * time.Millisecond
	}
	if sink == nil {
		sink = NopSink{}
	}
	return &Orchestrator{
		TCP:      tcp,
		UDP:      udp,
		Stagger:  stagger,
		Sink:     sink,
		progress: make(map[string]ProgressEntry),
	}
}

// Progress implements ProgressSink: it maintains the shared progress map and
// forwards the snapshot. The map is the only state mutated across transfer
// goroutines and every access holds the mutex.
func (o *Orchestrator) Progress(id string, delivered, total uint64) {
	o.mu.Lock()
	o.progress[id] = ProgressEntry{Delivered: delivered, Total: total}
	o.mu.Unlock()
	o.Sink.Progress(id, delivered, total)
}

// Complete forwards a terminal record to the configured sink.
func (o *Orchestrator) Complete(rec TransferRecord) {
	o.Progress(rec.ID, rec.Delivered, rec.Total)
	o.Sink.Complete(rec)
}

// Snapshot returns a copy of the current progress map for display paths.
func (o *Orchestrator) Snapshot() map[string]ProgressEntry {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]ProgressEntry, len(o.progress))
	for k, v := range o.progress {
		out[k] = v
	}
	return out
}

// Run launches params.TCPCount TCP and params.UDPCount UDP transfers with a
// staggered start and waits for all of them. Records are returned sorted by
// transfer ID; failures are terminal outcomes inside their record, never an
// error of the run itself.
func (o *Orchestrator) Run(ctx context.Context, endpoint discovery.ServerEndpoint, params Params) ([]TransferRecord, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	internal.Info("starting speed test", internal.Fields{
		internal.FieldPeer:             endpoint.IP.String(),
		internal.FieldBytes:            params.FileSizeBytes,
		internal.FieldKey("tcp_count"): params.TCPCount,
		internal.FieldKey("udp_count"): params.UDPCount,
	})

	total := params.TCPCount + params.UDPCount
	records := make([]TransferRecord, 0, total)
	var recMu sync.Mutex
	var wg sync.WaitGroup

	launch := func(run func() TransferRecord) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := run()
			recMu.Lock()
			records = append(records, rec)
			recMu.Unlock()
		}()
		// Staggered start avoids a thundering-herd burst at the server.
		sleepCtx(ctx, o.Stagger)
	}

	for i := 0; i < params.TCPCount; i++ {
		id := fmt.Sprintf("tcp-%d", i+1)
		addr := endpoint.TCPAddr()
		launch(func() TransferRecord {
			return RunTCPTransfer(ctx, addr, params.FileSizeBytes, id, o.TCP, o)
		})
	}
	for i := 0; i < params.UDPCount; i++ {
		id := fmt.Sprintf("udp-%d", i+1)
		addr := endpoint.UDPAddr()
		streamID := uint64(i + 1)
		launch(func() TransferRecord {
			return RunUDPTransfer(ctx, addr, params.FileSizeBytes, streamID, id, o.UDP, o)
		})
	}

	wg.Wait()

	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	internal.Info("all transfers completed", internal.Fields{
		internal.FieldKey("count"): len(records),
	})
	return records, nil
}
