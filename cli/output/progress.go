package output

import (
	"fmt"
	"sync"

	"github.com/pterm/pterm"

	"github.com/aamit98/netblast/pkg/client"
	"github.com/aamit98/netblast/pkg/metrics"
)

// TransferDisplay renders concurrent per-transfer progress bars in a single
// pterm multi printer area and folds terminal records into the run collector.
// It implements client.ProgressSink.
type TransferDisplay struct {
	collector *metrics.RunCollector

	mu      sync.Mutex
	multi   *pterm.MultiPrinter
	bars    map[string]*pterm.ProgressbarPrinter
	started bool
}

func NewTransferDisplay(collector *metrics.RunCollector) *TransferDisplay {
	mp := pterm.DefaultMultiPrinter
	return &TransferDisplay{
		collector: collector,
		multi:     &mp,
		bars:      make(map[string]*pterm.ProgressbarPrinter),
	}
}

// Start activates the shared area for all progress bars.
func (d *TransferDisplay) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return nil
	}
	if _, err := d.multi.Start(); err != nil {
		return err
	}
	d.started = true
	return nil
}

// Stop tears down the multi printer area.
func (d *TransferDisplay) Stop() {
	d.mu.Lock()
	multi := d.multi
	started := d.started
	d.started = false
	d.mu.Unlock()

	if started && multi != nil {
		_, _ = multi.Stop()
	}
}

// Progress updates (or lazily creates) the bar for one transfer.
func (d *TransferDisplay) Progress(id string, delivered, total uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.started {
		return
	}

	bar, ok := d.bars[id]
	if !ok {
		started, err := pterm.DefaultProgressbar.
			WithTotal(int(total)).
			WithTitle(id).
			WithWriter(d.multi.NewWriter()).
			Start()
		if err != nil {
			return
		}
		bar = started
		d.bars[id] = bar
	}

	if delta := int(delivered) - bar.Current; delta > 0 {
		bar.Add(delta)
	}
}

// Complete finishes the transfer's bar and records the outcome.
func (d *TransferDisplay) Complete(rec client.TransferRecord) {
	if d.collector != nil {
		d.collector.Observe(rec)
	}

	d.mu.Lock()
	bar, ok := d.bars[rec.ID]
	d.mu.Unlock()
	if ok {
		if rec.Success() {
			if delta := int(rec.Total) - bar.Current; delta > 0 {
				bar.Add(delta)
			}
		}
		_, _ = bar.Stop()
	}
}

// PrintResults renders every transfer's terminal outcome and the run summary.
func PrintResults(records []client.TransferRecord, summary metrics.RunSnapshot) {
	p := NewPrinter()

	for _, rec := range records {
		fields := map[string]any{
			"elapsed":    fmt.Sprintf("%.2fs", rec.Elapsed.Seconds()),
			"throughput": fmt.Sprintf("%.2f B/s", rec.Throughput),
			"attempts":   rec.Attempts,
		}
		switch rec.Kind {
		case client.KindTCP:
			fields["bytes"] = fmt.Sprintf("%d/%d", rec.Delivered, rec.Total)
		case client.KindUDP:
			fields["segments"] = fmt.Sprintf("%d/%d", rec.Delivered, rec.Total)
			fields["lost"] = rec.Lost
			fields["jitter"] = fmt.Sprintf("%.4fs", rec.Jitter.Seconds())
		}

		if rec.Success() {
			p.Success(rec.ID, fields)
		} else {
			fields["error"] = rec.Err
			p.Error(rec.ID, fields)
		}
	}

	p.Info("run summary", map[string]any{
		"transfers":       summary.Transfers,
		"failed":          summary.TransfersFailed,
		"mean_throughput": fmt.Sprintf("%.2f B/s", summary.MeanThroughputBps),
		"mean_jitter":     fmt.Sprintf("%.4fs", summary.MeanJitter.Seconds()),
		"udp_loss_ratio":  fmt.Sprintf("%.2f%%", summary.LossRatio*100),
	})
}
