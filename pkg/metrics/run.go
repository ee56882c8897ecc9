package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aamit98/netblast/pkg/client"
	"github.com/aamit98/netblast/pkg/wire"
)

const (
	defaultNamespace = "netblast"
	subsystemRun     = "speedtest"
)

// RunCollector aggregates terminal transfer records of one speed-test run and
// exposes them through a Prometheus registry.
type RunCollector struct {
	mu        sync.RWMutex
	namespace string
	registry  *prometheus.Registry

	startTime       time.Time
	tcpBytes        uint64
	udpSegments     uint64
	udpLost         uint64
	transfers       uint64
	failed          uint64
	jitterSum       time.Duration
	jitterSamples   uint64
	throughputSum   float64
	throughputCount uint64
}

// RunSnapshot is a point-in-time view of the aggregated run statistics.
type RunSnapshot struct {
	Elapsed           time.Duration
	TCPBytesReceived  uint64
	UDPSegments       uint64
	UDPSegmentsLost   uint64
	Transfers         uint64
	TransfersFailed   uint64
	MeanJitter        time.Duration
	MeanThroughputBps float64
	LossRatio         float64
}

func NewRunCollector(namespace string) *RunCollector {
	if namespace == "" {
		namespace = defaultNamespace
	}
	c := &RunCollector{
		namespace: namespace,
		registry:  prometheus.NewRegistry(),
	}
	c.registerMetrics()
	return c
}

// Registry returns the prometheus registry managed by this collector.
func (c *RunCollector) Registry() *prometheus.Registry {
	return c.registry
}

// Observe folds one terminal transfer record into the run statistics.
func (c *RunCollector) Observe(rec client.TransferRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.startTime.IsZero() {
		c.startTime = time.Now()
	}
	c.transfers++
	if !rec.Success() {
		c.failed++
	}

	switch rec.Kind {
	case client.KindTCP:
		c.tcpBytes += rec.Delivered
	case client.KindUDP:
		c.udpSegments += rec.Delivered
		c.udpLost += rec.Lost
		if rec.Delivered > 1 {
			c.jitterSum += rec.Jitter
			c.jitterSamples++
		}
	}

	// Failed transfers are reported individually, never averaged into the
	// run's aggregate throughput.
	if rec.Success() && rec.Throughput > 0 {
		c.throughputSum += rec.Throughput
		c.throughputCount++
	}
}

// Snapshot returns a read-only copy of the aggregated statistics.
func (c *RunCollector) Snapshot() RunSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.buildSnapshotLocked(time.Now())
}

func (c *RunCollector) buildSnapshotLocked(now time.Time) RunSnapshot {
	var elapsed time.Duration
	if !c.startTime.IsZero() {
		elapsed = now.Sub(c.startTime)
	}

	var meanJitter time.Duration
	if c.jitterSamples > 0 {
		meanJitter = c.jitterSum / time.Duration(c.jitterSamples)
	}
	var meanThroughput float64
	if c.throughputCount > 0 {
		meanThroughput = c.throughputSum / float64(c.throughputCount)
	}
	var lossRatio float64
	if expected := c.udpSegments + c.udpLost; expected > 0 {
		lossRatio = float64(c.udpLost) / float64(expected)
	}

	return RunSnapshot{
		Elapsed:           elapsed,
		TCPBytesReceived:  c.tcpBytes,
		UDPSegments:       c.udpSegments,
		UDPSegmentsLost:   c.udpLost,
		Transfers:         c.transfers,
		TransfersFailed:   c.failed,
		MeanJitter:        meanJitter,
		MeanThroughputBps: meanThroughput,
		LossRatio:         lossRatio,
	}
}

func (c *RunCollector) registerMetrics() {
	makeGauge := func(name, help string, valueFn func(RunSnapshot) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: c.namespace,
			Subsystem: subsystemRun,
			Name:      name,
			Help:      help,
		}, func() float64 {
			c.mu.RLock()
			defer c.mu.RUnlock()
			return valueFn(c.buildSnapshotLocked(time.Now()))
		})
	}
	makeCounter := func(name, help string, valueFn func() float64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: c.namespace,
			Subsystem: subsystemRun,
			Name:      name,
			Help:      help,
		}, valueFn)
	}

	c.registry.MustRegister(makeGauge(
		"mean_throughput_bytes_per_second",
		"Mean per-transfer throughput across successful transfers.",
		func(s RunSnapshot) float64 { return s.MeanThroughputBps },
	))
	c.registry.MustRegister(makeGauge(
		"mean_jitter_seconds",
		"Mean inter-arrival jitter across UDP transfers.",
		func(s RunSnapshot) float64 { return s.MeanJitter.Seconds() },
	))
	c.registry.MustRegister(makeGauge(
		"udp_loss_ratio",
		"Ratio of lost UDP segments to expected segments.",
		func(s RunSnapshot) float64 { return s.LossRatio },
	))

	c.registry.MustRegister(makeCounter(
		"tcp_bytes_received_total",
		"Bytes delivered over TCP transfers.",
		func() float64 {
			c.mu.RLock()
			defer c.mu.RUnlock()
			return float64(c.tcpBytes)
		},
	))
	c.registry.MustRegister(makeCounter(
		"udp_bytes_received_total",
		"Bytes delivered over UDP transfers.",
		func() float64 {
			c.mu.RLock()
			defer c.mu.RUnlock()
			return float64(c.udpSegments * wire.SegmentSize)
		},
	))
	c.registry.MustRegister(makeCounter(
		"udp_segments_lost_total",
		"UDP segments that never arrived.",
		func() float64 {
			c.mu.RLock()
			defer c.mu.RUnlock()
			return float64(c.udpLost)
		},
	))
	c.registry.MustRegister(makeCounter(
		"transfers_total",
		"Transfers that reached a terminal state.",
		func() float64 {
			c.mu.RLock()
			defer c.mu.RUnlock()
			return float64(c.transfers)
		},
	))
	c.registry.MustRegister(makeCounter(
		"transfers_failed_total",
		"Transfers whose retry budget was exhausted.",
		func() float64 {
			c.mu.RLock()
			defer c.mu.RUnlock()
			return float64(c.failed)
		},
	))
}
