package client

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/aamit98/netblast/internal"
)

// TCPConfig bounds a TCP transfer attempt. Zero values fall back to the
// protocol defaults.
type TCPConfig struct {
	ConnectTimeout time.Duration // dial deadline, default 10s
	ReadTimeout    time.Duration // per-read deadline, default 10s
	MaxAttempts    int           // attempt budget, default 3
	Backoff        time.Duration // wait between attempts, default 1s
}

func (c TCPConfig) withDefaults() TCPConfig {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.Backoff <= 0 {
		c.Backoff = time.Second
	}
	return c
}

const tcpReadChunk = 8192

// RunTCPTransfer requests size bytes from addr over a fresh TCP connection
// and reads until satisfied. Each failed attempt is retried on a new
// connection after the backoff wait, up to the attempt budget; the transfer's
// terminal record is also delivered to sink.Complete.
func RunTCPTransfer(ctx context.Context, addr string, size uint64, id string, cfg TCPConfig, sink ProgressSink) TransferRecord {
	cfg = cfg.withDefaults()
	rec := TransferRecord{
		ID:             id,
		Kind:           KindTCP,
		RequestedBytes: size,
		Total:          size,
		Start:          time.Now(),
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		rec.Attempts = attempt
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}

		delivered, elapsed, err := tcpAttempt(ctx, addr, size, id, cfg, sink)
		rec.Delivered = delivered
		if err == nil {
			rec.Elapsed = elapsed
			if elapsed > 0 {
				rec.Throughput = float64(delivered) / elapsed.Seconds()
			}
			sink.Complete(rec)
			return rec
		}

		lastErr = err
		internal.Warn("tcp transfer attempt failed", internal.Fields{
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

func tcpAttempt(ctx context.Context, addr string, size uint64, id string, cfg TCPConfig, sink ProgressSink) (uint64, time.Duration, error) {
	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
	start := time.Now()

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return 0, 0, fmt.Errorf("connect %s: %w", addr, err)
	}
	defer conn.Close()

	if _, err := fmt.Fprintf(conn, "%d\n", size); err != nil {
		return 0, 0, fmt.Errorf("send size request: %w", err)
	}

	var delivered uint64
	buf := make([]byte, tcpReadChunk)
	for delivered < size {
		if ctx.Err() != nil {
			return delivered, 0, ctx.Err()
		}
		_ = conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))

		n, err := conn.Read(buf)
		if n > 0 {
			delivered += uint64(n)
			if delivered > size {
				delivered = size
			}
			sink.Progress(id, delivered, size)
		}
		if err != nil {
			if err == io.EOF && delivered < size {
				return delivered, 0, ErrPrematureClose
			}
			if err == io.EOF {
				break
			}
			return delivered, 0, fmt.Errorf("read stream: %w", err)
		}
	}

	return delivered, time.Since(start), nil
}

// sleepCtx waits d or until ctx is done; it reports false when cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
