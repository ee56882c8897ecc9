package client

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// fakeTCPServer accepts connections and streams the requested byte count,
// except for the first failBefore connections which it closes immediately.
func fakeTCPServer(t *testing.T, failBefore int32) net.Addr {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	var accepted int32
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			if atomic.AddInt32(&accepted, 1) <= failBefore {
				conn.Close()
				continue
			}
			go func(c net.Conn) {
				defer c.Close()
				line, err := bufio.NewReader(c).ReadString('\n')
				if err != nil {
					return
				}
				size, err := strconv.ParseUint(strings.TrimSpace(line), 10, 64)
				if err != nil {
					return
				}
				chunk := make([]byte, 1024)
				var sent uint64
				for sent < size {
					n := uint64(len(chunk))
					if size-sent < n {
						n = size - sent
					}
					wrote, err := c.Write(chunk[:n])
					sent += uint64(wrote)
					if err != nil {
						return
					}
				}
			}(conn)
		}
	}()

	return ln.Addr()
}

func TestRunTCPTransferDeliversExactly(t *testing.T) {
	addr := fakeTCPServer(t, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg := TCPConfig{
		ConnectTimeout: time.Second,
		ReadTimeout:    time.Second,
		MaxAttempts:    1,
	}
	rec := RunTCPTransfer(ctx, addr.String(), 5000, "tcp-1", cfg, NopSink{})

	if !rec.Success() {
		t.Fatalf("transfer failed: %v", rec.Err)
	}
	if rec.Delivered != 5000 {
		t.Fatalf("delivered: got %d want 5000", rec.Delivered)
	}
	if rec.Attempts != 1 {
		t.Fatalf("attempts: got %d want 1", rec.Attempts)
	}
	if rec.Throughput <= 0 {
		t.Fatal("throughput should be positive")
	}
}

func TestRunTCPTransferRetriesThenSucceeds(t *testing.T) {
	// The first two connections die prematurely; the third serves in full.
	addr := fakeTCPServer(t, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	backoff := 50 * time.Millisecond
	cfg := TCPConfig{
		ConnectTimeout: time.Second,
		ReadTimeout:    time.Second,
		MaxAttempts:    3,
		Backoff:        backoff,
	}
	start := time.Now()
	rec := RunTCPTransfer(ctx, addr.String(), 2048, "tcp-1", cfg, NopSink{})

	if !rec.Success() {
		t.Fatalf("transfer failed after retries: %v", rec.Err)
	}
	if rec.Attempts != 3 {
		t.Fatalf("attempts: got %d want 3", rec.Attempts)
	}
	// Two failed attempts mean exactly two backoff waits before success.
	if waited := time.Since(start); waited < 2*backoff {
		t.Fatalf("expected at least two backoff waits (%v), finished in %v", 2*backoff, waited)
	}
}

func TestRunTCPTransferPrematureClose(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	// Serve only half of what each connection asks for.
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				line, err := bufio.NewReader(c).ReadString('\n')
				if err != nil {
					return
				}
				size, _ := strconv.ParseUint(strings.TrimSpace(line), 10, 64)
				_, _ = c.Write(make([]byte, size/2))
			}(conn)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg := TCPConfig{
		ConnectTimeout: time.Second,
		ReadTimeout:    time.Second,
		MaxAttempts:    2,
		Backoff:        10 * time.Millisecond,
	}
	rec := RunTCPTransfer(ctx, ln.Addr().String(), 4096, "tcp-1", cfg, NopSink{})

	if rec.Success() {
		t.Fatal("expected failure when the stream ends early")
	}
	if !errors.Is(rec.Err, ErrPrematureClose) {
		t.Fatalf("error: got %v want ErrPrematureClose", rec.Err)
	}
	if rec.Attempts != 2 {
		t.Fatalf("attempts: got %d want 2", rec.Attempts)
	}
}
