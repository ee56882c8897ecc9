// Package server implements the speed-test server: the offer beacon, the TCP
// and UDP accept loops, and the per-peer transfer handlers. Each inbound
// connection or request is serviced by its own goroutine so one slow or
// broken peer never blocks another.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/aamit98/netblast/internal"
	"github.com/aamit98/netblast/pkg/discovery"
	"github.com/aamit98/netblast/pkg/wire"
)

// Server owns the two service sockets and the discovery beacon.
type Server struct {
	cfg *internal.ServerConfig
}

func New(cfg *internal.ServerConfig) *Server {
	return &Server{cfg: cfg}
}

// Run binds both service roles, starts the beacon advertising the actually
// bound ports, and serves until ctx is cancelled. A bind failure is fatal
// only to its own role: the server keeps running as long as at least one
// role is up, and the dead role is advertised as port 0.
func (s *Server) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	tcpLn, tcpErr := listenTCP(ctx, s.cfg.TCPPort)
	if tcpErr != nil {
		internal.Error("tcp listener bind failed", internal.Fields{
			internal.FieldPort:  s.cfg.TCPPort,
			internal.FieldError: tcpErr.Error(),
		})
	}
	udpPC, udpErr := listenUDP(ctx, s.cfg)
	if udpErr != nil {
		internal.Error("udp listener bind failed", internal.Fields{
			internal.FieldPort:  s.cfg.UDPPort,
			internal.FieldError: udpErr.Error(),
		})
	}
	if tcpErr != nil && udpErr != nil {
		return fmt.Errorf("server: both roles failed to bind: tcp: %w", tcpErr)
	}

	offer := wire.Offer{}
	if tcpLn != nil {
		offer.TCPPort = uint16(tcpLn.Addr().(*net.TCPAddr).Port)
		defer tcpLn.Close()
	}
	if udpPC != nil {
		offer.UDPPort = uint16(udpPC.LocalAddr().(*net.UDPAddr).Port)
		defer udpPC.Close()
	}

	internal.Info("server started", internal.Fields{
		internal.FieldKey("tcp"):       offer.TCPPort,
		internal.FieldKey("udp"):       offer.UDPPort,
		internal.FieldKey("server_id"): s.cfg.ServerID,
	})

	beacon := discovery.NewBeacon(
		offer,
		s.cfg.BroadcastAddr,
		s.cfg.DiscoveryPort,
		time.Duration(s.cfg.OfferIntervalMs)*time.Millisecond,
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := beacon.Run(ctx); err != nil {
			internal.Error("offer beacon failed", internal.Fields{
				internal.FieldError: err.Error(),
			})
		}
	}()

	if tcpLn != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.acceptTCP(ctx, tcpLn)
		}()
	}
	if udpPC != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.serveUDP(ctx, udpPC)
		}()
	}

	<-ctx.Done()
	if tcpLn != nil {
		_ = tcpLn.Close()
	}
	if udpPC != nil {
		_ = udpPC.Close()
	}
	wg.Wait()
	internal.Info("server stopped", nil)
	return nil
}

func listenTCP(ctx context.Context, port int) (*net.TCPListener, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp4", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, err
	}
	return ln.(*net.TCPListener), nil
}

func listenUDP(ctx context.Context, cfg *internal.ServerConfig) (*net.UDPConn, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			})
		},
	}
	pc, err := lc.ListenPacket(ctx, "udp4", fmt.Sprintf(":%d", cfg.UDPPort))
	if err != nil {
		return nil, err
	}
	uc := pc.(*net.UDPConn)
	// Many concurrent handlers push segments through this one socket.
	_ = uc.SetReadBuffer(cfg.UDPReadBufferSize)
	_ = uc.SetWriteBuffer(cfg.UDPWriteBufferSize)
	return uc, nil
}

// acceptTCP polls with a bounded deadline so shutdown is observed within one
// accept interval. Handler failures stay inside their goroutine.
func (s *Server) acceptTCP(ctx context.Context, ln *net.TCPListener) {
	timeout := time.Duration(s.cfg.AcceptTimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = time.Second
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_ = ln.SetDeadline(time.Now().Add(timeout))

		conn, err := ln.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			internal.Warn("tcp accept failed", internal.Fields{
				internal.FieldError: err.Error(),
			})
			continue
		}
		go s.handleTCPConn(ctx, conn)
	}
}

// serveUDP reads request datagrams with a bounded deadline and hands each one
// to an independent handler goroutine. The socket stays shared: handlers only
// send through it, each to a distinct peer address.
func (s *Server) serveUDP(ctx context.Context, pc *net.UDPConn) {
	timeout := time.Duration(s.cfg.AcceptTimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = time.Second
	}
	buf := make([]byte, wire.MaxDatagramLen)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_ = pc.SetReadDeadline(time.Now().Add(timeout))

		n, addr, err := pc.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			internal.Warn("udp receive failed", internal.Fields{
				internal.FieldError: err.Error(),
			})
			continue
		}

		datagram := append([]byte(nil), buf[:n]...)
		go s.handleUDPRequest(ctx, pc, datagram, addr)
	}
}
