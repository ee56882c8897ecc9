// Package discovery implements the unauthenticated offer broadcast that lets
// clients find a netblast server without knowing its address: the server
// beacons an Offer once a second and clients listen on the well-known
// discovery port for the first valid one.
package discovery

import (
	"context"
	"fmt"
	"net"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/aamit98/netblast/internal"
	"github.com/aamit98/netblast/pkg/wire"
)

// Beacon periodically broadcasts an Offer advertising the server's service
// ports. Send failures are logged and retried on the next tick, never fatal.
type Beacon struct {
	offer         wire.Offer
	broadcastAddr string
	discoveryPort int
	interval      time.Duration
}

func NewBeacon(offer wire.Offer, broadcastAddr string, discoveryPort int, interval time.Duration) *Beacon {
	if interval <= 0 {
		interval = time.Second
	}
	return &Beacon{
		offer:         offer,
		broadcastAddr: broadcastAddr,
		discoveryPort: discoveryPort,
		interval:      interval,
	}
}

// Run broadcasts offers until ctx is cancelled.
func (b *Beacon) Run(ctx context.Context) error {
	ip := net.ParseIP(b.broadcastAddr)
	if ip == nil {
		return fmt.Errorf("discovery: invalid broadcast address %q", b.broadcastAddr)
	}

	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
			})
		},
	}
	pc, err := lc.ListenPacket(ctx, "udp4", ":0")
	if err != nil {
		return fmt.Errorf("discovery: open beacon socket: %w", err)
	}
	defer pc.Close()

	dst := &net.UDPAddr{IP: ip, Port: b.discoveryPort}
	msg := wire.EncodeOffer(b.offer)

	internal.Info("offer beacon started", internal.Fields{
		internal.FieldPort:           b.discoveryPort,
		internal.FieldKey("udp"):     b.offer.UDPPort,
		internal.FieldKey("tcp"):     b.offer.TCPPort,
		internal.FieldKey("address"): b.broadcastAddr,
	})

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			internal.Info("offer beacon stopped", nil)
			return nil
		case <-ticker.C:
			if _, err := pc.WriteTo(msg, dst); err != nil {
				internal.Warn("offer broadcast failed", internal.Fields{
					internal.FieldError: err.Error(),
				})
			}
		}
	}
}
