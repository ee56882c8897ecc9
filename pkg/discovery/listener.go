package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/aamit98/netblast/internal"
	"github.com/aamit98/netblast/pkg/wire"
)

// ErrNoOffer is returned when the listener is cancelled before a valid offer
// arrives.
var ErrNoOffer = errors.New("discovery: no offer received")

// ServerEndpoint is the result of a successful discovery: the server's IP and
// the service ports it advertised.
type ServerEndpoint struct {
	IP      net.IP
	UDPPort int
	TCPPort int
}

func (e ServerEndpoint) UDPAddr() string {
	return net.JoinHostPort(e.IP.String(), fmt.Sprintf("%d", e.UDPPort))
}

func (e ServerEndpoint) TCPAddr() string {
	return net.JoinHostPort(e.IP.String(), fmt.Sprintf("%d", e.TCPPort))
}

// ListenForOffer binds the discovery port and blocks until the first valid
// Offer arrives. Datagrams that fail to decode are dropped and listening
// resumes. The read deadline is bounded by attemptTimeout so cancellation is
// observed within one timeout interval; a cancelled listen returns ErrNoOffer.
//
// The socket is bound with SO_REUSEADDR and SO_REUSEPORT: several clients on
// one host share the discovery port.
func ListenForOffer(ctx context.Context, port int, attemptTimeout time.Duration) (ServerEndpoint, error) {
	if attemptTimeout <= 0 {
		attemptTimeout = 3 * time.Second
	}

	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
				_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
			})
		},
	}
	pc, err := lc.ListenPacket(ctx, "udp4", fmt.Sprintf(":%d", port))
	if err != nil {
		return ServerEndpoint{}, fmt.Errorf("discovery: bind port %d: %w", port, err)
	}
	defer pc.Close()

	internal.Info("listening for server offers", internal.Fields{
		internal.FieldPort: port,
	})

	buf := make([]byte, wire.MaxDatagramLen)
	for {
		select {
		case <-ctx.Done():
			return ServerEndpoint{}, ErrNoOffer
		default:
		}

		_ = pc.SetReadDeadline(time.Now().Add(attemptTimeout))
		n, addr, err := pc.ReadFrom(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				internal.Info("no offers received yet, retrying", nil)
				continue
			}
			return ServerEndpoint{}, fmt.Errorf("discovery: receive: %w", err)
		}

		offer, err := wire.DecodeOffer(buf[:n])
		if err != nil {
			// Unauthenticated port: noise is expected, drop it quietly.
			internal.Debug("discarding non-offer datagram", internal.Fields{
				internal.FieldPeer:  addr.String(),
				internal.FieldError: err.Error(),
			})
			continue
		}

		udpAddr, ok := addr.(*net.UDPAddr)
		if !ok {
			continue
		}
		internal.Info("offer received", internal.Fields{
			internal.FieldPeer:       udpAddr.IP.String(),
			internal.FieldKey("udp"): offer.UDPPort,
			internal.FieldKey("tcp"): offer.TCPPort,
		})
		return ServerEndpoint{
			IP:      udpAddr.IP,
			UDPPort: int(offer.UDPPort),
			TCPPort: int(offer.TCPPort),
		}, nil
	}
}
