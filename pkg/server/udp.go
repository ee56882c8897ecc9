package server

import (
	"context"
	"net"
	"time"

	"github.com/aamit98/netblast/internal"
	"github.com/aamit98/netblast/pkg/wire"
)

// handleUDPRequest decodes one request datagram and emits fileSize/1024
// numbered payload segments to the sender. Invalid datagrams are dropped
// silently: the port is unauthenticated and shared with noise. Per-segment
// send failures are logged and skipped, best effort.
func (s *Server) handleUDPRequest(ctx context.Context, pc *net.UDPConn, datagram []byte, peer *net.UDPAddr) {
	req, err := wire.DecodeRequest(datagram)
	if err != nil {
		internal.Debug("discarding non-request datagram", internal.Fields{
			internal.FieldPeer:  peer.String(),
			internal.FieldError: err.Error(),
		})
		return
	}

	totalSegments := req.FileSize / wire.SegmentSize
	internal.Info("udp transfer requested", internal.Fields{
		internal.FieldPeer:          peer.String(),
		internal.FieldBytes:         req.FileSize,
		internal.FieldSegments:      totalSegments,
		internal.FieldKey("stream"): req.StreamID,
	})

	data := make([]byte, wire.SegmentSize)
	for i := range data {
		data[i] = 'A'
	}

	pacingEvery := s.cfg.PacingEverySegs
	if pacingEvery <= 0 {
		pacingEvery = 50
	}
	pacingDelay := time.Duration(s.cfg.PacingDelayUs) * time.Microsecond
	if pacingDelay <= 0 {
		pacingDelay = 500 * time.Microsecond
	}

	var emitted uint64
	for seq := uint64(0); seq < totalSegments; seq++ {
		if ctx.Err() != nil {
			break
		}
		msg := wire.EncodePayload(wire.Payload{
			TotalSegments: totalSegments,
			Sequence:      seq,
			Data:          data,
		})
		if _, err := pc.WriteToUDP(msg, peer); err != nil {
			internal.Warn("udp segment send failed", internal.Fields{
				internal.FieldPeer:     peer.String(),
				internal.FieldSegments: seq,
				internal.FieldError:    err.Error(),
			})
			continue
		}
		emitted++

		// Best-effort flow control, not a windowed protocol: pause briefly so
		// the send buffer is not overrun.
		if (seq+1)%uint64(pacingEvery) == 0 {
			time.Sleep(pacingDelay)
		}
	}

	internal.Info("udp transfer finished", internal.Fields{
		internal.FieldPeer:            peer.String(),
		internal.FieldSegments:        emitted,
		internal.FieldKey("declared"): totalSegments,
	})
}
