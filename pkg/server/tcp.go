package server

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/aamit98/netblast/internal"
)

const tcpWriteChunk = 8192

// handleTCPConn reads the newline-terminated decimal size the peer wants and
// streams exactly that many filler bytes back. Anything that is not a valid
// non-negative integer aborts the connection.
func (s *Server) handleTCPConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	peer := conn.RemoteAddr().String()

	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	br := bufio.NewReaderSize(conn, 64)
	line, err := br.ReadString('\n')
	if err != nil {
		internal.Warn("tcp size request not received", internal.Fields{
			internal.FieldPeer:  peer,
			internal.FieldError: err.Error(),
		})
		return
	}

	size, err := strconv.ParseUint(strings.TrimSpace(line), 10, 64)
	if err != nil {
		internal.Warn("tcp size request invalid", internal.Fields{
			internal.FieldPeer:  peer,
			internal.FieldError: err.Error(),
		})
		return
	}

	internal.Info("tcp transfer requested", internal.Fields{
		internal.FieldPeer:  peer,
		internal.FieldBytes: size,
	})

	chunk := make([]byte, tcpWriteChunk)
	for i := range chunk {
		chunk[i] = 'A'
	}

	var sent uint64
	for sent < size {
		if ctx.Err() != nil {
			return
		}
		n := uint64(len(chunk))
		if size-sent < n {
			n = size - sent
		}
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		wrote, err := conn.Write(chunk[:n])
		sent += uint64(wrote)
		if err != nil {
			internal.Warn("tcp stream interrupted", internal.Fields{
				internal.FieldPeer:  peer,
				internal.FieldBytes: sent,
				internal.FieldError: err.Error(),
			})
			return
		}
	}

	internal.Info("tcp transfer finished", internal.Fields{
		internal.FieldPeer:  peer,
		internal.FieldBytes: sent,
	})
}
