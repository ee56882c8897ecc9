// Package wire implements the three fixed binary message formats exchanged
// between netblast servers and clients: Offer, Request and Payload. All
// integers are big-endian and every message starts with the magic cookie and
// a one-byte message type.
package wire

import (
	"encoding/binary"
	"errors"
)

const (
	// MagicCookie identifies the netblast protocol family. Datagrams that do
	// not carry it are dropped, never surfaced as errors to listen loops.
	MagicCookie uint32 = 0xabcddcba

	TypeOffer   byte = 0x2
	TypeRequest byte = 0x3
	TypePayload byte = 0x4

	OfferLen         = 9
	RequestLen       = 21
	PayloadHeaderLen = 21

	// SegmentSize is the number of filler bytes carried by one Payload
	// datagram. Client and server must agree on it: the expected segment
	// count of a transfer is fileSize / SegmentSize on both sides.
	SegmentSize = 1024

	// MaxDatagramLen is the largest datagram either side ever emits.
	MaxDatagramLen = PayloadHeaderLen + SegmentSize
)

var (
	ErrMalformedMessage  = errors.New("wire: buffer shorter than fixed header")
	ErrUnexpectedMessage = errors.New("wire: magic cookie or message type mismatch")
)

// Offer advertises a server's UDP and TCP service ports. It is broadcast on
// the discovery port once a second and consumed once by each client.
type Offer struct {
	UDPPort uint16
	TCPPort uint16
}

// Request asks the server for a transfer of FileSize bytes. StreamID is
// opaque to the server; clients use it to tell concurrent transfers from the
// same source address apart.
type Request struct {
	FileSize uint64
	StreamID uint64
}

// Payload carries one numbered segment of test data. Sequence is zero-based;
// TotalSegments is constant across all payloads of one transfer.
type Payload struct {
	TotalSegments uint64
	Sequence      uint64
	Data          []byte
}

func EncodeOffer(o Offer) []byte {
	buf := make([]byte, OfferLen)
	binary.BigEndian.PutUint32(buf[0:4], MagicCookie)
	buf[4] = TypeOffer
	binary.BigEndian.PutUint16(buf[5:7], o.UDPPort)
	binary.BigEndian.PutUint16(buf[7:9], o.TCPPort)
	return buf
}

func DecodeOffer(buf []byte) (Offer, error) {
	if len(buf) < OfferLen {
		return Offer{}, ErrMalformedMessage
	}
	if binary.BigEndian.Uint32(buf[0:4]) != MagicCookie || buf[4] != TypeOffer {
		return Offer{}, ErrUnexpectedMessage
	}
	return Offer{
		UDPPort: binary.BigEndian.Uint16(buf[5:7]),
		TCPPort: binary.BigEndian.Uint16(buf[7:9]),
	}, nil
}

func EncodeRequest(r Request) []byte {
	buf := make([]byte, RequestLen)
	binary.BigEndian.PutUint32(buf[0:4], MagicCookie)
	buf[4] = TypeRequest
	binary.BigEndian.PutUint64(buf[5:13], r.FileSize)
	binary.BigEndian.PutUint64(buf[13:21], r.StreamID)
	return buf
}

func DecodeRequest(buf []byte) (Request, error) {
	if len(buf) < RequestLen {
		return Request{}, ErrMalformedMessage
	}
	if binary.BigEndian.Uint32(buf[0:4]) != MagicCookie || buf[4] != TypeRequest {
		return Request{}, ErrUnexpectedMessage
	}
	return Request{
		FileSize: binary.BigEndian.Uint64(buf[5:13]),
		StreamID: binary.BigEndian.Uint64(buf[13:21]),
	}, nil
}

func EncodePayload(p Payload) []byte {
	buf := make([]byte, PayloadHeaderLen+len(p.Data))
	binary.BigEndian.PutUint32(buf[0:4], MagicCookie)
	buf[4] = TypePayload
	binary.BigEndian.PutUint64(buf[5:13], p.TotalSegments)
	binary.BigEndian.PutUint64(buf[13:21], p.Sequence)
	copy(buf[PayloadHeaderLen:], p.Data)
	return buf
}

// DecodePayload parses a Payload header and aliases the remaining bytes as
// Data. Callers that retain Data past the next socket read must copy it.
func DecodePayload(buf []byte) (Payload, error) {
	if len(buf) < PayloadHeaderLen {
		return Payload{}, ErrMalformedMessage
	}
	if binary.BigEndian.Uint32(buf[0:4]) != MagicCookie || buf[4] != TypePayload {
		return Payload{}, ErrUnexpectedMessage
	}
	return Payload{
		TotalSegments: binary.BigEndian.Uint64(buf[5:13]),
		Sequence:      binary.BigEndian.Uint64(buf[13:21]),
		Data:          buf[PayloadHeaderLen:],
	}, nil
}
