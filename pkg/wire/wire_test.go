package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestOfferRoundTrip(t *testing.T) {
	in := Offer{UDPPort: 20001, TCPPort: 20002}
	buf := EncodeOffer(in)
	if len(buf) != OfferLen {
		t.Fatalf("encoded offer length: got %d want %d", len(buf), OfferLen)
	}
	out, err := DecodeOffer(buf)
	if err != nil {
		t.Fatalf("decode offer: %v", err)
	}
	if out != in {
		t.Fatalf("offer round trip: got %+v want %+v", out, in)
	}
}

func TestRequestRoundTrip(t *testing.T) {
	in := Request{FileSize: 1 << 32, StreamID: 7}
	out, err := DecodeRequest(EncodeRequest(in))
	if err != nil {
		t.Fatalf("decode request: %v", err)
	}
	if out != in {
		t.Fatalf("request round trip: got %+v want %+v", out, in)
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte{'A'}, SegmentSize)
	in := Payload{TotalSegments: 10, Sequence: 3, Data: data}
	buf := EncodePayload(in)
	if len(buf) != MaxDatagramLen {
		t.Fatalf("encoded payload length: got %d want %d", len(buf), MaxDatagramLen)
	}
	out, err := DecodePayload(buf)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if out.TotalSegments != in.TotalSegments || out.Sequence != in.Sequence {
		t.Fatalf("payload header round trip: got %+v want %+v", out, in)
	}
	if !bytes.Equal(out.Data, in.Data) {
		t.Fatal("payload data round trip mismatch")
	}
}

func TestDecodeShortBuffers(t *testing.T) {
	// Every length below the fixed header must fail with ErrMalformedMessage
	// and never panic.
	for n := 0; n < RequestLen; n++ {
		buf := make([]byte, n)
		if n < OfferLen {
			if _, err := DecodeOffer(buf); !errors.Is(err, ErrMalformedMessage) {
				t.Fatalf("DecodeOffer(%d bytes): got %v want ErrMalformedMessage", n, err)
			}
		}
		if _, err := DecodeRequest(buf); !errors.Is(err, ErrMalformedMessage) {
			t.Fatalf("DecodeRequest(%d bytes): got %v want ErrMalformedMessage", n, err)
		}
		if _, err := DecodePayload(buf); !errors.Is(err, ErrMalformedMessage) {
			t.Fatalf("DecodePayload(%d bytes): got %v want ErrMalformedMessage", n, err)
		}
	}
}

func TestDecodeWrongCookie(t *testing.T) {
	buf := EncodeOffer(Offer{UDPPort: 1, TCPPort: 2})
	binary.BigEndian.PutUint32(buf[0:4], 0xdeadbeef)
	if _, err := DecodeOffer(buf); !errors.Is(err, ErrUnexpectedMessage) {
		t.Fatalf("wrong cookie: got %v want ErrUnexpectedMessage", err)
	}
}

func TestDecodeWrongType(t *testing.T) {
	// A valid Request must not decode as an Offer or a Payload.
	buf := EncodeRequest(Request{FileSize: 1024, StreamID: 1})
	if _, err := DecodeOffer(buf); !errors.Is(err, ErrUnexpectedMessage) {
		t.Fatalf("request as offer: got %v want ErrUnexpectedMessage", err)
	}
	if _, err := DecodePayload(buf); !errors.Is(err, ErrUnexpectedMessage) {
		t.Fatalf("request as payload: got %v want ErrUnexpectedMessage", err)
	}
}

func TestDecodeCraftedOffer(t *testing.T) {
	// Hand-built 9-byte offer: cookie, 0x2, udp port, tcp port.
	buf := []byte{0xab, 0xcd, 0xdc, 0xba, 0x02, 0x4e, 0x21, 0x4e, 0x22}
	o, err := DecodeOffer(buf)
	if err != nil {
		t.Fatalf("decode crafted offer: %v", err)
	}
	if o.UDPPort != 20001 || o.TCPPort != 20002 {
		t.Fatalf("crafted offer ports: got udp=%d tcp=%d", o.UDPPort, o.TCPPort)
	}
}
