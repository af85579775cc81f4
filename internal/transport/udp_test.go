package transport

import (
	"testing"

	"github.com/jonturner53/forestctl/internal/forest"
	"github.com/jonturner53/forestctl/internal/wire"
)

func TestPacketRoundTrip(t *testing.T) {
	in := wire.Packet{
		Header: wire.Header{
			Type:    wire.NetSig,
			Flags:   3,
			Comtree: 1001,
			SrcAdr:  forest.MakeAddr(1, 500),
			DstAdr:  forest.MakeAddr(2, 900),
		},
		Payload: []byte("hello forest"),
	}
	buf := MarshalPacket(in)
	out, err := UnmarshalPacket(buf)
	if err != nil {
		t.Fatalf("UnmarshalPacket: %v", err)
	}
	if out.Header.Type != in.Header.Type || out.Header.Flags != in.Header.Flags ||
		out.Header.Comtree != in.Header.Comtree ||
		out.Header.SrcAdr != in.Header.SrcAdr || out.Header.DstAdr != in.Header.DstAdr {
		t.Errorf("header changed in round trip: got %+v", out.Header)
	}
	if string(out.Payload) != string(in.Payload) {
		t.Errorf("payload changed in round trip: %q", out.Payload)
	}
}

func TestUnmarshalRejectsCorruption(t *testing.T) {
	buf := MarshalPacket(wire.Packet{
		Header:  wire.Header{Type: wire.NetSig, SrcAdr: forest.MakeAddr(1, 1)},
		Payload: []byte("payload"),
	})

	short := buf[:Overhead-1]
	if _, err := UnmarshalPacket(short); err == nil {
		t.Error("expected error for short packet")
	}

	flipped := make([]byte, len(buf))
	copy(flipped, buf)
	flipped[len(flipped)-1] ^= 0xFF
	if _, err := UnmarshalPacket(flipped); err == nil {
		t.Error("expected error for corrupted payload")
	}

	badHdr := make([]byte, len(buf))
	copy(badHdr, buf)
	badHdr[9] ^= 0xFF
	if _, err := UnmarshalPacket(badHdr); err == nil {
		t.Error("expected error for corrupted header")
	}
}
