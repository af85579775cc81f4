// Package wire defines the Go-level shapes of Forest's on-the-wire
// packet and control-packet payloads. The actual byte encoding/codec
// is an external collaborator — this package only gives the rest of
// the control plane typed values to pass around.
package wire

import "github.com/jonturner53/forestctl/internal/forest"

// PacketType is a Forest packet's type field.
type PacketType int

const (
	Undefined PacketType = iota
	Connect
	Disconnect
	ClientSig
	NetSig
	ConnectComplete
)

func (t PacketType) String() string {
	switch t {
	case Connect:
		return "CONNECT"
	case Disconnect:
		return "DISCONNECT"
	case ClientSig:
		return "CLIENT_SIG"
	case NetSig:
		return "NET_SIG"
	case ConnectComplete:
		return "CONNECT_COMPLETE"
	default:
		return "UNDEFINED"
	}
}

// Header is the fixed portion of every Forest packet: version,
// length, type, flags, comtree, source and destination addresses, and
// the two checksums, which transport.MarshalPacket computes and
// transport.UnmarshalPacket verifies.
type Header struct {
	Version      uint8
	Length       uint16
	Type         PacketType
	Flags        uint8
	Comtree      int
	SrcAdr       forest.Addr
	DstAdr       forest.Addr
	HeaderCheck  uint16
	PayloadCheck uint16
}

// Packet is a header plus an opaque payload; NetSig/ClientSig packets
// carry a CtlPkt-shaped payload, decoded separately by the caller once
// transport.UnmarshalPacket has produced this value.
type Packet struct {
	Header  Header
	Payload []byte
}
