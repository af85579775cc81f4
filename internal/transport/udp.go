// Package transport provides the UDP datagram transport the substrate
// runs over. The byte layout of the packet envelope lives here — the
// CtlPkt payload itself is serialized by whatever wire.Codec the
// controller was built with.
package transport

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/jonturner53/forestctl/internal/forest"
	"github.com/jonturner53/forestctl/internal/logger"
	"github.com/jonturner53/forestctl/internal/substrate"
	"github.com/jonturner53/forestctl/internal/wire"
)

// Overhead is the fixed size of the packet envelope preceding the
// payload: version, length, type, flags, comtree, srcAdr, dstAdr,
// header check, payload check.
const Overhead = 21

const version = 1

// UDP is a substrate.Transport over a single UDP socket.
type UDP struct {
	conn  *net.UDPConn
	codec wire.Codec
	log   logger.Logger
	in    chan substrate.Inbound
	done  chan struct{}
}

// Listen binds a UDP socket on bind (host:port) and starts the read
// loop. Inbound datagrams that fail envelope or payload decoding are
// logged and dropped; a single bad packet never stops the loop.
func Listen(bind string, codec wire.Codec, log logger.Logger) (*UDP, error) {
	if log == nil {
		log = logger.NopLogger{}
	}
	addr, err := net.ResolveUDPAddr("udp", bind)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve %q: %w", bind, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %q: %w", bind, err)
	}
	u := &UDP{
		conn:  conn,
		codec: codec,
		log:   log.Named("transport"),
		in:    make(chan substrate.Inbound, 64),
		done:  make(chan struct{}),
	}
	go u.readLoop()
	return u, nil
}

// LocalAddr returns the bound socket address.
func (u *UDP) LocalAddr() net.Addr { return u.conn.LocalAddr() }

// Inbound implements substrate.Transport.
func (u *UDP) Inbound() <-chan substrate.Inbound { return u.in }

// Send implements substrate.Transport.
func (u *UDP) Send(pkt wire.Packet, to substrate.Endpoint) error {
	dst, err := net.ResolveUDPAddr("udp", to.String())
	if err != nil {
		return fmt.Errorf("transport: resolve %s: %w", to, err)
	}
	buf := MarshalPacket(pkt)
	if _, err := u.conn.WriteToUDP(buf, dst); err != nil {
		return fmt.Errorf("transport: send to %s: %w", to, err)
	}
	return nil
}

// Close stops the read loop and closes the socket.
func (u *UDP) Close() error {
	close(u.done)
	return u.conn.Close()
}

func (u *UDP) readLoop() {
	defer close(u.in)
	buf := make([]byte, 64*1024)
	for {
		n, from, err := u.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-u.done:
				return
			default:
			}
			u.log.Warn("read failed", logger.F("err", err))
			return
		}
		pkt, err := UnmarshalPacket(buf[:n])
		if err != nil {
			u.log.Debug("dropping malformed datagram", logger.F("from", from.String()), logger.F("err", err))
			continue
		}
		in := substrate.Inbound{
			Packet: pkt,
			From:   substrate.Endpoint{IP: from.IP.String(), Port: from.Port},
		}
		if pkt.Header.Type == wire.NetSig || pkt.Header.Type == wire.ClientSig {
			ctl, err := u.codec.DecodeCtlPkt(pkt.Payload)
			if err != nil {
				u.log.Debug("dropping signaling packet with bad payload",
					logger.F("from", from.String()), logger.F("err", err))
				continue
			}
			in.Ctl = ctl
		}
		select {
		case u.in <- in:
		case <-u.done:
			return
		}
	}
}

// MarshalPacket serializes the envelope plus payload. The two
// checksums cover the header bytes (with the check fields zeroed) and
// the payload respectively.
func MarshalPacket(p wire.Packet) []byte {
	buf := make([]byte, Overhead+len(p.Payload))
	buf[0] = version
	binary.BigEndian.PutUint16(buf[1:3], uint16(Overhead+len(p.Payload)))
	buf[3] = byte(p.Header.Type)
	buf[4] = p.Header.Flags
	binary.BigEndian.PutUint32(buf[5:9], uint32(p.Header.Comtree))
	binary.BigEndian.PutUint32(buf[9:13], uint32(p.Header.SrcAdr))
	binary.BigEndian.PutUint32(buf[13:17], uint32(p.Header.DstAdr))
	copy(buf[Overhead:], p.Payload)
	binary.BigEndian.PutUint16(buf[17:19], checksum(buf[:17]))
	binary.BigEndian.PutUint16(buf[19:21], checksum(p.Payload))
	return buf
}

// UnmarshalPacket parses and verifies an envelope, returning the
// received packet intact — header fields plus an owned copy of the
// payload bytes.
func UnmarshalPacket(buf []byte) (wire.Packet, error) {
	if len(buf) < Overhead {
		return wire.Packet{}, fmt.Errorf("transport: short packet (%d bytes)", len(buf))
	}
	if buf[0] != version {
		return wire.Packet{}, fmt.Errorf("transport: bad version %d", buf[0])
	}
	length := binary.BigEndian.Uint16(buf[1:3])
	if int(length) != len(buf) {
		return wire.Packet{}, fmt.Errorf("transport: length field %d != datagram size %d", length, len(buf))
	}
	hdrCheck := binary.BigEndian.Uint16(buf[17:19])
	payCheck := binary.BigEndian.Uint16(buf[19:21])
	if checksum(buf[:17]) != hdrCheck {
		return wire.Packet{}, fmt.Errorf("transport: header checksum mismatch")
	}
	payload := make([]byte, len(buf)-Overhead)
	copy(payload, buf[Overhead:])
	if checksum(payload) != payCheck {
		return wire.Packet{}, fmt.Errorf("transport: payload checksum mismatch")
	}
	return wire.Packet{
		Header: wire.Header{
			Version:      buf[0],
			Length:       length,
			Type:         wire.PacketType(buf[3]),
			Flags:        buf[4],
			Comtree:      int(binary.BigEndian.Uint32(buf[5:9])),
			SrcAdr:       forest.Addr(binary.BigEndian.Uint32(buf[9:13])),
			DstAdr:       forest.Addr(binary.BigEndian.Uint32(buf[13:17])),
			HeaderCheck:  hdrCheck,
			PayloadCheck: payCheck,
		},
		Payload: payload,
	}, nil
}

// checksum is a 16-bit ones-complement sum over b.
func checksum(b []byte) uint16 {
	var sum uint32
	for i := 0; i+1 < len(b); i += 2 {
		sum += uint32(binary.BigEndian.Uint16(b[i : i+2]))
	}
	if len(b)%2 == 1 {
		sum += uint32(b[len(b)-1]) << 8
	}
	for sum > 0xFFFF {
		sum = (sum & 0xFFFF) + sum>>16
	}
	return ^uint16(sum)
}
