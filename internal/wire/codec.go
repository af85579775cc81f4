package wire

// Codec encodes and decodes a CtlPkt to and from a Packet's opaque
// payload bytes. The actual byte-level encoding is an external
// collaborator; this interface is the seam the rest of the control
// plane programs against instead of a concrete format.
type Codec interface {
	EncodeCtlPkt(p CtlPkt) ([]byte, error)
	DecodeCtlPkt(payload []byte) (CtlPkt, error)
}
