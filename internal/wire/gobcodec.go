package wire

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// GobCodec is the stand-in Codec used until the real Forest byte-level
// codec is linked in. It round-trips a CtlPkt through encoding/gob;
// both ends of a deployment built from this module agree on it, which
// is all the control plane needs while the production codec remains an
// external collaborator.
type GobCodec struct{}

func (GobCodec) EncodeCtlPkt(p CtlPkt) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(p); err != nil {
		return nil, fmt.Errorf("wire: encode ctlpkt: %w", err)
	}
	return buf.Bytes(), nil
}

func (GobCodec) DecodeCtlPkt(payload []byte) (CtlPkt, error) {
	var p CtlPkt
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&p); err != nil {
		return CtlPkt{}, fmt.Errorf("wire: decode ctlpkt: %w", err)
	}
	return p, nil
}
