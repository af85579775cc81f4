package substrate

import (
	"context"
	"fmt"
	"time"

	"github.com/jonturner53/forestctl/internal/forest"
	"github.com/jonturner53/forestctl/internal/wire"
)

// ErrNoResponse is returned by SendRequest after MaxRetries attempts
// have gone unanswered.
var ErrNoResponse = fmt.Errorf("substrate: NORESPONSE")

// Worker processes exactly one inbound request at a time and owns the
// outbound requests it issues while doing so.
type Worker struct {
	id      int
	rt      *Runtime
	in      chan Inbound
	replies chan wire.CtlPkt

	key uint64 // inReqMap key while handling a request, 0 when idle
}

// ID identifies this worker for logging.
func (w *Worker) ID() int { return w.id }

// SendRequest issues one ConfigurationProtocol request to dst and
// returns the matching reply, sending it at most cfg.MaxRetries times
// in all, cfg.RetryInterval apart, before giving up with ErrNoResponse.
func (w *Worker) SendRequest(ctx context.Context, codec wire.Codec, dst Endpoint, srcAdr forest.Addr, req wire.CtlPkt) (wire.CtlPkt, error) {
	req.Mode = wire.Request
	cfg := w.rt.cfg

	var seq uint64
	for attempt := 0; attempt < cfg.MaxRetries; attempt++ {
		retry := attempt > 0
		if !retry {
			seq = w.rt.assignSeq(w)
		} else if !w.rt.reuseSeq(w, seq) {
			// a reply already arrived and was delivered to us
			// between attempts; drain it instead of resending.
			select {
			case reply := <-w.replies:
				return reply, nil
			default:
				return wire.CtlPkt{}, fmt.Errorf("substrate: retry suppressed, no reply pending")
			}
		}

		pkt, err := w.buildPacket(codec, srcAdr, req, seq, retry)
		if err != nil {
			return wire.CtlPkt{}, err
		}
		if err := w.rt.tr.Send(pkt, dst); err != nil {
			return wire.CtlPkt{}, fmt.Errorf("substrate: send to %s: %w", dst, err)
		}

		select {
		case <-ctx.Done():
			return wire.CtlPkt{}, ctx.Err()
		case reply := <-w.replies:
			return reply, nil
		case <-time.After(cfg.RetryInterval):
			// fall through to the next attempt
		}
	}
	w.rt.mu.Lock()
	delete(w.rt.outReqMap, seq)
	w.rt.mu.Unlock()
	return wire.CtlPkt{}, ErrNoResponse
}

func (w *Worker) buildPacket(codec wire.Codec, srcAdr forest.Addr, req wire.CtlPkt, seq uint64, retry bool) (wire.Packet, error) {
	out := req
	out.SeqNum = seq
	out.Retry = retry
	payload, err := codec.EncodeCtlPkt(out)
	if err != nil {
		return wire.Packet{}, fmt.Errorf("substrate: encode ctlpkt: %w", err)
	}
	return wire.Packet{
		Header: wire.Header{
			Type:   wire.NetSig,
			SrcAdr: srcAdr,
		},
		Payload: payload,
	}, nil
}

// SendReply sends a POS_REPLY/NEG_REPLY directly to dst, bypassing
// sequence-number bookkeeping.
func (w *Worker) SendReply(codec wire.Codec, srcAdr forest.Addr, dst Endpoint, reply wire.CtlPkt) error {
	payload, err := codec.EncodeCtlPkt(reply)
	if err != nil {
		return fmt.Errorf("substrate: encode ctlpkt reply: %w", err)
	}
	pkt := wire.Packet{
		Header:  wire.Header{Type: wire.NetSig, SrcAdr: srcAdr},
		Payload: payload,
	}
	return w.rt.SendReply(pkt, dst)
}
