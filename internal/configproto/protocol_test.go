package configproto

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/jonturner53/forestctl/internal/forest"
	"github.com/jonturner53/forestctl/internal/ratespec"
	"github.com/jonturner53/forestctl/internal/substrate"
	"github.com/jonturner53/forestctl/internal/wire"
)

type jsonCodec struct{}

func (jsonCodec) EncodeCtlPkt(p wire.CtlPkt) ([]byte, error) { return json.Marshal(p) }
func (jsonCodec) DecodeCtlPkt(b []byte) (wire.CtlPkt, error) {
	var p wire.CtlPkt
	err := json.Unmarshal(b, &p)
	return p, err
}

// scriptedRequester answers each SendRequest call in order from a fixed
// script of replies, recording the request types it saw.
type scriptedRequester struct {
	replies []wire.CtlPkt
	seen    []wire.CpType
	sent    []wire.CtlPkt
}

func (s *scriptedRequester) SendRequest(ctx context.Context, codec wire.Codec, dst substrate.Endpoint, srcAdr forest.Addr, req wire.CtlPkt) (wire.CtlPkt, error) {
	s.seen = append(s.seen, req.Type)
	s.sent = append(s.sent, req)
	if len(s.replies) == 0 {
		return wire.CtlPkt{}, errNoMoreReplies
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	return r, nil
}

func (s *scriptedRequester) SendReply(codec wire.Codec, srcAdr forest.Addr, dst substrate.Endpoint, reply wire.CtlPkt) error {
	s.sent = append(s.sent, reply)
	return nil
}

var errNoMoreReplies = fmt.Errorf("scriptedRequester: no more replies")

func pos() wire.CtlPkt { return wire.CtlPkt{Mode: wire.PosReply} }
func neg(msg string) wire.CtlPkt {
	return wire.CtlPkt{Mode: wire.NegReply, ErrMsg: msg}
}

func TestSetupLeafHappyPath(t *testing.T) {
	req := &scriptedRequester{replies: []wire.CtlPkt{pos(), pos(), pos(), pos(), pos(), pos()}}
	p := New(jsonCodec{}, forest.MakeAddr(1, 1), nil)

	addr, err := p.SetupLeaf(context.Background(), req, substrate.Endpoint{IP: "10.0.0.1", Port: 1234}, 3, "10.0.0.5", 9, 0xabc, forest.MakeAddr(2, 500), ratespec.New(5, 5, 5, 5), ratespec.New(1, 1, 1, 1), false)
	if err != nil {
		t.Fatalf("SetupLeaf error: %v", err)
	}
	if addr != forest.MakeAddr(2, 500) {
		t.Fatalf("addr = %v, want leaf addr", addr)
	}
	wantSeq := []wire.CpType{wire.AddLink, wire.ModLink, wire.AddComtreeLink, wire.ModComtreeLink, wire.AddComtreeLink, wire.ModComtreeLink}
	if len(req.seen) != len(wantSeq) {
		t.Fatalf("sent %d requests, want %d: %v", len(req.seen), len(wantSeq), req.seen)
	}
	for i, typ := range wantSeq {
		if req.seen[i] != typ {
			t.Errorf("request %d = %v, want %v", i, req.seen[i], typ)
		}
	}
}

func TestSetupLeafBailsOnFirstNegReply(t *testing.T) {
	req := &scriptedRequester{replies: []wire.CtlPkt{pos(), neg("router could not set rate")}}
	p := New(jsonCodec{}, forest.MakeAddr(1, 1), nil)

	_, err := p.SetupLeaf(context.Background(), req, substrate.Endpoint{IP: "10.0.0.1", Port: 1234}, 3, "10.0.0.5", 9, 0xabc, forest.MakeAddr(2, 500), ratespec.New(5, 5, 5, 5), ratespec.New(1, 1, 1, 1), false)
	if err == nil {
		t.Fatal("expected an error from the NEG_REPLY")
	}
	if len(req.seen) != 2 {
		t.Fatalf("sent %d requests, want exactly 2 (bail out on first failure)", len(req.seen))
	}
}

func TestBootRouterSendsReplyBeforeAnyConfiguration(t *testing.T) {
	req := &scriptedRequester{replies: []wire.CtlPkt{pos(), pos()}}
	p := New(jsonCodec{}, forest.MakeAddr(1, 1), nil)

	err := p.BootRouter(context.Background(), req, substrate.Endpoint{IP: "10.0.0.9", Port: 1}, 77, forest.MakeAddr(2, 0), forest.MakeAddr(2, 255), nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("BootRouter error: %v", err)
	}
	if len(req.sent) == 0 {
		t.Fatal("expected at least one packet sent")
	}
	if req.sent[0].Mode != wire.PosReply || req.sent[0].SeqNum != 77 {
		t.Fatalf("first packet sent = %+v, want the BOOT_REQUEST POS_REPLY first", req.sent[0])
	}
}

func TestBootRouterAbortsOnFailure(t *testing.T) {
	req := &scriptedRequester{replies: []wire.CtlPkt{neg("out of leaf range space")}}
	p := New(jsonCodec{}, forest.MakeAddr(1, 1), nil)

	err := p.BootRouter(context.Background(), req, substrate.Endpoint{IP: "10.0.0.9", Port: 1}, 77, forest.MakeAddr(2, 0), forest.MakeAddr(2, 255), nil, nil, nil, nil)
	if err == nil {
		t.Fatal("expected an error")
	}
	foundAbort := false
	for _, pkt := range req.sent {
		if pkt.Type == wire.BootAbort {
			foundAbort = true
		}
	}
	if !foundAbort {
		t.Fatal("expected a BOOT_ABORT to have been sent")
	}
}
