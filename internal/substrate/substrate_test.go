package substrate

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonturner53/forestctl/internal/forest"
	"github.com/jonturner53/forestctl/internal/wire"
)

// jsonCodec is a trivial wire.Codec for tests: the real encoding is an
// external collaborator, so any round-tripping codec
// suffices here.
type jsonCodec struct{}

func (jsonCodec) EncodeCtlPkt(p wire.CtlPkt) ([]byte, error) { return json.Marshal(p) }
func (jsonCodec) DecodeCtlPkt(b []byte) (wire.CtlPkt, error) {
	var p wire.CtlPkt
	err := json.Unmarshal(b, &p)
	return p, err
}

// loopbackTransport is an in-memory Transport: Send delivers straight
// onto the matching peer's inbound channel, so tests can drive both
// sides of a request/reply exchange without real sockets.
type loopbackTransport struct {
	mu    sync.Mutex
	peers map[string]chan Inbound
	codec wire.Codec
}

func newLoopback() *loopbackTransport {
	return &loopbackTransport{peers: make(map[string]chan Inbound), codec: jsonCodec{}}
}

func (lt *loopbackTransport) register(ep Endpoint) chan Inbound {
	ch := make(chan Inbound, 16)
	lt.mu.Lock()
	lt.peers[ep.String()] = ch
	lt.mu.Unlock()
	return ch
}

func (lt *loopbackTransport) Send(pkt wire.Packet, to Endpoint) error {
	ctl, err := lt.codec.DecodeCtlPkt(pkt.Payload)
	if err != nil {
		return err
	}
	lt.mu.Lock()
	ch, ok := lt.peers[to.String()]
	lt.mu.Unlock()
	if !ok {
		return nil
	}
	ch <- Inbound{Packet: pkt, Ctl: ctl, From: Endpoint{}}
	return nil
}

func (lt *loopbackTransport) Inbound() <-chan Inbound { return nil } // unused by these tests

// countingDispatcher counts how many times Dispatch actually performs
// the reservation side-effect, to verify retry-dedup idempotence.
type countingDispatcher struct {
	n       int32
	codec   wire.Codec
	self    forest.Addr
	replyTo Endpoint
	tr      *loopbackTransport
}

func (d *countingDispatcher) Dispatch(w *Worker, in Inbound) {
	atomic.AddInt32(&d.n, 1)
	reply := wire.PosReplyPkt(in.Ctl.Type, in.Ctl.SeqNum, wire.Attrs{})
	_ = w.SendReply(d.codec, d.self, d.replyTo, reply)
}

func TestRuntimeDedupDropsRepeatedInboundRequest(t *testing.T) {
	tr := newLoopback()
	clientEP := Endpoint{IP: "10.0.0.1", Port: 5}
	clientCh := tr.register(clientEP)

	disp := &countingDispatcher{codec: jsonCodec{}, self: forest.MakeAddr(1, 1), replyTo: clientEP, tr: tr}
	rt := New(Config{Workers: 4, MaxRetries: 3, RetryInterval: 50 * time.Millisecond, ReplyTimeout: time.Second, TimeoutScanTick: 10 * time.Millisecond}, tr, disp, nil)
	rt.Start()
	defer rt.Stop()

	req := wire.CtlPkt{Type: wire.AddComtreeLink, Mode: wire.Request, SeqNum: 42}
	pkt := wire.Packet{Header: wire.Header{SrcAdr: forest.MakeAddr(1, 500)}}
	in := Inbound{Packet: pkt, Ctl: req}

	rt.routeInbound(in)
	rt.routeInbound(in) // duplicate of the same (srcAddr, seqNum) while in-flight

	time.Sleep(100 * time.Millisecond)

	if got := atomic.LoadInt32(&disp.n); got != 1 {
		t.Fatalf("dispatched %d times, want exactly 1 (dedup should drop the retry)", got)
	}

	select {
	case <-clientCh:
	case <-time.After(time.Second):
		t.Fatal("expected exactly one reply, got none")
	}
	select {
	case <-clientCh:
		t.Fatal("expected exactly one reply, got a second")
	default:
	}
}

func TestWorkerSendRequestRetriesThenNoResponse(t *testing.T) {
	tr := newLoopback() // nothing ever replies
	rt := New(Config{Workers: 2, MaxRetries: 3, RetryInterval: 10 * time.Millisecond, ReplyTimeout: 100 * time.Millisecond, TimeoutScanTick: 5 * time.Millisecond}, tr, nil, nil)
	rt.Start()
	defer rt.Stop()

	w := <-rt.idle
	start := time.Now()
	_, err := w.SendRequest(context.Background(), jsonCodec{}, Endpoint{IP: "10.0.0.9", Port: 1}, forest.MakeAddr(1, 1), wire.RequestPkt(wire.BootRouter, wire.Attrs{}))
	if err != ErrNoResponse {
		t.Fatalf("err = %v, want ErrNoResponse", err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Fatalf("returned too quickly (%v) — retries did not actually wait", elapsed)
	}
}

func TestWorkerSendRequestSucceedsOnReply(t *testing.T) {
	tr := newLoopback()
	routerEP := Endpoint{IP: "10.0.0.2", Port: 7}
	tr.register(routerEP)

	rt := New(Config{Workers: 2, MaxRetries: 3, RetryInterval: 50 * time.Millisecond, ReplyTimeout: time.Second, TimeoutScanTick: 10 * time.Millisecond}, tr, nil, nil)
	rt.Start()
	defer rt.Stop()

	w := <-rt.idle

	go func() {
		time.Sleep(10 * time.Millisecond)
		rt.mu.Lock()
		var seq uint64
		for s, o := range rt.outReqMap {
			if o.worker == w {
				seq = s
			}
		}
		rt.mu.Unlock()
		reply := wire.PosReplyPkt(wire.AddLink, seq, wire.Attrs{})
		rt.routeInbound(Inbound{Ctl: reply})
	}()

	reply, err := w.SendRequest(context.Background(), jsonCodec{}, routerEP, forest.MakeAddr(1, 1), wire.RequestPkt(wire.AddLink, wire.Attrs{}))
	if err != nil {
		t.Fatalf("SendRequest error: %v", err)
	}
	if reply.Mode != wire.PosReply {
		t.Fatalf("reply.Mode = %v, want PosReply", reply.Mode)
	}
}
