// Package substrate implements ControllerRuntime: the worker pool that
// demultiplexes incoming control packets to per-request handler tasks,
// retransmits outgoing requests, deduplicates repeated inbound
// requests, and correlates replies to the worker waiting on them.
//
// The actual socket I/O lives behind the Transport interface; the
// runtime only needs to send a packet to an Endpoint and to receive
// inbound packets on a channel.
package substrate

import (
	"fmt"
	"sync"
	"time"

	"github.com/jonturner53/forestctl/internal/forest"
	"github.com/jonturner53/forestctl/internal/logger"
	"github.com/jonturner53/forestctl/internal/wire"
)

// Endpoint is a UDP destination: either a router/leaf's stable port, or
// the "tunnel" (ip, port) used to reach a not-yet-booted peer.
type Endpoint struct {
	IP   string
	Port int
}

func (e Endpoint) String() string { return fmt.Sprintf("%s:%d", e.IP, e.Port) }

// Inbound is one packet handed from the Transport to the runtime's I/O
// loop, tagged with the peer it arrived from.
type Inbound struct {
	Packet wire.Packet
	Ctl    wire.CtlPkt
	From   Endpoint
}

// Transport is the external collaborator performing real socket
// I/O. Inbound packets are delivered on the channel returned
// by Inbound(); Send transmits one outbound packet.
type Transport interface {
	Send(pkt wire.Packet, to Endpoint) error
	Inbound() <-chan Inbound
}

// Config tunes the worker pool and the retry/timeout contract.
type Config struct {
	Workers         int
	MaxRetries      int
	RetryInterval   time.Duration
	ReplyTimeout    time.Duration
	TimeoutScanTick time.Duration
}

// DefaultConfig is the standard retry contract: 3 attempts,
// 1-second spacing, a 2-second outstanding-request timeout.
func DefaultConfig() Config {
	return Config{
		Workers:         200,
		MaxRetries:      3,
		RetryInterval:   time.Second,
		ReplyTimeout:    2 * time.Second,
		TimeoutScanTick: 250 * time.Millisecond,
	}
}

// Dispatcher handles one freshly demultiplexed inbound REQUEST. It is
// implemented by internal/facade's ControllerFacade; substrate has no
// knowledge of comtree or topology semantics.
type Dispatcher interface {
	Dispatch(w *Worker, in Inbound)
}

type outstanding struct {
	worker *Worker
	sentAt time.Time
}

// Runtime is ControllerRuntime: the I/O-thread-plus-worker-pool
// substrate.
type Runtime struct {
	cfg  Config
	tr   Transport
	log  logger.Logger
	disp Dispatcher

	workers []*Worker
	idle    chan *Worker

	mu        sync.Mutex
	inReqMap  map[uint64]*Worker      // (srcAddr<<32 | seqNum) -> worker
	outReqMap map[uint64]*outstanding // seqNum -> worker, for timeout scanning
	nextSeq   uint64

	stop chan struct{}
	wg   sync.WaitGroup
}

// New builds a Runtime with cfg.Workers idle workers, ready to Start.
func New(cfg Config, tr Transport, disp Dispatcher, log logger.Logger) *Runtime {
	if log == nil {
		log = logger.NopLogger{}
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	rt := &Runtime{
		cfg:       cfg,
		tr:        tr,
		log:       log.Named("substrate"),
		disp:      disp,
		idle:      make(chan *Worker, cfg.Workers),
		inReqMap:  make(map[uint64]*Worker),
		outReqMap: make(map[uint64]*outstanding),
		stop:      make(chan struct{}),
	}
	for i := 0; i < cfg.Workers; i++ {
		w := &Worker{id: i, rt: rt, in: make(chan Inbound, 1), replies: make(chan wire.CtlPkt, 1)}
		rt.workers = append(rt.workers, w)
		rt.idle <- w
	}
	return rt
}

func reqKey(src forest.Addr, seqNum uint64) uint64 {
	return uint64(src)<<32 | (seqNum & 0xFFFFFFFF)
}

// Start launches the I/O loop and the timeout scanner. Both stop when
// Stop is called.
func (rt *Runtime) Start() {
	rt.wg.Add(2)
	go rt.ioLoop()
	go rt.timeoutScanner()
}

// Stop ends the I/O loop and timeout scanner and waits for them to exit.
func (rt *Runtime) Stop() {
	close(rt.stop)
	rt.wg.Wait()
}

// ioLoop is the single I/O thread: it reads inbound
// packets from the transport and routes each to a worker (or drops it),
// deduplicating repeated in-flight requests.
func (rt *Runtime) ioLoop() {
	defer rt.wg.Done()
	inbound := rt.tr.Inbound()
	for {
		select {
		case <-rt.stop:
			return
		case in, ok := <-inbound:
			if !ok {
				return
			}
			rt.routeInbound(in)
		}
	}
}

func (rt *Runtime) routeInbound(in Inbound) {
	switch in.Ctl.Mode {
	case wire.Request:
		key := reqKey(in.Packet.Header.SrcAdr, in.Ctl.SeqNum)
		rt.mu.Lock()
		if _, dup := rt.inReqMap[key]; dup {
			rt.mu.Unlock()
			rt.log.Debug("dropping duplicate inbound request",
				logger.F("src", in.Packet.Header.SrcAdr), logger.F("seq", in.Ctl.SeqNum))
			return
		}
		rt.mu.Unlock()

		w := <-rt.idle
		rt.mu.Lock()
		rt.inReqMap[key] = w
		rt.mu.Unlock()
		w.key = key

		rt.wg.Add(1)
		go func() {
			defer rt.wg.Done()
			defer rt.releaseWorker(w)
			if rt.disp != nil {
				rt.disp.Dispatch(w, in)
			}
		}()

	case wire.PosReply, wire.NegReply:
		rt.mu.Lock()
		o, ok := rt.outReqMap[in.Ctl.SeqNum]
		if ok {
			delete(rt.outReqMap, in.Ctl.SeqNum)
		}
		rt.mu.Unlock()
		if !ok {
			rt.log.Debug("dropping reply with no matching outstanding request",
				logger.F("seq", in.Ctl.SeqNum))
			return
		}
		select {
		case o.worker.replies <- in.Ctl:
		default:
		}

	default:
		// Non-signaling packets are dropped.
	}
}

// releaseWorker drops w's in-flight request mapping and returns it to
// the idle set.
func (rt *Runtime) releaseWorker(w *Worker) {
	rt.mu.Lock()
	if w.key != 0 {
		delete(rt.inReqMap, w.key)
		w.key = 0
	}
	rt.mu.Unlock()
	rt.idle <- w
}

// timeoutScanner periodically evicts outReqMap entries whose deadline
// has passed; the owning worker's own
// SendRequest loop independently times out on its reply channel and
// decides whether to retry, so this is strictly a leak-prevention pass.
func (rt *Runtime) timeoutScanner() {
	defer rt.wg.Done()
	t := time.NewTicker(rt.cfg.TimeoutScanTick)
	defer t.Stop()
	for {
		select {
		case <-rt.stop:
			return
		case now := <-t.C:
			rt.mu.Lock()
			for seq, o := range rt.outReqMap {
				if now.Sub(o.sentAt) > rt.cfg.ReplyTimeout {
					delete(rt.outReqMap, seq)
				}
			}
			rt.mu.Unlock()
		}
	}
}

// assignSeq hands out the next global sequence number and records the
// (seq -> worker) mapping with a fresh timestamp.
func (rt *Runtime) assignSeq(w *Worker) uint64 {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.nextSeq++
	seq := rt.nextSeq
	rt.outReqMap[seq] = &outstanding{worker: w, sentAt: time.Now()}
	return seq
}

// reuseSeq re-uses w's already-assigned sequence number for a retry, or
// reports false if no reply is pending (a reply already arrived and the
// mapping was removed), in which case the retry must be suppressed.
func (rt *Runtime) reuseSeq(w *Worker, seq uint64) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	o, ok := rt.outReqMap[seq]
	if !ok || o.worker != w {
		return false
	}
	o.sentAt = time.Now()
	return true
}

// SendReply transmits a POS_REPLY/NEG_REPLY directly; replies carry no
// sequence bookkeeping of their own.
func (rt *Runtime) SendReply(pkt wire.Packet, to Endpoint) error {
	return rt.tr.Send(pkt, to)
}
