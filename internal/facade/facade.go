// Package facade implements ControllerFacade: dispatch from an
// unpacked control packet's request type to the handler that mutates
// comtree/topology state and drives the ConfigurationProtocol
// transactions that follow.
package facade

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonturner53/forestctl/internal/comtree"
	"github.com/jonturner53/forestctl/internal/configproto"
	"github.com/jonturner53/forestctl/internal/forest"
	"github.com/jonturner53/forestctl/internal/logger"
	"github.com/jonturner53/forestctl/internal/prefixtable"
	"github.com/jonturner53/forestctl/internal/substrate"
	"github.com/jonturner53/forestctl/internal/topology"
	"github.com/jonturner53/forestctl/internal/wire"
)

// Facade is ControllerFacade: the single point that knows how every
// control-packet request type is handled. It owns no state beyond
// references to the components it coordinates — Table and Topology
// remain the sources of truth, each with its own locking.
type Facade struct {
	Topo   *topology.Topology
	Table  *comtree.Table
	Engine *comtree.Engine
	Proto  *configproto.Protocol
	Prefix *prefixtable.Table
	Log    logger.Logger

	// Self is this controller's own Forest address, used as SrcAdr on
	// the POS_REPLY/NEG_REPLY packets this facade sends.
	Self forest.Addr

	rngMu sync.Mutex
	rng   *rand.Rand

	sessMu   sync.Mutex
	sessions map[string]session

	leafAllocMu sync.Mutex
	leafAlloc   map[forest.Addr]*leafAllocator
}

type session struct {
	clientAddr forest.Addr
	leafAddr   forest.Addr
	createdAt  time.Time
}

// leafAllocator hands out dynamic leaf addresses and local link numbers
// from one router's free pool, reusing whatever handleCancelSession
// has freed before minting a new one.
type leafAllocator struct {
	nextLeaf   uint16
	freeLeaves []uint16
	nextLink   int
	linkHi     int
	freeLinks  []int
}

// New builds a Facade bound to the given components. seed seeds the
// root-selection PRNG (handleAddComtree's "choose a router in that zip
// uniformly at random").
func New(topo *topology.Topology, table *comtree.Table, engine *comtree.Engine, proto *configproto.Protocol, prefix *prefixtable.Table, self forest.Addr, log logger.Logger, seed int64) *Facade {
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Facade{
		Topo:      topo,
		Table:     table,
		Engine:    engine,
		Proto:     proto,
		Prefix:    prefix,
		Self:      self,
		Log:       log.Named("facade"),
		rng:       rand.New(rand.NewSource(seed)),
		sessions:  make(map[string]session),
		leafAlloc: make(map[forest.Addr]*leafAllocator),
	}
}

// Dispatch implements substrate.Dispatcher: it unpacks the inbound
// request and routes it to the matching handler. w satisfies
// configproto.Requester, so handlers never need to know they are
// talking to a substrate worker specifically.
func (f *Facade) Dispatch(w *substrate.Worker, in substrate.Inbound) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	req := in.Ctl
	from := in.From
	srcAdr := in.Packet.Header.SrcAdr

	switch req.Type {
	case wire.ClientAddComtree:
		f.handleAddComtree(ctx, w, from, srcAdr, req)
	case wire.ClientDropComtree:
		f.handleDropComtree(ctx, w, from, srcAdr, req)
	case wire.ClientJoinComtree:
		f.handleJoinComtree(ctx, w, from, srcAdr, req)
	case wire.ClientLeaveComtree:
		f.handleLeaveComtree(ctx, w, from, srcAdr, req)
	case wire.BootRouter:
		f.handleBootRouter(ctx, w, from, srcAdr, req)
	case wire.BootLeaf:
		f.handleBootLeaf(ctx, w, from, srcAdr, req)
	case wire.ClientConnect:
		f.handleClientConnect(ctx, w, from, srcAdr, req)
	case wire.ClientDisconnect:
		f.handleClientDisconnect(ctx, w, from, srcAdr, req)
	case wire.NewSession:
		f.handleNewSession(ctx, w, from, srcAdr, req)
	case wire.CancelSession:
		f.handleCancelSession(ctx, w, from, srcAdr, req)
	default:
		f.negReply(w, from, req, "unsupported request type")
	}
}

// negReply sends a NEG_REPLY to the original requester, echoing its
// seqNum.
func (f *Facade) negReply(w *substrate.Worker, to substrate.Endpoint, req wire.CtlPkt, msg string) {
	reply := wire.NegReplyPkt(req.Type, req.SeqNum, msg)
	if err := w.SendReply(f.Proto.Codec, f.Self, to, reply); err != nil {
		f.Log.Warn("failed to send NEG_REPLY", logger.F("err", err), logger.F("to", to.String()))
	}
}

func (f *Facade) posReply(w *substrate.Worker, to substrate.Endpoint, req wire.CtlPkt, attrs wire.Attrs) {
	reply := wire.PosReplyPkt(req.Type, req.SeqNum, attrs)
	if err := w.SendReply(f.Proto.Codec, f.Self, to, reply); err != nil {
		f.Log.Warn("failed to send POS_REPLY", logger.F("err", err), logger.F("to", to.String()))
	}
}

// pickUniform returns a uniformly random element of candidates, used by
// handleAddComtree to choose a root within the requested zip.
func (f *Facade) pickUniform(candidates []forest.Addr) forest.Addr {
	f.rngMu.Lock()
	defer f.rngMu.Unlock()
	return candidates[f.rng.Intn(len(candidates))]
}

func newSessionID() string { return uuid.NewString() }

func routerEndpoint(r *topology.Router) substrate.Endpoint {
	return substrate.Endpoint{IP: r.IP.String(), Port: r.Port}
}
