// Package configproto implements the ConfigurationProtocol: sequenced
// request/reply transactions between the controller and one router,
// and the composite procedures (setupLeaf, setupEndpoint, setupComtree,
// bootRouter, bootLeaf) that effect atomic multi-step router
// reconfiguration with retries, timeouts, and rollback on partial
// failure.
package configproto

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jonturner53/forestctl/internal/forest"
	"github.com/jonturner53/forestctl/internal/logger"
	"github.com/jonturner53/forestctl/internal/ratespec"
	"github.com/jonturner53/forestctl/internal/substrate"
	"github.com/jonturner53/forestctl/internal/wire"
)

// Well-known comtree numbers every leaf joins at connect time; these are Forest-wide constants, not allocated
// per deployment.
const (
	ConnectComtree   = 1
	ClientSigComtree = 2
	NetSigComtree    = 3
)

var tracer = otel.Tracer("forestctl/configproto")

// Requester is the subset of substrate.Worker the protocol needs: send
// one request and wait (with the substrate's own retry contract) for
// its reply, or send a reply directly. Expressed as an interface so
// this package never imports substrate's scheduling internals, only
// this transactional seam.
type Requester interface {
	SendRequest(ctx context.Context, codec wire.Codec, dst substrate.Endpoint, srcAdr forest.Addr, req wire.CtlPkt) (wire.CtlPkt, error)
	SendReply(codec wire.Codec, srcAdr forest.Addr, dst substrate.Endpoint, reply wire.CtlPkt) error
}

// Protocol drives ConfigurationProtocol transactions against routers.
// It holds no comtree or topology state of its own; every procedure
// takes exactly the parameters it needs.
type Protocol struct {
	Codec wire.Codec
	Self  forest.Addr
	Log   logger.Logger
}

// New returns a Protocol using codec to serialize CtlPkts and self as
// the controller's own address (the SrcAdr on every outgoing request).
func New(codec wire.Codec, self forest.Addr, log logger.Logger) *Protocol {
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Protocol{Codec: codec, Self: self, Log: log.Named("configproto")}
}

// request is processReply's counterpart on the send side: it issues
// one transaction and classifies the outcome —
// NORESPONSE (substrate exhausted its retries) and
// NEG_REPLY both surface as a Go error naming the failed step, letting
// callers short-circuit the rest of a composite procedure exactly as
// "Handlers bail out on first failure" describes.
func (p *Protocol) request(ctx context.Context, req Requester, dst substrate.Endpoint, typ wire.CpType, attrs wire.Attrs) (wire.Attrs, error) {
	ctx, span := tracer.Start(ctx, typ.String(),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("forest.router", dst.String())))
	defer span.End()

	reply, err := req.SendRequest(ctx, p.Codec, dst, p.Self, wire.RequestPkt(typ, attrs))
	if err != nil {
		err = fmt.Errorf("%s: %w", typ, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "no response")
		return wire.Attrs{}, err
	}
	if reply.Mode == wire.NegReply {
		err = fmt.Errorf("%s: %s", typ, reply.ErrMsg)
		span.RecordError(err)
		span.SetStatus(codes.Error, "negative reply")
		return wire.Attrs{}, err
	}
	return reply.Attrs, nil
}

// Request issues a single ConfigurationProtocol transaction and
// returns its reply payload. Handlers that need one request outside
// any composite procedure (ADD_COMTREE for a freshly created comtree,
// a bare DROP_COMTREE, a rate MOD_COMTREE_LINK) use this instead of
// reaching into substrate directly, so every transaction gets the same
// NORESPONSE/NEG_REPLY classification.
func (p *Protocol) Request(ctx context.Context, req Requester, dst substrate.Endpoint, typ wire.CpType, attrs wire.Attrs) (wire.Attrs, error) {
	return p.request(ctx, req, dst, typ, attrs)
}

// SetupEndpoint configures the underlay link between two routers
// during boot: ADD_LINK (using the peer's IP/port if it is already UP,
// else the tunnel 0/0) followed by MOD_LINK with the direction-flipped
// rate spec.
func (p *Protocol) SetupEndpoint(ctx context.Context, req Requester, dst substrate.Endpoint, localLink int, peerUp bool, peerIP string, peerPort int, nonce forest.Nonce, rates ratespec.RateSpec) error {
	ip, port := peerIP, peerPort
	if !peerUp {
		ip, port = "", 0
	}
	if _, err := p.request(ctx, req, dst, wire.AddLink, wire.Attrs{
		Link: localLink, PeerIP: ip, PeerPort: port, Nonce: nonce,
	}); err != nil {
		return err
	}
	if _, err := p.request(ctx, req, dst, wire.ModLink, wire.Attrs{
		Link: localLink, Rates: rates.Flip(),
	}); err != nil {
		return err
	}
	return nil
}

// SetupComtree configures one router's membership in a comtree during
// boot: ADD_COMTREE; ADD_COMTREE_LINK + MOD_COMTREE_LINK for every
// comtree link incident at rtr to another router; then MOD_COMTREE to
// set the parent-link and core flag.
func (p *Protocol) SetupComtree(ctx context.Context, req Requester, dst substrate.Endpoint, comtNum int, links []ComtreeLinkSpec, parentLink int, core bool) error {
	if _, err := p.request(ctx, req, dst, wire.AddComtree, wire.Attrs{Comtree: comtNum}); err != nil {
		return err
	}
	for _, l := range links {
		if _, err := p.request(ctx, req, dst, wire.AddComtreeLink, wire.Attrs{
			Comtree: comtNum, Link: l.LocalLink,
		}); err != nil {
			return err
		}
		if _, err := p.request(ctx, req, dst, wire.ModComtreeLink, wire.Attrs{
			Comtree: comtNum, Link: l.LocalLink, Rates: l.Rates,
		}); err != nil {
			return err
		}
	}
	if _, err := p.request(ctx, req, dst, wire.ModComtree, wire.Attrs{
		Comtree: comtNum, ParentLink: parentLink, CoreFlag: core,
	}); err != nil {
		return err
	}
	return nil
}

// ComtreeLinkSpec is one backbone link of a comtree incident at the
// router being configured, as SetupComtree needs it.
type ComtreeLinkSpec struct {
	LocalLink int
	Rates     ratespec.RateSpec
}

// SetupLeaf admits a leaf at rtr: ADD_LINK, MOD_LINK, then for each of
// the leaf's well-known comtrees (connect, client-sig, and — if the
// leaf is itself a controller — net-sig) an ADD_COMTREE_LINK followed
// by MOD_COMTREE_LINK. On the first failure it returns forest.NoAddr;
// the caller is responsible for unwinding anything already reserved.
func (p *Protocol) SetupLeaf(ctx context.Context, req Requester, dst substrate.Endpoint, localLink int, leafIP string, leafPort int, nonce forest.Nonce, leafAddr forest.Addr, accessRates ratespec.RateSpec, leafRates ratespec.RateSpec, isController bool) (forest.Addr, error) {
	if _, err := p.request(ctx, req, dst, wire.AddLink, wire.Attrs{
		Link: localLink, PeerIP: leafIP, PeerPort: leafPort, Nonce: nonce, LeafAddr: leafAddr,
	}); err != nil {
		return forest.NoAddr, err
	}
	if _, err := p.request(ctx, req, dst, wire.ModLink, wire.Attrs{
		Link: localLink, Rates: accessRates,
	}); err != nil {
		return forest.NoAddr, err
	}

	comtrees := []int{ConnectComtree, ClientSigComtree}
	if isController {
		comtrees = append(comtrees, NetSigComtree)
	}
	for _, comtNum := range comtrees {
		if _, err := p.request(ctx, req, dst, wire.AddComtreeLink, wire.Attrs{
			Comtree: comtNum, Link: localLink,
		}); err != nil {
			return forest.NoAddr, err
		}
		if _, err := p.request(ctx, req, dst, wire.ModComtreeLink, wire.Attrs{
			Comtree: comtNum, Link: localLink, Rates: leafRates,
		}); err != nil {
			return forest.NoAddr, err
		}
	}
	return leafAddr, nil
}
