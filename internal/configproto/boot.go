package configproto

import (
	"context"
	"fmt"

	"github.com/jonturner53/forestctl/internal/forest"
	"github.com/jonturner53/forestctl/internal/ratespec"
	"github.com/jonturner53/forestctl/internal/substrate"
	"github.com/jonturner53/forestctl/internal/wire"
)

// Iface is one of a booting router's interfaces, as ADD_IFACE needs it.
type Iface struct {
	Number int
	IP     string
	LinkLo int
	LinkHi int
	Rates  ratespec.RateSpec
}

// RouterLink is one router-to-router underlay link incident at a
// booting router, as SetupEndpoint needs it.
type RouterLink struct {
	LocalLink int
	PeerUp    bool
	PeerIP    string
	PeerPort  int
	Nonce     forest.Nonce
	Rates     ratespec.RateSpec
}

// PreconfiguredComtree is one comtree a booting router already belongs
// to (per the comtree file), as SetupComtree needs it.
type PreconfiguredComtree struct {
	Number     int
	Links      []ComtreeLinkSpec
	ParentLink int
	Core       bool
}

// NetMgrLeaf carries the parameters of the final bootRouter step —
// setupLeaf for the net-manager's own leaf record — when the booting
// router is the net-manager's own access router.
type NetMgrLeaf struct {
	LocalLink   int
	IP          string
	Port        int
	Addr        forest.Addr
	AccessRates ratespec.RateSpec
	LeafRates   ratespec.RateSpec
}

// BootRouter drives the full router-boot sequence: the
// POS_REPLY to BOOT_REQUEST is sent first (before any configuration), so
// that a reply lost on the way back does not leave the router stuck
// retrying boot forever while the controller believes it is configured.
// SET_LEAF_RANGE, per-interface ADD_IFACE, per-link setupEndpoint,
// per-comtree setupComtree, and finally the net-manager's own setupLeaf
// follow; any failure sends BOOT_ABORT and returns an error so the
// caller can mark the router DOWN.
func (p *Protocol) BootRouter(ctx context.Context, req Requester, dst substrate.Endpoint, bootReqSeq uint64, leafRangeLo, leafRangeHi forest.Addr, ifaces []Iface, links []RouterLink, comtrees []PreconfiguredComtree, netMgr *NetMgrLeaf) error {
	posReply := wire.PosReplyPkt(wire.BootRouter, bootReqSeq, wire.Attrs{
		LeafRangeLo: leafRangeLo, LeafRangeHi: leafRangeHi,
	})
	if err := req.SendReply(p.Codec, p.Self, dst, posReply); err != nil {
		return fmt.Errorf("bootRouter: sending BOOT_REQUEST reply: %w", err)
	}

	abort := func(cause error) error {
		_ = req.SendReply(p.Codec, p.Self, dst, wire.CtlPkt{Type: wire.BootAbort, Mode: wire.Request})
		return fmt.Errorf("bootRouter: %w", cause)
	}

	if _, err := p.request(ctx, req, dst, wire.SetLeafRange, wire.Attrs{
		LeafRangeLo: leafRangeLo, LeafRangeHi: leafRangeHi,
	}); err != nil {
		return abort(err)
	}

	for _, iface := range ifaces {
		if _, err := p.request(ctx, req, dst, wire.AddIface, wire.Attrs{
			Iface: iface.Number, IfaceIP: iface.IP, LinkLo: iface.LinkLo, LinkHi: iface.LinkHi, Rates: iface.Rates,
		}); err != nil {
			return abort(err)
		}
	}

	for _, link := range links {
		if err := p.SetupEndpoint(ctx, req, dst, link.LocalLink, link.PeerUp, link.PeerIP, link.PeerPort, link.Nonce, link.Rates); err != nil {
			return abort(err)
		}
	}

	for _, ct := range comtrees {
		if err := p.SetupComtree(ctx, req, dst, ct.Number, ct.Links, ct.ParentLink, ct.Core); err != nil {
			return abort(err)
		}
	}

	if netMgr != nil {
		nonce := forest.NewNonce()
		if _, err := p.SetupLeaf(ctx, req, dst, netMgr.LocalLink, netMgr.IP, netMgr.Port, nonce, netMgr.Addr, netMgr.AccessRates, netMgr.LeafRates, true); err != nil {
			return abort(err)
		}
	}

	if _, err := p.request(ctx, req, dst, wire.BootComplete, wire.Attrs{}); err != nil {
		return abort(err)
	}
	return nil
}

// BootLeaf generates a fresh nonce, configures the leaf's access router
// via SetupLeaf, and sends CONFIG_LEAF to the leaf itself through its
// boot tunnel so it learns its assigned address and the router to
// connect to. The "leaf already UP" /
// "access router not UP" rejections and the "mark leaf DOWN on
// failure" bookkeeping are the caller's responsibility (internal/facade),
// since they require topology state this package does not hold.
func (p *Protocol) BootLeaf(ctx context.Context, req Requester, rtrDst substrate.Endpoint, localLink int, leafTunnel substrate.Endpoint, leafIP string, leafPort int, leafAddr, rtrAddr forest.Addr, rtrIP string, rtrPort int, accessRates, leafRates ratespec.RateSpec, isController bool) (forest.Nonce, error) {
	nonce := forest.NewNonce()
	if _, err := p.SetupLeaf(ctx, req, rtrDst, localLink, leafIP, leafPort, nonce, leafAddr, accessRates, leafRates, isController); err != nil {
		return 0, fmt.Errorf("bootLeaf: %w", err)
	}
	if _, err := p.request(ctx, req, leafTunnel, wire.ConfigLeaf, wire.Attrs{
		LeafAddr: leafAddr, RtrAddr: rtrAddr, RtrIP: rtrIP, RtrPort: rtrPort, Nonce: nonce,
	}); err != nil {
		return 0, fmt.Errorf("bootLeaf: CONFIG_LEAF: %w", err)
	}
	return nonce, nil
}
