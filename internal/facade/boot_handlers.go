package facade

import (
	"context"
	"fmt"

	"github.com/jonturner53/forestctl/internal/configproto"
	"github.com/jonturner53/forestctl/internal/forest"
	"github.com/jonturner53/forestctl/internal/logger"
	"github.com/jonturner53/forestctl/internal/substrate"
	"github.com/jonturner53/forestctl/internal/topology"
	"github.com/jonturner53/forestctl/internal/wire"
)

// handleBootRouter drives a router through the full boot sequence:
// POS_REPLY first, then SET_LEAF_RANGE, interfaces, router-to-router
// links, and every pre-configured comtree this router belongs to.
// configproto.Protocol.BootRouter already sends the reply and, on
// failure, BOOT_ABORT; this handler's
// job is only to gather rtr's current configuration and to update its
// topology status.
func (f *Facade) handleBootRouter(ctx context.Context, w *substrate.Worker, from substrate.Endpoint, srcAdr forest.Addr, req wire.CtlPkt) {
	rtr, ok := f.Topo.Router(srcAdr)
	if !ok {
		f.negReply(w, from, req, fmt.Sprintf("no such router %s", srcAdr))
		return
	}

	_ = f.Topo.SetRouterStatus(rtr.Addr, topology.Booting)

	ifaces := make([]configproto.Iface, 0, len(rtr.Interfaces))
	for _, iface := range rtr.Interfaces {
		ifaces = append(ifaces, configproto.Iface{
			Number: iface.Number,
			IP:     iface.IP.String(),
			LinkLo: iface.LinkLo,
			LinkHi: iface.LinkHi,
			Rates:  iface.Capacity,
		})
	}

	links := f.routerToRouterLinks(rtr)
	comtrees := f.preconfiguredComtrees(rtr.Addr)

	leafRangeLo := forest.MakeAddr(rtr.LeafRange.Zip, rtr.LeafRange.Lo)
	leafRangeHi := forest.MakeAddr(rtr.LeafRange.Zip, rtr.LeafRange.Hi)

	// The merged ComtCtl+NetMgr process this module implements has no
	// separate "net-manager's own router" bootstrap step — a
	// controller-leaf session is established the same way any other
	// controller leaf is, via handleNewSession/handleBootLeaf — so the
	// final own-leaf setup step of a split net-manager never applies.
	if err := f.Proto.BootRouter(ctx, w, from, req.SeqNum, leafRangeLo, leafRangeHi, ifaces, links, comtrees, nil); err != nil {
		_ = f.Topo.SetRouterStatus(rtr.Addr, topology.Down)
		f.Log.Warn("bootRouter failed", logger.F("router", rtr.Addr.String()), logger.F("err", err))
		return
	}
	_ = f.Topo.SetRouterStatus(rtr.Addr, topology.Up)
}

// routerToRouterLinks gathers every underlay link incident at rtr that
// reaches another router, in the shape configproto.BootRouter needs.
func (f *Facade) routerToRouterLinks(rtr *topology.Router) []configproto.RouterLink {
	var out []configproto.RouterLink
	for _, link := range f.Topo.RouterLinks(rtr.Addr) {
		other, ok := link.OtherEnd(rtr.Addr)
		if !ok || !other.IsRouter {
			continue
		}
		mine, _ := link.EndOf(rtr.Addr)

		ip, port := "", 0
		up := false
		if peer, ok := f.Topo.Router(other.Addr); ok {
			up = peer.Status == topology.Up
			ip = peer.IP.String()
			port = peer.Port
		}
		out = append(out, configproto.RouterLink{
			LocalLink: mine.LocalLink,
			PeerUp:    up,
			PeerIP:    ip,
			PeerPort:  port,
			Nonce:     link.Nonce,
			Rates:     link.Capacity,
		})
	}
	return out
}

// preconfiguredComtrees lists every comtree addr already belongs to
// (per the comtree file loaded at startup), with the backbone links
// incident at addr that setupComtree needs to re-establish.
func (f *Facade) preconfiguredComtrees(addr forest.Addr) []configproto.PreconfiguredComtree {
	var out []configproto.PreconfiguredComtree
	for _, num := range f.Table.Numbers() {
		ct, err := f.Table.GetComtree(num)
		if err != nil {
			continue
		}
		r, inTree := ct.Routers[addr]
		if !inTree {
			f.Table.ReleaseComtree(ct)
			continue
		}

		var links []configproto.ComtreeLinkSpec
		if r.ParentLink != 0 {
			links = append(links, configproto.ComtreeLinkSpec{LocalLink: r.ParentLink, Rates: r.PlinkRates})
		}
		for child := range r.Children {
			cr, ok := ct.Routers[child]
			if !ok {
				continue
			}
			for _, link := range f.Topo.RouterLinks(addr) {
				other, ok := link.OtherEnd(addr)
				if !ok || other.Addr != child {
					continue
				}
				mine, _ := link.EndOf(addr)
				links = append(links, configproto.ComtreeLinkSpec{LocalLink: mine.LocalLink, Rates: cr.PlinkRates})
				break
			}
		}

		out = append(out, configproto.PreconfiguredComtree{
			Number:     num,
			Links:      links,
			ParentLink: r.ParentLink,
			Core:       r.Core,
		})
		f.Table.ReleaseComtree(ct)
	}
	return out
}

// handleBootLeaf admits a leaf identified by its source IP: rejects an already-UP leaf after re-sending the
// POS_REPLY (robust to reply loss), requires the leaf's access router
// to be UP, then drives setupLeaf and CONFIG_LEAF.
func (f *Facade) handleBootLeaf(ctx context.Context, w *substrate.Worker, from substrate.Endpoint, srcAdr forest.Addr, req wire.CtlPkt) {
	leaf, ok := f.Topo.LeafByIP(from.IP)
	if !ok {
		f.negReply(w, from, req, fmt.Sprintf("no leaf configured for %s", from.IP))
		return
	}
	if leaf.Status == topology.Up {
		f.posReply(w, from, req, wire.Attrs{LeafAddr: leaf.Addr})
		return
	}
	accessRtr, ok := f.Topo.Router(leaf.AccessRouter)
	if !ok || accessRtr.Status != topology.Up {
		f.negReply(w, from, req, "access router is not up")
		return
	}

	_ = f.Topo.SetLeafStatus(leaf.Addr, topology.Booting)
	isController := leaf.Kind == topology.ControllerLeaf
	nonce, err := f.Proto.BootLeaf(ctx, w, routerEndpoint(accessRtr), leaf.AccessLocalLink, from,
		leaf.IP.String(), leaf.Port, leaf.Addr, accessRtr.Addr, accessRtr.IP.String(), accessRtr.Port,
		f.Topo.DefaultLinkRates, f.Topo.DefaultLinkRates, isController)
	if err != nil {
		_ = f.Topo.SetLeafStatus(leaf.Addr, topology.Down)
		f.negReply(w, from, req, err.Error())
		return
	}
	_ = f.Topo.SetLeafStatus(leaf.Addr, topology.Up)
	f.posReply(w, from, req, wire.Attrs{LeafAddr: leaf.Addr, Nonce: nonce})
}
