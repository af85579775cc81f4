package facade

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/jonturner53/forestctl/internal/forest"
	"github.com/jonturner53/forestctl/internal/logger"
	"github.com/jonturner53/forestctl/internal/substrate"
	"github.com/jonturner53/forestctl/internal/topology"
	"github.com/jonturner53/forestctl/internal/wire"
)

// handleClientConnect marks a leaf UP once its access router reports
// it connected.
func (f *Facade) handleClientConnect(ctx context.Context, w *substrate.Worker, from substrate.Endpoint, srcAdr forest.Addr, req wire.CtlPkt) {
	leafAddr := req.Attrs.LeafAddr
	if err := f.Topo.SetLeafStatus(leafAddr, topology.Up); err != nil {
		f.negReply(w, from, req, err.Error())
		return
	}
	f.posReply(w, from, req, wire.Attrs{})
}

// handleClientDisconnect marks a leaf DOWN once its access router
// reports it disconnected.
func (f *Facade) handleClientDisconnect(ctx context.Context, w *substrate.Worker, from substrate.Endpoint, srcAdr forest.Addr, req wire.CtlPkt) {
	leafAddr := req.Attrs.LeafAddr
	if err := f.Topo.SetLeafStatus(leafAddr, topology.Down); err != nil {
		f.negReply(w, from, req, err.Error())
		return
	}
	f.posReply(w, from, req, wire.Attrs{})
}

// handleNewSession admits a client with no static leaf record: its
// access router is found by longest-prefix match on its IP, a dynamic
// leaf address and local link are minted from that router's free pool,
// and setupLeaf/CONFIG_LEAF are driven exactly as for a static leaf's
// bootLeaf.
func (f *Facade) handleNewSession(ctx context.Context, w *substrate.Worker, from substrate.Endpoint, srcAdr forest.Addr, req wire.CtlPkt) {
	ipAddr, err := netip.ParseAddr(req.Attrs.ClientIP)
	if err != nil {
		f.negReply(w, from, req, fmt.Sprintf("invalid client IP %q", req.Attrs.ClientIP))
		return
	}
	accessAddr, ok := f.Prefix.Lookup(ipAddr)
	if !ok {
		f.negReply(w, from, req, fmt.Sprintf("no access router configured for %s", req.Attrs.ClientIP))
		return
	}
	accessRtr, ok := f.Topo.Router(accessAddr)
	if !ok || accessRtr.Status != topology.Up {
		f.negReply(w, from, req, "access router not available")
		return
	}

	localLink, leafAddr, leafLocal, err := f.allocateDynamicLeaf(accessRtr)
	if err != nil {
		f.negReply(w, from, req, err.Error())
		return
	}

	linkID := f.Topo.AddLink(&topology.Link{
		Left:      topology.Endpoint{Addr: accessRtr.Addr, IsRouter: true, LocalLink: localLink},
		Right:     topology.Endpoint{Addr: leafAddr, IsRouter: false},
		Capacity:  f.Topo.DefaultLinkRates,
		Available: f.Topo.DefaultLinkRates,
	})

	nonce, err := f.Proto.BootLeaf(ctx, w, routerEndpoint(accessRtr), localLink, from,
		req.Attrs.ClientIP, req.Attrs.ClientPort, leafAddr, accessRtr.Addr,
		accessRtr.IP.String(), accessRtr.Port, f.Topo.DefaultLinkRates, f.Topo.DefaultLinkRates, false)
	if err != nil {
		_ = f.Topo.RemoveLink(linkID)
		f.freeDynamicLeaf(accessRtr.Addr, localLink, leafLocal)
		f.negReply(w, from, req, err.Error())
		return
	}

	f.Topo.AddLeaf(&topology.Leaf{
		Addr:            leafAddr,
		Kind:            topology.ClientLeaf,
		IP:              net.ParseIP(req.Attrs.ClientIP),
		Port:            req.Attrs.ClientPort,
		Static:          false,
		Status:          topology.Up,
		AccessRouter:    accessRtr.Addr,
		AccessLocalLink: localLink,
	})

	sessID := newSessionID()
	f.sessMu.Lock()
	f.sessions[sessID] = session{clientAddr: srcAdr, leafAddr: leafAddr, createdAt: time.Now()}
	f.sessMu.Unlock()

	f.posReply(w, from, req, wire.Attrs{LeafAddr: leafAddr, Nonce: nonce, SessionID: sessID})
}

// handleCancelSession drops a dynamic leaf's link at its access router
// and frees its address and local link number back to the pool.
func (f *Facade) handleCancelSession(ctx context.Context, w *substrate.Worker, from substrate.Endpoint, srcAdr forest.Addr, req wire.CtlPkt) {
	sessID := req.Attrs.SessionID
	f.sessMu.Lock()
	sess, ok := f.sessions[sessID]
	if ok {
		delete(f.sessions, sessID)
	}
	f.sessMu.Unlock()
	if !ok {
		f.negReply(w, from, req, fmt.Sprintf("no such session %q", sessID))
		return
	}

	leaf, ok := f.Topo.Leaf(sess.leafAddr)
	if !ok {
		f.negReply(w, from, req, fmt.Sprintf("no such leaf %s", sess.leafAddr))
		return
	}

	if accessRtr, ok := f.Topo.Router(leaf.AccessRouter); ok {
		if _, err := f.Proto.Request(ctx, w, routerEndpoint(accessRtr), wire.DropLink, wire.Attrs{
			Link: leaf.AccessLocalLink,
		}); err != nil {
			f.Log.Warn("DROP_LINK during cancel-session failed", logger.F("err", err))
		}
		if link, ok := f.Topo.EndpointLink(accessRtr.Addr, leaf.AccessLocalLink); ok {
			_ = f.Topo.RemoveLink(link.ID)
		}
		f.freeDynamicLeaf(accessRtr.Addr, leaf.AccessLocalLink, uint16(leaf.Addr.Local()))
	}

	_ = f.Topo.SetLeafStatus(leaf.Addr, topology.Down)
	f.posReply(w, from, req, wire.Attrs{})
}

// allocateDynamicLeaf mints a fresh (local link number, leaf address)
// pair from rtr's free pool, reusing anything handleCancelSession has
// freed before growing rtr's leaf range or one of its interfaces'
// local-link ranges further.
func (f *Facade) allocateDynamicLeaf(rtr *topology.Router) (localLink int, addr forest.Addr, leafLocal uint16, err error) {
	f.leafAllocMu.Lock()
	defer f.leafAllocMu.Unlock()

	a, ok := f.leafAlloc[rtr.Addr]
	if !ok {
		var iface *topology.Interface
		for _, i := range rtr.Interfaces {
			iface = i
			break
		}
		if iface == nil {
			return 0, forest.NoAddr, 0, fmt.Errorf("facade: router %s has no interfaces for dynamic leaves", rtr.Addr)
		}
		a = &leafAllocator{nextLeaf: rtr.LeafRange.Lo, nextLink: iface.LinkLo, linkHi: iface.LinkHi}
		f.leafAlloc[rtr.Addr] = a
	}

	if len(a.freeLeaves) > 0 {
		leafLocal = a.freeLeaves[len(a.freeLeaves)-1]
		a.freeLeaves = a.freeLeaves[:len(a.freeLeaves)-1]
	} else if a.nextLeaf <= rtr.LeafRange.Hi {
		leafLocal = a.nextLeaf
		a.nextLeaf++
	} else {
		return 0, forest.NoAddr, 0, fmt.Errorf("facade: no free dynamic leaf address at %s", rtr.Addr)
	}

	if len(a.freeLinks) > 0 {
		localLink = a.freeLinks[len(a.freeLinks)-1]
		a.freeLinks = a.freeLinks[:len(a.freeLinks)-1]
	} else {
		// skip local link numbers the topology file already assigned
		// to static links
		for a.nextLink <= a.linkHi {
			candidate := a.nextLink
			a.nextLink++
			if _, used := f.Topo.EndpointLink(rtr.Addr, candidate); !used {
				localLink = candidate
				break
			}
		}
		if localLink == 0 {
			a.freeLeaves = append(a.freeLeaves, leafLocal) // undo the leaf allocation above
			return 0, forest.NoAddr, 0, fmt.Errorf("facade: no free local link number at %s", rtr.Addr)
		}
	}

	return localLink, forest.MakeAddr(rtr.Addr.Zip(), leafLocal), leafLocal, nil
}

// freeDynamicLeaf returns a dynamic leaf's local link number and leaf
// address to router's free pool.
func (f *Facade) freeDynamicLeaf(router forest.Addr, localLink int, leafLocal uint16) {
	f.leafAllocMu.Lock()
	defer f.leafAllocMu.Unlock()
	a, ok := f.leafAlloc[router]
	if !ok {
		return
	}
	a.freeLinks = append(a.freeLinks, localLink)
	a.freeLeaves = append(a.freeLeaves, leafLocal)
}
