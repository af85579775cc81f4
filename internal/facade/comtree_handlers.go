package facade

import (
	"context"
	"fmt"

	"github.com/jonturner53/forestctl/internal/comtree"
	"github.com/jonturner53/forestctl/internal/configproto"
	"github.com/jonturner53/forestctl/internal/forest"
	"github.com/jonturner53/forestctl/internal/logger"
	"github.com/jonturner53/forestctl/internal/ratespec"
	"github.com/jonturner53/forestctl/internal/substrate"
	"github.com/jonturner53/forestctl/internal/topology"
	"github.com/jonturner53/forestctl/internal/wire"
)

// handleAddComtree creates a new comtree rooted at a router chosen
// uniformly at random from the requested zip. The comtree's busy-flag
// is held for the whole handler so no other request can observe it
// between creation and the router's ADD_COMTREE/MOD_COMTREE
// acknowledging it.
//
// If the client never sees this POS_REPLY and retries with a fresh
// sequence number of its own choosing (rather than the same-seqNum
// retry, which this handler never sees twice thanks to inbound
// dedup), a second comtree is created and the first is orphaned. The
// wire protocol carries no owner-generated id the controller could
// use to recognize that retry as the same logical request, so
// deduplicating it would mean inventing a new wire field; the lossy
// behavior is kept.
func (f *Facade) handleAddComtree(ctx context.Context, w *substrate.Worker, from substrate.Endpoint, srcAdr forest.Addr, req wire.CtlPkt) {
	rootZip := req.Attrs.RootZip
	candidates := f.Topo.RoutersInZip(rootZip)
	if len(candidates) == 0 {
		f.negReply(w, from, req, fmt.Sprintf("no router in zip %d", rootZip))
		return
	}
	root := f.pickUniform(candidates)
	rtr, ok := f.Topo.Router(root)
	if !ok {
		f.negReply(w, from, req, "internal error: chosen root router vanished")
		return
	}

	comtNum, err := f.Table.AllocateNumber()
	if err != nil {
		f.negReply(w, from, req, err.Error())
		return
	}
	if _, err := f.Table.AddComtree(comtNum, srcAdr, root, comtree.Auto, req.Attrs.DefaultBbRates, req.Attrs.DefaultLeafRates); err != nil {
		f.negReply(w, from, req, err.Error())
		return
	}
	ct, err := f.Table.GetComtree(comtNum)
	if err != nil {
		f.negReply(w, from, req, err.Error())
		return
	}
	defer f.Table.ReleaseComtree(ct)

	dst := routerEndpoint(rtr)
	if _, err := f.Proto.Request(ctx, w, dst, wire.AddComtree, wire.Attrs{Comtree: comtNum}); err != nil {
		_ = f.Table.RemoveComtree(comtNum)
		f.negReply(w, from, req, fmt.Sprintf("ADD_COMTREE: %v", err))
		return
	}
	if _, err := f.Proto.Request(ctx, w, dst, wire.ModComtree, wire.Attrs{Comtree: comtNum, ParentLink: 0, CoreFlag: true}); err != nil {
		_ = f.Table.RemoveComtree(comtNum)
		f.negReply(w, from, req, fmt.Sprintf("MOD_COMTREE: %v", err))
		return
	}

	f.posReply(w, from, req, wire.Attrs{Comtree: comtNum})
}

// handleDropComtree destroys a comtree: every member leaf is made to
// leave first (releasing its share of the backbone reservation), then
// whatever bare backbone remains is torn down from the leaves of the
// comtree tree inward, and finally DROP_COMTREE frees the root's own
// state.
func (f *Facade) handleDropComtree(ctx context.Context, w *substrate.Worker, from substrate.Endpoint, srcAdr forest.Addr, req wire.CtlPkt) {
	comtNum := req.Attrs.Comtree
	ct, err := f.Table.GetComtree(comtNum)
	if err != nil {
		f.negReply(w, from, req, err.Error())
		return
	}
	defer f.Table.ReleaseComtree(ct)

	if ct.Owner != srcAdr {
		f.negReply(w, from, req, "only the owner may drop this comtree")
		return
	}

	for leafAddr := range ct.Leaves {
		if _, _, err := f.Engine.LeaveLeaf(ct, leafAddr); err != nil {
			f.negReply(w, from, req, fmt.Sprintf("dropComtree: leaving %s: %v", leafAddr, err))
			return
		}
	}

	for {
		leafRouter, ok := f.anyNonRootLeafRouter(ct)
		if !ok {
			break
		}
		path, err := f.Engine.TeardownPath(ct, leafRouter)
		if err != nil {
			f.negReply(w, from, req, fmt.Sprintf("dropComtree: %v", err))
			return
		}
		if len(path) == 0 {
			break
		}
		if err := f.Engine.RemovePath(ct, path); err != nil {
			f.negReply(w, from, req, fmt.Sprintf("dropComtree: %v", err))
			return
		}
		for _, edge := range path {
			if rtr, ok := f.Topo.Router(edge.Child); ok {
				if _, err := f.Proto.Request(ctx, w, routerEndpoint(rtr), wire.DropComtree, wire.Attrs{Comtree: comtNum}); err != nil {
					f.Log.Warn("DROP_COMTREE during drop failed", logger.F("router", edge.Child.String()), logger.F("err", err))
				}
			}
		}
	}

	if rootRtr, ok := f.Topo.Router(ct.Root); ok {
		if _, err := f.Proto.Request(ctx, w, routerEndpoint(rootRtr), wire.DropComtree, wire.Attrs{Comtree: comtNum}); err != nil {
			f.Log.Warn("DROP_COMTREE to root failed", logger.F("comtree", comtNum), logger.F("err", err))
		}
	}

	if err := f.Table.RemoveComtree(comtNum); err != nil {
		f.negReply(w, from, req, err.Error())
		return
	}
	f.posReply(w, from, req, wire.Attrs{Comtree: comtNum})
}

// anyNonRootLeafRouter returns a router of ct, other than its root,
// with no comtree children — a candidate for teardownPath.
func (f *Facade) anyNonRootLeafRouter(ct *comtree.Comtree) (forest.Addr, bool) {
	var found forest.Addr
	ok := false
	ct.ForEachRouter(func(r *comtree.Router) {
		if ok || r.Addr == ct.Root {
			return
		}
		if len(r.Children) == 0 {
			found = r.Addr
			ok = true
		}
	})
	return found, ok
}

// handleJoinComtree admits the requesting leaf into a comtree,
// extending the backbone if its access router is not already a
// member.
func (f *Facade) handleJoinComtree(ctx context.Context, w *substrate.Worker, from substrate.Endpoint, srcAdr forest.Addr, req wire.CtlPkt) {
	comtNum := req.Attrs.Comtree
	leaf, ok := f.Topo.Leaf(srcAdr)
	if !ok {
		f.negReply(w, from, req, fmt.Sprintf("no such leaf %s", srcAdr))
		return
	}
	if _, ok := f.Topo.Router(leaf.AccessRouter); !ok {
		f.negReply(w, from, req, fmt.Sprintf("no such access router %s", leaf.AccessRouter))
		return
	}

	ct, err := f.Table.GetComtree(comtNum)
	if err != nil {
		f.negReply(w, from, req, err.Error())
		return
	}
	defer f.Table.ReleaseComtree(ct)

	leafRates := ct.DefaultLeafRates
	addedPath, mods, err := f.Engine.JoinLeaf(ct, srcAdr, leaf.AccessRouter, leaf.AccessLocalLink, leafRates)
	if err != nil {
		f.negReply(w, from, req, fmt.Sprintf("cannot find path to comtree: %v", err))
		return
	}

	if err := f.provisionJoinedPath(ctx, w, ct, addedPath, leaf, leafRates); err != nil {
		_, _, _ = f.Engine.LeaveLeaf(ct, srcAdr)
		f.negReply(w, from, req, err.Error())
		return
	}

	if err := f.sendMods(ctx, w, ct, mods); err != nil {
		f.Log.Warn("failed to push rate mods after join", logger.F("comtree", comtNum), logger.F("err", err))
	}

	f.posReply(w, from, req, wire.Attrs{Comtree: comtNum})
}

// provisionJoinedPath drives the router-facing ConfigurationProtocol
// transactions implied by a successful Engine.JoinLeaf: every newly
// added router gets ADD_COMTREE plus its own parent comtree link (and,
// at the deepest/access router, the leaf's own access link); the
// router at the shallow end of each new edge — whether it is the
// pre-existing branch router or another router added earlier in this
// same walk — gets the matching ADD_COMTREE_LINK/MOD_COMTREE_LINK for
// the child it has gained.
func (f *Facade) provisionJoinedPath(ctx context.Context, w *substrate.Worker, ct *comtree.Comtree, addedPath []comtree.PathEdge, leaf *topology.Leaf, leafRates ratespec.RateSpec) error {
	for i := len(addedPath) - 1; i >= 0; i-- {
		edge := addedPath[i]
		link, ok := f.Topo.Link(edge.LinkID)
		if !ok {
			return fmt.Errorf("joinComtree: no such link %d", edge.LinkID)
		}
		childEnd, ok := link.EndOf(edge.Child)
		if !ok {
			return fmt.Errorf("joinComtree: link %d not incident to %s", edge.LinkID, edge.Child)
		}
		parentEnd, ok := link.OtherEnd(edge.Child)
		if !ok {
			return fmt.Errorf("joinComtree: link %d has no far end", edge.LinkID)
		}
		childRtr, ok := f.Topo.Router(edge.Child)
		if !ok {
			return fmt.Errorf("joinComtree: no such router %s", edge.Child)
		}
		r := ct.Routers[edge.Child]
		if r == nil {
			return fmt.Errorf("joinComtree: %s missing from comtree %d after addPath", edge.Child, ct.Number)
		}

		links := []configproto.ComtreeLinkSpec{{LocalLink: childEnd.LocalLink, Rates: r.PlinkRates}}
		if i == 0 {
			// deepest router of the new branch: also admit the leaf's
			// own access link into this comtree.
			links = append(links, configproto.ComtreeLinkSpec{LocalLink: leaf.AccessLocalLink, Rates: leafRates})
		}
		if err := f.Proto.SetupComtree(ctx, w, routerEndpoint(childRtr), ct.Number, links, childEnd.LocalLink, false); err != nil {
			return fmt.Errorf("joinComtree: configuring %s: %w", edge.Child, err)
		}

		if parentRtr, ok := f.Topo.Router(parentEnd.Addr); ok {
			if _, err := f.Proto.Request(ctx, w, routerEndpoint(parentRtr), wire.AddComtreeLink, wire.Attrs{
				Comtree: ct.Number, Link: parentEnd.LocalLink,
			}); err != nil {
				return fmt.Errorf("joinComtree: ADD_COMTREE_LINK at %s: %w", parentEnd.Addr, err)
			}
			if _, err := f.Proto.Request(ctx, w, routerEndpoint(parentRtr), wire.ModComtreeLink, wire.Attrs{
				Comtree: ct.Number, Link: parentEnd.LocalLink, Rates: r.PlinkRates.Flip(),
			}); err != nil {
				return fmt.Errorf("joinComtree: MOD_COMTREE_LINK at %s: %w", parentEnd.Addr, err)
			}
		}
	}
	return nil
}

// sendMods pushes computeMods' output to the underlay as
// MOD_COMTREE_LINK transactions: each mod's router already has its new
// PlinkRates applied in memory by Engine.Provision, so the wire value
// sent is that absolute rate, not the delta.
func (f *Facade) sendMods(ctx context.Context, w *substrate.Worker, ct *comtree.Comtree, mods []comtree.Mod) error {
	var firstErr error
	for _, m := range mods {
		link, ok := f.Topo.Link(m.LinkID)
		if !ok {
			continue
		}
		childEnd, ok := link.EndOf(m.Child)
		if !ok {
			continue
		}
		rtr, ok := f.Topo.Router(m.Child)
		if !ok {
			continue
		}
		r := ct.Routers[m.Child]
		if r == nil {
			continue
		}
		if _, err := f.Proto.Request(ctx, w, routerEndpoint(rtr), wire.ModComtreeLink, wire.Attrs{
			Comtree: ct.Number, Link: childEnd.LocalLink, Rates: r.PlinkRates,
		}); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// handleLeaveComtree removes the requesting leaf from a comtree,
// releasing its share of the backbone reservation and pruning any
// router left with no remaining comtree links.
func (f *Facade) handleLeaveComtree(ctx context.Context, w *substrate.Worker, from substrate.Endpoint, srcAdr forest.Addr, req wire.CtlPkt) {
	comtNum := req.Attrs.Comtree
	ct, err := f.Table.GetComtree(comtNum)
	if err != nil {
		f.negReply(w, from, req, err.Error())
		return
	}
	defer f.Table.ReleaseComtree(ct)

	if _, ok := ct.Leaves[srcAdr]; !ok {
		f.negReply(w, from, req, fmt.Sprintf("%s is not a member of comtree %d", srcAdr, comtNum))
		return
	}

	pruned, mods, err := f.Engine.LeaveLeaf(ct, srcAdr)
	if err != nil {
		f.negReply(w, from, req, err.Error())
		return
	}

	if err := f.sendMods(ctx, w, ct, mods); err != nil {
		f.Log.Warn("failed to push rate mods after leave", logger.F("comtree", comtNum), logger.F("err", err))
	}

	for _, edge := range pruned {
		if rtr, ok := f.Topo.Router(edge.Child); ok {
			if _, err := f.Proto.Request(ctx, w, routerEndpoint(rtr), wire.DropComtree, wire.Attrs{Comtree: comtNum}); err != nil {
				f.Log.Warn("DROP_COMTREE during leave failed", logger.F("router", edge.Child.String()), logger.F("err", err))
			}
		}
	}

	f.posReply(w, from, req, wire.Attrs{Comtree: comtNum})
}
