package comtree

import (
	"fmt"

	"github.com/jonturner53/forestctl/internal/forest"
	"github.com/jonturner53/forestctl/internal/ratespec"
)

// JoinLeaf grows ct to admit a leaf whose access router is accessRouter,
// requesting leafR. On success the leaf is added to
// ct.Leaves and the backbone is extended/reprovisioned as needed; the
// caller is responsible for the router-facing ConfigurationProtocol
// calls this implies (setupEndpoint/setupComtree/setupLeaf) and for
// calling Engine.Provision's network-side counterpart.
//
// Returns the path added to the backbone (nil if accessRouter was
// already a comtree member) so the caller can drive ADD_COMTREE_LINK/
// MOD_COMTREE_LINK for each new router, and the Mods that must be sent
// as MOD_COMTREE_LINK to already-present routers.
func (e *Engine) JoinLeaf(ct *Comtree, leafAddr, accessRouter forest.Addr, localLink int, leafR ratespec.RateSpec) (addedPath []PathEdge, mods []Mod, err error) {
	if _, already := ct.Leaves[leafAddr]; already {
		return nil, nil, nil
	}

	if _, inTree := ct.Routers[accessRouter]; !inTree {
		path, _, ferr := e.FindPath(ct, accessRouter, ct.DefaultBbRates)
		if ferr != nil {
			return nil, nil, fmt.Errorf("comtree: cannot find path to comtree: %w", ferr)
		}
		if err := e.AddPath(ct, path, ct.DefaultBbRates); err != nil {
			return nil, nil, err
		}
		addedPath = path
	}

	accessLink, ok := e.Topo.EndpointLink(accessRouter, localLink)
	if !ok {
		if addedPath != nil {
			_ = e.RemovePath(ct, addedPath)
		}
		return nil, nil, fmt.Errorf("comtree: no access link %d at router %s", localLink, accessRouter)
	}
	if err := e.Topo.Debit(accessLink.ID, leafAddr, leafR); err != nil {
		if addedPath != nil {
			_ = e.RemovePath(ct, addedPath)
		}
		return nil, nil, fmt.Errorf("comtree: cannot find path to comtree: %w", err)
	}

	if err := e.AdjustSubtreeRates(ct, accessRouter, leafR, false); err != nil {
		_ = e.Topo.Credit(accessLink.ID, leafAddr, leafR)
		if addedPath != nil {
			_ = e.RemovePath(ct, addedPath)
		}
		return nil, nil, err
	}

	if ct.ConfigMode == Auto {
		computed, cerr := e.ComputeMods(ct)
		if cerr == nil {
			cerr = e.Provision(ct, computed)
		}
		if cerr != nil {
			e.rollbackJoin(ct, addedPath, accessRouter, leafR, accessLink.ID, leafAddr)
			return nil, nil, fmt.Errorf("comtree: cannot find path to comtree: %w", cerr)
		}
		mods = computed
	}

	ct.Leaves[leafAddr] = &Leaf{
		Addr:            leafAddr,
		ParentRouter:    accessRouter,
		ParentLocalLink: localLink,
		Rates:           leafR,
	}
	if r := ct.Routers[accessRouter]; r != nil {
		r.LinkCount++
	}
	return addedPath, mods, nil
}

func (e *Engine) rollbackJoin(ct *Comtree, addedPath []PathEdge, accessRouter forest.Addr, leafR ratespec.RateSpec, accessLinkID int, leafAddr forest.Addr) {
	_ = e.Topo.Credit(accessLinkID, leafAddr, leafR)
	_ = e.AdjustSubtreeRates(ct, accessRouter, leafR, true)
	if addedPath != nil {
		_ = e.RemovePath(ct, addedPath)
	}
}

// LeaveLeaf shrinks ct when leafAddr departs: subtracts leafR from the
// path to root, recomputes mods, and prunes any router left with zero
// comtree links. Returns the set of routers pruned
// (deepest first) and the mods to send as MOD_COMTREE_LINK.
func (e *Engine) LeaveLeaf(ct *Comtree, leafAddr forest.Addr) (pruned []PathEdge, mods []Mod, err error) {
	leaf, ok := ct.Leaves[leafAddr]
	if !ok {
		return nil, nil, fmt.Errorf("comtree: %s is not a member of comtree %d", leafAddr, ct.Number)
	}
	accessRouter := leaf.ParentRouter

	if err := e.AdjustSubtreeRates(ct, accessRouter, leaf.Rates, true); err != nil {
		return nil, nil, err
	}
	delete(ct.Leaves, leafAddr)
	if r := ct.Routers[accessRouter]; r != nil {
		r.LinkCount--
	}
	if link, ok := e.Topo.EndpointLink(accessRouter, leaf.ParentLocalLink); ok {
		_ = e.Topo.Credit(link.ID, leafAddr, leaf.Rates)
	}

	if ct.ConfigMode == Auto {
		computed, cerr := e.ComputeMods(ct)
		if cerr != nil {
			return nil, nil, cerr
		}
		if err := e.Provision(ct, computed); err != nil {
			return nil, nil, err
		}
		mods = computed
	}

	path, terr := e.TeardownPath(ct, accessRouter)
	if terr != nil {
		return nil, mods, terr
	}
	if len(path) > 0 {
		if err := e.RemovePath(ct, path); err != nil {
			return nil, mods, err
		}
	}
	return path, mods, nil
}
