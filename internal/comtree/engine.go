package comtree

import (
	"container/heap"
	"fmt"

	"github.com/jonturner53/forestctl/internal/forest"
	"github.com/jonturner53/forestctl/internal/logger"
	"github.com/jonturner53/forestctl/internal/ratespec"
	"github.com/jonturner53/forestctl/internal/topology"
)

// Engine implements the path-search and provisioning algorithms that
// grow and shrink comtrees. It holds no comtree state
// of its own; Table and Topology are the sources of truth.
type Engine struct {
	Topo  *topology.Topology
	Table *Table
	Log   logger.Logger
}

// NewEngine returns a comtree Engine bound to topo and table.
func NewEngine(topo *topology.Topology, table *Table, log logger.Logger) *Engine {
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Engine{Topo: topo, Table: table, Log: log}
}

// PathEdge is one link of a path produced by findPath: link is the
// underlay link used, child is the router at its deeper (farther from
// the comtree) end.
type PathEdge struct {
	LinkID int
	Child  forest.Addr
}

type searchNode struct {
	addr  forest.Addr
	dist  float64
	pred  forest.Addr
	link  int
	ok    bool // has a predecessor (false only for the search root)
	index int
}

type searchQueue []*searchNode

func (q searchQueue) Len() int            { return len(q) }
func (q searchQueue) Less(i, j int) bool  { return q[i].dist < q[j].dist }
func (q searchQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i]; q[i].index = i; q[j].index = j }
func (q *searchQueue) Push(x interface{}) {
	n := x.(*searchNode)
	n.index = len(*q)
	*q = append(*q, n)
}
func (q *searchQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// FindPath runs Dijkstra from src over routers only, relaxing an edge
// only when rs fits the directional available rate on the child side,
// and halts the first time it settles a router already in ct. Returns
// the path from src to that branch router, ordered deep to shallow.
func (e *Engine) FindPath(ct *Comtree, src forest.Addr, rs ratespec.RateSpec) ([]PathEdge, forest.Addr, error) {
	dist := map[forest.Addr]*searchNode{}
	settled := map[forest.Addr]bool{}

	start := &searchNode{addr: src, dist: 0, ok: false}
	dist[src] = start
	pq := &searchQueue{start}
	heap.Init(pq)

	for pq.Len() > 0 {
		cur := heap.Pop(pq).(*searchNode)
		if settled[cur.addr] {
			continue
		}
		settled[cur.addr] = true

		if _, inTree := ct.Routers[cur.addr]; inTree && cur.addr != src {
			return reconstructPath(dist, cur.addr, src), cur.addr, nil
		}

		for _, l := range e.Topo.RouterLinks(cur.addr) {
			other, ok := l.OtherEnd(cur.addr)
			if !ok || !other.IsRouter {
				continue
			}
			if settled[other.Addr] {
				continue
			}
			avail := l.AvailableFrom(cur.addr)
			if !rs.Leq(avail) {
				continue
			}
			nd := cur.dist + l.Length
			existing, seen := dist[other.Addr]
			if !seen || nd < existing.dist {
				node := &searchNode{addr: other.Addr, dist: nd, pred: cur.addr, link: l.ID, ok: true}
				dist[other.Addr] = node
				heap.Push(pq, node)
			}
		}
	}
	return nil, forest.NoAddr, fmt.Errorf("comtree: no path with sufficient capacity from %s", src)
}

// reconstructPath walks the predecessor chain from branch back to src,
// which visits edges shallow to deep; it reverses that into the
// deep-to-shallow order findPath promises.
func reconstructPath(dist map[forest.Addr]*searchNode, branch, src forest.Addr) []PathEdge {
	var shallowToDeep []PathEdge
	cur := branch
	for cur != src {
		n := dist[cur]
		shallowToDeep = append(shallowToDeep, PathEdge{LinkID: n.link, Child: n.pred})
		cur = n.pred
	}
	out := make([]PathEdge, len(shallowToDeep))
	for i, e := range shallowToDeep {
		out[len(shallowToDeep)-1-i] = e
	}
	return out
}

// AddPath provisions every edge of path, shallow to deep: for each
// edge it adds Child to ct as a router, wires its parent-link, debits
// underlay capacity, and records plnkRates. Caller
// must hold ct's busy-flag.
func (e *Engine) AddPath(ct *Comtree, path []PathEdge, rs ratespec.RateSpec) error {
	for i := len(path) - 1; i >= 0; i-- {
		edge := path[i]
		link, ok := e.Topo.Link(edge.LinkID)
		if !ok {
			return fmt.Errorf("comtree: addPath: no such link %d", edge.LinkID)
		}
		parentEnd, ok := link.OtherEnd(edge.Child)
		if !ok {
			return fmt.Errorf("comtree: addPath: link %d not incident to %s", edge.LinkID, edge.Child)
		}
		childEnd, _ := link.EndOf(edge.Child)

		if err := e.Topo.Debit(edge.LinkID, edge.Child, rs); err != nil {
			return fmt.Errorf("comtree: addPath: %w", err)
		}

		r := ct.Routers[edge.Child]
		if r == nil {
			r = &Router{Addr: edge.Child, Children: make(map[forest.Addr]bool)}
			ct.Routers[edge.Child] = r
		}
		r.ParentLink = childEnd.LocalLink
		r.PlinkRates = rs
		r.LinkCount++

		if parent := ct.Routers[parentEnd.Addr]; parent != nil {
			if parent.Children == nil {
				parent.Children = make(map[forest.Addr]bool)
			}
			parent.Children[edge.Child] = true
			parent.LinkCount++
		}
	}
	return nil
}

// RemovePath is the exact inverse of AddPath: it credits back capacity
// and unlinks each router from its parent, deep to shallow. Each edge
// is credited by that router's own current PlinkRates (which auto-mode
// recompute may have changed since AddPath), not a caller-supplied
// value, so the release always matches what is actually reserved.
func (e *Engine) RemovePath(ct *Comtree, path []PathEdge) error {
	for _, edge := range path {
		link, ok := e.Topo.Link(edge.LinkID)
		if !ok {
			return fmt.Errorf("comtree: removePath: no such link %d", edge.LinkID)
		}
		parentEnd, ok := link.OtherEnd(edge.Child)
		if !ok {
			return fmt.Errorf("comtree: removePath: link %d not incident to %s", edge.LinkID, edge.Child)
		}
		r := ct.Routers[edge.Child]
		if r == nil {
			return fmt.Errorf("comtree: removePath: %s is not a comtree router", edge.Child)
		}
		if err := e.Topo.Credit(edge.LinkID, edge.Child, r.PlinkRates); err != nil {
			return fmt.Errorf("comtree: removePath: %w", err)
		}
		if parent := ct.Routers[parentEnd.Addr]; parent != nil {
			delete(parent.Children, edge.Child)
			parent.LinkCount--
		}
		delete(ct.Routers, edge.Child)
	}
	return nil
}

// AdjustSubtreeRates walks from router addr up to the root, adding rs
// to (or, when negative is set, subtracting it from) the subtree rates
// of addr and every ancestor. A cycle in the parent chain is a program error and is
// detected rather than looped on.
func (e *Engine) AdjustSubtreeRates(ct *Comtree, addr forest.Addr, rs ratespec.RateSpec, negative bool) error {
	seen := map[forest.Addr]bool{}
	cur := addr
	for {
		if seen[cur] {
			return fmt.Errorf("comtree: cycle detected walking to root from %s", addr)
		}
		seen[cur] = true
		r, ok := ct.Routers[cur]
		if !ok {
			return fmt.Errorf("comtree: %s is not a comtree router", cur)
		}
		if negative {
			r.SubtreeRates = r.SubtreeRates.Subtract(rs)
		} else {
			r.SubtreeRates = r.SubtreeRates.Add(rs)
		}
		if cur == ct.Root {
			return nil
		}
		parent, ok := e.parentOf(ct, cur)
		if !ok {
			return fmt.Errorf("comtree: %s has no parent and is not the root", cur)
		}
		cur = parent
	}
}

func (e *Engine) parentOf(ct *Comtree, addr forest.Addr) (forest.Addr, bool) {
	r := ct.Routers[addr]
	if r == nil || r.ParentLink == 0 {
		return forest.NoAddr, false
	}
	link, ok := e.Topo.EndpointLink(addr, r.ParentLink)
	if !ok {
		return forest.NoAddr, false
	}
	other, ok := link.OtherEnd(addr)
	if !ok {
		return forest.NoAddr, false
	}
	return other.Addr, true
}

// Mod is one entry of computeMods: a backbone link whose provisioned
// rate must change.
type Mod struct {
	LinkID int
	Child  forest.Addr
	Delta  ratespec.RateSpec // signed: negative components mean "release"
}

// ComputeMods walks every non-frozen router of ct and recomputes its
// parent-link rate from its subtree rates; manual
// mode returns no mods since rates are frozen at creation.
func (e *Engine) ComputeMods(ct *Comtree) ([]Mod, error) {
	if ct.ConfigMode == Manual {
		return nil, nil
	}
	root, ok := ct.Routers[ct.Root]
	if !ok {
		return nil, fmt.Errorf("comtree: root %s missing from comtree %d", ct.Root, ct.Number)
	}
	var mods []Mod
	for addr, r := range ct.Routers {
		if addr == ct.Root || r.Frozen {
			continue
		}
		wantUp := r.SubtreeRates.BitRateUp
		wantUpPkt := r.SubtreeRates.PktRateUp
		var wantDown, wantDownPkt int64
		if r.Core {
			wantDown = root.SubtreeRates.BitRateUp - r.SubtreeRates.BitRateUp
			wantDownPkt = root.SubtreeRates.PktRateUp - r.SubtreeRates.PktRateUp
		} else {
			headroom := root.SubtreeRates.BitRateUp - r.SubtreeRates.BitRateUp
			headroomPkt := root.SubtreeRates.PktRateUp - r.SubtreeRates.PktRateUp
			wantDown = min64(r.SubtreeRates.BitRateDown, headroom)
			wantDownPkt = min64(r.SubtreeRates.PktRateDown, headroomPkt)
		}
		if wantDown < 0 {
			wantDown = 0
		}
		if wantDownPkt < 0 {
			wantDownPkt = 0
		}
		want := ratespec.New(wantUp, wantDown, wantUpPkt, wantDownPkt)
		if want == r.PlinkRates {
			continue
		}
		delta := ratespec.RateSpec{
			BitRateUp:   want.BitRateUp - r.PlinkRates.BitRateUp,
			BitRateDown: want.BitRateDown - r.PlinkRates.BitRateDown,
			PktRateUp:   want.PktRateUp - r.PlinkRates.PktRateUp,
			PktRateDown: want.PktRateDown - r.PlinkRates.PktRateDown,
		}
		link, ok := e.Topo.EndpointLink(addr, r.ParentLink)
		if !ok {
			return nil, fmt.Errorf("comtree: no parent link %d for router %s", r.ParentLink, addr)
		}
		mods = append(mods, Mod{LinkID: link.ID, Child: addr, Delta: delta})
	}
	return mods, nil
}

// Provision applies mods to the underlay and to each router's stored
// PlinkRates. A mod's Delta is signed — it may reserve more in one
// direction while releasing the other. On failure every
// already-applied mod is reversed before returning, so a rejected
// provisioning never leaves a partial reservation.
func (e *Engine) Provision(ct *Comtree, mods []Mod) error {
	applied := 0
	var failure error
	for _, m := range mods {
		if err := e.applyMod(ct, m); err != nil {
			failure = fmt.Errorf("comtree: provision: %w", err)
			break
		}
		applied++
	}
	if failure == nil {
		return nil
	}
	for i := applied - 1; i >= 0; i-- {
		m := mods[i]
		m.Delta = negate(m.Delta)
		_ = e.applyMod(ct, m)
	}
	return failure
}

func (e *Engine) applyMod(ct *Comtree, m Mod) error {
	r := ct.Routers[m.Child]
	if r == nil {
		return fmt.Errorf("%s is not a comtree router", m.Child)
	}
	if err := e.Topo.Adjust(m.LinkID, m.Child, m.Delta); err != nil {
		return err
	}
	r.PlinkRates = ratespec.RateSpec{
		BitRateUp:   r.PlinkRates.BitRateUp + m.Delta.BitRateUp,
		BitRateDown: r.PlinkRates.BitRateDown + m.Delta.BitRateDown,
		PktRateUp:   r.PlinkRates.PktRateUp + m.Delta.PktRateUp,
		PktRateDown: r.PlinkRates.PktRateDown + m.Delta.PktRateDown,
	}
	return nil
}

func negate(rs ratespec.RateSpec) ratespec.RateSpec {
	return ratespec.RateSpec{
		BitRateUp:   -rs.BitRateUp,
		BitRateDown: -rs.BitRateDown,
		PktRateUp:   -rs.PktRateUp,
		PktRateDown: -rs.PktRateDown,
	}
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// TeardownPath walks from leafRouter upward, dropping each router whose
// comtree link count — parent plus children plus leaves, minus
// whichever of its children this same walk has already marked for
// removal — has dropped to zero non-parent links, stopping at the
// first branching, root, or core router.
func (e *Engine) TeardownPath(ct *Comtree, leafRouter forest.Addr) ([]PathEdge, error) {
	var path []PathEdge
	removedChildren := map[forest.Addr]int{}
	cur := leafRouter
	for {
		r, ok := ct.Routers[cur]
		if !ok {
			return path, nil
		}
		nonParentLinks := r.LinkCount - removedChildren[cur]
		if r.ParentLink != 0 {
			nonParentLinks--
		}
		if cur == ct.Root || nonParentLinks > 0 || r.Core {
			return path, nil
		}
		link, ok := e.Topo.EndpointLink(cur, r.ParentLink)
		if !ok {
			return path, fmt.Errorf("comtree: teardownPath: no parent link for %s", cur)
		}
		parent, ok := link.OtherEnd(cur)
		if !ok {
			return path, fmt.Errorf("comtree: teardownPath: link %d not incident to %s", link.ID, cur)
		}
		path = append(path, PathEdge{LinkID: link.ID, Child: cur})
		removedChildren[parent.Addr]++
		cur = parent.Addr
	}
}
