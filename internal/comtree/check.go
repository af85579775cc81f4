package comtree

import (
	"fmt"

	"github.com/jonturner53/forestctl/internal/forest"
	"github.com/jonturner53/forestctl/internal/ratespec"
	"github.com/jonturner53/forestctl/internal/topology"
)

// Check runs the full post-load verification suite:
// link-count consistency, tree shape, core-closure, zip contiguity,
// subtree-rate consistency, and (auto mode only) link-rate
// consistency. Any failure aborts startup, so Check returns the first
// error it finds rather than accumulating.
func (e *Engine) Check(ct *Comtree) error {
	for addr, r := range ct.Routers {
		want := len(r.Children)
		if r.ParentLink != 0 {
			want++
		}
		for _, l := range ct.Leaves {
			if l.ParentRouter == addr {
				want++
			}
		}
		if r.LinkCount != want {
			return fmt.Errorf("comtree %d: router %s link count = %d, recomputed %d", ct.Number, addr, r.LinkCount, want)
		}
	}
	if err := e.checkTreeShape(ct); err != nil {
		return err
	}
	if err := e.checkCoreClosure(ct); err != nil {
		return err
	}
	if err := e.checkZipContiguity(ct); err != nil {
		return err
	}
	if err := e.checkSubtreeRates(ct); err != nil {
		return err
	}
	if ct.ConfigMode == Auto {
		if err := e.checkLinkRates(ct); err != nil {
			return err
		}
	}
	return nil
}

// checkTreeShape verifies that the graph
// induced by {parentLink(r): r != 0} is a single tree rooted at
// ct.Root: every router reachable from the root exactly once, and
// every router in ct.Routers reachable.
func (e *Engine) checkTreeShape(ct *Comtree) error {
	if _, ok := ct.Routers[ct.Root]; !ok {
		return fmt.Errorf("comtree %d: root %s is not a comtree router", ct.Number, ct.Root)
	}
	visited := map[forest.Addr]bool{ct.Root: true}
	queue := []forest.Addr{ct.Root}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		r := ct.Routers[cur]
		for child := range r.Children {
			if visited[child] {
				return fmt.Errorf("comtree %d: cycle detected at router %s", ct.Number, child)
			}
			visited[child] = true
			queue = append(queue, child)
		}
	}
	if len(visited) != len(ct.Routers) {
		return fmt.Errorf("comtree %d: %d routers unreachable from root %s — not a tree",
			ct.Number, len(ct.Routers)-len(visited), ct.Root)
	}
	for addr, r := range ct.Routers {
		if addr == ct.Root {
			if r.ParentLink != 0 {
				return fmt.Errorf("comtree %d: root %s has nonzero parent-link %d", ct.Number, addr, r.ParentLink)
			}
		} else if r.ParentLink == 0 {
			return fmt.Errorf("comtree %d: non-root router %s has parent-link 0", ct.Number, addr)
		}
	}
	return nil
}

// checkCoreClosure verifies that every core router's parent
// (if any) is also core.
func (e *Engine) checkCoreClosure(ct *Comtree) error {
	for addr := range ct.CoreSet {
		if _, ok := ct.Routers[addr]; !ok || addr == ct.Root {
			continue
		}
		parent, ok := e.parentOf(ct, addr)
		if !ok {
			continue
		}
		if !ct.CoreSet[parent] {
			return fmt.Errorf("comtree %d: core router %s has non-core parent %s", ct.Number, addr, parent)
		}
	}
	return nil
}

// checkZipContiguity verifies zip contiguity with a depth-first walk from the root,
// tracking the set of zips already "left" on each descent: once a
// path transitions away from a zip it must never return to it.
func (e *Engine) checkZipContiguity(ct *Comtree) error {
	type frame struct {
		addr     forest.Addr
		seenZips map[uint16]bool
	}
	start := frame{addr: ct.Root, seenZips: map[uint16]bool{ct.Root.Zip(): true}}
	stack := []frame{start}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		r := ct.Routers[f.addr]
		for child := range r.Children {
			zip := child.Zip()
			seen := make(map[uint16]bool, len(f.seenZips)+1)
			for z := range f.seenZips {
				seen[z] = true
			}
			if zip != f.addr.Zip() && seen[zip] {
				return fmt.Errorf("comtree %d: zip %d is non-contiguous (revisited below router %s)", ct.Number, zip, f.addr)
			}
			seen[zip] = true
			stack = append(stack, frame{addr: child, seenZips: seen})
		}
	}
	return nil
}

// checkSubtreeRates recomputes subtree rates bottom-up and compares
// them to the stored values.
func (e *Engine) checkSubtreeRates(ct *Comtree) error {
	computed := map[forest.Addr]ratespec.RateSpec{}
	var walk func(forest.Addr) ratespec.RateSpec
	walk = func(addr forest.Addr) ratespec.RateSpec {
		if rs, ok := computed[addr]; ok {
			return rs
		}
		r := ct.Routers[addr]
		total := leafRatesOf(ct, addr)
		for child := range r.Children {
			total = total.Add(walk(child))
		}
		computed[addr] = total
		return total
	}
	for addr, r := range ct.Routers {
		want := walk(addr)
		if want != r.SubtreeRates {
			return fmt.Errorf("comtree %d: router %s subtree rates = %s, recomputed %s",
				ct.Number, addr, r.SubtreeRates, want)
		}
	}
	return nil
}

func leafRatesOf(ct *Comtree, router forest.Addr) ratespec.RateSpec {
	total := ratespec.Zero
	for _, l := range ct.Leaves {
		if l.ParentRouter == router {
			total = total.Add(l.Rates)
		}
	}
	return total
}

// checkLinkRates verifies the auto-mode rate formula for every
// non-frozen router in
// an auto-mode comtree.
func (e *Engine) checkLinkRates(ct *Comtree) error {
	root, ok := ct.Routers[ct.Root]
	if !ok {
		return fmt.Errorf("comtree %d: missing root", ct.Number)
	}
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
			wantDown = min64(r.SubtreeRates.BitRateDown, root.SubtreeRates.BitRateUp-r.SubtreeRates.BitRateUp)
			wantDownPkt = min64(r.SubtreeRates.PktRateDown, root.SubtreeRates.PktRateUp-r.SubtreeRates.PktRateUp)
		}
		if wantDown < 0 {
			wantDown = 0
		}
		if wantDownPkt < 0 {
			wantDownPkt = 0
		}
		if r.PlinkRates.BitRateUp != wantUp || r.PlinkRates.BitRateDown != wantDown ||
			r.PlinkRates.PktRateUp != wantUpPkt || r.PlinkRates.PktRateDown != wantDownPkt {
			return fmt.Errorf("comtree %d: router %s plnkRates = %s, formula gives (%d,%d,%d,%d)",
				ct.Number, addr, r.PlinkRates, wantUp, wantDown, wantUpPkt, wantDownPkt)
		}
	}
	return nil
}

// CheckCapacityConservation verifies, across an entire topology, that
// no link's available rate exceeds its capacity. It is a read-only
// check: it does not sum the comtrees' reservations, so it does not
// verify that reservations + available == capacity.
func CheckCapacityConservation(topo *topology.Topology) error {
	var failure error
	topo.ForEachLink(func(l *topology.Link) {
		if failure != nil {
			return
		}
		if !l.Available.Leq(l.Capacity) {
			failure = fmt.Errorf("link %d: available %s exceeds capacity %s", l.ID, l.Available, l.Capacity)
		}
	})
	return failure
}
