package comtree

import (
	"testing"

	"github.com/jonturner53/forestctl/internal/forest"
	"github.com/jonturner53/forestctl/internal/ratespec"
	"github.com/jonturner53/forestctl/internal/topology"
)

// buildLineTopology creates r1-r2-r3 in zip 1, connected linearly,
// with a client leaf attached at r3.
func buildLineTopology(t *testing.T, linkCap ratespec.RateSpec) (*topology.Topology, forest.Addr, forest.Addr, forest.Addr) {
	t.Helper()
	top := topology.New()
	r1 := &topology.Router{Addr: forest.MakeAddr(1, 1), Name: "r1", Interfaces: map[int]*topology.Interface{
		1: {Number: 1, LinkLo: 1, LinkHi: 1, Capacity: linkCap, Available: linkCap},
	}}
	r2 := &topology.Router{Addr: forest.MakeAddr(1, 2), Name: "r2", Interfaces: map[int]*topology.Interface{
		1: {Number: 1, LinkLo: 1, LinkHi: 1, Capacity: linkCap, Available: linkCap},
		2: {Number: 2, LinkLo: 2, LinkHi: 2, Capacity: linkCap, Available: linkCap},
	}}
	r3 := &topology.Router{Addr: forest.MakeAddr(1, 3), Name: "r3", Interfaces: map[int]*topology.Interface{
		1: {Number: 1, LinkLo: 1, LinkHi: 2, Capacity: linkCap, Available: linkCap},
	}}
	top.AddRouter(r1)
	top.AddRouter(r2)
	top.AddRouter(r3)

	top.AddLink(&topology.Link{
		Left:      topology.Endpoint{Addr: r1.Addr, IsRouter: true, LocalLink: 1},
		Right:     topology.Endpoint{Addr: r2.Addr, IsRouter: true, LocalLink: 1},
		Length:    1,
		Capacity:  linkCap,
		Available: linkCap,
	})
	top.AddLink(&topology.Link{
		Left:      topology.Endpoint{Addr: r2.Addr, IsRouter: true, LocalLink: 2},
		Right:     topology.Endpoint{Addr: r3.Addr, IsRouter: true, LocalLink: 1},
		Length:    1,
		Capacity:  linkCap,
		Available: linkCap,
	})

	leaf := &topology.Leaf{Addr: forest.MakeAddr(1, 500), Name: "client", Kind: topology.ClientLeaf}
	top.AddLeaf(leaf)
	leafLink := &topology.Link{
		Left:      topology.Endpoint{Addr: leaf.Addr, IsRouter: false},
		Right:     topology.Endpoint{Addr: r3.Addr, IsRouter: true, LocalLink: 2},
		Length:    1,
		Capacity:  linkCap,
		Available: linkCap,
	}
	top.AddLink(leafLink)

	return top, r1.Addr, r2.Addr, r3.Addr
}

// S1: create an empty comtree rooted at r1.
func TestS1CreateEmptyComtree(t *testing.T) {
	cap100 := ratespec.New(100, 100, 100, 100)
	top, r1, _, _ := buildLineTopology(t, cap100)
	table := NewTable()

	owner := forest.MakeAddr(1, 500)
	ct, err := table.AddComtree(1001, owner, r1, Auto, ratespec.New(10, 10, 10, 10), ratespec.New(5, 5, 5, 5))
	if err != nil {
		t.Fatalf("AddComtree: %v", err)
	}
	if ct.Root != r1 {
		t.Errorf("root = %s, want %s", ct.Root, r1)
	}
	if len(ct.Routers) != 1 {
		t.Errorf("expected only the root in a fresh comtree, got %d routers", len(ct.Routers))
	}
	if err := CheckCapacityConservation(top); err != nil {
		t.Errorf("capacity should be unchanged: %v", err)
	}
}

// S2/S3/S4: join with/without capacity, then leave.
func TestS2JoinWithEnoughCapacity(t *testing.T) {
	cap100 := ratespec.New(100, 100, 100, 100)
	top, r1, r2, r3 := buildLineTopology(t, cap100)
	table := NewTable()
	engine := NewEngine(top, table, nil)

	bb := ratespec.New(10, 10, 10, 10)
	leafR := ratespec.New(5, 5, 5, 5)
	ct, err := table.AddComtree(1001, forest.MakeAddr(1, 500), r1, Auto, bb, leafR)
	if err != nil {
		t.Fatalf("AddComtree: %v", err)
	}

	leafAddr := forest.MakeAddr(1, 500)
	addedPath, _, err := engine.JoinLeaf(ct, leafAddr, r3, 2, leafR)
	if err != nil {
		t.Fatalf("JoinLeaf: %v", err)
	}
	if len(addedPath) != 2 {
		t.Fatalf("expected a 2-edge path (r3->r2->r1), got %d", len(addedPath))
	}
	if _, ok := ct.Routers[r2]; !ok {
		t.Errorf("r2 should have joined the comtree")
	}
	if _, ok := ct.Routers[r3]; !ok {
		t.Errorf("r3 should have joined the comtree")
	}

	link12, _ := top.EndpointLink(r1, 1)
	if !link12.Available.Leq(cap100) || link12.Available == cap100 {
		t.Errorf("link(r1,r2) available = %s, want strictly less than capacity %s", link12.Available, cap100)
	}
	link23, _ := top.EndpointLink(r2, 2)
	if !link23.Available.Leq(cap100) || link23.Available == cap100 {
		t.Errorf("link(r2,r3) available = %s, want strictly less than capacity %s", link23.Available, cap100)
	}
	leafLink, _ := top.EndpointLink(r3, 2)
	if want := ratespec.New(95, 95, 95, 95); leafLink.Available != want {
		t.Errorf("leaf link available = %s, want %s (debited by leaf rates)", leafLink.Available, want)
	}

	if err := CheckCapacityConservation(top); err != nil {
		t.Errorf("capacity conservation: %v", err)
	}
	if err := engine.Check(ct); err != nil {
		t.Errorf("Check after join: %v", err)
	}
}

// S3: join without enough capacity must fail and leave state untouched.
func TestS3JoinWithoutEnoughCapacity(t *testing.T) {
	lowCap := ratespec.New(5, 5, 5, 5)
	top, r1, _, r3 := buildLineTopologyMixedCapacity(t, lowCap)
	table := NewTable()
	engine := NewEngine(top, table, nil)

	bb := ratespec.New(10, 10, 10, 10)
	leafR := ratespec.New(5, 5, 5, 5)
	ct, err := table.AddComtree(1001, forest.MakeAddr(1, 500), r1, Auto, bb, leafR)
	if err != nil {
		t.Fatalf("AddComtree: %v", err)
	}

	before := snapshotAvailable(top)
	leafAddr := forest.MakeAddr(1, 500)
	_, _, err = engine.JoinLeaf(ct, leafAddr, r3, 2, leafR)
	if err == nil {
		t.Fatalf("expected join to fail due to insufficient capacity on link(r1,r2)")
	}
	after := snapshotAvailable(top)
	for i := range before {
		if before[i] != after[i] {
			t.Errorf("link %d available changed despite failed join: %s -> %s", i, before[i], after[i])
		}
	}
	if len(ct.Routers) != 1 {
		t.Errorf("comtree membership should be unchanged, has %d routers", len(ct.Routers))
	}
}

func buildLineTopologyMixedCapacity(t *testing.T, r1r2Cap ratespec.RateSpec) (*topology.Topology, forest.Addr, forest.Addr, forest.Addr) {
	t.Helper()
	cap100 := ratespec.New(100, 100, 100, 100)
	top, r1, r2, r3 := buildLineTopology(t, cap100)
	link, _ := top.EndpointLink(r1, 1)
	link.Capacity = r1r2Cap
	link.Available = r1r2Cap
	return top, r1, r2, r3
}

func snapshotAvailable(top *topology.Topology) []ratespec.RateSpec {
	var out []ratespec.RateSpec
	top.ForEachLink(func(l *topology.Link) {
		out = append(out, l.Available)
	})
	return out
}

// S4: leave restores all three links to their pre-join available rates.
func TestS4LeaveReturnsCapacity(t *testing.T) {
	cap100 := ratespec.New(100, 100, 100, 100)
	top, r1, r2, r3 := buildLineTopology(t, cap100)
	table := NewTable()
	engine := NewEngine(top, table, nil)

	bb := ratespec.New(10, 10, 10, 10)
	leafR := ratespec.New(5, 5, 5, 5)
	ct, err := table.AddComtree(1001, forest.MakeAddr(1, 500), r1, Auto, bb, leafR)
	if err != nil {
		t.Fatalf("AddComtree: %v", err)
	}
	before := snapshotAvailable(top)

	leafAddr := forest.MakeAddr(1, 500)
	if _, _, err := engine.JoinLeaf(ct, leafAddr, r3, 2, leafR); err != nil {
		t.Fatalf("JoinLeaf: %v", err)
	}

	pruned, _, err := engine.LeaveLeaf(ct, leafAddr)
	if err != nil {
		t.Fatalf("LeaveLeaf: %v", err)
	}
	if len(pruned) != 2 {
		t.Fatalf("expected both r2 and r3 pruned, got %d", len(pruned))
	}
	if _, ok := ct.Routers[r2]; ok {
		t.Errorf("r2 should have been pruned")
	}
	if _, ok := ct.Routers[r3]; ok {
		t.Errorf("r3 should have been pruned")
	}

	after := snapshotAvailable(top)
	for i := range before {
		if before[i] != after[i] {
			t.Errorf("link %d available not restored: before %s, after %s", i, before[i], after[i])
		}
	}
}

func TestFindPathNoCapacityFails(t *testing.T) {
	zero := ratespec.New(0, 0, 0, 0)
	top, r1, _, r3 := buildLineTopology(t, zero)
	table := NewTable()
	engine := NewEngine(top, table, nil)
	ct, err := table.AddComtree(1, forest.MakeAddr(1, 500), r1, Auto, ratespec.New(1, 1, 1, 1), ratespec.New(1, 1, 1, 1))
	if err != nil {
		t.Fatalf("AddComtree: %v", err)
	}
	_, _, err = engine.FindPath(ct, r3, ratespec.New(1, 1, 1, 1))
	if err == nil {
		t.Fatalf("expected findPath to fail with zero-capacity links")
	}
}

func TestTableReleaseThenGetReturnsSameComtree(t *testing.T) {
	table := NewTable()
	ct, err := table.AddComtree(1, forest.MakeAddr(1, 1), forest.MakeAddr(1, 1), Auto, ratespec.Zero, ratespec.Zero)
	if err != nil {
		t.Fatalf("AddComtree: %v", err)
	}
	table.ReleaseComtree(ct)

	got, err := table.GetComtree(1)
	if err != nil {
		t.Fatalf("GetComtree: %v", err)
	}
	if got != ct {
		t.Errorf("GetComtree returned a different comtree object")
	}
	table.ReleaseComtree(got)
}
