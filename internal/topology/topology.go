package topology

import (
	"fmt"

	"github.com/jonturner53/forestctl/internal/forest"
	"github.com/jonturner53/forestctl/internal/ratespec"
)

// AddRouter inserts a router into the topology, keeping any interfaces
// already in r.Interfaces; more can be attached with AddInterface.
func (t *Topology) AddRouter(r *Router) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r.Interfaces == nil {
		r.Interfaces = make(map[int]*Interface)
	}
	t.routers[r.Addr] = r
	if r.Name != "" {
		t.routersByName[r.Name] = r.Addr
	}
}

// AddLeaf inserts a leaf into the topology.
func (t *Topology) AddLeaf(l *Leaf) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.leaves[l.Addr] = l
	if l.Name != "" {
		t.leavesByName[l.Name] = l.Addr
	}
}

// AddInterface attaches iface to router addr.
func (t *Topology) AddInterface(addr forest.Addr, iface *Interface) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.routers[addr]
	if !ok {
		return fmt.Errorf("topology: no such router %s", addr)
	}
	r.Interfaces[iface.Number] = iface
	return nil
}

// AddLink inserts a link and assigns it a dense arena ID. The two
// endpoints are indexed so EndpointLink can find it in O(1).
func (t *Topology) AddLink(l *Link) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	l.ID = len(t.links)
	t.links = append(t.links, l)

	for _, end := range []Endpoint{l.Left, l.Right} {
		if end.IsRouter {
			if t.linkByEndpoint[end.Addr] == nil {
				t.linkByEndpoint[end.Addr] = make(map[int]int)
			}
			t.linkByEndpoint[end.Addr][end.LocalLink] = l.ID
		} else {
			t.leafLinkByAddr[end.Addr] = l.ID
		}
	}
	return l.ID
}

// RemoveLink deletes link id from the arena and both endpoint indexes.
// The slot is left nil so other link IDs remain stable.
func (t *Topology) RemoveLink(id int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id < 0 || id >= len(t.links) || t.links[id] == nil {
		return fmt.Errorf("topology: no such link %d", id)
	}
	l := t.links[id]
	for _, end := range []Endpoint{l.Left, l.Right} {
		if end.IsRouter {
			if m := t.linkByEndpoint[end.Addr]; m != nil && m[end.LocalLink] == id {
				delete(m, end.LocalLink)
			}
		} else if t.leafLinkByAddr[end.Addr] == id {
			delete(t.leafLinkByAddr, end.Addr)
		}
	}
	t.links[id] = nil
	return nil
}

// Router looks up a router by address.
func (t *Topology) Router(addr forest.Addr) (*Router, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.routers[addr]
	return r, ok
}

// RouterByName looks up a router by its symbolic topology-file name.
func (t *Topology) RouterByName(name string) (*Router, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	addr, ok := t.routersByName[name]
	if !ok {
		return nil, false
	}
	return t.routers[addr], true
}

// Leaf looks up a leaf by address.
func (t *Topology) Leaf(addr forest.Addr) (*Leaf, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.leaves[addr]
	return l, ok
}

// LeafByName looks up a leaf by its symbolic topology-file name.
func (t *Topology) LeafByName(name string) (*Leaf, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	addr, ok := t.leavesByName[name]
	if !ok {
		return nil, false
	}
	return t.leaves[addr], true
}

// Link looks up a link by its arena ID.
func (t *Topology) Link(id int) (*Link, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id < 0 || id >= len(t.links) || t.links[id] == nil {
		return nil, false
	}
	return t.links[id], true
}

// EndpointLink returns the link attached to addr at local link number ln
// (routers), or the single access link of a leaf addr (ln is ignored).
func (t *Topology) EndpointLink(addr forest.Addr, ln int) (*Link, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id, ok := t.leafLinkByAddr[addr]; ok {
		return t.links[id], true
	}
	byLn, ok := t.linkByEndpoint[addr]
	if !ok {
		return nil, false
	}
	id, ok := byLn[ln]
	if !ok {
		return nil, false
	}
	return t.links[id], true
}

// RouterLinks returns every link incident at router addr, across all
// of its local link numbers.
func (t *Topology) RouterLinks(addr forest.Addr) []*Link {
	t.mu.Lock()
	defer t.mu.Unlock()
	byLn := t.linkByEndpoint[addr]
	out := make([]*Link, 0, len(byLn))
	for _, id := range byLn {
		out = append(out, t.links[id])
	}
	return out
}

// RoutersInZip returns every router address in the given zip code, in
// no particular order — used by handleAddComtree to pick a root
// uniformly at random from the requested zip.
func (t *Topology) RoutersInZip(zip uint16) []forest.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []forest.Addr
	for addr := range t.routers {
		if addr.Zip() == zip {
			out = append(out, addr)
		}
	}
	return out
}

// LeafByIP finds the leaf whose configured IP address is ip — used by
// bootLeaf, which "looks up the leaf by its source IP"
// since a not-yet-booted leaf has no Forest address of its own yet.
func (t *Topology) LeafByIP(ip string) (*Leaf, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, l := range t.leaves {
		if l.IP.String() == ip {
			return l, true
		}
	}
	return nil, false
}

// ForEachRouter calls fn for every router in the topology.
func (t *Topology) ForEachRouter(fn func(*Router)) {
	t.mu.Lock()
	routers := make([]*Router, 0, len(t.routers))
	for _, r := range t.routers {
		routers = append(routers, r)
	}
	t.mu.Unlock()
	for _, r := range routers {
		fn(r)
	}
}

// ForEachLeaf calls fn for every leaf in the topology.
func (t *Topology) ForEachLeaf(fn func(*Leaf)) {
	t.mu.Lock()
	leaves := make([]*Leaf, 0, len(t.leaves))
	for _, l := range t.leaves {
		leaves = append(leaves, l)
	}
	t.mu.Unlock()
	for _, l := range leaves {
		fn(l)
	}
}

// ForEachLink calls fn for every non-removed link in the topology.
func (t *Topology) ForEachLink(fn func(*Link)) {
	t.mu.Lock()
	links := make([]*Link, 0, len(t.links))
	for _, l := range t.links {
		if l != nil {
			links = append(links, l)
		}
	}
	t.mu.Unlock()
	for _, l := range links {
		fn(l)
	}
}

// legalTransitions enumerates the permitted status changes:
// DOWN<->BOOTING<->UP, plus the direct UP->DOWN and BOOTING->DOWN
// failure paths. DOWN->UP (skipping BOOTING) is not legal.
var legalTransitions = map[[2]Status]bool{
	{Down, Booting}: true,
	{Booting, Up}:   true,
	{Booting, Down}: true,
	{Up, Down}:      true,
	{Up, Booting}:   true,
}

// SetRouterStatus transitions r's status, rejecting illegal jumps.
func (t *Topology) SetRouterStatus(addr forest.Addr, to Status) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.routers[addr]
	if !ok {
		return fmt.Errorf("topology: no such router %s", addr)
	}
	if r.Status == to {
		return nil
	}
	if !legalTransitions[[2]Status{r.Status, to}] {
		return fmt.Errorf("topology: illegal router status transition %s -> %s for %s", r.Status, to, addr)
	}
	r.Status = to
	return nil
}

// SetLeafStatus transitions l's status, rejecting illegal jumps.
func (t *Topology) SetLeafStatus(addr forest.Addr, to Status) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.leaves[addr]
	if !ok {
		return fmt.Errorf("topology: no such leaf %s", addr)
	}
	if l.Status == to {
		return nil
	}
	if !legalTransitions[[2]Status{l.Status, to}] {
		return fmt.Errorf("topology: illegal leaf status transition %s -> %s for %s", l.Status, to, addr)
	}
	l.Status = to
	return nil
}

// AvailableFrom returns the link's available RateSpec as seen from the
// side of addr: the raw Available value if addr is the Left endpoint,
// flipped if addr is the Right endpoint (up/down are directional).
func (l *Link) AvailableFrom(addr forest.Addr) ratespec.RateSpec {
	if addr == l.Right.Addr {
		return l.Available.Flip()
	}
	return l.Available
}

// Debit reserves rs of capacity on l, debited from the side of addr.
// rs is flipped before subtracting when addr is the Right endpoint, so
// that up/down remain meaningful from both endpoints' perspectives.
func (t *Topology) Debit(linkID int, addr forest.Addr, rs ratespec.RateSpec) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if linkID < 0 || linkID >= len(t.links) || t.links[linkID] == nil {
		return fmt.Errorf("topology: no such link %d", linkID)
	}
	l := t.links[linkID]
	debit := rs
	if addr == l.Right.Addr {
		debit = rs.Flip()
	}
	if !debit.Leq(l.Available) {
		return fmt.Errorf("topology: insufficient available rate on link %d", linkID)
	}
	l.Available = l.Available.Subtract(debit)
	return nil
}

// Adjust applies a signed reservation change on l as seen from addr:
// positive components reserve more, negative components release. The
// whole change is rejected — nothing modified — if any component would
// leave Available negative or above Capacity, so callers never see a
// half-applied adjustment.
func (t *Topology) Adjust(linkID int, addr forest.Addr, delta ratespec.RateSpec) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if linkID < 0 || linkID >= len(t.links) || t.links[linkID] == nil {
		return fmt.Errorf("topology: no such link %d", linkID)
	}
	l := t.links[linkID]
	if addr == l.Right.Addr {
		delta = delta.Flip()
	}
	next := ratespec.RateSpec{
		BitRateUp:   l.Available.BitRateUp - delta.BitRateUp,
		BitRateDown: l.Available.BitRateDown - delta.BitRateDown,
		PktRateUp:   l.Available.PktRateUp - delta.PktRateUp,
		PktRateDown: l.Available.PktRateDown - delta.PktRateDown,
	}
	if next.BitRateUp < 0 || next.BitRateDown < 0 || next.PktRateUp < 0 || next.PktRateDown < 0 {
		return fmt.Errorf("topology: insufficient available rate on link %d", linkID)
	}
	if !next.Leq(l.Capacity) {
		return fmt.Errorf("topology: adjustment overshoots capacity on link %d", linkID)
	}
	l.Available = next
	return nil
}

// Credit releases a previously debited reservation, the inverse of Debit.
func (t *Topology) Credit(linkID int, addr forest.Addr, rs ratespec.RateSpec) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if linkID < 0 || linkID >= len(t.links) || t.links[linkID] == nil {
		return fmt.Errorf("topology: no such link %d", linkID)
	}
	l := t.links[linkID]
	credit := rs
	if addr == l.Right.Addr {
		credit = rs.Flip()
	}
	l.Available = l.Available.Add(credit)
	if !l.Available.Leq(l.Capacity) {
		return fmt.Errorf("topology: credit overshoots capacity on link %d", linkID)
	}
	return nil
}
