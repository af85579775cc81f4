package topology

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jonturner53/forestctl/internal/ratespec"
)

// String renders t back into topology-file syntax. Read(t.String())
// reconstructs t's routers, interfaces, leaves, links and default link
// rates; links are written with their capacities, and status, leaf
// ports, nonces and current available rates are not written.
func (t *Topology) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var b strings.Builder

	names := make([]string, 0, len(t.routers))
	for name := range t.routersByName {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		r := t.routers[t.routersByName[name]]
		writeRouter(&b, r)
	}

	leafNames := make([]string, 0, len(t.leaves))
	for name := range t.leavesByName {
		leafNames = append(leafNames, name)
	}
	sort.Strings(leafNames)
	for _, name := range leafNames {
		l := t.leaves[t.leavesByName[name]]
		writeLeaf(&b, l)
	}

	for _, l := range t.links {
		if l == nil {
			continue
		}
		writeLink(&b, t, l)
	}

	if !t.DefaultLinkRates.IsZero() {
		fmt.Fprintf(&b, "defaultLinkRates%s\n", rateLiteral(t.DefaultLinkRates))
	}

	b.WriteString(";\n")
	return b.String()
}

func rateLiteral(rs ratespec.RateSpec) string {
	return fmt.Sprintf("(%d,%d,%d,%d)", rs.BitRateUp, rs.BitRateDown, rs.PktRateUp, rs.PktRateDown)
}

func writeRouter(b *strings.Builder, r *Router) {
	fmt.Fprintf(b, "router(%s, %s, (%g,%g), (%d.%d-%d.%d)",
		r.Name, r.Addr, r.Location[0], r.Location[1],
		r.LeafRange.Zip, r.LeafRange.Lo, r.LeafRange.Zip, r.LeafRange.Hi)

	nums := make([]int, 0, len(r.Interfaces))
	for n := range r.Interfaces {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	for _, n := range nums {
		iface := r.Interfaces[n]
		linkField := fmt.Sprintf("%d", iface.LinkLo)
		if iface.LinkHi != iface.LinkLo {
			linkField = fmt.Sprintf("%d-%d", iface.LinkLo, iface.LinkHi)
		}
		fmt.Fprintf(b, ",\n  [ %d, %s, %s, %s ]", iface.Number, iface.IP, linkField, rateLiteral(iface.Capacity))
	}
	b.WriteString(" )\n")
}

func writeLeaf(b *strings.Builder, l *Leaf) {
	kind := "client"
	if l.Kind == ControllerLeaf {
		kind = "controller"
	}
	fmt.Fprintf(b, "leaf(%s, %s, %s, %s, (%g,%g))\n",
		l.Name, kind, l.IP, l.Addr, l.Location[0], l.Location[1])
}

func writeLink(b *strings.Builder, t *Topology, l *Link) {
	fmt.Fprintf(b, "link(%s, %s, %g, %s)\n",
		endpointLiteral(t, l.Left), endpointLiteral(t, l.Right), l.Length, rateLiteral(l.Capacity))
}

func endpointLiteral(t *Topology, e Endpoint) string {
	if e.IsRouter {
		if r, ok := t.routers[e.Addr]; ok && r.Name != "" {
			return fmt.Sprintf("%s.%d", r.Name, e.LocalLink)
		}
		return fmt.Sprintf("%s.%d", e.Addr, e.LocalLink)
	}
	if leaf, ok := t.leaves[e.Addr]; ok && leaf.Name != "" {
		return leaf.Name
	}
	return e.Addr.String()
}
