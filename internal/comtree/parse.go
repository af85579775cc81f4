package comtree

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/jonturner53/forestctl/internal/forest"
	"github.com/jonturner53/forestctl/internal/ratespec"
	"github.com/jonturner53/forestctl/internal/topology"
)

// ReadFile parses a comtree file and
// installs every comtree it describes into table, resolving router
// and leaf names against topo.
func ReadFile(path string, topo *topology.Topology, table *Table) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return Read(string(data), topo, table)
}

// Read is ReadFile taking the file content directly.
func Read(src string, topo *topology.Topology, table *Table) error {
	records, err := lexComtreeRecords(src)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if rec.name != "comtree" {
			return fmt.Errorf("comtreefile: unknown record kind %q", rec.name)
		}
		if err := parseComtree(rec.args, topo, table); err != nil {
			return err
		}
	}
	return nil
}

type comtreeRecord struct {
	name string
	args []string
}

// lexComtreeRecords tokenizes the comtree-file grammar: one or more
// "comtree(...)" records, '#' line comments, terminated by a bare ';'.
func lexComtreeRecords(src string) ([]comtreeRecord, error) {
	stripped := stripComments(src)
	var out []comtreeRecord
	i := 0
	n := len(stripped)
	for i < n {
		for i < n && isBlank(stripped[i]) {
			i++
		}
		if i >= n {
			break
		}
		if stripped[i] == ';' {
			break
		}
		start := i
		for i < n && stripped[i] != '(' {
			i++
		}
		if i >= n {
			return nil, fmt.Errorf("comtreefile: expected '(' after %q", stripped[start:])
		}
		name := strings.TrimSpace(stripped[start:i])
		argStart := i + 1
		depth := 1
		i++
		for i < n && depth > 0 {
			switch stripped[i] {
			case '(':
				depth++
			case ')':
				depth--
			}
			i++
		}
		if depth != 0 {
			return nil, fmt.Errorf("comtreefile: unbalanced parens in record %q", name)
		}
		raw := stripped[argStart : i-1]
		out = append(out, comtreeRecord{name: name, args: splitArgs(raw, ',')})
	}
	return out, nil
}

func stripComments(src string) string {
	var b strings.Builder
	inComment := false
	for i := 0; i < len(src); i++ {
		c := src[i]
		if inComment {
			if c == '\n' {
				inComment = false
				b.WriteByte(c)
			}
			continue
		}
		if c == '#' {
			inComment = true
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func isBlank(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

func splitArgs(s string, sep byte) []string {
	var out []string
	depth := 0
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(', '[':
			depth++
		case ')', ']':
			depth--
		case sep:
			if depth == 0 {
				out = append(out, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	if start <= len(s) {
		tail := strings.TrimSpace(s[start:])
		if tail != "" || len(out) > 0 {
			out = append(out, tail)
		}
	}
	return out
}

// parseComtree parses one comtree(...) record:
//
//	comtree(num, owner, root, mode, (bbRates), (leafRates),
//	        (core, core, ...),
//	        (endA, endB[, (rates)]), ...)
func parseComtree(args []string, topo *topology.Topology, table *Table) error {
	if len(args) < 6 {
		return fmt.Errorf("comtreefile: comtree record has too few fields")
	}
	num, err := strconv.Atoi(strings.TrimSpace(args[0]))
	if err != nil {
		return fmt.Errorf("comtreefile: invalid comtree number %q: %w", args[0], err)
	}
	owner, err := resolveName(topo, strings.TrimSpace(args[1]))
	if err != nil {
		return fmt.Errorf("comtreefile: comtree %d: owner: %w", num, err)
	}
	root, err := resolveName(topo, strings.TrimSpace(args[2]))
	if err != nil {
		return fmt.Errorf("comtreefile: comtree %d: root: %w", num, err)
	}

	var mode ConfigMode
	switch strings.TrimSpace(args[3]) {
	case "auto":
		mode = Auto
	case "manual":
		mode = Manual
	default:
		return fmt.Errorf("comtreefile: comtree %d: unknown mode %q", num, args[3])
	}

	bbUp, bbDown, bbPktUp, bbPktDown, err := parseRates(args[4])
	if err != nil {
		return fmt.Errorf("comtreefile: comtree %d: backbone rates: %w", num, err)
	}
	leafUp, leafDown, leafPktUp, leafPktDown, err := parseRates(args[5])
	if err != nil {
		return fmt.Errorf("comtreefile: comtree %d: leaf rates: %w", num, err)
	}
	bbRates := ratespec.New(bbUp, bbDown, bbPktUp, bbPktDown)
	leafRates := ratespec.New(leafUp, leafDown, leafPktUp, leafPktDown)

	ct, err := table.AddComtree(num, owner, root, mode, bbRates, leafRates)
	if err != nil {
		return fmt.Errorf("comtreefile: %w", err)
	}

	rest := args[6:]
	if len(rest) > 0 {
		if err := parseCoreList(ct, topo, rest[0]); err != nil {
			return fmt.Errorf("comtreefile: comtree %d: core list: %w", num, err)
		}
		rest = rest[1:]
	}
	for _, field := range rest {
		if err := parseTreeLink(ct, topo, field); err != nil {
			return fmt.Errorf("comtreefile: comtree %d: link: %w", num, err)
		}
	}
	if err := finalizeComtree(ct, topo, table); err != nil {
		return fmt.Errorf("comtreefile: comtree %d: %w", num, err)
	}
	return nil
}

// finalizeComtree settles the derived state a comtree record leaves
// implicit: core flags, bottom-up subtree rates, and — in auto mode —
// the recomputed rates on every non-frozen backbone link (the file
// only pins the frozen ones).
func finalizeComtree(ct *Comtree, topo *topology.Topology, table *Table) error {
	for addr := range ct.CoreSet {
		if r := ct.Routers[addr]; r != nil {
			r.Core = true
		}
	}

	seen := map[forest.Addr]bool{}
	var walk func(forest.Addr) (ratespec.RateSpec, error)
	walk = func(addr forest.Addr) (ratespec.RateSpec, error) {
		if seen[addr] {
			return ratespec.Zero, fmt.Errorf("cycle at router %s", addr)
		}
		seen[addr] = true
		r := ct.Routers[addr]
		total := leafRatesOf(ct, addr)
		for child := range r.Children {
			sub, err := walk(child)
			if err != nil {
				return ratespec.Zero, err
			}
			total = total.Add(sub)
		}
		r.SubtreeRates = total
		return total, nil
	}
	if _, ok := ct.Routers[ct.Root]; !ok {
		return fmt.Errorf("root %s is not a comtree router", ct.Root)
	}
	if _, err := walk(ct.Root); err != nil {
		return err
	}

	if ct.ConfigMode == Auto {
		eng := NewEngine(topo, table, nil)
		mods, err := eng.ComputeMods(ct)
		if err != nil {
			return err
		}
		if err := eng.Provision(ct, mods); err != nil {
			return err
		}
	}
	return nil
}

func parseCoreList(ct *Comtree, topo *topology.Topology, field string) error {
	field = strings.TrimSpace(field)
	field = strings.TrimPrefix(field, "(")
	field = strings.TrimSuffix(field, ")")
	if field == "" {
		return nil
	}
	for _, name := range splitArgs(field, ',') {
		addr, err := resolveName(topo, strings.TrimSpace(name))
		if err != nil {
			return err
		}
		ct.CoreSet[addr] = true
	}
	return nil
}

// parseTreeLink parses one "(endA, endB[, (rates)])" field of a
// comtree record into a parent-child edge, directly wiring the router
// (and, for a leaf endpoint, the Leaf) into ct without path search:
// the comtree file describes an already-decided static tree.
func parseTreeLink(ct *Comtree, topo *topology.Topology, field string) error {
	field = strings.TrimSpace(field)
	field = strings.TrimPrefix(field, "(")
	field = strings.TrimSuffix(field, ")")
	parts := splitArgs(field, ',')
	if len(parts) < 2 {
		return fmt.Errorf("link field must have at least 2 parts, got %q", field)
	}

	frozen := false
	var rs ratespec.RateSpec
	if len(parts) >= 3 {
		up, down, pup, pdown, err := parseRates(strings.Join(parts[2:], ","))
		if err != nil {
			return err
		}
		rs = ratespec.New(up, down, pup, pdown)
		frozen = true
	}

	parentName, parentLL := splitEndpoint(parts[0])
	childName, childLL := splitEndpoint(parts[1])

	parentAddr, err := resolveName(topo, parentName)
	if err != nil {
		return err
	}
	childAddr, err := resolveName(topo, childName)
	if err != nil {
		return err
	}

	// A leaf endpoint may be written on either side; the router side
	// is always the parent.
	_, parentIsRouter := topo.Router(parentAddr)
	_, childIsRouter := topo.Router(childAddr)
	if !parentIsRouter && childIsRouter {
		parentAddr, childAddr = childAddr, parentAddr
		parentName, childName = childName, parentName
		parentLL, childLL = childLL, parentLL
		parentIsRouter, childIsRouter = true, false
	}
	if !parentIsRouter {
		return fmt.Errorf("link %q has no router endpoint", field)
	}

	if childIsRouter {
		link, ok := topo.EndpointLink(childAddr, childLL)
		if !ok {
			return fmt.Errorf("no underlay link at %s.%d", childName, childLL)
		}
		if !frozen {
			rs = ct.DefaultBbRates
		}
		r := ct.Routers[childAddr]
		if r == nil {
			r = &Router{Addr: childAddr, Children: make(map[forest.Addr]bool)}
			ct.Routers[childAddr] = r
		}
		r.ParentLink = childLL
		r.PlinkRates = rs
		r.Frozen = frozen
		r.LinkCount++
		parent := treeRouter(ct, parentAddr)
		parent.Children[childAddr] = true
		parent.LinkCount++
		if err := topo.Debit(link.ID, childAddr, rs); err != nil {
			return fmt.Errorf("link %s.%d: %w", childName, childLL, err)
		}
		return nil
	}

	// The child endpoint is a leaf reached via the parent router.
	if !frozen {
		rs = ct.DefaultLeafRates
	}
	ct.Leaves[childAddr] = &Leaf{
		Addr:            childAddr,
		ParentRouter:    parentAddr,
		ParentLocalLink: parentLL,
		Rates:           rs,
	}
	parent := treeRouter(ct, parentAddr)
	parent.LinkCount++
	if link, ok := topo.EndpointLink(parentAddr, parentLL); ok {
		if err := topo.Debit(link.ID, childAddr, rs); err != nil {
			return fmt.Errorf("leaf link %s.%d: %w", parentName, parentLL, err)
		}
	} else {
		return fmt.Errorf("no underlay access link at %s.%d", parentName, parentLL)
	}
	return nil
}

// treeRouter returns ct's record for addr, creating a bare one if this
// is the first link record naming it (link order in the file is free).
func treeRouter(ct *Comtree, addr forest.Addr) *Router {
	r := ct.Routers[addr]
	if r == nil {
		r = &Router{Addr: addr, Children: make(map[forest.Addr]bool)}
		ct.Routers[addr] = r
	}
	return r
}

func splitEndpoint(s string) (name string, localLink int) {
	s = strings.TrimSpace(s)
	idx := strings.LastIndex(s, ".")
	if idx < 0 {
		return s, 0
	}
	if ll, err := strconv.Atoi(s[idx+1:]); err == nil {
		return s[:idx], ll
	}
	return s, 0
}

func resolveName(topo *topology.Topology, name string) (forest.Addr, error) {
	if r, ok := topo.RouterByName(name); ok {
		return r.Addr, nil
	}
	if l, ok := topo.LeafByName(name); ok {
		return l.Addr, nil
	}
	return forest.NoAddr, fmt.Errorf("unresolved name %q", name)
}

func parseRates(s string) (up, down, pup, pdown int64, err error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "(")
	s = strings.TrimSuffix(s, ")")
	fields := splitArgs(s, ',')
	if len(fields) != 4 {
		return 0, 0, 0, 0, fmt.Errorf("rate spec must have 4 fields, got %q", s)
	}
	vals := make([]int64, 4)
	for i, f := range fields {
		v, perr := strconv.ParseInt(strings.TrimSpace(f), 10, 64)
		if perr != nil {
			return 0, 0, 0, 0, fmt.Errorf("invalid rate component %q: %w", f, perr)
		}
		vals[i] = v
	}
	return vals[0], vals[1], vals[2], vals[3], nil
}
