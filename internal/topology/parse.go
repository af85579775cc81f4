package topology

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/jonturner53/forestctl/internal/forest"
	"github.com/jonturner53/forestctl/internal/ratespec"
)

// ReadFile parses a topology file at path.
func ReadFile(path string) (*Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Read(string(data))
}

// Read parses topology-file text into a Topology.
//
// The grammar has four record kinds: router(...), leaf(...), link(...),
// defaultLinkRates(...). Order matters only within each record; the
// file as a whole is order-independent except that link() records may
// reference router/leaf names declared anywhere in the file (this
// parser resolves names in a pass after all router/leaf records are
// read, so declaration order does not matter).
func Read(src string) (*Topology, error) {
	records, err := lexRecords(src)
	if err != nil {
		return nil, err
	}

	t := New()
	var linkRecords []record

	for _, rec := range records {
		switch rec.name {
		case "router":
			if err := parseRouter(t, rec.args); err != nil {
				return nil, err
			}
		case "leaf":
			if err := parseLeaf(t, rec.args); err != nil {
				return nil, err
			}
		case "defaultLinkRates":
			up, down, pup, pdown, err := parseRateSpecLiteral("(" + strings.Join(rec.args, ",") + ")")
			if err != nil {
				return nil, fmt.Errorf("topology: defaultLinkRates: %w", err)
			}
			t.DefaultLinkRates = ratespec.New(up, down, pup, pdown)
		case "link":
			linkRecords = append(linkRecords, rec)
		default:
			return nil, fmt.Errorf("topology: unknown record kind %q", rec.name)
		}
	}

	for _, rec := range linkRecords {
		if err := parseLink(t, rec.args); err != nil {
			return nil, err
		}
	}

	return t, nil
}

// parseRouter parses:
//
//	router(name, zip.local, (lat,long), (zip.lo-zip.hi),
//	  [ num, ip, lo-hi, (rates) ], ... )
func parseRouter(t *Topology, args []string) error {
	if len(args) < 4 {
		return fmt.Errorf("topology: router record has too few fields")
	}
	name := strings.TrimSpace(args[0])
	zip, local, err := splitAddr(strings.TrimSpace(args[1]))
	if err != nil {
		return fmt.Errorf("topology: router %s: %w", name, err)
	}
	lat, lon, err := parseFloatPair(args[2])
	if err != nil {
		return fmt.Errorf("topology: router %s: location: %w", name, err)
	}
	leafRange, err := parseLeafRange(args[3])
	if err != nil {
		return fmt.Errorf("topology: router %s: leaf range: %w", name, err)
	}

	r := &Router{
		Addr:       forest.MakeAddr(uint16(zip), uint16(local)),
		Name:       name,
		Location:   [2]float64{lat, lon},
		LeafRange:  leafRange,
		Interfaces: make(map[int]*Interface),
		Status:     Down,
	}
	t.AddRouter(r)

	for _, field := range args[4:] {
		iface, err := parseInterface(field)
		if err != nil {
			return fmt.Errorf("topology: router %s: interface: %w", name, err)
		}
		r.Interfaces[iface.Number] = iface
	}

	// control endpoint: lowest-numbered interface's IP, well-known port
	lowest := -1
	for n := range r.Interfaces {
		if lowest < 0 || n < lowest {
			lowest = n
		}
	}
	if lowest >= 0 {
		r.IP = r.Interfaces[lowest].IP
		r.Port = forest.RouterPort
	}
	return nil
}

func parseLeafRange(s string) (LeafRange, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "(")
	s = strings.TrimSuffix(s, ")")
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return LeafRange{}, fmt.Errorf("invalid leaf range %q", s)
	}
	zip, lo, err := splitAddr(parts[0])
	if err != nil {
		return LeafRange{}, err
	}
	zip2, hi, err := splitAddr(parts[1])
	if err != nil {
		return LeafRange{}, err
	}
	if zip != zip2 {
		return LeafRange{}, fmt.Errorf("leaf range spans two zips: %q", s)
	}
	return LeafRange{Zip: uint16(zip), Lo: uint16(lo), Hi: uint16(hi)}, nil
}

// parseInterface parses "[ num, ip, lo-hi, (rates) ]" or
// "[ num, ip, n, (rates) ]" (a single-link interface).
func parseInterface(s string) (*Interface, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	fields := splitTopLevel(s, ',')
	if len(fields) != 4 {
		return nil, fmt.Errorf("interface record must have 4 fields, got %q", s)
	}
	num, err := strconv.Atoi(strings.TrimSpace(fields[0]))
	if err != nil {
		return nil, fmt.Errorf("invalid interface number %q: %w", fields[0], err)
	}
	ip := net.ParseIP(strings.TrimSpace(fields[1]))
	if ip == nil {
		return nil, fmt.Errorf("invalid interface IP %q", fields[1])
	}
	lo, hi, err := parseLinkRange(strings.TrimSpace(fields[2]))
	if err != nil {
		return nil, err
	}
	up, down, pup, pdown, err := parseRateSpecLiteral(fields[3])
	if err != nil {
		return nil, err
	}
	rs := ratespec.New(up, down, pup, pdown)
	return &Interface{
		Number:    num,
		IP:        ip,
		LinkLo:    lo,
		LinkHi:    hi,
		Capacity:  rs,
		Available: rs,
	}, nil
}

func parseLinkRange(s string) (lo, hi int, err error) {
	if !strings.Contains(s, "-") {
		v, err := strconv.Atoi(s)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid link number %q: %w", s, err)
		}
		return v, v, nil
	}
	parts := strings.SplitN(s, "-", 2)
	lo, err = strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, err
	}
	hi, err = strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, err
	}
	return lo, hi, nil
}

// parseLeaf parses:
//
//	leaf(name, client|controller, ip, zip.local, (lat,long))
func parseLeaf(t *Topology, args []string) error {
	if len(args) != 5 {
		return fmt.Errorf("topology: leaf record must have 5 fields, got %d", len(args))
	}
	name := strings.TrimSpace(args[0])
	var kind LeafKind
	switch strings.TrimSpace(args[1]) {
	case "client":
		kind = ClientLeaf
	case "controller":
		kind = ControllerLeaf
	default:
		return fmt.Errorf("topology: leaf %s: unknown kind %q", name, args[1])
	}
	ip := net.ParseIP(strings.TrimSpace(args[2]))
	if ip == nil {
		return fmt.Errorf("topology: leaf %s: invalid IP %q", name, args[2])
	}
	zip, local, err := splitAddr(strings.TrimSpace(args[3]))
	if err != nil {
		return fmt.Errorf("topology: leaf %s: %w", name, err)
	}
	lat, lon, err := parseFloatPair(args[4])
	if err != nil {
		return fmt.Errorf("topology: leaf %s: location: %w", name, err)
	}

	l := &Leaf{
		Addr:     forest.MakeAddr(uint16(zip), uint16(local)),
		Name:     name,
		Kind:     kind,
		IP:       ip,
		Location: [2]float64{lat, lon},
		Static:   true,
		Status:   Down,
	}
	t.AddLeaf(l)
	return nil
}

// parseLink parses:
//
//	link(endpoint1, endpoint2, length, (rates))
//
// where each endpoint is either "routerName.localLink" (a router side)
// or a bare "leafName" (a leaf's single access link).
func parseLink(t *Topology, args []string) error {
	if len(args) != 4 {
		return fmt.Errorf("topology: link record must have 4 fields, got %d", len(args))
	}
	left, err := resolveEndpoint(t, strings.TrimSpace(args[0]))
	if err != nil {
		return fmt.Errorf("topology: link: %w", err)
	}
	right, err := resolveEndpoint(t, strings.TrimSpace(args[1]))
	if err != nil {
		return fmt.Errorf("topology: link: %w", err)
	}
	length, err := strconv.ParseFloat(strings.TrimSpace(args[2]), 64)
	if err != nil {
		return fmt.Errorf("topology: link: invalid length %q: %w", args[2], err)
	}
	up, down, pup, pdown, err := parseRateSpecLiteral(args[3])
	if err != nil {
		return fmt.Errorf("topology: link: %w", err)
	}
	rs := ratespec.New(up, down, pup, pdown)

	l := &Link{
		Left:      left,
		Right:     right,
		Length:    length,
		Capacity:  rs,
		Available: rs,
	}
	id := t.AddLink(l)

	if left.IsRouter {
		setAccessLink(t, right, left.Addr, left.LocalLink)
	}
	if right.IsRouter {
		setAccessLink(t, left, right.Addr, right.LocalLink)
	}
	_ = id
	return nil
}

// setAccessLink records rtr/localLink as leafEnd's access router, when
// leafEnd is in fact a leaf (a no-op for router-router links).
func setAccessLink(t *Topology, leafEnd Endpoint, rtr forest.Addr, localLink int) {
	if leafEnd.IsRouter {
		return
	}
	if l, ok := t.leaves[leafEnd.Addr]; ok {
		l.AccessRouter = rtr
		l.AccessLocalLink = localLink
	}
}

func resolveEndpoint(t *Topology, s string) (Endpoint, error) {
	if idx := strings.LastIndex(s, "."); idx >= 0 {
		name := s[:idx]
		rest := s[idx+1:]
		if ln, err := strconv.Atoi(rest); err == nil {
			if addr, ok := t.routersByName[name]; ok {
				return Endpoint{Addr: addr, IsRouter: true, LocalLink: ln}, nil
			}
			// fall through: might be a zip.local leaf address written inline
		}
		if zip, local, err := splitAddr(s); err == nil {
			addr := forest.MakeAddr(uint16(zip), uint16(local))
			if _, ok := t.routers[addr]; ok {
				return Endpoint{}, fmt.Errorf("endpoint %q names a router address without a local link number", s)
			}
			return Endpoint{Addr: addr, IsRouter: false}, nil
		}
	}
	if addr, ok := t.leavesByName[s]; ok {
		return Endpoint{Addr: addr, IsRouter: false}, nil
	}
	if addr, ok := t.routersByName[s]; ok {
		return Endpoint{}, fmt.Errorf("endpoint %q names router %s without a local link number", s, addr)
	}
	return Endpoint{}, fmt.Errorf("unresolved endpoint %q", s)
}
