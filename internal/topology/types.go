// Package topology holds the undirected, weighted graph of routers and
// leaves that the Forest overlay runs on: per-link and per-interface
// RateSpecs, addresses, ports, and nonces.
//
// Adjacency is stored with stable integer link IDs in an arena-style
// table, not pointers, so
// neighbors reference each other only by ID and the structure survives
// arbitrary mutation without dangling references.
package topology

import (
	"net"
	"sync"

	"github.com/jonturner53/forestctl/internal/forest"
	"github.com/jonturner53/forestctl/internal/ratespec"
)

// Status is the lifecycle state of a router or leaf.
type Status int

const (
	Down Status = iota
	Booting
	Up
)

func (s Status) String() string {
	switch s {
	case Down:
		return "down"
	case Booting:
		return "booting"
	case Up:
		return "up"
	default:
		return "unknown"
	}
}

// LeafKind distinguishes client leaves from controller leaves.
type LeafKind int

const (
	ClientLeaf LeafKind = iota
	ControllerLeaf
)

// Interface is a router's numbered network interface. Each interface
// owns a contiguous range of local link numbers.
type Interface struct {
	Number      int
	IP          net.IP
	LinkLo      int
	LinkHi      int
	Capacity    ratespec.RateSpec
	Available   ratespec.RateSpec
}

// Owns reports whether local link number ln belongs to this interface.
func (i *Interface) Owns(ln int) bool {
	return ln >= i.LinkLo && ln <= i.LinkHi
}

// LeafRange is the contiguous range of leaf addresses a router owns.
type LeafRange struct {
	Zip    uint16
	Lo, Hi uint16
}

// Contains reports whether a falls within the range.
func (r LeafRange) Contains(a forest.Addr) bool {
	return a.Zip() == r.Zip && a.Local() >= r.Lo && a.Local() <= r.Hi
}

// Router is one node of the underlay graph.
type Router struct {
	Addr       forest.Addr
	Name       string
	Location   [2]float64
	LeafRange  LeafRange
	Interfaces map[int]*Interface
	Status     Status
	IP         net.IP
	Port       int
}

// InterfaceFor returns the interface owning local link ln, or nil.
func (r *Router) InterfaceFor(ln int) *Interface {
	for _, iface := range r.Interfaces {
		if iface.Owns(ln) {
			return iface
		}
	}
	return nil
}

// Leaf is a non-router endpoint of the underlay: a client or controller.
type Leaf struct {
	Addr            forest.Addr
	Name            string
	Kind            LeafKind
	IP              net.IP
	Port            int
	Location        [2]float64
	Static          bool
	Status          Status
	AccessRouter    forest.Addr
	AccessLocalLink int
}

// Endpoint identifies one side of a Link: a router's address plus the
// local link number it uses to reach this link, or a leaf's address
// alone (leaves have exactly one physical link, so no local link
// number of their own is needed).
type Endpoint struct {
	Addr      forest.Addr
	IsRouter  bool
	LocalLink int // meaningful only when IsRouter
}

// Link is one physical, undirected edge of the underlay graph.
type Link struct {
	ID        int
	Left      Endpoint
	Right     Endpoint
	Length    float64
	Capacity  ratespec.RateSpec
	Available ratespec.RateSpec
	Nonce     forest.Nonce
}

// OtherEnd returns the endpoint on l that is not addr, and a bool
// reporting whether addr was found at all.
func (l *Link) OtherEnd(addr forest.Addr) (Endpoint, bool) {
	switch addr {
	case l.Left.Addr:
		return l.Right, true
	case l.Right.Addr:
		return l.Left, true
	default:
		return Endpoint{}, false
	}
}

// EndOf returns the endpoint on l belonging to addr, and a bool
// reporting whether addr was found at all.
func (l *Link) EndOf(addr forest.Addr) (Endpoint, bool) {
	switch addr {
	case l.Left.Addr:
		return l.Left, true
	case l.Right.Addr:
		return l.Right, true
	default:
		return Endpoint{}, false
	}
}

// Topology is the controller's exclusive view of the underlay graph.
// It has its own mutex: held only for the
// duration of a single accounting update, never across a network
// transaction.
type Topology struct {
	mu               sync.Mutex
	routers          map[forest.Addr]*Router
	routersByName    map[string]forest.Addr
	leaves           map[forest.Addr]*Leaf
	leavesByName     map[string]forest.Addr
	links            []*Link // arena; a removed link's slot is set to nil
	linkByEndpoint   map[forest.Addr]map[int]int // addr -> localLink -> linkID, routers only
	leafLinkByAddr   map[forest.Addr]int          // leaf addr -> linkID of its access link
	DefaultLinkRates ratespec.RateSpec
}

// New returns an empty Topology ready for population by the parser.
func New() *Topology {
	return &Topology{
		routers:        make(map[forest.Addr]*Router),
		routersByName:  make(map[string]forest.Addr),
		leaves:         make(map[forest.Addr]*Leaf),
		leavesByName:   make(map[string]forest.Addr),
		linkByEndpoint: make(map[forest.Addr]map[int]int),
		leafLinkByAddr: make(map[forest.Addr]int),
	}
}
