// Package comtree implements comtrees: multicast trees embedded in the
// underlay topology, their per-router/per-leaf bookkeeping, and the
// path-search and provisioning algorithms that grow and shrink them.
package comtree

import (
	"sync"

	"github.com/jonturner53/forestctl/internal/forest"
	"github.com/jonturner53/forestctl/internal/ratespec"
)

// ConfigMode controls how backbone parent-link rates are computed.
type ConfigMode int

const (
	// Auto recomputes every non-frozen router's parent-link rates from
	// its subtree rates on every membership change.
	Auto ConfigMode = iota
	// Manual freezes backbone rates at comtree-creation time.
	Manual
)

func (m ConfigMode) String() string {
	if m == Manual {
		return "manual"
	}
	return "auto"
}

// Router is one comtree's bookkeeping for a single underlay router.
type Router struct {
	Addr forest.Addr

	// ParentLink is the local link number this router uses to reach
	// its comtree parent; 0 at the root.
	ParentLink int
	Core       bool
	Frozen     bool

	// LinkCount is parent-link (if any) + comtree children + leaves,
	// used to detect when a router can be pruned from the tree.
	LinkCount int

	// SubtreeRates is the aggregate of this router's own leaves plus
	// every comtree descendant's subtree rates.
	SubtreeRates ratespec.RateSpec
	// PlinkRates is what has actually been reserved on the underlay
	// for ParentLink.
	PlinkRates ratespec.RateSpec

	Children map[forest.Addr]bool
}

// Leaf is one comtree's bookkeeping for a leaf attached to the comtree.
type Leaf struct {
	Addr            forest.Addr
	ParentRouter    forest.Addr
	ParentLocalLink int
	Rates           ratespec.RateSpec
}

// Comtree is one multicast tree: its root, configuration, and
// per-router/per-leaf state.
type Comtree struct {
	Number int
	Index  int

	Owner      forest.Addr
	Root       forest.Addr
	ConfigMode ConfigMode

	DefaultBbRates   ratespec.RateSpec
	DefaultLeafRates ratespec.RateSpec

	CoreSet map[forest.Addr]bool
	Routers map[forest.Addr]*Router
	Leaves  map[forest.Addr]*Leaf

	// busy is the per-entry exclusive-access flag; cond guards it.
	busy bool
	cond *sync.Cond
}

// IsCore reports whether addr is a core router of this comtree.
func (c *Comtree) IsCore(addr forest.Addr) bool {
	return c.CoreSet[addr]
}

// ForEachRouter calls fn for every router currently in the comtree.
// Callers must already hold the comtree's busy-flag.
func (c *Comtree) ForEachRouter(fn func(*Router)) {
	for _, r := range c.Routers {
		fn(r)
	}
}

// ForEachLeaf calls fn for every leaf currently in the comtree.
// Callers must already hold the comtree's busy-flag.
func (c *Comtree) ForEachLeaf(fn func(*Leaf)) {
	for _, l := range c.Leaves {
		fn(l)
	}
}
