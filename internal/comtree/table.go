package comtree

import (
	"fmt"
	"sort"
	"sync"

	"github.com/jonturner53/forestctl/internal/forest"
	"github.com/jonturner53/forestctl/internal/ratespec"
)

// Table maps externally-visible comtree numbers to dense internal
// indices and owns every Comtree's state.
//
// mapMu guards the number->index map and the comtrees slice itself
// (insertion, removal, growth). It is held only briefly; exclusive
// access to a single comtree's fields is via that comtree's own
// busy-flag, acquired through GetComtree/ReleaseComtree.
type Table struct {
	mapMu     sync.Mutex
	byNumber  map[int]int
	comtrees  []*Comtree // arena; index 0 unused, nil marks a freed slot
	nextIndex int

	firstComtNum, lastComtNum int
	nextComtNum               int
}

// NewTable returns an empty comtree table.
func NewTable() *Table {
	return &Table{
		byNumber:     make(map[int]int),
		comtrees:     make([]*Comtree, 1), // reserve index 0
		nextIndex:    1,
		firstComtNum: 1001,
		lastComtNum:  9999,
		nextComtNum:  1001,
	}
}

// AllocateNumber hands out the next free comtree number in
// [firstComt..lastComt], wrapping around once and
// failing only if every number in the range is already in use.
func (t *Table) AllocateNumber() (int, error) {
	t.mapMu.Lock()
	defer t.mapMu.Unlock()
	start := t.nextComtNum
	for {
		n := t.nextComtNum
		t.nextComtNum++
		if t.nextComtNum > t.lastComtNum {
			t.nextComtNum = t.firstComtNum
		}
		if _, used := t.byNumber[n]; !used {
			return n, nil
		}
		if t.nextComtNum == start {
			return 0, fmt.Errorf("comtree: no free comtree number in [%d..%d]", t.firstComtNum, t.lastComtNum)
		}
	}
}

// AddComtree allocates a dense index for comtNum and returns the new,
// unlocked Comtree. Returns an error if comtNum is already in use.
func (t *Table) AddComtree(comtNum int, owner, root forest.Addr, mode ConfigMode, bbRates, leafRates ratespec.RateSpec) (*Comtree, error) {
	t.mapMu.Lock()
	defer t.mapMu.Unlock()
	if _, exists := t.byNumber[comtNum]; exists {
		return nil, fmt.Errorf("comtree: comtree number %d already exists", comtNum)
	}
	idx := t.nextIndex
	t.nextIndex++

	c := &Comtree{
		Number:           comtNum,
		Index:            idx,
		Owner:            owner,
		Root:             root,
		ConfigMode:       mode,
		DefaultBbRates:   bbRates,
		DefaultLeafRates: leafRates,
		CoreSet:          map[forest.Addr]bool{root: true},
		Routers:          make(map[forest.Addr]*Router),
		Leaves:           make(map[forest.Addr]*Leaf),
	}
	c.cond = sync.NewCond(&t.mapMu)
	c.Routers[root] = &Router{Addr: root, ParentLink: 0, Core: true, Children: make(map[forest.Addr]bool)}

	for idx >= len(t.comtrees) {
		t.comtrees = append(t.comtrees, nil)
	}
	t.comtrees[idx] = c
	t.byNumber[comtNum] = idx
	return c, nil
}

// RemoveComtree frees comtNum's index: the entry is removed from the
// map and its arena slot cleared. The caller must hold the comtree's
// busy-flag; RemoveComtree does not clear it, so the caller still
// releases it with ReleaseComtree afterwards.
func (t *Table) RemoveComtree(comtNum int) error {
	t.mapMu.Lock()
	defer t.mapMu.Unlock()
	idx, ok := t.byNumber[comtNum]
	if !ok {
		return fmt.Errorf("comtree: no such comtree %d", comtNum)
	}
	delete(t.byNumber, comtNum)
	t.comtrees[idx] = nil
	return nil
}

// GetComtree looks up comtNum, blocks until its busy-flag is clear,
// then sets it and returns the comtree locked for exclusive access.
func (t *Table) GetComtree(comtNum int) (*Comtree, error) {
	t.mapMu.Lock()
	defer t.mapMu.Unlock()
	idx, ok := t.byNumber[comtNum]
	if !ok {
		return nil, fmt.Errorf("comtree: no such comtree %d", comtNum)
	}
	c := t.comtrees[idx]
	for c.busy {
		c.cond.Wait()
	}
	c.busy = true
	return c, nil
}

// GetComtreeByIndex is GetComtree but keyed by the dense internal
// index rather than the externally visible comtree number.
func (t *Table) GetComtreeByIndex(idx int) (*Comtree, error) {
	t.mapMu.Lock()
	defer t.mapMu.Unlock()
	if idx <= 0 || idx >= len(t.comtrees) || t.comtrees[idx] == nil {
		return nil, fmt.Errorf("comtree: no comtree at index %d", idx)
	}
	c := t.comtrees[idx]
	for c.busy {
		c.cond.Wait()
	}
	c.busy = true
	return c, nil
}

// ReleaseComtree clears c's busy-flag and wakes one waiter.
func (t *Table) ReleaseComtree(c *Comtree) {
	t.mapMu.Lock()
	defer t.mapMu.Unlock()
	c.busy = false
	c.cond.Signal()
}

// Numbers returns every live comtree number, ascending.
func (t *Table) Numbers() []int {
	t.mapMu.Lock()
	defer t.mapMu.Unlock()
	out := make([]int, 0, len(t.byNumber))
	for n := range t.byNumber {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}
