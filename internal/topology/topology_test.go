package topology

import (
	"strings"
	"testing"

	"github.com/jonturner53/forestctl/internal/forest"
	"github.com/jonturner53/forestctl/internal/ratespec"
)

const sampleTopology = `
router(salt, 1.1000, (40.0,-50.0), (1.1-1.200),
  [ 1, 192.168.3.4, 1, (50000,30000,25000,15000) ],
  [ 2, 192.168.3.5, 2-30, (50000,30000,25000,15000) ] )
router(pepper, 1.2000, (41.0,-51.0), (1.201-1.400),
  [ 1, 192.168.4.4, 1, (50000,30000,25000,15000) ] )
leaf(netMgr, controller, 192.168.1.3, 2.900, (40.0,-50.0))
link(salt.2, pepper.1, 1000, (3000,3000,5000,5000))
link(netMgr, salt.1, 10, (3000,3000,5000,5000))
defaultLinkRates(50,500,25,250)
;
`

func TestReadTopologyBasic(t *testing.T) {
	top, err := Read(sampleTopology)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	salt, ok := top.RouterByName("salt")
	if !ok {
		t.Fatalf("router salt not found")
	}
	if salt.Addr != forest.MakeAddr(1, 1000) {
		t.Errorf("salt addr = %s, want 1.1000", salt.Addr)
	}
	if len(salt.Interfaces) != 2 {
		t.Fatalf("salt has %d interfaces, want 2", len(salt.Interfaces))
	}
	if iface := salt.InterfaceFor(2); iface == nil || iface.Number != 2 {
		t.Errorf("InterfaceFor(2) = %v, want interface 2", iface)
	}

	netMgr, ok := top.LeafByName("netMgr")
	if !ok {
		t.Fatalf("leaf netMgr not found")
	}
	if netMgr.Kind != ControllerLeaf {
		t.Errorf("netMgr kind = %v, want ControllerLeaf", netMgr.Kind)
	}
	if netMgr.AccessRouter != salt.Addr || netMgr.AccessLocalLink != 1 {
		t.Errorf("netMgr access link = %s/%d, want salt/1", netMgr.AccessRouter, netMgr.AccessLocalLink)
	}

	pepper, ok := top.RouterByName("pepper")
	if !ok {
		t.Fatalf("router pepper not found")
	}
	link, ok := top.EndpointLink(salt.Addr, 2)
	if !ok {
		t.Fatalf("no link at salt.2")
	}
	other, ok := link.OtherEnd(salt.Addr)
	if !ok || other.Addr != pepper.Addr {
		t.Errorf("other end of salt.2 = %+v, want pepper", other)
	}

	if top.DefaultLinkRates != ratespec.New(50, 500, 25, 250) {
		t.Errorf("defaultLinkRates = %+v, want (50,500,25,250)", top.DefaultLinkRates)
	}
}

func TestRoundTrip(t *testing.T) {
	top, err := Read(sampleTopology)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	rendered := top.String()

	top2, err := Read(rendered)
	if err != nil {
		t.Fatalf("Read(rendered): %v\n--- rendered ---\n%s", err, rendered)
	}

	salt1, _ := top.RouterByName("salt")
	salt2, _ := top2.RouterByName("salt")
	if salt1.Addr != salt2.Addr {
		t.Errorf("round-trip salt addr mismatch: %s vs %s", salt1.Addr, salt2.Addr)
	}
	if len(salt1.Interfaces) != len(salt2.Interfaces) {
		t.Errorf("round-trip interface count mismatch: %d vs %d", len(salt1.Interfaces), len(salt2.Interfaces))
	}

	if top.DefaultLinkRates != top2.DefaultLinkRates {
		t.Errorf("round-trip defaultLinkRates mismatch")
	}

	if !strings.Contains(rendered, "router(salt") {
		t.Errorf("rendered output missing router salt:\n%s", rendered)
	}
}

func TestStatusTransitions(t *testing.T) {
	top := New()
	r := &Router{Addr: forest.MakeAddr(1, 1), Name: "r1", Interfaces: map[int]*Interface{}}
	top.AddRouter(r)

	if err := top.SetRouterStatus(r.Addr, Up); err == nil {
		t.Errorf("Down -> Up directly should be illegal")
	}
	if err := top.SetRouterStatus(r.Addr, Booting); err != nil {
		t.Errorf("Down -> Booting: %v", err)
	}
	if err := top.SetRouterStatus(r.Addr, Up); err != nil {
		t.Errorf("Booting -> Up: %v", err)
	}
	if err := top.SetRouterStatus(r.Addr, Down); err != nil {
		t.Errorf("Up -> Down: %v", err)
	}
}

func TestDebitCreditFlip(t *testing.T) {
	top := New()
	left := Endpoint{Addr: forest.MakeAddr(1, 1), IsRouter: true, LocalLink: 1}
	right := Endpoint{Addr: forest.MakeAddr(1, 2), IsRouter: true, LocalLink: 1}
	rs := ratespec.New(1000, 1000, 100, 100)
	link := &Link{Left: left, Right: right, Capacity: rs, Available: rs}
	id := top.AddLink(link)

	debit := ratespec.New(400, 100, 10, 5)
	if err := top.Debit(id, left.Addr, debit); err != nil {
		t.Fatalf("Debit from left: %v", err)
	}
	l, _ := top.Link(id)
	want := rs.Subtract(debit)
	if l.Available != want {
		t.Errorf("after left debit, available = %+v, want %+v", l.Available, want)
	}

	if err := top.Credit(id, left.Addr, debit); err != nil {
		t.Fatalf("Credit from left: %v", err)
	}
	l, _ = top.Link(id)
	if l.Available != rs {
		t.Errorf("after credit, available = %+v, want %+v", l.Available, rs)
	}

	// Debiting from the right endpoint flips up/down before subtracting.
	if err := top.Debit(id, right.Addr, debit); err != nil {
		t.Fatalf("Debit from right: %v", err)
	}
	l, _ = top.Link(id)
	wantFlipped := rs.Subtract(debit.Flip())
	if l.Available != wantFlipped {
		t.Errorf("after right debit, available = %+v, want %+v", l.Available, wantFlipped)
	}
}

func TestEndpointLinkLeafAccess(t *testing.T) {
	top, err := Read(sampleTopology)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	netMgr, _ := top.LeafByName("netMgr")
	link, ok := top.EndpointLink(netMgr.Addr, 0)
	if !ok {
		t.Fatalf("no access link for netMgr")
	}
	other, ok := link.OtherEnd(netMgr.Addr)
	if !ok || !other.IsRouter {
		t.Errorf("netMgr access link other end = %+v, want a router", other)
	}
}
