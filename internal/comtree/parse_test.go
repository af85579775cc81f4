package comtree

import (
	"testing"

	"github.com/jonturner53/forestctl/internal/ratespec"
	"github.com/jonturner53/forestctl/internal/topology"
)

const parseTopo = `
router(salt, 1.1, (40.0,-50.0), (1.1-1.200),
  [ 1, 193.168.3.4, 1-10, (50000,30000,25000,15000) ] )
router(r1, 1.2, (40.0,-50.0), (1.201-1.300),
  [ 1, 193.168.3.5, 1-10, (50000,30000,25000,15000) ] )
leaf(netMgr, controller, 192.168.1.3, 2.900, (40.0,-50.0))
link(salt.1, r1.1, 1, (3000,3000,5000,5000))
link(netMgr, r1.3, 1, (3000,3000,5000,5000))
defaultLinkRates(50,500,25,250)
;
`

const parseComtrees = `
comtree(1001, netMgr, salt, auto,
        (1000,2000,1000,2000),       # default backbone rates
        (10,50,25,200),              # default leaf rates
        (r1),                        # extra core nodes
        (salt.1,r1.1,(1000,2000,1000,2000)),  # explicit rates = frozen
        (netMgr,r1.3)                # leaf link with default rates
);
`

func TestReadComtreeFile(t *testing.T) {
	top, err := topology.Read(parseTopo)
	if err != nil {
		t.Fatalf("topology.Read: %v", err)
	}
	table := NewTable()
	if err := Read(parseComtrees, top, table); err != nil {
		t.Fatalf("comtree.Read: %v", err)
	}

	ct, err := table.GetComtree(1001)
	if err != nil {
		t.Fatalf("GetComtree: %v", err)
	}
	defer table.ReleaseComtree(ct)

	salt, _ := top.RouterByName("salt")
	r1, _ := top.RouterByName("r1")
	netMgr, _ := top.LeafByName("netMgr")

	if ct.Root != salt.Addr {
		t.Errorf("root = %s, want salt", ct.Root)
	}
	if ct.Owner != netMgr.Addr {
		t.Errorf("owner = %s, want netMgr", ct.Owner)
	}
	if ct.ConfigMode != Auto {
		t.Errorf("mode = %s, want auto", ct.ConfigMode)
	}

	rr := ct.Routers[r1.Addr]
	if rr == nil {
		t.Fatal("r1 missing from comtree")
	}
	if rr.ParentLink != 1 {
		t.Errorf("r1 parent link = %d, want 1", rr.ParentLink)
	}
	if !rr.Frozen {
		t.Error("r1's explicitly-rated link should be frozen")
	}
	if want := ratespec.New(1000, 2000, 1000, 2000); rr.PlinkRates != want {
		t.Errorf("r1 plnkRates = %s, want %s", rr.PlinkRates, want)
	}
	if !rr.Core {
		t.Error("r1 should carry the core flag from the core list")
	}

	leaf := ct.Leaves[netMgr.Addr]
	if leaf == nil {
		t.Fatal("netMgr missing from comtree leaves")
	}
	if leaf.ParentRouter != r1.Addr || leaf.ParentLocalLink != 3 {
		t.Errorf("netMgr parent = %s.%d, want r1.3", leaf.ParentRouter, leaf.ParentLocalLink)
	}
	if want := ratespec.New(10, 50, 25, 200); leaf.Rates != want {
		t.Errorf("netMgr rates = %s, want default leaf rates %s", leaf.Rates, want)
	}

	engine := NewEngine(top, table, nil)
	if err := engine.Check(ct); err != nil {
		t.Errorf("loaded comtree fails verification: %v", err)
	}
	if err := CheckCapacityConservation(top); err != nil {
		t.Errorf("capacity conservation after load: %v", err)
	}

	// frozen backbone link debited from r1's side, leaf link from netMgr's
	bbLink, _ := top.EndpointLink(salt.Addr, 1)
	if want := ratespec.New(1000, 2000, 3000, 4000); bbLink.Available != want {
		t.Errorf("backbone link available = %s, want %s", bbLink.Available, want)
	}
}

func TestReadComtreeFileRejectsUnknownName(t *testing.T) {
	top, err := topology.Read(parseTopo)
	if err != nil {
		t.Fatalf("topology.Read: %v", err)
	}
	table := NewTable()
	err = Read(`comtree(7, netMgr, nowhere, auto, (1,1,1,1), (1,1,1,1));`, top, table)
	if err == nil {
		t.Fatal("expected an error for an unresolved root name")
	}
}
