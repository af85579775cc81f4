package prefixtable

import (
	"net/netip"
	"testing"

	"github.com/jonturner53/forestctl/internal/forest"
)

func TestLongestPrefixMatch(t *testing.T) {
	table := New()
	table.Insert(netip.MustParsePrefix("192.168.0.0/16"), forest.MakeAddr(1, 1))
	table.Insert(netip.MustParsePrefix("192.168.1.0/24"), forest.MakeAddr(1, 2))

	addr, ok := table.Lookup(netip.MustParseAddr("192.168.1.50"))
	if !ok {
		t.Fatalf("expected a match")
	}
	if addr != forest.MakeAddr(1, 2) {
		t.Errorf("got %s, want 1.2 (the more specific prefix)", addr)
	}

	addr, ok = table.Lookup(netip.MustParseAddr("192.168.2.1"))
	if !ok {
		t.Fatalf("expected a match for the broader prefix")
	}
	if addr != forest.MakeAddr(1, 1) {
		t.Errorf("got %s, want 1.1", addr)
	}

	if _, ok := table.Lookup(netip.MustParseAddr("10.0.0.1")); ok {
		t.Errorf("expected no match outside any configured prefix")
	}
}

func TestParseWildcardPrefix(t *testing.T) {
	cases := []struct {
		in       string
		wantBits int
	}{
		{"192.168.1.4", 32},
		{"192.168.1.*", 24},
		{"192.168.*.*", 16},
		{"192.*.*.*", 8},
	}
	for _, c := range cases {
		pfx, err := parseWildcardPrefix(c.in)
		if err != nil {
			t.Fatalf("parseWildcardPrefix(%q): %v", c.in, err)
		}
		if pfx.Bits() != c.wantBits {
			t.Errorf("parseWildcardPrefix(%q).Bits() = %d, want %d", c.in, pfx.Bits(), c.wantBits)
		}
	}
}
