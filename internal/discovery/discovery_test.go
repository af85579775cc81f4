package discovery

import (
	"context"
	"testing"

	"github.com/jonturner53/forestctl/internal/config"
)

func TestStaticRegistrarServesConfiguredPeers(t *testing.T) {
	reg, err := NewRegistrar(context.Background(), config.DiscoveryConfig{
		Mode:  "static",
		Peers: []string{"ctl-a:30120", "ctl-b:30120"},
	})
	if err != nil {
		t.Fatalf("NewRegistrar: %v", err)
	}
	peers, err := reg.Resolve(context.Background(), nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(peers) != 2 || peers[0] != "ctl-a:30120" {
		t.Errorf("peers = %v", peers)
	}
}

func TestNewRegistrarModeNone(t *testing.T) {
	reg, err := NewRegistrar(context.Background(), config.DiscoveryConfig{Mode: "none"})
	if err != nil {
		t.Fatalf("NewRegistrar: %v", err)
	}
	if reg != nil {
		t.Error("mode none should return a nil registrar")
	}
}

func TestParseSRV(t *testing.T) {
	ep, ok := parseSRV("0 0 30120 ctl-a.forest.example.")
	if !ok || ep != "ctl-a.forest.example:30120" {
		t.Errorf("parseSRV = %q, %v", ep, ok)
	}
	if _, ok := parseSRV("garbage"); ok {
		t.Error("expected parse failure for malformed SRV value")
	}
}
