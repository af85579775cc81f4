package devcluster

import (
	"context"
	"os"
	"testing"
	"time"
)

// TestDiscover needs a running Docker daemon and a compose deployment;
// it is opt-in via DEVCLUSTER_NETWORK so the ordinary test run stays
// hermetic.
func TestDiscover(t *testing.T) {
	network := os.Getenv("DEVCLUSTER_NETWORK")
	if network == "" {
		t.Skip("set DEVCLUSTER_NETWORK (and run the compose deployment) to enable")
	}
	suffix := os.Getenv("DEVCLUSTER_SUFFIX")
	if suffix == "" {
		suffix = "forest-rtr"
	}

	c, err := Connect(suffix, 30123, network)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	addrs, err := c.Discover(ctx)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(addrs) == 0 {
		t.Fatalf("no router containers found with suffix %q on network %q", suffix, network)
	}
	t.Logf("discovered %d routers: %v", len(addrs), addrs)
}
