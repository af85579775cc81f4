// Package devcluster discovers the router containers of a local Docker
// test deployment, so integration tests can drive boot-router against
// real processes instead of in-memory fakes. It never creates or
// destroys containers; the compose file owns the cluster's lifecycle.
package devcluster

import (
	"context"
	"fmt"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

// Cluster finds router containers by name suffix within one Docker
// network.
type Cluster struct {
	cli     *client.Client
	Suffix  string // e.g. "forest-rtr"
	Port    int    // the routers' control port
	Network string // e.g. "forest-net"
}

// Connect opens a Docker API client from the environment (DOCKER_HOST
// et al.) with API version negotiation.
func Connect(suffix string, port int, network string) (*Cluster, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("devcluster: docker client: %w", err)
	}
	return &Cluster{
		cli:     cli,
		Suffix:  strings.TrimSpace(suffix),
		Port:    port,
		Network: strings.TrimSpace(network),
	}, nil
}

// Discover returns "name:port" endpoints for every running container
// whose name contains the cluster suffix and that is attached to the
// cluster network. Container names double as DNS names inside the
// network, matching how the routers address each other.
func (c *Cluster) Discover(ctx context.Context) ([]string, error) {
	list, err := c.cli.ContainerList(ctx, container.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("devcluster: list containers: %w", err)
	}

	var addrs []string
	for _, summary := range list {
		name := containerName(summary.Names)
		if name == "" || !strings.Contains(name, c.Suffix) {
			continue
		}
		info, err := c.cli.ContainerInspect(ctx, summary.ID)
		if err != nil {
			continue
		}
		if info.NetworkSettings == nil {
			continue
		}
		netInfo, ok := info.NetworkSettings.Networks[c.Network]
		if !ok || netInfo == nil || netInfo.IPAddress == "" {
			continue
		}
		addrs = append(addrs, fmt.Sprintf("%s:%d", name, c.Port))
	}
	return addrs, nil
}

// Close releases the Docker API client.
func (c *Cluster) Close() error { return c.cli.Close() }

func containerName(names []string) string {
	for _, n := range names {
		n = strings.TrimPrefix(n, "/")
		if n != "" {
			return n
		}
	}
	return ""
}
