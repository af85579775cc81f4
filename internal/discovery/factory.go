package discovery

import (
	"context"
	"fmt"

	"github.com/jonturner53/forestctl/internal/config"
)

// NewRegistrar builds the registrar selected by cfg. Mode "none"
// returns nil; callers treat a nil registrar as discovery disabled.
func NewRegistrar(ctx context.Context, cfg config.DiscoveryConfig) (Registrar, error) {
	switch cfg.Mode {
	case "none", "":
		return nil, nil
	case "static":
		return &StaticRegistrar{Peers: cfg.Peers}, nil
	case "route53":
		return NewRoute53Registrar(ctx, cfg.Route53.HostedZoneID, cfg.Route53.DomainSuffix, cfg.Route53.TTL)
	default:
		return nil, fmt.Errorf("discovery: unsupported mode %q", cfg.Mode)
	}
}
