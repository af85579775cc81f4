// Package discovery lets a controller publish its own (host, port) and
// find sibling controllers at startup. Discovery only tells an
// operator or console which controller to dial; comtree state is never
// shared between controllers.
package discovery

import "context"

// Registrar is a pluggable controller-discovery backend.
type Registrar interface {
	// Register publishes this controller under name.
	Register(ctx context.Context, name, host string, port int) error
	// Deregister withdraws a previously published record.
	Deregister(ctx context.Context, name, host string, port int) error
	// Resolve returns the published "host:port" endpoints of the named
	// sibling controllers.
	Resolve(ctx context.Context, names []string) ([]string, error)
	Close() error
}
