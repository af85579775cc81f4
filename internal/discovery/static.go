package discovery

import "context"

// StaticRegistrar serves a fixed peer list from configuration:
// Resolve returns the whole list whatever names it is given.
// Register/Deregister are no-ops.
type StaticRegistrar struct {
	Peers []string
}

func (s *StaticRegistrar) Register(ctx context.Context, name, host string, port int) error {
	return nil
}

func (s *StaticRegistrar) Deregister(ctx context.Context, name, host string, port int) error {
	return nil
}

func (s *StaticRegistrar) Resolve(ctx context.Context, names []string) ([]string, error) {
	return s.Peers, nil
}

func (s *StaticRegistrar) Close() error { return nil }
