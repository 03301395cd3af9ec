package animus

import (
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/cajal/brainstorm/internal/config"
)

// Resolver maps animus names to daemon command addresses. A remote record
// wins; otherwise the local animus config supplies ip and port; otherwise
// the daemon is assumed on loopback at the default port.
type Resolver struct {
	paths Paths
	port  int
}

// NewResolver returns a resolver over the records in p.
func NewResolver(p Paths, defaultPort int) *Resolver {
	if defaultPort <= 0 {
		defaultPort = config.DefaultAnimusPort
	}
	return &Resolver{paths: p, port: defaultPort}
}

// Resolve implements transport.Resolver.
func (r *Resolver) Resolve(name string) (*net.UDPAddr, error) {
	if err := config.ValidateAnimusName(name); err != nil {
		return nil, err
	}

	if r.paths.IsRemote(name) {
		ip, err := r.paths.ReadRemote(name)
		if err != nil {
			return nil, err
		}
		return &net.UDPAddr{IP: ip, Port: r.port}, nil
	}

	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: r.port}
	if !r.paths.IsLocal(name) {
		return addr, nil
	}

	cfg, err := config.LoadAnimusConfig(r.paths.AnimusDir(name))
	if errors.Is(err, os.ErrNotExist) {
		return addr, nil
	}
	if err != nil {
		return nil, err
	}
	if cfg.Animus.IP != "" {
		ip := net.ParseIP(cfg.Animus.IP)
		if ip == nil {
			return nil, fmt.Errorf("animus '%s' config has an invalid ip: %q", name, cfg.Animus.IP)
		}
		addr.IP = ip
	}
	if cfg.Animus.Port > 0 {
		addr.Port = cfg.Animus.Port
	}
	return addr, nil
}
