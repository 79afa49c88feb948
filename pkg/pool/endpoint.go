// Package pool holds the endpoint pool's data model and registry: endpoint
// identity, per-endpoint profile/health/latency state, the node state
// machine, the capacity-bounded registry, and the pure scoring functions the
// router selects with.
package pool

import (
	"fmt"
	"net"
	"strings"
)

// Network identifies which chain network an endpoint serves.
type Network string

const (
	Mainnet Network = "mainnet"
	Testnet Network = "testnet"
)

// Endpoint is the immutable identity of one remote RPC server. Equality is
// by normalized host:port; scheme and network ride along for dialing and
// filtering.
type Endpoint struct {
	Scheme  string  `json:"scheme"`
	Host    string  `json:"host"`
	Port    uint16  `json:"port"`
	Network Network `json:"network"`
}

// Key returns the normalized host:port identity used for registry lookups
// and deduplication.
func (e Endpoint) Key() string {
	return net.JoinHostPort(strings.ToLower(e.Host), fmt.Sprintf("%d", e.Port))
}

// URL returns the dialable base URL for the endpoint.
func (e Endpoint) URL() string {
	return fmt.Sprintf("%s://%s", e.Scheme, e.Key())
}

func (e Endpoint) String() string { return e.URL() }

// ParseAddr parses a "host:port" address learned from peer discovery into
// an Endpoint on the given network. The scheme defaults to https since peer
// lists carry bare addresses.
func ParseAddr(addr string, network Network) (Endpoint, error) {
	host, portStr, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return Endpoint{}, fmt.Errorf("parse peer address %q: %w", addr, err)
	}
	var port uint16
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil || port == 0 {
		return Endpoint{}, fmt.Errorf("parse peer address %q: bad port", addr)
	}
	return Endpoint{Scheme: "https", Host: strings.ToLower(host), Port: port, Network: network}, nil
}

// RoutableAddr reports whether host is a publicly routable address. Peer
// lists frequently leak private, loopback, and link-local addresses that are
// meaningless outside the advertising node's own network.
func RoutableAddr(host string) bool {
	ip := net.ParseIP(host)
	if ip == nil {
		// Hostname: assume routable, DNS will sort it out.
		return true
	}
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsPrivate() || ip.IsUnspecified() || ip.IsMulticast() {
		return false
	}
	return true
}
