// Package seeds ships the small fixed set of well-known endpoints the client
// falls back on when discovery has found nothing. Seeds are inserted as
// Candidates at first run, are exempt from eviction, and carry a short
// quarantine cap.
package seeds

import (
	"github.com/kachat-network/nodepool/pkg/pool"
)

var mainnet = []pool.Endpoint{
	{Scheme: "https", Host: "node-1.kachat.network", Port: 443, Network: pool.Mainnet},
	{Scheme: "https", Host: "node-2.kachat.network", Port: 443, Network: pool.Mainnet},
	{Scheme: "https", Host: "rpc.kaspool.org", Port: 16110, Network: pool.Mainnet},
	{Scheme: "https", Host: "rpc-eu.kaspool.org", Port: 16110, Network: pool.Mainnet},
}

var testnet = []pool.Endpoint{
	{Scheme: "https", Host: "tn-node-1.kachat.network", Port: 16210, Network: pool.Testnet},
	{Scheme: "https", Host: "tn-node-2.kachat.network", Port: 16210, Network: pool.Testnet},
}

// For returns the bundled seed endpoints for a network.
func For(network pool.Network) []pool.Endpoint {
	switch network {
	case pool.Testnet:
		return testnet
	default:
		return mainnet
	}
}

// Plant inserts the seeds for a network into the registry as Candidates.
// Idempotent: known endpoints just get the seed flag confirmed.
func Plant(registry *pool.Registry, network pool.Network) int {
	planted := 0
	for _, ep := range For(network) {
		registry.Upsert(ep, func(rec *pool.NodeRecord) {
			rec.Seed = true
		})
		planted++
	}
	return planted
}
