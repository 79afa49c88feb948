// Package rpc is the pool's transport boundary: a typed client interface
// over whatever RPC protocol the remote nodes speak, plus an HTTP JSON
// implementation. The pool is transport-agnostic above this package; it
// never interprets payloads, only success, failure kind, and latency.
package rpc

import (
	"context"
	"encoding/json"

	"github.com/kachat-network/nodepool/pkg/pool"
)

// NodeInfo is the capability snapshot a node reports about itself.
type NodeInfo struct {
	Synced          bool   `json:"isSynced"`
	Indexed         bool   `json:"isUtxoIndexed"`
	ConsensusHeight uint64 `json:"virtualDaaScore"`
	Version         string `json:"serverVersion"`
}

// Request is one routed application call: a method name and its params,
// opaque to the pool.
type Request struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response carries the raw result back to the caller.
type Response struct {
	Result json.RawMessage `json:"result"`
}

// Client captures every call the pool makes against a single endpoint.
// Implementations return *Error so callers can branch on the failure kind.
type Client interface {
	// Ping is the cheap liveness round-trip.
	Ping(ctx context.Context, ep pool.Endpoint) error
	// Info fetches the node's capability snapshot.
	Info(ctx context.Context, ep pool.Endpoint) (*NodeInfo, error)
	// PeerAddresses returns host:port addresses the node knows about.
	PeerAddresses(ctx context.Context, ep pool.Endpoint) ([]string, error)
	// IntegrityBlob requests a response expected to exceed several KB and
	// returns the declared and received byte counts. A mismatch means a
	// middlebox on the path truncates large transfers.
	IntegrityBlob(ctx context.Context, ep pool.Endpoint) (declared, received int64, err error)
	// Call executes one routed application request.
	Call(ctx context.Context, ep pool.Endpoint, req Request) (*Response, error)
}
