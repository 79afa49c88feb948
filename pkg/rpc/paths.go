package rpc

// RPC paths served by remote nodes.
const (
	pingPath  = "/v1/ping"
	infoPath  = "/v1/info"
	peersPath = "/v1/peers"
	blobPath  = "/v1/blocks/recent" // large response used for integrity checks
	callPath  = "/v1/call"
)
