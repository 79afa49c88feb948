package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kachat-network/nodepool/pkg/pool"
)

func endpointFor(t *testing.T, server *httptest.Server) pool.Endpoint {
	t.Helper()
	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return pool.Endpoint{Scheme: "http", Host: u.Hostname(), Port: uint16(port), Network: pool.Mainnet}
}

func TestHTTPClient_Info(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, infoPath, r.URL.Path)
		_ = json.NewEncoder(w).Encode(NodeInfo{Synced: true, Indexed: true, ConsensusHeight: 123456})
	}))
	defer server.Close()

	client := NewHTTPWithOpts(Opts{})
	info, err := client.Info(context.Background(), endpointFor(t, server))
	require.NoError(t, err)
	assert.True(t, info.Synced)
	assert.True(t, info.Indexed)
	assert.EqualValues(t, 123456, info.ConsensusHeight)
}

func TestHTTPClient_PeerAddresses(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, peersPath, r.URL.Path)
		_, _ = w.Write([]byte(`{"addresses":["1.2.3.4:16110","5.6.7.8:16110"]}`))
	}))
	defer server.Close()

	client := NewHTTPWithOpts(Opts{})
	addrs, err := client.PeerAddresses(context.Background(), endpointFor(t, server))
	require.NoError(t, err)
	assert.Equal(t, []string{"1.2.3.4:16110", "5.6.7.8:16110"}, addrs)
}

func TestHTTPClient_ProtocolError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewHTTPWithOpts(Opts{})
	err := client.Ping(context.Background(), endpointFor(t, server))
	var rpcErr *Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, KindProtocol, rpcErr.Kind)
}

func TestHTTPClient_MalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"isSynced": not-json`))
	}))
	defer server.Close()

	client := NewHTTPWithOpts(Opts{})
	_, err := client.Info(context.Background(), endpointFor(t, server))
	var rpcErr *Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, KindMalformedResponse, rpcErr.Kind)
}

func TestHTTPClient_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	ep := endpointFor(t, server)
	server.Close()

	client := NewHTTPWithOpts(Opts{})
	err := client.Ping(context.Background(), ep)
	var rpcErr *Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, KindConnectionRefused, rpcErr.Kind)
}

func TestHTTPClient_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	client := NewHTTPWithOpts(Opts{})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := client.Ping(ctx, endpointFor(t, server))
	var rpcErr *Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, KindTimeout, rpcErr.Kind)
}

func TestHTTPClient_IntegrityBlob(t *testing.T) {
	payload := make([]byte, 8<<10)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, blobPath, r.URL.Path)
		w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
		_, _ = w.Write(payload)
	}))
	defer server.Close()

	client := NewHTTPWithOpts(Opts{})
	declared, received, err := client.IntegrityBlob(context.Background(), endpointFor(t, server))
	require.NoError(t, err)
	assert.EqualValues(t, len(payload), declared)
	assert.Equal(t, declared, received)
}

func TestHTTPClient_Call(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, callPath, r.URL.Path)
		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "getBalance", req.Method)
		_, _ = w.Write([]byte(`{"result": {"balance": 42}}`))
	}))
	defer server.Close()

	client := NewHTTPWithOpts(Opts{})
	resp, err := client.Call(context.Background(), endpointFor(t, server), Request{Method: "getBalance"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"balance": 42}`, string(resp.Result))
}

func TestError_Unwrap(t *testing.T) {
	inner := errors.New("boom")
	err := &Error{Kind: KindProtocol, Endpoint: "a:1", Err: inner}
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "protocol-error")
}
