package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/kachat-network/nodepool/pkg/pool"
	"github.com/kachat-network/nodepool/pkg/utils"
)

// HTTPClient speaks JSON over HTTP to a single endpoint per call. Failover,
// rate limiting, and circuit breaking all live above this layer in the pool;
// the client's only job is one attempt, one typed outcome.
type HTTPClient struct {
	client *http.Client
}

// Opts configures a new HTTPClient.
type Opts struct {
	Timeout    time.Duration
	HTTPClient *http.Client
}

// NewHTTPWithOpts creates an HTTPClient. The client-level timeout is a
// backstop; per-attempt deadlines come from the caller's context.
func NewHTTPWithOpts(o Opts) *HTTPClient {
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	client := o.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: o.Timeout}
	} else if client.Timeout == 0 {
		client.Timeout = o.Timeout
	}
	return &HTTPClient{client: client}
}

// doJSON sends one request to one endpoint and decodes the JSON response
// into out. Every failure comes back as a typed *Error.
func (c *HTTPClient) doJSON(ctx context.Context, ep pool.Endpoint, method, path string, payload, out any) error {
	base := ep.URL()

	var body *bytes.Reader
	if payload != nil {
		b, mErr := json.Marshal(payload)
		if mErr != nil {
			return mErr
		}
		body = bytes.NewReader(b)
	} else {
		body = bytes.NewReader(nil)
	}

	req, reqErr := http.NewRequestWithContext(ctx, method, base+path, body)
	if reqErr != nil {
		return reqErr
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return classify(ep.Key(), err)
	}

	if resp.StatusCode >= 300 {
		_ = utils.DrainAndClose(resp.Body)
		return &Error{Kind: KindProtocol, Endpoint: ep.Key(), Err: fmt.Errorf("http %d", resp.StatusCode)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			_ = utils.DrainAndClose(resp.Body)
			return malformed(ep.Key(), err)
		}
	}
	return utils.DrainAndClose(resp.Body)
}

func (c *HTTPClient) Ping(ctx context.Context, ep pool.Endpoint) error {
	return c.doJSON(ctx, ep, http.MethodGet, pingPath, nil, nil)
}

func (c *HTTPClient) Info(ctx context.Context, ep pool.Endpoint) (*NodeInfo, error) {
	var info NodeInfo
	if err := c.doJSON(ctx, ep, http.MethodGet, infoPath, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *HTTPClient) PeerAddresses(ctx context.Context, ep pool.Endpoint) ([]string, error) {
	var out struct {
		Addresses []string `json:"addresses"`
	}
	if err := c.doJSON(ctx, ep, http.MethodGet, peersPath, nil, &out); err != nil {
		return nil, err
	}
	return out.Addresses, nil
}

// IntegrityBlob streams the large response and counts bytes rather than
// buffering it; only the length matters.
func (c *HTTPClient) IntegrityBlob(ctx context.Context, ep pool.Endpoint) (int64, int64, error) {
	req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, ep.URL()+blobPath, nil)
	if reqErr != nil {
		return 0, 0, reqErr
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, 0, classify(ep.Key(), err)
	}
	defer func() { _ = utils.DrainAndClose(resp.Body) }()

	if resp.StatusCode >= 300 {
		return 0, 0, &Error{Kind: KindProtocol, Endpoint: ep.Key(), Err: fmt.Errorf("http %d", resp.StatusCode)}
	}

	declared := resp.ContentLength
	if declared < 0 {
		if v := resp.Header.Get("X-Content-Bytes"); v != "" {
			declared, _ = strconv.ParseInt(v, 10, 64)
		} else {
			declared = -1
		}
	}

	// Read one byte past the declared length so over-delivery is visible too.
	limit := int64(64 << 20)
	if declared >= 0 {
		limit = declared + 1
	}
	received, err := utils.ReadAtMost(resp.Body, limit)
	if err != nil {
		return declared, received, classify(ep.Key(), err)
	}
	return declared, received, nil
}

func (c *HTTPClient) Call(ctx context.Context, ep pool.Endpoint, req Request) (*Response, error) {
	var out Response
	if err := c.doJSON(ctx, ep, http.MethodPost, callPath, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
