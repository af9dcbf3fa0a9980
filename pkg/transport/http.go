package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/seclens/seclens/pkg/httpclient"
)

// maxResponseBody caps what a tool server may send back in one response.
const maxResponseBody = 16 * 1024 * 1024

// httpTransport posts one JSON-RPC envelope per call. Retries are disabled
// at this layer; whether a failed tool call is worth repeating is the
// caller's decision.
type httpTransport struct {
	url     string
	client  *httpclient.Client
	timeout time.Duration
}

func newHTTPTransport(cfg Config) (*httpTransport, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("http transport requires a url")
	}
	return &httpTransport{
		url: cfg.URL,
		client: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: 0}), // context carries the deadline
			httpclient.WithMaxRetries(0),
		),
		timeout: cfg.CallTimeout,
	}, nil
}

func (t *httpTransport) Kind() Kind { return KindHTTP }

func (t *httpTransport) Close() error { return nil }

func (t *httpTransport) Call(ctx context.Context, method string, params map[string]any) (map[string]any, error) {
	ctx, cancel := callContext(ctx, t.timeout)
	defer cancel()

	resp, err := postEnvelope(ctx, t.client, t.url, method, params, "application/json")
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return nil, transportErr(KindHTTP, method,
				fmt.Sprintf("HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(body)), nil)
		}
		return nil, transportErr(KindHTTP, method, "request failed", err)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, transportErr(KindHTTP, method, "failed to read response", err)
	}
	return decodeResponse(body)
}

// postEnvelope sends {jsonrpc, id, method, params} and is shared by the
// http and sse transports.
func postEnvelope(ctx context.Context, client *httpclient.Client, url, method string, params map[string]any, accept string) (*http.Response, error) {
	payload, err := json.Marshal(newRequest(method, params))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", accept)

	return client.Do(req)
}
