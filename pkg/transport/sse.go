package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/seclens/seclens/pkg/httpclient"
)

// sseTransport posts the envelope and reads the answer off a
// text/event-stream response. Intermediate events (progress notifications
// and the like) are consumed and discarded; only the event that carries a
// terminal result or error concludes the call.
type sseTransport struct {
	url     string
	client  *httpclient.Client
	timeout time.Duration
}

func newSSETransport(cfg Config) (*sseTransport, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("sse transport requires a url")
	}
	return &sseTransport{
		url: cfg.URL,
		client: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: 0}), // context carries the deadline
			httpclient.WithMaxRetries(0),
		),
		timeout: cfg.CallTimeout,
	}, nil
}

func (t *sseTransport) Kind() Kind { return KindSSE }

func (t *sseTransport) Close() error { return nil }

func (t *sseTransport) Call(ctx context.Context, method string, params map[string]any) (map[string]any, error) {
	ctx, cancel := callContext(ctx, t.timeout)
	defer cancel()

	resp, err := postEnvelope(ctx, t.client, t.url, method, params, "text/event-stream, application/json")
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, transportErr(KindSSE, method, fmt.Sprintf("HTTP %d", resp.StatusCode), nil)
		}
		return nil, transportErr(KindSSE, method, "request failed", err)
	}

	// Servers may answer a fast call with plain JSON instead of a stream.
	if !strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
		if readErr != nil {
			return nil, transportErr(KindSSE, method, "failed to read response", readErr)
		}
		return decodeResponse(body)
	}

	result, err := readStream(ctx, resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, transportErr(KindSSE, method, "deadline exceeded reading stream", ctx.Err())
		}
		return nil, err
	}
	return result, nil
}

// readStream consumes `data:` lines until the stream ends. The last event
// carrying a result field wins; the first carrying an error concludes the
// call immediately. An event may span several data lines; a blank line ends
// it.
func readStream(ctx context.Context, body io.Reader) (map[string]any, error) {
	reader := bufio.NewReader(body)
	var data bytes.Buffer
	var lastResult map[string]any
	haveResult := false

	handleEvent := func(payload []byte) error {
		result, terminal, err := classifyEvent(payload)
		if err != nil {
			return err // server flagged a protocol error
		}
		if terminal {
			lastResult = result
			haveResult = true
		}
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return nil, transportErr(KindSSE, "read", "stream read failed", err)
		}

		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "data:"):
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(trimmed, "data:")))

		case trimmed == "" && data.Len() > 0:
			if evErr := handleEvent(data.Bytes()); evErr != nil {
				return nil, evErr
			}
			data.Reset()
		}

		if err == io.EOF {
			if data.Len() > 0 {
				if evErr := handleEvent(data.Bytes()); evErr != nil {
					return nil, evErr
				}
			}
			if haveResult {
				return lastResult, nil
			}
			return nil, transportErr(KindSSE, "read", "stream ended without a response", nil)
		}
	}
}

// classifyEvent decides what an event payload means for the call. A result
// field marks a candidate response, an error field is a *ProtocolError, and
// anything else is an intermediate event to be dropped.
func classifyEvent(payload []byte) (map[string]any, bool, error) {
	var probe struct {
		Result json.RawMessage `json:"result"`
		Error  json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return nil, false, nil
	}
	if probe.Result == nil && probe.Error == nil {
		return nil, false, nil
	}
	result, err := decodeResponse(payload)
	if err != nil {
		return nil, false, err
	}
	return result, true, nil
}
