// Package transport provides the default HTTP implementation of
// eventlog.Transport, grounded on sdk/go/akashi/client.go's
// post/get/doRequest/handleResponse plumbing but generalized to spec.md
// §6's flat (non-enveloped) wire format and two fixed paths.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/relaylog/eventlog/internal/model"
)

// HTTPTransport sends requests over HTTP. The zero value is not usable;
// construct with New.
type HTTPTransport struct {
	baseURL string
	client  *http.Client
}

// New returns an HTTPTransport rooted at baseURL. A trailing slash on
// baseURL is trimmed, matching client.go's NewClient. If httpClient is
// nil, a default client with a 30-second timeout is used.
func New(baseURL string, httpClient *http.Client) *HTTPTransport {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPTransport{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  httpClient,
	}
}

// Send performs a synchronous round trip.
func (t *HTTPTransport) Send(ctx context.Context, req model.Request) (model.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, t.baseURL+req.Path, bytes.NewReader(req.Body))
	if err != nil {
		return model.Response{}, fmt.Errorf("eventlog/transport: create request: %w", err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return model.Response{}, fmt.Errorf("eventlog/transport: %s %s: %w", req.Method, req.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.Response{}, fmt.Errorf("eventlog/transport: read response body: %w", err)
	}

	return model.Response{StatusCode: resp.StatusCode, Body: body}, nil
}

// SendAsync performs a non-blocking round trip. The returned channel
// receives exactly one Result and is then closed — mirroring
// eventlog.Transport's documented contract.
func (t *HTTPTransport) SendAsync(ctx context.Context, req model.Request) <-chan model.Result {
	ch := make(chan model.Result, 1)
	go func() {
		defer close(ch)
		resp, err := t.Send(ctx, req)
		ch <- model.Result{Response: resp, Err: err}
	}()
	return ch
}
