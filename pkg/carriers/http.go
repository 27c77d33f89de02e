package carriers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	pkgerrors "github.com/angelmondragon/fulfillment-backend/pkg/errors"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
)

const (
	defaultTimeout          = 15 * time.Second
	responseBodyLimit int64 = 1024
)

// CallObserver receives the latency of every outbound call.
type CallObserver func(provider enums.ShippingProvider, operation string, d time.Duration)

// HTTPClient is the JSON transport shared by the carrier clients. Calls are
// throttled by a token bucket so a burst of retries cannot trip carrier quotas.
type HTTPClient struct {
	provider   enums.ShippingProvider
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
	observe    CallObserver
}

// Option configures optional client behavior.
type Option func(*HTTPClient)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *HTTPClient) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the provider's API base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *HTTPClient) {
		trimmed := strings.TrimSpace(baseURL)
		if trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// WithRateLimit caps outbound requests per second. Non-positive rps disables it.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *HTTPClient) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithObserver installs a latency hook.
func WithObserver(fn CallObserver) Option {
	return func(c *HTTPClient) {
		c.observe = fn
	}
}

func NewHTTPClient(provider enums.ShippingProvider, defaultBaseURL string, opts ...Option) *HTTPClient {
	client := &HTTPClient{
		provider:   provider,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client
}

func (c *HTTPClient) Provider() enums.ShippingProvider {
	return c.provider
}

// Request describes one JSON call. Body is JSON encoded unless Form is set.
type Request struct {
	Operation string
	Method    string
	Path      string
	Query     url.Values
	Header    http.Header
	Body      any
	Form      url.Values
}

// Do executes req and decodes a 2xx JSON response into out (when non-nil).
// 401/403 map to ErrAuthenticationFailed; any other non-2xx to ErrRemote.
func (c *HTTPClient) Do(ctx context.Context, req Request, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, req.Operation+" throttled")
		}
	}

	httpReq, err := c.newRequest(ctx, req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build "+req.Operation+" request")
	}

	started := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if c.observe != nil {
		c.observe(c.provider, req.Operation, time.Since(started))
	}
	if err != nil {
		return NewRemoteError(c.provider, req.Operation, 0, err.Error())
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyLimit))
		return AuthenticationFailed(c.provider, strings.TrimSpace(string(msg)))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyLimit))
		return NewRemoteError(c.provider, req.Operation, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return NewRemoteError(c.provider, req.Operation, resp.StatusCode, fmt.Sprintf("decode response: %v", err))
	}
	return nil
}

func (c *HTTPClient) newRequest(ctx context.Context, req Request) (*http.Request, error) {
	endpoint := strings.TrimRight(c.baseURL, "/") + "/" + strings.TrimLeft(req.Path, "/")
	if len(req.Query) > 0 {
		endpoint = endpoint + "?" + req.Query.Encode()
	}

	var body io.Reader
	contentType := ""
	switch {
	case req.Form != nil:
		body = strings.NewReader(req.Form.Encode())
		contentType = "application/x-www-form-urlencoded"
	case req.Body != nil:
		payload, err := json.Marshal(req.Body)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(payload)
		contentType = "application/json"
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "application/json")
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	return httpReq, nil
}
