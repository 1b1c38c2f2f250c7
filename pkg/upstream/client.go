package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	pkgerrors "github.com/medjbersoundous/backend-ramassage-packers/pkg/errors"
	"github.com/medjbersoundous/backend-ramassage-packers/pkg/logger"
	"github.com/medjbersoundous/backend-ramassage-packers/pkg/metrics"
)

const (
	defaultTimeout              = 15 * time.Second
	responseBodyReadLimit int64 = 1024
	apiKeyHeader                = "apikey"
)

// IP families accepted by WithIPFamily.
const (
	IPFamilyAuto = "auto"
	IPFamilyV4   = "ipv4"
	IPFamilyV6   = "ipv6"
)

var (
	errBaseURLRequired = errors.New("upstream base url is required")
	errAPIKeyRequired  = errors.New("upstream api key is required")
)

// Client talks to the partner order platform. It holds no per-principal state
// and never retries; callers decide what to do on failure.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	timeout    time.Duration
	ipFamily   string
	logg       *logger.Logger
	metrics    *metrics.SyncMetrics
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client. The IP family option is
// ignored when a custom client is supplied.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithIPFamily forces outbound connections onto one address family.
func WithIPFamily(family string) Option {
	return func(c *Client) {
		c.ipFamily = strings.ToLower(strings.TrimSpace(family))
	}
}

// WithLogger enables logging of feed records that are skipped.
func WithLogger(logg *logger.Logger) Option {
	return func(c *Client) {
		c.logg = logg
	}
}

// WithMetrics counts skipped feed records.
func WithMetrics(m *metrics.SyncMetrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient builds the upstream client.
func NewClient(baseURL, apiKey string, opts ...Option) (*Client, error) {
	trimmedURL := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmedURL == "" {
		return nil, errBaseURLRequired
	}
	trimmedKey := strings.TrimSpace(apiKey)
	if trimmedKey == "" {
		return nil, errAPIKeyRequired
	}

	client := &Client{
		baseURL:  trimmedURL,
		apiKey:   trimmedKey,
		timeout:  defaultTimeout,
		ipFamily: IPFamilyAuto,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}

	if client.httpClient == nil {
		hc, err := newHTTPClient(client.timeout, client.ipFamily)
		if err != nil {
			return nil, err
		}
		client.httpClient = hc
	}

	return client, nil
}

func newHTTPClient(timeout time.Duration, family string) (*http.Client, error) {
	network := "tcp"
	switch family {
	case "", IPFamilyAuto:
	case IPFamilyV4:
		network = "tcp4"
	case IPFamilyV6:
		network = "tcp6"
	default:
		return nil, fmt.Errorf("unsupported ip family %q", family)
	}

	dialer := &net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = func(ctx context.Context, _ string, addr string) (net.Conn, error) {
		return dialer.DialContext(ctx, network, addr)
	}

	return &http.Client{Timeout: timeout, Transport: transport}, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any, bearer string) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal upstream request")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+strings.TrimLeft(path, "/"), reader)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build upstream request")
	}
	req.Header.Set(apiKeyHeader, c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	return req, nil
}

// do executes req and returns the response when the status is 2xx. Any other
// status is turned into a StatusError.
func (c *Client) do(req *http.Request, op string) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, op+" request failed")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		_ = resp.Body.Close()
		return nil, newStatusError(op, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return resp, nil
}
