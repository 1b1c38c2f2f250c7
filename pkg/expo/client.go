package expo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	pkgerrors "github.com/medjbersoundous/backend-ramassage-packers/pkg/errors"
	"github.com/tidwall/gjson"
)

const (
	DefaultPushURL             = "https://exp.host/--/api/v2/push/send"
	responseBodyReadLimit int64 = 64 * 1024

	errDeviceNotRegistered = "DeviceNotRegistered"
)

// ErrDeviceNotRegistered marks a token the push service no longer accepts.
var ErrDeviceNotRegistered = errors.New("expo: device not registered")

// Client sends push messages through the Expo push service.
type Client struct {
	httpClient  *http.Client
	url         string
	accessToken string
}

// Option configures optional client behavior.
type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func WithURL(url string) Option {
	return func(c *Client) {
		if trimmed := strings.TrimSpace(url); trimmed != "" {
			c.url = trimmed
		}
	}
}

// WithAccessToken enables Expo enhanced push security.
func WithAccessToken(token string) Option {
	return func(c *Client) {
		c.accessToken = strings.TrimSpace(token)
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient = &http.Client{Timeout: timeout}
		}
	}
}

func NewClient(opts ...Option) *Client {
	client := &Client{
		url:        DefaultPushURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client
}

// Message is one push notification addressed to a single device token.
type Message struct {
	To    string         `json:"to"`
	Sound string         `json:"sound,omitempty"`
	Title string         `json:"title"`
	Body  string         `json:"body"`
	Data  map[string]any `json:"data,omitempty"`
}

// SendError is a non-2xx answer from the push service.
type SendError struct {
	StatusCode int
	Body       string
}

func (e *SendError) Error() string {
	return fmt.Sprintf("expo push status %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether resending the same message may succeed.
func (e *SendError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Send delivers msg and returns the ticket id. A ticket rejected with
// DeviceNotRegistered yields ErrDeviceNotRegistered.
func (c *Client) Send(ctx context.Context, msg Message) (string, error) {
	if c == nil {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "expo client not configured")
	}
	if strings.TrimSpace(msg.To) == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "expo token is required")
	}
	if msg.Sound == "" {
		msg.Sound = "default"
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal push message")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build push request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute push request")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read push response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency,
			&SendError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}, "push request failed")
	}

	return parseTicket(body)
}

// parseTicket reads the single ticket Expo returns for a one-message request.
// The data field is an object for single sends and an array for batches.
func parseTicket(body []byte) (string, error) {
	if !gjson.ValidBytes(body) {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "invalid push response")
	}
	ticket := gjson.GetBytes(body, "data")
	if ticket.IsArray() {
		ticket = ticket.Get("0")
	}
	if !ticket.Exists() {
		if errs := gjson.GetBytes(body, "errors.0.message"); errs.Exists() {
			return "", pkgerrors.New(pkgerrors.CodeDependency, "push rejected: "+errs.String())
		}
		return "", pkgerrors.New(pkgerrors.CodeDependency, "push response without ticket")
	}

	if ticket.Get("status").String() == "ok" {
		return ticket.Get("id").String(), nil
	}
	if ticket.Get("details.error").String() == errDeviceNotRegistered {
		return "", ErrDeviceNotRegistered
	}
	return "", pkgerrors.New(pkgerrors.CodeDependency, "push ticket error: "+ticket.Get("message").String())
}
