// Package anki talks to a running AnkiConnect add-on over its JSON HTTP API.
// Every call is a single attempt bounded by a timeout; failures resolve to
// values rather than errors so callers can report them and move on.
package anki

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// ProtocolVersion is the AnkiConnect API version this client speaks.
const ProtocolVersion = 6

// DefaultEndpoint is where AnkiConnect listens on a desktop install.
const DefaultEndpoint = "http://localhost:8765"

const (
	defaultProbeTimeout  = 2 * time.Second
	defaultSingleTimeout = 5 * time.Second
)

// Client is an AnkiConnect client bound to one endpoint.
type Client struct {
	endpoint      string
	httpClient    *http.Client
	logger        *slog.Logger
	hosted        bool
	probeTimeout  time.Duration
	singleTimeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger sets the logger for failed calls.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithHosted marks the caller as running on a remote host, where a loopback
// endpoint cannot reach the user's desktop. It changes only diagnostics.
func WithHosted(hosted bool) Option {
	return func(c *Client) { c.hosted = hosted }
}

// WithTimeouts sets the connectivity probe timeout and the single-note
// timeout. Batch calls get twice the single-note timeout. Non-positive
// values keep the defaults.
func WithTimeouts(probe, single time.Duration) Option {
	return func(c *Client) {
		if probe > 0 {
			c.probeTimeout = probe
		}
		if single > 0 {
			c.singleTimeout = single
		}
	}
}

// New creates a Client for endpoint. The endpoint is not validated here;
// CheckConnectivity reports a bad scheme.
func New(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint:      strings.TrimSpace(endpoint),
		httpClient:    &http.Client{},
		logger:        slog.Default(),
		probeTimeout:  defaultProbeTimeout,
		singleTimeout: defaultSingleTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the configured endpoint.
func (c *Client) Endpoint() string {
	return c.endpoint
}

func (c *Client) batchTimeout() time.Duration {
	return 2 * c.singleTimeout
}

type request struct {
	Action  string `json:"action"`
	Version int    `json:"version"`
	Params  any    `json:"params,omitempty"`
}

type response struct {
	Result json.RawMessage `json:"result"`
	Error  *string         `json:"error"`
}

// storeError is a top-level error reported by AnkiConnect itself.
type storeError struct {
	msg string
}

func (e *storeError) Error() string { return e.msg }

// errMalformed marks a response that was not the expected envelope.
var errMalformed = errors.New("malformed response")

// call performs one action under timeout and decodes the result into out.
// A non-null top-level error is returned as *storeError.
func (c *Client) call(ctx context.Context, timeout time.Duration, action string, params, out any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(request{Action: action, Version: ProtocolVersion, Params: params})
	if err != nil {
		return fmt.Errorf("marshaling %s request: %w", action, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating %s request: %w", action, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", errMalformed, resp.StatusCode)
	}

	var env response
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%w: %v", errMalformed, err)
	}
	if env.Error != nil {
		return &storeError{msg: *env.Error}
	}
	if out == nil {
		return nil
	}
	if len(env.Result) == 0 || string(env.Result) == "null" {
		return fmt.Errorf("%w: missing result", errMalformed)
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("%w: %v", errMalformed, err)
	}
	return nil
}
