// Package portalclient talks to the portal API. Responses are decoded once at
// this boundary into domain types; error envelopes become application errors.
package portalclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/example/neighborhood-portal/internal/access"
	"github.com/example/neighborhood-portal/internal/application"
	"github.com/example/neighborhood-portal/internal/session"
)

const maxResponseBytes = 1 << 20

// ErrRateLimited is wrapped in a TransportError when the API throttles the client.
var ErrRateLimited = errors.New("portalclient: rate limited")

var _ session.Refresher = (*Client)(nil)

// Client calls the portal API on behalf of the session held in its store.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	store   *session.Store
	logger  *slog.Logger
}

func New(baseURL string, store *session.Store, httpClient *http.Client) (*Client, error) {
	return NewWithLogger(baseURL, store, httpClient, nil)
}

func NewWithLogger(baseURL string, store *session.Store, httpClient *http.Client, logger *slog.Logger) (*Client, error) {
	parsed, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("base url %q must be http or https", baseURL)
	}
	if store == nil {
		store = session.NewStore()
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{baseURL: parsed, http: httpClient, store: store, logger: logger.With("component", "PortalClient")}, nil
}

// Store returns the session store the client reads tokens from.
func (c *Client) Store() *session.Store {
	return c.store
}

type call struct {
	op     string
	method string
	path   string
	query  url.Values
	body   any
	auth   bool
	expect int
	out    any
}

func (c *Client) do(ctx context.Context, in call) error {
	var reader io.Reader
	if in.body != nil {
		payload, err := json.Marshal(in.body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", in.op, err)
		}
		reader = bytes.NewReader(payload)
	}

	target := c.baseURL.JoinPath(in.path)
	if len(in.query) > 0 {
		target.RawQuery = in.query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, in.method, target.String(), reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", in.op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if in.auth {
		token := c.store.AccessToken()
		if token == "" {
			return application.ErrSessionExpired
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return &application.TransportError{Op: in.op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &application.TransportError{Op: in.op, StatusCode: resp.StatusCode, Err: err}
	}
	c.logger.DebugContext(ctx, "api call", "op", in.op, "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode != in.expect {
		return decodeError(in.op, resp.StatusCode, body)
	}
	if in.out == nil {
		return nil
	}
	if err := decodeStrict(body, in.out); err != nil {
		return &application.TransportError{Op: in.op, StatusCode: resp.StatusCode, Err: err}
	}
	return nil
}

func decodeStrict(body []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("decode response: trailing data")
	}
	return nil
}

type errorEnvelope struct {
	ErrorCode string            `json:"error_code"`
	Message   string            `json:"message"`
	Reason    string            `json:"reason,omitempty"`
	Errors    map[string]string `json:"errors,omitempty"`
}

func decodeError(op string, status int, body []byte) error {
	var envelope errorEnvelope
	if err := decodeStrict(body, &envelope); err != nil || envelope.ErrorCode == "" {
		return &application.TransportError{Op: op, StatusCode: status, Err: fmt.Errorf("unexpected response: %s", http.StatusText(status))}
	}

	switch envelope.ErrorCode {
	case "VALIDATION_FAILED":
		fields := envelope.Errors
		if fields == nil {
			fields = map[string]string{}
		}
		return &application.ValidationError{FieldErrors: fields}
	case "INVALID_TRANSITION":
		return application.ErrInvalidTransition
	case "FORBIDDEN":
		return &application.AccessDeniedError{Reason: access.DenyReason(envelope.Reason)}
	case "SESSION_EXPIRED":
		return application.ErrSessionExpired
	case "INVALID_CREDENTIALS":
		return application.ErrInvalidCredentials
	case "NOT_FOUND":
		return application.ErrNotFound
	case "RATE_LIMITED":
		return &application.TransportError{Op: op, StatusCode: status, Err: ErrRateLimited}
	default:
		return &application.TransportError{Op: op, StatusCode: status, Err: fmt.Errorf("%s: %s", envelope.ErrorCode, envelope.Message)}
	}
}
