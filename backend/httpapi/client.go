// Package httpapi implements the backend ports over the simulation and
// decision services' JSON HTTP APIs.
//
// Usage:
//
//	sim := httpapi.New("http://sim-backend:8081")
//	dec := httpapi.New("http://decision-backend:8082")
//
// The same Client type serves both ports; each instance only ever
// receives the calls its service supports.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	cardream "github.com/basedlsg/Car-Dream"
	"github.com/basedlsg/Car-Dream/backend"
	"github.com/basedlsg/Car-Dream/checkpoint"
	"github.com/basedlsg/Car-Dream/experiment"
	"github.com/basedlsg/Car-Dream/id"
)

// Compile-time interface checks.
var (
	_ backend.Simulator = (*Client)(nil)
	_ backend.Decider   = (*Client)(nil)
)

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// Client talks to one backend service's JSON API.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// New creates a client for the service at baseURL. Per-call deadlines
// come from the caller's context; the embedded HTTP client carries no
// timeout of its own.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// apiError is the error envelope both services return.
type apiError struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// AllocateSession implements backend.Simulator and backend.Decider.
func (c *Client) AllocateSession(ctx context.Context, cfg experiment.Config) (id.SessionID, error) {
	var resp struct {
		SessionID string `json:"session_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/sessions", cfg, &resp); err != nil {
		return id.Nil, fmt.Errorf("httpapi: allocate session: %w", err)
	}
	sess, err := id.ParseSessionID(resp.SessionID)
	if err != nil {
		return id.Nil, fmt.Errorf("httpapi: allocate session: %w", err)
	}
	return sess, nil
}

// Ping implements backend.Simulator and backend.Decider.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/v1/health", nil, nil)
}

// GetState implements backend.Simulator.
func (c *Client) GetState(ctx context.Context, sess id.SessionID) (backend.State, error) {
	var st backend.State
	if err := c.do(ctx, http.MethodGet, "/v1/sessions/"+sess.String()+"/state", nil, &st); err != nil {
		return nil, fmt.Errorf("httpapi: get state: %w", err)
	}
	return st, nil
}

// ApplyAction implements backend.Simulator.
func (c *Client) ApplyAction(ctx context.Context, sess id.SessionID, act backend.Action) error {
	if err := c.do(ctx, http.MethodPost, "/v1/sessions/"+sess.String()+"/action", act, nil); err != nil {
		return fmt.Errorf("httpapi: apply action: %w", err)
	}
	return nil
}

// GetStepMetrics implements backend.Simulator.
func (c *Client) GetStepMetrics(ctx context.Context, sess id.SessionID) (map[string]float64, error) {
	var m map[string]float64
	if err := c.do(ctx, http.MethodGet, "/v1/sessions/"+sess.String()+"/metrics", nil, &m); err != nil {
		return nil, fmt.Errorf("httpapi: get step metrics: %w", err)
	}
	return m, nil
}

// Restore implements backend.Simulator.
func (c *Client) Restore(ctx context.Context, sess id.SessionID, cp *checkpoint.Checkpoint) error {
	if err := c.do(ctx, http.MethodPost, "/v1/sessions/"+sess.String()+"/restore", cp, nil); err != nil {
		return fmt.Errorf("httpapi: restore: %w", err)
	}
	return nil
}

// ReleaseSession implements backend.Simulator and backend.Decider.
func (c *Client) ReleaseSession(ctx context.Context, sess id.SessionID) error {
	if err := c.do(ctx, http.MethodDelete, "/v1/sessions/"+sess.String(), nil, nil); err != nil {
		return fmt.Errorf("httpapi: release session: %w", err)
	}
	return nil
}

// GetDecision implements backend.Decider.
func (c *Client) GetDecision(ctx context.Context, sess id.SessionID, st backend.State) (backend.Action, error) {
	var act backend.Action
	if err := c.do(ctx, http.MethodPost, "/v1/sessions/"+sess.String()+"/decision", st, &act); err != nil {
		return nil, fmt.Errorf("httpapi: get decision: %w", err)
	}
	return act, nil
}

// WaitReady polls the health endpoint until it responds or the attempts
// run out. Used after a backend restart.
func (c *Client) WaitReady(ctx context.Context, attempts int, interval time.Duration) error {
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			t := time.NewTimer(interval)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
		if lastErr = c.Ping(ctx); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("httpapi: backend not ready after %d probes: %w", attempts, lastErr)
}

// do performs one JSON round trip. Non-2xx responses are decoded from
// the error envelope and mapped onto the root sentinels where the
// envelope names a known kind.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.decodeError(resp)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var envelope apiError
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope.Error == "" {
		return fmt.Errorf("%s: http %d", c.baseURL, resp.StatusCode)
	}

	switch envelope.Kind {
	case "simulation":
		return fmt.Errorf("%w: %s", cardream.ErrSimulation, envelope.Error)
	case "resource":
		return fmt.Errorf("%w: %s", cardream.ErrResourceExhausted, envelope.Error)
	default:
		return fmt.Errorf("%s: http %d: %s", c.baseURL, resp.StatusCode, envelope.Error)
	}
}
