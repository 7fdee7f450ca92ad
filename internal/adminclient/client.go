// Package adminclient talks to the vncgate admin API.
package adminclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/audit"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/relay"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/rfb"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/target"
)

const maxBodySize = 4 << 20

// Client queries one admin endpoint.
type Client struct {
	base string
	http *http.Client
}

// New creates a client for the admin API at addr, given as a URL or a bare
// host:port. A nil httpClient selects one with a 10s timeout.
func New(addr string, httpClient *http.Client) *Client {
	if !strings.Contains(addr, "://") {
		if strings.HasPrefix(addr, ":") {
			addr = "127.0.0.1" + addr
		}
		addr = "http://" + addr
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{base: strings.TrimSuffix(addr, "/"), http: httpClient}
}

// Error is a non-2xx admin API response.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("admin API: %s (HTTP %d)", e.Message, e.Status)
}

// IsNotFound reports whether err is a 404 from the admin API.
func IsNotFound(err error) bool {
	apiErr, ok := err.(*Error)
	return ok && apiErr.Status == http.StatusNotFound
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("admin API: building request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("admin API: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body := io.LimitReader(resp.Body, maxBodySize)
	if resp.StatusCode/100 != 2 {
		var e struct {
			Error string `json:"error"`
		}
		msg := resp.Status
		if json.NewDecoder(body).Decode(&e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &Error{Status: resp.StatusCode, Message: msg}
	}
	if err := json.NewDecoder(body).Decode(out); err != nil {
		return fmt.Errorf("admin API: decoding %s: %w", path, err)
	}
	return nil
}

// Health returns the /healthz summary.
func (c *Client) Health(ctx context.Context) (relay.HealthView, error) {
	var v relay.HealthView
	err := c.get(ctx, "/healthz", nil, &v)
	return v, err
}

// Sessions lists all sessions ordered by key.
func (c *Client) Sessions(ctx context.Context) ([]relay.SessionView, error) {
	var v []relay.SessionView
	err := c.get(ctx, "/sessions", nil, &v)
	return v, err
}

// Session returns one session, probing its geometry if needed.
func (c *Client) Session(ctx context.Context, key string) (relay.SessionView, error) {
	var v relay.SessionView
	err := c.get(ctx, "/sessions/"+url.PathEscape(key), nil, &v)
	return v, err
}

// Events returns the audit events recorded for key.
func (c *Client) Events(ctx context.Context, key string) ([]audit.Event, error) {
	var v []audit.Event
	err := c.get(ctx, "/sessions/"+url.PathEscape(key)+"/events", nil, &v)
	return v, err
}

// Connections lists open relay connections.
func (c *Client) Connections(ctx context.Context) ([]relay.Connection, error) {
	var v []relay.Connection
	err := c.get(ctx, "/connections", nil, &v)
	return v, err
}

// Probe asks the server to probe t. Fresh bypasses the geometry cache.
func (c *Client) Probe(ctx context.Context, t target.Target, fresh bool) (rfb.Result, error) {
	q := url.Values{"target": {t.String()}}
	if fresh {
		q.Set("fresh", "1")
	}
	var v rfb.Result
	err := c.get(ctx, "/probe", q, &v)
	return v, err
}
