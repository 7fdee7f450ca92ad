package lookup

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/bbb"
)

// lookupCall is the call name mixed into the request checksum.
const lookupCall = "lookup"

// HTTP queries a REST identity service. Requests are GET
// <endpoint>?subject=<s>&checksum=<sha256("lookup" + query + secret)>;
// a 200 carries a JSON Mapping body and a 404 means no mapping.
type HTTP struct {
	endpoint string
	secret   string
	client   *http.Client
}

// NewHTTP creates an HTTP lookup. A nil client selects one with a 5s timeout.
func NewHTTP(endpoint, secret string, client *http.Client) *HTTP {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &HTTP{endpoint: endpoint, secret: secret, client: client}
}

// Lookup implements Lookup.
func (h *HTTP) Lookup(ctx context.Context, subject string) (Mapping, error) {
	query := url.Values{"subject": {subject}}.Encode()
	u := h.endpoint + "?" + query + "&checksum=" + bbb.Checksum(lookupCall, query, h.secret)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Mapping{}, fmt.Errorf("http lookup: building request: %w", err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return Mapping{}, fmt.Errorf("http lookup: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return Mapping{}, nil
	default:
		return Mapping{}, fmt.Errorf("http lookup: unexpected status %s", resp.Status)
	}

	var body struct {
		Account string `json:"account"`
		Port    int    `json:"port"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&body); err != nil {
		return Mapping{}, fmt.Errorf("http lookup: decoding response: %w", err)
	}
	return Mapping{
		DirectPort: body.Port,
		Account:    body.Account,
		Found:      body.Port > 0 || body.Account != "",
	}, nil
}
