package flags

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client fetches feature flag values from an evaluation endpoint
type Client interface {
	// FetchAll returns every flag exposed to this client by the endpoint
	FetchAll(ctx context.Context, endpoint string) (map[string]bool, error)

	// EvaluateFlag evaluates a single flag remotely
	EvaluateFlag(ctx context.Context, endpoint, flag string) (bool, error)
}

// HTTPClient talks JSON to a flag evaluation service with bearer auth
type HTTPClient struct {
	httpClient *http.Client
	token      string
}

// NewHTTPClient creates an HTTP flag client. The token may be empty for
// anonymous endpoints.
func NewHTTPClient(token string) *HTTPClient {
	return &HTTPClient{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		token:      token,
	}
}

func (c *HTTPClient) FetchAll(ctx context.Context, endpoint string) (map[string]bool, error) {
	var resp struct {
		Flags map[string]bool `json:"evaluatedFeatureFlags"`
	}
	if err := c.getJSON(ctx, endpoint+"/.api/featureFlags/all", &resp); err != nil {
		return nil, err
	}
	if resp.Flags == nil {
		return map[string]bool{}, nil
	}
	return resp.Flags, nil
}

func (c *HTTPClient) EvaluateFlag(ctx context.Context, endpoint, flag string) (bool, error) {
	var resp struct {
		Value bool `json:"value"`
	}
	u := endpoint + "/.api/featureFlags/evaluate?flagName=" + url.QueryEscape(flag)
	if err := c.getJSON(ctx, u, &resp); err != nil {
		return false, err
	}
	return resp.Value, nil
}

func (c *HTTPClient) getJSON(ctx context.Context, rawURL string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("flag endpoint: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("flag endpoint %d: %s", resp.StatusCode, string(body))
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
