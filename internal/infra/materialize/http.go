package materialize

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPClient asks a live host to load or generate cells:
//
//	POST {base}/worlds/{world}/chunks/{x}/{z}
//
// Any 2xx means the cell exists. Everything else is a retryable failure.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPClient creates a client for the host at baseURL. token, if set, is
// sent as a bearer token.
func NewHTTPClient(baseURL, token string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

// EnsureLoaded requests one cell.
func (c *HTTPClient) EnsureLoaded(ctx context.Context, world string, x, z int) error {
	u := fmt.Sprintf("%s/worlds/%s/chunks/%d/%d", c.baseURL, url.PathEscape(world), x, z)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request chunk %d,%d: %w", x, z, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("host returned %d for chunk %d,%d: %s",
			resp.StatusCode, x, z, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Ping checks that the host answers at all.
func (c *HTTPClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("host status: HTTP %d", resp.StatusCode)
	}
	return nil
}
