package detectors

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	graphBaseURL    = "https://graph.microsoft.com/v1.0"
	graphMaxRetries = 3
)

// graphClient is a thin Microsoft Graph REST client authenticated with
// the client-credentials flow. Throttled (429) and transient 5xx
// responses are retried, honoring Retry-After when present.
type graphClient struct {
	httpClient *http.Client
	logger     arbor.ILogger
}

func newGraphClient(ctx context.Context, logger arbor.ILogger, tenantID, clientID, clientSecret string) *graphClient {
	cc := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", tenantID),
		Scopes:       []string{"https://graph.microsoft.com/.default"},
	}
	return &graphClient{
		httpClient: cc.Client(ctx),
		logger:     logger,
	}
}

// get fetches a Graph resource. Paths are relative to the v1.0 root
// unless they are already absolute (delta nextLink URLs are).
func (c *graphClient) get(ctx context.Context, path string) ([]byte, error) {
	fullURL := path
	if len(path) > 0 && path[0] == '/' {
		fullURL = graphBaseURL + path
	}

	var lastErr error
	for attempt := 0; attempt <= graphMaxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return nil, err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
		} else {
			body, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()

			switch {
			case resp.StatusCode == http.StatusOK:
				if readErr != nil {
					return nil, readErr
				}
				return body, nil
			case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
				lastErr = fmt.Errorf("graph returned status %d", resp.StatusCode)
				if wait := retryAfter(resp); wait > 0 {
					select {
					case <-ctx.Done():
						return nil, ctx.Err()
					case <-time.After(wait):
					}
					continue
				}
			default:
				return nil, fmt.Errorf("graph returned status %d: %s", resp.StatusCode, string(body))
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt+1) * time.Second):
		}
	}

	return nil, fmt.Errorf("graph request failed after %d retries: %w", graphMaxRetries, lastErr)
}

// getJSON fetches and decodes a Graph resource
func (c *graphClient) getJSON(ctx context.Context, path string, out interface{}) error {
	body, err := c.get(ctx, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode graph response: %w", err)
	}
	return nil
}

func retryAfter(resp *http.Response) time.Duration {
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
