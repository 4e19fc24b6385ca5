// Package onelogin reads events from the OneLogin events API.
package onelogin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client wraps the OneLogin REST API with client-credentials auth. The
// access token is fetched lazily and reused until the API rejects it.
type Client struct {
	ClientID     string
	ClientSecret string

	// Host is the API host, e.g. "api.us.onelogin.com".
	Host string

	// HTTPClient defaults to a 60s-timeout client.
	HTTPClient *http.Client

	token string

	// scheme is a test seam; empty means https.
	scheme string
}

type eventsResponse struct {
	Status struct {
		Error   bool   `json:"error"`
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"status"`
	Pagination struct {
		AfterCursor *string `json:"after_cursor"`
	} `json:"pagination"`
	Data []map[string]any `json:"data"`
}

// Events fetches one page of events. A non-nil cursor continues a previous
// page walk; the returned cursor is nil on the last page.
func (c *Client) Events(ctx context.Context, params url.Values) (*eventsResponse, error) {
	if c.token == "" {
		if err := c.authenticate(ctx); err != nil {
			return nil, err
		}
	}

	reqURL := c.baseURL() + "/api/1/events?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "bearer "+c.token)

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		// Token expired; refresh once and retry.
		c.token = ""
		if err := c.authenticate(ctx); err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "bearer "+c.token)
		resp2, err := c.httpClient().Do(req)
		if err != nil {
			return nil, err
		}
		defer resp2.Body.Close()
		resp = resp2
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading OneLogin response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("OneLogin API returned %s: %s", resp.Status, body)
	}

	var parsed eventsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parsing OneLogin response: %w", err)
	}
	if parsed.Status.Error {
		return nil, fmt.Errorf("OneLogin API error %d: %s", parsed.Status.Code, parsed.Status.Message)
	}
	return &parsed, nil
}

func (c *Client) authenticate(ctx context.Context) error {
	body := strings.NewReader(`{"grant_type":"client_credentials"}`)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL()+"/auth/oauth2/v2/token", body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.ClientID, c.ClientSecret)

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading OneLogin token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("OneLogin token request returned %s: %s", resp.Status, raw)
	}

	var parsed struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("parsing OneLogin token response: %w", err)
	}
	if parsed.AccessToken == "" {
		return fmt.Errorf("OneLogin token response carries no access token")
	}
	c.token = parsed.AccessToken
	return nil
}

func (c *Client) baseURL() string {
	scheme := c.scheme
	if scheme == "" {
		scheme = "https"
	}
	return scheme + "://" + c.Host
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 60 * time.Second}
}
