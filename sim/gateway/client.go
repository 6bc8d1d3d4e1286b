package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aoi-sim/aoi-sim/sim"
)

// Client talks to a gateway on behalf of a remote agent.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a client for the gateway at baseURL. token may be empty when the
// gateway runs without auth.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{},
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.http = hc
	return c
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway returned %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// Next long-polls for the next pending round. It returns nil without error when no
// round opened within wait.
func (c *Client) Next(ctx context.Context, dir *sim.Direction, wait time.Duration) (*RoundView, error) {
	q := url.Values{}
	if dir != nil {
		q.Set("direction", dir.String())
	}
	if wait > 0 {
		q.Set("wait", wait.String())
	}
	path := "/api/v1/rounds/next"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var view RoundView
	found, err := c.do(ctx, http.MethodGet, path, nil, &view)
	if err != nil || !found {
		return nil, err
	}
	return &view, nil
}

// Round fetches a round by ID.
func (c *Client) Round(ctx context.Context, id string) (RoundView, error) {
	var view RoundView
	_, err := c.do(ctx, http.MethodGet, "/api/v1/rounds/"+url.PathEscape(id), nil, &view)
	return view, err
}

// Act answers round id.
func (c *Client) Act(ctx context.Context, id string, req ActionRequest) (RoundView, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return RoundView{}, fmt.Errorf("encoding action: %w", err)
	}
	var view RoundView
	_, err = c.do(ctx, http.MethodPost, "/api/v1/rounds/"+url.PathEscape(id)+"/action", body, &view)
	return view, err
}

// do sends one request and decodes the envelope's data into out. found is false on 204.
func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) (found bool, err error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return false, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return false, nil
	}
	var env Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return false, fmt.Errorf("%s %s: decoding response (HTTP %d): %w", method, path, resp.StatusCode, err)
	}
	if resp.StatusCode >= 300 || env.Error != nil {
		se := &StatusError{StatusCode: resp.StatusCode}
		if env.Error != nil {
			se.Code, se.Message = env.Error.Code, env.Error.Message
		}
		return false, se
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return false, fmt.Errorf("%s %s: decoding data: %w", method, path, err)
		}
	}
	return true, nil
}
