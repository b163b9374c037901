package feedback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/hazyhaar/feedshot/safe"
)

// APIError is a non-2xx answer from the feedback server.
type APIError struct {
	Status  int
	Message string
	Details string
}

func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("feedback: HTTP %d: %s: %s", e.Status, e.Message, e.Details)
	}
	return fmt.Sprintf("feedback: HTTP %d: %s", e.Status, e.Message)
}

// Client talks to a feedback server mounted at a base URL.
type Client struct {
	base  string
	hc    *http.Client
	Token string // sent as a Bearer token when set
}

// NewClient returns a client for the routes under baseURL, for example
// "https://app.example.com/feedback". A nil hc uses http.DefaultClient.
func NewClient(baseURL string, hc *http.Client) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("feedback: bad base URL %q", baseURL)
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{base: strings.TrimRight(baseURL, "/"), hc: hc}, nil
}

// Submit creates a report with its screenshots.
func (c *Client) Submit(ctx context.Context, in ReportInput) (*Report, error) {
	var r Report
	if err := c.do(ctx, http.MethodPost, "/reports", in, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Comment adds a comment to a report.
func (c *Client) Comment(ctx context.Context, reportID string, in CommentInput) (*Comment, error) {
	var cm Comment
	if err := c.do(ctx, http.MethodPost, "/reports/"+url.PathEscape(reportID)+"/comments", in, &cm); err != nil {
		return nil, err
	}
	return &cm, nil
}

// Upvote toggles userID's upvote and reports whether it is now set.
func (c *Client) Upvote(ctx context.Context, reportID, userID string) (bool, error) {
	var out struct {
		Upvoted bool `json:"upvoted"`
	}
	body := map[string]string{"userId": userID}
	if err := c.do(ctx, http.MethodPost, "/reports/"+url.PathEscape(reportID)+"/upvote", body, &out); err != nil {
		return false, err
	}
	return out.Upvoted, nil
}

// Get fetches one report. Needs an admin token when the server guards triage.
func (c *Client) Get(ctx context.Context, reportID string) (*Report, error) {
	var r Report
	if err := c.do(ctx, http.MethodGet, "/reports/"+url.PathEscape(reportID), nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("feedback: encode: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("feedback: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := safe.LimitedReadAll(resp.Body, safe.MaxResponseBody)
	if err != nil {
		return fmt.Errorf("feedback: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var e struct {
			Error   string `json:"error"`
			Details string `json:"details"`
		}
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			apiErr.Message, apiErr.Details = e.Error, e.Details
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("feedback: decode response: %w", err)
	}
	return nil
}
