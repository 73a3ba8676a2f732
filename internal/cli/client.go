package cli

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hyperjump/kakunin/internal/models"
	"github.com/tidwall/gjson"
)

// DefaultServerURL is where the CLI looks for a running server.
const DefaultServerURL = "http://localhost:8080"

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Client talks to a running kakunin server.
type Client struct {
	http *resty.Client
}

// NewClient returns a client for serverURL.
func NewClient(serverURL string, timeout time.Duration) *Client {
	c := resty.New().
		SetBaseURL(strings.TrimRight(serverURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if timeout > 0 {
		c.SetTimeout(timeout)
	}
	return &Client{http: c}
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	req := c.http.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}
	if out != nil {
		req.SetResult(out)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if resp.IsError() {
		msg := gjson.GetBytes(resp.Body(), "error").String()
		if msg == "" {
			msg = strings.TrimSpace(resp.String())
		}
		return &APIError{StatusCode: resp.StatusCode(), Message: msg}
	}
	return nil
}

// Analyze posts a question to /analyze.
func (c *Client) Analyze(ctx context.Context, req models.AnalyzeRequest) (*models.AnalyzeResponse, error) {
	var out models.AnalyzeResponse
	if err := c.do(ctx, resty.MethodPost, "/analyze", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetCase fetches a review case.
func (c *Client) GetCase(ctx context.Context, caseID string) (*models.ReviewCase, error) {
	var out models.ReviewCase
	if err := c.do(ctx, resty.MethodGet, "/review/"+url.PathEscape(caseID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Claim assigns a pending case to reviewerID.
func (c *Client) Claim(ctx context.Context, caseID, reviewerID string) (*models.ReviewCase, error) {
	var out models.ReviewCase
	err := c.do(ctx, resty.MethodPost, "/review/"+url.PathEscape(caseID)+"/claim",
		models.ClaimRequest{ReviewerID: reviewerID}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Decide records the owner's verdict on a case.
func (c *Client) Decide(ctx context.Context, caseID string, req models.DecisionRequest) (*models.ReviewCase, error) {
	var out models.ReviewCase
	if err := c.do(ctx, resty.MethodPost, "/review/"+url.PathEscape(caseID)+"/decision", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status fetches /api/v1/status.
func (c *Client) Status(ctx context.Context) (*models.StatusReport, error) {
	var out models.StatusReport
	if err := c.do(ctx, resty.MethodGet, "/api/v1/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Prompts lists every template and its versions.
func (c *Client) Prompts(ctx context.Context) ([]models.PromptTemplate, error) {
	var out struct {
		Templates []models.PromptTemplate `json:"templates"`
	}
	if err := c.do(ctx, resty.MethodGet, "/api/v1/prompts", nil, &out); err != nil {
		return nil, err
	}
	return out.Templates, nil
}

// Promote regression-tests and activates a prompt version.
func (c *Client) Promote(ctx context.Context, templateID string, version int) (*models.PromptVersion, error) {
	var out models.PromptVersion
	err := c.do(ctx, resty.MethodPost, "/api/v1/prompts/"+url.PathEscape(templateID)+"/promote",
		map[string]int{"version": version}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}
