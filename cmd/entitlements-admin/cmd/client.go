package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// Client is the admin API HTTP client.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	verbose    bool
	stderr     io.Writer
}

// NewClient creates a new admin API client.
func NewClient(baseURL, token string, verbose bool) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   strings.TrimSpace(token),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		verbose: verbose,
		stderr:  os.Stderr,
	}
}

// Do performs an HTTP request and returns the response body.
func (c *Client) Do(ctx context.Context, method, path string, body any) ([]byte, int, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.verbose {
		fmt.Fprintf(c.stderr, ">>> %s %s\n", method, url)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}

	if c.verbose {
		fmt.Fprintf(c.stderr, "<<< %d %s\n", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	if resp.StatusCode >= 400 {
		return nil, resp.StatusCode, parseAPIError(resp.StatusCode, respBody)
	}

	return respBody, resp.StatusCode, nil
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, path string) ([]byte, error) {
	data, _, err := c.Do(ctx, http.MethodGet, path, nil)
	return data, err
}

// Post performs a POST request.
func (c *Client) Post(ctx context.Context, path string, body any) ([]byte, error) {
	data, _, err := c.Do(ctx, http.MethodPost, path, body)
	return data, err
}

// APIError represents an error from the admin API.
type APIError struct {
	StatusCode int
	Code       string
	Reason     string
	Message    string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = fmt.Sprintf("API error: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	if e.Reason != "" {
		return fmt.Sprintf("%s (%s)", msg, e.Reason)
	}
	return msg
}

func parseAPIError(statusCode int, body []byte) error {
	apiErr := &APIError{StatusCode: statusCode}

	var parsed struct {
		Code    string          `json:"code"`
		Message string          `json:"message"`
		Details json.RawMessage `json:"details"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		apiErr.Code = parsed.Code
		apiErr.Message = parsed.Message

		var details struct {
			Reason string `json:"reason"`
		}
		if len(parsed.Details) > 0 && json.Unmarshal(parsed.Details, &details) == nil {
			apiErr.Reason = details.Reason
		}
	}

	if apiErr.Message == "" {
		switch statusCode {
		case http.StatusUnauthorized:
			apiErr.Message = "unauthorized: invalid or expired token"
		case http.StatusForbidden:
			apiErr.Message = "forbidden: token lacks admin rights"
		case http.StatusNotFound:
			apiErr.Message = "resource not found"
		}
	}

	return apiErr
}

// Response types matching the server's JSON.

type PlanPrice struct {
	Yearly              string `json:"yearly" yaml:"yearly"`
	PerAdditionalSchool string `json:"per_additional_school,omitempty" yaml:"per_additional_school,omitempty"`
}

type PlanResponse struct {
	ID         string               `json:"id" yaml:"id"`
	Slug       string               `json:"slug" yaml:"slug"`
	Name       string               `json:"name" yaml:"name"`
	Prices     map[string]PlanPrice `json:"prices" yaml:"prices"`
	MaxSchools int64                `json:"max_schools" yaml:"max_schools"`
	Features   map[string]bool      `json:"features" yaml:"features"`
	Limits     map[string]int64     `json:"limits" yaml:"limits"`
	IsActive   bool                 `json:"is_active" yaml:"is_active"`
	IsDefault  bool                 `json:"is_default" yaml:"is_default"`
	SortOrder  int                  `json:"sort_order" yaml:"sort_order"`
}

type SubscriptionResponse struct {
	ID                string     `json:"id" yaml:"id"`
	OrganizationID    string     `json:"organization_id" yaml:"organization_id"`
	PlanID            string     `json:"plan_id" yaml:"plan_id"`
	Status            string     `json:"status" yaml:"status"`
	TrialEndsAt       *time.Time `json:"trial_ends_at,omitempty" yaml:"trial_ends_at,omitempty"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty" yaml:"expires_at,omitempty"`
	GracePeriodEndsAt *time.Time `json:"grace_period_ends_at,omitempty" yaml:"grace_period_ends_at,omitempty"`
	ReadonlyEndsAt    *time.Time `json:"readonly_ends_at,omitempty" yaml:"readonly_ends_at,omitempty"`
	AdditionalSchools int        `json:"additional_schools" yaml:"additional_schools"`
	SuspendedReason   string     `json:"suspended_reason,omitempty" yaml:"suspended_reason,omitempty"`
}

type RenewalResponse struct {
	ID                string     `json:"id" yaml:"id"`
	OrganizationID    string     `json:"organization_id" yaml:"organization_id"`
	RequestedPlanID   string     `json:"requested_plan_id" yaml:"requested_plan_id"`
	AdditionalSchools int        `json:"additional_schools" yaml:"additional_schools"`
	Status            string     `json:"status" yaml:"status"`
	RequestedAt       time.Time  `json:"requested_at" yaml:"requested_at"`
	DecidedAt         *time.Time `json:"decided_at,omitempty" yaml:"decided_at,omitempty"`
	RejectionReason   string     `json:"rejection_reason,omitempty" yaml:"rejection_reason,omitempty"`
}

type SweepTransition struct {
	OrganizationID string `json:"organization_id" yaml:"organization_id"`
	From           string `json:"from" yaml:"from"`
	To             string `json:"to" yaml:"to"`
}

type SweepFailure struct {
	OrganizationID string `json:"organization_id" yaml:"organization_id"`
	Error          string `json:"error" yaml:"error"`
}

type SweepReport struct {
	StartedAt    time.Time         `json:"started_at" yaml:"started_at"`
	Candidates   int               `json:"candidates" yaml:"candidates"`
	Transitioned []SweepTransition `json:"transitioned" yaml:"transitioned"`
	Failures     []SweepFailure    `json:"failures" yaml:"failures"`
}
