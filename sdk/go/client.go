package servicetagsdk

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
)

// Client is a minimal servicetag HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	HTTPClient  *http.Client
	// Timeout applies when HTTPClient is nil. A sync can take minutes.
	Timeout time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Minute,
	}
}

// JobResult is the response of a manual job execution.
type JobResult struct {
	Success       bool   `json:"success"`
	UpdatedAssets int    `json:"updatedAssets"`
	TotalAssets   int    `json:"totalAssets"`
	Error         string `json:"error,omitempty"`
}

// AssetOutcome is the per-asset result of a run.
type AssetOutcome struct {
	AssetID    int64  `json:"asset_id"`
	AssetName  string `json:"asset_name"`
	CategoryID int64  `json:"asset_type_id"`
	Outcome    string `json:"outcome"`
	NewTag     string `json:"new_asset_tag,omitempty"`
	Error      string `json:"error,omitempty"`
}

// RunSummary aggregates one run.
type RunSummary struct {
	ID            string         `json:"id"`
	Timestamp     string         `json:"timestamp"`
	Strategy      string         `json:"strategy"`
	Source        string         `json:"source"`
	TotalAssets   int            `json:"totalAssets"`
	UpdatedAssets int            `json:"updatedAssets"`
	Results       []AssetOutcome `json:"results"`
}

// ActivityEntry is one dashboard history line.
type ActivityEntry struct {
	Timestamp string      `json:"timestamp"`
	Message   string      `json:"message"`
	Details   *RunSummary `json:"details,omitempty"`
}

// Status is the trigger state and last sync time.
type Status struct {
	State         string      `json:"state"`
	LastSyncTime  string      `json:"last_sync_time"`
	StartedAt     string      `json:"started_at"`
	FinishedAt    string      `json:"finished_at"`
	LastError     string      `json:"last_error"`
	Strategy      string      `json:"strategy"`
	AssetTypeIDs  []string    `json:"asset_type_ids"`
	ScheduleHours int         `json:"schedule_hours"`
	LastSummary   *RunSummary `json:"last_summary"`
}

// Estimate is the single-page Dell asset count.
type Estimate struct {
	Strategy string `json:"strategy"`
	Sampled  int    `json:"sampled"`
	Count    int    `json:"count"`
}

// Classification explains whether a serial looks like a Dell service tag.
type Classification struct {
	Input      string `json:"input"`
	Normalized string `json:"normalized"`
	Match      bool   `json:"vendor_format"`
	Express    bool   `json:"express_code"`
	Reason     string `json:"reason,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// ExecuteJob runs a job synchronously on the server.
func (c *Client) ExecuteJob(ctx context.Context, name string) (JobResult, error) {
	var resp JobResult
	err := c.do(ctx, http.MethodPost, "jobs/execute", map[string]any{"name": name}, &resp)
	return resp, err
}

// Status returns the sync status.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var resp Status
	err := c.do(ctx, http.MethodGet, "status", nil, &resp)
	return resp, err
}

// Activity returns the latest n activity entries, newest first.
func (c *Client) Activity(ctx context.Context, n int) ([]ActivityEntry, error) {
	endpoint := "activity"
	if n > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, n)
	}
	var resp struct {
		Items []ActivityEntry `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// Run fetches a stored run summary.
func (c *Client) Run(ctx context.Context, id string) (RunSummary, error) {
	var resp RunSummary
	err := c.do(ctx, http.MethodGet, "runs/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Estimate returns the dashboard estimate.
func (c *Client) Estimate(ctx context.Context) (Estimate, error) {
	var resp Estimate
	err := c.do(ctx, http.MethodGet, "assets/estimate", nil, &resp)
	return resp, err
}

// Classify asks the server to classify a serial number.
func (c *Client) Classify(ctx context.Context, serial string) (Classification, error) {
	var resp Classification
	err := c.do(ctx, http.MethodGet, "serials/"+url.PathEscape(serial), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
