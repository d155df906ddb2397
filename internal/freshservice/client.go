package freshservice

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"servicetag/internal/domain"
)

// PageSize is the largest page Freshservice returns for asset listings.
const PageSize = 100

// Client is a minimal Freshservice v2 assets client.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	// Timeout bounds each individual call.
	Timeout time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Timeout: 30 * time.Second,
	}
}

// ListOptions selects one page of the asset collection.
type ListOptions struct {
	Page    int
	PerPage int
	// Filter is a Freshservice query such as asset_type_id:12 OR asset_type_id:13.
	Filter string
}

// AssetUpdate is the PUT body for a tag update.
type AssetUpdate struct {
	AssetTag    string `json:"asset_tag"`
	Description string `json:"description"`
}

// TransportError wraps a failed call: network error, timeout or non-2xx status.
type TransportError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v", e.Method, e.Path, e.Err)
	}
	return fmt.Sprintf("%s %s: status=%d body=%s", e.Method, e.Path, e.StatusCode, e.Body)
}

func (e *TransportError) Unwrap() error { return e.Err }

// UpdateError reports that the service rejected an asset update.
type UpdateError struct {
	AssetID    int64
	StatusCode int
	Detail     string
}

func (e *UpdateError) Error() string {
	return e.Detail
}

// ListAssets fetches one page of assets.
func (c *Client) ListAssets(ctx context.Context, opts ListOptions) ([]domain.Asset, error) {
	q := url.Values{}
	perPage := opts.PerPage
	if perPage <= 0 {
		perPage = PageSize
	}
	q.Set("per_page", strconv.Itoa(perPage))
	if opts.Page > 0 {
		q.Set("page", strconv.Itoa(opts.Page))
	}
	if opts.Filter != "" {
		q.Set("filter", `"`+opts.Filter+`"`)
	}
	var resp struct {
		Assets []domain.Asset `json:"assets"`
	}
	if err := c.do(ctx, http.MethodGet, "api/v2/assets?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Assets, nil
}

// UpdateAsset sets the asset tag and description of one asset.
func (c *Client) UpdateAsset(ctx context.Context, id int64, update AssetUpdate) error {
	endpoint := fmt.Sprintf("api/v2/assets/%d", id)
	err := c.do(ctx, http.MethodPut, endpoint, update, nil)
	var te *TransportError
	if errors.As(err, &te) && te.StatusCode != 0 {
		return &UpdateError{AssetID: id, StatusCode: te.StatusCode, Detail: errorDetail(te)}
	}
	return err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{}
	}
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	path := "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base()+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Basic "+basicAuth(c.APIKey))
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return &TransportError{Method: method, Path: trimQuery(path), Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return &TransportError{Method: method, Path: trimQuery(path), StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &TransportError{Method: method, Path: trimQuery(path), StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
		}
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

// basicAuth encodes the Freshservice "<api key>:X" credential.
func basicAuth(apiKey string) string {
	return base64.StdEncoding.EncodeToString([]byte(apiKey + ":X"))
}

// errorDetail prefers the service's description field over the raw body.
func errorDetail(te *TransportError) string {
	var payload struct {
		Description string `json:"description"`
		Message     string `json:"message"`
	}
	if json.Unmarshal([]byte(te.Body), &payload) == nil {
		if payload.Description != "" {
			return payload.Description
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	if te.Body != "" {
		return te.Body
	}
	return fmt.Sprintf("status %d", te.StatusCode)
}

func trimQuery(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		return p[:i]
	}
	return p
}
