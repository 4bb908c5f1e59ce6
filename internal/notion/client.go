package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Pacer spaces outbound calls and absorbs throttling signals. The client
// reports every call outcome so the pacer can adapt its interval.
type Pacer interface {
	Wait(ctx context.Context, callerID string) error
	OnThrottle(ctx context.Context, retryAfter time.Duration) error
	OnSuccess()
	OnFailure()
}

type ClientOptions struct {
	BaseURL    string
	Token      string
	APIVersion string
	UserAgent  string
	HTTPClient *http.Client
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Pacer      Pacer
}

type Client struct {
	baseURL    string
	token      string
	apiVersion string
	userAgent  string
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	pacer      Pacer
	callerID   string
}

func NewClient(opts ClientOptions) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.notion.com"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	apiVersion := strings.TrimSpace(opts.APIVersion)
	if apiVersion == "" {
		apiVersion = "2022-06-28"
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		token:      strings.TrimSpace(opts.Token),
		apiVersion: apiVersion,
		userAgent:  strings.TrimSpace(opts.UserAgent),
		httpClient: httpClient,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
		pacer:      opts.Pacer,
		callerID:   "main",
	}
}

// WithCaller returns a copy of the client paced under the given caller
// identity. Workers use distinct identities so the pacer spaces them
// independently.
func (c *Client) WithCaller(callerID string) *Client {
	callerID = strings.TrimSpace(callerID)
	if callerID == "" {
		return c
	}
	clone := *c
	clone.callerID = callerID
	return &clone
}

// APIError is a non-2xx response. The body is retained for logging.
type APIError struct {
	Status  int
	Code    string
	Message string
	Body    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api call failed: status=%d code=%s message=%s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api call failed: status=%d message=%s", e.Status, e.Message)
}

// QueryDatabase runs one page of a database query.
func (c *Client) QueryDatabase(ctx context.Context, databaseID string, filter *QueryFilter, startCursor string) (QueryResult, error) {
	if strings.TrimSpace(databaseID) == "" {
		return QueryResult{}, fmt.Errorf("database id is required")
	}
	body := struct {
		Filter      *QueryFilter `json:"filter,omitempty"`
		StartCursor string       `json:"start_cursor,omitempty"`
	}{Filter: filter, StartCursor: startCursor}
	var out QueryResult
	err := c.doJSON(ctx, http.MethodPost, "/v1/databases/"+databaseID+"/query", nil, body, &out)
	return out, err
}

// QueryAllPages merges every page of a database query, in result order.
func (c *Client) QueryAllPages(ctx context.Context, databaseID string, filter *QueryFilter) ([]Page, error) {
	var pages []Page
	cursor := ""
	for {
		result, err := c.QueryDatabase(ctx, databaseID, filter, cursor)
		if err != nil {
			return pages, err
		}
		pages = append(pages, result.Results...)
		if !result.HasMore {
			return pages, nil
		}
		cursor = result.NextCursor
	}
}

func (c *Client) GetPage(ctx context.Context, pageID string) (Page, error) {
	var out Page
	err := c.doJSON(ctx, http.MethodGet, "/v1/pages/"+pageID, nil, nil, &out)
	return out, err
}

// CreatePage creates a page under the given parent with the given
// properties.
func (c *Client) CreatePage(ctx context.Context, parent ParentRef, properties map[string]PropertyValue) (Page, error) {
	body := struct {
		Parent     ParentRef                `json:"parent"`
		Properties map[string]PropertyValue `json:"properties"`
	}{Parent: parent, Properties: properties}
	var out Page
	err := c.doJSON(ctx, http.MethodPost, "/v1/pages", nil, body, &out)
	return out, err
}

// CreateChildPage creates an empty page titled title under a parent page.
func (c *Client) CreateChildPage(ctx context.Context, parentPageID, title string) (Page, error) {
	return c.CreatePage(ctx, PageParent(parentPageID), map[string]PropertyValue{
		"title": TitleProperty(title),
	})
}

func (c *Client) UpdatePageProperties(ctx context.Context, pageID string, properties map[string]PropertyValue) error {
	body := struct {
		Properties map[string]PropertyValue `json:"properties"`
	}{Properties: properties}
	return c.doJSON(ctx, http.MethodPatch, "/v1/pages/"+pageID, nil, body, nil)
}

// ArchivePage flips the archived flag. This is the only delete the API
// offers; content is retained server-side.
func (c *Client) ArchivePage(ctx context.Context, pageID string) error {
	body := struct {
		Archived bool `json:"archived"`
	}{Archived: true}
	return c.doJSON(ctx, http.MethodPatch, "/v1/pages/"+pageID, nil, body, nil)
}

// ListBlockChildren fetches one page of a block's children, in display
// order.
func (c *Client) ListBlockChildren(ctx context.Context, blockID, startCursor string) (BlockList, error) {
	var query url.Values
	if startCursor != "" {
		query = url.Values{"start_cursor": []string{startCursor}}
	}
	var out BlockList
	err := c.doJSON(ctx, http.MethodGet, "/v1/blocks/"+blockID+"/children", query, nil, &out)
	return out, err
}

// AllBlockChildren merges every page of a block's children, preserving the
// returned order.
func (c *Client) AllBlockChildren(ctx context.Context, blockID string) ([]Block, error) {
	var blocks []Block
	cursor := ""
	for {
		list, err := c.ListBlockChildren(ctx, blockID, cursor)
		if err != nil {
			return blocks, err
		}
		blocks = append(blocks, list.Results...)
		if !list.HasMore {
			return blocks, nil
		}
		cursor = list.NextCursor
	}
}

const maxAppendBatch = 100

// AppendBlockChildren appends blocks under a parent block or page. The API
// accepts at most 100 blocks per call, so larger batches are chunked; order
// is preserved across chunks.
func (c *Client) AppendBlockChildren(ctx context.Context, parentID string, blocks []CleanBlock) ([]Block, error) {
	var created []Block
	for start := 0; start < len(blocks); start += maxAppendBatch {
		end := start + maxAppendBatch
		if end > len(blocks) {
			end = len(blocks)
		}
		body := struct {
			Children []CleanBlock `json:"children"`
		}{Children: blocks[start:end]}
		var out BlockList
		if err := c.doJSON(ctx, http.MethodPatch, "/v1/blocks/"+parentID+"/children", nil, body, &out); err != nil {
			return created, err
		}
		created = append(created, out.Results...)
	}
	return created, nil
}

// DuplicatePage invokes the native duplicate endpoint. The copy includes
// nested pages but keeps the template's title until re-stamped.
func (c *Client) DuplicatePage(ctx context.Context, pageID string) (Page, error) {
	var out Page
	err := c.doJSON(ctx, http.MethodPost, "/v1/pages/"+pageID+"/duplicate", nil, nil, &out)
	return out, err
}

func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, payload, out any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	if c.token == "" {
		return fmt.Errorf("api token is required")
	}
	var bodyBytes []byte
	if payload != nil {
		var err error
		bodyBytes, err = json.Marshal(payload)
		if err != nil {
			return err
		}
	}
	requestURL := c.baseURL + path
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}

	for attempt := 0; ; attempt++ {
		if c.pacer != nil {
			if err := c.pacer.Wait(ctx, c.callerID); err != nil {
				return err
			}
		}
		var body io.Reader
		if bodyBytes != nil {
			body = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, requestURL, body)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Notion-Version", c.apiVersion)
		if bodyBytes != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.reportFailure()
			if attempt < c.maxRetries {
				if waitErr := sleepContext(ctx, c.retryDelay(attempt+1)); waitErr != nil {
					return waitErr
				}
				continue
			}
			return err
		}

		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			c.reportSuccess()
			if out != nil {
				if err := json.Unmarshal(respBody, out); err != nil {
					return fmt.Errorf("decode response: %w", err)
				}
			}
			return nil
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			retryAfter := parseRetryAfterSeconds(resp.Header.Get("Retry-After"))
			if retryAfter <= 0 {
				retryAfter = time.Second
			}
			// Throttling is not a terminal failure and does not consume
			// retry attempts; the same call is re-issued after backoff.
			if c.pacer != nil {
				if err := c.pacer.OnThrottle(ctx, retryAfter); err != nil {
					return err
				}
			} else if err := sleepContext(ctx, retryAfter); err != nil {
				return err
			}
			continue
		}

		if resp.StatusCode >= 500 && resp.StatusCode <= 599 && attempt < c.maxRetries {
			c.reportFailure()
			if waitErr := sleepContext(ctx, c.retryDelay(attempt+1)); waitErr != nil {
				return waitErr
			}
			continue
		}

		c.reportFailure()
		return apiErrorFromResponse(resp.StatusCode, respBody)
	}
}

func (c *Client) reportSuccess() {
	if c.pacer != nil {
		c.pacer.OnSuccess()
	}
}

func (c *Client) reportFailure() {
	if c.pacer != nil {
		c.pacer.OnFailure()
	}
}

func (c *Client) retryDelay(attempt int) time.Duration {
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	if delay > c.maxDelay {
		return c.maxDelay
	}
	return delay
}

func apiErrorFromResponse(status int, body []byte) error {
	apiErr := &APIError{
		Status:  status,
		Message: strings.TrimSpace(string(body)),
		Body:    string(body),
	}
	var parsed map[string]any
	if json.Unmarshal(body, &parsed) == nil {
		if code, ok := parsed["code"].(string); ok {
			apiErr.Code = code
		}
		if message, ok := parsed["message"].(string); ok && strings.TrimSpace(message) != "" {
			apiErr.Message = message
		}
	}
	return apiErr
}

func parseRetryAfterSeconds(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
