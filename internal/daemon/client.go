package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/runger/prizm/internal/suggestions/api"
	"github.com/runger/prizm/internal/suggestions/event"
	"github.com/runger/prizm/internal/suggestions/model"
	"github.com/runger/prizm/internal/suggestions/profile"
)

// DefaultClientTimeout bounds a CLI request.
const DefaultClientTimeout = 10 * time.Second

// ErrNotRunning is returned when the daemon cannot be reached.
var ErrNotRunning = errors.New("daemon not reachable")

// APIError is a non-2xx response from the daemon.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (HTTP %d): %s", e.Code, e.Status, e.Message)
}

// Client talks to a running daemon over its HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for addr, either host:port or a full URL.
func NewClient(addr string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultClientTimeout
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return &Client{
		baseURL: strings.TrimRight(addr, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Health checks that the daemon is serving.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

// Suggest returns the pending suggestion for (actionID, category), or a
// freshly generated one when fresh is set.
func (c *Client) Suggest(ctx context.Context, actionID string, category model.Category, fresh bool) (*model.Suggestion, error) {
	path := "/v1/actions/" + url.PathEscape(actionID) + "/suggestions"
	method := http.MethodGet
	if fresh {
		path += ":generate"
		method = http.MethodPost
	}
	path += "?category=" + url.QueryEscape(string(category))

	var s model.Suggestion
	if err := c.do(ctx, method, path, nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Get returns a suggestion by id.
func (c *Client) Get(ctx context.Context, id string) (*model.Suggestion, error) {
	var s model.Suggestion
	if err := c.do(ctx, http.MethodGet, "/v1/suggestions/"+url.PathEscape(id), nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// History returns past suggestions for (actionID, category), newest first.
func (c *Client) History(ctx context.Context, actionID string, category model.Category, limit int) ([]*model.Suggestion, error) {
	q := url.Values{}
	q.Set("category", string(category))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out []*model.Suggestion
	path := "/v1/actions/" + url.PathEscape(actionID) + "/history?" + q.Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Explain returns a rationale for a suggestion.
func (c *Client) Explain(ctx context.Context, id string) (api.ExplainResponse, error) {
	var out api.ExplainResponse
	err := c.do(ctx, http.MethodGet, "/v1/suggestions/"+url.PathEscape(id)+"/explain", nil, &out)
	return out, err
}

// Feedback submits feedback on a suggestion.
func (c *Client) Feedback(ctx context.Context, id string, req api.FeedbackRequest) (api.FeedbackResponse, error) {
	var out api.FeedbackResponse
	err := c.do(ctx, http.MethodPost, "/v1/suggestions/"+url.PathEscape(id)+"/feedback", req, &out)
	return out, err
}

// Event sends a world-state event.
func (c *Client) Event(ctx context.Context, ev event.Event) error {
	return c.do(ctx, http.MethodPost, "/v1/events", ev, nil)
}

// PutResource registers or updates a resource profile.
func (c *Client) PutResource(ctx context.Context, id string, req api.ResourceRequest) (profile.Profile, error) {
	var out profile.Profile
	err := c.do(ctx, http.MethodPut, "/v1/resources/"+url.PathEscape(id), req, &out)
	return out, err
}

// Resources lists resource profiles.
func (c *Client) Resources(ctx context.Context) ([]profile.Profile, error) {
	var out []profile.Profile
	err := c.do(ctx, http.MethodGet, "/v1/resources", nil, &out)
	return out, err
}

// PutAction registers or updates an action.
func (c *Client) PutAction(ctx context.Context, id string, req api.ActionRequest) error {
	return c.do(ctx, http.MethodPut, "/v1/actions/"+url.PathEscape(id), req, nil)
}

// Stats returns effectiveness statistics and counters.
func (c *Client) Stats(ctx context.Context) (api.StatsResponse, error) {
	var out api.StatsResponse
	err := c.do(ctx, http.MethodGet, "/v1/stats", nil, &out)
	return out, err
}

// ResetStats clears statistics. Empty category or optionType match all.
func (c *Client) ResetStats(ctx context.Context, category model.Category, optionType string) error {
	q := url.Values{}
	if category != "" {
		q.Set("category", string(category))
	}
	if optionType != "" {
		q.Set("option_type", optionType)
	}
	path := "/v1/stats"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w at %s: %v", ErrNotRunning, c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e api.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == "" {
			return &APIError{Status: resp.StatusCode, Code: "http_error", Message: resp.Status}
		}
		return &APIError{Status: resp.StatusCode, Code: e.Error, Message: e.Message}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
