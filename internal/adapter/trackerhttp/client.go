// Package trackerhttp implements the tracker port against the tracking
// service's REST API. Hot read paths (feature/task fetches for feature
// decomposition) go through the cache port to absorb repeated lookups.
package trackerhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/forgeline/foreman/internal/domain"
	"github.com/forgeline/foreman/internal/domain/event"
	"github.com/forgeline/foreman/internal/domain/plan"
	"github.com/forgeline/foreman/internal/port/cache"
	"github.com/forgeline/foreman/internal/port/tracker"
	"github.com/forgeline/foreman/internal/resilience"
)

// Client is an HTTP tracker.Client.
type Client struct {
	baseURL  string
	apiKey   string
	http     *http.Client
	cache    cache.Cache
	cacheTTL time.Duration
	breaker  *resilience.Breaker
}

// Option configures a Client.
type Option func(*Client)

// WithCache routes read responses through c with the given TTL.
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(cl *Client) {
		cl.cache = c
		cl.cacheTTL = ttl
	}
}

// WithBreaker guards requests with a circuit breaker. Transport errors and
// 5xx responses count as failures; 4xx responses do not.
func WithBreaker(b *resilience.Breaker) Option {
	return func(cl *Client) {
		cl.breaker = b
	}
}

// NewClient creates a tracker client for the service at baseURL.
func NewClient(baseURL, apiKey string, timeout time.Duration, opts ...Option) *Client {
	cl := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(cl)
	}
	return cl
}

// GetExecutionPlan returns the pre-computed plan for an epic.
func (c *Client) GetExecutionPlan(ctx context.Context, epicID string) (*plan.ExecutionPlan, error) {
	var p plan.ExecutionPlan
	if err := c.doJSON(ctx, http.MethodGet, "/epics/"+epicID+"/plan", nil, &p); err != nil {
		return nil, fmt.Errorf("get execution plan: %w", err)
	}
	return &p, nil
}

// StartSession opens a tracking session for an epic.
func (c *Client) StartSession(ctx context.Context, epicID, externalID string) (*tracker.SessionStart, error) {
	body := map[string]string{}
	if externalID != "" {
		body["external_id"] = externalID
	}
	var out tracker.SessionStart
	if err := c.doJSON(ctx, http.MethodPost, "/epics/"+epicID+"/sessions", body, &out); err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	return &out, nil
}

// EndSession closes the epic's active session with a handoff summary.
func (c *Client) EndSession(ctx context.Context, epicID, handoff string) error {
	body := map[string]string{"handoff": handoff}
	if err := c.doJSON(ctx, http.MethodPost, "/epics/"+epicID+"/sessions/end", body, nil); err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

// StartWork marks a work item as started.
func (c *Client) StartWork(ctx context.Context, wt tracker.WorkType, id string, upd tracker.WorkUpdate) error {
	if err := c.doJSON(ctx, http.MethodPost, workPath(wt, id)+"/start", upd, nil); err != nil {
		return fmt.Errorf("start work %s/%s: %w", wt, id, err)
	}
	return nil
}

// CompleteWork marks a work item as completed.
func (c *Client) CompleteWork(ctx context.Context, wt tracker.WorkType, id string, upd tracker.WorkUpdate) error {
	if err := c.doJSON(ctx, http.MethodPost, workPath(wt, id)+"/complete", upd, nil); err != nil {
		return fmt.Errorf("complete work %s/%s: %w", wt, id, err)
	}
	return nil
}

// LinkBranch attaches a branch name to a work item.
func (c *Client) LinkBranch(ctx context.Context, wt tracker.WorkType, id, branch string) error {
	body := map[string]string{"branch": branch}
	if err := c.doJSON(ctx, http.MethodPost, workPath(wt, id)+"/branch", body, nil); err != nil {
		return fmt.Errorf("link branch %s/%s: %w", wt, id, err)
	}
	return nil
}

// LinkCommit attaches a commit hash to a work item.
func (c *Client) LinkCommit(ctx context.Context, wt tracker.WorkType, id, hash string) error {
	body := map[string]string{"commit": hash}
	if err := c.doJSON(ctx, http.MethodPost, workPath(wt, id)+"/commit", body, nil); err != nil {
		return fmt.Errorf("link commit %s/%s: %w", wt, id, err)
	}
	return nil
}

// ListTasks returns a feature's tasks, served from cache when possible.
func (c *Client) ListTasks(ctx context.Context, featureID string) ([]plan.Task, error) {
	var tasks []plan.Task
	if err := c.cachedGet(ctx, "/features/"+featureID+"/tasks", &tasks); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

// GetFeature returns a feature record, served from cache when possible.
func (c *Client) GetFeature(ctx context.Context, id string) (*tracker.FeatureDetail, error) {
	var f tracker.FeatureDetail
	if err := c.cachedGet(ctx, "/features/"+id, &f); err != nil {
		return nil, fmt.Errorf("get feature: %w", err)
	}
	return &f, nil
}

// GetTask returns a task record, served from cache when possible.
func (c *Client) GetTask(ctx context.Context, id string) (*plan.Task, error) {
	var t plan.Task
	if err := c.cachedGet(ctx, "/tasks/"+id, &t); err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return &t, nil
}

// EmitSessionEvent forwards fire-and-forget session telemetry.
func (c *Client) EmitSessionEvent(ctx context.Context, ev event.SessionEvent) error {
	if err := c.doJSON(ctx, http.MethodPost, "/events", ev, nil); err != nil {
		return fmt.Errorf("emit session event: %w", err)
	}
	return nil
}

func workPath(wt tracker.WorkType, id string) string {
	return fmt.Sprintf("/%ss/%s", wt, id)
}

// cachedGet fetches path, consulting the cache first when configured.
func (c *Client) cachedGet(ctx context.Context, path string, out any) error {
	if c.cache != nil {
		if data, ok, err := c.cache.Get(ctx, path); err == nil && ok {
			return json.Unmarshal(data, out)
		}
	}

	data, err := c.doRaw(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, path, data, c.cacheTTL); err != nil {
			slog.Debug("tracker cache set failed", "path", path, "error", err)
		}
	}
	return json.Unmarshal(data, out)
}

// doJSON performs a request and decodes the response into out (when non-nil).
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	data, err := c.doRaw(ctx, method, path, body)
	if err != nil {
		return err
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

func (c *Client) doRaw(ctx context.Context, method, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.send(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%s %s: %w", method, path, domain.ErrNotFound)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, truncate(data, 200))
	}
	return data, nil
}

// send performs the request through the breaker when one is configured.
func (c *Client) send(req *http.Request) (*http.Response, error) {
	if c.breaker == nil {
		return c.http.Do(req)
	}
	if !c.breaker.Allow() {
		return nil, resilience.ErrOpen
	}
	resp, err := c.http.Do(req)
	c.breaker.Record(err == nil && resp.StatusCode < http.StatusInternalServerError)
	return resp, err
}

func truncate(data []byte, n int) string {
	if len(data) > n {
		return string(data[:n]) + "..."
	}
	return string(data)
}
