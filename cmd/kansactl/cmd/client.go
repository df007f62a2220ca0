package cmd

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

	"github.com/gorilla/websocket"

	"github.com/raysh454/kansa/internal/app"
	"github.com/raysh454/kansa/internal/drift"
	"github.com/raysh454/kansa/internal/engine"
	"github.com/raysh454/kansa/internal/model"
	"github.com/raysh454/kansa/internal/progress"
	"github.com/raysh454/kansa/internal/report"
	"github.com/raysh454/kansa/internal/server"
)

// Client handles API calls to a kansad server.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

// APIError represents an error response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		var e server.ErrorResponse
		if json.Unmarshal(respBody, &e) == nil && e.Error != "" {
			return &APIError{StatusCode: resp.StatusCode, Message: e.Error}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// runPath maps a kind onto its API collection.
func runPath(kind model.RunKind, id string) string {
	if kind == model.KindInventory {
		return "/inventory/" + url.PathEscape(id)
	}
	return "/assessments/" + url.PathEscape(id)
}

// Tenants

func (c *Client) CreateTenant(ctx context.Context, req server.CreateTenantRequest) (*model.Tenant, error) {
	var t model.Tenant
	if err := c.do(ctx, http.MethodPost, "/tenants", req, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *Client) ListTenants(ctx context.Context) ([]model.Tenant, error) {
	var ts []model.Tenant
	err := c.do(ctx, http.MethodGet, "/tenants", nil, &ts)
	return ts, err
}

func (c *Client) GetTenant(ctx context.Context, id string) (*model.Tenant, error) {
	var t model.Tenant
	if err := c.do(ctx, http.MethodGet, "/tenants/"+url.PathEscape(id), nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *Client) DeleteTenant(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/tenants/"+url.PathEscape(id), nil, nil)
}

// Runs

// StartRun queues a run of kind for tenantID.
func (c *Client) StartRun(ctx context.Context, kind model.RunKind, tenantID string, req server.StartRunRequest) (*engine.RunDetail, error) {
	coll := "assessments"
	if kind == model.KindInventory {
		coll = "inventory"
	}
	var d engine.RunDetail
	if err := c.do(ctx, http.MethodPost, "/tenants/"+url.PathEscape(tenantID)+"/"+coll, req, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *Client) ListRuns(ctx context.Context, tenantID string, kind model.RunKind, limit int) ([]model.Run, error) {
	q := url.Values{}
	if kind != "" {
		q.Set("kind", string(kind))
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	path := "/tenants/" + url.PathEscape(tenantID) + "/runs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var runs []model.Run
	err := c.do(ctx, http.MethodGet, path, nil, &runs)
	return runs, err
}

func (c *Client) GetRun(ctx context.Context, kind model.RunKind, id string) (*engine.RunDetail, error) {
	var d engine.RunDetail
	if err := c.do(ctx, http.MethodGet, runPath(kind, id), nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *Client) GetProgress(ctx context.Context, kind model.RunKind, id string) (*model.Progress, error) {
	var p model.Progress
	if err := c.do(ctx, http.MethodGet, runPath(kind, id)+"/progress", nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) CancelRun(ctx context.Context, kind model.RunKind, id string) (*app.CancelResult, error) {
	var res app.CancelResult
	if err := c.do(ctx, http.MethodDelete, runPath(kind, id), nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) GetReport(ctx context.Context, kind model.RunKind, id string) (*report.Report, error) {
	var r report.Report
	if err := c.do(ctx, http.MethodGet, runPath(kind, id)+"/report", nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// FindingQuery filters the findings listing; zero fields are omitted.
type FindingQuery struct {
	Domain       string
	Severity     string
	NonCompliant bool
}

func (c *Client) GetFindings(ctx context.Context, id string, f FindingQuery) ([]model.Finding, error) {
	q := url.Values{}
	if f.Domain != "" {
		q.Set("domain", f.Domain)
	}
	if f.Severity != "" {
		q.Set("severity", f.Severity)
	}
	if f.NonCompliant {
		q.Set("noncompliant", "true")
	}
	path := runPath(model.KindAssessment, id) + "/findings"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out []model.Finding
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *Client) Drift(ctx context.Context, headID, baseID, domain string) (*drift.Report, error) {
	q := url.Values{}
	if baseID != "" {
		q.Set("base", baseID)
	}
	if domain != "" {
		q.Set("domain", domain)
	}
	path := runPath(model.KindInventory, headID) + "/drift"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var rep drift.Report
	if err := c.do(ctx, http.MethodGet, path, nil, &rep); err != nil {
		return nil, err
	}
	return &rep, nil
}

// Watch streams progress events of a run to fn until the server closes the
// stream or ctx is cancelled.
func (c *Client) Watch(ctx context.Context, id string, fn func(progress.Event)) error {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/runs/" + url.PathEscape(id)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return &APIError{StatusCode: resp.StatusCode, Message: err.Error()}
		}
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		var ev progress.Event
		if err := conn.ReadJSON(&ev); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read: %w", err)
		}
		fn(ev)
	}
}
