package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"

	"github.com/raysh454/kansa/internal/logging"
)

const maxErrorBody = 512

// HTTPFactory creates HTTPClients authenticated with the OAuth2 client
// credentials grant.
type HTTPFactory struct {
	opts   Options
	logger logging.Logger
	base   *http.Client
}

// NewHTTPFactory builds a factory. base may be nil, in which case a client
// with opts.Timeout is used.
func NewHTTPFactory(opts Options, logger logging.Logger, base *http.Client) *HTTPFactory {
	def := DefaultOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = def.MaxRetries
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = def.RetryBaseDelay
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = def.MaxPages
	}
	if base == nil {
		base = &http.Client{Timeout: opts.Timeout}
	}
	if logger == nil {
		logger = logging.Nop{}
	}
	return &HTTPFactory{
		opts:   opts,
		logger: logger.With(logging.Field{Key: "component", Value: "provider"}),
		base:   base,
	}
}

// CreateClient acquires a token up front so bad credentials fail here rather
// than inside the first module.
func (f *HTTPFactory) CreateClient(ctx context.Context, creds Credentials) (Client, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	endpoint := strings.TrimRight(creds.Endpoint, "/")
	if endpoint == "" {
		endpoint = strings.TrimRight(f.opts.BaseURL, "/")
	}
	if endpoint == "" {
		return nil, errors.New("provider: no base url configured")
	}
	tokenURL, err := resolveTokenURL(f.opts.TokenURL, endpoint, creds.DirectoryID)
	if err != nil {
		return nil, err
	}

	cc := &clientcredentials.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		TokenURL:     tokenURL,
		Scopes:       f.opts.Scopes,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	// The token source outlives ctx, so refreshes use a background context
	// carrying only the base transport.
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, f.base)
	ts := cc.TokenSource(tokenCtx)

	if _, err := tokenWithContext(ctx, ts); err != nil {
		f.logger.Warn("token acquisition failed",
			logging.Field{Key: "directory_id", Value: creds.DirectoryID},
			logging.Field{Key: "error", Value: err})
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
		return nil, fmt.Errorf("acquire token: %w", err)
	}

	limit := rate.Inf
	if f.opts.RateLimit > 0 {
		limit = rate.Limit(f.opts.RateLimit)
	}
	burst := f.opts.Burst
	if burst <= 0 {
		burst = 1
	}

	f.logger.Debug("created provider client",
		logging.Field{Key: "directory_id", Value: creds.DirectoryID},
		logging.Field{Key: "endpoint", Value: endpoint})

	return &HTTPClient{
		endpoint: endpoint,
		http: &http.Client{
			Timeout:   f.base.Timeout,
			Transport: &oauth2.Transport{Source: ts, Base: f.base.Transport},
		},
		limiter: rate.NewLimiter(limit, burst),
		opts:    f.opts,
		logger:  f.logger.With(logging.Field{Key: "directory_id", Value: creds.DirectoryID}),
	}, nil
}

// tokenWithContext bounds the blocking token fetch by ctx.
func tokenWithContext(ctx context.Context, ts oauth2.TokenSource) (*oauth2.Token, error) {
	type result struct {
		tok *oauth2.Token
		err error
	}
	ch := make(chan result, 1)
	go func() {
		tok, err := ts.Token()
		ch <- result{tok, err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.tok, r.err
	}
}

func resolveTokenURL(tmpl, endpoint, directoryID string) (string, error) {
	if tmpl != "" {
		return strings.ReplaceAll(tmpl, "{tenant}", url.PathEscape(directoryID)), nil
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	u.Path = "/" + url.PathEscape(directoryID) + "/oauth2/v2.0/token"
	u.RawQuery = ""
	return u.String(), nil
}

// HTTPClient is a rate limited, retrying Client over a JSON REST API.
type HTTPClient struct {
	endpoint string
	http     *http.Client
	limiter  *rate.Limiter
	opts     Options
	logger   logging.Logger
}

func (c *HTTPClient) GetObject(ctx context.Context, path string, out any) error {
	body, err := c.get(ctx, c.resolve(path))
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

type page struct {
	Value    []json.RawMessage `json:"value"`
	NextLink string            `json:"@odata.nextLink"`
}

func (c *HTTPClient) ListCollection(ctx context.Context, path string) ([]json.RawMessage, error) {
	out := []json.RawMessage{}
	next := c.resolve(path)
	seen := make(map[string]struct{})

	for pages := 0; next != ""; pages++ {
		if pages >= c.opts.MaxPages {
			return out, fmt.Errorf("list %s: exceeded %d pages", path, c.opts.MaxPages)
		}
		if _, dup := seen[next]; dup {
			return out, fmt.Errorf("list %s: pagination loop at %s", path, next)
		}
		seen[next] = struct{}{}

		body, err := c.get(ctx, next)
		if err != nil {
			return out, err
		}
		var p page
		if err := json.Unmarshal(body, &p); err != nil {
			return out, fmt.Errorf("decode page of %s: %w", path, err)
		}
		out = append(out, p.Value...)
		next = p.NextLink
	}
	return out, nil
}

func (c *HTTPClient) TestConnection(ctx context.Context) error {
	_, err := c.get(ctx, c.resolve("/organization"))
	return err
}

func (c *HTTPClient) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

func (c *HTTPClient) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	path, rawQuery, _ := strings.Cut(path, "?")
	target := c.endpoint + "/" + strings.TrimLeft(path, "/")
	if rawQuery == "" {
		return target
	}
	q, err := url.ParseQuery(rawQuery)
	if err != nil {
		return target + "?" + url.PathEscape(rawQuery)
	}
	return target + "?" + q.Encode()
}

func (c *HTTPClient) get(ctx context.Context, target string) ([]byte, error) {
	var body []byte
	err := retry(ctx, c.opts.MaxRetries+1, c.opts.RetryBaseDelay, c.opts.MaxRetryWait, func() error {
		var err error
		body, err = c.once(ctx, target)
		return err
	})
	return body, err
}

func (c *HTTPClient) once(ctx context.Context, target string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
		c.logger.Warn("provider request failed",
			logging.Field{Key: "url", Value: target},
			logging.Field{Key: "error", Value: err})
		return nil, &retryableError{err: fmt.Errorf("http do: %w", err)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &retryableError{err: fmt.Errorf("read body: %w", err)}
	}

	c.logger.Debug("provider request",
		logging.Field{Key: "url", Value: target},
		logging.Field{Key: "status", Value: resp.StatusCode},
		logging.Field{Key: "duration_ms", Value: time.Since(start).Milliseconds()})

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return data, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: %s returned %d", ErrUnauthorized, target, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, target)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &retryableError{
			err:   &StatusError{StatusCode: resp.StatusCode, Path: target, Body: truncate(data)},
			after: retryAfter(resp.Header, time.Now()),
		}
	default:
		return nil, &StatusError{StatusCode: resp.StatusCode, Path: target, Body: truncate(data)}
	}
}

func truncate(b []byte) string {
	if len(b) > maxErrorBody {
		return string(b[:maxErrorBody])
	}
	return string(b)
}
