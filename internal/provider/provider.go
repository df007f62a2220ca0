// Package provider is the boundary to the external directory API that domain
// modules collect from.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrUnauthorized       = errors.New("provider: unauthorized")
	ErrNotFound           = errors.New("provider: resource not found")
	ErrInvalidCredentials = errors.New("provider: incomplete credentials")
)

// StatusError is returned for non-retryable HTTP statuses other than
// 401/403/404.
type StatusError struct {
	StatusCode int
	Path       string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider: %s returned status %d: %s", e.Path, e.StatusCode, e.Body)
}

// Client reads directory objects for one tenant. Implementations must be safe
// for concurrent use by several domain modules.
type Client interface {
	// GetObject fetches a single JSON document and decodes it into out.
	GetObject(ctx context.Context, path string, out any) error

	// ListCollection fetches every page of a collection and returns the raw
	// elements of each page's "value" array.
	ListCollection(ctx context.Context, path string) ([]json.RawMessage, error)

	// TestConnection performs a cheap authenticated request.
	TestConnection(ctx context.Context) error

	Close() error
}

// Credentials identify a tenant and the app registration used to read it.
type Credentials struct {
	DirectoryID  string
	ClientID     string
	ClientSecret string
	// Endpoint overrides Options.BaseURL for this tenant when set.
	Endpoint string
}

func (c Credentials) Validate() error {
	if c.DirectoryID == "" || c.ClientID == "" || c.ClientSecret == "" {
		return ErrInvalidCredentials
	}
	return nil
}

// Factory builds tenant-scoped clients. CreateClient may block on token
// acquisition and fails fast when the credentials are rejected.
type Factory interface {
	CreateClient(ctx context.Context, creds Credentials) (Client, error)
}

// Options configures the HTTP backed factory.
type Options struct {
	Backend string
	BaseURL string
	// TokenURL may contain a {tenant} placeholder for the directory id.
	TokenURL       string
	Scopes         []string
	Timeout        time.Duration
	RateLimit      float64
	Burst          int
	MaxRetries     int
	RetryBaseDelay time.Duration
	MaxRetryWait   time.Duration
	MaxPages       int
}

// DefaultOptions returns settings suitable for the demo provider.
func DefaultOptions() Options {
	return Options{
		Backend:        "http",
		BaseURL:        "http://127.0.0.1:9090/v1.0",
		Scopes:         []string{"https://graph.example/.default"},
		Timeout:        30 * time.Second,
		RateLimit:      20,
		Burst:          5,
		MaxRetries:     4,
		RetryBaseDelay: 200 * time.Millisecond,
		MaxRetryWait:   30 * time.Second,
		MaxPages:       500,
	}
}
