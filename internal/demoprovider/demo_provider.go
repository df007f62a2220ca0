// Package demoprovider is a fake directory API with switchable tenant
// postures, used for demos and integration tests.
package demoprovider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/raysh454/kansa/internal/logging"
)

const apiPrefix = "/v1.0"

// DemoProvider serves token and collection endpoints from a Dataset.
type DemoProvider struct {
	cfg    Config
	logger logging.Logger

	mu       sync.RWMutex
	posture  Posture
	data     Dataset
	throttle int
	requests int
}

func NewDemoProvider(cfg Config, logger logging.Logger) *DemoProvider {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultConfig().PageSize
	}
	if cfg.Posture == "" {
		cfg.Posture = PostureWeak
	}
	if logger == nil {
		logger = logging.Nop{}
	}
	return &DemoProvider{
		cfg:     cfg,
		logger:  logger.With(logging.Field{Key: "component", Value: "demoprovider"}),
		posture: cfg.Posture,
		data:    Fixtures(cfg.Posture, time.Now()),
	}
}

// Handler returns the HTTP handler serving the API and control endpoints.
func (p *DemoProvider) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", p.apiHandler)
	mux.HandleFunc("/demo/posture", p.postureHandler)
	mux.HandleFunc("/demo/throttle", p.throttleHandler)
	mux.HandleFunc("/demo/stats", p.statsHandler)
	return mux
}

// ListenAndServe blocks until ctx is cancelled or the server fails.
func (p *DemoProvider) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{Addr: p.cfg.Addr, Handler: p.Handler(), ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		p.logger.Info("demo provider listening",
			logging.Field{Key: "addr", Value: p.cfg.Addr},
			logging.Field{Key: "posture", Value: string(p.Posture())})
		errCh <- srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (p *DemoProvider) Posture() Posture {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.posture
}

// SetPosture swaps the served dataset.
func (p *DemoProvider) SetPosture(posture Posture) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.posture = posture
	p.data = Fixtures(posture, time.Now())
}

// Throttle makes the next n API requests answer 429.
func (p *DemoProvider) Throttle(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.throttle = n
}

func (p *DemoProvider) apiHandler(w http.ResponseWriter, r *http.Request) {
	if strings.HasSuffix(r.URL.Path, "/oauth2/v2.0/token") {
		p.tokenHandler(w, r)
		return
	}
	if !strings.HasPrefix(r.URL.Path, apiPrefix+"/") {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if r.Header.Get("Authorization") != "Bearer "+p.token() {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": map[string]string{"code": "InvalidAuthenticationToken"}})
		return
	}

	p.mu.Lock()
	p.requests++
	throttled := p.throttle > 0
	if throttled {
		p.throttle--
	}
	data := p.data
	p.mu.Unlock()

	if throttled {
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusTooManyRequests, map[string]any{"error": map[string]string{"code": "TooManyRequests"}})
		return
	}

	path := strings.TrimPrefix(r.URL.Path, apiPrefix)
	if doc, ok := data.Objects[path]; ok {
		writeJSON(w, http.StatusOK, doc)
		return
	}
	coll, ok := data.Collections[path]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": map[string]string{"code": "Request_ResourceNotFound"}})
		return
	}
	p.writePage(w, r, coll)
}

func (p *DemoProvider) writePage(w http.ResponseWriter, r *http.Request, coll []any) {
	skip, _ := strconv.Atoi(r.URL.Query().Get("$skiptoken"))
	if skip < 0 || skip > len(coll) {
		skip = 0
	}
	end := skip + p.cfg.PageSize
	if end > len(coll) {
		end = len(coll)
	}
	body := map[string]any{"value": coll[skip:end]}
	if end < len(coll) {
		q := r.URL.Query()
		q.Set("$skiptoken", strconv.Itoa(end))
		next := url.URL{Scheme: "http", Host: r.Host, Path: r.URL.Path, RawQuery: q.Encode()}
		body["@odata.nextLink"] = next.String()
	}
	writeJSON(w, http.StatusOK, body)
}

func (p *DemoProvider) token() string {
	return "demo-token-" + p.cfg.ClientID
}

func (p *DemoProvider) tokenHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}
	id, secret, ok := r.BasicAuth()
	if !ok {
		id, secret = r.PostForm.Get("client_id"), r.PostForm.Get("client_secret")
	}
	if r.PostForm.Get("grant_type") != "client_credentials" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
		return
	}
	if id != p.cfg.ClientID || secret != p.cfg.ClientSecret {
		p.logger.Warn("rejected token request", logging.Field{Key: "client_id", Value: id})
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_client"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": p.token(),
		"token_type":   "Bearer",
		"expires_in":   3600,
	})
}

// postureHandler returns the current posture or, on POST, sets it.
func (p *DemoProvider) postureHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		posture, err := ParsePosture(r.FormValue("posture"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		p.SetPosture(posture)
		p.logger.Info("posture changed", logging.Field{Key: "posture", Value: string(posture)})
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "posture": p.Posture()})
}

func (p *DemoProvider) throttleHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	n, err := strconv.Atoi(r.FormValue("count"))
	if err != nil || n < 0 {
		http.Error(w, "Invalid count", http.StatusBadRequest)
		return
	}
	p.Throttle(n)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": fmt.Sprintf("next %d requests throttled", n)})
}

func (p *DemoProvider) statsHandler(w http.ResponseWriter, r *http.Request) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	writeJSON(w, http.StatusOK, map[string]any{
		"posture":  p.posture,
		"requests": p.requests,
		"throttle": p.throttle,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
