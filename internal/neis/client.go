// Package neis talks to the NEIS Open API (open.neis.go.kr) for school
// meals, timetables, the school directory and majors.
package neis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	appLog "todaywhat/internal/log"
	"todaywhat/internal/model"
)

var (
	// ErrNoData is NEIS INFO-200: the query matched nothing.
	ErrNoData = errors.New("neis: no data")
	// ErrSchoolNotSet is returned when no school has been selected yet.
	ErrSchoolNotSet = errors.New("neis: school is not configured")
)

// APIError is a non-success RESULT code reported by NEIS.
type APIError struct {
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("neis: %s: %s", e.Code, e.Message)
}

// IdentitySource yields the currently selected school identity.
type IdentitySource interface {
	School() model.SchoolIdentity
}

// Options configures a Client.
type Options struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// CacheDir keeps the last good body per request so that transport
	// failures can still serve data. Empty disables the disk cache.
	CacheDir   string
	HTTPClient *http.Client
}

// Client fetches NEIS datasets. It is safe for concurrent use; identical
// in-flight requests share one HTTP round trip.
type Client struct {
	client   *http.Client
	baseURL  string
	apiKey   string
	cacheDir string
	identity IdentitySource

	group singleflight.Group
}

// cacheEntry holds metadata for a cached body.
type cacheEntry struct {
	URL       string    `json:"url"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewClient creates a Client reading the school identity from identity.
func NewClient(opts Options, identity IdentitySource) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://open.neis.go.kr/hub"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{
		client:   hc,
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		apiKey:   opts.APIKey,
		cacheDir: opts.CacheDir,
		identity: identity,
	}
}

// get performs a dataset request and returns the raw JSON body after
// checking the RESULT code. Transport errors, non-200 statuses and NEIS
// error codes fall back to the cached body when one exists. INFO-200 is
// returned as ErrNoData and never falls back.
func (c *Client) get(ctx context.Context, service string, params url.Values) ([]byte, error) {
	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	q.Set("Type", "json")
	q.Set("pIndex", "1")
	q.Set("pSize", "100")

	// Cache key excludes the API key so rotating it keeps the cache.
	cacheKey := service + "?" + q.Encode()
	if c.apiKey != "" {
		q.Set("KEY", c.apiKey)
	}
	reqURL := c.baseURL + "/" + service + "?" + q.Encode()

	// The shared round trip outlives any single caller; the client timeout
	// bounds it and each caller stops waiting when its own ctx ends.
	ch := c.group.DoChan(cacheKey, func() (any, error) {
		return c.fetch(context.WithoutCancel(ctx), service, reqURL, cacheKey)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Shared {
			appLog.Debug("neis request shared", "service", service)
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	}
}

func (c *Client) fetch(ctx context.Context, service, reqURL, cacheKey string) ([]byte, error) {
	cached, _ := c.loadCacheBody(cacheKey)

	fallback := func(cause error) ([]byte, error) {
		if len(cached) > 0 {
			appLog.Error("neis fetch failed, using cached body", cause, "service", service, "url", redactURL(reqURL))
			return cached, nil
		}
		return nil, cause
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	appLog.Debug("neis fetch start", "service", service, "url", redactURL(reqURL))

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return fallback(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fallback(fmt.Errorf("neis: unexpected status %s", resp.Status))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fallback(err)
	}

	if err := checkResult(body, service); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return fallback(err)
		}
		return nil, err
	}

	if err := c.saveCache(cacheKey, body); err != nil {
		// Log but still return the freshly fetched body.
		appLog.Error("neis cache save failed", err, "service", service)
	}
	appLog.Debug("neis fetch success", "service", service, "bytes", len(body))
	return body, nil
}

// identityOrErr returns the configured identity or ErrSchoolNotSet.
func (c *Client) identityOrErr() (model.SchoolIdentity, error) {
	if c.identity == nil {
		return model.SchoolIdentity{}, ErrSchoolNotSet
	}
	id := c.identity.School()
	if !id.Configured() {
		return id, ErrSchoolNotSet
	}
	return id, nil
}

func (c *Client) cacheDirFor(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(c.cacheDir, hex.EncodeToString(sum[:8]))
}

func (c *Client) loadCacheBody(key string) ([]byte, error) {
	if c.cacheDir == "" {
		return nil, os.ErrNotExist
	}
	return os.ReadFile(filepath.Join(c.cacheDirFor(key), "body.json"))
}

func (c *Client) saveCache(key string, body []byte) error {
	if c.cacheDir == "" {
		return nil
	}
	dir := c.cacheDirFor(key)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	// Write body first so meta never points at missing body.
	if err := os.WriteFile(filepath.Join(dir, "body.json"), body, 0o600); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cacheEntry{URL: key, UpdatedAt: time.Now().UTC()}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "meta.json"), data, 0o600)
}

// redactURL drops the query string (which carries the API key).
func redactURL(u string) string {
	if i := strings.IndexByte(u, '?'); i >= 0 {
		return u[:i] + "?...(redacted)"
	}
	return u
}

// ymd formats a date the way NEIS expects it.
func ymd(t time.Time) string {
	return t.Format("20060102")
}
