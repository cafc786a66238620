package ics

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
	"time"

	appLog "todaywhat/internal/log"
	"todaywhat/internal/model"
)

// FetchResult is the outcome of fetching a subscribed timetable feed.
type FetchResult struct {
	URL       string
	Body      []byte
	FromCache bool // true when the cached body was reused (304 or fallback)
}

type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Fetcher downloads ICS feeds with conditional requests and a disk cache.
type Fetcher struct {
	client   *http.Client
	cacheDir string
}

// NewFetcher creates a Fetcher caching under cacheDir. A nil client gets a
// 15 second timeout.
func NewFetcher(cacheDir string, client *http.Client) *Fetcher {
	if cacheDir == "" {
		cacheDir = "./var/ics-cache"
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Fetcher{client: client, cacheDir: cacheDir}
}

// Fetch downloads rawURL honoring ETag and Last-Modified. Network errors
// and non-OK statuses fall back to the cached body when there is one.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (FetchResult, error) {
	if rawURL == "" {
		return FetchResult{}, errors.New("ics: feed URL is empty")
	}

	cachePath := f.cachePathForURL(rawURL)
	if err := os.MkdirAll(cachePath, 0o700); err != nil {
		return FetchResult{}, err
	}

	meta, _ := f.loadCacheMeta(cachePath)
	cachedBody, _ := os.ReadFile(filepath.Join(cachePath, "body.ics"))
	fromCache := FetchResult{URL: rawURL, Body: cachedBody, FromCache: true}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return FetchResult{}, err
	}
	if meta.ETag != "" {
		req.Header.Set("If-None-Match", meta.ETag)
	}
	if meta.LastModified != "" {
		req.Header.Set("If-Modified-Since", meta.LastModified)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if len(cachedBody) > 0 {
			appLog.Error("ics fetch network error, using cached body", err, "url", redactURL(rawURL))
			return fromCache, nil
		}
		return FetchResult{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return FetchResult{}, err
		}
		newMeta := cacheEntry{
			URL:          rawURL,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		}
		if err := f.saveCache(cachePath, newMeta, body); err != nil {
			appLog.Error("ics cache save failed", err, "url", redactURL(rawURL))
		}
		appLog.Info("ics fetch success", "url", redactURL(rawURL), "bytes", len(body))
		return FetchResult{URL: rawURL, Body: body}, nil

	case http.StatusNotModified:
		if len(cachedBody) == 0 {
			return FetchResult{}, errors.New("ics: 304 Not Modified but no cached body")
		}
		appLog.Debug("ics fetch not modified", "url", redactURL(rawURL))
		return fromCache, nil

	default:
		if len(cachedBody) > 0 {
			appLog.Error("ics fetch non-OK, using cached body", errors.New(resp.Status), "url", redactURL(rawURL))
			return fromCache, nil
		}
		return FetchResult{}, fmt.Errorf("ics: fetch: %s", resp.Status)
	}
}

// OverrideWriter replaces the stored manual timetable.
type OverrideWriter interface {
	ReplaceOverrides(ctx context.Context, overrides []model.ManualOverride) ([]model.ManualOverride, error)
}

// SyncOverrides imports the manual timetable published at rawURL into w.
// An unchanged feed is not re-imported. It reports whether w was written.
func (f *Fetcher) SyncOverrides(ctx context.Context, rawURL string, loc *time.Location, w OverrideWriter) (bool, error) {
	res, err := f.Fetch(ctx, rawURL)
	if err != nil {
		return false, err
	}
	if res.FromCache {
		return false, nil
	}
	count, err := importOverrides(ctx, res.Body, loc, w)
	if err != nil {
		// Without validators the next sync downloads this version again.
		f.dropCacheMeta(rawURL)
		return false, err
	}
	appLog.Info("override feed imported", "url", redactURL(rawURL), "count", count)
	return true, nil
}

func importOverrides(ctx context.Context, body []byte, loc *time.Location, w OverrideWriter) (int, error) {
	overrides, err := ParseOverrides(body, loc)
	if err != nil {
		return 0, fmt.Errorf("ics: parse feed: %w", err)
	}
	if _, err := w.ReplaceOverrides(ctx, overrides); err != nil {
		return 0, err
	}
	return len(overrides), nil
}

func (f *Fetcher) dropCacheMeta(rawURL string) {
	path := filepath.Join(f.cachePathForURL(rawURL), "meta.json")
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		appLog.Error("ics cache meta remove failed", err, "url", redactURL(rawURL))
	}
}

func (f *Fetcher) cachePathForURL(u string) string {
	sum := sha256.Sum256([]byte(u))
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func (f *Fetcher) loadCacheMeta(cachePath string) (cacheEntry, error) {
	var meta cacheEntry
	data, err := os.ReadFile(filepath.Join(cachePath, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheEntry{}, err
	}
	return meta, nil
}

func (f *Fetcher) saveCache(cachePath string, meta cacheEntry, body []byte) error {
	// Body first so meta never points at a missing body.
	if err := os.WriteFile(filepath.Join(cachePath, "body.ics"), body, 0o600); err != nil {
		return err
	}
	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cachePath, "meta.json"), data, 0o600)
}

// redactURL keeps only scheme and host; feed URLs often embed tokens.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "ics://...(redacted)"
	}
	return u.Scheme + "://" + u.Host + "/...(redacted)"
}
