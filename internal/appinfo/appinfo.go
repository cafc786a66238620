// Package appinfo fetches the published app version from the iTunes lookup
// API and the operator's emergency notice.
package appinfo

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

	appLog "todaywhat/internal/log"
	"todaywhat/internal/model"
)

// ErrUnknownPlatform is returned for a platform without a configured app id.
var ErrUnknownPlatform = errors.New("appinfo: unknown platform")

const defaultLookupURL = "https://itunes.apple.com/lookup"

// VersionClient looks up the latest App Store version per platform.
type VersionClient struct {
	client    *http.Client
	lookupURL string
	country   string
	appIDs    map[string]string
}

// NewVersionClient creates a client for the given platform→track-id map.
// An empty lookupURL uses the public iTunes endpoint.
func NewVersionClient(httpClient *http.Client, lookupURL, country string, appIDs map[string]string) *VersionClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if lookupURL == "" {
		lookupURL = defaultLookupURL
	}
	ids := make(map[string]string, len(appIDs))
	for k, v := range appIDs {
		ids[strings.ToLower(k)] = v
	}
	return &VersionClient{client: httpClient, lookupURL: lookupURL, country: country, appIDs: ids}
}

type lookupResponse struct {
	ResultCount int `json:"resultCount"`
	Results     []struct {
		Version string `json:"version"`
	} `json:"results"`
}

// LatestVersion returns the store version of platform, or "" when the
// store has no result for the app.
func (c *VersionClient) LatestVersion(ctx context.Context, platform string) (string, error) {
	id, ok := c.appIDs[strings.ToLower(platform)]
	if !ok || id == "" {
		return "", fmt.Errorf("%w: %q", ErrUnknownPlatform, platform)
	}

	q := url.Values{}
	q.Set("id", id)
	if c.country != "" {
		q.Set("country", c.country)
	}

	var resp lookupResponse
	if err := getJSON(ctx, c.client, c.lookupURL+"?"+q.Encode(), &resp); err != nil {
		return "", err
	}
	if len(resp.Results) == 0 {
		return "", nil
	}
	return resp.Results[0].Version, nil
}

// NoticeClient reads the emergency notice document at a fixed URL. The
// document is a single notice object; 204, 404 or JSON null mean none.
type NoticeClient struct {
	client *http.Client
	url    string
}

func NewNoticeClient(httpClient *http.Client, noticeURL string) *NoticeClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &NoticeClient{client: httpClient, url: noticeURL}
}

// FetchNotice returns the current notice or nil.
func (c *NoticeClient) FetchNotice(ctx context.Context) (*model.Notice, error) {
	var n *model.Notice
	err := getJSON(ctx, c.client, c.url, &n)
	if errors.Is(err, errNoContent) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if n == nil || (n.Title == "" && n.Content == "") {
		return nil, nil
	}
	return n, nil
}

var errNoContent = errors.New("appinfo: no content")

func getJSON(ctx context.Context, client *http.Client, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusNotFound:
		return errNoContent
	case resp.StatusCode != http.StatusOK:
		appLog.Debug("appinfo request failed", "host", hostOf(rawURL), "status", resp.StatusCode)
		return fmt.Errorf("appinfo: %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return errNoContent
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("appinfo: decode: %w", err)
	}
	return nil
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Host
}
