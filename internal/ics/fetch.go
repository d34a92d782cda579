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
	"strings"
	"time"

	appLog "remindcal/internal/log"
	"remindcal/internal/model"
)

const (
	defaultFetchTimeout = 15 * time.Second
	// maxFeedBytes caps a single subscription download.
	maxFeedBytes = 16 << 20
)

// FetchResult is the outcome of downloading one subscription feed.
type FetchResult struct {
	Subscription model.Subscription
	Body         []byte
	// FromCache is true when Body came from disk (304, network error or
	// non-OK status with a previous copy available).
	FromCache bool
}

// cacheMeta holds HTTP validators for one feed URL.
type cacheMeta struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Fetcher downloads subscription feeds with conditional requests and keeps
// the last good body on disk so a flaky feed does not wipe its events.
type Fetcher struct {
	client   *http.Client
	cacheDir string
	maxBytes int64
}

// NewFetcher creates a Fetcher caching under cacheDir. A nil client gets a
// default one with a 15s timeout.
func NewFetcher(cacheDir string, client *http.Client) *Fetcher {
	if cacheDir == "" {
		cacheDir = "./var/ics-cache"
	}
	if client == nil {
		client = &http.Client{Timeout: defaultFetchTimeout}
	}
	return &Fetcher{client: client, cacheDir: cacheDir, maxBytes: maxFeedBytes}
}

// Fetch downloads a single subscription, honoring ETag and Last-Modified.
func (f *Fetcher) Fetch(ctx context.Context, sub model.Subscription) (FetchResult, error) {
	if sub.URL == "" {
		return FetchResult{}, errors.New("subscription URL is empty")
	}

	dir := f.cacheDirFor(sub.URL)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return FetchResult{}, fmt.Errorf("create cache dir: %w", err)
	}

	meta, _ := loadMeta(dir)
	cached, _ := os.ReadFile(filepath.Join(dir, "body.ics"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, httpURL(sub.URL), nil)
	if err != nil {
		return FetchResult{}, err
	}
	req.Header.Set("Accept", "text/calendar, */*;q=0.5")
	if meta.ETag != "" {
		req.Header.Set("If-None-Match", meta.ETag)
	}
	if meta.LastModified != "" {
		req.Header.Set("If-Modified-Since", meta.LastModified)
	}

	appLog.Info("subscription fetch start", "id", sub.ID, "url", redactURL(sub.URL))

	fromCache := func(reason error) (FetchResult, error) {
		if len(cached) == 0 {
			return FetchResult{}, reason
		}
		appLog.Error("subscription fetch failed, using cached body", reason, "id", sub.ID, "url", redactURL(sub.URL))
		return FetchResult{Subscription: sub, Body: cached, FromCache: true}, nil
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fromCache(err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
		if err != nil {
			return fromCache(err)
		}
		if int64(len(body)) > f.maxBytes {
			return fromCache(fmt.Errorf("feed exceeds %d bytes", f.maxBytes))
		}
		next := cacheMeta{
			URL:          sub.URL,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		}
		if err := saveCache(dir, next, body); err != nil {
			appLog.Error("subscription cache save failed", err, "id", sub.ID, "url", redactURL(sub.URL))
		}
		appLog.Info("subscription fetch success", "id", sub.ID, "url", redactURL(sub.URL), "bytes", len(body))
		return FetchResult{Subscription: sub, Body: body}, nil

	case http.StatusNotModified:
		if len(cached) == 0 {
			return FetchResult{}, errors.New("received 304 Not Modified but no cached body available")
		}
		appLog.Info("subscription not modified; using cache", "id", sub.ID, "url", redactURL(sub.URL))
		return FetchResult{Subscription: sub, Body: cached, FromCache: true}, nil

	default:
		return fromCache(fmt.Errorf("unexpected status %s", resp.Status))
	}
}

// httpURL maps the webcal:// scheme calendar apps hand out to https://.
func httpURL(raw string) string {
	if len(raw) >= len("webcal://") && strings.EqualFold(raw[:len("webcal://")], "webcal://") {
		return "https://" + raw[len("webcal://"):]
	}
	return raw
}

func (f *Fetcher) cacheDirFor(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func loadMeta(dir string) (cacheMeta, error) {
	var meta cacheMeta
	data, err := os.ReadFile(filepath.Join(dir, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheMeta{}, err
	}
	return meta, nil
}

func saveCache(dir string, meta cacheMeta, body []byte) error {
	// Body first so meta never points at a missing body.
	if err := os.WriteFile(filepath.Join(dir, "body.ics"), body, 0o600); err != nil {
		return err
	}
	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "meta.json"), data, 0o600)
}

// redactURL keeps scheme and host only; feed URLs often embed tokens.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "ics://...(redacted)"
	}
	return u.Scheme + "://" + u.Host + "/...(redacted)"
}
