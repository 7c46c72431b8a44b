// Package changelog fetches plugin changelogs with a short timeout and a bbolt-backed success cache.
// Failures never propagate as errors: they come back as a degraded Result the caller can show.
package changelog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/greeddj/go-plugctl/internal/plugctl/fetch"
	"github.com/greeddj/go-plugctl/internal/plugctl/helpers"
	"github.com/greeddj/go-plugctl/internal/plugctl/output"
)

// Status classifies a changelog fetch.
type Status string

const (
	// StatusSuccess means the changelog was downloaded.
	StatusSuccess Status = "SUCCESS"
	// StatusCached means the changelog came from the local cache.
	StatusCached Status = "CACHED"
	// StatusNotFound means the server answered 404.
	StatusNotFound Status = "NOT_FOUND"
	// StatusServerError means the server answered with any other non-200 status.
	StatusServerError Status = "SERVER_ERROR"
	// StatusNetworkError means the request could not be completed.
	StatusNetworkError Status = "NETWORK_ERROR"
	// StatusTimeout means the request ran past its deadline.
	StatusTimeout Status = "TIMEOUT"
	// StatusUnavailable means the plugin declares no changelog url.
	StatusUnavailable Status = "UNAVAILABLE"
)

// OK reports whether the result carries content.
func (s Status) OK() bool {
	return s == StatusSuccess || s == StatusCached
}

// Result is what Fetch returns.
type Result struct {
	Status         Status    `json:"status"`
	Content        string    `json:"content,omitempty"`
	DisplayMessage string    `json:"displayMessage"`
	FetchedAt      time.Time `json:"fetchedAt,omitzero"`
}

// HTTPStatusError describes a non-200 HTTP response.
type HTTPStatusError struct {
	URL    string
	Status string
	Code   int
}

// Error implements the error interface.
func (e *HTTPStatusError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("failed to fetch changelog: %s (%s)", e.Status, e.URL)
	}
	return "failed to fetch changelog: " + e.Status
}

// Options configures a Service.
type Options struct {
	// Dir holds the cache database. Empty disables caching.
	Dir     string
	Client  *http.Client
	Timeout time.Duration
	TTL     time.Duration
	// LockTimeout bounds waiting for another process holding the cache file.
	LockTimeout time.Duration
	Now         func() time.Time
	Output      output.Printer
}

// Service fetches changelogs.
type Service struct {
	client  *http.Client
	timeout time.Duration
	ttl     time.Duration
	now     func() time.Time
	out     output.Printer
	cache   *store
}

// New creates a Service.
func New(opts Options) *Service {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = helpers.ChangelogDefaultTimeout
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = helpers.ChangelogCacheTTL
	}
	client := opts.Client
	if client == nil {
		client = fetch.New(timeout)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	lockTimeout := opts.LockTimeout
	if lockTimeout <= 0 {
		lockTimeout = helpers.LockDefaultTimeout
	}
	s := &Service{
		client:  client,
		timeout: timeout,
		ttl:     ttl,
		now:     now,
		out:     output.OrDiscard(opts.Output),
	}
	if opts.Dir != "" {
		s.cache = newStore(opts.Dir, lockTimeout)
	}
	return s
}

// Close releases the cache database.
func (s *Service) Close() error {
	if s == nil || s.cache == nil {
		return nil
	}
	return s.cache.close()
}

// Purge drops every cached changelog and returns how many were removed.
func (s *Service) Purge() (int, error) {
	if s.cache == nil {
		return 0, nil
	}
	return s.cache.purge()
}

// Fetch returns the changelog for pluginID at url.
func (s *Service) Fetch(ctx context.Context, pluginID, url string) Result {
	if url == "" {
		return Result{
			Status:         StatusUnavailable,
			DisplayMessage: fmt.Sprintf("%s: %s", pluginID, helpers.ErrChangelogURLEmpty),
		}
	}

	cached, haveCached := s.lookup(pluginID, url)
	if haveCached && s.now().Sub(cached.FetchedAt) < s.ttl {
		return cachedResult(pluginID, cached)
	}

	var validators *Entry
	if haveCached {
		validators = &cached
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	body, etag, lastModified, notModified, err := s.download(ctx, url, validators)
	if err != nil {
		s.out.Debugf("changelog %s: %v", pluginID, err)
		return degraded(pluginID, err)
	}
	if notModified && haveCached {
		cached.FetchedAt = s.now().UTC()
		if etag != "" {
			cached.ETag = etag
		}
		if lastModified != "" {
			cached.LastModified = lastModified
		}
		s.save(cached)
		return cachedResult(pluginID, cached)
	}

	entry := Entry{
		PluginID:     pluginID,
		URL:          url,
		ETag:         etag,
		LastModified: lastModified,
		FetchedAt:    s.now().UTC(),
		Body:         body,
	}
	s.save(entry)
	return Result{
		Status:         StatusSuccess,
		Content:        string(body),
		DisplayMessage: "changelog for " + pluginID,
		FetchedAt:      entry.FetchedAt,
	}
}

func (s *Service) lookup(pluginID, url string) (Entry, bool) {
	if s.cache == nil {
		return Entry{}, false
	}
	entry, ok, err := s.cache.get(pluginID, url)
	if err != nil {
		s.out.Debugf("changelog cache read: %v", err)
		return Entry{}, false
	}
	return entry, ok
}

func (s *Service) save(entry Entry) {
	if s.cache == nil {
		return
	}
	if err := s.cache.put(entry); err != nil {
		s.out.Debugf("changelog cache write: %v", err)
	}
}

// download fetches the body and validation headers for url.
func (s *Service) download(ctx context.Context, url string, entry *Entry) ([]byte, string, string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, "", "", false, err
	}
	if entry != nil {
		if entry.ETag != "" {
			req.Header.Set("If-None-Match", entry.ETag)
		}
		if entry.LastModified != "" {
			req.Header.Set("If-Modified-Since", entry.LastModified)
		}
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, "", "", false, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusNotModified {
		return nil, resp.Header.Get("ETag"), resp.Header.Get("Last-Modified"), true, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", "", false, &HTTPStatusError{URL: url, Status: resp.Status, Code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, helpers.ChangelogMaxBytes))
	return body, resp.Header.Get("ETag"), resp.Header.Get("Last-Modified"), false, err
}

func cachedResult(pluginID string, entry Entry) Result {
	return Result{
		Status:         StatusCached,
		Content:        string(entry.Body),
		DisplayMessage: "changelog for " + pluginID + " (cached)",
		FetchedAt:      entry.FetchedAt,
	}
}

// degraded maps a fetch error onto a non-fatal Result.
func degraded(pluginID string, err error) Result {
	var statusErr *HTTPStatusError
	var netErr net.Error
	switch {
	case errors.As(err, &statusErr) && statusErr.Code == http.StatusNotFound:
		return Result{Status: StatusNotFound, DisplayMessage: "no changelog published for " + pluginID}
	case errors.As(err, &statusErr):
		return Result{Status: StatusServerError, DisplayMessage: fmt.Sprintf("changelog for %s unavailable: %s", pluginID, statusErr.Status)}
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return Result{Status: StatusTimeout, DisplayMessage: "changelog for " + pluginID + " timed out"}
	default:
		return Result{Status: StatusNetworkError, DisplayMessage: fmt.Sprintf("changelog for %s unavailable: %v", pluginID, err)}
	}
}
