package changelog

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func response(code int, body string, header http.Header) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{
		StatusCode: code,
		Status:     http.StatusText(code),
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

type clock struct {
	now time.Time
}

func (c *clock) Now() time.Time { return c.now }

func newService(t *testing.T, rt roundTripFunc, c *clock) *Service {
	t.Helper()
	svc := New(Options{
		Dir:         t.TempDir(),
		Client:      &http.Client{Transport: rt},
		Timeout:     time.Second,
		LockTimeout: time.Second,
		Now:         c.Now,
	})
	t.Cleanup(func() {
		_ = svc.Close()
	})
	return svc
}

func TestFetchSuccessIsCached(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	c := &clock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	svc := newService(t, func(*http.Request) (*http.Response, error) {
		calls.Add(1)
		return response(http.StatusOK, "## 1.1.0\n- fixes", nil), nil
	}, c)

	first := svc.Fetch(context.Background(), "demo", "https://example.invalid/CHANGELOG.md")
	if first.Status != StatusSuccess || !strings.Contains(first.Content, "fixes") {
		t.Fatalf("unexpected first result: %+v", first)
	}

	c.now = c.now.Add(time.Hour)
	second := svc.Fetch(context.Background(), "demo", "https://example.invalid/CHANGELOG.md")
	if second.Status != StatusCached || second.Content != first.Content {
		t.Fatalf("expected cached result, got %+v", second)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected one request, got %d", calls.Load())
	}
}

func TestFetchRevalidatesAfterTTL(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	c := &clock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	svc := newService(t, func(req *http.Request) (*http.Response, error) {
		if calls.Add(1) == 1 {
			return response(http.StatusOK, "v1 notes", http.Header{"Etag": []string{`"abc"`}}), nil
		}
		if req.Header.Get("If-None-Match") != `"abc"` {
			t.Errorf("expected If-None-Match header, got %q", req.Header.Get("If-None-Match"))
		}
		return response(http.StatusNotModified, "", nil), nil
	}, c)

	svc.Fetch(context.Background(), "demo", "https://example.invalid/c")
	c.now = c.now.Add(25 * time.Hour)
	res := svc.Fetch(context.Background(), "demo", "https://example.invalid/c")
	if res.Status != StatusCached || res.Content != "v1 notes" {
		t.Fatalf("expected revalidated cache hit, got %+v", res)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected two requests, got %d", calls.Load())
	}
}

func TestFetchDegrades(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		rt   roundTripFunc
		want Status
	}{
		{
			name: "not found",
			rt: func(*http.Request) (*http.Response, error) {
				return response(http.StatusNotFound, "", nil), nil
			},
			want: StatusNotFound,
		},
		{
			name: "server error",
			rt: func(*http.Request) (*http.Response, error) {
				return response(http.StatusBadGateway, "", nil), nil
			},
			want: StatusServerError,
		},
		{
			name: "network error",
			rt: func(*http.Request) (*http.Response, error) {
				return nil, errors.New("connection refused")
			},
			want: StatusNetworkError,
		},
		{
			name: "timeout",
			rt: func(req *http.Request) (*http.Response, error) {
				<-req.Context().Done()
				return nil, req.Context().Err()
			},
			want: StatusTimeout,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			svc := New(Options{
				Dir:     t.TempDir(),
				Client:  &http.Client{Transport: tc.rt},
				Timeout: 100 * time.Millisecond,
			})
			defer func() {
				_ = svc.Close()
			}()
			res := svc.Fetch(context.Background(), "demo", "https://example.invalid/c")
			if res.Status != tc.want {
				t.Fatalf("expected %s, got %+v", tc.want, res)
			}
			if res.Status.OK() || res.Content != "" || res.DisplayMessage == "" {
				t.Fatalf("degraded result should carry only a message: %+v", res)
			}
		})
	}
}

func TestFetchWithoutURL(t *testing.T) {
	t.Parallel()
	svc := New(Options{})
	res := svc.Fetch(context.Background(), "demo", "")
	if res.Status != StatusUnavailable {
		t.Fatalf("expected UNAVAILABLE, got %s", res.Status)
	}
}

func TestPurge(t *testing.T) {
	t.Parallel()
	c := &clock{now: time.Now()}
	svc := newService(t, func(*http.Request) (*http.Response, error) {
		return response(http.StatusOK, "notes", nil), nil
	}, c)
	svc.Fetch(context.Background(), "a", "https://example.invalid/a")
	svc.Fetch(context.Background(), "b", "https://example.invalid/b")
	n, err := svc.Purge()
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 purged entries, got %d", n)
	}
}
