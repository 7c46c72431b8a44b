package fetch

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewSetsUserAgent(t *testing.T) {
	t.Parallel()
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := New(time.Second)
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	_ = resp.Body.Close()
	if got != UserAgent {
		t.Fatalf("expected user agent %q, got %q", UserAgent, got)
	}
}

func TestNewDefaultTimeout(t *testing.T) {
	t.Parallel()
	if New(0).Timeout <= 0 {
		t.Fatalf("expected a positive default timeout")
	}
}
