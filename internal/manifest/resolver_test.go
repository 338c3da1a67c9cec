package manifest

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"bricklayer/pkg/httpx"
)

func testClient() *httpx.Client {
	return httpx.NewClient(2*time.Second, httpx.WithRetryPolicy(2, time.Millisecond, 5*time.Millisecond))
}

func TestIndexResolverResolve(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/requests/requests-2.32.0.tar.gz":
			_, _ = io.WriteString(w, "archive-requests")
		case "/urllib3/urllib3-latest.tar.gz":
			_, _ = io.WriteString(w, "archive-urllib3")
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	resolver, err := NewIndexResolver(server.URL, testClient())
	if err != nil {
		t.Fatalf("NewIndexResolver failed: %v", err)
	}

	files, err := resolver.Resolve(context.Background(), []Requirement{
		{Name: "requests", Version: "2.32.0"},
		{Name: "urllib3"},
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if got := string(files["opt/bricklayer/deps/requests-2.32.0.tar.gz"].Data); got != "archive-requests" {
		t.Errorf("requests archive = %q", got)
	}
	if got := string(files["opt/bricklayer/deps/urllib3-latest.tar.gz"].Data); got != "archive-urllib3" {
		t.Errorf("urllib3 archive = %q", got)
	}
}

func TestIndexResolverUnresolvablePackage(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	resolver, err := NewIndexResolver(server.URL, testClient())
	if err != nil {
		t.Fatalf("NewIndexResolver failed: %v", err)
	}

	_, err = resolver.Resolve(context.Background(), []Requirement{{Name: "ghost", Version: "1.0"}})
	if !errors.Is(err, ErrUnresolvable) {
		t.Fatalf("Resolve error = %v, want ErrUnresolvable", err)
	}
}

func TestIndexResolverRetriesTransientFailures(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, "archive")
	}))
	defer server.Close()

	resolver, err := NewIndexResolver(server.URL, testClient())
	if err != nil {
		t.Fatalf("NewIndexResolver failed: %v", err)
	}

	files, err := resolver.Resolve(context.Background(), []Requirement{{Name: "flaky", Version: "1.0"}})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(files) != 1 {
		t.Errorf("resolved %d files, want 1", len(files))
	}
	if calls != 2 {
		t.Errorf("index saw %d calls, want 2", calls)
	}
}

func TestNewIndexResolverRejectsBadURL(t *testing.T) {
	if _, err := NewIndexResolver("not-a-url", testClient()); err == nil {
		t.Fatal("expected error for invalid index URL")
	}
}
