package auth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeTokenFile(t *testing.T, tokens Tokens) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tokens.yaml")
	data, err := yaml.Marshal(tokens)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNewProviderMissingFile(t *testing.T) {
	t.Parallel()

	_, err := NewProvider(filepath.Join(t.TempDir(), "absent.yaml"), "http://unused", testLogger())
	if !errors.Is(err, ErrNoCredentials) {
		t.Errorf("NewProvider error = %v, want ErrNoCredentials", err)
	}
}

func TestConcurrentRefreshCoalesces(t *testing.T) {
	t.Parallel()

	var requests atomic.Int32
	release := make(chan struct{})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		<-release

		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode refresh body: %v", err)
		}
		if body["refresh"] != "refresh-0" {
			t.Errorf("refresh token = %q, want refresh-0", body["refresh"])
		}
		json.NewEncoder(w).Encode(Tokens{Access: "access-1", Refresh: "refresh-1"})
	}))
	defer server.Close()

	path := writeTokenFile(t, Tokens{Access: "access-0", Refresh: "refresh-0"})
	provider, err := NewProvider(path, server.URL, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	const workers = 8
	results := make([]string, workers)
	errs := make([]error, workers)
	var started, done sync.WaitGroup
	started.Add(workers)
	done.Add(workers)

	for i := 0; i < workers; i++ {
		go func(i int) {
			defer done.Done()
			started.Done()
			results[i], errs[i] = provider.Refresh(context.Background())
		}(i)
	}

	// Let every caller pile onto the in-flight request, then release it.
	started.Wait()
	time.Sleep(50 * time.Millisecond)
	close(release)
	done.Wait()

	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d: Refresh error = %v", i, errs[i])
		}
		if results[i] != "access-1" {
			t.Errorf("worker %d: token = %q, want access-1", i, results[i])
		}
	}
	if got := requests.Load(); got != 1 {
		t.Errorf("refresh requests = %d, want 1", got)
	}

	if got := provider.Access(); got != "access-1" {
		t.Errorf("Access() = %q, want access-1", got)
	}

	// The rotated pair must be persisted for the next run.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var saved Tokens
	if err := yaml.Unmarshal(data, &saved); err != nil {
		t.Fatal(err)
	}
	if saved.Access != "access-1" || saved.Refresh != "refresh-1" {
		t.Errorf("persisted tokens = %+v, want rotated pair", saved)
	}
}

func TestRefreshFailureSurfaces(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	path := writeTokenFile(t, Tokens{Access: "access-0", Refresh: "refresh-0"})
	provider, err := NewProvider(path, server.URL, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	if _, err := provider.Refresh(context.Background()); !errors.Is(err, ErrRefreshFailed) {
		t.Errorf("Refresh error = %v, want ErrRefreshFailed", err)
	}
	if got := provider.Access(); got != "access-0" {
		t.Errorf("Access() after failed refresh = %q, want unchanged access-0", got)
	}
}
