package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/jmerrifield20/dlts/internal/kv"
)

// ── HTTPProbe ────────────────────────────────────────────────────────────

func TestHTTPProbe_reachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	if err := HTTPProbe(srv.Client(), srv.URL)(context.Background()); err != nil {
		t.Errorf("expected 404 to count as reachable, got %v", err)
	}
}

func TestHTTPProbe_headFallsBackToGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := HTTPProbe(nil, srv.URL)(context.Background()); err != nil {
		t.Errorf("expected GET fallback to succeed, got %v", err)
	}
}

func TestHTTPProbe_serverError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if err := HTTPProbe(nil, srv.URL)(context.Background()); err == nil {
		t.Error("expected 503 to fail the probe")
	}
}

// ── CheckAll ─────────────────────────────────────────────────────────────

func TestCheckAll(t *testing.T) {
	c := New(time.Second, zap.NewNop())
	c.Add("storage", StoreProbe(kv.NewMemoryStore()))
	c.Add("authority", func(context.Context) error { return errors.New("dial tcp: refused") })

	var mu sync.Mutex
	recorded := map[string]bool{}
	c.SetMetricsRecord(func(name string, ok bool) {
		mu.Lock()
		recorded[name] = ok
		mu.Unlock()
	})

	results := c.CheckAll(context.Background())
	if len(results) != 2 {
		t.Fatalf("results: got %d, want 2", len(results))
	}
	if results[0].Name != "authority" || results[0].OK() {
		t.Errorf("authority: got %+v", results[0])
	}
	if results[1].Name != "storage" || !results[1].OK() {
		t.Errorf("storage: got %+v", results[1])
	}
	if recorded["authority"] || !recorded["storage"] {
		t.Errorf("metrics callback: got %v", recorded)
	}
}

func TestCheckAll_timeout(t *testing.T) {
	c := New(10*time.Millisecond, zap.NewNop())
	c.Add("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	results := c.CheckAll(context.Background())
	if !errors.Is(results[0].Err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", results[0].Err)
	}
}
