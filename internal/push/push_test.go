package push_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"

	"github.com/jmerrifield20/dlts/internal/kv"
	"github.com/jmerrifield20/dlts/internal/push"
)

// ── Test doubles ─────────────────────────────────────────────────────────────

type countingPrompter struct {
	answer push.Permission
	calls  int32
}

func (p *countingPrompter) RequestPermission(context.Context) (push.Permission, error) {
	atomic.AddInt32(&p.calls, 1)
	return p.answer, nil
}

// stubRelay serves the registration and token endpoints for project "dlts".
// When bearer is non-empty every relay call must carry it.
func stubRelay(t *testing.T, bearer string) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"` + bearer + `","token_type":"bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/v1/projects/dlts/registrations", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if bearer != "" && r.Header.Get("Authorization") != "Bearer "+bearer {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		var body struct {
			Endpoint string `json:"endpoint"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Endpoint == "" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"endpoint required"}`))
			return
		}
		_, _ = w.Write([]byte(`{"registrationId":"reg-1"}`))
	})
	mux.HandleFunc("/v1/projects/dlts/tokens", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if bearer != "" && r.Header.Get("Authorization") != "Bearer "+bearer {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		var body struct {
			VAPIDKey       string `json:"vapidKey"`
			RegistrationID string `json:"registrationId"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.RegistrationID != "reg-1" || body.VAPIDKey != "vapid" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"bad token request"}`))
			return
		}
		_, _ = w.Write([]byte(`{"token":"device-token"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &calls
}

func newProvider(store kv.Store, relayURL string, prompter push.PermissionPrompter) *push.Provider {
	m := push.NewMessaging(push.RelayConfig{RelayURL: relayURL, ProjectID: "dlts"})
	return push.NewProvider(store, m, prompter, push.ProviderConfig{
		VAPIDKey: "vapid",
		Endpoint: "http://localhost:8090/push",
	}, zap.NewNop())
}

// ── Provider ─────────────────────────────────────────────────────────────────

func TestAcquireToken_cachedTokenSkipsPrompt(t *testing.T) {
	store := kv.NewMemoryStore()
	_ = store.Set(context.Background(), push.TokenKey, "cached")
	prompter := &countingPrompter{answer: push.PermissionGranted}
	srv, relayCalls := stubRelay(t, "")

	p := newProvider(store, srv.URL, prompter)
	token, ok := p.AcquireToken(context.Background())
	if !ok || token != "cached" {
		t.Fatalf("AcquireToken: got (%q, %v), want (cached, true)", token, ok)
	}
	if prompter.calls != 0 {
		t.Errorf("prompter called %d times, want 0", prompter.calls)
	}
	if atomic.LoadInt32(relayCalls) != 0 {
		t.Errorf("relay called %d times, want 0", *relayCalls)
	}
}

func TestAcquireToken_fetchesAndCaches(t *testing.T) {
	store := kv.NewMemoryStore()
	prompter := &countingPrompter{answer: push.PermissionGranted}
	srv, _ := stubRelay(t, "")

	p := newProvider(store, srv.URL, prompter)
	token, ok := p.AcquireToken(context.Background())
	if !ok || token != "device-token" {
		t.Fatalf("AcquireToken: got (%q, %v)", token, ok)
	}

	cached, err := store.Get(context.Background(), push.TokenKey)
	if err != nil || cached != "device-token" {
		t.Errorf("cached token: got (%q, %v)", cached, err)
	}
	reg := p.Registration()
	if reg.Permission != push.PermissionGranted || reg.Token != "device-token" {
		t.Errorf("Registration: got %+v", reg)
	}
}

func TestAcquireToken_denialRemembered(t *testing.T) {
	store := kv.NewMemoryStore()
	prompter := &countingPrompter{answer: push.PermissionDenied}
	srv, relayCalls := stubRelay(t, "")

	p := newProvider(store, srv.URL, prompter)
	for i := 0; i < 3; i++ {
		if token, ok := p.AcquireToken(context.Background()); ok || token != "" {
			t.Fatalf("attempt %d: got (%q, %v), want no token", i, token, ok)
		}
	}
	if prompter.calls != 1 {
		t.Errorf("prompter called %d times, want 1", prompter.calls)
	}
	if atomic.LoadInt32(relayCalls) != 0 {
		t.Errorf("relay called after denial")
	}
}

func TestAcquireToken_unsupported(t *testing.T) {
	prompter := &countingPrompter{answer: push.PermissionGranted}
	p := newProvider(kv.NewMemoryStore(), "", prompter)

	if _, ok := p.AcquireToken(context.Background()); ok {
		t.Fatal("expected no token without a relay")
	}
	if prompter.calls != 0 {
		t.Errorf("prompter should not be asked when push is unsupported")
	}
}

func TestAcquireToken_relayFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	store := kv.NewMemoryStore()
	p := newProvider(store, srv.URL, push.StaticPrompter{Answer: push.PermissionGranted})
	if token, ok := p.AcquireToken(context.Background()); ok || token != "" {
		t.Fatalf("got (%q, %v), want no token", token, ok)
	}
	if store.Len() != 0 {
		t.Error("nothing should be cached after a relay failure")
	}
}

func TestAcquireToken_nilMessaging(t *testing.T) {
	p := push.NewProvider(kv.NewMemoryStore(), nil, nil, push.ProviderConfig{}, nil)
	if _, ok := p.AcquireToken(context.Background()); ok {
		t.Fatal("expected no token")
	}
}

func TestInvalidate(t *testing.T) {
	store := kv.NewMemoryStore()
	_ = store.Set(context.Background(), push.TokenKey, "stale")
	p := newProvider(store, "", nil)

	if err := p.Invalidate(context.Background()); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if _, err := store.Get(context.Background(), push.TokenKey); !errors.Is(err, kv.ErrNotFound) {
		t.Errorf("token still cached: %v", err)
	}
}

// ── Messaging ────────────────────────────────────────────────────────────────

func TestMessaging_notInitialized(t *testing.T) {
	srv, _ := stubRelay(t, "")
	m := push.NewMessaging(push.RelayConfig{RelayURL: srv.URL, ProjectID: "dlts"})

	if _, err := m.Register(context.Background(), "http://x/push"); !errors.Is(err, push.ErrNotInitialized) {
		t.Errorf("Register before Init: got %v, want ErrNotInitialized", err)
	}
}

func TestMessaging_shutdownThenInit(t *testing.T) {
	srv, _ := stubRelay(t, "")
	m := push.NewMessaging(push.RelayConfig{RelayURL: srv.URL, ProjectID: "dlts"})
	ctx := context.Background()

	if err := m.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	m.Shutdown()
	if _, err := m.Register(ctx, "http://x/push"); !errors.Is(err, push.ErrNotInitialized) {
		t.Errorf("Register after Shutdown: got %v", err)
	}
	if err := m.Init(ctx); err != nil {
		t.Fatalf("re-Init: %v", err)
	}
	if id, err := m.Register(ctx, "http://x/push"); err != nil || id != "reg-1" {
		t.Errorf("Register: got (%q, %v)", id, err)
	}
}

func TestMessaging_relayError(t *testing.T) {
	srv, _ := stubRelay(t, "")
	m := push.NewMessaging(push.RelayConfig{RelayURL: srv.URL, ProjectID: "dlts"})
	_ = m.Init(context.Background())

	_, err := m.Register(context.Background(), "")
	var relayErr *push.RelayError
	if !errors.As(err, &relayErr) {
		t.Fatalf("expected *RelayError, got %T: %v", err, err)
	}
	if relayErr.StatusCode != http.StatusBadRequest || relayErr.Message != "endpoint required" {
		t.Errorf("RelayError: got %+v", relayErr)
	}
}

func TestMessaging_oauthClientCredentials(t *testing.T) {
	srv, _ := stubRelay(t, "relay-access")
	m := push.NewMessaging(push.RelayConfig{
		RelayURL:  srv.URL,
		ProjectID: "dlts",
		OAuth: &push.OAuthConfig{
			ClientID:     "dlts-cli",
			ClientSecret: "secret",
			TokenURL:     srv.URL + "/oauth/token",
		},
	})
	ctx := context.Background()
	if err := m.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}

	id, err := m.Register(ctx, "http://x/push")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	token, err := m.GetToken(ctx, push.TokenConfig{VAPIDKey: "vapid", RegistrationID: id})
	if err != nil || token != "device-token" {
		t.Errorf("GetToken: got (%q, %v)", token, err)
	}
}

// ── Prompters ────────────────────────────────────────────────────────────────

func TestTerminalPrompter(t *testing.T) {
	cases := []struct {
		input string
		want  push.Permission
	}{
		{input: "\n", want: push.PermissionGranted},
		{input: "y\n", want: push.PermissionGranted},
		{input: "YES\n", want: push.PermissionGranted},
		{input: "n\n", want: push.PermissionDenied},
		{input: "no", want: push.PermissionDenied},
		{input: "", want: push.PermissionDefault},
	}

	for _, tc := range cases {
		var out strings.Builder
		p := push.TerminalPrompter{In: strings.NewReader(tc.input), Out: &out}
		got, err := p.RequestPermission(context.Background())
		if err != nil {
			t.Fatalf("input %q: %v", tc.input, err)
		}
		if got != tc.want {
			t.Errorf("input %q: got %q, want %q", tc.input, got, tc.want)
		}
		if !strings.Contains(out.String(), "[Y/n]") {
			t.Errorf("prompt not written: %q", out.String())
		}
	}
}
