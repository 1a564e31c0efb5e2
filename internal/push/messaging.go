package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

var (
	// ErrUnsupported is returned by Init when no push relay is configured.
	ErrUnsupported = errors.New("push: messaging is not supported in this environment")

	// ErrNotInitialized is returned when Register or GetToken is called before Init.
	ErrNotInitialized = errors.New("push: messaging client not initialized")
)

// RelayConfig locates the push relay.
type RelayConfig struct {
	RelayURL  string
	ProjectID string

	// OAuth, when set, authorises every relay request with a client
	// credentials token.
	OAuth *OAuthConfig
}

// OAuthConfig holds client credentials for the push relay.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
}

// TokenConfig parameterises a GetToken call.
type TokenConfig struct {
	VAPIDKey       string
	RegistrationID string
}

// RelayError is returned when the relay answers with a non-2xx status.
type RelayError struct {
	StatusCode int
	Message    string
}

func (e *RelayError) Error() string {
	return fmt.Sprintf("push relay returned %d: %s", e.StatusCode, e.Message)
}

// Messaging is an explicitly initialised client for the push relay. The zero
// state is uninitialised; Init must succeed before Register or GetToken.
type Messaging struct {
	cfg  RelayConfig
	base *http.Client

	mu         sync.Mutex
	httpClient *http.Client
}

// MessagingOption configures a Messaging client.
type MessagingOption func(*Messaging)

// WithRelayHTTPClient replaces the HTTP client used for relay and token
// endpoint requests.
func WithRelayHTTPClient(hc *http.Client) MessagingOption {
	return func(m *Messaging) { m.base = hc }
}

// NewMessaging returns an uninitialised Messaging client.
func NewMessaging(cfg RelayConfig, opts ...MessagingOption) *Messaging {
	m := &Messaging{
		cfg:  cfg,
		base: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Init prepares the client. It is safe to call more than once.
func (m *Messaging) Init(_ context.Context) error {
	if strings.TrimSpace(m.cfg.RelayURL) == "" || strings.TrimSpace(m.cfg.ProjectID) == "" {
		return ErrUnsupported
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.httpClient != nil {
		return nil
	}

	if o := m.cfg.OAuth; o != nil && o.ClientID != "" {
		cc := clientcredentials.Config{
			ClientID:     o.ClientID,
			ClientSecret: o.ClientSecret,
			TokenURL:     o.TokenURL,
			Scopes:       o.Scopes,
		}
		// The token source outlives Init, so it must not inherit the caller's ctx.
		tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, m.base)
		hc := cc.Client(tokenCtx)
		hc.Timeout = m.base.Timeout
		m.httpClient = hc
		return nil
	}

	m.httpClient = m.base
	return nil
}

// Shutdown releases idle connections and returns the client to the
// uninitialised state.
func (m *Messaging) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.httpClient != nil {
		m.httpClient.CloseIdleConnections()
	}
	m.httpClient = nil
}

// Register announces the background delivery endpoint to the relay and
// returns the relay's registration ID.
func (m *Messaging) Register(ctx context.Context, endpoint string) (string, error) {
	var resp struct {
		RegistrationID string `json:"registrationId"`
	}
	if err := m.post(ctx, "registrations", map[string]string{"endpoint": endpoint}, &resp); err != nil {
		return "", fmt.Errorf("register delivery endpoint: %w", err)
	}
	if resp.RegistrationID == "" {
		return "", fmt.Errorf("register delivery endpoint: relay returned no registration id")
	}
	return resp.RegistrationID, nil
}

// GetToken fetches a device token bound to the given registration.
func (m *Messaging) GetToken(ctx context.Context, cfg TokenConfig) (Token, error) {
	body := map[string]string{
		"vapidKey":       cfg.VAPIDKey,
		"registrationId": cfg.RegistrationID,
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := m.post(ctx, "tokens", body, &resp); err != nil {
		return "", fmt.Errorf("get token: %w", err)
	}
	if resp.Token == "" {
		return "", fmt.Errorf("get token: relay returned an empty token")
	}
	return Token(resp.Token), nil
}

func (m *Messaging) post(ctx context.Context, resource string, in, out any) error {
	m.mu.Lock()
	hc := m.httpClient
	m.mu.Unlock()
	if hc == nil {
		return ErrNotInitialized
	}

	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/projects/%s/%s",
		strings.TrimRight(m.cfg.RelayURL, "/"), url.PathEscape(m.cfg.ProjectID), resource)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		msg := http.StatusText(resp.StatusCode)
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &RelayError{StatusCode: resp.StatusCode, Message: msg}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
