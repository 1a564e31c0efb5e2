package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jmerrifield20/dlts/pkg/dssn"
)

// DefaultBaseURL is the production government services authority.
const DefaultBaseURL = "https://libpayapp.liberianpost.com:8081"

// DefaultOrigin identifies this client in the audit trail when no origin is
// configured with WithOrigin.
const DefaultOrigin = "dlts-cli"

// Status is the authority-reported state of a challenge.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
	StatusExpired  Status = "expired"
)

// Terminal reports whether s can no longer change.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusDenied || s == StatusExpired
}

// Known reports whether s is one of the statuses the authority documents.
func (s Status) Known() bool {
	return s == StatusPending || s.Terminal()
}

// OpenChallengeRequest is the input to OpenChallenge.
type OpenChallengeRequest struct {
	// DSSN is the citizen identifier; it must not be empty.
	DSSN string

	// Service is the human-readable service the citizen is logging in to.
	Service string

	// Descriptor describes the access being requested. It is echoed to the
	// citizen's mobile app. Defaults to Service.
	Descriptor string

	// PushToken is the optional push delivery token for this device. Empty
	// means the authority cannot push and the citizen must open the app.
	PushToken string
}

// PushOutcome reports whether the authority dispatched a push notification
// for a new challenge. It is advisory only.
type PushOutcome struct {
	Sent     bool   `json:"sent"`
	HasToken bool   `json:"hasToken"`
	Error    string `json:"error,omitempty"`
}

// ChallengeHandle identifies an open challenge.
type ChallengeHandle struct {
	ChallengeID      string
	DSSN             string
	Service          string
	CreatedAt        time.Time
	PushNotification *PushOutcome
}

// StatusResult is a single observation of a challenge's status.
type StatusResult struct {
	ChallengeID string
	Status      Status
	GovToken    string
	Profile     map[string]any
}

// Client talks to the government services authority.
type Client struct {
	baseURL    string
	httpClient *http.Client
	origin     string
	userAgent  string
	now        func() time.Time
	cache      *statusCache
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client, overriding any TLS or timeout options.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithTimeout sets the per-request timeout. Zero keeps the default of 10s.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d > 0 {
			c.httpClient.Timeout = d
		}
		return nil
	}
}

// WithInsecureSkipVerify disables TLS certificate verification.
// Only use this in development against a locally hosted authority.
func WithInsecureSkipVerify() Option {
	return func(c *Client) error {
		c.httpClient = &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
			},
			Timeout: c.httpClient.Timeout,
		}
		return nil
	}
}

// WithOrigin sets the origin reported in requestData for audit.
func WithOrigin(origin string) Option {
	return func(c *Client) error {
		if origin != "" {
			c.origin = origin
		}
		return nil
	}
}

// WithUserAgent sets the User-Agent header on every request.
func WithUserAgent(ua string) Option {
	return func(c *Client) error {
		c.userAgent = ua
		return nil
	}
}

// WithNow overrides the clock used for request timestamps.
func WithNow(now func() time.Time) Option {
	return func(c *Client) error {
		c.now = now
		return nil
	}
}

// WithStatusCache remembers terminal status results for ttl so a resolved
// challenge is never queried over the network again.
func WithStatusCache(ttl time.Duration) Option {
	return func(c *Client) error {
		c.cache = newStatusCache(ttl)
		return nil
	}
}

// New creates a Client for the authority at baseURL.
//
//	c, err := client.New(client.DefaultBaseURL,
//	    client.WithOrigin("https://transport.example.gov"),
//	    client.WithStatusCache(10*time.Minute),
//	)
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		origin:     DefaultOrigin,
		now:        time.Now,
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(baseURL string, opts ...Option) *Client {
	c, err := New(baseURL, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// BaseURL returns the authority origin the client is bound to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

type requestData struct {
	Timestamp string `json:"timestamp"`
	Service   string `json:"service"`
	Origin    string `json:"origin"`
}

type openChallengeBody struct {
	DSSN        string      `json:"dssn"`
	Service     string      `json:"service"`
	FCMToken    *string     `json:"fcmToken"`
	RequestData requestData `json:"requestData"`
}

type openChallengeResponse struct {
	Success          bool         `json:"success"`
	ChallengeID      string       `json:"challengeId"`
	PushNotification *PushOutcome `json:"pushNotification,omitempty"`
	Error            string       `json:"error,omitempty"`
	Message          string       `json:"message,omitempty"`
}

type statusResponse struct {
	Success  bool           `json:"success"`
	Status   Status         `json:"status"`
	GovToken string         `json:"govToken,omitempty"`
	Profile  map[string]any `json:"profile,omitempty"`
	Error    string         `json:"error,omitempty"`
	Message  string         `json:"message,omitempty"`
}

// OpenChallenge asks the authority to open an out-of-band approval challenge
// for req.DSSN. Exactly one request is sent. Any failure is returned as a
// *ChallengeRequestError; an empty DSSN is rejected with a
// *dssn.ValidationError before anything is sent.
func (c *Client) OpenChallenge(ctx context.Context, req OpenChallengeRequest) (*ChallengeHandle, error) {
	if strings.TrimSpace(req.DSSN) == "" {
		return nil, &dssn.ValidationError{Input: req.DSSN, Reason: dssn.ReasonEmpty}
	}

	descriptor := req.Descriptor
	if descriptor == "" {
		descriptor = req.Service
	}
	now := c.now().UTC()

	body := openChallengeBody{
		DSSN:    req.DSSN,
		Service: req.Service,
		RequestData: requestData{
			Timestamp: now.Format(time.RFC3339Nano),
			Service:   descriptor,
			Origin:    c.origin,
		},
	}
	if req.PushToken != "" {
		token := req.PushToken
		body.FCMToken = &token
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &ChallengeRequestError{Message: defaultRequestMessage, Err: fmt.Errorf("marshal request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/gov-services/request", bytes.NewReader(payload))
	if err != nil {
		return nil, &ChallengeRequestError{Message: defaultRequestMessage, Err: fmt.Errorf("build request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	status, respBody, err := c.doStatusBody(httpReq)
	if err != nil {
		return nil, &ChallengeRequestError{Message: defaultRequestMessage, Err: err}
	}
	if status >= 300 {
		return nil, &ChallengeRequestError{
			StatusCode: status,
			Message:    authorityMessage(respBody, fmt.Sprintf("Server returned %d", status)),
		}
	}

	var resp openChallengeResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, &ChallengeRequestError{
			StatusCode: status,
			Message:    defaultRequestMessage,
			Err:        fmt.Errorf("decode challenge response: %w", err),
		}
	}
	if !resp.Success {
		return nil, &ChallengeRequestError{
			StatusCode: status,
			Message:    firstNonEmpty(resp.Error, resp.Message, "Failed to initiate challenge"),
		}
	}
	if resp.ChallengeID == "" {
		return nil, &ChallengeRequestError{StatusCode: status, Message: "authority returned no challenge id"}
	}

	return &ChallengeHandle{
		ChallengeID:      resp.ChallengeID,
		DSSN:             req.DSSN,
		Service:          req.Service,
		CreatedAt:        now,
		PushNotification: resp.PushNotification,
	}, nil
}

// ChallengeStatus fetches the current status of a challenge. Failures are
// returned as a *StatusError.
func (c *Client) ChallengeStatus(ctx context.Context, challengeID string) (*StatusResult, error) {
	if challengeID == "" {
		return nil, &StatusError{Message: "challenge id must not be empty"}
	}

	if c.cache != nil {
		if result, ok := c.cache.get(challengeID); ok {
			return result, nil
		}
	}

	endpoint := c.baseURL + "/gov-services/status/" + url.PathEscape(challengeID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &StatusError{ChallengeID: challengeID, Message: defaultStatusMessage, Err: fmt.Errorf("build request: %w", err)}
	}
	httpReq.Header.Set("Accept", "application/json")

	status, respBody, err := c.doStatusBody(httpReq)
	if err != nil {
		return nil, &StatusError{ChallengeID: challengeID, Message: defaultStatusMessage, Err: err}
	}
	if status >= 300 {
		return nil, &StatusError{
			ChallengeID: challengeID,
			StatusCode:  status,
			Message:     authorityMessage(respBody, fmt.Sprintf("Server returned %d", status)),
		}
	}

	var resp statusResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, &StatusError{
			ChallengeID: challengeID,
			StatusCode:  status,
			Message:     defaultStatusMessage,
			Err:         fmt.Errorf("decode status response: %w", err),
		}
	}
	if !resp.Success {
		return nil, &StatusError{
			ChallengeID: challengeID,
			StatusCode:  status,
			Message:     firstNonEmpty(resp.Error, resp.Message, "Failed to check challenge status"),
		}
	}

	result := &StatusResult{
		ChallengeID: challengeID,
		Status:      resp.Status,
		GovToken:    resp.GovToken,
		Profile:     resp.Profile,
	}
	if c.cache != nil && result.Status.Terminal() {
		c.cache.set(challengeID, result)
	}
	return result, nil
}

// doStatusBody executes req and returns (statusCode, body, error) without
// failing on non-2xx responses. The caller interprets the status code.
func (c *Client) doStatusBody(req *http.Request) (int, []byte, error) {
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

// authorityMessage extracts an "error" or "message" field from a JSON error
// body, falling back to def.
func authorityMessage(body []byte, def string) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if len(body) == 0 || json.Unmarshal(body, &payload) != nil {
		return def
	}
	return firstNonEmpty(payload.Error, payload.Message, def)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// --- terminal status cache ---

type cacheEntry struct {
	result    *StatusResult
	expiresAt time.Time
}

type statusCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	ttl     time.Duration
}

func newStatusCache(ttl time.Duration) *statusCache {
	return &statusCache{entries: make(map[string]*cacheEntry), ttl: ttl}
}

func (sc *statusCache) get(key string) (*StatusResult, bool) {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	e, ok := sc.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.result, true
}

func (sc *statusCache) set(key string, result *StatusResult) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.entries[key] = &cacheEntry{result: result, expiresAt: time.Now().Add(sc.ttl)}
}
