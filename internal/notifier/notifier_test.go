package notifier_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/jmerrifield20/dlts/internal/notifier"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type captureDisplayer struct {
	mu    sync.Mutex
	shown []notifier.Notification
	err   error
}

func (d *captureDisplayer) Display(_ context.Context, n notifier.Notification) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shown = append(d.shown, n)
	return d.err
}

func newRouter(t *testing.T, d notifier.Displayer, secret string, rps int) (*gin.Engine, *notifier.Handler) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	h := notifier.NewHandler(d, secret, zap.NewNop())
	r := notifier.NewRouter(ctx, notifier.RouterConfig{RateLimitRPS: rps}, h, zap.NewNop())
	return r, h
}

func post(r http.Handler, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/push", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// ── Payload parsing ──────────────────────────────────────────────────────────

func TestParsePayload_defaults(t *testing.T) {
	n, err := notifier.ParsePayload([]byte(`{"data":{"challengeId":"abc"}}`))
	if err != nil {
		t.Fatalf("ParsePayload: %v", err)
	}
	if n.Title != notifier.DefaultTitle || n.Body != notifier.DefaultBody {
		t.Errorf("defaults: got %q / %q", n.Title, n.Body)
	}
	if n.Icon != "/transport-icon.png" || n.Badge != "/badge.png" {
		t.Errorf("icon/badge: got %q / %q", n.Icon, n.Badge)
	}
	if n.ChallengeID() != "abc" {
		t.Errorf("ChallengeID: got %q", n.ChallengeID())
	}
}

func TestParsePayload_explicit(t *testing.T) {
	n, err := notifier.ParsePayload([]byte(`{"notification":{"title":"Approve login","body":"Tap to approve"}}`))
	if err != nil {
		t.Fatalf("ParsePayload: %v", err)
	}
	if n.Title != "Approve login" || n.Body != "Tap to approve" {
		t.Errorf("got %q / %q", n.Title, n.Body)
	}
}

func TestParsePayload_invalid(t *testing.T) {
	if _, err := notifier.ParsePayload([]byte(`not json`)); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

// ── Signature ────────────────────────────────────────────────────────────────

func TestSignature(t *testing.T) {
	body := []byte(`{"data":{}}`)
	sig := notifier.Sign(body, "s3cret")
	if !strings.HasPrefix(sig, "sha256=") {
		t.Errorf("Sign: got %q", sig)
	}
	if !notifier.VerifySignature(body, "s3cret", sig) {
		t.Error("valid signature rejected")
	}
	if notifier.VerifySignature(body, "other", sig) {
		t.Error("signature under wrong secret accepted")
	}
	if notifier.VerifySignature([]byte(`{}`), "s3cret", sig) {
		t.Error("signature for different body accepted")
	}
}

// ── HTTP ─────────────────────────────────────────────────────────────────────

func TestPush_accepted(t *testing.T) {
	d := &captureDisplayer{}
	r, h := newRouter(t, d, "", 0)

	w := post(r, `{"notification":{"title":"Transport Verification"},"data":{"challengeId":"abc"}}`, nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status: got %d, body %s", w.Code, w.Body.String())
	}
	var resp map[string]string
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["delivery_id"] == "" {
		t.Error("missing delivery_id")
	}

	h.Wait()
	if len(d.shown) != 1 || d.shown[0].ChallengeID() != "abc" || d.shown[0].DeliveryID != resp["delivery_id"] {
		t.Errorf("displayed: got %+v", d.shown)
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers missing")
	}
}

func TestPush_displayFailureStillAccepted(t *testing.T) {
	d := &captureDisplayer{err: errors.New("no display")}
	r, h := newRouter(t, d, "", 0)

	if w := post(r, `{}`, nil); w.Code != http.StatusAccepted {
		t.Fatalf("status: got %d", w.Code)
	}
	h.Wait()
}

func TestPush_signatureRequired(t *testing.T) {
	d := &captureDisplayer{}
	r, h := newRouter(t, d, "s3cret", 0)
	body := `{"data":{"challengeId":"abc"}}`

	if w := post(r, body, nil); w.Code != http.StatusUnauthorized {
		t.Errorf("unsigned: got %d, want 401", w.Code)
	}
	if w := post(r, body, map[string]string{notifier.SignatureHeader: "sha256=00"}); w.Code != http.StatusUnauthorized {
		t.Errorf("bad signature: got %d, want 401", w.Code)
	}
	sig := notifier.Sign([]byte(body), "s3cret")
	if w := post(r, body, map[string]string{notifier.SignatureHeader: sig}); w.Code != http.StatusAccepted {
		t.Errorf("signed: got %d, want 202", w.Code)
	}

	h.Wait()
	if len(d.shown) != 1 {
		t.Errorf("displayed %d notifications, want 1", len(d.shown))
	}
}

func TestPush_invalidPayload(t *testing.T) {
	r, _ := newRouter(t, &captureDisplayer{}, "", 0)
	if w := post(r, `{"notification":`, nil); w.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", w.Code)
	}
}

func TestPush_bodyLimit(t *testing.T) {
	r, _ := newRouter(t, &captureDisplayer{}, "", 0)
	big := `{"data":{"x":"` + strings.Repeat("a", 2<<20) + `"}}`
	if w := post(r, big, nil); w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status: got %d, want 413", w.Code)
	}
}

// deliveryCount reads dlts_push_deliveries_total{result} from the default registry.
func deliveryCount(t *testing.T, result string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != "dlts_push_deliveries_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "result" && l.GetValue() == result {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestDeliveryLimiter_perRelay(t *testing.T) {
	r, h := newRouter(t, &captureDisplayer{}, "", 1)
	relayA := map[string]string{notifier.RelayHeader: "project-a"}
	relayB := map[string]string{notifier.RelayHeader: "project-b"}
	before := deliveryCount(t, "throttled")

	// rps 1 allows a burst of 2 per relay.
	for i := 0; i < 2; i++ {
		if w := post(r, `{}`, relayA); w.Code != http.StatusAccepted {
			t.Fatalf("relay A push %d: got %d", i, w.Code)
		}
	}
	w := post(r, `{}`, relayA)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("relay A over limit: got %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") != "1" {
		t.Errorf("Retry-After: got %q, want 1", w.Header().Get("Retry-After"))
	}
	if got := deliveryCount(t, "throttled"); got != before+1 {
		t.Errorf("throttled deliveries: got %v, want %v", got, before+1)
	}

	if w := post(r, `{}`, relayB); w.Code != http.StatusAccepted {
		t.Errorf("relay B must have its own bucket: got %d", w.Code)
	}
	h.Wait()
}

func TestDeliveryLimiter_healthzNotCountedAsDelivery(t *testing.T) {
	r, _ := newRouter(t, &captureDisplayer{}, "", 1)
	before := deliveryCount(t, "throttled")

	limited := false
	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		if w.Code == http.StatusTooManyRequests {
			limited = true
		}
	}
	if !limited {
		t.Error("expected /healthz to be throttled past the burst")
	}
	if got := deliveryCount(t, "throttled"); got != before {
		t.Errorf("throttled deliveries: got %v, want %v", got, before)
	}
}

func TestDeliveryLimiter_sweep(t *testing.T) {
	l := notifier.NewDeliveryLimiter(10, 10)
	r := gin.New()
	r.Use(l.Middleware())
	r.POST("/push", func(c *gin.Context) { c.Status(http.StatusAccepted) })

	post(r, `{}`, map[string]string{notifier.RelayHeader: "project-a"})
	post(r, `{}`, nil)
	if l.Senders() != 2 {
		t.Fatalf("senders: got %d, want 2", l.Senders())
	}
	if n := l.Sweep(time.Hour); n != 0 {
		t.Errorf("Sweep(1h) removed %d recent senders", n)
	}

	time.Sleep(5 * time.Millisecond)
	if n := l.Sweep(time.Millisecond); n != 2 || l.Senders() != 0 {
		t.Errorf("Sweep(1ms): removed %d, %d left", n, l.Senders())
	}
}

func TestHealthz(t *testing.T) {
	r, _ := newRouter(t, &captureDisplayer{}, "", 0)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "ok") {
		t.Errorf("healthz: got %d %s", w.Code, w.Body.String())
	}
}

func TestWriterDisplayer(t *testing.T) {
	var buf bytes.Buffer
	d := notifier.NewWriterDisplayer(&buf)
	if err := d.Display(context.Background(), notifier.Notification{Title: "T", Body: "B"}); err != nil {
		t.Fatalf("Display: %v", err)
	}
	if !strings.Contains(buf.String(), "[T] B") {
		t.Errorf("output: got %q", buf.String())
	}
}
