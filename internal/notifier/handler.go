package notifier

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jmerrifield20/dlts/internal/metrics"
)

// displayTimeout bounds a single Display call.
const displayTimeout = 10 * time.Second

const pushPath = "/push"

// Handler receives push payloads.
type Handler struct {
	displayer Displayer
	secret    string
	logger    *zap.Logger
	wg        sync.WaitGroup
}

// NewHandler creates a Handler. When secret is non-empty every request must
// carry a valid SignatureHeader.
func NewHandler(displayer Displayer, secret string, logger *zap.Logger) *Handler {
	return &Handler{displayer: displayer, secret: secret, logger: logger}
}

// Register mounts the push route.
func (h *Handler) Register(r gin.IRouter) {
	r.POST(pushPath, h.Push)
}

// Push accepts a payload and displays it in the background. The relay gets
// 202 as soon as the payload is accepted; display failures are only logged.
func (h *Handler) Push(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		metrics.RecordDelivery("rejected")
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload too large"})
		return
	}

	if h.secret != "" && !VerifySignature(body, h.secret, c.GetHeader(SignatureHeader)) {
		metrics.RecordDelivery("rejected")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	n, err := ParsePayload(body)
	if err != nil {
		metrics.RecordDelivery("rejected")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid push payload"})
		return
	}
	n.DeliveryID = uuid.NewString()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), displayTimeout)
		defer cancel()

		if err := h.displayer.Display(ctx, n); err != nil {
			metrics.RecordDelivery("display_failed")
			h.logger.Warn("display notification failed",
				zap.String("delivery_id", n.DeliveryID),
				zap.Error(err),
			)
			return
		}
		metrics.RecordDelivery("displayed")
	}()

	c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "delivery_id": n.DeliveryID})
}

// Wait blocks until every accepted notification has been displayed.
func (h *Handler) Wait() {
	h.wg.Wait()
}
