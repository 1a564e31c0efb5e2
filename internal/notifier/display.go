package notifier

import (
	"context"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"
)

// Displayer shows a notification to the citizen.
type Displayer interface {
	Display(ctx context.Context, n Notification) error
}

// LogDisplayer logs notifications instead of showing them.
// Use in development or on headless hosts.
type LogDisplayer struct {
	logger *zap.Logger
}

// NewLogDisplayer creates a LogDisplayer backed by the given logger.
func NewLogDisplayer(logger *zap.Logger) *LogDisplayer {
	return &LogDisplayer{logger: logger}
}

// Display logs the notification and returns nil.
func (d *LogDisplayer) Display(_ context.Context, n Notification) error {
	d.logger.Info("notification",
		zap.String("delivery_id", n.DeliveryID),
		zap.String("title", n.Title),
		zap.String("body", n.Body),
		zap.String("challenge_id", n.ChallengeID()),
	)
	return nil
}

// WriterDisplayer prints notifications to a terminal or log file.
type WriterDisplayer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterDisplayer creates a WriterDisplayer.
func NewWriterDisplayer(w io.Writer) *WriterDisplayer {
	return &WriterDisplayer{w: w}
}

// Display implements Displayer.
func (d *WriterDisplayer) Display(_ context.Context, n Notification) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := fmt.Fprintf(d.w, "\a[%s] %s\n", n.Title, n.Body); err != nil {
		return fmt.Errorf("write notification: %w", err)
	}
	return nil
}
