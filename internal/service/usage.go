package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/applerag/apple-rag-backend/internal/model"
)

// appendTimeout bounds a background usage-log write.
const appendTimeout = 5 * time.Second

// EventAppender writes usage events. Implemented by repository.UsageRepo.
type EventAppender interface {
	AppendEvent(ctx context.Context, event model.UsageEvent) error
}

// UsageLogger records usage events in the background. Writes are
// best-effort: failures are logged and never surfaced, and the write may
// complete after the response has been sent.
type UsageLogger struct {
	appender EventAppender
}

// NewUsageLogger creates a UsageLogger.
func NewUsageLogger(appender EventAppender) *UsageLogger {
	return &UsageLogger{appender: appender}
}

// Log fires an asynchronous append for the event. The goroutine carries
// its own timeout and holds no request-scoped state beyond the event
// value itself.
func (l *UsageLogger) Log(event model.UsageEvent) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
		defer cancel()
		if err := l.appender.AppendEvent(ctx, event); err != nil {
			slog.Warn("usage event dropped",
				"kind", event.Kind,
				"user_id", event.UserID,
				"error", err,
			)
		}
	}()
}
