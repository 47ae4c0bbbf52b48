package events

import (
	"context"

	"go.uber.org/zap"
)

// LogPublisher writes events to the log. Used when no Kafka brokers are
// configured, typically in development.
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher creates new LogPublisher instance
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

// Publish logs the event
func (p *LogPublisher) Publish(_ context.Context, event Event) error {
	p.logger.Info("notification intent",
		zap.String("id", event.ID),
		zap.String("type", event.Type),
		zap.Int64("user_id", event.UserID),
		zap.Int64("order_id", event.OrderID),
		zap.String("amount", event.Amount.String()),
		zap.String("status", event.Status),
		zap.String("reason", event.Reason))

	return nil
}
