package events

import (
	"context"
	"time"

	kafkaGo "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/bustickets/service-tracking/internal/connectivity"
)

// TelemetryHandler receives decoded bus location events.
type TelemetryHandler interface {
	HandleBusLocation(ctx context.Context, ev BusLocationEvent) error
}

// BusEventConsumer consumes bus telemetry and dispatches it to the
// tracking service. It doubles as the connectivity observer's signal
// source: a broker read failure flips the monitor offline, a
// successful read flips it back.
type BusEventConsumer struct {
	consumer *Consumer
	handler  TelemetryHandler
	monitor  *connectivity.Monitor
	logger   *zap.Logger
}

// NewBusEventConsumer creates a consumer for the telemetry topic.
func NewBusEventConsumer(
	brokers []string,
	groupID, topic string,
	handler TelemetryHandler,
	monitor *connectivity.Monitor,
	logger *zap.Logger,
) *BusEventConsumer {
	return &BusEventConsumer{
		consumer: NewConsumer(brokers, groupID, topic, logger),
		handler:  handler,
		monitor:  monitor,
		logger:   logger,
	}
}

// Start consumes telemetry until the context is cancelled, reconnecting
// with a flat backoff after broker failures.
func (c *BusEventConsumer) Start(ctx context.Context) error {
	for {
		err := c.consumer.Consume(ctx, c.handleMessage)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		c.monitor.Set(false)
		c.logger.Warn("telemetry consumer disconnected, retrying", zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
		}
	}
}

// handleMessage processes a single telemetry message.
func (c *BusEventConsumer) handleMessage(ctx context.Context, msg kafkaGo.Message) error {
	c.monitor.Set(true)

	cloudEvent, err := ParseCloudEvent(msg.Value)
	if err != nil {
		c.logger.Error("failed to parse cloud event from telemetry topic",
			zap.Error(err),
			zap.Int64("offset", msg.Offset),
		)
		return err
	}

	switch cloudEvent.Type {
	case BusLocationUpdated:
		var ev BusLocationEvent
		if err := cloudEvent.ParseData(&ev); err != nil {
			c.logger.Error("failed to parse bus location event data", zap.Error(err))
			return err
		}
		return c.handler.HandleBusLocation(ctx, ev)

	default:
		c.logger.Debug("ignoring unhandled telemetry event type",
			zap.String("type", cloudEvent.Type),
		)
		return nil
	}
}

// Close shuts down the telemetry consumer.
func (c *BusEventConsumer) Close() error {
	return c.consumer.Close()
}
