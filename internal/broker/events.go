package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"design-marketplace/internal/models"
	"design-marketplace/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishTransactionRecorded publishes TransactionRecorded event
func (ep *EventPublisher) PublishTransactionRecorded(ctx context.Context, event *models.TransactionRecordedEvent) error {
	return ep.producer.PublishEvent(ctx, transactionKey(event.TransactionID), event)
}

// PublishPaymentConflict publishes PaymentConflict event
func (ep *EventPublisher) PublishPaymentConflict(ctx context.Context, event *models.PaymentConflictEvent) error {
	return ep.producer.PublishEvent(ctx, fmt.Sprintf("design-%s", event.DesignID), event)
}

// PublishLicenseGenerated publishes LicenseGenerated event
func (ep *EventPublisher) PublishLicenseGenerated(ctx context.Context, event *models.LicenseGeneratedEvent) error {
	return ep.producer.PublishEvent(ctx, transactionKey(event.TransactionID), event)
}

func transactionKey(id string) string {
	return fmt.Sprintf("transaction-%s", id)
}

// EventHandler handles incoming events
type EventHandler struct {
	onTransactionRecorded func(context.Context, *models.TransactionRecordedEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{}
}

// OnTransactionRecorded registers a handler for TransactionRecorded events
func (eh *EventHandler) OnTransactionRecorded(handler func(context.Context, *models.TransactionRecordedEvent) error) {
	eh.onTransactionRecorded = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	logger := util.GetLogger()
	logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeTransactionRecorded:
		if eh.onTransactionRecorded != nil {
			var event models.TransactionRecordedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal TransactionRecorded event: %w", err)
			}
			return eh.onTransactionRecorded(ctx, &event)
		}

	default:
		logger.Debug("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
