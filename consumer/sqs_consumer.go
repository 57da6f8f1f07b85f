package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"abandonment-service/models"
	awspkg "abandonment-service/pkg/aws"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ConversionRecorder closes the newest open abandonment entry of a user.
type ConversionRecorder interface {
	RecordConversion(ctx context.Context, userID uuid.UUID) (*models.AbandonmentLog, error)
}

type MetricsRecorder interface {
	RecordCount(ctx context.Context, metricName string, dimensions map[string]string) error
}

// OrderEventConsumer reads order events from SQS and attributes purchases to
// abandonment emails.
type OrderEventConsumer struct {
	client       awspkg.SQSAPI
	queueURL     string
	conversions  ConversionRecorder
	metrics      MetricsRecorder
	logger       *zap.Logger
	errorBackoff time.Duration
}

func NewOrderEventConsumer(client awspkg.SQSAPI, queueURL string, conversions ConversionRecorder, metrics MetricsRecorder, logger *zap.Logger) (*OrderEventConsumer, error) {
	if queueURL == "" {
		return nil, fmt.Errorf("ORDER_EVENTS_QUEUE_URL not set")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderEventConsumer{
		client:       client,
		queueURL:     queueURL,
		conversions:  conversions,
		metrics:      metrics,
		logger:       logger,
		errorBackoff: 5 * time.Second,
	}, nil
}

// Serve polls until ctx is done.
func (c *OrderEventConsumer) Serve(ctx context.Context) error {
	c.logger.Info("order event consumer started", zap.String("queue", c.queueURL))
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("order event consumer shutting down")
			return ctx.Err()
		default:
			c.Poll(ctx)
		}
	}
}

// Poll receives one batch and handles every message in it.
func (c *OrderEventConsumer) Poll(ctx context.Context) {
	output, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: 10,
		WaitTimeSeconds:     5,
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.logger.Error("SQS receive error", zap.Error(err))
		select {
		case <-ctx.Done():
		case <-time.After(c.errorBackoff):
		}
		return
	}

	for _, msg := range output.Messages {
		c.processMessage(ctx, msg.Body, msg.ReceiptHandle)
	}
}

type snsEnvelope struct {
	Type    string `json:"Type"`
	Message string `json:"Message"`
}

var errUnparseable = errors.New("unparseable order event")

// decode accepts both raw order events and SNS notifications wrapping one.
func decode(body string) (*models.OrderEvent, error) {
	var envelope snsEnvelope
	if err := json.Unmarshal([]byte(body), &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", errUnparseable, err)
	}
	payload := body
	if envelope.Message != "" {
		payload = envelope.Message
	}

	var event models.OrderEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return nil, fmt.Errorf("%w: %v", errUnparseable, err)
	}
	return &event, nil
}

func (c *OrderEventConsumer) processMessage(ctx context.Context, body *string, receiptHandle *string) {
	if receiptHandle == nil || *receiptHandle == "" {
		c.logger.Error("received empty SQS receipt handle")
		return
	}
	if body == nil || *body == "" {
		c.logger.Error("received empty SQS message body")
		c.deleteMessage(ctx, receiptHandle)
		return
	}

	event, err := decode(*body)
	if err != nil {
		c.logger.Error("failed to decode order event", zap.Error(err))
		c.deleteMessage(ctx, receiptHandle)
		return
	}

	if err := c.handle(ctx, event); err != nil {
		if errors.Is(err, errUnparseable) {
			c.logger.Warn("dropping order event", zap.String("event_type", event.EventType), zap.Error(err))
			c.deleteMessage(ctx, receiptHandle)
			return
		}
		c.logger.Error("failed to process order event",
			zap.String("event_type", event.EventType),
			zap.Error(err),
		)
		return
	}

	c.deleteMessage(ctx, receiptHandle)
	if c.metrics != nil {
		_ = c.metrics.RecordCount(ctx, awspkg.MetricSQSMessages, map[string]string{
			"Service":   "abandonment-service",
			"EventType": event.EventType,
		})
	}
}

func (c *OrderEventConsumer) handle(ctx context.Context, event *models.OrderEvent) error {
	switch event.EventType {
	case models.EventOrderCreated, models.EventOrderCompleted:
	default:
		c.logger.Debug("ignoring order event", zap.String("event_type", event.EventType))
		return nil
	}

	userID, err := uuid.Parse(event.UserID)
	if err != nil {
		return fmt.Errorf("%w: invalid user_id %q", errUnparseable, event.UserID)
	}

	entry, err := c.conversions.RecordConversion(ctx, userID)
	if err != nil {
		return err
	}
	if entry != nil && c.metrics != nil {
		_ = c.metrics.RecordCount(ctx, awspkg.MetricConversions, map[string]string{"Service": "abandonment-service"})
	}
	return nil
}

func (c *OrderEventConsumer) deleteMessage(ctx context.Context, receiptHandle *string) {
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: receiptHandle,
	})
	if err != nil {
		c.logger.Error("failed to delete SQS message", zap.Error(err))
	}
}
