package sender

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"abandonment-service/models"
	awspkg "abandonment-service/pkg/aws"
)

// EventAbandonedCartEmail is the event type of mail handed to the notification service.
const EventAbandonedCartEmail = "abandoned_cart_email"

// snsEmailEvent is the payload the notification service consumes.
type snsEmailEvent struct {
	EventType string         `json:"event_type"`
	Recipient string         `json:"recipient"`
	Data      map[string]any `json:"data"`
}

// SNSSender hands mail to the notification service through an SNS topic.
// Success means the topic accepted the event, not that the mail was delivered.
type SNSSender struct {
	publisher awspkg.SNSPublisher
	topicArn  string
}

func NewSNSSender(publisher awspkg.SNSPublisher, topicArn string) (*SNSSender, error) {
	if topicArn == "" {
		return nil, fmt.Errorf("ABANDONMENT_SNS_TOPIC_ARN not set")
	}
	return &SNSSender{publisher: publisher, topicArn: topicArn}, nil
}

func (s *SNSSender) SendEmail(ctx context.Context, email models.Email) (SendResult, error) {
	payload, err := json.Marshal(snsEmailEvent{
		EventType: EventAbandonedCartEmail,
		Recipient: email.To,
		Data: map[string]any{
			"email":     email.To,
			"name":      email.ToName,
			"subject":   email.Subject,
			"html_body": email.HTMLBody,
			"text_body": email.TextBody,
		},
	})
	if err != nil {
		return SendResult{}, fmt.Errorf("failed to marshal email event: %w", err)
	}

	id, err := s.publisher.Publish(ctx, s.topicArn, payload, map[string]string{"event_type": EventAbandonedCartEmail})
	if err != nil {
		return SendResult{}, err
	}
	return SendResult{MessageID: "sns-" + id, SentAt: time.Now()}, nil
}
