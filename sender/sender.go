package sender

import (
	"context"
	"time"

	"abandonment-service/models"
)

type SendResult struct {
	MessageID string
	SentAt    time.Time
}

// EmailSender delivers one email synchronously. An error means the message
// was not accepted for delivery.
type EmailSender interface {
	SendEmail(ctx context.Context, email models.Email) (SendResult, error)
}

// Identity is the From header of outgoing mail.
type Identity struct {
	Address string
	Name    string
}

func (i Identity) String() string {
	if i.Name == "" {
		return i.Address
	}
	return i.Name + " <" + i.Address + ">"
}
