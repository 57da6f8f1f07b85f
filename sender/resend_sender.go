package sender

import (
	"context"
	"fmt"
	"time"

	"abandonment-service/models"

	"github.com/resendlabs/resend-go"
)

// resendEmails is the part of the Resend client used here.
type resendEmails interface {
	Send(params *resend.SendEmailRequest) (resend.SendEmailResponse, error)
}

type ResendSender struct {
	emails resendEmails
	from   Identity
}

func NewResendSender(apiKey string, from Identity) (*ResendSender, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("RESEND_API_KEY not set")
	}
	if from.Address == "" {
		return nil, fmt.Errorf("sender address not set")
	}
	client := resend.NewClient(apiKey)
	return &ResendSender{emails: client.Emails, from: from}, nil
}

func (s *ResendSender) SendEmail(ctx context.Context, email models.Email) (SendResult, error) {
	req := &resend.SendEmailRequest{
		From:    s.from.String(),
		To:      []string{email.To},
		Subject: email.Subject,
		Html:    email.HTMLBody,
		Text:    email.TextBody,
	}

	type result struct {
		resp resend.SendEmailResponse
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := s.emails.Send(req)
		done <- result{resp, err}
	}()

	select {
	case <-ctx.Done():
		return SendResult{}, fmt.Errorf("resend send aborted: %w", ctx.Err())
	case r := <-done:
		if r.err != nil {
			return SendResult{}, fmt.Errorf("resend send failed: %w", r.err)
		}
		return SendResult{MessageID: r.resp.Id, SentAt: time.Now()}, nil
	}
}
