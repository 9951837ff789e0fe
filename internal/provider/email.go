package provider

import (
	"context"
	"fmt"

	"github.com/mrz1836/postmark"

	"github.com/notifyhub/dispatch/internal/domain"
)

const emailProviderName = "email"

// EmailProvider delivers EMAIL notifications through Postmark's
// transactional API.
type EmailProvider struct {
	client *postmark.Client
	sender string
}

// NewEmailProvider constructs the Postmark-backed email provider.
// Missing credentials leave the provider unready rather than failing
// construction; the dispatcher refuses submissions to unready providers.
func NewEmailProvider(serverToken, accountToken, sender string) *EmailProvider {
	p := &EmailProvider{sender: sender}
	if serverToken != "" && accountToken != "" {
		p.client = postmark.NewClient(serverToken, accountToken)
	}
	return p
}

func (p *EmailProvider) Name() string { return emailProviderName }

func (p *EmailProvider) Ready() bool {
	return p.client != nil && p.sender != ""
}

func (p *EmailProvider) Send(ctx context.Context, in domain.SendInput) (*domain.ProviderResult, error) {
	if !p.Ready() {
		return nil, notConfigured(emailProviderName, in.Recipient)
	}

	subject := ""
	if in.Subject != nil {
		subject = *in.Subject
	}

	resp, err := p.client.SendEmail(ctx, postmark.Email{
		From:     p.sender,
		To:       in.Recipient,
		Subject:  subject,
		TextBody: in.Body,
	})
	if err != nil {
		return nil, &domain.ProviderError{
			ProviderName: emailProviderName,
			Recipient:    in.Recipient,
			Message:      err.Error(),
			Cause:        err,
		}
	}
	if resp.ErrorCode > 0 {
		return nil, &domain.ProviderError{
			ProviderName: emailProviderName,
			Recipient:    in.Recipient,
			ErrorCode:    fmt.Sprintf("POSTMARK_%d", resp.ErrorCode),
			Message:      resp.Message,
		}
	}

	return &domain.ProviderResult{
		ProviderMessageID: resp.MessageID,
		ProviderName:      emailProviderName,
		RawResponse: map[string]any{
			"messageId": resp.MessageID,
			"to":        resp.To,
		},
	}, nil
}

// compile-time check that EmailProvider implements domain.Provider
var _ domain.Provider = (*EmailProvider)(nil)
