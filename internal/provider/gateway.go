package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/notifyhub/dispatch/internal/domain"
)

// sendRequest is the JSON body posted to an external gateway.
type sendRequest struct {
	To       string         `json:"to"`
	Subject  string         `json:"subject,omitempty"`
	Body     string         `json:"body"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// sendResponse maps the gateway's acknowledgement body.
type sendResponse struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
}

// GatewayProvider delivers notifications by POSTing to an external HTTP
// gateway. SMS, WhatsApp, and push all speak this shape; only the base URL,
// API key, and provider name differ. The base URL is injected from config
// so tests can point to a local mock.
type GatewayProvider struct {
	name       string
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewGatewayProvider(name, baseURL, apiKey string, timeout time.Duration) *GatewayProvider {
	return &GatewayProvider{
		name:    name,
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (p *GatewayProvider) Name() string { return p.name }

func (p *GatewayProvider) Ready() bool { return p.baseURL != "" }

// Send posts the notification to the configured gateway URL and expects a
// 2xx response with a JSON body containing messageId. Any non-ack is a
// *domain.ProviderError.
func (p *GatewayProvider) Send(ctx context.Context, in domain.SendInput) (*domain.ProviderResult, error) {
	if !p.Ready() {
		return nil, notConfigured(p.name, in.Recipient)
	}

	subject := ""
	if in.Subject != nil {
		subject = *in.Subject
	}
	body, err := json.Marshal(sendRequest{
		To:       in.Recipient,
		Subject:  subject,
		Body:     in.Body,
		Metadata: in.Metadata,
	})
	if err != nil {
		return nil, &domain.ProviderError{
			ProviderName: p.name,
			Recipient:    in.Recipient,
			Message:      fmt.Sprintf("marshal request: %v", err),
			Cause:        err,
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, &domain.ProviderError{
			ProviderName: p.name,
			Recipient:    in.Recipient,
			Message:      fmt.Sprintf("create request: %v", err),
			Cause:        err,
		}
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		// Transport failure, including the client timeout.
		return nil, &domain.ProviderError{
			ProviderName: p.name,
			Recipient:    in.Recipient,
			Message:      err.Error(),
			Cause:        err,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &domain.ProviderError{
			ProviderName: p.name,
			Recipient:    in.Recipient,
			StatusCode:   resp.StatusCode,
			Message:      fmt.Sprintf("gateway returned %d: %s", resp.StatusCode, raw),
		}
	}

	var ack sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return nil, &domain.ProviderError{
			ProviderName: p.name,
			Recipient:    in.Recipient,
			Message:      fmt.Sprintf("decode response: %v", err),
			Cause:        err,
		}
	}

	return &domain.ProviderResult{
		ProviderMessageID: ack.MessageID,
		ProviderName:      p.name,
		RawResponse: map[string]any{
			"messageId": ack.MessageID,
			"status":    ack.Status,
		},
	}, nil
}

// notConfigured is the error every provider returns when its credentials
// are absent. Classified as INVALID_DATA (non-retryable).
func notConfigured(name, recipient string) *domain.ProviderError {
	return &domain.ProviderError{
		ProviderName: name,
		Recipient:    recipient,
		ErrorCode:    "PROVIDER_NOT_CONFIGURED",
		StatusCode:   400,
		Message:      fmt.Sprintf("invalid configuration: %s provider has no credentials", name),
	}
}

// compile-time check that GatewayProvider implements domain.Provider
var _ domain.Provider = (*GatewayProvider)(nil)
